package httpguard

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var requestDurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5}

// Metrics holds every Prometheus collector the proxy and its domain-stack
// collaborators (telemetry, rate limiter, alarm dispatcher) report into. It
// implements telemetry.Observer directly; AsRateLimitObserver and
// AsAlarmObserver return its ratelimit.Observer and alarm.Observer views, so
// a single instance backs every Run call.
type Metrics struct {
	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	fuseTotal       *prometheus.CounterVec

	telemetryQueueDepth prometheus.Gauge
	telemetryDropped    prometheus.Counter
	telemetryWriteErr   prometheus.Counter

	rateLimitQueueDepth prometheus.Gauge
	rateLimitDropped    prometheus.Counter
	rateLimitWriteErr   prometheus.Counter

	alarmQueueDepth prometheus.Gauge
	alarmDropped    prometheus.Counter
	alarmDeliverErr prometheus.Counter
}

// NewMetrics constructs and registers every collector with the default
// Prometheus registry. Registering the same collector twice (e.g. in
// tests that build more than one Metrics) is tolerated the way the
// teacher's builder router tolerates it — the already-registered instance
// wins silently.
func NewMetrics() *Metrics {
	m := &Metrics{
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "apistatus",
			Subsystem: "guard",
			Name:      "http_requests_total",
			Help:      "Count of proxied HTTP requests by command and outcome.",
		}, []string{"command", "outcome"}),

		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "apistatus",
			Subsystem: "guard",
			Name:      "http_request_duration_seconds",
			Help:      "Latency distribution of proxied requests.",
			Buckets:   requestDurationBuckets,
		}, []string{"command"}),

		fuseTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "apistatus",
			Subsystem: "guard",
			Name:      "fuse_decisions_total",
			Help:      "Count of fuse/rate-limit short-circuit decisions by kind.",
		}, []string{"kind"}),

		telemetryQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "apistatus", Subsystem: "telemetry", Name: "queue_depth",
			Help: "Pending telemetry writes in the bounded queue.",
		}),
		telemetryDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "apistatus", Subsystem: "telemetry", Name: "dropped_writes_total",
			Help: "Telemetry writes dropped due to a full queue.",
		}),
		telemetryWriteErr: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "apistatus", Subsystem: "telemetry", Name: "write_errors_total",
			Help: "Telemetry writes that failed against the backend.",
		}),

		rateLimitQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "apistatus", Subsystem: "ratelimit", Name: "queue_depth",
			Help: "Pending rate-limit hit writes in the bounded queue.",
		}),
		rateLimitDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "apistatus", Subsystem: "ratelimit", Name: "dropped_writes_total",
			Help: "Rate-limit hit writes dropped due to a full queue.",
		}),
		rateLimitWriteErr: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "apistatus", Subsystem: "ratelimit", Name: "write_errors_total",
			Help: "Rate-limit hit writes that failed against the backend.",
		}),

		alarmQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "apistatus", Subsystem: "alarm", Name: "queue_depth",
			Help: "Pending alarm dispatches in the bounded queue.",
		}),
		alarmDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "apistatus", Subsystem: "alarm", Name: "queue_drops_total",
			Help: "Alarms dropped due to a full queue.",
		}),
		alarmDeliverErr: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "apistatus", Subsystem: "alarm", Name: "delivery_errors_total",
			Help: "Alarm POST deliveries that failed or timed out.",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.requestTotal, m.requestDuration, m.fuseTotal,
		m.telemetryQueueDepth, m.telemetryDropped, m.telemetryWriteErr,
		m.rateLimitQueueDepth, m.rateLimitDropped, m.rateLimitWriteErr,
		m.alarmQueueDepth, m.alarmDropped, m.alarmDeliverErr,
	} {
		_ = prometheus.Register(c)
	}
	return m
}

func (m *Metrics) recordRequest(command, outcome string, duration time.Duration) {
	m.requestTotal.With(prometheus.Labels{"command": command, "outcome": outcome}).Inc()
	m.requestDuration.With(prometheus.Labels{"command": command}).Observe(duration.Seconds())
}

func (m *Metrics) recordFuse(kind string) {
	m.fuseTotal.With(prometheus.Labels{"kind": kind}).Inc()
}

// ObserveQueueDepth / IncDroppedWrites / IncWriteErrors implement
// telemetry.Observer.
func (m *Metrics) ObserveQueueDepth(depth int) { m.telemetryQueueDepth.Set(float64(depth)) }
func (m *Metrics) IncDroppedWrites()           { m.telemetryDropped.Inc() }
func (m *Metrics) IncWriteErrors()             { m.telemetryWriteErr.Inc() }

// RateLimitObserver adapts Metrics to ratelimit.Observer, whose method set
// overlaps telemetry.Observer's but must stay independently satisfiable
// since a single *Metrics implements both via distinct wrapper values.
type RateLimitObserver struct{ m *Metrics }

func (r RateLimitObserver) ObserveQueueDepth(depth int) { r.m.rateLimitQueueDepth.Set(float64(depth)) }
func (r RateLimitObserver) IncDroppedWrites()           { r.m.rateLimitDropped.Inc() }
func (r RateLimitObserver) IncWriteErrors()             { r.m.rateLimitWriteErr.Inc() }

// AsRateLimitObserver returns the ratelimit.Observer view of m.
func (m *Metrics) AsRateLimitObserver() RateLimitObserver { return RateLimitObserver{m: m} }

// AlarmObserver adapts Metrics to alarm.Observer.
type AlarmObserver struct{ m *Metrics }

func (a AlarmObserver) ObserveQueueDepth(depth int) { a.m.alarmQueueDepth.Set(float64(depth)) }
func (a AlarmObserver) IncDroppedAlarms()           { a.m.alarmDropped.Inc() }
func (a AlarmObserver) IncDeliveryErrors()          { a.m.alarmDeliverErr.Inc() }

// AsAlarmObserver returns the alarm.Observer view of m.
func (m *Metrics) AsAlarmObserver() AlarmObserver { return AlarmObserver{m: m} }

