// Package alarm implements the best-effort asynchronous alarm dispatcher:
// an outbound form-encoded POST, a durable Postgres audit row, and a live
// WebSocket broadcast, all off the request path.
package alarm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/sssxyd/apistatus-guard/internal/repository"
)

const postTimeout = 500 * time.Millisecond

// Observer receives best-effort instrumentation hooks, mirroring
// internal/telemetry.Observer.
type Observer interface {
	ObserveQueueDepth(depth int)
	IncDroppedAlarms()
	IncDeliveryErrors()
}

type noopObserver struct{}

func (noopObserver) ObserveQueueDepth(int) {}
func (noopObserver) IncDroppedAlarms()     {}
func (noopObserver) IncDeliveryErrors()    {}

// Broadcaster fans a payload out to connected live-feed subscribers.
type Broadcaster interface {
	Broadcast(payload []byte)
}

type noopBroadcaster struct{}

func (noopBroadcaster) Broadcast([]byte) {}

// Config configures the Dispatcher.
type Config struct {
	URL       string
	QueueSize int
}

// Dispatcher enqueues alarm payloads and drains them through a worker pool,
// exactly like internal/telemetry.Store drains its write queue.
type Dispatcher struct {
	httpClient  *http.Client
	url         string
	queue       chan Payload
	repo        repository.AlarmRepository
	broadcaster Broadcaster
	logger      *slog.Logger
	observer    Observer
}

// New constructs a Dispatcher. Call Run to start the background workers.
func New(cfg Config, repo repository.AlarmRepository, broadcaster Broadcaster, logger *slog.Logger, observer Observer) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if broadcaster == nil {
		broadcaster = noopBroadcaster{}
	}
	if observer == nil {
		observer = noopObserver{}
	}
	return &Dispatcher{
		httpClient:  &http.Client{Timeout: postTimeout},
		url:         cfg.URL,
		queue:       make(chan Payload, cfg.QueueSize),
		repo:        repo,
		broadcaster: broadcaster,
		logger:      logger,
		observer:    observer,
	}
}

// Run starts a fixed-size pool of workers draining the alarm queue. It
// blocks until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context, workers int) {
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		go func() {
			for {
				select {
				case payload := <-d.queue:
					d.observer.ObserveQueueDepth(len(d.queue))
					d.performDispatch(context.Background(), payload)
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	<-ctx.Done()
}

// Enqueue schedules payload for best-effort delivery. On a full queue the
// oldest pending alarm is dropped, per base spec §5/§9.
func (d *Dispatcher) Enqueue(payload Payload) {
	select {
	case d.queue <- payload:
		return
	default:
	}
	select {
	case <-d.queue:
		d.observer.IncDroppedAlarms()
	default:
	}
	select {
	case d.queue <- payload:
	default:
		d.observer.IncDroppedAlarms()
	}
}

func (d *Dispatcher) performDispatch(ctx context.Context, payload Payload) {
	delivered, deliveryErr := d.post(ctx, payload)
	if deliveryErr != "" && d.logger != nil {
		d.logger.Warn("alarm delivery failed", "feature", payload.Feature, "command", payload.Command, "error", deliveryErr)
	}
	if !delivered {
		d.observer.IncDeliveryErrors()
	}

	if encoded, err := json.Marshal(payload); err == nil {
		d.broadcaster.Broadcast(encoded)
	}

	if d.repo == nil {
		return
	}
	event := repository.AlarmEvent{
		ID:              uuid.NewString(),
		Feature:         payload.Feature,
		DurationSeconds: payload.Duration,
		Threshold:       payload.Threshold,
		Probability:     payload.Probability,
		Command:         payload.Command,
		ActualValue:     payload.ActualValue,
		ClientIP:        payload.ClientIP,
		TriggerTime:     payload.TriggerTime,
		Delivered:       delivered,
		DeliveryError:   deliveryErr,
	}
	if err := d.repo.InsertAlarmEvent(ctx, event); err != nil && d.logger != nil {
		d.logger.Warn("alarm audit persistence failed", "feature", payload.Feature, "command", payload.Command, "error", err)
	}
}

func (d *Dispatcher) post(ctx context.Context, payload Payload) (delivered bool, deliveryErr string) {
	if d.url == "" {
		return false, "no alarm url configured"
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Sprintf("encode payload: %v", err)
	}
	form := url.Values{"msg": {string(body)}}

	reqCtx, cancel := context.WithTimeout(ctx, postTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, d.url, bytes.NewBufferString(form.Encode()))
	if err != nil {
		return false, fmt.Sprintf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return false, fmt.Sprintf("post alarm: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return false, fmt.Sprintf("alarm endpoint returned status %d", resp.StatusCode)
	}
	return true, ""
}
