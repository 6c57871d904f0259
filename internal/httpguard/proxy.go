package httpguard

import (
	"net/http"
	"strings"
	"time"

	"github.com/sssxyd/apistatus-guard/internal/alarm"
	"github.com/sssxyd/apistatus-guard/internal/classifier"
	"github.com/sssxyd/apistatus-guard/internal/evaluator"
	"github.com/sssxyd/apistatus-guard/internal/telemetry"
)

// handleProxy implements base spec §4.8: classify, gate pre-upstream on the
// rate limiter and circuit breaker, otherwise pass through to upstream and
// record the outcome once response headers arrive.
func (r *Router) handleProxy(w http.ResponseWriter, req *http.Request) {
	st := &requestState{start: time.Now(), clientIP: clientIP(req)}
	req = req.WithContext(withRequestState(req.Context(), st))

	st.command = classifier.Classify(req.URL.Path)
	if st.command == classifier.NoCommand {
		st.ignorable = true
		r.proxy.ServeHTTP(w, req)
		return
	}
	st.commandKey = classifier.Key(st.command)

	if r.limiter != nil {
		deviceNo := strings.TrimSpace(req.Header.Get(headerDeviceNo))
		result, err := r.limiter.Check(req.Context(), deviceNo, st.command, st.commandKey, req.Header.Get(headerRateRules))
		if err != nil {
			r.metrics.recordFuse("rate_rejected")
			st.ignorable = true
			writeError(w, http.StatusTooManyRequests, err.Error())
			return
		}
		if result.Fused() {
			r.metrics.recordFuse("rate")
			st.ignorable = true
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
	}

	if r.breaker != nil {
		fuseResult, err := r.breaker.CheckFuse(req.Context(), st.command, st.commandKey, req.Header.Get(headerFuseRules))
		if err != nil {
			st.ignorable = true
			writeError(w, http.StatusBadRequest, "malformed x-fuse-rules header")
			return
		}
		if fuseResult.Fused() {
			r.metrics.recordFuse("circuit")
			st.ignorable = true
			w.Header().Set(headerRetryAfter, retryAfterFuseSeconds)
			writeError(w, http.StatusServiceUnavailable, "circuit open")
			return
		}

		alarmResult, err := r.breaker.CheckAlarm(req.Context(), st.command, st.commandKey, req.Header.Get(headerAlarmRules))
		if err != nil {
			st.ignorable = true
			writeError(w, http.StatusBadRequest, "malformed x-alarm-rules header")
			return
		}
		for _, trigger := range alarmResult.Triggers {
			r.dispatchAlarm(st, trigger)
		}
	}

	r.proxy.ServeHTTP(w, req)
}

// dispatchAlarm builds the wire payload base spec §4.7 describes from a
// triggered rule and hands it to the alarm dispatcher, if one is wired.
func (r *Router) dispatchAlarm(st *requestState, trigger evaluator.Trigger) {
	if r.dispatcher == nil {
		return
	}
	r.dispatcher.Enqueue(alarm.Payload{
		Feature:     string(trigger.Rule.Feature),
		Duration:    trigger.Rule.Duration,
		Threshold:   trigger.Rule.Threshold,
		Probability: trigger.Rule.EffectiveProbability(),
		Command:     st.command,
		ActualValue: trigger.ActualValue,
		ClientIP:    st.clientIP,
		TriggerTime: time.Now().Unix(),
	})
}

func (r *Router) proxyError(w http.ResponseWriter, req *http.Request, err error) {
	if st, ok := requestStateFrom(req.Context()); ok {
		st.ignorable = true
	}
	r.logger.Error("upstream request failed", "error", err)
	writeError(w, http.StatusBadGateway, "upstream unavailable")
}

// recordResponse runs as httputil.ReverseProxy's ModifyResponse hook: once
// upstream response headers are available, classify the exec status and
// enqueue the telemetry write, per base spec §4.8.
func (r *Router) recordResponse(resp *http.Response) error {
	st, ok := requestStateFrom(resp.Request.Context())
	if !ok || st.ignorable || r.telemetry == nil {
		return nil
	}
	execStatus := telemetry.ClassifyOutcome(resp.StatusCode, resp.Header.Get(headerResponseCode))
	execTimeMs := time.Since(st.start).Milliseconds()
	r.telemetry.Write(st.commandKey, execTimeMs, execStatus)
	r.metrics.recordRequest(st.command, outcomeLabel(execStatus), time.Since(st.start))
	return nil
}

func outcomeLabel(status telemetry.ExecStatus) string {
	switch status {
	case telemetry.StatusBizFail:
		return "biz_fail"
	case telemetry.StatusSysFail:
		return "sys_fail"
	default:
		return "success"
	}
}
