package httpguard

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// handleHealthz reports backend (Redis) and audit-store (Postgres)
// reachability, mirroring the teacher's handleHealthz component breakdown.
func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
	defer cancel()

	components := make(map[string]any)
	status := "ok"

	checkComponent(ctx, components, "redis", r.redisHealth, &status)
	checkComponent(ctx, components, "postgres", r.dbHealth, &status)

	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

func checkComponent(ctx context.Context, components map[string]any, name string, check HealthChecker, status *string) {
	if check == nil {
		return
	}
	if err := check(ctx); err != nil {
		*status = "degraded"
		components[name] = map[string]any{"status": "down", "error": err.Error()}
		return
	}
	components[name] = map[string]any{"status": "up"}
}

func (r *Router) metricsHandler() http.Handler {
	return promhttp.Handler()
}
