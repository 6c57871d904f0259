// Package httpguard wires the rule engine and telemetry pipeline into an
// HTTP reverse-proxy middleware: pre-upstream rate-limit and circuit-breaker
// gating, post-upstream telemetry recording, and an admin/observability
// surface alongside the proxy itself.
package httpguard

import (
	"encoding/json"
	"net/http"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
