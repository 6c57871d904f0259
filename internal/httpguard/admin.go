package httpguard

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/sssxyd/apistatus-guard/internal/ws"
	"github.com/sssxyd/apistatus-guard/pkg/jwtauth"
)

// requireAdmin gates a handler behind either a loopback source address or a
// valid admin bearer token, generalizing the teacher's bearer-token
// requireAuth middleware for a service with no user accounts.
func (r *Router) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if isLoopback(req.RemoteAddr) {
			next(w, req)
			return
		}
		token, err := bearerToken(req.Header.Get(headerAuthorization))
		if err != nil {
			r.logger.Warn("admin request rejected: missing bearer token", "path", req.URL.Path)
			writeError(w, http.StatusUnauthorized, "admin authentication required")
			return
		}
		if r.adminJWTSecret == "" {
			r.logger.Error("admin JWT secret not configured", "path", req.URL.Path)
			writeError(w, http.StatusUnauthorized, "admin authentication unavailable")
			return
		}
		if _, err := jwtauth.ParseAdminToken(token, r.adminJWTSecret); err != nil {
			r.logger.Warn("admin token rejected", "path", req.URL.Path, "error", err)
			writeError(w, http.StatusUnauthorized, "invalid admin token")
			return
		}
		next(w, req)
	}
}

func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func bearerToken(header string) (string, error) {
	if strings.TrimSpace(header) == "" {
		return "", fmt.Errorf("missing authorization header")
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", fmt.Errorf("invalid authorization header format")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", fmt.Errorf("empty bearer token")
	}
	return token, nil
}

// handleSweep triggers both the telemetry and rate-limit sweeps and returns
// their combined human-readable log, per base spec §4.5/§6 and SPEC_FULL §5.10.
func (r *Router) handleSweep(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet && req.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var lines []string
	if r.telemetry != nil {
		result, err := r.telemetry.Sweep(req.Context())
		if err != nil {
			lines = append(lines, fmt.Sprintf("telemetry sweep failed: %v", err))
		} else {
			lines = append(lines, result.Log)
		}
	}
	if r.rateStore != nil {
		result, err := r.rateStore.Sweep(req.Context())
		if err != nil {
			lines = append(lines, fmt.Sprintf("ratelimit sweep failed: %v", err))
		} else {
			lines = append(lines, result.Log)
		}
	}
	writeText(w, http.StatusOK, strings.Join(lines, "\n"))
}

// handleMigrationStatus logs and reports the applied/pending alarm-audit
// migration state, per SPEC_FULL §5.10.
func (r *Router) handleMigrationStatus(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if r.migrations == nil {
		writeError(w, http.StatusServiceUnavailable, "migration runner unavailable")
		return
	}
	if err := r.migrations.Status(req.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeText(w, http.StatusOK, "migration status logged")
}

// handleMigrationDown rolls back the alarm-audit schema to the version
// named by the ?version= query parameter, or the previous version if
// omitted, per SPEC_FULL §5.10.
func (r *Router) handleMigrationDown(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if r.migrations == nil {
		writeError(w, http.StatusServiceUnavailable, "migration runner unavailable")
		return
	}
	var targetVersion int64
	if raw := strings.TrimSpace(req.URL.Query().Get("version")); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid version query parameter")
			return
		}
		targetVersion = v
	}
	if err := r.migrations.Down(req.Context(), targetVersion); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeText(w, http.StatusOK, "migration rollback complete")
}

// handleAlarmStream upgrades to a WebSocket and streams alarm payloads as
// they're dispatched, per SPEC_FULL §5.10.
func (r *Router) handleAlarmStream(w http.ResponseWriter, req *http.Request) {
	if r.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "alarm feed unavailable")
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("alarm stream websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	r.hub.Register(client)
	go func() {
		defer func() {
			r.hub.Unregister(client)
			client.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}
