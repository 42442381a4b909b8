// Package api provides the admin HTTP API for Hookline management:
// registrations, event types, the event log, the DLQ and the security
// filter.
//
// Mount the handler under a configurable prefix (e.g. /admin/hookline/).
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/hookline/hookline"
)

// Handler is the root HTTP handler for the Hookline admin API.
type Handler struct {
	hl     *hookline.Hookline
	logger *slog.Logger
	mux    *http.ServeMux
}

// NewHandler creates a new admin API handler for a Hookline instance.
func NewHandler(hl *hookline.Hookline, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		hl:     hl,
		logger: logger,
		mux:    http.NewServeMux(),
	}

	h.registerRoutes()
	return h
}

func (h *Handler) registerRoutes() {
	// Event types
	h.mux.HandleFunc("POST /event-types", h.createEventType)
	h.mux.HandleFunc("GET /event-types", h.listEventTypes)
	h.mux.HandleFunc("GET /event-types/{name}", h.getEventType)
	h.mux.HandleFunc("DELETE /event-types/{name}", h.deleteEventType)

	// Registrations
	h.mux.HandleFunc("POST /registrations", h.createRegistration)
	h.mux.HandleFunc("GET /registrations", h.listRegistrations)
	h.mux.HandleFunc("GET /registrations/{id}", h.getRegistration)
	h.mux.HandleFunc("PUT /registrations/{id}", h.updateRegistration)
	h.mux.HandleFunc("DELETE /registrations/{id}", h.deleteRegistration)
	h.mux.HandleFunc("PATCH /registrations/{id}/pause", h.pauseRegistration)
	h.mux.HandleFunc("PATCH /registrations/{id}/resume", h.resumeRegistration)
	h.mux.HandleFunc("POST /registrations/{id}/rotate-secret", h.rotateSecret)
	h.mux.HandleFunc("GET /registrations/{id}/status", h.registrationStatus)

	// Events
	h.mux.HandleFunc("GET /events", h.listEvents)
	h.mux.HandleFunc("GET /events/{id}", h.getEvent)
	h.mux.HandleFunc("POST /events/{id}/retry", h.retryEvent)

	// DLQ
	h.mux.HandleFunc("GET /dlq", h.listDLQ)
	h.mux.HandleFunc("GET /dlq/{id}", h.getDLQ)
	h.mux.HandleFunc("POST /dlq/{id}/replay", h.replayDLQ)
	h.mux.HandleFunc("POST /dlq/replay", h.replayBulkDLQ)
	h.mux.HandleFunc("POST /dlq/purge", h.purgeDLQ)

	// Security
	h.mux.HandleFunc("GET /security/blocks", h.listBlocks)
	h.mux.HandleFunc("POST /security/blocks", h.blockIP)
	h.mux.HandleFunc("DELETE /security/blocks/{ip}", h.unblockIP)
	h.mux.HandleFunc("GET /security/report", h.securityReport)

	// Stats
	h.mux.HandleFunc("GET /stats", h.getStats)
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.withMiddleware(h.mux).ServeHTTP(w, r)
}

func (h *Handler) withMiddleware(next http.Handler) http.Handler {
	return h.panicRecovery(h.logging(next))
}

func (h *Handler) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		h.logger.Info("api request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func (h *Handler) panicRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				h.logger.Error("panic recovered",
					"error", rec,
					"stack", string(debug.Stack()),
				)
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// JSON helpers.

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best effort
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// queryParam returns a query parameter value, or empty string if not present.
func queryParam(r *http.Request, key string) string {
	return r.URL.Query().Get(key)
}

// queryInt returns a query parameter as int or a default value.
func queryInt(r *http.Request, key string, defaultVal int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal
	}
	var n int
	for _, c := range v {
		if c < '0' || c > '9' {
			return defaultVal
		}
		n = n*10 + int(c-'0')
	}
	return n
}
