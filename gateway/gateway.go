// Package gateway is the inbound HTTP surface for third-party provider
// callbacks.
//
// Every request passes the security filter, the rate limiter and the
// provider's signature strategy before anything is persisted. Accepted
// events are stored durably and queued for processing; rejected or
// malformed requests are answered with 200 so providers do not retry
// storms against us. The gateway never returns a 5xx.
package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/hookline/hookline/delivery"
	"github.com/hookline/hookline/event"
	"github.com/hookline/hookline/id"
	"github.com/hookline/hookline/internal/entity"
	"github.com/hookline/hookline/observability"
	"github.com/hookline/hookline/registration"
	"github.com/hookline/hookline/security"
	"github.com/hookline/hookline/signature"
)

// MaxBodyBytes caps inbound request bodies.
const MaxBodyBytes = 1 << 20 // 1MB

// Store is the persistence surface the gateway needs. The composite store
// satisfies it.
type Store interface {
	CreateEvent(ctx context.Context, evt *event.Event) error
	EnqueueJob(ctx context.Context, j *delivery.Job) error
	FindBySecret(ctx context.Context, secret string) (*registration.Registration, error)
}

// ProviderConfig holds the inbound settings for one provider.
type ProviderConfig struct {
	// Secret is the shared signing secret used to verify callbacks. When
	// empty, signature verification is skipped for this provider.
	Secret string

	// VerifyToken is the expected token for the WhatsApp-style subscription
	// handshake.
	VerifyToken string

	// TenantID is attributed to events from this provider when the signing
	// secret matches no registration.
	TenantID string
}

// Config configures the gateway handler.
type Config struct {
	// Providers maps provider names to their inbound settings.
	Providers map[string]ProviderConfig

	// MaxBodyBytes overrides the request body cap. Zero means MaxBodyBytes.
	MaxBodyBytes int64
}

// Handler is the inbound gateway HTTP handler. Mount it wherever provider
// callback URLs point, e.g. under /hooks/.
type Handler struct {
	config     Config
	filter     *security.Filter
	strategies *signature.Strategies
	store      Store
	metrics    *observability.Metrics
	tracer     *observability.Tracer
	logger     *slog.Logger
	mux        *http.ServeMux
	now        func() time.Time
}

// NewHandler creates a gateway handler.
func NewHandler(cfg Config, filter *security.Filter, strategies *signature.Strategies, store Store, metrics *observability.Metrics, tracer *observability.Tracer, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = MaxBodyBytes
	}
	if strategies == nil {
		strategies = signature.NewStrategies()
	}

	h := &Handler{
		config:     cfg,
		filter:     filter,
		strategies: strategies,
		store:      store,
		metrics:    metrics,
		tracer:     tracer,
		logger:     logger,
		mux:        http.NewServeMux(),
		now:        time.Now,
	}

	h.mux.HandleFunc("GET /whatsapp", h.handshake)
	h.mux.HandleFunc("POST /{provider}", h.receive)
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// handshake answers the Meta subscription verification challenge.
func (h *Handler) handshake(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("hub.mode")
	token := q.Get("hub.verify_token")
	challenge := q.Get("hub.challenge")

	expected := h.config.Providers["whatsapp"].VerifyToken
	if mode != "subscribe" || expected == "" || token != expected {
		h.logger.WarnContext(r.Context(), "handshake rejected", "provider", "whatsapp", "mode", mode)
		http.Error(w, "verification failed", http.StatusForbidden)
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, challenge) //nolint:errcheck // best effort
}

// receive handles one provider callback.
func (h *Handler) receive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	provider := r.PathValue("provider")
	sourceIP := clientIP(r)

	if h.tracer != nil {
		spanCtx, done := h.ingestSpan(ctx, provider, sourceIP)
		defer done()
		ctx = spanCtx
	}

	verdict := h.filter.Check(ctx, sourceIP, r.UserAgent(), provider)
	if !verdict.Allowed {
		h.reject(ctx, provider, verdict.Reason)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	rl, err := h.filter.CheckRateLimit(ctx, sourceIP, provider)
	if err != nil {
		// Counter backend trouble never blocks ingestion.
		h.logger.ErrorContext(ctx, "rate limit check unavailable", "provider", provider, "error", err)
	} else if rl.Limited {
		h.reject(ctx, provider, "rate_limited")
		if h.metrics != nil {
			h.metrics.RateLimitedTotal.Inc()
		}
		w.Header().Set("Retry-After", rl.ResetAt.UTC().Format(http.TimeFormat))
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, h.config.MaxBodyBytes+1))
	if err != nil || int64(len(body)) > h.config.MaxBodyBytes {
		h.logger.WarnContext(ctx, "body rejected", "provider", provider, "bytes", len(body), "error", err)
		h.reject(ctx, provider, "body_too_large")
		h.received(w)
		return
	}

	reg, tenantID, secret := h.resolveCredential(ctx, provider)

	if secret != "" {
		if verifyErr := h.strategies.Verify(provider, r.Header, body, secret, h.now()); verifyErr != nil {
			// Answer 200 so the caller cannot probe the signature scheme.
			h.logger.WarnContext(ctx, "signature rejected",
				"provider", provider, "source_ip", sourceIP, "error", verifyErr)
			h.reject(ctx, provider, "invalid_signature")
			h.received(w)
			return
		}
	}

	if !json.Valid(body) {
		h.logger.WarnContext(ctx, "malformed payload", "provider", provider, "source_ip", sourceIP)
		h.reject(ctx, provider, "malformed_payload")
		h.received(w)
		return
	}

	eventType := ExtractEventType(provider, body)

	evt := &event.Event{
		Entity:    entity.New(),
		ID:        id.NewEventID(),
		Direction: event.DirectionInbound,
		TenantID:  tenantID,
		Provider:  provider,
		Type:      eventType,
		Payload:   body,
		Headers:   captureHeaders(r.Header),
		SourceIP:  sourceIP,
		Status:    event.StatusPending,
	}
	if reg != nil {
		evt.RegistrationID = reg.ID
	}

	if err := h.store.CreateEvent(ctx, evt); err != nil {
		// Durable storage failed; answering non-200 makes the provider retry.
		h.logger.ErrorContext(ctx, "persist inbound event failed",
			"provider", provider, "error", err)
		http.Error(w, "try again", http.StatusTooManyRequests)
		return
	}

	now := h.now().UTC()
	job := &delivery.Job{
		EventID:       evt.ID,
		TenantID:      tenantID,
		Direction:     event.DirectionInbound,
		Provider:      provider,
		EventType:     eventType,
		Payload:       body,
		NextAttemptAt: now,
		EnqueuedAt:    now,
	}
	if reg != nil {
		job.RegistrationID = reg.ID
	}
	if err := h.store.EnqueueJob(ctx, job); err != nil {
		// The event is stored; the poll loop will not see a job but a
		// replay can recover it. Log loudly.
		h.logger.ErrorContext(ctx, "enqueue inbound job failed",
			"provider", provider, "event_id", evt.ID, "error", err)
	}

	if h.metrics != nil {
		h.metrics.RecordIngest(provider)
	}
	h.logger.DebugContext(ctx, "inbound event accepted",
		"provider", provider, "event_id", evt.ID, "type", eventType)

	h.received(w)
}

// resolveCredential returns the registration linked to the provider's signing
// secret, the tenant to attribute events to, and the secret itself.
func (h *Handler) resolveCredential(ctx context.Context, provider string) (*registration.Registration, string, string) {
	cfg := h.config.Providers[provider]
	if cfg.Secret == "" {
		return nil, cfg.TenantID, ""
	}

	reg, err := h.store.FindBySecret(ctx, cfg.Secret)
	if err != nil {
		// Unlinked events still carry the provider's configured tenant.
		h.logger.DebugContext(ctx, "no registration for provider secret", "provider", provider)
		return nil, cfg.TenantID, cfg.Secret
	}
	return reg, reg.TenantID, cfg.Secret
}

// reject records a rejected request in metrics.
func (h *Handler) reject(_ context.Context, provider, reason string) {
	if h.metrics != nil {
		h.metrics.RecordReject(provider, reason)
	}
}

// received writes the canonical acceptance response.
func (h *Handler) received(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, `{"received":true}`) //nolint:errcheck // best effort
}

// ingestSpan starts an ingest span and returns the span context plus a
// closer. Split out to keep receive readable.
func (h *Handler) ingestSpan(ctx context.Context, provider, sourceIP string) (context.Context, func()) {
	spanCtx, span := h.tracer.StartIngestSpan(ctx, provider, sourceIP)
	return spanCtx, func() { h.tracer.EndIngestSpan(span, true, "") }
}

// clientIP extracts the caller address, preferring the first X-Forwarded-For
// hop over the socket peer.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// captureHeaders flattens request headers to single values for storage.
// Hop-by-hop and bulk headers are skipped.
func captureHeaders(header http.Header) map[string]string {
	out := make(map[string]string, len(header))
	for k, v := range header {
		switch k {
		case "Cookie", "Authorization", "Connection", "Accept-Encoding":
			continue
		}
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}
