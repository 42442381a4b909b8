package hookline

import (
	"log/slog"
	"time"

	"github.com/hookline/hookline/catalog"
	"github.com/hookline/hookline/delivery"
	"github.com/hookline/hookline/dlq"
	"github.com/hookline/hookline/kv"
	"github.com/hookline/hookline/observability"
	"github.com/hookline/hookline/ratelimit"
	"github.com/hookline/hookline/registration"
	"github.com/hookline/hookline/security"
	"github.com/hookline/hookline/signature"
	"github.com/hookline/hookline/store"
)

// Hookline is the root webhook ingestion and delivery pipeline.
type Hookline struct {
	config      Config
	securityCfg security.Config
	store       store.Store
	kv          kv.Store
	catalog     *catalog.Catalog
	validator   *catalog.Validator
	regSvc      *registration.Service
	dlqSvc      *dlq.Service
	engine      *delivery.Engine
	filter      *security.Filter
	strategies  *signature.Strategies
	limiter     *ratelimit.Limiter
	processor   delivery.Processor
	metrics     *observability.Metrics
	tracer      *observability.Tracer
	logger      *slog.Logger
}

// Option configures a Hookline instance.
type Option func(*Hookline) error

// New creates a new Hookline with the given options. A store and a KV store
// are required; everything else has defaults.
func New(opts ...Option) (*Hookline, error) {
	h := &Hookline{
		config:      DefaultConfig(),
		securityCfg: security.DefaultConfig(),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(h); err != nil {
			return nil, err
		}
	}
	if h.store == nil {
		return nil, ErrNoStore
	}
	if h.kv == nil {
		return nil, ErrNoKV
	}
	h.wireServices()
	return h, nil
}

// WithStore sets the persistence backend.
func WithStore(s store.Store) Option {
	return func(h *Hookline) error {
		h.store = s
		return nil
	}
}

// WithKV sets the key-value store used for rate-limit counters and the
// security block-list.
func WithKV(s kv.Store) Option {
	return func(h *Hookline) error {
		h.kv = s
		return nil
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Hookline) error {
		h.logger = logger
		return nil
	}
}

// WithMetrics sets the metric instruments.
func WithMetrics(m *observability.Metrics) Option {
	return func(h *Hookline) error {
		h.metrics = m
		return nil
	}
}

// WithTracing enables OpenTelemetry spans around ingestion and deliveries.
func WithTracing() Option {
	return func(h *Hookline) error {
		h.tracer = observability.NewTracer()
		return nil
	}
}

// WithSecurityConfig sets per-provider security policies for the inbound
// gateway.
func WithSecurityConfig(cfg security.Config) Option {
	return func(h *Hookline) error {
		h.securityCfg = cfg
		return nil
	}
}

// WithProcessor sets the callback that handles inbound provider events.
// Returning an error from the processor schedules a retry under the same
// policy as outbound deliveries.
func WithProcessor(p delivery.Processor) Option {
	return func(h *Hookline) error {
		h.processor = p
		return nil
	}
}

// WithSignatureStrategy registers or replaces the inbound verification
// strategy for a provider.
func WithSignatureStrategy(s signature.Strategy) Option {
	return func(h *Hookline) error {
		if h.strategies == nil {
			h.strategies = signature.NewStrategies()
		}
		h.strategies.Register(s)
		return nil
	}
}

// WithConcurrency sets the number of delivery worker goroutines.
func WithConcurrency(n int) Option {
	return func(h *Hookline) error {
		h.config.Concurrency = n
		return nil
	}
}

// WithPollInterval sets how often the delivery engine checks for due jobs.
func WithPollInterval(d time.Duration) Option {
	return func(h *Hookline) error {
		h.config.PollInterval = d
		return nil
	}
}

// WithBatchSize sets the maximum number of jobs dequeued per poll cycle.
func WithBatchSize(n int) Option {
	return func(h *Hookline) error {
		h.config.BatchSize = n
		return nil
	}
}

// WithRequestTimeout sets the HTTP timeout per delivery attempt.
func WithRequestTimeout(d time.Duration) Option {
	return func(h *Hookline) error {
		h.config.RequestTimeout = d
		return nil
	}
}

// WithMaxRetries sets the maximum number of automatic retries per event.
func WithMaxRetries(n int) Option {
	return func(h *Hookline) error {
		h.config.MaxRetries = n
		return nil
	}
}

// WithRetrySchedule sets the backoff intervals between retry attempts.
func WithRetrySchedule(schedule []time.Duration) Option {
	return func(h *Hookline) error {
		h.config.RetrySchedule = schedule
		return nil
	}
}

// WithPauseThreshold sets the consecutive-failure count that auto-pauses a
// registration. Zero disables the circuit breaker.
func WithPauseThreshold(n int) Option {
	return func(h *Hookline) error {
		h.config.PauseThreshold = n
		return nil
	}
}

// WithShutdownTimeout sets the maximum wait for in-flight deliveries on stop.
func WithShutdownTimeout(d time.Duration) Option {
	return func(h *Hookline) error {
		h.config.ShutdownTimeout = d
		return nil
	}
}

// WithCacheTTL sets the TTL for the catalog's in-memory event type cache.
func WithCacheTTL(d time.Duration) Option {
	return func(h *Hookline) error {
		h.config.CacheTTL = d
		return nil
	}
}
