package hookline

import "time"

// Config holds the configuration for a Hookline instance.
type Config struct {
	// Concurrency is the number of delivery worker goroutines.
	Concurrency int

	// PollInterval is how often the delivery engine checks for pending jobs.
	PollInterval time.Duration

	// BatchSize is the maximum number of jobs dequeued per poll cycle.
	BatchSize int

	// RequestTimeout is the HTTP timeout per delivery attempt.
	RequestTimeout time.Duration

	// MaxRetries is the maximum number of automatic retries per outbound event.
	MaxRetries int

	// RetrySchedule defines the backoff intervals between retry attempts,
	// indexed by attempt number.
	RetrySchedule []time.Duration

	// PauseThreshold is the number of consecutive delivery failures after
	// which a registration is automatically paused.
	PauseThreshold int

	// ShutdownTimeout is the maximum time to wait for in-flight deliveries on shutdown.
	ShutdownTimeout time.Duration

	// CacheTTL is the TTL for the catalog's in-memory event type cache.
	// Set to 0 to disable caching.
	CacheTTL time.Duration
}

// DefaultRetrySchedule defines the default backoff intervals between retries.
var DefaultRetrySchedule = []time.Duration{
	1 * time.Second,
	5 * time.Second,
	30 * time.Second,
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:     20,
		PollInterval:    1 * time.Second,
		BatchSize:       50,
		RequestTimeout:  10 * time.Second,
		MaxRetries:      3,
		RetrySchedule:   DefaultRetrySchedule,
		PauseThreshold:  10,
		ShutdownTimeout: 30 * time.Second,
		CacheTTL:        30 * time.Second,
	}
}
