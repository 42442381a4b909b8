package delivery

import "time"

// Decision is the outcome of evaluating a delivery attempt.
type Decision int

const (
	// Completed means the attempt succeeded (2xx).
	Completed Decision = iota

	// Retry means the attempt failed transiently and should be retried later.
	Retry

	// Failed means the event has permanently failed and moves to the DLQ.
	Failed
)

// Result holds the outcome of a single delivery attempt.
type Result struct {
	StatusCode int
	Error      string
	Response   string
	LatencyMs  int
}

// Policy decides what to do after a delivery attempt.
type Policy struct {
	schedule   []time.Duration
	maxRetries int
}

// NewPolicy creates a retry policy with the given backoff schedule and
// maximum number of automatic retries.
func NewPolicy(schedule []time.Duration, maxRetries int) *Policy {
	return &Policy{schedule: schedule, maxRetries: maxRetries}
}

// Decide determines what to do with an event after an attempt. attempts is
// the total number of attempts made so far, including this one.
//
// Decision matrix:
//   - 2xx → Completed
//   - 429 → Retry if retries remain, else Failed (rate limited)
//   - 400–499 (except 429) → Failed immediately (client error won't self-correct)
//   - 500–599 → Retry if retries remain, else Failed
//   - 0 (connection/timeout error) → Retry if retries remain, else Failed
func (p *Policy) Decide(res Result, attempts int) Decision {
	code := res.StatusCode

	// 2xx → success
	if code >= 200 && code < 300 {
		return Completed
	}

	// 429 Too Many Requests → transient
	if code == 429 {
		return p.retryOrFail(attempts)
	}

	// 400–499 (client errors) → permanent
	if code >= 400 && code < 500 {
		return Failed
	}

	// 500–599 or 0 (network error) → transient
	return p.retryOrFail(attempts)
}

// retryOrFail returns Retry while automatic retries remain, otherwise Failed.
func (p *Policy) retryOrFail(attempts int) Decision {
	if attempts <= p.maxRetries {
		return Retry
	}
	return Failed
}

// NextAttempt returns the time at which the next attempt should be made,
// given the number of attempts made so far.
func (p *Policy) NextAttempt(attempts int) time.Time {
	idx := attempts - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(p.schedule) {
		idx = len(p.schedule) - 1
	}
	return time.Now().UTC().Add(p.schedule[idx])
}
