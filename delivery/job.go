package delivery

import (
	"encoding/json"
	"time"

	"github.com/hookline/hookline/event"
	"github.com/hookline/hookline/id"
)

// Job is a queued unit of work for the delivery engine. A job's identity is
// its event ID: enqueueing the same event twice never produces a second job,
// which keeps retries and manual replays idempotent.
//
// A job is self-contained: it carries the destination URL, signing secret
// and custom headers, so workers deliver without re-resolving the
// registration. Only the pause state is re-checked at send time, so pausing
// takes effect for jobs already in the queue.
type Job struct {
	// EventID references the event being processed. It is the queue key.
	EventID id.ID `json:"event_id"`

	// RegistrationID references the destination registration. Zero for
	// inbound jobs with no matched registration.
	RegistrationID id.ID `json:"registration_id,omitempty"`

	// TenantID identifies the owning tenant.
	TenantID string `json:"tenant_id"`

	// Direction decides how the job is processed: outbound jobs are sent
	// over HTTP, inbound jobs are handed to the configured processor.
	Direction event.Direction `json:"direction"`

	// Provider is the third-party provider name.
	Provider string `json:"provider,omitempty"`

	// EventType is the dot-separated event type name.
	EventType string `json:"event_type"`

	// URL is the delivery destination, captured at enqueue time. Empty for
	// inbound jobs.
	URL string `json:"url,omitempty"`

	// Secret is the HMAC signing secret for the destination.
	Secret string `json:"secret,omitempty"`

	// Headers are custom HTTP headers sent with the delivery.
	Headers map[string]string `json:"headers,omitempty"`

	// Payload is the event payload delivered as the "data" field.
	Payload json.RawMessage `json:"payload"`

	// PreviousPayload, when set, is delivered as the "previous_data" field
	// so receivers can diff update events.
	PreviousPayload json.RawMessage `json:"previous_payload,omitempty"`

	// NextAttemptAt is when the job becomes due. Dequeue only returns jobs
	// whose NextAttemptAt is in the past.
	NextAttemptAt time.Time `json:"next_attempt_at"`

	// EnqueuedAt is when the job was first queued.
	EnqueuedAt time.Time `json:"enqueued_at"`
}
