package dlq

import (
	"encoding/json"
	"time"

	"github.com/hookline/hookline/event"
	"github.com/hookline/hookline/id"
	"github.com/hookline/hookline/internal/entity"
)

// Entry represents a permanently failed event in the dead letter queue.
type Entry struct {
	entity.Entity

	// ID is the unique TypeID for this DLQ entry.
	ID id.ID `json:"id"`

	// EventID references the failed event.
	EventID id.ID `json:"event_id"`

	// RegistrationID references the destination registration, if any.
	RegistrationID id.ID `json:"registration_id,omitempty"`

	// Direction is inbound or outbound, copied from the event.
	Direction event.Direction `json:"direction"`

	// Provider is the third-party provider name, if any.
	Provider string `json:"provider,omitempty"`

	// EventType is the event type name for filtering.
	EventType string `json:"event_type"`

	// TenantID identifies the tenant that owns the event.
	TenantID string `json:"tenant_id"`

	// Payload is the event data that failed to process.
	Payload json.RawMessage `json:"payload"`

	// PreviousPayload is the prior-state data attached to update events.
	PreviousPayload json.RawMessage `json:"previous_payload,omitempty"`

	// Error is the error message from the final attempt.
	Error string `json:"error"`

	// AttemptCount is the total number of attempts made.
	AttemptCount int `json:"attempt_count"`

	// LastStatusCode is the HTTP status code from the final attempt.
	LastStatusCode int `json:"last_status_code,omitempty"`

	// ReplayedAt is set when the entry has been replayed.
	ReplayedAt *time.Time `json:"replayed_at,omitempty"`

	// FailedAt is when the event permanently failed.
	FailedAt time.Time `json:"failed_at"`
}

// ListOpts configures filtering and pagination for DLQ listing.
type ListOpts struct {
	Offset         int
	Limit          int
	TenantID       string
	RegistrationID *id.ID
	From           *time.Time
	To             *time.Time
}
