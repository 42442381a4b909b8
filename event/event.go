package event

import (
	"encoding/json"
	"time"

	"github.com/hookline/hookline/id"
	"github.com/hookline/hookline/internal/entity"
)

// Direction distinguishes provider callbacks from outbound notifications.
type Direction string

const (
	// DirectionInbound marks events received from a third-party provider.
	DirectionInbound Direction = "inbound"

	// DirectionOutbound marks events delivered to a tenant endpoint.
	DirectionOutbound Direction = "outbound"
)

// Status is the lifecycle state of an event.
//
// Status only moves forward: pending → processing → {completed | failed}.
// The single permitted backwards transition is failed → pending, and only
// through an explicit manual retry.
type Status string

const (
	// StatusPending indicates the event awaits processing or delivery.
	StatusPending Status = "pending"

	// StatusProcessing indicates a worker has claimed the event.
	StatusProcessing Status = "processing"

	// StatusCompleted indicates processing or delivery succeeded.
	StatusCompleted Status = "completed"

	// StatusFailed indicates processing or delivery permanently failed.
	StatusFailed Status = "failed"
)

// CanTransition reports whether a status change is legal. Store
// implementations consult this before persisting any transition; the manual
// retry path uses retry=true to permit failed → pending.
func CanTransition(from, to Status, retry bool) bool {
	switch from {
	case StatusPending:
		return to == StatusProcessing
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed || to == StatusPending
	case StatusFailed:
		return retry && to == StatusPending
	default:
		return false
	}
}

// Event is one occurrence of an inbound callback or outbound notification,
// tracked through a retry-capable lifecycle. The ID is immutable once
// created; attempts are appended, never rewritten.
type Event struct {
	entity.Entity

	// ID is the unique TypeID for this event.
	ID id.ID `json:"id"`

	// Direction is inbound or outbound.
	Direction Direction `json:"direction"`

	// TenantID identifies the owning tenant.
	TenantID string `json:"tenant_id"`

	// RegistrationID references the linked registration. Nil for inbound
	// events whose credential matched no registration.
	RegistrationID id.ID `json:"registration_id,omitempty"`

	// Provider is the third-party provider name.
	Provider string `json:"provider"`

	// Type is the dot-separated event type name (e.g. "invoice.created").
	Type string `json:"type"`

	// Payload is the raw event payload.
	Payload json.RawMessage `json:"payload"`

	// Headers are the request headers captured at ingestion, or the custom
	// headers attached to an outbound delivery.
	Headers map[string]string `json:"headers,omitempty"`

	// SourceIP is the caller's address. Inbound only.
	SourceIP string `json:"source_ip,omitempty"`

	// Status is the lifecycle state.
	Status Status `json:"status"`

	// AttemptCount is the number of processing attempts made so far.
	// It strictly increases; manual and automatic retries share it.
	AttemptCount int `json:"attempt_count"`

	// NextRetryAt is when the next automatic retry is due, if scheduled.
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`

	// ResponseStatus is the HTTP status code from the most recent delivery
	// attempt. Outbound only.
	ResponseStatus int `json:"response_status,omitempty"`

	// ResponseBody is the response body from the most recent delivery
	// attempt, capped at 1KB. Outbound only.
	ResponseBody string `json:"response_body,omitempty"`

	// ErrorMessage is the error from the most recent failed attempt.
	ErrorMessage string `json:"error_message,omitempty"`
}

// ListOpts configures filtering and pagination for event listing.
type ListOpts struct {
	Offset    int
	Limit     int
	Direction Direction
	Provider  string
	Type      string
	Status    *Status
	From      *time.Time
	To        *time.Time
}
