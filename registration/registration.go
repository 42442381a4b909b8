package registration

import (
	"time"

	"github.com/hookline/hookline/id"
	"github.com/hookline/hookline/internal/entity"
)

// Status is the lifecycle state of a registration.
type Status string

const (
	// StatusActive indicates the registration receives deliveries.
	StatusActive Status = "active"

	// StatusPaused indicates deliveries are suspended, either manually or by
	// the circuit breaker after repeated failures.
	StatusPaused Status = "paused"

	// StatusDeleted indicates the registration was soft-deleted. It is never
	// hard-removed while events still reference it.
	StatusDeleted Status = "deleted"
)

// Registration is a tenant's webhook subscription: where outbound events are
// sent and what inbound signing credential is recognized.
type Registration struct {
	entity.Entity

	// ID is the unique TypeID for this registration.
	ID id.ID `json:"id"`

	// TenantID identifies the tenant that owns this registration.
	TenantID string `json:"tenant_id"`

	// IntegrationID links the registration to the tenant's provider
	// integration record.
	IntegrationID string `json:"integration_id"`

	// URL is the delivery destination. Must be https.
	URL string `json:"url"`

	// Secret is the HMAC signing secret for this registration. Never serialized.
	Secret string `json:"-"`

	// Events are glob patterns for event type subscriptions ("*" for all).
	Events []string `json:"events"`

	// Status is the lifecycle state.
	Status Status `json:"status"`

	// FailureCount is the number of consecutive delivery failures. Reset on
	// success and on resume.
	FailureCount int `json:"failure_count"`

	// LastDeliveredAt is when the last successful delivery completed.
	LastDeliveredAt *time.Time `json:"last_delivered_at,omitempty"`

	// Headers are custom HTTP headers sent with each delivery.
	Headers map[string]string `json:"headers,omitempty"`

	// RateLimit is the maximum deliveries per second. 0 means unlimited.
	RateLimit int `json:"rate_limit"`

	// Metadata holds user-defined key-value pairs.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Subscribed reports whether the registration subscribes to an event type.
func (r *Registration) Subscribed(eventType string, match func(pattern, eventType string) bool) bool {
	for _, pattern := range r.Events {
		if match(pattern, eventType) {
			return true
		}
	}
	return false
}

// Deliverable reports whether the registration may receive deliveries.
func (r *Registration) Deliverable() bool {
	return r.Status == StatusActive
}

// ListOpts configures filtering and pagination for registration listing.
type ListOpts struct {
	Offset int
	Limit  int
	Status *Status
}
