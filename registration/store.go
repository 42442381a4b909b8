package registration

import (
	"context"
	"time"

	"github.com/hookline/hookline/id"
)

// Store defines the persistence contract for webhook registrations.
type Store interface {
	// CreateRegistration persists a new registration.
	CreateRegistration(ctx context.Context, reg *Registration) error

	// GetRegistration returns a registration by ID, including soft-deleted ones.
	GetRegistration(ctx context.Context, regID id.ID) (*Registration, error)

	// UpdateRegistration modifies an existing registration.
	UpdateRegistration(ctx context.Context, reg *Registration) error

	// ListRegistrations returns registrations for a tenant, optionally filtered.
	ListRegistrations(ctx context.Context, tenantID string, opts ListOpts) ([]*Registration, error)

	// Resolve finds all active registrations subscribed to an event type for
	// a tenant. An empty integrationID matches all integrations.
	// This is the hot path, called on every Trigger.
	Resolve(ctx context.Context, tenantID, integrationID, eventType string) ([]*Registration, error)

	// SetRegistrationStatus transitions the lifecycle state without touching
	// other fields.
	SetRegistrationStatus(ctx context.Context, regID id.ID, status Status) error

	// IncrementFailureCount atomically bumps the consecutive-failure counter
	// and returns the new value.
	IncrementFailureCount(ctx context.Context, regID id.ID) (int, error)

	// ResetFailureCount zeroes the consecutive-failure counter.
	ResetFailureCount(ctx context.Context, regID id.ID) error

	// TouchDelivered records a successful delivery timestamp.
	TouchDelivered(ctx context.Context, regID id.ID, at time.Time) error

	// FindBySecret maps an inbound signing credential back to its
	// registration. Returns ErrRegistrationNotFound when unknown.
	FindBySecret(ctx context.Context, secret string) (*Registration, error)
}
