package event

import (
	"context"
	"time"

	"github.com/hookline/hookline/id"
)

// Store defines the persistence contract for webhook events.
//
// Implementations must enforce the transition rules in CanTransition and
// must persist CreateEvent durably before returning, so no event is ever
// queued without a durable record.
type Store interface {
	// CreateEvent persists an event. Must be durable before returning.
	CreateEvent(ctx context.Context, evt *Event) error

	// GetEvent returns an event by ID.
	GetEvent(ctx context.Context, evtID id.ID) (*Event, error)

	// MarkProcessing transitions pending → processing.
	MarkProcessing(ctx context.Context, evtID id.ID) error

	// MarkCompleted transitions processing → completed and records the
	// delivery response.
	MarkCompleted(ctx context.Context, evtID id.ID, statusCode int, body string) error

	// MarkFailed transitions processing → failed and records the error.
	// attempts is the authoritative attempt count after this attempt.
	MarkFailed(ctx context.Context, evtID id.ID, errMsg string, attempts, statusCode int) error

	// ScheduleRetry transitions an event back to pending with a retry time.
	// Automatic retries come from processing; the manual retry path comes
	// from failed.
	ScheduleRetry(ctx context.Context, evtID id.ID, attempts int, nextAt time.Time, errMsg string, statusCode int) error

	// ListEvents returns events, optionally filtered.
	ListEvents(ctx context.Context, opts ListOpts) ([]*Event, error)

	// ListEventsByRegistration returns events linked to a registration.
	ListEventsByRegistration(ctx context.Context, regID id.ID, opts ListOpts) ([]*Event, error)

	// DeliveryStats returns outcome counts for a registration since a
	// point in time. Backs the computed success rate in registration status.
	DeliveryStats(ctx context.Context, regID id.ID, since time.Time) (completed, failed int64, err error)
}
