package dlq

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hookline/hookline/delivery"
	"github.com/hookline/hookline/event"
	"github.com/hookline/hookline/id"
	"github.com/hookline/hookline/internal/entity"
	"github.com/hookline/hookline/registration"
)

// Requeuer moves a failed event back to pending and re-queues its job.
// The composite store satisfies it.
type Requeuer interface {
	ScheduleRetry(ctx context.Context, evtID id.ID, attempts int, nextAt time.Time, errMsg string, statusCode int) error
	EnqueueJob(ctx context.Context, j *delivery.Job) error
	GetRegistration(ctx context.Context, regID id.ID) (*registration.Registration, error)
}

// Service manages the dead letter queue.
type Service struct {
	store    Store
	requeuer Requeuer
	logger   *slog.Logger
}

// NewService creates a new DLQ service.
func NewService(store Store, requeuer Requeuer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		requeuer: requeuer,
		logger:   logger,
	}
}

// PushFailed creates a DLQ entry from a permanently failed job.
// Implements delivery.DLQPusher.
func (svc *Service) PushFailed(ctx context.Context, j *delivery.Job, lastError string, lastStatusCode, attempts int) error {
	entry := &Entry{
		Entity:          entity.New(),
		ID:              id.NewDLQID(),
		EventID:         j.EventID,
		RegistrationID:  j.RegistrationID,
		Direction:       j.Direction,
		Provider:        j.Provider,
		EventType:       j.EventType,
		TenantID:        j.TenantID,
		Payload:         j.Payload,
		PreviousPayload: j.PreviousPayload,
		Error:           lastError,
		AttemptCount:    attempts,
		LastStatusCode:  lastStatusCode,
		FailedAt:        time.Now().UTC(),
	}

	return svc.store.Push(ctx, entry)
}

// List returns DLQ entries matching the given options.
func (svc *Service) List(ctx context.Context, opts ListOpts) ([]*Entry, error) {
	return svc.store.ListDLQ(ctx, opts)
}

// Get returns a DLQ entry by ID.
func (svc *Service) Get(ctx context.Context, dlqID id.ID) (*Entry, error) {
	return svc.store.GetDLQ(ctx, dlqID)
}

// Replay moves a failed event back to pending and re-queues it for
// immediate processing. This is the only path that resurrects a failed
// event; attempt history is preserved.
func (svc *Service) Replay(ctx context.Context, dlqID id.ID) error {
	entry, err := svc.store.GetDLQ(ctx, dlqID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if err := svc.requeuer.ScheduleRetry(ctx, entry.EventID, entry.AttemptCount, now, "", 0); err != nil {
		return fmt.Errorf("dlq: requeue event: %w", err)
	}

	job := &delivery.Job{
		EventID:         entry.EventID,
		RegistrationID:  entry.RegistrationID,
		TenantID:        entry.TenantID,
		Direction:       entry.Direction,
		Provider:        entry.Provider,
		EventType:       entry.EventType,
		Payload:         entry.Payload,
		PreviousPayload: entry.PreviousPayload,
		NextAttemptAt:   now,
		EnqueuedAt:      now,
	}
	if entry.Direction == event.DirectionOutbound && !entry.RegistrationID.IsNil() {
		reg, regErr := svc.requeuer.GetRegistration(ctx, entry.RegistrationID)
		if regErr != nil {
			return fmt.Errorf("dlq: resolve replay destination: %w", regErr)
		}
		job.URL = reg.URL
		job.Secret = reg.Secret
		job.Headers = reg.Headers
	}
	if err := svc.requeuer.EnqueueJob(ctx, job); err != nil {
		return fmt.Errorf("dlq: enqueue job: %w", err)
	}

	if err := svc.store.MarkReplayed(ctx, dlqID, now); err != nil {
		return err
	}

	svc.logger.InfoContext(ctx, "dlq entry replayed", "dlq_id", dlqID, "event_id", entry.EventID)
	return nil
}

// ReplayBulk replays all unreplayed DLQ entries within a time range and
// returns the number replayed.
func (svc *Service) ReplayBulk(ctx context.Context, from, to time.Time) (int64, error) {
	entries, err := svc.store.ListDLQ(ctx, ListOpts{From: &from, To: &to})
	if err != nil {
		return 0, err
	}

	var replayed int64
	for _, entry := range entries {
		if entry.ReplayedAt != nil {
			continue
		}
		if err := svc.Replay(ctx, entry.ID); err != nil {
			svc.logger.ErrorContext(ctx, "bulk replay entry failed",
				"dlq_id", entry.ID, "event_id", entry.EventID, "error", err)
			continue
		}
		replayed++
	}
	return replayed, nil
}

// Purge removes old DLQ entries.
func (svc *Service) Purge(ctx context.Context, before time.Time) (int64, error) {
	return svc.store.Purge(ctx, before)
}

// Count returns the total number of DLQ entries.
func (svc *Service) Count(ctx context.Context) (int64, error) {
	return svc.store.CountDLQ(ctx)
}
