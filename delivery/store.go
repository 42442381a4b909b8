package delivery

import (
	"context"

	"github.com/hookline/hookline/id"
)

// Store defines the persistence contract for the delivery queue.
type Store interface {
	// EnqueueJob queues a job. Enqueueing an event ID that is already
	// queued is a no-op, not an error.
	EnqueueJob(ctx context.Context, j *Job) error

	// EnqueueJobs queues multiple jobs atomically (fan-out).
	EnqueueJobs(ctx context.Context, js []*Job) error

	// DequeueJobs fetches due jobs, concurrent-safe. Implementations must
	// ensure no double-delivery (e.g. SKIP LOCKED, atomic ZREM).
	DequeueJobs(ctx context.Context, limit int) ([]*Job, error)

	// Reschedule re-queues a dequeued job with its updated NextAttemptAt.
	Reschedule(ctx context.Context, j *Job) error

	// RemoveJob drops a job from the queue once its event reached a
	// terminal status.
	RemoveJob(ctx context.Context, evtID id.ID) error

	// CountPendingJobs returns the number of jobs awaiting attempt.
	CountPendingJobs(ctx context.Context) (int64, error)
}
