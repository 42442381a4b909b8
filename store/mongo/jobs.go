package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/hookline/hookline/delivery"
	"github.com/hookline/hookline/id"
)

// EnqueueJob queues a job. The event ID is the document _id, so enqueueing
// an already queued event is a no-op.
func (s *Store) EnqueueJob(ctx context.Context, j *delivery.Job) error {
	m := toJobModel(j)

	_, err := s.mdb.NewInsert(m).Exec(ctx)
	if err != nil {
		if mongod.IsDuplicateKeyError(err) {
			return nil
		}

		return fmt.Errorf("hookline/mongo: enqueue job: %w", err)
	}

	return nil
}

// EnqueueJobs queues multiple jobs (fan-out). Duplicates are skipped.
func (s *Store) EnqueueJobs(ctx context.Context, js []*delivery.Job) error {
	for _, j := range js {
		if err := s.EnqueueJob(ctx, j); err != nil {
			return err
		}
	}

	return nil
}

// DequeueJobs fetches due jobs, concurrent-safe. Each job is claimed with
// FindOneAndUpdate so two workers never receive the same job.
func (s *Store) DequeueJobs(ctx context.Context, limit int) ([]*delivery.Job, error) {
	result := make([]*delivery.Job, 0, limit)
	t := now()
	col := s.mdb.Collection(colJobs)

	for range limit {
		filter := bson.M{
			"locked_at":       nil,
			"next_attempt_at": bson.M{"$lte": t},
		}

		update := bson.M{
			"$set": bson.M{"locked_at": t},
		}

		opts := options.FindOneAndUpdate().
			SetReturnDocument(options.After).
			SetSort(bson.D{{Key: "next_attempt_at", Value: 1}})

		var m jobModel

		err := col.FindOneAndUpdate(ctx, filter, update, opts).Decode(&m)
		if err != nil {
			if errors.Is(err, mongod.ErrNoDocuments) {
				break
			}

			return nil, fmt.Errorf("hookline/mongo: dequeue jobs: %w", err)
		}

		j, err := fromJobModel(&m)
		if err != nil {
			return nil, err
		}

		result = append(result, j)
	}

	return result, nil
}

// Reschedule re-queues a dequeued job with its updated NextAttemptAt.
func (s *Store) Reschedule(ctx context.Context, j *delivery.Job) error {
	_, err := s.mdb.NewUpdate((*jobModel)(nil)).
		Filter(bson.M{"_id": j.EventID.String()}).
		Set("next_attempt_at", j.NextAttemptAt).
		Set("locked_at", nil).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("hookline/mongo: reschedule: %w", err)
	}

	return nil
}

// RemoveJob drops a job from the queue.
func (s *Store) RemoveJob(ctx context.Context, evtID id.ID) error {
	_, err := s.mdb.NewDelete((*jobModel)(nil)).
		Filter(bson.M{"_id": evtID.String()}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("hookline/mongo: remove job: %w", err)
	}

	return nil
}

// CountPendingJobs returns the number of jobs awaiting attempt.
func (s *Store) CountPendingJobs(ctx context.Context) (int64, error) {
	count, err := s.mdb.NewFind((*jobModel)(nil)).
		Filter(bson.M{"locked_at": nil}).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("hookline/mongo: count pending jobs: %w", err)
	}

	return count, nil
}
