package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/hookline/hookline"
	"github.com/hookline/hookline/event"
	"github.com/hookline/hookline/id"
)

// CreateEvent persists an event.
func (s *Store) CreateEvent(ctx context.Context, evt *event.Event) error {
	if evt.Status == "" {
		evt.Status = event.StatusPending
	}

	m := toEventModel(evt)

	_, err := s.mdb.NewInsert(m).Exec(ctx)
	if err != nil {
		return fmt.Errorf("hookline/mongo: create event: %w", err)
	}

	return nil
}

// GetEvent returns an event by ID.
func (s *Store) GetEvent(ctx context.Context, evtID id.ID) (*event.Event, error) {
	var m eventModel

	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": evtID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, hookline.ErrEventNotFound
		}

		return nil, fmt.Errorf("hookline/mongo: get event: %w", err)
	}

	return fromEventModel(&m)
}

// transitionErr distinguishes a missing event from an illegal transition
// after a guarded update matched zero documents.
func (s *Store) transitionErr(ctx context.Context, evtID id.ID) error {
	count, err := s.mdb.NewFind((*eventModel)(nil)).
		Filter(bson.M{"_id": evtID.String()}).
		Count(ctx)
	if err != nil {
		return fmt.Errorf("hookline/mongo: transition check: %w", err)
	}

	if count == 0 {
		return hookline.ErrEventNotFound
	}

	return hookline.ErrInvalidTransition
}

// MarkProcessing transitions pending → processing.
func (s *Store) MarkProcessing(ctx context.Context, evtID id.ID) error {
	res, err := s.mdb.NewUpdate((*eventModel)(nil)).
		Filter(bson.M{
			"_id":    evtID.String(),
			"status": string(event.StatusPending),
		}).
		Set("status", string(event.StatusProcessing)).
		Set("updated_at", now()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("hookline/mongo: mark processing: %w", err)
	}

	if res.MatchedCount() == 0 {
		return s.transitionErr(ctx, evtID)
	}

	return nil
}

// MarkCompleted transitions processing → completed and records the delivery
// response.
func (s *Store) MarkCompleted(ctx context.Context, evtID id.ID, statusCode int, body string) error {
	res, err := s.mdb.NewUpdate((*eventModel)(nil)).
		Filter(bson.M{
			"_id":    evtID.String(),
			"status": string(event.StatusProcessing),
		}).
		SetUpdate(bson.M{
			"$set": bson.M{
				"status":          string(event.StatusCompleted),
				"response_status": statusCode,
				"response_body":   body,
				"error_message":   "",
				"next_retry_at":   nil,
				"updated_at":      now(),
			},
			"$inc": bson.M{"attempt_count": 1},
		}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("hookline/mongo: mark completed: %w", err)
	}

	if res.MatchedCount() == 0 {
		return s.transitionErr(ctx, evtID)
	}

	return nil
}

// MarkFailed transitions processing → failed and records the error.
func (s *Store) MarkFailed(ctx context.Context, evtID id.ID, errMsg string, attempts, statusCode int) error {
	res, err := s.mdb.NewUpdate((*eventModel)(nil)).
		Filter(bson.M{
			"_id":    evtID.String(),
			"status": string(event.StatusProcessing),
		}).
		Set("status", string(event.StatusFailed)).
		Set("attempt_count", attempts).
		Set("error_message", errMsg).
		Set("response_status", statusCode).
		Set("next_retry_at", nil).
		Set("updated_at", now()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("hookline/mongo: mark failed: %w", err)
	}

	if res.MatchedCount() == 0 {
		return s.transitionErr(ctx, evtID)
	}

	return nil
}

// ScheduleRetry transitions an event back to pending with a retry time.
// processing → pending is the automatic retry; failed → pending is the
// manual retry path.
func (s *Store) ScheduleRetry(ctx context.Context, evtID id.ID, attempts int, nextAt time.Time, errMsg string, statusCode int) error {
	set := bson.M{
		"status":        string(event.StatusPending),
		"attempt_count": attempts,
		"next_retry_at": nextAt,
		"updated_at":    now(),
	}
	if errMsg != "" {
		set["error_message"] = errMsg
	}

	if statusCode != 0 {
		set["response_status"] = statusCode
	}

	res, err := s.mdb.NewUpdate((*eventModel)(nil)).
		Filter(bson.M{
			"_id": evtID.String(),
			"status": bson.M{"$in": []string{
				string(event.StatusProcessing),
				string(event.StatusFailed),
			}},
		}).
		SetUpdate(bson.M{"$set": set}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("hookline/mongo: schedule retry: %w", err)
	}

	if res.MatchedCount() == 0 {
		return s.transitionErr(ctx, evtID)
	}

	return nil
}

// ListEvents returns events, optionally filtered.
func (s *Store) ListEvents(ctx context.Context, opts event.ListOpts) ([]*event.Event, error) {
	var models []eventModel

	q := s.mdb.NewFind(&models).
		Filter(eventFilter(opts)).
		Sort(bson.D{{Key: "created_at", Value: -1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}

	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("hookline/mongo: list events: %w", err)
	}

	result := make([]*event.Event, 0, len(models))

	for i := range models {
		evt, err := fromEventModel(&models[i])
		if err != nil {
			return nil, err
		}

		result = append(result, evt)
	}

	return result, nil
}

// ListEventsByRegistration returns events linked to a registration.
func (s *Store) ListEventsByRegistration(ctx context.Context, regID id.ID, opts event.ListOpts) ([]*event.Event, error) {
	var models []eventModel

	filter := bson.M{"registration_id": regID.String()}
	if opts.Status != nil {
		filter["status"] = string(*opts.Status)
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "created_at", Value: -1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}

	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("hookline/mongo: list events by registration: %w", err)
	}

	result := make([]*event.Event, 0, len(models))

	for i := range models {
		evt, err := fromEventModel(&models[i])
		if err != nil {
			return nil, err
		}

		result = append(result, evt)
	}

	return result, nil
}

// DeliveryStats returns outcome counts for a registration since a point in
// time.
func (s *Store) DeliveryStats(ctx context.Context, regID id.ID, since time.Time) (int64, int64, error) {
	completed, err := s.mdb.NewFind((*eventModel)(nil)).
		Filter(bson.M{
			"registration_id": regID.String(),
			"status":          string(event.StatusCompleted),
			"updated_at":      bson.M{"$gte": since},
		}).
		Count(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("hookline/mongo: delivery stats completed: %w", err)
	}

	failed, err := s.mdb.NewFind((*eventModel)(nil)).
		Filter(bson.M{
			"registration_id": regID.String(),
			"status":          string(event.StatusFailed),
			"updated_at":      bson.M{"$gte": since},
		}).
		Count(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("hookline/mongo: delivery stats failed: %w", err)
	}

	return completed, failed, nil
}

// eventFilter builds the bson filter for ListEvents.
func eventFilter(opts event.ListOpts) bson.M {
	filter := bson.M{}

	if opts.Direction != "" {
		filter["direction"] = string(opts.Direction)
	}

	if opts.Provider != "" {
		filter["provider"] = opts.Provider
	}

	if opts.Type != "" {
		filter["type"] = opts.Type
	}

	if opts.Status != nil {
		filter["status"] = string(*opts.Status)
	}

	if opts.From != nil || opts.To != nil {
		dateFilter := bson.M{}
		if opts.From != nil {
			dateFilter["$gte"] = *opts.From
		}

		if opts.To != nil {
			dateFilter["$lte"] = *opts.To
		}

		filter["created_at"] = dateFilter
	}

	return filter
}
