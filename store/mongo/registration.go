package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/hookline/hookline"
	"github.com/hookline/hookline/catalog"
	"github.com/hookline/hookline/id"
	"github.com/hookline/hookline/registration"
)

// CreateRegistration persists a new registration.
func (s *Store) CreateRegistration(ctx context.Context, reg *registration.Registration) error {
	m := toRegistrationModel(reg)

	_, err := s.mdb.NewInsert(m).Exec(ctx)
	if err != nil {
		return fmt.Errorf("hookline/mongo: create registration: %w", err)
	}

	return nil
}

// GetRegistration returns a registration by ID, including soft-deleted ones.
func (s *Store) GetRegistration(ctx context.Context, regID id.ID) (*registration.Registration, error) {
	var m registrationModel

	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": regID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, hookline.ErrRegistrationNotFound
		}

		return nil, fmt.Errorf("hookline/mongo: get registration: %w", err)
	}

	return fromRegistrationModel(&m)
}

// UpdateRegistration modifies an existing registration.
func (s *Store) UpdateRegistration(ctx context.Context, reg *registration.Registration) error {
	m := toRegistrationModel(reg)
	m.UpdatedAt = now()

	res, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.ID}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("hookline/mongo: update registration: %w", err)
	}

	if res.MatchedCount() == 0 {
		return hookline.ErrRegistrationNotFound
	}

	return nil
}

// ListRegistrations returns registrations for a tenant, optionally filtered.
func (s *Store) ListRegistrations(ctx context.Context, tenantID string, opts registration.ListOpts) ([]*registration.Registration, error) {
	var models []registrationModel

	filter := bson.M{"tenant_id": tenantID}
	if opts.Status != nil {
		filter["status"] = string(*opts.Status)
	} else {
		filter["status"] = bson.M{"$ne": string(registration.StatusDeleted)}
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "created_at", Value: 1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}

	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("hookline/mongo: list registrations: %w", err)
	}

	result := make([]*registration.Registration, 0, len(models))

	for i := range models {
		reg, err := fromRegistrationModel(&models[i])
		if err != nil {
			return nil, err
		}

		result = append(result, reg)
	}

	return result, nil
}

// Resolve finds all active registrations subscribed to an event type for a
// tenant.
func (s *Store) Resolve(ctx context.Context, tenantID, integrationID, eventType string) ([]*registration.Registration, error) {
	var models []registrationModel

	filter := bson.M{
		"tenant_id": tenantID,
		"status":    string(registration.StatusActive),
	}
	if integrationID != "" {
		filter["integration_id"] = integrationID
	}

	if err := s.mdb.NewFind(&models).
		Filter(filter).
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("hookline/mongo: resolve: %w", err)
	}

	var result []*registration.Registration

	for i := range models {
		reg, err := fromRegistrationModel(&models[i])
		if err != nil {
			return nil, err
		}

		if reg.Subscribed(eventType, catalog.Match) {
			result = append(result, reg)
		}
	}

	return result, nil
}

// SetRegistrationStatus transitions the lifecycle state without touching
// other fields.
func (s *Store) SetRegistrationStatus(ctx context.Context, regID id.ID, status registration.Status) error {
	res, err := s.mdb.NewUpdate((*registrationModel)(nil)).
		Filter(bson.M{"_id": regID.String()}).
		Set("status", string(status)).
		Set("updated_at", now()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("hookline/mongo: set registration status: %w", err)
	}

	if res.MatchedCount() == 0 {
		return hookline.ErrRegistrationNotFound
	}

	return nil
}

// IncrementFailureCount atomically bumps the consecutive-failure counter and
// returns the new value.
func (s *Store) IncrementFailureCount(ctx context.Context, regID id.ID) (int, error) {
	col := s.mdb.Collection(colRegistrations)

	update := bson.M{
		"$inc": bson.M{"failure_count": 1},
		"$set": bson.M{"updated_at": now()},
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var m registrationModel

	err := col.FindOneAndUpdate(ctx, bson.M{"_id": regID.String()}, update, opts).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return 0, hookline.ErrRegistrationNotFound
		}

		return 0, fmt.Errorf("hookline/mongo: increment failure count: %w", err)
	}

	return m.FailureCount, nil
}

// ResetFailureCount zeroes the consecutive-failure counter.
func (s *Store) ResetFailureCount(ctx context.Context, regID id.ID) error {
	res, err := s.mdb.NewUpdate((*registrationModel)(nil)).
		Filter(bson.M{"_id": regID.String()}).
		Set("failure_count", 0).
		Set("updated_at", now()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("hookline/mongo: reset failure count: %w", err)
	}

	if res.MatchedCount() == 0 {
		return hookline.ErrRegistrationNotFound
	}

	return nil
}

// TouchDelivered records a successful delivery timestamp.
func (s *Store) TouchDelivered(ctx context.Context, regID id.ID, at time.Time) error {
	res, err := s.mdb.NewUpdate((*registrationModel)(nil)).
		Filter(bson.M{"_id": regID.String()}).
		Set("last_delivered_at", at).
		Set("updated_at", now()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("hookline/mongo: touch delivered: %w", err)
	}

	if res.MatchedCount() == 0 {
		return hookline.ErrRegistrationNotFound
	}

	return nil
}

// FindBySecret maps an inbound signing credential back to its registration.
func (s *Store) FindBySecret(ctx context.Context, secret string) (*registration.Registration, error) {
	var m registrationModel

	err := s.mdb.NewFind(&m).
		Filter(bson.M{
			"secret": secret,
			"status": bson.M{"$ne": string(registration.StatusDeleted)},
		}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, hookline.ErrRegistrationNotFound
		}

		return nil, fmt.Errorf("hookline/mongo: find by secret: %w", err)
	}

	return fromRegistrationModel(&m)
}
