package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/hookline/hookline"
	"github.com/hookline/hookline/catalog"
	"github.com/hookline/hookline/id"
	"github.com/hookline/hookline/internal/entity"
	"github.com/hookline/hookline/registration"
)

// registrationModel is the JSON representation stored in Redis. The secret is
// persisted here because the entity record is the source of truth; the domain
// type strips it from public serialization.
type registrationModel struct {
	ID              string            `json:"id"`
	TenantID        string            `json:"tenant_id"`
	IntegrationID   string            `json:"integration_id"`
	URL             string            `json:"url"`
	Secret          string            `json:"secret"`
	Events          []string          `json:"events"`
	Status          string            `json:"status"`
	FailureCount    int               `json:"failure_count"`
	LastDeliveredAt *time.Time        `json:"last_delivered_at,omitempty"`
	Headers         map[string]string `json:"headers,omitempty"`
	RateLimit       int               `json:"rate_limit"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

func toRegistrationModel(reg *registration.Registration) *registrationModel {
	return &registrationModel{
		ID:              reg.ID.String(),
		TenantID:        reg.TenantID,
		IntegrationID:   reg.IntegrationID,
		URL:             reg.URL,
		Secret:          reg.Secret,
		Events:          reg.Events,
		Status:          string(reg.Status),
		FailureCount:    reg.FailureCount,
		LastDeliveredAt: reg.LastDeliveredAt,
		Headers:         reg.Headers,
		RateLimit:       reg.RateLimit,
		Metadata:        reg.Metadata,
		CreatedAt:       reg.CreatedAt,
		UpdatedAt:       reg.UpdatedAt,
	}
}

func fromRegistrationModel(m *registrationModel) (*registration.Registration, error) {
	regID, err := id.ParseRegistrationID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse registration ID %q: %w", m.ID, err)
	}
	return &registration.Registration{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:              regID,
		TenantID:        m.TenantID,
		IntegrationID:   m.IntegrationID,
		URL:             m.URL,
		Secret:          m.Secret,
		Events:          m.Events,
		Status:          registration.Status(m.Status),
		FailureCount:    m.FailureCount,
		LastDeliveredAt: m.LastDeliveredAt,
		Headers:         m.Headers,
		RateLimit:       m.RateLimit,
		Metadata:        m.Metadata,
	}, nil
}

func (s *Store) CreateRegistration(ctx context.Context, reg *registration.Registration) error {
	m := toRegistrationModel(reg)
	key := entityKey(prefixRegistration, m.ID)

	if err := s.setEntity(ctx, key, m); err != nil {
		return fmt.Errorf("hookline/redis: create registration: %w", err)
	}

	pipe := s.rdb.Pipeline()
	pipe.ZAdd(ctx, zRegTenant+m.TenantID, goredis.Z{Score: scoreFromTime(m.CreatedAt), Member: m.ID})
	if m.Secret != "" {
		pipe.Set(ctx, uniqueRegSecret+m.Secret, m.ID, 0)
	}
	if m.Status == string(registration.StatusActive) {
		pipe.SAdd(ctx, activeSetKey(m.TenantID), m.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("hookline/redis: create registration indexes: %w", err)
	}
	return nil
}

func (s *Store) GetRegistration(ctx context.Context, regID id.ID) (*registration.Registration, error) {
	var m registrationModel
	if err := s.getEntity(ctx, entityKey(prefixRegistration, regID.String()), &m); err != nil {
		if isNotFound(err) {
			return nil, hookline.ErrRegistrationNotFound
		}
		return nil, fmt.Errorf("hookline/redis: get registration: %w", err)
	}
	return fromRegistrationModel(&m)
}

func (s *Store) UpdateRegistration(ctx context.Context, reg *registration.Registration) error {
	key := entityKey(prefixRegistration, reg.ID.String())

	var existing registrationModel
	if err := s.getEntity(ctx, key, &existing); err != nil {
		if isNotFound(err) {
			return hookline.ErrRegistrationNotFound
		}
		return fmt.Errorf("hookline/redis: update registration get: %w", err)
	}

	m := toRegistrationModel(reg)
	m.CreatedAt = existing.CreatedAt
	m.UpdatedAt = now()

	if err := s.setEntity(ctx, key, m); err != nil {
		return fmt.Errorf("hookline/redis: update registration: %w", err)
	}

	pipe := s.rdb.Pipeline()
	if existing.Secret != m.Secret {
		if existing.Secret != "" {
			pipe.Del(ctx, uniqueRegSecret+existing.Secret)
		}
		if m.Secret != "" {
			pipe.Set(ctx, uniqueRegSecret+m.Secret, m.ID, 0)
		}
	}
	if m.Status == string(registration.StatusActive) {
		pipe.SAdd(ctx, activeSetKey(m.TenantID), m.ID)
	} else {
		pipe.SRem(ctx, activeSetKey(m.TenantID), m.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("hookline/redis: update registration indexes: %w", err)
	}
	return nil
}

func (s *Store) ListRegistrations(ctx context.Context, tenantID string, opts registration.ListOpts) ([]*registration.Registration, error) {
	ids, err := s.rdb.ZRange(ctx, zRegTenant+tenantID, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("hookline/redis: list registrations: %w", err)
	}

	result := make([]*registration.Registration, 0, len(ids))
	for _, entryID := range ids {
		var m registrationModel
		if err := s.getEntity(ctx, entityKey(prefixRegistration, entryID), &m); err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, err
		}
		if opts.Status != nil {
			if registration.Status(m.Status) != *opts.Status {
				continue
			}
		} else if m.Status == string(registration.StatusDeleted) {
			continue
		}
		reg, err := fromRegistrationModel(&m)
		if err != nil {
			return nil, err
		}
		result = append(result, reg)
	}

	return applyPagination(result, opts.Offset, opts.Limit), nil
}

func (s *Store) Resolve(ctx context.Context, tenantID, integrationID, eventType string) ([]*registration.Registration, error) {
	ids, err := s.rdb.SMembers(ctx, activeSetKey(tenantID)).Result()
	if err != nil {
		return nil, fmt.Errorf("hookline/redis: resolve: %w", err)
	}

	var result []*registration.Registration
	for _, entryID := range ids {
		var m registrationModel
		if err := s.getEntity(ctx, entityKey(prefixRegistration, entryID), &m); err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, err
		}
		if integrationID != "" && m.IntegrationID != integrationID {
			continue
		}
		reg, err := fromRegistrationModel(&m)
		if err != nil {
			return nil, err
		}
		if !reg.Deliverable() {
			continue
		}
		if reg.Subscribed(eventType, catalog.Match) {
			result = append(result, reg)
		}
	}
	return result, nil
}

func (s *Store) SetRegistrationStatus(ctx context.Context, regID id.ID, status registration.Status) error {
	key := entityKey(prefixRegistration, regID.String())

	var m registrationModel
	if err := s.getEntity(ctx, key, &m); err != nil {
		if isNotFound(err) {
			return hookline.ErrRegistrationNotFound
		}
		return fmt.Errorf("hookline/redis: set status get: %w", err)
	}

	m.Status = string(status)
	m.UpdatedAt = now()

	if err := s.setEntity(ctx, key, &m); err != nil {
		return fmt.Errorf("hookline/redis: set status: %w", err)
	}

	if status == registration.StatusActive {
		s.rdb.SAdd(ctx, activeSetKey(m.TenantID), m.ID)
	} else {
		s.rdb.SRem(ctx, activeSetKey(m.TenantID), m.ID)
	}
	return nil
}

// IncrementFailureCount bumps a dedicated counter key so concurrent workers
// never lose an increment, then mirrors the value into the entity record.
func (s *Store) IncrementFailureCount(ctx context.Context, regID id.ID) (int, error) {
	key := entityKey(prefixRegistration, regID.String())

	var m registrationModel
	if err := s.getEntity(ctx, key, &m); err != nil {
		if isNotFound(err) {
			return 0, hookline.ErrRegistrationNotFound
		}
		return 0, fmt.Errorf("hookline/redis: increment failures get: %w", err)
	}

	count, err := s.rdb.Incr(ctx, ctrRegFailures+regID.String()).Result()
	if err != nil {
		return 0, fmt.Errorf("hookline/redis: increment failures: %w", err)
	}

	m.FailureCount = int(count)
	m.UpdatedAt = now()
	if err := s.setEntity(ctx, key, &m); err != nil {
		return 0, fmt.Errorf("hookline/redis: increment failures update: %w", err)
	}
	return int(count), nil
}

func (s *Store) ResetFailureCount(ctx context.Context, regID id.ID) error {
	key := entityKey(prefixRegistration, regID.String())

	var m registrationModel
	if err := s.getEntity(ctx, key, &m); err != nil {
		if isNotFound(err) {
			return hookline.ErrRegistrationNotFound
		}
		return fmt.Errorf("hookline/redis: reset failures get: %w", err)
	}

	if err := s.rdb.Del(ctx, ctrRegFailures+regID.String()).Err(); err != nil {
		return fmt.Errorf("hookline/redis: reset failures: %w", err)
	}

	m.FailureCount = 0
	m.UpdatedAt = now()
	if err := s.setEntity(ctx, key, &m); err != nil {
		return fmt.Errorf("hookline/redis: reset failures update: %w", err)
	}
	return nil
}

func (s *Store) TouchDelivered(ctx context.Context, regID id.ID, at time.Time) error {
	key := entityKey(prefixRegistration, regID.String())

	var m registrationModel
	if err := s.getEntity(ctx, key, &m); err != nil {
		if isNotFound(err) {
			return hookline.ErrRegistrationNotFound
		}
		return fmt.Errorf("hookline/redis: touch delivered get: %w", err)
	}

	m.LastDeliveredAt = &at
	m.UpdatedAt = now()
	if err := s.setEntity(ctx, key, &m); err != nil {
		return fmt.Errorf("hookline/redis: touch delivered: %w", err)
	}
	return nil
}

func (s *Store) FindBySecret(ctx context.Context, secret string) (*registration.Registration, error) {
	entryID, err := s.rdb.Get(ctx, uniqueRegSecret+secret).Result()
	if err != nil {
		if isRedisNil(err) {
			return nil, hookline.ErrRegistrationNotFound
		}
		return nil, fmt.Errorf("hookline/redis: find by secret lookup: %w", err)
	}

	var m registrationModel
	if err := s.getEntity(ctx, entityKey(prefixRegistration, entryID), &m); err != nil {
		if isNotFound(err) {
			return nil, hookline.ErrRegistrationNotFound
		}
		return nil, fmt.Errorf("hookline/redis: find by secret: %w", err)
	}
	if m.Status == string(registration.StatusDeleted) {
		return nil, hookline.ErrRegistrationNotFound
	}
	return fromRegistrationModel(&m)
}
