package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/hookline/hookline"
	"github.com/hookline/hookline/dlq"
	"github.com/hookline/hookline/event"
	"github.com/hookline/hookline/id"
	"github.com/hookline/hookline/internal/entity"
)

// dlqEntryModel is the JSON representation stored in Redis.
type dlqEntryModel struct {
	ID              string          `json:"id"`
	EventID         string          `json:"event_id"`
	RegistrationID  string          `json:"registration_id,omitempty"`
	Direction       string          `json:"direction"`
	Provider        string          `json:"provider,omitempty"`
	EventType       string          `json:"event_type"`
	TenantID        string          `json:"tenant_id"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	PreviousPayload json.RawMessage `json:"previous_payload,omitempty"`
	Error           string          `json:"error"`
	AttemptCount    int             `json:"attempt_count"`
	LastStatusCode  int             `json:"last_status_code"`
	ReplayedAt      *time.Time      `json:"replayed_at,omitempty"`
	FailedAt        time.Time       `json:"failed_at"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func toDLQEntryModel(e *dlq.Entry) *dlqEntryModel {
	m := &dlqEntryModel{
		ID:              e.ID.String(),
		EventID:         e.EventID.String(),
		Direction:       string(e.Direction),
		Provider:        e.Provider,
		EventType:       e.EventType,
		TenantID:        e.TenantID,
		Payload:         e.Payload,
		PreviousPayload: e.PreviousPayload,
		Error:           e.Error,
		AttemptCount:    e.AttemptCount,
		LastStatusCode:  e.LastStatusCode,
		ReplayedAt:      e.ReplayedAt,
		FailedAt:        e.FailedAt,
		CreatedAt:       e.CreatedAt,
		UpdatedAt:       e.UpdatedAt,
	}
	if !e.RegistrationID.IsNil() {
		m.RegistrationID = e.RegistrationID.String()
	}
	return m
}

func fromDLQEntryModel(m *dlqEntryModel) (*dlq.Entry, error) {
	dlqID, err := id.ParseDLQID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse DLQ ID %q: %w", m.ID, err)
	}
	evtID, err := id.ParseEventID(m.EventID)
	if err != nil {
		return nil, fmt.Errorf("parse event ID %q: %w", m.EventID, err)
	}
	regID := id.Nil
	if m.RegistrationID != "" {
		regID, err = id.ParseRegistrationID(m.RegistrationID)
		if err != nil {
			return nil, fmt.Errorf("parse registration ID %q: %w", m.RegistrationID, err)
		}
	}
	return &dlq.Entry{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:              dlqID,
		EventID:         evtID,
		RegistrationID:  regID,
		Direction:       event.Direction(m.Direction),
		Provider:        m.Provider,
		EventType:       m.EventType,
		TenantID:        m.TenantID,
		Payload:         m.Payload,
		PreviousPayload: m.PreviousPayload,
		Error:           m.Error,
		AttemptCount:    m.AttemptCount,
		LastStatusCode:  m.LastStatusCode,
		ReplayedAt:      m.ReplayedAt,
		FailedAt:        m.FailedAt,
	}, nil
}

func (s *Store) Push(ctx context.Context, entry *dlq.Entry) error {
	m := toDLQEntryModel(entry)
	key := entityKey(prefixDLQ, m.ID)

	if err := s.setEntity(ctx, key, m); err != nil {
		return fmt.Errorf("hookline/redis: push dlq: %w", err)
	}

	pipe := s.rdb.Pipeline()
	pipe.ZAdd(ctx, zDLQAll, goredis.Z{Score: scoreFromTime(m.FailedAt), Member: m.ID})
	if m.TenantID != "" {
		pipe.ZAdd(ctx, zDLQTenant+m.TenantID, goredis.Z{Score: scoreFromTime(m.FailedAt), Member: m.ID})
	}
	if m.RegistrationID != "" {
		pipe.ZAdd(ctx, zDLQReg+m.RegistrationID, goredis.Z{Score: scoreFromTime(m.FailedAt), Member: m.ID})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("hookline/redis: push dlq indexes: %w", err)
	}
	return nil
}

func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	zKey := zDLQAll
	if opts.TenantID != "" {
		zKey = zDLQTenant + opts.TenantID
	}
	if opts.RegistrationID != nil {
		zKey = zDLQReg + opts.RegistrationID.String()
	}

	minScore := math.Inf(-1)
	maxScore := math.Inf(1)
	if opts.From != nil {
		minScore = scoreFromTime(*opts.From)
	}
	if opts.To != nil {
		maxScore = scoreFromTime(*opts.To)
	}

	ids, err := s.zRangeByScoreIDs(ctx, zKey, minScore, maxScore)
	if err != nil {
		return nil, fmt.Errorf("hookline/redis: list dlq: %w", err)
	}

	result := make([]*dlq.Entry, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- { // reverse for DESC order
		var m dlqEntryModel
		if err := s.getEntity(ctx, entityKey(prefixDLQ, ids[i]), &m); err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, err
		}
		entry, err := fromDLQEntryModel(&m)
		if err != nil {
			return nil, err
		}
		result = append(result, entry)
	}

	return applyPagination(result, opts.Offset, opts.Limit), nil
}

func (s *Store) GetDLQ(ctx context.Context, dlqID id.ID) (*dlq.Entry, error) {
	var m dlqEntryModel
	if err := s.getEntity(ctx, entityKey(prefixDLQ, dlqID.String()), &m); err != nil {
		if isNotFound(err) {
			return nil, hookline.ErrDLQNotFound
		}
		return nil, fmt.Errorf("hookline/redis: get dlq: %w", err)
	}
	return fromDLQEntryModel(&m)
}

func (s *Store) MarkReplayed(ctx context.Context, dlqID id.ID, at time.Time) error {
	key := entityKey(prefixDLQ, dlqID.String())

	var m dlqEntryModel
	if err := s.getEntity(ctx, key, &m); err != nil {
		if isNotFound(err) {
			return hookline.ErrDLQNotFound
		}
		return fmt.Errorf("hookline/redis: mark replayed get: %w", err)
	}

	m.ReplayedAt = &at
	m.UpdatedAt = now()

	if err := s.setEntity(ctx, key, &m); err != nil {
		return fmt.Errorf("hookline/redis: mark replayed: %w", err)
	}
	return nil
}

func (s *Store) Purge(ctx context.Context, before time.Time) (int64, error) {
	maxScore := scoreFromTime(before)
	ids, err := s.zRangeByScoreIDs(ctx, zDLQAll, math.Inf(-1), maxScore)
	if err != nil {
		return 0, fmt.Errorf("hookline/redis: purge list: %w", err)
	}

	var count int64
	for _, entryID := range ids {
		var m dlqEntryModel
		if err := s.getEntity(ctx, entityKey(prefixDLQ, entryID), &m); err != nil {
			if isNotFound(err) {
				continue
			}
			return count, err
		}

		if err := s.deleteDLQEntry(ctx, entryID, m.TenantID, m.RegistrationID); err != nil {
			return count, err
		}
		count++
	}

	return count, nil
}

func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	count, err := s.rdb.ZCard(ctx, zDLQAll).Result()
	if err != nil {
		return 0, fmt.Errorf("hookline/redis: count dlq: %w", err)
	}
	return count, nil
}

// deleteDLQEntry removes a DLQ entry and its index entries.
func (s *Store) deleteDLQEntry(ctx context.Context, entryID, tenantID, registrationID string) error {
	pipe := s.rdb.Pipeline()
	pipe.Del(ctx, entityKey(prefixDLQ, entryID))
	pipe.ZRem(ctx, zDLQAll, entryID)
	if tenantID != "" {
		pipe.ZRem(ctx, zDLQTenant+tenantID, entryID)
	}
	if registrationID != "" {
		pipe.ZRem(ctx, zDLQReg+registrationID, entryID)
	}
	_, err := pipe.Exec(ctx)
	return err
}
