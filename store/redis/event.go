package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/hookline/hookline"
	"github.com/hookline/hookline/event"
	"github.com/hookline/hookline/id"
	"github.com/hookline/hookline/internal/entity"
)

// eventModel is the JSON representation stored in Redis.
type eventModel struct {
	ID             string            `json:"id"`
	Direction      string            `json:"direction"`
	TenantID       string            `json:"tenant_id"`
	RegistrationID string            `json:"registration_id,omitempty"`
	Provider       string            `json:"provider,omitempty"`
	Type           string            `json:"type"`
	Payload        json.RawMessage   `json:"payload,omitempty"`
	Headers        map[string]string `json:"headers,omitempty"`
	SourceIP       string            `json:"source_ip,omitempty"`
	Status         string            `json:"status"`
	AttemptCount   int               `json:"attempt_count"`
	NextRetryAt    *time.Time        `json:"next_retry_at,omitempty"`
	ResponseStatus int               `json:"response_status,omitempty"`
	ResponseBody   string            `json:"response_body,omitempty"`
	ErrorMessage   string            `json:"error_message,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

func toEventModel(evt *event.Event) *eventModel {
	m := &eventModel{
		ID:             evt.ID.String(),
		Direction:      string(evt.Direction),
		TenantID:       evt.TenantID,
		Provider:       evt.Provider,
		Type:           evt.Type,
		Payload:        evt.Payload,
		Headers:        evt.Headers,
		SourceIP:       evt.SourceIP,
		Status:         string(evt.Status),
		AttemptCount:   evt.AttemptCount,
		NextRetryAt:    evt.NextRetryAt,
		ResponseStatus: evt.ResponseStatus,
		ResponseBody:   evt.ResponseBody,
		ErrorMessage:   evt.ErrorMessage,
		CreatedAt:      evt.CreatedAt,
		UpdatedAt:      evt.UpdatedAt,
	}
	if !evt.RegistrationID.IsNil() {
		m.RegistrationID = evt.RegistrationID.String()
	}
	return m
}

func fromEventModel(m *eventModel) (*event.Event, error) {
	evtID, err := id.ParseEventID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse event ID %q: %w", m.ID, err)
	}
	regID := id.Nil
	if m.RegistrationID != "" {
		regID, err = id.ParseRegistrationID(m.RegistrationID)
		if err != nil {
			return nil, fmt.Errorf("parse registration ID %q: %w", m.RegistrationID, err)
		}
	}
	return &event.Event{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:             evtID,
		Direction:      event.Direction(m.Direction),
		TenantID:       m.TenantID,
		RegistrationID: regID,
		Provider:       m.Provider,
		Type:           m.Type,
		Payload:        m.Payload,
		Headers:        m.Headers,
		SourceIP:       m.SourceIP,
		Status:         event.Status(m.Status),
		AttemptCount:   m.AttemptCount,
		NextRetryAt:    m.NextRetryAt,
		ResponseStatus: m.ResponseStatus,
		ResponseBody:   m.ResponseBody,
		ErrorMessage:   m.ErrorMessage,
	}, nil
}

func (s *Store) CreateEvent(ctx context.Context, evt *event.Event) error {
	if evt.Status == "" {
		evt.Status = event.StatusPending
	}
	m := toEventModel(evt)
	key := entityKey(prefixEvent, m.ID)

	if err := s.setEntity(ctx, key, m); err != nil {
		return fmt.Errorf("hookline/redis: create event: %w", err)
	}

	pipe := s.rdb.Pipeline()
	pipe.ZAdd(ctx, zEventAll, goredis.Z{Score: scoreFromTime(m.CreatedAt), Member: m.ID})
	if m.TenantID != "" {
		pipe.ZAdd(ctx, zEventTenant+m.TenantID, goredis.Z{Score: scoreFromTime(m.CreatedAt), Member: m.ID})
	}
	if m.RegistrationID != "" {
		pipe.ZAdd(ctx, zEventReg+m.RegistrationID, goredis.Z{Score: scoreFromTime(m.CreatedAt), Member: m.ID})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("hookline/redis: create event indexes: %w", err)
	}
	return nil
}

func (s *Store) GetEvent(ctx context.Context, evtID id.ID) (*event.Event, error) {
	var m eventModel
	if err := s.getEntity(ctx, entityKey(prefixEvent, evtID.String()), &m); err != nil {
		if isNotFound(err) {
			return nil, hookline.ErrEventNotFound
		}
		return nil, fmt.Errorf("hookline/redis: get event: %w", err)
	}
	return fromEventModel(&m)
}

// transition reads the event, checks the status change is legal, applies
// mutate and writes the record back.
func (s *Store) transition(ctx context.Context, evtID id.ID, to event.Status, retry bool, mutate func(*eventModel)) error {
	key := entityKey(prefixEvent, evtID.String())

	var m eventModel
	if err := s.getEntity(ctx, key, &m); err != nil {
		if isNotFound(err) {
			return hookline.ErrEventNotFound
		}
		return fmt.Errorf("hookline/redis: transition get: %w", err)
	}

	if !event.CanTransition(event.Status(m.Status), to, retry) {
		return hookline.ErrInvalidTransition
	}

	m.Status = string(to)
	mutate(&m)
	m.UpdatedAt = now()

	if err := s.setEntity(ctx, key, &m); err != nil {
		return fmt.Errorf("hookline/redis: transition update: %w", err)
	}
	return nil
}

func (s *Store) MarkProcessing(ctx context.Context, evtID id.ID) error {
	return s.transition(ctx, evtID, event.StatusProcessing, false, func(_ *eventModel) {})
}

func (s *Store) MarkCompleted(ctx context.Context, evtID id.ID, statusCode int, body string) error {
	return s.transition(ctx, evtID, event.StatusCompleted, false, func(m *eventModel) {
		m.AttemptCount++
		m.ResponseStatus = statusCode
		m.ResponseBody = body
		m.ErrorMessage = ""
		m.NextRetryAt = nil
	})
}

func (s *Store) MarkFailed(ctx context.Context, evtID id.ID, errMsg string, attempts, statusCode int) error {
	return s.transition(ctx, evtID, event.StatusFailed, false, func(m *eventModel) {
		m.AttemptCount = attempts
		m.ErrorMessage = errMsg
		m.ResponseStatus = statusCode
		m.NextRetryAt = nil
	})
}

func (s *Store) ScheduleRetry(ctx context.Context, evtID id.ID, attempts int, nextAt time.Time, errMsg string, statusCode int) error {
	// failed → pending is only legal here, as the manual retry path.
	evt, err := s.GetEvent(ctx, evtID)
	if err != nil {
		return err
	}
	retry := evt.Status == event.StatusFailed

	return s.transition(ctx, evtID, event.StatusPending, retry, func(m *eventModel) {
		m.AttemptCount = attempts
		m.NextRetryAt = &nextAt
		if errMsg != "" {
			m.ErrorMessage = errMsg
		}
		if statusCode != 0 {
			m.ResponseStatus = statusCode
		}
	})
}

// matchEventModel applies the non-time ListOpts filters.
func matchEventModel(m *eventModel, opts event.ListOpts) bool {
	if opts.Direction != "" && m.Direction != string(opts.Direction) {
		return false
	}
	if opts.Provider != "" && m.Provider != opts.Provider {
		return false
	}
	if opts.Type != "" && m.Type != opts.Type {
		return false
	}
	if opts.Status != nil && m.Status != string(*opts.Status) {
		return false
	}
	return true
}

// listEventsByIndex loads events for the IDs of a sorted set index, applying
// the score range for From/To and the remaining filters in memory.
func (s *Store) listEventsByIndex(ctx context.Context, zKey string, opts event.ListOpts) ([]*event.Event, error) {
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
		return nil, fmt.Errorf("hookline/redis: list events: %w", err)
	}

	result := make([]*event.Event, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- { // reverse for DESC order
		var m eventModel
		if err := s.getEntity(ctx, entityKey(prefixEvent, ids[i]), &m); err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, err
		}
		if !matchEventModel(&m, opts) {
			continue
		}
		evt, err := fromEventModel(&m)
		if err != nil {
			return nil, err
		}
		result = append(result, evt)
	}

	return applyPagination(result, opts.Offset, opts.Limit), nil
}

func (s *Store) ListEvents(ctx context.Context, opts event.ListOpts) ([]*event.Event, error) {
	return s.listEventsByIndex(ctx, zEventAll, opts)
}

func (s *Store) ListEventsByRegistration(ctx context.Context, regID id.ID, opts event.ListOpts) ([]*event.Event, error) {
	return s.listEventsByIndex(ctx, zEventReg+regID.String(), opts)
}

func (s *Store) DeliveryStats(ctx context.Context, regID id.ID, since time.Time) (int64, int64, error) {
	ids, err := s.rdb.ZRange(ctx, zEventReg+regID.String(), 0, -1).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("hookline/redis: delivery stats: %w", err)
	}

	var completed, failed int64
	for _, entryID := range ids {
		var m eventModel
		if err := s.getEntity(ctx, entityKey(prefixEvent, entryID), &m); err != nil {
			if isNotFound(err) {
				continue
			}
			return 0, 0, err
		}
		if m.UpdatedAt.Before(since) {
			continue
		}
		switch event.Status(m.Status) {
		case event.StatusCompleted:
			completed++
		case event.StatusFailed:
			failed++
		}
	}
	return completed, failed, nil
}
