package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/hookline/hookline/delivery"
	"github.com/hookline/hookline/event"
	"github.com/hookline/hookline/id"
)

// jobModel is the JSON representation stored in Redis, keyed by event ID.
type jobModel struct {
	EventID         string            `json:"event_id"`
	RegistrationID  string            `json:"registration_id,omitempty"`
	TenantID        string            `json:"tenant_id"`
	Direction       string            `json:"direction"`
	Provider        string            `json:"provider,omitempty"`
	EventType       string            `json:"event_type"`
	URL             string            `json:"url,omitempty"`
	Secret          string            `json:"secret,omitempty"`
	Headers         map[string]string `json:"headers,omitempty"`
	Payload         json.RawMessage   `json:"payload,omitempty"`
	PreviousPayload json.RawMessage   `json:"previous_payload,omitempty"`
	NextAttemptAt   time.Time         `json:"next_attempt_at"`
	EnqueuedAt      time.Time         `json:"enqueued_at"`
}

func toJobModel(j *delivery.Job) *jobModel {
	m := &jobModel{
		EventID:         j.EventID.String(),
		TenantID:        j.TenantID,
		Direction:       string(j.Direction),
		Provider:        j.Provider,
		EventType:       j.EventType,
		URL:             j.URL,
		Secret:          j.Secret,
		Headers:         j.Headers,
		Payload:         j.Payload,
		PreviousPayload: j.PreviousPayload,
		NextAttemptAt:   j.NextAttemptAt,
		EnqueuedAt:      j.EnqueuedAt,
	}
	if !j.RegistrationID.IsNil() {
		m.RegistrationID = j.RegistrationID.String()
	}
	return m
}

func fromJobModel(m *jobModel) (*delivery.Job, error) {
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
	return &delivery.Job{
		EventID:         evtID,
		RegistrationID:  regID,
		TenantID:        m.TenantID,
		Direction:       event.Direction(m.Direction),
		Provider:        m.Provider,
		EventType:       m.EventType,
		URL:             m.URL,
		Secret:          m.Secret,
		Headers:         m.Headers,
		Payload:         m.Payload,
		PreviousPayload: m.PreviousPayload,
		NextAttemptAt:   m.NextAttemptAt,
		EnqueuedAt:      m.EnqueuedAt,
	}, nil
}

// dequeueScript atomically claims due jobs from the pending sorted set.
// KEYS[1] = hookline:z:job:pending
// ARGV[1] = current unix timestamp (score threshold)
// ARGV[2] = limit
var dequeueScript = goredis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
if #ids == 0 then return {} end
for i, id in ipairs(ids) do
    redis.call('ZREM', KEYS[1], id)
end
return ids
`)

// EnqueueJob queues a job. The record and the pending score are both written
// with NX semantics, so enqueueing an already-queued event is a no-op.
func (s *Store) EnqueueJob(ctx context.Context, j *delivery.Job) error {
	return s.EnqueueJobs(ctx, []*delivery.Job{j})
}

func (s *Store) EnqueueJobs(ctx context.Context, js []*delivery.Job) error {
	if len(js) == 0 {
		return nil
	}

	pipe := s.rdb.Pipeline()
	for _, j := range js {
		m := toJobModel(j)
		raw, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("hookline/redis: enqueue marshal: %w", err)
		}
		pipe.SetNX(ctx, entityKey(prefixJob, m.EventID), raw, 0)
		pipe.ZAddNX(ctx, zJobPending, goredis.Z{Score: scoreFromTime(m.NextAttemptAt), Member: m.EventID})
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("hookline/redis: enqueue jobs: %w", err)
	}
	return nil
}

// DequeueJobs claims due jobs via the Lua script. Claimed jobs are removed
// from the pending set but keep their record until RemoveJob or Reschedule.
func (s *Store) DequeueJobs(ctx context.Context, limit int) ([]*delivery.Job, error) {
	nowScore := fmt.Sprintf("%f", scoreFromTime(now()))
	result, err := dequeueScript.Run(ctx, s.rdb, []string{zJobPending}, nowScore, limit).StringSlice()
	if err != nil {
		if isRedisNil(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("hookline/redis: dequeue script: %w", err)
	}
	if len(result) == 0 {
		return nil, nil
	}

	jobs := make([]*delivery.Job, 0, len(result))
	for _, evtID := range result {
		var m jobModel
		if err := s.getEntity(ctx, entityKey(prefixJob, evtID), &m); err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, fmt.Errorf("hookline/redis: dequeue get: %w", err)
		}
		j, err := fromJobModel(&m)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}

	return jobs, nil
}

func (s *Store) Reschedule(ctx context.Context, j *delivery.Job) error {
	m := toJobModel(j)
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("hookline/redis: reschedule marshal: %w", err)
	}

	pipe := s.rdb.Pipeline()
	pipe.Set(ctx, entityKey(prefixJob, m.EventID), raw, 0)
	pipe.ZAdd(ctx, zJobPending, goredis.Z{Score: scoreFromTime(m.NextAttemptAt), Member: m.EventID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("hookline/redis: reschedule: %w", err)
	}
	return nil
}

func (s *Store) RemoveJob(ctx context.Context, evtID id.ID) error {
	pipe := s.rdb.Pipeline()
	pipe.Del(ctx, entityKey(prefixJob, evtID.String()))
	pipe.ZRem(ctx, zJobPending, evtID.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("hookline/redis: remove job: %w", err)
	}
	return nil
}

func (s *Store) CountPendingJobs(ctx context.Context) (int64, error) {
	count, err := s.rdb.ZCard(ctx, zJobPending).Result()
	if err != nil {
		return 0, fmt.Errorf("hookline/redis: count pending jobs: %w", err)
	}
	return count, nil
}
