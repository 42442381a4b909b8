// Package memory provides an in-memory Store implementation for unit testing.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hookline/hookline"
	"github.com/hookline/hookline/catalog"
	"github.com/hookline/hookline/delivery"
	"github.com/hookline/hookline/dlq"
	"github.com/hookline/hookline/event"
	"github.com/hookline/hookline/id"
	"github.com/hookline/hookline/registration"
	hookstore "github.com/hookline/hookline/store"
)

// compile-time interface check.
var _ hookstore.Store = (*Store)(nil)

// Store is an in-memory implementation of store.Store for testing.
type Store struct {
	mu sync.RWMutex

	eventTypes     map[string]*catalog.EventType         // keyed by name
	eventTypesByID map[string]*catalog.EventType         // keyed by ID string
	registrations  map[string]*registration.Registration // keyed by ID string
	events         map[string]*event.Event               // keyed by ID string
	jobs           map[string]*delivery.Job              // keyed by event ID string
	locked         map[string]bool                       // simulates SKIP LOCKED
	dlqEntries     map[string]*dlq.Entry                 // keyed by ID string

	closed bool
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		eventTypes:     make(map[string]*catalog.EventType),
		eventTypesByID: make(map[string]*catalog.EventType),
		registrations:  make(map[string]*registration.Registration),
		events:         make(map[string]*event.Event),
		jobs:           make(map[string]*delivery.Job),
		locked:         make(map[string]bool),
		dlqEntries:     make(map[string]*dlq.Entry),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Migrate is a no-op for the in-memory store.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping is a no-op for the in-memory store.
func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return hookline.ErrStoreClosed
	}
	return nil
}

// Close marks the store as closed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// ──────────────────────────────────────────────────
// catalog.Store
// ──────────────────────────────────────────────────

// RegisterType creates or updates an event type definition (upsert by name).
func (s *Store) RegisterType(_ context.Context, et *catalog.EventType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.eventTypes[et.Definition.Name]; ok {
		existing.Definition = et.Definition
		existing.UpdatedAt = time.Now().UTC()
		existing.Metadata = et.Metadata
		et.ID = existing.ID
		return nil
	}

	s.eventTypes[et.Definition.Name] = et
	s.eventTypesByID[et.ID.String()] = et
	return nil
}

// GetType returns an event type by name.
func (s *Store) GetType(_ context.Context, name string) (*catalog.EventType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	et, ok := s.eventTypes[name]
	if !ok {
		return nil, hookline.ErrEventTypeNotFound
	}
	return et, nil
}

// GetTypeByID returns an event type by its TypeID.
func (s *Store) GetTypeByID(_ context.Context, etID id.ID) (*catalog.EventType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	et, ok := s.eventTypesByID[etID.String()]
	if !ok {
		return nil, hookline.ErrEventTypeNotFound
	}
	return et, nil
}

// ListTypes returns all registered event types, optionally filtered.
func (s *Store) ListTypes(_ context.Context, opts catalog.ListOpts) ([]*catalog.EventType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*catalog.EventType, 0, len(s.eventTypes))
	for _, et := range s.eventTypes {
		if !opts.IncludeDeprecated && et.IsDeprecated {
			continue
		}
		if opts.Group != "" && et.Definition.Group != opts.Group {
			continue
		}
		result = append(result, et)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Definition.Name < result[j].Definition.Name
	})

	result = applyPagination(result, opts.Offset, opts.Limit)
	return result, nil
}

// DeleteType soft-deletes (deprecates) an event type.
func (s *Store) DeleteType(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	et, ok := s.eventTypes[name]
	if !ok {
		return hookline.ErrEventTypeNotFound
	}

	now := time.Now().UTC()
	et.IsDeprecated = true
	et.DeprecatedAt = &now
	et.UpdatedAt = now
	return nil
}

// MatchTypes returns event types matching a glob pattern.
func (s *Store) MatchTypes(_ context.Context, pattern string) ([]*catalog.EventType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*catalog.EventType
	for _, et := range s.eventTypes {
		if et.IsDeprecated {
			continue
		}
		if catalog.Match(pattern, et.Definition.Name) {
			result = append(result, et)
		}
	}
	return result, nil
}

// ──────────────────────────────────────────────────
// registration.Store
// ──────────────────────────────────────────────────

// CreateRegistration persists a new registration.
func (s *Store) CreateRegistration(_ context.Context, reg *registration.Registration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.registrations[reg.ID.String()] = reg
	return nil
}

// GetRegistration returns a registration by ID, including soft-deleted ones.
func (s *Store) GetRegistration(_ context.Context, regID id.ID) (*registration.Registration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	reg, ok := s.registrations[regID.String()]
	if !ok {
		return nil, hookline.ErrRegistrationNotFound
	}
	return reg, nil
}

// UpdateRegistration modifies an existing registration.
func (s *Store) UpdateRegistration(_ context.Context, reg *registration.Registration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.registrations[reg.ID.String()]; !ok {
		return hookline.ErrRegistrationNotFound
	}
	reg.UpdatedAt = time.Now().UTC()
	s.registrations[reg.ID.String()] = reg
	return nil
}

// ListRegistrations returns registrations for a tenant, optionally filtered.
func (s *Store) ListRegistrations(_ context.Context, tenantID string, opts registration.ListOpts) ([]*registration.Registration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*registration.Registration, 0, len(s.registrations))
	for _, reg := range s.registrations {
		if reg.TenantID != tenantID {
			continue
		}
		if opts.Status == nil && reg.Status == registration.StatusDeleted {
			continue
		}
		if opts.Status != nil && reg.Status != *opts.Status {
			continue
		}
		result = append(result, reg)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	result = applyPagination(result, opts.Offset, opts.Limit)
	return result, nil
}

// Resolve finds all active registrations subscribed to an event type.
func (s *Store) Resolve(_ context.Context, tenantID, integrationID, eventType string) ([]*registration.Registration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*registration.Registration
	for _, reg := range s.registrations {
		if reg.TenantID != tenantID || !reg.Deliverable() {
			continue
		}
		if integrationID != "" && reg.IntegrationID != integrationID {
			continue
		}
		if reg.Subscribed(eventType, catalog.Match) {
			result = append(result, reg)
		}
	}
	return result, nil
}

// SetRegistrationStatus transitions the lifecycle state.
func (s *Store) SetRegistrationStatus(_ context.Context, regID id.ID, status registration.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg, ok := s.registrations[regID.String()]
	if !ok {
		return hookline.ErrRegistrationNotFound
	}
	reg.Status = status
	reg.UpdatedAt = time.Now().UTC()
	return nil
}

// IncrementFailureCount atomically bumps the consecutive-failure counter.
func (s *Store) IncrementFailureCount(_ context.Context, regID id.ID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg, ok := s.registrations[regID.String()]
	if !ok {
		return 0, hookline.ErrRegistrationNotFound
	}
	reg.FailureCount++
	reg.UpdatedAt = time.Now().UTC()
	return reg.FailureCount, nil
}

// ResetFailureCount zeroes the consecutive-failure counter.
func (s *Store) ResetFailureCount(_ context.Context, regID id.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg, ok := s.registrations[regID.String()]
	if !ok {
		return hookline.ErrRegistrationNotFound
	}
	reg.FailureCount = 0
	reg.UpdatedAt = time.Now().UTC()
	return nil
}

// TouchDelivered records a successful delivery timestamp.
func (s *Store) TouchDelivered(_ context.Context, regID id.ID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg, ok := s.registrations[regID.String()]
	if !ok {
		return hookline.ErrRegistrationNotFound
	}
	reg.LastDeliveredAt = &at
	reg.UpdatedAt = time.Now().UTC()
	return nil
}

// FindBySecret maps an inbound signing credential back to its registration.
func (s *Store) FindBySecret(_ context.Context, secret string) (*registration.Registration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, reg := range s.registrations {
		if reg.Secret == secret && reg.Status != registration.StatusDeleted {
			return reg, nil
		}
	}
	return nil, hookline.ErrRegistrationNotFound
}

// ──────────────────────────────────────────────────
// event.Store
// ──────────────────────────────────────────────────

// copyEvent returns a shallow copy of the event.
func copyEvent(evt *event.Event) *event.Event {
	cp := *evt
	return &cp
}

// CreateEvent persists an event.
func (s *Store) CreateEvent(_ context.Context, evt *event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if evt.Status == "" {
		evt.Status = event.StatusPending
	}
	s.events[evt.ID.String()] = evt
	return nil
}

// GetEvent returns a copy of the event by ID.
func (s *Store) GetEvent(_ context.Context, evtID id.ID) (*event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	evt, ok := s.events[evtID.String()]
	if !ok {
		return nil, hookline.ErrEventNotFound
	}
	return copyEvent(evt), nil
}

// MarkProcessing transitions pending → processing.
func (s *Store) MarkProcessing(_ context.Context, evtID id.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	evt, ok := s.events[evtID.String()]
	if !ok {
		return hookline.ErrEventNotFound
	}
	if !event.CanTransition(evt.Status, event.StatusProcessing, false) {
		return hookline.ErrInvalidTransition
	}
	evt.Status = event.StatusProcessing
	evt.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkCompleted transitions processing → completed.
func (s *Store) MarkCompleted(_ context.Context, evtID id.ID, statusCode int, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	evt, ok := s.events[evtID.String()]
	if !ok {
		return hookline.ErrEventNotFound
	}
	if !event.CanTransition(evt.Status, event.StatusCompleted, false) {
		return hookline.ErrInvalidTransition
	}
	evt.Status = event.StatusCompleted
	evt.AttemptCount++
	evt.ResponseStatus = statusCode
	evt.ResponseBody = body
	evt.ErrorMessage = ""
	evt.NextRetryAt = nil
	evt.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkFailed transitions processing → failed.
func (s *Store) MarkFailed(_ context.Context, evtID id.ID, errMsg string, attempts, statusCode int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	evt, ok := s.events[evtID.String()]
	if !ok {
		return hookline.ErrEventNotFound
	}
	if !event.CanTransition(evt.Status, event.StatusFailed, false) {
		return hookline.ErrInvalidTransition
	}
	evt.Status = event.StatusFailed
	evt.AttemptCount = attempts
	evt.ErrorMessage = errMsg
	evt.ResponseStatus = statusCode
	evt.NextRetryAt = nil
	evt.UpdatedAt = time.Now().UTC()
	return nil
}

// ScheduleRetry transitions an event back to pending with a retry time.
// failed → pending is only legal here, as the manual retry path.
func (s *Store) ScheduleRetry(_ context.Context, evtID id.ID, attempts int, nextAt time.Time, errMsg string, statusCode int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	evt, ok := s.events[evtID.String()]
	if !ok {
		return hookline.ErrEventNotFound
	}
	retry := evt.Status == event.StatusFailed
	if !event.CanTransition(evt.Status, event.StatusPending, retry) {
		return hookline.ErrInvalidTransition
	}
	evt.Status = event.StatusPending
	evt.AttemptCount = attempts
	evt.NextRetryAt = &nextAt
	if errMsg != "" {
		evt.ErrorMessage = errMsg
	}
	if statusCode != 0 {
		evt.ResponseStatus = statusCode
	}
	evt.UpdatedAt = time.Now().UTC()
	return nil
}

// ListEvents returns events, optionally filtered.
func (s *Store) ListEvents(_ context.Context, opts event.ListOpts) ([]*event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*event.Event, 0, len(s.events))
	for _, evt := range s.events {
		if !matchEventOpts(evt, opts) {
			continue
		}
		result = append(result, copyEvent(evt))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	result = applyPagination(result, opts.Offset, opts.Limit)
	return result, nil
}

// ListEventsByRegistration returns events linked to a registration.
func (s *Store) ListEventsByRegistration(_ context.Context, regID id.ID, opts event.ListOpts) ([]*event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*event.Event, 0, len(s.events))
	for _, evt := range s.events {
		if evt.RegistrationID.String() != regID.String() {
			continue
		}
		if !matchEventOpts(evt, opts) {
			continue
		}
		result = append(result, copyEvent(evt))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	result = applyPagination(result, opts.Offset, opts.Limit)
	return result, nil
}

// DeliveryStats returns outcome counts for a registration since a point in time.
func (s *Store) DeliveryStats(_ context.Context, regID id.ID, since time.Time) (int64, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var completed, failed int64
	for _, evt := range s.events {
		if evt.RegistrationID.String() != regID.String() {
			continue
		}
		if evt.UpdatedAt.Before(since) {
			continue
		}
		switch evt.Status {
		case event.StatusCompleted:
			completed++
		case event.StatusFailed:
			failed++
		}
	}
	return completed, failed, nil
}

// ──────────────────────────────────────────────────
// delivery.Store
// ──────────────────────────────────────────────────

// copyJob returns a shallow copy of the job.
func copyJob(j *delivery.Job) *delivery.Job {
	cp := *j
	return &cp
}

// EnqueueJob queues a job. Duplicate event IDs are a no-op.
func (s *Store) EnqueueJob(_ context.Context, j *delivery.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[j.EventID.String()]; ok {
		return nil
	}
	s.jobs[j.EventID.String()] = j
	return nil
}

// EnqueueJobs queues multiple jobs atomically.
func (s *Store) EnqueueJobs(_ context.Context, js []*delivery.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, j := range js {
		if _, ok := s.jobs[j.EventID.String()]; ok {
			continue
		}
		s.jobs[j.EventID.String()] = j
	}
	return nil
}

// DequeueJobs fetches due jobs (concurrent-safe). Returns copies so callers
// can mutate without holding a lock.
func (s *Store) DequeueJobs(_ context.Context, limit int) ([]*delivery.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	candidates := make([]*delivery.Job, 0, len(s.jobs))

	for _, j := range s.jobs {
		if j.NextAttemptAt.After(now) {
			continue
		}
		if s.locked[j.EventID.String()] {
			continue
		}
		candidates = append(candidates, j)
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].NextAttemptAt.Before(candidates[j].NextAttemptAt)
	})

	if limit > 0 && limit < len(candidates) {
		candidates = candidates[:limit]
	}

	result := make([]*delivery.Job, 0, len(candidates))
	for _, j := range candidates {
		s.locked[j.EventID.String()] = true
		result = append(result, copyJob(j))
	}

	return result, nil
}

// Reschedule re-queues a dequeued job and releases its lock.
func (s *Store) Reschedule(_ context.Context, j *delivery.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobs[j.EventID.String()] = j
	delete(s.locked, j.EventID.String())
	return nil
}

// RemoveJob drops a job from the queue and releases its lock.
func (s *Store) RemoveJob(_ context.Context, evtID id.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.jobs, evtID.String())
	delete(s.locked, evtID.String())
	return nil
}

// CountPendingJobs returns the number of jobs awaiting attempt.
func (s *Store) CountPendingJobs(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return int64(len(s.jobs)), nil
}

// ──────────────────────────────────────────────────
// dlq.Store
// ──────────────────────────────────────────────────

// Push records a permanently failed event in the DLQ.
func (s *Store) Push(_ context.Context, entry *dlq.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.dlqEntries[entry.ID.String()] = entry
	return nil
}

// ListDLQ returns DLQ entries, optionally filtered.
func (s *Store) ListDLQ(_ context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*dlq.Entry, 0, len(s.dlqEntries))
	for _, e := range s.dlqEntries {
		if opts.TenantID != "" && e.TenantID != opts.TenantID {
			continue
		}
		if opts.RegistrationID != nil && e.RegistrationID.String() != opts.RegistrationID.String() {
			continue
		}
		if opts.From != nil && e.FailedAt.Before(*opts.From) {
			continue
		}
		if opts.To != nil && e.FailedAt.After(*opts.To) {
			continue
		}
		result = append(result, e)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].FailedAt.After(result[j].FailedAt)
	})

	result = applyPagination(result, opts.Offset, opts.Limit)
	return result, nil
}

// GetDLQ returns a DLQ entry by ID.
func (s *Store) GetDLQ(_ context.Context, dlqID id.ID) (*dlq.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.dlqEntries[dlqID.String()]
	if !ok {
		return nil, hookline.ErrDLQNotFound
	}
	return e, nil
}

// MarkReplayed records that an entry has been re-queued.
func (s *Store) MarkReplayed(_ context.Context, dlqID id.ID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.dlqEntries[dlqID.String()]
	if !ok {
		return hookline.ErrDLQNotFound
	}
	e.ReplayedAt = &at
	return nil
}

// Purge deletes DLQ entries older than a threshold.
func (s *Store) Purge(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for k, e := range s.dlqEntries {
		if e.CreatedAt.Before(before) {
			delete(s.dlqEntries, k)
			count++
		}
	}
	return count, nil
}

// CountDLQ returns the total number of DLQ entries.
func (s *Store) CountDLQ(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return int64(len(s.dlqEntries)), nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func matchEventOpts(evt *event.Event, opts event.ListOpts) bool {
	if opts.Direction != "" && evt.Direction != opts.Direction {
		return false
	}
	if opts.Provider != "" && evt.Provider != opts.Provider {
		return false
	}
	if opts.Type != "" && evt.Type != opts.Type {
		return false
	}
	if opts.Status != nil && evt.Status != *opts.Status {
		return false
	}
	if opts.From != nil && evt.CreatedAt.Before(*opts.From) {
		return false
	}
	if opts.To != nil && evt.CreatedAt.After(*opts.To) {
		return false
	}
	return true
}

func applyPagination[T any](items []*T, offset, limit int) []*T {
	if offset > 0 && offset < len(items) {
		items = items[offset:]
	} else if offset >= len(items) && offset > 0 {
		return nil
	}

	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}

	return items
}
