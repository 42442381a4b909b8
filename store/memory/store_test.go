package memory_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hookline/hookline"
	"github.com/hookline/hookline/catalog"
	"github.com/hookline/hookline/delivery"
	"github.com/hookline/hookline/dlq"
	"github.com/hookline/hookline/event"
	"github.com/hookline/hookline/id"
	"github.com/hookline/hookline/internal/entity"
	"github.com/hookline/hookline/registration"
	"github.com/hookline/hookline/store/memory"
)

func ctx() context.Context { return context.Background() }

func newRegistration(tenantID string, events ...string) *registration.Registration {
	return &registration.Registration{
		Entity:   entity.New(),
		ID:       id.NewRegistrationID(),
		TenantID: tenantID,
		URL:      "https://example.com/webhook",
		Secret:   "whsec_secret",
		Events:   events,
		Status:   registration.StatusActive,
	}
}

func newEvent(regID id.ID) *event.Event {
	return &event.Event{
		Entity:         entity.New(),
		ID:             id.NewEventID(),
		Direction:      event.DirectionOutbound,
		TenantID:       "tenant-1",
		RegistrationID: regID,
		Type:           "invoice.created",
		Payload:        json.RawMessage(`{"amount":100}`),
		Status:         event.StatusPending,
	}
}

func newJob(evtID, regID id.ID) *delivery.Job {
	return &delivery.Job{
		EventID:        evtID,
		RegistrationID: regID,
		TenantID:       "tenant-1",
		Direction:      event.DirectionOutbound,
		EventType:      "invoice.created",
		Payload:        json.RawMessage(`{"amount":100}`),
		NextAttemptAt:  time.Now().UTC(),
		EnqueuedAt:     time.Now().UTC(),
	}
}

// ──────────────────────────────────────────────────
// registration.Store
// ──────────────────────────────────────────────────

func TestRegistrationCRUD(t *testing.T) {
	s := memory.New()

	reg := newRegistration("tenant-1", "invoice.*")
	if err := s.CreateRegistration(ctx(), reg); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetRegistration(ctx(), reg.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.URL != reg.URL {
		t.Fatalf("URL: got %q, want %q", got.URL, reg.URL)
	}

	got.URL = "https://example.com/v2"
	if err := s.UpdateRegistration(ctx(), got); err != nil {
		t.Fatal(err)
	}

	got, _ = s.GetRegistration(ctx(), reg.ID)
	if got.URL != "https://example.com/v2" {
		t.Fatal("update did not persist")
	}

	if _, err := s.GetRegistration(ctx(), id.NewRegistrationID()); !errors.Is(err, hookline.ErrRegistrationNotFound) {
		t.Fatalf("expected ErrRegistrationNotFound, got %v", err)
	}
}

func TestResolveMatchesSubscriptions(t *testing.T) {
	s := memory.New()

	all := newRegistration("tenant-1", "*")
	invoices := newRegistration("tenant-1", "invoice.*")
	payments := newRegistration("tenant-1", "payment.settled")
	paused := newRegistration("tenant-1", "invoice.*")
	paused.Status = registration.StatusPaused
	otherTenant := newRegistration("tenant-2", "invoice.*")

	for _, reg := range []*registration.Registration{all, invoices, payments, paused, otherTenant} {
		if err := s.CreateRegistration(ctx(), reg); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.Resolve(ctx(), "tenant-1", "", "invoice.created")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 registrations, got %d", len(got))
	}
}

func TestResolveFiltersByIntegration(t *testing.T) {
	s := memory.New()

	zoho := newRegistration("tenant-1", "*")
	zoho.IntegrationID = "zoho-1"
	qb := newRegistration("tenant-1", "*")
	qb.IntegrationID = "quickbooks-1"

	s.CreateRegistration(ctx(), zoho)
	s.CreateRegistration(ctx(), qb)

	got, err := s.Resolve(ctx(), "tenant-1", "zoho-1", "invoice.created")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != zoho.ID {
		t.Fatalf("expected only the zoho registration, got %d", len(got))
	}
}

func TestFailureCounter(t *testing.T) {
	s := memory.New()

	reg := newRegistration("tenant-1", "*")
	s.CreateRegistration(ctx(), reg)

	for i := 1; i <= 3; i++ {
		n, err := s.IncrementFailureCount(ctx(), reg.ID)
		if err != nil {
			t.Fatal(err)
		}
		if n != i {
			t.Fatalf("expected count %d, got %d", i, n)
		}
	}

	if err := s.ResetFailureCount(ctx(), reg.ID); err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetRegistration(ctx(), reg.ID)
	if got.FailureCount != 0 {
		t.Fatalf("expected 0 after reset, got %d", got.FailureCount)
	}
}

func TestFindBySecret(t *testing.T) {
	s := memory.New()

	reg := newRegistration("tenant-1", "*")
	reg.Secret = "whsec_lookup"
	s.CreateRegistration(ctx(), reg)

	got, err := s.FindBySecret(ctx(), "whsec_lookup")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != reg.ID {
		t.Fatal("ID mismatch")
	}

	if _, err := s.FindBySecret(ctx(), "whsec_unknown"); !errors.Is(err, hookline.ErrRegistrationNotFound) {
		t.Fatalf("expected ErrRegistrationNotFound, got %v", err)
	}
}

func TestListRegistrationsSkipsDeleted(t *testing.T) {
	s := memory.New()

	active := newRegistration("tenant-1", "*")
	deleted := newRegistration("tenant-1", "*")
	s.CreateRegistration(ctx(), active)
	s.CreateRegistration(ctx(), deleted)
	s.SetRegistrationStatus(ctx(), deleted.ID, registration.StatusDeleted)

	got, err := s.ListRegistrations(ctx(), "tenant-1", registration.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 registration, got %d", len(got))
	}

	// But explicit status filter can see them.
	status := registration.StatusDeleted
	got, _ = s.ListRegistrations(ctx(), "tenant-1", registration.ListOpts{Status: &status})
	if len(got) != 1 {
		t.Fatalf("expected 1 deleted registration, got %d", len(got))
	}
}

// ──────────────────────────────────────────────────
// event.Store
// ──────────────────────────────────────────────────

func TestEventLifecycle(t *testing.T) {
	s := memory.New()

	evt := newEvent(id.NewRegistrationID())
	if err := s.CreateEvent(ctx(), evt); err != nil {
		t.Fatal(err)
	}

	if err := s.MarkProcessing(ctx(), evt.ID); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkCompleted(ctx(), evt.ID, 200, `{"ok":true}`); err != nil {
		t.Fatal(err)
	}

	got, _ := s.GetEvent(ctx(), evt.ID)
	if got.Status != event.StatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
	if got.AttemptCount != 1 {
		t.Fatalf("expected 1 attempt, got %d", got.AttemptCount)
	}
	if got.ResponseStatus != 200 {
		t.Fatalf("expected 200, got %d", got.ResponseStatus)
	}
}

func TestEventInvalidTransitions(t *testing.T) {
	s := memory.New()

	evt := newEvent(id.NewRegistrationID())
	s.CreateEvent(ctx(), evt)

	// pending → completed skips processing.
	if err := s.MarkCompleted(ctx(), evt.ID, 200, ""); !errors.Is(err, hookline.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	// Completed events cannot be re-claimed.
	s.MarkProcessing(ctx(), evt.ID)
	s.MarkCompleted(ctx(), evt.ID, 200, "")
	if err := s.MarkProcessing(ctx(), evt.ID); !errors.Is(err, hookline.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition on completed, got %v", err)
	}
}

func TestScheduleRetryFromFailedRequiresManualPath(t *testing.T) {
	s := memory.New()

	evt := newEvent(id.NewRegistrationID())
	s.CreateEvent(ctx(), evt)
	s.MarkProcessing(ctx(), evt.ID)
	s.MarkFailed(ctx(), evt.ID, "boom", 4, 500)

	// ScheduleRetry is the manual path and may resurrect failed events.
	if err := s.ScheduleRetry(ctx(), evt.ID, 4, time.Now().UTC(), "", 0); err != nil {
		t.Fatal(err)
	}

	got, _ := s.GetEvent(ctx(), evt.ID)
	if got.Status != event.StatusPending {
		t.Fatalf("expected pending, got %s", got.Status)
	}
	if got.AttemptCount != 4 {
		t.Fatalf("attempt history should be preserved, got %d", got.AttemptCount)
	}
}

func TestDeliveryStats(t *testing.T) {
	s := memory.New()
	regID := id.NewRegistrationID()

	// Two completed, one failed.
	for i := 0; i < 3; i++ {
		evt := newEvent(regID)
		s.CreateEvent(ctx(), evt)
		s.MarkProcessing(ctx(), evt.ID)
		if i < 2 {
			s.MarkCompleted(ctx(), evt.ID, 200, "")
		} else {
			s.MarkFailed(ctx(), evt.ID, "boom", 4, 500)
		}
	}

	completed, failed, err := s.DeliveryStats(ctx(), regID, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if completed != 2 || failed != 1 {
		t.Fatalf("expected 2/1, got %d/%d", completed, failed)
	}
}

func TestListEventsFilters(t *testing.T) {
	s := memory.New()

	inbound := newEvent(id.NewRegistrationID())
	inbound.Direction = event.DirectionInbound
	inbound.Provider = "zoho"
	outbound := newEvent(id.NewRegistrationID())

	s.CreateEvent(ctx(), inbound)
	s.CreateEvent(ctx(), outbound)

	got, err := s.ListEvents(ctx(), event.ListOpts{Direction: event.DirectionInbound})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Provider != "zoho" {
		t.Fatalf("expected 1 inbound event, got %d", len(got))
	}
}

// ──────────────────────────────────────────────────
// delivery.Store
// ──────────────────────────────────────────────────

func TestEnqueueJobDeduplicates(t *testing.T) {
	s := memory.New()

	j := newJob(id.NewEventID(), id.NewRegistrationID())
	if err := s.EnqueueJob(ctx(), j); err != nil {
		t.Fatal(err)
	}
	// Same event ID again is a no-op.
	if err := s.EnqueueJob(ctx(), newJob(j.EventID, j.RegistrationID)); err != nil {
		t.Fatal(err)
	}

	count, _ := s.CountPendingJobs(ctx())
	if count != 1 {
		t.Fatalf("expected 1 job, got %d", count)
	}
}

func TestDequeueSkipsFutureAndLocked(t *testing.T) {
	s := memory.New()

	due := newJob(id.NewEventID(), id.NewRegistrationID())
	future := newJob(id.NewEventID(), id.NewRegistrationID())
	future.NextAttemptAt = time.Now().Add(time.Hour)

	s.EnqueueJob(ctx(), due)
	s.EnqueueJob(ctx(), future)

	batch, err := s.DequeueJobs(ctx(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(batch) != 1 || batch[0].EventID != due.EventID {
		t.Fatalf("expected only the due job, got %d", len(batch))
	}

	// Dequeued jobs are locked until rescheduled or removed.
	batch, _ = s.DequeueJobs(ctx(), 10)
	if len(batch) != 0 {
		t.Fatalf("expected no jobs while locked, got %d", len(batch))
	}
}

func TestRescheduleUnlocks(t *testing.T) {
	s := memory.New()

	j := newJob(id.NewEventID(), id.NewRegistrationID())
	s.EnqueueJob(ctx(), j)

	batch, _ := s.DequeueJobs(ctx(), 1)
	if len(batch) != 1 {
		t.Fatal("expected 1 job")
	}

	got := batch[0]
	got.NextAttemptAt = time.Now().Add(-time.Second)
	if err := s.Reschedule(ctx(), got); err != nil {
		t.Fatal(err)
	}

	batch, _ = s.DequeueJobs(ctx(), 1)
	if len(batch) != 1 {
		t.Fatal("expected job to be dequeuable after reschedule")
	}
}

func TestRemoveJob(t *testing.T) {
	s := memory.New()

	j := newJob(id.NewEventID(), id.NewRegistrationID())
	s.EnqueueJob(ctx(), j)
	s.DequeueJobs(ctx(), 1)

	if err := s.RemoveJob(ctx(), j.EventID); err != nil {
		t.Fatal(err)
	}

	count, _ := s.CountPendingJobs(ctx())
	if count != 0 {
		t.Fatalf("expected 0 jobs, got %d", count)
	}
}

func TestEnqueueJobsBatch(t *testing.T) {
	s := memory.New()

	js := []*delivery.Job{
		newJob(id.NewEventID(), id.NewRegistrationID()),
		newJob(id.NewEventID(), id.NewRegistrationID()),
		newJob(id.NewEventID(), id.NewRegistrationID()),
	}
	if err := s.EnqueueJobs(ctx(), js); err != nil {
		t.Fatal(err)
	}

	count, _ := s.CountPendingJobs(ctx())
	if count != 3 {
		t.Fatalf("expected 3 jobs, got %d", count)
	}
}

// ──────────────────────────────────────────────────
// catalog.Store
// ──────────────────────────────────────────────────

func TestCatalogUpsertByName(t *testing.T) {
	s := memory.New()

	et := &catalog.EventType{
		Entity: entity.New(),
		ID:     id.NewEventTypeID(),
		Definition: catalog.WebhookDefinition{
			Name:  "invoice.created",
			Group: "invoice",
		},
	}
	if err := s.RegisterType(ctx(), et); err != nil {
		t.Fatal(err)
	}

	// Re-registering the same name updates in place and keeps the ID.
	et2 := &catalog.EventType{
		Entity: entity.New(),
		ID:     id.NewEventTypeID(),
		Definition: catalog.WebhookDefinition{
			Name:        "invoice.created",
			Group:       "invoice",
			Description: "updated",
		},
	}
	if err := s.RegisterType(ctx(), et2); err != nil {
		t.Fatal(err)
	}
	if et2.ID != et.ID {
		t.Fatal("upsert should keep the original ID")
	}

	got, err := s.GetType(ctx(), "invoice.created")
	if err != nil {
		t.Fatal(err)
	}
	if got.Definition.Description != "updated" {
		t.Fatal("definition not updated")
	}
}

func TestCatalogDeprecation(t *testing.T) {
	s := memory.New()

	et := &catalog.EventType{
		Entity:     entity.New(),
		ID:         id.NewEventTypeID(),
		Definition: catalog.WebhookDefinition{Name: "payment.settled"},
	}
	s.RegisterType(ctx(), et)

	if err := s.DeleteType(ctx(), "payment.settled"); err != nil {
		t.Fatal(err)
	}

	types, _ := s.ListTypes(ctx(), catalog.ListOpts{})
	if len(types) != 0 {
		t.Fatal("deprecated types should be hidden by default")
	}

	types, _ = s.ListTypes(ctx(), catalog.ListOpts{IncludeDeprecated: true})
	if len(types) != 1 {
		t.Fatal("deprecated types should appear when requested")
	}
}

// ──────────────────────────────────────────────────
// dlq.Store
// ──────────────────────────────────────────────────

func TestDLQPushAndFilter(t *testing.T) {
	s := memory.New()
	regID := id.NewRegistrationID()

	for i := 0; i < 2; i++ {
		entry := &dlq.Entry{
			Entity:         entity.New(),
			ID:             id.NewDLQID(),
			EventID:        id.NewEventID(),
			RegistrationID: regID,
			TenantID:       "tenant-1",
			EventType:      "invoice.created",
			FailedAt:       time.Now().UTC(),
		}
		if err := s.Push(ctx(), entry); err != nil {
			t.Fatal(err)
		}
	}
	other := &dlq.Entry{
		Entity:         entity.New(),
		ID:             id.NewDLQID(),
		EventID:        id.NewEventID(),
		RegistrationID: id.NewRegistrationID(),
		TenantID:       "tenant-2",
		FailedAt:       time.Now().UTC(),
	}
	s.Push(ctx(), other)

	got, err := s.ListDLQ(ctx(), dlq.ListOpts{RegistrationID: &regID})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}

	got, _ = s.ListDLQ(ctx(), dlq.ListOpts{TenantID: "tenant-2"})
	if len(got) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(got))
	}
}

func TestStoreClose(t *testing.T) {
	s := memory.New()
	if err := s.Ping(ctx()); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Ping(ctx()); !errors.Is(err, hookline.ErrStoreClosed) {
		t.Fatalf("expected ErrStoreClosed, got %v", err)
	}
}
