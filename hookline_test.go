package hookline_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hookline/hookline"
	"github.com/hookline/hookline/catalog"
	"github.com/hookline/hookline/event"
	kvmemory "github.com/hookline/hookline/kv/memory"
	"github.com/hookline/hookline/registration"
	"github.com/hookline/hookline/store/memory"
)

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func ctx() context.Context { return context.Background() }

func setup(t *testing.T) (*hookline.Hookline, *memory.Store) {
	t.Helper()
	s := memory.New()
	h, err := hookline.New(
		hookline.WithStore(s),
		hookline.WithKV(kvmemory.New()),
	)
	if err != nil {
		t.Fatal(err)
	}
	return h, s
}

func registerType(t *testing.T, h *hookline.Hookline, name string) {
	t.Helper()
	_, err := h.RegisterEventType(ctx(), catalog.WebhookDefinition{
		Name: name,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func createRegistration(t *testing.T, h *hookline.Hookline, tenantID string, patterns []string) *registration.Registration {
	t.Helper()
	reg, err := h.Registrations().Register(ctx(), registration.Input{
		TenantID: tenantID,
		URL:      "https://example.com/webhook",
		Events:   patterns,
	})
	if err != nil {
		t.Fatal(err)
	}
	return reg
}

func TestTriggerHappyPath(t *testing.T) {
	h, s := setup(t)

	registerType(t, h, "invoice.created")
	createRegistration(t, h, "t1", []string{"invoice.*"})
	createRegistration(t, h, "t1", []string{"*"})

	err := h.Trigger(ctx(), hookline.TriggerInput{
		TenantID:  "t1",
		EventType: "invoice.created",
		Data:      map[string]any{"amount": 100},
	})
	if err != nil {
		t.Fatal(err)
	}

	// 2 registrations matched, one event and one job each.
	pending, _ := s.CountPendingJobs(ctx())
	if pending != 2 {
		t.Fatalf("expected 2 pending jobs, got %d", pending)
	}

	events, _ := s.ListEvents(ctx(), event.ListOpts{})
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	for _, evt := range events {
		if evt.Status != event.StatusPending {
			t.Fatalf("expected pending, got %s", evt.Status)
		}
		if evt.Direction != event.DirectionOutbound {
			t.Fatalf("expected outbound, got %s", evt.Direction)
		}
	}
}

func TestTriggerJobsCarryDestination(t *testing.T) {
	h, s := setup(t)

	registerType(t, h, "invoice.created")
	reg := createRegistration(t, h, "t1", []string{"*"})

	err := h.Trigger(ctx(), hookline.TriggerInput{
		TenantID:  "t1",
		EventType: "invoice.created",
		Data:      map[string]any{"amount": 100},
	})
	if err != nil {
		t.Fatal(err)
	}

	jobs, err := s.DequeueJobs(ctx(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected 1 job, got %d", len(jobs))
	}
	if jobs[0].URL != "https://example.com/webhook" {
		t.Fatalf("job url: got %q", jobs[0].URL)
	}
	if jobs[0].Secret != reg.Secret {
		t.Fatal("job secret should match the registration's signing secret")
	}
}

func TestTriggerUnknownEventType(t *testing.T) {
	h, _ := setup(t)

	err := h.Trigger(ctx(), hookline.TriggerInput{
		TenantID:  "t1",
		EventType: "does.not.exist",
		Data:      map[string]any{},
	})
	if !errors.Is(err, hookline.ErrEventTypeNotFound) {
		t.Fatalf("expected ErrEventTypeNotFound, got %v", err)
	}
}

func TestTriggerDeprecatedEventType(t *testing.T) {
	h, _ := setup(t)

	registerType(t, h, "old.event")

	if err := h.Catalog().DeleteType(ctx(), "old.event"); err != nil {
		t.Fatal(err)
	}

	err := h.Trigger(ctx(), hookline.TriggerInput{
		TenantID:  "t1",
		EventType: "old.event",
		Data:      map[string]any{},
	})
	if !errors.Is(err, hookline.ErrEventTypeDeprecated) {
		t.Fatalf("expected ErrEventTypeDeprecated, got %v", err)
	}
}

func TestTriggerSchemaValidationFailure(t *testing.T) {
	h, _ := setup(t)

	_, err := h.RegisterEventType(ctx(), catalog.WebhookDefinition{
		Name: "validated.event",
		Schema: mustJSON(map[string]any{
			"type": "object",
			"properties": map[string]any{
				"amount": map[string]any{"type": "number"},
			},
			"required": []any{"amount"},
		}),
	})
	if err != nil {
		t.Fatal(err)
	}

	// Missing required field.
	err = h.Trigger(ctx(), hookline.TriggerInput{
		TenantID:  "t1",
		EventType: "validated.event",
		Data:      map[string]any{"other": "value"},
	})
	if !errors.Is(err, hookline.ErrPayloadValidationFailed) {
		t.Fatalf("expected ErrPayloadValidationFailed, got %v", err)
	}
}

func TestTriggerSchemaValidationSuccess(t *testing.T) {
	h, _ := setup(t)

	_, err := h.RegisterEventType(ctx(), catalog.WebhookDefinition{
		Name: "validated.event",
		Schema: mustJSON(map[string]any{
			"type": "object",
			"properties": map[string]any{
				"amount": map[string]any{"type": "number"},
			},
			"required": []any{"amount"},
		}),
	})
	if err != nil {
		t.Fatal(err)
	}

	createRegistration(t, h, "t1", []string{"validated.event"})

	err = h.Trigger(ctx(), hookline.TriggerInput{
		TenantID:  "t1",
		EventType: "validated.event",
		Data:      map[string]any{"amount": 42.5},
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestTriggerNoMatchingRegistrations(t *testing.T) {
	h, s := setup(t)

	registerType(t, h, "invoice.created")
	// No registrations created.

	err := h.Trigger(ctx(), hookline.TriggerInput{
		TenantID:  "t1",
		EventType: "invoice.created",
		Data:      map[string]any{},
	})
	if err != nil {
		t.Fatal(err)
	}

	// Nothing persisted, nothing queued.
	pending, _ := s.CountPendingJobs(ctx())
	if pending != 0 {
		t.Fatalf("expected 0 pending jobs, got %d", pending)
	}
}

func TestTriggerPausedRegistrationExcluded(t *testing.T) {
	h, s := setup(t)

	registerType(t, h, "invoice.created")
	reg := createRegistration(t, h, "t1", []string{"*"})

	if err := h.Pause(ctx(), reg.ID); err != nil {
		t.Fatal(err)
	}

	err := h.Trigger(ctx(), hookline.TriggerInput{
		TenantID:  "t1",
		EventType: "invoice.created",
		Data:      map[string]any{},
	})
	if err != nil {
		t.Fatal(err)
	}

	pending, _ := s.CountPendingJobs(ctx())
	if pending != 0 {
		t.Fatalf("expected paused registration to be skipped, got %d jobs", pending)
	}
}

func TestTriggerIntegrationScoping(t *testing.T) {
	h, s := setup(t)

	registerType(t, h, "invoice.created")

	_, err := h.Registrations().Register(ctx(), registration.Input{
		TenantID:      "t1",
		IntegrationID: "quickbooks",
		URL:           "https://example.com/qb",
		Events:        []string{"*"},
	})
	if err != nil {
		t.Fatal(err)
	}

	_, err = h.Registrations().Register(ctx(), registration.Input{
		TenantID:      "t1",
		IntegrationID: "zoho",
		URL:           "https://example.com/zoho",
		Events:        []string{"*"},
	})
	if err != nil {
		t.Fatal(err)
	}

	err = h.Trigger(ctx(), hookline.TriggerInput{
		TenantID:      "t1",
		IntegrationID: "quickbooks",
		EventType:     "invoice.created",
		Data:          map[string]any{},
	})
	if err != nil {
		t.Fatal(err)
	}

	pending, _ := s.CountPendingJobs(ctx())
	if pending != 1 {
		t.Fatalf("expected fan-out limited to 1 integration, got %d", pending)
	}
}

func TestRetryFailedEvent(t *testing.T) {
	h, s := setup(t)

	registerType(t, h, "invoice.created")
	createRegistration(t, h, "t1", []string{"*"})

	err := h.Trigger(ctx(), hookline.TriggerInput{
		TenantID:  "t1",
		EventType: "invoice.created",
		Data:      map[string]any{},
	})
	if err != nil {
		t.Fatal(err)
	}

	events, _ := s.ListEvents(ctx(), event.ListOpts{})
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	evtID := events[0].ID

	// Drive the event to failed through the legal transitions.
	if err := s.MarkProcessing(ctx(), evtID); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkFailed(ctx(), evtID, "boom", 3, 500); err != nil {
		t.Fatal(err)
	}
	if err := s.RemoveJob(ctx(), evtID); err != nil {
		t.Fatal(err)
	}

	if err := h.Retry(ctx(), evtID); err != nil {
		t.Fatal(err)
	}

	got, _ := s.GetEvent(ctx(), evtID)
	if got.Status != event.StatusPending {
		t.Fatalf("expected pending after retry, got %s", got.Status)
	}

	pending, _ := s.CountPendingJobs(ctx())
	if pending != 1 {
		t.Fatalf("expected re-queued job, got %d", pending)
	}
}

func TestRetryNonFailedEvent(t *testing.T) {
	h, s := setup(t)

	registerType(t, h, "invoice.created")
	createRegistration(t, h, "t1", []string{"*"})

	err := h.Trigger(ctx(), hookline.TriggerInput{
		TenantID:  "t1",
		EventType: "invoice.created",
		Data:      map[string]any{},
	})
	if err != nil {
		t.Fatal(err)
	}

	events, _ := s.ListEvents(ctx(), event.ListOpts{})
	evtID := events[0].ID

	// Still pending, not retryable.
	err = h.Retry(ctx(), evtID)
	if !errors.Is(err, hookline.ErrEventNotRetryable) {
		t.Fatalf("expected ErrEventNotRetryable, got %v", err)
	}
}

func TestNewRequiresStore(t *testing.T) {
	_, err := hookline.New(hookline.WithKV(kvmemory.New()))
	if !errors.Is(err, hookline.ErrNoStore) {
		t.Fatalf("expected ErrNoStore, got %v", err)
	}
}

func TestNewRequiresKV(t *testing.T) {
	_, err := hookline.New(hookline.WithStore(memory.New()))
	if !errors.Is(err, hookline.ErrNoKV) {
		t.Fatalf("expected ErrNoKV, got %v", err)
	}
}
