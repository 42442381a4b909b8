package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hookline/hookline"
	"github.com/hookline/hookline/api"
	"github.com/hookline/hookline/catalog"
	"github.com/hookline/hookline/event"
	"github.com/hookline/hookline/id"
	kvmemory "github.com/hookline/hookline/kv/memory"
	"github.com/hookline/hookline/registration"
	"github.com/hookline/hookline/store/memory"
)

func ctx() context.Context { return context.Background() }

func setup(t *testing.T) (*api.Handler, *hookline.Hookline, *memory.Store) {
	t.Helper()

	s := memory.New()
	hl, err := hookline.New(
		hookline.WithStore(s),
		hookline.WithKV(kvmemory.New()),
	)
	if err != nil {
		t.Fatal(err)
	}
	return api.NewHandler(hl, nil), hl, s
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return v
}

func registerType(t *testing.T, hl *hookline.Hookline, name string) {
	t.Helper()
	_, err := hl.RegisterEventType(ctx(), catalog.WebhookDefinition{
		Name:        name,
		Description: "test event type",
	})
	if err != nil {
		t.Fatal(err)
	}
}

func createRegistration(t *testing.T, hl *hookline.Hookline, tenantID string) *registration.Registration {
	t.Helper()
	reg, err := hl.Registrations().Register(ctx(), registration.Input{
		TenantID: tenantID,
		URL:      "https://example.com/webhook",
		Events:   []string{"*"},
	})
	if err != nil {
		t.Fatal(err)
	}
	return reg
}

func TestEventTypeEndpoints(t *testing.T) {
	h, _, _ := setup(t)

	w := do(h, http.MethodPost, "/event-types", `{"name":"invoice.created","description":"An invoice was created"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", w.Code, w.Body.String())
	}

	w = do(h, http.MethodGet, "/event-types", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", w.Code)
	}
	types := decode[[]*catalog.EventType](t, w)
	if len(types) != 1 || types[0].Definition.Name != "invoice.created" {
		t.Fatalf("unexpected list result: %+v", types)
	}

	w = do(h, http.MethodGet, "/event-types/invoice.created", "")
	if w.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", w.Code)
	}

	w = do(h, http.MethodGet, "/event-types/unknown.event", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("get unknown: expected 404, got %d", w.Code)
	}

	w = do(h, http.MethodDelete, "/event-types/invoice.created", "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", w.Code)
	}

	w = do(h, http.MethodDelete, "/event-types/invoice.created", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("delete again: expected 404, got %d", w.Code)
	}
}

func TestCreateEventTypeRequiresName(t *testing.T) {
	h, _, _ := setup(t)

	w := do(h, http.MethodPost, "/event-types", `{"description":"nameless"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestCreateRegistrationReturnsSecretOnce(t *testing.T) {
	h, _, _ := setup(t)

	w := do(h, http.MethodPost, "/registrations",
		`{"tenant_id":"t1","url":"https://example.com/hook","events":["invoice.*"]}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	created := decode[map[string]any](t, w)
	secret, _ := created["secret"].(string)
	if !strings.HasPrefix(secret, "whsec_") {
		t.Fatalf("expected secret in create response, got %v", created["secret"])
	}

	// Subsequent reads never expose the secret.
	regID, _ := created["id"].(string)
	w = do(h, http.MethodGet, "/registrations/"+regID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", w.Code)
	}
	fetched := decode[map[string]any](t, w)
	if _, ok := fetched["secret"]; ok {
		t.Fatal("secret leaked on read")
	}
}

func TestCreateRegistrationValidation(t *testing.T) {
	h, _, _ := setup(t)

	w := do(h, http.MethodPost, "/registrations",
		`{"tenant_id":"t1","url":"http://insecure.example.com","events":["*"]}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for http URL, got %d", w.Code)
	}

	w = do(h, http.MethodPost, "/registrations", `{not json`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad body, got %d", w.Code)
	}
}

func TestListRegistrationsRequiresTenant(t *testing.T) {
	h, hl, _ := setup(t)
	createRegistration(t, hl, "t1")

	w := do(h, http.MethodGet, "/registrations", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without tenant_id, got %d", w.Code)
	}

	w = do(h, http.MethodGet, "/registrations?tenant_id=t1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	regs := decode[[]*registration.Registration](t, w)
	if len(regs) != 1 {
		t.Fatalf("expected 1 registration, got %d", len(regs))
	}
}

func TestRegistrationLifecycleEndpoints(t *testing.T) {
	h, hl, _ := setup(t)
	reg := createRegistration(t, hl, "t1")
	path := "/registrations/" + reg.ID.String()

	if w := do(h, http.MethodPatch, path+"/pause", ""); w.Code != http.StatusNoContent {
		t.Fatalf("pause: expected 204, got %d", w.Code)
	}
	got, _ := hl.Registrations().Get(ctx(), reg.ID)
	if got.Status != registration.StatusPaused {
		t.Fatalf("expected paused, got %s", got.Status)
	}

	if w := do(h, http.MethodPatch, path+"/resume", ""); w.Code != http.StatusNoContent {
		t.Fatalf("resume: expected 204, got %d", w.Code)
	}

	w := do(h, http.MethodPost, path+"/rotate-secret", "")
	if w.Code != http.StatusOK {
		t.Fatalf("rotate: expected 200, got %d", w.Code)
	}
	rotated := decode[map[string]string](t, w)
	if !strings.HasPrefix(rotated["secret"], "whsec_") {
		t.Fatalf("expected new secret, got %q", rotated["secret"])
	}

	if w := do(h, http.MethodGet, path+"/status", ""); w.Code != http.StatusOK {
		t.Fatalf("status: expected 200, got %d", w.Code)
	}

	if w := do(h, http.MethodDelete, path, ""); w.Code != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", w.Code)
	}
}

func TestRegistrationNotFound(t *testing.T) {
	h, _, _ := setup(t)

	w := do(h, http.MethodGet, "/registrations/"+id.NewRegistrationID().String(), "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}

	w = do(h, http.MethodGet, "/registrations/not-a-typeid", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed ID, got %d", w.Code)
	}
}

func TestEventEndpoints(t *testing.T) {
	h, hl, s := setup(t)
	registerType(t, hl, "invoice.created")
	createRegistration(t, hl, "t1")

	err := hl.Trigger(ctx(), hookline.TriggerInput{
		TenantID:  "t1",
		EventType: "invoice.created",
		Data:      map[string]string{"invoice_id": "inv_1"},
	})
	if err != nil {
		t.Fatal(err)
	}

	w := do(h, http.MethodGet, "/events", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", w.Code)
	}
	events := decode[[]*event.Event](t, w)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	evt := events[0]

	w = do(h, http.MethodGet, "/events/"+evt.ID.String(), "")
	if w.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", w.Code)
	}

	w = do(h, http.MethodGet, "/events/"+id.NewEventID().String(), "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("get unknown: expected 404, got %d", w.Code)
	}

	// A pending event is not retryable.
	w = do(h, http.MethodPost, "/events/"+evt.ID.String()+"/retry", "")
	if w.Code != http.StatusConflict {
		t.Fatalf("retry pending: expected 409, got %d", w.Code)
	}

	// Fail the event, then retry succeeds.
	if err := s.MarkProcessing(ctx(), evt.ID); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkFailed(ctx(), evt.ID, "connection refused", 1, 0); err != nil {
		t.Fatal(err)
	}

	w = do(h, http.MethodPost, "/events/"+evt.ID.String()+"/retry", "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("retry failed event: expected 202, got %d: %s", w.Code, w.Body.String())
	}

	w = do(h, http.MethodPost, "/events/"+id.NewEventID().String()+"/retry", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("retry unknown: expected 404, got %d", w.Code)
	}
}

func TestDLQEndpoints(t *testing.T) {
	h, hl, s := setup(t)
	registerType(t, hl, "invoice.created")
	createRegistration(t, hl, "t1")

	if err := hl.Trigger(ctx(), hookline.TriggerInput{
		TenantID:  "t1",
		EventType: "invoice.created",
		Data:      map[string]string{"invoice_id": "inv_1"},
	}); err != nil {
		t.Fatal(err)
	}

	events, _ := s.ListEvents(ctx(), event.ListOpts{})
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	evt := events[0]
	if err := s.MarkProcessing(ctx(), evt.ID); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkFailed(ctx(), evt.ID, "410 gone", 1, 410); err != nil {
		t.Fatal(err)
	}

	jobs, err := s.DequeueJobs(ctx(), 1)
	if err != nil || len(jobs) != 1 {
		t.Fatalf("expected 1 job, got %d (%v)", len(jobs), err)
	}
	if err := hl.DLQ().PushFailed(ctx(), jobs[0], "410 gone", 410, 5); err != nil {
		t.Fatal(err)
	}
	if err := s.RemoveJob(ctx(), evt.ID); err != nil {
		t.Fatal(err)
	}

	w := do(h, http.MethodGet, "/dlq?tenant_id=t1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", w.Code)
	}
	var entries []map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 DLQ entry, got %d", len(entries))
	}
	entryID, _ := entries[0]["id"].(string)

	w = do(h, http.MethodGet, "/dlq/"+entryID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", w.Code)
	}

	w = do(h, http.MethodPost, "/dlq/"+entryID+"/replay", "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("replay: expected 204, got %d: %s", w.Code, w.Body.String())
	}

	// Replay moved the event back to pending and re-queued it.
	got, _ := s.GetEvent(ctx(), evt.ID)
	if got.Status != event.StatusPending {
		t.Fatalf("expected pending after replay, got %s", got.Status)
	}
	pending, _ := s.CountPendingJobs(ctx())
	if pending != 1 {
		t.Fatalf("expected 1 queued job after replay, got %d", pending)
	}

	// Purge everything older than tomorrow.
	before := time.Now().UTC().Add(24 * time.Hour).Format(time.RFC3339)
	w = do(h, http.MethodPost, "/dlq/purge", `{"before":"`+before+`"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("purge: expected 200, got %d", w.Code)
	}
	purged := decode[map[string]int64](t, w)
	if purged["purged"] != 1 {
		t.Fatalf("expected 1 purged, got %d", purged["purged"])
	}
}

func TestDLQNotFound(t *testing.T) {
	h, _, _ := setup(t)

	w := do(h, http.MethodGet, "/dlq/"+id.NewDLQID().String(), "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestSecurityEndpoints(t *testing.T) {
	h, _, _ := setup(t)

	w := do(h, http.MethodPost, "/security/blocks", `{"ip":"203.0.113.7","reason":"abuse","ttl":"24h"}`)
	if w.Code != http.StatusNoContent {
		t.Fatalf("block: expected 204, got %d: %s", w.Code, w.Body.String())
	}

	w = do(h, http.MethodPost, "/security/blocks", `{"ip":"203.0.113.8","reason":"abuse","ttl":"-1h"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("block bad ttl: expected 400, got %d", w.Code)
	}

	w = do(h, http.MethodGet, "/security/blocks", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", w.Code)
	}
	var blocks []map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &blocks); err != nil {
		t.Fatal(err)
	}
	if len(blocks) != 1 {
		t.Fatalf("expected 1 block, got %d", len(blocks))
	}

	w = do(h, http.MethodDelete, "/security/blocks/203.0.113.7", "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("unblock: expected 204, got %d", w.Code)
	}
}

func TestStatsEndpoint(t *testing.T) {
	h, _, _ := setup(t)

	w := do(h, http.MethodGet, "/stats", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	stats := decode[map[string]int64](t, w)
	if stats["pending_jobs"] != 0 || stats["dlq_size"] != 0 {
		t.Fatalf("expected zero counters, got %+v", stats)
	}
}
