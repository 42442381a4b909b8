package delivery_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hookline/hookline/delivery"
	"github.com/hookline/hookline/event"
	"github.com/hookline/hookline/id"
	"github.com/hookline/hookline/internal/entity"
	"github.com/hookline/hookline/registration"
	"github.com/hookline/hookline/store/memory"
)

// stubDLQ is a simple DLQ pusher that records pushed jobs.
type stubDLQ struct {
	count atomic.Int32
}

func (s *stubDLQ) PushFailed(_ context.Context, _ *delivery.Job, _ string, _, _ int) error {
	s.count.Add(1)
	return nil
}

func testEngineConfig() delivery.EngineConfig {
	return delivery.EngineConfig{
		Concurrency:    2,
		PollInterval:   20 * time.Millisecond,
		BatchSize:      10,
		RequestTimeout: 5 * time.Second,
		MaxRetries:     2,
		RetrySchedule:  []time.Duration{10 * time.Millisecond, 20 * time.Millisecond},
		PauseThreshold: 10,
	}
}

func setupEngine(t *testing.T, handler http.Handler, dlq delivery.DLQPusher, cfg delivery.EngineConfig) (*memory.Store, *delivery.Engine, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	store := memory.New()
	engine := delivery.NewEngine(store, dlq, nil, nil, cfg, nil)
	return store, engine, srv
}

// createOutbound stores a pending event with a queued job pointing at url.
func createOutbound(t *testing.T, store *memory.Store, url string) *event.Event {
	t.Helper()
	ctx := context.Background()

	reg := &registration.Registration{
		Entity:   entity.New(),
		ID:       id.NewRegistrationID(),
		TenantID: "tenant-1",
		URL:      url,
		Secret:   "whsec_test_secret_1234567890abcdef1234567890abcdef",
		Events:   []string{"test.event"},
		Status:   registration.StatusActive,
	}
	if err := store.CreateRegistration(ctx, reg); err != nil {
		t.Fatal(err)
	}

	evt := &event.Event{
		Entity:         entity.New(),
		ID:             id.NewEventID(),
		Direction:      event.DirectionOutbound,
		TenantID:       "tenant-1",
		RegistrationID: reg.ID,
		Type:           "test.event",
		Payload:        json.RawMessage(`{"hello":"world"}`),
		Status:         event.StatusPending,
	}
	if err := store.CreateEvent(ctx, evt); err != nil {
		t.Fatal(err)
	}

	j := &delivery.Job{
		EventID:        evt.ID,
		RegistrationID: reg.ID,
		TenantID:       "tenant-1",
		Direction:      event.DirectionOutbound,
		EventType:      "test.event",
		URL:            url,
		Secret:         reg.Secret,
		Payload:        evt.Payload,
		NextAttemptAt:  time.Now().UTC(),
		EnqueuedAt:     time.Now().UTC(),
	}
	if err := store.EnqueueJob(ctx, j); err != nil {
		t.Fatal(err)
	}

	return evt
}

// waitForStatus polls until the event reaches the wanted status.
func waitForStatus(t *testing.T, store *memory.Store, evtID id.ID, want event.Status, timeout time.Duration) {
	t.Helper()
	ctx := context.Background()

	deadline := time.After(timeout)
	for {
		select {
		case <-deadline:
			got, _ := store.GetEvent(ctx, evtID)
			t.Fatalf("timeout waiting for status %s, got %s", want, got.Status)
		default:
		}

		got, err := store.GetEvent(ctx, evtID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Status == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestEngineDeliversSuccessfully(t *testing.T) {
	var hits atomic.Int32

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	})

	dlq := &stubDLQ{}
	store, engine, srv := setupEngine(t, handler, dlq, testEngineConfig())

	evt := createOutbound(t, store, srv.URL)

	ctx := context.Background()
	engine.Start(ctx)
	waitForStatus(t, store, evt.ID, event.StatusCompleted, 2*time.Second)
	engine.Stop(ctx)

	if hits.Load() != 1 {
		t.Fatalf("expected 1 delivery, got %d", hits.Load())
	}
	if dlq.count.Load() != 0 {
		t.Fatal("expected no DLQ pushes")
	}

	// Success resets the circuit breaker and records the delivery.
	got, _ := store.GetRegistration(ctx, evt.RegistrationID)
	if got.FailureCount != 0 {
		t.Fatalf("expected failure count 0, got %d", got.FailureCount)
	}
	if got.LastDeliveredAt == nil {
		t.Fatal("expected last_delivered_at to be set")
	}

	// The job is gone from the queue.
	pending, _ := store.CountPendingJobs(ctx)
	if pending != 0 {
		t.Fatalf("expected 0 pending jobs, got %d", pending)
	}
}

func TestEngineRetriesAndSucceeds(t *testing.T) {
	var attempts atomic.Int32

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	dlq := &stubDLQ{}
	store, engine, srv := setupEngine(t, handler, dlq, testEngineConfig())

	evt := createOutbound(t, store, srv.URL)

	ctx := context.Background()
	engine.Start(ctx)
	waitForStatus(t, store, evt.ID, event.StatusCompleted, 5*time.Second)
	engine.Stop(ctx)

	if attempts.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts.Load())
	}
	if dlq.count.Load() != 0 {
		t.Fatal("expected no DLQ pushes")
	}

	got, _ := store.GetEvent(ctx, evt.ID)
	if got.AttemptCount != 3 {
		t.Fatalf("expected attempt count 3, got %d", got.AttemptCount)
	}
}

func TestEngineExhaustsRetriesAndFails(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	dlq := &stubDLQ{}
	store, engine, srv := setupEngine(t, handler, dlq, testEngineConfig())

	evt := createOutbound(t, store, srv.URL)

	ctx := context.Background()
	engine.Start(ctx)
	waitForStatus(t, store, evt.ID, event.StatusFailed, 5*time.Second)
	engine.Stop(ctx)

	if dlq.count.Load() != 1 {
		t.Fatalf("expected 1 DLQ push, got %d", dlq.count.Load())
	}

	// MaxRetries 2 means 3 total attempts.
	got, _ := store.GetEvent(ctx, evt.ID)
	if got.AttemptCount != 3 {
		t.Fatalf("expected attempt count 3, got %d", got.AttemptCount)
	}
}

func TestEngineClientErrorFailsImmediately(t *testing.T) {
	var hits atomic.Int32

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	})

	dlq := &stubDLQ{}
	store, engine, srv := setupEngine(t, handler, dlq, testEngineConfig())

	evt := createOutbound(t, store, srv.URL)

	ctx := context.Background()
	engine.Start(ctx)
	waitForStatus(t, store, evt.ID, event.StatusFailed, 2*time.Second)
	engine.Stop(ctx)

	if hits.Load() != 1 {
		t.Fatalf("expected 1 attempt for client error, got %d", hits.Load())
	}
	if dlq.count.Load() != 1 {
		t.Fatalf("expected 1 DLQ push, got %d", dlq.count.Load())
	}
}

func TestEnginePausedRegistrationFailsWithoutSending(t *testing.T) {
	var hits atomic.Int32

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	})

	dlq := &stubDLQ{}
	store, engine, srv := setupEngine(t, handler, dlq, testEngineConfig())

	evt := createOutbound(t, store, srv.URL)

	ctx := context.Background()
	if err := store.SetRegistrationStatus(ctx, evt.RegistrationID, registration.StatusPaused); err != nil {
		t.Fatal(err)
	}

	engine.Start(ctx)
	waitForStatus(t, store, evt.ID, event.StatusFailed, 2*time.Second)
	engine.Stop(ctx)

	if hits.Load() != 0 {
		t.Fatalf("expected no HTTP attempts to a paused destination, got %d", hits.Load())
	}
	if dlq.count.Load() != 1 {
		t.Fatalf("expected 1 DLQ push, got %d", dlq.count.Load())
	}

	got, _ := store.GetEvent(ctx, evt.ID)
	if got.ErrorMessage != "destination paused" {
		t.Fatalf("expected %q, got %q", "destination paused", got.ErrorMessage)
	}
}

func TestEngineCircuitBreakerTripsOnSharedRegistration(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	cfg := testEngineConfig()
	cfg.MaxRetries = 0
	cfg.PauseThreshold = 2
	dlq := &stubDLQ{}
	store, engine, srv := setupEngine(t, handler, dlq, cfg)

	ctx := context.Background()

	// One registration, two failing events against it.
	evt1 := createOutbound(t, store, srv.URL)
	reg1, _ := store.GetRegistration(ctx, evt1.RegistrationID)

	evt2 := &event.Event{
		Entity:         entity.New(),
		ID:             id.NewEventID(),
		Direction:      event.DirectionOutbound,
		TenantID:       "tenant-1",
		RegistrationID: reg1.ID,
		Type:           "test.event",
		Payload:        json.RawMessage(`{}`),
		Status:         event.StatusPending,
	}
	if err := store.CreateEvent(ctx, evt2); err != nil {
		t.Fatal(err)
	}
	if err := store.EnqueueJob(ctx, &delivery.Job{
		EventID:        evt2.ID,
		RegistrationID: reg1.ID,
		TenantID:       "tenant-1",
		Direction:      event.DirectionOutbound,
		EventType:      "test.event",
		URL:            srv.URL,
		Secret:         reg1.Secret,
		Payload:        evt2.Payload,
		NextAttemptAt:  time.Now().UTC(),
		EnqueuedAt:     time.Now().UTC(),
	}); err != nil {
		t.Fatal(err)
	}

	engine.Start(ctx)

	// Wait for the registration to trip.
	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatal("timeout waiting for circuit breaker")
		default:
		}
		got, err := store.GetRegistration(ctx, reg1.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Status == registration.StatusPaused {
			engine.Stop(ctx)
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestEngineRetriesLeaveCircuitBreakerUntouched(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	// MaxRetries 2 means two retryable outcomes before the terminal one.
	// With the threshold at 2, pausing could only happen if retries were
	// counted against the registration.
	cfg := testEngineConfig()
	cfg.PauseThreshold = 2
	dlq := &stubDLQ{}
	store, engine, srv := setupEngine(t, handler, dlq, cfg)

	evt := createOutbound(t, store, srv.URL)

	ctx := context.Background()
	engine.Start(ctx)
	waitForStatus(t, store, evt.ID, event.StatusFailed, 5*time.Second)
	engine.Stop(ctx)

	got, err := store.GetRegistration(ctx, evt.RegistrationID)
	if err != nil {
		t.Fatal(err)
	}
	if got.FailureCount != 1 {
		t.Fatalf("expected failure count 1 after one terminal failure, got %d", got.FailureCount)
	}
	if got.Status != registration.StatusActive {
		t.Fatalf("expected registration to stay active, got %s", got.Status)
	}
}

func TestEngineDeliversToJobDestination(t *testing.T) {
	var hits atomic.Int32

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	})

	dlq := &stubDLQ{}
	store, engine, srv := setupEngine(t, handler, dlq, testEngineConfig())

	ctx := context.Background()

	// The registration points at a dead address; only the job carries the
	// live destination. Delivery succeeding proves the worker never
	// re-resolves the URL from the registration.
	reg := &registration.Registration{
		Entity:   entity.New(),
		ID:       id.NewRegistrationID(),
		TenantID: "tenant-1",
		URL:      "http://127.0.0.1:1",
		Secret:   "whsec_test_secret_1234567890abcdef1234567890abcdef",
		Events:   []string{"test.event"},
		Status:   registration.StatusActive,
	}
	if err := store.CreateRegistration(ctx, reg); err != nil {
		t.Fatal(err)
	}

	evt := &event.Event{
		Entity:         entity.New(),
		ID:             id.NewEventID(),
		Direction:      event.DirectionOutbound,
		TenantID:       "tenant-1",
		RegistrationID: reg.ID,
		Type:           "test.event",
		Payload:        json.RawMessage(`{"hello":"world"}`),
		Status:         event.StatusPending,
	}
	if err := store.CreateEvent(ctx, evt); err != nil {
		t.Fatal(err)
	}
	if err := store.EnqueueJob(ctx, &delivery.Job{
		EventID:        evt.ID,
		RegistrationID: reg.ID,
		TenantID:       "tenant-1",
		Direction:      event.DirectionOutbound,
		EventType:      "test.event",
		URL:            srv.URL,
		Secret:         reg.Secret,
		Payload:        evt.Payload,
		NextAttemptAt:  time.Now().UTC(),
		EnqueuedAt:     time.Now().UTC(),
	}); err != nil {
		t.Fatal(err)
	}

	engine.Start(ctx)
	waitForStatus(t, store, evt.ID, event.StatusCompleted, 2*time.Second)
	engine.Stop(ctx)

	if hits.Load() != 1 {
		t.Fatalf("expected 1 delivery, got %d", hits.Load())
	}
}

func TestEngineInboundProcessor(t *testing.T) {
	var processed atomic.Int32

	store := memory.New()
	cfg := testEngineConfig()
	processor := func(_ context.Context, j *delivery.Job) error {
		processed.Add(1)
		if j.Provider != "zoho" {
			t.Errorf("provider: got %q", j.Provider)
		}
		return nil
	}
	engine := delivery.NewEngine(store, nil, nil, processor, cfg, nil)

	ctx := context.Background()
	evt := &event.Event{
		Entity:    entity.New(),
		ID:        id.NewEventID(),
		Direction: event.DirectionInbound,
		TenantID:  "tenant-1",
		Provider:  "zoho",
		Type:      "invoice.created",
		Payload:   json.RawMessage(`{"amount":100}`),
		Status:    event.StatusPending,
	}
	if err := store.CreateEvent(ctx, evt); err != nil {
		t.Fatal(err)
	}
	if err := store.EnqueueJob(ctx, &delivery.Job{
		EventID:       evt.ID,
		TenantID:      "tenant-1",
		Direction:     event.DirectionInbound,
		Provider:      "zoho",
		EventType:     "invoice.created",
		Payload:       evt.Payload,
		NextAttemptAt: time.Now().UTC(),
		EnqueuedAt:    time.Now().UTC(),
	}); err != nil {
		t.Fatal(err)
	}

	engine.Start(ctx)
	waitForStatus(t, store, evt.ID, event.StatusCompleted, 2*time.Second)
	engine.Stop(ctx)

	if processed.Load() != 1 {
		t.Fatalf("expected 1 processor run, got %d", processed.Load())
	}
}

func TestEngineInboundProcessorRetries(t *testing.T) {
	var runs atomic.Int32

	store := memory.New()
	cfg := testEngineConfig()
	processor := func(_ context.Context, _ *delivery.Job) error {
		if runs.Add(1) < 2 {
			return errors.New("transient")
		}
		return nil
	}
	dlq := &stubDLQ{}
	engine := delivery.NewEngine(store, dlq, nil, processor, cfg, nil)

	ctx := context.Background()
	evt := &event.Event{
		Entity:    entity.New(),
		ID:        id.NewEventID(),
		Direction: event.DirectionInbound,
		TenantID:  "tenant-1",
		Provider:  "whatsapp",
		Type:      "message.received",
		Payload:   json.RawMessage(`{}`),
		Status:    event.StatusPending,
	}
	if err := store.CreateEvent(ctx, evt); err != nil {
		t.Fatal(err)
	}
	if err := store.EnqueueJob(ctx, &delivery.Job{
		EventID:       evt.ID,
		TenantID:      "tenant-1",
		Direction:     event.DirectionInbound,
		Provider:      "whatsapp",
		EventType:     "message.received",
		Payload:       evt.Payload,
		NextAttemptAt: time.Now().UTC(),
		EnqueuedAt:    time.Now().UTC(),
	}); err != nil {
		t.Fatal(err)
	}

	engine.Start(ctx)
	waitForStatus(t, store, evt.ID, event.StatusCompleted, 5*time.Second)
	engine.Stop(ctx)

	if runs.Load() != 2 {
		t.Fatalf("expected 2 processor runs, got %d", runs.Load())
	}
	if dlq.count.Load() != 0 {
		t.Fatal("expected no DLQ pushes")
	}
}

func TestEngineGracefulShutdown(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	store, engine, srv := setupEngine(t, handler, nil, testEngineConfig())

	ctx := context.Background()
	for range 5 {
		createOutbound(t, store, srv.URL)
	}

	engine.Start(ctx)

	// Give the engine a moment to start processing.
	time.Sleep(200 * time.Millisecond)

	// Stop should wait for in-flight work.
	engine.Stop(ctx)

	pending, err := store.CountPendingJobs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	t.Logf("pending after shutdown: %d", pending)
}
