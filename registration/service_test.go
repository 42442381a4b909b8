package registration_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/hookline/hookline"
	"github.com/hookline/hookline/id"
	"github.com/hookline/hookline/registration"
	"github.com/hookline/hookline/store/memory"
)

func ctx() context.Context { return context.Background() }

func newService() *registration.Service {
	s := memory.New()
	return registration.NewService(s, s, nil)
}

func TestRegister(t *testing.T) {
	svc := newService()

	reg, err := svc.Register(ctx(), registration.Input{
		TenantID: "tenant-1",
		URL:      "https://example.com/webhook",
		Events:   []string{"invoice.*"},
	})
	if err != nil {
		t.Fatal(err)
	}

	if reg.ID.String() == "" {
		t.Fatal("expected non-empty ID")
	}
	if !strings.HasPrefix(reg.Secret, "whsec_") {
		t.Fatalf("expected auto-generated secret, got %q", reg.Secret)
	}
	if reg.Status != registration.StatusActive {
		t.Fatalf("expected active by default, got %s", reg.Status)
	}
}

func TestRegisterValidation(t *testing.T) {
	svc := newService()

	// Missing URL
	_, err := svc.Register(ctx(), registration.Input{
		TenantID: "t1",
		Events:   []string{"*"},
	})
	if err == nil {
		t.Fatal("expected error for missing URL")
	}

	// http URL
	_, err = svc.Register(ctx(), registration.Input{
		TenantID: "t1",
		URL:      "http://example.com",
		Events:   []string{"*"},
	})
	var verr *registration.ValidationError
	if !errors.As(err, &verr) || verr.Field != "url" {
		t.Fatalf("expected url validation error, got %v", err)
	}

	// Missing tenant ID
	_, err = svc.Register(ctx(), registration.Input{
		URL:    "https://example.com",
		Events: []string{"*"},
	})
	if err == nil {
		t.Fatal("expected error for missing tenant_id")
	}

	// Missing event patterns
	_, err = svc.Register(ctx(), registration.Input{
		TenantID: "t1",
		URL:      "https://example.com",
	})
	if err == nil {
		t.Fatal("expected error for missing events")
	}
}

func TestRegisterKeepsProvidedSecret(t *testing.T) {
	svc := newService()

	reg, err := svc.Register(ctx(), registration.Input{
		TenantID: "t1",
		URL:      "https://example.com/webhook",
		Events:   []string{"*"},
		Secret:   "whsec_provided",
	})
	if err != nil {
		t.Fatal(err)
	}
	if reg.Secret != "whsec_provided" {
		t.Fatalf("expected provided secret to be kept, got %q", reg.Secret)
	}
}

func TestGetUpdateUnregister(t *testing.T) {
	svc := newService()

	reg, _ := svc.Register(ctx(), registration.Input{
		TenantID: "t1",
		URL:      "https://example.com/webhook",
		Events:   []string{"*"},
	})

	// Get
	got, err := svc.Get(ctx(), reg.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.URL != "https://example.com/webhook" {
		t.Fatalf("got URL %q", got.URL)
	}

	// Update
	updated, err := svc.Update(ctx(), reg.ID, registration.Input{
		URL: "https://example.com/v2",
	})
	if err != nil {
		t.Fatal(err)
	}
	if updated.URL != "https://example.com/v2" {
		t.Fatalf("expected updated URL, got %q", updated.URL)
	}

	// Unregister soft-deletes; Get still returns the record.
	if err := svc.Unregister(ctx(), reg.ID); err != nil {
		t.Fatal(err)
	}

	got, err = svc.Get(ctx(), reg.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != registration.StatusDeleted {
		t.Fatalf("expected deleted status, got %s", got.Status)
	}
}

func TestPauseResume(t *testing.T) {
	s := memory.New()
	svc := registration.NewService(s, s, nil)

	reg, _ := svc.Register(ctx(), registration.Input{
		TenantID: "t1",
		URL:      "https://example.com/webhook",
		Events:   []string{"*"},
	})

	if err := svc.Pause(ctx(), reg.ID); err != nil {
		t.Fatal(err)
	}
	got, _ := svc.Get(ctx(), reg.ID)
	if got.Status != registration.StatusPaused {
		t.Fatalf("expected paused, got %s", got.Status)
	}

	// Resume reactivates and re-arms the circuit breaker.
	if _, err := s.IncrementFailureCount(ctx(), reg.ID); err != nil {
		t.Fatal(err)
	}
	if err := svc.Resume(ctx(), reg.ID); err != nil {
		t.Fatal(err)
	}
	got, _ = svc.Get(ctx(), reg.ID)
	if got.Status != registration.StatusActive {
		t.Fatalf("expected active, got %s", got.Status)
	}
	if got.FailureCount != 0 {
		t.Fatalf("expected failure count reset, got %d", got.FailureCount)
	}
}

func TestRotateSecret(t *testing.T) {
	svc := newService()

	reg, _ := svc.Register(ctx(), registration.Input{
		TenantID: "t1",
		URL:      "https://example.com/webhook",
		Events:   []string{"*"},
	})
	original := reg.Secret

	rotated, err := svc.RotateSecret(ctx(), reg.ID)
	if err != nil {
		t.Fatal(err)
	}
	if rotated == original {
		t.Fatal("expected a new secret")
	}

	got, _ := svc.Get(ctx(), reg.ID)
	if got.Secret != rotated {
		t.Fatal("expected persisted secret to match rotated value")
	}
}

func TestFindBySigningSecret(t *testing.T) {
	svc := newService()

	reg, _ := svc.Register(ctx(), registration.Input{
		TenantID: "t1",
		URL:      "https://example.com/webhook",
		Events:   []string{"*"},
	})

	found, err := svc.FindBySigningSecret(ctx(), reg.Secret)
	if err != nil {
		t.Fatal(err)
	}
	if found.ID != reg.ID {
		t.Fatal("expected matching registration")
	}

	_, err = svc.FindBySigningSecret(ctx(), "whsec_unknown")
	if !errors.Is(err, hookline.ErrRegistrationNotFound) {
		t.Fatalf("expected ErrRegistrationNotFound, got %v", err)
	}
}

func TestGetNotFound(t *testing.T) {
	svc := newService()

	_, err := svc.Get(ctx(), id.NewRegistrationID())
	if !errors.Is(err, hookline.ErrRegistrationNotFound) {
		t.Fatalf("expected ErrRegistrationNotFound, got %v", err)
	}
}

func TestUpdateEventsRequiresPatterns(t *testing.T) {
	svc := newService()

	reg, _ := svc.Register(ctx(), registration.Input{
		TenantID: "t1",
		URL:      "https://example.com/webhook",
		Events:   []string{"*"},
	})

	_, err := svc.UpdateEvents(ctx(), reg.ID, nil)
	var verr *registration.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestStatusSuccessRate(t *testing.T) {
	s := memory.New()
	svc := registration.NewService(s, s, nil)

	reg, _ := svc.Register(ctx(), registration.Input{
		TenantID: "t1",
		URL:      "https://example.com/webhook",
		Events:   []string{"*"},
	})

	info, err := svc.Status(ctx(), reg.ID)
	if err != nil {
		t.Fatal(err)
	}
	if info.Registration.ID != reg.ID {
		t.Fatal("expected registration in status")
	}
	if info.SuccessRate != 0 {
		t.Fatalf("expected 0 rate with no deliveries, got %f", info.SuccessRate)
	}
}
