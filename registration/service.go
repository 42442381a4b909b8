package registration

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/hookline/hookline/catalog"
	"github.com/hookline/hookline/id"
	"github.com/hookline/hookline/internal/entity"
	"github.com/hookline/hookline/signature"
)

// StatsProvider supplies recent delivery outcome counts for a registration.
// Implemented by the event store.
type StatsProvider interface {
	DeliveryStats(ctx context.Context, regID id.ID, since time.Time) (completed, failed int64, err error)
}

// StatusWindow is the look-back period for the computed success rate.
const StatusWindow = 24 * time.Hour

// Service provides registration management operations.
type Service struct {
	store  Store
	stats  StatsProvider
	logger *slog.Logger
}

// NewService creates a new registration service.
func NewService(store Store, stats StatsProvider, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		stats:  stats,
		logger: logger,
	}
}

// Register creates a new webhook registration. The destination must be an
// https URL; validation happens before any persistence.
func (svc *Service) Register(ctx context.Context, in Input) (*Registration, error) {
	parsed, err := url.ParseRequestURI(in.URL)
	if err != nil {
		return nil, &ValidationError{Field: "url", Message: "invalid URL"}
	}
	if parsed.Scheme != "https" {
		return nil, &ValidationError{Field: "url", Message: "must use https"}
	}

	if in.TenantID == "" {
		return nil, &ValidationError{Field: "tenant_id", Message: "required"}
	}

	if len(in.Events) == 0 {
		return nil, &ValidationError{Field: "events", Message: "at least one event type pattern required"}
	}

	secret := in.Secret
	if secret == "" {
		secret = signature.GenerateSecret()
	}

	reg := &Registration{
		Entity:        entity.New(),
		ID:            id.NewRegistrationID(),
		TenantID:      in.TenantID,
		IntegrationID: in.IntegrationID,
		URL:           in.URL,
		Secret:        secret,
		Events:        in.Events,
		Status:        StatusActive,
		Headers:       in.Headers,
		RateLimit:     in.RateLimit,
		Metadata:      in.Metadata,
	}

	if err := svc.store.CreateRegistration(ctx, reg); err != nil {
		return nil, err
	}

	return reg, nil
}

// Get returns a registration by ID.
func (svc *Service) Get(ctx context.Context, regID id.ID) (*Registration, error) {
	return svc.store.GetRegistration(ctx, regID)
}

// Update modifies an existing registration.
func (svc *Service) Update(ctx context.Context, regID id.ID, in Input) (*Registration, error) {
	reg, err := svc.store.GetRegistration(ctx, regID)
	if err != nil {
		return nil, err
	}

	if in.URL != "" {
		parsed, parseErr := url.ParseRequestURI(in.URL)
		if parseErr != nil || parsed.Scheme != "https" {
			return nil, &ValidationError{Field: "url", Message: "must be a valid https URL"}
		}
		reg.URL = in.URL
	}
	if in.IntegrationID != "" {
		reg.IntegrationID = in.IntegrationID
	}
	if len(in.Events) > 0 {
		reg.Events = in.Events
	}
	if in.Headers != nil {
		reg.Headers = in.Headers
	}
	if in.RateLimit >= 0 {
		reg.RateLimit = in.RateLimit
	}
	if in.Metadata != nil {
		reg.Metadata = in.Metadata
	}

	if err := svc.store.UpdateRegistration(ctx, reg); err != nil {
		return nil, err
	}

	return reg, nil
}

// UpdateEvents replaces the subscribed event type patterns.
func (svc *Service) UpdateEvents(ctx context.Context, regID id.ID, events []string) (*Registration, error) {
	if len(events) == 0 {
		return nil, &ValidationError{Field: "events", Message: "at least one event type pattern required"}
	}
	return svc.Update(ctx, regID, Input{Events: events})
}

// Unregister soft-deletes a registration. Events keep referencing it.
func (svc *Service) Unregister(ctx context.Context, regID id.ID) error {
	return svc.store.SetRegistrationStatus(ctx, regID, StatusDeleted)
}

// Pause suspends deliveries to a registration.
func (svc *Service) Pause(ctx context.Context, regID id.ID) error {
	return svc.store.SetRegistrationStatus(ctx, regID, StatusPaused)
}

// Resume reactivates a paused registration and resets its failure counter,
// re-arming the circuit breaker.
func (svc *Service) Resume(ctx context.Context, regID id.ID) error {
	if err := svc.store.SetRegistrationStatus(ctx, regID, StatusActive); err != nil {
		return err
	}
	return svc.store.ResetFailureCount(ctx, regID)
}

// List returns registrations for a tenant.
func (svc *Service) List(ctx context.Context, tenantID string, opts ListOpts) ([]*Registration, error) {
	return svc.store.ListRegistrations(ctx, tenantID, opts)
}

// FindBySigningSecret maps an inbound credential back to its registration.
func (svc *Service) FindBySigningSecret(ctx context.Context, secret string) (*Registration, error) {
	return svc.store.FindBySecret(ctx, secret)
}

// RotateSecret generates a new signing secret for a registration.
func (svc *Service) RotateSecret(ctx context.Context, regID id.ID) (string, error) {
	reg, err := svc.store.GetRegistration(ctx, regID)
	if err != nil {
		return "", err
	}

	newSecret := signature.GenerateSecret()

	reg.Secret = newSecret
	if err := svc.store.UpdateRegistration(ctx, reg); err != nil {
		return "", err
	}

	return newSecret, nil
}

// StatusInfo is the operator-facing view of a registration's health.
type StatusInfo struct {
	Registration *Registration `json:"registration"`
	Completed    int64         `json:"completed"`
	Failed       int64         `json:"failed"`
	SuccessRate  float64       `json:"success_rate"`
}

// Status returns the registration with its computed success rate over the
// recent delivery window.
func (svc *Service) Status(ctx context.Context, regID id.ID) (*StatusInfo, error) {
	reg, err := svc.store.GetRegistration(ctx, regID)
	if err != nil {
		return nil, err
	}

	info := &StatusInfo{Registration: reg}
	if svc.stats != nil {
		completed, failed, statsErr := svc.stats.DeliveryStats(ctx, regID, time.Now().UTC().Add(-StatusWindow))
		if statsErr != nil {
			return nil, fmt.Errorf("registration: delivery stats: %w", statsErr)
		}
		info.Completed = completed
		info.Failed = failed
		if total := completed + failed; total > 0 {
			info.SuccessRate = float64(completed) / float64(total)
		}
	}
	return info, nil
}

// Matches reports whether a registration subscribes to an event type.
func Matches(reg *Registration, eventType string) bool {
	return reg.Subscribed(eventType, catalog.Match)
}

// ValidationError indicates invalid input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "registration validation: " + e.Field + ": " + e.Message
}
