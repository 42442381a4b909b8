package hookline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hookline/hookline/catalog"
	"github.com/hookline/hookline/delivery"
	"github.com/hookline/hookline/dlq"
	"github.com/hookline/hookline/event"
	"github.com/hookline/hookline/gateway"
	"github.com/hookline/hookline/id"
	"github.com/hookline/hookline/internal/entity"
	"github.com/hookline/hookline/ratelimit"
	"github.com/hookline/hookline/registration"
	"github.com/hookline/hookline/security"
	"github.com/hookline/hookline/signature"
	"github.com/hookline/hookline/store"
)

// wireServices initializes the internal services after options have been applied.
func (h *Hookline) wireServices() {
	h.catalog = catalog.NewCatalog(h.store, catalog.Config{
		CacheTTL: h.config.CacheTTL,
	}, h.logger)

	h.validator = catalog.NewValidator()

	h.regSvc = registration.NewService(h.store, h.store, h.logger)

	h.dlqSvc = dlq.NewService(h.store, h.store, h.logger)

	h.filter = security.NewFilter(h.kv, h.securityCfg, h.logger)

	if h.strategies == nil {
		h.strategies = signature.NewStrategies()
	}

	h.limiter = ratelimit.New()

	h.engine = delivery.NewEngine(h.store, h.dlqSvc, h.limiter, h.processor, delivery.EngineConfig{
		Concurrency:    h.config.Concurrency,
		PollInterval:   h.config.PollInterval,
		BatchSize:      h.config.BatchSize,
		RequestTimeout: h.config.RequestTimeout,
		MaxRetries:     h.config.MaxRetries,
		RetrySchedule:  h.config.RetrySchedule,
		PauseThreshold: h.config.PauseThreshold,
		Metrics:        h.metrics,
		Tracer:         h.tracer,
	}, h.logger)
}

// Start begins the delivery engine.
func (h *Hookline) Start(ctx context.Context) {
	h.engine.Start(ctx)
}

// Stop gracefully shuts down the delivery engine, waiting up to
// ShutdownTimeout for in-flight deliveries.
func (h *Hookline) Stop(ctx context.Context) {
	if h.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.config.ShutdownTimeout)
		defer cancel()
	}
	h.engine.Stop(ctx)
}

// RegisterEventType registers a webhook event type definition in the catalog.
func (h *Hookline) RegisterEventType(ctx context.Context, def catalog.WebhookDefinition, opts ...catalog.RegisterOption) (*catalog.EventType, error) {
	return h.catalog.RegisterType(ctx, def, opts...)
}

// TriggerInput describes an outbound event to fan out.
type TriggerInput struct {
	// TenantID identifies the tenant whose registrations receive the event.
	TenantID string `json:"tenant_id"`

	// IntegrationID, when set, restricts fan-out to registrations linked to
	// that integration.
	IntegrationID string `json:"integration_id,omitempty"`

	// EventType is the dot-separated event type name. Must be registered in
	// the catalog.
	EventType string `json:"event_type"`

	// Data is the event payload. Validated against the event type's JSON
	// Schema when one is defined.
	Data any `json:"data"`

	// PreviousData, when set, is delivered alongside Data so receivers can
	// diff update events.
	PreviousData any `json:"previous_data,omitempty"`
}

// Trigger validates and persists an outbound event per matching registration,
// then enqueues the deliveries.
//
// The critical path:
//  1. Look up the event type in the catalog (reject unknown types).
//  2. Reject deprecated event types.
//  3. Validate the payload against the JSON Schema, if one is defined.
//  4. Resolve subscribed active registrations for this tenant.
//  5. Persist one pending event per registration, then enqueue its job.
//
// Events are durable before their jobs are queued, so a crash between the
// two steps loses a delivery attempt, never the event.
func (h *Hookline) Trigger(ctx context.Context, in TriggerInput) error {
	et, err := h.catalog.GetType(ctx, in.EventType)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrEventTypeNotFound, in.EventType)
	}

	if et.IsDeprecated {
		return fmt.Errorf("%w: %s", ErrEventTypeDeprecated, in.EventType)
	}

	payload, err := json.Marshal(in.Data)
	if err != nil {
		return fmt.Errorf("hookline: marshal payload: %w", err)
	}

	if len(et.Definition.Schema) > 0 {
		var doc any
		if unmarshalErr := json.Unmarshal(payload, &doc); unmarshalErr != nil {
			return fmt.Errorf("%w: %s", ErrPayloadValidationFailed, unmarshalErr.Error())
		}
		if validateErr := h.validator.Validate(et.Definition.Schema, doc); validateErr != nil {
			return fmt.Errorf("%w: %s", ErrPayloadValidationFailed, validateErr.Error())
		}
	}

	var previous json.RawMessage
	if in.PreviousData != nil {
		previous, err = json.Marshal(in.PreviousData)
		if err != nil {
			return fmt.Errorf("hookline: marshal previous payload: %w", err)
		}
	}

	regs, err := h.store.Resolve(ctx, in.TenantID, in.IntegrationID, in.EventType)
	if err != nil {
		return fmt.Errorf("hookline: resolve registrations: %w", err)
	}

	if len(regs) == 0 {
		h.logger.DebugContext(ctx, "no registrations matched",
			"tenant_id", in.TenantID, "type", in.EventType)
		return nil
	}

	now := time.Now().UTC()
	jobs := make([]*delivery.Job, 0, len(regs))
	for _, reg := range regs {
		evt := &event.Event{
			Entity:         entity.New(),
			ID:             id.NewEventID(),
			Direction:      event.DirectionOutbound,
			TenantID:       in.TenantID,
			RegistrationID: reg.ID,
			Type:           in.EventType,
			Payload:        payload,
			Headers:        reg.Headers,
			Status:         event.StatusPending,
		}
		if createErr := h.store.CreateEvent(ctx, evt); createErr != nil {
			return fmt.Errorf("hookline: persist event: %w", createErr)
		}

		jobs = append(jobs, &delivery.Job{
			EventID:         evt.ID,
			RegistrationID:  reg.ID,
			TenantID:        in.TenantID,
			Direction:       event.DirectionOutbound,
			EventType:       in.EventType,
			URL:             reg.URL,
			Secret:          reg.Secret,
			Headers:         reg.Headers,
			Payload:         payload,
			PreviousPayload: previous,
			NextAttemptAt:   now,
			EnqueuedAt:      now,
		})
	}

	if err := h.store.EnqueueJobs(ctx, jobs); err != nil {
		return fmt.Errorf("hookline: enqueue jobs: %w", err)
	}

	if h.metrics != nil {
		h.metrics.TriggeredTotal.Inc()
		h.metrics.PendingJobs.Add(float64(len(jobs)))
	}

	h.logger.DebugContext(ctx, "event triggered",
		"type", in.EventType,
		"tenant_id", in.TenantID,
		"registrations", len(jobs),
	)

	return nil
}

// Retry re-queues a permanently failed event for immediate delivery. This is
// the only path that moves a failed event back to pending.
func (h *Hookline) Retry(ctx context.Context, eventID id.ID) error {
	evt, err := h.store.GetEvent(ctx, eventID)
	if err != nil {
		return err
	}

	if evt.Status != event.StatusFailed {
		return fmt.Errorf("%w: status is %s", ErrEventNotRetryable, evt.Status)
	}

	now := time.Now().UTC()
	if err := h.store.ScheduleRetry(ctx, eventID, evt.AttemptCount, now, "", 0); err != nil {
		return err
	}

	job := &delivery.Job{
		EventID:        evt.ID,
		RegistrationID: evt.RegistrationID,
		TenantID:       evt.TenantID,
		Direction:      evt.Direction,
		Provider:       evt.Provider,
		EventType:      evt.Type,
		Payload:        evt.Payload,
		NextAttemptAt:  now,
		EnqueuedAt:     now,
	}
	if evt.Direction == event.DirectionOutbound && !evt.RegistrationID.IsNil() {
		reg, regErr := h.store.GetRegistration(ctx, evt.RegistrationID)
		if regErr != nil {
			return fmt.Errorf("hookline: resolve retry destination: %w", regErr)
		}
		job.URL = reg.URL
		job.Secret = reg.Secret
		job.Headers = reg.Headers
	}
	if err := h.store.EnqueueJob(ctx, job); err != nil {
		return fmt.Errorf("hookline: enqueue retry: %w", err)
	}

	h.logger.InfoContext(ctx, "event retry queued", "event_id", eventID)
	return nil
}

// Pause suspends deliveries to a registration.
func (h *Hookline) Pause(ctx context.Context, regID id.ID) error {
	return h.regSvc.Pause(ctx, regID)
}

// Resume reactivates a paused registration and re-arms its circuit breaker.
func (h *Hookline) Resume(ctx context.Context, regID id.ID) error {
	return h.regSvc.Resume(ctx, regID)
}

// Status returns a registration with its computed delivery success rate.
func (h *Hookline) Status(ctx context.Context, regID id.ID) (*registration.StatusInfo, error) {
	return h.regSvc.Status(ctx, regID)
}

// BlockIP adds a TTL-bound entry to the gateway deny-list.
func (h *Hookline) BlockIP(ctx context.Context, ip, reason string, ttl time.Duration) error {
	return h.filter.BlockIP(ctx, ip, reason, ttl)
}

// UnblockIP removes a deny-list entry.
func (h *Hookline) UnblockIP(ctx context.Context, ip string) error {
	return h.filter.UnblockIP(ctx, ip)
}

// SecurityReport produces an operator-facing snapshot of the filter state.
func (h *Hookline) SecurityReport(ctx context.Context) (*security.Report, error) {
	return h.filter.Report(ctx)
}

// Registrations returns the registration management service.
func (h *Hookline) Registrations() *registration.Service {
	return h.regSvc
}

// Catalog returns the event type catalog.
func (h *Hookline) Catalog() *catalog.Catalog {
	return h.catalog
}

// DLQ returns the dead letter queue service.
func (h *Hookline) DLQ() *dlq.Service {
	return h.dlqSvc
}

// Security returns the inbound security filter.
func (h *Hookline) Security() *security.Filter {
	return h.filter
}

// Strategies returns the inbound signature verification registry.
func (h *Hookline) Strategies() *signature.Strategies {
	return h.strategies
}

// Store returns the underlying store.
func (h *Hookline) Store() store.Store {
	return h.store
}

// Gateway builds the inbound gateway handler wired to this instance's
// security filter, signature strategies and store. Mount it under the path
// provider callback URLs point at.
func (h *Hookline) Gateway(cfg gateway.Config) *gateway.Handler {
	return gateway.NewHandler(cfg, h.filter, h.strategies, h.store, h.metrics, h.tracer, h.logger)
}
