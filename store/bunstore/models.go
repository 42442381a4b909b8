package bunstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/hookline/hookline/catalog"
	"github.com/hookline/hookline/delivery"
	"github.com/hookline/hookline/dlq"
	"github.com/hookline/hookline/event"
	"github.com/hookline/hookline/id"
	"github.com/hookline/hookline/internal/entity"
	"github.com/hookline/hookline/registration"
)

// --- Event Type models ---

type eventTypeModel struct {
	bun.BaseModel `bun:"table:hookline_event_types"`

	ID            string            `bun:"id,pk"`
	Name          string            `bun:"name,notnull,unique"`
	Description   string            `bun:"description"`
	GroupName     string            `bun:"group_name"`
	Schema        json.RawMessage   `bun:"schema,type:jsonb"`
	SchemaVersion string            `bun:"schema_version"`
	Version       string            `bun:"version"`
	Example       json.RawMessage   `bun:"example,type:jsonb"`
	IsDeprecated  bool              `bun:"is_deprecated"`
	DeprecatedAt  *time.Time        `bun:"deprecated_at"`
	Metadata      map[string]string `bun:"metadata,type:jsonb"`
	CreatedAt     time.Time         `bun:"created_at,notnull"`
	UpdatedAt     time.Time         `bun:"updated_at,notnull"`
}

func toEventTypeModel(et *catalog.EventType) *eventTypeModel {
	return &eventTypeModel{
		ID:            et.ID.String(),
		Name:          et.Definition.Name,
		Description:   et.Definition.Description,
		GroupName:     et.Definition.Group,
		Schema:        et.Definition.Schema,
		SchemaVersion: et.Definition.SchemaVersion,
		Version:       et.Definition.Version,
		Example:       et.Definition.Example,
		IsDeprecated:  et.IsDeprecated,
		DeprecatedAt:  et.DeprecatedAt,
		Metadata:      et.Metadata,
		CreatedAt:     et.CreatedAt,
		UpdatedAt:     et.UpdatedAt,
	}
}

func fromEventTypeModel(m *eventTypeModel) (*catalog.EventType, error) {
	etID, err := id.ParseEventTypeID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse event type ID %q: %w", m.ID, err)
	}
	return &catalog.EventType{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID: etID,
		Definition: catalog.WebhookDefinition{
			Name:          m.Name,
			Description:   m.Description,
			Group:         m.GroupName,
			Schema:        m.Schema,
			SchemaVersion: m.SchemaVersion,
			Version:       m.Version,
			Example:       m.Example,
		},
		IsDeprecated: m.IsDeprecated,
		DeprecatedAt: m.DeprecatedAt,
		Metadata:     m.Metadata,
	}, nil
}

// --- Registration models ---

type registrationModel struct {
	bun.BaseModel `bun:"table:hookline_registrations"`

	ID              string            `bun:"id,pk"`
	TenantID        string            `bun:"tenant_id"`
	IntegrationID   string            `bun:"integration_id"`
	URL             string            `bun:"url"`
	Secret          string            `bun:"secret"`
	Events          []string          `bun:"events,array"`
	Status          string            `bun:"status"`
	FailureCount    int               `bun:"failure_count"`
	LastDeliveredAt *time.Time        `bun:"last_delivered_at"`
	Headers         map[string]string `bun:"headers,type:jsonb"`
	RateLimit       int               `bun:"rate_limit"`
	Metadata        map[string]string `bun:"metadata,type:jsonb"`
	CreatedAt       time.Time         `bun:"created_at,notnull"`
	UpdatedAt       time.Time         `bun:"updated_at,notnull"`
}

func toRegistrationModel(reg *registration.Registration) *registrationModel {
	return &registrationModel{
		ID:              reg.ID.String(),
		TenantID:        reg.TenantID,
		IntegrationID:   reg.IntegrationID,
		URL:             reg.URL,
		Secret:          reg.Secret,
		Events:          reg.Events,
		Status:          string(reg.Status),
		FailureCount:    reg.FailureCount,
		LastDeliveredAt: reg.LastDeliveredAt,
		Headers:         reg.Headers,
		RateLimit:       reg.RateLimit,
		Metadata:        reg.Metadata,
		CreatedAt:       reg.CreatedAt,
		UpdatedAt:       reg.UpdatedAt,
	}
}

func fromRegistrationModel(m *registrationModel) (*registration.Registration, error) {
	regID, err := id.ParseRegistrationID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse registration ID %q: %w", m.ID, err)
	}
	return &registration.Registration{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:              regID,
		TenantID:        m.TenantID,
		IntegrationID:   m.IntegrationID,
		URL:             m.URL,
		Secret:          m.Secret,
		Events:          m.Events,
		Status:          registration.Status(m.Status),
		FailureCount:    m.FailureCount,
		LastDeliveredAt: m.LastDeliveredAt,
		Headers:         m.Headers,
		RateLimit:       m.RateLimit,
		Metadata:        m.Metadata,
	}, nil
}

// --- Event models ---

type eventModel struct {
	bun.BaseModel `bun:"table:hookline_events"`

	ID             string            `bun:"id,pk"`
	Direction      string            `bun:"direction"`
	TenantID       string            `bun:"tenant_id"`
	RegistrationID string            `bun:"registration_id"`
	Provider       string            `bun:"provider"`
	Type           string            `bun:"type"`
	Payload        json.RawMessage   `bun:"payload,type:jsonb"`
	Headers        map[string]string `bun:"headers,type:jsonb"`
	SourceIP       string            `bun:"source_ip"`
	Status         string            `bun:"status"`
	AttemptCount   int               `bun:"attempt_count"`
	NextRetryAt    *time.Time        `bun:"next_retry_at"`
	ResponseStatus int               `bun:"response_status"`
	ResponseBody   string            `bun:"response_body"`
	ErrorMessage   string            `bun:"error_message"`
	CreatedAt      time.Time         `bun:"created_at,notnull"`
	UpdatedAt      time.Time         `bun:"updated_at,notnull"`
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

// --- Job models ---

type jobModel struct {
	bun.BaseModel `bun:"table:hookline_jobs"`

	EventID         string            `bun:"event_id,pk"`
	RegistrationID  string            `bun:"registration_id"`
	TenantID        string            `bun:"tenant_id"`
	Direction       string            `bun:"direction"`
	Provider        string            `bun:"provider"`
	EventType       string            `bun:"event_type"`
	URL             string            `bun:"url"`
	Secret          string            `bun:"secret"`
	Headers         map[string]string `bun:"headers,type:jsonb"`
	Payload         json.RawMessage   `bun:"payload,type:jsonb"`
	PreviousPayload json.RawMessage   `bun:"previous_payload,type:jsonb"`
	NextAttemptAt   time.Time         `bun:"next_attempt_at,notnull"`
	EnqueuedAt      time.Time         `bun:"enqueued_at,notnull"`
	LockedAt        *time.Time        `bun:"locked_at"`
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

// --- DLQ models ---

type dlqEntryModel struct {
	bun.BaseModel `bun:"table:hookline_dlq"`

	ID              string          `bun:"id,pk"`
	EventID         string          `bun:"event_id"`
	RegistrationID  string          `bun:"registration_id"`
	Direction       string          `bun:"direction"`
	Provider        string          `bun:"provider"`
	EventType       string          `bun:"event_type"`
	TenantID        string          `bun:"tenant_id"`
	Payload         json.RawMessage `bun:"payload,type:jsonb"`
	PreviousPayload json.RawMessage `bun:"previous_payload,type:jsonb"`
	Error           string          `bun:"error"`
	AttemptCount    int             `bun:"attempt_count"`
	LastStatusCode  int             `bun:"last_status_code"`
	ReplayedAt      *time.Time      `bun:"replayed_at"`
	FailedAt        time.Time       `bun:"failed_at,notnull"`
	CreatedAt       time.Time       `bun:"created_at,notnull"`
	UpdatedAt       time.Time       `bun:"updated_at,notnull"`
}

func toDLQEntryModel(e *dlq.Entry) *dlqEntryModel {
	m := &dlqEntryModel{
		ID:              e.ID.String(),
		EventID:         e.EventID.String(),
		Direction:       string(e.Direction),
		Provider:        e.Provider,
		EventType:       e.EventType,
		TenantID:        e.TenantID,
		Payload:         e.Payload,
		PreviousPayload: e.PreviousPayload,
		Error:           e.Error,
		AttemptCount:    e.AttemptCount,
		LastStatusCode:  e.LastStatusCode,
		ReplayedAt:      e.ReplayedAt,
		FailedAt:        e.FailedAt,
		CreatedAt:       e.CreatedAt,
		UpdatedAt:       e.UpdatedAt,
	}
	if !e.RegistrationID.IsNil() {
		m.RegistrationID = e.RegistrationID.String()
	}
	return m
}

func fromDLQEntryModel(m *dlqEntryModel) (*dlq.Entry, error) {
	dlqID, err := id.ParseDLQID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse DLQ ID %q: %w", m.ID, err)
	}
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
	return &dlq.Entry{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:              dlqID,
		EventID:         evtID,
		RegistrationID:  regID,
		Direction:       event.Direction(m.Direction),
		Provider:        m.Provider,
		EventType:       m.EventType,
		TenantID:        m.TenantID,
		Payload:         m.Payload,
		PreviousPayload: m.PreviousPayload,
		Error:           m.Error,
		AttemptCount:    m.AttemptCount,
		LastStatusCode:  m.LastStatusCode,
		ReplayedAt:      m.ReplayedAt,
		FailedAt:        m.FailedAt,
	}, nil
}
