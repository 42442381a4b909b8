package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/grove"

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
	grove.BaseModel `grove:"table:hookline_event_types"`

	ID            string            `grove:"id,pk"`
	Name          string            `grove:"name,unique"`
	Description   string            `grove:"description"`
	GroupName     string            `grove:"group_name"`
	Schema        json.RawMessage   `grove:"schema,type:jsonb"`
	SchemaVersion string            `grove:"schema_version"`
	Version       string            `grove:"version"`
	Example       json.RawMessage   `grove:"example,type:jsonb"`
	IsDeprecated  bool              `grove:"is_deprecated"`
	DeprecatedAt  *time.Time        `grove:"deprecated_at"`
	Metadata      map[string]string `grove:"metadata,type:jsonb"`
	CreatedAt     time.Time         `grove:"created_at"`
	UpdatedAt     time.Time         `grove:"updated_at"`
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
	grove.BaseModel `grove:"table:hookline_registrations"`

	ID              string            `grove:"id,pk"`
	TenantID        string            `grove:"tenant_id"`
	IntegrationID   string            `grove:"integration_id"`
	URL             string            `grove:"url"`
	Secret          string            `grove:"secret"`
	Events          []string          `grove:"events,array"`
	Status          string            `grove:"status"`
	FailureCount    int               `grove:"failure_count"`
	LastDeliveredAt *time.Time        `grove:"last_delivered_at"`
	Headers         map[string]string `grove:"headers,type:jsonb"`
	RateLimit       int               `grove:"rate_limit"`
	Metadata        map[string]string `grove:"metadata,type:jsonb"`
	CreatedAt       time.Time         `grove:"created_at"`
	UpdatedAt       time.Time         `grove:"updated_at"`
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
	grove.BaseModel `grove:"table:hookline_events"`

	ID             string            `grove:"id,pk"`
	Direction      string            `grove:"direction"`
	TenantID       string            `grove:"tenant_id"`
	RegistrationID string            `grove:"registration_id"`
	Provider       string            `grove:"provider"`
	Type           string            `grove:"type"`
	Payload        json.RawMessage   `grove:"payload,type:jsonb"`
	Headers        map[string]string `grove:"headers,type:jsonb"`
	SourceIP       string            `grove:"source_ip"`
	Status         string            `grove:"status"`
	AttemptCount   int               `grove:"attempt_count"`
	NextRetryAt    *time.Time        `grove:"next_retry_at"`
	ResponseStatus int               `grove:"response_status"`
	ResponseBody   string            `grove:"response_body"`
	ErrorMessage   string            `grove:"error_message"`
	CreatedAt      time.Time         `grove:"created_at"`
	UpdatedAt      time.Time         `grove:"updated_at"`
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
	grove.BaseModel `grove:"table:hookline_jobs"`

	EventID         string            `grove:"event_id,pk"`
	RegistrationID  string            `grove:"registration_id"`
	TenantID        string            `grove:"tenant_id"`
	Direction       string            `grove:"direction"`
	Provider        string            `grove:"provider"`
	EventType       string            `grove:"event_type"`
	URL             string            `grove:"url"`
	Secret          string            `grove:"secret"`
	Headers         map[string]string `grove:"headers,type:jsonb"`
	Payload         json.RawMessage   `grove:"payload,type:jsonb"`
	PreviousPayload json.RawMessage   `grove:"previous_payload,type:jsonb"`
	NextAttemptAt   time.Time         `grove:"next_attempt_at"`
	EnqueuedAt      time.Time         `grove:"enqueued_at"`
	LockedAt        *time.Time        `grove:"locked_at"`
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
	grove.BaseModel `grove:"table:hookline_dlq"`

	ID              string          `grove:"id,pk"`
	EventID         string          `grove:"event_id"`
	RegistrationID  string          `grove:"registration_id"`
	Direction       string          `grove:"direction"`
	Provider        string          `grove:"provider"`
	EventType       string          `grove:"event_type"`
	TenantID        string          `grove:"tenant_id"`
	Payload         json.RawMessage `grove:"payload,type:jsonb"`
	PreviousPayload json.RawMessage `grove:"previous_payload,type:jsonb"`
	Error           string          `grove:"error"`
	AttemptCount    int             `grove:"attempt_count"`
	LastStatusCode  int             `grove:"last_status_code"`
	ReplayedAt      *time.Time      `grove:"replayed_at"`
	FailedAt        time.Time       `grove:"failed_at"`
	CreatedAt       time.Time       `grove:"created_at"`
	UpdatedAt       time.Time       `grove:"updated_at"`
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
