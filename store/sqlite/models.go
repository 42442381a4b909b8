package sqlite

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

// --- Event type models ---

type eventTypeModel struct {
	grove.BaseModel `grove:"table:hookline_event_types"`

	ID            string     `grove:"id,pk"`
	Name          string     `grove:"name,unique"`
	Description   string     `grove:"description"`
	GroupName     string     `grove:"group_name"`
	Schema        string     `grove:"schema"`
	SchemaVersion string     `grove:"schema_version"`
	Version       string     `grove:"version"`
	Example       string     `grove:"example"`
	IsDeprecated  bool       `grove:"is_deprecated"`
	DeprecatedAt  *time.Time `grove:"deprecated_at"`
	Metadata      string     `grove:"metadata"`
	CreatedAt     time.Time  `grove:"created_at"`
	UpdatedAt     time.Time  `grove:"updated_at"`
}

func toEventTypeModel(et *catalog.EventType) *eventTypeModel {
	metadata, _ := json.Marshal(et.Metadata) //nolint:errcheck // best-effort

	return &eventTypeModel{
		ID:            et.ID.String(),
		Name:          et.Definition.Name,
		Description:   et.Definition.Description,
		GroupName:     et.Definition.Group,
		Schema:        string(et.Definition.Schema),
		SchemaVersion: et.Definition.SchemaVersion,
		Version:       et.Definition.Version,
		Example:       string(et.Definition.Example),
		IsDeprecated:  et.IsDeprecated,
		DeprecatedAt:  et.DeprecatedAt,
		Metadata:      string(metadata),
		CreatedAt:     et.CreatedAt,
		UpdatedAt:     et.UpdatedAt,
	}
}

func fromEventTypeModel(m *eventTypeModel) (*catalog.EventType, error) {
	etID, err := id.ParseEventTypeID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse event type ID %q: %w", m.ID, err)
	}

	var schema, example json.RawMessage
	if m.Schema != "" {
		schema = json.RawMessage(m.Schema)
	}
	if m.Example != "" {
		example = json.RawMessage(m.Example)
	}

	var metadata map[string]string
	if m.Metadata != "" {
		_ = json.Unmarshal([]byte(m.Metadata), &metadata) //nolint:errcheck // best-effort
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
			Schema:        schema,
			SchemaVersion: m.SchemaVersion,
			Version:       m.Version,
			Example:       example,
		},
		IsDeprecated: m.IsDeprecated,
		DeprecatedAt: m.DeprecatedAt,
		Metadata:     metadata,
	}, nil
}

// --- Registration models ---

type registrationModel struct {
	grove.BaseModel `grove:"table:hookline_registrations"`

	ID              string     `grove:"id,pk"`
	TenantID        string     `grove:"tenant_id"`
	IntegrationID   string     `grove:"integration_id"`
	URL             string     `grove:"url"`
	Secret          string     `grove:"secret"`
	Events          string     `grove:"events"`  // JSON array
	Status          string     `grove:"status"`
	FailureCount    int        `grove:"failure_count"`
	LastDeliveredAt *time.Time `grove:"last_delivered_at"`
	Headers         string     `grove:"headers"` // JSON object
	RateLimit       int        `grove:"rate_limit"`
	Metadata        string     `grove:"metadata"` // JSON object
	CreatedAt       time.Time  `grove:"created_at"`
	UpdatedAt       time.Time  `grove:"updated_at"`
}

// events unmarshals the JSON pattern list.
func (m *registrationModel) events() []string {
	var patterns []string
	if m.Events != "" {
		_ = json.Unmarshal([]byte(m.Events), &patterns) //nolint:errcheck // best-effort
	}
	return patterns
}

func toRegistrationModel(reg *registration.Registration) *registrationModel {
	events, _ := json.Marshal(reg.Events)     //nolint:errcheck // best-effort
	headers, _ := json.Marshal(reg.Headers)   //nolint:errcheck // best-effort
	metadata, _ := json.Marshal(reg.Metadata) //nolint:errcheck // best-effort

	return &registrationModel{
		ID:              reg.ID.String(),
		TenantID:        reg.TenantID,
		IntegrationID:   reg.IntegrationID,
		URL:             reg.URL,
		Secret:          reg.Secret,
		Events:          string(events),
		Status:          string(reg.Status),
		FailureCount:    reg.FailureCount,
		LastDeliveredAt: reg.LastDeliveredAt,
		Headers:         string(headers),
		RateLimit:       reg.RateLimit,
		Metadata:        string(metadata),
		CreatedAt:       reg.CreatedAt,
		UpdatedAt:       reg.UpdatedAt,
	}
}

func fromRegistrationModel(m *registrationModel) (*registration.Registration, error) {
	regID, err := id.ParseRegistrationID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse registration ID %q: %w", m.ID, err)
	}

	var headers map[string]string
	if m.Headers != "" {
		_ = json.Unmarshal([]byte(m.Headers), &headers) //nolint:errcheck // best-effort
	}

	var metadata map[string]string
	if m.Metadata != "" {
		_ = json.Unmarshal([]byte(m.Metadata), &metadata) //nolint:errcheck // best-effort
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
		Events:          m.events(),
		Status:          registration.Status(m.Status),
		FailureCount:    m.FailureCount,
		LastDeliveredAt: m.LastDeliveredAt,
		Headers:         headers,
		RateLimit:       m.RateLimit,
		Metadata:        metadata,
	}, nil
}

// --- Event models ---

type eventModel struct {
	grove.BaseModel `grove:"table:hookline_events"`

	ID             string     `grove:"id,pk"`
	Direction      string     `grove:"direction"`
	TenantID       string     `grove:"tenant_id"`
	RegistrationID string     `grove:"registration_id"`
	Provider       string     `grove:"provider"`
	Type           string     `grove:"type"`
	Payload        string     `grove:"payload"` // JSON text
	Headers        string     `grove:"headers"` // JSON object
	SourceIP       string     `grove:"source_ip"`
	Status         string     `grove:"status"`
	AttemptCount   int        `grove:"attempt_count"`
	NextRetryAt    *time.Time `grove:"next_retry_at"`
	ResponseStatus int        `grove:"response_status"`
	ResponseBody   string     `grove:"response_body"`
	ErrorMessage   string     `grove:"error_message"`
	CreatedAt      time.Time  `grove:"created_at"`
	UpdatedAt      time.Time  `grove:"updated_at"`
}

func toEventModel(evt *event.Event) *eventModel {
	headers, _ := json.Marshal(evt.Headers) //nolint:errcheck // best-effort

	regID := ""
	if !evt.RegistrationID.IsNil() {
		regID = evt.RegistrationID.String()
	}

	return &eventModel{
		ID:             evt.ID.String(),
		Direction:      string(evt.Direction),
		TenantID:       evt.TenantID,
		RegistrationID: regID,
		Provider:       evt.Provider,
		Type:           evt.Type,
		Payload:        string(evt.Payload),
		Headers:        string(headers),
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

	var headers map[string]string
	if m.Headers != "" {
		_ = json.Unmarshal([]byte(m.Headers), &headers) //nolint:errcheck // best-effort
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
		Payload:        json.RawMessage(m.Payload),
		Headers:        headers,
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

	EventID         string     `grove:"event_id,pk"`
	RegistrationID  string     `grove:"registration_id"`
	TenantID        string     `grove:"tenant_id"`
	Direction       string     `grove:"direction"`
	Provider        string     `grove:"provider"`
	EventType       string     `grove:"event_type"`
	URL             string     `grove:"url"`
	Secret          string     `grove:"secret"`
	Headers         string     `grove:"headers"`          // JSON object
	Payload         string     `grove:"payload"`          // JSON text
	PreviousPayload string     `grove:"previous_payload"` // JSON text
	NextAttemptAt   time.Time  `grove:"next_attempt_at"`
	EnqueuedAt      time.Time  `grove:"enqueued_at"`
	LockedAt        *time.Time `grove:"locked_at"`
}

func toJobModel(j *delivery.Job) *jobModel {
	regID := ""
	if !j.RegistrationID.IsNil() {
		regID = j.RegistrationID.String()
	}

	headers, _ := json.Marshal(j.Headers) //nolint:errcheck // best-effort

	return &jobModel{
		EventID:         j.EventID.String(),
		RegistrationID:  regID,
		TenantID:        j.TenantID,
		Direction:       string(j.Direction),
		Provider:        j.Provider,
		EventType:       j.EventType,
		URL:             j.URL,
		Secret:          j.Secret,
		Headers:         string(headers),
		Payload:         string(j.Payload),
		PreviousPayload: string(j.PreviousPayload),
		NextAttemptAt:   j.NextAttemptAt,
		EnqueuedAt:      j.EnqueuedAt,
	}
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

	var previous json.RawMessage
	if m.PreviousPayload != "" {
		previous = json.RawMessage(m.PreviousPayload)
	}

	var headers map[string]string
	if m.Headers != "" {
		_ = json.Unmarshal([]byte(m.Headers), &headers) //nolint:errcheck // best-effort
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
		Headers:         headers,
		Payload:         json.RawMessage(m.Payload),
		PreviousPayload: previous,
		NextAttemptAt:   m.NextAttemptAt,
		EnqueuedAt:      m.EnqueuedAt,
	}, nil
}

// --- DLQ models ---

type dlqEntryModel struct {
	grove.BaseModel `grove:"table:hookline_dlq"`

	ID              string     `grove:"id,pk"`
	EventID         string     `grove:"event_id"`
	RegistrationID  string     `grove:"registration_id"`
	Direction       string     `grove:"direction"`
	Provider        string     `grove:"provider"`
	EventType       string     `grove:"event_type"`
	TenantID        string     `grove:"tenant_id"`
	Payload         string     `grove:"payload"`          // JSON text
	PreviousPayload string     `grove:"previous_payload"` // JSON text
	Error           string     `grove:"error"`
	AttemptCount    int        `grove:"attempt_count"`
	LastStatusCode  int        `grove:"last_status_code"`
	ReplayedAt      *time.Time `grove:"replayed_at"`
	FailedAt        time.Time  `grove:"failed_at"`
	CreatedAt       time.Time  `grove:"created_at"`
	UpdatedAt       time.Time  `grove:"updated_at"`
}

func toDLQEntryModel(e *dlq.Entry) *dlqEntryModel {
	regID := ""
	if !e.RegistrationID.IsNil() {
		regID = e.RegistrationID.String()
	}

	return &dlqEntryModel{
		ID:              e.ID.String(),
		EventID:         e.EventID.String(),
		RegistrationID:  regID,
		Direction:       string(e.Direction),
		Provider:        e.Provider,
		EventType:       e.EventType,
		TenantID:        e.TenantID,
		Payload:         string(e.Payload),
		PreviousPayload: string(e.PreviousPayload),
		Error:           e.Error,
		AttemptCount:    e.AttemptCount,
		LastStatusCode:  e.LastStatusCode,
		ReplayedAt:      e.ReplayedAt,
		FailedAt:        e.FailedAt,
		CreatedAt:       e.CreatedAt,
		UpdatedAt:       e.UpdatedAt,
	}
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

	var previous json.RawMessage
	if m.PreviousPayload != "" {
		previous = json.RawMessage(m.PreviousPayload)
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
		Payload:         json.RawMessage(m.Payload),
		PreviousPayload: previous,
		Error:           m.Error,
		AttemptCount:    m.AttemptCount,
		LastStatusCode:  m.LastStatusCode,
		ReplayedAt:      m.ReplayedAt,
		FailedAt:        m.FailedAt,
	}, nil
}
