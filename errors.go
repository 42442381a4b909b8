package hookline

import "errors"

// Sentinel errors returned by Hookline operations.
var (
	// ErrNoStore is returned when a Hookline is created without a store.
	ErrNoStore = errors.New("hookline: store is required")

	// ErrNoKV is returned when a Hookline is created without a key-value store.
	ErrNoKV = errors.New("hookline: kv store is required")

	// ErrRegistrationNotFound is returned when a registration cannot be found.
	ErrRegistrationNotFound = errors.New("hookline: registration not found")

	// ErrRegistrationDeleted is returned when operating on a soft-deleted registration.
	ErrRegistrationDeleted = errors.New("hookline: registration is deleted")

	// ErrEventTypeNotFound is returned when an event type is not registered in the catalog.
	ErrEventTypeNotFound = errors.New("hookline: event type not found")

	// ErrEventTypeDeprecated is returned when triggering an event with a deprecated type.
	ErrEventTypeDeprecated = errors.New("hookline: event type is deprecated")

	// ErrPayloadValidationFailed is returned when event data fails JSON Schema validation.
	ErrPayloadValidationFailed = errors.New("hookline: payload validation failed")

	// ErrEventNotFound is returned when an event cannot be found.
	ErrEventNotFound = errors.New("hookline: event not found")

	// ErrEventNotRetryable is returned when retrying an event that is not in the failed state.
	ErrEventNotRetryable = errors.New("hookline: event is not in a retryable state")

	// ErrInvalidTransition is returned when an event status transition would move backwards.
	ErrInvalidTransition = errors.New("hookline: invalid event status transition")

	// ErrStoreClosed is returned when a store operation is attempted after the store is closed.
	ErrStoreClosed = errors.New("hookline: store is closed")

	// ErrMigrationFailed is returned when a database migration fails.
	ErrMigrationFailed = errors.New("hookline: migration failed")

	// ErrDLQNotFound is returned when a DLQ entry cannot be found.
	ErrDLQNotFound = errors.New("hookline: dlq entry not found")
)
