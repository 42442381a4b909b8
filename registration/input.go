package registration

// Input is the creation/update payload for registrations.
type Input struct {
	// TenantID identifies the tenant that owns this registration.
	TenantID string `json:"tenant_id"`

	// IntegrationID links the registration to a provider integration.
	IntegrationID string `json:"integration_id"`

	// URL is the delivery destination. Must be https.
	URL string `json:"url"`

	// Secret is the HMAC signing secret. Auto-generated if empty on create.
	Secret string `json:"secret"`

	// Events are glob patterns for event type subscriptions.
	Events []string `json:"events"`

	// Headers are custom HTTP headers sent with each delivery.
	Headers map[string]string `json:"headers,omitempty"`

	// RateLimit is the maximum deliveries per second. 0 means unlimited.
	RateLimit int `json:"rate_limit"`

	// Metadata holds user-defined key-value pairs.
	Metadata map[string]string `json:"metadata,omitempty"`
}
