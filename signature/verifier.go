package signature

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Verification errors returned by strategies.
var (
	// ErrMissingSignature is returned when the provider's signature header is absent.
	ErrMissingSignature = errors.New("signature: signature header is required")

	// ErrInvalidSignature is returned when the signature does not match the payload.
	ErrInvalidSignature = errors.New("signature: invalid signature")

	// ErrInvalidTimestamp is returned when the timestamp header is malformed.
	ErrInvalidTimestamp = errors.New("signature: invalid signature timestamp")

	// ErrTimestampExpired is returned when the timestamp is outside the allowed skew.
	ErrTimestampExpired = errors.New("signature: timestamp outside allowed skew")
)

// Strategy verifies an inbound webhook signature for one provider.
// Each provider differs in header name and canonicalization rule; new
// providers register an implementation in a Strategies table.
type Strategy interface {
	// Provider returns the provider name this strategy handles.
	Provider() string

	// Verify checks the signature headers against the raw request body.
	Verify(headers http.Header, body []byte, secret string, now time.Time) error
}

// Strategies is a typed registry of per-provider verification strategies
// with a generic fallback for unlisted providers.
type Strategies struct {
	byProvider map[string]Strategy
	fallback   Strategy
}

// NewStrategies creates a registry pre-populated with the built-in provider
// strategies and the generic fallback.
func NewStrategies() *Strategies {
	s := &Strategies{
		byProvider: make(map[string]Strategy),
		fallback:   GenericStrategy{},
	}
	s.Register(ZohoStrategy{})
	s.Register(WhatsAppStrategy{})
	s.Register(QuickBooksStrategy{})
	return s
}

// Register adds or replaces the strategy for a provider.
func (s *Strategies) Register(strategy Strategy) {
	s.byProvider[strategy.Provider()] = strategy
}

// For returns the strategy for a provider, or the generic fallback when the
// provider has no dedicated strategy.
func (s *Strategies) For(provider string) Strategy {
	if strategy, ok := s.byProvider[provider]; ok {
		return strategy
	}
	return s.fallback
}

// Verify runs the provider's strategy against the request.
func (s *Strategies) Verify(provider string, headers http.Header, body []byte, secret string, now time.Time) error {
	return s.For(provider).Verify(headers, body, secret, now)
}

// ──────────────────────────────────────────────────
// Provider strategies
// ──────────────────────────────────────────────────

// ZohoStrategy verifies Zoho-style callbacks: hex HMAC-SHA256 over the raw
// body in the X-Zoho-Signature header. Zoho does not send a timestamp.
type ZohoStrategy struct{}

// Provider returns "zoho".
func (ZohoStrategy) Provider() string { return "zoho" }

// Verify checks the X-Zoho-Signature header.
func (ZohoStrategy) Verify(headers http.Header, body []byte, secret string, _ time.Time) error {
	sig := headers.Get("X-Zoho-Signature")
	if sig == "" {
		return ErrMissingSignature
	}
	if !equalConstantTime(hmacHex(secret, body), sig) {
		return ErrInvalidSignature
	}
	return nil
}

// WhatsAppStrategy verifies Meta-style callbacks: "sha256=<hex>" HMAC over
// the raw body in the X-Hub-Signature-256 header.
type WhatsAppStrategy struct{}

// Provider returns "whatsapp".
func (WhatsAppStrategy) Provider() string { return "whatsapp" }

// Verify checks the X-Hub-Signature-256 header.
func (WhatsAppStrategy) Verify(headers http.Header, body []byte, secret string, _ time.Time) error {
	sig := headers.Get("X-Hub-Signature-256")
	if sig == "" {
		return ErrMissingSignature
	}
	expected := "sha256=" + hmacHex(secret, body)
	if !equalConstantTime(expected, sig) {
		return ErrInvalidSignature
	}
	return nil
}

// QuickBooksStrategy verifies Intuit-style callbacks: base64 HMAC-SHA256
// over the raw body in the Intuit-Signature header.
type QuickBooksStrategy struct{}

// Provider returns "quickbooks".
func (QuickBooksStrategy) Provider() string { return "quickbooks" }

// Verify checks the Intuit-Signature header.
func (QuickBooksStrategy) Verify(headers http.Header, body []byte, secret string, _ time.Time) error {
	sig := headers.Get("Intuit-Signature")
	if sig == "" {
		return ErrMissingSignature
	}
	expected := base64.StdEncoding.EncodeToString(hmacRaw(secret, body))
	if !equalConstantTime(expected, sig) {
		return ErrInvalidSignature
	}
	return nil
}

// GenericStrategy is the fallback for unlisted providers: hex HMAC-SHA256
// over "{timestamp}.{body}" in the X-Webhook-Signature header, with the unix
// timestamp in X-Webhook-Timestamp. Timestamps outside MaxSkew are rejected.
type GenericStrategy struct{}

// Provider returns "generic".
func (GenericStrategy) Provider() string { return "generic" }

// Verify checks the X-Webhook-Signature and X-Webhook-Timestamp headers.
func (GenericStrategy) Verify(headers http.Header, body []byte, secret string, now time.Time) error {
	sig := headers.Get("X-Webhook-Signature")
	if sig == "" {
		return ErrMissingSignature
	}

	tsHeader := headers.Get("X-Webhook-Timestamp")
	ts, err := strconv.ParseInt(strings.TrimSpace(tsHeader), 10, 64)
	if err != nil {
		return ErrInvalidTimestamp
	}
	if !freshTimestamp(ts, now) {
		return ErrTimestampExpired
	}

	content := strconv.FormatInt(ts, 10) + "." + string(body)
	if !equalConstantTime(hmacHex(secret, []byte(content)), sig) {
		return ErrInvalidSignature
	}
	return nil
}

// SignGeneric produces headers matching GenericStrategy for testing and for
// systems that loop Hookline output back into the gateway.
func SignGeneric(body []byte, secret string, ts int64) (sig, timestamp string) {
	content := strconv.FormatInt(ts, 10) + "." + string(body)
	return hmacHex(secret, []byte(content)), strconv.FormatInt(ts, 10)
}
