// Package signature provides HMAC-SHA256 webhook signing and verification.
//
// Outbound deliveries are signed with a timestamp and nonce so receivers can
// bound replay risk. Inbound callbacks are verified by provider-specific
// strategies; see Strategies.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Header names attached to every outbound delivery.
const (
	HeaderSignature = "X-Hookline-Signature"
	HeaderTimestamp = "X-Hookline-Timestamp"
	HeaderNonce     = "X-Hookline-Nonce"
)

// MaxSkew is the maximum allowed difference between a signature timestamp
// and server time. Timestamps outside this window are rejected to bound
// replay risk.
const MaxSkew = 300 * time.Second

// Signer computes HMAC-SHA256 signatures for outbound webhook payloads.
type Signer struct{}

// NewSigner returns a new Signer.
func NewSigner() *Signer {
	return &Signer{}
}

// Sign generates the HMAC-SHA256 signature for the given payload.
// The content to sign is "{timestamp}.{nonce}.{payload}".
// Returns a versioned signature in the format "v1=<hex>".
func (s *Signer) Sign(payload []byte, secret string, timestamp int64, nonce string) string {
	return Sign(payload, secret, timestamp, nonce)
}

// Sign generates the HMAC-SHA256 signature for the given payload.
// The content to sign is "{timestamp}.{nonce}.{payload}".
// Returns a versioned signature in the format "v1=<hex>".
func Sign(payload []byte, secret string, timestamp int64, nonce string) string {
	content := fmt.Sprintf("%d.%s.%s", timestamp, nonce, payload)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(content))
	return "v1=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks whether the given signature matches the expected HMAC-SHA256
// signature for the payload, secret, timestamp and nonce, and that the
// timestamp is within MaxSkew of now.
func Verify(payload []byte, secret string, timestamp int64, nonce, sig string, now time.Time) bool {
	if !freshTimestamp(timestamp, now) {
		return false
	}
	expected := Sign(payload, secret, timestamp, nonce)
	return hmac.Equal([]byte(expected), []byte(sig))
}

// freshTimestamp reports whether ts (unix seconds) is within MaxSkew of now.
func freshTimestamp(ts int64, now time.Time) bool {
	diff := now.Unix() - ts
	if diff < 0 {
		diff = -diff
	}
	return diff <= int64(MaxSkew/time.Second)
}

// hmacHex computes the hex-encoded HMAC-SHA256 of content with secret.
func hmacHex(secret string, content []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(content)
	return hex.EncodeToString(mac.Sum(nil))
}

// hmacRaw computes the raw HMAC-SHA256 of content with secret.
func hmacRaw(secret string, content []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(content)
	return mac.Sum(nil)
}

// equalConstantTime compares two signature strings in constant time.
func equalConstantTime(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}
