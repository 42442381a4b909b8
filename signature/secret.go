package signature

import (
	"crypto/rand"
	"encoding/hex"
)

// GenerateSecret creates a cryptographically random signing secret.
// Format: "whsec_" + 32 bytes hex = 70 characters total.
func GenerateSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic("hookline: failed to generate random secret: " + err.Error())
	}
	return "whsec_" + hex.EncodeToString(b)
}

// NewNonce creates a random 16-byte hex nonce for outbound signatures.
func NewNonce() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic("hookline: failed to generate nonce: " + err.Error())
	}
	return hex.EncodeToString(b)
}
