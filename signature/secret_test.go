package signature_test

import (
	"strings"
	"testing"

	"github.com/hookline/hookline/signature"
)

func TestGenerateSecretFormat(t *testing.T) {
	secret := signature.GenerateSecret()

	if !strings.HasPrefix(secret, "whsec_") {
		t.Errorf("expected prefix 'whsec_', got %q", secret)
	}

	// whsec_ (6) + 64 hex chars (32 bytes) = 70 total
	if len(secret) != 70 {
		t.Errorf("expected length 70, got %d for %q", len(secret), secret)
	}
}

func TestGenerateSecretUniqueness(t *testing.T) {
	a := signature.GenerateSecret()
	b := signature.GenerateSecret()
	if a == b {
		t.Errorf("two consecutive GenerateSecret() calls returned the same value: %q", a)
	}
}

func TestNewNonceFormat(t *testing.T) {
	nonce := signature.NewNonce()

	// 16 bytes hex = 32 characters.
	if len(nonce) != 32 {
		t.Errorf("expected length 32, got %d for %q", len(nonce), nonce)
	}

	for i, c := range nonce {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			t.Errorf("non-hex character at position %d: %c in %q", i, c, nonce)
		}
	}
}
