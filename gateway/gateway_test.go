package gateway_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hookline/hookline/event"
	"github.com/hookline/hookline/gateway"
	kvmemory "github.com/hookline/hookline/kv/memory"
	"github.com/hookline/hookline/registration"
	"github.com/hookline/hookline/security"
	"github.com/hookline/hookline/signature"
	"github.com/hookline/hookline/store/memory"
)

func ctx() context.Context { return context.Background() }

func hmacHex(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func newHandler(t *testing.T, cfg gateway.Config, secCfg security.Config) (*gateway.Handler, *memory.Store, *security.Filter) {
	t.Helper()
	s := memory.New()
	filter := security.NewFilter(kvmemory.New(), secCfg, nil)
	h := gateway.NewHandler(cfg, filter, signature.NewStrategies(), s, nil, nil, nil)
	return h, s, filter
}

func post(h http.Handler, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.RemoteAddr = "203.0.113.7:49152"
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestReceiveHappyPath(t *testing.T) {
	h, s, _ := newHandler(t, gateway.Config{
		Providers: map[string]gateway.ProviderConfig{
			"zoho": {TenantID: "t1"},
		},
	}, security.DefaultConfig())

	w := post(h, "/zoho", `{"module":"invoices","operation":"created"}`, nil)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"received":true`) {
		t.Fatalf("unexpected body %q", w.Body.String())
	}

	events, _ := s.ListEvents(ctx(), event.ListOpts{})
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	evt := events[0]
	if evt.Direction != event.DirectionInbound {
		t.Fatalf("expected inbound, got %s", evt.Direction)
	}
	if evt.TenantID != "t1" {
		t.Fatalf("expected configured tenant, got %q", evt.TenantID)
	}
	if evt.SourceIP != "203.0.113.7" {
		t.Fatalf("expected socket peer IP, got %q", evt.SourceIP)
	}

	pending, _ := s.CountPendingJobs(ctx())
	if pending != 1 {
		t.Fatalf("expected 1 queued job, got %d", pending)
	}
}

func TestReceiveBlockedIP(t *testing.T) {
	h, s, filter := newHandler(t, gateway.Config{}, security.DefaultConfig())

	if err := filter.BlockIP(ctx(), "203.0.113.7", "abuse", time.Hour); err != nil {
		t.Fatal(err)
	}

	w := post(h, "/zoho", `{}`, nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}

	events, _ := s.ListEvents(ctx(), event.ListOpts{})
	if len(events) != 0 {
		t.Fatal("expected nothing persisted")
	}
}

func TestReceiveRateLimited(t *testing.T) {
	secCfg := security.DefaultConfig()
	secCfg.DefaultRateLimitMax = 1
	h, _, _ := newHandler(t, gateway.Config{}, secCfg)

	if w := post(h, "/zoho", `{}`, nil); w.Code != http.StatusOK {
		t.Fatalf("first request expected 200, got %d", w.Code)
	}

	w := post(h, "/zoho", `{}`, nil)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
}

func TestReceiveInvalidSignatureAnswers200(t *testing.T) {
	h, s, _ := newHandler(t, gateway.Config{
		Providers: map[string]gateway.ProviderConfig{
			"zoho": {Secret: "zoho-secret", TenantID: "t1"},
		},
	}, security.DefaultConfig())

	w := post(h, "/zoho", `{"module":"invoices"}`, map[string]string{
		"X-Zoho-Signature": "deadbeef",
	})

	// Signature failures are indistinguishable from success to the caller.
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	events, _ := s.ListEvents(ctx(), event.ListOpts{})
	if len(events) != 0 {
		t.Fatal("expected nothing persisted for a bad signature")
	}
}

func TestReceiveValidSignatureLinksRegistration(t *testing.T) {
	s := memory.New()
	filter := security.NewFilter(kvmemory.New(), security.DefaultConfig(), nil)

	regSvc := registration.NewService(s, s, nil)
	reg, err := regSvc.Register(ctx(), registration.Input{
		TenantID: "linked-tenant",
		URL:      "https://example.com/sink",
		Events:   []string{"*"},
		Secret:   "whsec_zoho_inbound",
	})
	if err != nil {
		t.Fatal(err)
	}

	h := gateway.NewHandler(gateway.Config{
		Providers: map[string]gateway.ProviderConfig{
			"zoho": {Secret: "whsec_zoho_inbound", TenantID: "fallback-tenant"},
		},
	}, filter, signature.NewStrategies(), s, nil, nil, nil)

	body := `{"module":"invoices"}`
	sig := hmacHex("whsec_zoho_inbound", []byte(body))

	w := post(h, "/zoho", body, map[string]string{"X-Zoho-Signature": sig})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	events, _ := s.ListEvents(ctx(), event.ListOpts{})
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].RegistrationID != reg.ID {
		t.Fatal("expected event linked to the matching registration")
	}
	if events[0].TenantID != "linked-tenant" {
		t.Fatalf("expected registration tenant, got %q", events[0].TenantID)
	}
}

func TestReceiveMalformedJSONAnswers200(t *testing.T) {
	h, s, _ := newHandler(t, gateway.Config{}, security.DefaultConfig())

	w := post(h, "/zoho", `{not json`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	events, _ := s.ListEvents(ctx(), event.ListOpts{})
	if len(events) != 0 {
		t.Fatal("expected nothing persisted for malformed JSON")
	}
}

func TestReceiveOversizedBodyAnswers200(t *testing.T) {
	h, s, _ := newHandler(t, gateway.Config{MaxBodyBytes: 64}, security.DefaultConfig())

	w := post(h, "/zoho", `{"pad":"`+strings.Repeat("x", 128)+`"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	events, _ := s.ListEvents(ctx(), event.ListOpts{})
	if len(events) != 0 {
		t.Fatal("expected nothing persisted for oversized body")
	}
}

func TestHandshake(t *testing.T) {
	h, _, _ := newHandler(t, gateway.Config{
		Providers: map[string]gateway.ProviderConfig{
			"whatsapp": {VerifyToken: "expected-token"},
		},
	}, security.DefaultConfig())

	req := httptest.NewRequest(http.MethodGet,
		"/whatsapp?hub.mode=subscribe&hub.verify_token=expected-token&hub.challenge=12345", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Body.String() != "12345" {
		t.Fatalf("expected challenge echo, got %q", w.Body.String())
	}
}

func TestHandshakeWrongToken(t *testing.T) {
	h, _, _ := newHandler(t, gateway.Config{
		Providers: map[string]gateway.ProviderConfig{
			"whatsapp": {VerifyToken: "expected-token"},
		},
	}, security.DefaultConfig())

	req := httptest.NewRequest(http.MethodGet,
		"/whatsapp?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12345", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestXForwardedForPrecedence(t *testing.T) {
	h, s, _ := newHandler(t, gateway.Config{}, security.DefaultConfig())

	w := post(h, "/zoho", `{}`, map[string]string{
		"X-Forwarded-For": "198.51.100.9, 10.0.0.1",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	events, _ := s.ListEvents(ctx(), event.ListOpts{})
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].SourceIP != "198.51.100.9" {
		t.Fatalf("expected first forwarded hop, got %q", events[0].SourceIP)
	}
}
