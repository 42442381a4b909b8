package delivery_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/hookline/hookline/delivery"
	"github.com/hookline/hookline/event"
	"github.com/hookline/hookline/id"
	"github.com/hookline/hookline/signature"
)

const testSecret = "whsec_test_secret_1234567890abcdef1234567890abcdef"

func newTestJob(url string) *delivery.Job {
	return &delivery.Job{
		EventID:        id.NewEventID(),
		RegistrationID: id.NewRegistrationID(),
		TenantID:       "tenant-1",
		Direction:      event.DirectionOutbound,
		EventType:      "test.event",
		URL:            url,
		Secret:         testSecret,
		Payload:        json.RawMessage(`{"hello":"world"}`),
		NextAttemptAt:  time.Now().UTC(),
		EnqueuedAt:     time.Now().UTC(),
	}
}

func TestSenderHappyPath(t *testing.T) {
	var receivedHeaders http.Header
	var receivedBody []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedHeaders = r.Header
		receivedBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	sender := delivery.NewSender(5 * time.Second)
	job := newTestJob(srv.URL)

	result := sender.Send(context.Background(), job)

	if result.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", result.StatusCode)
	}
	if result.Error != "" {
		t.Fatalf("unexpected error: %s", result.Error)
	}
	if result.Response != `{"ok":true}` {
		t.Fatalf("unexpected response: %s", result.Response)
	}
	if result.LatencyMs < 0 {
		t.Fatal("latency should be non-negative")
	}

	// Verify the envelope shape.
	var body struct {
		ID        string          `json:"id"`
		Event     string          `json:"event"`
		Timestamp int64           `json:"timestamp"`
		Data      json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(receivedBody, &body); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if body.ID != job.EventID.String() {
		t.Fatalf("body id: got %q, want %q", body.ID, job.EventID.String())
	}
	if body.Event != "test.event" {
		t.Fatalf("body event: got %q", body.Event)
	}
	if body.Timestamp == 0 {
		t.Fatal("body timestamp missing")
	}
	if string(body.Data) != `{"hello":"world"}` {
		t.Fatalf("body data: got %s", body.Data)
	}

	// Verify standard headers.
	if receivedHeaders.Get("Content-Type") != "application/json" {
		t.Fatal("missing Content-Type")
	}
	if receivedHeaders.Get("User-Agent") != "Hookline/1.0" {
		t.Fatal("missing User-Agent")
	}
	if receivedHeaders.Get("X-Hookline-Event-ID") != job.EventID.String() {
		t.Fatal("missing X-Hookline-Event-ID")
	}
	if receivedHeaders.Get("X-Hookline-Event-Type") != "test.event" {
		t.Fatal("missing X-Hookline-Event-Type")
	}

	// Verify HMAC signature headers.
	sig := receivedHeaders.Get(signature.HeaderSignature)
	ts := receivedHeaders.Get(signature.HeaderTimestamp)
	nonce := receivedHeaders.Get(signature.HeaderNonce)
	if sig == "" || ts == "" || nonce == "" {
		t.Fatal("missing signature headers")
	}
	if !strings.HasPrefix(sig, "v1=") {
		t.Fatal("signature should start with v1=")
	}
}

func TestSenderSignatureVerifies(t *testing.T) {
	var receivedSig, receivedTS, receivedNonce string
	var receivedBody []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedSig = r.Header.Get(signature.HeaderSignature)
		receivedTS = r.Header.Get(signature.HeaderTimestamp)
		receivedNonce = r.Header.Get(signature.HeaderNonce)
		receivedBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sender := delivery.NewSender(5 * time.Second)
	job := newTestJob(srv.URL)

	sender.Send(context.Background(), job)

	ts, err := strconv.ParseInt(receivedTS, 10, 64)
	if err != nil {
		t.Fatalf("parse timestamp: %v", err)
	}

	// The signature is computed from the job's own secret.
	if !signature.Verify(receivedBody, job.Secret, ts, receivedNonce, receivedSig, time.Now()) {
		t.Fatal("signature verification failed")
	}
}

func TestSenderPreviousData(t *testing.T) {
	var receivedBody []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sender := delivery.NewSender(5 * time.Second)
	job := newTestJob(srv.URL)
	job.PreviousPayload = json.RawMessage(`{"hello":"old"}`)

	sender.Send(context.Background(), job)

	var body map[string]json.RawMessage
	if err := json.Unmarshal(receivedBody, &body); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if string(body["previous_data"]) != `{"hello":"old"}` {
		t.Fatalf("previous_data: got %s", body["previous_data"])
	}
}

func TestSenderCustomHeaders(t *testing.T) {
	var receivedHeaders http.Header

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedHeaders = r.Header
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sender := delivery.NewSender(5 * time.Second)
	job := newTestJob(srv.URL)
	job.Headers = map[string]string{
		"X-Custom-Header": "custom-value",
		"Authorization":   "Bearer token123",
	}

	result := sender.Send(context.Background(), job)

	if result.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", result.StatusCode)
	}
	if receivedHeaders.Get("X-Custom-Header") != "custom-value" {
		t.Fatal("missing custom header")
	}
	if receivedHeaders.Get("Authorization") != "Bearer token123" {
		t.Fatal("missing Authorization header")
	}
}

func TestSenderTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sender := delivery.NewSender(50 * time.Millisecond)
	job := newTestJob(srv.URL)

	result := sender.Send(context.Background(), job)

	if result.StatusCode != 0 {
		t.Fatalf("expected status 0 on timeout, got %d", result.StatusCode)
	}
	if result.Error == "" {
		t.Fatal("expected error on timeout")
	}
	if result.LatencyMs <= 0 {
		t.Fatal("expected positive latency")
	}
}

func TestSenderConnectionRefused(t *testing.T) {
	sender := delivery.NewSender(5 * time.Second)
	job := newTestJob("http://127.0.0.1:1") // port 1 should refuse connections

	result := sender.Send(context.Background(), job)

	if result.StatusCode != 0 {
		t.Fatalf("expected status 0 on connection refused, got %d", result.StatusCode)
	}
	if result.Error == "" {
		t.Fatal("expected error on connection refused")
	}
}

func TestSenderServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("internal error"))
	}))
	defer srv.Close()

	sender := delivery.NewSender(5 * time.Second)
	job := newTestJob(srv.URL)

	result := sender.Send(context.Background(), job)

	if result.StatusCode != 500 {
		t.Fatalf("expected 500, got %d", result.StatusCode)
	}
	if result.Response != "internal error" {
		t.Fatalf("unexpected response: %s", result.Response)
	}
}
