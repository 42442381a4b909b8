package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/hookline/hookline/signature"
)

const maxResponseBody = 1024 // 1KB cap on response body storage

// envelope is the JSON body sent to destination endpoints.
type envelope struct {
	ID           string          `json:"id"`
	Event        string          `json:"event"`
	Timestamp    int64           `json:"timestamp"`
	Data         json.RawMessage `json:"data"`
	PreviousData json.RawMessage `json:"previous_data,omitempty"`
}

// Sender performs HTTP webhook delivery.
type Sender struct {
	client *http.Client
}

// NewSender creates a sender with the given HTTP timeout.
func NewSender(timeout time.Duration) *Sender {
	return &Sender{
		client: &http.Client{Timeout: timeout},
	}
}

// Send delivers a job to its destination and returns the result. The job
// carries everything the delivery needs; the registration is not consulted.
func (s *Sender) Send(ctx context.Context, j *Job) Result {
	ts := time.Now().Unix()

	body, err := json.Marshal(envelope{
		ID:           j.EventID.String(),
		Event:        j.EventType,
		Timestamp:    ts,
		Data:         j.Payload,
		PreviousData: j.PreviousPayload,
	})
	if err != nil {
		return Result{Error: fmt.Sprintf("marshal payload: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, j.URL, bytes.NewReader(body))
	if err != nil {
		return Result{Error: fmt.Sprintf("create request: %v", err)}
	}

	// Standard headers.
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Hookline/1.0")
	req.Header.Set("X-Hookline-Event-ID", j.EventID.String())
	req.Header.Set("X-Hookline-Event-Type", j.EventType)

	// HMAC signature with timestamp and nonce.
	nonce := signature.NewNonce()
	sig := signature.Sign(body, j.Secret, ts, nonce)
	req.Header.Set(signature.HeaderSignature, sig)
	req.Header.Set(signature.HeaderTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(signature.HeaderNonce, nonce)

	// Custom registration headers, captured at enqueue time.
	for k, v := range j.Headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := s.client.Do(req) //nolint:gosec // G704: the URL is the registered webhook destination.
	latency := time.Since(start).Milliseconds()

	if err != nil {
		return Result{
			Error:     err.Error(),
			LatencyMs: int(latency),
		}
	}
	defer resp.Body.Close()

	respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if readErr != nil {
		return Result{
			StatusCode: resp.StatusCode,
			Error:      fmt.Sprintf("read response: %v", readErr),
			LatencyMs:  int(latency),
		}
	}

	return Result{
		StatusCode: resp.StatusCode,
		Response:   string(respBody),
		LatencyMs:  int(latency),
	}
}
