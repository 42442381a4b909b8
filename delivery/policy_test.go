package delivery_test

import (
	"testing"
	"time"

	"github.com/hookline/hookline/delivery"
)

func TestPolicyDecide(t *testing.T) {
	schedule := []time.Duration{1 * time.Second, 5 * time.Second, 30 * time.Second}
	policy := delivery.NewPolicy(schedule, 3)

	tests := []struct {
		name     string
		result   delivery.Result
		attempts int
		want     delivery.Decision
	}{
		{
			name:     "200 OK → Completed",
			result:   delivery.Result{StatusCode: 200},
			attempts: 1,
			want:     delivery.Completed,
		},
		{
			name:     "201 Created → Completed",
			result:   delivery.Result{StatusCode: 201},
			attempts: 1,
			want:     delivery.Completed,
		},
		{
			name:     "204 No Content → Completed",
			result:   delivery.Result{StatusCode: 204},
			attempts: 1,
			want:     delivery.Completed,
		},
		{
			name:     "299 → Completed",
			result:   delivery.Result{StatusCode: 299},
			attempts: 1,
			want:     delivery.Completed,
		},
		{
			name:     "429 Too Many Requests → Retry (within limits)",
			result:   delivery.Result{StatusCode: 429},
			attempts: 1,
			want:     delivery.Retry,
		},
		{
			name:     "429 Too Many Requests → Failed (exhausted)",
			result:   delivery.Result{StatusCode: 429},
			attempts: 4,
			want:     delivery.Failed,
		},
		{
			name:     "400 Bad Request → Failed immediately",
			result:   delivery.Result{StatusCode: 400},
			attempts: 1,
			want:     delivery.Failed,
		},
		{
			name:     "401 Unauthorized → Failed immediately",
			result:   delivery.Result{StatusCode: 401},
			attempts: 1,
			want:     delivery.Failed,
		},
		{
			name:     "404 Not Found → Failed immediately",
			result:   delivery.Result{StatusCode: 404},
			attempts: 1,
			want:     delivery.Failed,
		},
		{
			name:     "410 Gone → Failed immediately",
			result:   delivery.Result{StatusCode: 410},
			attempts: 1,
			want:     delivery.Failed,
		},
		{
			name:     "422 Unprocessable → Failed immediately",
			result:   delivery.Result{StatusCode: 422},
			attempts: 1,
			want:     delivery.Failed,
		},
		{
			name:     "500 Internal Server Error → Retry (within limits)",
			result:   delivery.Result{StatusCode: 500},
			attempts: 1,
			want:     delivery.Retry,
		},
		{
			name:     "502 Bad Gateway → Retry (within limits)",
			result:   delivery.Result{StatusCode: 502},
			attempts: 2,
			want:     delivery.Retry,
		},
		{
			name:     "503 Service Unavailable → Retry (last retry)",
			result:   delivery.Result{StatusCode: 503},
			attempts: 3,
			want:     delivery.Retry,
		},
		{
			name:     "500 → Failed (retries exhausted)",
			result:   delivery.Result{StatusCode: 500},
			attempts: 4,
			want:     delivery.Failed,
		},
		{
			name:     "0 (connection error) → Retry (within limits)",
			result:   delivery.Result{StatusCode: 0, Error: "connection refused"},
			attempts: 1,
			want:     delivery.Retry,
		},
		{
			name:     "0 (timeout) → Failed (retries exhausted)",
			result:   delivery.Result{StatusCode: 0, Error: "context deadline exceeded"},
			attempts: 4,
			want:     delivery.Failed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := policy.Decide(tt.result, tt.attempts)
			if got != tt.want {
				t.Errorf("Decide() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestPolicyNextAttempt(t *testing.T) {
	schedule := []time.Duration{1 * time.Second, 5 * time.Second, 30 * time.Second}
	policy := delivery.NewPolicy(schedule, 3)

	tests := []struct {
		name      string
		attempts  int
		wantDelay time.Duration
	}{
		{"attempt 1 → 1s", 1, 1 * time.Second},
		{"attempt 2 → 5s", 2, 5 * time.Second},
		{"attempt 3 → 30s", 3, 30 * time.Second},
		{"attempt 4 → 30s (capped at last)", 4, 30 * time.Second},
		{"attempt 10 → 30s (capped at last)", 10, 30 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := time.Now().UTC()
			next := policy.NextAttempt(tt.attempts)
			after := time.Now().UTC()

			expectedMin := before.Add(tt.wantDelay)
			expectedMax := after.Add(tt.wantDelay)

			if next.Before(expectedMin.Add(-time.Millisecond)) || next.After(expectedMax.Add(time.Millisecond)) {
				t.Errorf("NextAttempt(%d) = %v, expected between %v and %v",
					tt.attempts, next, expectedMin, expectedMax)
			}
		})
	}
}

func TestPolicyBoundaryAttempts(t *testing.T) {
	schedule := []time.Duration{1 * time.Second}
	policy := delivery.NewPolicy(schedule, 2)

	// Attempt 0 should use index 0.
	_ = policy.NextAttempt(0)

	// attempts == maxRetries still retries; the retry itself is counted on
	// the next attempt.
	if got := policy.Decide(delivery.Result{StatusCode: 500}, 2); got != delivery.Retry {
		t.Errorf("expected Retry at maxRetries, got %d", got)
	}

	// One past max → Failed.
	if got := policy.Decide(delivery.Result{StatusCode: 500}, 3); got != delivery.Failed {
		t.Errorf("expected Failed past maxRetries, got %d", got)
	}
}
