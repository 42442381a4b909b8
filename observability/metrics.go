package observability

import (
	gu "github.com/xraph/go-utils/metrics"
)

// Metrics holds metric instruments for Hookline, backed by any go-utils
// MetricFactory (e.g. metrics.NewMetricsCollector() for standalone usage).
type Metrics struct {
	IngestedTotal    gu.Counter
	TriggeredTotal   gu.Counter
	RejectedTotal    gu.Counter
	DeliveriesTotal  gu.Counter
	DeliveryLatency  gu.Histogram
	DLQSize          gu.Gauge
	PendingJobs      gu.Gauge
	PausedEndpoints  gu.Counter
	RateLimitedTotal gu.Counter
}

// NewMetrics creates Hookline metric instruments using the supplied factory.
func NewMetrics(factory gu.MetricFactory) *Metrics {
	return &Metrics{
		IngestedTotal:    factory.Counter("hookline_events_ingested_total"),
		TriggeredTotal:   factory.Counter("hookline_events_triggered_total"),
		RejectedTotal:    factory.Counter("hookline_requests_rejected_total"),
		DeliveriesTotal:  factory.Counter("hookline_deliveries_total"),
		DeliveryLatency:  factory.Histogram("hookline_delivery_latency_seconds"),
		DLQSize:          factory.Gauge("hookline_dlq_size"),
		PendingJobs:      factory.Gauge("hookline_pending_jobs"),
		PausedEndpoints:  factory.Counter("hookline_registrations_paused_total"),
		RateLimitedTotal: factory.Counter("hookline_rate_limited_total"),
	}
}

// RecordIngest records an accepted inbound event for a provider.
func (m *Metrics) RecordIngest(provider string) {
	m.IngestedTotal.WithLabels(map[string]string{"provider": provider}).Inc()
}

// RecordReject records a rejected inbound request with the given reason.
func (m *Metrics) RecordReject(provider, reason string) {
	m.RejectedTotal.WithLabels(map[string]string{"provider": provider, "reason": reason}).Inc()
}

// RecordDelivery records a delivery attempt with the given outcome and latency.
func (m *Metrics) RecordDelivery(status string, latencySeconds float64) {
	m.DeliveriesTotal.WithLabels(map[string]string{"status": status}).Inc()
	m.DeliveryLatency.Observe(latencySeconds)
}
