package observability

import (
	"testing"

	gu "github.com/xraph/go-utils/metrics"
)

func TestNewMetrics_Instruments(t *testing.T) {
	m := NewMetrics(gu.NewMetricsCollector("test"))

	if m.IngestedTotal == nil {
		t.Fatal("IngestedTotal should not be nil")
	}
	if m.RejectedTotal == nil {
		t.Fatal("RejectedTotal should not be nil")
	}
	if m.DeliveriesTotal == nil {
		t.Fatal("DeliveriesTotal should not be nil")
	}
	if m.DeliveryLatency == nil {
		t.Fatal("DeliveryLatency should not be nil")
	}
	if m.DLQSize == nil {
		t.Fatal("DLQSize should not be nil")
	}
	if m.PendingJobs == nil {
		t.Fatal("PendingJobs should not be nil")
	}
}

func TestRecordHelpers(t *testing.T) {
	m := NewMetrics(gu.NewMetricsCollector("test"))

	// Must not panic with label combinations.
	m.RecordIngest("zoho")
	m.RecordReject("zoho", "signature")
	m.RecordDelivery("completed", 0.5)
	m.RecordDelivery("retried", 1.2)
	m.RecordDelivery("failed", 0.3)
	m.DLQSize.Set(42)
	m.PendingJobs.Set(100)
}
