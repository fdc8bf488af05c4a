package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestFulfillmentMetricsRecordsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewFulfillmentMetrics(reg)

	m.IncLedgerRetry()
	m.AddReservations("created", 3)
	m.AddReservations("expired", 0)
	m.RolledBack("order_create", 2, false)
	m.RolledBack("order_create", 2, true)
	m.IncConfirmation("duplicate")
	m.IncRefund("Completed")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	if got, err := fetchCounterValue(mfs, "campusstore_reservations_total", "action", "created"); err != nil || got != 3 {
		t.Fatalf("expected created=3, got %f (%v)", got, err)
	}
	if _, err := fetchCounterValue(mfs, "campusstore_reservations_total", "action", "expired"); err == nil {
		t.Fatal("expected zero-sized add to be skipped")
	}
	if got, err := fetchCounterValue(mfs, "campusstore_saga_rollbacks_total", "result", "compensation_failed"); err != nil || got != 1 {
		t.Fatalf("expected one failed rollback, got %f (%v)", got, err)
	}
	if got, err := fetchCounterValue(mfs, "campusstore_payment_confirmations_total", "result", "duplicate"); err != nil || got != 1 {
		t.Fatalf("expected duplicate=1, got %f (%v)", got, err)
	}
	if got, err := fetchCounterValue(mfs, "campusstore_refunds_total", "status", "completed"); err != nil || got != 1 {
		t.Fatalf("expected completed=1, got %f (%v)", got, err)
	}
	mf := findMetricFamily(mfs, "campusstore_ledger_cas_retries_total")
	if mf == nil || mf.GetMetric()[0].GetCounter().GetValue() != 1 {
		t.Fatal("expected one ledger retry")
	}
}

func TestFulfillmentMetricsNilSafe(t *testing.T) {
	var m *FulfillmentMetrics
	m.IncLedgerRetry()
	m.AddReservations("created", 1)
	m.RolledBack("x", 1, true)
	m.IncConfirmation("ok")
	m.IncRefund("pending")

	NewFulfillmentMetrics(nil).IncLedgerRetry()
}

func TestOutboxMetricsRecordsPublishes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewOutboxMetrics(reg)

	m.IncOutboxPublish("kafka", "published")
	m.IncOutboxPublish("kafka", "published")
	m.SetUnpublished(4)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got, err := fetchCounterValue(mfs, "campusstore_outbox_publish_total", "result", "published"); err != nil || got != 2 {
		t.Fatalf("expected published=2, got %f (%v)", got, err)
	}

	var nilMetrics *OutboxMetrics
	nilMetrics.IncOutboxPublish("pubsub", "failed")
}
