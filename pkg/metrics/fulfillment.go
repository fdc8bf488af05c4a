package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// FulfillmentMetrics tracks stock ledger, reservation, payment and refund activity.
type FulfillmentMetrics struct {
	ledgerRetries prometheus.Counter
	reservations  *prometheus.CounterVec
	rollbacks     *prometheus.CounterVec
	confirmations *prometheus.CounterVec
	refunds       *prometheus.CounterVec
}

// NewFulfillmentMetrics registers the fulfillment collectors on reg. A nil
// registerer yields a no-op recorder.
func NewFulfillmentMetrics(reg prometheus.Registerer) *FulfillmentMetrics {
	if reg == nil {
		return &FulfillmentMetrics{}
	}
	ledgerRetries := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ledger_cas_retries_total",
		Help:      "Stock ledger writes retried after a concurrent version bump.",
	})
	reservations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reservations_total",
		Help:      "Reservation transitions by action.",
	}, []string{"action"})
	rollbacks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "saga_rollbacks_total",
		Help:      "Saga rollbacks by saga name and outcome.",
	}, []string{"saga", "result"})
	confirmations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "payment_confirmations_total",
		Help:      "Payment verification attempts by result.",
	}, []string{"result"})
	refunds := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "refunds_total",
		Help:      "Refund records by resulting status.",
	}, []string{"status"})
	reg.MustRegister(ledgerRetries, reservations, rollbacks, confirmations, refunds)
	return &FulfillmentMetrics{
		ledgerRetries: ledgerRetries,
		reservations:  reservations,
		rollbacks:     rollbacks,
		confirmations: confirmations,
		refunds:       refunds,
	}
}

func (m *FulfillmentMetrics) IncLedgerRetry() {
	if m == nil || m.ledgerRetries == nil {
		return
	}
	m.ledgerRetries.Inc()
}

// AddReservations records n reservation transitions (created, released, converted, expired).
func (m *FulfillmentMetrics) AddReservations(action string, n int) {
	if m == nil || m.reservations == nil || n <= 0 {
		return
	}
	m.reservations.WithLabelValues(normalizeLabel(action)).Add(float64(n))
}

// RolledBack satisfies saga.Observer.
func (m *FulfillmentMetrics) RolledBack(saga string, _ int, failed bool) {
	if m == nil || m.rollbacks == nil {
		return
	}
	result := "clean"
	if failed {
		result = "compensation_failed"
	}
	m.rollbacks.WithLabelValues(normalizeLabel(saga), result).Inc()
}

func (m *FulfillmentMetrics) IncConfirmation(result string) {
	if m == nil || m.confirmations == nil {
		return
	}
	m.confirmations.WithLabelValues(normalizeLabel(result)).Inc()
}

func (m *FulfillmentMetrics) IncRefund(status string) {
	if m == nil || m.refunds == nil {
		return
	}
	m.refunds.WithLabelValues(strings.ToLower(normalizeLabel(status))).Inc()
}
