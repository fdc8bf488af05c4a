package metrics

import "github.com/prometheus/client_golang/prometheus"

// OutboxMetrics counts outbox deliveries per sink.
type OutboxMetrics struct {
	publishes *prometheus.CounterVec
	pending   prometheus.Gauge
}

func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	publishes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "outbox_publish_total",
		Help:      "Outbox publish outcomes by sink.",
	}, []string{"sink", "result"})
	pending := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "outbox_unpublished_events",
		Help:      "Outbox rows still waiting for delivery at the last retention sweep.",
	})
	reg.MustRegister(publishes, pending)
	return &OutboxMetrics{publishes: publishes, pending: pending}
}

func (m *OutboxMetrics) IncOutboxPublish(sink, result string) {
	if m == nil || m.publishes == nil {
		return
	}
	m.publishes.WithLabelValues(normalizeLabel(sink), normalizeLabel(result)).Inc()
}

func (m *OutboxMetrics) SetUnpublished(n int64) {
	if m == nil || m.pending == nil {
		return
	}
	m.pending.Set(float64(n))
}
