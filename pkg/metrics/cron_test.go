package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestCronJobMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCronJobMetrics(reg)

	m.Record("expire-reservations", JobSucceeded, 120*time.Millisecond)
	m.Record("expire-reservations", JobSucceeded, 80*time.Millisecond)
	m.Record("expire-reservations", JobSkipped, 0)
	m.Record("", JobFailed, time.Second)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	runs := series(families, "campusstore_cron_job_runs_total")
	if got := runs["expire-reservations/succeeded"].GetCounter().GetValue(); got != 2 {
		t.Fatalf("succeeded = %v, want 2", got)
	}
	if got := runs["unknown/failed"].GetCounter().GetValue(); got != 1 {
		t.Fatalf("blank job name should land on unknown, got %v", got)
	}
	if runs["expire-reservations/skipped"] == nil {
		t.Fatalf("skipped tick not counted")
	}

	timed := series(families, "campusstore_cron_job_duration_seconds")
	if got := timed["expire-reservations"].GetHistogram().GetSampleCount(); got != 2 {
		t.Fatalf("timed runs = %d, want 2 (skips are not timed)", got)
	}
}

func TestNilCronJobMetricsIsNoop(t *testing.T) {
	var m *CronJobMetrics
	m.Record("job", JobFailed, time.Second)
	NewCronJobMetrics(nil).Record("job", JobSucceeded, time.Second)
}

// series indexes one family's metrics by their label values joined with "/".
func series(families []*dto.MetricFamily, name string) map[string]*dto.Metric {
	out := map[string]*dto.Metric{}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			key := ""
			for i, pair := range metric.GetLabel() {
				if i > 0 {
					key += "/"
				}
				key += pair.GetValue()
			}
			out[key] = metric
		}
	}
	return out
}
