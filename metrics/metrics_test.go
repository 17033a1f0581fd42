package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsHappyPath(t *testing.T) {
	m := NewMetrics()

	m.RecordTupleReplayed()
	m.RecordTupleReplayed()
	m.RecordBatchWritten()
	m.RecordError()
	m.RecordSkipped()

	time.Sleep(10 * time.Millisecond)

	report := m.GenerateReport()

	if report.TuplesReplayed != 2 {
		t.Errorf("expected 2 tuples replayed, got %d", report.TuplesReplayed)
	}
	if report.SkippedTuples != 1 {
		t.Errorf("expected 1 skipped tuple, got %d", report.SkippedTuples)
	}
	if report.Errors != 1 {
		t.Errorf("expected 1 error, got %d", report.Errors)
	}
	if report.Duration < 10*time.Millisecond {
		t.Errorf("expected duration >= 10ms, got %v", report.Duration)
	}
	if report.Throughput <= 0 {
		t.Errorf("expected positive throughput, got %f", report.Throughput)
	}

	if str := report.String(); str == "" {
		t.Error("expected non-empty string representation")
	}
}

func TestTableSizeGaugeLabelsBySubtask(t *testing.T) {
	registry := prometheus.NewRegistry()
	g := NewTableSizeGauge(registry)

	g.Set("op_A", 0, "items", 3)
	g.Set("op_A", 1, "items", 7)

	got, err := testutil.GatherAndCount(registry, "checkpoint_kvtime_table_size")
	if err != nil {
		t.Fatalf("GatherAndCount: %v", err)
	}
	if got != 2 {
		t.Fatalf("expected 2 distinct label series, got %d", got)
	}
}
