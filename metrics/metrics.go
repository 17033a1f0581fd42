// Package metrics implements process-wide telemetry (sections 4.4 and 9): a
// labeled table-size gauge, plus counters and a final report for restore
// throughput.
package metrics

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// TableSizeGauge is the process-wide labeled metric of section 4.4: the
// façade sets it to cache.values.size after every insert, labeled by
// (operator_id, task_index, table_id). Its lifecycle is independent of any
// one CheckpointState (section 9): construct once per process and pass it
// to every Facade.
type TableSizeGauge struct {
	gauge *prometheus.GaugeVec
}

// NewTableSizeGauge registers the table-size gauge with registry. Pass
// prometheus.DefaultRegisterer for the global registry, or a fresh
// prometheus.NewRegistry() for test isolation.
func NewTableSizeGauge(registry prometheus.Registerer) *TableSizeGauge {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	return &TableSizeGauge{
		gauge: promauto.With(registry).NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "checkpoint",
			Subsystem: "kvtime",
			Name:      "table_size",
			Help:      "Number of distinct keys held in a Key/Time Multi-Map cache",
		}, []string{"operator_id", "task_index", "table_id"}),
	}
}

// Set records the current key count for (operatorID, taskIndex, tableID).
func (g *TableSizeGauge) Set(operatorID string, taskIndex uint32, tableID string, size int) {
	g.gauge.WithLabelValues(operatorID, fmt.Sprint(taskIndex), tableID).Set(float64(size))
}

// Metrics collects counters and a processing-time total for a restore pass:
// atomic counters plus a JSON-friendly Report.
type Metrics struct {
	mu sync.RWMutex

	tuplesReplayed int64
	batchesWritten int64
	errors         int64
	skippedTuples  int64 // filtered by min_valid_time (section 4.5 step 3)

	processingTime time.Duration
	startTime      time.Time
}

// NewMetrics creates a Metrics instance with its clock started now.
func NewMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

// RecordTupleReplayed increments the replayed-tuple counter.
func (m *Metrics) RecordTupleReplayed() {
	atomic.AddInt64(&m.tuplesReplayed, 1)
}

// RecordBatchWritten increments the backing-store batch-write counter.
func (m *Metrics) RecordBatchWritten() {
	atomic.AddInt64(&m.batchesWritten, 1)
}

// RecordError increments the error counter.
func (m *Metrics) RecordError() {
	atomic.AddInt64(&m.errors, 1)
}

// RecordSkipped increments the counter of tuples dropped by the
// min_valid_time filter during restore.
func (m *Metrics) RecordSkipped() {
	atomic.AddInt64(&m.skippedTuples, 1)
}

// RecordProcessingTime accumulates wall-clock time spent replaying a batch.
func (m *Metrics) RecordProcessingTime(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processingTime += d
}

// Report is the final restore-pass summary, JSON-encodable for S3 or
// stdout output.
type Report struct {
	StartTime      time.Time     `json:"startTime"`
	EndTime        time.Time     `json:"endTime"`
	TuplesReplayed int64         `json:"tuplesReplayed"`
	SkippedTuples  int64         `json:"skippedTuples"`
	Errors         int64         `json:"errors"`
	Duration       time.Duration `json:"duration"`
	Throughput     float64       `json:"throughput"`
}

// GenerateReport computes a Report as of now.
func (m *Metrics) GenerateReport() Report {
	endTime := time.Now()
	duration := endTime.Sub(m.startTime)

	var throughput float64
	if duration > 0 {
		throughput = float64(atomic.LoadInt64(&m.tuplesReplayed)) / duration.Seconds()
	}

	return Report{
		StartTime:      m.startTime,
		EndTime:        endTime,
		TuplesReplayed: atomic.LoadInt64(&m.tuplesReplayed),
		SkippedTuples:  atomic.LoadInt64(&m.skippedTuples),
		Errors:         atomic.LoadInt64(&m.errors),
		Duration:       duration,
		Throughput:     throughput,
	}
}

// MarshalJSON renders Duration as a string rather than a raw integer of
// nanoseconds.
func (r Report) MarshalJSON() ([]byte, error) {
	type Alias Report
	return json.Marshal(&struct {
		Alias
		Duration string `json:"duration"`
	}{
		Alias:    Alias(r),
		Duration: r.Duration.String(),
	})
}

// String renders a human-readable summary for console output.
func (r Report) String() string {
	return fmt.Sprintf(
		"Restore completed in %s\n"+
			"Tuples replayed: %d\n"+
			"Skipped (below min_valid_time): %d\n"+
			"Errors: %d\n"+
			"Throughput: %.2f tuples/sec",
		r.Duration,
		r.TuplesReplayed,
		r.SkippedTuples,
		r.Errors,
		r.Throughput,
	)
}
