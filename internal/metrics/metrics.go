// Package metrics collects run counters on a private Prometheus registry and
// writes them to a node-exporter textfile at the end of a run.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "bake_events"

// Row operations counted by Rows
const (
	RowsInserted = "inserted"
	RowsSkipped  = "skipped"
	RowsFailed   = "failed"
	RowsDeleted  = "deleted"
)

// Metrics holds the pipeline collectors. All methods are safe on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	mastersProcessed prometheus.Counter
	fetchFailures    prometheus.Counter
	oracleCalls      *prometheus.CounterVec
	oracleRetries    prometheus.Counter
	rejected         *prometheus.CounterVec
	unattributed     prometheus.Counter
	rows             *prometheus.CounterVec
	runDuration      prometheus.Gauge
	lastRun          prometheus.Gauge
}

// New creates and registers the collectors
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.mastersProcessed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "masters_processed_total",
		Help:      "Masters whose run completed and were marked processed",
	})
	m.fetchFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fetch_failures_total",
		Help:      "Page fetches that failed",
	})
	m.oracleCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "oracle_calls_total",
		Help:      "Extraction calls by outcome",
	}, []string{"outcome"})
	m.oracleRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "oracle_retries_total",
		Help:      "Backoff waits after a rate-limited extraction call",
	})
	m.rejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "candidates_rejected_total",
		Help:      "Candidates rejected by the validator, by reason",
	}, []string{"reason"})
	m.unattributed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "candidates_unattributed_total",
		Help:      "Candidates dropped because no branch matched",
	})
	m.rows = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "event_rows_total",
		Help:      "Stored event rows by operation",
	}, []string{"op"})
	m.runDuration = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "run_duration_seconds",
		Help:      "Wall time of the last run",
	})
	m.lastRun = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_run_timestamp_seconds",
		Help:      "Unix time the last run finished",
	})

	m.registry.MustRegister(
		m.mastersProcessed, m.fetchFailures, m.oracleCalls, m.oracleRetries,
		m.rejected, m.unattributed, m.rows, m.runDuration, m.lastRun,
	)
	return m
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) MasterProcessed() {
	if m != nil {
		m.mastersProcessed.Inc()
	}
}

func (m *Metrics) FetchFailed() {
	if m != nil {
		m.fetchFailures.Inc()
	}
}

// OracleCall counts one extraction outcome
func (m *Metrics) OracleCall(outcome string) {
	if m != nil {
		m.oracleCalls.WithLabelValues(outcome).Inc()
	}
}

// OracleRetry counts one backoff wait
func (m *Metrics) OracleRetry() {
	if m != nil {
		m.oracleRetries.Inc()
	}
}

func (m *Metrics) Rejected(reason string) {
	if m != nil {
		m.rejected.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) Unattributed() {
	if m != nil {
		m.unattributed.Inc()
	}
}

// Rows adds n to the counter for op
func (m *Metrics) Rows(op string, n int64) {
	if m != nil && n > 0 {
		m.rows.WithLabelValues(op).Add(float64(n))
	}
}

// RunFinished records the run duration and completion time
func (m *Metrics) RunFinished(d time.Duration, at time.Time) {
	if m == nil {
		return
	}
	m.runDuration.Set(d.Seconds())
	m.lastRun.Set(float64(at.Unix()))
}

// WriteTextfile writes every metric in the text exposition format. The file is
// replaced atomically so node-exporter never reads a partial write.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}
