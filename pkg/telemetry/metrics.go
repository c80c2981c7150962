package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus observability primitives for the sync engine.
type Metrics struct {
	recordsArchived  *prometheus.CounterVec
	recordsDisplayed *prometheus.CounterVec
	syncDuration     *prometheus.HistogramVec
	batchRetries     prometheus.Counter
	batchFailures    prometheus.Counter
	pollCycles       *prometheus.CounterVec
	sleepRebuilds    prometheus.Counter
	sleepNights      prometheus.Gauge
}

// NewMetrics registers and returns Prometheus metrics for the engine.
func NewMetrics() *Metrics {
	recordsArchived := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vitalsync_records_archived_total",
		Help: "Telemetry records upserted into the archive, by data type.",
	}, []string{"data_type"})

	recordsDisplayed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vitalsync_records_displayed_total",
		Help: "Telemetry records copied into the display window, by data type.",
	}, []string{"data_type"})

	syncDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vitalsync_sync_duration_seconds",
		Help:    "Bulk sync latency per profile and outcome.",
		Buckets: prometheus.DefBuckets,
	}, []string{"profile", "status"})

	batchRetries := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vitalsync_batch_retries_total",
		Help: "Batch retries triggered by deadlock-class write errors.",
	})

	batchFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vitalsync_batch_failures_total",
		Help: "Batches abandoned after exhausting their retry ceiling.",
	})

	pollCycles := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vitalsync_cgm_polls_total",
		Help: "CGM poll outcomes by vendor and status.",
	}, []string{"vendor", "status"})

	sleepRebuilds := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vitalsync_sleep_rebuilds_total",
		Help: "Sleep summary reconstruction runs.",
	})

	sleepNights := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vitalsync_sleep_nights_last_rebuild",
		Help: "Nights emitted by the most recent sleep reconstruction.",
	})

	prometheus.MustRegister(
		recordsArchived,
		recordsDisplayed,
		syncDuration,
		batchRetries,
		batchFailures,
		pollCycles,
		sleepRebuilds,
		sleepNights,
	)

	return &Metrics{
		recordsArchived:  recordsArchived,
		recordsDisplayed: recordsDisplayed,
		syncDuration:     syncDuration,
		batchRetries:     batchRetries,
		batchFailures:    batchFailures,
		pollCycles:       pollCycles,
		sleepRebuilds:    sleepRebuilds,
		sleepNights:      sleepNights,
	}
}

// RecordArchived adds archived record counts for one data type.
func (m *Metrics) RecordArchived(dataType string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.recordsArchived.WithLabelValues(dataType).Add(float64(count))
}

// RecordDisplayed adds display window insert counts for one data type.
func (m *Metrics) RecordDisplayed(dataType string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.recordsDisplayed.WithLabelValues(dataType).Add(float64(count))
}

// ObserveSync records one bulk sync run.
func (m *Metrics) ObserveSync(profile, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.syncDuration.WithLabelValues(profile, status).Observe(duration.Seconds())
}

// IncBatchRetry counts one deadlock-triggered batch retry.
func (m *Metrics) IncBatchRetry() {
	if m == nil {
		return
	}
	m.batchRetries.Inc()
}

// IncBatchFailure counts one batch abandoned after retries.
func (m *Metrics) IncBatchFailure() {
	if m == nil {
		return
	}
	m.batchFailures.Inc()
}

// RecordPoll counts one per-connection poll outcome.
func (m *Metrics) RecordPoll(vendor, status string) {
	if m == nil {
		return
	}
	m.pollCycles.WithLabelValues(vendor, status).Inc()
}

// RecordSleepRebuild records one reconstruction run and its night count.
func (m *Metrics) RecordSleepRebuild(nights int) {
	if m == nil {
		return
	}
	m.sleepRebuilds.Inc()
	m.sleepNights.Set(float64(nights))
}
