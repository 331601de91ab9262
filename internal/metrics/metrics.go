// Package metrics exposes Prometheus collectors for the scraper service.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	scraperRecordsFoundTotal     prometheus.Counter
	scraperRecordsRejectedTotal  prometheus.Counter
	scraperRecordsDuplicateTotal prometheus.Counter
	scraperCellsTotal            *prometheus.CounterVec
	scraperFlushesTotal          *prometheus.CounterVec
	scraperFlushedRecordsTotal   prometheus.Counter
	scraperRunsTotal             *prometheus.CounterVec
	scraperRunInProgress         prometheus.Gauge
	upstreamRequestsTotal        *prometheus.CounterVec
	upstreamRequestSeconds       *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus collectors. It is safe to call multiple
// times.
func Init() {
	once.Do(func() {
		scraperRecordsFoundTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "scraper_records_found_total",
			Help: "Total number of unique, validated campground records found.",
		})
		scraperRecordsRejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "scraper_records_rejected_total",
			Help: "Total number of records dropped by validation.",
		})
		scraperRecordsDuplicateTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "scraper_records_duplicate_total",
			Help: "Total number of records skipped as duplicates within a run.",
		})
		scraperCellsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_cells_total",
				Help: "Total number of grid cells processed, labeled by outcome.",
			},
			[]string{"outcome"},
		)
		scraperFlushesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_flushes_total",
				Help: "Total number of persistence flushes, labeled by outcome.",
			},
			[]string{"outcome"},
		)
		scraperFlushedRecordsTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "scraper_flushed_records_total",
			Help: "Total number of records successfully persisted.",
		})
		scraperRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_runs_total",
				Help: "Total number of scraper runs, labeled by status.",
			},
			[]string{"status"},
		)
		scraperRunInProgress = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "scraper_run_in_progress",
			Help: "Whether a scraper run is currently active.",
		})
		upstreamRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_upstream_requests_total",
				Help: "Total upstream API requests, labeled by endpoint and status code.",
			},
			[]string{"endpoint", "code"},
		)
		upstreamRequestSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scraper_upstream_request_duration_seconds",
				Help:    "Histogram of upstream API request latencies, labeled by endpoint.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"endpoint"},
		)
	})
}

// RecordsFound adds n to the found counter.
func RecordsFound(n int) {
	if scraperRecordsFoundTotal != nil && n > 0 {
		scraperRecordsFoundTotal.Add(float64(n))
	}
}

// RecordRejected counts one validation rejection.
func RecordRejected() {
	if scraperRecordsRejectedTotal != nil {
		scraperRecordsRejectedTotal.Inc()
	}
}

// RecordDuplicate counts one duplicate-id skip.
func RecordDuplicate() {
	if scraperRecordsDuplicateTotal != nil {
		scraperRecordsDuplicateTotal.Inc()
	}
}

// CellProcessed counts one completed cell task with the given outcome
// ("ok", "empty" or "failed").
func CellProcessed(outcome string) {
	if scraperCellsTotal != nil {
		scraperCellsTotal.WithLabelValues(outcome).Inc()
	}
}

// FlushCompleted counts one flush attempt; records is the number of entities
// written on success.
func FlushCompleted(outcome string, records int) {
	if scraperFlushesTotal != nil {
		scraperFlushesTotal.WithLabelValues(outcome).Inc()
	}
	if scraperFlushedRecordsTotal != nil && outcome == "ok" && records > 0 {
		scraperFlushedRecordsTotal.Add(float64(records))
	}
}

// RunStarted marks a run as active.
func RunStarted() {
	if scraperRunInProgress != nil {
		scraperRunInProgress.Set(1)
	}
}

// RunFinished marks the run inactive and counts it by status.
func RunFinished(status string) {
	if scraperRunInProgress != nil {
		scraperRunInProgress.Set(0)
	}
	if scraperRunsTotal != nil {
		scraperRunsTotal.WithLabelValues(status).Inc()
	}
}

// ObserveUpstreamRequest records one upstream API request.
func ObserveUpstreamRequest(endpoint string, code int, d time.Duration) {
	if upstreamRequestsTotal != nil {
		upstreamRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(code)).Inc()
	}
	if upstreamRequestSeconds != nil {
		upstreamRequestSeconds.WithLabelValues(endpoint).Observe(d.Seconds())
	}
}
