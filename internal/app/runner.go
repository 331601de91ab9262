// Package app coordinates scraper runs: it enforces the single-run
// invariant, records run statistics, archives run reports, and publishes
// completion events.
package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/outdoorsight/campground-crawler/internal/geo"
	"github.com/outdoorsight/campground-crawler/internal/metrics"
	"github.com/outdoorsight/campground-crawler/internal/scraper"
	"github.com/outdoorsight/campground-crawler/internal/storage"
)

// ErrRunInProgress is returned by Start when a run is already active.
var ErrRunInProgress = errors.New("a scraper run is already in progress")

// Crawler executes one full crawl over the given bounding box.
type Crawler interface {
	Run(ctx context.Context, runID string, box geo.BoundingBox) (scraper.RunStats, error)
}

// RunStore persists run statistics.
type RunStore interface {
	RecordRun(ctx context.Context, stats scraper.RunStats) error
}

// Publisher emits run completion events.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Config holds the runner's fixed parameters.
type Config struct {
	Bounds geo.BoundingBox
	// Topic names the completion event destination. Empty disables
	// publishing.
	Topic string
	// ReportPrefix is the blob path prefix for archived run reports.
	ReportPrefix string
}

// Runner owns the lifecycle of scraper runs. At most one run is active at
// a time; concurrent Start calls beyond the first fail with
// ErrRunInProgress.
type Runner struct {
	crawler   Crawler
	runs      RunStore
	blobs     storage.Provider
	publisher Publisher
	cfg       Config
	logger    *zap.Logger

	running atomic.Bool

	mu     sync.RWMutex
	last   *scraper.RunStats
	done   chan struct{}
	cancel context.CancelFunc
}

// NewRunner wires a Runner. runs, blobs, and publisher may be nil to
// disable the corresponding post-run step.
func NewRunner(crawler Crawler, runs RunStore, blobs storage.Provider, publisher Publisher, cfg Config, logger *zap.Logger) (*Runner, error) {
	if crawler == nil {
		return nil, fmt.Errorf("crawler is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ReportPrefix == "" {
		cfg.ReportPrefix = "runs"
	}
	return &Runner{
		crawler:   crawler,
		runs:      runs,
		blobs:     blobs,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
	}, nil
}

// Start launches a run in the background and returns its ID. The run
// outlives the caller's context cancellation; pass the process context to
// bound its lifetime.
func (r *Runner) Start(ctx context.Context) (string, error) {
	if !r.running.CompareAndSwap(false, true) {
		return "", ErrRunInProgress
	}

	runID := uuid.NewString()
	done := make(chan struct{})
	// The run survives the caller's cancellation (an HTTP request that
	// disconnects must not kill it) but remains stoppable via Shutdown.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.mu.Lock()
	r.done = done
	r.cancel = cancel
	r.mu.Unlock()

	metrics.RunStarted()
	r.logger.Info("scraper run starting", zap.String("run_id", runID))

	go func() {
		defer close(done)
		defer cancel()
		defer r.running.Store(false)
		r.execute(runCtx, runID)
	}()

	return runID, nil
}

// Running reports whether a run is currently active.
func (r *Runner) Running() bool {
	return r.running.Load()
}

// LastRun returns a copy of the most recently finished run's statistics,
// or false when no run has completed yet.
func (r *Runner) LastRun() (scraper.RunStats, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.last == nil {
		return scraper.RunStats{}, false
	}
	return *r.last, true
}

// Wait blocks until the active run finishes. It returns immediately when
// no run is active.
func (r *Runner) Wait() {
	r.mu.RLock()
	done := r.done
	r.mu.RUnlock()
	if done != nil {
		<-done
	}
}

// Shutdown cancels the active run, if any, and waits for it to finish.
func (r *Runner) Shutdown() {
	r.mu.RLock()
	cancel := r.cancel
	r.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
	r.Wait()
}

func (r *Runner) execute(ctx context.Context, runID string) {
	stats, err := r.crawler.Run(ctx, runID, r.cfg.Bounds)
	status := "succeeded"
	if err != nil {
		status = "failed"
		if stats.Error == "" {
			stats.Error = err.Error()
		}
		r.logger.Error("scraper run failed", zap.String("run_id", runID), zap.Error(err))
	} else {
		r.logger.Info("scraper run finished",
			zap.String("run_id", runID),
			zap.Int("total_found", stats.TotalFound),
			zap.Int("new", stats.New),
			zap.Int("updated", stats.Updated),
			zap.Duration("duration", stats.Duration()),
		)
	}
	metrics.RunFinished(status)

	if r.runs != nil {
		if recErr := r.runs.RecordRun(ctx, stats); recErr != nil {
			r.logger.Error("record run stats failed", zap.String("run_id", runID), zap.Error(recErr))
		}
	}

	reportURI := r.archiveReport(ctx, runID, stats)
	r.publishSummary(ctx, runID, status, reportURI, stats)

	r.mu.Lock()
	r.last = &stats
	r.mu.Unlock()
}

// archiveReport writes the run's statistics as a JSON blob and returns the
// stored URI, or empty when archival is disabled or fails.
func (r *Runner) archiveReport(ctx context.Context, runID string, stats scraper.RunStats) string {
	if r.blobs == nil {
		return ""
	}
	data, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		r.logger.Error("marshal run report failed", zap.String("run_id", runID), zap.Error(err))
		return ""
	}
	path := fmt.Sprintf("%s/%s.json", r.cfg.ReportPrefix, runID)
	uri, err := r.blobs.PutObject(ctx, path, "application/json", bytes.NewReader(data))
	if err != nil {
		r.logger.Error("archive run report failed", zap.String("run_id", runID), zap.Error(err))
		return ""
	}
	r.logger.Info("run report archived", zap.String("run_id", runID), zap.String("uri", uri))
	return uri
}

func (r *Runner) publishSummary(ctx context.Context, runID, status, reportURI string, stats scraper.RunStats) {
	if r.publisher == nil || r.cfg.Topic == "" {
		return
	}
	payload := map[string]any{
		"run_id":           runID,
		"status":           status,
		"total_found":      stats.TotalFound,
		"new":              stats.New,
		"updated":          stats.Updated,
		"cells_processed":  stats.CellsProcessed,
		"cells_failed":     stats.CellsFailed,
		"duration_seconds": stats.Duration().Seconds(),
		"finished_at":      stats.FinishedAt.Format(time.RFC3339),
	}
	if reportURI != "" {
		payload["report_uri"] = reportURI
	}
	if _, err := r.publisher.Publish(ctx, r.cfg.Topic, payload); err != nil {
		r.logger.Error("publish run summary failed", zap.String("run_id", runID), zap.Error(err))
		return
	}
	r.logger.Info("run summary published", zap.String("run_id", runID), zap.String("topic", r.cfg.Topic))
}

// RunScheduled starts a run every interval until ctx is canceled. An
// interval still in progress is skipped rather than queued.
func (r *Runner) RunScheduled(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runID, err := r.Start(ctx)
			if errors.Is(err, ErrRunInProgress) {
				r.logger.Warn("skipping scheduled run, previous run still active")
				continue
			}
			if err != nil {
				r.logger.Error("scheduled run failed to start", zap.Error(err))
				continue
			}
			r.logger.Info("scheduled run started", zap.String("run_id", runID))
		}
	}
}
