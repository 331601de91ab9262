// Package scraper implements the grid-based crawl orchestrator: it partitions
// a bounding box into cells, fetches each cell's pages under bounded
// concurrency, deduplicates and validates records across cells, and flushes
// accepted entities to the store in save-interval batches.
package scraper

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/outdoorsight/campground-crawler/internal/campground"
	"github.com/outdoorsight/campground-crawler/internal/geo"
	"github.com/outdoorsight/campground-crawler/internal/metrics"
)

// Config controls one Scraper. GridSize is validated by the grid generator at
// run time; the remaining knobs fall back to defaults when zero.
type Config struct {
	// GridSize is the cell edge length in degrees.
	GridSize float64
	// PagesPerCell bounds how many result pages are fetched per cell.
	PagesPerCell int
	// PageSize is the page[size] requested from the upstream API.
	PageSize int
	// BatchSize is how many cells are scheduled at once. It bounds memory
	// and progress-reporting granularity, not network concurrency.
	BatchSize int
	// SaveInterval is the pending-save buffer size that triggers a flush.
	SaveInterval int
	// PagePause separates page fetches within a cell.
	PagePause time.Duration
	// BatchPause separates cell batches.
	BatchPause time.Duration
}

func (c Config) withDefaults() Config {
	if c.PagesPerCell <= 0 {
		c.PagesPerCell = 2
	}
	if c.PageSize <= 0 {
		c.PageSize = 30
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 20
	}
	if c.SaveInterval <= 0 {
		c.SaveInterval = 100
	}
	if c.PagePause <= 0 {
		c.PagePause = 200 * time.Millisecond
	}
	if c.BatchPause <= 0 {
		c.BatchPause = time.Second
	}
	return c
}

// Scraper drives one crawl at a time over a fetcher and a store. It keeps no
// state between runs, so a caller enforcing single-flight externally may
// invoke Run concurrently without interference.
type Scraper struct {
	fetcher Fetcher
	store   Store
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Scraper.
func New(fetcher Fetcher, store Store, cfg Config, logger *zap.Logger) (*Scraper, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scraper{
		fetcher: fetcher,
		store:   store,
		cfg:     cfg.withDefaults(),
		logger:  logger,
	}, nil
}

// Run crawls the bounding box and returns the run's statistics. Cell-level
// and flush-level failures are absorbed and logged; only invalid grid
// parameters and context cancellation propagate as errors, and even then the
// returned RunStats carries whatever progress was made.
func (s *Scraper) Run(ctx context.Context, runID string, box geo.BoundingBox) (RunStats, error) {
	stats := RunStats{
		RunID:          runID,
		StartedAt:      time.Now(),
		Bounds:         box,
		RegionsCovered: 1,
	}

	cells, err := geo.Grid(box, s.cfg.GridSize)
	if err != nil {
		stats.FinishedAt = time.Now()
		stats.Error = err.Error()
		return stats, fmt.Errorf("generate grid: %w", err)
	}

	numBatches := (len(cells) + s.cfg.BatchSize - 1) / s.cfg.BatchSize
	s.logger.Info("starting crawl",
		zap.String("run_id", runID),
		zap.Int("cells", len(cells)),
		zap.Int("batches", numBatches),
	)

	state := newRunState()
	pending := make([]campground.Campground, 0, s.cfg.SaveInterval)

	for start := 0; start < len(cells); start += s.cfg.BatchSize {
		if ctx.Err() != nil {
			break
		}
		end := min(start+s.cfg.BatchSize, len(cells))
		batch := cells[start:end]
		batchNum := start/s.cfg.BatchSize + 1

		results := make([][]campground.Campground, len(batch))
		g, gctx := errgroup.WithContext(ctx)
		for i, cell := range batch {
			g.Go(func() error {
				results[i] = s.processCell(gctx, cell, state)
				return nil
			})
		}
		// Cell tasks absorb their own failures and never return errors.
		_ = g.Wait()

		for _, found := range results {
			pending = append(pending, found...)
		}

		elapsed := time.Since(stats.StartedAt).Minutes()
		perMinute := 0.0
		if elapsed > 0 {
			perMinute = float64(state.foundCount()) / elapsed
		}
		s.logger.Info("batch complete",
			zap.Int("batch", batchNum),
			zap.Int("batches", numBatches),
			zap.Int("total_found", state.foundCount()),
			zap.Float64("per_minute", perMinute),
		)

		if len(pending) >= s.cfg.SaveInterval {
			pending = s.flush(ctx, pending, &stats)
		}

		if end < len(cells) {
			if err := sleepContext(ctx, s.cfg.BatchPause); err != nil {
				break
			}
		}
	}

	if len(pending) > 0 {
		pending = s.flush(ctx, pending, &stats)
		if len(pending) > 0 {
			s.logger.Warn("records left unsaved after final flush", zap.Int("records", len(pending)))
		}
	}

	state.fill(&stats)
	stats.FinishedAt = time.Now()

	if err := ctx.Err(); err != nil {
		stats.Error = err.Error()
		return stats, err
	}
	s.logger.Info("crawl complete",
		zap.String("run_id", runID),
		zap.Int("total_found", stats.TotalFound),
		zap.Int("new", stats.New),
		zap.Int("updated", stats.Updated),
		zap.Duration("duration", stats.Duration()),
	)
	return stats, nil
}

// processCell fetches up to PagesPerCell pages sequentially, stopping early
// when a page comes back empty. A fetch failure (retries already exhausted by
// the fetcher) ends the cell with an empty result; it never aborts the run.
func (s *Scraper) processCell(ctx context.Context, cell geo.Cell, state *runState) []campground.Campground {
	var accepted []campground.Campground
	for page := 1; page <= s.cfg.PagesPerCell; page++ {
		records, err := s.fetcher.FetchPage(ctx, cell, page, s.cfg.PageSize)
		if err != nil {
			s.logger.Error("cell fetch failed",
				zap.String("cell", cell.String()),
				zap.Int("page", page),
				zap.Error(err),
			)
			state.cellFailed()
			metrics.CellProcessed("failed")
			return nil
		}
		if len(records) == 0 {
			// Pages are fetched in order, so an empty page reliably means
			// the cell has no more data.
			break
		}
		for _, raw := range records {
			if entity, ok := state.admit(raw, s.logger); ok {
				accepted = append(accepted, entity)
			}
		}
		if page < s.cfg.PagesPerCell {
			if err := sleepContext(ctx, s.cfg.PagePause); err != nil {
				break
			}
		}
	}

	state.cellSucceeded()
	metrics.CellProcessed("ok")
	if len(accepted) > 0 {
		s.logger.Debug("cell yielded campgrounds",
			zap.String("cell", cell.String()),
			zap.Int("count", len(accepted)),
		)
	}
	return accepted
}

// flush writes the pending buffer to the store. On failure the buffer is
// carried forward and retried at the next flush point rather than dropped,
// so a persistence outage costs retries, not data.
func (s *Scraper) flush(ctx context.Context, pending []campground.Campground, stats *RunStats) []campground.Campground {
	result, err := s.store.UpsertBatch(ctx, pending)
	if err != nil {
		s.logger.Error("incremental save failed, retrying at next flush",
			zap.Int("buffered", len(pending)),
			zap.Error(err),
		)
		metrics.FlushCompleted("failed", 0)
		return pending
	}
	stats.New += result.New
	stats.Updated += result.Updated
	s.logger.Info("saved batch",
		zap.Int("records", len(pending)),
		zap.Int("new", result.New),
		zap.Int("updated", result.Updated),
	)
	metrics.FlushCompleted("ok", len(pending))
	return pending[:0]
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
