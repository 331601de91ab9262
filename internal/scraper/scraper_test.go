package scraper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/outdoorsight/campground-crawler/internal/campground"
	"github.com/outdoorsight/campground-crawler/internal/geo"
)

type fetchFunc func(ctx context.Context, cell geo.Cell, page, pageSize int) ([]campground.RawRecord, error)

func (f fetchFunc) FetchPage(ctx context.Context, cell geo.Cell, page, pageSize int) ([]campground.RawRecord, error) {
	return f(ctx, cell, page, pageSize)
}

type fakeStore struct {
	mu          sync.Mutex
	batches     [][]campground.Campground
	rows        map[string]campground.Campground
	failFlushes int
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[string]campground.Campground)}
}

func (s *fakeStore) UpsertBatch(_ context.Context, entities []campground.Campground) (UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFlushes > 0 {
		s.failFlushes--
		return UpsertResult{}, errors.New("database unavailable")
	}
	var result UpsertResult
	for _, e := range entities {
		if _, exists := s.rows[e.ID]; exists {
			result.Updated++
		} else {
			result.New++
		}
		s.rows[e.ID] = e
	}
	batch := make([]campground.Campground, len(entities))
	copy(batch, entities)
	s.batches = append(s.batches, batch)
	return result, nil
}

func (s *fakeStore) flushSizes() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	sizes := make([]int, len(s.batches))
	for i, b := range s.batches {
		sizes[i] = len(b)
	}
	return sizes
}

func rawFor(id string) campground.RawRecord {
	return campground.RawRecord{
		"id":          id,
		"type":        "campgrounds",
		"name":        "Camp " + id,
		"latitude":    40.0,
		"longitude":   -100.0,
		"region-name": "Kansas",
	}
}

func fastConfig() Config {
	return Config{
		GridSize:     1.0,
		PagesPerCell: 2,
		PageSize:     30,
		BatchSize:    20,
		SaveInterval: 100,
		PagePause:    time.Millisecond,
		BatchPause:   time.Millisecond,
	}
}

var testBox = geo.BoundingBox{North: 2, South: 0, East: 2, West: 0}

func TestRunCrawlsEveryCellOnce(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	perCell := map[string]int{}
	fetcher := fetchFunc(func(_ context.Context, cell geo.Cell, page, _ int) ([]campground.RawRecord, error) {
		mu.Lock()
		defer mu.Unlock()
		if page > 1 {
			return nil, nil
		}
		perCell[cell.String()]++
		return []campground.RawRecord{rawFor(cell.String())}, nil
	})
	store := newFakeStore()

	cfg := fastConfig()
	cfg.SaveInterval = 10

	s, err := New(fetcher, store, cfg, zap.NewNop())
	require.NoError(t, err)

	stats, err := s.Run(context.Background(), "run-1", testBox)
	require.NoError(t, err)

	require.Equal(t, 4, stats.TotalFound)
	require.Equal(t, 4, stats.New)
	require.Equal(t, 0, stats.Updated)
	require.Equal(t, 1, stats.RegionsCovered)
	require.Equal(t, 4, stats.CellsProcessed)
	require.Equal(t, 0, stats.CellsFailed)
	require.False(t, stats.FinishedAt.IsZero())

	// 2x2 grid, each cell fetched exactly once, single flush of all 4.
	require.Len(t, perCell, 4)
	for cell, n := range perCell {
		require.Equal(t, 1, n, "cell %s fetched more than once", cell)
	}
	require.Equal(t, []int{4}, store.flushSizes())
}

func TestRunFlushesAtSaveInterval(t *testing.T) {
	t.Parallel()

	fetcher := fetchFunc(func(_ context.Context, cell geo.Cell, page, _ int) ([]campground.RawRecord, error) {
		if page > 1 {
			return nil, nil
		}
		return []campground.RawRecord{rawFor(cell.String())}, nil
	})
	store := newFakeStore()

	cfg := fastConfig()
	cfg.BatchSize = 2
	cfg.SaveInterval = 2

	s, err := New(fetcher, store, cfg, zap.NewNop())
	require.NoError(t, err)

	stats, err := s.Run(context.Background(), "run-2", testBox)
	require.NoError(t, err)
	require.Equal(t, 4, stats.TotalFound)
	require.Equal(t, []int{2, 2}, store.flushSizes())
}

func TestRunDeduplicatesAcrossCells(t *testing.T) {
	t.Parallel()

	// Every cell returns the same record id.
	fetcher := fetchFunc(func(_ context.Context, _ geo.Cell, page, _ int) ([]campground.RawRecord, error) {
		if page > 1 {
			return nil, nil
		}
		return []campground.RawRecord{rawFor("shared-id")}, nil
	})
	store := newFakeStore()

	s, err := New(fetcher, store, fastConfig(), zap.NewNop())
	require.NoError(t, err)

	stats, err := s.Run(context.Background(), "run-3", testBox)
	require.NoError(t, err)
	require.Equal(t, 1, stats.TotalFound)
	require.Equal(t, 3, stats.RecordsDuplicate)
	require.Len(t, store.rows, 1)
}

func TestRunCellFailureDoesNotAbortRun(t *testing.T) {
	t.Parallel()

	failing := geo.Cell{North: 1, South: 0, East: 1, West: 0}
	fetcher := fetchFunc(func(_ context.Context, cell geo.Cell, page, _ int) ([]campground.RawRecord, error) {
		if cell == failing {
			return nil, errors.New("retries exhausted")
		}
		if page > 1 {
			return nil, nil
		}
		return []campground.RawRecord{rawFor(cell.String())}, nil
	})
	store := newFakeStore()

	s, err := New(fetcher, store, fastConfig(), zap.NewNop())
	require.NoError(t, err)

	stats, err := s.Run(context.Background(), "run-4", testBox)
	require.NoError(t, err)
	require.Equal(t, 3, stats.TotalFound)
	require.Equal(t, 4, stats.CellsProcessed)
	require.Equal(t, 1, stats.CellsFailed)
	require.Len(t, store.rows, 3)
}

func TestRunRejectsInvalidGridBeforeFetching(t *testing.T) {
	t.Parallel()

	var calls int
	fetcher := fetchFunc(func(_ context.Context, _ geo.Cell, _, _ int) ([]campground.RawRecord, error) {
		calls++
		return nil, nil
	})

	cfg := fastConfig()
	cfg.GridSize = 0

	s, err := New(fetcher, newFakeStore(), cfg, zap.NewNop())
	require.NoError(t, err)

	stats, err := s.Run(context.Background(), "run-5", testBox)
	require.Error(t, err)
	require.NotEmpty(t, stats.Error)
	require.Zero(t, calls)
	require.False(t, stats.FinishedAt.IsZero())
}

func TestRunFlushFailureCarriesBufferForward(t *testing.T) {
	t.Parallel()

	fetcher := fetchFunc(func(_ context.Context, cell geo.Cell, page, _ int) ([]campground.RawRecord, error) {
		if page > 1 {
			return nil, nil
		}
		return []campground.RawRecord{rawFor(cell.String())}, nil
	})
	store := newFakeStore()
	store.failFlushes = 1

	cfg := fastConfig()
	cfg.BatchSize = 1
	cfg.SaveInterval = 2

	s, err := New(fetcher, store, cfg, zap.NewNop())
	require.NoError(t, err)

	stats, err := s.Run(context.Background(), "run-6", testBox)
	require.NoError(t, err)

	// First flush attempt (2 buffered) fails and carries forward; the next
	// flush point writes 3, the final flush writes the last 1.
	require.Equal(t, []int{3, 1}, store.flushSizes())
	require.Equal(t, 4, stats.New)
	require.Len(t, store.rows, 4)
}

func TestRunStopsCellAtEmptyPage(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	maxPage := map[string]int{}
	fetcher := fetchFunc(func(_ context.Context, cell geo.Cell, page, _ int) ([]campground.RawRecord, error) {
		mu.Lock()
		if page > maxPage[cell.String()] {
			maxPage[cell.String()] = page
		}
		mu.Unlock()
		if page > 1 {
			return nil, nil
		}
		return []campground.RawRecord{rawFor(cell.String())}, nil
	})

	cfg := fastConfig()
	cfg.PagesPerCell = 5

	s, err := New(fetcher, newFakeStore(), cfg, zap.NewNop())
	require.NoError(t, err)

	_, err = s.Run(context.Background(), "run-7", testBox)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	for cell, page := range maxPage {
		require.Equal(t, 2, page, "cell %s fetched past the empty page", cell)
	}
}

func TestRunCountsValidationRejections(t *testing.T) {
	t.Parallel()

	fetcher := fetchFunc(func(_ context.Context, cell geo.Cell, page, _ int) ([]campground.RawRecord, error) {
		if page > 1 {
			return nil, nil
		}
		bad := rawFor("bad-" + cell.String())
		delete(bad, "latitude")
		return []campground.RawRecord{rawFor(cell.String()), bad}, nil
	})
	store := newFakeStore()

	s, err := New(fetcher, store, fastConfig(), zap.NewNop())
	require.NoError(t, err)

	stats, err := s.Run(context.Background(), "run-8", testBox)
	require.NoError(t, err)
	require.Equal(t, 4, stats.TotalFound)
	require.Equal(t, 4, stats.RecordsRejected)
	require.Len(t, store.rows, 4)
}

func TestRunSecondRunUpdatesExistingRows(t *testing.T) {
	t.Parallel()

	fetcher := fetchFunc(func(_ context.Context, cell geo.Cell, page, _ int) ([]campground.RawRecord, error) {
		if page > 1 {
			return nil, nil
		}
		return []campground.RawRecord{rawFor(cell.String())}, nil
	})
	store := newFakeStore()

	s, err := New(fetcher, store, fastConfig(), zap.NewNop())
	require.NoError(t, err)

	first, err := s.Run(context.Background(), "run-9a", testBox)
	require.NoError(t, err)
	require.Equal(t, 4, first.New)
	require.Equal(t, 0, first.Updated)

	second, err := s.Run(context.Background(), "run-9b", testBox)
	require.NoError(t, err)
	require.Equal(t, 0, second.New)
	require.Equal(t, 4, second.Updated)
	require.Len(t, store.rows, 4)
}
