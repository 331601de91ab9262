package scraper

import (
	"context"

	"github.com/outdoorsight/campground-crawler/internal/campground"
	"github.com/outdoorsight/campground-crawler/internal/geo"
)

// Fetcher retrieves one page of raw records for one grid cell. The
// implementation owns its own retry and concurrency discipline; by the time
// FetchPage returns an error, retries are exhausted.
type Fetcher interface {
	FetchPage(ctx context.Context, cell geo.Cell, page, pageSize int) ([]campground.RawRecord, error)
}

// UpsertResult reports how a batch upsert split between inserts and updates.
type UpsertResult struct {
	New     int
	Updated int
}

// Store persists validated entities. UpsertBatch must be idempotent by id:
// re-submitting the same entity updates its row, never duplicates it.
type Store interface {
	UpsertBatch(ctx context.Context, entities []campground.Campground) (UpsertResult, error)
}
