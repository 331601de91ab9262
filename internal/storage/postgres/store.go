// Package postgres provides the Postgres-backed persistence gateway for
// campground entities and run statistics.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/outdoorsight/campground-crawler/internal/campground"
	"github.com/outdoorsight/campground-crawler/internal/scraper"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
	Close()
}

// Store writes campground rows and run stats into Postgres.
type Store struct {
	pool pgxPool
}

// New creates a Store connected per the config and verifies the connection.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewWithPool constructs a Store from an existing pool (primarily for
// testing).
func NewWithPool(pool pgxPool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

const upsertCampgroundSQL = `
INSERT INTO campgrounds (
	id, type, link_self, name, latitude, longitude, region_name,
	administrative_area, nearest_city_name, accommodation_type_names,
	bookable, camper_types, operator, photo_url, photo_urls, photos_count,
	rating, reviews_count, slug, price_low, price_high,
	availability_updated_at, address
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23
)
ON CONFLICT (id) DO UPDATE SET
	type = EXCLUDED.type,
	link_self = EXCLUDED.link_self,
	name = EXCLUDED.name,
	latitude = EXCLUDED.latitude,
	longitude = EXCLUDED.longitude,
	region_name = EXCLUDED.region_name,
	administrative_area = EXCLUDED.administrative_area,
	nearest_city_name = EXCLUDED.nearest_city_name,
	accommodation_type_names = EXCLUDED.accommodation_type_names,
	bookable = EXCLUDED.bookable,
	camper_types = EXCLUDED.camper_types,
	operator = EXCLUDED.operator,
	photo_url = EXCLUDED.photo_url,
	photo_urls = EXCLUDED.photo_urls,
	photos_count = EXCLUDED.photos_count,
	rating = EXCLUDED.rating,
	reviews_count = EXCLUDED.reviews_count,
	slug = EXCLUDED.slug,
	price_low = EXCLUDED.price_low,
	price_high = EXCLUDED.price_high,
	availability_updated_at = EXCLUDED.availability_updated_at,
	address = EXCLUDED.address,
	updated_at = now()
RETURNING (xmax = 0) AS inserted`

// UpsertBatch writes the entities in one transaction. Existing ids have
// their fields updated and updated_at refreshed; absent ids are inserted.
// The returned result reports the new/updated split. Re-submitting the same
// entity never duplicates a row.
func (s *Store) UpsertBatch(ctx context.Context, entities []campground.Campground) (scraper.UpsertResult, error) {
	var result scraper.UpsertResult
	if len(entities) == 0 {
		return result, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return result, fmt.Errorf("begin upsert batch: %w", err)
	}

	for _, e := range entities {
		var inserted bool
		err := tx.QueryRow(ctx, upsertCampgroundSQL,
			e.ID,
			e.Type,
			e.Links.Self,
			e.Name,
			e.Latitude,
			e.Longitude,
			e.RegionName,
			e.AdministrativeArea,
			e.NearestCityName,
			e.AccommodationTypeNames,
			e.Bookable,
			e.CamperTypes,
			e.Operator,
			e.PhotoURL,
			e.PhotoURLs,
			e.PhotosCount,
			e.Rating,
			e.ReviewsCount,
			e.Slug,
			e.PriceLow,
			e.PriceHigh,
			e.AvailabilityUpdatedAt,
			e.Address,
		).Scan(&inserted)
		if err != nil {
			_ = tx.Rollback(ctx)
			return scraper.UpsertResult{}, fmt.Errorf("upsert campground %s: %w", e.ID, err)
		}
		if inserted {
			result.New++
		} else {
			result.Updated++
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return scraper.UpsertResult{}, fmt.Errorf("commit upsert batch: %w", err)
	}
	return result, nil
}

const insertRunSQL = `
INSERT INTO scraper_runs (
	run_id, run_date, total_campgrounds, new_campgrounds, updated_campgrounds,
	regions_count, min_latitude, max_latitude, min_longitude, max_longitude,
	duration_seconds, cells_processed, cells_failed, records_rejected,
	error_message
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15
)`

// RecordRun persists one run's statistics.
func (s *Store) RecordRun(ctx context.Context, stats scraper.RunStats) error {
	var errMsg *string
	if stats.Error != "" {
		errMsg = &stats.Error
	}
	_, err := s.pool.Exec(ctx, insertRunSQL,
		stats.RunID,
		stats.StartedAt,
		stats.TotalFound,
		stats.New,
		stats.Updated,
		stats.RegionsCovered,
		stats.Bounds.South,
		stats.Bounds.North,
		stats.Bounds.West,
		stats.Bounds.East,
		stats.Duration().Seconds(),
		stats.CellsProcessed,
		stats.CellsFailed,
		stats.RecordsRejected,
		errMsg,
	)
	if err != nil {
		return fmt.Errorf("insert run stats: %w", err)
	}
	return nil
}
