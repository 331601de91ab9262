package postgres

import (
	"context"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS campgrounds (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL DEFAULT '',
	link_self TEXT NOT NULL DEFAULT '',
	name TEXT NOT NULL,
	latitude DOUBLE PRECISION NOT NULL,
	longitude DOUBLE PRECISION NOT NULL,
	region_name TEXT NOT NULL,
	administrative_area TEXT,
	nearest_city_name TEXT,
	accommodation_type_names TEXT[] NOT NULL DEFAULT '{}',
	bookable BOOLEAN NOT NULL DEFAULT FALSE,
	camper_types TEXT[] NOT NULL DEFAULT '{}',
	operator TEXT,
	photo_url TEXT,
	photo_urls TEXT[] NOT NULL DEFAULT '{}',
	photos_count INTEGER NOT NULL DEFAULT 0,
	rating DOUBLE PRECISION,
	reviews_count INTEGER NOT NULL DEFAULT 0,
	slug TEXT,
	price_low DOUBLE PRECISION,
	price_high DOUBLE PRECISION,
	availability_updated_at TIMESTAMPTZ,
	address TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	`CREATE TABLE IF NOT EXISTS scraper_runs (
	id BIGSERIAL PRIMARY KEY,
	run_id TEXT NOT NULL,
	run_date TIMESTAMPTZ NOT NULL DEFAULT now(),
	total_campgrounds INTEGER NOT NULL DEFAULT 0,
	new_campgrounds INTEGER NOT NULL DEFAULT 0,
	updated_campgrounds INTEGER NOT NULL DEFAULT 0,
	regions_count INTEGER NOT NULL DEFAULT 0,
	min_latitude DOUBLE PRECISION,
	max_latitude DOUBLE PRECISION,
	min_longitude DOUBLE PRECISION,
	max_longitude DOUBLE PRECISION,
	duration_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
	cells_processed INTEGER NOT NULL DEFAULT 0,
	cells_failed INTEGER NOT NULL DEFAULT 0,
	records_rejected INTEGER NOT NULL DEFAULT 0,
	error_message TEXT
)`,
}

// EnsureSchema creates the campgrounds and scraper_runs tables when absent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
