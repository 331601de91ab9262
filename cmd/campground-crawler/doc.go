// Package main hosts the campground scraper service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, and run management endpoints. POST /v1/runs starts a
//     crawl in the background and returns its run ID; GET /v1/runs/status reports whether a run is active and the
//     statistics of the last completed one.
//   - Run orchestration: internal/app.Runner enforces the single-run invariant, records statistics to Postgres,
//     archives a JSON run report to the configured blob store, and publishes a completion event when a Pub/Sub
//     topic is configured. An optional ticker starts runs on a fixed interval.
//   - Crawl pipeline: internal/scraper.Scraper partitions the configured bounding box into a grid via internal/geo,
//     fetches pages per cell through the internal/thedyrt client, validates and deduplicates records, and flushes
//     batches to Postgres through internal/storage/postgres.
//   - Upstream client: internal/thedyrt bounds concurrency with a weighted semaphore, paces requests with a rate
//     limiter, and retries transient failures with capped exponential backoff plus an extra cooldown on 429.
//   - Configuration & plumbing: Viper populates config from env/files; zap provides structured logging; Prometheus
//     metrics are exported via the /metrics handler.
//
// Operational notes:
//   - Concurrency model: cells are processed in batches of goroutines, while the client's semaphore keeps the true
//     request ceiling fixed regardless of batch width. Shutdown is coordinated via context cancellation from main.
//   - Persistence: batch upserts are transactional and idempotent; resubmitting the same records updates rows
//     instead of duplicating them.
//   - Run locally: go run ./cmd/campground-crawler -config config.yaml (or rely solely on SCRAPER_* env overrides).
package main
