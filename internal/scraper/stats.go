package scraper

import (
	"time"

	"github.com/outdoorsight/campground-crawler/internal/geo"
)

// RunStats accumulates over one run and is handed to the caller when the run
// finishes. A degraded run still reports whatever partial counts it reached.
type RunStats struct {
	RunID            string          `json:"run_id"`
	StartedAt        time.Time       `json:"started_at"`
	FinishedAt       time.Time       `json:"finished_at"`
	Bounds           geo.BoundingBox `json:"bounds"`
	TotalFound       int             `json:"total_found"`
	New              int             `json:"new"`
	Updated          int             `json:"updated"`
	RegionsCovered   int             `json:"regions_covered"`
	CellsProcessed   int             `json:"cells_processed"`
	CellsFailed      int             `json:"cells_failed"`
	RecordsRejected  int             `json:"records_rejected"`
	RecordsDuplicate int             `json:"records_duplicate"`
	Error            string          `json:"error,omitempty"`
}

// Duration is the elapsed wall time of the run.
func (s RunStats) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}
