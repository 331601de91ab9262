package scraper

import (
	"sync"

	"go.uber.org/zap"

	"github.com/outdoorsight/campground-crawler/internal/campground"
	"github.com/outdoorsight/campground-crawler/internal/metrics"
)

// runState is the mutable state shared by all concurrent cell tasks of one
// run: the seen-id set and the run counters. All access goes through the
// mutex so the check-then-add on an id is atomic under real parallelism.
type runState struct {
	mu        sync.Mutex
	seen      map[string]struct{}
	found     int
	rejected  int
	duplicate int
	cellsOK   int
	cellsErr  int
}

func newRunState() *runState {
	return &runState{seen: make(map[string]struct{})}
}

// admit validates the raw record and claims its id for this run. The same id
// arriving from two cells is accepted exactly once; validation rejections are
// logged and dropped. An id is only marked seen once its record validates.
func (st *runState) admit(raw campground.RawRecord, logger *zap.Logger) (campground.Campground, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	id := raw.ID()
	if id != "" {
		if _, dup := st.seen[id]; dup {
			st.duplicate++
			metrics.RecordDuplicate()
			return campground.Campground{}, false
		}
	}

	entity, err := campground.Validate(raw)
	if err != nil {
		st.rejected++
		metrics.RecordRejected()
		logger.Warn("record rejected", zap.Error(err))
		return campground.Campground{}, false
	}

	st.seen[entity.ID] = struct{}{}
	st.found++
	metrics.RecordsFound(1)
	return entity, true
}

func (st *runState) cellSucceeded() {
	st.mu.Lock()
	st.cellsOK++
	st.mu.Unlock()
}

func (st *runState) cellFailed() {
	st.mu.Lock()
	st.cellsErr++
	st.mu.Unlock()
}

func (st *runState) foundCount() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.found
}

func (st *runState) fill(stats *RunStats) {
	st.mu.Lock()
	defer st.mu.Unlock()
	stats.TotalFound = st.found
	stats.RecordsRejected = st.rejected
	stats.RecordsDuplicate = st.duplicate
	stats.CellsProcessed = st.cellsOK + st.cellsErr
	stats.CellsFailed = st.cellsErr
}
