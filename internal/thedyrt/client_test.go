package thedyrt

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/outdoorsight/campground-crawler/internal/geo"
)

func testConfig(baseURL string) Config {
	return Config{
		BaseURL:           baseURL,
		Concurrency:       3,
		MaxAttempts:       5,
		DetailMaxAttempts: 3,
		BackoffBase:       time.Millisecond,
		BackoffMin:        time.Millisecond,
		BackoffMax:        2 * time.Millisecond,
		RateLimitCooldown: 150 * time.Millisecond,
		Timeout:           5 * time.Second,
	}
}

func searchPayload(ids ...string) string {
	out := `{"data":[`
	for i, id := range ids {
		if i > 0 {
			out += ","
		}
		out += fmt.Sprintf(`{"id":%q,"type":"campgrounds","links":{"self":"https://x/%s"},"attributes":{"name":"Camp %s","latitude":40.1,"longitude":-100.2,"region-name":"Nebraska"}}`, id, id, id)
	}
	return out + `]}`
}

func TestFetchPageBuildsBoundsQuery(t *testing.T) {
	t.Parallel()

	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		gotQuery = map[string]string{
			"ne":           q.Get("ne"),
			"sw":           q.Get("sw"),
			"page[size]":   q.Get("page[size]"),
			"page[number]": q.Get("page[number]"),
		}
		fmt.Fprint(w, searchPayload("a-1"))
	}))
	defer srv.Close()

	c, err := New(testConfig(srv.URL), zap.NewNop())
	require.NoError(t, err)

	cell := geo.Cell{North: 41, South: 40, East: -100, West: -101}
	records, err := c.FetchPage(context.Background(), cell, 2, 30)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "a-1", records[0].ID())

	require.Equal(t, "41,-100", gotQuery["ne"])
	require.Equal(t, "40,-101", gotQuery["sw"])
	require.Equal(t, "30", gotQuery["page[size]"])
	require.Equal(t, "2", gotQuery["page[number]"])
}

func TestFetchPageDropsIncompleteItems(t *testing.T) {
	t.Parallel()

	payload := `{"data":[
		{"id":"ok","type":"campgrounds","attributes":{"name":"Good","latitude":1,"longitude":2,"region-name":"Utah"}},
		{"id":"no-name","type":"campgrounds","attributes":{"latitude":1,"longitude":2,"region-name":"Utah"}},
		{"id":"no-coords","type":"campgrounds","attributes":{"name":"Bad","region-name":"Utah"}},
		{"id":"no-attrs","type":"campgrounds"}
	]}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, payload)
	}))
	defer srv.Close()

	c, err := New(testConfig(srv.URL), zap.NewNop())
	require.NoError(t, err)

	records, err := c.FetchPage(context.Background(), geo.Cell{North: 2, South: 1, East: 3, West: 2}, 1, 30)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "ok", records[0].ID())
}

func TestFetchPageCoercesNonListFields(t *testing.T) {
	t.Parallel()

	payload := `{"data":[{"id":"c1","type":"campgrounds","attributes":{
		"name":"Camp","latitude":1,"longitude":2,"region-name":"Utah",
		"camper-types":"rv","photo-urls":{"a":1}}}]}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, payload)
	}))
	defer srv.Close()

	c, err := New(testConfig(srv.URL), zap.NewNop())
	require.NoError(t, err)

	records, err := c.FetchPage(context.Background(), geo.Cell{North: 2, South: 1, East: 3, West: 2}, 1, 30)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, []any{}, records[0]["camper-types"])
	require.Equal(t, []any{}, records[0]["photo-urls"])
}

func TestFetchPageRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		// Three consecutive transient failures, then success.
		if calls.Add(1) <= 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, searchPayload("r-1"))
	}))
	defer srv.Close()

	c, err := New(testConfig(srv.URL), zap.NewNop())
	require.NoError(t, err)

	records, err := c.FetchPage(context.Background(), geo.Cell{North: 2, South: 1, East: 3, West: 2}, 1, 30)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, int32(4), calls.Load())
}

func TestFetchPageStopsAtMaxAttempts(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.MaxAttempts = 2
	c, err := New(cfg, zap.NewNop())
	require.NoError(t, err)

	_, err = c.FetchPage(context.Background(), geo.Cell{North: 2, South: 1, East: 3, West: 2}, 1, 30)
	require.Error(t, err)
	require.Equal(t, int32(2), calls.Load())
}

func TestFetchPageRateLimitCooldown(t *testing.T) {
	t.Parallel()

	var (
		mu    sync.Mutex
		times []time.Time
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		times = append(times, time.Now())
		first := len(times) == 1
		mu.Unlock()
		if first {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, searchPayload("rl-1"))
	}))
	defer srv.Close()

	c, err := New(testConfig(srv.URL), zap.NewNop())
	require.NoError(t, err)

	_, err = c.FetchPage(context.Background(), geo.Cell{North: 2, South: 1, East: 3, West: 2}, 1, 30)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, times, 2)
	// Backoff tops out at 2ms in the test config, so the observed gap is
	// dominated by the 150ms rate limit cooldown.
	require.GreaterOrEqual(t, times[1].Sub(times[0]), 150*time.Millisecond)
}

func TestFetchPageMalformedJSONNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, `{"data": not-json`)
	}))
	defer srv.Close()

	c, err := New(testConfig(srv.URL), zap.NewNop())
	require.NoError(t, err)

	records, err := c.FetchPage(context.Background(), geo.Cell{North: 2, South: 1, East: 3, West: 2}, 1, 30)
	require.NoError(t, err)
	require.Empty(t, records)
	require.Equal(t, int32(1), calls.Load())
}

func TestConcurrencyCeiling(t *testing.T) {
	t.Parallel()

	var inFlight, maxInFlight atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		cur := inFlight.Add(1)
		for {
			prev := maxInFlight.Load()
			if cur <= prev || maxInFlight.CompareAndSwap(prev, cur) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		inFlight.Add(-1)
		fmt.Fprint(w, searchPayload("c-1"))
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.Concurrency = 2
	c, err := New(cfg, zap.NewNop())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.FetchPage(context.Background(), geo.Cell{North: 2, South: 1, East: 3, West: 2}, 1, 30)
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	require.LessOrEqual(t, maxInFlight.Load(), int32(2))
}

func TestDetailsFlattensEnvelope(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/locations/camp-9", r.URL.Path)
		fmt.Fprint(w, `{"data":{"id":"camp-9","type":"campgrounds","links":{"self":"https://x/camp-9"},"attributes":{"name":"Nine","latitude":3,"longitude":4,"region-name":"Idaho"}}}`)
	}))
	defer srv.Close()

	c, err := New(testConfig(srv.URL), zap.NewNop())
	require.NoError(t, err)

	rec, err := c.Details(context.Background(), "camp-9")
	require.NoError(t, err)
	require.Equal(t, "camp-9", rec.ID())
	require.Equal(t, "Nine", rec["name"])
	require.Equal(t, "Idaho", rec["region-name"])
}

func TestDetailsRequiresID(t *testing.T) {
	t.Parallel()

	c, err := New(testConfig("http://localhost:0"), zap.NewNop())
	require.NoError(t, err)

	_, err = c.Details(context.Background(), "")
	require.Error(t, err)
}

func TestNewRejectsZeroConcurrency(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, zap.NewNop())
	require.Error(t, err)
}
