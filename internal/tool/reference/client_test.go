package reference

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/openquill/dmforge/internal/observe"
)

// newTestServer serves a spells index plus one detail entry and counts
// requests per path.
func newTestServer(t *testing.T, indexHits, detailHits *atomic.Int64) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/spells", func(w http.ResponseWriter, r *http.Request) {
		indexHits.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]string{
				{"index": "fireball", "name": "Fireball", "url": "/api/spells/fireball"},
				{"index": "fire-bolt", "name": "Fire Bolt", "url": "/api/spells/fire-bolt"},
				{"index": "misty-step", "name": "Misty Step", "url": "/api/spells/misty-step"},
			},
		})
	})
	mux.HandleFunc("/api/spells/fireball", func(w http.ResponseWriter, r *http.Request) {
		detailHits.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"index": "fireball", "name": "Fireball", "level": 3,
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestLookup_HappyPath(t *testing.T) {
	t.Parallel()
	var indexHits, detailHits atomic.Int64
	srv := newTestServer(t, &indexHits, &detailHits)
	c := NewClient(srv.URL)

	res, err := c.Lookup(context.Background(), "/api/spells", "fireball")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if res.Error {
		t.Fatalf("unexpected error result: %s", res.Message)
	}

	var detail struct {
		Name  string `json:"name"`
		Level int    `json:"level"`
	}
	if err := json.Unmarshal(res.Data, &detail); err != nil {
		t.Fatalf("decode detail: %v", err)
	}
	if detail.Name != "Fireball" || detail.Level != 3 {
		t.Errorf("detail = %+v", detail)
	}
}

func TestLookup_CacheHitMakesNoNetworkCall(t *testing.T) {
	t.Parallel()
	var indexHits, detailHits atomic.Int64
	srv := newTestServer(t, &indexHits, &detailHits)
	c := NewClient(srv.URL)
	ctx := context.Background()

	first, err := c.Lookup(ctx, "/api/spells", "Fireball")
	if err != nil {
		t.Fatalf("first Lookup failed: %v", err)
	}
	// Different casing must hit the same cache entry.
	second, err := c.Lookup(ctx, "/api/spells", "FIREBALL")
	if err != nil {
		t.Fatalf("second Lookup failed: %v", err)
	}

	if detailHits.Load() != 1 {
		t.Errorf("detail endpoint hit %d times, want 1", detailHits.Load())
	}
	if indexHits.Load() != 1 {
		t.Errorf("index endpoint hit %d times, want 1", indexHits.Load())
	}
	if string(first.Data) != string(second.Data) {
		t.Error("cached payload differs from original")
	}
}

func TestLookup_RecordsOutcomes(t *testing.T) {
	t.Parallel()
	var indexHits, detailHits atomic.Int64
	srv := newTestServer(t, &indexHits, &detailHits)

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	c := NewClient(srv.URL, WithMetrics(m))
	ctx := context.Background()

	// miss (network fetch), hit (cache), not_found.
	if _, err := c.Lookup(ctx, "/api/spells", "Fireball"); err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if _, err := c.Lookup(ctx, "/api/spells", "fireball"); err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if _, err := c.Lookup(ctx, "/api/spells", "Firebull"); err != nil {
		t.Fatalf("Lookup: %v", err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	byOutcome := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != "dmforge.reference.lookups" {
				continue
			}
			sum, ok := met.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("reference.lookups is %T, want Sum[int64]", met.Data)
			}
			for _, dp := range sum.DataPoints {
				if outcome, ok := dp.Attributes.Value("outcome"); ok {
					byOutcome[outcome.AsString()] += dp.Value
				}
			}
		}
	}
	if byOutcome["miss"] != 1 || byOutcome["hit"] != 1 || byOutcome["not_found"] != 1 {
		t.Errorf("lookup outcomes = %v, want one each of miss/hit/not_found", byOutcome)
	}
}

func TestLookup_CacheExpiry(t *testing.T) {
	t.Parallel()
	var indexHits, detailHits atomic.Int64
	srv := newTestServer(t, &indexHits, &detailHits)

	now := time.Now()
	clock := func() time.Time { return now }
	c := NewClient(srv.URL, withClock(func() time.Time { return clock() }))
	ctx := context.Background()

	if _, err := c.Lookup(ctx, "/api/spells", "fireball"); err != nil {
		t.Fatalf("first Lookup failed: %v", err)
	}

	// Advance past the TTL; the next lookup refetches details but the index
	// stays memoized for the process lifetime.
	later := now.Add(2 * time.Hour)
	clock = func() time.Time { return later }

	if _, err := c.Lookup(ctx, "/api/spells", "fireball"); err != nil {
		t.Fatalf("second Lookup failed: %v", err)
	}
	if detailHits.Load() != 2 {
		t.Errorf("detail endpoint hit %d times, want 2", detailHits.Load())
	}
	if indexHits.Load() != 1 {
		t.Errorf("index endpoint hit %d times, want 1", indexHits.Load())
	}
}

func TestLookup_NotFoundSkipsDetailFetch(t *testing.T) {
	t.Parallel()
	var indexHits, detailHits atomic.Int64
	srv := newTestServer(t, &indexHits, &detailHits)
	c := NewClient(srv.URL)

	res, err := c.Lookup(context.Background(), "/api/spells", "Frostball")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if !res.Error {
		t.Fatal("expected an error result for unknown name")
	}
	if detailHits.Load() != 0 {
		t.Errorf("detail endpoint hit %d times, want 0", detailHits.Load())
	}
}

func TestLookup_Suggestions(t *testing.T) {
	t.Parallel()
	var indexHits, detailHits atomic.Int64
	srv := newTestServer(t, &indexHits, &detailHits)
	c := NewClient(srv.URL)

	res, err := c.Lookup(context.Background(), "/api/spells", "firebal")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if !res.Error {
		t.Fatal("expected an error result")
	}
	found := false
	for _, s := range res.Suggestions {
		if s == "Fireball" {
			found = true
		}
	}
	if !found {
		t.Errorf("suggestions %v should contain %q", res.Suggestions, "Fireball")
	}
}

func TestLookup_UpstreamFailure(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)
	c := NewClient(srv.URL)

	res, err := c.Lookup(context.Background(), "/api/spells", "fireball")
	if err != nil {
		t.Fatalf("Lookup must not return a Go error for upstream failure: %v", err)
	}
	if !res.Error {
		t.Fatal("expected an error result")
	}
}

func TestLookup_EmptyName(t *testing.T) {
	t.Parallel()
	c := NewClient("http://unreachable.invalid")

	res, err := c.Lookup(context.Background(), "/api/spells", "   ")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if !res.Error {
		t.Fatal("expected an error result for empty name")
	}
}

func TestWarmIndexes(t *testing.T) {
	t.Parallel()
	var indexHits, detailHits atomic.Int64
	srv := newTestServer(t, &indexHits, &detailHits)
	c := NewClient(srv.URL)

	if err := c.WarmIndexes(context.Background(), []string{"/api/spells"}); err != nil {
		t.Fatalf("WarmIndexes failed: %v", err)
	}
	if indexHits.Load() != 1 {
		t.Fatalf("index endpoint hit %d times, want 1", indexHits.Load())
	}

	// A warmed index serves lookups without another index fetch.
	if _, err := c.Lookup(context.Background(), "/api/spells", "fireball"); err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if indexHits.Load() != 1 {
		t.Errorf("index endpoint hit %d times after lookup, want 1", indexHits.Load())
	}
}

func TestTools_OnePerCategory(t *testing.T) {
	t.Parallel()
	c := NewClient("http://unreachable.invalid")

	ts := Tools(c)
	if len(ts) != len(Categories()) {
		t.Fatalf("Tools returned %d tools, want %d", len(ts), len(Categories()))
	}
	seen := map[string]bool{}
	for _, tl := range ts {
		if err := tl.Definition.Validate(); err != nil {
			t.Errorf("tool %q has invalid definition: %v", tl.Definition.Name, err)
		}
		if seen[tl.Definition.Name] {
			t.Errorf("duplicate tool name %q", tl.Definition.Name)
		}
		seen[tl.Definition.Name] = true
	}
}
