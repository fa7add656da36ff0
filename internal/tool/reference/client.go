// Package reference provides the lookup tools that fetch canonical D&D 5e
// rules content from the public SRD reference API.
//
// One [Client] serves every category (monsters, spells, classes, ...). Each
// category's name→URL index is fetched lazily once per process and memoized;
// concurrent first calls are collapsed with singleflight. Full detail
// payloads are cached per lowercased entity name for a fixed TTL (default
// one hour) — SRD content is static, so staleness is traded for latency and
// upstream load.
//
// Tool handlers never return Go errors for domain failures: not-found and
// upstream failures are encoded in the JSON result so the LLM loop keeps
// flowing. A miss against the index carries "did you mean" suggestions
// ranked by Jaro-Winkler similarity.
package reference

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/antzucaro/matchr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/openquill/dmforge/internal/observe"
)

// DefaultBaseURL is the public D&D 5e SRD API.
const DefaultBaseURL = "https://www.dnd5eapi.co"

// defaultDetailTTL is how long a fetched detail payload stays fresh.
const defaultDetailTTL = time.Hour

// maxSuggestions caps the "did you mean" list in not-found results.
const maxSuggestions = 3

// suggestionThreshold is the minimum Jaro-Winkler similarity for a name to
// be offered as a suggestion.
const suggestionThreshold = 0.80

// IndexEntry is one row of a category's name→URL index, as returned by the
// API's list endpoints.
type IndexEntry struct {
	Index string `json:"index"`
	Name  string `json:"name"`
	URL   string `json:"url"`
}

// indexResponse is the JSON envelope of a list endpoint.
type indexResponse struct {
	Results []IndexEntry `json:"results"`
}

// cacheEntry holds a fetched detail payload and its fetch time.
type cacheEntry struct {
	payload   json.RawMessage
	fetchedAt time.Time
}

// Option is a functional option for [NewClient].
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpc = hc }
}

// WithDetailTTL overrides the detail cache freshness window. Default: 1h.
func WithDetailTTL(ttl time.Duration) Option {
	return func(c *Client) { c.ttl = ttl }
}

// WithMetrics replaces the metric instruments used to record lookup
// outcomes. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// withClock replaces the time source. Test hook.
func withClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// Client fetches and caches SRD reference content. Safe for concurrent use.
type Client struct {
	baseURL string
	httpc   *http.Client
	ttl     time.Duration
	now     func() time.Time
	metrics *observe.Metrics

	sf singleflight.Group

	mu      sync.RWMutex
	indexes map[string][]IndexEntry // key: category endpoint
	details map[string]cacheEntry   // key: endpoint + "|" + lowercased name
}

// NewClient creates a reference Client against baseURL (DefaultBaseURL when
// empty).
func NewClient(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: 15 * time.Second},
		ttl:     defaultDetailTTL,
		now:     time.Now,
		metrics: observe.DefaultMetrics(),
		indexes: make(map[string][]IndexEntry),
		details: make(map[string]cacheEntry),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Result is the uniform tool answer. On success Data carries the raw detail
// JSON from the API; on failure Error is true and Message explains what went
// wrong, with Suggestions populated for near-miss names.
type Result struct {
	Error       bool            `json:"error,omitempty"`
	Message     string          `json:"message,omitempty"`
	Suggestions []string        `json:"suggestions,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// Lookup resolves name within the category identified by endpoint (e.g.
// "/api/spells") and returns the detail payload, consulting the caches
// described in the package comment.
//
// Failures are encoded in the returned Result; the error return is reserved
// for context cancellation so tool handlers can distinguish "the player
// typo'd a spell" from "the process is shutting down".
func (c *Client) Lookup(ctx context.Context, endpoint, name string) (Result, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return Result{Error: true, Message: "a name is required"}, nil
	}
	key := endpoint + "|" + strings.ToLower(trimmed)

	// Fresh cached payload: no network.
	c.mu.RLock()
	entry, ok := c.details[key]
	c.mu.RUnlock()
	if ok && c.now().Sub(entry.fetchedAt) < c.ttl {
		c.metrics.RecordReferenceLookup(ctx, endpoint, "hit")
		return Result{Data: entry.payload}, nil
	}

	index, err := c.index(ctx, endpoint)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		c.metrics.RecordReferenceLookup(ctx, endpoint, "error")
		return Result{Error: true, Message: fmt.Sprintf("unable to reach the reference API: %v", err)}, nil
	}

	resolved, ok := resolve(index, trimmed)
	if !ok {
		c.metrics.RecordReferenceLookup(ctx, endpoint, "not_found")
		return Result{
			Error:       true,
			Message:     fmt.Sprintf("%q was not found — check the spelling", trimmed),
			Suggestions: suggest(index, trimmed),
		}, nil
	}

	payload, err := c.fetchJSON(ctx, resolved.URL)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		c.metrics.RecordReferenceLookup(ctx, endpoint, "error")
		return Result{Error: true, Message: fmt.Sprintf("unable to fetch details for %q right now", resolved.Name)}, nil
	}

	c.mu.Lock()
	c.details[key] = cacheEntry{payload: payload, fetchedAt: c.now()}
	c.mu.Unlock()

	c.metrics.RecordReferenceLookup(ctx, endpoint, "miss")
	return Result{Data: payload}, nil
}

// index returns the memoized index list for endpoint, fetching it on first
// use. Concurrent first calls share a single fetch via singleflight. A fetch
// failure is not memoized — the next call retries.
func (c *Client) index(ctx context.Context, endpoint string) ([]IndexEntry, error) {
	c.mu.RLock()
	idx, ok := c.indexes[endpoint]
	c.mu.RUnlock()
	if ok {
		return idx, nil
	}

	v, err, _ := c.sf.Do(endpoint, func() (any, error) {
		payload, err := c.fetchJSON(ctx, endpoint)
		if err != nil {
			return nil, err
		}
		var resp indexResponse
		if err := json.Unmarshal(payload, &resp); err != nil {
			return nil, fmt.Errorf("decode index: %w", err)
		}

		c.mu.Lock()
		c.indexes[endpoint] = resp.Results
		c.mu.Unlock()
		return resp.Results, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]IndexEntry), nil
}

// WarmIndexes prefetches the index list for every given endpoint
// concurrently. Intended for startup so the first player lookup skips the
// index round-trip. Individual failures abort the warmup but leave
// already-fetched indexes in place.
func (c *Client) WarmIndexes(ctx context.Context, endpoints []string) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, ep := range endpoints {
		g.Go(func() error {
			if _, err := c.index(ctx, ep); err != nil {
				return fmt.Errorf("reference: warm %s: %w", ep, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Ping checks API reachability for the readiness probe by fetching the root
// endpoint listing.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.fetchJSON(ctx, "/api")
	return err
}

// fetchJSON GETs baseURL+path and returns the body for 2xx responses.
func (c *Client) fetchJSON(ctx context.Context, path string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("reference: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("reference: get %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("reference: get %s: unexpected status %d", path, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("reference: read %s: %w", path, err)
	}
	return json.RawMessage(body), nil
}

// resolve finds the index entry whose name equals name, ignoring case.
// There is deliberately no fuzzy matching here — a lookup either hits the
// canonical name or reports a miss with suggestions.
func resolve(index []IndexEntry, name string) (IndexEntry, bool) {
	for _, e := range index {
		if strings.EqualFold(e.Name, name) {
			return e, true
		}
	}
	return IndexEntry{}, false
}

// suggest returns up to maxSuggestions index names ranked by Jaro-Winkler
// similarity to name, best first.
func suggest(index []IndexEntry, name string) []string {
	type scored struct {
		name  string
		score float64
	}
	lower := strings.ToLower(name)

	var candidates []scored
	for _, e := range index {
		score := matchr.JaroWinkler(lower, strings.ToLower(e.Name), true)
		if score >= suggestionThreshold {
			candidates = append(candidates, scored{name: e.Name, score: score})
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score == candidates[j].score {
			return candidates[i].name < candidates[j].name
		}
		return candidates[i].score > candidates[j].score
	})

	out := make([]string, 0, maxSuggestions)
	for _, c := range candidates {
		if len(out) == maxSuggestions {
			break
		}
		out = append(out, c.name)
	}
	return out
}
