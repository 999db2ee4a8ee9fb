// Package aggregator fans a query out to every enabled collector and merges
// their results in a fixed source order.
package aggregator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/use-agent/marketfeed/cache"
	"github.com/use-agent/marketfeed/collector"
	"github.com/use-agent/marketfeed/metrics"
	"github.com/use-agent/marketfeed/models"
)

var (
	// ErrInvalidQuery is returned for a query that is blank after trimming.
	ErrInvalidQuery = errors.New("aggregator: empty query")

	// ErrNoSources is returned when no collector is enabled.
	ErrNoSources = errors.New("aggregator: no sources enabled")

	// ErrAllSourcesFailed is returned when every enabled collector failed.
	ErrAllSourcesFailed = errors.New("aggregator: all sources failed")
)

// Result is the outcome of one aggregation.
type Result struct {
	Query     string
	Items     []models.ProductItem
	FromCache bool
}

// Options configures an Aggregator.
type Options struct {
	// OutputCap truncates the merged list; 0 means unlimited.
	OutputCap int

	// DefaultBudget applies when Aggregate is called with budget <= 0.
	DefaultBudget time.Duration
}

// Aggregator runs collectors concurrently and caches merged results.
type Aggregator struct {
	collectors []collector.Collector
	cache      *cache.Cache
	metrics    *metrics.Metrics
	opts       Options
}

// New creates an Aggregator. collectors are merged in the order given.
// cache and m may be nil.
func New(collectors []collector.Collector, c *cache.Cache, m *metrics.Metrics, opts Options) *Aggregator {
	if opts.DefaultBudget <= 0 {
		opts.DefaultBudget = 45 * time.Second
	}
	return &Aggregator{collectors: collectors, cache: c, metrics: m, opts: opts}
}

// Sources returns the names of the enabled collectors in merge order.
func (a *Aggregator) Sources() []models.Marketplace {
	names := make([]models.Marketplace, len(a.collectors))
	for i, c := range a.collectors {
		names[i] = c.Name()
	}
	return names
}

type branchResult struct {
	index int
	items []models.ProductItem
	err   error
}

// Aggregate returns the merged product list for query. A cached result
// younger than the cache TTL is returned without contacting any upstream.
// Sources that fail or do not finish within budget contribute nothing;
// Aggregate fails only when all of them did.
func (a *Aggregator) Aggregate(ctx context.Context, query string, budget time.Duration) (*Result, error) {
	q := models.NormalizeQuery(query)
	if q == "" {
		return nil, models.NewScrapeError(models.ErrCodeInvalidInput, "query must not be empty", ErrInvalidQuery)
	}

	key := cache.Key(q)
	if payload, ok := a.cache.Get(key); ok {
		var items []models.ProductItem
		err := json.Unmarshal(payload, &items)
		if err == nil {
			a.metrics.CacheLookup(true)
			slog.Debug("cache hit", "query", q, "items", len(items))
			return &Result{Query: q, Items: items, FromCache: true}, nil
		}
		slog.Warn("cache entry undecodable, refreshing", "query", q, "error", err)
	}
	a.metrics.CacheLookup(false)

	if len(a.collectors) == 0 {
		return nil, models.NewScrapeError(models.ErrCodeConfiguration, "no sources enabled", ErrNoSources)
	}

	if budget <= 0 {
		budget = a.opts.DefaultBudget
	}
	start := time.Now()
	defer func() { a.metrics.ObserveAggregate(time.Since(start)) }()

	runCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()
	runID := uuid.NewString()
	slog.Info("aggregation started", "run", runID, "query", q, "sources", len(a.collectors), "budget", budget)

	results := make(chan branchResult, len(a.collectors))
	for i, c := range a.collectors {
		go a.runBranch(runCtx, i, c, models.CollectionRequest{Query: q, Limit: c.Limit()}, results)
	}

	perSource := make([][]models.ProductItem, len(a.collectors))
	errs := make([]error, len(a.collectors))
	done := make([]bool, len(a.collectors))
	for _, br := range gather(runCtx, results, len(a.collectors)) {
		done[br.index] = true
		perSource[br.index] = br.items
		errs[br.index] = br.err
	}

	failed := 0
	for i, c := range a.collectors {
		name := string(c.Name())
		if !done[i] {
			errs[i] = models.NewScrapeError(models.ErrCodeTimeout,
				fmt.Sprintf("%s did not finish within %s", name, budget), runCtx.Err())
		}
		if errs[i] != nil {
			failed++
			a.metrics.CollectorRun(name, "failed", 0)
			slog.Warn("source failed", "run", runID, "source", name, "query", q, "error", errs[i])
			continue
		}
		a.metrics.CollectorRun(name, "ok", len(perSource[i]))
		slog.Info("source finished", "run", runID, "source", name, "query", q, "items", len(perSource[i]))
	}
	if failed == len(a.collectors) {
		return nil, models.NewScrapeError(models.ErrCodeAllSourcesFailed, "every enabled source failed",
			errors.Join(append([]error{ErrAllSourcesFailed}, errs...)...))
	}

	items := merge(perSource, a.opts.OutputCap)
	if payload, err := json.Marshal(items); err != nil {
		slog.Error("cache encode failed", "query", q, "error", err)
	} else {
		a.cache.Set(key, payload)
	}

	slog.Info("aggregation finished", "run", runID, "query", q, "items", len(items),
		"failed_sources", failed, "elapsed", time.Since(start))
	return &Result{Query: q, Items: items, FromCache: false}, nil
}

// gather receives up to n branch results, stopping when ctx ends. Results
// already buffered at that point are still taken.
func gather(ctx context.Context, results <-chan branchResult, n int) []branchResult {
	out := make([]branchResult, 0, n)
	for len(out) < n {
		select {
		case br := <-results:
			out = append(out, br)
		case <-ctx.Done():
			for len(out) < n {
				select {
				case br := <-results:
					out = append(out, br)
				default:
					return out
				}
			}
			return out
		}
	}
	return out
}

// runBranch runs one collector and reports exactly once on results, also
// when the collector panics.
func (a *Aggregator) runBranch(ctx context.Context, index int, c collector.Collector, req models.CollectionRequest, results chan<- branchResult) {
	br := branchResult{index: index}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("collector panicked", "source", c.Name(), "query", req.Query, "panic", r)
			br = branchResult{index: index, err: models.NewScrapeError(models.ErrCodeInternal,
				fmt.Sprintf("collector panicked: %v", r), nil)}
		}
		results <- br
	}()
	br.items, br.err = c.Collect(ctx, req)
}

// merge concatenates per-source lists in order, dropping repeated URLs, and
// truncates to limit.
func merge(perSource [][]models.ProductItem, limit int) []models.ProductItem {
	out := make([]models.ProductItem, 0)
	seen := make(map[string]struct{})
	for _, items := range perSource {
		for _, it := range items {
			if limit > 0 && len(out) >= limit {
				return out
			}
			if _, dup := seen[it.URL]; dup {
				continue
			}
			seen[it.URL] = struct{}{}
			out = append(out, it)
		}
	}
	return out
}
