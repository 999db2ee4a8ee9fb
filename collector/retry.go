package collector

import (
	"context"
	"log/slog"
	"net/url"

	"github.com/use-agent/marketfeed/extract"
	"github.com/use-agent/marketfeed/models"
)

// BrowserOptions configures a BrowserCollector.
type BrowserOptions struct {
	Limit int

	// MinItems is the harvest below which the session is replaced and the
	// query retried.
	MinItems int

	// Retries is the number of extra attempts on a fresh session.
	Retries int

	// RatingPass adds a rating-sorted search when capacity remains.
	RatingPass bool
}

// BrowserCollector harvests Ozon search pages through pooled browser
// sessions, retrying on a fresh session when the yield is too low.
type BrowserCollector struct {
	pool     Pool
	scroller *Scroller
	opts     BrowserOptions
}

// NewBrowserCollector creates a BrowserCollector.
func NewBrowserCollector(pool Pool, scroller *Scroller, opts BrowserOptions) *BrowserCollector {
	return &BrowserCollector{pool: pool, scroller: scroller, opts: opts}
}

func (c *BrowserCollector) Name() models.Marketplace { return models.MarketplaceOzon }

func (c *BrowserCollector) Limit() int { return c.opts.Limit }

// Collect checks out one session and runs up to 1+Retries attempts,
// replacing the session between attempts. It returns the largest result
// seen, and an error only when every attempt failed with nothing harvested.
// The session is always returned to the pool, including on panic.
func (c *BrowserCollector) Collect(ctx context.Context, req models.CollectionRequest) ([]models.ProductItem, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = c.opts.Limit
	}
	threshold := c.opts.MinItems
	if threshold > limit {
		threshold = limit
	}

	sess, err := c.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	healthy := false
	defer func() {
		if sess != nil {
			c.pool.Release(sess, healthy)
		}
	}()

	var (
		best    []models.ProductItem
		lastErr error
	)
	attempts := 1 + c.opts.Retries
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if ctx.Err() != nil {
				break
			}
			fresh, err := c.pool.Replace(ctx, sess)
			if err != nil {
				sess = nil
				lastErr = err
				slog.Warn("session replacement failed", "source", c.Name(), "query", req.Query, "error", err)
				break
			}
			sess = fresh
		}

		items, err := c.attempt(ctx, sess, req.Query, limit)
		if len(items) > len(best) {
			best = items
		}
		if err != nil {
			lastErr = err
			slog.Warn("browser attempt failed", "source", c.Name(), "query", req.Query,
				"attempt", attempt+1, "session", sess.ID(), "items", len(items), "error", err)
		} else {
			lastErr = nil
		}
		if len(items) >= threshold && err == nil {
			healthy = true
			break
		}
		slog.Info("browser yield below threshold", "source", c.Name(), "query", req.Query,
			"attempt", attempt+1, "items", len(items), "threshold", threshold)
	}

	if len(best) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return best, nil
}

// attempt runs the default search and, if capacity remains, the
// rating-sorted search, sharing one seen-set.
func (c *BrowserCollector) attempt(ctx context.Context, page Page, query string, limit int) ([]models.ProductItem, error) {
	seen := extract.Seen{}
	items, err := c.scroller.Harvest(ctx, page, OzonSearchURL(query, ""), seen, limit)
	if err != nil || !c.opts.RatingPass || len(items) >= limit {
		return items, err
	}

	more, err := c.scroller.Harvest(ctx, page, OzonSearchURL(query, "rating"), seen, limit-len(items))
	if err != nil {
		slog.Debug("rating pass failed", "source", c.Name(), "query", query, "error", err)
	}
	return append(items, more...), nil
}

// OzonSearchURL builds the search page URL; sorting may be empty.
func OzonSearchURL(query, sorting string) string {
	u := "https://www.ozon.ru/search/?text=" + url.QueryEscape(query) + "&from_global=true"
	if sorting != "" {
		u += "&sorting=" + url.QueryEscape(sorting)
	}
	return u
}
