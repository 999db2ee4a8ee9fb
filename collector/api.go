package collector

import (
	"context"
	"log/slog"

	"github.com/use-agent/marketfeed/extract"
	"github.com/use-agent/marketfeed/models"
)

// APICollector pages through the Wildberries JSON search endpoint.
type APICollector struct {
	fetcher  Fetcher
	limit    int
	maxPages int
}

// NewAPICollector creates an APICollector.
func NewAPICollector(fetcher Fetcher, limit, maxPages int) *APICollector {
	return &APICollector{fetcher: fetcher, limit: limit, maxPages: maxPages}
}

func (c *APICollector) Name() models.Marketplace { return models.MarketplaceWildberries }

func (c *APICollector) Limit() int { return c.limit }

// Collect requests pages in order until the cap is reached, a page yields
// no usable items, or the page budget is spent. A failed page is logged and
// skipped. It returns an error only when no page could be fetched at all.
func (c *APICollector) Collect(ctx context.Context, req models.CollectionRequest) ([]models.ProductItem, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = c.limit
	}
	seen := extract.Seen{}
	items := make([]models.ProductItem, 0, limit)

	var (
		fetched bool
		lastErr error
	)
	for page := 1; page <= c.maxPages && len(items) < limit; page++ {
		if ctx.Err() != nil {
			break
		}
		raw, err := c.fetcher.Fetch(ctx, req.Query, page)
		if err != nil {
			slog.Warn("page fetch failed", "source", c.Name(), "query", req.Query, "page", page, "error", err)
			lastErr = err
			continue
		}
		fetched = true

		batch := extract.Wildberries(raw, seen, limit-len(items))
		slog.Debug("page harvested", "source", c.Name(), "query", req.Query, "page", page, "items", len(batch))
		if len(batch) == 0 {
			break
		}
		items = append(items, batch...)
	}

	if !fetched && lastErr != nil {
		return nil, lastErr
	}
	if !fetched && ctx.Err() != nil {
		return nil, models.NewScrapeError(models.ErrCodeTimeout, "deadline before first page", ctx.Err())
	}
	return items, nil
}
