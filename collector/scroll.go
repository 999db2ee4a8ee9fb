package collector

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/use-agent/marketfeed/extract"
	"github.com/use-agent/marketfeed/models"
)

// ParseFunc extracts items from rendered page content.
type ParseFunc func(html string, seen extract.Seen, left int) []models.ProductItem

// ScrollConfig tunes the scroll-and-collect loop.
type ScrollConfig struct {
	Rounds            int
	RoundWait         time.Duration
	FirstPaintTimeout time.Duration
	PollInterval      time.Duration
	StagnationLimit   int
	StepPixels        int

	TileSelector     string
	LoadMoreSelector string
}

// Scroller reveals a lazily loaded results grid by scrolling and harvests
// it until the cap is reached or the page stops growing.
type Scroller struct {
	cfg       ScrollConfig
	parse     ParseFunc
	shape     extract.PageShape
}

// NewScroller creates a Scroller. shape tells genuine result pages from
// ban and challenge pages.
func NewScroller(cfg ScrollConfig, parse ParseFunc, shape extract.PageShape) *Scroller {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 250 * time.Millisecond
	}
	if cfg.StagnationLimit <= 0 {
		cfg.StagnationLimit = 1
	}
	return &Scroller{cfg: cfg, parse: parse, shape: shape}
}

// Harvest loads url in page and collects up to left new items into seen.
// Items gathered before a failure are returned together with the error.
func (s *Scroller) Harvest(ctx context.Context, page Page, url string, seen extract.Seen, left int) ([]models.ProductItem, error) {
	if err := page.Navigate(ctx, url); err != nil {
		return nil, models.NewScrapeError(models.ErrCodeTransientNetwork, "navigate", err)
	}
	if err := s.checkBan(ctx, page); err != nil {
		return nil, err
	}

	count, err := s.waitForTiles(ctx, page, 0, s.cfg.FirstPaintTimeout)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, models.NewScrapeError(models.ErrCodeExtractionMiss,
			fmt.Sprintf("no result tiles within %s", s.cfg.FirstPaintTimeout), nil)
	}

	var items []models.ProductItem
	stagnant := 0
	for round := 1; round <= s.cfg.Rounds; round++ {
		html, err := page.HTML(ctx)
		if err != nil {
			return items, models.NewScrapeError(models.ErrCodeTransientNetwork, "read page", err)
		}
		if reason, banned := extract.DetectBan(html, s.shape); banned {
			return items, models.NewScrapeError(models.ErrCodeUpstreamBlocked, reason, nil)
		}

		items = append(items, s.parse(html, seen, left-len(items))...)
		if len(items) >= left {
			return items, nil
		}

		before, err := page.CountTiles(ctx, s.cfg.TileSelector)
		if err != nil {
			slog.Debug("tile count failed", "round", round, "error", err)
		}
		if err := page.ScrollBy(ctx, s.cfg.StepPixels); err != nil {
			return items, models.NewScrapeError(models.ErrCodeTransientNetwork, "scroll", err)
		}

		after, err := s.waitForTiles(ctx, page, before, s.cfg.RoundWait)
		if err != nil {
			return items, err
		}
		if after <= before && s.cfg.LoadMoreSelector != "" {
			clicked, cerr := page.ClickIfVisible(ctx, s.cfg.LoadMoreSelector)
			if cerr != nil {
				slog.Debug("load-more click failed", "round", round, "error", cerr)
			}
			if clicked {
				if after, err = s.waitForTiles(ctx, page, before, s.cfg.RoundWait); err != nil {
					return items, err
				}
			}
		}

		if after > before {
			stagnant = 0
		} else {
			stagnant++
			slog.Debug("scroll round without growth", "round", round, "tiles", after, "stagnant", stagnant)
			if stagnant >= s.cfg.StagnationLimit {
				break
			}
		}
	}

	html, err := page.HTML(ctx)
	if err != nil {
		return items, nil
	}
	items = append(items, s.parse(html, seen, left-len(items))...)
	return items, nil
}

func (s *Scroller) checkBan(ctx context.Context, page Page) error {
	html, err := page.HTML(ctx)
	if err != nil {
		return models.NewScrapeError(models.ErrCodeTransientNetwork, "read page", err)
	}
	if reason, banned := extract.DetectBan(html, s.shape); banned {
		return models.NewScrapeError(models.ErrCodeUpstreamBlocked, reason, nil)
	}
	return nil
}

// waitForTiles polls the tile count until it exceeds above or timeout
// elapses, and returns the last count seen. Only ctx ending is an error.
func (s *Scroller) waitForTiles(ctx context.Context, page Page, above int, timeout time.Duration) (int, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	last := above
	for {
		n, err := page.CountTiles(ctx, s.cfg.TileSelector)
		if err == nil {
			last = n
			if n > above {
				return n, nil
			}
		}
		if !time.Now().Before(deadline) {
			return last, nil
		}
		select {
		case <-ctx.Done():
			return last, models.NewScrapeError(models.ErrCodeTimeout, "waiting for result tiles", ctx.Err())
		case <-ticker.C:
		}
	}
}
