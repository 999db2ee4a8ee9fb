package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod/lib/proto"

	"github.com/use-agent/marketfeed/models"
)

// loadWait bounds the wait for the load event after navigation. Result
// grids keep mutating long after load, so DOM stability is not awaited.
const loadWait = 15 * time.Second

// Navigate loads url and waits for the load event.
//
// Stealth scripts and the hijack router are installed at launch, before
// the first navigation, so they apply to every page loaded here.
func (s *Session) Navigate(ctx context.Context, url string) error {
	p := s.page.Context(ctx)
	if err := p.Navigate(url); err != nil {
		return categorizeError(err, "navigation to search page failed")
	}
	if err := p.Timeout(loadWait).WaitLoad(); err != nil {
		if ctx.Err() != nil {
			return categorizeError(ctx.Err(), "waiting for page load")
		}
		slog.Debug("load event not observed, proceeding with current DOM", "session", s.id, "error", err)
	}
	return nil
}

// HTML returns the current serialized document.
func (s *Session) HTML(ctx context.Context) (string, error) {
	html, err := s.page.Context(ctx).HTML()
	if err != nil {
		return "", categorizeError(err, "failed to extract page HTML")
	}
	return html, nil
}

// CountTiles returns the number of elements matching selector without
// waiting for any to appear.
func (s *Session) CountTiles(ctx context.Context, selector string) (int, error) {
	res, err := s.page.Context(ctx).Eval(`(sel) => document.querySelectorAll(sel).length`, selector)
	if err != nil {
		return 0, categorizeError(err, "count tiles")
	}
	return res.Value.Int(), nil
}

// ScrollBy scrolls the viewport down by px pixels with wheel events, so
// scroll-triggered lazy loading fires as it would for a user.
func (s *Session) ScrollBy(ctx context.Context, px int) error {
	p := s.page.Context(ctx)
	if err := p.Mouse.Scroll(0, float64(px), 4); err != nil {
		if _, evalErr := p.Eval(`(dy) => window.scrollBy(0, dy)`, px); evalErr != nil {
			return categorizeError(fmt.Errorf("wheel: %w; scrollBy: %v", err, evalErr), "scroll")
		}
	}
	return nil
}

// ClickIfVisible clicks the first element matching selector when it is
// present and visible.
func (s *Session) ClickIfVisible(ctx context.Context, selector string) (bool, error) {
	p := s.page.Context(ctx)
	has, el, err := p.Has(selector)
	if err != nil || !has {
		return false, err
	}
	visible, err := el.Visible()
	if err != nil || !visible {
		return false, err
	}
	if err := el.ScrollIntoView(); err != nil {
		return false, err
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return false, fmt.Errorf("click %q: %w", selector, err)
	}
	return true, nil
}

// categorizeError wraps raw errors into typed ScrapeErrors so collectors can
// tell deadline expiry from page failures.
func categorizeError(err error, msg string) *models.ScrapeError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return models.NewScrapeError(models.ErrCodeTimeout, msg, err)
	case errors.Is(err, context.Canceled):
		return models.NewScrapeError(models.ErrCodeTimeout, "request canceled", err)
	default:
		return models.NewScrapeError(models.ErrCodeTransientNetwork, msg, err)
	}
}
