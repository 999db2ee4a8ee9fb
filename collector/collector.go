// Package collector implements the per-source harvesting strategies.
package collector

import (
	"context"

	"github.com/use-agent/marketfeed/engine"
	"github.com/use-agent/marketfeed/models"
)

// Collector harvests one upstream for a query and returns a capped,
// deduplicated item list. An error means the source failed as a whole.
type Collector interface {
	Name() models.Marketplace
	Limit() int
	Collect(ctx context.Context, req models.CollectionRequest) ([]models.ProductItem, error)
}

// Fetcher returns one page of raw search results.
type Fetcher interface {
	Fetch(ctx context.Context, query string, page int) ([]byte, error)
}

// Page is the subset of browser control the scroll algorithm needs.
type Page interface {
	Navigate(ctx context.Context, url string) error
	HTML(ctx context.Context) (string, error)
	CountTiles(ctx context.Context, selector string) (int, error)
	ScrollBy(ctx context.Context, px int) error
	// ClickIfVisible clicks the first visible element matching selector and
	// reports whether it did.
	ClickIfVisible(ctx context.Context, selector string) (bool, error)
}

// BrowserSession is a pooled browser that can be driven as a Page.
type BrowserSession interface {
	engine.Session
	Page
}

// Pool hands out browser sessions; see engine.SessionPool.
type Pool interface {
	Acquire(ctx context.Context) (BrowserSession, error)
	Release(s BrowserSession, success bool)
	Replace(ctx context.Context, s BrowserSession) (BrowserSession, error)
}
