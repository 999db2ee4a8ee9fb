package collector

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

const banPage = `<html><head><title>Доступ ограничен</title></head><body>blocked</body></html>`

// fakePage renders a grid of tiles that grows by growth tiles per scroll.
type fakePage struct {
	mu sync.Mutex

	tiles      int
	growth     int
	maxTiles   int
	clickAdds  int
	banAfter   int // ban once this many scrolls happened; 0 disables
	banned     bool
	navErr     error
	panicOnNav bool
	urlPrefix  string

	navigations []string
	scrolls     int
	clicks      int
	htmlReads   int
}

func (p *fakePage) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.panicOnNav {
		panic("renderer crashed")
	}
	p.navigations = append(p.navigations, url)
	return p.navErr
}

func (p *fakePage) HTML(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.htmlReads++
	if p.banned || (p.banAfter > 0 && p.scrolls >= p.banAfter) {
		return banPage, nil
	}
	prefix := p.urlPrefix
	if prefix == "" {
		prefix = "item"
	}
	var b strings.Builder
	b.WriteString(`<html><head><title>OZON</title></head><body><div data-widget="searchResultsV2">`)
	for i := 0; i < p.tiles; i++ {
		fmt.Fprintf(&b, `<div class="tile-root"><a href="/product/%s-%d/?r=%d"><span class="tsBody">Товар %d</span></a><span data-test-id="price-current">%d ₽</span></div>`,
			prefix, i, p.scrolls, i, 100+i)
	}
	b.WriteString(`</div></body></html>`)
	return b.String(), nil
}

func (p *fakePage) CountTiles(ctx context.Context, selector string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tiles, nil
}

func (p *fakePage) ScrollBy(ctx context.Context, px int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scrolls++
	p.grow(p.growth)
	return nil
}

func (p *fakePage) ClickIfVisible(ctx context.Context, selector string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.clickAdds == 0 {
		return false, nil
	}
	p.clicks++
	p.grow(p.clickAdds)
	return true, nil
}

func (p *fakePage) grow(n int) {
	p.tiles += n
	if p.maxTiles > 0 && p.tiles > p.maxTiles {
		p.tiles = p.maxTiles
	}
}

// fakeBrowser is a BrowserSession backed by a fakePage.
type fakeBrowser struct {
	*fakePage
	id     string
	closed bool
}

func (b *fakeBrowser) ID() string                      { return b.id }
func (b *fakeBrowser) Reset(ctx context.Context) error { return nil }
func (b *fakeBrowser) Close() error                    { b.closed = true; return nil }

// fakePool hands out browsers built by next, in order.
type fakePool struct {
	mu         sync.Mutex
	next       func(n int) *fakeBrowser
	created    int
	acquireErr error
	replaceErr error

	acquires int
	releases int
	replaces int
	healthy  []bool
	out      int
}

func (p *fakePool) Acquire(ctx context.Context) (BrowserSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.acquireErr != nil {
		return nil, p.acquireErr
	}
	p.acquires++
	p.out++
	p.created++
	return p.next(p.created), nil
}

func (p *fakePool) Release(s BrowserSession, success bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.releases++
	p.out--
	p.healthy = append(p.healthy, success)
}

func (p *fakePool) Replace(ctx context.Context, s BrowserSession) (BrowserSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replaces++
	_ = s.Close()
	if p.replaceErr != nil {
		p.out--
		return nil, p.replaceErr
	}
	p.created++
	return p.next(p.created), nil
}

// fakeFetcher serves canned pages.
type fakeFetcher struct {
	pages map[int]string
	errs  map[int]error
	calls []int
}

func (f *fakeFetcher) Fetch(ctx context.Context, query string, page int) ([]byte, error) {
	f.calls = append(f.calls, page)
	if err, ok := f.errs[page]; ok {
		return nil, err
	}
	if body, ok := f.pages[page]; ok {
		return []byte(body), nil
	}
	return []byte(`{"data":{"products":[]}}`), nil
}

var errUpstream = errors.New("upstream down")

// wbPage renders count products with ids first+1 .. first+count.
func wbPage(first, count int) string {
	var parts []string
	for i := 0; i < count; i++ {
		id := first + i + 1
		parts = append(parts, fmt.Sprintf(`{"id":%d,"name":"Товар %d","salePriceU":%d}`, id, id, (id+1)*100))
	}
	return `{"data":{"products":[` + strings.Join(parts, ",") + `]}}`
}
