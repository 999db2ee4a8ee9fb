// Package extract maps raw upstream payloads to canonical product items.
//
// Every field is located by an ordered list of independent strategies; the
// first one that yields a non-empty, plausible value wins. A missing
// optional field leaves the item intact, a missing required field drops it,
// and a malformed entry never aborts the rest of the batch.
package extract

import (
	"log/slog"

	"github.com/use-agent/marketfeed/models"
)

// Strategy locates one field in a source entry.
type Strategy[T any] func(T) (string, bool)

// First applies strategies in order and returns the first success.
func First[T any](src T, strategies ...Strategy[T]) (string, bool) {
	for _, s := range strategies {
		if v, ok := s(src); ok && v != "" {
			return v, true
		}
	}
	return "", false
}

// Seen is the per-collection-run set of emitted URLs.
type Seen map[string]struct{}

// Has reports whether url was already emitted.
func (s Seen) Has(url string) bool {
	_, ok := s[url]
	return ok
}

// Add records url as emitted.
func (s Seen) Add(url string) {
	s[url] = struct{}{}
}

// harvest builds items from entries until left items were emitted. Entries
// that fail validation or whose URL is in seen are skipped; a panicking
// entry is logged and skipped.
func harvest[T any](source models.Marketplace, entries []T, seen Seen, left int, build func(T) (models.ProductItem, bool)) []models.ProductItem {
	var out []models.ProductItem
	if left <= 0 {
		return out
	}
	for i, e := range entries {
		item, ok := safeBuild(source, i, e, build)
		if !ok || !item.Valid() || seen.Has(item.URL) {
			continue
		}
		seen.Add(item.URL)
		out = append(out, item)
		if len(out) >= left {
			break
		}
	}
	return out
}

func safeBuild[T any](source models.Marketplace, index int, e T, build func(T) (models.ProductItem, bool)) (item models.ProductItem, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("extract: malformed entry skipped", "source", source, "index", index, "panic", r)
			ok = false
		}
	}()
	return build(e)
}
