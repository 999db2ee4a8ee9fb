package models

import "strings"

// ProductsQuery is the query string for GET /api/v1/products.
type ProductsQuery struct {
	// Q is the search text. Required, non-blank after trimming.
	Q string `form:"q"`
}

// CollectionRequest is what a single collector invocation works from. The
// time budget travels on the context.
type CollectionRequest struct {
	// Query is the trimmed, non-empty search text.
	Query string

	// Limit is the per-source item cap.
	Limit int
}

// NormalizeQuery trims surrounding whitespace and collapses inner runs of
// whitespace to a single space.
func NormalizeQuery(q string) string {
	return strings.Join(strings.Fields(q), " ")
}
