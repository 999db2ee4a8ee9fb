package models

// ProductsResponse is the response for GET /api/v1/products.
type ProductsResponse struct {
	Query string        `json:"query"`
	Count int           `json:"count"`
	Items []ProductItem `json:"items"`
}

// ErrorResponse wraps an ErrorDetail for failed requests.
type ErrorResponse struct {
	Error *ErrorDetail `json:"error"`
}

// SourceStatus describes one upstream's toggle and per-query cap.
type SourceStatus struct {
	Enabled bool `json:"enabled"`
	Limit   int  `json:"limit"`
}

// CacheStatusResponse is the response for GET /api/v1/cache.
type CacheStatusResponse struct {
	Enabled bool                    `json:"enabled"`
	Size    int                     `json:"size"`
	TTL     string                  `json:"ttl"`
	Sources map[string]SourceStatus `json:"sources"`
}

// HealthResponse is the response for GET /api/v1/health.
type HealthResponse struct {
	Status    string    `json:"status"` // "ok" or "degraded"
	Version   string    `json:"version"`
	Uptime    string    `json:"uptime"`
	PoolStats PoolStats `json:"pool_stats"`
}

// PoolStats reports the state of the browser session pool.
type PoolStats struct {
	Size      int `json:"size"`
	Available int `json:"available"`
	InUse     int `json:"in_use"`
}
