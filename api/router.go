package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/use-agent/marketfeed/api/handler"
	"github.com/use-agent/marketfeed/api/middleware"
	"github.com/use-agent/marketfeed/cache"
	"github.com/use-agent/marketfeed/config"
	"github.com/use-agent/marketfeed/metrics"
)

// Deps are the components the HTTP layer serves from.
type Deps struct {
	Config     *config.Config
	Aggregator handler.Aggregator
	Cache      *cache.Cache
	Pool       handler.PoolStatser // nil when the browser source is disabled
	Metrics    *metrics.Metrics
	StartTime  time.Time
}

// NewRouter creates a configured Gin engine with all routes and middleware.
//
// Middleware chain:
//
//	Global:  Recovery → Logger
//	API:     Auth (if enabled) → RateLimit
//
// Health and metrics stay outside auth so probes and scrapers always work.
// ctx stops background middleware work.
func NewRouter(ctx context.Context, d Deps) *gin.Engine {
	gin.SetMode(d.Config.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	health := handler.Health(d.Pool, d.StartTime)
	r.GET("/health", health)
	if d.Metrics != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Metrics.Registry, promhttp.HandlerOpts{})))
	}

	v1 := r.Group("/api/v1")
	v1.GET("/health", health)

	var guards []gin.HandlerFunc
	if d.Config.Auth.Enabled {
		guards = append(guards, middleware.Auth(d.Config.Auth.APIKeys))
	}
	guards = append(guards, middleware.RateLimit(ctx, d.Config.RateLimit))

	products := handler.Products(d.Aggregator, d.Config.Aggregator.Budget)

	protected := v1.Group("")
	protected.Use(guards...)
	protected.GET("/products", products)
	protected.GET("/cache", handler.CacheStatus(d.Cache, d.Config))

	// Unversioned paths kept for existing clients.
	legacy := r.Group("")
	legacy.Use(guards...)
	legacy.GET("/products", products)
	legacy.GET("/api/products", products)

	return r
}
