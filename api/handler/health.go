package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/marketfeed/cache"
	"github.com/use-agent/marketfeed/config"
	"github.com/use-agent/marketfeed/engine"
	"github.com/use-agent/marketfeed/models"
)

// Version is reported by the health endpoint.
const Version = "5.0.2"

// PoolStatser reports browser pool utilisation.
type PoolStatser interface {
	Stats() engine.PoolStats
}

// Health returns a handler for GET /api/v1/health.
//
// Status is "degraded" while more than 80% of browser sessions are checked
// out. pool may be nil when the browser source is disabled.
func Health(pool PoolStatser, startTime time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		var stats engine.PoolStats
		if pool != nil {
			stats = pool.Stats()
		}

		status := "ok"
		if stats.Size > 0 && stats.InUse > int(float64(stats.Size)*0.8) {
			status = "degraded"
		}

		c.JSON(http.StatusOK, models.HealthResponse{
			Status:  status,
			Version: Version,
			Uptime:  time.Since(startTime).Round(time.Second).String(),
			PoolStats: models.PoolStats{
				Size:      stats.Size,
				Available: stats.Available,
				InUse:     stats.InUse,
			},
		})
	}
}

// CacheStatus returns a handler for GET /api/v1/cache.
func CacheStatus(cc *cache.Cache, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		st := cc.Stats()
		c.JSON(http.StatusOK, models.CacheStatusResponse{
			Enabled: st.Enabled,
			Size:    st.Size,
			TTL:     st.TTL.String(),
			Sources: map[string]models.SourceStatus{
				string(models.MarketplaceWildberries): {Enabled: cfg.API.Enabled, Limit: cfg.API.Limit},
				string(models.MarketplaceOzon):        {Enabled: cfg.Browser.Enabled, Limit: cfg.Scroll.Limit},
			},
		})
	}
}
