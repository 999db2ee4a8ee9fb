package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/marketfeed/aggregator"
	"github.com/use-agent/marketfeed/models"
)

// Aggregator is the search entry point the products handler calls.
type Aggregator interface {
	Aggregate(ctx context.Context, query string, budget time.Duration) (*aggregator.Result, error)
}

// Products returns a handler for GET /api/v1/products?q=.
//
// The response carries X-Cache: hit|miss. Failures map to 400 for a blank
// query, 502 when every source failed and 500 when no source is enabled.
func Products(agg Aggregator, budget time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		var q models.ProductsQuery
		if err := c.ShouldBindQuery(&q); err != nil {
			respondError(c, models.NewScrapeError(models.ErrCodeInvalidInput, err.Error(), err))
			return
		}
		query := models.NormalizeQuery(q.Q)
		if query == "" {
			respondError(c, models.NewScrapeError(models.ErrCodeInvalidInput,
				"query parameter q is required", aggregator.ErrInvalidQuery))
			return
		}

		res, err := agg.Aggregate(c.Request.Context(), query, budget)
		if err != nil {
			respondError(c, err)
			return
		}

		if res.FromCache {
			c.Header("X-Cache", "hit")
		} else {
			c.Header("X-Cache", "miss")
		}
		items := res.Items
		if items == nil {
			items = []models.ProductItem{}
		}
		c.JSON(http.StatusOK, models.ProductsResponse{
			Query: res.Query,
			Count: len(items),
			Items: items,
		})
	}
}

// respondError maps a ScrapeError to the correct HTTP status code and writes
// a structured JSON error response.
func respondError(c *gin.Context, err error) {
	var scrapeErr *models.ScrapeError
	if !errors.As(err, &scrapeErr) {
		scrapeErr = models.NewScrapeError(models.ErrCodeInternal, err.Error(), err)
	}
	c.JSON(mapErrorToStatus(scrapeErr), models.ErrorResponse{Error: scrapeErr.ToDetail()})
}

// mapErrorToStatus translates error codes to HTTP status codes.
func mapErrorToStatus(e *models.ScrapeError) int {
	switch e.Code {
	case models.ErrCodeInvalidInput:
		return http.StatusBadRequest // 400
	case models.ErrCodeAllSourcesFailed:
		return http.StatusBadGateway // 502
	case models.ErrCodeTimeout:
		return http.StatusGatewayTimeout // 504
	case models.ErrCodeRateLimited:
		return http.StatusTooManyRequests // 429
	case models.ErrCodeUnauthorized:
		return http.StatusUnauthorized // 401
	default:
		return http.StatusInternalServerError // 500
	}
}
