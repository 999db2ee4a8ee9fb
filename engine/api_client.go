package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/use-agent/marketfeed/config"
	"github.com/use-agent/marketfeed/metrics"
	"github.com/use-agent/marketfeed/models"
)

// statusAntiBot is returned by the Wildberries edge when it wants the
// caller to slow down; it is treated exactly like 429.
const statusAntiBot = 498

const maxBody = 10 << 20

// APIClient fetches pages of JSON search results from one upstream. Every
// attempt first takes a slot from the shared Pacer, so concurrent callers
// are serialized and all of them observe a cooldown declared by any one.
type APIClient struct {
	client    *http.Client
	pacer     *Pacer
	metrics   *metrics.Metrics
	baseURL   string
	userAgent string

	maxRetries     int
	backoffBase    float64
	backoffUnit    time.Duration
	backoffMax     time.Duration
	jitter         time.Duration
	requestTimeout time.Duration

	jitterN func(n int64) int64
	now     func() time.Time
}

// NewAPIClient creates an APIClient. client carries the transport; pass the
// result of NewHTTPClient in production.
func NewAPIClient(cfg config.APIConfig, userAgent string, client *http.Client, pacer *Pacer, m *metrics.Metrics) *APIClient {
	return &APIClient{
		client:         client,
		pacer:          pacer,
		metrics:        m,
		baseURL:        cfg.BaseURL,
		userAgent:      userAgent,
		maxRetries:     cfg.MaxRetries,
		backoffBase:    cfg.BackoffBase,
		backoffUnit:    cfg.BackoffUnit,
		backoffMax:     cfg.BackoffMax,
		jitter:         cfg.Jitter,
		requestTimeout: cfg.RequestTimeout,
		jitterN:        rand.Int64N,
		now:            time.Now,
	}
}

// Fetch returns the raw body of one result page. Throttling responses
// declare a global cooldown before retrying; timeouts, connection errors
// and 5xx responses retry after a local backoff; other 4xx responses are
// terminal. No sleep extends past the context deadline.
func (c *APIClient) Fetch(ctx context.Context, query string, page int) ([]byte, error) {
	target := c.searchURL(query, page)
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := c.pacer.Wait(ctx); err != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, asTimeout(err, "waiting for request slot")
		}

		body, resp, err := c.do(ctx, target)
		kind := classify(err, resp)
		switch kind {
		case outcomeOK:
			c.metrics.IncUpstream("ok")
			return body, nil

		case outcomeThrottled:
			c.metrics.IncUpstream("throttled")
			delay, hinted := retryAfter(resp, c.now())
			if !hinted {
				delay = c.backoff(attempt)
			}
			until := c.pacer.Block(delay)
			c.metrics.IncCooldown()
			slog.Warn("upstream throttled, cooldown declared",
				"page", page, "attempt", attempt, "status", resp.StatusCode,
				"delay", delay, "until", until)
			lastErr = models.NewScrapeError(models.ErrCodeUpstreamThrottled,
				fmt.Sprintf("page %d throttled with status %d", page, resp.StatusCode), nil)
			if attempt == c.maxRetries {
				break
			}
			if exceedsDeadline(ctx, until) {
				return nil, lastErr
			}
			// The next pacer slot starts no earlier than the cooldown end.

		case outcomeTransient:
			c.metrics.IncUpstream("transient")
			lastErr = transientError(page, err, resp)
			if attempt == c.maxRetries {
				break
			}
			delay := c.backoff(attempt)
			if exceedsDeadline(ctx, c.now().Add(delay)) {
				return nil, lastErr
			}
			slog.Debug("transient upstream failure, backing off",
				"page", page, "attempt", attempt, "delay", delay, "error", lastErr)
			if err := sleepContext(ctx, delay); err != nil {
				return nil, lastErr
			}

		case outcomeCancelled:
			return nil, asTimeout(err, fmt.Sprintf("page %d", page))

		default:
			c.metrics.IncUpstream("rejected")
			return nil, models.NewScrapeError(models.ErrCodeUpstreamRejected,
				fmt.Sprintf("page %d rejected with status %d", page, resp.StatusCode), nil)
		}
	}
	return nil, lastErr
}

func (c *APIClient) do(ctx context.Context, target string) ([]byte, *http.Response, error) {
	reqCtx := ctx
	if c.requestTimeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, target, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("api_client: build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Accept-Language", "ru-RU,ru;q=0.9,en-US;q=0.8,en;q=0.7")
	req.Header.Set("Origin", "https://www.wildberries.ru")
	req.Header.Set("Referer", "https://www.wildberries.ru/")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, resp, fmt.Errorf("api_client: read body: %w", err)
	}
	return body, resp, nil
}

func (c *APIClient) searchURL(query string, page int) string {
	v := url.Values{}
	v.Set("appType", "1")
	v.Set("curr", "rub")
	v.Set("dest", "-1257786")
	v.Set("lang", "ru")
	v.Set("page", strconv.Itoa(page))
	v.Set("query", query)
	v.Set("resultset", "catalog")
	v.Set("sort", "popular")
	v.Set("spp", "30")
	return c.baseURL + "?" + v.Encode()
}

// backoff returns min(backoffMax, unit*base^(attempt+1) + jitter).
func (c *APIClient) backoff(attempt int) time.Duration {
	unit := c.backoffUnit
	if unit <= 0 {
		unit = time.Second
	}
	delay := time.Duration(float64(unit) * math.Pow(c.backoffBase, float64(attempt+1)))
	if c.jitter > 0 {
		delay += time.Duration(c.jitterN(int64(c.jitter)))
	}
	if c.backoffMax > 0 && delay > c.backoffMax {
		delay = c.backoffMax
	}
	return delay
}

type outcome int

const (
	outcomeOK outcome = iota
	outcomeThrottled
	outcomeTransient
	outcomeRejected
	outcomeCancelled
)

// classify maps a transport error or response status to a retry class.
// Any error other than cancellation is transient, including a body that
// failed to read after a 2xx status.
func classify(err error, resp *http.Response) outcome {
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return outcomeCancelled
		}
		return outcomeTransient
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == statusAntiBot:
		return outcomeThrottled
	case resp.StatusCode >= 500:
		return outcomeTransient
	case resp.StatusCode >= 400:
		return outcomeRejected
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return outcomeOK
	default:
		return outcomeRejected
	}
}

// retryAfter parses the Retry-After header as delta-seconds or HTTP date.
func retryAfter(resp *http.Response, now time.Time) (time.Duration, bool) {
	if resp == nil {
		return 0, false
	}
	v := strings.TrimSpace(resp.Header.Get("Retry-After"))
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			secs = 0
		}
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(v); err == nil {
		d := t.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}

func exceedsDeadline(ctx context.Context, t time.Time) bool {
	deadline, ok := ctx.Deadline()
	return ok && t.After(deadline)
}

func transientError(page int, err error, resp *http.Response) error {
	if err != nil {
		return models.NewScrapeError(models.ErrCodeTransientNetwork,
			fmt.Sprintf("page %d request failed", page), err)
	}
	return models.NewScrapeError(models.ErrCodeTransientNetwork,
		fmt.Sprintf("page %d upstream status %d", page, resp.StatusCode), nil)
}

func asTimeout(err error, msg string) error {
	var se *models.ScrapeError
	if errors.As(err, &se) {
		return se
	}
	return models.NewScrapeError(models.ErrCodeTimeout, msg, err)
}
