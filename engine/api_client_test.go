package engine

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"testing/iotest"
	"time"

	"github.com/jarcoal/httpmock"

	"github.com/use-agent/marketfeed/config"
	"github.com/use-agent/marketfeed/models"
)

const testBaseURL = "https://search.example.test/exactmatch/ru/common/v5/search"

func newTestClient(t *testing.T, maxRetries int) (*APIClient, *httpmock.MockTransport, *Pacer) {
	t.Helper()
	transport := httpmock.NewMockTransport()
	pacer := NewPacer(0, 0)
	cfg := config.APIConfig{
		BaseURL:        testBaseURL,
		MaxRetries:     maxRetries,
		BackoffBase:    2,
		BackoffUnit:    10 * time.Millisecond,
		BackoffMax:     time.Second,
		RequestTimeout: time.Second,
	}
	c := NewAPIClient(cfg, "test-agent", &http.Client{Transport: transport}, pacer, nil)
	return c, transport, pacer
}

func codeOf(err error) string {
	var se *models.ScrapeError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

func TestFetchSuccess(t *testing.T) {
	c, transport, _ := newTestClient(t, 2)

	var gotQuery, gotPage, gotUA string
	transport.RegisterResponder("GET", testBaseURL, func(req *http.Request) (*http.Response, error) {
		gotQuery = req.URL.Query().Get("query")
		gotPage = req.URL.Query().Get("page")
		gotUA = req.Header.Get("User-Agent")
		return httpmock.NewStringResponse(200, `{"data":{"products":[]}}`), nil
	})

	body, err := c.Fetch(context.Background(), "red shoes", 3)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(body) != `{"data":{"products":[]}}` {
		t.Errorf("body = %s", body)
	}
	if gotQuery != "red shoes" || gotPage != "3" {
		t.Errorf("query=%q page=%q", gotQuery, gotPage)
	}
	if gotUA != "test-agent" {
		t.Errorf("User-Agent = %q", gotUA)
	}
}

func TestFetchThrottleDeclaresCooldown(t *testing.T) {
	c, transport, pacer := newTestClient(t, 2)

	var (
		mu    sync.Mutex
		times []time.Time
		calls int
	)
	transport.RegisterResponder("GET", testBaseURL, func(req *http.Request) (*http.Response, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		times = append(times, time.Now())
		if calls == 1 {
			return httpmock.NewStringResponse(http.StatusTooManyRequests, ""), nil
		}
		return httpmock.NewStringResponse(200, `{}`), nil
	})

	if _, err := c.Fetch(context.Background(), "q", 1); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if pacer.BlockedUntil().IsZero() {
		t.Fatal("throttle should declare a global cooldown")
	}
	// attempt 0 backoff = unit * base^1 = 20ms
	if gap := times[1].Sub(times[0]); gap < 18*time.Millisecond {
		t.Errorf("retry after %s, want >= 20ms", gap)
	}
}

func TestFetchCooldownObservedByOtherCaller(t *testing.T) {
	c, transport, pacer := newTestClient(t, 0)

	transport.RegisterResponder("GET", testBaseURL, func(req *http.Request) (*http.Response, error) {
		if req.URL.Query().Get("page") == "1" {
			resp := httpmock.NewStringResponse(498, "")
			resp.Header.Set("Retry-After", "1")
			return resp, nil
		}
		return httpmock.NewStringResponse(200, `{}`), nil
	})

	_, err := c.Fetch(context.Background(), "q", 1)
	if codeOf(err) != models.ErrCodeUpstreamThrottled {
		t.Fatalf("err = %v, want throttled", err)
	}
	until := pacer.BlockedUntil()

	start := time.Now()
	if _, err := c.Fetch(context.Background(), "q", 2); err != nil {
		t.Fatalf("second Fetch: %v", err)
	}
	if time.Now().Before(until) {
		t.Errorf("second caller finished before cooldown end (waited %s)", time.Since(start))
	}
}

func TestFetchTransientRetriesWithoutCooldown(t *testing.T) {
	c, transport, pacer := newTestClient(t, 2)
	transport.RegisterResponder("GET", testBaseURL, httpmock.NewStringResponder(503, ""))

	_, err := c.Fetch(context.Background(), "q", 1)
	if codeOf(err) != models.ErrCodeTransientNetwork {
		t.Fatalf("err = %v, want transient", err)
	}
	if n := transport.GetTotalCallCount(); n != 3 {
		t.Errorf("calls = %d, want 3 (1 + 2 retries)", n)
	}
	if !pacer.BlockedUntil().IsZero() {
		t.Error("transient failures must not declare a cooldown")
	}
}

func TestFetchConnectionErrorRetries(t *testing.T) {
	c, transport, _ := newTestClient(t, 1)
	transport.RegisterResponder("GET", testBaseURL,
		httpmock.NewErrorResponder(&net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}))

	_, err := c.Fetch(context.Background(), "q", 1)
	if codeOf(err) != models.ErrCodeTransientNetwork {
		t.Fatalf("err = %v, want transient", err)
	}
	if n := transport.GetTotalCallCount(); n != 2 {
		t.Errorf("calls = %d, want 2", n)
	}
}

// corruptBody is a 200 response whose body fails partway through.
func corruptBody() *http.Response {
	resp := httpmock.NewStringResponse(200, "")
	resp.Body = io.NopCloser(io.MultiReader(
		strings.NewReader(`{"data":{"prod`),
		iotest.ErrReader(errors.New("flate: corrupt input")),
	))
	return resp
}

func TestFetchBodyReadFailureRetries(t *testing.T) {
	tests := []struct {
		name      string
		failures  int
		wantCalls int
		wantBody  string
		wantCode  string
	}{
		{"recovers on retry", 1, 2, `{"data":{"products":[]}}`, ""},
		{"every attempt corrupt", 5, 3, "", models.ErrCodeTransientNetwork},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, transport, pacer := newTestClient(t, 2)
			calls := 0
			transport.RegisterResponder("GET", testBaseURL, func(req *http.Request) (*http.Response, error) {
				calls++
				if calls <= tt.failures {
					return corruptBody(), nil
				}
				return httpmock.NewStringResponse(200, `{"data":{"products":[]}}`), nil
			})

			body, err := c.Fetch(context.Background(), "q", 1)
			if calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tt.wantCalls)
			}
			if tt.wantCode != "" {
				if body != nil || codeOf(err) != tt.wantCode {
					t.Fatalf("body=%q err=%v, want %s", body, err, tt.wantCode)
				}
			} else if err != nil || string(body) != tt.wantBody {
				t.Fatalf("body=%q err=%v", body, err)
			}
			if !pacer.BlockedUntil().IsZero() {
				t.Error("a corrupt body must not declare a cooldown")
			}
		})
	}
}

func TestFetchClientErrorIsTerminal(t *testing.T) {
	c, transport, _ := newTestClient(t, 3)
	transport.RegisterResponder("GET", testBaseURL, httpmock.NewStringResponder(404, ""))

	_, err := c.Fetch(context.Background(), "q", 1)
	if codeOf(err) != models.ErrCodeUpstreamRejected {
		t.Fatalf("err = %v, want rejected", err)
	}
	if n := transport.GetTotalCallCount(); n != 1 {
		t.Errorf("calls = %d, want 1", n)
	}
}

func TestFetchNeverSleepsPastDeadline(t *testing.T) {
	c, transport, _ := newTestClient(t, 3)
	transport.RegisterResponder("GET", testBaseURL, func(req *http.Request) (*http.Response, error) {
		resp := httpmock.NewStringResponse(http.StatusTooManyRequests, "")
		resp.Header.Set("Retry-After", "60")
		return resp, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.Fetch(ctx, "q", 1)
	if codeOf(err) != models.ErrCodeUpstreamThrottled {
		t.Fatalf("err = %v, want throttled", err)
	}
	if elapsed := time.Since(start); elapsed > 150*time.Millisecond {
		t.Errorf("Fetch took %s; should give up without sleeping", elapsed)
	}
	if n := transport.GetTotalCallCount(); n != 1 {
		t.Errorf("calls = %d, want 1", n)
	}
}

func TestBackoffFormula(t *testing.T) {
	c := &APIClient{
		backoffBase: 2,
		backoffUnit: time.Second,
		backoffMax:  10 * time.Second,
		jitter:      500 * time.Millisecond,
		jitterN:     func(n int64) int64 { return n / 2 },
	}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 2*time.Second + 250*time.Millisecond},
		{1, 4*time.Second + 250*time.Millisecond},
		{2, 8*time.Second + 250*time.Millisecond},
		{3, 10 * time.Second},
	}
	for _, tt := range tests {
		if got := c.backoff(tt.attempt); got != tt.want {
			t.Errorf("backoff(%d) = %s, want %s", tt.attempt, got, tt.want)
		}
	}
}

func TestRetryAfter(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		name   string
		header string
		want   time.Duration
		ok     bool
	}{
		{"absent", "", 0, false},
		{"seconds", "7", 7 * time.Second, true},
		{"negative", "-3", 0, true},
		{"http date", now.Add(30 * time.Second).Format(http.TimeFormat), 30 * time.Second, true},
		{"past date", now.Add(-time.Minute).Format(http.TimeFormat), 0, true},
		{"garbage", "soon", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &http.Response{Header: http.Header{}}
			if tt.header != "" {
				resp.Header.Set("Retry-After", tt.header)
			}
			got, ok := retryAfter(resp, now)
			if got != tt.want || ok != tt.ok {
				t.Errorf("retryAfter = (%s, %v), want (%s, %v)", got, ok, tt.want, tt.ok)
			}
		})
	}
}
