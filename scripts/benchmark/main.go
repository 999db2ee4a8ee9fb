package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/use-agent/marketfeed/models"
)

// CLI flags
var (
	apiURL = flag.String("api-url", "http://localhost:8000", "marketfeed API base URL")
	apiKey = flag.String("api-key", "", "API key for authenticated requests")
	runs   = flag.Int("runs", 3, "Number of runs per query; run 1 is cold, the rest should hit the cache")
	output = flag.String("output", "benchmark-results.json", "JSON output file path")
)

// Queries covering cheap, broad and long-tail searches.
var testQueries = []struct {
	Label string
	Query string
}{
	{"Broad", "наушники"},
	{"Category", "чайник электрический"},
	{"Brand", "xiaomi redmi note"},
	{"Long tail", "чехол для iphone 15 pro прозрачный"},
	{"Rare", "паяльная станция с феном"},
}

// --- Benchmark result types ---

type runResult struct {
	Run        int            `json:"run"`
	LatencyMs  int64          `json:"latency_ms"`
	StatusCode int            `json:"status_code"`
	Cache      string         `json:"cache"`
	Count      int            `json:"count"`
	PerSource  map[string]int `json:"per_source"`
	Identical  bool           `json:"identical_to_first"`
	Success    bool           `json:"success"`
	Error      string         `json:"error,omitempty"`

	body []byte
}

type queryResult struct {
	Query    string      `json:"query"`
	Label    string      `json:"label"`
	Runs     []runResult `json:"runs"`
	ColdMs   int64       `json:"cold_ms"`
	CachedMs float64     `json:"cached_avg_ms"`
}

type benchmarkReport struct {
	Timestamp    string        `json:"timestamp"`
	APIURL       string        `json:"api_url"`
	RunsPerQuery int           `json:"runs_per_query"`
	Results      []queryResult `json:"results"`
}

func main() {
	flag.Parse()

	fmt.Println("=== marketfeed Benchmark Suite ===")
	fmt.Printf("API URL:    %s\n", *apiURL)
	fmt.Printf("Runs/query: %d\n", *runs)
	fmt.Printf("Output:     %s\n", *output)
	fmt.Println()

	if err := checkAPI(*apiURL); err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot reach API at %s: %v\n", *apiURL, err)
		fmt.Fprintf(os.Stderr, "Make sure marketfeed is running (e.g. go run ./cmd/marketfeed)\n")
		os.Exit(1)
	}

	report := benchmarkReport{
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
		APIURL:       *apiURL,
		RunsPerQuery: *runs,
	}

	client := &http.Client{Timeout: 120 * time.Second}
	for _, t := range testQueries {
		fmt.Printf("Benchmarking [%s] %q ...\n", t.Label, t.Query)
		qr := queryResult{Query: t.Query, Label: t.Label}

		var first []byte
		for i := 1; i <= *runs; i++ {
			fmt.Printf("  Run %d/%d ... ", i, *runs)
			rr := benchmarkQuery(client, t.Query, i)
			if rr.Success {
				if first == nil {
					first = rr.body
				}
				rr.Identical = bytes.Equal(first, rr.body)
				fmt.Printf("OK  %dms  %d items  cache=%s\n", rr.LatencyMs, rr.Count, rr.Cache)
			} else {
				fmt.Printf("FAILED: %s\n", rr.Error)
			}
			qr.Runs = append(qr.Runs, rr)
		}

		qr.ColdMs, qr.CachedMs = summarize(qr.Runs)
		report.Results = append(report.Results, qr)
		fmt.Println()
	}

	printTable(report.Results)

	if err := writeJSON(*output, report); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing JSON output: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("\nDetailed results written to %s\n", *output)
}

func checkAPI(baseURL string) error {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(baseURL + "/api/v1/health")
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func benchmarkQuery(client *http.Client, query string, run int) runResult {
	rr := runResult{Run: run}

	req, err := http.NewRequest(http.MethodGet, *apiURL+"/api/v1/products?q="+url.QueryEscape(query), nil)
	if err != nil {
		rr.Error = fmt.Sprintf("request error: %v", err)
		return rr
	}
	if *apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+*apiKey)
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		rr.Error = fmt.Sprintf("request failed: %v", err)
		return rr
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	rr.LatencyMs = time.Since(start).Milliseconds()
	rr.StatusCode = resp.StatusCode
	rr.Cache = resp.Header.Get("X-Cache")
	if err != nil {
		rr.Error = fmt.Sprintf("read error: %v", err)
		return rr
	}

	if resp.StatusCode != http.StatusOK {
		var er models.ErrorResponse
		if json.Unmarshal(body, &er) == nil && er.Error != nil {
			rr.Error = er.Error.Code + ": " + er.Error.Message
		} else {
			rr.Error = fmt.Sprintf("HTTP %d", resp.StatusCode)
		}
		return rr
	}

	var pr models.ProductsResponse
	if err := json.Unmarshal(body, &pr); err != nil {
		rr.Error = fmt.Sprintf("decode error: %v", err)
		return rr
	}

	rr.Success = true
	rr.Count = pr.Count
	rr.PerSource = make(map[string]int)
	for _, it := range pr.Items {
		rr.PerSource[string(it.Marketplace)]++
	}
	rr.body = body
	return rr
}

// summarize returns the first successful latency and the mean of the rest.
func summarize(runs []runResult) (cold int64, cachedAvg float64) {
	var n int
	seenCold := false
	for _, r := range runs {
		if !r.Success {
			continue
		}
		if !seenCold {
			cold, seenCold = r.LatencyMs, true
			continue
		}
		cachedAvg += float64(r.LatencyMs)
		n++
	}
	if n > 0 {
		cachedAvg /= float64(n)
	}
	return cold, cachedAvg
}

func printTable(results []queryResult) {
	fmt.Println(strings.Repeat("─", 85))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Query\tCold\tCached Avg\tItems\tWB/Ozon\tStable\n")
	fmt.Fprintf(w, "─────\t────\t──────────\t─────\t───────\t──────\n")

	for _, r := range results {
		ok := successful(r.Runs)
		if len(ok) == 0 {
			fmt.Fprintf(w, "%s\tFAILED\t-\t-\t-\t-\n", truncate(r.Query, 32))
			continue
		}
		stable := "yes"
		for _, rr := range ok {
			if !rr.Identical {
				stable = "no"
			}
		}
		last := ok[len(ok)-1]
		fmt.Fprintf(w, "%s\t%dms\t%.0fms\t%d\t%d/%d\t%s\n",
			truncate(r.Query, 32),
			r.ColdMs,
			r.CachedMs,
			last.Count,
			last.PerSource[string(models.MarketplaceWildberries)],
			last.PerSource[string(models.MarketplaceOzon)],
			stable,
		)
	}

	w.Flush()
	fmt.Println(strings.Repeat("─", 85))
}

func successful(runs []runResult) []runResult {
	var out []runResult
	for _, r := range runs {
		if r.Success {
			out = append(out, r)
		}
	}
	return out
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}

func writeJSON(path string, report benchmarkReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
