package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/use-agent/marketfeed/models"
)

func main() {
	apiURL := os.Getenv("MARKETFEED_API_URL")
	if apiURL == "" {
		apiURL = "http://127.0.0.1:8000"
	}
	apiKey := os.Getenv("MARKETFEED_API_KEY")

	s := newServer(strings.TrimRight(apiURL, "/"), apiKey)
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

func newServer(apiURL, apiKey string) *server.MCPServer {
	s := server.NewMCPServer(
		"marketfeed",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	searchTool := mcp.NewTool("search_products",
		mcp.WithDescription("Search Wildberries and Ozon for a product query and return merged listings with name, price in roubles, rating, review count and link."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Search text, e.g. 'беспроводные наушники'"),
		),
		mcp.WithNumber("max_results",
			mcp.Description("Maximum number of listings to include in the answer (default: all returned)"),
		),
	)
	s.AddTool(searchTool, handleSearchProducts(apiURL, apiKey))

	cacheTool := mcp.NewTool("cache_status",
		mcp.WithDescription("Report result cache size and TTL and which marketplaces are enabled."),
	)
	s.AddTool(cacheTool, handleCacheStatus(apiURL, apiKey))

	healthTool := mcp.NewTool("health",
		mcp.WithDescription("Report service status, version, uptime and browser pool utilisation."),
	)
	s.AddTool(healthTool, handleHealth(apiURL))

	return s
}

// apiGet sends a GET request to the marketfeed API and returns the status
// code and body.
func apiGet(ctx context.Context, client *http.Client, apiURL, apiKey, path string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL+path, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

// apiError renders an error body, falling back to the HTTP status.
func apiError(status int, body []byte) string {
	var er models.ErrorResponse
	if err := json.Unmarshal(body, &er); err == nil && er.Error != nil {
		return fmt.Sprintf("[%s] %s", er.Error.Code, er.Error.Message)
	}
	return fmt.Sprintf("API returned HTTP %d", status)
}

func handleSearchProducts(apiURL, apiKey string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 120 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := request.RequireString("query")
		if err != nil || strings.TrimSpace(query) == "" {
			return mcp.NewToolResultError("query is required"), nil
		}
		maxResults := int(request.GetFloat("max_results", 0))

		status, body, err := apiGet(ctx, client, apiURL, apiKey, "/api/v1/products?q="+url.QueryEscape(query))
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if status != http.StatusOK {
			return mcp.NewToolResultError(apiError(status, body)), nil
		}

		var resp models.ProductsResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse response: %v", err)), nil
		}
		return mcp.NewToolResultText(formatProducts(resp, maxResults)), nil
	}
}

// formatProducts renders listings as a numbered plain-text list.
func formatProducts(resp models.ProductsResponse, max int) string {
	items := resp.Items
	if max > 0 && len(items) > max {
		items = items[:max]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Query: %s\nFound: %d\n", resp.Query, resp.Count)
	if len(items) == 0 {
		b.WriteString("\nNo products found.")
		return b.String()
	}
	for i, it := range items {
		fmt.Fprintf(&b, "\n%d. [%s] %s\n   Price: %s ₽", i+1, it.Marketplace, it.Name, it.Price)
		if it.Rating != nil {
			fmt.Fprintf(&b, " | Rating: %s", *it.Rating)
		}
		if it.Reviews != nil {
			fmt.Fprintf(&b, " | Reviews: %s", *it.Reviews)
		}
		fmt.Fprintf(&b, "\n   %s", it.URL)
	}
	if len(items) < len(resp.Items) {
		fmt.Fprintf(&b, "\n\n(%d more not shown)", len(resp.Items)-len(items))
	}
	return b.String()
}

func handleCacheStatus(apiURL, apiKey string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 10 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		status, body, err := apiGet(ctx, client, apiURL, apiKey, "/api/v1/cache")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if status != http.StatusOK {
			return mcp.NewToolResultError(apiError(status, body)), nil
		}

		var resp models.CacheStatusResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse response: %v", err)), nil
		}

		var b strings.Builder
		fmt.Fprintf(&b, "Cache enabled: %v\nEntries: %d\nTTL: %s\n", resp.Enabled, resp.Size, resp.TTL)
		for _, name := range []string{string(models.MarketplaceWildberries), string(models.MarketplaceOzon)} {
			if src, ok := resp.Sources[name]; ok {
				fmt.Fprintf(&b, "%s: enabled=%v limit=%d\n", name, src.Enabled, src.Limit)
			}
		}
		return mcp.NewToolResultText(b.String()), nil
	}
}

func handleHealth(apiURL string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 10 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		status, body, err := apiGet(ctx, client, apiURL, "", "/api/v1/health")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if status != http.StatusOK {
			return mcp.NewToolResultError(apiError(status, body)), nil
		}

		var resp models.HealthResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse response: %v", err)), nil
		}
		p := resp.PoolStats
		return mcp.NewToolResultText(fmt.Sprintf(
			"Status: %s\nVersion: %s\nUptime: %s\nBrowser sessions: %d total, %d available, %d in use",
			resp.Status, resp.Version, resp.Uptime, p.Size, p.Available, p.InUse)), nil
	}
}
