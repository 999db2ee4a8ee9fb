package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/use-agent/marketfeed/aggregator"
	"github.com/use-agent/marketfeed/api"
	"github.com/use-agent/marketfeed/cache"
	"github.com/use-agent/marketfeed/collector"
	"github.com/use-agent/marketfeed/config"
	"github.com/use-agent/marketfeed/engine"
	"github.com/use-agent/marketfeed/extract"
	"github.com/use-agent/marketfeed/metrics"
	"github.com/use-agent/marketfeed/scraper"
)

func main() {
	// ── 1. Load configuration ───────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "marketfeed: %v\n", err)
		os.Exit(1)
	}

	// ── 2. Initialise structured logging ────────────────────────────
	initLogger(cfg.Log)
	slog.Info("marketfeed starting",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"mode", cfg.Server.Mode,
		"wildberries", cfg.API.Enabled,
		"ozon", cfg.Browser.Enabled,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	// ── 3. Result cache ─────────────────────────────────────────────
	cc, err := cache.New(cfg.Cache.Enabled, cfg.Cache.TTL, cfg.Cache.MaxEntries)
	if err != nil {
		slog.Error("failed to initialise cache", "error", err)
		os.Exit(1)
	}

	// ── 4. Collectors, in merge order ───────────────────────────────
	var collectors []collector.Collector

	if cfg.API.Enabled {
		client, err := engine.NewHTTPClient(cfg.API.TLSFingerprint, cfg.Browser.Proxy, cfg.API.RequestTimeout)
		if err != nil {
			slog.Error("failed to build API transport", "error", err)
			os.Exit(1)
		}
		pacer := engine.NewPacer(cfg.API.MinInterval, cfg.API.Jitter)
		fetcher := engine.NewAPIClient(cfg.API, cfg.Browser.UserAgent, client, pacer, m)
		collectors = append(collectors, collector.NewAPICollector(fetcher, cfg.API.Limit, cfg.API.MaxPages))
	}

	var pool *engine.SessionPool[collector.BrowserSession]
	if cfg.Browser.Enabled {
		pool, err = engine.NewSessionPool(ctx, engine.SessionPoolConfig{
			Size:          cfg.Browser.PoolSize,
			Concurrency:   cfg.Browser.Concurrency,
			MaxUses:       cfg.Browser.SessionMaxUses,
			MaxAge:        cfg.Browser.SessionMaxAge,
			ResetTimeout:  10 * time.Second,
			CreateTimeout: 60 * time.Second,
		}, scraper.NewFactory(cfg.Browser), m)
		if err != nil {
			slog.Error("failed to start browser pool", "error", err)
			os.Exit(1)
		}
		defer pool.Dispose()

		scroller := collector.NewScroller(collector.ScrollConfig{
			Rounds:            cfg.Scroll.Rounds,
			RoundWait:         cfg.Scroll.RoundWait,
			FirstPaintTimeout: cfg.Scroll.FirstPaintTimeout,
			PollInterval:      cfg.Scroll.PollInterval,
			StagnationLimit:   cfg.Scroll.StagnationLimit,
			StepPixels:        cfg.Scroll.StepPixels,
			TileSelector:      extract.OzonTileSelector,
			LoadMoreSelector:  extract.OzonLoadMoreSelector,
		}, extract.Ozon, extract.OzonPage)
		collectors = append(collectors, collector.NewBrowserCollector(pool, scroller, collector.BrowserOptions{
			Limit:      cfg.Scroll.Limit,
			MinItems:   cfg.Scroll.MinItems,
			Retries:    cfg.Scroll.Retries,
			RatingPass: cfg.Scroll.RatingPass,
		}))
	}

	agg := aggregator.New(collectors, cc, m, aggregator.Options{
		OutputCap:     cfg.Aggregator.OutputCap,
		DefaultBudget: cfg.Aggregator.Budget,
	})
	if len(collectors) == 0 {
		slog.Warn("no sources enabled; every product request will fail with a configuration error")
	}

	// ── 5. Setup router ─────────────────────────────────────────────
	deps := api.Deps{
		Config:     cfg,
		Aggregator: agg,
		Cache:      cc,
		Metrics:    m,
		StartTime:  time.Now(),
	}
	if pool != nil {
		deps.Pool = pool
	}
	router := api.NewRouter(ctx, deps)

	// ── 6. Start HTTP server ────────────────────────────────────────
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	// ── 7. Graceful shutdown ────────────────────────────────────────
	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-serveErr:
		slog.Error("HTTP server error", "error", err)
	}

	// Give in-flight requests 5 seconds to complete.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server forced shutdown", "error", err)
	} else {
		slog.Info("HTTP server drained gracefully")
	}

	// pool.Dispose runs via defer and kills every browser process.
	slog.Info("marketfeed stopped")
}

// initLogger configures slog based on the LogConfig.
func initLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
