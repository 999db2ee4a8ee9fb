package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// envPrefix is stripped (and the rest lower-cased) to find a key in the
// optional TOML overlay file.
const envPrefix = "MARKETFEED_"

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig
	Auth       AuthConfig
	RateLimit  RateLimitConfig
	Cache      CacheConfig
	Log        LogConfig
	Aggregator AggregatorConfig
	API        APIConfig
	Browser    BrowserConfig
	Scroll     ScrollConfig
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host string // default: "0.0.0.0"
	Port int    // default: 8000
	Mode string // "debug", "release", "test"; default: "release"
}

// AuthConfig controls API key authentication.
type AuthConfig struct {
	// Enabled toggles API key authentication.
	Enabled bool // default: false

	// APIKeys is the list of valid API keys.
	APIKeys []string
}

// RateLimitConfig controls per-client inbound rate limiting.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate per API key or client IP.
	RequestsPerSecond float64 // default: 2

	// Burst is the maximum burst size per identity.
	Burst int // default: 5
}

// CacheConfig controls the aggregated result cache.
type CacheConfig struct {
	Enabled    bool          // default: true
	TTL        time.Duration // default: 5m
	MaxEntries int           // default: 1000
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string // default: "info"
	Format string // "json" or "text"; default: "json"
}

// AggregatorConfig controls fan-out and output sizing.
type AggregatorConfig struct {
	// OutputCap is the maximum number of items returned for one query.
	OutputCap int // default: 50

	// Budget is the default overall deadline for one aggregation.
	Budget time.Duration // default: 45s
}

// APIConfig controls the JSON search endpoint source (Wildberries).
type APIConfig struct {
	Enabled bool // default: true

	// BaseURL is the search endpoint without query string.
	BaseURL string

	// Limit is the per-query item cap for this source.
	Limit int // default: 50

	// MaxPages bounds the number of result pages requested per query.
	MaxPages int // default: 3

	// MinInterval is the minimum spacing between any two outbound requests.
	MinInterval time.Duration // default: 1.5s

	// Jitter is the upper bound of the random delay added to each slot.
	Jitter time.Duration // default: 750ms

	// BackoffBase is the exponential base; BackoffUnit scales it to time.
	BackoffBase float64       // default: 2
	BackoffUnit time.Duration // default: 1s
	BackoffMax  time.Duration // default: 30s

	// MaxRetries bounds retries per page after the first attempt.
	MaxRetries int // default: 3

	// RequestTimeout is the per-attempt HTTP timeout.
	RequestTimeout time.Duration // default: 10s

	// TLSFingerprint dials with a Chrome-like ClientHello.
	TLSFingerprint bool // default: true
}

// BrowserConfig controls the browser session pool.
type BrowserConfig struct {
	Enabled bool // Ozon source toggle; default: true

	// PoolSize is the number of browser sessions kept alive.
	PoolSize int // default: 2

	// Concurrency caps simultaneous page loads across sessions.
	Concurrency int // default: 2

	// DisplayMode is "headless", "xvfb" or "headful".
	DisplayMode string // default: "headless"

	// UserAgent is presented by every session and the API client.
	UserAgent string

	// BrowserBin overrides the Chromium binary path.
	BrowserBin string

	// Proxy is an optional upstream proxy URL.
	Proxy string

	// ProfileRoot is where per-session profile directories are created.
	ProfileRoot string // default: os.TempDir()

	// SessionMaxUses and SessionMaxAge retire long-lived sessions.
	SessionMaxUses int           // default: 50
	SessionMaxAge  time.Duration // default: 50m

	// BlockedResourceTypes lists resource types the session never loads.
	BlockedResourceTypes []string
}

// ScrollConfig controls the scroll-based collector and its retry envelope.
type ScrollConfig struct {
	// Limit is the per-query item cap for the browser source.
	Limit int // default: 50

	Rounds            int           // default: 12
	RoundWait         time.Duration // default: 2500ms
	FirstPaintTimeout time.Duration // default: 8s
	PollInterval      time.Duration // default: 250ms
	StagnationLimit   int           // default: 3
	StepPixels        int           // default: 1600

	// MinItems is the minimum acceptable harvest before a session retry.
	MinItems int // default: 10

	// Retries is the number of extra attempts on a fresh session.
	Retries int // default: 1

	// RatingPass enables the extra rating-sorted search when capacity remains.
	RatingPass bool // default: true
}

// Load reads configuration from an optional TOML file and environment
// variables, environment taking precedence.
func Load() (*Config, error) {
	file, err := loadFile(os.Getenv(envPrefix + "CONFIG_FILE"))
	if err != nil {
		return nil, err
	}
	src := source{file: file}

	cfg := &Config{
		Server: ServerConfig{
			Host: src.str("MARKETFEED_HOST", "0.0.0.0"),
			Port: src.int("MARKETFEED_PORT", 8000),
			Mode: src.str("MARKETFEED_MODE", "release"),
		},
		Auth: AuthConfig{
			Enabled: src.bool("MARKETFEED_AUTH_ENABLED", false),
			APIKeys: src.slice("MARKETFEED_API_KEYS", nil),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: src.float("MARKETFEED_RATE_RPS", 2.0),
			Burst:             src.int("MARKETFEED_RATE_BURST", 5),
		},
		Cache: CacheConfig{
			Enabled:    src.bool("MARKETFEED_CACHE_ENABLED", true),
			TTL:        src.duration("MARKETFEED_CACHE_TTL", 5*time.Minute),
			MaxEntries: src.int("MARKETFEED_CACHE_MAX_ENTRIES", 1000),
		},
		Log: LogConfig{
			Level:  src.str("MARKETFEED_LOG_LEVEL", "info"),
			Format: src.str("MARKETFEED_LOG_FORMAT", "json"),
		},
		Aggregator: AggregatorConfig{
			OutputCap: src.int("MARKETFEED_OUTPUT_CAP", 50),
			Budget:    src.duration("MARKETFEED_BUDGET", 45*time.Second),
		},
		API: APIConfig{
			Enabled:        src.bool("MARKETFEED_WB_ENABLED", true),
			BaseURL:        src.str("MARKETFEED_WB_BASE_URL", "https://search.wb.ru/exactmatch/ru/common/v5/search"),
			Limit:          src.int("MARKETFEED_WB_LIMIT", 50),
			MaxPages:       src.int("MARKETFEED_WB_MAX_PAGES", 3),
			MinInterval:    src.duration("MARKETFEED_WB_MIN_INTERVAL", 1500*time.Millisecond),
			Jitter:         src.duration("MARKETFEED_WB_JITTER", 750*time.Millisecond),
			BackoffBase:    src.float("MARKETFEED_WB_BACKOFF_BASE", 2.0),
			BackoffUnit:    src.duration("MARKETFEED_WB_BACKOFF_UNIT", time.Second),
			BackoffMax:     src.duration("MARKETFEED_WB_BACKOFF_MAX", 30*time.Second),
			MaxRetries:     src.int("MARKETFEED_WB_MAX_RETRIES", 3),
			RequestTimeout: src.duration("MARKETFEED_WB_REQUEST_TIMEOUT", 10*time.Second),
			TLSFingerprint: src.bool("MARKETFEED_WB_TLS_FINGERPRINT", true),
		},
		Browser: BrowserConfig{
			Enabled:        src.bool("MARKETFEED_OZON_ENABLED", true),
			PoolSize:       src.int("MARKETFEED_BROWSER_POOL_SIZE", 2),
			Concurrency:    src.int("MARKETFEED_BROWSER_CONCURRENCY", 2),
			DisplayMode:    src.str("MARKETFEED_DISPLAY_MODE", "headless"),
			UserAgent:      src.str("MARKETFEED_USER_AGENT", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"),
			BrowserBin:     src.str("MARKETFEED_BROWSER_BIN", ""),
			Proxy:          src.str("MARKETFEED_PROXY", ""),
			ProfileRoot:    src.str("MARKETFEED_PROFILE_ROOT", os.TempDir()),
			SessionMaxUses: src.int("MARKETFEED_SESSION_MAX_USES", 50),
			SessionMaxAge:  src.duration("MARKETFEED_SESSION_MAX_AGE", 50*time.Minute),
			BlockedResourceTypes: src.slice("MARKETFEED_BLOCKED_RESOURCES", []string{
				"Image", "Stylesheet", "Font", "Media",
			}),
		},
		Scroll: ScrollConfig{
			Limit:             src.int("MARKETFEED_OZON_LIMIT", 50),
			Rounds:            src.int("MARKETFEED_SCROLL_ROUNDS", 12),
			RoundWait:         src.duration("MARKETFEED_SCROLL_ROUND_WAIT", 2500*time.Millisecond),
			FirstPaintTimeout: src.duration("MARKETFEED_SCROLL_FIRST_PAINT", 8*time.Second),
			PollInterval:      src.duration("MARKETFEED_SCROLL_POLL", 250*time.Millisecond),
			StagnationLimit:   src.int("MARKETFEED_SCROLL_STAGNATION", 3),
			StepPixels:        src.int("MARKETFEED_SCROLL_STEP", 1600),
			MinItems:          src.int("MARKETFEED_OZON_MIN_ITEMS", 10),
			Retries:           src.int("MARKETFEED_OZON_RETRIES", 1),
			RatingPass:        src.bool("MARKETFEED_OZON_RATING_PASS", true),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.Aggregator.OutputCap <= 0 {
		return fmt.Errorf("output cap must be positive")
	}
	if c.Aggregator.Budget <= 0 {
		return fmt.Errorf("budget must be positive")
	}
	if c.Cache.Enabled && c.Cache.TTL <= 0 {
		return fmt.Errorf("cache ttl must be positive when cache is enabled")
	}
	if c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("cache max entries must be positive")
	}
	if c.API.Enabled {
		if c.API.BaseURL == "" {
			return fmt.Errorf("wildberries base url cannot be empty")
		}
		if c.API.Limit <= 0 || c.API.MaxPages <= 0 {
			return fmt.Errorf("wildberries limit and max pages must be positive")
		}
		if c.API.MinInterval < 0 || c.API.Jitter < 0 {
			return fmt.Errorf("wildberries pacing cannot be negative")
		}
		if c.API.BackoffBase < 1 {
			return fmt.Errorf("backoff base must be >= 1")
		}
		if c.API.MaxRetries < 0 {
			return fmt.Errorf("max retries cannot be negative")
		}
		if c.API.BackoffMax > 0 && c.API.BackoffUnit > c.API.BackoffMax {
			return fmt.Errorf("backoff unit (%s) cannot exceed backoff max (%s)", c.API.BackoffUnit, c.API.BackoffMax)
		}
	}
	if c.Browser.Enabled {
		if c.Browser.PoolSize <= 0 || c.Browser.Concurrency <= 0 {
			return fmt.Errorf("browser pool size and concurrency must be positive")
		}
		switch c.Browser.DisplayMode {
		case "headless", "xvfb", "headful":
		default:
			return fmt.Errorf("display mode must be headless, xvfb or headful")
		}
		if c.Scroll.Limit <= 0 || c.Scroll.Rounds <= 0 || c.Scroll.StagnationLimit <= 0 {
			return fmt.Errorf("scroll limit, rounds and stagnation limit must be positive")
		}
		if c.Scroll.StepPixels <= 0 {
			return fmt.Errorf("scroll step must be positive")
		}
		if c.Scroll.MinItems < 0 || c.Scroll.Retries < 0 {
			return fmt.Errorf("min items and retries cannot be negative")
		}
	}
	if c.Browser.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	return nil
}

// loadFile decodes the optional TOML overlay into a flat key map.
func loadFile(path string) (map[string]any, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	values := make(map[string]any)
	if err := toml.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return values, nil
}

// --- helper functions ---

// source resolves a key from the environment first, then the file overlay.
type source struct {
	file map[string]any
}

func (s source) lookup(key string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	if s.file == nil {
		return ""
	}
	fileKey := strings.ToLower(strings.TrimPrefix(key, envPrefix))
	v, ok := s.file[fileKey]
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case []any:
		parts := make([]string, 0, len(t))
		for _, p := range t {
			parts = append(parts, fmt.Sprint(p))
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprint(t)
	}
}

func (s source) str(key, fallback string) string {
	if v := s.lookup(key); v != "" {
		return v
	}
	return fallback
}

func (s source) int(key string, fallback int) int {
	if v := s.lookup(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func (s source) bool(key string, fallback bool) bool {
	if v := s.lookup(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func (s source) float(key string, fallback float64) float64 {
	if v := s.lookup(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func (s source) duration(key string, fallback time.Duration) time.Duration {
	if v := s.lookup(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func (s source) slice(key string, fallback []string) []string {
	if v := s.lookup(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}
