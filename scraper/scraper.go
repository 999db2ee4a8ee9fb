// Package scraper drives one Chromium process per pooled browser session.
package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/google/uuid"
	"github.com/ysmood/gson"

	"github.com/use-agent/marketfeed/collector"
	"github.com/use-agent/marketfeed/config"
	"github.com/use-agent/marketfeed/engine"
	"github.com/use-agent/marketfeed/models"
)

const acceptLanguage = "ru-RU,ru;q=0.9,en-US;q=0.8,en;q=0.7"

// Session is one browser process with its own profile directory, debug
// port and a single stealth page. It implements collector.BrowserSession.
// A Session is used by one goroutine at a time.
type Session struct {
	id         string
	launcher   *launcher.Launcher
	browser    *rod.Browser
	page       *rod.Page
	router     *rod.HijackRouter
	profileDir string
}

var _ collector.BrowserSession = (*Session)(nil)

// NewFactory returns a SessionFactory that launches sessions with cfg.
func NewFactory(cfg config.BrowserConfig) engine.SessionFactory[collector.BrowserSession] {
	return func(ctx context.Context) (collector.BrowserSession, error) {
		s, err := Launch(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// Launch starts a browser and opens its page. On failure every partially
// created resource is released.
func Launch(ctx context.Context, cfg config.BrowserConfig) (*Session, error) {
	id := "ozon-" + uuid.NewString()[:8]

	profileDir, err := os.MkdirTemp(cfg.ProfileRoot, "marketfeed-"+id+"-")
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeBrowserCrash, "create profile directory", err)
	}
	port, err := freePort()
	if err != nil {
		_ = os.RemoveAll(profileDir)
		return nil, models.NewScrapeError(models.ErrCodeBrowserCrash, "reserve debugging port", err)
	}

	s := &Session{id: id, profileDir: profileDir}
	if err := s.start(ctx, cfg, port); err != nil {
		_ = s.Close()
		return nil, err
	}
	slog.Info("browser session launched", "session", id, "port", port, "display", cfg.DisplayMode)
	return s, nil
}

func (s *Session) start(ctx context.Context, cfg config.BrowserConfig, port int) error {
	s.launcher = newLauncher(cfg, s.profileDir, port)
	controlURL, err := s.launch(ctx)
	if err != nil {
		return err
	}

	s.browser = rod.New().ControlURL(controlURL)
	if err := s.browser.Connect(); err != nil {
		return models.NewScrapeError(models.ErrCodeBrowserCrash, "failed to connect to browser", err)
	}

	s.page, err = stealth.Page(s.browser)
	if err != nil {
		return models.NewScrapeError(models.ErrCodeBrowserCrash, "failed to open stealth page", err)
	}
	if err := s.page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent:      cfg.UserAgent,
		AcceptLanguage: acceptLanguage,
	}); err != nil {
		return models.NewScrapeError(models.ErrCodeBrowserCrash, "failed to set user agent", err)
	}
	if err := (proto.NetworkSetExtraHTTPHeaders{
		Headers: toHeadersMap(map[string]string{"Accept-Language": acceptLanguage}),
	}).Call(s.page); err != nil {
		slog.Warn("extra headers not applied", "session", s.id, "error", err)
	}
	s.router = setupHijack(s.page, cfg.BlockedResourceTypes)
	return nil
}

// launch starts the browser process, giving up when ctx ends first.
func (s *Session) launch(ctx context.Context) (string, error) {
	type launched struct {
		url string
		err error
	}
	done := make(chan launched, 1)
	go func() {
		u, err := s.launcher.Launch()
		done <- launched{url: u, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return "", models.NewScrapeError(models.ErrCodeBrowserCrash, "failed to launch browser", r.err)
		}
		return r.url, nil
	case <-ctx.Done():
		s.launcher.Kill()
		return "", models.NewScrapeError(models.ErrCodeTimeout, "browser did not start in time", ctx.Err())
	}
}

// newLauncher builds the Chromium command line for one session.
func newLauncher(cfg config.BrowserConfig, profileDir string, port int) *launcher.Launcher {
	l := launcher.New().
		UserDataDir(profileDir).
		RemoteDebuggingPort(port).
		NoSandbox(true)

	switch cfg.DisplayMode {
	case "xvfb":
		l = l.Headless(false).XVFB()
	case "headful":
		l = l.Headless(false)
	default:
		l = l.Headless(true)
	}
	if cfg.BrowserBin != "" {
		l = l.Bin(cfg.BrowserBin)
	}
	if cfg.Proxy != "" {
		l = l.Proxy(cfg.Proxy)
	}

	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))
	l.Set(flags.Flag("disable-dev-shm-usage"))
	l.Set(flags.Flag("disable-gpu"))
	l.Set(flags.Flag("disable-features"), "AudioServiceOutOfProcess,TranslateUI")
	l.Set(flags.Flag("disable-renderer-backgrounding"))
	l.Set(flags.Flag("disable-background-timer-throttling"))
	l.Set(flags.Flag("disable-backgrounding-occluded-windows"))
	l.Set(flags.Flag("disable-extensions"))
	l.Set(flags.Flag("lang"), "ru-RU")
	l.Set(flags.Flag("window-size"), "1366,900")
	l.Set(flags.Flag("no-first-run"))
	return l
}

// ID returns the session identifier used in logs.
func (s *Session) ID() string { return s.id }

// Reset clears cookies and web storage and parks the page on about:blank.
func (s *Session) Reset(ctx context.Context) error {
	if s.page == nil {
		return fmt.Errorf("session %s has no page", s.id)
	}
	p := s.page.Context(ctx)
	if _, err := p.Eval(`() => { try { localStorage.clear(); sessionStorage.clear(); } catch (e) {} }`); err != nil {
		slog.Debug("storage clear failed", "session", s.id, "error", err)
	}
	if err := (proto.NetworkClearBrowserCookies{}).Call(p); err != nil {
		return fmt.Errorf("clear cookies: %w", err)
	}
	if err := p.Navigate("about:blank"); err != nil {
		return fmt.Errorf("navigate to about:blank: %w", err)
	}
	return nil
}

// Close stops the browser process and removes the profile directory. It is
// safe to call on a partially launched session.
func (s *Session) Close() error {
	if s.router != nil {
		_ = s.router.Stop()
	}
	if s.browser != nil {
		if err := s.browser.Close(); err != nil {
			slog.Debug("browser close failed", "session", s.id, "error", err)
		}
	}
	if s.launcher != nil {
		s.launcher.Kill()
	}
	if err := os.RemoveAll(s.profileDir); err != nil {
		return fmt.Errorf("remove profile %s: %w", s.profileDir, err)
	}
	slog.Debug("browser session closed", "session", s.id)
	return nil
}

// freePort asks the kernel for an unused local TCP port.
func freePort() (int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer ln.Close()
	_, port, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(port)
}

// toHeadersMap converts a plain string map to the proto.NetworkHeaders type
// (map[string]gson.JSON) required by NetworkSetExtraHTTPHeaders.
func toHeadersMap(headers map[string]string) proto.NetworkHeaders {
	m := make(proto.NetworkHeaders, len(headers))
	for k, v := range headers {
		m[k] = gson.New(v)
	}
	return m
}
