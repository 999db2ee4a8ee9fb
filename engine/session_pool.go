package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/use-agent/marketfeed/metrics"
	"github.com/use-agent/marketfeed/models"
)

var (
	errPoolFull   = errors.New("session_pool: pool is at capacity")
	errPoolClosed = errors.New("session_pool: pool is closed")
)

// Session is one pooled, disposable resource (a browser process in
// production).
type Session interface {
	ID() string
	// Reset clears per-checkout state (cookies, storage, current page).
	Reset(ctx context.Context) error
	// Close terminates the session and removes its on-disk state.
	Close() error
}

// SessionFactory creates a new session.
type SessionFactory[S Session] func(ctx context.Context) (S, error)

// SessionPoolConfig holds configuration for the session pool.
type SessionPoolConfig struct {
	// Size is the number of sessions kept alive.
	Size int

	// Concurrency caps simultaneous checkouts; it may be smaller than Size.
	Concurrency int

	// MaxUses and MaxAge retire a session on release; zero disables.
	MaxUses int
	MaxAge  time.Duration

	// ResetTimeout bounds hygiene on release.
	ResetTimeout time.Duration

	// CreateTimeout bounds creation of replacement sessions.
	CreateTimeout time.Duration
}

// PoolStats is a point-in-time view of the pool.
type PoolStats struct {
	Size      int
	Available int
	InUse     int
}

// sessionHandle wraps a pooled session with health tracking metadata.
type sessionHandle[S Session] struct {
	session  S
	errScore float64
	useCount int
	created  time.Time
	inUse    bool
}

func (h *sessionHandle[S]) record(success bool) {
	h.useCount++
	if success {
		h.errScore = math.Max(0, h.errScore-0.5)
	} else {
		h.errScore += 1.0
	}
}

func (h *sessionHandle[S]) shouldRetire(cfg SessionPoolConfig, now time.Time) bool {
	if h.errScore >= 3.0 {
		return true
	}
	if cfg.MaxUses > 0 && h.useCount >= cfg.MaxUses {
		return true
	}
	if cfg.MaxAge > 0 && now.Sub(h.created) >= cfg.MaxAge {
		return true
	}
	return false
}

// SessionPool owns a fixed set of sessions and mediates exclusive access to
// them. Checkouts are bounded by a semaphore independent of pool size.
// Every successful Acquire must be paired with exactly one Release, or with
// a Replace that fails.
type SessionPool[S Session] struct {
	cfg     SessionPoolConfig
	factory SessionFactory[S]
	metrics *metrics.Metrics

	sem  chan struct{}
	idle chan *sessionHandle[S]

	mu      sync.Mutex
	all     map[string]*sessionHandle[S]
	pending int
	inUse   int
	closed  bool
}

// NewSessionPool creates the pool and eagerly starts cfg.Size sessions.
// It fails only when no session could be created.
func NewSessionPool[S Session](ctx context.Context, cfg SessionPoolConfig, factory SessionFactory[S], m *metrics.Metrics) (*SessionPool[S], error) {
	if cfg.Size < 1 {
		cfg.Size = 1
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = cfg.Size
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 10 * time.Second
	}
	if cfg.CreateTimeout <= 0 {
		cfg.CreateTimeout = 30 * time.Second
	}

	p := &SessionPool[S]{
		cfg:     cfg,
		factory: factory,
		metrics: m,
		sem:     make(chan struct{}, cfg.Concurrency),
		idle:    make(chan *sessionHandle[S], cfg.Size),
		all:     make(map[string]*sessionHandle[S]),
	}

	var lastErr error
	for i := 0; i < cfg.Size; i++ {
		h, err := p.create(ctx)
		if err != nil {
			slog.Warn("session_pool: failed to pre-create session", "error", err)
			lastErr = err
			continue
		}
		p.idle <- h
	}
	if len(p.idle) == 0 {
		return nil, fmt.Errorf("session_pool: no session could be started: %w", lastErr)
	}
	slog.Info("session pool ready", "size", len(p.idle), "concurrency", cfg.Concurrency)
	return p, nil
}

// Acquire checks out a session. It waits first for a concurrency slot and
// then for an idle session; both waits end with an error when ctx does.
func (p *SessionPool[S]) Acquire(ctx context.Context) (S, error) {
	var zero S

	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return zero, exhausted("waiting for concurrency slot", ctx.Err())
	}

	h, err := p.take(ctx)
	if err != nil {
		<-p.sem
		return zero, err
	}

	p.mu.Lock()
	h.inUse = true
	p.inUse++
	inUse := p.inUse
	p.mu.Unlock()
	p.metrics.SetSessionsInUse(inUse)

	return h.session, nil
}

// take returns an idle handle, creating one when the pool has shrunk below
// its size after failed replacements.
func (p *SessionPool[S]) take(ctx context.Context) (*sessionHandle[S], error) {
	select {
	case h := <-p.idle:
		return h, nil
	default:
	}

	h, err := p.create(ctx)
	if err == nil {
		return h, nil
	}
	if errors.Is(err, errPoolClosed) {
		return nil, err
	}
	if !errors.Is(err, errPoolFull) {
		slog.Warn("session_pool: failed to grow", "error", err)
	}

	select {
	case h := <-p.idle:
		return h, nil
	case <-ctx.Done():
		return nil, exhausted("waiting for idle session", ctx.Err())
	}
}

// Release returns a checked-out session. Hygiene runs on a detached,
// bounded context so that it still happens when the caller's deadline has
// passed. A session whose hygiene fails, or that is due for retirement,
// is replaced with a fresh one.
func (p *SessionPool[S]) Release(s S, success bool) {
	defer func() { <-p.sem }()

	p.mu.Lock()
	h, ok := p.all[s.ID()]
	if !ok || !h.inUse {
		p.mu.Unlock()
		slog.Warn("session_pool: release of unknown session", "session", s.ID())
		return
	}
	h.inUse = false
	p.inUse--
	inUse := p.inUse
	h.record(success)
	p.mu.Unlock()
	p.metrics.SetSessionsInUse(inUse)

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ResetTimeout)
	defer cancel()
	if err := s.Reset(ctx); err != nil {
		slog.Warn("session hygiene failed, replacing", "session", s.ID(), "error", err)
		p.recycle(h)
		return
	}
	if h.shouldRetire(p.cfg, time.Now()) {
		slog.Debug("retiring session", "session", s.ID(),
			"uses", h.useCount, "err_score", h.errScore)
		p.recycle(h)
		return
	}
	p.idle <- h
}

// Replace disposes a checked-out session and returns a fresh one that takes
// over its checkout. If creation fails the checkout ends and the caller
// must not Release.
func (p *SessionPool[S]) Replace(ctx context.Context, s S) (S, error) {
	var zero S

	p.mu.Lock()
	h, ok := p.all[s.ID()]
	if !ok || !h.inUse {
		p.mu.Unlock()
		<-p.sem
		return zero, fmt.Errorf("session_pool: replace of unknown session %s", s.ID())
	}
	p.inUse--
	p.handOver(h)
	p.mu.Unlock()

	p.closeSession(h)
	p.metrics.IncReplacement()

	fresh, err := p.build(ctx)
	if err != nil {
		p.mu.Lock()
		inUse := p.inUse
		p.mu.Unlock()
		p.metrics.SetSessionsInUse(inUse)
		<-p.sem
		return zero, err
	}

	p.mu.Lock()
	fresh.inUse = true
	p.inUse++
	p.mu.Unlock()
	return fresh.session, nil
}

// Dispose closes every session. It is idempotent; sessions still checked
// out are closed as well and their later Release only frees the slot.
func (p *SessionPool[S]) Dispose() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	handles := make([]*sessionHandle[S], 0, len(p.all))
	for _, h := range p.all {
		handles = append(handles, h)
	}
	p.all = make(map[string]*sessionHandle[S])
	p.mu.Unlock()

drain:
	for {
		select {
		case <-p.idle:
		default:
			break drain
		}
	}

	for _, h := range handles {
		p.closeSession(h)
	}
	slog.Info("session pool disposed", "sessions", len(handles))
}

// Stats reports size, idle and checked-out counts.
func (p *SessionPool[S]) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{Size: len(p.all), Available: len(p.idle), InUse: p.inUse}
}

// create reserves room for a session and starts it. It refuses when live
// plus pending sessions already reach the pool size.
func (p *SessionPool[S]) create(ctx context.Context) (*sessionHandle[S], error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, models.NewScrapeError(models.ErrCodeResourceExhausted, "session pool is closed", errPoolClosed)
	}
	if len(p.all)+p.pending >= p.cfg.Size {
		p.mu.Unlock()
		return nil, errPoolFull
	}
	p.pending++
	p.mu.Unlock()
	return p.build(ctx)
}

// build starts a session for a reservation already counted in pending.
func (p *SessionPool[S]) build(ctx context.Context) (*sessionHandle[S], error) {
	s, err := p.factory(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending--
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeBrowserCrash, "start session", err)
	}
	if p.closed {
		_ = s.Close()
		return nil, models.NewScrapeError(models.ErrCodeResourceExhausted, "session pool is closed", errPoolClosed)
	}
	h := &sessionHandle[S]{session: s, created: time.Now()}
	p.all[s.ID()] = h
	return h, nil
}

// handOver untracks h and keeps its slot reserved for a replacement.
// Caller must hold p.mu.
func (p *SessionPool[S]) handOver(h *sessionHandle[S]) {
	delete(p.all, h.session.ID())
	p.pending++
}

func (p *SessionPool[S]) closeSession(h *sessionHandle[S]) {
	if err := h.session.Close(); err != nil {
		slog.Warn("session_pool: close failed", "session", h.session.ID(), "error", err)
	}
}

// recycle closes h and puts a fresh session in its place. If creation
// fails the pool runs one short until a later Acquire grows it back.
func (p *SessionPool[S]) recycle(h *sessionHandle[S]) {
	p.mu.Lock()
	p.handOver(h)
	p.mu.Unlock()
	p.closeSession(h)
	p.metrics.IncReplacement()

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.CreateTimeout)
	defer cancel()
	fresh, err := p.build(ctx)
	if err != nil {
		slog.Warn("session_pool: replacement failed", "error", err)
		return
	}
	p.idle <- fresh
}

func exhausted(msg string, err error) error {
	return models.NewScrapeError(models.ErrCodeResourceExhausted, msg, err)
}
