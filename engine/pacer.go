package engine

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/use-agent/marketfeed/models"
)

// Pacer serializes outbound requests to one upstream. A single-token
// limiter spaces request slots at least minInterval apart; a shared
// blocked-until deadline holds every caller back during a declared cooldown.
// Slots are reserved under one lock, so concurrent callers all observe both.
type Pacer struct {
	mu           sync.Mutex
	limiter      *rate.Limiter
	blockedUntil time.Time
	floor        time.Time

	jitter time.Duration

	now     func() time.Time
	jitterN func(n int64) int64
}

// NewPacer creates a Pacer enforcing minInterval between request slots,
// each slot delayed by a random amount in [0, jitter).
func NewPacer(minInterval, jitter time.Duration) *Pacer {
	limit := rate.Inf
	if minInterval > 0 {
		limit = rate.Every(minInterval)
	}
	return &Pacer{
		limiter: rate.NewLimiter(limit, 1),
		jitter:  jitter,
		now:     time.Now,
		jitterN: rand.Int64N,
	}
}

// Wait blocks until the caller owns a request slot. A slot is refused, and
// no state changes, when it would fall after the context deadline. If a
// cooldown is declared while the caller sleeps, it reserves again.
func (p *Pacer) Wait(ctx context.Context) error {
	for {
		slot, err := p.reserve(ctx)
		if err != nil {
			return err
		}
		if err := sleepUntil(ctx, p.now, slot); err != nil {
			return err
		}

		p.mu.Lock()
		blocked := p.blockedUntil.After(p.now())
		p.mu.Unlock()
		if !blocked {
			return nil
		}
	}
}

// reserve takes the next limiter slot at or after the cooldown, jitter
// included, so consecutive slots never come closer than minInterval.
func (p *Pacer) reserve(ctx context.Context) (time.Time, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	at := p.now()
	if p.blockedUntil.After(at) {
		at = p.blockedUntil
	}
	if p.jitter > 0 {
		at = at.Add(time.Duration(p.jitterN(int64(p.jitter))))
	}
	// The limiter's clock must not run backwards between reservations.
	if at.Before(p.floor) {
		at = p.floor
	}

	r := p.limiter.ReserveN(at, 1)
	slot := at.Add(r.DelayFrom(at))

	if deadline, ok := ctx.Deadline(); ok && slot.After(deadline) {
		r.CancelAt(at)
		return time.Time{}, models.NewScrapeError(models.ErrCodeTimeout,
			fmt.Sprintf("next request slot in %s exceeds deadline", slot.Sub(p.now()).Round(time.Millisecond)), nil)
	}

	p.floor = at
	return slot, nil
}

// Block declares a cooldown lasting d from now. It only ever extends the
// current cooldown and returns the effective blocked-until time.
func (p *Pacer) Block(d time.Duration) time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()

	until := p.now().Add(d)
	if until.After(p.blockedUntil) {
		p.blockedUntil = until
	}
	return p.blockedUntil
}

// BlockedUntil returns the current cooldown deadline (zero if none declared).
func (p *Pacer) BlockedUntil() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.blockedUntil
}

// sleepUntil sleeps until t or returns the context error if ctx ends first.
func sleepUntil(ctx context.Context, now func() time.Time, t time.Time) error {
	return sleepContext(ctx, t.Sub(now()))
}

// sleepContext sleeps for d or returns the context error if ctx ends first.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
