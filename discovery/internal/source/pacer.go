package source

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// successStreakReset is how many clean calls close an open backoff window.
const successStreakReset = 3

// Pacer owns one adapter's request pacing: a minimum inter-request delay
// plus an exponential backoff window opened by throttle responses. It is
// single-owner state: each adapter holds exactly one Pacer and no other
// goroutine touches it, so there is no locking here.
type Pacer struct {
	limiter    *rate.Limiter
	minBackoff time.Duration
	maxBackoff time.Duration
	window     time.Duration // current backoff window, 0 when closed
	until      time.Time     // deadline of the open window
	streak     int

	now   func() time.Time // test seam
	sleep func(context.Context, time.Duration) error
}

// NewPacer creates a pacer with the given minimum delay between requests.
func NewPacer(minDelay time.Duration) *Pacer {
	if minDelay <= 0 {
		minDelay = time.Second
	}
	return &Pacer{
		limiter:    rate.NewLimiter(rate.Every(minDelay), 1),
		minBackoff: 30 * time.Second,
		maxBackoff: time.Hour,
		now:        time.Now,
		sleep:      sleepCtx,
	}
}

// Wait blocks until the adapter may issue its next request: first any open
// backoff window, then the minimum-delay limiter. Both waits observe ctx.
func (p *Pacer) Wait(ctx context.Context) error {
	if d := p.until.Sub(p.now()); d > 0 {
		if err := p.sleep(ctx, d); err != nil {
			return err
		}
	}
	return p.limiter.Wait(ctx)
}

// Throttle opens (or doubles) the backoff window after an upstream throttle
// signal. An explicit Retry-After longer than the doubled window wins. The
// window is capped.
func (p *Pacer) Throttle(retryAfter time.Duration) {
	p.streak = 0
	next := p.window * 2
	if next == 0 {
		next = p.minBackoff
	}
	if retryAfter > next {
		next = retryAfter
	}
	if next > p.maxBackoff {
		next = p.maxBackoff
	}
	p.window = next
	p.until = p.now().Add(next)
}

// Success records a clean call; a streak of them closes the backoff window.
func (p *Pacer) Success() {
	p.streak++
	if p.streak >= successStreakReset {
		p.window = 0
		p.until = time.Time{}
	}
}

// Snapshot exposes the window for persistence between runs.
func (p *Pacer) Snapshot() (until time.Time, window time.Duration) {
	return p.until, p.window
}

// Restore reinstates a persisted backoff window, e.g. after a restart.
func (p *Pacer) Restore(until time.Time, window time.Duration) {
	if window > p.maxBackoff {
		window = p.maxBackoff
	}
	p.until = until
	p.window = window
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
