// Package pacing spaces out consecutive login attempts so the portal does
// not see a burst of sign-ins from one client.
package pacing

import (
	"context"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/credresolve/internal/config"
)

// Window is an inclusive duration range.
type Window struct {
	Min time.Duration
	Max time.Duration
}

// draw returns a uniform duration in [Min, Max].
func (w Window) draw(rnd func(n int64) int64) time.Duration {
	if w.Max <= w.Min {
		return w.Min
	}
	return w.Min + time.Duration(rnd(int64(w.Max-w.Min)+1))
}

// Pacer inserts a randomized delay between rows of a batch and, when a
// logins-per-minute limit is configured, admits logins through a limiter
// shared by every batch in the process.
type Pacer struct {
	base    Window
	jitter  Window
	limiter *rate.Limiter

	rnd   func(n int64) int64
	sleep func(ctx context.Context, d time.Duration) error
}

// New builds a Pacer from the pacing configuration. One Pacer should be
// shared by all batches so the login limit applies process-wide.
func New(cfg config.PacingConfig) *Pacer {
	p := &Pacer{
		base: Window{
			Min: time.Duration(cfg.BaseMinMs) * time.Millisecond,
			Max: time.Duration(cfg.BaseMaxMs) * time.Millisecond,
		},
		jitter: Window{
			Min: time.Duration(cfg.JitterMinMs) * time.Millisecond,
			Max: time.Duration(cfg.JitterMaxMs) * time.Millisecond,
		},
		rnd:   rand.Int64N,
		sleep: sleepCtx,
	}
	if cfg.LoginsPerMinute > 0 {
		p.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.LoginsPerMinute)), 1)
	}
	return p
}

// Next returns the delay that would precede the next row.
func (p *Pacer) Next() time.Duration {
	return p.base.draw(p.rnd) + p.jitter.draw(p.rnd)
}

// DelayBeforeNext suspends the caller before the next row. It returns
// immediately after the last row, and early with ctx.Err() if ctx is done.
func (p *Pacer) DelayBeforeNext(ctx context.Context, isLastRow bool) error {
	if isLastRow {
		return nil
	}
	d := p.Next()
	zap.L().Debug("pacing: delaying next row", zap.Duration("delay", d))
	return p.sleep(ctx, d)
}

// Admit blocks until the process-wide login limiter allows another login.
// It is a no-op when no limit is configured.
func (p *Pacer) Admit(ctx context.Context) error {
	if p.limiter == nil {
		return nil
	}
	return p.limiter.Wait(ctx)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
