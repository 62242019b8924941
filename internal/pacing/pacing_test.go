package pacing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/credresolve/internal/config"
)

var defaultPacing = config.PacingConfig{BaseMinMs: 1500, BaseMaxMs: 2000, JitterMinMs: 2000, JitterMaxMs: 3000}

func TestNext_WithinWindow(t *testing.T) {
	p := New(defaultPacing)
	for range 200 {
		d := p.Next()
		assert.GreaterOrEqual(t, d, 3500*time.Millisecond)
		assert.LessOrEqual(t, d, 5000*time.Millisecond)
	}
}

func TestNext_Bounds(t *testing.T) {
	p := New(defaultPacing)

	p.rnd = func(int64) int64 { return 0 }
	assert.Equal(t, 3500*time.Millisecond, p.Next())

	p.rnd = func(n int64) int64 { return n - 1 }
	assert.Equal(t, 5000*time.Millisecond, p.Next())
}

func TestNext_FixedWindow(t *testing.T) {
	p := New(config.PacingConfig{BaseMinMs: 10, BaseMaxMs: 10})
	p.rnd = func(int64) int64 { t.Fatal("fixed window must not draw"); return 0 }
	assert.Equal(t, 10*time.Millisecond, p.Next())
}

func TestDelayBeforeNext(t *testing.T) {
	p := New(defaultPacing)
	var slept []time.Duration
	p.rnd = func(int64) int64 { return 0 }
	p.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	require.NoError(t, p.DelayBeforeNext(context.Background(), false))
	require.NoError(t, p.DelayBeforeNext(context.Background(), true))

	assert.Equal(t, []time.Duration{3500 * time.Millisecond}, slept, "no delay after the last row")
}

func TestDelayBeforeNext_Cancelled(t *testing.T) {
	p := New(defaultPacing)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := p.DelayBeforeNext(ctx, false)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestDelayBeforeNext_Sleeps(t *testing.T) {
	p := New(config.PacingConfig{BaseMinMs: 20, BaseMaxMs: 20})

	start := time.Now()
	require.NoError(t, p.DelayBeforeNext(context.Background(), false))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestAdmit_Unlimited(t *testing.T) {
	p := New(defaultPacing)
	for range 100 {
		require.NoError(t, p.Admit(context.Background()))
	}
}

func TestAdmit_Limited(t *testing.T) {
	cfg := defaultPacing
	cfg.LoginsPerMinute = 1
	p := New(cfg)

	require.NoError(t, p.Admit(context.Background()), "first login is admitted at once")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.Error(t, p.Admit(ctx), "second login must wait a minute")
}
