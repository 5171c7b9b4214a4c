package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/polycopy/polycopy/internal/domain"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := New(context.Background(), ClientConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestLockManagerAcquireAndRelease(t *testing.T) {
	c := newTestClient(t)
	lm := NewLockManager(c)
	ctx := context.Background()

	unlock, err := lm.Acquire(ctx, "sweep", time.Minute)
	require.NoError(t, err)

	_, err = lm.Acquire(ctx, "sweep", time.Minute)
	require.ErrorIs(t, err, domain.ErrLockHeld)

	// A different key is independent.
	other, err := lm.Acquire(ctx, "other", time.Minute)
	require.NoError(t, err)
	other()

	unlock()
	unlock2, err := lm.Acquire(ctx, "sweep", time.Minute)
	require.NoError(t, err, "released locks must be reacquirable")
	unlock2()
}

func TestLockManagerUnlockIsIdempotent(t *testing.T) {
	c := newTestClient(t)
	lm := NewLockManager(c)
	ctx := context.Background()

	unlock, err := lm.Acquire(ctx, "once", time.Minute)
	require.NoError(t, err)
	unlock()
	unlock()

	_, err = lm.Acquire(ctx, "once", time.Minute)
	require.NoError(t, err)
}

func TestLockManagerUnlockOnlyReleasesOwnToken(t *testing.T) {
	c := newTestClient(t)
	lm := NewLockManager(c)
	ctx := context.Background()

	first, err := lm.Acquire(ctx, "guarded", time.Minute)
	require.NoError(t, err)
	first()

	_, err = lm.Acquire(ctx, "guarded", time.Minute)
	require.NoError(t, err)

	// A stale unlock from the first holder must not release the new lock.
	first()
	_, err = lm.Acquire(ctx, "guarded", time.Minute)
	require.ErrorIs(t, err, domain.ErrLockHeld)
}

func TestRateLimiterAllowEnforcesLimit(t *testing.T) {
	c := newTestClient(t)
	rl := NewRateLimiter(c, 5)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, err := rl.Allow(ctx, "orders", 3, time.Second)
		require.NoError(t, err)
		require.True(t, allowed, "request %d within the budget", i)
	}

	allowed, err := rl.Allow(ctx, "orders", 3, time.Second)
	require.NoError(t, err)
	require.False(t, allowed, "the fourth request exceeds limit 3")

	// Requests under a different key have their own window.
	allowed, err = rl.Allow(ctx, "markets", 3, time.Second)
	require.NoError(t, err)
	require.True(t, allowed)
}

func TestRateLimiterWindowSlides(t *testing.T) {
	c := newTestClient(t)
	rl := NewRateLimiter(c, 5)
	ctx := context.Background()

	allowed, err := rl.Allow(ctx, "slide", 1, 20*time.Millisecond)
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, err = rl.Allow(ctx, "slide", 1, 20*time.Millisecond)
	require.NoError(t, err)
	require.False(t, allowed)

	time.Sleep(30 * time.Millisecond)

	allowed, err = rl.Allow(ctx, "slide", 1, 20*time.Millisecond)
	require.NoError(t, err)
	require.True(t, allowed, "entries outside the window must be pruned")
}

func TestRateLimiterWaitReturnsWhenAllowed(t *testing.T) {
	c := newTestClient(t)
	rl := NewRateLimiter(c, 10)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, rl.Wait(ctx, "fast"))
}

func TestRateLimiterWaitHonoursContext(t *testing.T) {
	c := newTestClient(t)
	rl := NewRateLimiter(c, 1)
	ctx := context.Background()

	// Exhaust the one-per-second budget.
	allowed, err := rl.Allow(ctx, "busy", 1, time.Second)
	require.NoError(t, err)
	require.True(t, allowed)

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err = rl.Wait(waitCtx, "busy")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
