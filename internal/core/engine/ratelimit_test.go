package engine

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeClock advances only when something sleeps on it.
type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	slept []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slept = append(c.slept, d)
	c.now = c.now.Add(d)
	return nil
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBucket(clock *fakeClock) *TokenBucket {
	bucket := NewTokenBucket("appTest", 5, 5)
	bucket.Clock = clock.Now
	bucket.Sleep = clock.Sleep
	return bucket
}

func TestTokenBucketBurstIsFree(t *testing.T) {
	clock := newFakeClock()
	bucket := newTestBucket(clock)

	for i := 0; i < 5; i++ {
		require.NoError(t, bucket.Acquire(context.Background()))
	}
	require.Empty(t, clock.slept)
	require.InDelta(t, 0, bucket.State().Tokens, 1e-9)
}

func TestTokenBucketSustainedRate(t *testing.T) {
	clock := newFakeClock()
	bucket := newTestBucket(clock)
	start := clock.Now()

	for i := 0; i < 15; i++ {
		require.NoError(t, bucket.Acquire(context.Background()))
	}

	elapsed := clock.Now().Sub(start)
	require.GreaterOrEqual(t, elapsed, 1999*time.Millisecond)
	require.Len(t, clock.slept, 10)
	for _, d := range clock.slept {
		require.InDelta(t, float64(200*time.Millisecond), float64(d), float64(time.Millisecond))
	}
}

func TestTokenBucketRefillsWhileIdle(t *testing.T) {
	clock := newFakeClock()
	bucket := newTestBucket(clock)

	for i := 0; i < 5; i++ {
		require.NoError(t, bucket.Acquire(context.Background()))
	}
	clock.Advance(10 * time.Second)

	state := bucket.State()
	require.InDelta(t, 5, state.Tokens, 1e-9)
	require.Equal(t, "appTest", state.BaseID)
	require.Equal(t, float64(5), state.Capacity)
}

func TestTokenBucketCanceledWhileWaiting(t *testing.T) {
	clock := newFakeClock()
	bucket := newTestBucket(clock)
	for i := 0; i < 5; i++ {
		require.NoError(t, bucket.Acquire(context.Background()))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := bucket.Acquire(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestTokenBucketConcurrentWaitersQueue(t *testing.T) {
	clock := newFakeClock()
	bucket := newTestBucket(clock)
	for i := 0; i < 5; i++ {
		require.NoError(t, bucket.Acquire(context.Background()))
	}

	// Waiters sleep without moving the clock, as goroutines would in parallel.
	var mu sync.Mutex
	var waits []time.Duration
	bucket.Sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		defer mu.Unlock()
		waits = append(waits, d)
		return nil
	}

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- bucket.Acquire(context.Background())
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	require.Len(t, waits, 10)
	sort.Slice(waits, func(i, j int) bool { return waits[i] < waits[j] })
	for i, d := range waits {
		want := time.Duration(i+1) * 200 * time.Millisecond
		require.InDelta(t, float64(want), float64(d), float64(time.Millisecond), "waiter %d", i)
	}

	// Ten tokens are owed; they are repaid two seconds later.
	require.InDelta(t, 0, bucket.State().Tokens, 1e-9)
	clock.Advance(2 * time.Second)
	require.InDelta(t, 0, bucket.State().Tokens, 1e-6)
	clock.Advance(time.Second)
	require.InDelta(t, 5, bucket.State().Tokens, 1e-6)
}

func TestTokenBucketCancelReturnsReservation(t *testing.T) {
	clock := newFakeClock()
	bucket := newTestBucket(clock)
	for i := 0; i < 5; i++ {
		require.NoError(t, bucket.Acquire(context.Background()))
	}

	ctx, cancel := context.WithCancel(context.Background())
	bucket.Sleep = func(context.Context, time.Duration) error {
		cancel()
		return ctx.Err()
	}
	require.ErrorIs(t, bucket.Acquire(ctx), context.Canceled)

	// The next caller waits one interval, not two.
	bucket.Sleep = clock.Sleep
	require.NoError(t, bucket.Acquire(context.Background()))
	require.Len(t, clock.slept, 1)
	require.InDelta(t, float64(200*time.Millisecond), float64(clock.slept[0]), float64(time.Millisecond))
}

func TestTokenBucketDefaults(t *testing.T) {
	bucket := NewTokenBucket("appX", 0, 0)
	require.Equal(t, float64(DefaultBurst), bucket.Capacity)
	require.Equal(t, DefaultRequestsPerSecond, bucket.RefillRate)
}

func TestTokenBucketRealClock(t *testing.T) {
	if testing.Short() {
		t.Skip("real clock test skipped in short mode")
	}

	bucket := NewTokenBucket("appReal", 5, 5)
	start := time.Now()
	for i := 0; i < 15; i++ {
		require.NoError(t, bucket.Acquire(context.Background()))
	}
	require.GreaterOrEqual(t, time.Since(start), 1990*time.Millisecond)
}

func TestLimitersArePerBase(t *testing.T) {
	clock := newFakeClock()
	limiters := NewLimiters(5, 5)
	limiters.Clock = clock.Now
	limiters.Sleep = clock.Sleep

	a := limiters.For("appA")
	require.Same(t, a, limiters.For("appA"))
	require.Same(t, a, limiters.For(" appA "))

	for i := 0; i < 5; i++ {
		require.NoError(t, a.Acquire(context.Background()))
	}
	// A drained base does not slow another one down.
	require.NoError(t, limiters.For("appB").Acquire(context.Background()))
	require.Empty(t, clock.slept)

	states := limiters.States()
	require.Len(t, states, 2)
	require.Equal(t, "appA", states[0].BaseID)
	require.Equal(t, "appB", states[1].BaseID)
	require.InDelta(t, 4, states[1].Tokens, 1e-9)
}

func TestNilLimitersAndBucket(t *testing.T) {
	var limiters *Limiters
	require.Nil(t, limiters.For("appA"))
	require.Nil(t, limiters.States())

	var bucket *TokenBucket
	require.NoError(t, bucket.Acquire(context.Background()))
}
