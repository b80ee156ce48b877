package engine

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xwander/tablewright/internal/core"
)

// Service limits: requests per second per base.
const (
	DefaultRequestsPerSecond = 5.0
	DefaultBurst             = 5
)

// Acquirer admits one outbound call.
type Acquirer interface {
	Acquire(ctx context.Context) error
}

// SleepFunc suspends the caller for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// TokenBucket enforces the request rate of a single base.
//
// Tokens are recomputed lazily on every acquisition; nothing is persisted.
type TokenBucket struct {
	BaseID     string
	Capacity   float64
	RefillRate float64
	Clock      func() time.Time
	Sleep      SleepFunc

	mu          sync.Mutex
	tokens      float64
	lastRefill  time.Time
	initialized bool
}

// NewTokenBucket returns a full bucket. Non-positive values fall back to the service defaults.
func NewTokenBucket(baseID string, capacity int, refillRate float64) *TokenBucket {
	if capacity <= 0 {
		capacity = DefaultBurst
	}
	if refillRate <= 0 {
		refillRate = DefaultRequestsPerSecond
	}
	return &TokenBucket{
		BaseID:     baseID,
		Capacity:   float64(capacity),
		RefillRate: refillRate,
	}
}

// Acquire takes one token, waiting for the bucket to refill when it is empty.
//
// A caller that has to wait reserves its token before sleeping, leaving the
// bucket in debt, so concurrent waiters queue behind each other instead of
// all claiming the same refill. The only error is cancellation of ctx, which
// hands the reserved token back.
func (b *TokenBucket) Acquire(ctx context.Context) error {
	if b == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	b.refillLocked()
	wait := b.waitLocked()
	b.tokens--
	b.mu.Unlock()

	if wait <= 0 {
		return nil
	}
	if err := b.sleep(ctx, wait); err != nil {
		b.mu.Lock()
		b.refillLocked()
		b.tokens = math.Min(b.capacity(), b.tokens+1)
		b.mu.Unlock()
		return err
	}
	return nil
}

// State returns a snapshot of the bucket after applying any pending refill.
func (b *TokenBucket) State() core.BucketState {
	if b == nil {
		return core.BucketState{}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	return core.BucketState{
		BaseID:     b.BaseID,
		Capacity:   b.capacity(),
		RefillRate: b.rate(),
		Tokens:     math.Max(0, b.tokens),
		LastRefill: b.lastRefill,
	}
}

func (b *TokenBucket) refillLocked() {
	now := b.now()
	if !b.initialized {
		b.tokens = b.capacity()
		b.lastRefill = now
		b.initialized = true
		return
	}

	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens = math.Min(b.capacity(), b.tokens+elapsed*b.rate())
	}
	b.lastRefill = now
}

func (b *TokenBucket) waitLocked() time.Duration {
	missing := 1 - b.tokens
	if missing <= 0 {
		return 0
	}
	seconds := missing / b.rate()
	return time.Duration(math.Ceil(seconds * float64(time.Second)))
}

func (b *TokenBucket) capacity() float64 {
	if b.Capacity <= 0 {
		return DefaultBurst
	}
	return b.Capacity
}

func (b *TokenBucket) rate() float64 {
	if b.RefillRate <= 0 {
		return DefaultRequestsPerSecond
	}
	return b.RefillRate
}

func (b *TokenBucket) now() time.Time {
	if b.Clock != nil {
		return b.Clock()
	}
	return time.Now().UTC()
}

func (b *TokenBucket) sleep(ctx context.Context, d time.Duration) error {
	if b.Sleep != nil {
		return b.Sleep(ctx, d)
	}
	return SleepContext(ctx, d)
}

// SleepContext waits for d unless ctx is done first.
func SleepContext(ctx context.Context, d time.Duration) error {
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

// Limiters hands out one token bucket per base.
type Limiters struct {
	RequestsPerSecond float64
	Burst             int
	Clock             func() time.Time
	Sleep             SleepFunc

	mu      sync.Mutex
	buckets map[string]*TokenBucket
}

// NewLimiters builds a registry using the given per-base rate and burst.
func NewLimiters(requestsPerSecond float64, burst int) *Limiters {
	return &Limiters{RequestsPerSecond: requestsPerSecond, Burst: burst}
}

// For returns the bucket owned by baseID, creating it on first use.
func (l *Limiters) For(baseID string) *TokenBucket {
	if l == nil {
		return nil
	}
	key := strings.TrimSpace(baseID)

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.buckets == nil {
		l.buckets = make(map[string]*TokenBucket)
	}
	if bucket, ok := l.buckets[key]; ok {
		return bucket
	}

	bucket := NewTokenBucket(key, l.Burst, l.RequestsPerSecond)
	bucket.Clock = l.Clock
	bucket.Sleep = l.Sleep
	l.buckets[key] = bucket
	return bucket
}

// States snapshots every bucket created so far.
func (l *Limiters) States() []core.BucketState {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	buckets := make([]*TokenBucket, 0, len(l.buckets))
	for _, bucket := range l.buckets {
		buckets = append(buckets, bucket)
	}
	l.mu.Unlock()

	states := make([]core.BucketState, 0, len(buckets))
	for _, bucket := range buckets {
		states = append(states, bucket.State())
	}
	sort.Slice(states, func(i, j int) bool { return states[i].BaseID < states[j].BaseID })
	return states
}
