package entitlements

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/angelmondragon/habits-backend/pkg/enums"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type countingComputer struct {
	calls atomic.Int32
	mu    sync.Mutex
	tier  enums.SubscriptionTier
	err   error
	gate  chan struct{}
}

func (c *countingComputer) Resolve(context.Context, uuid.UUID) (Set, error) {
	c.calls.Add(1)
	if c.gate != nil {
		<-c.gate
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return Set{}, c.err
	}
	return Set{Tier: c.tier, ScheduleTypes: []string{"daily"}}, nil
}

func (c *countingComputer) setTier(tier enums.SubscriptionTier) {
	c.mu.Lock()
	c.tier = tier
	c.mu.Unlock()
}

func newTestCache(t *testing.T, computer Computer, clock *fakeClock) *Cache {
	t.Helper()
	cache, err := NewCache(CacheParams{Computer: computer, TTL: time.Minute, Now: clock.Now})
	require.NoError(t, err)
	return cache
}

func TestCacheHitWithinTTL(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	computer := &countingComputer{tier: enums.SubscriptionTierPlus}
	cache := newTestCache(t, computer, clock)
	userID := uuid.New()

	first, err := cache.GetOrCompute(context.Background(), userID)
	require.NoError(t, err)
	clock.Advance(30 * time.Second)
	second, err := cache.GetOrCompute(context.Background(), userID)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), computer.calls.Load())
}

func TestCacheRecomputesAfterTTL(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	computer := &countingComputer{tier: enums.SubscriptionTierPlus}
	cache := newTestCache(t, computer, clock)
	userID := uuid.New()

	_, err := cache.GetOrCompute(context.Background(), userID)
	require.NoError(t, err)
	clock.Advance(time.Minute)
	computer.setTier(enums.SubscriptionTierFree)

	set, err := cache.GetOrCompute(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, enums.SubscriptionTierFree, set.Tier)
	assert.Equal(t, int32(2), computer.calls.Load())
}

func TestCacheInvalidateForcesRecompute(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	computer := &countingComputer{tier: enums.SubscriptionTierPro}
	cache := newTestCache(t, computer, clock)
	userID := uuid.New()
	ctx := context.Background()

	_, err := cache.GetOrCompute(ctx, userID)
	require.NoError(t, err)

	computer.setTier(enums.SubscriptionTierFree)
	cache.Invalidate(ctx, userID)

	set, err := cache.GetOrCompute(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, enums.SubscriptionTierFree, set.Tier)
	assert.Equal(t, int32(2), computer.calls.Load())
}

func TestCacheDiscardsComputeRacingInvalidation(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	computer := &countingComputer{tier: enums.SubscriptionTierPro, gate: make(chan struct{})}
	cache := newTestCache(t, computer, clock)
	userID := uuid.New()
	ctx := context.Background()

	done := make(chan Set, 1)
	go func() {
		set, err := cache.GetOrCompute(ctx, userID)
		if err == nil {
			done <- set
		}
		close(done)
	}()

	require.Eventually(t, func() bool { return computer.calls.Load() == 1 }, time.Second, time.Millisecond)
	cache.Invalidate(ctx, userID)
	computer.gate <- struct{}{}
	stale := <-done
	assert.Equal(t, enums.SubscriptionTierPro, stale.Tier, "the in-flight caller still receives its own result")

	// The racing result must not have been stored.
	computer.gate = nil
	computer.setTier(enums.SubscriptionTierFree)
	set, err := cache.GetOrCompute(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, enums.SubscriptionTierFree, set.Tier)
	assert.Equal(t, int32(2), computer.calls.Load())
}

func TestCacheCollapsesConcurrentMisses(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	computer := &countingComputer{tier: enums.SubscriptionTierPlus, gate: make(chan struct{})}
	cache := newTestCache(t, computer, clock)
	userID := uuid.New()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = cache.GetOrCompute(context.Background(), userID)
		}()
	}
	require.Eventually(t, func() bool { return computer.calls.Load() >= 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(computer.gate)
	wg.Wait()

	assert.LessOrEqual(t, computer.calls.Load(), int32(8))
	assert.GreaterOrEqual(t, computer.calls.Load(), int32(1))

	before := computer.calls.Load()
	_, err := cache.GetOrCompute(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, before, computer.calls.Load(), "result is cached after the collapsed miss")
}

func TestCacheDoesNotStoreErrors(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	computer := &countingComputer{err: errors.New("db down")}
	cache := newTestCache(t, computer, clock)
	userID := uuid.New()

	_, err := cache.GetOrCompute(context.Background(), userID)
	require.Error(t, err)

	computer.mu.Lock()
	computer.err = nil
	computer.tier = enums.SubscriptionTierFree
	computer.mu.Unlock()

	set, err := cache.GetOrCompute(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, enums.SubscriptionTierFree, set.Tier)
}

func TestCacheReturnsIndependentCopies(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	cache := newTestCache(t, &countingComputer{tier: enums.SubscriptionTierFree}, clock)
	userID := uuid.New()

	first, err := cache.GetOrCompute(context.Background(), userID)
	require.NoError(t, err)
	first.ScheduleTypes[0] = "mutated"

	second, err := cache.GetOrCompute(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, "daily", second.ScheduleTypes[0])
}

func TestCacheSweepDropsStaleEntries(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	cache := newTestCache(t, &countingComputer{tier: enums.SubscriptionTierPlus}, clock)
	ctx := context.Background()

	old := uuid.New()
	_, err := cache.GetOrCompute(ctx, old)
	require.NoError(t, err)

	clock.Advance(90 * time.Second)
	recent := uuid.New()
	_, err = cache.GetOrCompute(ctx, recent)
	require.NoError(t, err)

	assert.Equal(t, 0, cache.Sweep(clock.Now()), "nothing is older than 2x ttl yet")

	clock.Advance(31 * time.Second)
	assert.Equal(t, 1, cache.Sweep(clock.Now()))
	assert.Equal(t, 1, cache.Len())

	clock.Advance(2 * time.Minute)
	assert.Equal(t, 1, cache.Sweep(clock.Now()))
	assert.Equal(t, 0, cache.Len())
}

func TestCacheJanitorStopsWithContext(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	cache := newTestCache(t, &countingComputer{}, clock)
	ctx, cancel := context.WithCancel(context.Background())

	stopped := make(chan struct{})
	go func() {
		cache.RunJanitor(ctx, time.Millisecond)
		close(stopped)
	}()
	cancel()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop after cancel")
	}
}

func TestNewCacheRequiresComputer(t *testing.T) {
	_, err := NewCache(CacheParams{})
	assert.Error(t, err)
}
