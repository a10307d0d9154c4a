package entitlements

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/angelmondragon/habits-backend/pkg/logger"
	"github.com/angelmondragon/habits-backend/pkg/metrics"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

const defaultTTL = 5 * time.Minute

// Computer produces the authoritative entitlement set for a user.
type Computer interface {
	Resolve(ctx context.Context, userID uuid.UUID) (Set, error)
}

// Invalidator drops cached entitlements for a user.
type Invalidator interface {
	Invalidate(ctx context.Context, userID uuid.UUID)
}

// CacheParams configure the entitlement cache.
type CacheParams struct {
	Computer Computer
	TTL      time.Duration
	Metrics  *metrics.CacheMetrics
	Logger   *logger.Logger
	Now      func() time.Time
}

// Cache is a per-process TTL cache of entitlement sets keyed by user.
// Each user has its own slot; invalidation bumps the slot generation so a
// compute that started before the invalidation never stores its result.
type Cache struct {
	computer Computer
	ttl      time.Duration
	metrics  *metrics.CacheMetrics
	logg     *logger.Logger
	now      func() time.Time

	slots  sync.Map // uuid.UUID -> *slot
	flight singleflight.Group
}

type slot struct {
	mu         sync.Mutex
	set        Set
	valid      bool
	computedAt time.Time
	touchedAt  time.Time
	generation uint64
}

func NewCache(params CacheParams) (*Cache, error) {
	if params.Computer == nil {
		return nil, errors.New("entitlement computer required")
	}
	ttl := params.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &Cache{
		computer: params.Computer,
		ttl:      ttl,
		metrics:  params.Metrics,
		logg:     logg,
		now:      now,
	}, nil
}

// TTL reports the freshness window of cached entries.
func (c *Cache) TTL() time.Duration { return c.ttl }

func (c *Cache) slotFor(userID uuid.UUID) *slot {
	if existing, ok := c.slots.Load(userID); ok {
		return existing.(*slot)
	}
	actual, _ := c.slots.LoadOrStore(userID, &slot{touchedAt: c.now()})
	return actual.(*slot)
}

// GetOrCompute returns the cached set when fresh, otherwise computes and caches it.
// Concurrent misses for one user share a single computation.
func (c *Cache) GetOrCompute(ctx context.Context, userID uuid.UUID) (Set, error) {
	s := c.slotFor(userID)

	s.mu.Lock()
	if s.valid && c.now().Sub(s.computedAt) < c.ttl {
		set := s.set.clone()
		s.touchedAt = c.now()
		s.mu.Unlock()
		c.metrics.Lookup("hit")
		return set, nil
	}
	generation := s.generation
	s.mu.Unlock()

	c.metrics.Lookup("miss")
	v, err, _ := c.flight.Do(userID.String(), func() (any, error) {
		return c.computer.Resolve(ctx, userID)
	})
	if err != nil {
		c.metrics.Lookup("error")
		return Set{}, err
	}
	set := v.(Set)

	s.mu.Lock()
	if s.generation == generation {
		now := c.now()
		s.set = set.clone()
		s.valid = true
		s.computedAt = now
		s.touchedAt = now
	}
	s.mu.Unlock()

	return set.clone(), nil
}

// Invalidate drops the cached set for userID. A compute in flight for the
// user is detached so later callers start a fresh one.
func (c *Cache) Invalidate(ctx context.Context, userID uuid.UUID) {
	if existing, ok := c.slots.Load(userID); ok {
		s := existing.(*slot)
		s.mu.Lock()
		s.valid = false
		s.generation++
		s.touchedAt = c.now()
		s.mu.Unlock()
	}
	c.flight.Forget(userID.String())
	c.metrics.Invalidated()
	c.logg.Debug(c.logg.WithUserID(ctx, userID.String()), "entitlements invalidated")
}

// Sweep drops slots untouched for longer than twice the TTL and returns how many it removed.
func (c *Cache) Sweep(now time.Time) int {
	cutoff := 2 * c.ttl
	removed := 0
	c.slots.Range(func(key, value any) bool {
		s := value.(*slot)
		s.mu.Lock()
		stale := now.Sub(s.touchedAt) > cutoff
		s.mu.Unlock()
		if stale && c.slots.CompareAndDelete(key, value) {
			removed++
		}
		return true
	})
	c.metrics.Evicted(removed)
	return removed
}

// Len reports the number of tracked slots.
func (c *Cache) Len() int {
	n := 0
	c.slots.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// RunJanitor sweeps on every interval tick until ctx is done.
func (c *Cache) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 2 * c.ttl
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := c.Sweep(c.now()); removed > 0 {
				c.logg.Debug(c.logg.WithField(ctx, "removed", removed), "entitlement cache swept")
			}
		}
	}
}
