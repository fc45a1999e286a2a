// Package cache provides the memoization cache shared across sessions:
// content-addressed entries, single-flight computation, dependency
// invalidation, and LRU eviction.
package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

const defaultCapacity = 1024

// Backend is an optional second-level store for computed values
// (typically Redis), shared between runtime instances.
type Backend interface {
	Get(ctx context.Context, fp Fingerprint) (any, bool, error)
	Set(ctx context.Context, fp Fingerprint, value any, ttl time.Duration) error
	Del(ctx context.Context, fps ...Fingerprint) error
	Ping(ctx context.Context) error
	Close() error
}

type entry struct {
	value     any
	createdAt time.Time
	expiresAt time.Time // zero means no TTL
	deps      []string
}

// Cache is the process-wide memoization cache. It is the only
// resource shared across sessions; all access is internally
// synchronized.
type Cache struct {
	defaultTTL time.Duration
	entries    *lru.Cache[Fingerprint, *entry]
	group      singleflight.Group
	backend    Backend

	mu    sync.Mutex // guards byDep
	byDep map[string]map[Fingerprint]struct{}

	now func() time.Time // test hook
}

// New creates a capacity-bounded cache. capacity <= 0 falls back to a
// default; defaultTTL of 0 disables time-based expiry; backend may be
// nil.
func New(capacity int, defaultTTL time.Duration, backend Backend) (*Cache, error) {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	c := &Cache{
		defaultTTL: defaultTTL,
		backend:    backend,
		byDep:      make(map[string]map[Fingerprint]struct{}),
		now:        time.Now,
	}
	entries, err := lru.NewWithEvict[Fingerprint, *entry](capacity, c.onEvict)
	if err != nil {
		return nil, err
	}
	c.entries = entries
	return c, nil
}

// onEvict keeps the dependency index consistent with LRU evictions.
func (c *Cache) onEvict(fp Fingerprint, e *entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, dep := range e.deps {
		if fps, ok := c.byDep[dep]; ok {
			delete(fps, fp)
			if len(fps) == 0 {
				delete(c.byDep, dep)
			}
		}
	}
}

// GetOrCompute returns the cached value for fp, computing it at most
// once across all concurrent callers on a miss (single-flight).
// Callers whose context is cancelled while waiting return early; the
// computation itself is detached from any one caller's cancellation so
// other sessions still receive the result.
func (c *Cache) GetOrCompute(ctx context.Context, fp Fingerprint, spec FuncSpec, compute func(context.Context) (any, error)) (any, error) {
	if v, ok := c.lookup(fp); ok {
		return v, nil
	}

	ch := c.group.DoChan(string(fp), func() (any, error) {
		// A racing caller may have stored the value between our miss
		// and winning the flight.
		if v, ok := c.lookup(fp); ok {
			return v, nil
		}
		bctx := context.WithoutCancel(ctx)

		if c.backend != nil {
			v, ok, err := c.backend.Get(bctx, fp)
			if err != nil {
				slog.Warn("Cache backend read failed", "fingerprint", string(fp), "error", err)
			} else if ok {
				c.store(fp, v, spec)
				return v, nil
			}
		}

		v, err := compute(bctx)
		if err != nil {
			return nil, err
		}
		c.store(fp, v, spec)

		if c.backend != nil {
			if err := c.backend.Set(bctx, fp, v, c.ttlFor(spec)); err != nil {
				slog.Warn("Cache backend write failed", "fingerprint", string(fp), "error", err)
			}
		}
		return v, nil
	})

	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Cache) lookup(fp Fingerprint) (any, bool) {
	e, ok := c.entries.Get(fp)
	if !ok {
		return nil, false
	}
	if !e.expiresAt.IsZero() && c.now().After(e.expiresAt) {
		c.entries.Remove(fp)
		return nil, false
	}
	return e.value, true
}

func (c *Cache) store(fp Fingerprint, value any, spec FuncSpec) {
	now := c.now()
	e := &entry{value: value, createdAt: now, deps: spec.Deps}
	if ttl := c.ttlFor(spec); ttl > 0 {
		e.expiresAt = now.Add(ttl)
	}
	// Replacing fp triggers onEvict for the old entry, which clears
	// its dep index before we register the new one.
	c.entries.Add(fp, e)

	c.mu.Lock()
	for _, dep := range spec.Deps {
		fps, ok := c.byDep[dep]
		if !ok {
			fps = make(map[Fingerprint]struct{})
			c.byDep[dep] = fps
		}
		fps[fp] = struct{}{}
	}
	c.mu.Unlock()
}

func (c *Cache) ttlFor(spec FuncSpec) time.Duration {
	if spec.TTL > 0 {
		return time.Duration(spec.TTL) * time.Second
	}
	return c.defaultTTL
}

// Invalidate evicts every entry that declared dep as a dependency and
// returns how many were dropped.
func (c *Cache) Invalidate(ctx context.Context, dep string) int {
	c.mu.Lock()
	fps := make([]Fingerprint, 0, len(c.byDep[dep]))
	for fp := range c.byDep[dep] {
		fps = append(fps, fp)
	}
	c.mu.Unlock()

	for _, fp := range fps {
		c.entries.Remove(fp)
	}
	if c.backend != nil && len(fps) > 0 {
		if err := c.backend.Del(ctx, fps...); err != nil {
			slog.Warn("Cache backend invalidation failed", "dep", dep, "error", err)
		}
	}
	return len(fps)
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.entries.Purge()
	c.mu.Lock()
	c.byDep = make(map[string]map[Fingerprint]struct{})
	c.mu.Unlock()
}

// Len returns the current number of live entries.
func (c *Cache) Len() int {
	return c.entries.Len()
}
