package cache

import (
	"hash/maphash"
	"sync"
	"time"
)

// NeverExpire is the TTL for entries that stay fresh until invalidated.
const NeverExpire time.Duration = -1

const defaultShards = 16

// State is what the cache knows about a key.
type State uint8

const (
	// StateUnknown covers both "never cached" and "expired".
	StateUnknown State = iota
	StatePresent
	StateAbsent
)

func (s State) String() string {
	switch s {
	case StatePresent:
		return "present"
	case StateAbsent:
		return "absent"
	default:
		return "unknown"
	}
}

// Result is the outcome of a Lookup. Value is only meaningful when State is StatePresent.
type Result[V any] struct {
	State State
	Value V
}

func Present[V any](value V) Result[V] { return Result[V]{State: StatePresent, Value: value} }
func Absent[V any]() Result[V]         { return Result[V]{State: StateAbsent} }
func Unknown[V any]() Result[V]        { return Result[V]{} }

func (r Result[V]) IsPresent() bool { return r.State == StatePresent }
func (r Result[V]) IsAbsent() bool  { return r.State == StateAbsent }
func (r Result[V]) IsUnknown() bool { return r.State == StateUnknown }

type entry[V any] struct {
	result   Result[V]
	storedAt time.Time
}

type shard[K comparable, V any] struct {
	mu      sync.RWMutex
	entries map[K]entry[V]
}

type options struct {
	shards int
	now    func() time.Time
}

// Option customises a NegativeCache.
type Option func(*options)

// WithShards sets the number of independently locked shards (minimum 1).
func WithShards(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.shards = n
		}
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// NegativeCache maps keys to a present value, a cached absence, or nothing.
// Absence is a first-class cached fact: a key known to have no value stays
// StateAbsent until it expires or is invalidated.
//
// The TTL applies to every entry: a positive TTL expires entries after that age,
// NeverExpire keeps them until invalidated and a zero TTL disables caching
// altogether (every lookup is StateUnknown).
//
// Each key lives in one shard; every write replaces the whole entry under that
// shard's lock. There is no cross-key atomicity.
type NegativeCache[K comparable, V any] struct {
	ttl    time.Duration
	now    func() time.Time
	seed   maphash.Seed
	shards []*shard[K, V]
	stats  counters
}

// New creates a cache with the given time-to-live.
func New[K comparable, V any](ttl time.Duration, opts ...Option) *NegativeCache[K, V] {
	o := options{shards: defaultShards, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if ttl < 0 {
		ttl = NeverExpire
	}

	shards := make([]*shard[K, V], o.shards)
	for i := range shards {
		shards[i] = &shard[K, V]{entries: make(map[K]entry[V])}
	}
	return &NegativeCache[K, V]{
		ttl:    ttl,
		now:    o.now,
		seed:   maphash.MakeSeed(),
		shards: shards,
	}
}

// TTL returns the configured time-to-live.
func (c *NegativeCache[K, V]) TTL() time.Duration {
	return c.ttl
}

func (c *NegativeCache[K, V]) shardFor(key K) *shard[K, V] {
	if len(c.shards) == 1 {
		return c.shards[0]
	}
	return c.shards[maphash.Comparable(c.seed, key)%uint64(len(c.shards))]
}

func (c *NegativeCache[K, V]) expired(e entry[V], now time.Time) bool {
	switch {
	case c.ttl < 0:
		return false
	case c.ttl == 0:
		return true
	default:
		return now.Sub(e.storedAt) > c.ttl
	}
}

// put replaces the entry for key; caller holds the shard lock.
func (c *NegativeCache[K, V]) put(sh *shard[K, V], key K, r Result[V]) {
	if c.ttl == 0 || r.State == StateUnknown {
		delete(sh.entries, key)
		return
	}
	sh.entries[key] = entry[V]{result: r, storedAt: c.now()}
}

// live returns the fresh result for key; caller holds the shard lock (read or write).
func (c *NegativeCache[K, V]) live(sh *shard[K, V], key K, now time.Time) (Result[V], bool) {
	e, ok := sh.entries[key]
	if !ok {
		return Unknown[V](), false
	}
	if c.expired(e, now) {
		return Unknown[V](), true
	}
	return e.result, false
}

// CachePresent stores value for key, replacing any prior state, and returns value.
func (c *NegativeCache[K, V]) CachePresent(key K, value V) V {
	sh := c.shardFor(key)
	sh.mu.Lock()
	c.put(sh, key, Present(value))
	sh.mu.Unlock()
	return value
}

// CacheAbsent records that key has no value, replacing any prior state.
func (c *NegativeCache[K, V]) CacheAbsent(key K) {
	sh := c.shardFor(key)
	sh.mu.Lock()
	c.put(sh, key, Absent[V]())
	sh.mu.Unlock()
}

// Cache dispatches to CachePresent or CacheAbsent depending on present.
func (c *NegativeCache[K, V]) Cache(key K, value V, present bool) Result[V] {
	if present {
		return Present(c.CachePresent(key, value))
	}
	c.CacheAbsent(key)
	return Absent[V]()
}

// GetPresent returns the cached value if one is present and fresh.
// It reports false both for a cached absence and for no entry at all; use
// Lookup to tell those apart.
func (c *NegativeCache[K, V]) GetPresent(key K) (V, bool) {
	r := c.Lookup(key)
	return r.Value, r.IsPresent()
}

// Lookup returns the tri-state knowledge about key. Expired entries are
// reported as StateUnknown and removed.
func (c *NegativeCache[K, V]) Lookup(key K) Result[V] {
	sh := c.shardFor(key)
	now := c.now()

	sh.mu.RLock()
	r, stale := c.live(sh, key, now)
	sh.mu.RUnlock()

	switch {
	case r.IsPresent():
		c.stats.hits.Add(1)
	case r.IsAbsent():
		c.stats.negativeHits.Add(1)
	default:
		c.stats.misses.Add(1)
	}

	if stale {
		c.stats.expirations.Add(1)
		sh.mu.Lock()
		if e, ok := sh.entries[key]; ok && c.expired(e, c.now()) {
			delete(sh.entries, key)
		}
		sh.mu.Unlock()
	}
	return r
}

// Compute atomically replaces the entry for key with the result fn chooses.
// fn sees the current fresh state (StateUnknown when missing or expired) and
// returns the next state plus whether to store it. Returning a StateUnknown
// result with true removes the entry. Compute returns the chosen result, or
// the current one when fn declined.
func (c *NegativeCache[K, V]) Compute(key K, fn func(current Result[V]) (Result[V], bool)) Result[V] {
	sh := c.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	current, _ := c.live(sh, key, c.now())
	next, ok := fn(current)
	if !ok {
		return current
	}
	c.put(sh, key, next)
	return next
}

// Invalidate removes any entry for key.
func (c *NegativeCache[K, V]) Invalidate(key K) {
	sh := c.shardFor(key)
	sh.mu.Lock()
	delete(sh.entries, key)
	sh.mu.Unlock()
}

// InvalidateAll clears every shard. Shards are cleared one after another, so a
// concurrent writer may land an entry in an already cleared shard.
func (c *NegativeCache[K, V]) InvalidateAll() {
	for _, sh := range c.shards {
		sh.mu.Lock()
		clear(sh.entries)
		sh.mu.Unlock()
	}
	c.stats.resets.Add(1)
}

// Sweep drops expired entries and returns how many were removed.
func (c *NegativeCache[K, V]) Sweep() int {
	if c.ttl < 0 {
		return 0
	}
	removed := 0
	now := c.now()
	for _, sh := range c.shards {
		sh.mu.Lock()
		for k, e := range sh.entries {
			if c.expired(e, now) {
				delete(sh.entries, k)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	c.stats.swept.Add(uint64(removed))
	return removed
}

// Len returns the number of stored entries, including expired ones not yet removed.
func (c *NegativeCache[K, V]) Len() int {
	n := 0
	for _, sh := range c.shards {
		sh.mu.RLock()
		n += len(sh.entries)
		sh.mu.RUnlock()
	}
	return n
}

// Stats returns a point-in-time copy of the cache counters.
func (c *NegativeCache[K, V]) Stats() Stats {
	s := c.stats.snapshot()
	s.Entries = c.Len()
	return s
}
