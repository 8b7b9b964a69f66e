package repository

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/bassista/go_lanatus/internal/cache"
	"golang.org/x/sync/singleflight"
)

// Repository serves immutable snapshots through a negative cache and mutable
// copies straight from the Store, merging them back with optimistic locking.
//
// Snapshots may be stale: they come from the cache until it expires or is
// invalidated. Mutable copies are always fetched fresh and are never refreshed;
// when Save reports ErrConflict the caller fetches a new copy and redoes its
// change. The repository never retries on its own and never logs.
type Repository[K comparable, V any] struct {
	store    Store[K, V]
	cache    *cache.NegativeCache[K, Snapshot[K, V]]
	defaults func() V
	flight   singleflight.Group

	fetches   atomic.Uint64
	commits   atomic.Uint64
	conflicts atomic.Uint64
}

// Stats reports repository and cache activity.
type Stats struct {
	Fetches   uint64      `json:"fetches"`
	Commits   uint64      `json:"commits"`
	Conflicts uint64      `json:"conflicts"`
	Cache     cache.Stats `json:"cache"`
}

// New creates a repository over store. defaults builds the values used for
// missing records; a nil defaults yields zero values.
func New[K comparable, V any](store Store[K, V], c *cache.NegativeCache[K, Snapshot[K, V]], defaults func() V) (*Repository[K, V], error) {
	if store == nil {
		return nil, errors.New("store is nil")
	}
	if c == nil {
		return nil, errors.New("cache is nil")
	}
	if defaults == nil {
		defaults = func() V {
			var zero V
			return zero
		}
	}
	return &Repository[K, V]{store: store, cache: c, defaults: defaults}, nil
}

// Find returns a snapshot of the record for key, or false when no record exists.
// Cached presence and absence are served without touching the store; otherwise
// the record is fetched and the outcome cached. Concurrent misses for the same
// key share one fetch, which is detached from any single caller's cancellation;
// each caller still stops waiting when its own ctx is done.
func (r *Repository[K, V]) Find(ctx context.Context, key K) (Snapshot[K, V], bool, error) {
	switch res := r.cache.Lookup(key); res.State {
	case cache.StatePresent:
		return res.Value, true, nil
	case cache.StateAbsent:
		return Snapshot[K, V]{}, false, nil
	}

	ch := r.flight.DoChan(flightKey(key), func() (any, error) {
		res, err := r.load(context.WithoutCancel(ctx), "find", key)
		return flight[K, V]{key: key, res: res}, err
	})

	var res cache.Result[Snapshot[K, V]]
	select {
	case <-ctx.Done():
		return Snapshot[K, V]{}, false, dataAccess("find", key, ctx.Err())
	case out := <-ch:
		if out.Err != nil {
			return Snapshot[K, V]{}, false, out.Err
		}
		shared := out.Val.(flight[K, V])
		res = shared.res
		if shared.key != key {
			// two keys formatted alike; fetch our own
			own, err := r.load(ctx, "find", key)
			if err != nil {
				return Snapshot[K, V]{}, false, err
			}
			res = own
		}
	}

	if !res.IsPresent() {
		return Snapshot[K, V]{}, false, nil
	}
	return res.Value, true, nil
}

// flight is the shared outcome of a coalesced fetch, tagged with the key it
// was fetched for.
type flight[K comparable, V any] struct {
	key K
	res cache.Result[Snapshot[K, V]]
}

func flightKey[K comparable](key K) string {
	return fmt.Sprintf("%T:%#v", key, key)
}

// FindOrDefault is Find, but returns a snapshot of the defaults (Exists() == false)
// instead of reporting absence.
func (r *Repository[K, V]) FindOrDefault(ctx context.Context, key K) (Snapshot[K, V], error) {
	snap, found, err := r.Find(ctx, key)
	if err != nil {
		return Snapshot[K, V]{}, err
	}
	if !found {
		return defaultSnapshot(key, r.defaults()), nil
	}
	return snap, nil
}

// Refresh fetches the record behind snap from the store, bypassing the cache,
// updates the cache and returns a new snapshot. snap itself is left untouched.
// A record the store does not have yields a snapshot of the defaults, unless
// the cache already holds a committed one: records are never deleted through
// the repository, so that fetch is a lagging read. Records removed behind the
// repository's back surface after Invalidate.
func (r *Repository[K, V]) Refresh(ctx context.Context, snap Snapshot[K, V]) (Snapshot[K, V], error) {
	return r.RefreshKey(ctx, snap.Key())
}

// RefreshKey is Refresh for callers that hold only the key.
func (r *Repository[K, V]) RefreshKey(ctx context.Context, key K) (Snapshot[K, V], error) {
	res, err := r.load(ctx, "refresh", key)
	if err != nil {
		return Snapshot[K, V]{}, err
	}
	if !res.IsPresent() {
		return defaultSnapshot(key, r.defaults()), nil
	}
	return res.Value, nil
}

// load fetches key, caches the outcome and returns the newest known state.
// A failed fetch leaves the cache as it was. The fetched state is not cached
// over a newer committed snapshot; that snapshot is returned instead.
func (r *Repository[K, V]) load(ctx context.Context, op string, key K) (cache.Result[Snapshot[K, V]], error) {
	r.fetches.Add(1)
	rec, found, err := r.store.Fetch(ctx, key)
	if err != nil {
		return cache.Result[Snapshot[K, V]]{}, dataAccess(op, key, err)
	}

	fetched := cache.Absent[Snapshot[K, V]]()
	if found {
		fetched = cache.Present(newSnapshot(key, rec))
	}

	return r.cache.Compute(key, func(current cache.Result[Snapshot[K, V]]) (cache.Result[Snapshot[K, V]], bool) {
		return fetched, !newerThan(current, fetched)
	}), nil
}

// newerThan reports whether current holds a snapshot committed after next.
// A fetched absence counts as NoVersion, so it never replaces a cached record:
// the fetch may have started before that record was created.
func newerThan[K comparable, V any](current, next cache.Result[Snapshot[K, V]]) bool {
	if !current.IsPresent() {
		return false
	}
	nextVersion := NoVersion
	if next.IsPresent() {
		nextVersion = next.Value.Version()
	}
	return current.Value.Version() > nextVersion
}

// FindMutable fetches the current state of key for modification, bypassing the
// cache. A missing record yields a copy of the defaults; it is only created in
// the store when saved.
func (r *Repository[K, V]) FindMutable(ctx context.Context, key K) (*Mutable[K, V], error) {
	r.fetches.Add(1)
	rec, found, err := r.store.Fetch(ctx, key)
	if err != nil {
		return nil, dataAccess("find mutable", key, err)
	}

	m := &Mutable[K, V]{key: key, owner: r}
	if found {
		m.value = rec.Value
		m.base = rec.Version
	} else {
		m.value = r.defaults()
		m.base = NoVersion
	}
	return m, nil
}

// Save merges m into the store with a single compare-and-write against the
// version m was fetched at.
//
// On success m becomes saved and the cache holds the returned snapshot.
// If another writer committed first, m becomes conflicted, the cached entry for
// the key is dropped (the winner's value is unknown here) and ErrConflict is
// returned. A store failure returns a *DataAccessError and leaves m and the
// cache untouched. Saving a nil, final or foreign copy returns ErrInvalidState.
func (r *Repository[K, V]) Save(ctx context.Context, m *Mutable[K, V]) (Snapshot[K, V], error) {
	if m == nil {
		return Snapshot[K, V]{}, fmt.Errorf("save nil copy: %w", ErrInvalidState)
	}
	if m.owner != any(r) {
		return Snapshot[K, V]{}, fmt.Errorf("save copy of %v from another repository: %w", m.key, ErrInvalidState)
	}
	if !m.state.CompareAndSwap(int32(stateFetched), int32(stateSaving)) {
		return Snapshot[K, V]{}, fmt.Errorf("save %s copy of %v: %w", mutableState(m.state.Load()), m.key, ErrInvalidState)
	}

	version, err := r.store.CompareAndWrite(ctx, m.key, m.base, m.value)
	if err != nil {
		if IsConflict(err) {
			m.state.Store(int32(stateConflicted))
			r.conflicts.Add(1)
			r.cache.Invalidate(m.key)
			return Snapshot[K, V]{}, fmt.Errorf("save %v at version %d: %w", m.key, m.base, ErrConflict)
		}
		m.state.Store(int32(stateFetched))
		return Snapshot[K, V]{}, dataAccess("save", m.key, err)
	}

	m.state.Store(int32(stateSaved))
	r.commits.Add(1)
	snap := newSnapshot(m.key, Record[V]{Value: m.value, Version: version})
	committed := cache.Present(snap)
	r.cache.Compute(m.key, func(current cache.Result[Snapshot[K, V]]) (cache.Result[Snapshot[K, V]], bool) {
		return committed, !newerThan(current, committed)
	})
	return snap, nil
}

// Invalidate forgets what the cache knows about key.
func (r *Repository[K, V]) Invalidate(key K) {
	r.cache.Invalidate(key)
}

// InvalidateAll forgets everything cached, e.g. after the store was changed
// behind the repository's back.
func (r *Repository[K, V]) InvalidateAll() {
	r.cache.InvalidateAll()
}

// Sweep drops expired cache entries.
func (r *Repository[K, V]) Sweep() int {
	return r.cache.Sweep()
}

func (r *Repository[K, V]) Stats() Stats {
	return Stats{
		Fetches:   r.fetches.Load(),
		Commits:   r.commits.Load(),
		Conflicts: r.conflicts.Load(),
		Cache:     r.cache.Stats(),
	}
}
