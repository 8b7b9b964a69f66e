package repository

import "sync/atomic"

// Version marks a record revision for optimistic locking. Stores issue strictly
// increasing versions per key; callers only ever compare them.
type Version int64

// NoVersion is the version of a record that does not exist yet.
const NoVersion Version = 0

// Record is what a Store returns for an existing key.
type Record[V any] struct {
	Value   V
	Version Version
}

// Snapshot is an immutable, point-in-time view of a record.
// A Snapshot of a missing record carries the configured defaults and reports
// Exists() == false.
type Snapshot[K comparable, V any] struct {
	key     K
	value   V
	version Version
	exists  bool
}

func newSnapshot[K comparable, V any](key K, rec Record[V]) Snapshot[K, V] {
	return Snapshot[K, V]{key: key, value: rec.Value, version: rec.Version, exists: true}
}

func defaultSnapshot[K comparable, V any](key K, defaults V) Snapshot[K, V] {
	return Snapshot[K, V]{key: key, value: defaults}
}

func (s Snapshot[K, V]) Key() K { return s.key }

// Value returns a copy of the snapshot payload.
func (s Snapshot[K, V]) Value() V { return s.value }

func (s Snapshot[K, V]) Version() Version { return s.version }

// Exists reports whether the record existed in the store when the snapshot was taken.
func (s Snapshot[K, V]) Exists() bool { return s.exists }

type mutableState int32

const (
	stateFetched mutableState = iota
	stateSaving
	stateSaved
	stateConflicted
)

func (s mutableState) String() string {
	switch s {
	case stateFetched:
		return "fetched"
	case stateSaving:
		return "saving"
	case stateSaved:
		return "saved"
	case stateConflicted:
		return "conflicted"
	default:
		return "invalid"
	}
}

// Mutable is a caller-owned working copy of a record, detached from the cache.
// It goes Fetched -> Saved or Fetched -> Conflicted; both end states are final
// and a final copy cannot be saved again. Obtain a fresh copy with FindMutable
// to retry after a conflict.
type Mutable[K comparable, V any] struct {
	key   K
	value V
	base  Version
	state atomic.Int32
	owner any
}

func (m *Mutable[K, V]) Key() K { return m.key }

// Value returns a pointer to the working copy for in-place edits.
func (m *Mutable[K, V]) Value() *V { return &m.value }

// BaseVersion is the version the copy was fetched at.
func (m *Mutable[K, V]) BaseVersion() Version { return m.base }

// IsNew reports whether no record existed when the copy was fetched.
func (m *Mutable[K, V]) IsNew() bool { return m.base == NoVersion }

// Saved reports whether the copy was committed.
func (m *Mutable[K, V]) Saved() bool { return mutableState(m.state.Load()) == stateSaved }

// Conflicted reports whether saving the copy lost an optimistic race.
func (m *Mutable[K, V]) Conflicted() bool { return mutableState(m.state.Load()) == stateConflicted }
