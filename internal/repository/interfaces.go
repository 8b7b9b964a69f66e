package repository

import (
	"context"
	"fmt"
)

// Store is the remote source of truth behind a Repository.
// The sqlite, jsonfile and memory stores implement this interface.
type Store[K comparable, V any] interface {
	// Fetch returns the current record for key. found is false when no record exists.
	Fetch(ctx context.Context, key K) (rec Record[V], found bool, err error)

	// CompareAndWrite stores value iff the stored version still equals expected
	// (NoVersion: iff no record exists yet) and returns the new version.
	// A lost race returns an error matching ErrConflict. It must be a single atomic
	// step and never apply a partial write.
	CompareAndWrite(ctx context.Context, key K, expected Version, value V) (Version, error)
}

// Key is the constraint for stores that persist keys as text.
type Key interface {
	comparable
	fmt.Stringer
}
