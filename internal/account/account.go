package account

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bassista/go_lanatus/internal/cache"
	"github.com/bassista/go_lanatus/internal/repository"
	"github.com/containerd/errdefs"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Namespace is the cache namespace used for per-namespace TTL overrides.
const Namespace = "accounts"

var (
	// ErrInvalidAccount means an account failed validation and was not saved.
	ErrInvalidAccount = fmt.Errorf("invalid account: %w", errdefs.ErrInvalidArgument)

	// ErrInsufficientMelons means a change would leave an account with a negative balance.
	ErrInsufficientMelons = fmt.Errorf("insufficient melons: %w", errdefs.ErrInvalidArgument)
)

// Account is the persisted state of a player's account.
type Account struct {
	Melons   int64  `json:"melons" validate:"gte=0"`
	LastRank string `json:"lastRank" validate:"max=64"`
}

type (
	Snapshot = repository.Snapshot[uuid.UUID, Account]
	Mutable  = repository.Mutable[uuid.UUID, Account]
	Store    = repository.Store[uuid.UUID, Account]
	Cache    = cache.NegativeCache[uuid.UUID, Snapshot]
)

// NewCache creates the snapshot cache for accounts.
func NewCache(ttl time.Duration, opts ...cache.Option) *Cache {
	return cache.New[uuid.UUID, Snapshot](ttl, opts...)
}

// Repository provides account snapshots for reading and mutable accounts for
// writing. Mutable accounts are fetched fresh for every call and must be
// re-fetched after a conflict; snapshots may be served from the cache and can
// be brought up to date with Refresh.
type Repository struct {
	repo     *repository.Repository[uuid.UUID, Account]
	validate *validator.Validate
}

// NewRepository creates an account repository over store. Accounts that do not
// exist read as defaults.
func NewRepository(store Store, c *Cache, defaults Account) (*Repository, error) {
	v := validator.New()
	if err := v.Struct(defaults); err != nil {
		return nil, fmt.Errorf("validate account defaults: %w", err)
	}
	repo, err := repository.New[uuid.UUID, Account](store, c, func() Account { return defaults })
	if err != nil {
		return nil, err
	}
	return &Repository{repo: repo, validate: v}, nil
}

// Find returns a snapshot of the player's account, or false if there is none.
func (r *Repository) Find(ctx context.Context, playerID uuid.UUID) (Snapshot, bool, error) {
	return r.repo.Find(ctx, playerID)
}

// FindOrDefault returns a snapshot of the player's account, or of the defaults
// if the player has no account yet.
func (r *Repository) FindOrDefault(ctx context.Context, playerID uuid.UUID) (Snapshot, error) {
	return r.repo.FindOrDefault(ctx, playerID)
}

// Refresh returns a new snapshot with the latest stored state of the account.
func (r *Repository) Refresh(ctx context.Context, snap Snapshot) (Snapshot, error) {
	return r.repo.Refresh(ctx, snap)
}

// RefreshByID is Refresh for callers that hold only the player ID. It fetches
// the account once, cached or not.
func (r *Repository) RefreshByID(ctx context.Context, playerID uuid.UUID) (Snapshot, error) {
	return r.repo.RefreshKey(ctx, playerID)
}

// FindMutable returns the current state of the account for modification. A
// missing account is initialised to the defaults and only created when saved.
func (r *Repository) FindMutable(ctx context.Context, playerID uuid.UUID) (*Mutable, error) {
	return r.repo.FindMutable(ctx, playerID)
}

// Save validates m and merges it into the store. It returns
// repository.ErrConflict when the account was modified concurrently.
func (r *Repository) Save(ctx context.Context, m *Mutable) (Snapshot, error) {
	if m == nil {
		return r.repo.Save(ctx, nil)
	}
	if err := r.validate.Struct(m.Value()); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrInvalidAccount, err)
	}
	return r.repo.Save(ctx, m)
}

// Update applies fn to a fresh mutable copy and saves it once. A conflict is
// returned to the caller as is; Update never retries.
func (r *Repository) Update(ctx context.Context, playerID uuid.UUID, fn func(m *Mutable) error) (Snapshot, error) {
	m, err := r.FindMutable(ctx, playerID)
	if err != nil {
		return Snapshot{}, err
	}
	if err := fn(m); err != nil {
		return Snapshot{}, err
	}
	return r.Save(ctx, m)
}

func (r *Repository) Invalidate(playerID uuid.UUID) { r.repo.Invalidate(playerID) }

func (r *Repository) InvalidateAll() { r.repo.InvalidateAll() }

func (r *Repository) Sweep() int { return r.repo.Sweep() }

func (r *Repository) Stats() repository.Stats { return r.repo.Stats() }

// ModifyMelons adds delta (which may be negative) to the account's balance.
func ModifyMelons(m *Mutable, delta int64) error {
	acc := m.Value()
	if acc.Melons+delta < 0 {
		return fmt.Errorf("%w: balance %d, change %d", ErrInsufficientMelons, acc.Melons, delta)
	}
	acc.Melons += delta
	return nil
}

// SetLastRank records the rank the player was last seen with.
func SetLastRank(m *Mutable, rank string) {
	m.Value().LastRank = rank
}

// IsValidationError reports whether err rejects the requested change itself,
// as opposed to a conflict or a store failure.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidAccount) || errors.Is(err, ErrInsufficientMelons)
}
