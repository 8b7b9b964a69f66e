package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/bassista/go_lanatus/internal/account"
	"github.com/bassista/go_lanatus/internal/cache"
	"github.com/bassista/go_lanatus/internal/config"
	"github.com/bassista/go_lanatus/internal/logger"
)

// App is the application container (immutable dependencies + lifecycle context).
// It is not a request context; handlers should still use gin's request context.
type App struct {
	Config   *config.Config
	Accounts *account.Repository
	Backend  Backend

	BaseCtx context.Context
	Cancel  context.CancelFunc

	sweeperDone <-chan struct{}
}

func New(cfg *config.Config, accounts *account.Repository, backend Backend) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if accounts == nil {
		return nil, errors.New("account repository is nil")
	}
	if backend.Store == nil {
		return nil, errors.New("store is nil")
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &App{
		Config:   cfg,
		Accounts: accounts,
		Backend:  backend,
		BaseCtx:  ctx,
		Cancel:   cancel,
	}, nil
}

// NewFromConfig opens the configured store and builds the account repository
// on top of it, with the cache TTL configured for the accounts namespace.
func NewFromConfig(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}

	backend, err := NewBackendFromConfig(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("cannot init store: %w", err)
	}

	ttl := cfg.Cache.TTLFor(account.Namespace)
	defaults := account.Account{Melons: cfg.Defaults.Melons, LastRank: cfg.Defaults.LastRank}
	accounts, err := account.NewRepository(backend.Store, account.NewCache(ttl), defaults)
	if err != nil {
		closeBackend(backend)
		return nil, fmt.Errorf("cannot init account repository: %w", err)
	}
	logger.WithComponent("app").Infof("using %s store, account cache ttl %v", cfg.Store.Type, ttl)

	a, err := New(cfg, accounts, backend)
	if err != nil {
		closeBackend(backend)
		return nil, err
	}
	return a, nil
}

// StartWatchers starts the cache sweeper and, for stores that can change
// outside the process, drops the whole cache whenever they do.
func (a *App) StartWatchers() error {
	a.sweeperDone = cache.StartSweeper(a.BaseCtx, a.Accounts, a.Config.Cache.SweepInterval)

	if a.Backend.Watcher != nil {
		if err := a.Backend.Watcher.StartWatcher(a.BaseCtx, a.Accounts.InvalidateAll); err != nil {
			return fmt.Errorf("cannot start store watcher: %w", err)
		}
		logger.WithComponent("app").Info("watching store for external changes")
	}
	return nil
}

// Shutdown stops background work and closes the store.
func (a *App) Shutdown() {
	if a == nil || a.Cancel == nil {
		return
	}
	a.Cancel()
	if a.sweeperDone != nil {
		<-a.sweeperDone
	}
	closeBackend(a.Backend)
	a.Backend.Closer = nil
}

func closeBackend(b Backend) {
	if b.Closer == nil {
		return
	}
	if err := b.Closer.Close(); err != nil {
		logger.WithComponent("app").Warnf("closing store: %v", err)
	}
}
