package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/bassista/go_lanatus/internal/account"
	"github.com/bassista/go_lanatus/internal/config"
	"github.com/bassista/go_lanatus/internal/store/jsonfile"
	"github.com/bassista/go_lanatus/internal/store/memory"
	"github.com/bassista/go_lanatus/internal/store/sqlite"
	"github.com/google/uuid"
)

// StoreWatcher is implemented by stores that can be edited outside the process
// and report it.
type StoreWatcher interface {
	StartWatcher(ctx context.Context, onExternalChange func()) error
}

// Backend is the account store selected by configuration plus its optional
// capabilities. Watcher and Closer are nil when the store has none.
type Backend struct {
	Store   account.Store
	Watcher StoreWatcher
	Closer  io.Closer
}

// NewBackendFromConfig opens the account store named by cfg.Type.
func NewBackendFromConfig(cfg config.StoreConfig) (Backend, error) {
	switch cfg.Type {
	case config.StoreTypeSQLite, "":
		if err := ensureDir(cfg.SQLitePath); err != nil {
			return Backend{}, err
		}
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return Backend{}, err
		}
		store, err := sqlite.New[uuid.UUID, account.Account](db, account.Namespace)
		if err != nil {
			db.Close()
			return Backend{}, err
		}
		return Backend{Store: store, Closer: db}, nil
	case config.StoreTypeJSON:
		if err := ensureDir(cfg.JSONPath); err != nil {
			return Backend{}, err
		}
		store, err := jsonfile.New[uuid.UUID, account.Account](cfg.JSONPath)
		if err != nil {
			return Backend{}, err
		}
		if _, err := store.Load(); err != nil {
			return Backend{}, fmt.Errorf("cannot load data file: %w", err)
		}
		return Backend{Store: store, Watcher: store}, nil
	case config.StoreTypeMemory:
		return Backend{Store: memory.New[uuid.UUID, account.Account]()}, nil
	default:
		return Backend{}, fmt.Errorf("unknown store type: %s (supported: %s, %s, %s)",
			cfg.Type, config.StoreTypeSQLite, config.StoreTypeJSON, config.StoreTypeMemory)
	}
}

func ensureDir(path string) error {
	if path == ":memory:" {
		return nil
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir %s: %w", dir, err)
	}
	return nil
}
