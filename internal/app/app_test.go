package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bassista/go_lanatus/internal/account"
	"github.com/bassista/go_lanatus/internal/config"
	"github.com/bassista/go_lanatus/internal/repository"
	"github.com/bassista/go_lanatus/internal/store/jsonfile"
	"github.com/bassista/go_lanatus/internal/store/memory"
	"github.com/bassista/go_lanatus/internal/store/sqlite"
	"github.com/google/uuid"
)

// mockWatcher implements StoreWatcher for testing
type mockWatcher struct {
	started  bool
	err      error
	onChange func()
}

func (m *mockWatcher) StartWatcher(ctx context.Context, onExternalChange func()) error {
	if m.err != nil {
		return m.err
	}
	m.started = true
	m.onChange = onExternalChange
	return nil
}

// mockCloser records Close calls
type mockCloser struct{ closed int }

func (m *mockCloser) Close() error {
	m.closed++
	return nil
}

func testConfig(storeType string, dir string) *config.Config {
	return &config.Config{
		Store: config.StoreConfig{
			Type:       storeType,
			SQLitePath: filepath.Join(dir, "db", "lanatus.db"),
			JSONPath:   filepath.Join(dir, "json", "accounts.json"),
		},
		Cache: config.CacheConfig{
			TTL:           time.Minute,
			SweepInterval: 10 * time.Millisecond,
		},
		Defaults: config.DefaultsConfig{Melons: 3, LastRank: "guest"},
	}
}

func newTestAccounts(t *testing.T) (*account.Repository, *memory.Store[uuid.UUID, account.Account]) {
	t.Helper()
	store := memory.New[uuid.UUID, account.Account]()
	repo, err := account.NewRepository(store, account.NewCache(time.Minute), account.Account{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return repo, store
}

func TestNew_Validation(t *testing.T) {
	repo, store := newTestAccounts(t)
	cfg := testConfig(config.StoreTypeMemory, t.TempDir())

	tests := []struct {
		name     string
		cfg      *config.Config
		accounts *account.Repository
		backend  Backend
	}{
		{"nil config", nil, repo, Backend{Store: store}},
		{"nil accounts", cfg, nil, Backend{Store: store}},
		{"nil store", cfg, repo, Backend{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg, tt.accounts, tt.backend); err == nil {
				t.Errorf("expected error for %s", tt.name)
			}
		})
	}

	a, err := New(cfg, repo, Backend{Store: store})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.BaseCtx == nil || a.Cancel == nil {
		t.Error("expected lifecycle context to be set")
	}
	a.Shutdown()
	if a.BaseCtx.Err() == nil {
		t.Error("expected base context to be cancelled after shutdown")
	}
}

func TestShutdown_NilApp(t *testing.T) {
	var a *App
	a.Shutdown()
}

func TestStartWatchers_WiresWatcherToInvalidateAll(t *testing.T) {
	repo, store := newTestAccounts(t)
	ctx := context.Background()
	id := uuid.New()
	store.Put(id, account.Account{Melons: 1})

	watcher := &mockWatcher{}
	closer := &mockCloser{}
	a, err := New(testConfig(config.StoreTypeJSON, t.TempDir()), repo, Backend{Store: store, Watcher: watcher, Closer: closer})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := a.StartWatchers(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !watcher.started {
		t.Fatal("expected watcher to be started")
	}

	if _, _, err := repo.Find(ctx, id); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	store.Put(id, account.Account{Melons: 2})
	watcher.onChange()

	snap, _, err := repo.Find(ctx, id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Value().Melons != 2 {
		t.Errorf("expected cache to be dropped on external change, got %d melons", snap.Value().Melons)
	}

	a.Shutdown()
	a.Shutdown()
	if closer.closed != 1 {
		t.Errorf("expected store to be closed once, got %d", closer.closed)
	}
}

func TestStartWatchers_WatcherError(t *testing.T) {
	repo, store := newTestAccounts(t)
	a, err := New(testConfig(config.StoreTypeJSON, t.TempDir()), repo,
		Backend{Store: store, Watcher: &mockWatcher{err: errors.New("inotify limit")}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer a.Shutdown()

	if err := a.StartWatchers(); err == nil {
		t.Error("expected watcher error to be returned")
	}
}

func TestStartWatchers_SweepsExpiredEntries(t *testing.T) {
	store := memory.New[uuid.UUID, account.Account]()
	repo, err := account.NewRepository(store, account.NewCache(time.Millisecond), account.Account{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	a, err := New(testConfig(config.StoreTypeMemory, t.TempDir()), repo, Backend{Store: store})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := a.StartWatchers(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer a.Shutdown()

	if _, _, err := repo.Find(context.Background(), uuid.New()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for repo.Stats().Cache.Entries > 0 {
		if time.Now().After(deadline) {
			t.Fatal("sweeper did not remove the expired entry")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNewBackendFromConfig(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		storeType   string
		wantWatcher bool
		wantCloser  bool
		check       func(t *testing.T, b Backend)
	}{
		{config.StoreTypeMemory, false, false, func(t *testing.T, b Backend) {
			if _, ok := b.Store.(*memory.Store[uuid.UUID, account.Account]); !ok {
				t.Errorf("expected memory store, got %T", b.Store)
			}
		}},
		{config.StoreTypeSQLite, false, true, func(t *testing.T, b Backend) {
			if _, ok := b.Store.(*sqlite.Store[uuid.UUID, account.Account]); !ok {
				t.Errorf("expected sqlite store, got %T", b.Store)
			}
			if _, err := os.Stat(filepath.Join(dir, "db")); err != nil {
				t.Errorf("expected data dir to be created: %v", err)
			}
		}},
		{config.StoreTypeJSON, true, false, func(t *testing.T, b Backend) {
			if _, ok := b.Store.(*jsonfile.Store[uuid.UUID, account.Account]); !ok {
				t.Errorf("expected json store, got %T", b.Store)
			}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.storeType, func(t *testing.T) {
			b, err := NewBackendFromConfig(testConfig(tt.storeType, dir).Store)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			defer closeBackend(b)

			if (b.Watcher != nil) != tt.wantWatcher {
				t.Errorf("watcher = %v, want %v", b.Watcher != nil, tt.wantWatcher)
			}
			if (b.Closer != nil) != tt.wantCloser {
				t.Errorf("closer = %v, want %v", b.Closer != nil, tt.wantCloser)
			}
			tt.check(t, b)
		})
	}
}

func TestNewBackendFromConfig_Unknown(t *testing.T) {
	if _, err := NewBackendFromConfig(config.StoreConfig{Type: "redis"}); err == nil {
		t.Error("expected error for unknown store type")
	}
}

func TestNewBackendFromConfig_MalformedJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.json")
	if err := os.WriteFile(path, []byte("{nope"), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	if _, err := NewBackendFromConfig(config.StoreConfig{Type: config.StoreTypeJSON, JSONPath: path}); err == nil {
		t.Error("expected error for malformed data file")
	}
}

func TestNewFromConfig_EndToEnd(t *testing.T) {
	cfg := testConfig(config.StoreTypeSQLite, t.TempDir())
	a, err := NewFromConfig(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer a.Shutdown()
	ctx := context.Background()
	id := uuid.New()

	snap, err := a.Accounts.FindOrDefault(ctx, id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Exists() || snap.Value().Melons != 3 || snap.Value().LastRank != "guest" {
		t.Errorf("expected configured defaults, got %+v", snap.Value())
	}

	saved, err := a.Accounts.Update(ctx, id, func(m *account.Mutable) error {
		return account.ModifyMelons(m, 2)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if saved.Value().Melons != 5 || saved.Version() == repository.NoVersion {
		t.Errorf("unexpected saved snapshot: %+v (version %d)", saved.Value(), saved.Version())
	}
}

func TestNewFromConfig_InvalidDefaults(t *testing.T) {
	cfg := testConfig(config.StoreTypeMemory, t.TempDir())
	cfg.Defaults.Melons = -1
	if _, err := NewFromConfig(cfg); err == nil {
		t.Error("expected error for invalid defaults")
	}
}
