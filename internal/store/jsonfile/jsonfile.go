package jsonfile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bassista/go_lanatus/internal/logger"
	"github.com/bassista/go_lanatus/internal/repository"
	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
)

// Metadata holds document-wide revision info.
type Metadata struct {
	Revision   int64 `json:"revision" validate:"gte=0"`
	LastUpdate int64 `json:"lastUpdate"` // Unix timestamp in milliseconds
}

// Document is the persisted JSON structure.
type Document struct {
	Metadata Metadata                `json:"metadata"`
	Records  map[string]StoredRecord `json:"records" validate:"dive"`
}

// StoredRecord is one record; Version is the document revision that last wrote it.
type StoredRecord struct {
	Version int64           `json:"version" validate:"gt=0"`
	Value   json.RawMessage `json:"value" validate:"required"`
}

// Store implements repository.Store on a single JSON file. Every write bumps the
// document revision, so record versions never repeat even if a record is removed
// by hand and recreated. Writes replace the file atomically (temp file + rename).
// Compare-and-write is atomic within one process only.
type Store[K repository.Key, V any] struct {
	path      string
	dir       string
	base      string
	validator *validator.Validate

	mu sync.Mutex
	// file contents this store last wrote or observed
	seen []byte
}

// New creates a store for the given JSON file path. The file is created on the first write.
func New[K repository.Key, V any](path string) (*Store[K, V], error) {
	if path == "" {
		return nil, errors.New("data file path is required")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	if dir == "" || dir == "." {
		dir = "."
	}

	return &Store[K, V]{path: path, dir: dir, base: base, validator: validator.New()}, nil
}

// Path returns the data file path.
func (s *Store[K, V]) Path() string {
	return s.path
}

// Load reads and validates the whole document. A missing file is an empty document.
func (s *Store[K, V]) Load() (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadUnlocked()
}

// loadUnlocked reads the JSON file without acquiring the lock (caller must hold it).
func (s *Store[K, V]) loadUnlocked() (*Document, error) {
	file, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return &Document{Records: map[string]StoredRecord{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open data file: %w", err)
	}
	defer file.Close()

	var doc Document
	if err := json.NewDecoder(file).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode data file: %w", err)
	}
	if doc.Records == nil {
		doc.Records = map[string]StoredRecord{}
	}

	if err := s.validator.Struct(&doc); err != nil {
		return nil, fmt.Errorf("validate data file: %w", err)
	}
	return &doc, nil
}

func (s *Store[K, V]) Fetch(ctx context.Context, key K) (repository.Record[V], bool, error) {
	if err := ctx.Err(); err != nil {
		return repository.Record[V]{}, false, err
	}

	s.mu.Lock()
	doc, err := s.loadUnlocked()
	s.mu.Unlock()
	if err != nil {
		return repository.Record[V]{}, false, err
	}

	stored, ok := doc.Records[key.String()]
	if !ok {
		logger.WithKey("json-store", key).Trace("fetch: no record")
		return repository.Record[V]{}, false, nil
	}

	var value V
	if err := json.Unmarshal(stored.Value, &value); err != nil {
		return repository.Record[V]{}, false, fmt.Errorf("decode record %s: %w", key, err)
	}
	return repository.Record[V]{Value: value, Version: repository.Version(stored.Version)}, true, nil
}

// CompareAndWrite checks the expected version and rewrites the document under the
// store lock, so no other writer of this store can slip in between.
func (s *Store[K, V]) CompareAndWrite(ctx context.Context, key K, expected repository.Version, value V) (repository.Version, error) {
	if err := ctx.Err(); err != nil {
		return repository.NoVersion, err
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return repository.NoVersion, fmt.Errorf("marshal record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.loadUnlocked()
	if err != nil {
		return repository.NoVersion, err
	}

	current := repository.NoVersion
	if stored, ok := doc.Records[key.String()]; ok {
		current = repository.Version(stored.Version)
	}
	if current != expected {
		logger.WithKey("json-store", key).Debugf("compare-and-write conflict: expected %d, stored %d", expected, current)
		return repository.NoVersion, fmt.Errorf("%s: expected version %d, stored %d: %w", key, expected, current, repository.ErrConflict)
	}

	doc.Metadata.Revision++
	doc.Metadata.LastUpdate = time.Now().UnixMilli()
	doc.Records[key.String()] = StoredRecord{Version: doc.Metadata.Revision, Value: payload}

	if err := s.saveUnlocked(doc); err != nil {
		return repository.NoVersion, err
	}
	logger.WithKey("json-store", key).Debugf("committed version %d", doc.Metadata.Revision)
	return repository.Version(doc.Metadata.Revision), nil
}

// saveUnlocked writes the document without acquiring the lock (caller must hold it).
func (s *Store[K, V]) saveUnlocked(doc *Document) error {
	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal data: %w", err)
	}

	tmpFile, err := os.CreateTemp(s.dir, s.base+".tmp-")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		tmpFile.Close()
		os.Remove(tmpFile.Name())
	}()

	if _, err := tmpFile.Write(payload); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpFile.Name(), s.path); err != nil {
		return fmt.Errorf("replace data file: %w", err)
	}
	s.seen = payload
	return nil
}

// StartWatcher calls onExternalChange whenever the data file is modified by
// someone other than this store. It watches the parent directory (not the file)
// so atomic replace sequences (temp+rename) are still observed, filters events by
// basename and debounces bursts into a single reload. Cancel ctx to stop it.
func (s *Store[K, V]) StartWatcher(ctx context.Context, onExternalChange func()) error {
	if onExternalChange == nil {
		return errors.New("onExternalChange callback is required")
	}
	onChange := s.MakeWatcherCallback(onExternalChange)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(s.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch dir: %w", err)
	}

	go func() {
		defer watcher.Close()

		var debounce *time.Timer
		schedule := func() {
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(200*time.Millisecond, onChange)
		}
		defer func() {
			if debounce != nil {
				debounce.Stop()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != s.base {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Chmod|fsnotify.Remove|fsnotify.Rename) != 0 {
					schedule()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.WithComponent("json-store").Warnf("watcher error: %v", err)
			}
		}
	}()

	return nil
}

// MakeWatcherCallback returns the reload check run after file events: it calls
// onExternalChange only if the file contents differ from what this store last
// wrote or observed, so the store's own writes do not trigger a resync.
func (s *Store[K, V]) MakeWatcherCallback(onExternalChange func()) func() {
	return func() {
		s.mu.Lock()
		data, err := os.ReadFile(s.path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			s.mu.Unlock()
			logger.WithComponent("json-store").Errorf("watch reload failed: %v", err)
			return
		}
		if bytes.Equal(data, s.seen) {
			s.mu.Unlock()
			logger.WithComponent("json-store").Trace("data file unchanged since last write, skipping")
			return
		}
		s.seen = data
		s.mu.Unlock()

		logger.WithComponent("json-store").Info("data file changed externally, resynchronising")
		onExternalChange()
	}
}
