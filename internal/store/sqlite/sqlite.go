package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/bassista/go_lanatus/internal/logger"
	"github.com/bassista/go_lanatus/internal/repository"

	_ "modernc.org/sqlite"
)

// Open opens (creating if needed) the SQLite database at path and applies the schema.
// ":memory:" opens a private in-memory database on a single connection.
func Open(path string) (*sql.DB, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}

	dsn := path
	if path != ":memory:" {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		dsn = path + sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		// every pooled connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return db, nil
}

func migrate(db *sql.DB) error {
	schema := []string{`
	CREATE TABLE IF NOT EXISTS records (
		namespace TEXT NOT NULL,
		key TEXT NOT NULL,
		payload JSON NOT NULL,
		version INTEGER NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (namespace, key)
	);`, `
	CREATE TABLE IF NOT EXISTS record_tombstones (
		namespace TEXT NOT NULL,
		key TEXT NOT NULL,
		version INTEGER NOT NULL,
		PRIMARY KEY (namespace, key)
	);`, `
	CREATE TRIGGER IF NOT EXISTS records_tombstone AFTER DELETE ON records
	BEGIN
		INSERT INTO record_tombstones (namespace, key, version)
		VALUES (OLD.namespace, OLD.key, OLD.version)
		ON CONFLICT (namespace, key) DO UPDATE SET version = MAX(version, excluded.version);
	END;`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Store implements repository.Store on a shared records table, partitioned by namespace.
// Payloads are stored as JSON; the version column is the optimistic lock.
type Store[K repository.Key, V any] struct {
	db        *sql.DB
	namespace string
}

// New creates a store for one namespace of db. The caller owns db.
func New[K repository.Key, V any](db *sql.DB, namespace string) (*Store[K, V], error) {
	if db == nil {
		return nil, errors.New("database is nil")
	}
	if namespace == "" {
		return nil, errors.New("namespace is required")
	}
	return &Store[K, V]{db: db, namespace: namespace}, nil
}

func (s *Store[K, V]) Fetch(ctx context.Context, key K) (repository.Record[V], bool, error) {
	var (
		payload []byte
		version int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT payload, version
		FROM records
		WHERE namespace = ? AND key = ?
	`, s.namespace, key.String()).Scan(&payload, &version)
	if errors.Is(err, sql.ErrNoRows) {
		logger.WithKey("sqlite-store", key).Trace("fetch: no record")
		return repository.Record[V]{}, false, nil
	}
	if err != nil {
		return repository.Record[V]{}, false, fmt.Errorf("failed to query record: %w", err)
	}

	var value V
	if err := json.Unmarshal(payload, &value); err != nil {
		return repository.Record[V]{}, false, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	logger.WithKey("sqlite-store", key).Tracef("fetch: version %d", version)
	return repository.Record[V]{Value: value, Version: repository.Version(version)}, true, nil
}

// CompareAndWrite inserts (expected == NoVersion) or updates the record in one
// statement guarded by the expected version. No returned row means another
// writer got there first. A recreated record continues from the version its
// deleted predecessor reached, kept in record_tombstones, so versions never repeat.
func (s *Store[K, V]) CompareAndWrite(ctx context.Context, key K, expected repository.Version, value V) (repository.Version, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return repository.NoVersion, fmt.Errorf("failed to marshal record: %w", err)
	}

	var row *sql.Row
	if expected == repository.NoVersion {
		row = s.db.QueryRowContext(ctx, `
			INSERT INTO records (namespace, key, payload, version)
			VALUES (?, ?, ?, COALESCE(
				(SELECT version FROM record_tombstones WHERE namespace = ? AND key = ?), 0) + 1)
			ON CONFLICT (namespace, key) DO NOTHING
			RETURNING version
		`, s.namespace, key.String(), string(payload), s.namespace, key.String())
	} else {
		row = s.db.QueryRowContext(ctx, `
			UPDATE records
			SET payload = ?, version = version + 1, updated_at = CURRENT_TIMESTAMP
			WHERE namespace = ? AND key = ? AND version = ?
			RETURNING version
		`, string(payload), s.namespace, key.String(), int64(expected))
	}

	var next int64
	err = row.Scan(&next)
	if errors.Is(err, sql.ErrNoRows) {
		logger.WithKey("sqlite-store", key).Debugf("compare-and-write conflict at version %d", expected)
		return repository.NoVersion, fmt.Errorf("%s %s at version %d: %w", s.namespace, key, expected, repository.ErrConflict)
	}
	if err != nil {
		return repository.NoVersion, fmt.Errorf("failed to write record: %w", err)
	}

	logger.WithKey("sqlite-store", key).Debugf("committed version %d", next)
	return repository.Version(next), nil
}

// Count returns the number of records in the namespace.
func (s *Store[K, V]) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records WHERE namespace = ?`, s.namespace).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return n, nil
}
