// Package store is the secure key-value store holding the sync state: the
// provisioned device id, the provider schedule, the last successful sync and
// the cached provider image. Values are sealed with AES-256-GCM before they
// reach SQLite.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/holyx-app/holyx-sync/internal/ble/crypto"
)

// Keys used by the sync flows.
const (
	KeyDeviceID   = "device-id"
	KeySchedule   = "schedule"    // comma-joined HH:MM
	KeyLastUpdate = "last-update" // RFC 3339
	KeyImage      = "image"       // cached provider image, base64
)

const secretSize = 32

//go:embed migrations/*.sql
var migrations embed.FS

// Store is safe for concurrent use. Writes are last-writer-wins.
type Store struct {
	db  *sql.DB
	key []byte
}

// Open opens (creating if needed) the database at path and its key file at
// path + ".key".
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("store: create directory: %w", err)
	}

	secret, err := loadOrCreateSecret(path + ".key")
	if err != nil {
		return nil, err
	}
	key, err := crypto.DeriveStoreKey(secret)
	if err != nil {
		return nil, fmt.Errorf("store: derive key: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	slog.Debug("[STORE] opened", "path", path)
	return &Store{db: db, key: key}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("store: goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

func loadOrCreateSecret(path string) ([]byte, error) {
	secret, err := os.ReadFile(path)
	switch {
	case err == nil:
		if len(secret) != secretSize {
			return nil, fmt.Errorf("store: key file %s has %d bytes, want %d", path, len(secret), secretSize)
		}
		return secret, nil
	case !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("store: read key file: %w", err)
	}

	secret, err = crypto.RandomBytes(secretSize)
	if err != nil {
		return nil, fmt.Errorf("store: generate key: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("store: create key file: %w", err)
	}
	if _, err := f.Write(secret); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("store: write key file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("store: write key file: %w", err)
	}
	slog.Info("[STORE] created key file", "path", path)
	return secret, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the value for key. A missing key is reported with ok=false
// and a nil error.
func (s *Store) Get(ctx context.Context, key string) (value string, ok bool, err error) {
	var sealed []byte
	err = s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&sealed)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: get %s: %w", key, err)
	}

	plain, err := crypto.Open(s.key, sealed)
	if err != nil {
		return "", false, fmt.Errorf("store: get %s: %w", key, err)
	}
	return string(plain), true, nil
}

// Set stores value under key.
func (s *Store) Set(ctx context.Context, key, value string) error {
	return s.SetMany(ctx, map[string]string{key: value})
}

// SetMany stores all values in one transaction so readers never observe a
// partial update.
func (s *Store) SetMany(ctx context.Context, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, k := range keys {
		sealed, err := crypto.Seal(s.key, []byte(values[k]))
		if err != nil {
			return fmt.Errorf("store: set %s: %w", k, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO kv (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
		`, k, sealed)
		if err != nil {
			return fmt.Errorf("store: set %s: %w", k, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// Remove deletes keys. Missing keys are ignored.
func (s *Store) Remove(ctx context.Context, keys ...string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, k := range keys {
		if _, err := tx.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, k); err != nil {
			return fmt.Errorf("store: remove %s: %w", k, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}
