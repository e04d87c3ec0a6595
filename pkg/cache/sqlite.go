package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore persists translations in a SQLite database
type SQLiteStore struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// NewSQLiteStore opens (creating if needed) the cache database at dbPath
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite serialises writers; one connection avoids SQLITE_BUSY under concurrent Set
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{
		db:   db,
		path: dbPath,
		now:  time.Now,
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS translations (
		cache_key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		expires_at INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
	);

	CREATE INDEX IF NOT EXISTS idx_translations_expires ON translations(expires_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Get returns the value for key, or ErrNotFound when absent or expired
func (s *SQLiteStore) Get(ctx context.Context, key string) (string, error) {
	query := `
	SELECT value FROM translations
	WHERE cache_key = ? AND (expires_at = 0 OR expires_at > ?)`

	var value string
	err := s.db.QueryRowContext(ctx, query, key, s.now().UnixMilli()).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read cache entry: %w", err)
	}
	return value, nil
}

// Set inserts or replaces the entry for key
func (s *SQLiteStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	query := `
	INSERT INTO translations (cache_key, value, expires_at, created_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(cache_key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`

	now := s.now()
	var expiresAt int64
	if exp := expiry(now, ttl); !exp.IsZero() {
		expiresAt = exp.UnixMilli()
	}

	if _, err := s.db.ExecContext(ctx, query, key, value, expiresAt, now.Unix()); err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return nil
}

// Delete removes key if present
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM translations WHERE cache_key = ?", key)
	return err
}

// Prune removes expired rows
func (s *SQLiteStore) Prune(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM translations WHERE expires_at != 0 AND expires_at <= ?", s.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to prune expired translations: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Len counts stored rows, including expired ones not yet pruned
func (s *SQLiteStore) Len(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM translations").Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// Path returns the database file location
func (s *SQLiteStore) Path() string {
	return s.path
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DefaultDatabasePath returns the default location of the cache database
func DefaultDatabasePath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "patience-gate-cache.db")
	}
	return filepath.Join(homeDir, ".patience-gate", "cache.db")
}
