// Package localstore provides the client's key/value storage: a durable
// sqlite file that survives restarts and a session-scoped in-memory database
// that disappears with the process.
//
// Values are stored as JSON so any serializable state (auth session, entity
// caches, preferences) can be kept under a well-known key.
package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Durable keys
const (
	KeyAuthSession   = "auth-session"
	KeyAuthStorage   = "auth-storage"
	KeyUserData      = "user_data"
	KeyLastLogin     = "last_login"
	KeyListStorage   = "list-storage"
	KeyWishStorage   = "wish-storage"
	KeyNotifications = "notification-storage"
)

// Session-scoped keys
const (
	KeyGuestSession = "guest_session"
	KeyFromLanding  = "from_landing"
)

// Store is a JSON key/value store
type Store interface {
	// Get decodes the value under key into dst. It reports false when the key
	// is absent.
	Get(ctx context.Context, key string, dst any) (bool, error)
	Put(ctx context.Context, key string, value any) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	Close() error
}

// SQLite is a Store backed by a sqlite database
type SQLite struct {
	conn *sql.DB
	path string
}

// Open opens (creating if needed) the durable store at path.
//
// The caller must call Close when done so the WAL is checkpointed.
func Open(path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open local storage: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping local storage: %w", err)
	}

	s := &SQLite{conn: conn, path: path}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to configure local storage (%s): %w", pragma, err)
		}
	}
	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// OpenSession opens a session-scoped store. Its contents live only as long
// as the returned store.
func OpenSession() (*SQLite, error) {
	conn, err := sql.Open("sqlite3", "file::memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open session storage: %w", err)
	}
	// every pooled connection to :memory: would be a distinct database
	conn.SetMaxOpenConns(1)
	conn.SetConnMaxLifetime(0)

	s := &SQLite{conn: conn}
	if err := s.initSchema(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`
	if _, err := s.conn.Exec(schema); err != nil {
		return fmt.Errorf("failed to create storage schema: %w", err)
	}
	return nil
}

// Get implements Store.Get.
func (s *SQLite) Get(ctx context.Context, key string, dst any) (bool, error) {
	var raw string
	err := s.conn.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read %q: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return false, fmt.Errorf("failed to decode %q: %w", key, err)
	}
	return true, nil
}

// Put implements Store.Put.
func (s *SQLite) Put(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %q: %w", key, err)
	}
	_, err = s.conn.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(data), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to write %q: %w", key, err)
	}
	return nil
}

// Delete implements Store.Delete. Deleting a missing key is not an error.
func (s *SQLite) Delete(ctx context.Context, key string) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete %q: %w", key, err)
	}
	return nil
}

// Clear implements Store.Clear.
func (s *SQLite) Clear(ctx context.Context) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM kv`); err != nil {
		return fmt.Errorf("failed to clear storage: %w", err)
	}
	return nil
}

// Close implements Store.Close.
func (s *SQLite) Close() error {
	if s.conn == nil {
		return nil
	}
	if s.path != "" {
		if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
		}
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close local storage: %w", err)
	}
	s.conn = nil
	return nil
}
