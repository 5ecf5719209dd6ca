// Package sqlite provides the embedded SQLite store behind the Warm tier and
// the single-node Durable tier of the cache hierarchy.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // SQLite driver
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store owns the SQLite database. Warm and Durable return the two tier views.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// Open opens (creating if needed) the database at path and applies pending
// migrations. ":memory:" opens a private in-memory database.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	s := &Store{db: db, path: path, now: time.Now}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("migrations fs: %w", err)
	}
	p, err := goose.NewProvider(goose.DialectSQLite3, s.db, fsys)
	if err != nil {
		return fmt.Errorf("migration provider: %w", err)
	}
	if _, err := p.Up(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database path.
func (s *Store) Path() string {
	return s.path
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Warm returns the TTL-bearing key/value view.
func (s *Store) Warm() *WarmCache {
	return &WarmCache{s: s}
}

// Durable returns the permanent record view.
func (s *Store) Durable() *DurableStore {
	return &DurableStore{s: s}
}

// WarmCache implements cache.Cache over kv_entries.
type WarmCache struct {
	s *Store
}

// Get returns the value for key unless it has expired. Expired rows are
// removed lazily.
func (w *WarmCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var (
		value   []byte
		expires sql.NullInt64
	)
	err := w.s.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM kv_entries WHERE key = ?`, key).Scan(&value, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("warm get %s: %w", key, err)
	}
	if expires.Valid && w.s.now().UnixNano() >= expires.Int64 {
		_, _ = w.s.db.ExecContext(ctx,
			`DELETE FROM kv_entries WHERE key = ? AND expires_at = ?`, key, expires.Int64)
		return nil, false, nil
	}
	return value, true, nil
}

// Set upserts key. A ttl of zero stores the value without expiry.
func (w *WarmCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	now := w.s.now()
	var expires any
	if ttl > 0 {
		expires = now.Add(ttl).UnixNano()
	}
	_, err := w.s.db.ExecContext(ctx,
		`INSERT INTO kv_entries (key, value, expires_at, written_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at, written_at = excluded.written_at`,
		key, value, expires, now.UnixNano())
	if err != nil {
		return fmt.Errorf("warm set %s: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (w *WarmCache) Delete(ctx context.Context, key string) error {
	if _, err := w.s.db.ExecContext(ctx, `DELETE FROM kv_entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("warm delete %s: %w", key, err)
	}
	return nil
}

// Sweep deletes every expired entry and returns how many were removed.
func (w *WarmCache) Sweep(ctx context.Context) (int64, error) {
	res, err := w.s.db.ExecContext(ctx,
		`DELETE FROM kv_entries WHERE expires_at IS NOT NULL AND expires_at <= ?`, w.s.now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("warm sweep: %w", err)
	}
	return res.RowsAffected()
}

// StartSweeper runs Sweep every interval until the returned cancel function
// is called.
func (w *WarmCache) StartSweeper(interval time.Duration, onErr func(error)) func() {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := w.Sweep(ctx); err != nil && onErr != nil {
					onErr(err)
				}
			}
		}
	}()
	return cancel
}

// DurableStore implements durable.Store over durable_entries.
type DurableStore struct {
	s *Store
}

// Read returns the committed value for key.
func (d *DurableStore) Read(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := d.s.db.QueryRowContext(ctx, `SELECT value FROM durable_entries WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("durable read %s: %w", key, err)
	}
	return value, true, nil
}

// Write commits value under key, replacing any previous value.
func (d *DurableStore) Write(ctx context.Context, key string, value []byte) error {
	_, err := d.s.db.ExecContext(ctx,
		`INSERT INTO durable_entries (key, value, written_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, written_at = excluded.written_at`,
		key, value, d.s.now().UnixNano())
	if err != nil {
		return fmt.Errorf("durable write %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Missing keys are not an error.
func (d *DurableStore) Delete(ctx context.Context, key string) error {
	if _, err := d.s.db.ExecContext(ctx, `DELETE FROM durable_entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("durable delete %s: %w", key, err)
	}
	return nil
}
