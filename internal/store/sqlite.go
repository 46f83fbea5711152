package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/sweeney/espresso-controller/internal/control"
)

const (
	dirPermissions    = 0750
	filePermissions   = 0600
	connectionTimeout = 5 * time.Second
)

const schema = `CREATE TABLE IF NOT EXISTS settings (
	key        TEXT PRIMARY KEY,
	value      REAL NOT NULL,
	updated_at TEXT NOT NULL
)`

const upsert = `INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`

// SQLite stores settings in a key/value table.
type SQLite struct {
	fields
	db       *sql.DB
	path     string
	defaults control.Configuration
	now      func() time.Time
}

// OpenSQLite opens (creating if needed) the database at cfg.Path.
func OpenSQLite(cfg Config, defaults control.Configuration) (*SQLite, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite store: path not configured")
	}
	if cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), dirPermissions); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	// See: https://github.com/mattn/go-sqlite3#connection-string
	connStr := fmt.Sprintf("file:%s?_busy_timeout=%d", cfg.Path, cfg.BusyTimeout*1000)
	if cfg.WALMode {
		connStr += "&_journal_mode=WAL&_synchronous=NORMAL"
	}

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One writer; also keeps a :memory: database alive on a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("verifying database connection: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating settings table: %w", err)
	}
	if cfg.Path != ":memory:" {
		_ = os.Chmod(cfg.Path, filePermissions)
	}

	s := &SQLite{db: db, path: cfg.Path, defaults: defaults, now: time.Now}
	s.fields = fields{s}
	return s, nil
}

// Value returns one setting, or ErrNotFound.
func (s *SQLite) Value(ctx context.Context, key string) (float64, error) {
	var v float64
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", key, err)
	}
	return v, nil
}

// LoadConfiguration reads every setting, using defaults for missing keys.
func (s *SQLite) LoadConfiguration(ctx context.Context) (control.Configuration, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return control.Configuration{}, fmt.Errorf("loading settings: %w", err)
	}
	defer rows.Close()

	v := make(map[string]float64, len(Keys))
	for rows.Next() {
		var key string
		var value float64
		if err := rows.Scan(&key, &value); err != nil {
			return control.Configuration{}, fmt.Errorf("scanning setting: %w", err)
		}
		v[key] = value
	}
	if err := rows.Err(); err != nil {
		return control.Configuration{}, fmt.Errorf("loading settings: %w", err)
	}
	return configuration(v, s.defaults), nil
}

func (s *SQLite) set(ctx context.Context, key string, v float64) error {
	ts := s.now().UTC().Format(time.RFC3339Nano)
	if _, err := s.db.ExecContext(ctx, upsert, key, v, ts); err != nil {
		return fmt.Errorf("storing %s: %w", key, err)
	}
	return nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}
