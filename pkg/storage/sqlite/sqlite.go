// Package sqlite is a durable storage.Adapter backed by a single SQLite file.
// Several areas can share one database; each Adapter is bound to one area.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/goliatone/go-stash/pkg/storage"
)

const defaultArea = "local"

// Adapter implements storage.Adapter over a stash_items table.
type Adapter struct {
	db        *sql.DB
	area      string
	ownsDB    bool
	closeOnce sync.Once

	getStmt    *sql.Stmt
	setStmt    *sql.Stmt
	removeStmt *sql.Stmt
	keysStmt   *sql.Stmt
}

// Config configures Open.
type Config struct {
	// Path is the database file. ":memory:" keeps everything in process.
	Path string
	// Area namespaces keys so several areas can share one file.
	// Default: "local"
	Area string
	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

var _ storage.Adapter = (*Adapter)(nil)

// Open opens (or creates) the database at cfg.Path.
func Open(cfg Config) (*Adapter, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite: db path cannot be empty")
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open database: %w", err)
	}

	// SQLite only supports a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		fmt.Sprintf("PRAGMA busy_timeout=%d", cfg.BusyTimeout.Milliseconds()),
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}

	adapter, err := New(db, cfg.Area)
	if err != nil {
		db.Close()
		return nil, err
	}
	adapter.ownsDB = true
	return adapter, nil
}

// New binds an adapter for area to an existing database handle. The caller
// keeps ownership of db.
func New(db *sql.DB, area string) (*Adapter, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlite: db is nil")
	}
	if area == "" {
		area = defaultArea
	}
	a := &Adapter{db: db, area: area}
	if err := a.initSchema(); err != nil {
		return nil, fmt.Errorf("sqlite: initialize schema: %w", err)
	}
	if err := a.prepareStatements(); err != nil {
		return nil, fmt.Errorf("sqlite: prepare statements: %w", err)
	}
	return a, nil
}

// Area returns the area this adapter reads and writes.
func (a *Adapter) Area() string {
	return a.area
}

func (a *Adapter) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS stash_items (
		area TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (area, key)
	);
	`
	_, err := a.db.Exec(schema)
	return err
}

func (a *Adapter) prepareStatements() error {
	var err error

	a.getStmt, err = a.db.Prepare(`SELECT value FROM stash_items WHERE area = ? AND key = ?`)
	if err != nil {
		return fmt.Errorf("get statement: %w", err)
	}

	a.setStmt, err = a.db.Prepare(`
		INSERT INTO stash_items (area, key, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (area, key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("set statement: %w", err)
	}

	a.removeStmt, err = a.db.Prepare(`DELETE FROM stash_items WHERE area = ? AND key = ?`)
	if err != nil {
		return fmt.Errorf("remove statement: %w", err)
	}

	a.keysStmt, err = a.db.Prepare(`SELECT key FROM stash_items WHERE area = ? ORDER BY key`)
	if err != nil {
		return fmt.Errorf("keys statement: %w", err)
	}
	return nil
}

func (a *Adapter) GetItem(ctx context.Context, key string) (any, error) {
	key, err := storage.ValidateKey(key)
	if err != nil {
		return nil, err
	}

	var encoded string
	err = a.getStmt.QueryRowContext(ctx, a.area, key).Scan(&encoded)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get %q: %w", key, err)
	}

	var value any
	if err := json.Unmarshal([]byte(encoded), &value); err != nil {
		return nil, fmt.Errorf("sqlite: decode %q: %w", key, err)
	}
	return value, nil
}

func (a *Adapter) SetItem(ctx context.Context, key string, value any) error {
	key, err := storage.ValidateKey(key)
	if err != nil {
		return err
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("sqlite: encode %q: %w", key, err)
	}
	if _, err := a.setStmt.ExecContext(ctx, a.area, key, string(encoded), time.Now().UnixNano()); err != nil {
		return fmt.Errorf("sqlite: set %q: %w", key, err)
	}
	return nil
}

func (a *Adapter) RemoveItem(ctx context.Context, key string) error {
	key, err := storage.ValidateKey(key)
	if err != nil {
		return err
	}
	if _, err := a.removeStmt.ExecContext(ctx, a.area, key); err != nil {
		return fmt.Errorf("sqlite: remove %q: %w", key, err)
	}
	return nil
}

// Keys lists the keys stored in this adapter's area.
func (a *Adapter) Keys(ctx context.Context) ([]string, error) {
	rows, err := a.keysStmt.QueryContext(ctx, a.area)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("sqlite: scan key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// Close releases prepared statements and, when the adapter opened the
// database itself, the database handle.
func (a *Adapter) Close() error {
	var err error
	a.closeOnce.Do(func() {
		for _, stmt := range []*sql.Stmt{a.getStmt, a.setStmt, a.removeStmt, a.keysStmt} {
			if stmt != nil {
				stmt.Close()
			}
		}
		if a.ownsDB {
			err = a.db.Close()
		}
	})
	return err
}

// DB exposes the underlying handle so other areas can share it through New.
func (a *Adapter) DB() *sql.DB {
	return a.db
}
