package spill

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS spill (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
)`

// SQLiteMedium persists snapshots in a single SQLite table under a byte quota.
type SQLiteMedium struct {
	db    *sql.DB
	quota int
}

// OpenSQLite opens (or creates) the database at path. ":memory:" is accepted
// for tests. A quota of zero or less means unlimited.
func OpenSQLite(path string, quota int) (*SQLiteMedium, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite spill path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite spill: %w", err)
	}
	// One connection keeps ":memory:" databases alive and serialises the
	// quota check with the write that follows it.
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		sqliteSchema,
	} {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init sqlite spill: %w", err)
		}
	}
	return &SQLiteMedium{db: db, quota: quota}, nil
}

func (m *SQLiteMedium) Read(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := m.db.QueryRowContext(ctx, "SELECT value FROM spill WHERE key = ?", key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read %q: %w", key, err)
	}
	return v, true, nil
}

func (m *SQLiteMedium) Write(ctx context.Context, key, value string) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write %q: %w", key, err)
	}
	defer func() { _ = tx.Rollback() }()

	if m.quota > 0 {
		var used int
		err := tx.QueryRowContext(ctx,
			"SELECT COALESCE(SUM(length(CAST(key AS BLOB)) + length(CAST(value AS BLOB))), 0) FROM spill WHERE key <> ?",
			key,
		).Scan(&used)
		if err != nil {
			return fmt.Errorf("write %q: %w", key, err)
		}
		if used+len(key)+len(value) > m.quota {
			return fmt.Errorf("write %q: %w", key, ErrQuotaExceeded)
		}
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO spill (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value,
	)
	if err != nil {
		if isSQLiteFull(err) {
			return fmt.Errorf("write %q: %w", key, ErrQuotaExceeded)
		}
		return fmt.Errorf("write %q: %w", key, err)
	}
	if err := tx.Commit(); err != nil {
		if isSQLiteFull(err) {
			return fmt.Errorf("write %q: %w", key, ErrQuotaExceeded)
		}
		return fmt.Errorf("write %q: %w", key, err)
	}
	return nil
}

func (m *SQLiteMedium) Remove(ctx context.Context, key string) error {
	if _, err := m.db.ExecContext(ctx, "DELETE FROM spill WHERE key = ?", key); err != nil {
		return fmt.Errorf("remove %q: %w", key, err)
	}
	return nil
}

// Close closes the SQLite handle.
func (m *SQLiteMedium) Close() error {
	if m == nil || m.db == nil {
		return nil
	}
	return m.db.Close()
}

func isSQLiteFull(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code() == sqlite3lib.SQLITE_FULL
	}
	return false
}
