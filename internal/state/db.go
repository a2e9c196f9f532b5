// Package state provides SQLite-based persistence for pipewright runs.
// It keeps a run index and the checkpoints a run can be resumed from, either
// in a per-user database (~/.local/share/pipewright/pipewright.db) or a
// project-local one (.pipewright/state.db).
package state

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// Supported database/sql driver names.
const (
	// DriverSQLite is the pure-Go modernc driver. It is the default.
	DriverSQLite = "sqlite"
	// DriverSQLite3 is the cgo mattn driver.
	DriverSQLite3 = "sqlite3"
)

// DB wraps an SQLite database connection with run persistence operations.
type DB struct {
	conn   *sql.DB
	path   string
	driver string
	mu     sync.RWMutex

	// keepCheckpoints bounds the checkpoints kept per run. Zero keeps all.
	keepCheckpoints int
}

// ProjectDBPath returns the path to the project-local database.
func ProjectDBPath(projectRoot string) string {
	return filepath.Join(projectRoot, ".pipewright", "state.db")
}

// OpenProject opens the project-local database with the default driver.
func OpenProject(projectRoot string) (*DB, error) {
	return Open(ProjectDBPath(projectRoot))
}

// Open opens the database at path with the default driver.
func Open(path string) (*DB, error) {
	return OpenWithDriver(DriverSQLite, path)
}

// pragmas run on every new database handle.
var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA foreign_keys=ON",
	"PRAGMA busy_timeout=5000",
}

// OpenWithDriver opens the database at path using the named driver, creating
// parent directories as needed. An empty driver means DriverSQLite.
func OpenWithDriver(driver, path string) (*DB, error) {
	switch driver {
	case "":
		driver = DriverSQLite
	case DriverSQLite, DriverSQLite3:
	default:
		return nil, fmt.Errorf("unsupported sqlite driver %q (want %q or %q)", driver, DriverSQLite, DriverSQLite3)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	conn, err := sql.Open(driver, path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	for _, p := range pragmas {
		if _, err := conn.Exec(p); err != nil {
			conn.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}
	return &DB{conn: conn, path: path, driver: driver}, nil
}

// SetKeepCheckpoints limits how many checkpoints are kept per run.
// Zero or less keeps every checkpoint.
func (db *DB) SetKeepCheckpoints(n int) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.keepCheckpoints = max(n, 0)
}

// Close closes the database connection.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.conn.Close()
}

// Path returns the path to the database file.
func (db *DB) Path() string { return db.path }

// Driver returns the database/sql driver name in use.
func (db *DB) Driver() string { return db.driver }

// migration is one schema step. Versions are applied in order, once each.
type migration struct {
	version int
	stmts   string
}

var migrations = []migration{
	{1, `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	workflow TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'running',
	success INTEGER NOT NULL DEFAULT 0,
	total INTEGER NOT NULL DEFAULT 0,
	succeeded INTEGER NOT NULL DEFAULT 0,
	failed INTEGER NOT NULL DEFAULT 0,
	skipped INTEGER NOT NULL DEFAULT 0,
	started_at DATETIME NOT NULL,
	finished_at DATETIME,
	pid INTEGER NOT NULL DEFAULT 0,
	updated_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
`},
	{2, `
CREATE TABLE IF NOT EXISTS checkpoints (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	seq INTEGER NOT NULL,
	blob BLOB NOT NULL,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_checkpoints_run_id ON checkpoints(run_id);
`},
}

// SchemaVersion returns the highest applied migration, or zero.
func (db *DB) SchemaVersion() (int, error) {
	var v int
	err := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&v)
	return v, err
}

// Migrate brings the schema up to date. Each migration commits together with
// its schema_version row, so a failed step leaves earlier ones in place.
func (db *DB) Migrate() error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}
	current, err := db.SchemaVersion()
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		err := db.Transaction(func(tx *sql.Tx) error {
			if _, err := tx.Exec(m.stmts); err != nil {
				return err
			}
			_, err := tx.Exec(`INSERT INTO schema_version (version) VALUES (?)`, m.version)
			return err
		})
		if err != nil {
			return fmt.Errorf("migration v%d: %w", m.version, err)
		}
	}
	return nil
}

// Exec runs a statement under the write lock.
func (db *DB) Exec(query string, args ...any) (sql.Result, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.conn.Exec(query, args...)
}

// Query runs a read under the read lock.
func (db *DB) Query(query string, args ...any) (*sql.Rows, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.conn.Query(query, args...)
}

// QueryRow runs a single-row read under the read lock.
func (db *DB) QueryRow(query string, args ...any) *sql.Row {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.conn.QueryRow(query, args...)
}

// Transaction runs fn in a transaction, committing only if fn returns nil.
func (db *DB) Transaction(fn func(tx *sql.Tx) error) (err error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// timeLayout has fixed-width fractions so stored times sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// nullableTime stores the zero time as NULL.
func nullableTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(t), Valid: true}
}

// parseNullableTime maps NULL and unparseable values to the zero time.
func parseNullableTime(s sql.NullString) time.Time {
	if !s.Valid {
		return time.Time{}
	}
	t, _ := parseTime(s.String)
	return t
}

// PurgeOldRuns deletes finished runs, and their checkpoints, that started
// before the cutoff. Runs still marked running are kept.
// Returns the number of runs deleted.
func (db *DB) PurgeOldRuns(olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)

	var count int64
	err := db.Transaction(func(tx *sql.Tx) error {
		where := `started_at < ? AND status != 'running'`
		if _, err := tx.Exec(`DELETE FROM checkpoints WHERE run_id IN (SELECT id FROM runs WHERE `+where+`)`, formatTime(cutoff)); err != nil {
			return fmt.Errorf("purge checkpoints: %w", err)
		}
		result, err := tx.Exec(`DELETE FROM runs WHERE `+where, formatTime(cutoff))
		if err != nil {
			return fmt.Errorf("purge old runs: %w", err)
		}
		count, err = result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}
