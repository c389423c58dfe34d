package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/franz/ordb/internal/util"

	_ "modernc.org/sqlite" // SQLite driver
)

const (
	currentSchemaVersion = 1
)

var (
	// ErrInvalidStatus is returned when a status value outside the known set
	// is read from or written to the database
	ErrInvalidStatus = errors.New("invalid status")

	// ErrInvalidTransition is returned for a status edge the lifecycle does not allow
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrStaleTransition means the record was no longer in the expected state
	ErrStaleTransition = errors.New("record is no longer in the expected state")

	// ErrPrimaryExists means another record already holds the primary role for a hash
	ErrPrimaryExists = errors.New("a primary record already exists for this content hash")
)

// Store represents the application's persistent state
type Store struct {
	db   *sql.DB
	path string
}

// Open opens or creates a SQLite database at the given path
func Open(path string) (*Store, error) {
	// modernc.org/sqlite applies _pragma parameters on every new connection
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite works best with a single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	store := &Store{db: db, path: path}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return store, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path
func (s *Store) Path() string {
	return s.path
}

// SQLiteVersion returns the SQLite version string
func SQLiteVersion() string {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return ""
	}
	defer db.Close()

	var version string
	err = db.QueryRow("SELECT sqlite_version()").Scan(&version)
	if err != nil {
		return ""
	}
	return version
}

// CheckIntegrity runs PRAGMA integrity_check on the database
func (s *Store) CheckIntegrity() error {
	var result string
	err := s.db.QueryRow("PRAGMA integrity_check").Scan(&result)
	if err != nil {
		return fmt.Errorf("integrity check query failed: %w", err)
	}

	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}

	return nil
}

// migrate applies database migrations
func (s *Store) migrate() error {
	version, err := s.getSchemaVersion()
	if err != nil {
		return err
	}

	if version >= currentSchemaVersion {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if version < 1 {
		if _, err := tx.Exec(schemaV1); err != nil {
			return fmt.Errorf("failed to apply schema v1: %w", err)
		}
		if err := s.setSchemaVersion(tx, 1); err != nil {
			return fmt.Errorf("failed to set schema version: %w", err)
		}
	}

	// Future migrations would go here:
	// if version < 2 { ... }

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}

	return nil
}

// getSchemaVersion returns the current schema version
func (s *Store) getSchemaVersion() (int, error) {
	var exists int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM sqlite_master
		WHERE type='table' AND name='schema_version'
	`).Scan(&exists)
	if err != nil {
		return 0, err
	}

	if exists == 0 {
		return 0, nil
	}

	var version int
	err = s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		return 0, err
	}

	return version, nil
}

// setSchemaVersion records a schema version in a transaction
func (s *Store) setSchemaVersion(tx *sql.Tx, version int) error {
	_, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version)
	return err
}

// Transaction executes a function within a transaction
func (s *Store) Transaction(fn func(*sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Clear removes every file record, source root and run.
// Used when a run is started fresh instead of resumed.
func (s *Store) Clear(ctx context.Context) error {
	return s.Transaction(func(tx *sql.Tx) error {
		for _, table := range []string{"files", "source_roots", "runs"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("failed to clear %s: %w", table, err)
			}
		}
		return nil
	})
}

// exec runs a write statement, retrying while SQLite reports the database as locked
func (s *Store) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return retry.DoWithData(func() (sql.Result, error) {
		return s.db.ExecContext(ctx, query, args...)
	}, util.DatabaseRetryOptions(ctx)...)
}

// File is one FileRecord: a distinct source path ever observed
type File struct {
	ID          int64
	SourcePath  string
	SizeBytes   int64
	MimeType    string
	ContentHash string
	Status      Status
	DuplicateOf int64 // 0 unless Status is DUPLICATE
	Category    string
	Confidence  *float64
	DateSource  string
	DateValue   string
	Artist      string
	Album       string
	DestPath    string
	Error       string
	FirstSeenAt time.Time
	LastUpdate  time.Time
}

// SourceRoot is a top-level directory the user asked to scan
type SourceRoot struct {
	Path    string
	AddedAt time.Time
}

// Run is one pipeline invocation
type Run struct {
	ID          string
	Destination string
	DryRun      bool
	StartedAt   time.Time
	FinishedAt  *time.Time
}
