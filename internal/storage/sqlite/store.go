// Package sqlite implements storage.Store on an embedded SQLite database
// (modernc.org/sqlite, pure Go). Vector search is an exact cosine scan in Go
// over the stored float32 BLOBs.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/scrypster/engram/internal/storage"
	"github.com/scrypster/engram/pkg/types"
)

// Store implements storage.Store using SQLite.
type Store struct {
	db     *sql.DB
	path   string
	logger *zap.Logger
}

var _ storage.Store = (*Store)(nil)

// New opens (or creates) the database at dsn with WAL self-healing. dims is
// the embedding dimensionality recorded for a fresh database; an existing
// database keeps the dimensionality it was last resized to.
//
// If the initial open fails due to stale WAL files (left behind by a crashed
// process), New verifies no other process holds them and retries once after
// removing the stale -shm/-wal files.
func New(dsn string, dims int, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	store, err := open(dsn, dims, logger)
	if err == nil {
		return store, nil
	}

	if !isRecoverableWALError(err) {
		return nil, err
	}
	dbPath := dbPathFromDSN(dsn)
	if dbPath == "" || !isWALStale(dbPath) {
		return nil, err
	}

	removeStaleWAL(dbPath, logger)

	store, retryErr := open(dsn, dims, logger)
	if retryErr != nil {
		return nil, fmt.Errorf("sqlite: failed after WAL recovery: %w (original: %v)", retryErr, err)
	}
	logger.Warn("sqlite: recovered from stale WAL files", zap.String("path", dbPath))
	return store, nil
}

func open(dsn string, dims int, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open database: %w", err)
	}

	// SQLite only supports one concurrent writer. A single connection
	// serialises writes and avoids SQLITE_BUSY under concurrent load; it
	// also keeps a ":memory:" database alive for the life of the store.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: create schema: %w", err)
	}

	if dims > 0 {
		if _, err := db.Exec(
			`INSERT INTO embedding_meta (id, dimensions, updated_at) VALUES (1, ?, ?) ON CONFLICT(id) DO NOTHING`,
			dims, time.Now().UTC()); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: init embedding meta: %w", err)
		}
	}

	return &Store{db: db, path: dbPathFromDSN(dsn), logger: logger}, nil
}

// Backend returns "sqlite".
func (s *Store) Backend() string { return "sqlite" }

// Persistent is false for in-memory databases.
func (s *Store) Persistent() bool { return s.path != "" }

// Path is the database file, or "" for an in-memory database.
func (s *Store) Path() string { return s.path }

// DB exposes the underlying handle to the backup service.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// wrap converts a driver error into a *types.StoreError, passing not-found
// and validation errors through unchanged.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var nf *types.NotFoundError
	var ve *types.ValidationError
	var se *types.StoreError
	if errors.As(err, &nf) || errors.As(err, &ve) || errors.As(err, &se) {
		return err
	}
	return &types.StoreError{Op: "sqlite: " + op, Err: err}
}

// withTx runs fn in a transaction, rolling back on error or panic.
func (s *Store) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap(op, fmt.Errorf("begin: %w", err))
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return wrap(op, err)
	}
	if err = tx.Commit(); err != nil {
		return wrap(op, fmt.Errorf("commit: %w", err))
	}
	return nil
}

// dbPathFromDSN extracts the file path from a DSN, or "" for in-memory DSNs.
func dbPathFromDSN(dsn string) string {
	if dsn == ":memory:" || dsn == "" {
		return ""
	}
	if strings.HasPrefix(dsn, "file:") {
		u, err := url.Parse(dsn)
		if err != nil {
			return ""
		}
		if u.Query().Get("mode") == "memory" {
			return ""
		}
		path := u.Path
		if path == "" {
			path = u.Opaque
		}
		if path == ":memory:" || path == "" {
			return ""
		}
		return path
	}
	return dsn
}

// isRecoverableWALError returns true if the error matches patterns caused by
// stale WAL files left behind after a crash (SIGKILL, OOM, etc.).
func isRecoverableWALError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "disk I/O error") ||
		strings.Contains(msg, "database is locked")
}

// isWALStale checks whether -shm/-wal files exist for the given database path
// AND no other process currently holds them open (via lsof).
// Returns false if lsof is unavailable (conservative: no deletion).
func isWALStale(dbPath string) bool {
	shmPath := dbPath + "-shm"
	walPath := dbPath + "-wal"
	if !fileExists(shmPath) && !fileExists(walPath) {
		return false
	}

	lsofPath, err := exec.LookPath("lsof")
	if err != nil {
		return false
	}
	output, err := exec.Command(lsofPath, "-t", dbPath, shmPath, walPath).Output()
	if err != nil {
		// lsof exits 1 when no process has the files open.
		return true
	}
	return strings.TrimSpace(string(output)) == ""
}

func removeStaleWAL(dbPath string, logger *zap.Logger) {
	for _, suffix := range []string{"-shm", "-wal"} {
		path := dbPath + suffix
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logger.Warn("sqlite: failed to remove stale WAL file", zap.String("path", path), zap.Error(err))
		}
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
