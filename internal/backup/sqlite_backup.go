package backup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteDriver backs up a live SQLite database through its open handle.
type SQLiteDriver struct {
	db *sql.DB
}

// NewSQLiteDriver returns a driver operating on the store's handle.
func NewSQLiteDriver(db *sql.DB) *SQLiteDriver {
	return &SQLiteDriver{db: db}
}

// Name returns "sqlite".
func (d *SQLiteDriver) Name() string { return "sqlite" }

// Ext returns ".db".
func (d *SQLiteDriver) Ext() string { return ".db" }

// Backup uses VACUUM INTO, which produces a consistent point-in-time copy
// even in WAL mode.
func (d *SQLiteDriver) Backup(ctx context.Context, destPath string) error {
	if _, err := d.db.ExecContext(ctx, "VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("failed to backup database: %w", err)
	}
	return nil
}

// Verify opens the backup read-only and runs integrity_check.
func (d *SQLiteDriver) Verify(ctx context.Context, path string) error {
	return verifySQLiteFile(ctx, path)
}

func verifySQLiteFile(ctx context.Context, path string) error {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return fmt.Errorf("failed to open backup: %w", err)
	}
	defer func() { _ = db.Close() }()

	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("failed to run integrity check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}
	return nil
}

// Restore attaches the backup and replaces every table's rows with the
// backup's in one transaction, so the store's open handle stays valid.
func (d *SQLiteDriver) Restore(ctx context.Context, path string) (err error) {
	if err := verifySQLiteFile(ctx, path); err != nil {
		return fmt.Errorf("backup verification failed: %w", err)
	}

	conn, err := d.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	// foreign_keys cannot change inside a transaction.
	if _, err := conn.ExecContext(ctx, "PRAGMA foreign_keys = OFF"); err != nil {
		return fmt.Errorf("failed to disable foreign keys: %w", err)
	}
	defer func() {
		if _, fkErr := conn.ExecContext(context.Background(), "PRAGMA foreign_keys = ON"); fkErr != nil && err == nil {
			err = fmt.Errorf("failed to re-enable foreign keys: %w", fkErr)
		}
	}()

	if _, err := conn.ExecContext(ctx, "ATTACH DATABASE ? AS bak", path); err != nil {
		return fmt.Errorf("failed to attach backup: %w", err)
	}
	defer func() { _, _ = conn.ExecContext(context.Background(), "DETACH DATABASE bak") }()

	tables, err := attachedTables(ctx, conn)
	if err != nil {
		return err
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin restore: %w", err)
	}
	for _, table := range tables {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM main.%q", table)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("INSERT INTO main.%[1]q SELECT * FROM bak.%[1]q", table)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to restore %s: %w", table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit restore: %w", err)
	}
	return nil
}

// attachedTables lists the backup's tables, sqlite_sequence included so
// AUTOINCREMENT counters come back with the rows.
func attachedTables(ctx context.Context, conn *sql.Conn) ([]string, error) {
	rows, err := conn.QueryContext(ctx,
		"SELECT name FROM bak.sqlite_master WHERE type = 'table' AND (name NOT LIKE 'sqlite_%' OR name = 'sqlite_sequence') ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to list backup tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(tables) == 0 {
		return nil, errors.New("backup contains no tables")
	}
	return tables, nil
}
