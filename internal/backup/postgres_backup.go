package backup

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// commandRunner runs an external program, returning its combined stderr in
// the error.
type commandRunner func(ctx context.Context, name string, args ...string) error

func runCommand(ctx context.Context, name string, args ...string) error {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// PostgresDriver shells out to pg_dump and pg_restore, which must be on PATH.
type PostgresDriver struct {
	dsn string
	run commandRunner
}

// NewPostgresDriver returns a driver for the database at dsn.
func NewPostgresDriver(dsn string) *PostgresDriver {
	return &PostgresDriver{dsn: dsn, run: runCommand}
}

// Name returns "postgres".
func (d *PostgresDriver) Name() string { return "postgres" }

// Ext returns ".dump".
func (d *PostgresDriver) Ext() string { return ".dump" }

// Backup writes a custom-format dump.
func (d *PostgresDriver) Backup(ctx context.Context, destPath string) error {
	if err := d.run(ctx, "pg_dump", "--format=custom", "--no-owner", "--file="+destPath, "--dbname="+d.dsn); err != nil {
		return fmt.Errorf("failed to backup database: %w", err)
	}
	return nil
}

// Verify reads the dump's table of contents.
func (d *PostgresDriver) Verify(ctx context.Context, path string) error {
	if err := d.run(ctx, "pg_restore", "--list", path); err != nil {
		return fmt.Errorf("backup verification failed: %w", err)
	}
	return nil
}

// Restore drops and recreates the dumped objects in a single transaction.
func (d *PostgresDriver) Restore(ctx context.Context, path string) error {
	if err := d.Verify(ctx, path); err != nil {
		return err
	}
	if err := d.run(ctx, "pg_restore", "--clean", "--if-exists", "--no-owner", "--single-transaction",
		"--dbname="+d.dsn, path); err != nil {
		return fmt.Errorf("failed to restore database: %w", err)
	}
	return nil
}
