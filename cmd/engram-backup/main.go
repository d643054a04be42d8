// Command engram-backup takes, lists, verifies and restores backups of the
// configured Engram store.
//
//	engram-backup [flags] now
//	engram-backup [flags] list
//	engram-backup [flags] verify <path>
//	engram-backup [flags] restore <path>
//	engram-backup [flags] health
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/scrypster/engram/internal/backup"
	"github.com/scrypster/engram/internal/config"
	"github.com/scrypster/engram/internal/logging"
	"github.com/scrypster/engram/internal/storage"
	"github.com/scrypster/engram/internal/storage/postgres"
	"github.com/scrypster/engram/internal/storage/sqlite"
)

const usage = `usage: engram-backup [flags] <command>

commands:
  now             take a backup
  list            list backups, newest first
  verify <path>   check that a backup is readable and intact
  restore <path>  replace the store contents with a backup
  health          report backup freshness; exits 1 unless healthy

flags:
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("engram-backup", flag.ContinueOnError)
	fs.SetOutput(stderr)
	backupDir := fs.String("backup-dir", "", "Backup directory (overrides config)")
	verify := fs.Bool("verify", true, "Verify backups after creation")
	fs.Usage = func() {
		fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	cmd, rest := fs.Arg(0), fs.Args()
	if len(rest) > 0 {
		rest = rest[1:]
	}
	wantArgs := 0
	switch cmd {
	case "now", "list", "health":
	case "verify", "restore":
		wantArgs = 1
	default:
		fs.Usage()
		return 2
	}
	if len(rest) != wantArgs {
		fs.Usage()
		return 2
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(stderr, "engram-backup: %v\n", err)
		return 1
	}
	if *backupDir != "" {
		cfg.Storage.BackupDir = *backupDir
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(stderr, "engram-backup: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	store, err := openStore(cfg, logger)
	if err != nil {
		fmt.Fprintf(stderr, "engram-backup: open store: %v\n", err)
		return 1
	}
	defer store.Close()

	driver, err := backup.DriverFor(store)
	if err != nil {
		fmt.Fprintf(stderr, "engram-backup: %v\n", err)
		return 1
	}
	service, err := backup.NewBackupService(driver, backup.BackupConfig{
		BackupDir:     cfg.Storage.BackupDir,
		Interval:      cfg.Storage.BackupInterval,
		VerifyBackups: *verify,
	}, logger)
	if err != nil {
		fmt.Fprintf(stderr, "engram-backup: %v\n", err)
		return 1
	}

	switch cmd {
	case "now":
		err = handleNow(ctx, service, stdout)
	case "list":
		err = handleList(service, stdout)
	case "verify":
		err = service.VerifyBackup(ctx, rest[0])
		if err == nil {
			fmt.Fprintf(stdout, "%s: ok\n", rest[0])
		}
	case "restore":
		err = service.RestoreBackup(ctx, rest[0])
		if err == nil {
			fmt.Fprintf(stdout, "restored %s from %s\n", store.Backend(), rest[0])
		}
	case "health":
		err = handleHealth(service, stdout)
	}
	if err != nil {
		fmt.Fprintf(stderr, "engram-backup: %s: %v\n", cmd, err)
		return 1
	}
	return 0
}

// openStore opens the existing database without resizing it; backups copy
// whatever dimensions the store already has.
func openStore(cfg *config.Config, logger *zap.Logger) (storage.Store, error) {
	if cfg.Storage.Backend == "postgres" {
		return postgres.New(cfg.Storage.DSN, cfg.Embedding.Dimensions, logger)
	}
	if !cfg.InMemoryStore() {
		if _, err := os.Stat(cfg.Storage.Path); err != nil {
			return nil, fmt.Errorf("database %s: %w", cfg.Storage.Path, err)
		}
	}
	return sqlite.New(cfg.Storage.Path, cfg.Embedding.Dimensions, logger)
}

func handleNow(ctx context.Context, service *backup.BackupService, w io.Writer) error {
	result, err := service.BackupNow(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Path:     %s\n", result.Path)
	fmt.Fprintf(w, "Size:     %.2f MB\n", float64(result.Size)/(1024*1024))
	fmt.Fprintf(w, "Duration: %v\n", result.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "Verified: %v\n", result.Verified)
	return nil
}

func handleList(service *backup.BackupService, w io.Writer) error {
	backups, err := service.ListBackups()
	if err != nil {
		return err
	}
	if len(backups) == 0 {
		fmt.Fprintln(w, "No backups found")
		return nil
	}
	for _, b := range backups {
		fmt.Fprintf(w, "%s\t%s\t%.2f MB\n", b.Timestamp.Format(time.RFC3339), b.Path, float64(b.Size)/(1024*1024))
	}
	return nil
}

func handleHealth(service *backup.BackupService, w io.Writer) error {
	health, err := service.HealthCheck()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Status:        %s\n", health.Status)
	if health.Message != "" {
		fmt.Fprintf(w, "Message:       %s\n", health.Message)
	}
	fmt.Fprintf(w, "Total backups: %d\n", health.TotalBackups)
	fmt.Fprintf(w, "Disk used:     %.2f MB\n", float64(health.DiskSpaceUsed)/(1024*1024))
	if health.LastBackup.IsZero() {
		fmt.Fprintln(w, "Last backup:   never")
	} else {
		fmt.Fprintf(w, "Last backup:   %s\n", health.LastBackup.Format(time.RFC3339))
	}
	if health.Status != "healthy" {
		return fmt.Errorf("status %s", health.Status)
	}
	return nil
}
