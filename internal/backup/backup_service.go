package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/scrypster/engram/internal/storage"
	"github.com/scrypster/engram/internal/storage/postgres"
	"github.com/scrypster/engram/internal/storage/sqlite"
)

// ErrNotPersistent is returned by DriverFor for stores that live only in
// memory.
var ErrNotPersistent = errors.New("backup: store is not persistent")

// DriverFor returns the backup driver matching store's backend.
func DriverFor(store storage.Store) (Driver, error) {
	if !store.Persistent() {
		return nil, ErrNotPersistent
	}
	switch s := store.(type) {
	case *sqlite.Store:
		return NewSQLiteDriver(s.DB()), nil
	case *postgres.Store:
		return NewPostgresDriver(s.DSN()), nil
	default:
		return nil, fmt.Errorf("backup: unsupported store backend %q", store.Backend())
	}
}

// BackupService takes backups through a Driver, optionally on a schedule,
// and prunes them with a retention policy.
type BackupService struct {
	driver        Driver
	backupDir     string
	interval      time.Duration
	retention     RetentionPolicy
	verifyBackups bool
	logger        *zap.Logger

	mu             sync.Mutex
	running        bool
	stopCh         chan struct{}
	lastBackupTime time.Time
	nextBackupTime time.Time
}

// NewBackupService creates a backup service writing to config.BackupDir.
func NewBackupService(driver Driver, config BackupConfig, logger *zap.Logger) (*BackupService, error) {
	if driver == nil {
		return nil, errors.New("backup driver is required")
	}
	if config.BackupDir == "" {
		return nil, errors.New("backup directory is required")
	}
	if config.Interval <= 0 {
		config.Interval = time.Hour
	}
	if config.Retention == (RetentionPolicy{}) {
		config.Retention = DefaultRetention()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := os.MkdirAll(config.BackupDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}

	return &BackupService{
		driver:        driver,
		backupDir:     config.BackupDir,
		interval:      config.Interval,
		retention:     config.Retention,
		verifyBackups: config.VerifyBackups,
		logger:        logger,
		stopCh:        make(chan struct{}),
	}, nil
}

// Start runs scheduled backups until ctx is cancelled or Stop is called.
func (s *BackupService) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("backup service is already running")
	}
	s.running = true
	s.nextBackupTime = time.Now().Add(s.interval)
	s.mu.Unlock()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("backup service started",
		zap.Duration("interval", s.interval),
		zap.String("backup_dir", s.backupDir),
		zap.String("backend", s.driver.Name()))

	for {
		select {
		case <-ctx.Done():
			s.setStopped()
			return ctx.Err()

		case <-s.stopCh:
			return nil

		case <-ticker.C:
			result, err := s.BackupNow(ctx)
			if err != nil {
				s.logger.Error("scheduled backup failed", zap.Error(err))
			} else {
				s.logger.Info("scheduled backup completed",
					zap.String("path", result.Path),
					zap.Int64("size", result.Size),
					zap.Duration("duration", result.Duration),
					zap.Bool("verified", result.Verified))
			}

			s.mu.Lock()
			s.nextBackupTime = time.Now().Add(s.interval)
			s.mu.Unlock()
		}
	}
}

func (s *BackupService) setStopped() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// Stop stops the scheduled loop.
func (s *BackupService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return errors.New("backup service is not running")
	}
	close(s.stopCh)
	s.running = false
	return nil
}

// BackupNow writes a timestamped backup, verifies it when enabled, and
// applies the retention policy.
func (s *BackupService) BackupNow(ctx context.Context) (*BackupResult, error) {
	start := time.Now()

	// Microseconds keep names unique across back-to-back runs.
	name := fmt.Sprintf("engram-backup-%s%s", start.UTC().Format("20060102-150405.000000"), s.driver.Ext())
	path := filepath.Join(s.backupDir, name)

	if err := s.driver.Backup(ctx, path); err != nil {
		_ = os.Remove(path)
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat backup: %w", err)
	}
	result := &BackupResult{Path: path, Size: info.Size()}

	if s.verifyBackups {
		if err := s.driver.Verify(ctx, path); err != nil {
			return result, fmt.Errorf("backup verification failed: %w", err)
		}
		result.Verified = true
	}
	result.Duration = time.Since(start)

	s.mu.Lock()
	s.lastBackupTime = time.Now()
	s.mu.Unlock()

	if err := applyRetention(s.backupDir, s.driver.Ext(), s.retention, time.Now()); err != nil {
		s.logger.Warn("failed to apply retention policy", zap.Error(err))
	}
	return result, nil
}

// ListBackups lists this backend's backups, newest first.
func (s *BackupService) ListBackups() ([]BackupInfo, error) {
	return listBackups(s.backupDir, s.driver.Ext())
}

// VerifyBackup checks the backup at path.
func (s *BackupService) VerifyBackup(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("backup not found: %w", err)
	}
	return s.driver.Verify(ctx, path)
}

// RestoreBackup replaces the live database with the backup at path. The
// drivers restore in a single transaction, so a failed restore leaves the
// database as it was. The scheduled loop must not be running.
func (s *BackupService) RestoreBackup(ctx context.Context, path string) error {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if running {
		return errors.New("cannot restore while backup service is running")
	}

	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("backup not found: %w", err)
	}
	if err := s.driver.Restore(ctx, path); err != nil {
		return err
	}
	s.logger.Info("database restored from backup", zap.String("path", path))
	return nil
}

// HealthCheck reports on the scheduled backups.
func (s *BackupService) HealthCheck() (*HealthStatus, error) {
	s.mu.Lock()
	lastBackup := s.lastBackupTime
	nextBackup := s.nextBackupTime
	s.mu.Unlock()

	backups, err := s.ListBackups()
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}
	// A fresh process has no in-memory record; the newest file stands in.
	if lastBackup.IsZero() && len(backups) > 0 {
		lastBackup = backups[0].Timestamp
	}
	used, err := diskUsage(s.backupDir, s.driver.Ext())
	if err != nil {
		return nil, fmt.Errorf("failed to calculate disk usage: %w", err)
	}

	status := &HealthStatus{
		Status:        "healthy",
		LastBackup:    lastBackup,
		NextBackup:    nextBackup,
		TotalBackups:  len(backups),
		BackupDir:     s.backupDir,
		DiskSpaceUsed: used,
	}
	switch {
	case lastBackup.IsZero():
		status.Message = "No backups yet"
	case time.Since(lastBackup) > s.interval*2:
		status.Status = "warning"
		status.Message = fmt.Sprintf("Backup overdue by %v", time.Since(lastBackup)-s.interval)
	default:
		status.Message = fmt.Sprintf("Last backup: %v ago", time.Since(lastBackup).Round(time.Minute))
	}
	return status, nil
}
