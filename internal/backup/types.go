// Package backup takes, verifies and restores point-in-time copies of the
// knowledge store. SQLite stores are copied with VACUUM INTO and restored in
// place through an attached copy; Postgres stores use pg_dump and
// pg_restore. Backups are plain files in one directory, pruned by a tiered
// retention policy.
package backup

import (
	"context"
	"time"
)

// Driver performs the backend-specific work of a backup.
type Driver interface {
	// Name is the store backend ("sqlite" or "postgres").
	Name() string

	// Ext is the file extension of backups written by this driver.
	Ext() string

	// Backup writes a consistent copy of the live database to destPath.
	Backup(ctx context.Context, destPath string) error

	// Verify checks that the file at path is a readable backup.
	Verify(ctx context.Context, path string) error

	// Restore replaces the live database contents with the backup at path.
	Restore(ctx context.Context, path string) error
}

// BackupConfig holds backup service configuration.
type BackupConfig struct {
	// BackupDir is the directory where backups will be stored
	BackupDir string

	// Interval is the duration between scheduled backups (default: 1 hour)
	Interval time.Duration

	// Retention defines how many backups to keep at each age tier
	Retention RetentionPolicy

	// VerifyBackups enables an integrity check after each backup
	VerifyBackups bool
}

// RetentionPolicy defines how many backups to keep at each tier.
// Backups are categorized by age:
// - Hourly: backups less than 24 hours old
// - Daily: backups between 1-7 days old
// - Weekly: backups between 7-30 days old
// - Monthly: backups between 30-365 days old
type RetentionPolicy struct {
	Hourly  int
	Daily   int
	Weekly  int
	Monthly int
}

// DefaultRetention keeps a day of hourly backups, a week of dailies, a month
// of weeklies and a year of monthlies.
func DefaultRetention() RetentionPolicy {
	return RetentionPolicy{Hourly: 24, Daily: 7, Weekly: 4, Monthly: 12}
}

// BackupInfo contains metadata about a backup file.
type BackupInfo struct {
	Path      string    `json:"path"`
	Timestamp time.Time `json:"timestamp"`
	Size      int64     `json:"size"`
}

// BackupResult contains the result of a backup operation.
type BackupResult struct {
	Path     string        `json:"path"`
	Duration time.Duration `json:"duration"`
	Size     int64         `json:"size"`
	Verified bool          `json:"verified"`
}

// HealthStatus represents the health of the scheduled backup loop.
type HealthStatus struct {
	// Status is "healthy" or "warning"
	Status        string    `json:"status"`
	Message       string    `json:"message"`
	LastBackup    time.Time `json:"last_backup"`
	NextBackup    time.Time `json:"next_backup"`
	TotalBackups  int       `json:"total_backups"`
	BackupDir     string    `json:"backup_dir"`
	DiskSpaceUsed int64     `json:"disk_space_used"`
}
