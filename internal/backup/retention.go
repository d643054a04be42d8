package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// listBackups lists the files with extension ext in backupDir, newest first.
func listBackups(backupDir, ext string) ([]BackupInfo, error) {
	entries, err := os.ReadDir(backupDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	var backups []BackupInfo
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ext) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue // Skip files we can't stat
		}
		backups = append(backups, BackupInfo{
			Path:      filepath.Join(backupDir, entry.Name()),
			Timestamp: info.ModTime(),
			Size:      info.Size(),
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Timestamp.After(backups[j].Timestamp)
	})
	return backups, nil
}

// applyRetention removes old backups according to the retention policy.
// Backups older than a year are always removed.
func applyRetention(backupDir, ext string, policy RetentionPolicy, now time.Time) error {
	backups, err := listBackups(backupDir, ext)
	if err != nil {
		return err
	}

	var toDelete []string
	tiers := make([][]BackupInfo, 4)
	for _, b := range backups {
		age := now.Sub(b.Timestamp)
		switch {
		case age < 24*time.Hour:
			tiers[0] = append(tiers[0], b)
		case age < 7*24*time.Hour:
			tiers[1] = append(tiers[1], b)
		case age < 30*24*time.Hour:
			tiers[2] = append(tiers[2], b)
		case age < 365*24*time.Hour:
			tiers[3] = append(tiers[3], b)
		default:
			toDelete = append(toDelete, b.Path)
		}
	}

	keep := []int{policy.Hourly, policy.Daily, policy.Weekly, policy.Monthly}
	for i, tier := range tiers {
		if len(tier) > keep[i] {
			for _, b := range tier[keep[i]:] {
				toDelete = append(toDelete, b.Path)
			}
		}
	}

	var lastErr error
	for _, path := range toDelete {
		if err := os.Remove(path); err != nil {
			lastErr = err
		}
	}
	if lastErr != nil {
		return fmt.Errorf("failed to delete some backups: %w", lastErr)
	}
	return nil
}

// diskUsage sums the size of all backups.
func diskUsage(backupDir, ext string) (int64, error) {
	backups, err := listBackups(backupDir, ext)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, b := range backups {
		total += b.Size
	}
	return total, nil
}
