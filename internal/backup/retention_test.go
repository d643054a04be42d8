package backup

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeBackup creates a fake backup file with the given age.
func writeBackup(t *testing.T, dir, name string, age time.Duration, now time.Time) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("backup "+name), 0o644); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}
	ts := now.Add(-age)
	if err := os.Chtimes(path, ts, ts); err != nil {
		t.Fatalf("failed to set file time: %v", err)
	}
	return path
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestListBackupsEmpty(t *testing.T) {
	backups, err := listBackups(t.TempDir(), ".db")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(backups) != 0 {
		t.Errorf("expected 0 backups, got %d", len(backups))
	}
}

func TestListBackupsNonexistentDirectory(t *testing.T) {
	if _, err := listBackups("/nonexistent/backup/dir", ".db"); err == nil {
		t.Fatal("expected error for non-existent directory")
	}
}

func TestListBackupsFiltersAndSorts(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()

	older := writeBackup(t, dir, "a.db", 2*time.Hour, now)
	newer := writeBackup(t, dir, "b.db", time.Hour, now)
	writeBackup(t, dir, "c.dump", 0, now)
	writeBackup(t, dir, "readme.txt", 0, now)
	if err := os.Mkdir(filepath.Join(dir, "sub.db"), 0o755); err != nil {
		t.Fatal(err)
	}

	backups, err := listBackups(dir, ".db")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(backups) != 2 {
		t.Fatalf("expected 2 backups, got %d", len(backups))
	}
	if backups[0].Path != newer || backups[1].Path != older {
		t.Errorf("expected newest first, got %s, %s", backups[0].Path, backups[1].Path)
	}
	if backups[0].Size != int64(len("backup b.db")) {
		t.Errorf("unexpected size %d", backups[0].Size)
	}

	dumps, err := listBackups(dir, ".dump")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(dumps) != 1 {
		t.Errorf("expected 1 dump, got %d", len(dumps))
	}
}

func TestApplyRetentionTiers(t *testing.T) {
	day := 24 * time.Hour
	tests := []struct {
		name   string
		policy RetentionPolicy
		ages   []time.Duration
		kept   []bool
	}{
		{
			name:   "older than a year always deleted",
			policy: DefaultRetention(),
			ages:   []time.Duration{time.Minute, 366 * day},
			kept:   []bool{true, false},
		},
		{
			name:   "hourly keeps newest",
			policy: RetentionPolicy{Hourly: 2},
			ages:   []time.Duration{time.Hour, 2 * time.Hour, 3 * time.Hour},
			kept:   []bool{true, true, false},
		},
		{
			name:   "daily",
			policy: RetentionPolicy{Daily: 2},
			ages:   []time.Duration{2 * day, 3 * day, 4 * day},
			kept:   []bool{true, true, false},
		},
		{
			name:   "weekly",
			policy: RetentionPolicy{Weekly: 1},
			ages:   []time.Duration{8 * day, 15 * day},
			kept:   []bool{true, false},
		},
		{
			name:   "monthly",
			policy: RetentionPolicy{Monthly: 2},
			ages:   []time.Duration{40 * day, 80 * day, 120 * day},
			kept:   []bool{true, true, false},
		},
		{
			name:   "mixed tiers",
			policy: RetentionPolicy{Hourly: 1, Daily: 1, Weekly: 1, Monthly: 1},
			ages:   []time.Duration{time.Hour, 2 * time.Hour, 2 * day, 3 * day, 10 * day, 40 * day, 50 * day},
			kept:   []bool{true, false, true, false, true, true, false},
		},
		{
			name:   "exact fit",
			policy: RetentionPolicy{Hourly: 3},
			ages:   []time.Duration{time.Hour, 2 * time.Hour, 3 * time.Hour},
			kept:   []bool{true, true, true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			now := time.Now()
			paths := make([]string, len(tt.ages))
			for i, age := range tt.ages {
				paths[i] = writeBackup(t, dir, filepath.Base(t.Name())+string(rune('a'+i))+".db", age, now)
			}

			if err := applyRetention(dir, ".db", tt.policy, now); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			for i, path := range paths {
				if exists(path) != tt.kept[i] {
					t.Errorf("backup aged %v: kept=%v, want %v", tt.ages[i], exists(path), tt.kept[i])
				}
			}
		})
	}
}

func TestApplyRetentionIgnoresOtherExtensions(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	dump := writeBackup(t, dir, "old.dump", 400*24*time.Hour, now)

	if err := applyRetention(dir, ".db", DefaultRetention(), now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !exists(dump) {
		t.Error("a .dump file must not be pruned by the .db policy")
	}
}

func TestApplyRetentionNonexistentDirectory(t *testing.T) {
	if err := applyRetention("/nonexistent/backup/dir", ".db", DefaultRetention(), time.Now()); err == nil {
		t.Fatal("expected error for non-existent directory")
	}
}

func TestDiskUsage(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	writeBackup(t, dir, "a.db", 0, now)
	writeBackup(t, dir, "bb.db", 0, now)
	writeBackup(t, dir, "ignored.txt", 0, now)

	got, err := diskUsage(dir, ".db")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := int64(len("backup a.db") + len("backup bb.db"))
	if got != want {
		t.Errorf("expected %d bytes, got %d", want, got)
	}

	if _, err := diskUsage("/nonexistent/backup/dir", ".db"); err == nil {
		t.Fatal("expected error for non-existent directory")
	}
}
