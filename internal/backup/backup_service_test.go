package backup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/engram/internal/storage/sqlite"
	"github.com/scrypster/engram/pkg/types"
)

func newFileStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(filepath.Join(t.TempDir(), "engram.db"), 4, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func addMemory(t *testing.T, s *sqlite.Store, title string) *types.Memory {
	t.Helper()
	m := &types.Memory{Title: title, Content: "content", Importance: 5, Embedding: []float32{1, 0, 0, 0}}
	require.NoError(t, s.CreateMemory(context.Background(), m))
	return m
}

func TestDriverFor(t *testing.T) {
	mem, err := sqlite.New(":memory:", 4, nil)
	require.NoError(t, err)
	defer mem.Close()

	_, err = DriverFor(mem)
	assert.ErrorIs(t, err, ErrNotPersistent)

	d, err := DriverFor(newFileStore(t))
	require.NoError(t, err)
	assert.Equal(t, "sqlite", d.Name())
	assert.Equal(t, ".db", d.Ext())
}

func TestSQLiteBackupAndRestore(t *testing.T) {
	ctx := context.Background()
	store := newFileStore(t)
	a := addMemory(t, store, "a")
	b := addMemory(t, store, "b")
	_, err := store.CreateLinks(ctx, a.ID, []int64{b.ID})
	require.NoError(t, err)

	svc, err := NewBackupService(NewSQLiteDriver(store.DB()), BackupConfig{BackupDir: t.TempDir(), VerifyBackups: true}, nil)
	require.NoError(t, err)

	result, err := svc.BackupNow(ctx)
	require.NoError(t, err)
	assert.True(t, result.Verified)
	assert.Positive(t, result.Size)
	assert.True(t, strings.HasPrefix(filepath.Base(result.Path), "engram-backup-"))
	require.NoError(t, svc.VerifyBackup(ctx, result.Path))

	// Mutate: resize vectors away and add a memory.
	require.NoError(t, store.ResizeEmbeddings(ctx, 2))
	addMemory2 := &types.Memory{Title: "c", Content: "content", Importance: 5, Embedding: []float32{1, 0}}
	require.NoError(t, store.CreateMemory(ctx, addMemory2))

	require.NoError(t, svc.RestoreBackup(ctx, result.Path))

	n, err := store.CountMemories(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	dims, err := store.EmbeddingDimensions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, dims)

	withVectors, err := store.CountEmbeddings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, withVectors)

	linked, err := store.LinkedIDs(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{b.ID}, linked)

	// The store keeps working on the same handle.
	addMemory(t, store, "d")
}

func TestVerifyRejectsCorruptFile(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.db")
	require.NoError(t, os.WriteFile(bad, []byte("definitely not sqlite"), 0o600))

	store := newFileStore(t)
	svc, err := NewBackupService(NewSQLiteDriver(store.DB()), BackupConfig{BackupDir: dir}, nil)
	require.NoError(t, err)

	assert.Error(t, svc.VerifyBackup(context.Background(), bad))
	assert.Error(t, svc.RestoreBackup(context.Background(), bad))
	assert.Error(t, svc.RestoreBackup(context.Background(), filepath.Join(dir, "missing.db")))
}

// fakeDriver records calls and writes a small file on Backup.
type fakeDriver struct {
	backupErr error
	verifyErr error
	restored  []string
}

func (d *fakeDriver) Name() string { return "fake" }
func (d *fakeDriver) Ext() string  { return ".fake" }

func (d *fakeDriver) Backup(ctx context.Context, destPath string) error {
	if d.backupErr != nil {
		return d.backupErr
	}
	return os.WriteFile(destPath, []byte("fake"), 0o600)
}

func (d *fakeDriver) Verify(ctx context.Context, path string) error { return d.verifyErr }

func (d *fakeDriver) Restore(ctx context.Context, path string) error {
	d.restored = append(d.restored, path)
	return nil
}

func TestNewBackupServiceValidation(t *testing.T) {
	_, err := NewBackupService(nil, BackupConfig{BackupDir: t.TempDir()}, nil)
	assert.Error(t, err)
	_, err = NewBackupService(&fakeDriver{}, BackupConfig{}, nil)
	assert.Error(t, err)

	svc, err := NewBackupService(&fakeDriver{}, BackupConfig{BackupDir: filepath.Join(t.TempDir(), "nested")}, nil)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, svc.interval)
	assert.Equal(t, DefaultRetention(), svc.retention)
}

func TestBackupNowFailures(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")

	svc, err := NewBackupService(&fakeDriver{backupErr: boom}, BackupConfig{BackupDir: t.TempDir()}, nil)
	require.NoError(t, err)
	_, err = svc.BackupNow(ctx)
	assert.ErrorIs(t, err, boom)

	svc, err = NewBackupService(&fakeDriver{verifyErr: boom}, BackupConfig{BackupDir: t.TempDir(), VerifyBackups: true}, nil)
	require.NoError(t, err)
	result, err := svc.BackupNow(ctx)
	assert.ErrorIs(t, err, boom)
	require.NotNil(t, result)
	assert.False(t, result.Verified)
}

func TestListAndHealth(t *testing.T) {
	ctx := context.Background()
	svc, err := NewBackupService(&fakeDriver{}, BackupConfig{BackupDir: t.TempDir()}, nil)
	require.NoError(t, err)

	status, err := svc.HealthCheck()
	require.NoError(t, err)
	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, "No backups yet", status.Message)

	_, err = svc.BackupNow(ctx)
	require.NoError(t, err)
	_, err = svc.BackupNow(ctx)
	require.NoError(t, err)

	backups, err := svc.ListBackups()
	require.NoError(t, err)
	assert.Len(t, backups, 2)

	status, err = svc.HealthCheck()
	require.NoError(t, err)
	assert.Equal(t, 2, status.TotalBackups)
	assert.Equal(t, int64(8), status.DiskSpaceUsed)
	assert.False(t, status.LastBackup.IsZero())

	fresh, err := NewBackupService(&fakeDriver{}, BackupConfig{BackupDir: svc.backupDir}, nil)
	require.NoError(t, err)
	status, err = fresh.HealthCheck()
	require.NoError(t, err)
	assert.Equal(t, backups[0].Timestamp, status.LastBackup)
}

func TestStartStop(t *testing.T) {
	drv := &fakeDriver{}
	svc, err := NewBackupService(drv, BackupConfig{BackupDir: t.TempDir(), Interval: 10 * time.Millisecond}, nil)
	require.NoError(t, err)

	assert.Error(t, svc.Stop(), "stop before start")

	done := make(chan error, 1)
	go func() { done <- svc.Start(context.Background()) }()

	require.Eventually(t, func() bool {
		backups, _ := svc.ListBackups()
		return len(backups) > 0
	}, 2*time.Second, 10*time.Millisecond)

	assert.Error(t, svc.RestoreBackup(context.Background(), "x"), "restore while running")
	require.NoError(t, svc.Stop())
	require.NoError(t, <-done)
}

func TestStartStopsOnContextCancel(t *testing.T) {
	svc, err := NewBackupService(&fakeDriver{}, BackupConfig{BackupDir: t.TempDir()}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Start(ctx) }()
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestPostgresDriverCommands(t *testing.T) {
	var calls [][]string
	d := NewPostgresDriver("postgres://u@h/db")
	d.run = func(ctx context.Context, name string, args ...string) error {
		calls = append(calls, append([]string{name}, args...))
		return nil
	}
	ctx := context.Background()

	require.NoError(t, d.Backup(ctx, "/b/x.dump"))
	require.NoError(t, d.Restore(ctx, "/b/x.dump"))

	require.Len(t, calls, 3)
	assert.Equal(t, "pg_dump", calls[0][0])
	assert.Contains(t, calls[0], "--format=custom")
	assert.Contains(t, calls[0], "--file=/b/x.dump")
	assert.Contains(t, calls[0], "--dbname=postgres://u@h/db")
	assert.Equal(t, []string{"pg_restore", "--list", "/b/x.dump"}, calls[1])
	assert.Equal(t, "pg_restore", calls[2][0])
	assert.Contains(t, calls[2], "--single-transaction")
	assert.Contains(t, calls[2], "--clean")
	assert.Equal(t, "/b/x.dump", calls[2][len(calls[2])-1])
}

func TestPostgresDriverRestoreStopsOnBadDump(t *testing.T) {
	d := NewPostgresDriver("dsn")
	var n int
	d.run = func(ctx context.Context, name string, args ...string) error {
		n++
		return errors.New("pg_restore: input file does not appear to be a valid archive")
	}
	assert.Error(t, d.Restore(context.Background(), "bad.dump"))
	assert.Equal(t, 1, n)
}
