package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/engram/internal/storage/sqlite"
	"github.com/scrypster/engram/pkg/types"
)

// setupStore creates a database with two memories and points the
// environment at it.
func setupStore(t *testing.T) (dbPath, backupDir string) {
	t.Helper()
	dir := t.TempDir()
	dbPath = filepath.Join(dir, "engram.db")
	backupDir = filepath.Join(dir, "backups")

	store, err := sqlite.New(dbPath, 4, nil)
	require.NoError(t, err)
	for _, title := range []string{"first", "second"} {
		require.NoError(t, store.CreateMemory(context.Background(), &types.Memory{
			Title: title, Content: title + " content", Importance: 5, Embedding: []float32{1, 0, 0, 0},
		}))
	}
	require.NoError(t, store.Close())

	t.Setenv("ENGRAM_CONFIG_FILE", "")
	t.Setenv("ENGRAM_STORAGE_BACKEND", "sqlite")
	t.Setenv("ENGRAM_DB_PATH", dbPath)
	t.Setenv("ENGRAM_BACKUP_DIR", backupDir)
	t.Setenv("ENGRAM_EMBEDDING_PROVIDER", "fake")
	t.Setenv("ENGRAM_EMBEDDING_DIMENSIONS", "4")
	t.Setenv("ENGRAM_LOG_LEVEL", "error")
	return dbPath, backupDir
}

func runCmd(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func countMemories(t *testing.T, dbPath string) int {
	t.Helper()
	store, err := sqlite.New(dbPath, 4, nil)
	require.NoError(t, err)
	defer store.Close()
	n, err := store.CountMemories(context.Background())
	require.NoError(t, err)
	return n
}

func TestBackupRestoreCycle(t *testing.T) {
	dbPath, backupDir := setupStore(t)

	code, out, stderr := runCmd(t, "now")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, out, "Verified: true")

	backups, err := filepath.Glob(filepath.Join(backupDir, "engram-backup-*.db"))
	require.NoError(t, err)
	require.Len(t, backups, 1)

	code, out, _ = runCmd(t, "list")
	require.Equal(t, 0, code)
	assert.Contains(t, out, backups[0])

	code, out, _ = runCmd(t, "verify", backups[0])
	require.Equal(t, 0, code)
	assert.Contains(t, out, "ok")

	store, err := sqlite.New(dbPath, 4, nil)
	require.NoError(t, err)
	require.NoError(t, store.CreateMemory(context.Background(), &types.Memory{Title: "third", Content: "after backup", Importance: 5}))
	require.NoError(t, store.Close())
	require.Equal(t, 3, countMemories(t, dbPath))

	code, out, stderr = runCmd(t, "restore", backups[0])
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, out, "restored sqlite")
	assert.Equal(t, 2, countMemories(t, dbPath))

	code, out, _ = runCmd(t, "health")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "Total backups: 1")
}

func TestVerifyRejectsGarbage(t *testing.T) {
	setupStore(t)
	bad := filepath.Join(t.TempDir(), "bad.db")
	require.NoError(t, os.WriteFile(bad, []byte("not a database"), 0o600))

	code, _, stderr := runCmd(t, "verify", bad)
	assert.Equal(t, 1, code)
	assert.True(t, strings.HasPrefix(stderr, "engram-backup: verify:"), stderr)
}

func TestUsageErrors(t *testing.T) {
	setupStore(t)
	for _, args := range [][]string{nil, {"bogus"}, {"restore"}, {"now", "extra"}} {
		code, _, stderr := runCmd(t, args...)
		assert.Equal(t, 2, code, "%v", args)
		assert.Contains(t, stderr, "usage: engram-backup")
	}
}

func TestMissingDatabase(t *testing.T) {
	setupStore(t)
	t.Setenv("ENGRAM_DB_PATH", filepath.Join(t.TempDir(), "missing.db"))

	code, _, stderr := runCmd(t, "now")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "open store")
}
