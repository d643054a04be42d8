package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/engram/internal/config"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("ENGRAM_CONFIG_FILE", "")
	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host, "default host must be loopback")
	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.Equal(t, 50, cfg.Memory.DenseSearchCandidates)
	assert.Equal(t, 3, cfg.Memory.NumAutoLink)
	assert.Equal(t, 8000, cfg.Memory.TokenBudget)
	assert.Equal(t, 20, cfg.Memory.MaxMemories)
	assert.InDelta(t, 0.7, cfg.Memory.SimilarityThreshold, 1e-9)
}

func TestLoadConfig_MemoryEnvNames(t *testing.T) {
	t.Setenv("MEMORY_NUM_AUTO_LINK", "5")
	t.Setenv("MEMORY_TOKEN_BUDGET", "4000")
	t.Setenv("DENSE_SEARCH_CANDIDATES", "80")

	cfg, err := config.LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Memory.NumAutoLink)
	assert.Equal(t, 4000, cfg.Memory.TokenBudget)
	assert.Equal(t, 80, cfg.Memory.DenseSearchCandidates)
}

func TestLoadConfig_FileThenEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engram.yaml")
	yml := `
server:
  port: 7000
embedding:
  provider: fake
  dimensions: 64
  timeout: 5s
memory:
  token_budget: 2000
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o600))
	t.Setenv("ENGRAM_CONFIG_FILE", path)
	t.Setenv("MEMORY_TOKEN_BUDGET", "3000")

	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 7000, cfg.Server.Port, "file overrides default")
	assert.Equal(t, "fake", cfg.Embedding.Provider)
	assert.Equal(t, 64, cfg.Embedding.Dimensions)
	assert.Equal(t, 5*time.Second, cfg.Embedding.Timeout)
	assert.Equal(t, 3000, cfg.Memory.TokenBudget, "env overrides file")
	assert.Equal(t, 3, cfg.Memory.NumAutoLink, "unset keys keep defaults")
}

func TestLoadConfig_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unclosed"), 0o600))
	t.Setenv("ENGRAM_CONFIG_FILE", path)

	_, err := config.LoadConfig()
	assert.Error(t, err)
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Backend = "mysql"
	cfg.Embedding.Provider = "openai"
	cfg.Embedding.APIKey = ""
	cfg.Memory.MaxMemories = 50

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage.backend")
	assert.Contains(t, err.Error(), "api_key")
	assert.Contains(t, err.Error(), "max_memories")
}

func TestInMemoryStore(t *testing.T) {
	cfg := config.Default()
	assert.False(t, cfg.InMemoryStore())
	cfg.Storage.Path = ":memory:"
	assert.True(t, cfg.InMemoryStore())
}

func TestGetEnvBool_CaseInsensitive(t *testing.T) {
	t.Setenv("ENGRAM_RERANK_ENABLED", "YES")
	t.Setenv("ENGRAM_RERANK_URL", "http://localhost:8080/rerank")
	cfg, err := config.LoadConfig()
	require.NoError(t, err)
	assert.True(t, cfg.Rerank.Enabled)
}
