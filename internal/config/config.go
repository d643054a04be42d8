// Package config provides configuration management for Engram.
//
// Settings are resolved in three layers, later layers winning:
//
//  1. built-in defaults
//  2. an optional YAML file named by ENGRAM_CONFIG_FILE
//  3. environment variables (ENGRAM_ prefix, plus the unprefixed memory
//     tuning names such as MEMORY_TOKEN_BUDGET)
//
// A .env file in the working directory is loaded first if present; it never
// overrides variables already set in the process environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration settings for the Engram application.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Rerank    RerankConfig    `yaml:"rerank"`
	Memory    MemoryConfig    `yaml:"memory"`
	Events    EventsConfig    `yaml:"events"`
	Security  SecurityConfig  `yaml:"security"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port int    `yaml:"port"` // Server port (default: 6464)
	Host string `yaml:"host"` // Server host (default: 127.0.0.1)
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StorageConfig contains database and storage configuration.
type StorageConfig struct {
	Backend        string        `yaml:"backend"`         // sqlite or postgres (default: sqlite)
	Path           string        `yaml:"path"`            // SQLite file, or ":memory:" (default: ./data/engram.db)
	DataDir        string        `yaml:"data_dir"`        // Shared state such as cross-process event files (default: ./data)
	DSN            string        `yaml:"dsn"`             // Postgres connection string
	BackupDir      string        `yaml:"backup_dir"`      // Where migration and CLI backups go (default: ./backups)
	BackupInterval time.Duration `yaml:"backup_interval"` // Scheduled backups while serving; 0 disables (default: 0)
}

// EmbeddingConfig selects the embedding provider. The provider is chosen once
// at startup; changing provider, model or dimensions requires a re-embedding
// migration.
type EmbeddingConfig struct {
	Provider   string        `yaml:"provider"`   // ollama, openai, azure, fake (default: ollama)
	Model      string        `yaml:"model"`      // default: nomic-embed-text
	Dimensions int           `yaml:"dimensions"` // default: 768
	BaseURL    string        `yaml:"base_url"`   // Ollama URL or OpenAI-compatible base URL
	APIKey     string        `yaml:"api_key"`
	APIVersion string        `yaml:"api_version"` // Azure only
	Timeout    time.Duration `yaml:"timeout"`     // per call (default: 30s)
	RateLimit  float64       `yaml:"rate_limit"`  // requests per second, 0 = unlimited
	MaxRetries int           `yaml:"max_retries"` // embed retries on rate_limited/network (default: 3)
	CacheSize  int64         `yaml:"cache_size"`  // query-embedding cache entries, 0 disables (default: 1000)
}

// RerankConfig configures the optional cross-encoder reranker.
type RerankConfig struct {
	Enabled bool          `yaml:"enabled"`
	URL     string        `yaml:"url"`
	Model   string        `yaml:"model"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// MemoryConfig holds the retrieval and auto-linking knobs.
type MemoryConfig struct {
	DenseSearchCandidates int     `yaml:"dense_search_candidates"` // DENSE_SEARCH_CANDIDATES (default: 50)
	NumAutoLink           int     `yaml:"num_auto_link"`           // MEMORY_NUM_AUTO_LINK (default: 3)
	SimilarityThreshold   float64 `yaml:"similarity_threshold"`    // SIMILARITY_THRESHOLD (default: 0.7)
	TokenBudget           int     `yaml:"token_budget"`            // MEMORY_TOKEN_BUDGET (default: 8000)
	MaxMemories           int     `yaml:"max_memories"`            // MEMORY_MAX_MEMORIES (default: 20)
	DefaultK              int     `yaml:"default_k"`               // MEMORY_DEFAULT_K (default: 5)
	MaxLinksPerPrimary    int     `yaml:"max_links_per_primary"`   // MEMORY_MAX_LINKS_PER_PRIMARY (default: 5)
}

// EventsConfig sizes the activity event stream.
type EventsConfig struct {
	QueueSize int `yaml:"queue_size"` // per-subscriber ring buffer (default: 256)
	History   int `yaml:"history"`    // per-user replay history for pull resync (default: 1024)
}

// SecurityConfig contains authentication and request limits.
type SecurityConfig struct {
	APIToken     string  `yaml:"api_token"`      // Bearer token; empty disables auth
	RateLimitRPS float64 `yaml:"rate_limit_rps"` // per-client HTTP rate (default: 20)
	RateBurst    int     `yaml:"rate_burst"`     // default: 40
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error (default: info)
	Format string `yaml:"format"` // json or console (default: json)
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: 6464, Host: "127.0.0.1"},
		Storage: StorageConfig{
			Backend:   "sqlite",
			Path:      "./data/engram.db",
			DataDir:   "./data",
			BackupDir: "./backups",
		},
		Embedding: EmbeddingConfig{
			Provider:   "ollama",
			Model:      "nomic-embed-text",
			Dimensions: 768,
			BaseURL:    "http://localhost:11434",
			Timeout:    30 * time.Second,
			MaxRetries: 3,
			CacheSize:  1000,
		},
		Rerank: RerankConfig{Timeout: 30 * time.Second},
		Memory: MemoryConfig{
			DenseSearchCandidates: 50,
			NumAutoLink:           3,
			SimilarityThreshold:   0.7,
			TokenBudget:           8000,
			MaxMemories:           20,
			DefaultK:              5,
			MaxLinksPerPrimary:    5,
		},
		Events:   EventsConfig{QueueSize: 256, History: 1024},
		Security: SecurityConfig{RateLimitRPS: 20, RateBurst: 40},
		Log:      LogConfig{Level: "info", Format: "json"},
	}
}

// LoadConfig resolves the configuration from defaults, the optional YAML
// file and the environment, then validates it.
func LoadConfig() (*Config, error) {
	// Missing .env is the normal case.
	_ = godotenv.Load()

	cfg := Default()
	if path := os.Getenv("ENGRAM_CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// applyEnv overlays environment variables on the current values.
func (c *Config) applyEnv() {
	c.Server.Port = getEnvInt("ENGRAM_PORT", c.Server.Port)
	c.Server.Host = getEnv("ENGRAM_HOST", c.Server.Host)

	c.Storage.Backend = getEnv("ENGRAM_STORAGE_BACKEND", c.Storage.Backend)
	c.Storage.Path = getEnv("ENGRAM_DB_PATH", c.Storage.Path)
	c.Storage.DataDir = getEnv("ENGRAM_DATA_DIR", c.Storage.DataDir)
	c.Storage.DSN = getEnv("ENGRAM_POSTGRES_DSN", c.Storage.DSN)
	c.Storage.BackupDir = getEnv("ENGRAM_BACKUP_DIR", c.Storage.BackupDir)
	c.Storage.BackupInterval = getEnvDuration("ENGRAM_BACKUP_INTERVAL", c.Storage.BackupInterval)

	c.Embedding.Provider = getEnv("ENGRAM_EMBEDDING_PROVIDER", c.Embedding.Provider)
	c.Embedding.Model = getEnv("ENGRAM_EMBEDDING_MODEL", c.Embedding.Model)
	c.Embedding.Dimensions = getEnvInt("ENGRAM_EMBEDDING_DIMENSIONS", c.Embedding.Dimensions)
	c.Embedding.BaseURL = getEnv("ENGRAM_EMBEDDING_URL", c.Embedding.BaseURL)
	c.Embedding.APIKey = getEnv("ENGRAM_EMBEDDING_API_KEY", c.Embedding.APIKey)
	c.Embedding.APIVersion = getEnv("ENGRAM_EMBEDDING_API_VERSION", c.Embedding.APIVersion)
	c.Embedding.Timeout = getEnvDuration("ENGRAM_EMBEDDING_TIMEOUT", c.Embedding.Timeout)
	c.Embedding.RateLimit = getEnvFloat("ENGRAM_EMBEDDING_RATE_LIMIT", c.Embedding.RateLimit)
	c.Embedding.MaxRetries = getEnvInt("ENGRAM_EMBEDDING_MAX_RETRIES", c.Embedding.MaxRetries)
	c.Embedding.CacheSize = int64(getEnvInt("ENGRAM_EMBEDDING_CACHE_SIZE", int(c.Embedding.CacheSize)))

	c.Rerank.Enabled = getEnvBool("ENGRAM_RERANK_ENABLED", c.Rerank.Enabled)
	c.Rerank.URL = getEnv("ENGRAM_RERANK_URL", c.Rerank.URL)
	c.Rerank.Model = getEnv("ENGRAM_RERANK_MODEL", c.Rerank.Model)
	c.Rerank.APIKey = getEnv("ENGRAM_RERANK_API_KEY", c.Rerank.APIKey)
	c.Rerank.Timeout = getEnvDuration("ENGRAM_RERANK_TIMEOUT", c.Rerank.Timeout)

	c.Memory.DenseSearchCandidates = getEnvInt("DENSE_SEARCH_CANDIDATES", c.Memory.DenseSearchCandidates)
	c.Memory.NumAutoLink = getEnvInt("MEMORY_NUM_AUTO_LINK", c.Memory.NumAutoLink)
	c.Memory.SimilarityThreshold = getEnvFloat("SIMILARITY_THRESHOLD", c.Memory.SimilarityThreshold)
	c.Memory.TokenBudget = getEnvInt("MEMORY_TOKEN_BUDGET", c.Memory.TokenBudget)
	c.Memory.MaxMemories = getEnvInt("MEMORY_MAX_MEMORIES", c.Memory.MaxMemories)
	c.Memory.DefaultK = getEnvInt("MEMORY_DEFAULT_K", c.Memory.DefaultK)
	c.Memory.MaxLinksPerPrimary = getEnvInt("MEMORY_MAX_LINKS_PER_PRIMARY", c.Memory.MaxLinksPerPrimary)

	c.Events.QueueSize = getEnvInt("ENGRAM_EVENTS_QUEUE_SIZE", c.Events.QueueSize)
	c.Events.History = getEnvInt("ENGRAM_EVENTS_HISTORY", c.Events.History)

	c.Security.APIToken = getEnv("ENGRAM_API_TOKEN", c.Security.APIToken)
	c.Security.RateLimitRPS = getEnvFloat("ENGRAM_RATE_LIMIT_RPS", c.Security.RateLimitRPS)
	c.Security.RateBurst = getEnvInt("ENGRAM_RATE_BURST", c.Security.RateBurst)

	c.Log.Level = getEnv("ENGRAM_LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("ENGRAM_LOG_FORMAT", c.Log.Format)
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	switch c.Storage.Backend {
	case "sqlite":
		if c.Storage.Path == "" {
			errs = append(errs, errors.New("storage.path is required for sqlite"))
		}
	case "postgres":
		if c.Storage.DSN == "" {
			errs = append(errs, errors.New("storage.dsn is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q must be sqlite or postgres", c.Storage.Backend))
	}

	switch c.Embedding.Provider {
	case "ollama", "openai", "azure", "fake":
	default:
		errs = append(errs, fmt.Errorf("embedding.provider %q must be one of ollama, openai, azure, fake", c.Embedding.Provider))
	}
	if c.Embedding.Dimensions <= 0 {
		errs = append(errs, errors.New("embedding.dimensions must be positive"))
	}
	if (c.Embedding.Provider == "openai" || c.Embedding.Provider == "azure") && c.Embedding.APIKey == "" {
		errs = append(errs, fmt.Errorf("embedding.api_key is required for %s", c.Embedding.Provider))
	}
	if c.Embedding.Provider == "azure" && c.Embedding.BaseURL == "" {
		errs = append(errs, errors.New("embedding.base_url is required for azure"))
	}
	if c.Rerank.Enabled && c.Rerank.URL == "" {
		errs = append(errs, errors.New("rerank.url is required when rerank is enabled"))
	}

	m := c.Memory
	if m.DenseSearchCandidates <= 0 {
		errs = append(errs, errors.New("memory.dense_search_candidates must be positive"))
	}
	if m.NumAutoLink < 0 {
		errs = append(errs, errors.New("memory.num_auto_link must not be negative"))
	}
	if m.SimilarityThreshold < 0 || m.SimilarityThreshold > 1 {
		errs = append(errs, errors.New("memory.similarity_threshold must be within [0,1]"))
	}
	if m.TokenBudget <= 0 {
		errs = append(errs, errors.New("memory.token_budget must be positive"))
	}
	if m.MaxMemories <= 0 || m.MaxMemories > 20 {
		errs = append(errs, errors.New("memory.max_memories must be within [1,20]"))
	}
	if m.DefaultK <= 0 || m.DefaultK > 20 {
		errs = append(errs, errors.New("memory.default_k must be within [1,20]"))
	}
	if c.Events.QueueSize <= 0 || c.Events.History <= 0 {
		errs = append(errs, errors.New("events.queue_size and events.history must be positive"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// InMemoryStore reports whether the configured store is non-persistent.
func (c *Config) InMemoryStore() bool {
	return c.Storage.Backend == "sqlite" && (c.Storage.Path == ":memory:" || strings.HasPrefix(c.Storage.Path, "file::memory:"))
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value.
// Unparseable values fall back to the default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default value.
// It recognizes "true", "1", "yes" as true and "false", "0", "no" as false (case-insensitive).
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return defaultValue
}
