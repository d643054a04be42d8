package llm

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/scrypster/engram/internal/config"
	"github.com/scrypster/engram/internal/metrics"
)

// NewEmbeddingProvider builds the configured provider variant wrapped in
// rate limiting, circuit breaking and retries.
func NewEmbeddingProvider(cfg config.EmbeddingConfig, logger *zap.Logger, m *metrics.Collector) (EmbeddingProvider, error) {
	var inner EmbeddingProvider
	switch cfg.Provider {
	case "ollama", "":
		inner = NewOllamaProvider(OllamaConfig{
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			Timeout:    cfg.Timeout,
		})
	case "openai", "azure":
		inner = NewOpenAIProvider(OpenAIConfig{
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			BaseURL:    openAIBaseURL(cfg),
			Azure:      cfg.Provider == "azure",
			APIVersion: cfg.APIVersion,
			Timeout:    cfg.Timeout,
		})
	case "fake":
		// Local and deterministic: no guards needed.
		return NewFakeProvider(cfg.Dimensions, cfg.Model), nil
	default:
		return nil, fmt.Errorf("llm: unsupported embedding provider: %q", cfg.Provider)
	}

	return NewGuardedProvider(inner, GuardOptions{
		RateLimit:  cfg.RateLimit,
		MaxRetries: cfg.MaxRetries,
		Logger:     logger,
		Metrics:    m,
	}), nil
}

// NewQueryEmbedder returns the provider used for retrieval queries: p itself,
// or p behind a query cache when caching is enabled.
func NewQueryEmbedder(p EmbeddingProvider, cfg config.EmbeddingConfig, m *metrics.Collector) (EmbeddingProvider, error) {
	if cfg.CacheSize <= 0 {
		return p, nil
	}
	return NewCachedProvider(p, cfg.CacheSize, m)
}

// NewReranker returns the configured reranker, or nil when reranking is
// disabled.
func NewReranker(cfg config.RerankConfig, logger *zap.Logger, m *metrics.Collector) Reranker {
	if !cfg.Enabled {
		return nil
	}
	return NewGuardedReranker(NewHTTPReranker(HTTPRerankerConfig{
		URL:     cfg.URL,
		Model:   cfg.Model,
		APIKey:  cfg.APIKey,
		Timeout: cfg.Timeout,
	}), GuardOptions{Logger: logger, Metrics: m})
}

// The embedding BaseURL defaults to Ollama's address, which must not leak
// into an OpenAI client.
func openAIBaseURL(cfg config.EmbeddingConfig) string {
	if cfg.Provider == "openai" && cfg.BaseURL == config.Default().Embedding.BaseURL {
		return ""
	}
	return cfg.BaseURL
}
