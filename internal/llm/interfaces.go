// Package llm adapts external embedding and rerank backends to a uniform
// interface. The provider is one of a closed set of variants selected once at
// startup; callers never branch on provider identity.
package llm

import "context"

// EmbeddingProvider turns text into a fixed-dimension vector.
// Every error returned by Embed is a *types.ProviderError.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	// Dimensions is the length of every vector returned by Embed.
	Dimensions() int
	// Name is the provider variant ("ollama", "openai", ...).
	Name() string
	Model() string
}

// Reranker scores (query, candidate) pairs. The returned slice is aligned
// with candidates; higher is more relevant.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []string) ([]float64, error)
}
