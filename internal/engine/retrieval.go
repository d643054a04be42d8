package engine

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/scrypster/engram/internal/llm"
	"github.com/scrypster/engram/internal/metrics"
	"github.com/scrypster/engram/internal/storage"
	"github.com/scrypster/engram/pkg/types"
)

// MaxRetrievalK is the hard cap on primary memories per query.
const MaxRetrievalK = 20

// tokenFraming is the per-memory token overhead of ids, importance and
// field names in the serialized result.
const tokenFraming = 16

// RetrievalConfig holds the retrieval knobs.
type RetrievalConfig struct {
	// Candidates is the number of nearest memories fetched before ranking (default: 50).
	Candidates int

	// DefaultK is the number of primaries when a request leaves k unset (default: 5).
	DefaultK int

	// TokenBudget caps the summed token estimate of a result (default: 8000).
	TokenBudget int

	// MaxMemories caps primaries plus linked memories (default: 20).
	MaxMemories int

	// MaxLinksPerPrimary is the default links fetched per primary (default: 5).
	MaxLinksPerPrimary int

	// EstimateTokens estimates a memory's serialized size. Defaults to EstimateTokens.
	EstimateTokens func(*types.Memory) int
}

// DefaultRetrievalConfig returns the default retrieval settings.
func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		Candidates:         50,
		DefaultK:           5,
		TokenBudget:        8000,
		MaxMemories:        20,
		MaxLinksPerPrimary: 5,
		EstimateTokens:     EstimateTokens,
	}
}

// EstimateTokens approximates the serialized size of m: one token per four
// bytes of its text fields, rounded up, plus a fixed framing cost. It is
// deterministic and never calls a tokenizer.
func EstimateTokens(m *types.Memory) int {
	n := len(m.Title) + len(m.Content) + len(m.Context)
	for _, k := range m.Keywords {
		n += len(k) + 1
	}
	for _, t := range m.Tags {
		n += len(t) + 1
	}
	return (n+3)/4 + tokenFraming
}

// RetrievalRequest is a semantic query.
type RetrievalRequest struct {
	Query string `json:"query" validate:"required,max=2000"`

	// QueryContext biases the query embedding and is never stored.
	QueryContext string `json:"query_context,omitempty" validate:"max=500"`

	// K is the number of primary memories; 0 means the default, values
	// above MaxRetrievalK are clamped.
	K int `json:"k,omitempty" validate:"min=0"`

	// IncludeLinks fetches memories linked to each primary (default: true).
	IncludeLinks *bool `json:"include_links,omitempty"`

	MaxLinksPerPrimary  int     `json:"max_links_per_primary,omitempty" validate:"min=0,max=20"`
	ImportanceThreshold int     `json:"importance_threshold,omitempty" validate:"omitempty,min=1,max=10"`
	ProjectIDs          []int64 `json:"project_ids,omitempty" validate:"dive,gt=0"`

	// StrictProjectFilter returns nothing rather than falling back to
	// unscoped results when no memory of ProjectIDs matches.
	StrictProjectFilter bool `json:"strict_project_filter,omitempty"`
}

// RetrievedMemory is a memory in a retrieval result.
type RetrievedMemory struct {
	*types.Memory

	// Score is the final ranking score of a primary memory.
	Score float64 `json:"score,omitempty"`

	// LinkedFrom is the primary a linked memory was reached from.
	LinkedFrom int64 `json:"linked_from,omitempty"`

	TokenEstimate int `json:"token_estimate"`
}

// RetrievalResult is the budgeted answer to a RetrievalRequest.
type RetrievalResult struct {
	Query           string            `json:"query"`
	PrimaryMemories []RetrievedMemory `json:"primary_memories"`
	LinkedMemories  []RetrievedMemory `json:"linked_memories"`
	TotalCount      int               `json:"total_count"`
	TokenCount      int               `json:"token_count"`

	// Truncated is true when at least one eligible memory was left out by
	// the token budget or the memory count ceiling.
	Truncated bool `json:"truncated"`
}

// retrievalStore is the part of the store retrieval reads.
type retrievalStore interface {
	SimilaritySearch(ctx context.Context, query []float32, opts storage.SimilarityOptions) ([]storage.ScoredMemory, error)
	GetLinkedMemories(ctx context.Context, id int64, q storage.LinkQuery) ([]*types.Memory, error)
}

// Retriever answers semantic queries under a token budget.
type Retriever struct {
	store    retrievalStore
	embedder llm.EmbeddingProvider
	reranker llm.Reranker
	cfg      RetrievalConfig
	logger   *zap.Logger
	metrics  *metrics.Collector
}

// NewRetriever creates a retriever. embedder is normally the cached query
// embedder; reranker may be nil.
func NewRetriever(store retrievalStore, embedder llm.EmbeddingProvider, reranker llm.Reranker, cfg RetrievalConfig, logger *zap.Logger, m *metrics.Collector) *Retriever {
	def := DefaultRetrievalConfig()
	if cfg.Candidates <= 0 {
		cfg.Candidates = def.Candidates
	}
	if cfg.DefaultK <= 0 {
		cfg.DefaultK = def.DefaultK
	}
	if cfg.DefaultK > MaxRetrievalK {
		cfg.DefaultK = MaxRetrievalK
	}
	if cfg.TokenBudget <= 0 {
		cfg.TokenBudget = def.TokenBudget
	}
	if cfg.MaxMemories <= 0 || cfg.MaxMemories > MaxRetrievalK {
		cfg.MaxMemories = def.MaxMemories
	}
	if cfg.MaxLinksPerPrimary <= 0 {
		cfg.MaxLinksPerPrimary = def.MaxLinksPerPrimary
	}
	if cfg.EstimateTokens == nil {
		cfg.EstimateTokens = EstimateTokens
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{store: store, embedder: embedder, reranker: reranker, cfg: cfg, logger: logger, metrics: m}
}

// Retrieve embeds the query, ranks the nearest memories, expands them with
// their links and fits the result into the token budget.
func (r *Retriever) Retrieve(ctx context.Context, req RetrievalRequest) (*RetrievalResult, error) {
	if err := types.Validate(req); err != nil {
		return nil, err
	}
	k := req.K
	if k == 0 {
		k = r.cfg.DefaultK
	}
	if k > MaxRetrievalK {
		k = MaxRetrievalK
	}
	maxLinks := req.MaxLinksPerPrimary
	if maxLinks == 0 {
		maxLinks = r.cfg.MaxLinksPerPrimary
	}
	includeLinks := req.IncludeLinks == nil || *req.IncludeLinks

	text := req.Query
	if req.QueryContext != "" {
		text += " " + req.QueryContext
	}
	vec, err := r.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	hits, err := r.candidates(ctx, vec, req)
	if err != nil {
		return nil, err
	}

	ranked := r.rank(ctx, text, hits)
	if len(ranked) > k {
		ranked = ranked[:k]
	}
	sortByImportance(ranked)

	var links []RetrievedMemory
	if includeLinks {
		links, err = r.expandLinks(ctx, ranked, maxLinks, req)
		if err != nil {
			return nil, err
		}
	}

	res := r.budget(req.Query, ranked, links)
	r.metrics.RetrievalDone(res.Truncated)
	r.logger.Debug("retrieval done",
		zap.Int("candidates", len(hits)),
		zap.Int("primary", len(res.PrimaryMemories)),
		zap.Int("linked", len(res.LinkedMemories)),
		zap.Int("tokens", res.TokenCount),
		zap.Bool("truncated", res.Truncated))
	return res, nil
}

// candidates runs the similarity search under the request's project scope.
// Soft scoping falls back to an unscoped search when the scoped one is empty.
func (r *Retriever) candidates(ctx context.Context, vec []float32, req RetrievalRequest) ([]storage.ScoredMemory, error) {
	opts := storage.SimilarityOptions{
		Limit:         r.cfg.Candidates,
		ProjectIDs:    req.ProjectIDs,
		MinImportance: req.ImportanceThreshold,
	}
	hits, err := r.store.SimilaritySearch(ctx, vec, opts)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	if len(hits) == 0 && len(req.ProjectIDs) > 0 && !req.StrictProjectFilter {
		r.logger.Debug("no scoped candidates, falling back to all projects", zap.Int64s("project_ids", req.ProjectIDs))
		opts.ProjectIDs = nil
		hits, err = r.store.SimilaritySearch(ctx, vec, opts)
		if err != nil {
			return nil, fmt.Errorf("similarity search: %w", err)
		}
	}
	return hits, nil
}

// rank orders hits by final score desc then id asc, using the reranker when
// configured and similarity otherwise.
func (r *Retriever) rank(ctx context.Context, query string, hits []storage.ScoredMemory) []RetrievedMemory {
	out := make([]RetrievedMemory, len(hits))
	for i, h := range hits {
		out[i] = RetrievedMemory{Memory: h.Memory, Score: h.Score}
	}
	if r.reranker != nil && len(hits) > 0 {
		texts := make([]string, len(hits))
		for i, h := range hits {
			texts[i] = h.Memory.EmbeddingText()
		}
		scores, err := r.reranker.Rerank(ctx, query, texts)
		if err == nil && len(scores) != len(hits) {
			err = fmt.Errorf("reranker returned %d scores for %d candidates", len(scores), len(hits))
		}
		if err != nil {
			r.logger.Warn("retrieval rerank failed, using similarity scores", zap.Error(err))
			r.metrics.RerankFallback("retrieval")
		} else {
			for i := range out {
				out[i].Score = scores[i]
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// sortByImportance orders primaries by importance desc, then newest first.
func sortByImportance(ms []RetrievedMemory) {
	sort.SliceStable(ms, func(i, j int) bool {
		a, b := ms[i].Memory, ms[j].Memory
		if a.Importance != b.Importance {
			return a.Importance > b.Importance
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// expandLinks fetches up to maxLinks linked memories per primary, in primary
// order, never repeating a memory already in the result.
func (r *Retriever) expandLinks(ctx context.Context, primaries []RetrievedMemory, maxLinks int, req RetrievalRequest) ([]RetrievedMemory, error) {
	seen := make([]int64, 0, len(primaries))
	for _, p := range primaries {
		seen = append(seen, p.ID)
	}
	var scope []int64
	if req.StrictProjectFilter {
		scope = req.ProjectIDs
	}

	var links []RetrievedMemory
	for _, p := range primaries {
		linked, err := r.store.GetLinkedMemories(ctx, p.ID, storage.LinkQuery{
			Limit:      maxLinks,
			ExcludeIDs: seen,
			ProjectIDs: scope,
		})
		if err != nil {
			return nil, fmt.Errorf("linked memories of %d: %w", p.ID, err)
		}
		for _, m := range linked {
			if req.ImportanceThreshold > 0 && m.Importance < req.ImportanceThreshold {
				continue
			}
			links = append(links, RetrievedMemory{Memory: m, LinkedFrom: p.ID})
			seen = append(seen, m.ID)
		}
	}
	return links, nil
}

// budget appends primaries then links while both the token budget and the
// count ceiling hold. The first memory that does not fit ends the result.
func (r *Retriever) budget(query string, primaries, links []RetrievedMemory) *RetrievalResult {
	res := &RetrievalResult{
		Query:           query,
		PrimaryMemories: []RetrievedMemory{},
		LinkedMemories:  []RetrievedMemory{},
	}

	full := false
	add := func(m RetrievedMemory, dst *[]RetrievedMemory) {
		if full {
			res.Truncated = true
			return
		}
		m.TokenEstimate = r.cfg.EstimateTokens(m.Memory)
		if res.TotalCount >= r.cfg.MaxMemories || res.TokenCount+m.TokenEstimate > r.cfg.TokenBudget {
			full = true
			res.Truncated = true
			return
		}
		*dst = append(*dst, m)
		res.TotalCount++
		res.TokenCount += m.TokenEstimate
	}

	for _, m := range primaries {
		add(m, &res.PrimaryMemories)
	}
	for _, m := range links {
		add(m, &res.LinkedMemories)
	}
	return res
}
