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

// AutoLinkConfig controls candidate selection for auto-linking.
type AutoLinkConfig struct {
	// Candidates is the number of nearest memories considered (default: 50).
	Candidates int

	// Threshold is the minimum final score a candidate needs (default: 0.7).
	Threshold float64

	// MaxLinks caps the links created per new memory (default: 3).
	MaxLinks int
}

// DefaultAutoLinkConfig returns the default auto-link settings.
func DefaultAutoLinkConfig() AutoLinkConfig {
	return AutoLinkConfig{Candidates: 50, Threshold: 0.7, MaxLinks: 3}
}

// autoLinkStore is the part of the store auto-linking touches.
type autoLinkStore interface {
	SimilaritySearch(ctx context.Context, query []float32, opts storage.SimilarityOptions) ([]storage.ScoredMemory, error)
	CreateLinks(ctx context.Context, sourceID int64, targetIDs []int64) ([]int64, error)
}

// AutoLinker connects a newly created memory to its most similar
// non-obsolete neighbours.
type AutoLinker struct {
	store    autoLinkStore
	reranker llm.Reranker
	cfg      AutoLinkConfig
	logger   *zap.Logger
	metrics  *metrics.Collector
}

// NewAutoLinker creates an auto-linker. reranker may be nil, in which case
// raw cosine similarity is the final score.
func NewAutoLinker(store autoLinkStore, reranker llm.Reranker, cfg AutoLinkConfig, logger *zap.Logger, m *metrics.Collector) *AutoLinker {
	def := DefaultAutoLinkConfig()
	if cfg.Candidates <= 0 {
		cfg.Candidates = def.Candidates
	}
	if cfg.MaxLinks < 0 {
		cfg.MaxLinks = def.MaxLinks
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AutoLinker{store: store, reranker: reranker, cfg: cfg, logger: logger, metrics: m}
}

// Link finds the best candidates for m and creates a link to each. It
// returns the linked ids, best first. m must already be stored with its
// embedding. A memory without an embedding, or a store without other
// memories, yields no links and no error.
//
// Link creation is attempted exactly once; a store failure is returned
// without retrying so links are never double-created.
func (a *AutoLinker) Link(ctx context.Context, m *types.Memory) ([]int64, error) {
	if a.cfg.MaxLinks == 0 || len(m.Embedding) == 0 {
		return nil, nil
	}

	hits, err := a.store.SimilaritySearch(ctx, m.Embedding, storage.SimilarityOptions{
		Limit:      a.cfg.Candidates,
		ExcludeIDs: []int64{m.ID},
	})
	if err != nil {
		return nil, fmt.Errorf("auto-link candidates for memory %d: %w", m.ID, err)
	}
	if len(hits) == 0 {
		return nil, nil
	}

	scored := a.rerank(ctx, m.EmbeddingText(), hits)
	selected := selectLinks(scored, a.cfg.Threshold, a.cfg.MaxLinks)
	if len(selected) == 0 {
		return nil, nil
	}

	created, err := a.store.CreateLinks(ctx, m.ID, selected)
	if err != nil {
		return nil, fmt.Errorf("auto-link memory %d: %w", m.ID, err)
	}

	// Keep score order; CreateLinks reports what it actually inserted.
	inserted := make(map[int64]bool, len(created))
	for _, id := range created {
		inserted[id] = true
	}
	linked := make([]int64, 0, len(created))
	for _, id := range selected {
		if inserted[id] {
			linked = append(linked, id)
		}
	}

	a.logger.Debug("auto-linked memory",
		zap.Int64("memory_id", m.ID),
		zap.Int("candidates", len(hits)),
		zap.Int64s("linked", linked))
	return linked, nil
}

// candidate is a memory id with its final ranking score.
type candidate struct {
	id    int64
	score float64
}

// rerank replaces similarity scores with reranker scores when a reranker is
// configured. Any reranker failure keeps the similarity scores.
func (a *AutoLinker) rerank(ctx context.Context, query string, hits []storage.ScoredMemory) []candidate {
	out := make([]candidate, len(hits))
	for i, h := range hits {
		out[i] = candidate{id: h.Memory.ID, score: h.Score}
	}
	if a.reranker == nil {
		return out
	}

	texts := make([]string, len(hits))
	for i, h := range hits {
		texts[i] = h.Memory.EmbeddingText()
	}
	scores, err := a.reranker.Rerank(ctx, query, texts)
	if err == nil && len(scores) != len(hits) {
		err = fmt.Errorf("reranker returned %d scores for %d candidates", len(scores), len(hits))
	}
	if err != nil {
		a.logger.Warn("auto-link rerank failed, using similarity scores", zap.Error(err))
		a.metrics.RerankFallback("autolink")
		return out
	}
	for i := range out {
		out[i].score = scores[i]
	}
	return out
}

// selectLinks orders candidates by score desc then id asc and keeps those
// at or above threshold, up to max.
func selectLinks(cands []candidate, threshold float64, max int) []int64 {
	sorted := make([]candidate, len(cands))
	copy(sorted, cands)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].score != sorted[j].score {
			return sorted[i].score > sorted[j].score
		}
		return sorted[i].id < sorted[j].id
	})

	var out []int64
	for _, c := range sorted {
		if len(out) >= max {
			break
		}
		if c.score < threshold {
			break
		}
		out = append(out, c.id)
	}
	return out
}
