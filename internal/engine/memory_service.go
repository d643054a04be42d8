// Package engine implements the memory graph operations on top of the
// vector-capable store: memory lifecycle with synchronous auto-linking,
// token-budgeted retrieval, and bounded subgraph traversal.
package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/scrypster/engram/internal/events"
	"github.com/scrypster/engram/internal/llm"
	"github.com/scrypster/engram/internal/metrics"
	"github.com/scrypster/engram/internal/storage"
	"github.com/scrypster/engram/pkg/types"
)

// MaxManualLinks caps the targets of one LinkMemories call.
const MaxManualLinks = 50

// CreateResult is the outcome of creating a memory.
type CreateResult struct {
	Memory       *types.Memory `json:"memory"`
	AutoLinkedTo []int64       `json:"auto_linked_to"`

	// AutoLinkError is set when the memory was stored but auto-linking
	// failed, so an empty AutoLinkedTo does not mean "nothing similar".
	AutoLinkError string `json:"auto_link_error,omitempty"`
}

// MemoryDetail is a memory with its link neighbourhood.
type MemoryDetail struct {
	*types.Memory

	// LinkedIDs lists every linked memory, obsolete ones included.
	LinkedIDs []int64 `json:"linked_ids"`

	// LinkedMemories are the non-obsolete linked memories, most important first.
	LinkedMemories []*types.Memory `json:"linked_memories"`
}

// MemoryService owns every write to memories and links. Each successful
// write publishes an activity event for the acting user.
type MemoryService struct {
	store    storage.Store
	embedder llm.EmbeddingProvider
	linker   *AutoLinker
	bus      *events.Bus
	logger   *zap.Logger
	metrics  *metrics.Collector
}

// NewMemoryService creates the memory service. bus, logger and m may be nil.
func NewMemoryService(store storage.Store, embedder llm.EmbeddingProvider, linker *AutoLinker, bus *events.Bus, logger *zap.Logger, m *metrics.Collector) *MemoryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryService{
		store:    store,
		embedder: embedder,
		linker:   linker,
		bus:      bus,
		logger:   logger,
		metrics:  m,
	}
}

// CreateMemory validates in, embeds it, stores memory, embedding and
// associations in one transaction, then auto-links the new memory.
//
// Nothing is stored when validation or embedding fails. An auto-link
// failure leaves the memory created without links and is reported in
// CreateResult.AutoLinkError.
func (s *MemoryService) CreateMemory(ctx context.Context, in types.MemoryInput) (*CreateResult, error) {
	if err := types.Validate(in); err != nil {
		return nil, err
	}
	m := &types.Memory{
		Title:           in.Title,
		Content:         in.Content,
		Context:         in.Context,
		Keywords:        in.Keywords,
		Tags:            in.Tags,
		Importance:      in.Importance,
		ProjectIDs:      in.ProjectIDs,
		DocumentIDs:     in.DocumentIDs,
		CodeArtifactIDs: in.CodeArtifactIDs,
	}
	if m.Importance == 0 {
		m.Importance = types.DefaultImportance
	}

	vec, err := s.embedder.Embed(ctx, m.EmbeddingText())
	if err != nil {
		return nil, fmt.Errorf("embed memory: %w", err)
	}
	m.Embedding = vec

	if err := s.store.CreateMemory(ctx, m); err != nil {
		return nil, err
	}

	linked := []int64{}
	var linkErr string
	if s.linker != nil {
		ids, err := s.linker.Link(ctx, m)
		if err != nil {
			linkErr = err.Error()
			s.logger.Error("auto-link failed", zap.Int64("memory_id", m.ID), zap.Error(err))
		} else if ids != nil {
			linked = ids
		}
	}
	s.metrics.MemoryCreated(len(linked))

	s.logger.Info("memory created",
		zap.Int64("memory_id", m.ID),
		zap.Int("importance", m.Importance),
		zap.Int64s("auto_linked_to", linked))
	data := map[string]interface{}{
		"memory_id":      m.ID,
		"title":          m.Title,
		"auto_linked_to": linked,
	}
	if linkErr != "" {
		data["auto_link_error"] = linkErr
	}
	s.bus.Publish(events.UserFromContext(ctx), events.TypeMemoryCreated, data)
	return &CreateResult{Memory: m, AutoLinkedTo: linked, AutoLinkError: linkErr}, nil
}

// GetMemory returns a memory with its links.
func (s *MemoryService) GetMemory(ctx context.Context, id int64) (*MemoryDetail, error) {
	m, err := s.store.GetMemory(ctx, id)
	if err != nil {
		return nil, err
	}
	ids, err := s.store.LinkedIDs(ctx, id)
	if err != nil {
		return nil, err
	}
	linked, err := s.store.GetLinkedMemories(ctx, id, storage.LinkQuery{Limit: MaxRetrievalK})
	if err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []int64{}
	}
	if linked == nil {
		linked = []*types.Memory{}
	}
	return &MemoryDetail{Memory: m, LinkedIDs: ids, LinkedMemories: linked}, nil
}

// ListMemories pages through memories.
func (s *MemoryService) ListMemories(ctx context.Context, opts storage.ListOptions) (*storage.PaginatedResult[*types.Memory], error) {
	return s.store.ListMemories(ctx, opts)
}

// UpdateMemory applies patch to a memory. The embedding is regenerated when
// a content-bearing field changes; existing links are kept.
func (s *MemoryService) UpdateMemory(ctx context.Context, id int64, patch types.MemoryPatch) (*types.Memory, error) {
	if err := types.Validate(patch); err != nil {
		return nil, err
	}
	m, err := s.store.GetMemory(ctx, id)
	if err != nil {
		return nil, err
	}
	patch.Apply(m)

	reembed := patch.TouchesEmbedding()
	m.Embedding = nil
	if reembed {
		vec, err := s.embedder.Embed(ctx, m.EmbeddingText())
		if err != nil {
			return nil, fmt.Errorf("embed memory: %w", err)
		}
		m.Embedding = vec
	}
	if err := s.store.UpdateMemory(ctx, m); err != nil {
		return nil, err
	}

	s.logger.Info("memory updated", zap.Int64("memory_id", id), zap.Bool("reembedded", reembed))
	s.bus.Publish(events.UserFromContext(ctx), events.TypeMemoryUpdated, map[string]interface{}{
		"memory_id":  id,
		"reembedded": reembed,
	})
	return m, nil
}

// MarkObsolete soft-deletes a memory. supersededBy, when set, must name
// another existing memory.
func (s *MemoryService) MarkObsolete(ctx context.Context, id int64, reason string, supersededBy *int64) error {
	if reason == "" {
		return types.NewValidationError("reason", "is required")
	}
	if len([]rune(reason)) > types.MaxContextLength {
		return types.NewValidationError("reason", "must be at most %d characters", types.MaxContextLength)
	}
	if err := s.store.MarkObsolete(ctx, id, reason, supersededBy); err != nil {
		return err
	}

	data := map[string]interface{}{"memory_id": id, "reason": reason}
	if supersededBy != nil {
		data["superseded_by"] = *supersededBy
	}
	s.logger.Info("memory marked obsolete", zap.Int64("memory_id", id))
	s.bus.Publish(events.UserFromContext(ctx), events.TypeMemoryObsoleted, data)
	return nil
}

// LinkMemories manually links id to each target and returns the targets for
// which a new link was created.
func (s *MemoryService) LinkMemories(ctx context.Context, id int64, targets []int64) ([]int64, error) {
	if len(targets) == 0 {
		return nil, types.NewValidationError("target_ids", "is required")
	}
	if len(targets) > MaxManualLinks {
		return nil, types.NewValidationError("target_ids", "must have at most %d items", MaxManualLinks)
	}
	for _, t := range targets {
		if t == id {
			return nil, types.NewValidationError("target_ids", "cannot link memory %d to itself", id)
		}
		if t <= 0 {
			return nil, types.NewValidationError("target_ids", "must be greater than 0")
		}
	}

	created, err := s.store.CreateLinks(ctx, id, targets)
	if err != nil {
		return nil, err
	}
	if created == nil {
		created = []int64{}
	}
	if len(created) > 0 {
		s.bus.Publish(events.UserFromContext(ctx), events.TypeLinkCreated, map[string]interface{}{
			"memory_id":  id,
			"target_ids": created,
		})
	}
	return created, nil
}

// UnlinkMemories removes the link between a and b.
func (s *MemoryService) UnlinkMemories(ctx context.Context, a, b int64) error {
	if err := s.store.DeleteLink(ctx, a, b); err != nil {
		return err
	}
	s.bus.Publish(events.UserFromContext(ctx), events.TypeLinkDeleted, map[string]interface{}{
		"memory_id": a,
		"target_id": b,
	})
	return nil
}
