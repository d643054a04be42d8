// Package storage defines the interfaces of the vector-capable knowledge
// store. Two implementations exist: sqlite (embedded, exact vector scan) and
// postgres (pgvector top-K).
//
// Every failure is returned as a *types.StoreError, except missing rows,
// which are reported as *types.NotFoundError (also matching ErrNotFound).
// Multi-row writes are transactional: a returned error means nothing was
// committed.
package storage

import (
	"context"

	"github.com/scrypster/engram/pkg/types"
)

// MemoryStore persists memories and their associations.
type MemoryStore interface {
	// CreateMemory inserts m, its embedding (if set) and its project,
	// document and code artifact associations in one transaction, and sets
	// m.ID, m.CreatedAt and m.UpdatedAt.
	CreateMemory(ctx context.Context, m *types.Memory) error

	GetMemory(ctx context.Context, id int64) (*types.Memory, error)

	// GetMemories returns the memories that exist among ids, in ids order.
	GetMemories(ctx context.Context, ids []int64) ([]*types.Memory, error)

	// UpdateMemory rewrites the mutable fields and associations of m. The
	// embedding is replaced only when m.Embedding is non-nil.
	UpdateMemory(ctx context.Context, m *types.Memory) error

	// MarkObsolete soft-deletes a memory. supersededBy, when set, must
	// reference an existing memory.
	MarkObsolete(ctx context.Context, id int64, reason string, supersededBy *int64) error

	ListMemories(ctx context.Context, opts ListOptions) (*PaginatedResult[*types.Memory], error)

	// CountMemories counts all memories, obsolete ones included.
	CountMemories(ctx context.Context) (int, error)
}

// LinkStore persists undirected memory links.
type LinkStore interface {
	// CreateLinks links sourceID to each target and returns the targets for
	// which a new link was created. Self links and existing links are skipped.
	CreateLinks(ctx context.Context, sourceID int64, targetIDs []int64) ([]int64, error)

	// DeleteLink removes the link between a and b in either direction.
	DeleteLink(ctx context.Context, a, b int64) error

	// GetLinkedMemories returns non-obsolete memories linked to id in either
	// direction, ordered by importance desc then id asc.
	GetLinkedMemories(ctx context.Context, id int64, q LinkQuery) ([]*types.Memory, error)

	// LinkedIDs returns every memory id linked to id.
	LinkedIDs(ctx context.Context, id int64) ([]int64, error)
}

// VectorStore is the similarity-search and bulk-embedding boundary.
type VectorStore interface {
	// SimilaritySearch returns the top-K memories by cosine similarity to
	// query, best first, ties broken by id ascending.
	SimilaritySearch(ctx context.Context, query []float32, opts SimilarityOptions) ([]ScoredMemory, error)

	// EmbeddingDimensions is the dimensionality the vector storage is sized for.
	EmbeddingDimensions(ctx context.Context) (int, error)

	// ResizeEmbeddings drops every stored vector and re-sizes vector storage
	// to dims.
	ResizeEmbeddings(ctx context.Context, dims int) error

	// ListMemoriesForEmbedding pages through all memories (obsolete included)
	// in id order.
	ListMemoriesForEmbedding(ctx context.Context, offset, limit int) ([]*types.Memory, error)

	// BulkUpdateEmbeddings overwrites the vectors of the given memories in
	// one transaction.
	BulkUpdateEmbeddings(ctx context.Context, vectors map[int64][]float32) error

	// CountEmbeddings counts memories that have a stored vector.
	CountEmbeddings(ctx context.Context) (int, error)

	// SampleEmbeddingDimensions returns the length of up to n stored vectors.
	SampleEmbeddingDimensions(ctx context.Context, n int) ([]int, error)
}

// EntityStore persists entities, their memory associations and their
// relationships.
type EntityStore interface {
	CreateEntity(ctx context.Context, e *types.Entity) error
	GetEntity(ctx context.Context, id int64) (*types.Entity, error)
	LinkEntityMemory(ctx context.Context, entityID, memoryID int64) error
	CreateRelationship(ctx context.Context, r *types.Relationship) error
}

// ProjectStore persists projects, documents and code artifacts.
type ProjectStore interface {
	CreateProject(ctx context.Context, p *types.Project) error
	GetProject(ctx context.Context, id int64) (*types.Project, error)
	CreateDocument(ctx context.Context, d *types.Document) error
	GetDocument(ctx context.Context, id int64) (*types.Document, error)
	CreateCodeArtifact(ctx context.Context, c *types.CodeArtifact) error
	GetCodeArtifact(ctx context.Context, id int64) (*types.CodeArtifact, error)
}

// GraphStore answers the batched neighbour queries graph traversal issues
// once per hop level.
type GraphStore interface {
	// Edges returns rows of the given pairwise edge kind whose left endpoint
	// is in left or whose right endpoint is in right.
	Edges(ctx context.Context, kind types.EdgeKind, left, right []int64) ([]Pair, error)

	// EntityRelationships returns relationships touching any of entityIDs.
	EntityRelationships(ctx context.Context, entityIDs []int64) ([]*types.Relationship, error)

	// Nodes loads display data for the existing nodes among ids.
	Nodes(ctx context.Context, kind types.NodeKind, ids []int64) (map[int64]Node, error)
}

// Store is the full vector-capable store.
type Store interface {
	MemoryStore
	LinkStore
	VectorStore
	EntityStore
	ProjectStore
	GraphStore

	// Backend names the implementation ("sqlite" or "postgres").
	Backend() string

	// Persistent is false for stores that vanish with the process.
	Persistent() bool

	// Ping checks that the database is reachable.
	Ping(ctx context.Context) error

	Close() error
}
