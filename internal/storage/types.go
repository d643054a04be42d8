package storage

import (
	"errors"

	"github.com/scrypster/engram/pkg/types"
)

var (
	// ErrNotFound indicates that the requested resource was not found.
	// Stores return a *types.NotFoundError that matches it via errors.Is.
	ErrNotFound = errors.New("resource not found")

	// ErrDimensionMismatch indicates a vector of the wrong length was
	// written or queried.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// PaginatedResult represents a paginated result set with type safety using generics.
type PaginatedResult[T any] struct {
	// Items is the slice of results for the current page.
	Items []T

	// Total is the total number of items across all pages.
	Total int

	// Page is the current page number (1-indexed).
	Page int

	// PageSize is the number of items per page.
	PageSize int

	// HasMore indicates whether there are more pages available.
	HasMore bool
}

// ListOptions provides pagination and filtering options for list operations.
type ListOptions struct {
	// Page is the page number to retrieve (1-indexed, default: 1).
	Page int

	// Limit is the number of items per page (default: 10, max: 100).
	Limit int

	// SortBy specifies the field to sort by ("created_at", "updated_at", "importance", "id").
	SortBy string

	// SortOrder specifies the sort direction ("asc" or "desc", default: "desc").
	SortOrder string

	// ProjectID restricts results to memories associated with a project.
	ProjectID int64

	// IncludeObsolete includes soft-deleted memories.
	IncludeObsolete bool
}

// Normalize applies defaults and validates the ListOptions.
func (o *ListOptions) Normalize() {
	// Whitelist validation for SortBy to prevent SQL injection
	allowedSortFields := map[string]bool{
		"created_at": true,
		"updated_at": true,
		"importance": true,
		"id":         true,
	}
	if !allowedSortFields[o.SortBy] {
		o.SortBy = "created_at"
	}
	if o.SortOrder != "asc" && o.SortOrder != "desc" {
		o.SortOrder = "desc"
	}
	if o.Page < 1 {
		o.Page = 1
	}
	if o.Limit < 1 {
		o.Limit = 10
	}
	if o.Limit > 100 {
		o.Limit = 100
	}
}

// Offset returns the row offset of the requested page.
func (o *ListOptions) Offset() int {
	return (o.Page - 1) * o.Limit
}

// SimilarityOptions constrains a top-K vector search.
type SimilarityOptions struct {
	// Limit is K (default: 50).
	Limit int

	// ExcludeIDs are never returned (e.g. the memory being linked).
	ExcludeIDs []int64

	// ProjectIDs restricts candidates to memories associated with any of them.
	ProjectIDs []int64

	// MinImportance drops memories below this importance; 0 disables.
	MinImportance int

	// IncludeObsolete admits obsolete memories as candidates.
	IncludeObsolete bool
}

// Normalize applies defaults.
func (o *SimilarityOptions) Normalize() {
	if o.Limit < 1 {
		o.Limit = 50
	}
}

// ScoredMemory is a similarity search hit. Score is the cosine similarity
// in [-1, 1]; higher is closer.
type ScoredMemory struct {
	Memory *types.Memory
	Score  float64
}

// LinkQuery constrains GetLinkedMemories.
type LinkQuery struct {
	// Limit caps the number of linked memories (default: 5).
	Limit int
	// ExcludeIDs are skipped (e.g. memories already in a result set).
	ExcludeIDs []int64
	// ProjectIDs restricts linked memories to the given projects.
	ProjectIDs []int64
}

// Pair is one association row: Left and Right are ids of the two node kinds
// named by the edge kind, in that order.
type Pair struct {
	Left  int64
	Right int64
}

// Node is a graph node's display data as loaded by GraphStore.Nodes.
type Node struct {
	ID       int64
	Obsolete bool
	Data     map[string]interface{}
}

// EdgeTable describes where an association edge kind is stored. Both SQL
// backends share it.
type EdgeTable struct {
	Table     string
	LeftCol   string
	RightCol  string
	LeftKind  types.NodeKind
	RightKind types.NodeKind
}

// EdgeTables maps every pairwise edge kind to its storage. Entity
// relationships carry their own data and are loaded separately.
var EdgeTables = map[types.EdgeKind]EdgeTable{
	types.EdgeMemoryLink:          {"memory_links", "source_id", "target_id", types.NodeMemory, types.NodeMemory},
	types.EdgeEntityMemory:        {"entity_memories", "entity_id", "memory_id", types.NodeEntity, types.NodeMemory},
	types.EdgeMemoryProject:       {"memory_projects", "memory_id", "project_id", types.NodeMemory, types.NodeProject},
	types.EdgeDocumentProject:     {"documents", "id", "project_id", types.NodeDocument, types.NodeProject},
	types.EdgeCodeArtifactProject: {"code_artifacts", "id", "project_id", types.NodeCodeArtifact, types.NodeProject},
	types.EdgeMemoryDocument:      {"memory_documents", "memory_id", "document_id", types.NodeMemory, types.NodeDocument},
	types.EdgeMemoryCodeArtifact:  {"memory_code_artifacts", "memory_id", "code_artifact_id", types.NodeMemory, types.NodeCodeArtifact},
}

// UniqueIDs returns ids without duplicates, preserving first occurrence.
func UniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// NotFound builds the NotFoundError stores return for a missing row.
func NotFound(kind string, id int64) error {
	return &notFound{types.NewNotFound(kind, id)}
}

// notFound lets errors.Is(err, ErrNotFound) and errors.As(err, **types.NotFoundError)
// both succeed on the same value.
type notFound struct{ *types.NotFoundError }

func (e *notFound) Is(target error) bool { return target == ErrNotFound }
func (e *notFound) Unwrap() error        { return e.NotFoundError }
