package types

import (
	"strings"
	"time"
)

// Memory is an atomic, single-concept knowledge record. Memories are never
// physically removed: deletion marks them obsolete with an audit reason and an
// optional forward pointer to the memory that supersedes them.
type Memory struct {
	// Core identification fields
	ID        int64     `json:"id"`
	Title     string    `json:"title"`                  // Short summary (max 200 chars)
	Content   string    `json:"content"`                // Single concept (max 2000 chars)
	Context   string    `json:"context,omitempty"`      // Why the memory matters (max 500 chars)
	Keywords  []string  `json:"keywords,omitempty"`     // Search keywords (max 10)
	Tags      []string  `json:"tags,omitempty"`         // Categorization tags (max 10)
	CreatedAt time.Time `json:"created_at"`             // When the memory was created
	UpdatedAt time.Time `json:"updated_at"`             // Last update timestamp

	Importance int `json:"importance"` // 1 (trivial) .. 10 (critical)

	// Associations
	ProjectIDs      []int64 `json:"project_ids,omitempty"`
	DocumentIDs     []int64 `json:"document_ids,omitempty"`
	CodeArtifactIDs []int64 `json:"code_artifact_ids,omitempty"`

	// Soft delete and supersession chain
	IsObsolete     bool       `json:"is_obsolete"`
	ObsoleteReason string     `json:"obsolete_reason,omitempty"`
	SupersededBy   *int64     `json:"superseded_by,omitempty"`
	ObsoletedAt    *time.Time `json:"obsoleted_at,omitempty"`

	// Embedding is loaded only by callers that need it.
	Embedding []float32 `json:"-"`
}

// EmbeddingText returns the text a memory is embedded from. Any change to
// one of these fields requires the embedding to be regenerated.
func (m *Memory) EmbeddingText() string {
	return BuildEmbeddingText(m.Title, m.Content, m.Context, m.Keywords, m.Tags)
}

// BuildEmbeddingText joins the content-bearing fields of a memory.
func BuildEmbeddingText(title, content, context string, keywords, tags []string) string {
	parts := []string{title, content, context, strings.Join(keywords, " "), strings.Join(tags, " ")}
	var nonEmpty []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, " ")
}

// MemoryInput is the payload for creating a memory.
type MemoryInput struct {
	Title           string   `json:"title" validate:"required,max=200"`
	Content         string   `json:"content" validate:"required,max=2000"`
	Context         string   `json:"context" validate:"max=500"`
	Keywords        []string `json:"keywords" validate:"max=10,dive,required"`
	Tags            []string `json:"tags" validate:"max=10,dive,required"`
	Importance      int      `json:"importance" validate:"omitempty,min=1,max=10"`
	ProjectIDs      []int64  `json:"project_ids" validate:"dive,gt=0"`
	DocumentIDs     []int64  `json:"document_ids" validate:"dive,gt=0"`
	CodeArtifactIDs []int64  `json:"code_artifact_ids" validate:"dive,gt=0"`
}

// MemoryPatch is a PATCH-style update: nil fields are left unchanged.
type MemoryPatch struct {
	Title           *string   `json:"title,omitempty" validate:"omitempty,min=1,max=200"`
	Content         *string   `json:"content,omitempty" validate:"omitempty,min=1,max=2000"`
	Context         *string   `json:"context,omitempty" validate:"omitempty,max=500"`
	Keywords        *[]string `json:"keywords,omitempty" validate:"omitempty,max=10,dive,required"`
	Tags            *[]string `json:"tags,omitempty" validate:"omitempty,max=10,dive,required"`
	Importance      *int      `json:"importance,omitempty" validate:"omitempty,min=1,max=10"`
	ProjectIDs      *[]int64  `json:"project_ids,omitempty" validate:"omitempty,dive,gt=0"`
	DocumentIDs     *[]int64  `json:"document_ids,omitempty" validate:"omitempty,dive,gt=0"`
	CodeArtifactIDs *[]int64  `json:"code_artifact_ids,omitempty" validate:"omitempty,dive,gt=0"`
}

// TouchesEmbedding reports whether the patch changes a content-bearing field.
func (p *MemoryPatch) TouchesEmbedding() bool {
	return p.Title != nil || p.Content != nil || p.Context != nil || p.Keywords != nil || p.Tags != nil
}

// Apply copies the supplied fields of the patch onto m.
func (p *MemoryPatch) Apply(m *Memory) {
	if p.Title != nil {
		m.Title = *p.Title
	}
	if p.Content != nil {
		m.Content = *p.Content
	}
	if p.Context != nil {
		m.Context = *p.Context
	}
	if p.Keywords != nil {
		m.Keywords = *p.Keywords
	}
	if p.Tags != nil {
		m.Tags = *p.Tags
	}
	if p.Importance != nil {
		m.Importance = *p.Importance
	}
	if p.ProjectIDs != nil {
		m.ProjectIDs = *p.ProjectIDs
	}
	if p.DocumentIDs != nil {
		m.DocumentIDs = *p.DocumentIDs
	}
	if p.CodeArtifactIDs != nil {
		m.CodeArtifactIDs = *p.CodeArtifactIDs
	}
}

// Link is an undirected connection between two memories. Stored links are
// canonicalized so that SourceID < TargetID.
type Link struct {
	SourceID  int64     `json:"source_id"`
	TargetID  int64     `json:"target_id"`
	CreatedAt time.Time `json:"created_at"`
}

// CanonicalLink orders a pair of memory ids the way links are stored.
func CanonicalLink(a, b int64) (int64, int64) {
	if a < b {
		return a, b
	}
	return b, a
}
