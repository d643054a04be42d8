package engine

import (
	"context"

	"github.com/scrypster/engram/internal/storage"
	"github.com/scrypster/engram/pkg/types"
)

// KnowledgeService manages the non-memory graph nodes: entities with their
// relationships, and the project, document and code artifact containers.
type KnowledgeService struct {
	store storage.Store
}

// NewKnowledgeService creates a knowledge service.
func NewKnowledgeService(store storage.Store) *KnowledgeService {
	return &KnowledgeService{store: store}
}

// CreateEntity validates and stores an entity.
func (k *KnowledgeService) CreateEntity(ctx context.Context, in types.EntityInput) (*types.Entity, error) {
	if err := types.Validate(in); err != nil {
		return nil, err
	}
	e := &types.Entity{
		Name:       in.Name,
		EntityType: in.EntityType,
		CustomType: in.CustomType,
		Notes:      in.Notes,
		AKA:        in.AKA,
		Tags:       in.Tags,
		Metadata:   in.Metadata,
		ProjectID:  in.ProjectID,
	}
	if err := k.store.CreateEntity(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// GetEntity returns an entity by id.
func (k *KnowledgeService) GetEntity(ctx context.Context, id int64) (*types.Entity, error) {
	return k.store.GetEntity(ctx, id)
}

// LinkEntityMemory associates an entity with a memory.
func (k *KnowledgeService) LinkEntityMemory(ctx context.Context, entityID, memoryID int64) error {
	return k.store.LinkEntityMemory(ctx, entityID, memoryID)
}

// CreateRelationship validates and stores a directed entity relationship.
// Strength and confidence default to 1.
func (k *KnowledgeService) CreateRelationship(ctx context.Context, in types.RelationshipInput) (*types.Relationship, error) {
	if err := types.Validate(in); err != nil {
		return nil, err
	}
	r := &types.Relationship{
		SourceEntityID:   in.SourceEntityID,
		TargetEntityID:   in.TargetEntityID,
		RelationshipType: in.RelationshipType,
		Strength:         1,
		Confidence:       1,
		Metadata:         in.Metadata,
	}
	if in.Strength != nil {
		r.Strength = *in.Strength
	}
	if in.Confidence != nil {
		r.Confidence = *in.Confidence
	}
	if err := k.store.CreateRelationship(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// CreateProject validates and stores a project.
func (k *KnowledgeService) CreateProject(ctx context.Context, p *types.Project) error {
	if err := types.Validate(p); err != nil {
		return err
	}
	return k.store.CreateProject(ctx, p)
}

// GetProject returns a project by id.
func (k *KnowledgeService) GetProject(ctx context.Context, id int64) (*types.Project, error) {
	return k.store.GetProject(ctx, id)
}

// CreateDocument validates and stores a document.
func (k *KnowledgeService) CreateDocument(ctx context.Context, d *types.Document) error {
	if err := types.Validate(d); err != nil {
		return err
	}
	return k.store.CreateDocument(ctx, d)
}

// GetDocument returns a document by id.
func (k *KnowledgeService) GetDocument(ctx context.Context, id int64) (*types.Document, error) {
	return k.store.GetDocument(ctx, id)
}

// CreateCodeArtifact validates and stores a code artifact.
func (k *KnowledgeService) CreateCodeArtifact(ctx context.Context, c *types.CodeArtifact) error {
	if err := types.Validate(c); err != nil {
		return err
	}
	return k.store.CreateCodeArtifact(ctx, c)
}

// GetCodeArtifact returns a code artifact by id.
func (k *KnowledgeService) GetCodeArtifact(ctx context.Context, id int64) (*types.CodeArtifact, error) {
	return k.store.GetCodeArtifact(ctx, id)
}
