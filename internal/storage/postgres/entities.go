package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/scrypster/engram/internal/storage"
	"github.com/scrypster/engram/pkg/types"
)

// CreateEntity inserts e and sets its ID and timestamps.
func (s *Store) CreateEntity(ctx context.Context, e *types.Entity) error {
	if e == nil {
		return types.NewValidationError("entity", "is required")
	}
	metadata, err := marshalMap(e.Metadata)
	if err != nil {
		return types.NewValidationError("metadata", "%v", err)
	}
	now := time.Now().UTC()

	var id int64
	err = s.withTx(ctx, "CreateEntity", func(tx *sql.Tx) error {
		if e.ProjectID != nil {
			if err := ensureExist(ctx, tx, "projects", "project", []int64{*e.ProjectID}); err != nil {
				return err
			}
		}
		return tx.QueryRowContext(ctx, `
			INSERT INTO entities (name, entity_type, custom_type, notes, aka, tags, metadata, project_id, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
			RETURNING id`,
			e.Name, string(e.EntityType), e.CustomType, e.Notes, stringArray(e.AKA),
			stringArray(e.Tags), metadata, nullableID(e.ProjectID), now).Scan(&id)
	})
	if err != nil {
		return err
	}
	e.ID = id
	e.CreatedAt = now
	e.UpdatedAt = now
	return nil
}

// GetEntity returns an entity by id.
func (s *Store) GetEntity(ctx context.Context, id int64) (*types.Entity, error) {
	var (
		e          types.Entity
		entityType string
		aka, tags  pq.StringArray
		metadata   []byte
		projectID  sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, entity_type, custom_type, notes, aka, tags, metadata, project_id, created_at, updated_at
		FROM entities WHERE id = $1`, id).Scan(
		&e.ID, &e.Name, &entityType, &e.CustomType, &e.Notes, &aka, &tags, &metadata,
		&projectID, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.NotFound("entity", id)
	}
	if err != nil {
		return nil, wrap("GetEntity", err)
	}
	e.EntityType = types.EntityType(entityType)
	e.AKA = nilIfEmpty(aka)
	e.Tags = nilIfEmpty(tags)
	e.Metadata = unmarshalMap(metadata)
	if projectID.Valid {
		pid := projectID.Int64
		e.ProjectID = &pid
	}
	return &e, nil
}

// LinkEntityMemory associates an entity with a memory idempotently.
func (s *Store) LinkEntityMemory(ctx context.Context, entityID, memoryID int64) error {
	return s.withTx(ctx, "LinkEntityMemory", func(tx *sql.Tx) error {
		if err := ensureExist(ctx, tx, "entities", "entity", []int64{entityID}); err != nil {
			return err
		}
		if err := ensureExist(ctx, tx, "memories", "memory", []int64{memoryID}); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO entity_memories (entity_id, memory_id) VALUES ($1, $2)
			ON CONFLICT (entity_id, memory_id) DO NOTHING`, entityID, memoryID)
		return err
	})
}

// CreateRelationship upserts r on its (source, target, type) triple.
func (s *Store) CreateRelationship(ctx context.Context, r *types.Relationship) error {
	if r == nil {
		return types.NewValidationError("relationship", "is required")
	}
	if r.SourceEntityID == r.TargetEntityID {
		return types.NewValidationError("target_entity_id", "must differ from source_entity_id")
	}
	if r.Strength == 0 {
		r.Strength = 1.0
	}
	if r.Confidence == 0 {
		r.Confidence = 1.0
	}
	metadata, err := marshalMap(r.Metadata)
	if err != nil {
		return types.NewValidationError("metadata", "%v", err)
	}
	now := time.Now().UTC()

	var id int64
	var createdAt time.Time
	err = s.withTx(ctx, "CreateRelationship", func(tx *sql.Tx) error {
		if err := ensureExist(ctx, tx, "entities", "entity", []int64{r.SourceEntityID, r.TargetEntityID}); err != nil {
			return err
		}
		err := tx.QueryRowContext(ctx, `
			INSERT INTO entity_relationships
				(source_entity_id, target_entity_id, relationship_type, strength, confidence, metadata, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
			ON CONFLICT (source_entity_id, target_entity_id, relationship_type) DO UPDATE SET
				strength = excluded.strength,
				confidence = excluded.confidence,
				metadata = excluded.metadata,
				updated_at = excluded.updated_at
			RETURNING id, created_at`,
			r.SourceEntityID, r.TargetEntityID, r.RelationshipType, r.Strength, r.Confidence,
			metadata, now).Scan(&id, &createdAt)
		if err != nil {
			return fmt.Errorf("upsert relationship: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	r.ID = id
	r.CreatedAt = createdAt
	r.UpdatedAt = now
	return nil
}
