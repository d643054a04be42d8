package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/scrypster/engram/internal/storage"
	"github.com/scrypster/engram/pkg/types"
)

// CreateProject inserts p.
func (s *Store) CreateProject(ctx context.Context, p *types.Project) error {
	if p == nil {
		return types.NewValidationError("project", "is required")
	}
	if p.Status == "" {
		p.Status = "active"
	}
	now := time.Now().UTC()
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO projects (name, description, project_type, status, repo_name, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		RETURNING id`,
		p.Name, p.Description, p.ProjectType, p.Status, p.RepoName, p.Notes, now).Scan(&p.ID)
	if err != nil {
		return wrap("CreateProject", err)
	}
	p.CreatedAt = now
	p.UpdatedAt = now
	return nil
}

// GetProject returns a project by id.
func (s *Store) GetProject(ctx context.Context, id int64) (*types.Project, error) {
	var p types.Project
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, project_type, status, repo_name, notes, created_at, updated_at
		FROM projects WHERE id = $1`, id).Scan(
		&p.ID, &p.Name, &p.Description, &p.ProjectType, &p.Status, &p.RepoName, &p.Notes,
		&p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.NotFound("project", id)
	}
	if err != nil {
		return nil, wrap("GetProject", err)
	}
	return &p, nil
}

// CreateDocument inserts d.
func (s *Store) CreateDocument(ctx context.Context, d *types.Document) error {
	if d == nil {
		return types.NewValidationError("document", "is required")
	}
	if d.SizeBytes == 0 {
		d.SizeBytes = int64(len(d.Content))
	}
	now := time.Now().UTC()

	var id int64
	err := s.withTx(ctx, "CreateDocument", func(tx *sql.Tx) error {
		if d.ProjectID != nil {
			if err := ensureExist(ctx, tx, "projects", "project", []int64{*d.ProjectID}); err != nil {
				return err
			}
		}
		return tx.QueryRowContext(ctx, `
			INSERT INTO documents (project_id, title, description, content, document_type, filename, size_bytes, tags, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
			RETURNING id`,
			nullableID(d.ProjectID), d.Title, d.Description, d.Content, d.DocumentType,
			d.Filename, d.SizeBytes, stringArray(d.Tags), now).Scan(&id)
	})
	if err != nil {
		return err
	}
	d.ID = id
	d.CreatedAt = now
	d.UpdatedAt = now
	return nil
}

// GetDocument returns a document by id.
func (s *Store) GetDocument(ctx context.Context, id int64) (*types.Document, error) {
	var (
		d         types.Document
		projectID sql.NullInt64
		tags      pq.StringArray
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, title, description, content, document_type, filename, size_bytes, tags, created_at, updated_at
		FROM documents WHERE id = $1`, id).Scan(
		&d.ID, &projectID, &d.Title, &d.Description, &d.Content, &d.DocumentType, &d.Filename,
		&d.SizeBytes, &tags, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.NotFound("document", id)
	}
	if err != nil {
		return nil, wrap("GetDocument", err)
	}
	if projectID.Valid {
		pid := projectID.Int64
		d.ProjectID = &pid
	}
	d.Tags = nilIfEmpty(tags)
	return &d, nil
}

// CreateCodeArtifact inserts c.
func (s *Store) CreateCodeArtifact(ctx context.Context, c *types.CodeArtifact) error {
	if c == nil {
		return types.NewValidationError("code_artifact", "is required")
	}
	now := time.Now().UTC()

	var id int64
	err := s.withTx(ctx, "CreateCodeArtifact", func(tx *sql.Tx) error {
		if c.ProjectID != nil {
			if err := ensureExist(ctx, tx, "projects", "project", []int64{*c.ProjectID}); err != nil {
				return err
			}
		}
		return tx.QueryRowContext(ctx, `
			INSERT INTO code_artifacts (project_id, title, description, code, language, tags, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
			RETURNING id`,
			nullableID(c.ProjectID), c.Title, c.Description, c.Code, c.Language,
			stringArray(c.Tags), now).Scan(&id)
	})
	if err != nil {
		return err
	}
	c.ID = id
	c.CreatedAt = now
	c.UpdatedAt = now
	return nil
}

// GetCodeArtifact returns a code artifact by id.
func (s *Store) GetCodeArtifact(ctx context.Context, id int64) (*types.CodeArtifact, error) {
	var (
		c         types.CodeArtifact
		projectID sql.NullInt64
		tags      pq.StringArray
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, title, description, code, language, tags, created_at, updated_at
		FROM code_artifacts WHERE id = $1`, id).Scan(
		&c.ID, &projectID, &c.Title, &c.Description, &c.Code, &c.Language, &tags,
		&c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.NotFound("code_artifact", id)
	}
	if err != nil {
		return nil, wrap("GetCodeArtifact", err)
	}
	if projectID.Valid {
		pid := projectID.Int64
		c.ProjectID = &pid
	}
	c.Tags = nilIfEmpty(tags)
	return &c, nil
}
