package types

import "time"

// Project groups memories, documents and code artifacts.
type Project struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name" validate:"required,max=200"`
	Description string    `json:"description,omitempty" validate:"max=2000"`
	ProjectType string    `json:"project_type,omitempty" validate:"max=50"` // e.g. "development", "work"
	Status      string    `json:"status,omitempty" validate:"max=50"`       // e.g. "active", "archived"
	RepoName    string    `json:"repo_name,omitempty" validate:"max=200"`
	Notes       string    `json:"notes,omitempty" validate:"max=4000"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Document is long-form reference material.
type Document struct {
	ID           int64     `json:"id"`
	ProjectID    *int64    `json:"project_id,omitempty" validate:"omitempty,gt=0"`
	Title        string    `json:"title" validate:"required,max=500"`
	Description  string    `json:"description,omitempty" validate:"max=2000"`
	Content      string    `json:"content" validate:"required"`
	DocumentType string    `json:"document_type,omitempty" validate:"max=50"`
	Filename     string    `json:"filename,omitempty" validate:"max=500"`
	SizeBytes    int64     `json:"size_bytes,omitempty"`
	Tags         []string  `json:"tags,omitempty" validate:"max=10,dive,required"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// CodeArtifact is a reusable code snippet.
type CodeArtifact struct {
	ID          int64     `json:"id"`
	ProjectID   *int64    `json:"project_id,omitempty" validate:"omitempty,gt=0"`
	Title       string    `json:"title" validate:"required,max=500"`
	Description string    `json:"description,omitempty" validate:"max=2000"`
	Code        string    `json:"code" validate:"required"`
	Language    string    `json:"language" validate:"required,max=50"`
	Tags        []string  `json:"tags,omitempty" validate:"max=10,dive,required"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
