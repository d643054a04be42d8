package types

import "time"

// Entity represents a concrete real-world thing: a person, an organization,
// a team, a device. Entities attach to memories through non-exclusive
// associations and to each other through typed Relationships.
type Entity struct {
	ID         int64                  `json:"id"`
	Name       string                 `json:"name"`
	EntityType EntityType             `json:"entity_type"`
	CustomType string                 `json:"custom_type,omitempty"` // Free-form refinement when EntityType is Other
	Notes      string                 `json:"notes,omitempty"`
	AKA        []string               `json:"aka,omitempty"`      // Alternative names (max 10)
	Tags       []string               `json:"tags,omitempty"`     // Categorization tags (max 10)
	Metadata   map[string]interface{} `json:"metadata,omitempty"` // Open key-value metadata
	ProjectID  *int64                 `json:"project_id,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
	UpdatedAt  time.Time              `json:"updated_at"`
}

// EntityInput is the payload for creating an entity.
type EntityInput struct {
	Name       string                 `json:"name" validate:"required,max=200"`
	EntityType EntityType             `json:"entity_type" validate:"required,entitytype"`
	CustomType string                 `json:"custom_type" validate:"max=100"`
	Notes      string                 `json:"notes" validate:"max=2000"`
	AKA        []string               `json:"aka" validate:"max=10,dive,required"`
	Tags       []string               `json:"tags" validate:"max=10,dive,required"`
	Metadata   map[string]interface{} `json:"metadata"`
	ProjectID  *int64                 `json:"project_id" validate:"omitempty,gt=0"`
}
