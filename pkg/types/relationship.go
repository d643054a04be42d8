package types

import "time"

// Relationship is a typed, directed, weighted edge between two entities.
// A (source, target, type) triple is unique.
type Relationship struct {
	ID               int64                  `json:"id"`
	SourceEntityID   int64                  `json:"source_entity_id"`
	TargetEntityID   int64                  `json:"target_entity_id"`
	RelationshipType string                 `json:"relationship_type"` // e.g. "works_for", "owns"
	Strength         float64                `json:"strength"`          // 0.0-1.0
	Confidence       float64                `json:"confidence"`        // 0.0-1.0
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at"`
}

// RelationshipInput is the payload for creating a relationship.
type RelationshipInput struct {
	SourceEntityID   int64                  `json:"source_entity_id" validate:"required,gt=0"`
	TargetEntityID   int64                  `json:"target_entity_id" validate:"required,gt=0,nefield=SourceEntityID"`
	RelationshipType string                 `json:"relationship_type" validate:"required,max=100"`
	Strength         *float64               `json:"strength" validate:"omitempty,min=0,max=1"`
	Confidence       *float64               `json:"confidence" validate:"omitempty,min=0,max=1"`
	Metadata         map[string]interface{} `json:"metadata"`
}
