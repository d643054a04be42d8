// Package types defines the core data structures for the Engram knowledge
// store: memories and their links, entities and relationships, and the
// organizational containers (projects, documents, code artifacts) that appear
// as nodes in the knowledge graph.
package types

// Field limits enforced on every write path.
const (
	MaxTitleLength   = 200
	MaxContentLength = 2000
	MaxContextLength = 500
	MaxKeywords      = 10
	MaxTags          = 10
	MaxAliases       = 10

	MinImportance = 1
	MaxImportance = 10

	// DefaultImportance is used when a create request leaves importance unset.
	DefaultImportance = 5
)

// EntityType classifies a concrete real-world thing.
type EntityType string

// Entity type constants
const (
	EntityTypeIndividual   EntityType = "Individual"
	EntityTypeOrganization EntityType = "Organization"
	EntityTypeTeam         EntityType = "Team"
	EntityTypeDevice       EntityType = "Device"
	EntityTypeOther        EntityType = "Other"
)

// ValidEntityTypes is a slice of all valid entity types for validation
var ValidEntityTypes = []EntityType{
	EntityTypeIndividual,
	EntityTypeOrganization,
	EntityTypeTeam,
	EntityTypeDevice,
	EntityTypeOther,
}

// IsValidEntityType checks if the given entity type is valid
func IsValidEntityType(entityType EntityType) bool {
	for _, t := range ValidEntityTypes {
		if t == entityType {
			return true
		}
	}
	return false
}

// NodeKind identifies the kind of a knowledge-graph node.
type NodeKind string

// Node kinds reachable by graph traversal.
const (
	NodeMemory       NodeKind = "memory"
	NodeEntity       NodeKind = "entity"
	NodeProject      NodeKind = "project"
	NodeDocument     NodeKind = "document"
	NodeCodeArtifact NodeKind = "code_artifact"
)

// AllNodeKinds lists every node kind in a stable order.
var AllNodeKinds = []NodeKind{NodeMemory, NodeEntity, NodeProject, NodeDocument, NodeCodeArtifact}

// IsValidNodeKind reports whether k is a known node kind.
func IsValidNodeKind(k NodeKind) bool {
	for _, known := range AllNodeKinds {
		if known == k {
			return true
		}
	}
	return false
}

// EdgeKind identifies the kind of a knowledge-graph edge.
type EdgeKind string

// Edge kinds followed by graph traversal.
const (
	EdgeMemoryLink          EdgeKind = "memory_link"
	EdgeEntityMemory        EdgeKind = "entity_memory"
	EdgeEntityRelationship  EdgeKind = "entity_relationship"
	EdgeMemoryProject       EdgeKind = "memory_project"
	EdgeDocumentProject     EdgeKind = "document_project"
	EdgeCodeArtifactProject EdgeKind = "code_artifact_project"
	EdgeMemoryDocument      EdgeKind = "memory_document"
	EdgeMemoryCodeArtifact  EdgeKind = "memory_code_artifact"
)
