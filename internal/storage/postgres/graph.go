package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/scrypster/engram/internal/storage"
	"github.com/scrypster/engram/pkg/types"
)

// Edges returns the association rows of kind touching left or right ids.
func (s *Store) Edges(ctx context.Context, kind types.EdgeKind, left, right []int64) ([]storage.Pair, error) {
	t, ok := storage.EdgeTables[kind]
	if !ok {
		return nil, types.NewValidationError("edge_kind", "unsupported edge kind %q", kind)
	}
	left, right = storage.UniqueIDs(left), storage.UniqueIDs(right)
	if len(left) == 0 && len(right) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf(`SELECT %[1]s, %[2]s FROM %[3]s
		WHERE %[2]s IS NOT NULL AND (%[1]s = ANY($1) OR %[2]s = ANY($2))
		ORDER BY %[1]s, %[2]s`, t.LeftCol, t.RightCol, t.Table)
	rows, err := s.db.QueryContext(ctx, query, pq.Int64Array(left), pq.Int64Array(right))
	if err != nil {
		return nil, wrap("Edges", err)
	}
	defer rows.Close()

	var out []storage.Pair
	for rows.Next() {
		var p storage.Pair
		if err := rows.Scan(&p.Left, &p.Right); err != nil {
			return nil, wrap("Edges", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("Edges", err)
	}
	return out, nil
}

// EntityRelationships returns relationships touching any of entityIDs.
func (s *Store) EntityRelationships(ctx context.Context, entityIDs []int64) ([]*types.Relationship, error) {
	ids := storage.UniqueIDs(entityIDs)
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_entity_id, target_entity_id, relationship_type, strength, confidence, metadata, created_at, updated_at
		FROM entity_relationships
		WHERE source_entity_id = ANY($1) OR target_entity_id = ANY($1)
		ORDER BY id`, pq.Int64Array(ids))
	if err != nil {
		return nil, wrap("EntityRelationships", err)
	}
	defer rows.Close()

	var out []*types.Relationship
	for rows.Next() {
		var (
			r        types.Relationship
			metadata []byte
		)
		if err := rows.Scan(&r.ID, &r.SourceEntityID, &r.TargetEntityID, &r.RelationshipType,
			&r.Strength, &r.Confidence, &metadata, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, wrap("EntityRelationships", err)
		}
		r.Metadata = unmarshalMap(metadata)
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("EntityRelationships", err)
	}
	return out, nil
}

// Nodes loads display data for the existing nodes of kind among ids.
func (s *Store) Nodes(ctx context.Context, kind types.NodeKind, ids []int64) (map[int64]storage.Node, error) {
	ids = storage.UniqueIDs(ids)
	if len(ids) == 0 {
		return map[int64]storage.Node{}, nil
	}

	var (
		query string
		scan  func(rows *sql.Rows) (storage.Node, error)
	)
	switch kind {
	case types.NodeMemory:
		query = "SELECT id, title, left(content, 200), length(content) > 200, importance, tags, is_obsolete, created_at FROM memories WHERE id = ANY($1)"
		scan = func(rows *sql.Rows) (storage.Node, error) {
			var (
				n          storage.Node
				title      string
				preview    string
				truncated  bool
				importance int
				tags       pq.StringArray
				createdAt  time.Time
			)
			if err := rows.Scan(&n.ID, &title, &preview, &truncated, &importance, &tags, &n.Obsolete, &createdAt); err != nil {
				return n, err
			}
			if truncated {
				preview += "..."
			}
			n.Data = map[string]interface{}{
				"title":       title,
				"preview":     preview,
				"importance":  importance,
				"tags":        nilIfEmpty(tags),
				"is_obsolete": n.Obsolete,
				"created_at":  createdAt,
			}
			return n, nil
		}
	case types.NodeEntity:
		query = "SELECT id, name, entity_type, custom_type FROM entities WHERE id = ANY($1)"
		scan = func(rows *sql.Rows) (storage.Node, error) {
			var (
				n                            storage.Node
				name, entityType, customType string
			)
			if err := rows.Scan(&n.ID, &name, &entityType, &customType); err != nil {
				return n, err
			}
			n.Data = map[string]interface{}{"name": name, "entity_type": entityType}
			if customType != "" {
				n.Data["custom_type"] = customType
			}
			return n, nil
		}
	case types.NodeProject:
		query = "SELECT id, name, project_type, status FROM projects WHERE id = ANY($1)"
		scan = func(rows *sql.Rows) (storage.Node, error) {
			var (
				n                         storage.Node
				name, projectType, status string
			)
			if err := rows.Scan(&n.ID, &name, &projectType, &status); err != nil {
				return n, err
			}
			n.Data = map[string]interface{}{"name": name, "project_type": projectType, "status": status}
			return n, nil
		}
	case types.NodeDocument:
		query = "SELECT id, title, document_type, project_id FROM documents WHERE id = ANY($1)"
		scan = func(rows *sql.Rows) (storage.Node, error) {
			var (
				n                   storage.Node
				title, documentType string
				projectID           sql.NullInt64
			)
			if err := rows.Scan(&n.ID, &title, &documentType, &projectID); err != nil {
				return n, err
			}
			n.Data = map[string]interface{}{"title": title, "document_type": documentType}
			if projectID.Valid {
				n.Data["project_id"] = projectID.Int64
			}
			return n, nil
		}
	case types.NodeCodeArtifact:
		query = "SELECT id, title, language, project_id FROM code_artifacts WHERE id = ANY($1)"
		scan = func(rows *sql.Rows) (storage.Node, error) {
			var (
				n               storage.Node
				title, language string
				projectID       sql.NullInt64
			)
			if err := rows.Scan(&n.ID, &title, &language, &projectID); err != nil {
				return n, err
			}
			n.Data = map[string]interface{}{"title": title, "language": language}
			if projectID.Valid {
				n.Data["project_id"] = projectID.Int64
			}
			return n, nil
		}
	default:
		return nil, types.NewValidationError("node_type", "unsupported node kind %q", kind)
	}

	rows, err := s.db.QueryContext(ctx, query, pq.Int64Array(ids))
	if err != nil {
		return nil, wrap("Nodes", err)
	}
	defer rows.Close()

	out := make(map[int64]storage.Node, len(ids))
	for rows.Next() {
		n, err := scan(rows)
		if err != nil {
			return nil, wrap("Nodes", err)
		}
		out[n.ID] = n
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("Nodes", err)
	}
	return out, nil
}
