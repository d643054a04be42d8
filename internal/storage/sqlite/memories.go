package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/scrypster/engram/internal/storage"
	"github.com/scrypster/engram/pkg/types"
)

// memorySelectColumns lists the columns scanned by scanMemory, in order.
const memorySelectColumns = `m.id, m.title, m.content, m.context, m.keywords, m.tags, m.importance,
	m.is_obsolete, m.obsolete_reason, m.superseded_by, m.obsoleted_at, m.created_at, m.updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMemory(row rowScanner, extra ...interface{}) (*types.Memory, error) {
	var (
		m            types.Memory
		keywords     string
		tags         string
		supersededBy sql.NullInt64
		obsoletedAt  sql.NullTime
	)
	dest := []interface{}{
		&m.ID, &m.Title, &m.Content, &m.Context, &keywords, &tags, &m.Importance,
		&m.IsObsolete, &m.ObsoleteReason, &supersededBy, &obsoletedAt, &m.CreatedAt, &m.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	m.Keywords = unmarshalStrings(keywords)
	m.Tags = unmarshalStrings(tags)
	if supersededBy.Valid {
		id := supersededBy.Int64
		m.SupersededBy = &id
	}
	if obsoletedAt.Valid {
		t := obsoletedAt.Time
		m.ObsoletedAt = &t
	}
	return &m, nil
}

// CreateMemory inserts a memory with its embedding and associations.
func (s *Store) CreateMemory(ctx context.Context, m *types.Memory) error {
	if m == nil {
		return types.NewValidationError("memory", "is required")
	}
	if m.Importance == 0 {
		m.Importance = types.DefaultImportance
	}
	now := time.Now().UTC()

	var id int64
	err := s.withTx(ctx, "CreateMemory", func(tx *sql.Tx) error {
		if err := s.checkDimensions(ctx, tx, m.Embedding); err != nil {
			return err
		}
		if err := ensureAssociationsExist(ctx, tx, m); err != nil {
			return err
		}

		var blob interface{}
		if m.Embedding != nil {
			blob = encodeEmbedding(m.Embedding)
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO memories (title, content, context, keywords, tags, importance, embedding, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			m.Title, m.Content, m.Context, marshalStrings(m.Keywords), marshalStrings(m.Tags),
			m.Importance, blob, now, now)
		if err != nil {
			return fmt.Errorf("insert memory: %w", err)
		}
		if id, err = res.LastInsertId(); err != nil {
			return err
		}
		return replaceAssociations(ctx, tx, id, m)
	})
	if err != nil {
		return err
	}

	m.ID = id
	m.CreatedAt = now
	m.UpdatedAt = now
	return nil
}

// GetMemory returns a memory with its associations.
func (s *Store) GetMemory(ctx context.Context, id int64) (*types.Memory, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+memorySelectColumns+" FROM memories m WHERE m.id = ?", id)
	m, err := scanMemory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.NotFound("memory", id)
	}
	if err != nil {
		return nil, wrap("GetMemory", err)
	}
	if err := loadAssociations(ctx, s.db, []*types.Memory{m}); err != nil {
		return nil, wrap("GetMemory", err)
	}
	return m, nil
}

// GetMemories returns the existing memories among ids, in ids order.
func (s *Store) GetMemories(ctx context.Context, ids []int64) ([]*types.Memory, error) {
	ids = storage.UniqueIDs(ids)
	if len(ids) == 0 {
		return nil, nil
	}
	mems, err := s.queryMemories(ctx, s.db,
		"SELECT "+memorySelectColumns+" FROM memories m WHERE m.id IN ("+buildInClause(len(ids))+")",
		int64Args(ids)...)
	if err != nil {
		return nil, wrap("GetMemories", err)
	}

	byID := make(map[int64]*types.Memory, len(mems))
	for _, m := range mems {
		byID[m.ID] = m
	}
	out := make([]*types.Memory, 0, len(mems))
	for _, id := range ids {
		if m, ok := byID[id]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

// UpdateMemory rewrites the mutable fields of m.
func (s *Store) UpdateMemory(ctx context.Context, m *types.Memory) error {
	if m == nil {
		return types.NewValidationError("memory", "is required")
	}
	now := time.Now().UTC()

	err := s.withTx(ctx, "UpdateMemory", func(tx *sql.Tx) error {
		if err := s.checkDimensions(ctx, tx, m.Embedding); err != nil {
			return err
		}
		if err := ensureAssociationsExist(ctx, tx, m); err != nil {
			return err
		}

		query := `UPDATE memories SET title = ?, content = ?, context = ?, keywords = ?, tags = ?,
			importance = ?, updated_at = ?`
		args := []interface{}{m.Title, m.Content, m.Context, marshalStrings(m.Keywords),
			marshalStrings(m.Tags), m.Importance, now}
		if m.Embedding != nil {
			query += ", embedding = ?"
			args = append(args, encodeEmbedding(m.Embedding))
		}
		query += " WHERE id = ?"
		args = append(args, m.ID)

		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("update memory: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return storage.NotFound("memory", m.ID)
		}
		return replaceAssociations(ctx, tx, m.ID, m)
	})
	if err != nil {
		return err
	}
	m.UpdatedAt = now
	return nil
}

// MarkObsolete soft-deletes a memory.
func (s *Store) MarkObsolete(ctx context.Context, id int64, reason string, supersededBy *int64) error {
	if supersededBy != nil && *supersededBy == id {
		return types.NewValidationError("superseded_by", "a memory cannot supersede itself")
	}
	now := time.Now().UTC()

	return s.withTx(ctx, "MarkObsolete", func(tx *sql.Tx) error {
		if supersededBy != nil {
			if err := ensureExist(ctx, tx, "memories", "memory", []int64{*supersededBy}); err != nil {
				return err
			}
		}
		var successor interface{}
		if supersededBy != nil {
			successor = *supersededBy
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE memories SET is_obsolete = 1, obsolete_reason = ?, superseded_by = ?,
				obsoleted_at = ?, updated_at = ?
			WHERE id = ?`, reason, successor, now, now, id)
		if err != nil {
			return fmt.Errorf("mark obsolete: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return storage.NotFound("memory", id)
		}
		return nil
	})
}

// ListMemories returns a page of memories.
func (s *Store) ListMemories(ctx context.Context, opts storage.ListOptions) (*storage.PaginatedResult[*types.Memory], error) {
	opts.Normalize()

	where := "WHERE 1=1"
	var args []interface{}
	if !opts.IncludeObsolete {
		where += " AND m.is_obsolete = 0"
	}
	if opts.ProjectID > 0 {
		where += " AND m.id IN (SELECT memory_id FROM memory_projects WHERE project_id = ?)"
		args = append(args, opts.ProjectID)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM memories m "+where, args...).Scan(&total); err != nil {
		return nil, wrap("ListMemories", err)
	}

	query := fmt.Sprintf("SELECT %s FROM memories m %s ORDER BY m.%s %s, m.id %s LIMIT ? OFFSET ?",
		memorySelectColumns, where, opts.SortBy, opts.SortOrder, opts.SortOrder)
	mems, err := s.queryMemories(ctx, s.db, query, append(args, opts.Limit, opts.Offset())...)
	if err != nil {
		return nil, wrap("ListMemories", err)
	}

	return &storage.PaginatedResult[*types.Memory]{
		Items:    mems,
		Total:    total,
		Page:     opts.Page,
		PageSize: opts.Limit,
		HasMore:  opts.Offset()+len(mems) < total,
	}, nil
}

// CountMemories counts all memories.
func (s *Store) CountMemories(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM memories").Scan(&n); err != nil {
		return 0, wrap("CountMemories", err)
	}
	return n, nil
}

// queryMemories runs a query selecting memorySelectColumns and loads
// associations for the result.
func (s *Store) queryMemories(ctx context.Context, q querier, query string, args ...interface{}) ([]*types.Memory, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var mems []*types.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		mems = append(mems, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := loadAssociations(ctx, q, mems); err != nil {
		return nil, err
	}
	return mems, nil
}

// associationTables lists the memory association tables and their target
// columns, in the order loadAssociations fills them.
var associationTables = []struct {
	table, column, targetTable, kind string
	field                            func(m *types.Memory) *[]int64
}{
	{"memory_projects", "project_id", "projects", "project", func(m *types.Memory) *[]int64 { return &m.ProjectIDs }},
	{"memory_documents", "document_id", "documents", "document", func(m *types.Memory) *[]int64 { return &m.DocumentIDs }},
	{"memory_code_artifacts", "code_artifact_id", "code_artifacts", "code_artifact", func(m *types.Memory) *[]int64 { return &m.CodeArtifactIDs }},
}

func ensureAssociationsExist(ctx context.Context, q querier, m *types.Memory) error {
	for _, at := range associationTables {
		if err := ensureExist(ctx, q, at.targetTable, at.kind, *at.field(m)); err != nil {
			return err
		}
	}
	return nil
}

func replaceAssociations(ctx context.Context, q querier, memoryID int64, m *types.Memory) error {
	for _, at := range associationTables {
		if _, err := q.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE memory_id = ?", at.table), memoryID); err != nil {
			return fmt.Errorf("clear %s: %w", at.table, err)
		}
		for _, target := range storage.UniqueIDs(*at.field(m)) {
			if _, err := q.ExecContext(ctx,
				fmt.Sprintf("INSERT INTO %s (memory_id, %s) VALUES (?, ?)", at.table, at.column),
				memoryID, target); err != nil {
				return fmt.Errorf("insert %s: %w", at.table, err)
			}
		}
	}
	return nil
}

// loadAssociations fills the association id slices of mems with one query
// per association table.
func loadAssociations(ctx context.Context, q querier, mems []*types.Memory) error {
	if len(mems) == 0 {
		return nil
	}
	byID := make(map[int64]*types.Memory, len(mems))
	ids := make([]int64, 0, len(mems))
	for _, m := range mems {
		byID[m.ID] = m
		ids = append(ids, m.ID)
	}

	for _, at := range associationTables {
		rows, err := q.QueryContext(ctx,
			fmt.Sprintf("SELECT memory_id, %s FROM %s WHERE memory_id IN (%s) ORDER BY %s",
				at.column, at.table, buildInClause(len(ids)), at.column),
			int64Args(ids)...)
		if err != nil {
			return fmt.Errorf("load %s: %w", at.table, err)
		}
		for rows.Next() {
			var memoryID, target int64
			if err := rows.Scan(&memoryID, &target); err != nil {
				rows.Close()
				return err
			}
			f := at.field(byID[memoryID])
			*f = append(*f, target)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return err
		}
	}
	return nil
}
