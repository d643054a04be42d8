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

// CreateLinks links sourceID to each of targetIDs, once per unordered pair.
func (s *Store) CreateLinks(ctx context.Context, sourceID int64, targetIDs []int64) ([]int64, error) {
	targets := make([]int64, 0, len(targetIDs))
	for _, id := range storage.UniqueIDs(targetIDs) {
		if id != sourceID {
			targets = append(targets, id)
		}
	}
	if len(targets) == 0 {
		return nil, nil
	}
	now := time.Now().UTC()

	var created []int64
	err := s.withTx(ctx, "CreateLinks", func(tx *sql.Tx) error {
		if err := ensureExist(ctx, tx, "memories", "memory", append([]int64{sourceID}, targets...)); err != nil {
			return err
		}
		for _, target := range targets {
			lo, hi := types.CanonicalLink(sourceID, target)
			res, err := tx.ExecContext(ctx, `
				INSERT INTO memory_links (source_id, target_id, created_at) VALUES ($1, $2, $3)
				ON CONFLICT (source_id, target_id) DO NOTHING`, lo, hi, now)
			if err != nil {
				return fmt.Errorf("insert link %d-%d: %w", lo, hi, err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				created = append(created, target)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// DeleteLink removes the link between a and b.
func (s *Store) DeleteLink(ctx context.Context, a, b int64) error {
	lo, hi := types.CanonicalLink(a, b)
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM memory_links WHERE source_id = $1 AND target_id = $2", lo, hi)
	if err != nil {
		return wrap("DeleteLink", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &types.NotFoundError{Kind: "link", ID: fmt.Sprintf("%d-%d", lo, hi)}
	}
	return nil
}

// GetLinkedMemories returns the non-obsolete neighbours of id.
func (s *Store) GetLinkedMemories(ctx context.Context, id int64, q storage.LinkQuery) ([]*types.Memory, error) {
	if q.Limit < 1 {
		q.Limit = 5
	}
	args := []interface{}{id}
	query := "SELECT " + memorySelectColumns + ` FROM memories m
		WHERE m.id IN (
			SELECT target_id FROM memory_links WHERE source_id = $1
			UNION
			SELECT source_id FROM memory_links WHERE target_id = $1
		) AND NOT m.is_obsolete`

	if exclude := storage.UniqueIDs(q.ExcludeIDs); len(exclude) > 0 {
		args = append(args, pq.Int64Array(exclude))
		query += fmt.Sprintf(" AND NOT (m.id = ANY($%d))", len(args))
	}
	if projects := storage.UniqueIDs(q.ProjectIDs); len(projects) > 0 {
		args = append(args, pq.Int64Array(projects))
		query += fmt.Sprintf(" AND m.id IN (SELECT memory_id FROM memory_projects WHERE project_id = ANY($%d))", len(args))
	}
	args = append(args, q.Limit)
	query += fmt.Sprintf(" ORDER BY m.importance DESC, m.id ASC LIMIT $%d", len(args))

	mems, err := queryMemories(ctx, s.db, query, args...)
	if err != nil {
		return nil, wrap("GetLinkedMemories", err)
	}
	return mems, nil
}

// LinkedIDs returns every memory id linked to id, ascending.
func (s *Store) LinkedIDs(ctx context.Context, id int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT target_id FROM memory_links WHERE source_id = $1
		UNION
		SELECT source_id FROM memory_links WHERE target_id = $1
		ORDER BY 1`, id)
	if err != nil {
		return nil, wrap("LinkedIDs", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var other int64
		if err := rows.Scan(&other); err != nil {
			return nil, wrap("LinkedIDs", err)
		}
		ids = append(ids, other)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("LinkedIDs", err)
	}
	return ids, nil
}
