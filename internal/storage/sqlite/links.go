package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/scrypster/engram/internal/storage"
	"github.com/scrypster/engram/pkg/types"
)

// CreateLinks links sourceID to each of targetIDs. Links are stored once
// per unordered pair, so linking in either direction is idempotent.
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
				INSERT INTO memory_links (source_id, target_id, created_at) VALUES (?, ?, ?)
				ON CONFLICT(source_id, target_id) DO NOTHING`, lo, hi, now)
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
		"DELETE FROM memory_links WHERE source_id = ? AND target_id = ?", lo, hi)
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

	query := "SELECT " + memorySelectColumns + ` FROM memories m
		WHERE m.id IN (
			SELECT target_id FROM memory_links WHERE source_id = ?
			UNION
			SELECT source_id FROM memory_links WHERE target_id = ?
		) AND m.is_obsolete = 0`
	args := []interface{}{id, id}

	if exclude := storage.UniqueIDs(q.ExcludeIDs); len(exclude) > 0 {
		query += " AND m.id NOT IN (" + buildInClause(len(exclude)) + ")"
		args = append(args, int64Args(exclude)...)
	}
	if projects := storage.UniqueIDs(q.ProjectIDs); len(projects) > 0 {
		query += " AND m.id IN (SELECT memory_id FROM memory_projects WHERE project_id IN (" +
			buildInClause(len(projects)) + "))"
		args = append(args, int64Args(projects)...)
	}
	query += " ORDER BY m.importance DESC, m.id ASC LIMIT ?"
	args = append(args, q.Limit)

	mems, err := s.queryMemories(ctx, s.db, query, args...)
	if err != nil {
		return nil, wrap("GetLinkedMemories", err)
	}
	return mems, nil
}

// LinkedIDs returns every memory id linked to id, ascending.
func (s *Store) LinkedIDs(ctx context.Context, id int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT target_id FROM memory_links WHERE source_id = ?
		UNION
		SELECT source_id FROM memory_links WHERE target_id = ?
		ORDER BY 1`, id, id)
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
