package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/lib/pq"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/scrypster/engram/internal/storage"
	"github.com/scrypster/engram/pkg/types"
)

// SimilaritySearch returns the top-K memories by cosine distance using the
// HNSW index, ties broken by id ascending.
func (s *Store) SimilaritySearch(ctx context.Context, query []float32, opts storage.SimilarityOptions) ([]storage.ScoredMemory, error) {
	opts.Normalize()
	if len(query) == 0 {
		return nil, types.NewValidationError("embedding", "query vector is empty")
	}
	if err := checkDimensions(ctx, s.db, query); err != nil {
		return nil, wrap("SimilaritySearch", err)
	}

	args := []interface{}{pgvector.NewVector(query)}
	where := "WHERE m.embedding IS NOT NULL"
	if !opts.IncludeObsolete {
		where += " AND NOT m.is_obsolete"
	}
	if opts.MinImportance > 0 {
		args = append(args, opts.MinImportance)
		where += fmt.Sprintf(" AND m.importance >= $%d", len(args))
	}
	if exclude := storage.UniqueIDs(opts.ExcludeIDs); len(exclude) > 0 {
		args = append(args, pq.Int64Array(exclude))
		where += fmt.Sprintf(" AND NOT (m.id = ANY($%d))", len(args))
	}
	if projects := storage.UniqueIDs(opts.ProjectIDs); len(projects) > 0 {
		args = append(args, pq.Int64Array(projects))
		where += fmt.Sprintf(" AND m.id IN (SELECT memory_id FROM memory_projects WHERE project_id = ANY($%d))", len(args))
	}
	args = append(args, opts.Limit)

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT m.id, 1 - (m.embedding <=> $1) AS score
		FROM memories m %s
		ORDER BY m.embedding <=> $1, m.id
		LIMIT $%d`, where, len(args)), args...)
	if err != nil {
		return nil, wrap("SimilaritySearch", err)
	}

	type hit struct {
		id    int64
		score float64
	}
	var hits []hit
	for rows.Next() {
		var h hit
		if err := rows.Scan(&h.id, &h.score); err != nil {
			rows.Close()
			return nil, wrap("SimilaritySearch", err)
		}
		hits = append(hits, h)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, wrap("SimilaritySearch", err)
	}
	if len(hits) == 0 {
		return nil, nil
	}

	ids := make([]int64, len(hits))
	for i, h := range hits {
		ids[i] = h.id
	}
	mems, err := s.GetMemories(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]*types.Memory, len(mems))
	for _, m := range mems {
		byID[m.ID] = m
	}
	out := make([]storage.ScoredMemory, 0, len(hits))
	for _, h := range hits {
		if m, ok := byID[h.id]; ok {
			out = append(out, storage.ScoredMemory{Memory: m, Score: h.score})
		}
	}
	return out, nil
}

// EmbeddingDimensions returns the size of the vector column.
func (s *Store) EmbeddingDimensions(ctx context.Context) (int, error) {
	dims, err := dimensions(ctx, s.db)
	if err != nil {
		return 0, wrap("EmbeddingDimensions", err)
	}
	return dims, nil
}

// ResizeEmbeddings replaces the vector column and its index with ones sized
// for dims. Postgres DDL is transactional, so a failure leaves the old
// column in place.
func (s *Store) ResizeEmbeddings(ctx context.Context, dims int) error {
	if dims < 1 {
		return types.NewValidationError("dimensions", "must be positive, got %d", dims)
	}
	return s.withTx(ctx, "ResizeEmbeddings", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, resizeDDL(dims)); err != nil {
			return fmt.Errorf("resize vector column: %w", err)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO embedding_meta (id, dimensions, updated_at) VALUES (1, $1, $2)
			ON CONFLICT (id) DO UPDATE SET dimensions = excluded.dimensions, updated_at = excluded.updated_at`,
			dims, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("record dimensions: %w", err)
		}
		return nil
	})
}

// ListMemoriesForEmbedding pages through all memories in id order.
func (s *Store) ListMemoriesForEmbedding(ctx context.Context, offset, limit int) ([]*types.Memory, error) {
	if limit < 1 {
		return nil, nil
	}
	mems, err := queryMemories(ctx, s.db,
		"SELECT "+memorySelectColumns+" FROM memories m ORDER BY m.id LIMIT $1 OFFSET $2", limit, offset)
	if err != nil {
		return nil, wrap("ListMemoriesForEmbedding", err)
	}
	return mems, nil
}

// BulkUpdateEmbeddings writes all vectors or none.
func (s *Store) BulkUpdateEmbeddings(ctx context.Context, vectors map[int64][]float32) error {
	if len(vectors) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(vectors))
	for id := range vectors {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	return s.withTx(ctx, "BulkUpdateEmbeddings", func(tx *sql.Tx) error {
		dims, err := dimensions(ctx, tx)
		if err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx, "UPDATE memories SET embedding = $1 WHERE id = $2")
		if err != nil {
			return fmt.Errorf("prepare: %w", err)
		}
		defer stmt.Close()

		for _, id := range ids {
			vec := vectors[id]
			if dims > 0 && len(vec) != dims {
				return fmt.Errorf("memory %d: %w: got %d, want %d", id, storage.ErrDimensionMismatch, len(vec), dims)
			}
			res, err := stmt.ExecContext(ctx, pgvector.NewVector(vec), id)
			if err != nil {
				return fmt.Errorf("update embedding %d: %w", id, err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return storage.NotFound("memory", id)
			}
		}
		return nil
	})
}

// CountEmbeddings counts memories with a stored vector.
func (s *Store) CountEmbeddings(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM memories WHERE embedding IS NOT NULL").Scan(&n); err != nil {
		return 0, wrap("CountEmbeddings", err)
	}
	return n, nil
}

// SampleEmbeddingDimensions returns the length of up to n stored vectors.
func (s *Store) SampleEmbeddingDimensions(ctx context.Context, n int) ([]int, error) {
	if n < 1 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT vector_dims(embedding) FROM memories WHERE embedding IS NOT NULL ORDER BY id LIMIT $1", n)
	if err != nil {
		return nil, wrap("SampleEmbeddingDimensions", err)
	}
	defer rows.Close()

	var out []int
	for rows.Next() {
		var d int
		if err := rows.Scan(&d); err != nil {
			return nil, wrap("SampleEmbeddingDimensions", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("SampleEmbeddingDimensions", err)
	}
	return out, nil
}
