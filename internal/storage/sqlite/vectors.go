package sqlite

import (
	"container/heap"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/scrypster/engram/internal/storage"
	"github.com/scrypster/engram/pkg/types"
)

// scanPageSize is the number of rows one keyset page of the similarity scan
// reads. Pages keep the single connection free for writers between reads.
var scanPageSize = 10000

type scoredID struct {
	id    int64
	score float64
}

// better orders hits by score descending, then id ascending.
func (a scoredID) better(b scoredID) bool {
	if a.score != b.score {
		return a.score > b.score
	}
	return a.id < b.id
}

// topK is a min-heap holding the best k hits seen so far; the root is the
// worst of them.
type topK []scoredID

func (h topK) Len() int            { return len(h) }
func (h topK) Less(i, j int) bool  { return h[j].better(h[i]) }
func (h topK) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *topK) Push(x interface{}) { *h = append(*h, x.(scoredID)) }
func (h *topK) Pop() interface{} {
	old := *h
	x := old[len(old)-1]
	*h = old[:len(old)-1]
	return x
}

func (h *topK) offer(hit scoredID, k int) {
	if h.Len() < k {
		heap.Push(h, hit)
		return
	}
	if hit.better((*h)[0]) {
		(*h)[0] = hit
		heap.Fix(h, 0)
	}
}

// SimilaritySearch scores every candidate vector against query and returns
// the best opts.Limit, ties broken by id ascending. The whole table is
// scanned in id-ordered pages; only the running top opts.Limit is kept.
func (s *Store) SimilaritySearch(ctx context.Context, query []float32, opts storage.SimilarityOptions) ([]storage.ScoredMemory, error) {
	opts.Normalize()
	if len(query) == 0 {
		return nil, types.NewValidationError("embedding", "query vector is empty")
	}
	if err := s.checkDimensions(ctx, s.db, query); err != nil {
		return nil, wrap("SimilaritySearch", err)
	}

	where := "WHERE m.embedding IS NOT NULL AND m.id > ?"
	var filterArgs []interface{}
	if !opts.IncludeObsolete {
		where += " AND m.is_obsolete = 0"
	}
	if opts.MinImportance > 0 {
		where += " AND m.importance >= ?"
		filterArgs = append(filterArgs, opts.MinImportance)
	}
	if exclude := storage.UniqueIDs(opts.ExcludeIDs); len(exclude) > 0 {
		where += " AND m.id NOT IN (" + buildInClause(len(exclude)) + ")"
		filterArgs = append(filterArgs, int64Args(exclude)...)
	}
	if projects := storage.UniqueIDs(opts.ProjectIDs); len(projects) > 0 {
		where += " AND m.id IN (SELECT memory_id FROM memory_projects WHERE project_id IN (" +
			buildInClause(len(projects)) + "))"
		filterArgs = append(filterArgs, int64Args(projects)...)
	}
	q := "SELECT m.id, m.embedding FROM memories m " + where + " ORDER BY m.id LIMIT ?"

	best := make(topK, 0, opts.Limit)
	var after int64
	for {
		if err := ctx.Err(); err != nil {
			return nil, wrap("SimilaritySearch", err)
		}
		args := append([]interface{}{after}, filterArgs...)
		args = append(args, scanPageSize)
		n, last, err := s.scanPage(ctx, q, args, query, &best, opts.Limit)
		if err != nil {
			return nil, wrap("SimilaritySearch", err)
		}
		if n < scanPageSize {
			break
		}
		after = last
	}

	hits := []scoredID(best)
	sort.Slice(hits, func(i, j int) bool { return hits[i].better(hits[j]) })
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

// scanPage scores one page of candidates into best and reports how many rows
// it read and the last id seen.
func (s *Store) scanPage(ctx context.Context, q string, args []interface{}, query []float32, best *topK, k int) (int, int64, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return 0, 0, err
	}
	defer rows.Close()

	var (
		n    int
		last int64
	)
	for rows.Next() {
		var (
			id   int64
			blob []byte
		)
		if err := rows.Scan(&id, &blob); err != nil {
			return 0, 0, err
		}
		n++
		last = id
		vec, err := decodeEmbedding(blob)
		if err != nil || len(vec) != len(query) {
			continue
		}
		best.offer(scoredID{id: id, score: cosineSimilarity(query, vec)}, k)
	}
	return n, last, rows.Err()
}

// EmbeddingDimensions returns the dimensionality recorded in embedding_meta,
// or 0 when none has been recorded.
func (s *Store) EmbeddingDimensions(ctx context.Context) (int, error) {
	dims, err := dimensions(ctx, s.db)
	if err != nil {
		return 0, wrap("EmbeddingDimensions", err)
	}
	return dims, nil
}

// ResizeEmbeddings clears every stored vector and records dims.
func (s *Store) ResizeEmbeddings(ctx context.Context, dims int) error {
	if dims < 1 {
		return types.NewValidationError("dimensions", "must be positive, got %d", dims)
	}
	return s.withTx(ctx, "ResizeEmbeddings", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "UPDATE memories SET embedding = NULL"); err != nil {
			return fmt.Errorf("clear embeddings: %w", err)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO embedding_meta (id, dimensions, updated_at) VALUES (1, ?, ?)
			ON CONFLICT(id) DO UPDATE SET dimensions = excluded.dimensions, updated_at = excluded.updated_at`,
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
	mems, err := s.queryMemories(ctx, s.db,
		"SELECT "+memorySelectColumns+" FROM memories m ORDER BY m.id LIMIT ? OFFSET ?", limit, offset)
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
		for _, id := range ids {
			vec := vectors[id]
			if dims > 0 && len(vec) != dims {
				return fmt.Errorf("memory %d: %w: got %d, want %d", id, storage.ErrDimensionMismatch, len(vec), dims)
			}
			res, err := tx.ExecContext(ctx, "UPDATE memories SET embedding = ? WHERE id = ?", encodeEmbedding(vec), id)
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

// SampleEmbeddingDimensions returns the length of up to n stored vectors,
// lowest ids first.
func (s *Store) SampleEmbeddingDimensions(ctx context.Context, n int) ([]int, error) {
	if n < 1 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT length(embedding) / 4 FROM memories WHERE embedding IS NOT NULL ORDER BY id LIMIT ?", n)
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

// checkDimensions rejects a non-nil vector whose length differs from the
// recorded dimensionality.
func (s *Store) checkDimensions(ctx context.Context, q querier, vec []float32) error {
	if vec == nil {
		return nil
	}
	dims, err := dimensions(ctx, q)
	if err != nil {
		return err
	}
	if dims > 0 && len(vec) != dims {
		return fmt.Errorf("%w: got %d, want %d", storage.ErrDimensionMismatch, len(vec), dims)
	}
	return nil
}

func dimensions(ctx context.Context, q querier) (int, error) {
	var dims int
	err := q.QueryRowContext(ctx, "SELECT dimensions FROM embedding_meta WHERE id = 1").Scan(&dims)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read embedding dimensions: %w", err)
	}
	return dims, nil
}
