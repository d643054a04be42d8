package postgres_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/engram/internal/storage"
	"github.com/scrypster/engram/internal/storage/postgres"
	"github.com/scrypster/engram/pkg/types"
)

const testDims = 4

// postgresTestDSN returns the DSN for the test database.
// If POSTGRES_TEST_DSN is not set, tests are skipped.
func postgresTestDSN(t *testing.T) string {
	t.Helper()

	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set; skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore connects to the test database, empties it and sizes the
// vector column for 4 dimensions.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()

	store, err := postgres.New(postgresTestDSN(t), testDims, nil)
	require.NoError(t, err, "New should succeed")
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	require.NoError(t, store.TruncateForTest(ctx))
	require.NoError(t, store.ResizeEmbeddings(ctx, testDims))
	return store
}

func createMemory(t *testing.T, s *postgres.Store, title string, importance int, vec []float32) *types.Memory {
	t.Helper()
	m := &types.Memory{Title: title, Content: "content of " + title, Importance: importance, Embedding: vec}
	require.NoError(t, s.CreateMemory(context.Background(), m))
	return m
}

func TestCreateAndGetMemory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := &types.Project{Name: "engram"}
	require.NoError(t, s.CreateProject(ctx, p))

	m := &types.Memory{
		Title:      "pgvector",
		Content:    "HNSW index on vector_cosine_ops",
		Keywords:   []string{"pgvector"},
		Importance: 7,
		ProjectIDs: []int64{p.ID},
		Embedding:  []float32{1, 0, 0, 0},
	}
	require.NoError(t, s.CreateMemory(ctx, m))
	assert.NotZero(t, m.ID)

	got, err := s.GetMemory(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, m.Title, got.Title)
	assert.Equal(t, []string{"pgvector"}, got.Keywords)
	assert.Equal(t, []int64{p.ID}, got.ProjectIDs)
	assert.Equal(t, 7, got.Importance)

	_, err = s.GetMemory(ctx, m.ID+1000)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCreateMemory_DimensionMismatch(t *testing.T) {
	s := newTestStore(t)
	err := s.CreateMemory(context.Background(), &types.Memory{Title: "x", Content: "x", Embedding: []float32{1}})
	assert.ErrorIs(t, err, storage.ErrDimensionMismatch)
}

func TestLinksAndSimilarity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := createMemory(t, s, "a", 3, []float32{1, 0, 0, 0})
	b := createMemory(t, s, "b", 9, []float32{0.9, 0.1, 0, 0})
	c := createMemory(t, s, "c", 5, []float32{0, 0, 1, 0})

	created, err := s.CreateLinks(ctx, c.ID, []int64{a.ID, b.ID, c.ID})
	require.NoError(t, err)
	assert.Len(t, created, 2)

	again, err := s.CreateLinks(ctx, b.ID, []int64{c.ID})
	require.NoError(t, err)
	assert.Empty(t, again)

	linked, err := s.GetLinkedMemories(ctx, c.ID, storage.LinkQuery{Limit: 5})
	require.NoError(t, err)
	require.Len(t, linked, 2)
	assert.Equal(t, b.ID, linked[0].ID)

	hits, err := s.SimilaritySearch(ctx, []float32{1, 0, 0, 0}, storage.SimilarityOptions{
		Limit:      2,
		ExcludeIDs: []int64{c.ID},
	})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, a.ID, hits[0].Memory.ID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
	assert.Equal(t, b.ID, hits[1].Memory.ID)
}

func TestResizeAndBulkUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := createMemory(t, s, "a", 5, []float32{1, 0, 0, 0})
	b := createMemory(t, s, "b", 5, []float32{0, 1, 0, 0})

	require.NoError(t, s.ResizeEmbeddings(ctx, 2))
	dims, err := s.EmbeddingDimensions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, dims)

	n, err := s.CountEmbeddings(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	err = s.BulkUpdateEmbeddings(ctx, map[int64][]float32{a.ID: {1, 0}, b.ID: {1, 0, 0}})
	assert.ErrorIs(t, err, storage.ErrDimensionMismatch)

	require.NoError(t, s.BulkUpdateEmbeddings(ctx, map[int64][]float32{a.ID: {1, 0}, b.ID: {0, 1}}))
	sample, err := s.SampleEmbeddingDimensions(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2}, sample)
}

func TestGraphQueries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := &types.Project{Name: "graph"}
	require.NoError(t, s.CreateProject(ctx, p))
	doc := &types.Document{Title: "Runbook", Content: "steps", ProjectID: &p.ID}
	require.NoError(t, s.CreateDocument(ctx, doc))

	alice := &types.Entity{Name: "Alice", EntityType: types.EntityTypeIndividual}
	acme := &types.Entity{Name: "Acme", EntityType: types.EntityTypeOrganization}
	require.NoError(t, s.CreateEntity(ctx, alice))
	require.NoError(t, s.CreateEntity(ctx, acme))
	rel := &types.Relationship{SourceEntityID: alice.ID, TargetEntityID: acme.ID, RelationshipType: "works_for",
		Metadata: map[string]interface{}{"since": "2021"}}
	require.NoError(t, s.CreateRelationship(ctx, rel))

	m := createMemory(t, s, "m", 5, nil)
	require.NoError(t, s.LinkEntityMemory(ctx, alice.ID, m.ID))

	pairs, err := s.Edges(ctx, types.EdgeEntityMemory, nil, []int64{m.ID})
	require.NoError(t, err)
	assert.Equal(t, []storage.Pair{{Left: alice.ID, Right: m.ID}}, pairs)

	docs, err := s.Edges(ctx, types.EdgeDocumentProject, nil, []int64{p.ID})
	require.NoError(t, err)
	assert.Equal(t, []storage.Pair{{Left: doc.ID, Right: p.ID}}, docs)

	rels, err := s.EntityRelationships(ctx, []int64{acme.ID})
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, "2021", rels[0].Metadata["since"])

	nodes, err := s.Nodes(ctx, types.NodeEntity, []int64{alice.ID, acme.ID})
	require.NoError(t, err)
	assert.Equal(t, "Acme", nodes[acme.ID].Data["name"])
}
