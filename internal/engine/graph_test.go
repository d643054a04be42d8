package engine

import (
	"context"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/engram/internal/storage"
	"github.com/scrypster/engram/pkg/types"
)

// graphFixture builds:
//
//	m1 - m2 - m3 - m4          (memory links)
//	e1 - m1, e1 -> e2          (entity association, relationship)
//	m1 in p, d in p            (project, document)
type graphFixture struct {
	store          storage.Store
	m1, m2, m3, m4 *types.Memory
	e1, e2         *types.Entity
	rel            *types.Relationship
	p              *types.Project
	d              *types.Document
}

func newGraphFixture(t *testing.T) *graphFixture {
	t.Helper()
	s := newTestStore(t)
	ctx := context.Background()
	f := &graphFixture{store: s}

	f.p = &types.Project{Name: "engram"}
	require.NoError(t, s.CreateProject(ctx, f.p))
	f.d = &types.Document{Title: "Runbook", Content: "steps", ProjectID: &f.p.ID}
	require.NoError(t, s.CreateDocument(ctx, f.d))

	f.m1 = &types.Memory{Title: "m1", Content: "center", Importance: 5, ProjectIDs: []int64{f.p.ID}}
	require.NoError(t, s.CreateMemory(ctx, f.m1))
	f.m2 = storeMemory(t, s, "m2", 5, nil)
	f.m3 = storeMemory(t, s, "m3", 5, nil)
	f.m4 = storeMemory(t, s, "m4", 5, nil)
	for _, pair := range [][2]int64{{f.m1.ID, f.m2.ID}, {f.m3.ID, f.m2.ID}, {f.m3.ID, f.m4.ID}} {
		_, err := s.CreateLinks(ctx, pair[0], []int64{pair[1]})
		require.NoError(t, err)
	}

	f.e1 = &types.Entity{Name: "Alice", EntityType: types.EntityTypeIndividual}
	f.e2 = &types.Entity{Name: "Acme", EntityType: types.EntityTypeOrganization}
	require.NoError(t, s.CreateEntity(ctx, f.e1))
	require.NoError(t, s.CreateEntity(ctx, f.e2))
	require.NoError(t, s.LinkEntityMemory(ctx, f.e1.ID, f.m1.ID))
	f.rel = &types.Relationship{SourceEntityID: f.e1.ID, TargetEntityID: f.e2.ID, RelationshipType: "works_for", Strength: 0.8, Confidence: 0.9}
	require.NoError(t, s.CreateRelationship(ctx, f.rel))
	return f
}

func nodeDepths(res *GraphResult) map[string]int {
	out := make(map[string]int, len(res.Nodes))
	for _, n := range res.Nodes {
		out[n.ID] = n.Depth
	}
	return out
}

func edgeIDs(res *GraphResult) []string {
	out := make([]string, len(res.Edges))
	for i, e := range res.Edges {
		out[i] = e.ID
	}
	return out
}

func TestTraverse_DepthOne(t *testing.T) {
	f := newGraphFixture(t)
	g := NewGraphService(f.store, nil)

	res, err := g.Traverse(context.Background(), GraphRequest{NodeID: FormatNodeID(types.NodeMemory, f.m1.ID), Depth: 1})
	require.NoError(t, err)

	assert.Equal(t, map[string]int{
		FormatNodeID(types.NodeMemory, f.m1.ID): 0,
		FormatNodeID(types.NodeMemory, f.m2.ID): 1,
		FormatNodeID(types.NodeEntity, f.e1.ID): 1,
		FormatNodeID(types.NodeProject, f.p.ID): 1,
	}, nodeDepths(res))
	assert.ElementsMatch(t, []string{
		"memory_" + itoa(f.m1.ID) + "_memory_" + itoa(f.m2.ID),
		"entity_" + itoa(f.e1.ID) + "_memory_" + itoa(f.m1.ID),
		"memory_" + itoa(f.m1.ID) + "_project_" + itoa(f.p.ID),
	}, edgeIDs(res))
	assert.Equal(t, res.Nodes[0].ID, res.Meta.CenterNodeID)
	assert.Equal(t, 1, res.Meta.Depth)
	assert.Equal(t, 2, res.Meta.NodeCounts[types.NodeMemory])
	assert.Equal(t, 1, res.Meta.EdgeCounts[types.EdgeEntityMemory])
	assert.False(t, res.Meta.Truncated)
}

func TestTraverse_DepthTwo(t *testing.T) {
	f := newGraphFixture(t)
	res, err := NewGraphService(f.store, nil).Traverse(context.Background(),
		GraphRequest{NodeID: FormatNodeID(types.NodeMemory, f.m1.ID)})
	require.NoError(t, err)

	depths := nodeDepths(res)
	assert.Equal(t, 2, depths[FormatNodeID(types.NodeMemory, f.m3.ID)])
	assert.Equal(t, 2, depths[FormatNodeID(types.NodeEntity, f.e2.ID)])
	assert.Equal(t, 2, depths[FormatNodeID(types.NodeDocument, f.d.ID)])
	assert.NotContains(t, depths, FormatNodeID(types.NodeMemory, f.m4.ID))

	var rel *GraphEdge
	for i := range res.Edges {
		if res.Edges[i].Type == types.EdgeEntityRelationship {
			rel = &res.Edges[i]
		}
	}
	require.NotNil(t, rel)
	assert.Equal(t, "entity_"+itoa(f.e1.ID)+"_entity_"+itoa(f.e2.ID)+"_"+itoa(f.rel.ID), rel.ID)
	assert.Equal(t, "works_for", rel.Data["relationship_type"])
	assert.Equal(t, 0.8, rel.Data["strength"])

	// Hop distance never decreases along the result.
	for i := 1; i < len(res.Nodes); i++ {
		assert.LessOrEqual(t, res.Nodes[i-1].Depth, res.Nodes[i].Depth)
	}
}

func TestTraverse_DepthIsClamped(t *testing.T) {
	f := newGraphFixture(t)
	res, err := NewGraphService(f.store, nil).Traverse(context.Background(),
		GraphRequest{NodeID: FormatNodeID(types.NodeMemory, f.m1.ID), Depth: 9})
	require.NoError(t, err)
	assert.Equal(t, MaxGraphDepth, res.Meta.Depth)
	assert.Equal(t, 3, nodeDepths(res)[FormatNodeID(types.NodeMemory, f.m4.ID)])
	for _, n := range res.Nodes {
		assert.LessOrEqual(t, n.Depth, MaxGraphDepth)
	}
}

func TestTraverse_NodeTypesFilter(t *testing.T) {
	f := newGraphFixture(t)
	res, err := NewGraphService(f.store, nil).Traverse(context.Background(), GraphRequest{
		NodeID:    FormatNodeID(types.NodeMemory, f.m1.ID),
		Depth:     3,
		NodeTypes: []types.NodeKind{types.NodeMemory},
	})
	require.NoError(t, err)
	for _, n := range res.Nodes {
		assert.Equal(t, types.NodeMemory, n.Type)
	}
	assert.Len(t, res.Nodes, 4)
	assert.Equal(t, 3, res.Meta.EdgeCounts[types.EdgeMemoryLink])
}

func TestTraverse_TruncatesKeepingNearestNodes(t *testing.T) {
	f := newGraphFixture(t)
	res, err := NewGraphService(f.store, nil).Traverse(context.Background(), GraphRequest{
		NodeID:   FormatNodeID(types.NodeMemory, f.m1.ID),
		Depth:    3,
		MaxNodes: 3,
	})
	require.NoError(t, err)
	assert.True(t, res.Meta.Truncated)
	require.Len(t, res.Nodes, 3)
	for _, n := range res.Nodes[1:] {
		assert.Equal(t, 1, n.Depth)
	}
	// Every edge joins two returned nodes.
	ids := nodeDepths(res)
	for _, e := range res.Edges {
		assert.Contains(t, ids, e.Source)
		assert.Contains(t, ids, e.Target)
	}
}

func TestTraverse_ExactFitIsNotTruncated(t *testing.T) {
	f := newGraphFixture(t)
	res, err := NewGraphService(f.store, nil).Traverse(context.Background(), GraphRequest{
		NodeID:    FormatNodeID(types.NodeMemory, f.m1.ID),
		Depth:     3,
		NodeTypes: []types.NodeKind{types.NodeMemory},
		MaxNodes:  4,
	})
	require.NoError(t, err)
	assert.Len(t, res.Nodes, 4)
	assert.False(t, res.Meta.Truncated)
}

func TestTraverse_ObsoleteMemories(t *testing.T) {
	f := newGraphFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.MarkObsolete(ctx, f.m2.ID, "wrong", nil))
	g := NewGraphService(f.store, nil)
	center := FormatNodeID(types.NodeMemory, f.m1.ID)

	res, err := g.Traverse(ctx, GraphRequest{NodeID: center, Depth: 3})
	require.NoError(t, err)
	depths := nodeDepths(res)
	assert.NotContains(t, depths, FormatNodeID(types.NodeMemory, f.m2.ID))
	assert.NotContains(t, depths, FormatNodeID(types.NodeMemory, f.m3.ID))

	res, err = g.Traverse(ctx, GraphRequest{NodeID: center, Depth: 3, IncludeObsolete: true})
	require.NoError(t, err)
	depths = nodeDepths(res)
	assert.Contains(t, depths, FormatNodeID(types.NodeMemory, f.m2.ID))
	assert.Contains(t, depths, FormatNodeID(types.NodeMemory, f.m4.ID))

	// An obsolete center is always returned.
	res, err = g.Traverse(ctx, GraphRequest{NodeID: FormatNodeID(types.NodeMemory, f.m2.ID), Depth: 1})
	require.NoError(t, err)
	assert.Equal(t, FormatNodeID(types.NodeMemory, f.m2.ID), res.Nodes[0].ID)
	assert.Equal(t, true, res.Nodes[0].Data["is_obsolete"])
}

func TestTraverse_FromOtherKinds(t *testing.T) {
	f := newGraphFixture(t)
	res, err := NewGraphService(f.store, nil).Traverse(context.Background(), GraphRequest{
		NodeID: "document:" + itoa(f.d.ID),
		Depth:  2,
	})
	require.NoError(t, err)
	depths := nodeDepths(res)
	assert.Equal(t, 1, depths[FormatNodeID(types.NodeProject, f.p.ID)])
	assert.Equal(t, 2, depths[FormatNodeID(types.NodeMemory, f.m1.ID)])
}

func TestTraverse_Errors(t *testing.T) {
	f := newGraphFixture(t)
	g := NewGraphService(f.store, nil)
	ctx := context.Background()

	_, err := g.Traverse(ctx, GraphRequest{NodeID: "memory_999"})
	assert.ErrorIs(t, err, storage.ErrNotFound)
	var nf *types.NotFoundError
	assert.ErrorAs(t, err, &nf)

	var ve *types.ValidationError
	_, err = g.Traverse(ctx, GraphRequest{NodeID: "planet_1"})
	assert.ErrorAs(t, err, &ve)

	_, err = g.Traverse(ctx, GraphRequest{NodeID: FormatNodeID(types.NodeMemory, f.m1.ID), NodeTypes: []types.NodeKind{"planet"}})
	assert.ErrorAs(t, err, &ve)
}

func TestParseNodeID(t *testing.T) {
	cases := []struct {
		in   string
		kind types.NodeKind
		id   int64
		ok   bool
	}{
		{"memory_12", types.NodeMemory, 12, true},
		{"code_artifact_3", types.NodeCodeArtifact, 3, true},
		{"entity:7", types.NodeEntity, 7, true},
		{"memory_", "", 0, false},
		{"memory_x", "", 0, false},
		{"memory_0", "", 0, false},
		{"artifact_3", "", 0, false},
		{"12", "", 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			kind, id, err := ParseNodeID(tc.in)
			if !tc.ok {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.kind, kind)
			assert.Equal(t, tc.id, id)
		})
	}
}

// countingGraphStore counts the batched queries issued by a traversal.
type countingGraphStore struct {
	storage.GraphStore
	mu    sync.Mutex
	edges int
	nodes int
}

func (c *countingGraphStore) Edges(ctx context.Context, kind types.EdgeKind, left, right []int64) ([]storage.Pair, error) {
	c.mu.Lock()
	c.edges++
	c.mu.Unlock()
	return c.GraphStore.Edges(ctx, kind, left, right)
}

func (c *countingGraphStore) Nodes(ctx context.Context, kind types.NodeKind, ids []int64) (map[int64]storage.Node, error) {
	c.mu.Lock()
	c.nodes++
	c.mu.Unlock()
	return c.GraphStore.Nodes(ctx, kind, ids)
}

func TestTraverse_QueriesPerLevelNotPerNode(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	center := storeMemory(t, s, "hub", 5, nil)
	var spokes []int64
	for i := 0; i < 40; i++ {
		spokes = append(spokes, storeMemory(t, s, "spoke", 5, nil).ID)
	}
	_, err := s.CreateLinks(ctx, center.ID, spokes)
	require.NoError(t, err)
	for _, id := range spokes {
		leaf := storeMemory(t, s, "leaf", 5, nil)
		_, err := s.CreateLinks(ctx, id, []int64{leaf.ID})
		require.NoError(t, err)
	}

	cs := &countingGraphStore{GraphStore: s}
	res, err := NewGraphService(cs, nil).Traverse(ctx, GraphRequest{NodeID: FormatNodeID(types.NodeMemory, center.ID), Depth: 2})
	require.NoError(t, err)
	assert.Len(t, res.Nodes, 81)

	// Two levels: at most one query per pairwise edge kind each.
	assert.LessOrEqual(t, cs.edges, 2*len(pairwiseEdgeKinds))
	// Center plus one batched node load per kind per level.
	assert.LessOrEqual(t, cs.nodes, 1+2*len(types.AllNodeKinds))
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
