package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/scrypster/engram/internal/storage"
	"github.com/scrypster/engram/pkg/types"
)

// Graph traversal bounds.
const (
	DefaultGraphDepth    = 2
	MaxGraphDepth        = 3
	DefaultGraphMaxNodes = 200
	MaxGraphMaxNodes     = 500
)

// pairwiseEdgeKinds is the order edge kinds are expanded within one hop.
// It fixes which node wins when truncation cuts a level short.
var pairwiseEdgeKinds = []types.EdgeKind{
	types.EdgeMemoryLink,
	types.EdgeEntityMemory,
	types.EdgeMemoryProject,
	types.EdgeMemoryDocument,
	types.EdgeMemoryCodeArtifact,
	types.EdgeDocumentProject,
	types.EdgeCodeArtifactProject,
}

// GraphRequest asks for the subgraph around one node.
type GraphRequest struct {
	// NodeID is "kind_id" (memory_12, code_artifact_3); "kind:id" is accepted too.
	NodeID string `json:"node_id"`

	// Depth is the hop limit, clamped to [1, 3] (default: 2).
	Depth int `json:"depth,omitempty"`

	// NodeTypes are the kinds traversal may reach (default: all).
	NodeTypes []types.NodeKind `json:"node_types,omitempty"`

	// MaxNodes caps the returned nodes, clamped to [1, 500] (default: 200).
	MaxNodes int `json:"max_nodes,omitempty"`

	// IncludeObsolete admits obsolete memories besides the center node.
	IncludeObsolete bool `json:"include_obsolete,omitempty"`
}

// GraphNode is one node of a traversal result.
type GraphNode struct {
	ID    string                 `json:"id"`
	Type  types.NodeKind         `json:"type"`
	Depth int                    `json:"depth"`
	Data  map[string]interface{} `json:"data"`
}

// GraphEdge is one edge of a traversal result. Memory links are undirected
// and reported with the lower id as source.
type GraphEdge struct {
	ID     string                 `json:"id"`
	Source string                 `json:"source"`
	Target string                 `json:"target"`
	Type   types.EdgeKind         `json:"type"`
	Data   map[string]interface{} `json:"data,omitempty"`
}

// GraphMeta summarizes a traversal.
type GraphMeta struct {
	CenterNodeID string                 `json:"center_node_id"`
	Depth        int                    `json:"depth"`
	MaxNodes     int                    `json:"max_nodes"`
	NodeCounts   map[types.NodeKind]int `json:"node_counts"`
	EdgeCounts   map[types.EdgeKind]int `json:"edge_counts"`

	// Truncated is true when reachable nodes were left out by MaxNodes.
	Truncated bool `json:"truncated"`
}

// GraphResult is the subgraph around the center node.
type GraphResult struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
	Meta  GraphMeta   `json:"meta"`
}

// nodeRef identifies a node across kinds.
type nodeRef struct {
	kind types.NodeKind
	id   int64
}

func (n nodeRef) String() string { return FormatNodeID(n.kind, n.id) }

// FormatNodeID renders a graph node id such as "memory_12".
func FormatNodeID(kind types.NodeKind, id int64) string {
	return fmt.Sprintf("%s_%d", kind, id)
}

// ParseNodeID parses "kind_id" or "kind:id".
func ParseNodeID(s string) (types.NodeKind, int64, error) {
	i := strings.LastIndexAny(s, "_:")
	if i <= 0 || i == len(s)-1 {
		return "", 0, types.NewValidationError("node_id", "must look like <kind>_<id>, got %q", s)
	}
	kind := types.NodeKind(s[:i])
	if !types.IsValidNodeKind(kind) {
		return "", 0, types.NewValidationError("node_id", "unknown node kind %q", kind)
	}
	id, err := strconv.ParseInt(s[i+1:], 10, 64)
	if err != nil || id <= 0 {
		return "", 0, types.NewValidationError("node_id", "invalid id in %q", s)
	}
	return kind, id, nil
}

// GraphService extracts bounded subgraphs with one batched query per edge
// kind per hop level.
type GraphService struct {
	store  storage.GraphStore
	logger *zap.Logger
}

// NewGraphService creates a graph service.
func NewGraphService(store storage.GraphStore, logger *zap.Logger) *GraphService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GraphService{store: store, logger: logger}
}

// traversal is the mutable state of one Traverse call.
type traversal struct {
	req     GraphRequest
	allowed map[types.NodeKind]bool

	depth    map[nodeRef]int
	order    []nodeRef
	data     map[nodeRef]map[string]interface{}
	rejected map[nodeRef]bool

	edges     map[string]GraphEdge
	edgeOrder []string

	truncated bool
}

// Traverse runs a breadth-first expansion from req.NodeID. Nodes are
// returned in BFS order with their hop distance; when MaxNodes cuts the
// expansion short the nodes reached first are kept.
func (g *GraphService) Traverse(ctx context.Context, req GraphRequest) (*GraphResult, error) {
	kind, id, err := ParseNodeID(req.NodeID)
	if err != nil {
		return nil, err
	}
	req.Depth = clamp(req.Depth, DefaultGraphDepth, 1, MaxGraphDepth)
	req.MaxNodes = clamp(req.MaxNodes, DefaultGraphMaxNodes, 1, MaxGraphMaxNodes)

	allowed := make(map[types.NodeKind]bool, len(types.AllNodeKinds))
	if len(req.NodeTypes) == 0 {
		for _, k := range types.AllNodeKinds {
			allowed[k] = true
		}
	}
	for _, k := range req.NodeTypes {
		if !types.IsValidNodeKind(k) {
			return nil, types.NewValidationError("node_types", "unknown node kind %q", k)
		}
		allowed[k] = true
	}

	center := nodeRef{kind: kind, id: id}
	nodes, err := g.store.Nodes(ctx, kind, []int64{id})
	if err != nil {
		return nil, fmt.Errorf("load center node: %w", err)
	}
	cn, ok := nodes[id]
	if !ok {
		return nil, storage.NotFound(string(kind), id)
	}

	t := &traversal{
		req:      req,
		allowed:  allowed,
		depth:    map[nodeRef]int{center: 0},
		order:    []nodeRef{center},
		data:     map[nodeRef]map[string]interface{}{center: cn.Data},
		rejected: make(map[nodeRef]bool),
		edges:    make(map[string]GraphEdge),
	}

	frontier := []nodeRef{center}
	for level := 1; level <= req.Depth && len(frontier) > 0 && !t.truncated; level++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		found, err := g.expand(ctx, t, frontier)
		if err != nil {
			return nil, err
		}
		frontier, err = g.admit(ctx, t, found, level)
		if err != nil {
			return nil, err
		}
	}

	res := t.result(FormatNodeID(kind, id))
	g.logger.Debug("graph traversal done",
		zap.String("center", res.Meta.CenterNodeID),
		zap.Int("nodes", len(res.Nodes)),
		zap.Int("edges", len(res.Edges)),
		zap.Bool("truncated", res.Meta.Truncated))
	return res, nil
}

// expand issues one query per edge kind for the whole frontier and returns
// the unseen neighbours in discovery order.
func (g *GraphService) expand(ctx context.Context, t *traversal, frontier []nodeRef) ([]nodeRef, error) {
	byKind := make(map[types.NodeKind][]int64)
	for _, n := range frontier {
		byKind[n.kind] = append(byKind[n.kind], n.id)
	}

	var found []nodeRef
	pending := make(map[nodeRef]bool)
	discover := func(n nodeRef) {
		if !t.allowed[n.kind] || pending[n] || t.rejected[n] {
			return
		}
		if _, seen := t.depth[n]; seen {
			return
		}
		pending[n] = true
		found = append(found, n)
	}

	for _, kind := range pairwiseEdgeKinds {
		tbl := storage.EdgeTables[kind]
		// Only look up the side whose far endpoint may be reached.
		var left, right []int64
		if t.allowed[tbl.RightKind] {
			left = byKind[tbl.LeftKind]
		}
		if t.allowed[tbl.LeftKind] {
			right = byKind[tbl.RightKind]
		}
		if len(left) == 0 && len(right) == 0 {
			continue
		}

		pairs, err := g.store.Edges(ctx, kind, left, right)
		if err != nil {
			return nil, fmt.Errorf("load %s edges: %w", kind, err)
		}
		for _, p := range pairs {
			l := nodeRef{kind: tbl.LeftKind, id: p.Left}
			r := nodeRef{kind: tbl.RightKind, id: p.Right}
			t.addEdge(pairEdge(kind, l, r))
			discover(l)
			discover(r)
		}
	}

	if entities := byKind[types.NodeEntity]; len(entities) > 0 && t.allowed[types.NodeEntity] {
		rels, err := g.store.EntityRelationships(ctx, entities)
		if err != nil {
			return nil, fmt.Errorf("load entity relationships: %w", err)
		}
		for _, rel := range rels {
			src := nodeRef{kind: types.NodeEntity, id: rel.SourceEntityID}
			dst := nodeRef{kind: types.NodeEntity, id: rel.TargetEntityID}
			t.addEdge(GraphEdge{
				ID:     fmt.Sprintf("%s_%s_%d", src, dst, rel.ID),
				Source: src.String(),
				Target: dst.String(),
				Type:   types.EdgeEntityRelationship,
				Data: map[string]interface{}{
					"relationship_type": rel.RelationshipType,
					"strength":          rel.Strength,
					"confidence":        rel.Confidence,
					"metadata":          rel.Metadata,
				},
			})
			discover(src)
			discover(dst)
		}
	}
	return found, nil
}

// admit loads node data for found, one query per kind, and adds the nodes
// that exist and pass the obsolete filter until MaxNodes is reached. It
// returns the nodes added, which form the next frontier.
func (g *GraphService) admit(ctx context.Context, t *traversal, found []nodeRef, level int) ([]nodeRef, error) {
	if len(found) == 0 {
		return nil, nil
	}
	byKind := make(map[types.NodeKind][]int64)
	for _, n := range found {
		byKind[n.kind] = append(byKind[n.kind], n.id)
	}
	loaded := make(map[nodeRef]storage.Node, len(found))
	for _, kind := range types.AllNodeKinds {
		ids := byKind[kind]
		if len(ids) == 0 {
			continue
		}
		nodes, err := g.store.Nodes(ctx, kind, ids)
		if err != nil {
			return nil, fmt.Errorf("load %s nodes: %w", kind, err)
		}
		for nid, n := range nodes {
			loaded[nodeRef{kind: kind, id: nid}] = n
		}
	}

	var next []nodeRef
	for _, ref := range found {
		n, ok := loaded[ref]
		if !ok || (n.Obsolete && !t.req.IncludeObsolete) {
			t.rejected[ref] = true
			continue
		}
		if len(t.order) >= t.req.MaxNodes {
			t.truncated = true
			break
		}
		t.depth[ref] = level
		t.order = append(t.order, ref)
		t.data[ref] = n.Data
		next = append(next, ref)
	}
	return next, nil
}

func (t *traversal) addEdge(e GraphEdge) {
	if _, ok := t.edges[e.ID]; ok {
		return
	}
	t.edges[e.ID] = e
	t.edgeOrder = append(t.edgeOrder, e.ID)
}

// result assembles the response, keeping only edges between returned nodes.
func (t *traversal) result(centerID string) *GraphResult {
	res := &GraphResult{
		Nodes: make([]GraphNode, 0, len(t.order)),
		Edges: []GraphEdge{},
		Meta: GraphMeta{
			CenterNodeID: centerID,
			Depth:        t.req.Depth,
			MaxNodes:     t.req.MaxNodes,
			NodeCounts:   make(map[types.NodeKind]int),
			EdgeCounts:   make(map[types.EdgeKind]int),
			Truncated:    t.truncated,
		},
	}
	ids := make(map[string]bool, len(t.order))
	for _, ref := range t.order {
		ids[ref.String()] = true
		res.Nodes = append(res.Nodes, GraphNode{
			ID:    ref.String(),
			Type:  ref.kind,
			Depth: t.depth[ref],
			Data:  t.data[ref],
		})
		res.Meta.NodeCounts[ref.kind]++
	}
	for _, id := range t.edgeOrder {
		e := t.edges[id]
		if !ids[e.Source] || !ids[e.Target] {
			continue
		}
		res.Edges = append(res.Edges, e)
		res.Meta.EdgeCounts[e.Type]++
	}
	return res
}

// pairEdge builds the edge for an association row. Memory links are
// canonicalized so each appears once.
func pairEdge(kind types.EdgeKind, l, r nodeRef) GraphEdge {
	if kind == types.EdgeMemoryLink && r.id < l.id {
		l, r = r, l
	}
	return GraphEdge{
		ID:     l.String() + "_" + r.String(),
		Source: l.String(),
		Target: r.String(),
		Type:   kind,
	}
}

func clamp(v, def, lo, hi int) int {
	if v == 0 {
		v = def
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
