package engine

import (
	"context"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/scrypster/engram/internal/storage/sqlite"
	"github.com/scrypster/engram/pkg/types"
)

const testDims = 4

// newTestStore creates an in-memory SQLite store sized for 4-dimensional
// vectors.
func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:", testDims, nil)
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// simVec returns a unit vector whose cosine similarity to axis() is s.
func simVec(s float64) []float32 {
	return []float32{float32(s), float32(math.Sqrt(1 - s*s)), 0, 0}
}

func axis() []float32 { return []float32{1, 0, 0, 0} }

// storeMemory inserts a memory directly, bypassing the service.
func storeMemory(t *testing.T, s *sqlite.Store, title string, importance int, vec []float32) *types.Memory {
	t.Helper()
	m := &types.Memory{
		Title:      title,
		Content:    "content of " + title,
		Importance: importance,
		Embedding:  vec,
	}
	if err := s.CreateMemory(context.Background(), m); err != nil {
		t.Fatalf("CreateMemory(%q): %v", title, err)
	}
	return m
}

// scriptedEmbedder returns the vector registered for the first word of the
// text, or a fixed fallback vector.
type scriptedEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float32
	err     error
	calls   int
}

func newScriptedEmbedder() *scriptedEmbedder {
	return &scriptedEmbedder{vectors: make(map[string][]float32)}
}

func (e *scriptedEmbedder) set(word string, vec []float32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vectors[word] = vec
}

func (e *scriptedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	if fields := strings.Fields(text); len(fields) > 0 {
		if v, ok := e.vectors[fields[0]]; ok {
			return v, nil
		}
	}
	return []float32{0, 0, 0, 1}, nil
}

func (e *scriptedEmbedder) Dimensions() int { return testDims }
func (e *scriptedEmbedder) Name() string    { return "scripted" }
func (e *scriptedEmbedder) Model() string   { return "scripted-4" }

func (e *scriptedEmbedder) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// fixedReranker scores candidates with a function of their text.
type fixedReranker struct {
	score func(text string) float64
	err   error
}

func (r *fixedReranker) Rerank(ctx context.Context, query string, candidates []string) ([]float64, error) {
	if r.err != nil {
		return nil, r.err
	}
	out := make([]float64, len(candidates))
	for i, c := range candidates {
		out[i] = r.score(c)
	}
	return out, nil
}

func memoryIDs(ms []*types.Memory) []int64 {
	out := make([]int64, len(ms))
	for i, m := range ms {
		out[i] = m.ID
	}
	return out
}
