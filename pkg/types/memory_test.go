package types_test

import (
	"testing"

	"github.com/scrypster/engram/pkg/types"
)

func TestBuildEmbeddingText(t *testing.T) {
	m := types.Memory{
		Title:    "Use WAL mode",
		Content:  "SQLite runs in WAL mode for concurrent readers.",
		Context:  "storage tuning",
		Keywords: []string{"sqlite", "wal"},
		Tags:     []string{"db"},
	}
	want := "Use WAL mode SQLite runs in WAL mode for concurrent readers. storage tuning sqlite wal db"
	if got := m.EmbeddingText(); got != want {
		t.Errorf("EmbeddingText() = %q, want %q", got, want)
	}
}

func TestBuildEmbeddingText_SkipsEmptyFields(t *testing.T) {
	got := types.BuildEmbeddingText("title", "content", "", nil, []string{"a"})
	if got != "title content a" {
		t.Errorf("got %q", got)
	}
}

func TestMemoryPatch_TouchesEmbedding(t *testing.T) {
	imp := 9
	p := types.MemoryPatch{Importance: &imp}
	if p.TouchesEmbedding() {
		t.Error("importance-only patch must not require re-embedding")
	}

	tags := []string{"x"}
	p.Tags = &tags
	if !p.TouchesEmbedding() {
		t.Error("tag change must require re-embedding")
	}
}

func TestMemoryPatch_Apply(t *testing.T) {
	m := types.Memory{Title: "old", Content: "body", Importance: 3}
	title := "new"
	imp := 7
	p := types.MemoryPatch{Title: &title, Importance: &imp}
	p.Apply(&m)

	if m.Title != "new" || m.Importance != 7 {
		t.Errorf("patch not applied: %+v", m)
	}
	if m.Content != "body" {
		t.Errorf("unsupplied field changed: content=%q", m.Content)
	}
}

func TestCanonicalLink(t *testing.T) {
	a, b := types.CanonicalLink(9, 4)
	if a != 4 || b != 9 {
		t.Errorf("CanonicalLink(9,4) = (%d,%d), want (4,9)", a, b)
	}
	a, b = types.CanonicalLink(1, 2)
	if a != 1 || b != 2 {
		t.Errorf("CanonicalLink(1,2) = (%d,%d), want (1,2)", a, b)
	}
}
