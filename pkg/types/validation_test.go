package types_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/engram/pkg/types"
)

func validInput() types.MemoryInput {
	return types.MemoryInput{
		Title:      "Deploy checklist",
		Content:    "Run migrations before switching traffic.",
		Importance: 7,
	}
}

func TestValidate_MemoryInputOK(t *testing.T) {
	in := validInput()
	require.NoError(t, types.Validate(&in))
}

func TestValidate_MemoryInputLimits(t *testing.T) {
	tests := []struct {
		name  string
		mod   func(*types.MemoryInput)
		field string
	}{
		{"missing title", func(in *types.MemoryInput) { in.Title = "" }, "title"},
		{"title too long", func(in *types.MemoryInput) { in.Title = strings.Repeat("a", 201) }, "title"},
		{"content too long", func(in *types.MemoryInput) { in.Content = strings.Repeat("a", 2001) }, "content"},
		{"context too long", func(in *types.MemoryInput) { in.Context = strings.Repeat("a", 501) }, "context"},
		{"too many keywords", func(in *types.MemoryInput) { in.Keywords = make11() }, "keywords"},
		{"too many tags", func(in *types.MemoryInput) { in.Tags = make11() }, "tags"},
		{"importance too high", func(in *types.MemoryInput) { in.Importance = 11 }, "importance"},
		{"importance negative", func(in *types.MemoryInput) { in.Importance = -1 }, "importance"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validInput()
			tt.mod(&in)
			err := types.Validate(&in)

			var verr *types.ValidationError
			require.True(t, errors.As(err, &verr), "expected ValidationError, got %v", err)
			assert.Contains(t, verr.Fields, tt.field)
		})
	}
}

func TestValidate_TitleLimitCountsRunes(t *testing.T) {
	in := validInput()
	in.Title = strings.Repeat("é", 200)
	assert.NoError(t, types.Validate(&in))
}

func TestValidate_EntityType(t *testing.T) {
	in := types.EntityInput{Name: "Ada", EntityType: "Wizard"}
	err := types.Validate(&in)
	var verr *types.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Fields, "entity_type")

	in.EntityType = types.EntityTypeIndividual
	assert.NoError(t, types.Validate(&in))
}

func TestValidate_RelationshipBounds(t *testing.T) {
	strength := 1.5
	in := types.RelationshipInput{SourceEntityID: 1, TargetEntityID: 2, RelationshipType: "works_for", Strength: &strength}
	assert.Error(t, types.Validate(&in))

	strength = 0.4
	assert.NoError(t, types.Validate(&in))

	in.TargetEntityID = 1
	assert.Error(t, types.Validate(&in), "self relationship must be rejected")
}

func TestErrorTaxonomy_Unwrap(t *testing.T) {
	base := errors.New("boom")
	perr := &types.ProviderError{Kind: types.ProviderRateLimited, Provider: "openai", Err: base}
	assert.True(t, perr.Retryable())
	assert.ErrorIs(t, perr, base)

	mf := &types.MigrationFailure{Phase: types.PhaseReEmbed, Err: perr, Restored: true, BackupPath: "/tmp/b.db"}
	var got *types.ProviderError
	require.True(t, errors.As(mf, &got))
	assert.Equal(t, types.ProviderRateLimited, got.Kind)
	assert.Contains(t, mf.Error(), "re_embed")
	assert.Contains(t, mf.Error(), "/tmp/b.db")

	auth := &types.ProviderError{Kind: types.ProviderAuth, Provider: "openai"}
	assert.False(t, auth.Retryable())
}

func make11() []string {
	out := make([]string, 11)
	for i := range out {
		out[i] = "k"
	}
	return out
}
