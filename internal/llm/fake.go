package llm

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// FakeProvider produces deterministic bag-of-words vectors without any
// network access. Texts sharing words get similar vectors, which makes it
// usable for offline runs and for tests that exercise ranking.
type FakeProvider struct {
	dimensions int
	model      string
}

// NewFakeProvider creates a fake provider producing vectors of length dims.
func NewFakeProvider(dims int, model string) *FakeProvider {
	if dims <= 0 {
		dims = 64
	}
	if model == "" {
		model = "fake-hash"
	}
	return &FakeProvider{dimensions: dims, model: model}
}

func (p *FakeProvider) Name() string    { return "fake" }
func (p *FakeProvider) Model() string   { return p.model }
func (p *FakeProvider) Dimensions() int { return p.dimensions }

// Embed hashes each lower-cased word into a bucket and L2-normalizes.
func (p *FakeProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, asProviderError(p.Name(), err)
	}
	vec := make([]float32, p.dimensions)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		sum := h.Sum32()
		sign := float32(1)
		if sum&1 == 1 {
			sign = -1
		}
		vec[int(sum>>1)%p.dimensions] += sign
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec, nil
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec, nil
}

var _ EmbeddingProvider = (*FakeProvider)(nil)
