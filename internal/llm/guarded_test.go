package llm

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/engram/pkg/types"
)

// scriptedProvider fails with the queued errors before succeeding.
type scriptedProvider struct {
	errs  []error
	calls int32
}

func (s *scriptedProvider) Name() string    { return "scripted" }
func (s *scriptedProvider) Model() string   { return "m" }
func (s *scriptedProvider) Dimensions() int { return 2 }

func (s *scriptedProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	n := int(atomic.AddInt32(&s.calls, 1))
	if n <= len(s.errs) {
		return nil, s.errs[n-1]
	}
	return []float32{1, 0}, nil
}

func perr(kind types.ProviderErrorKind) error {
	return &types.ProviderError{Kind: kind, Provider: "scripted", Err: errors.New(string(kind))}
}

func fastGuard(inner EmbeddingProvider, retries int) *GuardedProvider {
	return NewGuardedProvider(inner, GuardOptions{
		MaxRetries: retries,
		RetryBase:  time.Millisecond,
		Breaker:    CircuitBreakerConfig{MaxFailures: 10, Timeout: time.Minute, HalfOpenMaxSuccesses: 1},
	})
}

func TestGuardedProvider_RetriesTransientErrors(t *testing.T) {
	inner := &scriptedProvider{errs: []error{perr(types.ProviderRateLimited), perr(types.ProviderNetwork)}}
	g := fastGuard(inner, 3)

	vec, err := g.Embed(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, vec)
	assert.EqualValues(t, 3, atomic.LoadInt32(&inner.calls))
}

func TestGuardedProvider_DoesNotRetryAuth(t *testing.T) {
	inner := &scriptedProvider{errs: []error{perr(types.ProviderAuth)}}
	g := fastGuard(inner, 3)

	_, err := g.Embed(context.Background(), "x")
	var pe *types.ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, types.ProviderAuth, pe.Kind)
	assert.EqualValues(t, 1, atomic.LoadInt32(&inner.calls))
}

func TestGuardedProvider_GivesUpAfterMaxRetries(t *testing.T) {
	inner := &scriptedProvider{errs: []error{
		perr(types.ProviderNetwork), perr(types.ProviderNetwork), perr(types.ProviderNetwork), perr(types.ProviderNetwork),
	}}
	g := fastGuard(inner, 2)

	_, err := g.Embed(context.Background(), "x")
	require.Error(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(&inner.calls))
}

func TestGuardedProvider_CircuitOpens(t *testing.T) {
	errs := make([]error, 10)
	for i := range errs {
		errs[i] = perr(types.ProviderNetwork)
	}
	inner := &scriptedProvider{errs: errs}
	g := NewGuardedProvider(inner, GuardOptions{
		MaxRetries: 1,
		Breaker:    CircuitBreakerConfig{MaxFailures: 2, Timeout: time.Minute, HalfOpenMaxSuccesses: 1},
	})

	for i := 0; i < 2; i++ {
		_, err := g.Embed(context.Background(), "x")
		require.Error(t, err)
	}
	assert.Equal(t, "open", g.breaker.State())

	_, err := g.Embed(context.Background(), "x")
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.EqualValues(t, 2, atomic.LoadInt32(&inner.calls), "open circuit must not reach the provider")
}

func TestGuardedProvider_InvalidRequestKeepsCircuitClosed(t *testing.T) {
	errs := make([]error, 5)
	for i := range errs {
		errs[i] = perr(types.ProviderInvalidRequest)
	}
	g := NewGuardedProvider(&scriptedProvider{errs: errs}, GuardOptions{
		MaxRetries: 1,
		Breaker:    CircuitBreakerConfig{MaxFailures: 2, Timeout: time.Minute, HalfOpenMaxSuccesses: 1},
	})
	for i := 0; i < 5; i++ {
		_, _ = g.Embed(context.Background(), "x")
	}
	assert.Equal(t, "closed", g.breaker.State())
}

type failingReranker struct{ calls int }

func (f *failingReranker) Rerank(ctx context.Context, q string, c []string) ([]float64, error) {
	f.calls++
	return nil, perr(types.ProviderNetwork)
}

func TestGuardedReranker_NoRetry(t *testing.T) {
	inner := &failingReranker{}
	g := NewGuardedReranker(inner, GuardOptions{})
	_, err := g.Rerank(context.Background(), "q", []string{"a"})
	require.Error(t, err)
	assert.Equal(t, 1, inner.calls)
}

func TestCachedProvider_HitsCache(t *testing.T) {
	inner := &scriptedProvider{}
	c, err := NewCachedProvider(inner, 100, nil)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Embed(context.Background(), "same query")
	require.NoError(t, err)
	c.Wait()
	_, err = c.Embed(context.Background(), "same query")
	require.NoError(t, err)

	assert.EqualValues(t, 1, atomic.LoadInt32(&inner.calls))
	assert.Equal(t, 2, c.Dimensions())
}
