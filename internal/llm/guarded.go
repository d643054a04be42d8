package llm

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/scrypster/engram/internal/metrics"
	"github.com/scrypster/engram/pkg/types"
)

// GuardOptions configures the resilience wrappers around a provider.
type GuardOptions struct {
	// RateLimit is the sustained request rate per second; 0 disables limiting.
	RateLimit float64
	// MaxRetries bounds Embed attempts on rate_limited and network errors.
	MaxRetries int
	// RetryBase is the first backoff interval (default: 250ms).
	RetryBase time.Duration
	Breaker   CircuitBreakerConfig
	Logger    *zap.Logger
	Metrics   *metrics.Collector
}

// GuardedProvider decorates an EmbeddingProvider with rate limiting, a
// circuit breaker and bounded retries. Embedding is idempotent, so retrying
// it is safe.
type GuardedProvider struct {
	inner   EmbeddingProvider
	limiter *rate.Limiter
	breaker *CircuitBreaker
	opts    GuardOptions
	logger  *zap.Logger
}

// NewGuardedProvider wraps inner.
func NewGuardedProvider(inner EmbeddingProvider, opts GuardOptions) *GuardedProvider {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 1
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = 250 * time.Millisecond
	}
	if opts.Breaker.MaxFailures == 0 {
		opts.Breaker = DefaultCircuitBreakerConfig()
	}
	return &GuardedProvider{
		inner:   inner,
		limiter: newLimiter(opts.RateLimit),
		breaker: NewCircuitBreaker(inner.Name()+"-embed", opts.Breaker, opts.Logger),
		opts:    opts,
		logger:  opts.Logger,
	}
}

func (g *GuardedProvider) Name() string    { return g.inner.Name() }
func (g *GuardedProvider) Model() string   { return g.inner.Model() }
func (g *GuardedProvider) Dimensions() int { return g.inner.Dimensions() }

// Embed calls the wrapped provider, retrying retryable failures with
// exponential backoff.
func (g *GuardedProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = g.opts.RetryBase
	eb.MaxInterval = 10 * g.opts.RetryBase

	attempt := 0
	vec, err := backoff.Retry(ctx, func() ([]float32, error) {
		attempt++
		v, err := g.once(ctx, text)
		if err == nil {
			return v, nil
		}
		var perr *types.ProviderError
		if errors.As(err, &perr) && perr.Retryable() && !errors.Is(err, ErrCircuitOpen) && ctx.Err() == nil {
			g.logger.Debug("embed attempt failed, retrying",
				zap.String("provider", g.Name()),
				zap.Int("attempt", attempt),
				zap.Error(err))
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}, backoff.WithBackOff(eb), backoff.WithMaxTries(uint(g.opts.MaxRetries)))
	if err != nil {
		return nil, asProviderError(g.Name(), err)
	}
	return vec, nil
}

func (g *GuardedProvider) once(ctx context.Context, text string) ([]float32, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, asProviderError(g.Name(), err)
	}
	start := time.Now()
	res, err := g.breaker.Execute(ctx, func() (interface{}, error) {
		return g.inner.Embed(ctx, text)
	})
	err = asProviderError(g.Name(), err)
	g.opts.Metrics.ProviderCall(g.Name(), "embed", time.Since(start), errKind(err))
	if err != nil {
		return nil, err
	}
	return res.([]float32), nil
}

// GuardedReranker decorates a Reranker with rate limiting and a circuit
// breaker. Rerank calls are never retried: callers fall back to similarity
// ranking instead.
type GuardedReranker struct {
	inner   Reranker
	limiter *rate.Limiter
	breaker *CircuitBreaker
	metrics *metrics.Collector
}

// NewGuardedReranker wraps inner.
func NewGuardedReranker(inner Reranker, opts GuardOptions) *GuardedReranker {
	if opts.Breaker.MaxFailures == 0 {
		opts.Breaker = DefaultCircuitBreakerConfig()
	}
	return &GuardedReranker{
		inner:   inner,
		limiter: newLimiter(opts.RateLimit),
		breaker: NewCircuitBreaker("rerank", opts.Breaker, opts.Logger),
		metrics: opts.Metrics,
	}
}

// Rerank scores candidates against query.
func (g *GuardedReranker) Rerank(ctx context.Context, query string, candidates []string) ([]float64, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, asProviderError("rerank", err)
	}
	start := time.Now()
	res, err := g.breaker.Execute(ctx, func() (interface{}, error) {
		return g.inner.Rerank(ctx, query, candidates)
	})
	err = asProviderError("rerank", err)
	g.metrics.ProviderCall("rerank", "rerank", time.Since(start), errKind(err))
	if err != nil {
		return nil, err
	}
	scores, _ := res.([]float64)
	if len(scores) != len(candidates) {
		return nil, invalidResponse("rerank", "got %d scores for %d candidates", len(scores), len(candidates))
	}
	return scores, nil
}

func newLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

func errKind(err error) string {
	var perr *types.ProviderError
	if errors.As(err, &perr) {
		return string(perr.Kind)
	}
	return ""
}

var (
	_ EmbeddingProvider = (*GuardedProvider)(nil)
	_ Reranker          = (*GuardedReranker)(nil)
)
