package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/engram/pkg/types"
)

func providerKind(t *testing.T, err error) types.ProviderErrorKind {
	t.Helper()
	var perr *types.ProviderError
	require.True(t, errors.As(err, &perr), "expected ProviderError, got %T: %v", err, err)
	return perr.Kind
}

func TestOllamaProvider_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nomic-embed-text", req.Model)
		assert.Equal(t, "hello", req.Input)
		_ = json.NewEncoder(w).Encode(embedResponse{Embeddings: [][]float32{{0.1, 0.2, 0.3}}})
	}))
	defer srv.Close()

	p := NewOllamaProvider(OllamaConfig{BaseURL: srv.URL, Dimensions: 3})
	vec, err := p.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
	assert.Equal(t, 3, p.Dimensions())
	assert.Equal(t, "ollama", p.Name())
}

func TestOllamaProvider_DimensionMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(embedResponse{Embeddings: [][]float32{{0.1, 0.2}}})
	}))
	defer srv.Close()

	p := NewOllamaProvider(OllamaConfig{BaseURL: srv.URL, Dimensions: 768})
	_, err := p.Embed(context.Background(), "hello")
	assert.Equal(t, types.ProviderInvalidRequest, providerKind(t, err))
}

func TestOllamaProvider_StatusMapping(t *testing.T) {
	tests := []struct {
		status int
		want   types.ProviderErrorKind
	}{
		{http.StatusTooManyRequests, types.ProviderRateLimited},
		{http.StatusUnauthorized, types.ProviderAuth},
		{http.StatusForbidden, types.ProviderAuth},
		{http.StatusBadRequest, types.ProviderInvalidRequest},
		{http.StatusNotFound, types.ProviderInvalidRequest},
		{http.StatusBadGateway, types.ProviderNetwork},
		{http.StatusServiceUnavailable, types.ProviderNetwork},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			_, err := NewOllamaProvider(OllamaConfig{BaseURL: srv.URL}).Embed(context.Background(), "x")
			assert.Equal(t, tt.want, providerKind(t, err))
		})
	}
}

func TestOllamaProvider_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := NewOllamaProvider(OllamaConfig{BaseURL: url, Timeout: time.Second}).Embed(context.Background(), "x")
	assert.Equal(t, types.ProviderNetwork, providerKind(t, err))
}

func TestOpenAIProvider_NegotiatesDimensions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "text-embedding-3-small", body["model"])
		assert.EqualValues(t, 4, body["dimensions"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","data":[{"object":"embedding","index":0,"embedding":[1,0,0,0]}],"model":"text-embedding-3-small"}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(OpenAIConfig{APIKey: "sk-test", Dimensions: 4, BaseURL: srv.URL})
	vec, err := p.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0, 0, 0}, vec)
}

func TestOpenAIProvider_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit_error"}}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(OpenAIConfig{APIKey: "sk-test", Dimensions: 4, BaseURL: srv.URL})
	_, err := p.Embed(context.Background(), "hello")
	assert.Equal(t, types.ProviderRateLimited, providerKind(t, err))
}

func TestHTTPReranker_AlignsScores(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer rk", r.Header.Get("Authorization"))
		var req rerankRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "query", req.Query)
		assert.Len(t, req.Documents, 3)
		// Results come back sorted by relevance, not input order.
		_, _ = w.Write([]byte(`{"results":[{"index":2,"relevance_score":0.9},{"index":0,"relevance_score":0.4},{"index":1,"relevance_score":0.1}]}`))
	}))
	defer srv.Close()

	r := NewHTTPReranker(HTTPRerankerConfig{URL: srv.URL, APIKey: "rk"})
	scores, err := r.Rerank(context.Background(), "query", []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, []float64{0.4, 0.1, 0.9}, scores)
}

func TestHTTPReranker_BadIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results":[{"index":7,"relevance_score":0.9}]}`))
	}))
	defer srv.Close()

	_, err := NewHTTPReranker(HTTPRerankerConfig{URL: srv.URL}).Rerank(context.Background(), "q", []string{"a"})
	assert.Equal(t, types.ProviderInvalidRequest, providerKind(t, err))
}

func TestFakeProvider_Deterministic(t *testing.T) {
	p := NewFakeProvider(32, "")
	a, err := p.Embed(context.Background(), "sqlite wal mode")
	require.NoError(t, err)
	b, err := p.Embed(context.Background(), "sqlite wal mode")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 32)

	c, _ := p.Embed(context.Background(), "sqlite wal journaling")
	d, _ := p.Embed(context.Background(), "banana bread recipe")
	assert.Greater(t, dot(a, c), dot(a, d), "shared words must raise similarity")
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}
