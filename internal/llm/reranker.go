package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPReranker calls a cross-encoder rerank service speaking the common
// {query, documents, model} -> {results:[{index, relevance_score}]} protocol
// (Cohere, Jina, TEI and compatible servers).
type HTTPReranker struct {
	url     string
	model   string
	apiKey  string
	client  *http.Client
	timeout time.Duration
}

// HTTPRerankerConfig holds reranker configuration.
type HTTPRerankerConfig struct {
	URL     string
	Model   string
	APIKey  string
	Timeout time.Duration
}

type rerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	Model     string   `json:"model,omitempty"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// NewHTTPReranker creates a reranker client.
func NewHTTPReranker(cfg HTTPRerankerConfig) *HTTPReranker {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &HTTPReranker{
		url:     cfg.URL,
		model:   cfg.Model,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: cfg.Timeout},
		timeout: cfg.Timeout,
	}
}

// Rerank returns one score per candidate, in candidate order. Candidates the
// service leaves out of its results score 0.
func (r *HTTPReranker) Rerank(ctx context.Context, query string, candidates []string) ([]float64, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	body, err := json.Marshal(rerankRequest{Query: query, Documents: candidates, Model: r.model})
	if err != nil {
		return nil, invalidResponse("rerank", "marshal request: %v", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return nil, invalidResponse("rerank", "create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, asProviderError("rerank", fmt.Errorf("send request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, statusError("rerank", resp.StatusCode, string(b))
	}

	var out rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, invalidResponse("rerank", "decode response: %v", err)
	}

	scores := make([]float64, len(candidates))
	for _, res := range out.Results {
		if res.Index < 0 || res.Index >= len(candidates) {
			return nil, invalidResponse("rerank", "result index %d out of range", res.Index)
		}
		scores[res.Index] = res.RelevanceScore
	}
	return scores, nil
}

var _ Reranker = (*HTTPReranker)(nil)
