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

// OllamaProvider embeds text with a local Ollama server.
type OllamaProvider struct {
	baseURL    string
	client     *http.Client
	model      string
	dimensions int
	timeout    time.Duration
}

// OllamaConfig holds Ollama client configuration.
type OllamaConfig struct {
	// BaseURL is the base URL for the Ollama API (default: http://localhost:11434)
	BaseURL string

	// Model is the embedding model name (default: nomic-embed-text)
	Model string

	// Dimensions is the vector length the model produces. Ollama has no
	// dimension negotiation, so responses of any other length are rejected.
	Dimensions int

	// Timeout is the per-request timeout (default: 30s)
	Timeout time.Duration
}

// embedRequest represents the request body for /api/embed endpoint
type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

// embedResponse represents the response from /api/embed endpoint
// The embeddings field is a 2D array; we always use the first (and only) embedding.
type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// NewOllamaProvider creates a new Ollama embedding client.
func NewOllamaProvider(config OllamaConfig) *OllamaProvider {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}
	if config.Model == "" {
		config.Model = "nomic-embed-text"
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	return &OllamaProvider{
		baseURL:    config.BaseURL,
		client:     &http.Client{Timeout: config.Timeout},
		model:      config.Model,
		dimensions: config.Dimensions,
		timeout:    config.Timeout,
	}
}

func (c *OllamaProvider) Name() string    { return "ollama" }
func (c *OllamaProvider) Model() string   { return c.model }
func (c *OllamaProvider) Dimensions() int { return c.dimensions }

// Embed generates an embedding for text via POST /api/embed.
func (c *OllamaProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	jsonData, err := json.Marshal(embedRequest{Model: c.model, Input: text})
	if err != nil {
		return nil, invalidResponse(c.Name(), "marshal request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/embed", bytes.NewReader(jsonData))
	if err != nil {
		return nil, invalidResponse(c.Name(), "create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, asProviderError(c.Name(), fmt.Errorf("send request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, statusError(c.Name(), resp.StatusCode, string(body))
	}

	var respData embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&respData); err != nil {
		return nil, invalidResponse(c.Name(), "decode response: %v", err)
	}
	if len(respData.Embeddings) == 0 || len(respData.Embeddings[0]) == 0 {
		return nil, invalidResponse(c.Name(), "empty embedding vector")
	}

	vec := respData.Embeddings[0]
	if c.dimensions > 0 && len(vec) != c.dimensions {
		return nil, invalidResponse(c.Name(), "model %s returned %d dimensions, configured %d", c.model, len(vec), c.dimensions)
	}
	return vec, nil
}

var _ EmbeddingProvider = (*OllamaProvider)(nil)
