package llm

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/scrypster/engram/pkg/types"
)

// OpenAIProvider embeds text through the OpenAI embeddings API, or through
// an Azure OpenAI deployment when configured for Azure.
type OpenAIProvider struct {
	client     *openai.Client
	name       string
	model      string
	dimensions int
	timeout    time.Duration
	// negotiate is true when the model accepts a dimensions parameter.
	negotiate bool
}

// OpenAIConfig holds OpenAI and Azure OpenAI client configuration.
type OpenAIConfig struct {
	APIKey     string
	Model      string // default: text-embedding-3-small
	Dimensions int
	// BaseURL overrides the API endpoint; for Azure it is the resource endpoint.
	BaseURL    string
	Azure      bool
	APIVersion string // Azure only
	Timeout    time.Duration
}

// NewOpenAIProvider creates a new OpenAI (or Azure OpenAI) embedding client.
func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	if cfg.Model == "" {
		cfg.Model = string(openai.SmallEmbedding3)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	var clientCfg openai.ClientConfig
	name := "openai"
	if cfg.Azure {
		clientCfg = openai.DefaultAzureConfig(cfg.APIKey, cfg.BaseURL)
		if cfg.APIVersion != "" {
			clientCfg.APIVersion = cfg.APIVersion
		}
		name = "azure"
	} else {
		clientCfg = openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			clientCfg.BaseURL = cfg.BaseURL
		}
	}

	return &OpenAIProvider{
		client:     openai.NewClientWithConfig(clientCfg),
		name:       name,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		timeout:    cfg.Timeout,
		negotiate:  strings.HasPrefix(cfg.Model, "text-embedding-3"),
	}
}

func (c *OpenAIProvider) Name() string    { return c.name }
func (c *OpenAIProvider) Model() string   { return c.model }
func (c *OpenAIProvider) Dimensions() int { return c.dimensions }

// Embed generates an embedding for text. Models that support it are asked
// for exactly the configured number of dimensions.
func (c *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req := openai.EmbeddingRequest{
		Input:          []string{text},
		Model:          openai.EmbeddingModel(c.model),
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
	}
	if c.negotiate && c.dimensions > 0 {
		req.Dimensions = c.dimensions
	}

	resp, err := c.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, c.classify(err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, invalidResponse(c.name, "no embedding data")
	}

	vec := resp.Data[0].Embedding
	if c.dimensions > 0 && len(vec) != c.dimensions {
		return nil, invalidResponse(c.name, "model %s returned %d dimensions, configured %d", c.model, len(vec), c.dimensions)
	}
	return vec, nil
}

func (c *OpenAIProvider) classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &types.ProviderError{Kind: kindForStatus(apiErr.HTTPStatusCode), Provider: c.name, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &types.ProviderError{Kind: kindForStatus(reqErr.HTTPStatusCode), Provider: c.name, Err: err}
	}
	return asProviderError(c.name, err)
}

var _ EmbeddingProvider = (*OpenAIProvider)(nil)
