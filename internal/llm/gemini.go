package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"newsdigest/internal/config"
)

// GeminiClient provides structured generation and embeddings from Gemini
type GeminiClient struct {
	gClient     *genai.Client
	modelName   string
	maxTokens   int32
	temperature float32
}

// NewGeminiClient creates a client from the Gemini configuration section
func NewGeminiClient(ctx context.Context, cfg config.GeminiConfig) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required. Set GEMINI_API_KEY or ai.gemini.api_key in config file")
	}

	gClient, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	modelName := cfg.Model
	if modelName == "" {
		modelName = "gemini-flash-lite-latest"
	}

	return &GeminiClient{
		gClient:     gClient,
		modelName:   modelName,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}, nil
}

// Summarizer returns the structured gateway backed by this client
func (c *GeminiClient) Summarizer() *Gateway { return newGateway(c) }

func (c *GeminiClient) provider() string { return "gemini" }

func (c *GeminiClient) complete(ctx context.Context, req request) (string, error) {
	contents := []*genai.Content{{
		Parts: []*genai.Part{{Text: req.Prompt}},
		Role:  "user",
	}}

	cfg := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: req.System}}},
	}
	if req.Schema != nil {
		cfg.ResponseMIMEType = "application/json"
		cfg.ResponseSchema = req.Schema
	}
	if c.maxTokens > 0 {
		cfg.MaxOutputTokens = c.maxTokens
	}
	if c.temperature > 0 {
		temp := c.temperature
		cfg.Temperature = &temp
	}

	resp, err := c.gClient.Models.GenerateContent(ctx, c.modelName, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// Embed returns the embedding of text, truncated to dims with Matryoshka output dimensionality
func (c *GeminiClient) Embed(ctx context.Context, text, model string, dims int) ([]float64, error) {
	contents := []*genai.Content{{
		Parts: []*genai.Part{{Text: text}},
		Role:  "user",
	}}

	var cfg *genai.EmbedContentConfig
	if dims > 0 {
		d := int32(dims)
		cfg = &genai.EmbedContentConfig{OutputDimensionality: &d}
	}

	resp, err := c.gClient.Models.EmbedContent(ctx, model, contents, cfg)
	if err != nil {
		return nil, gatewayError(c.provider(), "embed", fmt.Errorf("failed to generate embedding: %w", err))
	}
	if resp == nil || len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil || len(resp.Embeddings[0].Values) == 0 {
		return nil, gatewayError(c.provider(), "embed", ErrEmptyResponse)
	}

	values := resp.Embeddings[0].Values
	embedding := make([]float64, len(values))
	for i, val := range values {
		embedding[i] = float64(val)
	}
	return embedding, nil
}
