package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"newsdigest/internal/config"
)

// OpenAIClient provides chat completions and embeddings from OpenAI
type OpenAIClient struct {
	client      *openai.Client
	model       openai.ChatModel
	maxTokens   int64
	temperature float64
}

// NewOpenAIClient creates a client from the OpenAI configuration section
func NewOpenAIClient(cfg config.OpenAIConfig) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai API key is required. Set OPENAI_API_KEY or ai.openai.api_key in config file")
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := openai.NewClient(opts...)

	model := cfg.Model
	if model == "" {
		model = string(openai.ChatModelGPT4oMini)
	}

	return &OpenAIClient{
		client:      &client,
		model:       openai.ChatModel(model),
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}, nil
}

// Summarizer returns the structured gateway backed by this client
func (c *OpenAIClient) Summarizer() *Gateway { return newGateway(c) }

func (c *OpenAIClient) provider() string { return "openai" }

func (c *OpenAIClient) complete(ctx context.Context, req request) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.System),
			openai.UserMessage(req.Prompt),
		},
	}
	if c.maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(c.maxTokens)
	}
	if c.temperature > 0 {
		params.Temperature = openai.Float(c.temperature)
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai API error: %w", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}

// Embed returns the embedding of text. Dimensions are only sent to models
// that support shortening.
func (c *OpenAIClient) Embed(ctx context.Context, text, model string, dims int) ([]float64, error) {
	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
		Model: openai.EmbeddingModel(model),
	}
	if dims > 0 && strings.HasPrefix(model, "text-embedding-3") {
		params.Dimensions = openai.Int(int64(dims))
	}

	resp, err := c.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, gatewayError(c.provider(), "embed", fmt.Errorf("openai API error: %w", err))
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, gatewayError(c.provider(), "embed", ErrEmptyResponse)
	}

	embedding := resp.Data[0].Embedding
	if dims > 0 && len(embedding) != dims {
		return nil, gatewayError(c.provider(), "embed",
			fmt.Errorf("%w: expected %d dimensions, got %d", ErrMalformedResponse, dims, len(embedding)))
	}
	return embedding, nil
}
