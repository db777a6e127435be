package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"newsdigest/internal/config"
)

const defaultAnthropicMaxTokens = 2048

// AnthropicClient provides structured generation from Claude models.
// Anthropic has no embedding endpoint, so it is paired with another Embedder.
type AnthropicClient struct {
	client    *anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

// NewAnthropicClient creates a client from the Anthropic configuration section
func NewAnthropicClient(cfg config.AnthropicConfig) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key is required. Set ANTHROPIC_API_KEY or ai.anthropic.api_key in config file")
	}

	client := anthropic.NewClient(option.WithAPIKey(cfg.APIKey))

	model := anthropic.ModelClaudeHaiku4_5
	if cfg.Model != "" {
		model = anthropic.Model(cfg.Model)
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	return &AnthropicClient{
		client:    &client,
		model:     model,
		maxTokens: maxTokens,
	}, nil
}

// Summarizer returns the structured gateway backed by this client
func (c *AnthropicClient) Summarizer() *Gateway { return newGateway(c) }

func (c *AnthropicClient) provider() string { return "anthropic" }

func (c *AnthropicClient) complete(ctx context.Context, req request) (string, error) {
	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: req.System},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic API error: %w", err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		sb.WriteString(block.Text)
	}
	if strings.TrimSpace(sb.String()) == "" {
		return "", ErrEmptyResponse
	}
	return sb.String(), nil
}
