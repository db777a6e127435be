package llm

import (
	"context"
	"fmt"
	"time"

	"newsdigest/internal/config"
	"newsdigest/internal/logger"
)

// Gateways bundles the configured summarizer and embedder
type Gateways struct {
	Summarizer Summarizer
	Embedder   Embedder

	closers []func() error
}

// Close releases any connections held by the gateways
func (g *Gateways) Close() error {
	var firstErr error
	for _, closeFn := range g.closers {
		if err := closeFn(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// NewGateways builds the summarizer and embedder selected by cfg, each wrapped
// with the retry policy. The embedder is cached in Redis when a URL is configured.
func NewGateways(ctx context.Context, cfg *config.Config) (*Gateways, error) {
	log := logger.Get()
	g := &Gateways{}

	var openaiClient *OpenAIClient
	var geminiClient *GeminiClient
	var err error

	needs := map[string]bool{cfg.AI.Provider: true, cfg.AI.Embedding.Provider: true}
	if needs["openai"] {
		if openaiClient, err = NewOpenAIClient(cfg.AI.OpenAI); err != nil {
			return nil, err
		}
	}
	if needs["gemini"] {
		if geminiClient, err = NewGeminiClient(ctx, cfg.AI.Gemini); err != nil {
			return nil, err
		}
	}

	var summarizer *Gateway
	var timeout time.Duration
	switch cfg.AI.Provider {
	case "openai":
		summarizer = openaiClient.Summarizer()
		timeout = config.Duration(cfg.AI.OpenAI.Timeout, 60*time.Second)
	case "gemini":
		summarizer = geminiClient.Summarizer()
		timeout = config.Duration(cfg.AI.Gemini.Timeout, 60*time.Second)
	case "anthropic":
		anthropicClient, err := NewAnthropicClient(cfg.AI.Anthropic)
		if err != nil {
			return nil, err
		}
		summarizer = anthropicClient.Summarizer()
		timeout = config.Duration(cfg.AI.Anthropic.Timeout, 60*time.Second)
	default:
		return nil, fmt.Errorf("unknown AI provider: %s", cfg.AI.Provider)
	}

	policy := RetryPolicy{
		MaxRetries: cfg.AI.Retry.MaxRetries,
		Delay:      config.Duration(cfg.AI.Retry.Delay, 2*time.Second),
		Timeout:    timeout,
	}
	g.Summarizer = NewResilientSummarizer(summarizer, policy)

	var embedder Embedder
	switch cfg.AI.Embedding.Provider {
	case "openai":
		embedder = openaiClient
	case "gemini":
		embedder = geminiClient
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", cfg.AI.Embedding.Provider)
	}
	embedder = NewResilientEmbedder(embedder, policy)

	if cfg.Cache.RedisURL != "" {
		cached, err := NewCachedEmbedder(ctx, embedder, cfg.Cache.RedisURL, config.Duration(cfg.Cache.EmbeddingTTL, 30*24*time.Hour))
		if err != nil {
			log.Warn("Embedding cache disabled", "error", err)
		} else {
			embedder = cached
			g.closers = append(g.closers, cached.Close)
		}
	}
	g.Embedder = embedder

	log.Debug("Gateways ready", "provider", cfg.AI.Provider, "embedding_provider", cfg.AI.Embedding.Provider)
	return g, nil
}
