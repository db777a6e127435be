// Package llm provides the summarization and embedding gateways backed by
// OpenAI, Gemini and Anthropic models.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"newsdigest/internal/core"
)

// Summarizer is the structured text-generation gateway used by ingestion,
// clustering and digest generation.
type Summarizer interface {
	// SummarizeArticle produces the structured summary of one article
	SummarizeArticle(ctx context.Context, text string) (*core.ArticleSummary, error)

	// SummarizeStories produces one aggregate summary for a group of related stories
	SummarizeStories(ctx context.Context, stories []StoryInput) (*core.ArticleSummary, error)

	// GenerateDailyDigest writes the paragraphed digest for a window of stories
	GenerateDailyDigest(ctx context.Context, stories []DigestInput) (*DigestDraft, error)

	// GenerateShortName returns a distinctive 2-5 word label for a topic
	GenerateShortName(ctx context.Context, title, summary string) (string, error)

	// InsertLinkMarkers wraps spans of body that refer to topics in link markers
	InsertLinkMarkers(ctx context.Context, body string, topics []LinkableTopic) (string, error)
}

// Embedder computes text embeddings
type Embedder interface {
	Embed(ctx context.Context, text, model string, dims int) ([]float64, error)
}

// StoryInput is one member story handed to SummarizeStories
type StoryInput struct {
	Headline string    `json:"headline"`
	Summary  string    `json:"summary"`
	Time     time.Time `json:"time"`
}

// DigestInput is one window story handed to GenerateDailyDigest
type DigestInput struct {
	Headline    string `json:"headline"`
	SummaryText string `json:"summary_text"`
}

// DigestDraft is the unresolved output of GenerateDailyDigest
type DigestDraft struct {
	Title        string   `json:"title"`
	Body         string   `json:"body"`
	TopKeywords  []string `json:"top_keywords"`
	KeyHeadlines []string `json:"key_headlines"`
	Sentiment    string   `json:"sentiment"`
}

// LinkableTopic is a topic the digest body may link to
type LinkableTopic struct {
	ShortName string `json:"short_name"`
	Title     string `json:"title"`
	Summary   string `json:"summary"`
}

var (
	// ErrMalformedResponse is returned when a response does not match the expected structure
	ErrMalformedResponse = errors.New("malformed response")

	// ErrEmptyResponse is returned when the model produced no content
	ErrEmptyResponse = errors.New("empty response")

	// ErrTimeout is returned when a call exceeds its deadline
	ErrTimeout = errors.New("gateway timeout")
)

// GatewayError records which provider and operation failed
type GatewayError struct {
	Provider string
	Op       string
	Err      error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

func gatewayError(provider, op string, err error) error {
	if err == nil {
		return nil
	}
	var ge *GatewayError
	if errors.As(err, &ge) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return &GatewayError{Provider: provider, Op: op, Err: err}
}
