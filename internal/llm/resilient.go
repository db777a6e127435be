package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"newsdigest/internal/core"
	"newsdigest/internal/logger"
)

// RetryPolicy bounds every gateway call with a timeout and a small retry budget
type RetryPolicy struct {
	MaxRetries int           // Retries after the first attempt
	Delay      time.Duration // Base delay, multiplied by the attempt number
	Timeout    time.Duration // Per-attempt deadline, zero for none
}

// DefaultRetryPolicy returns the policy used when nothing is configured
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 2, Delay: 2 * time.Second, Timeout: 60 * time.Second}
}

// ResilientSummarizer applies a RetryPolicy to every Summarizer call
type ResilientSummarizer struct {
	next   Summarizer
	policy RetryPolicy
	log    *slog.Logger
}

var _ Summarizer = (*ResilientSummarizer)(nil)

// NewResilientSummarizer wraps next with policy
func NewResilientSummarizer(next Summarizer, policy RetryPolicy) *ResilientSummarizer {
	return &ResilientSummarizer{next: next, policy: policy, log: logger.Get()}
}

func (r *ResilientSummarizer) SummarizeArticle(ctx context.Context, text string) (*core.ArticleSummary, error) {
	return withRetry(ctx, r.policy, r.log, "summarize_article", func(ctx context.Context) (*core.ArticleSummary, error) {
		return r.next.SummarizeArticle(ctx, text)
	})
}

func (r *ResilientSummarizer) SummarizeStories(ctx context.Context, stories []StoryInput) (*core.ArticleSummary, error) {
	return withRetry(ctx, r.policy, r.log, "summarize_stories", func(ctx context.Context) (*core.ArticleSummary, error) {
		return r.next.SummarizeStories(ctx, stories)
	})
}

func (r *ResilientSummarizer) GenerateDailyDigest(ctx context.Context, stories []DigestInput) (*DigestDraft, error) {
	return withRetry(ctx, r.policy, r.log, "generate_daily_digest", func(ctx context.Context) (*DigestDraft, error) {
		return r.next.GenerateDailyDigest(ctx, stories)
	})
}

func (r *ResilientSummarizer) GenerateShortName(ctx context.Context, title, summary string) (string, error) {
	return withRetry(ctx, r.policy, r.log, "generate_short_name", func(ctx context.Context) (string, error) {
		return r.next.GenerateShortName(ctx, title, summary)
	})
}

func (r *ResilientSummarizer) InsertLinkMarkers(ctx context.Context, body string, topics []LinkableTopic) (string, error) {
	return withRetry(ctx, r.policy, r.log, "insert_link_markers", func(ctx context.Context) (string, error) {
		return r.next.InsertLinkMarkers(ctx, body, topics)
	})
}

// ResilientEmbedder applies a RetryPolicy to every Embed call
type ResilientEmbedder struct {
	next   Embedder
	policy RetryPolicy
	log    *slog.Logger
}

// NewResilientEmbedder wraps next with policy
func NewResilientEmbedder(next Embedder, policy RetryPolicy) *ResilientEmbedder {
	return &ResilientEmbedder{next: next, policy: policy, log: logger.Get()}
}

func (r *ResilientEmbedder) Embed(ctx context.Context, text, model string, dims int) ([]float64, error) {
	return withRetry(ctx, r.policy, r.log, "embed", func(ctx context.Context) ([]float64, error) {
		return r.next.Embed(ctx, text, model, dims)
	})
}

func withRetry[T any](ctx context.Context, policy RetryPolicy, log *slog.Logger, op string, call func(context.Context) (T, error)) (T, error) {
	var zero T
	var err error

	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		var result T
		result, err = callOnce(ctx, policy.Timeout, call)
		if err == nil {
			return result, nil
		}

		// The caller gave up; retrying cannot help.
		if ctx.Err() != nil {
			return zero, err
		}

		if attempt < policy.MaxRetries {
			delay := policy.Delay * time.Duration(attempt+1)
			log.Warn("Gateway call failed, retrying", "op", op, "attempt", attempt+1, "delay", delay, "error", err)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return zero, err
			}
		}
	}

	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrTimeout) {
		err = fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return zero, fmt.Errorf("%s failed after %d attempts: %w", op, policy.MaxRetries+1, err)
}

func callOnce[T any](ctx context.Context, timeout time.Duration, call func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return call(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return call(ctx)
}
