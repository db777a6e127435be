// Package digest builds the daily digest from the stories of the last window.
package digest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"newsdigest/internal/core"
	"newsdigest/internal/llm"
	"newsdigest/internal/logger"
	"newsdigest/internal/persistence"
	"newsdigest/internal/render"
)

const (
	// DefaultWindow is how far back stories are collected
	DefaultWindow = 24 * time.Hour

	defaultTitle     = "Daily News Summary"
	defaultSentiment = "Neutral"
)

// ErrEmptyDigest is returned when the gateway produced no digest body
var ErrEmptyDigest = errors.New("digest body is empty")

// Options configures a Generator
type Options struct {
	// Window is the lookback period for stories (default: 24h)
	Window time.Duration

	// Now overrides the clock, used in tests
	Now func() time.Time
}

// Generator produces and stores daily digests
type Generator struct {
	db         persistence.Database
	summarizer llm.Summarizer
	sanitizer  *render.Sanitizer
	opts       Options
	log        *slog.Logger
}

// NewGenerator creates a digest generator
func NewGenerator(db persistence.Database, summarizer llm.Summarizer, opts Options) *Generator {
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Generator{
		db:         db,
		summarizer: summarizer,
		sanitizer:  render.NewSanitizer(),
		opts:       opts,
		log:        logger.Get(),
	}
}

// Generate builds the digest for the current window and stores it.
// It returns nil without error when no story was updated in the window.
// Nothing is stored unless every step succeeds.
func (g *Generator) Generate(ctx context.Context) (*core.DailyDigest, error) {
	now := g.opts.Now()

	stories, err := g.db.Stories().ListUpdatedSince(ctx, now.Add(-g.opts.Window))
	if err != nil {
		return nil, fmt.Errorf("failed to collect stories: %w", err)
	}
	if len(stories) == 0 {
		g.log.Info("No stories in digest window, skipping", "window", g.opts.Window.String())
		return nil, nil
	}
	g.log.Info("Generating daily digest", "stories", len(stories))

	inputs := make([]llm.DigestInput, 0, len(stories))
	for _, s := range stories {
		inputs = append(inputs, llm.DigestInput{Headline: s.Headline, SummaryText: s.Summary.Summary})
	}

	draft, err := g.summarizer.GenerateDailyDigest(ctx, inputs)
	if err != nil {
		return nil, fmt.Errorf("failed to generate digest text: %w", err)
	}
	if draft == nil || strings.TrimSpace(draft.Body) == "" {
		return nil, ErrEmptyDigest
	}

	linkable, shortNames, err := g.linkableTopics(ctx, stories)
	if err != nil {
		return nil, err
	}

	annotated := draft.Body
	if len(linkable) > 0 {
		annotated, err = g.summarizer.InsertLinkMarkers(ctx, draft.Body, linkable)
		if err != nil {
			return nil, fmt.Errorf("failed to insert link markers: %w", err)
		}
	}

	body := g.sanitizer.Sanitize(render.Resolve(annotated, shortNames))
	if strings.TrimSpace(body) == "" {
		return nil, ErrEmptyDigest
	}

	digest := &core.DailyDigest{
		Date:           now,
		Title:          orDefault(draft.Title, defaultTitle),
		OverallSummary: body,
		TopKeywords:    draft.TopKeywords,
		KeyStoryTitles: draft.KeyHeadlines,
		Sentiment:      orDefault(draft.Sentiment, defaultSentiment),
	}
	if err := g.db.Digests().Create(ctx, digest); err != nil {
		return nil, fmt.Errorf("failed to store digest: %w", err)
	}

	g.log.Info("Stored daily digest",
		"digest_id", digest.ID,
		"title", digest.Title,
		"linkable_topics", len(linkable),
		"links", strings.Count(body, "<a "),
	)
	return digest, nil
}

// linkableTopics resolves a short name for every topic referenced in the
// window, in window order. Generated names are cached on the topic.
func (g *Generator) linkableTopics(ctx context.Context, stories []core.Story) ([]llm.LinkableTopic, map[string]string, error) {
	var topicIDs []string
	seen := make(map[string]bool)
	for _, s := range stories {
		if s.TopicID == "" || seen[s.TopicID] {
			continue
		}
		seen[s.TopicID] = true
		topicIDs = append(topicIDs, s.TopicID)
	}
	if len(topicIDs) == 0 {
		return nil, map[string]string{}, nil
	}

	topics, err := g.db.Topics().GetByIDs(ctx, topicIDs)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load topics: %w", err)
	}
	byID := make(map[string]core.Topic, len(topics))
	for _, t := range topics {
		byID[t.ID] = t
	}

	var linkable []llm.LinkableTopic
	shortNames := make(map[string]string)
	for _, id := range topicIDs {
		topic, ok := byID[id]
		if !ok {
			g.log.Warn("Referenced topic not found", "topic_id", id)
			continue
		}

		name, err := g.shortName(ctx, topic)
		if err != nil {
			return nil, nil, err
		}
		if name == "" {
			continue
		}
		if owner, taken := shortNames[name]; taken {
			g.log.Warn("Short name already used by another topic", "short_name", name, "topic_id", id, "owner", owner)
			continue
		}

		shortNames[name] = id
		linkable = append(linkable, llm.LinkableTopic{
			ShortName: name,
			Title:     topic.Summary.Title,
			Summary:   topic.Summary.Summary,
		})
	}
	return linkable, shortNames, nil
}

// shortName returns the cached short name of a topic, generating and
// storing it on first use
func (g *Generator) shortName(ctx context.Context, topic core.Topic) (string, error) {
	if name := strings.TrimSpace(topic.ShortName); name != "" {
		return name, nil
	}

	name, err := g.summarizer.GenerateShortName(ctx, topic.Summary.Title, topic.Summary.Summary)
	if err != nil {
		return "", fmt.Errorf("failed to generate short name for topic %s: %w", topic.ID, err)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		g.log.Warn("Empty short name generated", "topic_id", topic.ID)
		return "", nil
	}

	if err := g.db.Topics().SetShortName(ctx, topic.ID, name); err != nil {
		g.log.Warn("Failed to cache short name", "topic_id", topic.ID, "short_name", name, "error", err.Error())
	}
	return name, nil
}

// Latest returns the most recent stored digest, or persistence.ErrNotFound
func Latest(ctx context.Context, db persistence.Database) (*core.DailyDigest, error) {
	digests, err := db.Digests().GetLatest(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(digests) == 0 {
		return nil, persistence.ErrNotFound
	}
	return &digests[0], nil
}

func orDefault(value, fallback string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return fallback
}
