package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"newsdigest/internal/core"
	"newsdigest/internal/llm"
	"newsdigest/internal/logger"
	"newsdigest/internal/persistence"
)

// EmbeddingSpec names the embedding model and vector size
type EmbeddingSpec struct {
	Model      string
	Dimensions int
}

// Ingestor turns raw articles into summarized, embedded stories ready for clustering
type Ingestor struct {
	stories    persistence.StoryRepository
	summarizer llm.Summarizer
	embedder   llm.Embedder
	embedding  EmbeddingSpec
	now        func() time.Time
	fold       cases.Caser
	log        *slog.Logger
}

// NewIngestor creates an ingestor that checks duplicates against stories
func NewIngestor(stories persistence.StoryRepository, summarizer llm.Summarizer, embedder llm.Embedder, embedding EmbeddingSpec) *Ingestor {
	return &Ingestor{
		stories:    stories,
		summarizer: summarizer,
		embedder:   embedder,
		embedding:  embedding,
		now:        time.Now,
		fold:       cases.Fold(),
		log:        logger.Get(),
	}
}

// IngestStats counts what happened to each raw article
type IngestStats struct {
	Fetched    int
	Prepared   int
	Duplicates int
	NonEnglish int
	Failed     int
}

// Prepare summarizes and embeds new articles in discovery order.
// Articles already stored, repeated within the batch, not in English or
// failing a gateway call are skipped; failures are logged, never returned.
func (i *Ingestor) Prepare(ctx context.Context, articles []core.RawArticle, runStart time.Time) ([]*core.Story, IngestStats, error) {
	stats := IngestStats{Fetched: len(articles)}
	seenHeadlines := make(map[string]bool)
	seenLinks := make(map[string]bool)

	var stories []*core.Story
	for _, article := range articles {
		if err := ctx.Err(); err != nil {
			return stories, stats, err
		}

		if seenHeadlines[article.Headline] || seenLinks[article.Link] {
			stats.Duplicates++
			continue
		}
		seenHeadlines[article.Headline] = true
		seenLinks[article.Link] = true

		exists, err := i.exists(ctx, article)
		if err != nil {
			return stories, stats, err
		}
		if exists {
			i.log.Debug("Skipping known article", "headline", article.Headline, "link", article.Link)
			stats.Duplicates++
			continue
		}

		story, err := i.prepare(ctx, article, runStart)
		if err != nil {
			i.log.Error("Failed to prepare article",
				"source", article.Source,
				"link", article.Link,
				"headline", article.Headline,
				"error", err.Error(),
			)
			stats.Failed++
			continue
		}
		if story == nil {
			stats.NonEnglish++
			continue
		}

		stories = append(stories, story)
		stats.Prepared++
	}
	return stories, stats, nil
}

func (i *Ingestor) exists(ctx context.Context, article core.RawArticle) (bool, error) {
	exists, err := i.stories.ExistsByHeadline(ctx, article.Headline)
	if err != nil || exists {
		return exists, err
	}
	return i.stories.ExistsByLink(ctx, article.Link)
}

// prepare returns nil without error for articles that are not in English
func (i *Ingestor) prepare(ctx context.Context, article core.RawArticle, runStart time.Time) (*core.Story, error) {
	text := article.Text
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("article has no text")
	}

	summary, err := i.summarizer.SummarizeArticle(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("summarization failed: %w", err)
	}

	if !i.isEnglish(summary.Language) {
		i.log.Info("Skipping non-English article", "headline", article.Headline, "language", summary.Language)
		return nil, nil
	}

	now := i.now()
	if summary.Time.After(now) {
		i.log.Warn("Article has a future timestamp, using now", "headline", article.Headline, "time", summary.Time)
		summary.Time = now
	}
	summary.Categories = core.CategoryPrefixes(summary.Category)

	story := &core.Story{
		Headline:  article.Headline,
		Source:    article.Source,
		Link:      article.Link,
		Published: article.Published,
		Updated:   storyUpdated(article.Published, summary.Time, now),
		Summary:   *summary,
		RunStart:  runStart,
	}

	embedding, err := i.embedder.Embed(ctx, story.EmbeddingText(), i.embedding.Model, i.embedding.Dimensions)
	if err != nil {
		return nil, fmt.Errorf("embedding failed: %w", err)
	}
	story.Embedding = embedding

	return story, nil
}

// isEnglish accepts names like "English" as well as BCP 47 tags like "en-US"
func (i *Ingestor) isEnglish(lang string) bool {
	lang = strings.TrimSpace(lang)
	if lang == "" {
		return false
	}
	if i.fold.String(lang) == i.fold.String("English") {
		return true
	}
	tag, err := language.Parse(lang)
	if err != nil {
		return false
	}
	base, _ := tag.Base()
	return base.String() == "en"
}

// storyUpdated picks the source timestamp, then the summary time, then now.
// Timestamps in the future are clamped to now.
func storyUpdated(published, summaryTime, now time.Time) time.Time {
	for _, t := range []time.Time{published, summaryTime} {
		if t.IsZero() {
			continue
		}
		if t.After(now) {
			return now
		}
		return t
	}
	return now
}
