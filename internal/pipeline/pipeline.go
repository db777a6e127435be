package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"newsdigest/internal/clustering"
	"newsdigest/internal/core"
	"newsdigest/internal/logger"
)

// Pipeline runs one batch: fetch, prepare, index keywords, cluster and
// optionally build the daily digest
type Pipeline struct {
	source   Source
	ingestor *Ingestor
	keywords *KeywordIndexer
	assigner TopicAssigner
	digest   DigestGenerator

	config *Config
	now    func() time.Time
	log    *slog.Logger
}

// Config holds pipeline configuration
type Config struct {
	// GenerateDigest builds a digest after clustering
	GenerateDigest bool

	// IndexKeywords stores keywords of prepared stories
	IndexKeywords bool
}

// DefaultConfig returns the configuration of a scheduled run
func DefaultConfig() *Config {
	return &Config{
		GenerateDigest: true,
		IndexKeywords:  true,
	}
}

// NewPipeline creates a pipeline. keywords and digest may be nil.
func NewPipeline(source Source, ingestor *Ingestor, keywords *KeywordIndexer, assigner TopicAssigner, digest DigestGenerator, config *Config) *Pipeline {
	if config == nil {
		config = DefaultConfig()
	}
	return &Pipeline{
		source:   source,
		ingestor: ingestor,
		keywords: keywords,
		assigner: assigner,
		digest:   digest,
		config:   config,
		now:      time.Now,
		log:      logger.Get(),
	}
}

// ProcessingStats tracks run metrics
type ProcessingStats struct {
	IngestStats
	KeywordsAdded   int
	NewTopics       int
	JoinedTopics    int
	ClusterFailures int
	StartTime       time.Time
	EndTime         time.Time
	ProcessingTime  time.Duration
}

// RunResult is the outcome of one pipeline run
type RunResult struct {
	Stories []*core.Story
	Digest  *core.DailyDigest
	Stats   ProcessingStats
}

// Run executes one batch. Failures of single articles are logged and counted;
// the returned error is reserved for storage, source and digest failures.
func (p *Pipeline) Run(ctx context.Context) (*RunResult, error) {
	start := p.now()
	result := &RunResult{Stats: ProcessingStats{StartTime: start}}
	defer func() {
		result.Stats.EndTime = p.now()
		result.Stats.ProcessingTime = result.Stats.EndTime.Sub(start)
	}()

	p.log.Info("Starting run", "source", p.source.Name())

	articles, err := p.source.Fetch(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to fetch articles: %w", err)
	}

	stories, ingest, err := p.ingestor.Prepare(ctx, articles, start)
	result.Stats.IngestStats = ingest
	if err != nil {
		return result, fmt.Errorf("failed to prepare articles: %w", err)
	}
	p.log.Info("Prepared articles",
		"fetched", ingest.Fetched,
		"prepared", ingest.Prepared,
		"duplicates", ingest.Duplicates,
		"non_english", ingest.NonEnglish,
		"failed", ingest.Failed,
	)

	if p.config.IndexKeywords && p.keywords != nil {
		added, err := p.keywords.Index(ctx, stories)
		result.Stats.KeywordsAdded = added
		if err != nil {
			return result, fmt.Errorf("failed to index keywords: %w", err)
		}
	}

	for _, story := range stories {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		res, err := p.assigner.Process(ctx, story)
		if err != nil {
			result.Stats.ClusterFailures++
			p.log.Error("Failed to cluster story",
				"source", story.Source,
				"link", story.Link,
				"headline", story.Headline,
				"error", err.Error(),
			)
			continue
		}

		switch res.Outcome {
		case clustering.OutcomeNewTopic:
			result.Stats.NewTopics++
		case clustering.OutcomeJoinedTopic:
			result.Stats.JoinedTopics++
		}
		result.Stories = append(result.Stories, story)
	}

	if p.config.GenerateDigest && p.digest != nil {
		digest, err := p.digest.Generate(ctx)
		if err != nil {
			return result, fmt.Errorf("failed to generate digest: %w", err)
		}
		result.Digest = digest
	}

	p.log.Info("Run complete",
		"stored", len(result.Stories),
		"new_topics", result.Stats.NewTopics,
		"joined_topics", result.Stats.JoinedTopics,
		"cluster_failures", result.Stats.ClusterFailures,
		"keywords_added", result.Stats.KeywordsAdded,
		"digest", result.Digest != nil,
	)
	return result, nil
}
