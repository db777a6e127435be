package pipeline

import (
	"fmt"
	"time"

	"newsdigest/internal/clustering"
	"newsdigest/internal/config"
	"newsdigest/internal/digest"
	"newsdigest/internal/llm"
	"newsdigest/internal/persistence"
)

// Builder helps construct a fully configured Pipeline
type Builder struct {
	db         persistence.Database
	summarizer llm.Summarizer
	embedder   llm.Embedder
	cfg        *config.Config
	source     Source
	config     *Config
}

// NewBuilder creates a new pipeline builder with default settings
func NewBuilder() *Builder {
	return &Builder{config: DefaultConfig()}
}

// WithDatabase sets the store for stories, topics, keywords and digests
func (b *Builder) WithDatabase(db persistence.Database) *Builder {
	b.db = db
	return b
}

// WithGateways sets the summarization and embedding gateways
func (b *Builder) WithGateways(summarizer llm.Summarizer, embedder llm.Embedder) *Builder {
	b.summarizer = summarizer
	b.embedder = embedder
	return b
}

// WithAppConfig sets the application configuration used for thresholds,
// embedding models and the default sources
func (b *Builder) WithAppConfig(cfg *config.Config) *Builder {
	b.cfg = cfg
	return b
}

// WithSource overrides the configured article files
func (b *Builder) WithSource(source Source) *Builder {
	b.source = source
	return b
}

// WithConfig sets the pipeline configuration
func (b *Builder) WithConfig(config *Config) *Builder {
	b.config = config
	return b
}

// WithoutDigest disables digest generation
func (b *Builder) WithoutDigest() *Builder {
	if b.config != nil {
		b.config.GenerateDigest = false
	}
	return b
}

// Build constructs a fully configured Pipeline
func (b *Builder) Build() (*Pipeline, error) {
	if b.db == nil {
		return nil, fmt.Errorf("database is required")
	}
	if b.summarizer == nil || b.embedder == nil {
		return nil, fmt.Errorf("summarizer and embedder are required")
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}

	source := b.source
	if source == nil {
		if len(b.cfg.Sources.Files) == 0 {
			return nil, fmt.Errorf("no article sources configured")
		}
		var files MultiSource
		for _, path := range b.cfg.Sources.Files {
			files = append(files, NewJSONFileSource(path))
		}
		source = files
	}

	emb := b.cfg.AI.Embedding
	ingestor := NewIngestor(b.db.Stories(), b.summarizer, b.embedder, EmbeddingSpec{Model: emb.Model, Dimensions: emb.Dimensions})
	keywords := NewKeywordIndexer(b.db.Keywords(), b.embedder, EmbeddingSpec{Model: emb.KeywordModel, Dimensions: emb.KeywordDimensions})

	cl := b.cfg.Clustering
	engine := clustering.NewEngine(b.db, b.summarizer, clustering.Options{
		Threshold:     cl.SimilarityThreshold,
		CandidatePool: cl.CandidatePool,
		Limit:         cl.ResultLimit,
		Strict:        cl.Strict,
	})

	generator := digest.NewGenerator(b.db, b.summarizer, digest.Options{
		Window: config.Duration(b.cfg.Digest.Window, 24*time.Hour),
	})

	return NewPipeline(source, ingestor, keywords, engine, generator, b.config), nil
}
