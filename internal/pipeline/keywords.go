package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"newsdigest/internal/core"
	"newsdigest/internal/llm"
	"newsdigest/internal/logger"
	"newsdigest/internal/persistence"
)

// KeywordIndexer stores every keyword once with its own embedding
type KeywordIndexer struct {
	keywords  persistence.KeywordRepository
	embedder  llm.Embedder
	embedding EmbeddingSpec
	log       *slog.Logger
}

// NewKeywordIndexer creates an indexer using the keyword embedding model
func NewKeywordIndexer(keywords persistence.KeywordRepository, embedder llm.Embedder, embedding EmbeddingSpec) *KeywordIndexer {
	return &KeywordIndexer{
		keywords:  keywords,
		embedder:  embedder,
		embedding: embedding,
		log:       logger.Get(),
	}
}

// Index inserts the keywords of the stories that are not stored yet and
// returns how many were added. Existing keywords are never re-embedded.
func (k *KeywordIndexer) Index(ctx context.Context, stories []*core.Story) (int, error) {
	seen := make(map[string]bool)
	added := 0

	for _, story := range stories {
		for _, text := range story.Summary.Keywords {
			text = strings.TrimSpace(text)
			if text == "" || seen[text] {
				continue
			}
			seen[text] = true

			ok, err := k.add(ctx, text)
			if err != nil {
				if ctx.Err() != nil {
					return added, ctx.Err()
				}
				k.log.Warn("Failed to index keyword", "keyword", text, "headline", story.Headline, "error", err.Error())
				continue
			}
			if ok {
				added++
			}
		}
	}
	return added, nil
}

func (k *KeywordIndexer) add(ctx context.Context, text string) (bool, error) {
	exists, err := k.keywords.Exists(ctx, text)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	embedding, err := k.embedder.Embed(ctx, text, k.embedding.Model, k.embedding.Dimensions)
	if err != nil {
		return false, fmt.Errorf("embedding failed: %w", err)
	}

	err = k.keywords.Create(ctx, &core.Keyword{Text: text, Embedding: embedding})
	if errors.Is(err, persistence.ErrDuplicate) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
