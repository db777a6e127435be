package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"newsdigest/internal/config"
	"newsdigest/internal/logger"
)

// NewFixDatesCmd creates the command resetting future-dated stories
func NewFixDatesCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "fix-dates",
		Short: "Reset stories dated more than a day in the future",
		Long: `Find stories whose updated timestamp is more than one day in the future and
set it to now, so they stop pinning the top of every digest window.

Examples:
  newsdigest fix-dates --dry-run
  newsdigest fix-dates`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFixDates(cmd.Context(), dryRun)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "List affected stories without changing them")

	return cmd
}

// NewBackfillEmbeddingsCmd creates the command embedding stories that have no embedding
func NewBackfillEmbeddingsCmd() *cobra.Command {
	var batchSize int

	cmd := &cobra.Command{
		Use:   "backfill-embeddings",
		Short: "Compute embeddings for stories that lack one",
		Long: `Compute the embedding of every story stored without one, from its headline
and summary, using ai.embedding.model.

Examples:
  newsdigest backfill-embeddings
  newsdigest backfill-embeddings --batch-size 50`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackfillEmbeddings(cmd.Context(), batchSize)
		},
	}

	cmd.Flags().IntVar(&batchSize, "batch-size", 100, "Stories loaded per batch")

	return cmd
}

func runFixDates(ctx context.Context, dryRun bool) error {
	log := logger.Get()

	db, err := getDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	now := time.Now().UTC()
	stories, err := db.Stories().ListUpdatedAfter(ctx, now.Add(24*time.Hour))
	if err != nil {
		return fmt.Errorf("failed to find future-dated stories: %w", err)
	}
	if len(stories) == 0 {
		fmt.Println("No future-dated stories found")
		return nil
	}

	fixed := 0
	for _, s := range stories {
		fmt.Printf("%s  %s\n", s.Updated.Format(time.RFC3339), s.Headline)
		if dryRun {
			continue
		}
		if err := db.Stories().UpdateTimestamp(ctx, s.ID, now); err != nil {
			log.Error("Failed to fix story date", "story_id", s.ID, "error", err.Error())
			continue
		}
		fixed++
	}

	if dryRun {
		fmt.Printf("\n%d stories would be reset to %s\n", len(stories), now.Format(time.RFC3339))
	} else {
		fmt.Printf("\nReset %d of %d stories to %s\n", fixed, len(stories), now.Format(time.RFC3339))
	}
	return nil
}

func runBackfillEmbeddings(ctx context.Context, batchSize int) error {
	log := logger.Get()
	emb := config.Get().AI.Embedding

	db, err := getDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	gateways, err := getGateways(ctx)
	if err != nil {
		return err
	}
	defer gateways.Close()

	failed := make(map[string]bool)
	updated := 0
	for {
		stories, err := db.Stories().ListMissingEmbedding(ctx, batchSize+len(failed))
		if err != nil {
			return fmt.Errorf("failed to list stories: %w", err)
		}

		progressed := false
		for _, s := range stories {
			if failed[s.ID] {
				continue
			}
			vec, err := gateways.Embedder.Embed(ctx, s.EmbeddingText(), emb.Model, emb.Dimensions)
			if err == nil {
				err = db.Stories().UpdateEmbedding(ctx, s.ID, vec)
			}
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				log.Error("Failed to backfill embedding", "story_id", s.ID, "headline", s.Headline, "error", err.Error())
				failed[s.ID] = true
				continue
			}
			updated++
			progressed = true
		}

		if !progressed {
			break
		}
	}

	fmt.Printf("Embedded %d stories", updated)
	if len(failed) > 0 {
		fmt.Printf(" (%d failed)", len(failed))
	}
	fmt.Println()
	return nil
}
