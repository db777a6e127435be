package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"newsdigest/internal/config"
	"newsdigest/internal/persistence"
	"newsdigest/internal/vectorstore"
)

// NewSimilarCmd creates the command listing stories related to a stored story
func NewSimilarCmd() *cobra.Command {
	var threshold float64

	cmd := &cobra.Command{
		Use:   "similar <story-id>",
		Short: "List stories related to a story",
		Long: `List stored stories whose embedding is close to the given story's.

The default threshold (clustering.browse_threshold, 0.7) is looser than the
one used for topic assignment, so loosely related coverage shows up too.

Examples:
  newsdigest similar 3f1c2a9e-...
  newsdigest similar 3f1c2a9e-... --threshold 0.8`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimilar(cmd.Context(), args[0], threshold)
		},
	}

	cmd.Flags().Float64VarP(&threshold, "threshold", "t", 0, "Minimum similarity (default from clustering.browse_threshold)")

	return cmd
}

// NewKeywordsCmd creates the keyword command group
func NewKeywordsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keywords",
		Short: "Browse stored keywords",
	}

	var threshold float64
	similarCmd := &cobra.Command{
		Use:   "similar <keyword>",
		Short: "List keywords similar to a stored keyword",
		Long: `List stored keywords whose embedding is close to the given keyword's.

Examples:
  newsdigest keywords similar "Federal Reserve"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeywordsSimilar(cmd.Context(), args[0], threshold)
		},
	}
	similarCmd.Flags().Float64VarP(&threshold, "threshold", "t", 0, "Minimum similarity (default from clustering.keyword_threshold)")

	cmd.AddCommand(similarCmd)
	return cmd
}

func runSimilar(ctx context.Context, storyID string, threshold float64) error {
	cfg := config.Get()
	if threshold <= 0 {
		threshold = cfg.Clustering.BrowseThreshold
	}

	db, err := getDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	story, err := db.Stories().Get(ctx, storyID)
	if errors.Is(err, persistence.ErrNotFound) {
		return fmt.Errorf("story %s not found", storyID)
	}
	if err != nil {
		return err
	}
	if len(story.Embedding) == 0 {
		return fmt.Errorf("story %s has no embedding (run 'newsdigest backfill-embeddings')", storyID)
	}

	searcher := vectorstore.NewSearcher(db.Stories()).
		WithCandidatePool(cfg.Clustering.CandidatePool).
		WithLimit(cfg.Clustering.ResultLimit)
	results, err := searcher.FindSimilar(ctx, story.Embedding, threshold, story.ID)
	if err != nil {
		return fmt.Errorf("similarity search failed: %w", err)
	}

	fmt.Printf("Stories similar to %q (threshold %.2f)\n\n", story.Headline, threshold)
	printResults(results)
	return nil
}

func runKeywordsSimilar(ctx context.Context, text string, threshold float64) error {
	cfg := config.Get()
	if threshold <= 0 {
		threshold = cfg.Clustering.KeywordThreshold
	}

	db, err := getDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	keyword, err := db.Keywords().GetByText(ctx, text)
	if errors.Is(err, persistence.ErrNotFound) {
		return fmt.Errorf("keyword %q not found", text)
	}
	if err != nil {
		return err
	}

	searcher := vectorstore.NewSearcher(db.Keywords()).
		WithCandidatePool(cfg.Clustering.CandidatePool).
		WithLimit(cfg.Clustering.ResultLimit)
	results, err := searcher.FindSimilar(ctx, keyword.Embedding, threshold, keyword.ID)
	if err != nil {
		return fmt.Errorf("similarity search failed: %w", err)
	}

	fmt.Printf("Keywords similar to %q (threshold %.2f)\n\n", keyword.Text, threshold)
	printResults(results)
	return nil
}

func printResults(results []vectorstore.SearchResult) {
	if len(results) == 0 {
		fmt.Println("No matches")
		return
	}
	for i, r := range results {
		fmt.Printf("%2d. [%.3f] %s\n", i+1, r.Similarity, r.Text)
		if r.TopicID != "" {
			fmt.Printf("    id: %s  topic: %s\n", r.ID, r.TopicID)
		} else {
			fmt.Printf("    id: %s\n", r.ID)
		}
	}
}
