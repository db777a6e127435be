package handlers

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"newsdigest/internal/config"
	"newsdigest/internal/logger"
	"newsdigest/internal/pipeline"
)

// NewRunCmd creates the run command that processes one batch of articles
func NewRunCmd() *cobra.Command {
	var (
		files    []string
		noDigest bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Ingest, cluster and digest one batch of articles",
		Long: `Process one batch of articles end to end.

This command will:
  • Read article records from the configured JSON files (or --file)
  • Skip articles whose headline or link is already stored
  • Summarize and embed each new article, dropping non-English ones
  • Store new keywords with their own embedding
  • Assign every story to an existing or new topic
  • Generate the daily digest for the last 24 hours

Examples:
  # Use sources.files from the config
  newsdigest run

  # Process a specific file without generating a digest
  newsdigest run --file articles.json --no-digest`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd.Context(), files, noDigest)
		},
	}

	cmd.Flags().StringSliceVarP(&files, "file", "f", nil, "Article JSON file (repeatable, overrides sources.files)")
	cmd.Flags().BoolVar(&noDigest, "no-digest", false, "Skip digest generation")

	return cmd
}

func runPipeline(ctx context.Context, files []string, noDigest bool) error {
	log := logger.Get()
	if ctx == nil {
		ctx = context.Background()
	}

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

	builder := pipeline.NewBuilder().
		WithDatabase(db).
		WithGateways(gateways.Summarizer, gateways.Embedder).
		WithAppConfig(config.Get())
	if len(files) > 0 {
		var sources pipeline.MultiSource
		for _, f := range files {
			sources = append(sources, pipeline.NewJSONFileSource(f))
		}
		builder = builder.WithSource(sources)
	}
	if noDigest {
		builder = builder.WithoutDigest()
	}

	p, err := builder.Build()
	if err != nil {
		return err
	}

	result, err := p.Run(ctx)
	if err != nil {
		log.Error("Run failed", "error", err.Error())
		return err
	}

	stats := result.Stats
	fmt.Printf("Fetched %d articles in %s\n", stats.Fetched, stats.ProcessingTime.Round(1e6))
	fmt.Printf("  Stored:       %d (%d new topics, %d joined)\n", len(result.Stories), stats.NewTopics, stats.JoinedTopics)
	fmt.Printf("  Duplicates:   %d\n", stats.Duplicates)
	fmt.Printf("  Non-English:  %d\n", stats.NonEnglish)
	fmt.Printf("  Failed:       %d\n", stats.Failed+stats.ClusterFailures)
	fmt.Printf("  New keywords: %d\n", stats.KeywordsAdded)
	if result.Digest != nil {
		fmt.Printf("Digest: %s (%s)\n", result.Digest.Title, result.Digest.ID)
	}
	return nil
}
