package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"newsdigest/internal/config"
	"newsdigest/internal/core"
	"newsdigest/internal/digest"
	"newsdigest/internal/persistence"
	"newsdigest/internal/render"
)

// NewDigestCmd creates the digest command group
func NewDigestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "digest",
		Short: "Generate and show daily digests",
	}

	cmd.AddCommand(newDigestGenerateCmd())
	cmd.AddCommand(newDigestShowCmd())

	return cmd
}

func newDigestGenerateCmd() *cobra.Command {
	var window time.Duration

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a digest from recently updated stories",
		Long: `Generate a new daily digest from the stories updated in the last window.

Nothing is stored when no story falls in the window. Earlier digests are kept;
'newsdigest digest show' displays the most recent one.

Examples:
  newsdigest digest generate
  newsdigest digest generate --window 12h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDigestGenerate(cmd.Context(), window)
		},
	}

	cmd.Flags().DurationVar(&window, "window", 0, "Lookback window (default from digest.window)")

	return cmd
}

func newDigestShowCmd() *cobra.Command {
	var (
		format    string
		outputDir string
		baseURL   string
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Display the most recent digest",
		Long: `Show the most recent digest.

Examples:
  # Show the digest as text
  newsdigest digest show

  # Print the stored HTML body
  newsdigest digest show --format html

  # Write a markdown file with absolute topic links
  newsdigest digest show --format markdown --output digests --base-url https://news.example.com`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDigestShow(cmd.Context(), format, outputDir, baseURL)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format (text, html, markdown, json)")
	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "Directory to write a markdown file to")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "Prefix for topic links in markdown output")

	return cmd
}

func runDigestGenerate(ctx context.Context, window time.Duration) error {
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

	if window <= 0 {
		window = config.Duration(config.Get().Digest.Window, digest.DefaultWindow)
	}

	generator := digest.NewGenerator(db, gateways.Summarizer, digest.Options{Window: window})
	d, err := generator.Generate(ctx)
	if err != nil {
		return fmt.Errorf("digest generation failed: %w", err)
	}
	if d == nil {
		fmt.Printf("No stories updated in the last %s, no digest generated\n", window)
		return nil
	}

	fmt.Printf("Generated digest %s: %s\n", d.ID, d.Title)
	return nil
}

func runDigestShow(ctx context.Context, format, outputDir, baseURL string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	db, err := getDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	d, err := digest.Latest(ctx, db)
	if errors.Is(err, persistence.ErrNotFound) {
		fmt.Println("No digests found")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load digest: %w", err)
	}

	if outputDir != "" {
		path, err := render.WriteDigestFile(*d, outputDir, baseURL)
		if err != nil {
			return err
		}
		fmt.Printf("Digest written to %s\n", path)
		return nil
	}

	switch format {
	case "html":
		fmt.Println(d.OverallSummary)
	case "json":
		data, err := json.MarshalIndent(d, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
	case "markdown":
		md, err := render.DigestMarkdown(*d, baseURL)
		if err != nil {
			return err
		}
		fmt.Println(md)
	default:
		printDigestText(*d)
	}
	return nil
}

func printDigestText(d core.DailyDigest) {
	fmt.Printf("Generated %s\n\n", d.Date.Local().Format("Monday, January 2, 2006 15:04"))

	md, err := render.DigestMarkdown(d, "")
	if err != nil {
		fmt.Println(d.OverallSummary)
		return
	}
	fmt.Print(md)
}
