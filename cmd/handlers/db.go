package handlers

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"newsdigest/internal/config"
	"newsdigest/internal/llm"
	"newsdigest/internal/persistence"
	"newsdigest/internal/store"
)

// getDatabase opens the database selected by database.driver
func getDatabase() (persistence.Database, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	switch cfg.Database.Driver {
	case "sqlite":
		s, err := store.NewStore(cfg.Database.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}
		return s, nil
	default:
		dbConnStr := cfg.Database.ConnectionString
		if dbConnStr == "" {
			dbConnStr = os.Getenv("DATABASE_URL")
			if dbConnStr == "" {
				return nil, fmt.Errorf("database connection string not configured (set database.connection_string in config or DATABASE_URL env var)")
			}
		}

		db, err := persistence.NewPostgresDB(dbConnStr)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		return db, nil
	}
}

// getGateways builds the configured summarization and embedding gateways
func getGateways(ctx context.Context) (*llm.Gateways, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	gateways, err := llm.NewGateways(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize AI gateways: %w", err)
	}
	return gateways, nil
}

// NewStatsCmd creates the stats command for the local SQLite store
func NewStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show row counts of the local database",
		Long: `Show how many stories, topics, keywords and digests the SQLite database holds.

Only available when database.driver is sqlite; use 'newsdigest migrate status'
for PostgreSQL.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(cmd.Context())
		},
	}
}

func runStats(ctx context.Context) error {
	db, err := getDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	s, ok := db.(*store.Store)
	if !ok {
		return fmt.Errorf("stats are only available for the sqlite driver")
	}

	stats, err := s.GetStats(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Database:  %s\n", s.Path())
	fmt.Printf("Stories:   %d\n", stats.StoryCount)
	fmt.Printf("Topics:    %d\n", stats.TopicCount)
	fmt.Printf("Keywords:  %d\n", stats.KeywordCount)
	fmt.Printf("Digests:   %d\n", stats.DigestCount)
	fmt.Printf("File size: %.1f KB\n", float64(stats.FileSize)/1024)
	if !stats.LastUpdated.IsZero() {
		fmt.Printf("Modified:  %s\n", stats.LastUpdated.Format("2006-01-02 15:04:05"))
	}
	return nil
}
