package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"newsdigest/internal/config"
	"newsdigest/internal/logger"
	"newsdigest/internal/persistence"
)

// NewMigrateCmd creates the migrate command for database migrations
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database migrations",
		Long: `Manage database schema migrations.

Subcommands:
  up       Apply all pending migrations
  status   Show migration status

The migration system tracks applied migrations in the schema_migrations table
and applies new migrations in sequential order. Embedding columns are created
with ai.embedding.dimensions and ai.embedding.keyword_dimensions, and both
commands report a column whose size no longer matches the configuration.

Examples:
  # Apply all pending migrations
  newsdigest migrate up

  # Check migration status
  newsdigest migrate status`,
	}

	cmd.AddCommand(newMigrateUpCmd())
	cmd.AddCommand(newMigrateStatusCmd())

	return cmd
}

func newMigrateUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Long: `Apply all pending PostgreSQL migrations: the pgvector extension, the
stories, topics, topic_stories, keywords and digests tables and their indexes.

Each migration runs in its own transaction and is recorded in schema_migrations.
With the sqlite driver there is nothing to do.

Example:
  newsdigest migrate up`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrateUp(cmd.Context())
		},
	}
}

func newMigrateStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		Long: `Show the status of all migrations.

Displays which migrations have been applied and which are pending.

Example:
  newsdigest migrate status`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrateStatus(cmd.Context())
		},
	}
}

// postgresMigrator opens the configured database and returns a migration
// manager for it. SQLite creates its schema on open and has nothing to migrate.
func postgresMigrator() (*persistence.Migrator, func() error, error) {
	db, err := getDatabase()
	if err != nil {
		return nil, nil, err
	}

	pgDB, ok := db.(*persistence.PostgresDB)
	if !ok {
		db.Close()
		return nil, nil, errSQLiteSchema
	}
	emb := config.Get().AI.Embedding
	dims := persistence.EmbeddingDimensions{Story: emb.Dimensions, Keyword: emb.KeywordDimensions}
	return persistence.NewMigrator(pgDB, dims), db.Close, nil
}

var errSQLiteSchema = errors.New("sqlite schema is created when the database is opened")

func runMigrateUp(ctx context.Context) error {
	log := logger.Get()

	migrator, closeDB, err := postgresMigrator()
	if errors.Is(err, errSQLiteSchema) {
		fmt.Println("SQLite schema is up to date")
		return nil
	}
	if err != nil {
		return err
	}
	defer closeDB()

	log.Info("Starting database migration")
	if err := migrator.Migrate(ctx); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	fmt.Println("✅ All migrations applied successfully")
	return nil
}

func runMigrateStatus(ctx context.Context) error {
	migrator, closeDB, err := postgresMigrator()
	if errors.Is(err, errSQLiteSchema) {
		fmt.Println("SQLite schema is managed automatically, see 'newsdigest stats'")
		return nil
	}
	if err != nil {
		return err
	}
	defer closeDB()

	status, err := migrator.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to get migration status: %w", err)
	}
	if len(status) == 0 {
		fmt.Println("No migrations found")
		return nil
	}

	fmt.Printf("%-8s %-8s %-20s %s\n", "Version", "Status", "Applied", "Description")

	pending := 0
	for _, m := range status {
		state, at := "applied", m.AppliedAt.Local().Format("2006-01-02 15:04")
		if !m.Applied {
			state, at = "pending", "-"
			pending++
		}
		fmt.Printf("%-8d %-8s %-20s %s\n", m.Version, state, at, m.Description)
	}

	fmt.Printf("\nApplied: %d | Pending: %d\n", len(status)-pending, pending)
	if pending > 0 {
		fmt.Println("Run 'newsdigest migrate up' to apply pending migrations")
	}

	checks, err := migrator.CheckEmbeddingColumns(ctx)
	if err != nil {
		return err
	}
	for _, c := range checks {
		switch {
		case c.Actual == 0:
			fmt.Printf("%s.embedding: not created yet (configured %d)\n", c.Table, c.Expected)
		case !c.OK():
			fmt.Printf("%s.embedding: vector(%d) but configured %d, re-embed or change the config\n", c.Table, c.Actual, c.Expected)
		default:
			fmt.Printf("%s.embedding: vector(%d)\n", c.Table, c.Actual)
		}
	}
	return nil
}
