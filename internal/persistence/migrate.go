package persistence

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"newsdigest/internal/logger"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// EmbeddingDimensions are the vector sizes the embedding columns are created with.
// They must match ai.embedding.dimensions and ai.embedding.keyword_dimensions.
type EmbeddingDimensions struct {
	Story   int
	Keyword int
}

// DefaultEmbeddingDimensions matches text-embedding-3-small at 512 and ada-002
var DefaultEmbeddingDimensions = EmbeddingDimensions{Story: 512, Keyword: 1536}

// ErrDimensionMismatch is returned when an embedding column was created with
// a different size than the configured embedding model produces
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Migration is one numbered schema file with its placeholders filled in
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// MigrationStatus reports whether a migration has been applied and when
type MigrationStatus struct {
	Version     int
	Description string
	Applied     bool
	AppliedAt   time.Time
}

// ColumnCheck compares an embedding column's declared size with the configured one.
// Actual is zero when the column does not exist yet.
type ColumnCheck struct {
	Table    string
	Expected int
	Actual   int
}

func (c ColumnCheck) OK() bool { return c.Actual == 0 || c.Actual == c.Expected }

// Migrator applies the embedded schema to a Postgres database
type Migrator struct {
	db   *sql.DB
	dims EmbeddingDimensions
	log  *slog.Logger
}

// NewMigrator creates a migrator whose vector columns use dims.
// Zero sizes fall back to DefaultEmbeddingDimensions.
func NewMigrator(db *PostgresDB, dims EmbeddingDimensions) *Migrator {
	if dims.Story <= 0 {
		dims.Story = DefaultEmbeddingDimensions.Story
	}
	if dims.Keyword <= 0 {
		dims.Keyword = DefaultEmbeddingDimensions.Keyword
	}
	return &Migrator{db: db.db, dims: dims, log: logger.Get()}
}

// Migrate applies every pending migration, then verifies that the embedding
// columns can hold the configured vectors
func (m *Migrator) Migrate(ctx context.Context) error {
	status, migrations, err := m.state(ctx)
	if err != nil {
		return err
	}

	applied := 0
	for i, s := range status {
		if s.Applied {
			continue
		}
		if err := m.apply(ctx, migrations[i]); err != nil {
			return fmt.Errorf("migration %03d (%s): %w", s.Version, s.Description, err)
		}
		applied++
	}
	m.log.Info("Schema migrated", "applied", applied, "total", len(migrations),
		"story_dimensions", m.dims.Story, "keyword_dimensions", m.dims.Keyword)

	checks, err := m.CheckEmbeddingColumns(ctx)
	if err != nil {
		return err
	}
	return dimensionError(checks)
}

// Status lists every embedded migration with its applied state
func (m *Migrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	status, _, err := m.state(ctx)
	return status, err
}

// CheckEmbeddingColumns reads the declared size of stories.embedding and
// keywords.embedding
func (m *Migrator) CheckEmbeddingColumns(ctx context.Context) ([]ColumnCheck, error) {
	checks := []ColumnCheck{
		{Table: "stories", Expected: m.dims.Story},
		{Table: "keywords", Expected: m.dims.Keyword},
	}
	for i := range checks {
		var typ string
		err := m.db.QueryRowContext(ctx, `
			SELECT format_type(atttypid, atttypmod) FROM pg_attribute
			WHERE attrelid = to_regclass($1) AND attname = 'embedding' AND NOT attisdropped`,
			checks[i].Table).Scan(&typ)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to inspect %s.embedding: %w", checks[i].Table, err)
		}
		size, ok := parseVectorType(typ)
		if !ok {
			return nil, fmt.Errorf("%s.embedding has unexpected type %q", checks[i].Table, typ)
		}
		checks[i].Actual = size
	}
	return checks, nil
}

// state pairs the embedded migrations with what schema_migrations records
func (m *Migrator) state(ctx context.Context) ([]MigrationStatus, []Migration, error) {
	if _, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)`); err != nil {
		return nil, nil, fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	rows, err := m.db.QueryContext(ctx, `SELECT version, applied_at FROM schema_migrations`)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read schema_migrations: %w", err)
	}
	defer rows.Close()

	appliedAt := make(map[int]time.Time)
	for rows.Next() {
		var version int
		var at time.Time
		if err := rows.Scan(&version, &at); err != nil {
			return nil, nil, err
		}
		appliedAt[version] = at
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	migrations, err := loadMigrations(m.dims)
	if err != nil {
		return nil, nil, err
	}

	status := make([]MigrationStatus, len(migrations))
	for i, mig := range migrations {
		at, ok := appliedAt[mig.Version]
		status[i] = MigrationStatus{Version: mig.Version, Description: mig.Description, Applied: ok, AppliedAt: at}
	}
	return status, migrations, nil
}

func (m *Migrator) apply(ctx context.Context, mig Migration) error {
	m.log.Info("Applying migration", "version", mig.Version, "description", mig.Description)

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, mig.SQL); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, description) VALUES ($1, $2) ON CONFLICT (version) DO NOTHING`,
		mig.Version, mig.Description); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}
	return tx.Commit()
}

// loadMigrations reads the embedded files in version order, substituting the
// {{story_dimensions}} and {{keyword_dimensions}} placeholders
func loadMigrations(dims EmbeddingDimensions) ([]Migration, error) {
	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations: %w", err)
	}

	fill := strings.NewReplacer(
		"{{story_dimensions}}", strconv.Itoa(dims.Story),
		"{{keyword_dimensions}}", strconv.Itoa(dims.Keyword),
	)

	var migrations []Migration
	for _, entry := range entries {
		version, description, ok := parseMigrationName(entry.Name())
		if entry.IsDir() || !ok {
			continue
		}
		content, err := migrationFiles.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", entry.Name(), err)
		}
		migrations = append(migrations, Migration{
			Version:     version,
			Description: description,
			SQL:         fill.Replace(string(content)),
		})
	}

	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })
	return migrations, nil
}

// parseMigrationName splits "001_initial_schema.sql" into 1 and "initial schema"
func parseMigrationName(name string) (int, string, bool) {
	if !strings.HasSuffix(name, ".sql") {
		return 0, "", false
	}
	parts := strings.SplitN(strings.TrimSuffix(name, ".sql"), "_", 2)
	if len(parts) < 2 {
		return 0, "", false
	}
	version, err := strconv.Atoi(parts[0])
	if err != nil || version <= 0 {
		return 0, "", false
	}
	return version, strings.ReplaceAll(parts[1], "_", " "), true
}

// parseVectorType reads the size out of a pgvector type name such as "vector(512)"
func parseVectorType(typ string) (int, bool) {
	inner, ok := strings.CutPrefix(typ, "vector(")
	if !ok || !strings.HasSuffix(inner, ")") {
		return 0, false
	}
	size, err := strconv.Atoi(strings.TrimSuffix(inner, ")"))
	if err != nil || size <= 0 {
		return 0, false
	}
	return size, true
}

func dimensionError(checks []ColumnCheck) error {
	var bad []string
	for _, c := range checks {
		if !c.OK() {
			bad = append(bad, fmt.Sprintf("%s.embedding is vector(%d), configured %d", c.Table, c.Actual, c.Expected))
		}
	}
	if len(bad) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrDimensionMismatch, strings.Join(bad, "; "))
}
