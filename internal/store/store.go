// Package store provides a single-file SQLite implementation of the persistence
// interfaces, used for local runs and as the real database in tests.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"newsdigest/internal/persistence"
	"newsdigest/internal/vectorstore"
)

// timeLayout is fixed-width so stored timestamps compare correctly as text
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store represents the SQLite-backed database
type Store struct {
	db   *sql.DB
	path string

	stories  *storyRepo
	topics   *topicRepo
	keywords *keywordRepo
	digests  *digestRepo
}

var _ persistence.Database = (*Store)(nil)

// NewStore opens (and creates if needed) the database file at path
func NewStore(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps transactions and plain queries serialized.
	db.SetMaxOpenConns(1)

	store := &Store{db: db, path: path}
	if err := store.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	store.stories = &storyRepo{conn{db: db}}
	store.topics = &topicRepo{conn{db: db}}
	store.keywords = &keywordRepo{conn{db: db}}
	store.digests = &digestRepo{conn{db: db}}

	return store, nil
}

// initialize creates the necessary tables
func (s *Store) initialize() error {
	storiesTable := `
	CREATE TABLE IF NOT EXISTS stories (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		headline TEXT NOT NULL UNIQUE,
		source TEXT NOT NULL DEFAULT '',
		link TEXT NOT NULL UNIQUE,
		published TEXT,
		updated TEXT NOT NULL,
		embedding TEXT,
		summary TEXT NOT NULL DEFAULT '{}',
		topic_id TEXT,
		run_start TEXT,
		created_at TEXT NOT NULL
	);`

	topicsTable := `
	CREATE TABLE IF NOT EXISTS topics (
		id TEXT PRIMARY KEY,
		summary TEXT NOT NULL DEFAULT '{}',
		updated TEXT NOT NULL,
		source TEXT NOT NULL DEFAULT 'single',
		short_name TEXT
	);`

	membersTable := `
	CREATE TABLE IF NOT EXISTS topic_stories (
		story_id TEXT PRIMARY KEY,
		topic_id TEXT NOT NULL REFERENCES topics(id) ON DELETE CASCADE,
		position INTEGER NOT NULL
	);`

	keywordsTable := `
	CREATE TABLE IF NOT EXISTS keywords (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		keyword TEXT NOT NULL UNIQUE,
		embedding TEXT,
		created_at TEXT NOT NULL
	);`

	digestsTable := `
	CREATE TABLE IF NOT EXISTS digests (
		id TEXT PRIMARY KEY,
		date TEXT NOT NULL,
		title TEXT NOT NULL,
		overall_summary TEXT NOT NULL,
		top_keywords TEXT NOT NULL DEFAULT '[]',
		key_story_titles TEXT NOT NULL DEFAULT '[]',
		sentiment TEXT NOT NULL DEFAULT 'Neutral'
	);`

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_stories_updated ON stories (updated)`,
		`CREATE INDEX IF NOT EXISTS idx_stories_topic_id ON stories (topic_id)`,
		`CREATE INDEX IF NOT EXISTS idx_topic_stories_topic ON topic_stories (topic_id, position)`,
		`CREATE INDEX IF NOT EXISTS idx_digests_date ON digests (date)`,
	}

	statements := append([]string{storiesTable, topicsTable, membersTable, keywordsTable, digestsTable}, indexes...)
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	return nil
}

// Path returns the database file location
func (s *Store) Path() string { return s.path }

func (s *Store) Stories() persistence.StoryRepository    { return s.stories }
func (s *Store) Topics() persistence.TopicRepository     { return s.topics }
func (s *Store) Keywords() persistence.KeywordRepository { return s.keywords }
func (s *Store) Digests() persistence.DigestRepository   { return s.digests }

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) BeginTx(ctx context.Context) (persistence.Transaction, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	c := conn{db: s.db, tx: tx}
	return &transaction{
		tx:       tx,
		stories:  &storyRepo{c},
		topics:   &topicRepo{c},
		keywords: &keywordRepo{c},
		digests:  &digestRepo{c},
	}, nil
}

// Stats holds row counts and file information
type Stats struct {
	StoryCount   int
	TopicCount   int
	KeywordCount int
	DigestCount  int
	FileSize     int64
	LastUpdated  time.Time
}

// GetStats returns statistics about the database
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	queries := map[string]*int{
		"SELECT COUNT(*) FROM stories":  &stats.StoryCount,
		"SELECT COUNT(*) FROM topics":   &stats.TopicCount,
		"SELECT COUNT(*) FROM keywords": &stats.KeywordCount,
		"SELECT COUNT(*) FROM digests":  &stats.DigestCount,
	}

	for query, target := range queries {
		if err := s.db.QueryRowContext(ctx, query).Scan(target); err != nil {
			return nil, fmt.Errorf("failed to get count: %w", err)
		}
	}

	if fileInfo, err := os.Stat(s.path); err == nil {
		stats.FileSize = fileInfo.Size()
		stats.LastUpdated = fileInfo.ModTime()
	}

	return stats, nil
}

type transaction struct {
	tx       *sql.Tx
	stories  *storyRepo
	topics   *topicRepo
	keywords *keywordRepo
	digests  *digestRepo
}

func (t *transaction) Commit() error                           { return t.tx.Commit() }
func (t *transaction) Rollback() error                         { return t.tx.Rollback() }
func (t *transaction) Stories() persistence.StoryRepository    { return t.stories }
func (t *transaction) Topics() persistence.TopicRepository     { return t.topics }
func (t *transaction) Keywords() persistence.KeywordRepository { return t.keywords }
func (t *transaction) Digests() persistence.DigestRepository   { return t.digests }

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type conn struct {
	db *sql.DB
	tx *sql.Tx
}

func (c conn) query() queryer {
	if c.tx != nil {
		return c.tx
	}
	return c.db
}

// mapSQLiteError translates driver errors into persistence sentinels
func mapSQLiteError(err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return fmt.Errorf("%w: %s", persistence.ErrDuplicate, sqliteErr.Error())
		}
		if strings.Contains(sqliteErr.Error(), "no such table") {
			return fmt.Errorf("%w: %s", vectorstore.ErrIndexUnavailable, sqliteErr.Error())
		}
	}
	return err
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(t), Valid: true}
}

func parseTime(s sql.NullString) (time.Time, error) {
	if !s.Valid || s.String == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(timeLayout, s.String)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s.String, err)
	}
	return t, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
