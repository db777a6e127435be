// Package persistence provides database implementations
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq" // Postgres driver
)

// PostgresDB implements the Database interface for PostgreSQL
type PostgresDB struct {
	db       *sql.DB
	stories  StoryRepository
	topics   TopicRepository
	keywords KeywordRepository
	digests  DigestRepository
}

// NewPostgresDB creates a new PostgreSQL database connection
func NewPostgresDB(connectionString string) (*PostgresDB, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	pgDB := &PostgresDB{db: db}
	pgDB.stories = &postgresStoryRepo{db: db}
	pgDB.topics = &postgresTopicRepo{db: db}
	pgDB.keywords = &postgresKeywordRepo{db: db}
	pgDB.digests = &postgresDigestRepo{db: db}

	return pgDB, nil
}

func (p *PostgresDB) Stories() StoryRepository    { return p.stories }
func (p *PostgresDB) Topics() TopicRepository     { return p.topics }
func (p *PostgresDB) Keywords() KeywordRepository { return p.keywords }
func (p *PostgresDB) Digests() DigestRepository   { return p.digests }

func (p *PostgresDB) Close() error {
	return p.db.Close()
}

func (p *PostgresDB) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *PostgresDB) BeginTx(ctx context.Context) (Transaction, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &postgresTx{
		tx:       tx,
		stories:  &postgresStoryRepo{db: p.db, tx: tx},
		topics:   &postgresTopicRepo{db: p.db, tx: tx},
		keywords: &postgresKeywordRepo{db: p.db, tx: tx},
		digests:  &postgresDigestRepo{db: p.db, tx: tx},
	}, nil
}

// postgresTx implements Transaction interface
type postgresTx struct {
	tx       *sql.Tx
	stories  StoryRepository
	topics   TopicRepository
	keywords KeywordRepository
	digests  DigestRepository
}

func (t *postgresTx) Commit() error               { return t.tx.Commit() }
func (t *postgresTx) Rollback() error             { return t.tx.Rollback() }
func (t *postgresTx) Stories() StoryRepository    { return t.stories }
func (t *postgresTx) Topics() TopicRepository     { return t.topics }
func (t *postgresTx) Keywords() KeywordRepository { return t.keywords }
func (t *postgresTx) Digests() DigestRepository   { return t.digests }

// queryer is satisfied by both *sql.DB and *sql.Tx
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// conn picks the transaction when one is active
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

const pgUniqueViolation = "23505"

// mapPostgresError translates driver errors into package sentinels
func mapPostgresError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation {
		return fmt.Errorf("%w: %s", ErrDuplicate, pqErr.Detail)
	}
	return err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t.UTC(), Valid: !t.IsZero()}
}
