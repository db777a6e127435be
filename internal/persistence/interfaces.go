// Package persistence provides database abstraction interfaces for storing stories, topics, keywords, and digests
package persistence

import (
	"context"
	"errors"
	"time"

	"newsdigest/internal/core"
	"newsdigest/internal/vectorstore"
)

var (
	// ErrNotFound is returned when a record does not exist
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned when a unique key (headline, link, keyword) already exists
	ErrDuplicate = errors.New("duplicate")
)

// StoryRepository handles story persistence operations.
// It doubles as the vector store searched by the clustering engine.
type StoryRepository interface {
	vectorstore.VectorStore

	// Create inserts a new story, assigning an ID if empty.
	// Returns ErrDuplicate if the headline or link already exists.
	Create(ctx context.Context, story *core.Story) error

	// Get retrieves a story by ID
	Get(ctx context.Context, id string) (*core.Story, error)

	// GetByIDs retrieves the stories with the given IDs; unknown IDs are skipped
	GetByIDs(ctx context.Context, ids []string) ([]core.Story, error)

	// ExistsByHeadline reports whether a story with this headline exists
	ExistsByHeadline(ctx context.Context, headline string) (bool, error)

	// ExistsByLink reports whether a story with this link exists
	ExistsByLink(ctx context.Context, link string) (bool, error)

	// UpdateTopic sets the owning topic of a story
	UpdateTopic(ctx context.Context, id, topicID string) error

	// UpdateEmbedding replaces the embedding of a story
	UpdateEmbedding(ctx context.Context, id string, embedding []float64) error

	// UpdateTimestamp replaces the updated timestamp of a story
	UpdateTimestamp(ctx context.Context, id string, updated time.Time) error

	// ListUpdatedSince returns stories with updated >= since, newest first
	ListUpdatedSince(ctx context.Context, since time.Time) ([]core.Story, error)

	// ListUpdatedAfter returns stories with updated > after, newest first
	ListUpdatedAfter(ctx context.Context, after time.Time) ([]core.Story, error)

	// ListMissingEmbedding returns up to limit stories without an embedding
	ListMissingEmbedding(ctx context.Context, limit int) ([]core.Story, error)
}

// TopicRepository handles topic persistence operations.
// Membership is exclusive: adding a story to a topic removes it from any other.
type TopicRepository interface {
	// Create inserts a new topic and its members, assigning an ID if empty
	Create(ctx context.Context, topic *core.Topic) error

	// Get retrieves a topic with its members in discovery order
	Get(ctx context.Context, id string) (*core.Topic, error)

	// GetByIDs retrieves the topics with the given IDs; unknown IDs are skipped
	GetByIDs(ctx context.Context, ids []string) ([]core.Topic, error)

	// Update writes summary, updated, source and short name, and adds any new members
	Update(ctx context.Context, topic *core.Topic) error

	// AddMembers appends stories to a topic, moving them out of their previous topic
	AddMembers(ctx context.Context, topicID string, storyIDs []string) error

	// SetShortName caches the generated short name of a topic
	SetShortName(ctx context.Context, id, shortName string) error
}

// KeywordRepository handles keyword persistence operations.
// It doubles as the vector store used for keyword browsing.
type KeywordRepository interface {
	vectorstore.VectorStore

	// Create inserts a new keyword, returning ErrDuplicate if the text exists
	Create(ctx context.Context, keyword *core.Keyword) error

	// GetByText retrieves a keyword by its text
	GetByText(ctx context.Context, text string) (*core.Keyword, error)

	// Exists reports whether a keyword with this text exists
	Exists(ctx context.Context, text string) (bool, error)
}

// DigestRepository handles daily digest persistence operations
type DigestRepository interface {
	// Create inserts a new digest. Digests are never overwritten.
	Create(ctx context.Context, digest *core.DailyDigest) error

	// GetLatest retrieves the most recent digests by date
	GetLatest(ctx context.Context, limit int) ([]core.DailyDigest, error)
}

// Database represents the main database interface that aggregates all repositories
type Database interface {
	// Stories returns the story repository
	Stories() StoryRepository

	// Topics returns the topic repository
	Topics() TopicRepository

	// Keywords returns the keyword repository
	Keywords() KeywordRepository

	// Digests returns the digest repository
	Digests() DigestRepository

	// Close closes the database connection
	Close() error

	// Ping verifies the database connection
	Ping(ctx context.Context) error

	// BeginTx starts a new transaction
	BeginTx(ctx context.Context) (Transaction, error)
}

// Transaction represents a database transaction
type Transaction interface {
	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error

	// Stories returns the story repository within this transaction
	Stories() StoryRepository

	// Topics returns the topic repository within this transaction
	Topics() TopicRepository

	// Keywords returns the keyword repository within this transaction
	Keywords() KeywordRepository

	// Digests returns the digest repository within this transaction
	Digests() DigestRepository
}

// Repositories is the subset shared by Database and Transaction
type Repositories interface {
	Stories() StoryRepository
	Topics() TopicRepository
	Keywords() KeywordRepository
	Digests() DigestRepository
}
