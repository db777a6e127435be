package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"newsdigest/internal/core"
	"newsdigest/internal/vectorstore"
)

// postgresStoryRepo implements StoryRepository for PostgreSQL
type postgresStoryRepo struct {
	db *sql.DB
	tx *sql.Tx
}

func (r *postgresStoryRepo) query() queryer { return conn{db: r.db, tx: r.tx}.query() }

const storyColumns = `id, headline, source, link, published, updated, embedding::text, summary, topic_id, run_start, created_at`

func (r *postgresStoryRepo) Create(ctx context.Context, story *core.Story) error {
	if story.ID == "" {
		story.ID = uuid.NewString()
	}
	if story.CreatedAt.IsZero() {
		story.CreatedAt = time.Now().UTC()
	}

	summaryJSON, err := json.Marshal(story.Summary)
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}

	var embedding sql.NullString
	if len(story.Embedding) > 0 {
		embedding = sql.NullString{String: vectorstore.FormatVector(story.Embedding), Valid: true}
	}

	query := `
		INSERT INTO stories (
			id, headline, source, link, published, updated,
			embedding, summary, topic_id, run_start, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7::vector, $8, $9, $10, $11)
	`
	_, err = r.query().ExecContext(ctx, query,
		story.ID, story.Headline, story.Source, story.Link,
		nullTime(story.Published), story.Updated.UTC(),
		embedding, summaryJSON, nullString(story.TopicID),
		nullTime(story.RunStart), story.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert story: %w", mapPostgresError(err))
	}
	return nil
}

func (r *postgresStoryRepo) Get(ctx context.Context, id string) (*core.Story, error) {
	query := `SELECT ` + storyColumns + ` FROM stories WHERE id = $1`
	story, err := scanStory(r.query().QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("story %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return story, nil
}

func (r *postgresStoryRepo) GetByIDs(ctx context.Context, ids []string) ([]core.Story, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + storyColumns + ` FROM stories WHERE id = ANY($1::text[]) ORDER BY seq`
	return r.list(ctx, query, pq.Array(ids))
}

func (r *postgresStoryRepo) ExistsByHeadline(ctx context.Context, headline string) (bool, error) {
	var exists bool
	err := r.query().QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM stories WHERE headline = $1)`, headline).Scan(&exists)
	return exists, err
}

func (r *postgresStoryRepo) ExistsByLink(ctx context.Context, link string) (bool, error) {
	var exists bool
	err := r.query().QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM stories WHERE link = $1)`, link).Scan(&exists)
	return exists, err
}

func (r *postgresStoryRepo) UpdateTopic(ctx context.Context, id, topicID string) error {
	return r.exec(ctx, `UPDATE stories SET topic_id = $2 WHERE id = $1`, id, nullString(topicID))
}

func (r *postgresStoryRepo) UpdateEmbedding(ctx context.Context, id string, embedding []float64) error {
	return r.exec(ctx, `UPDATE stories SET embedding = $2::vector WHERE id = $1`, id, vectorstore.FormatVector(embedding))
}

func (r *postgresStoryRepo) UpdateTimestamp(ctx context.Context, id string, updated time.Time) error {
	return r.exec(ctx, `UPDATE stories SET updated = $2 WHERE id = $1`, id, updated.UTC())
}

func (r *postgresStoryRepo) ListUpdatedSince(ctx context.Context, since time.Time) ([]core.Story, error) {
	query := `SELECT ` + storyColumns + ` FROM stories WHERE updated >= $1 ORDER BY updated DESC, seq`
	return r.list(ctx, query, since.UTC())
}

func (r *postgresStoryRepo) ListUpdatedAfter(ctx context.Context, after time.Time) ([]core.Story, error) {
	query := `SELECT ` + storyColumns + ` FROM stories WHERE updated > $1 ORDER BY updated DESC, seq`
	return r.list(ctx, query, after.UTC())
}

func (r *postgresStoryRepo) ListMissingEmbedding(ctx context.Context, limit int) ([]core.Story, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + storyColumns + ` FROM stories WHERE embedding IS NULL ORDER BY seq LIMIT $1`
	return r.list(ctx, query, limit)
}

func (r *postgresStoryRepo) Nearest(ctx context.Context, query vectorstore.SearchQuery) ([]vectorstore.SearchResult, error) {
	return vectorstore.NewPgVectorAdapter(r.query(), vectorstore.StoryIndex).Nearest(ctx, query)
}

func (r *postgresStoryRepo) exec(ctx context.Context, query string, id string, args ...any) error {
	result, err := r.query().ExecContext(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		return fmt.Errorf("failed to update story %s: %w", id, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("story %s: %w", id, ErrNotFound)
	}
	return nil
}

func (r *postgresStoryRepo) list(ctx context.Context, query string, args ...any) ([]core.Story, error) {
	rows, err := r.query().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stories []core.Story
	for rows.Next() {
		story, err := scanStory(rows)
		if err != nil {
			return nil, err
		}
		stories = append(stories, *story)
	}
	return stories, rows.Err()
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanStory(row rowScanner) (*core.Story, error) {
	var story core.Story
	var published, runStart sql.NullTime
	var embedding, topicID sql.NullString
	var summaryJSON []byte

	err := row.Scan(
		&story.ID, &story.Headline, &story.Source, &story.Link,
		&published, &story.Updated, &embedding, &summaryJSON,
		&topicID, &runStart, &story.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	story.Published = published.Time
	story.RunStart = runStart.Time
	story.TopicID = topicID.String

	if embedding.Valid {
		if story.Embedding, err = vectorstore.ParseVector(embedding.String); err != nil {
			return nil, fmt.Errorf("failed to parse embedding of story %s: %w", story.ID, err)
		}
	}
	if len(summaryJSON) > 0 {
		if err := json.Unmarshal(summaryJSON, &story.Summary); err != nil {
			return nil, fmt.Errorf("failed to unmarshal summary of story %s: %w", story.ID, err)
		}
	}
	return &story, nil
}

// postgresTopicRepo implements TopicRepository for PostgreSQL
type postgresTopicRepo struct {
	db *sql.DB
	tx *sql.Tx
}

func (r *postgresTopicRepo) query() queryer { return conn{db: r.db, tx: r.tx}.query() }

func (r *postgresTopicRepo) Create(ctx context.Context, topic *core.Topic) error {
	if topic.ID == "" {
		topic.ID = uuid.NewString()
	}

	summaryJSON, err := json.Marshal(topic.Summary)
	if err != nil {
		return fmt.Errorf("failed to marshal topic summary: %w", err)
	}

	query := `
		INSERT INTO topics (id, summary, updated, source, short_name)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err = r.query().ExecContext(ctx, query,
		topic.ID, summaryJSON, topic.Updated.UTC(), string(topic.Source), nullString(topic.ShortName),
	)
	if err != nil {
		return fmt.Errorf("failed to insert topic: %w", mapPostgresError(err))
	}

	return r.AddMembers(ctx, topic.ID, topic.Stories)
}

func (r *postgresTopicRepo) Get(ctx context.Context, id string) (*core.Topic, error) {
	topics, err := r.GetByIDs(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	if len(topics) == 0 {
		return nil, fmt.Errorf("topic %s: %w", id, ErrNotFound)
	}
	return &topics[0], nil
}

func (r *postgresTopicRepo) GetByIDs(ctx context.Context, ids []string) ([]core.Topic, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `
		SELECT id, summary, updated, source, short_name
		FROM topics
		WHERE id = ANY($1::text[])
		ORDER BY updated DESC, id
	`
	rows, err := r.query().QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, err
	}

	var topics []core.Topic
	for rows.Next() {
		var topic core.Topic
		var summaryJSON []byte
		var source string
		var shortName sql.NullString
		if err := rows.Scan(&topic.ID, &summaryJSON, &topic.Updated, &source, &shortName); err != nil {
			rows.Close()
			return nil, err
		}
		if err := json.Unmarshal(summaryJSON, &topic.Summary); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to unmarshal summary of topic %s: %w", topic.ID, err)
		}
		topic.Source = core.TopicSource(source)
		topic.ShortName = shortName.String
		topics = append(topics, topic)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range topics {
		members, err := r.members(ctx, topics[i].ID)
		if err != nil {
			return nil, err
		}
		topics[i].Stories = members
	}
	return topics, nil
}

func (r *postgresTopicRepo) Update(ctx context.Context, topic *core.Topic) error {
	summaryJSON, err := json.Marshal(topic.Summary)
	if err != nil {
		return fmt.Errorf("failed to marshal topic summary: %w", err)
	}

	query := `
		UPDATE topics SET
			summary = $2, updated = $3, source = $4,
			short_name = COALESCE($5, short_name)
		WHERE id = $1
	`
	result, err := r.query().ExecContext(ctx, query,
		topic.ID, summaryJSON, topic.Updated.UTC(), string(topic.Source), nullString(topic.ShortName),
	)
	if err != nil {
		return fmt.Errorf("failed to update topic %s: %w", topic.ID, err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return fmt.Errorf("topic %s: %w", topic.ID, ErrNotFound)
	}

	return r.AddMembers(ctx, topic.ID, topic.Stories)
}

func (r *postgresTopicRepo) AddMembers(ctx context.Context, topicID string, storyIDs []string) error {
	for _, storyID := range storyIDs {
		if _, err := r.query().ExecContext(ctx, upsertMemberSQL, storyID, topicID); err != nil {
			return fmt.Errorf("failed to add story %s to topic %s: %w", storyID, topicID, err)
		}
	}
	return nil
}

func (r *postgresTopicRepo) SetShortName(ctx context.Context, id, shortName string) error {
	result, err := r.query().ExecContext(ctx, `UPDATE topics SET short_name = $2 WHERE id = $1`, id, shortName)
	if err != nil {
		return fmt.Errorf("failed to set short name of topic %s: %w", id, err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return fmt.Errorf("topic %s: %w", id, ErrNotFound)
	}
	return nil
}

func (r *postgresTopicRepo) members(ctx context.Context, topicID string) ([]string, error) {
	rows, err := r.query().QueryContext(ctx,
		`SELECT story_id FROM topic_stories WHERE topic_id = $1 ORDER BY position, story_id`, topicID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// upsertMemberSQL appends a story to a topic. A story already in the topic
// keeps its position; a story owned by another topic moves to the end.
const upsertMemberSQL = `
	INSERT INTO topic_stories (story_id, topic_id, position)
	VALUES ($1, $2, (SELECT COALESCE(MAX(position), 0) + 1 FROM topic_stories))
	ON CONFLICT (story_id) DO UPDATE SET
		topic_id = EXCLUDED.topic_id,
		position = CASE
			WHEN topic_stories.topic_id = EXCLUDED.topic_id THEN topic_stories.position
			ELSE EXCLUDED.position
		END
`

// postgresKeywordRepo implements KeywordRepository for PostgreSQL
type postgresKeywordRepo struct {
	db *sql.DB
	tx *sql.Tx
}

func (r *postgresKeywordRepo) query() queryer { return conn{db: r.db, tx: r.tx}.query() }

func (r *postgresKeywordRepo) Create(ctx context.Context, keyword *core.Keyword) error {
	if keyword.ID == "" {
		keyword.ID = uuid.NewString()
	}
	if keyword.CreatedAt.IsZero() {
		keyword.CreatedAt = time.Now().UTC()
	}

	var embedding sql.NullString
	if len(keyword.Embedding) > 0 {
		embedding = sql.NullString{String: vectorstore.FormatVector(keyword.Embedding), Valid: true}
	}

	_, err := r.query().ExecContext(ctx,
		`INSERT INTO keywords (id, keyword, embedding, created_at) VALUES ($1, $2, $3::vector, $4)`,
		keyword.ID, keyword.Text, embedding, keyword.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert keyword: %w", mapPostgresError(err))
	}
	return nil
}

func (r *postgresKeywordRepo) GetByText(ctx context.Context, text string) (*core.Keyword, error) {
	var keyword core.Keyword
	var embedding sql.NullString
	err := r.query().QueryRowContext(ctx,
		`SELECT id, keyword, embedding::text, created_at FROM keywords WHERE keyword = $1`, text,
	).Scan(&keyword.ID, &keyword.Text, &embedding, &keyword.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("keyword %q: %w", text, ErrNotFound)
		}
		return nil, err
	}
	if embedding.Valid {
		if keyword.Embedding, err = vectorstore.ParseVector(embedding.String); err != nil {
			return nil, fmt.Errorf("failed to parse embedding of keyword %q: %w", text, err)
		}
	}
	return &keyword, nil
}

func (r *postgresKeywordRepo) Exists(ctx context.Context, text string) (bool, error) {
	var exists bool
	err := r.query().QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM keywords WHERE keyword = $1)`, text).Scan(&exists)
	return exists, err
}

func (r *postgresKeywordRepo) Nearest(ctx context.Context, query vectorstore.SearchQuery) ([]vectorstore.SearchResult, error) {
	return vectorstore.NewPgVectorAdapter(r.query(), vectorstore.KeywordIndex).Nearest(ctx, query)
}

// postgresDigestRepo implements DigestRepository for PostgreSQL
type postgresDigestRepo struct {
	db *sql.DB
	tx *sql.Tx
}

func (r *postgresDigestRepo) query() queryer { return conn{db: r.db, tx: r.tx}.query() }

func (r *postgresDigestRepo) Create(ctx context.Context, digest *core.DailyDigest) error {
	if digest.ID == "" {
		digest.ID = uuid.NewString()
	}

	keywordsJSON, err := json.Marshal(digest.TopKeywords)
	if err != nil {
		return fmt.Errorf("failed to marshal top_keywords: %w", err)
	}
	titlesJSON, err := json.Marshal(digest.KeyStoryTitles)
	if err != nil {
		return fmt.Errorf("failed to marshal key_story_titles: %w", err)
	}

	query := `
		INSERT INTO digests (
			id, date, title, overall_summary, top_keywords, key_story_titles, sentiment
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = r.query().ExecContext(ctx, query,
		digest.ID, digest.Date.UTC(), digest.Title, digest.OverallSummary,
		keywordsJSON, titlesJSON, digest.Sentiment,
	)
	if err != nil {
		return fmt.Errorf("failed to insert digest: %w", mapPostgresError(err))
	}
	return nil
}

func (r *postgresDigestRepo) GetLatest(ctx context.Context, limit int) ([]core.DailyDigest, error) {
	if limit <= 0 {
		limit = 1
	}

	query := `
		SELECT id, date, title, overall_summary, top_keywords, key_story_titles, sentiment
		FROM digests
		ORDER BY date DESC
		LIMIT $1
	`
	rows, err := r.query().QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var digests []core.DailyDigest
	for rows.Next() {
		digest, err := scanDigest(rows)
		if err != nil {
			return nil, err
		}
		digests = append(digests, *digest)
	}
	return digests, rows.Err()
}

func scanDigest(row rowScanner) (*core.DailyDigest, error) {
	var digest core.DailyDigest
	var keywordsJSON, titlesJSON []byte

	if err := row.Scan(
		&digest.ID, &digest.Date, &digest.Title, &digest.OverallSummary,
		&keywordsJSON, &titlesJSON, &digest.Sentiment,
	); err != nil {
		return nil, err
	}

	if len(keywordsJSON) > 0 {
		if err := json.Unmarshal(keywordsJSON, &digest.TopKeywords); err != nil {
			return nil, fmt.Errorf("failed to unmarshal top_keywords: %w", err)
		}
	}
	if len(titlesJSON) > 0 {
		if err := json.Unmarshal(titlesJSON, &digest.KeyStoryTitles); err != nil {
			return nil, fmt.Errorf("failed to unmarshal key_story_titles: %w", err)
		}
	}
	return &digest, nil
}
