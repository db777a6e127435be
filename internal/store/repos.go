package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"newsdigest/internal/core"
	"newsdigest/internal/persistence"
	"newsdigest/internal/vectorstore"
)

type storyRepo struct{ conn }

const storyColumns = `id, headline, source, link, published, updated, embedding, summary, topic_id, run_start, created_at`

func (r *storyRepo) Create(ctx context.Context, story *core.Story) error {
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
	embedding, err := encodeEmbedding(story.Embedding)
	if err != nil {
		return err
	}

	query := `
	INSERT INTO stories (` + storyColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.query().ExecContext(ctx, query,
		story.ID, story.Headline, story.Source, story.Link,
		nullTime(story.Published), formatTime(story.Updated),
		embedding, string(summaryJSON), nullString(story.TopicID),
		nullTime(story.RunStart), formatTime(story.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert story: %w", mapSQLiteError(err))
	}
	return nil
}

func (r *storyRepo) Get(ctx context.Context, id string) (*core.Story, error) {
	story, err := scanStory(r.query().QueryRowContext(ctx, `SELECT `+storyColumns+` FROM stories WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("story %s: %w", id, persistence.ErrNotFound)
		}
		return nil, err
	}
	return story, nil
}

func (r *storyRepo) GetByIDs(ctx context.Context, ids []string) ([]core.Story, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + storyColumns + ` FROM stories WHERE id IN (` + placeholders(len(ids)) + `) ORDER BY seq`
	return r.list(ctx, query, stringArgs(ids)...)
}

func (r *storyRepo) ExistsByHeadline(ctx context.Context, headline string) (bool, error) {
	var exists bool
	err := r.query().QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM stories WHERE headline = ?)`, headline).Scan(&exists)
	return exists, err
}

func (r *storyRepo) ExistsByLink(ctx context.Context, link string) (bool, error) {
	var exists bool
	err := r.query().QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM stories WHERE link = ?)`, link).Scan(&exists)
	return exists, err
}

func (r *storyRepo) UpdateTopic(ctx context.Context, id, topicID string) error {
	return r.update(ctx, `UPDATE stories SET topic_id = ? WHERE id = ?`, nullString(topicID), id)
}

func (r *storyRepo) UpdateEmbedding(ctx context.Context, id string, embedding []float64) error {
	encoded, err := encodeEmbedding(embedding)
	if err != nil {
		return err
	}
	return r.update(ctx, `UPDATE stories SET embedding = ? WHERE id = ?`, encoded, id)
}

func (r *storyRepo) UpdateTimestamp(ctx context.Context, id string, updated time.Time) error {
	return r.update(ctx, `UPDATE stories SET updated = ? WHERE id = ?`, formatTime(updated), id)
}

func (r *storyRepo) ListUpdatedSince(ctx context.Context, since time.Time) ([]core.Story, error) {
	query := `SELECT ` + storyColumns + ` FROM stories WHERE updated >= ? ORDER BY updated DESC, seq`
	return r.list(ctx, query, formatTime(since))
}

func (r *storyRepo) ListUpdatedAfter(ctx context.Context, after time.Time) ([]core.Story, error) {
	query := `SELECT ` + storyColumns + ` FROM stories WHERE updated > ? ORDER BY updated DESC, seq`
	return r.list(ctx, query, formatTime(after))
}

func (r *storyRepo) ListMissingEmbedding(ctx context.Context, limit int) ([]core.Story, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + storyColumns + ` FROM stories WHERE embedding IS NULL ORDER BY seq LIMIT ?`
	return r.list(ctx, query, limit)
}

// Nearest scans every stored embedding; adequate for the local database sizes it serves.
func (r *storyRepo) Nearest(ctx context.Context, q vectorstore.SearchQuery) ([]vectorstore.SearchResult, error) {
	return nearest(ctx, r.query(), `SELECT id, COALESCE(topic_id, ''), headline, seq, embedding FROM stories WHERE embedding IS NOT NULL`, q)
}

func (r *storyRepo) update(ctx context.Context, query string, value any, id string) error {
	result, err := r.query().ExecContext(ctx, query, value, id)
	if err != nil {
		return fmt.Errorf("failed to update story %s: %w", id, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("story %s: %w", id, persistence.ErrNotFound)
	}
	return nil
}

func (r *storyRepo) list(ctx context.Context, query string, args ...any) ([]core.Story, error) {
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStory(row rowScanner) (*core.Story, error) {
	var story core.Story
	var published, updated, runStart, createdAt, embedding, topicID sql.NullString
	var summaryJSON string

	err := row.Scan(
		&story.ID, &story.Headline, &story.Source, &story.Link,
		&published, &updated, &embedding, &summaryJSON,
		&topicID, &runStart, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	if story.Published, err = parseTime(published); err != nil {
		return nil, err
	}
	if story.Updated, err = parseTime(updated); err != nil {
		return nil, err
	}
	if story.RunStart, err = parseTime(runStart); err != nil {
		return nil, err
	}
	if story.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if story.Embedding, err = decodeEmbedding(embedding); err != nil {
		return nil, fmt.Errorf("story %s: %w", story.ID, err)
	}
	if err := json.Unmarshal([]byte(summaryJSON), &story.Summary); err != nil {
		return nil, fmt.Errorf("failed to unmarshal summary of story %s: %w", story.ID, err)
	}
	story.TopicID = topicID.String
	return &story, nil
}

type topicRepo struct{ conn }

// upsertMemberSQL appends a story to a topic. A story already in the topic
// keeps its position; a story owned by another topic moves to the end.
const upsertMemberSQL = `
	INSERT INTO topic_stories (story_id, topic_id, position)
	VALUES (?, ?, (SELECT COALESCE(MAX(position), 0) + 1 FROM topic_stories))
	ON CONFLICT (story_id) DO UPDATE SET
		topic_id = excluded.topic_id,
		position = CASE
			WHEN topic_stories.topic_id = excluded.topic_id THEN topic_stories.position
			ELSE excluded.position
		END`

func (r *topicRepo) Create(ctx context.Context, topic *core.Topic) error {
	if topic.ID == "" {
		topic.ID = uuid.NewString()
	}

	summaryJSON, err := json.Marshal(topic.Summary)
	if err != nil {
		return fmt.Errorf("failed to marshal topic summary: %w", err)
	}

	_, err = r.query().ExecContext(ctx,
		`INSERT INTO topics (id, summary, updated, source, short_name) VALUES (?, ?, ?, ?, ?)`,
		topic.ID, string(summaryJSON), formatTime(topic.Updated), string(topic.Source), nullString(topic.ShortName),
	)
	if err != nil {
		return fmt.Errorf("failed to insert topic: %w", mapSQLiteError(err))
	}

	return r.AddMembers(ctx, topic.ID, topic.Stories)
}

func (r *topicRepo) Get(ctx context.Context, id string) (*core.Topic, error) {
	topics, err := r.GetByIDs(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	if len(topics) == 0 {
		return nil, fmt.Errorf("topic %s: %w", id, persistence.ErrNotFound)
	}
	return &topics[0], nil
}

func (r *topicRepo) GetByIDs(ctx context.Context, ids []string) ([]core.Topic, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `
	SELECT id, summary, updated, source, short_name
	FROM topics
	WHERE id IN (` + placeholders(len(ids)) + `)
	ORDER BY updated DESC, id`

	rows, err := r.query().QueryContext(ctx, query, stringArgs(ids)...)
	if err != nil {
		return nil, err
	}

	var topics []core.Topic
	for rows.Next() {
		var topic core.Topic
		var summaryJSON, source string
		var updated, shortName sql.NullString
		if err := rows.Scan(&topic.ID, &summaryJSON, &updated, &source, &shortName); err != nil {
			rows.Close()
			return nil, err
		}
		if err := json.Unmarshal([]byte(summaryJSON), &topic.Summary); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to unmarshal summary of topic %s: %w", topic.ID, err)
		}
		if topic.Updated, err = parseTime(updated); err != nil {
			rows.Close()
			return nil, err
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
		if topics[i].Stories, err = r.members(ctx, topics[i].ID); err != nil {
			return nil, err
		}
	}
	return topics, nil
}

func (r *topicRepo) Update(ctx context.Context, topic *core.Topic) error {
	summaryJSON, err := json.Marshal(topic.Summary)
	if err != nil {
		return fmt.Errorf("failed to marshal topic summary: %w", err)
	}

	result, err := r.query().ExecContext(ctx, `
	UPDATE topics SET
		summary = ?, updated = ?, source = ?,
		short_name = COALESCE(?, short_name)
	WHERE id = ?`,
		string(summaryJSON), formatTime(topic.Updated), string(topic.Source), nullString(topic.ShortName), topic.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update topic %s: %w", topic.ID, err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return fmt.Errorf("topic %s: %w", topic.ID, persistence.ErrNotFound)
	}

	return r.AddMembers(ctx, topic.ID, topic.Stories)
}

func (r *topicRepo) AddMembers(ctx context.Context, topicID string, storyIDs []string) error {
	for _, storyID := range storyIDs {
		if _, err := r.query().ExecContext(ctx, upsertMemberSQL, storyID, topicID); err != nil {
			return fmt.Errorf("failed to add story %s to topic %s: %w", storyID, topicID, err)
		}
	}
	return nil
}

func (r *topicRepo) SetShortName(ctx context.Context, id, shortName string) error {
	result, err := r.query().ExecContext(ctx, `UPDATE topics SET short_name = ? WHERE id = ?`, shortName, id)
	if err != nil {
		return fmt.Errorf("failed to set short name of topic %s: %w", id, err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return fmt.Errorf("topic %s: %w", id, persistence.ErrNotFound)
	}
	return nil
}

func (r *topicRepo) members(ctx context.Context, topicID string) ([]string, error) {
	rows, err := r.query().QueryContext(ctx,
		`SELECT story_id FROM topic_stories WHERE topic_id = ? ORDER BY position, story_id`, topicID)
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

type keywordRepo struct{ conn }

func (r *keywordRepo) Create(ctx context.Context, keyword *core.Keyword) error {
	if keyword.ID == "" {
		keyword.ID = uuid.NewString()
	}
	if keyword.CreatedAt.IsZero() {
		keyword.CreatedAt = time.Now().UTC()
	}

	embedding, err := encodeEmbedding(keyword.Embedding)
	if err != nil {
		return err
	}

	_, err = r.query().ExecContext(ctx,
		`INSERT INTO keywords (id, keyword, embedding, created_at) VALUES (?, ?, ?, ?)`,
		keyword.ID, keyword.Text, embedding, formatTime(keyword.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert keyword: %w", mapSQLiteError(err))
	}
	return nil
}

func (r *keywordRepo) GetByText(ctx context.Context, text string) (*core.Keyword, error) {
	var keyword core.Keyword
	var embedding, createdAt sql.NullString

	err := r.query().QueryRowContext(ctx,
		`SELECT id, keyword, embedding, created_at FROM keywords WHERE keyword = ?`, text,
	).Scan(&keyword.ID, &keyword.Text, &embedding, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("keyword %q: %w", text, persistence.ErrNotFound)
		}
		return nil, err
	}

	if keyword.Embedding, err = decodeEmbedding(embedding); err != nil {
		return nil, fmt.Errorf("keyword %q: %w", text, err)
	}
	if keyword.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &keyword, nil
}

func (r *keywordRepo) Exists(ctx context.Context, text string) (bool, error) {
	var exists bool
	err := r.query().QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM keywords WHERE keyword = ?)`, text).Scan(&exists)
	return exists, err
}

func (r *keywordRepo) Nearest(ctx context.Context, q vectorstore.SearchQuery) ([]vectorstore.SearchResult, error) {
	return nearest(ctx, r.query(), `SELECT id, '', keyword, seq, embedding FROM keywords WHERE embedding IS NOT NULL`, q)
}

type digestRepo struct{ conn }

func (r *digestRepo) Create(ctx context.Context, digest *core.DailyDigest) error {
	if digest.ID == "" {
		digest.ID = uuid.NewString()
	}

	keywordsJSON, err := json.Marshal(nonNil(digest.TopKeywords))
	if err != nil {
		return fmt.Errorf("failed to marshal top_keywords: %w", err)
	}
	titlesJSON, err := json.Marshal(nonNil(digest.KeyStoryTitles))
	if err != nil {
		return fmt.Errorf("failed to marshal key_story_titles: %w", err)
	}

	_, err = r.query().ExecContext(ctx, `
	INSERT INTO digests (id, date, title, overall_summary, top_keywords, key_story_titles, sentiment)
	VALUES (?, ?, ?, ?, ?, ?, ?)`,
		digest.ID, formatTime(digest.Date), digest.Title, digest.OverallSummary,
		string(keywordsJSON), string(titlesJSON), digest.Sentiment,
	)
	if err != nil {
		return fmt.Errorf("failed to insert digest: %w", mapSQLiteError(err))
	}
	return nil
}

func (r *digestRepo) GetLatest(ctx context.Context, limit int) ([]core.DailyDigest, error) {
	if limit <= 0 {
		limit = 1
	}

	rows, err := r.query().QueryContext(ctx, `
	SELECT id, date, title, overall_summary, top_keywords, key_story_titles, sentiment
	FROM digests
	ORDER BY date DESC
	LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var digests []core.DailyDigest
	for rows.Next() {
		var digest core.DailyDigest
		var date sql.NullString
		var keywordsJSON, titlesJSON string
		if err := rows.Scan(&digest.ID, &date, &digest.Title, &digest.OverallSummary,
			&keywordsJSON, &titlesJSON, &digest.Sentiment); err != nil {
			return nil, err
		}
		if digest.Date, err = parseTime(date); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(keywordsJSON), &digest.TopKeywords); err != nil {
			return nil, fmt.Errorf("failed to unmarshal top_keywords: %w", err)
		}
		if err := json.Unmarshal([]byte(titlesJSON), &digest.KeyStoryTitles); err != nil {
			return nil, fmt.Errorf("failed to unmarshal key_story_titles: %w", err)
		}
		digests = append(digests, digest)
	}
	return digests, rows.Err()
}

// nearest ranks every row returned by query against q.Embedding by cosine distance.
// The query must select id, topic_id, text, seq and the JSON embedding, in that order.
func nearest(ctx context.Context, db queryer, query string, q vectorstore.SearchQuery) ([]vectorstore.SearchResult, error) {
	pool := q.CandidatePool
	if pool <= 0 {
		pool = vectorstore.DefaultCandidatePool
	}

	var args []any
	if len(q.ExcludeIDs) > 0 {
		query += ` AND id NOT IN (` + placeholders(len(q.ExcludeIDs)) + `)`
		args = stringArgs(q.ExcludeIDs)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("similarity search failed: %w", mapSQLiteError(err))
	}
	defer rows.Close()

	var results []vectorstore.SearchResult
	for rows.Next() {
		var r vectorstore.SearchResult
		var embedding sql.NullString
		if err := rows.Scan(&r.ID, &r.TopicID, &r.Text, &r.Seq, &embedding); err != nil {
			return nil, err
		}
		vec, err := decodeEmbedding(embedding)
		if err != nil {
			return nil, err
		}
		r.Similarity = vectorstore.CosineSimilarity(q.Embedding, vec)
		r.Distance = 1 - r.Similarity
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].Seq < results[j].Seq
	})
	if len(results) > pool {
		results = results[:pool]
	}
	return results, nil
}

func encodeEmbedding(vec []float64) (sql.NullString, error) {
	if len(vec) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(vec)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal embedding: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func decodeEmbedding(s sql.NullString) ([]float64, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var vec []float64
	if err := json.Unmarshal([]byte(s.String), &vec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal embedding: %w", err)
	}
	return vec, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func stringArgs(values []string) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
