package vectorstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"
)

// Querier is satisfied by *sql.DB and *sql.Tx
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Index describes a table holding a pgvector embedding column
type Index struct {
	Table       string // Table name
	TextColumn  string // Column returned as SearchResult.Text
	TopicColumn string // Column returned as SearchResult.TopicID, empty if none
}

var (
	// StoryIndex searches story embeddings
	StoryIndex = Index{Table: "stories", TextColumn: "headline", TopicColumn: "topic_id"}
	// KeywordIndex searches keyword embeddings
	KeywordIndex = Index{Table: "keywords", TextColumn: "keyword"}
)

// Postgres error codes that mean the vector index cannot be used at all
const (
	codeUndefinedTable    = "42P01"
	codeUndefinedObject   = "42704"
	codeUndefinedFunction = "42883"
)

// PgVectorAdapter implements VectorStore using PostgreSQL with the pgvector extension
type PgVectorAdapter struct {
	q     Querier
	index Index
}

// NewPgVectorAdapter creates a pgvector-backed store over the given index
func NewPgVectorAdapter(q Querier, index Index) *PgVectorAdapter {
	return &PgVectorAdapter{q: q, index: index}
}

// Nearest returns up to CandidatePool records ordered by cosine distance (<=> operator)
func (p *PgVectorAdapter) Nearest(ctx context.Context, query SearchQuery) ([]SearchResult, error) {
	if query.CandidatePool <= 0 {
		query.CandidatePool = DefaultCandidatePool
	}

	topicExpr := "''"
	if p.index.TopicColumn != "" {
		topicExpr = fmt.Sprintf("COALESCE(t.%s, '')", p.index.TopicColumn)
	}

	excludeClause := ""
	args := []any{FormatVector(query.Embedding), query.CandidatePool}
	if len(query.ExcludeIDs) > 0 {
		excludeClause = "AND t.id <> ALL($3::text[])"
		args = append(args, pq.Array(query.ExcludeIDs))
	}

	sqlQuery := fmt.Sprintf(`
		SELECT
			t.id,
			%s,
			t.%s,
			t.seq,
			1 - (t.embedding <=> $1::vector) AS similarity,
			t.embedding <=> $1::vector AS distance
		FROM %s t
		WHERE t.embedding IS NOT NULL
		  %s
		ORDER BY t.embedding <=> $1::vector, t.seq
		LIMIT $2
	`, topicExpr, p.index.TextColumn, p.index.Table, excludeClause)

	rows, err := p.q.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, classifyError(fmt.Errorf("failed to search %s: %w", p.index.Table, err))
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.ID, &r.TopicID, &r.Text, &r.Seq, &r.Similarity, &r.Distance); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		results = append(results, r)
	}

	if err := rows.Err(); err != nil {
		return nil, classifyError(fmt.Errorf("row iteration error: %w", err))
	}

	return results, nil
}

// classifyError maps "index does not exist" failures onto ErrIndexUnavailable
func classifyError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case codeUndefinedTable, codeUndefinedObject, codeUndefinedFunction:
			return fmt.Errorf("%w: %s", ErrIndexUnavailable, pqErr.Message)
		}
	}
	return err
}

// FormatVector converts an embedding to pgvector's text format: '[1,2,3]'
func FormatVector(embedding []float64) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, val := range embedding {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(val, 'f', -1, 64))
	}
	b.WriteByte(']')
	return b.String()
}

// ParseVector parses pgvector's text format back into a slice
func ParseVector(s string) ([]float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if !strings.HasPrefix(s, "[") || !strings.HasSuffix(s, "]") {
		return nil, fmt.Errorf("invalid vector literal %q", s)
	}

	body := strings.TrimSpace(s[1 : len(s)-1])
	if body == "" {
		return []float64{}, nil
	}

	parts := strings.Split(body, ",")
	vec := make([]float64, len(parts))
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid vector component %q: %w", part, err)
		}
		vec[i] = v
	}
	return vec, nil
}
