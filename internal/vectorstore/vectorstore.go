package vectorstore

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sort"

	"newsdigest/internal/logger"
)

const (
	// DefaultCandidatePool is how many nearest neighbours are considered per query
	DefaultCandidatePool = 100
	// DefaultLimit caps the number of ranked results
	DefaultLimit = 10
)

// ErrIndexUnavailable reports that the backing corpus has no usable vector index
// (missing table, missing extension, missing operator).
var ErrIndexUnavailable = errors.New("vector index unavailable")

// VectorStore returns the nearest stored embeddings to a query vector.
// Implementations return at most CandidatePool results ordered nearest first;
// ranking and thresholding happen in Rank.
type VectorStore interface {
	Nearest(ctx context.Context, query SearchQuery) ([]SearchResult, error)
}

// SearchQuery configures a nearest-neighbour lookup
type SearchQuery struct {
	// Embedding is the query vector
	Embedding []float64

	// CandidatePool is the number of neighbours fetched before ranking (default: 100)
	CandidatePool int

	// ExcludeIDs filters out specific records (e.g. the query story itself)
	ExcludeIDs []string
}

// SearchResult is one stored record and its similarity to the query
type SearchResult struct {
	// ID of the matched record (story or keyword)
	ID string

	// TopicID is the owning topic for stories, empty when not yet clustered
	TopicID string

	// Text is the headline or keyword text
	Text string

	// Similarity is the cosine similarity (higher = more similar)
	Similarity float64

	// Distance is the raw cosine distance, 1 - Similarity
	Distance float64

	// Seq is the insertion order, used to break ties
	Seq int64
}

// Rank orders candidates by similarity descending, breaking ties by insertion
// order, keeps the top limit and drops everything below threshold.
// The cap is applied before the threshold, so a higher threshold always
// yields a subset of a lower one.
func Rank(candidates []SearchResult, limit int, threshold float64) []SearchResult {
	ranked := make([]SearchResult, len(candidates))
	copy(ranked, candidates)

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Similarity != ranked[j].Similarity {
			return ranked[i].Similarity > ranked[j].Similarity
		}
		return ranked[i].Seq < ranked[j].Seq
	})

	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}

	results := make([]SearchResult, 0, len(ranked))
	for _, r := range ranked {
		if r.Similarity >= threshold {
			results = append(results, r)
		}
	}
	return results
}

// CosineSimilarity calculates the cosine similarity between two vectors.
// Mismatched or zero vectors have similarity 0.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Searcher runs similarity searches against a VectorStore
type Searcher struct {
	store         VectorStore
	limit         int
	candidatePool int
	log           *slog.Logger
}

// NewSearcher creates a searcher with the default pool and limit
func NewSearcher(store VectorStore) *Searcher {
	return &Searcher{
		store:         store,
		limit:         DefaultLimit,
		candidatePool: DefaultCandidatePool,
		log:           logger.Get(),
	}
}

// WithLimit sets the maximum number of ranked results
func (s *Searcher) WithLimit(limit int) *Searcher {
	if limit > 0 {
		s.limit = limit
	}
	return s
}

// WithCandidatePool sets the number of neighbours fetched per query
func (s *Searcher) WithCandidatePool(pool int) *Searcher {
	if pool > 0 {
		s.candidatePool = pool
	}
	return s
}

// FindSimilar returns stored records whose similarity to embedding is at least
// threshold, most similar first. A missing index yields an empty result.
func (s *Searcher) FindSimilar(ctx context.Context, embedding []float64, threshold float64, excludeIDs ...string) ([]SearchResult, error) {
	if len(embedding) == 0 {
		return nil, nil
	}

	pool := s.candidatePool
	if pool < s.limit {
		pool = s.limit
	}

	candidates, err := s.store.Nearest(ctx, SearchQuery{
		Embedding:     embedding,
		CandidatePool: pool,
		ExcludeIDs:    excludeIDs,
	})
	if err != nil {
		if errors.Is(err, ErrIndexUnavailable) {
			s.log.Warn("Vector index unavailable, returning no matches", "error", err.Error())
			return nil, nil
		}
		return nil, err
	}

	return Rank(candidates, s.limit, threshold), nil
}
