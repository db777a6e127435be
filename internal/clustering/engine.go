// Package clustering assigns incoming stories to topics by embedding similarity.
package clustering

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"newsdigest/internal/core"
	"newsdigest/internal/llm"
	"newsdigest/internal/logger"
	"newsdigest/internal/persistence"
	"newsdigest/internal/vectorstore"
)

// DefaultThreshold is the minimum similarity for a story to join a topic
const DefaultThreshold = 0.9

// Outcome is the terminal state of processing one story
type Outcome string

const (
	OutcomeNewTopic    Outcome = "NEW_TOPIC"
	OutcomeJoinedTopic Outcome = "JOINED_TOPIC"
)

// Result describes what happened to one story
type Result struct {
	Outcome    Outcome
	StoryID    string
	TopicID    string
	Reassigned []string // candidate stories moved into TopicID
}

// Options configures an Engine
type Options struct {
	// Threshold is the similarity a candidate needs to count as the same event (default: 0.9)
	Threshold float64

	// CandidatePool and Limit are passed to the similarity search
	CandidatePool int
	Limit         int

	// Strict performs all writes for one story in a single transaction
	Strict bool

	// Now overrides the clock, used in tests
	Now func() time.Time
}

// Engine runs the per-story topic assignment
type Engine struct {
	db         persistence.Database
	summarizer llm.Summarizer
	searcher   *vectorstore.Searcher
	opts       Options
	log        *slog.Logger
}

// NewEngine creates a clustering engine over db
func NewEngine(db persistence.Database, summarizer llm.Summarizer, opts Options) *Engine {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Engine{
		db:         db,
		summarizer: summarizer,
		searcher: vectorstore.NewSearcher(db.Stories()).
			WithCandidatePool(opts.CandidatePool).
			WithLimit(opts.Limit),
		opts: opts,
		log:  logger.Get(),
	}
}

// Process finds the topic for a story that is not stored yet, then stores it.
// The story must carry its embedding. On success story.ID and story.TopicID are set.
//
// Without Strict, writes are applied one at a time and a failure part way
// leaves the earlier ones in place.
func (e *Engine) Process(ctx context.Context, story *core.Story) (*Result, error) {
	if story == nil {
		return nil, errors.New("story is nil")
	}
	if len(story.Embedding) == 0 {
		return nil, fmt.Errorf("story %q has no embedding", story.Headline)
	}
	if story.ID == "" {
		story.ID = uuid.NewString()
	}

	candidates, err := e.candidates(ctx, story)
	if err != nil {
		return nil, err
	}

	if len(candidates) == 0 {
		return e.newTopic(ctx, story)
	}
	return e.joinTopic(ctx, story, candidates)
}

// candidates returns similar stories that already belong to a topic, best first
func (e *Engine) candidates(ctx context.Context, story *core.Story) ([]vectorstore.SearchResult, error) {
	matches, err := e.searcher.FindSimilar(ctx, story.Embedding, e.opts.Threshold, story.ID)
	if err != nil {
		return nil, fmt.Errorf("similarity search failed: %w", err)
	}

	var eligible []vectorstore.SearchResult
	for _, m := range matches {
		if m.TopicID == "" || m.ID == story.ID {
			continue
		}
		eligible = append(eligible, m)
	}
	return eligible, nil
}

func (e *Engine) newTopic(ctx context.Context, story *core.Story) (*Result, error) {
	topic := &core.Topic{
		ID:      uuid.NewString(),
		Stories: []string{story.ID},
		Summary: story.Summary,
		Updated: e.opts.Now(),
		Source:  core.TopicSourceSingle,
	}
	story.TopicID = topic.ID

	err := e.write(ctx, func(repos persistence.Repositories) error {
		// The story goes in first so a duplicate does not leave an empty topic behind.
		if err := repos.Stories().Create(ctx, story); err != nil {
			return fmt.Errorf("failed to store story: %w", err)
		}
		if err := repos.Topics().Create(ctx, topic); err != nil {
			return fmt.Errorf("failed to create topic: %w", err)
		}
		return nil
	})
	if err != nil {
		story.TopicID = ""
		return nil, err
	}

	e.log.Info("Created topic", "topic_id", topic.ID, "story_id", story.ID, "headline", story.Headline)
	return &Result{Outcome: OutcomeNewTopic, StoryID: story.ID, TopicID: topic.ID}, nil
}

func (e *Engine) joinTopic(ctx context.Context, story *core.Story, candidates []vectorstore.SearchResult) (*Result, error) {
	topicID := candidates[0].TopicID

	topic, err := e.db.Topics().Get(ctx, topicID)
	if err != nil {
		return nil, fmt.Errorf("failed to load topic %s: %w", topicID, err)
	}

	candidateIDs := make([]string, 0, len(candidates))
	for _, c := range candidates {
		candidateIDs = append(candidateIDs, c.ID)
	}
	matched, err := e.db.Stories().GetByIDs(ctx, candidateIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load matched stories: %w", err)
	}

	if e.opts.Strict {
		summary, err := e.resummarize(ctx, matched, story)
		if err != nil {
			return nil, err
		}
		err = e.write(ctx, func(repos persistence.Repositories) error {
			if err := reassign(ctx, repos, topicID, candidateIDs); err != nil {
				return err
			}
			return e.attach(ctx, repos, topic, candidateIDs, story, summary)
		})
		if err != nil {
			story.TopicID = ""
			return nil, err
		}
	} else {
		// Reassignment happens before summarization and stays even if it fails.
		if err := reassign(ctx, e.db, topicID, candidateIDs); err != nil {
			return nil, err
		}
		summary, err := e.resummarize(ctx, matched, story)
		if err != nil {
			return nil, err
		}
		if err := e.attach(ctx, e.db, topic, candidateIDs, story, summary); err != nil {
			story.TopicID = ""
			return nil, err
		}
	}

	e.log.Info("Joined topic",
		"topic_id", topicID,
		"story_id", story.ID,
		"headline", story.Headline,
		"matches", len(candidates),
		"top_similarity", candidates[0].Similarity,
	)
	return &Result{Outcome: OutcomeJoinedTopic, StoryID: story.ID, TopicID: topicID, Reassigned: candidateIDs}, nil
}

// reassign moves every matched story into the canonical topic
func reassign(ctx context.Context, repos persistence.Repositories, topicID string, storyIDs []string) error {
	for _, id := range storyIDs {
		if err := repos.Stories().UpdateTopic(ctx, id, topicID); err != nil {
			return fmt.Errorf("failed to reassign story %s: %w", id, err)
		}
	}
	if err := repos.Topics().AddMembers(ctx, topicID, storyIDs); err != nil {
		return fmt.Errorf("failed to move stories into topic %s: %w", topicID, err)
	}
	return nil
}

// attach stores the new story and refreshes the topic document
func (e *Engine) attach(ctx context.Context, repos persistence.Repositories, topic *core.Topic, candidateIDs []string, story *core.Story, summary *core.ArticleSummary) error {
	story.TopicID = topic.ID
	if err := repos.Stories().Create(ctx, story); err != nil {
		return fmt.Errorf("failed to store story: %w", err)
	}

	members := append(append(append([]string{}, topic.Stories...), candidateIDs...), story.ID)
	updated := *topic
	updated.Stories = dedupe(members)
	updated.Summary = *summary
	updated.Updated = e.opts.Now()
	updated.Source = core.TopicSourceMultiple

	if err := repos.Topics().Update(ctx, &updated); err != nil {
		return fmt.Errorf("failed to update topic %s: %w", topic.ID, err)
	}
	*topic = updated
	return nil
}

// resummarize regenerates the topic summary over the matched stories and the
// new one, most recent first
func (e *Engine) resummarize(ctx context.Context, matched []core.Story, story *core.Story) (*core.ArticleSummary, error) {
	stories := make([]core.Story, 0, len(matched)+1)
	stories = append(stories, matched...)
	stories = append(stories, *story)
	sortByRecency(stories)

	inputs := make([]llm.StoryInput, 0, len(stories))
	for _, s := range stories {
		inputs = append(inputs, llm.StoryInput{
			Headline: s.Headline,
			Summary:  s.Summary.Summary,
			Time:     storyTime(s),
		})
	}

	summary, err := e.summarizer.SummarizeStories(ctx, inputs)
	if err != nil {
		e.log.Error("Failed to summarize topic, abandoning story", "headline", story.Headline, "error", err.Error())
		return nil, fmt.Errorf("failed to summarize topic: %w", err)
	}

	summary.Time = storyTime(stories[0])
	summary.Categories = core.CategoryPrefixes(summary.Category)
	return summary, nil
}

// write runs fn against the database, or inside one transaction in strict mode
func (e *Engine) write(ctx context.Context, fn func(persistence.Repositories) error) error {
	if !e.opts.Strict {
		return fn(e.db)
	}

	tx, err := e.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			e.log.Warn("Rollback failed", "error", rbErr.Error())
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func sortByRecency(stories []core.Story) {
	sort.SliceStable(stories, func(i, j int) bool {
		return stories[i].Updated.After(stories[j].Updated)
	})
}

// storyTime is the event time of a story, falling back to its update time
func storyTime(s core.Story) time.Time {
	if !s.Summary.Time.IsZero() {
		return s.Summary.Time
	}
	return s.Updated
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
