package clustering

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"newsdigest/internal/core"
	"newsdigest/internal/llm"
	"newsdigest/internal/store"
)

// mockSummarizer implements llm.Summarizer for testing
type mockSummarizer struct {
	SummarizeArticleFunc    func(ctx context.Context, text string) (*core.ArticleSummary, error)
	SummarizeStoriesFunc    func(ctx context.Context, stories []llm.StoryInput) (*core.ArticleSummary, error)
	GenerateDailyDigestFunc func(ctx context.Context, stories []llm.DigestInput) (*llm.DigestDraft, error)
	GenerateShortNameFunc   func(ctx context.Context, title, summary string) (string, error)
	InsertLinkMarkersFunc   func(ctx context.Context, body string, topics []llm.LinkableTopic) (string, error)
}

func (m *mockSummarizer) SummarizeArticle(ctx context.Context, text string) (*core.ArticleSummary, error) {
	return m.SummarizeArticleFunc(ctx, text)
}

func (m *mockSummarizer) SummarizeStories(ctx context.Context, stories []llm.StoryInput) (*core.ArticleSummary, error) {
	return m.SummarizeStoriesFunc(ctx, stories)
}

func (m *mockSummarizer) GenerateDailyDigest(ctx context.Context, stories []llm.DigestInput) (*llm.DigestDraft, error) {
	return m.GenerateDailyDigestFunc(ctx, stories)
}

func (m *mockSummarizer) GenerateShortName(ctx context.Context, title, summary string) (string, error) {
	return m.GenerateShortNameFunc(ctx, title, summary)
}

func (m *mockSummarizer) InsertLinkMarkers(ctx context.Context, body string, topics []llm.LinkableTopic) (string, error) {
	return m.InsertLinkMarkersFunc(ctx, body, topics)
}

var baseTime = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.NewStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newStory(headline string, embedding []float64, updated time.Time) *core.Story {
	return &core.Story{
		Headline:  headline,
		Source:    "AP",
		Link:      "https://example.com/" + headline,
		Updated:   updated,
		Embedding: embedding,
		Summary: core.ArticleSummary{
			Title:      headline,
			Summary:    "Summary of " + headline,
			Time:       updated,
			Importance: 5,
			Category:   "World/Europe",
		},
	}
}

// seedTopic stores a clustered story in its own topic
func seedTopic(t *testing.T, s *store.Store, headline string, embedding []float64, updated time.Time) (*core.Story, *core.Topic) {
	t.Helper()
	ctx := context.Background()

	topic := &core.Topic{ID: "topic-" + headline, Updated: updated, Source: core.TopicSourceSingle}
	story := newStory(headline, embedding, updated)
	story.TopicID = topic.ID
	if err := s.Stories().Create(ctx, story); err != nil {
		t.Fatalf("Failed to seed story: %v", err)
	}
	topic.Stories = []string{story.ID}
	topic.Summary = story.Summary
	if err := s.Topics().Create(ctx, topic); err != nil {
		t.Fatalf("Failed to seed topic: %v", err)
	}
	return story, topic
}

func fixedClock() func() time.Time {
	return func() time.Time { return baseTime.Add(time.Hour) }
}

func mergedSummarizer(calls *[][]llm.StoryInput) *mockSummarizer {
	return &mockSummarizer{
		SummarizeStoriesFunc: func(ctx context.Context, stories []llm.StoryInput) (*core.ArticleSummary, error) {
			*calls = append(*calls, stories)
			return &core.ArticleSummary{
				Title:    "Merged event",
				Summary:  "Combined summary",
				Category: "World/Europe/Politics",
			}, nil
		},
	}
}

func TestProcessCreatesTopic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	engine := NewEngine(s, &mockSummarizer{}, Options{Now: fixedClock()})

	story := newStory("first", []float64{1, 0, 0}, baseTime)
	result, err := engine.Process(ctx, story)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if result.Outcome != OutcomeNewTopic {
		t.Errorf("Expected %s, got %s", OutcomeNewTopic, result.Outcome)
	}
	if story.TopicID != result.TopicID || story.ID != result.StoryID {
		t.Errorf("Story not updated with result: %+v vs %+v", story, result)
	}

	topic, err := s.Topics().Get(ctx, result.TopicID)
	if err != nil {
		t.Fatalf("Failed to get topic: %v", err)
	}
	if len(topic.Stories) != 1 || topic.Stories[0] != story.ID {
		t.Errorf("Expected topic members [%s], got %v", story.ID, topic.Stories)
	}
	if topic.Source != core.TopicSourceSingle {
		t.Errorf("Expected source single, got %s", topic.Source)
	}
	if topic.Summary.Title != "first" {
		t.Errorf("Expected topic seeded from story summary, got %q", topic.Summary.Title)
	}
	if !topic.Updated.Equal(baseTime.Add(time.Hour)) {
		t.Errorf("Expected updated from clock, got %v", topic.Updated)
	}

	stored, err := s.Stories().Get(ctx, story.ID)
	if err != nil {
		t.Fatalf("Failed to get story: %v", err)
	}
	if stored.TopicID != topic.ID {
		t.Errorf("Expected stored story in topic %s, got %s", topic.ID, stored.TopicID)
	}
}

func TestProcessJoinsTopic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	var calls [][]llm.StoryInput
	engine := NewEngine(s, mergedSummarizer(&calls), Options{Now: fixedClock()})

	first := newStory("first", []float64{1, 0, 0}, baseTime.Add(-2*time.Hour))
	created, err := engine.Process(ctx, first)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	second := newStory("second", []float64{1, 0.05, 0}, baseTime)
	joined, err := engine.Process(ctx, second)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if joined.Outcome != OutcomeJoinedTopic {
		t.Fatalf("Expected %s, got %s", OutcomeJoinedTopic, joined.Outcome)
	}
	if joined.TopicID != created.TopicID {
		t.Errorf("Expected topic %s, got %s", created.TopicID, joined.TopicID)
	}

	if len(calls) != 1 {
		t.Fatalf("Expected one summarization call, got %d", len(calls))
	}
	if len(calls[0]) != 2 || calls[0][0].Headline != "second" || calls[0][1].Headline != "first" {
		t.Errorf("Expected stories most recent first, got %+v", calls[0])
	}

	topic, err := s.Topics().Get(ctx, joined.TopicID)
	if err != nil {
		t.Fatalf("Failed to get topic: %v", err)
	}
	if topic.Source != core.TopicSourceMultiple {
		t.Errorf("Expected source multiple, got %s", topic.Source)
	}
	if len(topic.Stories) != 2 || topic.Stories[0] != first.ID || topic.Stories[1] != second.ID {
		t.Errorf("Expected members [%s %s], got %v", first.ID, second.ID, topic.Stories)
	}
	if topic.Summary.Title != "Merged event" {
		t.Errorf("Expected regenerated summary, got %q", topic.Summary.Title)
	}
	if !topic.Summary.Time.Equal(baseTime) {
		t.Errorf("Expected summary time of newest story %v, got %v", baseTime, topic.Summary.Time)
	}
	if len(topic.Summary.Categories) != 3 {
		t.Errorf("Expected category prefixes, got %v", topic.Summary.Categories)
	}
}

func TestProcessMergesDriftedTopics(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s1, t1 := seedTopic(t, s, "s1", []float64{1, 0.05, 0}, baseTime.Add(-3*time.Hour))
	s2, t2 := seedTopic(t, s, "s2", []float64{1, 0.2, 0}, baseTime.Add(-time.Hour))

	var calls [][]llm.StoryInput
	engine := NewEngine(s, mergedSummarizer(&calls), Options{Now: fixedClock()})

	story := newStory("new", []float64{1, 0, 0}, baseTime)
	result, err := engine.Process(ctx, story)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if result.TopicID != t1.ID {
		t.Fatalf("Expected highest scoring candidate's topic %s, got %s", t1.ID, result.TopicID)
	}
	if len(result.Reassigned) != 2 {
		t.Errorf("Expected 2 reassigned stories, got %v", result.Reassigned)
	}

	merged, err := s.Topics().Get(ctx, t1.ID)
	if err != nil {
		t.Fatalf("Failed to get topic: %v", err)
	}
	want := []string{s1.ID, s2.ID, story.ID}
	if len(merged.Stories) != len(want) {
		t.Fatalf("Expected members %v, got %v", want, merged.Stories)
	}
	for i := range want {
		if merged.Stories[i] != want[i] {
			t.Errorf("Member %d: expected %s, got %s", i, want[i], merged.Stories[i])
		}
	}

	moved, err := s.Stories().Get(ctx, s2.ID)
	if err != nil {
		t.Fatalf("Failed to get story: %v", err)
	}
	if moved.TopicID != t1.ID {
		t.Errorf("Expected s2 reassigned to %s, got %s", t1.ID, moved.TopicID)
	}

	orphan, err := s.Topics().Get(ctx, t2.ID)
	if err != nil {
		t.Fatalf("Expected emptied topic to remain: %v", err)
	}
	if len(orphan.Stories) != 0 {
		t.Errorf("Expected emptied topic to have no members, got %v", orphan.Stories)
	}

	if len(calls) != 1 || len(calls[0]) != 3 {
		t.Fatalf("Expected one call with 3 stories, got %v", calls)
	}
	if calls[0][0].Headline != "new" || calls[0][1].Headline != "s2" || calls[0][2].Headline != "s1" {
		t.Errorf("Expected recency order new, s2, s1, got %+v", calls[0])
	}
}

func TestProcessIgnoresUnclusteredCandidates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	loose := newStory("loose", []float64{1, 0, 0}, baseTime)
	if err := s.Stories().Create(ctx, loose); err != nil {
		t.Fatalf("Failed to create story: %v", err)
	}

	summarizer := &mockSummarizer{
		SummarizeStoriesFunc: func(ctx context.Context, stories []llm.StoryInput) (*core.ArticleSummary, error) {
			t.Error("SummarizeStories should not be called")
			return nil, errors.New("unexpected")
		},
	}
	engine := NewEngine(s, summarizer, Options{})

	result, err := engine.Process(ctx, newStory("next", []float64{1, 0, 0}, baseTime))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if result.Outcome != OutcomeNewTopic {
		t.Errorf("Expected %s, got %s", OutcomeNewTopic, result.Outcome)
	}
}

func TestProcessBelowThreshold(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedTopic(t, s, "other", []float64{0, 1, 0}, baseTime)

	engine := NewEngine(s, &mockSummarizer{}, Options{})
	result, err := engine.Process(ctx, newStory("unrelated", []float64{1, 0.3, 0}, baseTime))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if result.Outcome != OutcomeNewTopic {
		t.Errorf("Expected %s, got %s", OutcomeNewTopic, result.Outcome)
	}
}

func TestProcessSummarizeFailureKeepsReassignment(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, t1 := seedTopic(t, s, "s1", []float64{1, 0.05, 0}, baseTime)
	s2, t2 := seedTopic(t, s, "s2", []float64{1, 0.2, 0}, baseTime)

	summarizer := &mockSummarizer{
		SummarizeStoriesFunc: func(ctx context.Context, stories []llm.StoryInput) (*core.ArticleSummary, error) {
			return nil, llm.ErrTimeout
		},
	}
	engine := NewEngine(s, summarizer, Options{})

	story := newStory("new", []float64{1, 0, 0}, baseTime)
	if _, err := engine.Process(ctx, story); !errors.Is(err, llm.ErrTimeout) {
		t.Fatalf("Expected ErrTimeout, got %v", err)
	}

	exists, err := s.Stories().ExistsByHeadline(ctx, "new")
	if err != nil {
		t.Fatalf("ExistsByHeadline failed: %v", err)
	}
	if exists {
		t.Error("Expected abandoned story not to be stored")
	}

	moved, err := s.Stories().Get(ctx, s2.ID)
	if err != nil {
		t.Fatalf("Failed to get story: %v", err)
	}
	if moved.TopicID != t1.ID {
		t.Errorf("Expected reassignment to %s to persist, got %s", t1.ID, moved.TopicID)
	}

	old, err := s.Topics().Get(ctx, t2.ID)
	if err != nil {
		t.Fatalf("Failed to get topic: %v", err)
	}
	if old.HasStory(s2.ID) {
		t.Error("Expected s2 to have left its previous topic")
	}
}

func TestProcessStrictSummarizeFailureWritesNothing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedTopic(t, s, "s1", []float64{1, 0.05, 0}, baseTime)
	s2, t2 := seedTopic(t, s, "s2", []float64{1, 0.2, 0}, baseTime)

	summarizer := &mockSummarizer{
		SummarizeStoriesFunc: func(ctx context.Context, stories []llm.StoryInput) (*core.ArticleSummary, error) {
			return nil, errors.New("provider down")
		},
	}
	engine := NewEngine(s, summarizer, Options{Strict: true})

	if _, err := engine.Process(ctx, newStory("new", []float64{1, 0, 0}, baseTime)); err == nil {
		t.Fatal("Expected error")
	}

	unchanged, err := s.Stories().Get(ctx, s2.ID)
	if err != nil {
		t.Fatalf("Failed to get story: %v", err)
	}
	if unchanged.TopicID != t2.ID {
		t.Errorf("Expected s2 to stay in %s, got %s", t2.ID, unchanged.TopicID)
	}
}

func TestProcessStrictJoin(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s1, t1 := seedTopic(t, s, "s1", []float64{1, 0.05, 0}, baseTime)
	s2, _ := seedTopic(t, s, "s2", []float64{1, 0.2, 0}, baseTime)

	var calls [][]llm.StoryInput
	engine := NewEngine(s, mergedSummarizer(&calls), Options{Strict: true, Now: fixedClock()})

	story := newStory("new", []float64{1, 0, 0}, baseTime)
	result, err := engine.Process(ctx, story)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if result.Outcome != OutcomeJoinedTopic || result.TopicID != t1.ID {
		t.Fatalf("Expected join of %s, got %+v", t1.ID, result)
	}

	topic, err := s.Topics().Get(ctx, t1.ID)
	if err != nil {
		t.Fatalf("Failed to get topic: %v", err)
	}
	for _, id := range []string{s1.ID, s2.ID, story.ID} {
		if !topic.HasStory(id) {
			t.Errorf("Expected topic to contain %s, got %v", id, topic.Stories)
		}
	}
	if len(topic.Stories) != 3 {
		t.Errorf("Expected 3 members, got %v", topic.Stories)
	}
}

func TestProcessDuplicateLeavesNoTopic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	engine := NewEngine(s, &mockSummarizer{}, Options{})

	if _, err := engine.Process(ctx, newStory("dup", []float64{1, 0, 0}, baseTime)); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	again := newStory("dup", []float64{0, 0, 1}, baseTime)
	if _, err := engine.Process(ctx, again); err == nil {
		t.Fatal("Expected duplicate error")
	}
	if again.TopicID != "" {
		t.Errorf("Expected topic ID cleared on failure, got %s", again.TopicID)
	}

	stats, err := s.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if stats.TopicCount != 1 {
		t.Errorf("Expected 1 topic, got %d", stats.TopicCount)
	}
}

func TestProcessRequiresEmbedding(t *testing.T) {
	s := newTestStore(t)
	engine := NewEngine(s, &mockSummarizer{}, Options{})

	if _, err := engine.Process(context.Background(), newStory("bare", nil, baseTime)); err == nil {
		t.Error("Expected error for story without embedding")
	}
}

func TestDedupe(t *testing.T) {
	got := dedupe([]string{"a", "b", "a", "", "c", "b"})
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Index %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}
