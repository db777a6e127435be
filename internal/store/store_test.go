package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"newsdigest/internal/core"
	"newsdigest/internal/persistence"
	"newsdigest/internal/vectorstore"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestNewStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	store, err := NewStore(filepath.Join(dir, "newsdigest.db"))
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	defer func() { _ = store.Close() }()

	if _, err := os.Stat(store.Path()); os.IsNotExist(err) {
		t.Error("Database file should be created")
	}
	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestNewStore_InvalidDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	invalidPath := filepath.Join(tmpDir, "file.txt")
	_ = os.WriteFile(invalidPath, []byte("test"), 0644)

	_, err := NewStore(filepath.Join(invalidPath, "newsdigest.db"))
	if err == nil {
		t.Error("Expected error when creating store under a regular file")
	}
}

func TestStoryCreateAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	published := time.Date(2024, 5, 1, 8, 30, 0, 0, time.FixedZone("EST", -5*3600))
	story := &core.Story{
		Headline:  "Central bank raises rates",
		Source:    "AP",
		Link:      "https://example.com/rates",
		Published: published,
		Updated:   published,
		Embedding: []float64{0.1, 0.2, 0.3},
		Summary: core.ArticleSummary{
			Title:      "Rates rise",
			Summary:    "The central bank raised rates.",
			Keywords:   []string{"rates", "central bank"},
			Category:   "Business/Economy",
			Categories: []string{"Business", "Business/Economy"},
			Importance: 7,
		},
	}

	if err := store.Stories().Create(ctx, story); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if story.ID == "" {
		t.Fatal("Create should assign an ID")
	}

	got, err := store.Stories().Get(ctx, story.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Headline != story.Headline || got.Link != story.Link || got.Source != "AP" {
		t.Errorf("Unexpected story: %+v", got)
	}
	if !got.Published.Equal(published) || got.Published.Location() != time.UTC {
		t.Errorf("Expected published %v in UTC, got %v", published, got.Published)
	}
	if len(got.Embedding) != 3 || got.Embedding[2] != 0.3 {
		t.Errorf("Unexpected embedding: %v", got.Embedding)
	}
	if got.Summary.Importance != 7 || len(got.Summary.Categories) != 2 {
		t.Errorf("Summary not round-tripped: %+v", got.Summary)
	}
	if got.TopicID != "" {
		t.Errorf("Expected no topic, got %s", got.TopicID)
	}

	if _, err := store.Stories().Get(ctx, "missing"); !errors.Is(err, persistence.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestStoryDuplicates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := &core.Story{Headline: "Same headline", Link: "https://a", Updated: time.Now()}
	if err := store.Stories().Create(ctx, first); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	byHeadline := &core.Story{Headline: "Same headline", Link: "https://b", Updated: time.Now()}
	if err := store.Stories().Create(ctx, byHeadline); !errors.Is(err, persistence.ErrDuplicate) {
		t.Errorf("Expected ErrDuplicate for headline, got %v", err)
	}

	byLink := &core.Story{Headline: "Other headline", Link: "https://a", Updated: time.Now()}
	if err := store.Stories().Create(ctx, byLink); !errors.Is(err, persistence.ErrDuplicate) {
		t.Errorf("Expected ErrDuplicate for link, got %v", err)
	}

	exists, err := store.Stories().ExistsByHeadline(ctx, "Same headline")
	if err != nil || !exists {
		t.Errorf("ExistsByHeadline = %v, %v", exists, err)
	}
	exists, err = store.Stories().ExistsByLink(ctx, "https://nowhere")
	if err != nil || exists {
		t.Errorf("ExistsByLink = %v, %v", exists, err)
	}
}

func TestStoryWindowQueries(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	stories := []*core.Story{
		{Headline: "old", Link: "https://old", Updated: now.Add(-48 * time.Hour)},
		{Headline: "recent", Link: "https://recent", Updated: now.Add(-2 * time.Hour)},
		{Headline: "newest", Link: "https://newest", Updated: now.Add(-time.Minute)},
	}
	for _, s := range stories {
		if err := store.Stories().Create(ctx, s); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	window, err := store.Stories().ListUpdatedSince(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("ListUpdatedSince failed: %v", err)
	}
	if len(window) != 2 || window[0].Headline != "newest" || window[1].Headline != "recent" {
		t.Errorf("Unexpected window: %+v", window)
	}

	boundary, err := store.Stories().ListUpdatedSince(ctx, stories[1].Updated)
	if err != nil {
		t.Fatalf("ListUpdatedSince failed: %v", err)
	}
	if len(boundary) != 2 {
		t.Errorf("Window start should be inclusive, got %d stories", len(boundary))
	}

	after, err := store.Stories().ListUpdatedAfter(ctx, stories[1].Updated)
	if err != nil {
		t.Fatalf("ListUpdatedAfter failed: %v", err)
	}
	if len(after) != 1 || after[0].Headline != "newest" {
		t.Errorf("Unexpected stories after: %+v", after)
	}

	if err := store.Stories().UpdateTimestamp(ctx, stories[0].ID, now); err != nil {
		t.Fatalf("UpdateTimestamp failed: %v", err)
	}
	window, _ = store.Stories().ListUpdatedSince(ctx, now.Add(-24*time.Hour))
	if len(window) != 3 || window[0].ID != stories[0].ID {
		t.Errorf("Expected corrected story first in window, got %+v", window)
	}

	if err := store.Stories().UpdateTimestamp(ctx, "missing", now); !errors.Is(err, persistence.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestStoryMissingEmbedding(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	with := &core.Story{Headline: "with", Link: "https://with", Updated: time.Now(), Embedding: []float64{1, 0}}
	without := &core.Story{Headline: "without", Link: "https://without", Updated: time.Now()}
	for _, s := range []*core.Story{with, without} {
		if err := store.Stories().Create(ctx, s); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	missing, err := store.Stories().ListMissingEmbedding(ctx, 10)
	if err != nil {
		t.Fatalf("ListMissingEmbedding failed: %v", err)
	}
	if len(missing) != 1 || missing[0].ID != without.ID {
		t.Fatalf("Unexpected missing: %+v", missing)
	}

	if err := store.Stories().UpdateEmbedding(ctx, without.ID, []float64{0, 1}); err != nil {
		t.Fatalf("UpdateEmbedding failed: %v", err)
	}
	missing, _ = store.Stories().ListMissingEmbedding(ctx, 10)
	if len(missing) != 0 {
		t.Errorf("Expected no missing embeddings, got %d", len(missing))
	}
}

func TestStoryNearest(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	stories := []*core.Story{
		{Headline: "exact", Link: "https://1", Updated: time.Now(), Embedding: []float64{1, 0}, TopicID: "t1"},
		{Headline: "close", Link: "https://2", Updated: time.Now(), Embedding: []float64{0.9, 0.1}},
		{Headline: "exact twin", Link: "https://3", Updated: time.Now(), Embedding: []float64{2, 0}},
		{Headline: "far", Link: "https://4", Updated: time.Now(), Embedding: []float64{0, 1}},
		{Headline: "none", Link: "https://5", Updated: time.Now()},
	}
	for _, s := range stories {
		if err := store.Stories().Create(ctx, s); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	results, err := store.Stories().Nearest(ctx, vectorstore.SearchQuery{Embedding: []float64{1, 0}, CandidatePool: 3})
	if err != nil {
		t.Fatalf("Nearest failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("Expected pool of 3, got %d", len(results))
	}
	if results[0].ID != stories[0].ID || results[1].ID != stories[2].ID || results[2].ID != stories[1].ID {
		t.Errorf("Unexpected order: %+v", results)
	}
	if results[0].TopicID != "t1" || results[0].Text != "exact" {
		t.Errorf("Unexpected first result: %+v", results[0])
	}

	excluded, err := store.Stories().Nearest(ctx, vectorstore.SearchQuery{
		Embedding:  []float64{1, 0},
		ExcludeIDs: []string{stories[0].ID, stories[2].ID},
	})
	if err != nil {
		t.Fatalf("Nearest failed: %v", err)
	}
	for _, r := range excluded {
		if r.ID == stories[0].ID || r.ID == stories[2].ID {
			t.Errorf("Excluded story %s returned", r.ID)
		}
	}
	if len(excluded) != 2 {
		t.Errorf("Expected 2 results with embeddings, got %d", len(excluded))
	}

	searcher := vectorstore.NewSearcher(store.Stories())
	similar, err := searcher.FindSimilar(ctx, []float64{1, 0}, 0.9, stories[0].ID)
	if err != nil {
		t.Fatalf("FindSimilar failed: %v", err)
	}
	if len(similar) != 2 || similar[0].ID != stories[2].ID {
		t.Errorf("Unexpected similar stories: %+v", similar)
	}
}

func TestTopicMembershipIsExclusive(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := &core.Topic{Summary: core.ArticleSummary{Title: "first"}, Updated: time.Now(), Source: core.TopicSourceSingle, Stories: []string{"s1", "s2"}}
	second := &core.Topic{Summary: core.ArticleSummary{Title: "second"}, Updated: time.Now(), Source: core.TopicSourceSingle, Stories: []string{"s3"}}
	for _, topic := range []*core.Topic{first, second} {
		if err := store.Topics().Create(ctx, topic); err != nil {
			t.Fatalf("Create topic failed: %v", err)
		}
	}

	if err := store.Topics().AddMembers(ctx, second.ID, []string{"s1", "s3", "s4"}); err != nil {
		t.Fatalf("AddMembers failed: %v", err)
	}

	gotFirst, err := store.Topics().Get(ctx, first.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(gotFirst.Stories) != 1 || gotFirst.Stories[0] != "s2" {
		t.Errorf("Expected s1 to leave the first topic, got %v", gotFirst.Stories)
	}

	gotSecond, err := store.Topics().Get(ctx, second.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	want := []string{"s3", "s1", "s4"}
	if len(gotSecond.Stories) != len(want) {
		t.Fatalf("Expected %v, got %v", want, gotSecond.Stories)
	}
	for i := range want {
		if gotSecond.Stories[i] != want[i] {
			t.Errorf("Position %d: expected %s, got %s", i, want[i], gotSecond.Stories[i])
		}
	}
}

func TestTopicUpdateAndShortName(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	topic := &core.Topic{Summary: core.ArticleSummary{Title: "Storm"}, Updated: time.Now().Add(-time.Hour), Source: core.TopicSourceSingle, Stories: []string{"s1"}}
	if err := store.Topics().Create(ctx, topic); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := store.Topics().SetShortName(ctx, topic.ID, "Coastal Storm"); err != nil {
		t.Fatalf("SetShortName failed: %v", err)
	}

	topic.Summary.Title = "Storm hits coast"
	topic.Source = core.TopicSourceMultiple
	topic.Updated = time.Now()
	topic.Stories = []string{"s1", "s2"}
	if err := store.Topics().Update(ctx, topic); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	got, err := store.Topics().Get(ctx, topic.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Summary.Title != "Storm hits coast" || got.Source != core.TopicSourceMultiple {
		t.Errorf("Update not applied: %+v", got)
	}
	if got.ShortName != "Coastal Storm" {
		t.Errorf("Update with empty short name must keep the cached one, got %q", got.ShortName)
	}
	if len(got.Stories) != 2 {
		t.Errorf("Expected 2 members, got %v", got.Stories)
	}

	if _, err := store.Topics().Get(ctx, "missing"); !errors.Is(err, persistence.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if err := store.Topics().SetShortName(ctx, "missing", "x"); !errors.Is(err, persistence.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestKeywords(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	kw := &core.Keyword{Text: "inflation", Embedding: []float64{1, 0}}
	if err := store.Keywords().Create(ctx, kw); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := store.Keywords().Create(ctx, &core.Keyword{Text: "inflation"}); !errors.Is(err, persistence.ErrDuplicate) {
		t.Errorf("Expected ErrDuplicate, got %v", err)
	}
	if err := store.Keywords().Create(ctx, &core.Keyword{Text: "prices", Embedding: []float64{0.8, 0.2}}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	exists, err := store.Keywords().Exists(ctx, "inflation")
	if err != nil || !exists {
		t.Errorf("Exists = %v, %v", exists, err)
	}

	got, err := store.Keywords().GetByText(ctx, "inflation")
	if err != nil {
		t.Fatalf("GetByText failed: %v", err)
	}
	if got.ID != kw.ID || len(got.Embedding) != 2 {
		t.Errorf("Unexpected keyword: %+v", got)
	}

	results, err := store.Keywords().Nearest(ctx, vectorstore.SearchQuery{Embedding: got.Embedding, ExcludeIDs: []string{got.ID}})
	if err != nil {
		t.Fatalf("Nearest failed: %v", err)
	}
	if len(results) != 1 || results[0].Text != "prices" {
		t.Errorf("Unexpected keyword results: %+v", results)
	}
}

func TestDigests(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	older := &core.DailyDigest{Date: time.Now().Add(-24 * time.Hour), Title: "Yesterday", OverallSummary: "<p>old</p>", Sentiment: "Neutral"}
	newer := &core.DailyDigest{Date: time.Now(), Title: "Today", OverallSummary: "<p>new</p>", TopKeywords: []string{"a"}, KeyStoryTitles: []string{"b"}, Sentiment: "Positive"}
	for _, d := range []*core.DailyDigest{older, newer} {
		if err := store.Digests().Create(ctx, d); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	latest, err := store.Digests().GetLatest(ctx, 1)
	if err != nil {
		t.Fatalf("GetLatest failed: %v", err)
	}
	if len(latest) != 1 || latest[0].Title != "Today" || latest[0].TopKeywords[0] != "a" {
		t.Errorf("Unexpected latest digest: %+v", latest)
	}

	all, _ := store.Digests().GetLatest(ctx, 10)
	if len(all) != 2 {
		t.Errorf("Digests must be append-only, got %d", len(all))
	}
	if all[1].TopKeywords == nil || len(all[1].TopKeywords) != 0 {
		t.Errorf("Expected empty keyword list, got %v", all[1].TopKeywords)
	}
}

func TestTransactionRollback(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tx, err := store.BeginTx(ctx)
	if err != nil {
		t.Fatalf("BeginTx failed: %v", err)
	}
	story := &core.Story{Headline: "tx story", Link: "https://tx", Updated: time.Now()}
	if err := tx.Stories().Create(ctx, story); err != nil {
		t.Fatalf("Create in tx failed: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}

	if _, err := store.Stories().Get(ctx, story.ID); !errors.Is(err, persistence.ErrNotFound) {
		t.Errorf("Rolled back story should not exist, got %v", err)
	}

	tx, err = store.BeginTx(ctx)
	if err != nil {
		t.Fatalf("BeginTx failed: %v", err)
	}
	if err := tx.Stories().Create(ctx, story); err != nil {
		t.Fatalf("Create in tx failed: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if _, err := store.Stories().Get(ctx, story.ID); err != nil {
		t.Errorf("Committed story should exist, got %v", err)
	}
}

func TestGetStats(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Stories().Create(ctx, &core.Story{Headline: "h", Link: "l", Updated: time.Now()}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	stats, err := store.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if stats.StoryCount != 1 || stats.TopicCount != 0 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
	if stats.FileSize == 0 {
		t.Error("Expected non-zero file size")
	}
}
