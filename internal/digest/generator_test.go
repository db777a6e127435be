package digest

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"

	"newsdigest/internal/core"
	"newsdigest/internal/llm"
	"newsdigest/internal/persistence"
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

var now = time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.NewStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// seedStory stores a story, in its own topic when topicID is set
func seedStory(t *testing.T, s *store.Store, headline, topicID, shortName string, updated time.Time) {
	t.Helper()
	ctx := context.Background()

	story := &core.Story{
		Headline: headline,
		Link:     "https://example.com/" + strings.ReplaceAll(headline, " ", "-"),
		Updated:  updated,
		TopicID:  topicID,
		Summary:  core.ArticleSummary{Title: headline, Summary: "About " + headline},
	}
	if err := s.Stories().Create(ctx, story); err != nil {
		t.Fatalf("Failed to seed story: %v", err)
	}
	if topicID == "" {
		return
	}
	topic := &core.Topic{
		ID:        topicID,
		Stories:   []string{story.ID},
		Summary:   core.ArticleSummary{Title: "Topic " + headline, Summary: "Topic about " + headline},
		Updated:   updated,
		Source:    core.TopicSourceSingle,
		ShortName: shortName,
	}
	if err := s.Topics().Create(ctx, topic); err != nil {
		t.Fatalf("Failed to seed topic: %v", err)
	}
}

func fixedDraft(body string) func(ctx context.Context, stories []llm.DigestInput) (*llm.DigestDraft, error) {
	return func(ctx context.Context, stories []llm.DigestInput) (*llm.DigestDraft, error) {
		return &llm.DigestDraft{
			Body:         body,
			TopKeywords:  []string{"talks", "vote"},
			KeyHeadlines: []string{"Talks resume"},
		}, nil
	}
}

func TestGenerateEmptyWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedStory(t, s, "old news", "", "", now.Add(-48*time.Hour))

	summarizer := &mockSummarizer{
		GenerateDailyDigestFunc: func(ctx context.Context, stories []llm.DigestInput) (*llm.DigestDraft, error) {
			t.Error("GenerateDailyDigest should not be called")
			return nil, nil
		},
	}

	digest, err := NewGenerator(s, summarizer, Options{Now: clock}).Generate(ctx)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if digest != nil {
		t.Errorf("Expected no digest, got %+v", digest)
	}
	if _, err := Latest(ctx, s); !errors.Is(err, persistence.ErrNotFound) {
		t.Errorf("Expected no stored digest, got %v", err)
	}
}

func TestGenerateWithLinks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedStory(t, s, "talks resume", "topic-foo", "Foo Talks", now.Add(-time.Hour))
	seedStory(t, s, "vote passes", "topic-bar", "", now.Add(-2*time.Hour))
	seedStory(t, s, "last week", "", "", now.Add(-30*time.Hour))

	var digestInputs []llm.DigestInput
	var generated []string
	var linkable []llm.LinkableTopic

	summarizer := &mockSummarizer{
		GenerateDailyDigestFunc: func(ctx context.Context, stories []llm.DigestInput) (*llm.DigestDraft, error) {
			digestInputs = stories
			return &llm.DigestDraft{
				Title:        "Tuesday",
				Body:         "Talks resumed today.\n\nA vote passed & more.",
				TopKeywords:  []string{"talks"},
				KeyHeadlines: []string{"Talks resume"},
				Sentiment:    "Mixed",
			}, nil
		},
		GenerateShortNameFunc: func(ctx context.Context, title, summary string) (string, error) {
			generated = append(generated, title)
			return "Bar Vote", nil
		},
		InsertLinkMarkersFunc: func(ctx context.Context, body string, topics []llm.LinkableTopic) (string, error) {
			linkable = topics
			return "==>link_start Foo Talks<==Talks resumed==>link_end<== today.\n\n" +
				"A ==>link_start Bar Vote<==vote passed==>link_end<== & ==>link_start Baz<==more==>link_end<==.", nil
		},
	}

	digest, err := NewGenerator(s, summarizer, Options{Now: clock}).Generate(ctx)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if digest == nil {
		t.Fatal("Expected a digest")
	}

	if len(digestInputs) != 2 || digestInputs[0].Headline != "talks resume" || digestInputs[1].Headline != "vote passes" {
		t.Errorf("Expected window stories newest first, got %+v", digestInputs)
	}
	if len(generated) != 1 || generated[0] != "Topic vote passes" {
		t.Errorf("Expected one short name generated for the uncached topic, got %v", generated)
	}
	if len(linkable) != 2 || linkable[0].ShortName != "Foo Talks" || linkable[1].ShortName != "Bar Vote" {
		t.Errorf("Unexpected linkable topics: %+v", linkable)
	}

	cached, err := s.Topics().Get(ctx, "topic-bar")
	if err != nil {
		t.Fatalf("Failed to get topic: %v", err)
	}
	if cached.ShortName != "Bar Vote" {
		t.Errorf("Expected short name cached, got %q", cached.ShortName)
	}

	if !digest.Date.Equal(now) {
		t.Errorf("Expected date %v, got %v", now, digest.Date)
	}
	if digest.Title != "Tuesday" || digest.Sentiment != "Mixed" {
		t.Errorf("Unexpected title/sentiment: %q %q", digest.Title, digest.Sentiment)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(digest.OverallSummary))
	if err != nil {
		t.Fatalf("Failed to parse body: %v", err)
	}
	if n := doc.Find("p").Length(); n != 2 {
		t.Errorf("Expected 2 paragraphs, got %d in %s", n, digest.OverallSummary)
	}
	links := doc.Find("a")
	if links.Length() != 2 {
		t.Fatalf("Expected 2 links, got %d in %s", links.Length(), digest.OverallSummary)
	}
	if href, _ := links.Eq(0).Attr("href"); href != "/topic/topic-foo" {
		t.Errorf("Expected /topic/topic-foo, got %s", href)
	}
	if href, _ := links.Eq(1).Attr("href"); href != "/topic/topic-bar" {
		t.Errorf("Expected /topic/topic-bar, got %s", href)
	}
	if !strings.Contains(digest.OverallSummary, "&amp; more.") {
		t.Errorf("Expected unknown short name to degrade to escaped text, got %s", digest.OverallSummary)
	}

	latest, err := Latest(ctx, s)
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if latest.ID != digest.ID || latest.OverallSummary != digest.OverallSummary {
		t.Errorf("Expected stored digest %s, got %+v", digest.ID, latest)
	}
}

func TestGenerateWithoutTopicsSkipsMarkers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedStory(t, s, "loose story", "", "", now.Add(-time.Hour))

	summarizer := &mockSummarizer{
		GenerateDailyDigestFunc: fixedDraft("First <b>para</b>.\n\nSecond para."),
		InsertLinkMarkersFunc: func(ctx context.Context, body string, topics []llm.LinkableTopic) (string, error) {
			t.Error("InsertLinkMarkers should not be called")
			return body, nil
		},
	}

	digest, err := NewGenerator(s, summarizer, Options{Now: clock}).Generate(ctx)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	want := "<p>First &lt;b&gt;para&lt;/b&gt;.</p>\n<p>Second para.</p>"
	if digest.OverallSummary != want {
		t.Errorf("Expected %q, got %q", want, digest.OverallSummary)
	}
	if digest.Title != defaultTitle || digest.Sentiment != defaultSentiment {
		t.Errorf("Expected defaults, got %q %q", digest.Title, digest.Sentiment)
	}
}

func TestGenerateEmptyBody(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedStory(t, s, "some story", "", "", now.Add(-time.Hour))

	summarizer := &mockSummarizer{GenerateDailyDigestFunc: fixedDraft("  ")}

	if _, err := NewGenerator(s, summarizer, Options{Now: clock}).Generate(ctx); !errors.Is(err, ErrEmptyDigest) {
		t.Fatalf("Expected ErrEmptyDigest, got %v", err)
	}
	if _, err := Latest(ctx, s); !errors.Is(err, persistence.ErrNotFound) {
		t.Errorf("Expected nothing stored, got %v", err)
	}
}

func TestGenerateGatewayFailureStoresNothing(t *testing.T) {
	tests := []struct {
		name       string
		summarizer *mockSummarizer
	}{
		{
			name: "digest text",
			summarizer: &mockSummarizer{
				GenerateDailyDigestFunc: func(ctx context.Context, stories []llm.DigestInput) (*llm.DigestDraft, error) {
					return nil, llm.ErrTimeout
				},
			},
		},
		{
			name: "short name",
			summarizer: &mockSummarizer{
				GenerateDailyDigestFunc: fixedDraft("Body."),
				GenerateShortNameFunc: func(ctx context.Context, title, summary string) (string, error) {
					return "", llm.ErrMalformedResponse
				},
			},
		},
		{
			name: "link markers",
			summarizer: &mockSummarizer{
				GenerateDailyDigestFunc: fixedDraft("Body."),
				GenerateShortNameFunc: func(ctx context.Context, title, summary string) (string, error) {
					return "Name", nil
				},
				InsertLinkMarkersFunc: func(ctx context.Context, body string, topics []llm.LinkableTopic) (string, error) {
					return "", llm.ErrEmptyResponse
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t)
			ctx := context.Background()
			seedStory(t, s, "clustered", "topic-1", "", now.Add(-time.Hour))

			if _, err := NewGenerator(s, tt.summarizer, Options{Now: clock}).Generate(ctx); err == nil {
				t.Fatal("Expected error")
			}
			if _, err := Latest(ctx, s); !errors.Is(err, persistence.ErrNotFound) {
				t.Errorf("Expected nothing stored, got %v", err)
			}
		})
	}
}

func TestGenerateDuplicateShortNames(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedStory(t, s, "first", "topic-1", "", now.Add(-time.Hour))
	seedStory(t, s, "second", "topic-2", "", now.Add(-2*time.Hour))

	var linkable []llm.LinkableTopic
	summarizer := &mockSummarizer{
		GenerateDailyDigestFunc: fixedDraft("Body."),
		GenerateShortNameFunc: func(ctx context.Context, title, summary string) (string, error) {
			return "Same Name", nil
		},
		InsertLinkMarkersFunc: func(ctx context.Context, body string, topics []llm.LinkableTopic) (string, error) {
			linkable = topics
			return "==>link_start Same Name<==Body==>link_end<==.", nil
		},
	}

	digest, err := NewGenerator(s, summarizer, Options{Now: clock}).Generate(ctx)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(linkable) != 1 || linkable[0].Title != "Topic first" {
		t.Errorf("Expected only the first topic to keep the name, got %+v", linkable)
	}
	if !strings.Contains(digest.OverallSummary, `<a href="/topic/topic-1">Body</a>`) {
		t.Errorf("Expected link to topic-1, got %s", digest.OverallSummary)
	}
}

func TestGenerateSkipsEmptyShortName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedStory(t, s, "story", "topic-1", "", now.Add(-time.Hour))

	summarizer := &mockSummarizer{
		GenerateDailyDigestFunc: fixedDraft("Body."),
		GenerateShortNameFunc: func(ctx context.Context, title, summary string) (string, error) {
			return " ", nil
		},
		InsertLinkMarkersFunc: func(ctx context.Context, body string, topics []llm.LinkableTopic) (string, error) {
			t.Error("InsertLinkMarkers should not be called")
			return body, nil
		},
	}

	digest, err := NewGenerator(s, summarizer, Options{Now: clock}).Generate(ctx)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if digest.OverallSummary != "<p>Body.</p>" {
		t.Errorf("Unexpected body %q", digest.OverallSummary)
	}
}
