package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"newsdigest/internal/core"
)

// completer runs one structured completion and returns the raw model text
type completer interface {
	complete(ctx context.Context, req request) (string, error)
	provider() string
}

// Gateway implements Summarizer on top of a provider completer.
// Prompting and response validation are shared by every provider.
type Gateway struct {
	c completer
}

var _ Summarizer = (*Gateway)(nil)

func newGateway(c completer) *Gateway {
	return &Gateway{c: c}
}

// Provider returns the name of the backing provider
func (g *Gateway) Provider() string { return g.c.provider() }

func (g *Gateway) SummarizeArticle(ctx context.Context, text string) (*core.ArticleSummary, error) {
	if strings.TrimSpace(text) == "" {
		return nil, gatewayError(g.c.provider(), "summarize_article", fmt.Errorf("article has no content to summarize"))
	}
	return g.summary(ctx, buildArticlePrompt(text))
}

func (g *Gateway) SummarizeStories(ctx context.Context, stories []StoryInput) (*core.ArticleSummary, error) {
	if len(stories) == 0 {
		return nil, gatewayError(g.c.provider(), "summarize_stories", fmt.Errorf("no stories to summarize"))
	}
	return g.summary(ctx, buildStoriesPrompt(stories))
}

func (g *Gateway) GenerateDailyDigest(ctx context.Context, stories []DigestInput) (*DigestDraft, error) {
	req := buildDigestPrompt(stories)
	raw, err := g.c.complete(ctx, req)
	if err != nil {
		return nil, gatewayError(g.c.provider(), req.Op, err)
	}

	draft, err := parseDigestDraft(raw)
	if err != nil {
		return nil, gatewayError(g.c.provider(), req.Op, err)
	}
	return draft, nil
}

func (g *Gateway) GenerateShortName(ctx context.Context, title, summary string) (string, error) {
	req := buildShortNamePrompt(title, summary)
	raw, err := g.c.complete(ctx, req)
	if err != nil {
		return "", gatewayError(g.c.provider(), req.Op, err)
	}

	var parsed struct {
		ShortName string `json:"short_name"`
	}
	if err := decodeJSON(raw, &parsed); err != nil {
		return "", gatewayError(g.c.provider(), req.Op, err)
	}
	return normalizeShortName(parsed.ShortName), nil
}

func (g *Gateway) InsertLinkMarkers(ctx context.Context, body string, topics []LinkableTopic) (string, error) {
	if len(topics) == 0 {
		return body, nil
	}

	req := buildLinkMarkerPrompt(body, topics)
	raw, err := g.c.complete(ctx, req)
	if err != nil {
		return "", gatewayError(g.c.provider(), req.Op, err)
	}

	var parsed struct {
		Text string `json:"text"`
	}
	if err := decodeJSON(raw, &parsed); err != nil {
		return "", gatewayError(g.c.provider(), req.Op, err)
	}
	if strings.TrimSpace(parsed.Text) == "" {
		return "", gatewayError(g.c.provider(), req.Op, ErrEmptyResponse)
	}
	return parsed.Text, nil
}

func (g *Gateway) summary(ctx context.Context, req request) (*core.ArticleSummary, error) {
	raw, err := g.c.complete(ctx, req)
	if err != nil {
		return nil, gatewayError(g.c.provider(), req.Op, err)
	}

	summary, err := parseArticleSummary(raw)
	if err != nil {
		return nil, gatewayError(g.c.provider(), req.Op, err)
	}
	return summary, nil
}

// rawSummary accepts the loosely typed fields models tend to return
type rawSummary struct {
	Title      string      `json:"title"`
	Summary    string      `json:"summary"`
	Time       string      `json:"time"`
	Importance json.Number `json:"importance"`
	Keywords   []string    `json:"keywords"`
	Category   string      `json:"category"`
	Language   string      `json:"language"`
}

func parseArticleSummary(raw string) (*core.ArticleSummary, error) {
	var parsed rawSummary
	if err := decodeJSON(raw, &parsed); err != nil {
		return nil, err
	}

	if strings.TrimSpace(parsed.Title) == "" {
		return nil, fmt.Errorf("%w: summary has no title", ErrMalformedResponse)
	}
	if strings.TrimSpace(parsed.Summary) == "" {
		return nil, fmt.Errorf("%w: summary has no summary text", ErrMalformedResponse)
	}

	importance, err := parseImportance(parsed.Importance)
	if err != nil {
		return nil, err
	}

	var keywords []string
	for _, k := range parsed.Keywords {
		if k = strings.TrimSpace(k); k != "" {
			keywords = append(keywords, k)
		}
	}

	return &core.ArticleSummary{
		Title:      strings.TrimSpace(parsed.Title),
		Summary:    strings.TrimSpace(parsed.Summary),
		Time:       parseStoryTime(parsed.Time),
		Importance: importance,
		Keywords:   keywords,
		Category:   strings.TrimSpace(parsed.Category),
		Language:   strings.TrimSpace(parsed.Language),
	}, nil
}

func parseDigestDraft(raw string) (*DigestDraft, error) {
	var draft DigestDraft
	if err := decodeJSON(raw, &draft); err != nil {
		return nil, err
	}
	draft.Title = strings.TrimSpace(draft.Title)
	draft.Sentiment = strings.TrimSpace(draft.Sentiment)
	draft.Body = strings.TrimSpace(draft.Body)
	return &draft, nil
}

// parseImportance clamps the score into 1..10
func parseImportance(n json.Number) (int, error) {
	if n == "" {
		return 1, nil
	}
	f, err := n.Float64()
	if err != nil {
		return 0, fmt.Errorf("%w: importance %q is not a number", ErrMalformedResponse, n)
	}
	i := int(f + 0.5)
	if i < 1 {
		i = 1
	}
	if i > 10 {
		i = 10
	}
	return i, nil
}

var storyTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
	"January 2, 2006",
}

// parseStoryTime returns the zero time when the model gave no usable date
func parseStoryTime(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range storyTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func normalizeShortName(name string) string {
	name = strings.Trim(strings.TrimSpace(name), `"'.`)
	return strings.Join(strings.Fields(name), " ")
}

func decodeJSON(raw string, v any) error {
	content := cleanJSONResponse(raw)
	if content == "" {
		return ErrEmptyResponse
	}
	dec := json.NewDecoder(strings.NewReader(content))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v, content: %s", ErrMalformedResponse, err, truncate(content, 200))
	}
	return nil
}

// cleanJSONResponse strips code fences and prose around the JSON object
func cleanJSONResponse(content string) string {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start >= 0 && end > start {
		content = content[start : end+1]
	}
	return content
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
