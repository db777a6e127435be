package llm

import (
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"
)

const journalistSystemPrompt = `You are an expert journalist capable of analyzing news stories in depth.
Always answer with a single JSON object and no other text.`

const editorSystemPrompt = `You are the editor of a daily news briefing. You write clear, neutral prose
and always answer with a single JSON object and no other text.`

// request is one structured completion handed to a provider
type request struct {
	Op     string
	System string
	Prompt string
	Schema *genai.Schema
}

func summaryFieldsPrompt() string {
	return `{
  "title": "the story's title based on the content, unbiased, without spin or clickbait",
  "summary": "one paragraph summary of the story. Do not preface it with 'this story discusses' or any other introduction",
  "time": "the date and time of the story in RFC 3339 format",
  "importance": "integer from 1 to 10. 10 is an immediate life-threatening or global crisis like war, pandemics or climate disasters. 1 is a story of no importance to anyone",
  "keywords": ["keywords for this story. If a company is mentioned, include the company name as a keyword"],
  "category": "the news category as a path, for example World/Europe/Politics",
  "language": "the language the story is written in, for example English"
}`
}

func summarySchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"title":      {Type: genai.TypeString, Description: "Unbiased title without spin or clickbait"},
			"summary":    {Type: genai.TypeString, Description: "One paragraph summary with no introduction"},
			"time":       {Type: genai.TypeString, Description: "Date and time of the story in RFC 3339 format"},
			"importance": {Type: genai.TypeInteger, Description: "Importance from 1 (none) to 10 (global crisis)"},
			"keywords":   {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
			"category":   {Type: genai.TypeString, Description: "Category path such as World/Europe/Politics"},
			"language":   {Type: genai.TypeString, Description: "Language of the story"},
		},
		Required: []string{"title", "summary", "importance", "keywords", "category", "language"},
	}
}

func buildArticlePrompt(text string) request {
	return request{
		Op:     "summarize_article",
		System: journalistSystemPrompt,
		Prompt: fmt.Sprintf(`Analyze the following news story and return information about it as JSON with these fields:

%s

The story follows:
%s`, summaryFieldsPrompt(), text),
		Schema: summarySchema(),
	}
}

func buildStoriesPrompt(stories []StoryInput) request {
	var sb strings.Builder
	for i, s := range stories {
		fmt.Fprintf(&sb, "%d. Headline: %s\nTime: %s\nSummary: %s\n\n", i+1, s.Headline, formatPromptTime(s.Time), s.Summary)
	}

	return request{
		Op:     "summarize_stories",
		System: journalistSystemPrompt,
		Prompt: fmt.Sprintf(`The following stories, most recent first, all report on the same ongoing event.
Write one combined analysis of the event as JSON with these fields:

%s

The stories follow:
%s`, summaryFieldsPrompt(), sb.String()),
		Schema: summarySchema(),
	}
}

func digestSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"title":         {Type: genai.TypeString, Description: "Title of the daily summary"},
			"body":          {Type: genai.TypeString, Description: "Digest text, paragraphs separated by a blank line"},
			"top_keywords":  {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}, Description: "5 to 7 top keywords of the day"},
			"key_headlines": {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}, Description: "3 to 5 key headlines of the day"},
			"sentiment":     {Type: genai.TypeString, Description: "Overall sentiment: Positive, Negative, Neutral or Mixed"},
		},
		Required: []string{"title", "body", "top_keywords", "key_headlines", "sentiment"},
	}
}

func buildDigestPrompt(stories []DigestInput) request {
	var sb strings.Builder
	for i, s := range stories {
		fmt.Fprintf(&sb, "%d. Headline: %s\nSummary: %s\n\n", i+1, s.Headline, s.SummaryText)
	}

	return request{
		Op:     "generate_daily_digest",
		System: editorSystemPrompt,
		Prompt: fmt.Sprintf(`Write today's news summary from the stories of the last 24 hours below.
Group related stories, lead with the most important events and keep a neutral tone.
Return JSON with these fields:

{
  "title": "title of the daily summary",
  "body": "plain text only, several paragraphs separated by a blank line (\n\n)",
  "top_keywords": ["5 to 7 top keywords of the day"],
  "key_headlines": ["3 to 5 key headlines of the day"],
  "sentiment": "overall sentiment: Positive, Negative, Neutral or Mixed"
}

The stories follow:
%s`, sb.String()),
		Schema: digestSchema(),
	}
}

func buildShortNamePrompt(title, summary string) request {
	return request{
		Op:     "generate_short_name",
		System: editorSystemPrompt,
		Prompt: fmt.Sprintf(`Give the following news topic a short name of 2 to 5 words.
The name must be distinctive enough to pick this topic out of a day's news,
for example "Gaza Ceasefire Talks" rather than "Middle East".
Return JSON: {"short_name": "..."}

Title: %s
Summary: %s`, title, summary),
		Schema: &genai.Schema{
			Type:       genai.TypeObject,
			Properties: map[string]*genai.Schema{"short_name": {Type: genai.TypeString}},
			Required:   []string{"short_name"},
		},
	}
}

func buildLinkMarkerPrompt(body string, topics []LinkableTopic) request {
	var sb strings.Builder
	for _, t := range topics {
		fmt.Fprintf(&sb, "- Short name: %s\n  Title: %s\n  Summary: %s\n", t.ShortName, t.Title, t.Summary)
	}

	return request{
		Op:     "insert_link_markers",
		System: editorSystemPrompt,
		Prompt: fmt.Sprintf(`Below is a news summary and a list of topics, each with a short name.
Where a short phrase of the summary refers to one of the topics, wrap that phrase like this:
==>link_start SHORT NAME<==phrase==>link_end<==
Use the short name exactly as listed. Link each topic at most once. Do not change any other
text and keep the blank lines between paragraphs.
Return JSON: {"text": "the annotated summary"}

Topics:
%s
Summary:
%s`, sb.String(), body),
		Schema: &genai.Schema{
			Type:       genai.TypeObject,
			Properties: map[string]*genai.Schema{"text": {Type: genai.TypeString}},
			Required:   []string{"text"},
		},
	}
}

func formatPromptTime(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return t.UTC().Format(time.RFC3339)
}
