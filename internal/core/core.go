package core

import (
	"strings"
	"time"
)

// TopicSource records whether a topic was seeded by one story or merged from several.
type TopicSource string

const (
	TopicSourceSingle   TopicSource = "single"
	TopicSourceMultiple TopicSource = "multiple"
)

// RawArticle is the normalized record handed over by the source collaborators.
type RawArticle struct {
	Headline  string    `json:"headline"`  // Headline as published
	Source    string    `json:"source"`    // Source name (e.g., "NPR", "AP")
	Link      string    `json:"link"`      // Canonical URL
	Published time.Time `json:"published"` // Source timestamp, zero if unknown
	Text      string    `json:"text"`      // Plain article text
	HTML      string    `json:"html"`      // Raw markup, used when Text is empty
}

// ArticleSummary is the structured summary of one article or of a whole topic.
type ArticleSummary struct {
	Title      string    `json:"title"`      // Unbiased title derived from the content
	Summary    string    `json:"summary"`    // One paragraph summary
	Time       time.Time `json:"time"`       // Date and time of the story
	Importance int       `json:"importance"` // 1 (no importance) to 10 (global crisis)
	Keywords   []string  `json:"keywords"`   // Keywords and named entities
	Category   string    `json:"category"`   // Category path, e.g. "World/Europe/Politics"
	Language   string    `json:"language"`   // Language of the article
	Categories []string  `json:"categories"` // Category prefixes derived from Category
}

// Story is one ingested news item.
type Story struct {
	ID        string         `json:"id"`         // Unique identifier for the story
	Headline  string         `json:"headline"`   // Headline, unique among stories
	Source    string         `json:"source"`     // Source name
	Link      string         `json:"link"`       // Canonical URL, unique among stories
	Published time.Time      `json:"published"`  // Source timestamp (may be zero)
	Updated   time.Time      `json:"updated"`    // Timestamp used for windows and recency
	Embedding []float64      `json:"embedding"`  // Embedding of headline and summary
	Summary   ArticleSummary `json:"summary"`    // Structured summary
	TopicID   string         `json:"topic_id"`   // Owning topic, empty until clustered
	RunStart  time.Time      `json:"run_start"`  // Start of the run that ingested it
	CreatedAt time.Time      `json:"created_at"` // Insertion time
}

// EmbeddingText is the text the story embedding is computed from.
func (s Story) EmbeddingText() string {
	return s.Headline + "\n\n" + s.Summary.Summary
}

// Topic is a cluster of stories presumed to concern the same event.
type Topic struct {
	ID        string         `json:"id"`         // Unique identifier for the topic
	Stories   []string       `json:"stories"`    // Member story IDs in discovery order
	Summary   ArticleSummary `json:"summary"`    // Aggregate summary, regenerated on every join
	Updated   time.Time      `json:"updated"`    // Refreshed on every membership change
	Source    TopicSource    `json:"source"`     // single or multiple
	ShortName string         `json:"short_name"` // Cached 2-5 word label, empty until generated
}

// HasStory reports whether id is already a member of the topic.
func (t Topic) HasStory(id string) bool {
	for _, s := range t.Stories {
		if s == id {
			return true
		}
	}
	return false
}

// Keyword is a distinct keyword with its own embedding.
type Keyword struct {
	ID        string    `json:"id"`         // Unique identifier for the keyword
	Text      string    `json:"keyword"`    // Keyword text, unique
	Embedding []float64 `json:"embedding"`  // Generated once, never recomputed
	CreatedAt time.Time `json:"created_at"` // Insertion time
}

// DailyDigest is one generated daily summary. Digests are append-only.
type DailyDigest struct {
	ID             string    `json:"id"`               // Unique identifier for the digest
	Date           time.Time `json:"date"`             // Generation time
	Title          string    `json:"title"`            // Digest title
	OverallSummary string    `json:"overall_summary"`  // Sanitized HTML body
	TopKeywords    []string  `json:"top_keywords"`     // 5-7 top keywords
	KeyStoryTitles []string  `json:"key_story_titles"` // 3-5 key headlines
	Sentiment      string    `json:"sentiment"`        // Overall sentiment label
}

// CategoryPrefixes expands a category path into its prefixes:
// "A/B/C" becomes ["A", "A/B", "A/B/C"].
func CategoryPrefixes(category string) []string {
	var prefixes []string
	var current string
	for _, part := range strings.Split(category, "/") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if current != "" {
			current += "/"
		}
		current += part
		prefixes = append(prefixes, current)
	}
	return prefixes
}
