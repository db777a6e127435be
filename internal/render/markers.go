// Package render turns marker-annotated digest text into safe HTML.
package render

import (
	"html"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
)

// TopicPathPrefix is the canonical detail path of a topic
const TopicPathPrefix = "/topic/"

var (
	paragraphSplit = regexp.MustCompile(`\n\s*\n`)
	markerSpan     = regexp.MustCompile(`(?s)==>link_start\s+(.+?)<==(.*?)==>link_end<==`)
	orphanMarker   = regexp.MustCompile(`==>link_start\s+[^<\n]*<==|==>link_end<==|==>link_start`)
	spaceRun       = regexp.MustCompile(` {2,}`)
	charRef        = regexp.MustCompile(`&(?:#[0-9]+|#[xX][0-9a-fA-F]+|[A-Za-z][A-Za-z0-9]*);`)
)

// Chunk is one piece of a paragraph: either a TextChunk or a LinkChunk
type Chunk interface {
	chunk()
}

// TextChunk is plain text outside any marker span
type TextChunk struct {
	Text string
}

// LinkChunk is a marker span naming a topic by short name
type LinkChunk struct {
	ShortName string
	Label     string
}

func (TextChunk) chunk() {}
func (LinkChunk) chunk() {}

// Paragraphs splits text on blank lines, dropping empty paragraphs
func Paragraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var out []string
	for _, p := range paragraphSplit.Split(text, -1) {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out
}

// Segment splits a paragraph into text and link chunks in order
func Segment(paragraph string) []Chunk {
	var chunks []Chunk
	last := 0
	for _, m := range markerSpan.FindAllStringSubmatchIndex(paragraph, -1) {
		if m[0] > last {
			chunks = append(chunks, TextChunk{Text: paragraph[last:m[0]]})
		}
		chunks = append(chunks, LinkChunk{
			ShortName: strings.TrimSpace(paragraph[m[2]:m[3]]),
			Label:     paragraph[m[4]:m[5]],
		})
		last = m[1]
	}
	if last < len(paragraph) {
		chunks = append(chunks, TextChunk{Text: paragraph[last:]})
	}
	return chunks
}

// Resolver renders chunks against a short name to topic ID mapping
type Resolver struct {
	exact  map[string]string
	folded map[string]string
	caser  cases.Caser
}

// NewResolver builds a resolver. Lookups try the exact short name first,
// then a case-insensitive match.
func NewResolver(shortNameToTopicID map[string]string) *Resolver {
	r := &Resolver{
		exact:  make(map[string]string, len(shortNameToTopicID)),
		folded: make(map[string]string, len(shortNameToTopicID)),
		caser:  cases.Fold(),
	}
	for name, id := range shortNameToTopicID {
		name = strings.TrimSpace(name)
		if name == "" || id == "" {
			continue
		}
		r.exact[name] = id
		key := r.caser.String(name)
		if _, taken := r.folded[key]; !taken {
			r.folded[key] = id
		}
	}
	return r
}

// Lookup returns the topic ID for a short name
func (r *Resolver) Lookup(name string) (string, bool) {
	name = strings.TrimSpace(name)
	if id, ok := r.exact[name]; ok {
		return id, true
	}
	id, ok := r.folded[r.caser.String(name)]
	return id, ok
}

// Resolve converts marker-annotated text into paragraph HTML
func (r *Resolver) Resolve(text string) string {
	var paragraphs []string
	for _, p := range Paragraphs(text) {
		if rendered := r.renderParagraph(p); rendered != "" {
			paragraphs = append(paragraphs, "<p>"+rendered+"</p>")
		}
	}
	return strings.Join(paragraphs, "\n")
}

func (r *Resolver) renderParagraph(paragraph string) string {
	var sb strings.Builder
	for _, c := range Segment(paragraph) {
		switch c := c.(type) {
		case TextChunk:
			sb.WriteString(escapeOnce(orphanMarker.ReplaceAllString(c.Text, "")))
		case LinkChunk:
			sb.WriteString(r.renderLink(c))
		}
	}

	return strings.TrimSpace(spaceRun.ReplaceAllString(sb.String(), " "))
}

func (r *Resolver) renderLink(c LinkChunk) string {
	label := strings.TrimSpace(orphanMarker.ReplaceAllString(c.Label, ""))
	if label == "" {
		return ""
	}
	id, ok := r.Lookup(c.ShortName)
	if !ok {
		return escapeOnce(label)
	}
	href := TopicPathPrefix + html.EscapeString(url.PathEscape(id))
	return `<a href="` + href + `">` + escapeOnce(label) + `</a>`
}

// CountMarkers returns the number of complete marker spans in text
func CountMarkers(text string) int {
	return len(markerSpan.FindAllStringIndex(text, -1))
}

// Resolve converts marker-annotated text into paragraph HTML using mapping
func Resolve(text string, shortNameToTopicID map[string]string) string {
	return NewResolver(shortNameToTopicID).Resolve(text)
}

// escapeOnce escapes s, keeping complete character references such as
// "&lt;" or "&#39;". A bare "&deg" or "&not" is ordinary text and gets escaped.
func escapeOnce(s string) string {
	var sb strings.Builder
	last := 0
	for _, loc := range charRef.FindAllStringIndex(s, -1) {
		sb.WriteString(html.EscapeString(s[last:loc[0]]))
		sb.WriteString(s[loc[0]:loc[1]])
		last = loc[1]
	}
	sb.WriteString(html.EscapeString(s[last:]))
	return sb.String()
}
