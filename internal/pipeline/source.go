package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"newsdigest/internal/core"
	"newsdigest/internal/logger"
)

// JSONFileSource reads normalized article records from a JSON file.
// The file holds an array of {headline, source, link, published, text, html}.
type JSONFileSource struct {
	Path string
}

// NewJSONFileSource creates a source for the file at path
func NewJSONFileSource(path string) *JSONFileSource {
	return &JSONFileSource{Path: path}
}

func (s *JSONFileSource) Name() string { return "file:" + s.Path }

// Fetch returns the records of the file in file order. Records with markup
// but no text get their text extracted from the markup.
func (s *JSONFileSource) Fetch(ctx context.Context) ([]core.RawArticle, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read article file %s: %w", s.Path, err)
	}

	var records []core.RawArticle
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse article file %s: %w", s.Path, err)
	}

	articles := make([]core.RawArticle, 0, len(records))
	for _, r := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r.Headline = strings.TrimSpace(r.Headline)
		r.Link = strings.TrimSpace(r.Link)
		if r.Headline == "" || r.Link == "" {
			continue
		}
		if strings.TrimSpace(r.Text) == "" && r.HTML != "" {
			text, err := ExtractText(r.HTML)
			if err != nil {
				return nil, fmt.Errorf("failed to extract text for %s: %w", r.Link, err)
			}
			r.Text = text
		}
		articles = append(articles, r)
	}
	return articles, nil
}

// MultiSource concatenates several sources in order
type MultiSource []Source

func (m MultiSource) Name() string {
	names := make([]string, 0, len(m))
	for _, s := range m {
		names = append(names, s.Name())
	}
	return strings.Join(names, ",")
}

// Fetch returns the articles of every source, source by source.
// A failing source is skipped so one bad file does not stop the run.
func (m MultiSource) Fetch(ctx context.Context) ([]core.RawArticle, error) {
	var all []core.RawArticle
	var failed int
	for _, s := range m {
		articles, err := s.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			failed++
			logger.Error("Failed to fetch source", err, "source", s.Name())
			continue
		}
		all = append(all, articles...)
	}
	if failed > 0 && failed == len(m) {
		return nil, fmt.Errorf("all %d sources failed", failed)
	}
	return all, nil
}

var (
	blankLines = regexp.MustCompile(`\n\s*\n+`)
	spaces     = regexp.MustCompile(`[ \t]+`)
)

// ExtractText pulls the readable text out of an article page, dropping
// navigation and other boilerplate
func ExtractText(htmlContent string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlContent))
	if err != nil {
		return "", err
	}

	doc.Find("script, style, nav, footer, header, aside, form, iframe, noscript, .ad, .advertisement, .cookie-banner").Remove()

	root := doc.Selection
	for _, selector := range []string{"article", "main", "[role='main']", ".article-body", "#content"} {
		if sel := doc.Find(selector).First(); sel.Length() > 0 {
			root = sel
			break
		}
	}

	var sb strings.Builder
	root.Find("h1, h2, h3, p, li, blockquote").Each(func(_ int, item *goquery.Selection) {
		if text := strings.TrimSpace(item.Text()); text != "" {
			sb.WriteString(text)
			sb.WriteString("\n\n")
		}
	})

	text := sb.String()
	if strings.TrimSpace(text) == "" {
		text = root.Text()
	}
	text = spaces.ReplaceAllString(text, " ")
	text = blankLines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text), nil
}
