package render

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"newsdigest/internal/core"
)

// DigestMarkdown converts a stored digest into a markdown document.
// Topic links are made absolute against baseURL when one is given.
func DigestMarkdown(digest core.DailyDigest, baseURL string) (string, error) {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# %s - %s\n\n", digest.Title, digest.Date.UTC().Format("2006-01-02"))

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(digest.OverallSummary))
	if err != nil {
		return "", fmt.Errorf("failed to parse digest body: %w", err)
	}

	doc.Find("p").Each(func(_ int, p *goquery.Selection) {
		var para strings.Builder
		p.Contents().Each(func(_ int, node *goquery.Selection) {
			if goquery.NodeName(node) == "a" {
				href, _ := node.Attr("href")
				if baseURL != "" && strings.HasPrefix(href, "/") {
					href = strings.TrimSuffix(baseURL, "/") + href
				}
				fmt.Fprintf(&para, "[%s](%s)", node.Text(), href)
				return
			}
			para.WriteString(node.Text())
		})
		if text := strings.TrimSpace(para.String()); text != "" {
			sb.WriteString(text + "\n\n")
		}
	})

	if len(digest.KeyStoryTitles) > 0 {
		sb.WriteString("## Key Stories\n\n")
		for _, title := range digest.KeyStoryTitles {
			sb.WriteString("- " + title + "\n")
		}
		sb.WriteString("\n")
	}

	if len(digest.TopKeywords) > 0 {
		fmt.Fprintf(&sb, "**Keywords:** %s\n\n", strings.Join(digest.TopKeywords, ", "))
	}
	if digest.Sentiment != "" {
		fmt.Fprintf(&sb, "**Sentiment:** %s\n", digest.Sentiment)
	}

	return sb.String(), nil
}

// WriteDigestFile writes the markdown form of digest into outputDir
func WriteDigestFile(digest core.DailyDigest, outputDir, baseURL string) (string, error) {
	if outputDir == "" {
		outputDir = "digests"
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory %s: %w", outputDir, err)
	}

	content, err := DigestMarkdown(digest, baseURL)
	if err != nil {
		return "", err
	}

	filePath := filepath.Join(outputDir, fmt.Sprintf("digest_%s.md", digest.Date.UTC().Format("2006-01-02_150405")))
	if err := os.WriteFile(filePath, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("failed to write digest file %s: %w", filePath, err)
	}

	return filePath, nil
}
