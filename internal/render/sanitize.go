package render

import (
	"github.com/microcosm-cc/bluemonday"
)

// Sanitizer restricts digest HTML to paragraphs and topic links
type Sanitizer struct {
	policy *bluemonday.Policy
}

// NewSanitizer creates the digest body policy
func NewSanitizer() *Sanitizer {
	p := bluemonday.NewPolicy()
	p.AllowElements("p")
	p.AllowAttrs("href").OnElements("a")
	p.AllowRelativeURLs(true)
	p.AllowURLSchemes("http", "https")
	p.RequireParseableURLs(true)
	return &Sanitizer{policy: p}
}

// Sanitize strips everything outside the policy
func (s *Sanitizer) Sanitize(body string) string {
	return s.policy.Sanitize(body)
}
