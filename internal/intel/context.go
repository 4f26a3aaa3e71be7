package intel

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
)

// DefaultContextLen bounds the page text handed to the completion prompt.
const DefaultContextLen = 8000

// BuildContext reduces page HTML to a bounded plain-text excerpt. Readability
// extracts the article body; when it produces nothing useful the boilerplate
// elements are stripped with goquery instead.
func BuildContext(html string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = DefaultContextLen
	}

	text := ""
	if article, err := readability.FromReader(strings.NewReader(html), nil); err == nil {
		text = strings.TrimSpace(article.TextContent)
	}
	if len(text) < 200 {
		text = stripBoilerplate(html)
	}

	text = collapseWhitespace(text)
	if len(text) > maxLen {
		text = text[:maxLen]
	}
	return text
}

func stripBoilerplate(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return html
	}
	doc.Find("script, style, nav, header, footer, aside, form, noscript").Remove()
	body := doc.Find("body")
	if body.Length() == 0 {
		return strings.TrimSpace(doc.Text())
	}
	return strings.TrimSpace(body.Text())
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Headings returns the page's h2/h3 text in document order. The prompt offers
// them as context_heading candidates so the chosen heading matches one the
// context-aware insertion strategy can actually find in the content.
func Headings(html string) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}
	var out []string
	doc.Find("h2, h3").Each(func(_ int, s *goquery.Selection) {
		if t := strings.TrimSpace(s.Text()); t != "" {
			out = append(out, t)
		}
	})
	return out
}
