package mutate

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// Strategy selects where the fragment lands in the content.
type Strategy string

// Insertion strategies.
const (
	StrategyTop          Strategy = "top"
	StrategyBottom       Strategy = "bottom"
	StrategySmartMiddle  Strategy = "smart_middle"
	StrategyAfterHeading Strategy = "after_heading"
	StrategyContextMatch Strategy = "context_match"
)

// ParseStrategy validates a configured strategy name; empty selects
// smart_middle.
func ParseStrategy(s string) (Strategy, error) {
	if s == "" {
		return StrategySmartMiddle, nil
	}
	switch Strategy(s) {
	case StrategyTop, StrategyBottom, StrategySmartMiddle, StrategyAfterHeading, StrategyContextMatch:
		return Strategy(s), nil
	default:
		return "", fmt.Errorf("unknown insertion strategy %q", s)
	}
}

var (
	existingFragment = regexp.MustCompile(
		`(?s)\s*(?:<!--\s*wp:html\s*-->\s*)?<!--\s*mz-product-box:start\s*-->.*?<!--\s*mz-product-box:end\s*-->(?:\s*<!--\s*/wp:html\s*-->)?\s*`)
	blockClose     = regexp.MustCompile(`<!--\s*/wp:[a-z0-9/_-]+\s*-->`)
	paragraphClose = regexp.MustCompile(`(?i)</p>`)
	headingElement = regexp.MustCompile(`(?is)<h[1-6][^>]*>(.*?)</h[1-6]>`)
	subheadClose   = regexp.MustCompile(`(?i)</h[2-6]>`)
	wpHeadingClose = regexp.MustCompile(`<!--\s*/wp:heading\s*-->`)
	wpBlockStart   = "<!-- wp:"
	innerTags      = regexp.MustCompile(`<[^>]+>`)
)

// Insert places the fragment into content at the strategy's position. Any
// previously inserted fragment is stripped first, so repeated calls always
// leave exactly one fragment reflecting the latest input. Content with no
// recognizable boundaries gets the fragment appended.
func Insert(content, fragment string, strategy Strategy, contextSnippet string) string {
	content = strings.TrimSpace(existingFragment.ReplaceAllString(content, "\n\n"))

	chunk := fragment
	blockDialect := strings.Contains(content, wpBlockStart)
	if blockDialect {
		chunk = "<!-- wp:html -->\n" + fragment + "\n<!-- /wp:html -->"
	}

	boundaries := boundaryEnds(content, blockDialect)
	if len(boundaries) == 0 {
		return appendChunk(content, chunk)
	}

	switch strategy {
	case StrategyTop:
		return insertAt(content, boundaries[0], chunk)
	case StrategyBottom:
		return appendChunk(content, chunk)
	case StrategySmartMiddle:
		return insertAt(content, boundaries[len(boundaries)/2], chunk)
	case StrategyAfterHeading:
		if pos, ok := firstSubheadingEnd(content, blockDialect); ok {
			return insertAt(content, pos, chunk)
		}
		return insertAt(content, boundaries[0], chunk)
	case StrategyContextMatch:
		if pos, ok := matchingHeadingEnd(content, contextSnippet, blockDialect); ok {
			return insertAt(content, pos, chunk)
		}
		return appendChunk(content, chunk)
	default:
		return appendChunk(content, chunk)
	}
}

// boundaryEnds returns the offsets just past each structural boundary: block
// closing comments in the block dialect, paragraph closes otherwise.
func boundaryEnds(content string, blockDialect bool) []int {
	re := paragraphClose
	if blockDialect {
		re = blockClose
	}
	matches := re.FindAllStringIndex(content, -1)
	out := make([]int, 0, len(matches))
	for _, m := range matches {
		out = append(out, m[1])
	}
	return out
}

func insertAt(content string, pos int, chunk string) string {
	return content[:pos] + "\n\n" + chunk + "\n\n" + strings.TrimLeft(content[pos:], "\n")
}

func appendChunk(content, chunk string) string {
	if content == "" {
		return chunk
	}
	return content + "\n\n" + chunk
}

// firstSubheadingEnd locates the end of the first subheading, advancing past
// the heading block's closing comment in the block dialect.
func firstSubheadingEnd(content string, blockDialect bool) (int, bool) {
	m := subheadClose.FindStringIndex(content)
	if m == nil {
		return 0, false
	}
	return advancePastHeadingBlock(content, m[1], blockDialect), true
}

// matchingHeadingEnd finds the heading whose text contains the normalized
// context snippet and returns the position just after it.
func matchingHeadingEnd(content, snippet string, blockDialect bool) (int, bool) {
	want := normalizeHeadingText(snippet)
	if len(want) > 30 {
		want = strings.TrimSpace(want[:30])
	}
	if want == "" {
		return 0, false
	}
	for _, m := range headingElement.FindAllStringSubmatchIndex(content, -1) {
		text := normalizeHeadingText(content[m[2]:m[3]])
		if strings.Contains(text, want) {
			return advancePastHeadingBlock(content, m[1], blockDialect), true
		}
	}
	return 0, false
}

func advancePastHeadingBlock(content string, end int, blockDialect bool) int {
	if !blockDialect {
		return end
	}
	rest := content[end:]
	if m := wpHeadingClose.FindStringIndex(rest); m != nil && strings.TrimSpace(rest[:m[0]]) == "" {
		return end + m[1]
	}
	return end
}

// normalizeHeadingText lowercases, strips tags and punctuation, and collapses
// whitespace so snippet matching survives formatting differences.
func normalizeHeadingText(s string) string {
	s = innerTags.ReplaceAllString(s, " ")
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
