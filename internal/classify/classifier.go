// Package classify implements the zero-cost heuristic page triage.
package classify

import (
	"strings"
	"unicode"

	"github.com/pagelift/monetizer/internal/monetize"
)

// minSubstantialContent is the HTML length above which a non-commercial page
// is still considered worth a closer look during deep scan.
const minSubstantialContent = 3000

var reviewPhrases = []string{"review", " vs ", "hands-on", "guide", "buying"}

var listiclePhrases = []string{"best", "top ", "list"}

// Result is the triage outcome for one page.
type Result struct {
	Priority     monetize.Priority
	ContentType  monetize.ContentType
	Monetization monetize.MonetizationStatus
}

// Classify triages a page from its title alone (phase 1) or from title plus
// fetched HTML (phase 2). It is a pure function: no side effects, safe to
// call repeatedly.
func Classify(title, html string) Result {
	ct := contentTypeFromTitle(title)
	if html == "" {
		return phase1(ct)
	}
	return phase2(ct, html)
}

func phase1(ct monetize.ContentType) Result {
	r := Result{
		ContentType:  ct,
		Priority:     monetize.PriorityLow,
		Monetization: monetize.StatusOpportunity,
	}
	if ct.Commercial() {
		r.Priority = monetize.PriorityHigh
	}
	return r
}

func phase2(ct monetize.ContentType, html string) Result {
	marked := monetize.HasAffiliateMarkers(html)
	r := Result{
		ContentType:  ct,
		Monetization: monetize.StatusOpportunity,
	}
	if marked {
		r.Monetization = monetize.StatusMonetized
	}
	switch {
	case ct.Commercial() && !marked:
		// Commercial intent with no affiliate links is a revenue leak.
		r.Priority = monetize.PriorityCritical
	case ct.Commercial() && marked:
		r.Priority = monetize.PriorityMedium
	case !marked && len(html) > minSubstantialContent:
		r.Priority = monetize.PriorityHigh
	default:
		r.Priority = monetize.PriorityLow
	}
	return r
}

func contentTypeFromTitle(title string) monetize.ContentType {
	t := strings.ToLower(strings.TrimSpace(title))
	if t == "" {
		return monetize.ContentUnknown
	}
	if leadingNumeral(t) || containsAny(t, listiclePhrases) {
		return monetize.ContentListicle
	}
	if containsAny(t, reviewPhrases) {
		return monetize.ContentReview
	}
	return monetize.ContentInfo
}

func leadingNumeral(t string) bool {
	for _, r := range t {
		if unicode.IsSpace(r) {
			continue
		}
		return unicode.IsDigit(r)
	}
	return false
}

func containsAny(t string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(t, p) {
			return true
		}
	}
	return false
}
