// Package mutate renders the product box fragment and inserts it into page
// content idempotently.
package mutate

import (
	"fmt"
	"html"
	"net/url"
	"strings"

	"github.com/pagelift/monetizer/internal/monetize"
)

// Structural markers identifying a generated fragment. The comments delimit
// the full span for replacement; the class marks the element itself.
const (
	BoxClass      = "mz-product-box"
	fragmentStart = "<!-- mz-product-box:start -->"
	fragmentEnd   = "<!-- mz-product-box:end -->"
)

// BuildFragment renders a product candidate as the embeddable product box.
// affiliateTag is appended to the outbound marketplace link.
func BuildFragment(p monetize.ProductCandidate, affiliateTag string) string {
	var sb strings.Builder
	sb.WriteString(fragmentStart)
	sb.WriteString("\n")
	fmt.Fprintf(&sb, `<div class="%s"`, BoxClass)
	if p.ASIN != "" {
		fmt.Fprintf(&sb, ` data-asin=%q`, p.ASIN)
	}
	sb.WriteString(">\n")

	if p.ImageURL != "" {
		fmt.Fprintf(&sb, `<img class="mz-product-image" src=%q alt=%q loading="lazy">`,
			p.ImageURL, p.Title)
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, `<p class="mz-product-title"><a href=%q rel="sponsored nofollow" target="_blank">%s</a></p>`,
		outboundLink(p, affiliateTag), html.EscapeString(p.Title))
	sb.WriteString("\n")

	if p.Price != "" {
		fmt.Fprintf(&sb, `<p class="mz-product-price">%s</p>`, html.EscapeString(p.Price))
		sb.WriteString("\n")
	}
	if p.Rating > 0 {
		fmt.Fprintf(&sb, `<p class="mz-product-rating">%.1f / 5</p>`, p.Rating)
		sb.WriteString("\n")
	}
	if p.PrimeShipping {
		sb.WriteString(`<p class="mz-product-prime">Prime shipping</p>` + "\n")
	}
	if p.Verdict != "" {
		fmt.Fprintf(&sb, `<p class="mz-product-verdict">%s</p>`, html.EscapeString(p.Verdict))
		sb.WriteString("\n")
	}
	writeList(&sb, "mz-product-pros", p.Pros)
	writeList(&sb, "mz-product-cons", p.Cons)

	fmt.Fprintf(&sb, `<p class="mz-product-cta"><a href=%q rel="sponsored nofollow" target="_blank">View on Amazon</a></p>`,
		outboundLink(p, affiliateTag))
	sb.WriteString("\n</div>\n")
	sb.WriteString(fragmentEnd)
	return sb.String()
}

func writeList(sb *strings.Builder, class string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(sb, `<ul class="%s">`, class)
	for _, it := range items {
		fmt.Fprintf(sb, "<li>%s</li>", html.EscapeString(it))
	}
	sb.WriteString("</ul>\n")
}

func outboundLink(p monetize.ProductCandidate, tag string) string {
	if p.ASIN != "" {
		link := "https://www.amazon.com/dp/" + p.ASIN
		if tag != "" {
			link += "?tag=" + url.QueryEscape(tag)
		}
		return link
	}
	link := "https://www.amazon.com/s?k=" + url.QueryEscape(p.Title)
	if tag != "" {
		link += "&tag=" + url.QueryEscape(tag)
	}
	return link
}
