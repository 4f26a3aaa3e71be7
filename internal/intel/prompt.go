package intel

import (
	"fmt"
	"strings"
)

// AnalyzeOptions steers a single analysis call.
type AnalyzeOptions struct {
	// ManualASIN is an operator-supplied identifier, treated as ground truth.
	ManualASIN string
	// ManualImage overrides every other image source.
	ManualImage string
	// DeepScan asks for every distinct product on the page instead of one.
	DeepScan bool
	// FallbackImage is used when neither manual, identifier-derived, nor
	// model-supplied images exist.
	FallbackImage string
}

const productSchema = `{"asin":"","title":"","price":"","image_url":"","rating":0,"prime_shipping":false,"verdict":"","pros":[],"cons":[],"specs":{},"confidence":0}`

// buildPrompt constructs the extraction instruction. The shape depends on the
// situation: a known identifier is authoritative and only needs current facts;
// no identifier means the model must find the best match; deep scan wants the
// full product list.
func buildPrompt(title, pageContext string, headings []string, asin string, deepScan bool) string {
	var sb strings.Builder
	sb.WriteString("You extract Amazon product data for an affiliate product box.\n")

	switch {
	case deepScan:
		sb.WriteString("List EVERY distinct product discussed in the article below. ")
		sb.WriteString("Respond with a JSON array where each element follows this schema:\n")
		sb.WriteString(productSchema)
		sb.WriteString("\nOrder the array by prominence in the article.\n")
	case asin != "":
		fmt.Fprintf(&sb, "The product is Amazon ASIN %s. This identifier is ground truth; ", asin)
		sb.WriteString("do not substitute another product. Resolve its current title and price. ")
		sb.WriteString("Respond with a single JSON object following this schema:\n")
		sb.WriteString(productSchema)
		sb.WriteString("\n")
	default:
		sb.WriteString("Identify the single product this article most strongly recommends ")
		sb.WriteString("and find its Amazon listing. ")
		sb.WriteString("Respond with a single JSON object following this schema:\n")
		sb.WriteString(productSchema)
		sb.WriteString("\n")
	}

	sb.WriteString("Set confidence to your 0-100 certainty in the match. ")
	if len(headings) > 0 {
		sb.WriteString("Set context_heading to whichever of these article headings is nearest the product mention:\n")
		for _, h := range headings {
			fmt.Fprintf(&sb, "- %s\n", h)
		}
	} else {
		sb.WriteString("Set context_heading to the article heading nearest the product mention, if any. ")
	}
	sb.WriteString("Respond with JSON only, no commentary.\n\n")
	fmt.Fprintf(&sb, "Article title: %s\n\nArticle text:\n%s\n", title, pageContext)
	return sb.String()
}
