package monetize

import "regexp"

// Affiliate marker patterns recognized in page HTML. A match means the page
// already carries a monetized outbound link and is not a revenue leak.
var affiliateMarkers = []*regexp.Regexp{
	regexp.MustCompile(`(?i)amzn\.to/`),
	regexp.MustCompile(`(?i)amazon\.[a-z.]{2,10}/[^"'\s]*[?&]tag=[a-z0-9_-]+`),
	regexp.MustCompile(`(?i)[?&]tag=[a-z0-9_-]+-2[01]\b`),
	regexp.MustCompile(`(?i)shareasale\.com/r\.cfm`),
	regexp.MustCompile(`(?i)awin1\.com/cread\.php`),
	regexp.MustCompile(`(?i)go\.(skimresources|redirectingat)\.com`),
	regexp.MustCompile(`(?i)rel=["'][^"']*sponsored`),
	regexp.MustCompile(`(?i)class=["'][^"']*\baffiliate-link\b`),
}

// asinPattern matches a marketplace identifier embedded in HTML, either in a
// product URL (/dp/<asin>) or as a data attribute on a generated fragment.
var asinPattern = regexp.MustCompile(`(?i)(?:/dp/|/gp/product/|data-asin=["'])([A-Z0-9]{10})`)

// HasAffiliateMarkers reports whether html contains a recognized affiliate
// link or tag marker.
func HasAffiliateMarkers(html string) bool {
	for _, re := range affiliateMarkers {
		if re.MatchString(html) {
			return true
		}
	}
	return false
}

// DetectASIN returns the first marketplace identifier found in html, or "".
func DetectASIN(html string) string {
	m := asinPattern.FindStringSubmatch(html)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}
