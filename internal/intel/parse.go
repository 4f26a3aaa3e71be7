package intel

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pagelift/monetizer/internal/monetize"
)

// ErrNoJSON means the model response contained no balanced JSON value.
var ErrNoJSON = errors.New("no json value in model response")

// PlaceholderImage is the last-resort product image.
const PlaceholderImage = "https://via.placeholder.com/250?text=Product"

// stripFences removes a wrapping markdown code fence, with or without a
// language tag, leaving other text intact.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		// Drop the language tag line ("json", "JSON", ...).
		first := strings.TrimSpace(s[:i])
		if len(first) <= 10 && !strings.ContainsAny(first, "{}[]") {
			s = s[i+1:]
		}
	}
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// firstBalancedJSON extracts the first balanced {...} or [...] span,
// respecting string literals and escapes.
func firstBalancedJSON(s string) (string, error) {
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return "", ErrNoJSON
	}
	open := s[start]
	var close byte = '}'
	if open == '[' {
		close = ']'
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == open:
			depth++
		case c == close:
			depth--
			if depth == 0 {
				return s[start : i+1], nil
			}
		}
	}
	return "", ErrNoJSON
}

// parseSingle maps a model response to one candidate plus its confidence.
func parseSingle(response string, defaultConfidence int) (monetize.ProductCandidate, int, error) {
	raw, err := firstBalancedJSON(stripFences(response))
	if err != nil {
		return monetize.ProductCandidate{}, 0, err
	}
	var fields map[string]any
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return monetize.ProductCandidate{}, 0, fmt.Errorf("%w: %v", ErrNoJSON, err)
	}
	c, conf := mapCandidate(fields, defaultConfidence)
	c.Structured = json.RawMessage(raw)
	return c, conf, nil
}

// parseMulti maps a deep-scan response to an ordered candidate list. The
// confidence returned is the first element's.
func parseMulti(response string, defaultConfidence int) ([]monetize.ProductCandidate, int, error) {
	raw, err := firstBalancedJSON(stripFences(response))
	if err != nil {
		return nil, 0, err
	}
	if strings.HasPrefix(raw, "{") {
		// A single object in deep-scan mode still counts as one product.
		c, conf, err := parseSingle(raw, defaultConfidence)
		if err != nil {
			return nil, 0, err
		}
		return []monetize.ProductCandidate{c}, conf, nil
	}
	var items []map[string]any
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrNoJSON, err)
	}

	out := make([]monetize.ProductCandidate, 0, len(items))
	firstConf := defaultConfidence
	for _, fields := range items {
		c, conf := mapCandidate(fields, defaultConfidence)
		if c.Empty() {
			continue
		}
		// Confidence follows the first kept candidate, not array position;
		// leading empty elements must not pin it to the default.
		if len(out) == 0 {
			firstConf = conf
		}
		out = append(out, c)
	}
	return out, firstConf, nil
}

// mapCandidate maps loose model output defensively: missing or mistyped
// fields become zero values, never a failure.
func mapCandidate(fields map[string]any, defaultConfidence int) (monetize.ProductCandidate, int) {
	c := monetize.ProductCandidate{
		ASIN:           asString(fields, "asin", "identifier", "id"),
		Title:          asString(fields, "title", "name", "product_title"),
		Price:          asString(fields, "price"),
		ImageURL:       asString(fields, "image_url", "image"),
		Rating:         asFloat(fields, "rating"),
		PrimeShipping:  asBool(fields, "prime_shipping", "prime"),
		Verdict:        asString(fields, "verdict", "summary"),
		Pros:           asStringSlice(fields, "pros"),
		Cons:           asStringSlice(fields, "cons"),
		Specs:          asStringMap(fields, "specs"),
		ContextHeading: asString(fields, "context_heading", "heading"),
	}
	conf := int(asFloat(fields, "confidence"))
	if conf <= 0 {
		conf = defaultConfidence
	}
	if conf > 100 {
		conf = 100
	}
	return c, conf
}

func asString(fields map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := fields[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func asFloat(fields map[string]any, keys ...string) float64 {
	for _, k := range keys {
		switch v := fields[k].(type) {
		case float64:
			return v
		case string:
			var f float64
			if _, err := fmt.Sscanf(v, "%f", &f); err == nil {
				return f
			}
		}
	}
	return 0
}

func asBool(fields map[string]any, keys ...string) bool {
	for _, k := range keys {
		if v, ok := fields[k].(bool); ok {
			return v
		}
	}
	return false
}

func asStringSlice(fields map[string]any, key string) []string {
	items, ok := fields[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func asStringMap(fields map[string]any, key string) map[string]string {
	m, ok := fields[key].(map[string]any)
	if !ok || len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// ASINImageURL builds the canonical widget image URL for an identifier. No
// network call is needed; the endpoint resolves the current primary image.
func ASINImageURL(asin string) string {
	return fmt.Sprintf(
		"https://ws-na.amazon-adsystem.com/widgets/q?_encoding=UTF8&ASIN=%s&Format=_SL250_&ID=AsinImage&MarketPlace=US&ServiceVersion=20070822&WS=1",
		asin)
}

// resolveImage applies the image priority order: manual override, then the
// identifier-derived widget URL, then the model's URL, then the configured
// fallback, then the placeholder.
func resolveImage(manual, asin, modelURL, fallback string) string {
	switch {
	case manual != "":
		return manual
	case asin != "":
		return ASINImageURL(asin)
	case modelURL != "":
		return modelURL
	case fallback != "":
		return fallback
	default:
		return PlaceholderImage
	}
}
