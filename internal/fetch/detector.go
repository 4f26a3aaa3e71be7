package fetch

import (
	"bytes"
	"strings"
)

// Detector decides whether a probe response looks script-rendered and should
// be promoted to a headless fetch.
type Detector struct {
	// BodyLengthThreshold is the size below which heavy script use suggests
	// the real content arrives via JavaScript.
	BodyLengthThreshold int
}

// NewDetector creates a Detector with the default threshold when 0 is given.
func NewDetector(threshold int) *Detector {
	if threshold == 0 {
		threshold = 2048
	}
	return &Detector{BodyLengthThreshold: threshold}
}

var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte(`id="root"`),
	[]byte(`id="app"`),
	[]byte("data-reactroot"),
}

// ShouldPromote reports whether a successful probe response warrants a
// headless render.
func (d *Detector) ShouldPromote(status int, body []byte) bool {
	if status != 200 {
		return false
	}
	if len(body) == 0 {
		return true
	}
	if len(body) < d.BodyLengthThreshold && scriptHeavy(body) {
		return true
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return false
}

// scriptHeavy is a cheap proxy for script density: several script tags in a
// small document mean the markup is mostly bootstrap code.
func scriptHeavy(body []byte) bool {
	return strings.Count(strings.ToLower(string(body)), "<script") >= 3
}
