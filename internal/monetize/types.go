// Package monetize defines core types shared across the monetization pipeline.
package monetize

import "encoding/json"

// Priority ranks how urgently a page deserves monetization attention.
type Priority string

// Priority values, highest first.
const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Rank maps a Priority to a sortable weight; higher means more urgent.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

// ContentType is the editorial shape of a page inferred during triage.
type ContentType string

// Content type values.
const (
	ContentReview   ContentType = "review"
	ContentListicle ContentType = "listicle"
	ContentInfo     ContentType = "info"
	ContentUnknown  ContentType = "unknown"
)

// Commercial reports whether the type is worth monetizing.
func (c ContentType) Commercial() bool {
	return c == ContentReview || c == ContentListicle
}

// MonetizationStatus tracks whether a page carries affiliate revenue.
type MonetizationStatus string

// Monetization status values. Transitions are restricted to
// opportunity -> queued -> analyzing -> {monetized, error}, or directly to
// monetized when existing affiliate markers are detected; pages still queued
// after a stopped run revert to opportunity, and a full re-scan resets.
const (
	StatusOpportunity MonetizationStatus = "opportunity"
	StatusMonetized   MonetizationStatus = "monetized"
	StatusAnalyzing   MonetizationStatus = "analyzing"
	StatusError       MonetizationStatus = "error"
	StatusQueued      MonetizationStatus = "queued"
)

// PilotStatus is the per-page state machine of an autonomous run.
type PilotStatus string

// Pilot status values.
const (
	PilotIdle       PilotStatus = "idle"
	PilotAnalyzing  PilotStatus = "analyzing"
	PilotFound      PilotStatus = "found"
	PilotPublishing PilotStatus = "publishing"
	PilotPublished  PilotStatus = "published"
	PilotFailed     PilotStatus = "failed"
)

// ProductCandidate is an extracted or manually supplied product match.
// Treat values as immutable once attached to a page; build a new candidate
// instead of editing one in place.
type ProductCandidate struct {
	ASIN           string            `json:"asin,omitempty"`
	Title          string            `json:"title"`
	Price          string            `json:"price,omitempty"`
	ImageURL       string            `json:"image_url,omitempty"`
	Rating         float64           `json:"rating,omitempty"`
	PrimeShipping  bool              `json:"prime_shipping,omitempty"`
	Verdict        string            `json:"verdict,omitempty"`
	Pros           []string          `json:"pros,omitempty"`
	Cons           []string          `json:"cons,omitempty"`
	Specs          map[string]string `json:"specs,omitempty"`
	Structured     json.RawMessage   `json:"structured,omitempty"`
	ContextHeading string            `json:"context_heading,omitempty"`
}

// Empty reports whether the candidate carries no usable product data.
func (c ProductCandidate) Empty() bool {
	return c.ASIN == "" && c.Title == ""
}

// Clone deep-copies the candidate so snapshots never share slices or maps.
func (c ProductCandidate) Clone() ProductCandidate {
	cp := c
	if c.Pros != nil {
		cp.Pros = append([]string(nil), c.Pros...)
	}
	if c.Cons != nil {
		cp.Cons = append([]string(nil), c.Cons...)
	}
	if c.Specs != nil {
		cp.Specs = make(map[string]string, len(c.Specs))
		for k, v := range c.Specs {
			cp.Specs[k] = v
		}
	}
	if c.Structured != nil {
		cp.Structured = append(json.RawMessage(nil), c.Structured...)
	}
	return cp
}

// SnapshotMaxLen bounds the cached content excerpt stored on a PageRecord.
const SnapshotMaxLen = 2000

// PageRecord is the pipeline's view of one published page, keyed by URL.
type PageRecord struct {
	URL          string             `json:"url"`
	PostID       int                `json:"post_id"`
	Title        string             `json:"title"`
	Priority     Priority           `json:"priority"`
	ContentType  ContentType        `json:"content_type"`
	Monetization MonetizationStatus `json:"monetization_status"`
	Pilot        PilotStatus        `json:"pilot_status"`
	Proposed     *ProductCandidate  `json:"proposed_product,omitempty"`
	Detected     []ProductCandidate `json:"detected_products,omitempty"`
	Confidence   int                `json:"confidence"`
	Snapshot     string             `json:"content_snapshot,omitempty"`
	LastMod      string             `json:"last_modified,omitempty"`
	PublishedURL string             `json:"published_url,omitempty"`
	ErrorText    string             `json:"error_text,omitempty"`
}

// Clone deep-copies the record for use in immutable snapshots.
func (p PageRecord) Clone() PageRecord {
	cp := p
	if p.Proposed != nil {
		prop := p.Proposed.Clone()
		cp.Proposed = &prop
	}
	if p.Detected != nil {
		cp.Detected = make([]ProductCandidate, len(p.Detected))
		for i, d := range p.Detected {
			cp.Detected[i] = d.Clone()
		}
	}
	return cp
}

// BoundSnapshot truncates s to the snapshot length cap.
func BoundSnapshot(s string) string {
	if len(s) > SnapshotMaxLen {
		return s[:SnapshotMaxLen]
	}
	return s
}

// CMSConfig carries the credential pair and endpoint for the content store.
type CMSConfig struct {
	BaseURL     string `mapstructure:"base_url" json:"base_url"`
	Username    string `mapstructure:"username" json:"username"`
	AppPassword string `mapstructure:"app_password" json:"-"`
}

// FetchedPage is the result of resolving a page's editable content.
type FetchedPage struct {
	PostID        int
	Title         string
	HTML          string
	FeaturedImage string
	UsedHeadless  bool
}
