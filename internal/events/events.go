// Package events defines the monetization decision events emitted for
// downstream analytics.
package events

import "time"

// DefaultTopic is the broker topic for decision events.
const DefaultTopic = "monetizer.decisions"

// Decision is emitted once per page that reaches a terminal pipeline state.
type Decision struct {
	RunID      string    `json:"run_id"`
	URL        string    `json:"url"`
	PostID     int       `json:"post_id,omitempty"`
	Outcome    string    `json:"outcome"`
	ASIN       string    `json:"asin,omitempty"`
	Confidence int       `json:"confidence,omitempty"`
	ArchiveURI string    `json:"archive_uri,omitempty"`
	Published  string    `json:"published_url,omitempty"`
	Error      string    `json:"error,omitempty"`
	TS         time.Time `json:"ts"`
}
