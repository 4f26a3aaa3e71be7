package monetize

import (
	"context"
	"time"
)

// Cache is the TTL-tiered key/value store shared by fetch and analysis
// layers. Get returns (nil, false) for missing or expired entries.
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, payload []byte)
	Reset()
}

// Fetcher resolves page content, either by public URL or by CMS post id.
type Fetcher interface {
	FetchByURL(ctx context.Context, url string) (FetchedPage, error)
	FetchByPostID(ctx context.Context, cms CMSConfig, postID int, fallbackURL string) (FetchedPage, error)
}

// Gateway writes mutated content back to the CMS and returns the canonical
// link of the updated page.
type Gateway interface {
	Publish(ctx context.Context, cms CMSConfig, postID int, content string) (string, error)
}

// BlobStore archives raw artifacts (pre-mutation content snapshots) and
// returns a URI for later retrieval.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// EventPublisher pushes monetization decision events to a broker.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests used for cache keys and archive paths.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (swappable for tests).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
