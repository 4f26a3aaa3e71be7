// Package cache implements the TTL-tiered key/value store used by the fetch
// and analysis layers. The TTL is not stored per entry; it is derived at read
// time from a class prefix on the key.
package cache

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pagelift/monetizer/internal/monetize"
)

// Key class prefixes. Content changes quickly, product facts slowly.
const (
	ClassContent = "content:"
	ClassAI      = "ai:"
	ClassSitemap = "sitemap:"
)

// Class TTLs.
const (
	ContentTTL = 30 * time.Minute
	AITTL      = 72 * time.Hour
	SitemapTTL = time.Hour
)

// Entry is a stored payload plus its write timestamp.
type Entry struct {
	WrittenAt time.Time `json:"written_at"`
	Payload   []byte    `json:"payload"`
}

// Store is the persistence backend for the cache. Implementations may be
// bounded; Write returns an error when the backend cannot accept the entry.
type Store interface {
	Read(key string) (Entry, bool, error)
	Write(key string, e Entry) error
	Delete(key string) error
	Clear() error
}

// Cache wraps a Store with TTL-class expiry. Concurrent Get/Set races on the
// same key are acceptable: cached values are idempotent recomputations, so
// last write wins.
type Cache struct {
	store  Store
	clock  monetize.Clock
	logger *zap.Logger
}

// New builds a Cache over the given store.
func New(store Store, clock monetize.Clock, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{store: store, clock: clock, logger: logger}
}

// Get returns the payload for key, or (nil, false) if absent or expired.
// Expired entries are deleted lazily here.
func (c *Cache) Get(key string) ([]byte, bool) {
	e, ok, err := c.store.Read(key)
	if err != nil {
		c.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	if c.clock.Now().Sub(e.WrittenAt) > ClassTTL(key) {
		if err := c.store.Delete(key); err != nil {
			c.logger.Debug("cache expiry delete failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	return e.Payload, true
}

// Set stores payload under key, resetting its age. A write failure (backend
// at capacity) clears the whole store and retries once rather than failing
// the caller; the degraded path is logged loudly.
func (c *Cache) Set(key string, payload []byte) {
	e := Entry{WrittenAt: c.clock.Now(), Payload: payload}
	if err := c.store.Write(key, e); err == nil {
		return
	} else {
		c.logger.Warn("cache write failed, clearing store and retrying once",
			zap.String("key", key), zap.Error(err))
	}
	if err := c.store.Clear(); err != nil {
		c.logger.Warn("cache clear failed", zap.Error(err))
		return
	}
	if err := c.store.Write(key, e); err != nil {
		c.logger.Warn("cache write retry failed", zap.String("key", key), zap.Error(err))
	}
}

// Reset drops every entry.
func (c *Cache) Reset() {
	if err := c.store.Clear(); err != nil {
		c.logger.Warn("cache reset failed", zap.Error(err))
	}
}

// ClassTTL derives the TTL tier from the key's class prefix. Unknown
// prefixes get the short content TTL.
func ClassTTL(key string) time.Duration {
	switch {
	case strings.HasPrefix(key, ClassAI):
		return AITTL
	case strings.HasPrefix(key, ClassSitemap):
		return SitemapTTL
	default:
		return ContentTTL
	}
}

// ContentKey builds the cache key for fetched page content.
func ContentKey(urlHash string) string {
	return ClassContent + urlHash
}

// AIKey builds the cache key for a single-product analysis result.
func AIKey(provider, titleHash, asin string) string {
	return fmt.Sprintf("%s%s:%s:%s", ClassAI, provider, titleHash, asin)
}

// SitemapKey builds the cache key for a parsed sitemap document.
func SitemapKey(urlHash string) string {
	return ClassSitemap + urlHash
}
