package cache_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pagelift/monetizer/internal/cache"
	"github.com/pagelift/monetizer/internal/cache/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestCache_GetExpiresByClassTTL(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1000, 0)}
	c := cache.New(memory.NewStore(0), clock, zap.NewNop())

	c.Set(cache.ContentKey("abc"), []byte("page"))
	c.Set(cache.AIKey("openai", "t1", "B000000000"), []byte("product"))

	got, ok := c.Get(cache.ContentKey("abc"))
	require.True(t, ok)
	require.Equal(t, []byte("page"), got)

	clock.Advance(cache.ContentTTL + time.Second)

	_, ok = c.Get(cache.ContentKey("abc"))
	require.False(t, ok, "content entry should expire after its class TTL")

	_, ok = c.Get(cache.AIKey("openai", "t1", "B000000000"))
	require.True(t, ok, "ai entry has a much longer TTL")

	clock.Advance(cache.AITTL)
	_, ok = c.Get(cache.AIKey("openai", "t1", "B000000000"))
	require.False(t, ok)
}

func TestCache_SetResetsAge(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1000, 0)}
	c := cache.New(memory.NewStore(0), clock, zap.NewNop())

	c.Set(cache.ContentKey("k"), []byte("v1"))
	clock.Advance(cache.ContentTTL - time.Minute)
	c.Set(cache.ContentKey("k"), []byte("v2"))
	clock.Advance(cache.ContentTTL - time.Minute)

	got, ok := c.Get(cache.ContentKey("k"))
	require.True(t, ok)
	require.Equal(t, []byte("v2"), got)
}

type failingStore struct {
	mu       sync.Mutex
	failNext bool
	cleared  bool
	inner    *memory.Store
}

func (s *failingStore) Read(key string) (cache.Entry, bool, error) {
	return s.inner.Read(key)
}

func (s *failingStore) Write(key string, e cache.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext {
		s.failNext = false
		return errors.New("quota exceeded")
	}
	return s.inner.Write(key, e)
}

func (s *failingStore) Delete(key string) error { return s.inner.Delete(key) }

func (s *failingStore) Clear() error {
	s.mu.Lock()
	s.cleared = true
	s.mu.Unlock()
	return s.inner.Clear()
}

func TestCache_SetRetriesOnceAfterClear(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1000, 0)}
	store := &failingStore{failNext: true, inner: memory.NewStore(0)}
	c := cache.New(store, clock, zap.NewNop())

	c.Set(cache.ContentKey("k"), []byte("v"))

	require.True(t, store.cleared)
	got, ok := c.Get(cache.ContentKey("k"))
	require.True(t, ok)
	require.Equal(t, []byte("v"), got)
}

func TestClassTTL(t *testing.T) {
	t.Parallel()

	require.Equal(t, cache.ContentTTL, cache.ClassTTL("content:xyz"))
	require.Equal(t, cache.AITTL, cache.ClassTTL("ai:openai:t:a"))
	require.Equal(t, cache.SitemapTTL, cache.ClassTTL("sitemap:xyz"))
	require.Equal(t, cache.ContentTTL, cache.ClassTTL("mystery:xyz"))
}
