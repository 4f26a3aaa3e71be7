// Package sitemap ingests a site's sitemap XML into page stubs.
package sitemap

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/pagelift/monetizer/internal/cache"
	"github.com/pagelift/monetizer/internal/fetch"
	"github.com/pagelift/monetizer/internal/monetize"
)

// maxIndexDepth bounds nested sitemap-index recursion.
const maxIndexDepth = 3

// Entry is one page discovered in a sitemap.
type Entry struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	LastMod string `json:"last_mod,omitempty"`
}

// Loader fetches and parses sitemaps, caching parsed results for an hour.
type Loader struct {
	probe  fetch.ProbeClient
	store  monetize.Cache
	hasher monetize.Hasher
	logger *zap.Logger
}

// NewLoader builds a Loader.
func NewLoader(probe fetch.ProbeClient, store monetize.Cache, hasher monetize.Hasher, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{probe: probe, store: store, hasher: hasher, logger: logger}
}

type urlSet struct {
	URLs []struct {
		Loc     string `xml:"loc"`
		LastMod string `xml:"lastmod"`
	} `xml:"url"`
}

type sitemapIndex struct {
	Sitemaps []struct {
		Loc string `xml:"loc"`
	} `xml:"sitemap"`
}

// Load returns the page entries for sitemapURL, following nested sitemap
// indexes. Parsed results are cached under the sitemap TTL class.
func (l *Loader) Load(ctx context.Context, sitemapURL string) ([]Entry, error) {
	key := l.cacheKey(sitemapURL)
	if key != "" {
		if payload, ok := l.store.Get(key); ok {
			var cached []Entry
			if json.Unmarshal(payload, &cached) == nil {
				return cached, nil
			}
		}
	}

	entries, err := l.load(ctx, sitemapURL, 0)
	if err != nil {
		return nil, err
	}

	if key != "" && len(entries) > 0 {
		if payload, err := json.Marshal(entries); err == nil {
			l.store.Set(key, payload)
		}
	}
	return entries, nil
}

func (l *Loader) load(ctx context.Context, sitemapURL string, depth int) ([]Entry, error) {
	if depth > maxIndexDepth {
		return nil, fmt.Errorf("sitemap index nesting exceeds %d levels at %s", maxIndexDepth, sitemapURL)
	}

	status, body, err := l.probe.Get(ctx, sitemapURL)
	if err != nil {
		return nil, fmt.Errorf("fetch sitemap %s: %w", sitemapURL, err)
	}
	if status < 200 || status > 299 {
		return nil, fmt.Errorf("sitemap %s returned status %d", sitemapURL, status)
	}

	return l.parse(ctx, sitemapURL, body, depth)
}

func (l *Loader) parse(ctx context.Context, sitemapURL string, body []byte, depth int) ([]Entry, error) {
	var set urlSet
	if err := xml.Unmarshal(body, &set); err == nil && len(set.URLs) > 0 {
		entries := make([]Entry, 0, len(set.URLs))
		for _, u := range set.URLs {
			loc := strings.TrimSpace(u.Loc)
			if loc == "" {
				continue
			}
			entries = append(entries, Entry{
				URL:     loc,
				Title:   TitleFromURL(loc),
				LastMod: strings.TrimSpace(u.LastMod),
			})
		}
		return entries, nil
	}

	var index sitemapIndex
	if err := xml.Unmarshal(body, &index); err == nil && len(index.Sitemaps) > 0 {
		var entries []Entry
		for _, child := range index.Sitemaps {
			loc := strings.TrimSpace(child.Loc)
			if loc == "" {
				continue
			}
			childEntries, err := l.load(ctx, loc, depth+1)
			if err != nil {
				l.logger.Warn("skipping unreadable child sitemap",
					zap.String("sitemap", loc), zap.Error(err))
				continue
			}
			entries = append(entries, childEntries...)
		}
		return entries, nil
	}

	return nil, fmt.Errorf("sitemap %s is neither a urlset nor a sitemap index", sitemapURL)
}

func (l *Loader) cacheKey(sitemapURL string) string {
	h, err := l.hasher.Hash([]byte(sitemapURL))
	if err != nil {
		return ""
	}
	return cache.SitemapKey(h)
}

// TitleFromURL derives a human title from the URL's final path segment:
// hyphens become spaces and each word is capitalized.
func TitleFromURL(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	segs := strings.Split(strings.Trim(u.Path, "/"), "/")
	slug := segs[len(segs)-1]
	if slug == "" {
		return ""
	}

	words := strings.Split(strings.ReplaceAll(slug, "-", " "), " ")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
