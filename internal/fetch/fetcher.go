package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/pagelift/monetizer/internal/cache"
	"github.com/pagelift/monetizer/internal/monetize"
	"github.com/pagelift/monetizer/internal/relay"
)

// ErrConnectivity means every relay in the chain failed for a URL.
var ErrConnectivity = errors.New("all relays failed")

// Config controls Fetcher behavior.
type Config struct {
	// MinCacheBody is the smallest body worth caching; failed or blocked
	// responses tend to be tiny and must not poison the cache.
	MinCacheBody int
	// CMSTimeout bounds authenticated CMS calls.
	CMSTimeout time.Duration
}

// Fetcher implements monetize.Fetcher over a relay chain plus the CMS API.
type Fetcher struct {
	cfg        Config
	chain      *relay.Chain
	probe      ProbeClient
	renderer   Renderer
	detector   *Detector
	store      monetize.Cache
	hasher     monetize.Hasher
	httpClient *http.Client
	logger     *zap.Logger
}

// New constructs a Fetcher. renderer may be nil to disable headless
// promotion; detector is only consulted when a renderer is present.
func New(
	cfg Config,
	chain *relay.Chain,
	probe ProbeClient,
	renderer Renderer,
	detector *Detector,
	store monetize.Cache,
	hasher monetize.Hasher,
	logger *zap.Logger,
) *Fetcher {
	if cfg.MinCacheBody <= 0 {
		cfg.MinCacheBody = 500
	}
	if cfg.CMSTimeout <= 0 {
		cfg.CMSTimeout = 20 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		cfg:        cfg,
		chain:      chain,
		probe:      probe,
		renderer:   renderer,
		detector:   detector,
		store:      store,
		hasher:     hasher,
		httpClient: &http.Client{Timeout: cfg.CMSTimeout},
		logger:     logger,
	}
}

type cachedPage struct {
	Title string `json:"title"`
	HTML  string `json:"html"`
}

// FetchByURL retrieves a public page through the relay chain, remembering
// which relay last worked. Non-trivial bodies are cached with the content
// TTL class.
func (f *Fetcher) FetchByURL(ctx context.Context, pageURL string) (monetize.FetchedPage, error) {
	key, err := f.contentKey(pageURL)
	if err == nil {
		if payload, ok := f.store.Get(key); ok {
			var cp cachedPage
			if json.Unmarshal(payload, &cp) == nil {
				return monetize.FetchedPage{Title: cp.Title, HTML: cp.HTML}, nil
			}
		}
	}

	status, body, fetchErr := f.fetchThroughChain(ctx, pageURL)
	if fetchErr != nil {
		return monetize.FetchedPage{}, fetchErr
	}

	html := string(body)
	usedHeadless := false
	if f.renderer != nil && f.detector != nil && f.detector.ShouldPromote(status, body) {
		rendered, err := f.renderer.Render(ctx, pageURL)
		if err != nil {
			f.logger.Warn("headless promotion failed", zap.String("url", pageURL), zap.Error(err))
		} else {
			html = rendered
			usedHeadless = true
		}
	}

	page := monetize.FetchedPage{
		Title:        extractTitle(html),
		HTML:         html,
		UsedHeadless: usedHeadless,
	}
	if key != "" && len(html) >= f.cfg.MinCacheBody {
		if payload, err := json.Marshal(cachedPage{Title: page.Title, HTML: page.HTML}); err == nil {
			f.store.Set(key, payload)
		}
	}
	return page, nil
}

// FetchByPostID retrieves the editable content for a post. An unknown or
// zero id is resolved from the fallback URL's slug; if that fails too, the
// public page is fetched instead. The terminal error names the likely
// permalink misconfiguration.
func (f *Fetcher) FetchByPostID(
	ctx context.Context,
	cms monetize.CMSConfig,
	postID int,
	fallbackURL string,
) (monetize.FetchedPage, error) {
	if postID > 0 {
		page, err := f.cmsGet(ctx, cms, postID)
		if err == nil {
			return page, nil
		}
		if errors.Is(err, ErrAuth) {
			return monetize.FetchedPage{}, err
		}
		f.logger.Debug("cms fetch by id failed, resolving slug",
			zap.Int("post_id", postID), zap.Error(err))
	}

	slug := SlugFromURL(fallbackURL)
	if id, err := f.resolveSlug(ctx, cms, slug); err == nil {
		page, err := f.cmsGet(ctx, cms, id)
		if err == nil {
			return page, nil
		}
		if errors.Is(err, ErrAuth) {
			return monetize.FetchedPage{}, err
		}
	}

	if fallbackURL != "" {
		page, err := f.FetchByURL(ctx, fallbackURL)
		if err == nil {
			return page, nil
		}
	}

	return monetize.FetchedPage{}, fmt.Errorf(
		"could not resolve post %d (slug %q) via the CMS or the public page; "+
			"check that the site uses pretty permalinks and the REST API is reachable", postID, slug)
}

func (f *Fetcher) fetchThroughChain(ctx context.Context, pageURL string) (int, []byte, error) {
	var lastErr error
	for _, ep := range f.chain.Candidates() {
		status, body, err := f.probe.Get(ctx, ep.Wrap(pageURL))
		if err != nil || status < 200 || status > 299 || len(body) == 0 {
			if err == nil {
				err = fmt.Errorf("relay %s returned status %d with %d bytes", ep.Name(), status, len(body))
			}
			lastErr = err
			f.logger.Debug("relay attempt failed",
				zap.String("relay", ep.Name()), zap.String("url", pageURL), zap.Error(err))
			continue
		}
		f.chain.Promote(ep.Index)
		return status, body, nil
	}
	return 0, nil, fmt.Errorf("%w for %s: %v", ErrConnectivity, pageURL, lastErr)
}

func (f *Fetcher) contentKey(pageURL string) (string, error) {
	h, err := f.hasher.Hash([]byte(pageURL))
	if err != nil {
		return "", err
	}
	return cache.ContentKey(h), nil
}

func extractTitle(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title = strings.TrimSpace(doc.Find("h1").First().Text())
	}
	// Drop the common " - Site Name" suffix.
	for _, sep := range []string{" | ", " – ", " - "} {
		if i := strings.Index(title, sep); i > 0 {
			title = title[:i]
			break
		}
	}
	return title
}
