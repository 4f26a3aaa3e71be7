package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/pagelift/monetizer/internal/monetize"
)

// Sentinel errors for CMS lookups.
var (
	// ErrNotFound means the post id or slug is unknown to the CMS.
	ErrNotFound = errors.New("post not found")
	// ErrAuth means the credential pair was rejected.
	ErrAuth = errors.New("cms authentication failed")
)

type renderedField struct {
	Raw      string `json:"raw"`
	Rendered string `json:"rendered"`
}

func (r renderedField) value() string {
	if r.Raw != "" {
		return r.Raw
	}
	return r.Rendered
}

type postResponse struct {
	ID       int           `json:"id"`
	Link     string        `json:"link"`
	Title    renderedField `json:"title"`
	Content  renderedField `json:"content"`
	Embedded struct {
		FeaturedMedia []struct {
			SourceURL string `json:"source_url"`
		} `json:"wp:featuredmedia"`
	} `json:"_embedded"`
}

func (f *Fetcher) cmsGet(ctx context.Context, cms monetize.CMSConfig, postID int) (monetize.FetchedPage, error) {
	endpoint := fmt.Sprintf("%s/wp-json/wp/v2/posts/%d?context=edit&_embed=wp:featuredmedia",
		strings.TrimRight(cms.BaseURL, "/"), postID)
	body, err := f.cmsRequest(ctx, cms, endpoint)
	if err != nil {
		return monetize.FetchedPage{}, err
	}

	var post postResponse
	if err := json.Unmarshal(body, &post); err != nil {
		return monetize.FetchedPage{}, fmt.Errorf("decode post %d: %w", postID, err)
	}
	page := monetize.FetchedPage{
		PostID: post.ID,
		Title:  post.Title.value(),
		HTML:   post.Content.value(),
	}
	if len(post.Embedded.FeaturedMedia) > 0 {
		page.FeaturedImage = post.Embedded.FeaturedMedia[0].SourceURL
	}
	return page, nil
}

func (f *Fetcher) resolveSlug(ctx context.Context, cms monetize.CMSConfig, slug string) (int, error) {
	if slug == "" {
		return 0, ErrNotFound
	}
	endpoint := fmt.Sprintf("%s/wp-json/wp/v2/posts?slug=%s&_fields=id",
		strings.TrimRight(cms.BaseURL, "/"), url.QueryEscape(slug))
	body, err := f.cmsRequest(ctx, cms, endpoint)
	if err != nil {
		return 0, err
	}

	var matches []struct {
		ID int `json:"id"`
	}
	if err := json.Unmarshal(body, &matches); err != nil {
		return 0, fmt.Errorf("decode slug lookup %q: %w", slug, err)
	}
	if len(matches) == 0 || matches[0].ID == 0 {
		return 0, ErrNotFound
	}
	return matches[0].ID, nil
}

func (f *Fetcher) cmsRequest(ctx context.Context, cms monetize.CMSConfig, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build cms request: %w", err)
	}
	req.SetBasicAuth(cms.Username, cms.AppPassword)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cms request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w (status %d)", ErrAuth, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("cms returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read cms response: %w", err)
	}
	return body, nil
}

// SlugFromURL extracts the last path segment of a page URL.
func SlugFromURL(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	segs := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segs) == 0 {
		return ""
	}
	return segs[len(segs)-1]
}
