// Package publish writes mutated content back to the CMS and classifies the
// failure modes an operator can act on.
package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pagelift/monetizer/internal/monetize"
)

// ErrAuth means the CMS rejected the credential pair.
var ErrAuth = errors.New("cms rejected the credentials")

// ServerError is a non-2xx, non-auth response from the CMS.
type ServerError struct {
	Status int
	Body   string
}

func (e *ServerError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200]
	}
	return fmt.Sprintf("cms update failed with status %d: %s", e.Status, body)
}

// Gateway implements monetize.Gateway over the CMS REST API.
type Gateway struct {
	// Origin is the caller's origin, named in connectivity guidance so the
	// operator knows what to allow-list on the CMS side.
	origin     string
	httpClient *http.Client
	logger     *zap.Logger
}

// New builds a Gateway. timeout <= 0 selects a default.
func New(origin string, timeout time.Duration, logger *zap.Logger) *Gateway {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		origin:     origin,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type updateResponse struct {
	Link string `json:"link"`
}

// Publish updates the post's content and returns its canonical link.
func (g *Gateway) Publish(ctx context.Context, cms monetize.CMSConfig, postID int, content string) (string, error) {
	payload, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return "", fmt.Errorf("encode update: %w", err)
	}

	endpoint := fmt.Sprintf("%s/wp-json/wp/v2/posts/%d", strings.TrimRight(cms.BaseURL, "/"), postID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build update request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(cms.Username, cms.AppPassword)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", g.connectivityError(cms.BaseURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read update response: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", fmt.Errorf("%w (status %d)", ErrAuth, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return "", &ServerError{Status: resp.StatusCode, Body: string(body)}
	}

	var out updateResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode update response: %w", err)
	}
	g.logger.Info("post republished", zap.Int("post_id", postID), zap.String("link", out.Link))
	return out.Link, nil
}

func (g *Gateway) connectivityError(baseURL string, err error) error {
	return fmt.Errorf(
		"could not reach the cms at %s: %w; if the site blocks cross-origin API calls, allow-list the origin %s",
		baseURL, err, g.origin)
}

// ProbeResult is the structured outcome of a connectivity probe. Probes never
// fail with an error; callers poll them cheaply before bulk operations.
type ProbeResult struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// Probe checks that the CMS REST API answers with the configured credentials.
func (g *Gateway) Probe(ctx context.Context, cms monetize.CMSConfig) ProbeResult {
	endpoint := strings.TrimRight(cms.BaseURL, "/") + "/wp-json/wp/v2/posts?per_page=1&_fields=id"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return ProbeResult{Message: fmt.Sprintf("bad cms url: %v", err)}
	}
	req.SetBasicAuth(cms.Username, cms.AppPassword)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return ProbeResult{Message: g.connectivityError(cms.BaseURL, err).Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ProbeResult{Message: fmt.Sprintf("credentials rejected (status %d)", resp.StatusCode)}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return ProbeResult{Message: fmt.Sprintf("cms answered with status %d", resp.StatusCode)}
	}
	return ProbeResult{OK: true, Message: "cms reachable"}
}
