// Package fetch resolves page content through the relay chain or the CMS API.
package fetch

import (
	"context"
	"fmt"
	"time"

	"github.com/gocolly/colly/v2"
)

// ProbeClient executes a single HTTP GET and returns status plus body.
type ProbeClient interface {
	Get(ctx context.Context, url string) (int, []byte, error)
}

// CollyProbe implements ProbeClient with a Colly collector per request.
type CollyProbe struct {
	userAgent string
	timeout   time.Duration
	base      *colly.Collector
}

// NewCollyProbe builds a CollyProbe. Relay endpoints serve our own content,
// so robots directives do not apply to these requests.
func NewCollyProbe(userAgent string, timeout time.Duration) *CollyProbe {
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &CollyProbe{userAgent: userAgent, timeout: timeout, base: c}
}

// Get fetches url and returns the response status and body.
func (p *CollyProbe) Get(ctx context.Context, url string) (int, []byte, error) {
	collector := p.base.Clone()
	if p.userAgent != "" {
		collector.UserAgent = p.userAgent
	}
	collector.SetRequestTimeout(p.timeout)

	var (
		status   int
		body     []byte
		fetchErr error
	)
	collector.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return 0, nil, fmt.Errorf("fetch canceled: %w", ctx.Err())
	case visitErr := <-done:
		if fetchErr != nil {
			return status, nil, fmt.Errorf("fetch %s: %w", url, fetchErr)
		}
		if visitErr != nil {
			return status, nil, fmt.Errorf("fetch %s: %w", url, visitErr)
		}
		return status, body, nil
	}
}
