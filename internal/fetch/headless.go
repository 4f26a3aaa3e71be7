package fetch

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
)

// Renderer produces the fully rendered DOM for a URL.
type Renderer interface {
	Render(ctx context.Context, url string) (string, error)
}

// HeadlessConfig controls the chromedp renderer.
type HeadlessConfig struct {
	UserAgent  string
	NavTimeout time.Duration
	// MaxParallel bounds concurrent browser tabs; 0 means unbounded.
	MaxParallel int
}

// ChromeRenderer implements Renderer with headless Chrome via chromedp.
type ChromeRenderer struct {
	cfg         HeadlessConfig
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewChromeRenderer starts a shared exec allocator for render tasks.
func NewChromeRenderer(cfg HeadlessConfig) *ChromeRenderer {
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 45 * time.Second
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	return &ChromeRenderer{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}
}

// Close cancels the allocator context.
func (r *ChromeRenderer) Close() {
	r.allocCancel()
}

// Render navigates to url in a fresh tab and returns the rendered HTML.
func (r *ChromeRenderer) Render(ctx context.Context, url string) (string, error) {
	if err := r.acquire(ctx); err != nil {
		return "", err
	}
	defer r.release()

	taskCtx, taskCancel := chromedp.NewContext(r.allocator)
	defer taskCancel()
	taskCtx, cancel := context.WithTimeout(taskCtx, r.cfg.NavTimeout)
	defer cancel()

	var html string
	actions := []chromedp.Action{
		chromedp.ActionFunc(func(ctx context.Context) error {
			if r.cfg.UserAgent == "" {
				return nil
			}
			if err := emulation.SetUserAgentOverride(r.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
			return nil
		}),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500 * time.Millisecond),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		return "", fmt.Errorf("headless render: %w", err)
	}
	return html, nil
}

func (r *ChromeRenderer) acquire(ctx context.Context) error {
	if r.limiter == nil {
		return nil
	}
	select {
	case r.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (r *ChromeRenderer) release() {
	if r.limiter == nil {
		return
	}
	select {
	case <-r.limiter:
	default:
	}
}
