package intel

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"net/http"
	"regexp"
	"time"

	"github.com/pagelift/monetizer/internal/intel/provider"
)

var rateLimitPattern = regexp.MustCompile(`(?i)rate.?limit|quota|resource_exhausted`)

// isRateLimited classifies a provider failure as a rate limit, either by the
// 429 status or by the provider's error body.
func isRateLimited(err error) bool {
	var apiErr *provider.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Status == http.StatusTooManyRequests {
			return true
		}
		return rateLimitPattern.MatchString(apiErr.Body)
	}
	return err != nil && rateLimitPattern.MatchString(err.Error())
}

// retryPolicy is a jittered exponential backoff that stretches the delay for
// rate-limited calls. Only rate limits earn the extended delay; every other
// failure burns through the normal backoff budget.
type retryPolicy struct {
	maxAttempts         int
	baseDelay           time.Duration
	maxDelay            time.Duration
	rateLimitMultiplier int
}

func newRetryPolicy() *retryPolicy {
	return &retryPolicy{
		maxAttempts:         3,
		baseDelay:           500 * time.Millisecond,
		maxDelay:            10 * time.Second,
		rateLimitMultiplier: 4,
	}
}

func (p *retryPolicy) shouldRetry(err error, attempt int) bool {
	if err == nil || attempt >= p.maxAttempts-1 {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

func (p *retryPolicy) backoff(err error, attempt int) time.Duration {
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt))
	if isRateLimited(err) {
		delay *= float64(p.rateLimitMultiplier)
	}
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	jitter := randomJitter(time.Duration(delay) / 2)
	return time.Duration(delay/2) + jitter
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

// completeWithRetry runs the completion under the retry policy.
func completeWithRetry(ctx context.Context, c provider.Completer, prompt string, p *retryPolicy) (string, error) {
	var lastErr error
	for attempt := 0; attempt < p.maxAttempts; attempt++ {
		text, err := c.Complete(ctx, prompt)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !p.shouldRetry(err, attempt) {
			break
		}
		select {
		case <-time.After(p.backoff(err, attempt)):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return "", lastErr
}
