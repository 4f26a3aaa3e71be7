// Package provider implements the AI completion backends behind a single
// Complete contract. Each backend differs only in transport and auth.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind enumerates the supported completion backends.
type Kind string

// Supported backends.
const (
	KindOpenAI    Kind = "openai"
	KindGemini    Kind = "gemini"
	KindAnthropic Kind = "anthropic"
)

// ParseKind validates a configured provider name.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindOpenAI, KindGemini, KindAnthropic:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("unknown ai provider %q", s)
	}
}

// ErrMissingCredential means no API key was configured for the provider.
var ErrMissingCredential = errors.New("ai provider api key missing")

// APIError is a non-2xx response from a provider endpoint.
type APIError struct {
	Provider Kind
	Status   int
	Body     string
}

func (e *APIError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200]
	}
	return fmt.Sprintf("%s returned status %d: %s", e.Provider, e.Status, body)
}

// Completer is the uniform completion contract.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Options configures a backend instance.
type Options struct {
	APIKey string
	Model  string
	// BaseURL overrides the provider endpoint, mainly for tests.
	BaseURL string
	// GroundingSearch asks the provider to ground the completion in live web
	// search results; honored only where the backend supports it.
	GroundingSearch bool
	// HTTPClient may be nil; a default with a generous timeout is used.
	HTTPClient *http.Client
}

func (o Options) client() *http.Client {
	if o.HTTPClient != nil {
		return o.HTTPClient
	}
	return &http.Client{Timeout: 90 * time.Second}
}

// New builds the Completer for kind. The API key is required.
func New(kind Kind, opts Options) (Completer, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("%w for %s", ErrMissingCredential, kind)
	}
	switch kind {
	case KindOpenAI:
		return newOpenAI(opts), nil
	case KindGemini:
		return newGemini(opts), nil
	case KindAnthropic:
		return newAnthropic(opts), nil
	default:
		return nil, fmt.Errorf("unknown ai provider %q", kind)
	}
}
