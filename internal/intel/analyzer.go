// Package intel extracts product candidates from page content through an AI
// completion backend, with caching, bounded retry, and tolerant parsing.
package intel

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/pagelift/monetizer/internal/cache"
	"github.com/pagelift/monetizer/internal/intel/provider"
	"github.com/pagelift/monetizer/internal/monetize"
)

// DefaultConfidence is assumed when the model omits a confidence score.
const DefaultConfidence = 70

// Config controls the analyzer.
type Config struct {
	// Provider labels the backend in AI-result cache keys.
	Provider provider.Kind
	// DefaultConfidence replaces a missing model confidence; 0 selects the
	// package default.
	DefaultConfidence int
	// ContextLen bounds the prompt context; 0 selects the package default.
	ContextLen int
}

// Result is the outcome of one analysis. Product is the primary candidate;
// Detected carries the full list in deep-scan mode.
type Result struct {
	Product    monetize.ProductCandidate   `json:"product"`
	Detected   []monetize.ProductCandidate `json:"detected,omitempty"`
	Confidence int                         `json:"confidence"`
}

// Analyzer implements product extraction over a Completer.
type Analyzer struct {
	cfg       Config
	completer provider.Completer
	store     monetize.Cache
	hasher    monetize.Hasher
	policy    *retryPolicy
	logger    *zap.Logger
}

// New builds an Analyzer.
func New(cfg Config, completer provider.Completer, store monetize.Cache, hasher monetize.Hasher, logger *zap.Logger) *Analyzer {
	if cfg.DefaultConfidence <= 0 {
		cfg.DefaultConfidence = DefaultConfidence
	}
	if cfg.ContextLen <= 0 {
		cfg.ContextLen = DefaultContextLen
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{
		cfg:       cfg,
		completer: completer,
		store:     store,
		hasher:    hasher,
		policy:    newRetryPolicy(),
		logger:    logger,
	}
}

// Analyze extracts the product candidate(s) for a page. It never returns an
// error: when the completion fails after retries, manual input yields an
// authoritative synthetic candidate and anything else yields an empty result.
func (a *Analyzer) Analyze(ctx context.Context, title, html string, opts AnalyzeOptions) Result {
	asin := opts.ManualASIN
	if asin == "" {
		asin = monetize.DetectASIN(html)
	}

	cacheKey := ""
	if !opts.DeepScan {
		cacheKey = a.resultKey(title, asin)
		if cacheKey != "" {
			if payload, ok := a.store.Get(cacheKey); ok {
				var cached Result
				if json.Unmarshal(payload, &cached) == nil && !cached.Product.Empty() {
					return cached
				}
			}
		}
	}

	prompt := buildPrompt(title, BuildContext(html, a.cfg.ContextLen), Headings(html), asin, opts.DeepScan)
	response, err := completeWithRetry(ctx, a.completer, prompt, a.policy)
	if err != nil {
		a.logger.Warn("completion failed after retries",
			zap.String("title", title), zap.Bool("rate_limited", isRateLimited(err)), zap.Error(err))
		return a.fallback(title, opts)
	}

	var result Result
	if opts.DeepScan {
		detected, conf, err := parseMulti(response, a.cfg.DefaultConfidence)
		if err != nil || len(detected) == 0 {
			a.logger.Warn("deep scan response unparseable", zap.String("title", title), zap.Error(err))
			return a.fallback(title, opts)
		}
		result = Result{Product: detected[0], Detected: detected, Confidence: conf}
	} else {
		product, conf, err := parseSingle(response, a.cfg.DefaultConfidence)
		if err != nil || product.Empty() {
			a.logger.Warn("analysis response unparseable", zap.String("title", title), zap.Error(err))
			return a.fallback(title, opts)
		}
		result = Result{Product: product, Confidence: conf}
	}

	if opts.ManualASIN != "" {
		// The manual identifier is ground truth even when the model drifted.
		result.Product.ASIN = opts.ManualASIN
	}
	result.Product.ImageURL = resolveImage(
		opts.ManualImage, result.Product.ASIN, result.Product.ImageURL, opts.FallbackImage)
	for i := range result.Detected {
		result.Detected[i].ImageURL = resolveImage(
			"", result.Detected[i].ASIN, result.Detected[i].ImageURL, opts.FallbackImage)
	}

	if cacheKey != "" && !result.Product.Empty() {
		if payload, err := json.Marshal(result); err == nil {
			a.store.Set(cacheKey, payload)
		}
	}
	return result
}

// fallback applies the degraded-path contract: manual input is authoritative
// and produces a pinned-confidence candidate; otherwise the result is empty.
func (a *Analyzer) fallback(title string, opts AnalyzeOptions) Result {
	if opts.ManualASIN == "" && opts.ManualImage == "" {
		return Result{Confidence: 0}
	}
	return Result{
		Product: monetize.ProductCandidate{
			ASIN:     opts.ManualASIN,
			Title:    title,
			ImageURL: resolveImage(opts.ManualImage, opts.ManualASIN, "", opts.FallbackImage),
		},
		Confidence: 100,
	}
}

func (a *Analyzer) resultKey(title, asin string) string {
	titleHash, err := a.hasher.Hash([]byte(title))
	if err != nil {
		return ""
	}
	return cache.AIKey(string(a.cfg.Provider), titleHash, asin)
}
