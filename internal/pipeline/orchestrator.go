// Package pipeline composes triage, fetching, analysis, mutation, and
// publishing into the monetization workflow.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/pagelift/monetizer/internal/classify"
	"github.com/pagelift/monetizer/internal/events"
	"github.com/pagelift/monetizer/internal/intel"
	"github.com/pagelift/monetizer/internal/monetize"
	"github.com/pagelift/monetizer/internal/mutate"
	"github.com/pagelift/monetizer/internal/progress"
	"github.com/pagelift/monetizer/internal/runner"
	"github.com/pagelift/monetizer/internal/sitemap"
)

// DefaultAutoPublishThreshold gates autonomous publishing on analysis
// confidence.
const DefaultAutoPublishThreshold = 85

// ErrRunInFlight means an autonomous run is already executing.
var ErrRunInFlight = errors.New("a pipeline run is already in flight")

// ErrUnknownPage means the URL has not been ingested.
var ErrUnknownPage = errors.New("page not tracked")

// Intelligence is the product extraction contract the orchestrator consumes.
type Intelligence interface {
	Analyze(ctx context.Context, title, html string, opts intel.AnalyzeOptions) intel.Result
}

// RunSink persists run history. All methods are best-effort from the
// orchestrator's point of view; failures are logged, never fatal.
type RunSink interface {
	RunStarted(ctx context.Context, runID, sitemapURL string, autonomous bool, total int, at time.Time) error
	PageFinished(ctx context.Context, runID string, page monetize.PageRecord, outcome string, at time.Time) error
	RunFinished(ctx context.Context, runID string, completed, published, failed int, at time.Time) error
}

// Config controls orchestrator behavior.
type Config struct {
	CMS                  monetize.CMSConfig
	Concurrency          int
	WindowPause          time.Duration
	AutoPublishThreshold int
	// Autonomous enables publish without human review when confidence
	// reaches the threshold.
	Autonomous   bool
	Strategy     mutate.Strategy
	AffiliateTag string
	// FallbackImage is handed to the analyzer's image resolution chain.
	FallbackImage string
	EventTopic    string
}

// Orchestrator owns the pipeline state and drives runs over it.
type Orchestrator struct {
	cfg      Config
	state    *State
	fetcher  monetize.Fetcher
	intel    Intelligence
	gateway  monetize.Gateway
	archive  monetize.BlobStore
	eventPub monetize.EventPublisher
	runs     RunSink
	reporter *progress.Reporter
	hasher   monetize.Hasher
	clock    monetize.Clock
	ids      monetize.IDGenerator
	logger   *zap.Logger

	stop    atomic.Pointer[runner.Token]
	running atomic.Bool
}

// Deps carries the orchestrator's collaborators. Archive, EventPublisher,
// Runs, and Reporter may be nil to disable the corresponding side effect.
type Deps struct {
	Fetcher        monetize.Fetcher
	Intelligence   Intelligence
	Gateway        monetize.Gateway
	Archive        monetize.BlobStore
	EventPublisher monetize.EventPublisher
	Runs           RunSink
	Reporter       *progress.Reporter
	Hasher         monetize.Hasher
	Clock          monetize.Clock
	IDs            monetize.IDGenerator
	Logger         *zap.Logger
}

// New builds an Orchestrator.
func New(cfg Config, deps Deps) *Orchestrator {
	if cfg.AutoPublishThreshold <= 0 {
		cfg.AutoPublishThreshold = DefaultAutoPublishThreshold
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 3
	}
	if cfg.Strategy == "" {
		cfg.Strategy = mutate.StrategySmartMiddle
	}
	if cfg.EventTopic == "" {
		cfg.EventTopic = events.DefaultTopic
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		cfg:      cfg,
		state:    NewState(),
		fetcher:  deps.Fetcher,
		intel:    deps.Intelligence,
		gateway:  deps.Gateway,
		archive:  deps.Archive,
		eventPub: deps.EventPublisher,
		runs:     deps.Runs,
		reporter: deps.Reporter,
		hasher:   deps.Hasher,
		clock:    deps.Clock,
		ids:      deps.IDs,
		logger:   logger,
	}
	o.stop.Store(&runner.Token{})
	return o
}

// Ingest merges sitemap entries into the state with phase-1 classification.
// Existing records keep their analysis results and snapshots.
func (o *Orchestrator) Ingest(entries []sitemap.Entry) int {
	added := 0
	for _, e := range entries {
		if e.URL == "" {
			continue
		}
		if existing, ok := o.state.Get(e.URL); ok {
			if e.LastMod != "" && e.LastMod != existing.LastMod {
				o.state.Update(e.URL, func(rec *monetize.PageRecord) {
					rec.LastMod = e.LastMod
				})
			}
			continue
		}
		res := classify.Classify(e.Title, "")
		o.state.Upsert(monetize.PageRecord{
			URL:          e.URL,
			Title:        e.Title,
			Priority:     res.Priority,
			ContentType:  res.ContentType,
			Monetization: res.Monetization,
			Pilot:        monetize.PilotIdle,
			LastMod:      e.LastMod,
		})
		added++
	}
	return added
}

// Reset drops all pipeline state for a full re-scan.
func (o *Orchestrator) Reset() {
	o.state.Reset()
}

// Stop requests cooperative cancellation of the in-flight batch. Workers
// already dispatched finish their current page.
func (o *Orchestrator) Stop() {
	o.stop.Load().Stop()
}

// Snapshot returns an immutable copy of every tracked page.
func (o *Orchestrator) Snapshot() []monetize.PageRecord {
	return o.state.Snapshot()
}

// Page returns an immutable copy of one tracked page.
func (o *Orchestrator) Page(url string) (monetize.PageRecord, bool) {
	return o.state.Get(url)
}

// Triage runs the two-phase classification. Phase 1 re-classifies every page
// from its title at zero cost. The deep scan is restricted to commercial
// pages without verified markers and without a cached snapshot, bounding the
// network work to high-value candidates. Triage shares the single batch slot
// with autonomous runs: while a run is in flight it fails with
// ErrRunInFlight instead of swapping the live stop token out from under it.
func (o *Orchestrator) Triage(ctx context.Context) (int, error) {
	if !o.running.CompareAndSwap(false, true) {
		return 0, ErrRunInFlight
	}
	defer o.running.Store(false)

	var candidates []string
	for _, rec := range o.state.Snapshot() {
		res := classify.Classify(rec.Title, "")
		o.state.Update(rec.URL, func(r *monetize.PageRecord) {
			r.ContentType = res.ContentType
			if r.Monetization == monetize.StatusOpportunity {
				r.Priority = res.Priority
			}
		})
		if res.ContentType.Commercial() &&
			rec.Monetization != monetize.StatusMonetized &&
			rec.Snapshot == "" {
			candidates = append(candidates, rec.URL)
		}
	}

	stop := &runner.Token{}
	o.stop.Store(stop)
	runner.Run(ctx, o.runnerConfig(), candidates, stop,
		func(ctx context.Context, url string) (struct{}, error) {
			return struct{}{}, o.deepScan(ctx, url)
		})
	return len(candidates), nil
}

func (o *Orchestrator) deepScan(ctx context.Context, url string) error {
	rec, ok := o.state.Get(url)
	if !ok {
		return ErrUnknownPage
	}
	page, err := o.fetcher.FetchByURL(ctx, url)
	if err != nil {
		return fmt.Errorf("deep scan fetch %s: %w", url, err)
	}
	res := classify.Classify(rec.Title, page.HTML)
	o.state.Update(url, func(r *monetize.PageRecord) {
		r.Priority = res.Priority
		r.ContentType = res.ContentType
		r.Monetization = res.Monetization
		r.Snapshot = monetize.BoundSnapshot(page.HTML)
		if page.Title != "" {
			r.Title = page.Title
		}
		if page.PostID > 0 {
			r.PostID = page.PostID
		}
	})
	return nil
}

// RunSummary is the terminal accounting of one autonomous run.
type RunSummary struct {
	RunID     string `json:"run_id"`
	Total     int    `json:"total"`
	Completed int    `json:"completed"`
	Published int    `json:"published"`
	Found     int    `json:"found"`
	Monetized int    `json:"monetized"`
	Failed    int    `json:"failed"`
}

type runCounters struct {
	completed atomic.Int64
	published atomic.Int64
	found     atomic.Int64
	monetized atomic.Int64
	failed    atomic.Int64
}

// RunAutonomous processes every opportunity page not yet published, ranked
// by priority. Per-page failures are recorded and never abort the batch.
func (o *Orchestrator) RunAutonomous(ctx context.Context, sitemapURL string) (RunSummary, error) {
	if !o.running.CompareAndSwap(false, true) {
		return RunSummary{}, ErrRunInFlight
	}
	defer o.running.Store(false)

	runID, err := o.ids.NewID()
	if err != nil {
		return RunSummary{}, fmt.Errorf("allocate run id: %w", err)
	}
	return o.executeRun(ctx, runID, sitemapURL), nil
}

// StartRun launches an autonomous run in the background and returns its id
// immediately. The run slot is reserved before this returns, so a second
// StartRun fails with ErrRunInFlight until the run finishes.
func (o *Orchestrator) StartRun(ctx context.Context, sitemapURL string) (string, error) {
	if !o.running.CompareAndSwap(false, true) {
		return "", ErrRunInFlight
	}
	runID, err := o.ids.NewID()
	if err != nil {
		o.running.Store(false)
		return "", fmt.Errorf("allocate run id: %w", err)
	}
	go func() {
		defer o.running.Store(false)
		o.executeRun(ctx, runID, sitemapURL)
	}()
	return runID, nil
}

// Running reports whether an autonomous run is in flight.
func (o *Orchestrator) Running() bool {
	return o.running.Load()
}

func (o *Orchestrator) executeRun(ctx context.Context, runID, sitemapURL string) RunSummary {
	stop := &runner.Token{}
	o.stop.Store(stop)

	targets := o.selectTargets()
	for _, url := range targets {
		o.state.Update(url, func(r *monetize.PageRecord) {
			r.Monetization = monetize.StatusQueued
		})
	}
	summary := RunSummary{RunID: runID, Total: len(targets)}
	if o.runs != nil {
		if err := o.runs.RunStarted(ctx, runID, sitemapURL, o.cfg.Autonomous, len(targets), o.now()); err != nil {
			o.logger.Warn("run sink start failed", zap.String("run_id", runID), zap.Error(err))
		}
	}

	var counters runCounters
	runner.Run(ctx, o.runnerConfig(), targets, stop,
		func(ctx context.Context, url string) (struct{}, error) {
			o.processPage(ctx, runID, url, &counters)
			o.reportProgress(runID, len(targets), &counters, false)
			return struct{}{}, nil
		})

	// Pages a stop left queued go back to opportunity for the next run.
	for _, url := range targets {
		o.state.Update(url, func(r *monetize.PageRecord) {
			if r.Monetization == monetize.StatusQueued {
				r.Monetization = monetize.StatusOpportunity
			}
		})
	}

	summary.Completed = int(counters.completed.Load())
	summary.Published = int(counters.published.Load())
	summary.Found = int(counters.found.Load())
	summary.Monetized = int(counters.monetized.Load())
	summary.Failed = int(counters.failed.Load())

	o.reportProgress(runID, len(targets), &counters, true)
	if o.reporter != nil {
		o.reporter.Flush()
	}
	if o.runs != nil {
		if err := o.runs.RunFinished(ctx, runID, summary.Completed, summary.Published, summary.Failed, o.now()); err != nil {
			o.logger.Warn("run sink finish failed", zap.String("run_id", runID), zap.Error(err))
		}
	}
	o.logger.Info("autonomous run finished",
		zap.String("run_id", runID),
		zap.Int("total", summary.Total),
		zap.Int("published", summary.Published),
		zap.Int("found", summary.Found),
		zap.Int("failed", summary.Failed))
	return summary
}

// selectTargets filters opportunity pages not yet published and orders them
// by descending priority rank.
func (o *Orchestrator) selectTargets() []string {
	recs := o.state.Snapshot()
	targets := make([]monetize.PageRecord, 0, len(recs))
	for _, rec := range recs {
		if rec.Monetization == monetize.StatusOpportunity && rec.Pilot != monetize.PilotPublished {
			targets = append(targets, rec)
		}
	}
	sort.SliceStable(targets, func(i, j int) bool {
		return targets[i].Priority.Rank() > targets[j].Priority.Rank()
	})
	urls := make([]string, len(targets))
	for i, rec := range targets {
		urls[i] = rec.URL
	}
	return urls
}

// processPage drives one page through the state machine. Every failure path
// lands in pilot=failed with the cause recorded; the batch continues.
func (o *Orchestrator) processPage(ctx context.Context, runID, url string, counters *runCounters) {
	defer counters.completed.Add(1)

	rec, ok := o.state.Get(url)
	if !ok {
		counters.failed.Add(1)
		return
	}
	o.state.Update(url, func(r *monetize.PageRecord) {
		r.Monetization = monetize.StatusAnalyzing
		r.Pilot = monetize.PilotAnalyzing
		r.ErrorText = ""
	})

	outcome, err := o.monetizePage(ctx, runID, url, rec)
	if err != nil {
		counters.failed.Add(1)
		o.state.Update(url, func(r *monetize.PageRecord) {
			r.Monetization = monetize.StatusError
			r.Pilot = monetize.PilotFailed
			r.ErrorText = err.Error()
		})
		o.finishPage(ctx, runID, url, "failed", err)
		return
	}

	switch outcome {
	case "published":
		counters.published.Add(1)
	case "found":
		counters.found.Add(1)
	case "monetized":
		counters.monetized.Add(1)
	}
	o.finishPage(ctx, runID, url, outcome, nil)
}

// monetizePage is the happy-path state machine body; it returns the terminal
// outcome name or an error.
func (o *Orchestrator) monetizePage(ctx context.Context, runID, url string, rec monetize.PageRecord) (string, error) {
	page, err := o.fetcher.FetchByURL(ctx, url)
	if err != nil {
		return "", err
	}
	title := rec.Title
	if page.Title != "" {
		title = page.Title
	}

	// Markers may have appeared since triage; never double-monetize.
	if monetize.HasAffiliateMarkers(page.HTML) {
		o.state.Update(url, func(r *monetize.PageRecord) {
			r.Monetization = monetize.StatusMonetized
			r.Pilot = monetize.PilotIdle
			r.Snapshot = monetize.BoundSnapshot(page.HTML)
		})
		return "monetized", nil
	}

	res := o.intel.Analyze(ctx, title, page.HTML, intel.AnalyzeOptions{FallbackImage: o.cfg.FallbackImage})
	if res.Product.Empty() {
		return "", fmt.Errorf("analysis produced no product candidate for %s", url)
	}

	proposed := res.Product.Clone()
	o.state.Update(url, func(r *monetize.PageRecord) {
		r.Proposed = &proposed
		r.Detected = res.Detected
		r.Confidence = res.Confidence
	})

	if !o.cfg.Autonomous || res.Confidence < o.cfg.AutoPublishThreshold {
		o.state.Update(url, func(r *monetize.PageRecord) {
			r.Monetization = monetize.StatusOpportunity
			r.Pilot = monetize.PilotFound
		})
		return "found", nil
	}

	link, err := o.publishProduct(ctx, runID, url, res.Product)
	if err != nil {
		return "", err
	}
	o.state.Update(url, func(r *monetize.PageRecord) {
		r.Monetization = monetize.StatusMonetized
		r.Pilot = monetize.PilotPublished
		r.PublishedURL = link
	})
	return "published", nil
}

// publishProduct fetches the editable content, archives it, injects the
// product box, and writes the page back.
func (o *Orchestrator) publishProduct(ctx context.Context, runID, url string, product monetize.ProductCandidate) (string, error) {
	rec, _ := o.state.Get(url)
	o.state.Update(url, func(r *monetize.PageRecord) { r.Pilot = monetize.PilotPublishing })

	page, err := o.fetcher.FetchByPostID(ctx, o.cfg.CMS, rec.PostID, url)
	if err != nil {
		return "", err
	}
	if page.PostID > 0 {
		o.state.Update(url, func(r *monetize.PageRecord) { r.PostID = page.PostID })
	}

	archiveURI := o.archiveContent(ctx, runID, url, page)
	if archiveURI != "" {
		o.logger.Debug("pre-publish content archived",
			zap.String("url", url), zap.String("archive_uri", archiveURI))
	}

	fragment := mutate.BuildFragment(product, o.cfg.AffiliateTag)
	mutated := mutate.Insert(page.HTML, fragment, o.cfg.Strategy, product.ContextHeading)
	return o.gateway.Publish(ctx, o.cfg.CMS, page.PostID, mutated)
}

// archiveContent stores the pre-mutation content so a bad injection can be
// reverted. Archive failures are logged, never fatal.
func (o *Orchestrator) archiveContent(ctx context.Context, runID, url string, page monetize.FetchedPage) string {
	if o.archive == nil {
		return ""
	}
	urlHash, err := o.hasher.Hash([]byte(url))
	if err != nil {
		return ""
	}
	path := fmt.Sprintf("runs/%s/%d-%s.html", runID, page.PostID, urlHash)
	uri, err := o.archive.PutObject(ctx, path, "text/html", []byte(page.HTML))
	if err != nil {
		o.logger.Warn("content archive failed", zap.String("url", url), zap.Error(err))
		return ""
	}
	return uri
}

// finishPage records the terminal outcome with the run sink and the event
// broker.
func (o *Orchestrator) finishPage(ctx context.Context, runID, url, outcome string, cause error) {
	rec, _ := o.state.Get(url)
	now := o.now()

	if o.runs != nil {
		if err := o.runs.PageFinished(ctx, runID, rec, outcome, now); err != nil {
			o.logger.Warn("run sink page record failed", zap.String("url", url), zap.Error(err))
		}
	}
	if o.eventPub == nil {
		return
	}
	decision := events.Decision{
		RunID:      runID,
		URL:        url,
		PostID:     rec.PostID,
		Outcome:    outcome,
		Confidence: rec.Confidence,
		Published:  rec.PublishedURL,
		TS:         now,
	}
	if rec.Proposed != nil {
		decision.ASIN = rec.Proposed.ASIN
	}
	if cause != nil {
		decision.Error = cause.Error()
	}
	if _, err := o.eventPub.Publish(ctx, o.cfg.EventTopic, decision); err != nil {
		o.logger.Warn("decision event publish failed", zap.String("url", url), zap.Error(err))
	}
}

func (o *Orchestrator) reportProgress(runID string, total int, counters *runCounters, done bool) {
	if o.reporter == nil {
		return
	}
	o.reporter.Update(progress.Snapshot{
		RunID:     runID,
		TS:        o.now(),
		Total:     total,
		Completed: int(counters.completed.Load()),
		Published: int(counters.published.Load()),
		Found:     int(counters.found.Load()),
		Monetized: int(counters.monetized.Load()),
		Failed:    int(counters.failed.Load()),
		Done:      done,
	})
}

// AnalyzePage runs a manual single-page analysis. Unlike batch processing,
// errors propagate to the caller for direct display.
func (o *Orchestrator) AnalyzePage(ctx context.Context, url string, opts intel.AnalyzeOptions) (intel.Result, error) {
	rec, ok := o.state.Get(url)
	if !ok {
		return intel.Result{}, fmt.Errorf("%w: %s", ErrUnknownPage, url)
	}
	page, err := o.fetcher.FetchByURL(ctx, url)
	if err != nil {
		return intel.Result{}, err
	}
	title := rec.Title
	if page.Title != "" {
		title = page.Title
	}
	if opts.FallbackImage == "" {
		opts.FallbackImage = o.cfg.FallbackImage
	}

	res := o.intel.Analyze(ctx, title, page.HTML, opts)
	proposed := res.Product.Clone()
	o.state.Update(url, func(r *monetize.PageRecord) {
		r.Proposed = &proposed
		r.Detected = res.Detected
		r.Confidence = res.Confidence
		if !proposed.Empty() {
			r.Pilot = monetize.PilotFound
		}
	})
	return res, nil
}

// PublishPage publishes the stored proposal for one page. Errors propagate
// to the caller.
func (o *Orchestrator) PublishPage(ctx context.Context, url string) (string, error) {
	rec, ok := o.state.Get(url)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownPage, url)
	}
	if rec.Proposed == nil || rec.Proposed.Empty() {
		return "", fmt.Errorf("no product proposal stored for %s", url)
	}

	link, err := o.publishProduct(ctx, "manual", url, *rec.Proposed)
	if err != nil {
		o.state.Update(url, func(r *monetize.PageRecord) {
			r.Pilot = monetize.PilotFailed
			r.ErrorText = err.Error()
		})
		return "", err
	}
	o.state.Update(url, func(r *monetize.PageRecord) {
		r.Monetization = monetize.StatusMonetized
		r.Pilot = monetize.PilotPublished
		r.PublishedURL = link
		r.ErrorText = ""
	})
	return link, nil
}

func (o *Orchestrator) runnerConfig() runner.Config {
	return runner.Config{
		Concurrency: o.cfg.Concurrency,
		WindowPause: o.cfg.WindowPause,
		Logger:      o.logger,
	}
}

func (o *Orchestrator) now() time.Time {
	if o.clock != nil {
		return o.clock.Now()
	}
	return time.Now().UTC()
}
