// Package progress coalesces pipeline state updates and fans them out to
// sinks at a bounded emission rate.
package progress

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Snapshot is the cumulative state of one pipeline run at a point in time.
// Intermediate snapshots supersede each other; only the latest matters.
type Snapshot struct {
	RunID     string    `json:"run_id"`
	TS        time.Time `json:"ts"`
	Total     int       `json:"total"`
	Completed int       `json:"completed"`
	Published int       `json:"published"`
	Found     int       `json:"found"`
	Monetized int       `json:"monetized"`
	Failed    int       `json:"failed"`
	Done      bool      `json:"done"`
	Note      string    `json:"note,omitempty"`
}

// Sink consumes coalesced snapshots. Implementations must be safe for
// repeated calls and honor ctx deadlines.
type Sink interface {
	Consume(ctx context.Context, s Snapshot) error
	Close(ctx context.Context) error
}

// Config controls the Reporter's emission rate.
type Config struct {
	// MinInterval is the minimum spacing between emissions (default 500ms,
	// about two per second).
	MinInterval time.Duration
	// SinkTimeout bounds each sink call (default 10s).
	SinkTimeout time.Duration
	// BaseContext is the parent context for sink calls.
	BaseContext context.Context
	Logger      *zap.Logger
}

// Reporter throttles high-frequency state updates down to a steady snapshot
// stream. Update never blocks the caller; superseded snapshots are dropped,
// and Flush emits the latest state unconditionally.
type Reporter struct {
	cfg    Config
	sinks  []Sink
	logger *zap.Logger

	mu      sync.Mutex
	pending *Snapshot

	stopCh    chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
}

// NewReporter starts the emission loop over the given sinks.
func NewReporter(cfg Config, sinks ...Sink) *Reporter {
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = 500 * time.Millisecond
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = 10 * time.Second
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Reporter{
		cfg:    cfg,
		sinks:  append([]Sink(nil), sinks...),
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	go r.run()
	return r
}

// Update records the latest snapshot, replacing any not-yet-emitted one.
func (r *Reporter) Update(s Snapshot) {
	if r == nil {
		return
	}
	if s.TS.IsZero() {
		s.TS = time.Now().UTC()
	}
	r.mu.Lock()
	r.pending = &s
	r.mu.Unlock()
}

// Flush emits the pending snapshot immediately, bypassing the rate limit.
// Batch ends call this so the terminal state is never lost to throttling.
func (r *Reporter) Flush() {
	if r == nil {
		return
	}
	r.emitPending()
}

// Close flushes once more, stops the loop, and closes every sink.
func (r *Reporter) Close(ctx context.Context) error {
	if r == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	r.closeOnce.Do(func() { close(r.stopCh) })
	select {
	case <-r.doneCh:
	case <-ctx.Done():
		return fmt.Errorf("progress reporter close wait: %w", ctx.Err())
	}
	for _, sink := range r.sinks {
		if err := sink.Close(ctx); err != nil {
			r.logger.Warn("progress sink close failed", zap.Error(err))
		}
	}
	return nil
}

func (r *Reporter) run() {
	defer close(r.doneCh)
	ticker := time.NewTicker(r.cfg.MinInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.emitPending()
		case <-r.stopCh:
			r.emitPending()
			return
		}
	}
}

func (r *Reporter) emitPending() {
	r.mu.Lock()
	s := r.pending
	r.pending = nil
	r.mu.Unlock()
	if s == nil {
		return
	}
	for _, sink := range r.sinks {
		ctx, cancel := context.WithTimeout(r.cfg.BaseContext, r.cfg.SinkTimeout)
		if err := sink.Consume(ctx, *s); err != nil {
			r.logger.Warn("progress sink consume failed", zap.Error(err))
		}
		cancel()
	}
}
