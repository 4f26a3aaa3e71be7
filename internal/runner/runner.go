// Package runner provides a generic windowed bounded-concurrency executor.
// It knows nothing about pipeline semantics.
package runner

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Token is a cooperative stop flag shared between a caller and in-flight
// workers. Workers poll it; a window already dispatched runs to completion.
type Token struct {
	stopped atomic.Bool
}

// Stop sets the flag. Safe to call from any goroutine, any number of times.
func (t *Token) Stop() {
	if t != nil {
		t.stopped.Store(true)
	}
}

// Stopped reports whether Stop has been called.
func (t *Token) Stopped() bool {
	return t != nil && t.stopped.Load()
}

// Config controls Run behavior.
type Config struct {
	// Concurrency is the window size; values below 1 are treated as 1.
	Concurrency int
	// WindowPause is slept between windows to avoid saturating remote hosts.
	WindowPause time.Duration
	// Logger receives worker failure records; nil means silent.
	Logger *zap.Logger
}

// Run partitions items into sequential windows of Config.Concurrency and
// executes all items of a window in parallel. A worker that fails or panics
// is logged and excluded from the results; one item never aborts the batch.
// Results preserve no ordering contract beyond window boundaries.
func Run[T, R any](
	ctx context.Context,
	cfg Config,
	items []T,
	stop *Token,
	work func(ctx context.Context, item T) (R, error),
) []R {
	limit := cfg.Concurrency
	if limit < 1 {
		limit = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	results := make([]R, 0, len(items))
	var mu sync.Mutex

	for start := 0; start < len(items); start += limit {
		if ctx.Err() != nil || stop.Stopped() {
			break
		}
		end := start + limit
		if end > len(items) {
			end = len(items)
		}

		var wg sync.WaitGroup
		for _, item := range items[start:end] {
			wg.Add(1)
			go func(item T) {
				defer wg.Done()
				r, ok := runOne(ctx, logger, stop, item, work)
				if !ok {
					return
				}
				mu.Lock()
				results = append(results, r)
				mu.Unlock()
			}(item)
		}
		wg.Wait()

		if end < len(items) && cfg.WindowPause > 0 && ctx.Err() == nil && !stop.Stopped() {
			pause(ctx, cfg.WindowPause)
		}
	}
	return results
}

func runOne[T, R any](
	ctx context.Context,
	logger *zap.Logger,
	stop *Token,
	item T,
	work func(ctx context.Context, item T) (R, error),
) (result R, ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("worker panicked", zap.String("panic", fmt.Sprint(rec)))
			ok = false
		}
	}()
	if stop.Stopped() || ctx.Err() != nil {
		return result, false
	}
	r, err := work(ctx, item)
	if err != nil {
		logger.Warn("worker failed", zap.Error(err))
		return result, false
	}
	return r, true
}

func pause(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
