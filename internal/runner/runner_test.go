package runner

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRun_CollectsOnlySuccessfulResults(t *testing.T) {
	t.Parallel()

	items := []int{1, 2, 3, 4, 5, 6}
	got := Run(context.Background(), Config{Concurrency: 2}, items, nil,
		func(_ context.Context, n int) (int, error) {
			if n%2 == 0 {
				return 0, errors.New("even numbers fail")
			}
			return n * 10, nil
		})

	sort.Ints(got)
	require.Equal(t, []int{10, 30, 50}, got)
}

func TestRun_NeverExceedsWindowSize(t *testing.T) {
	t.Parallel()

	const limit = 3
	var inFlight, peak atomic.Int64
	var mu sync.Mutex

	items := make([]int, 20)
	Run(context.Background(), Config{Concurrency: limit}, items, nil,
		func(_ context.Context, n int) (int, error) {
			cur := inFlight.Add(1)
			mu.Lock()
			if cur > peak.Load() {
				peak.Store(cur)
			}
			mu.Unlock()
			defer inFlight.Add(-1)
			return n, nil
		})

	require.LessOrEqual(t, peak.Load(), int64(limit))
}

func TestRun_PanicIsIsolated(t *testing.T) {
	t.Parallel()

	got := Run(context.Background(), Config{Concurrency: 2}, []int{1, 2, 3}, nil,
		func(_ context.Context, n int) (int, error) {
			if n == 2 {
				panic("boom")
			}
			return n, nil
		})

	sort.Ints(got)
	require.Equal(t, []int{1, 3}, got)
}

func TestRun_StopTokenShortCircuitsLaterWindows(t *testing.T) {
	t.Parallel()

	stop := &Token{}
	var ran atomic.Int64

	items := make([]int, 10)
	Run(context.Background(), Config{Concurrency: 2}, items, stop,
		func(_ context.Context, n int) (int, error) {
			ran.Add(1)
			stop.Stop()
			return n, nil
		})

	// The first window runs to completion; nothing after it starts.
	require.LessOrEqual(t, ran.Load(), int64(2))
}

func TestRun_ContextCancelStopsDispatch(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got := Run(ctx, Config{Concurrency: 4}, []int{1, 2, 3}, nil,
		func(context.Context, int) (int, error) { return 0, nil })
	require.Empty(t, got)
}

func TestToken_NilIsSafe(t *testing.T) {
	t.Parallel()

	var tok *Token
	require.False(t, tok.Stopped())
	tok.Stop()
}
