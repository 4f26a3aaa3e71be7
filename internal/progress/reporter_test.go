package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type captureSink struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (c *captureSink) Consume(_ context.Context, s Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snaps = append(c.snaps, s)
	return nil
}

func (c *captureSink) Close(context.Context) error { return nil }

func (c *captureSink) all() []Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Snapshot(nil), c.snaps...)
}

func TestReporter_CoalescesBursts(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	r := NewReporter(Config{MinInterval: 100 * time.Millisecond}, sink)
	defer func() { _ = r.Close(context.Background()) }()

	for i := 1; i <= 50; i++ {
		r.Update(Snapshot{RunID: "run-1", Total: 50, Completed: i})
	}
	require.Eventually(t, func() bool {
		return len(sink.all()) >= 1
	}, 2*time.Second, 10*time.Millisecond)

	time.Sleep(150 * time.Millisecond)
	snaps := sink.all()
	require.LessOrEqual(t, len(snaps), 3, "a burst of 50 updates must coalesce to a few emissions")
	require.Equal(t, 50, snaps[len(snaps)-1].Completed, "the latest update wins")
}

func TestReporter_FlushBypassesThrottle(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	r := NewReporter(Config{MinInterval: time.Hour}, sink)
	defer func() { _ = r.Close(context.Background()) }()

	r.Update(Snapshot{RunID: "run-1", Total: 3, Completed: 3, Done: true})
	r.Flush()

	snaps := sink.all()
	require.Len(t, snaps, 1)
	require.True(t, snaps[0].Done)
}

func TestReporter_CloseEmitsPending(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	r := NewReporter(Config{MinInterval: time.Hour}, sink)

	r.Update(Snapshot{RunID: "run-1", Completed: 7})
	require.NoError(t, r.Close(context.Background()))

	snaps := sink.all()
	require.Len(t, snaps, 1)
	require.Equal(t, 7, snaps[0].Completed)
}
