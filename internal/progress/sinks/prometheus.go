package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pagelift/monetizer/internal/progress"
)

// PrometheusSink exports pipeline progress as Prometheus metrics. Snapshots
// carry cumulative per-run counts, so the sink tracks the previous snapshot
// of each run and feeds only the deltas into its counters.
type PrometheusSink struct {
	runsStarted    prometheus.Counter
	runsCompleted  *prometheus.CounterVec
	runsRunning    prometheus.Gauge
	pagesCompleted prometheus.Counter
	pageOutcomes   *prometheus.CounterVec

	mu   sync.Mutex
	last map[string]progress.Snapshot
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "monetizer_runs_started_total",
			Help: "Total pipeline runs started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "monetizer_runs_completed_total",
			Help: "Total pipeline runs completed, partitioned by result.",
		}, []string{"result"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "monetizer_runs_running",
			Help: "Pipeline runs currently in flight.",
		}),
		pagesCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "monetizer_pages_completed_total",
			Help: "Pages that finished processing across all runs.",
		}),
		pageOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "monetizer_page_outcomes_total",
			Help: "Per-page terminal outcomes, partitioned by outcome.",
		}, []string{"outcome"}),
		last: make(map[string]progress.Snapshot),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsRunning,
		s.pagesCompleted,
		s.pageOutcomes,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from one snapshot.
func (s *PrometheusSink) Consume(_ context.Context, snap progress.Snapshot) error {
	if snap.RunID == "" {
		return nil
	}
	s.mu.Lock()
	prev, seen := s.last[snap.RunID]
	if snap.Done {
		delete(s.last, snap.RunID)
	} else {
		s.last[snap.RunID] = snap
	}
	s.mu.Unlock()

	if !seen {
		s.runsStarted.Inc()
		s.runsRunning.Inc()
	}
	s.addDelta(s.pagesCompleted, prev.Completed, snap.Completed)
	s.addOutcomeDelta("published", prev.Published, snap.Published)
	s.addOutcomeDelta("found", prev.Found, snap.Found)
	s.addOutcomeDelta("monetized", prev.Monetized, snap.Monetized)
	s.addOutcomeDelta("failed", prev.Failed, snap.Failed)

	if snap.Done {
		result := "success"
		if snap.Failed > 0 {
			result = "partial"
		}
		s.runsCompleted.WithLabelValues(result).Inc()
		s.runsRunning.Dec()
	}
	return nil
}

func (s *PrometheusSink) addDelta(c prometheus.Counter, prev, cur int) {
	if cur > prev {
		c.Add(float64(cur - prev))
	}
}

func (s *PrometheusSink) addOutcomeDelta(outcome string, prev, cur int) {
	if cur > prev {
		s.pageOutcomes.WithLabelValues(outcome).Add(float64(cur - prev))
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
