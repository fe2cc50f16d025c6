package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/opensyndicate/syndicate/internal/events"
)

// PrometheusSink exports delivery metrics via Prometheus. It owns all
// collectors for broadcasts started/completed/in-flight and per-platform
// post counters.
type PrometheusSink struct {
	broadcastsStarted   prometheus.Counter
	broadcastsCompleted *prometheus.CounterVec
	broadcastsInFlight  prometheus.Gauge
	broadcastDuration   *prometheus.HistogramVec

	postsTotal   *prometheus.CounterVec
	postDuration *prometheus.HistogramVec

	tracker *broadcastTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		broadcastsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "syndicate_broadcasts_started_total",
			Help: "Total broadcasts that have started.",
		}),
		broadcastsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "syndicate_broadcasts_completed_total",
			Help: "Total broadcasts completed partitioned by composite status class.",
		}, []string{"status_class"}),
		broadcastsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "syndicate_broadcasts_in_flight",
			Help: "Current number of running broadcasts.",
		}),
		broadcastDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "syndicate_broadcast_duration_seconds",
			Help:    "Wall time per completed broadcast.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"status_class"}),
		postsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "syndicate_platform_posts_total",
			Help: "Platform post completions partitioned by target and status class.",
		}, []string{"target", "status_class"}),
		postDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "syndicate_platform_post_duration_seconds",
			Help:    "Post duration partitioned by target and status class.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"target", "status_class"}),
		tracker: newBroadcastTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.broadcastsStarted,
		s.broadcastsCompleted,
		s.broadcastsInFlight,
		s.broadcastDuration,
		s.postsTotal,
		s.postDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register delivery collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []events.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt events.Event) {
	switch evt.Stage {
	case events.StageBroadcastStart:
		s.broadcastsStarted.Inc()
		if s.tracker.start(evt.BroadcastID) {
			s.broadcastsInFlight.Inc()
		}
	case events.StageBroadcastDone:
		class := statusClassOrOther(evt.StatusClass)
		s.broadcastsCompleted.WithLabelValues(class).Inc()
		if evt.Dur > 0 {
			s.broadcastDuration.WithLabelValues(class).Observe(evt.Dur.Seconds())
		}
		if s.tracker.complete(evt.BroadcastID) {
			s.broadcastsInFlight.Dec()
		}
	case events.StagePostDone, events.StagePostError:
		s.handlePostEvent(evt)
	}
}

func (s *PrometheusSink) handlePostEvent(evt events.Event) {
	target := evt.Target
	if target == "" {
		target = "unknown"
	}
	class := statusClassOrOther(evt.StatusClass)
	s.postsTotal.WithLabelValues(target, class).Inc()
	if evt.Dur > 0 {
		s.postDuration.WithLabelValues(target, class).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

func statusClassOrOther(class events.StatusClass) string {
	if class == "" {
		return string(events.StatusOther)
	}
	return string(class)
}

// broadcastTracker dedupes start/done pairs so restarts or replays cannot
// drive the in-flight gauge negative.
type broadcastTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newBroadcastTracker() *broadcastTracker {
	return &broadcastTracker{running: make(map[[16]byte]struct{})}
}

func (t *broadcastTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *broadcastTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
