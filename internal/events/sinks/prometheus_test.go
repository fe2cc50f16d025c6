package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/opensyndicate/syndicate/internal/events"
)

// TestPrometheusSinkRecordsMetrics ensures counters and histograms are incremented from events.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	id := events.UUIDToBytes(uuid.New())
	batch := []events.Event{
		{BroadcastID: id, TS: time.Now(), Stage: events.StageBroadcastStart},
		{
			BroadcastID: id,
			TS:          time.Now().Add(time.Second),
			Stage:       events.StagePostDone,
			Target:      "mastodon",
			StatusClass: events.Status2xx,
			Dur:         150 * time.Millisecond,
		},
		{
			BroadcastID: id,
			TS:          time.Now().Add(time.Second),
			Stage:       events.StagePostError,
			Target:      "bluesky",
			StatusClass: events.Status5xx,
			Dur:         300 * time.Millisecond,
			Note:        "upstream status 500",
		},
		{
			BroadcastID: id,
			TS:          time.Now().Add(2 * time.Second),
			Stage:       events.StageBroadcastDone,
			StatusClass: events.Status5xx,
			Dur:         2 * time.Second,
		},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.broadcastsStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.broadcastsCompleted.WithLabelValues(string(events.Status5xx))))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.broadcastsCompleted.WithLabelValues(string(events.Status2xx))))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.broadcastsInFlight))

	require.InDelta(t, 1.0, testutil.ToFloat64(sink.postsTotal.WithLabelValues("mastodon", string(events.Status2xx))), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.postsTotal.WithLabelValues("bluesky", string(events.Status5xx))), 1e-9)
	require.Equal(t, 2, testutil.CollectAndCount(sink.postDuration, "syndicate_platform_post_duration_seconds"))
}

// TestPrometheusSinkTrackerDedupes verifies duplicate start events cannot inflate the gauge.
func TestPrometheusSinkTrackerDedupes(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	id := events.UUIDToBytes(uuid.New())
	start := events.Event{BroadcastID: id, TS: time.Now(), Stage: events.StageBroadcastStart}
	require.NoError(t, sink.Consume(context.Background(), []events.Event{start, start}))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.broadcastsInFlight))

	done := events.Event{BroadcastID: id, TS: time.Now(), Stage: events.StageBroadcastDone, StatusClass: events.Status2xx}
	require.NoError(t, sink.Consume(context.Background(), []events.Event{done, done}))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.broadcastsInFlight))
}
