package sinks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/jobharvest/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures counters and histograms follow the event stream.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	runID := progress.UUIDToBytes(uuid.New())
	now := time.Now()
	batch := []progress.Event{
		{RunID: runID, TS: now, Stage: progress.StageRunStart, Records: 2},
		{RunID: runID, TS: now, Stage: progress.StageTargetPage, Strategy: "wave", Target: "acme", Records: 20, Dur: 200 * time.Millisecond},
		{RunID: runID, TS: now, Stage: progress.StageTargetPage, Strategy: "wave", Target: "acme", Offset: 20, Records: 5},
		{RunID: runID, TS: now, Stage: progress.StageTargetDone, Strategy: "wave", Target: "acme", Records: 25, Note: "short_page"},
		{RunID: runID, TS: now, Stage: progress.StageTargetError, Strategy: "one_shot", Target: "globex", Note: "boom"},
		{RunID: runID, TS: now, Stage: progress.StageJobSaved, Target: "acme", Note: "wd-1"},
		{RunID: runID, TS: now, Stage: progress.StageRunDone, Dur: 45 * time.Second},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsCompleted))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsRunning))
	require.Equal(t, 2.0, testutil.ToFloat64(sink.pages.WithLabelValues("wave", "acme")))
	require.InDelta(t, 25.0, testutil.ToFloat64(sink.pageRecords.WithLabelValues("wave", "acme")), 1e-9)
	require.Equal(t, 1.0, testutil.ToFloat64(sink.targetsDone.WithLabelValues("wave", "short_page")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.targetsFailed.WithLabelValues("one_shot", "globex")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.jobsSaved.WithLabelValues("acme")))
	require.Equal(t, 1, testutil.CollectAndCount(sink.pageDuration, "jobharvest_page_fetch_seconds"))
}

func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
	var already prometheus.AlreadyRegisteredError
	require.True(t, errors.As(err, &already))
}

func TestLogSinkLevels(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.DebugLevel)
	sink := NewLogSink(zap.New(core))
	runID := progress.UUIDToBytes(uuid.New())
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, TS: time.Now(), Stage: progress.StageTargetPage, Target: "acme", Offset: 40},
		{RunID: runID, TS: time.Now(), Stage: progress.StageTargetError, Target: "acme", Note: "boom"},
		{RunID: runID, TS: time.Now(), Stage: progress.StageRunDone},
	}))

	entries := logs.All()
	require.Len(t, entries, 3)
	require.Equal(t, zap.DebugLevel, entries[0].Level)
	require.EqualValues(t, 40, entries[0].ContextMap()["offset"])
	require.Equal(t, zap.WarnLevel, entries[1].Level)
	require.Equal(t, "boom", entries[1].ContextMap()["note"])
	require.Equal(t, zap.InfoLevel, entries[2].Level)
}
