package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/posterwatch/internal/progress"
)

func TestLogSinkLevels(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.DebugLevel)
	sink := NewLogSink(zap.New(core))
	runID := progress.UUIDToBytes(uuid.New())
	now := time.Now()

	batch := []progress.Event{
		{RunID: runID, TS: now, Kind: progress.KindScanTesting, Index: 0, URL: "https://img/a.jpg"},
		{RunID: runID, TS: now, Kind: progress.KindScanResolved, Index: 0, Status: "error", Note: "status 404"},
		{TS: now, Kind: progress.KindLoaderLoaded, ResourceID: "m1"},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	entries := logs.All()
	require.Len(t, entries, 3)
	require.Equal(t, zap.DebugLevel, entries[0].Level)
	require.Equal(t, zap.WarnLevel, entries[1].Level)
	require.Equal(t, "status 404", entries[1].ContextMap()["note"])
	require.Equal(t, zap.InfoLevel, entries[2].Level)
	require.Equal(t, "m1", entries[2].ContextMap()["resource_id"])
	require.NoError(t, sink.Close(context.Background()))
}
