package models_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/krxwatch/disclosure-radar/backend/internal/models"
)

func TestBuildRecordIDDeterministic(t *testing.T) {
	id1 := models.BuildRecordID("kind", "2026-02-01", 3)
	id2 := models.BuildRecordID("kind", "2026-02-01", 3)
	require.NotEmpty(t, id1)
	require.Equal(t, id1, id2)

	require.NotEqual(t, id1, models.BuildRecordID("kind", "2026-02-01", 4))
	require.NotEqual(t, id1, models.BuildRecordID("kind", "2026-02-02", 3))
	require.NotEqual(t, id1, models.BuildRecordID("dart", "2026-02-01", 3))
}

func TestTimeBucketOf(t *testing.T) {
	seoul, err := time.LoadLocation("Asia/Seoul")
	require.NoError(t, err)

	ts := time.Date(2026, 2, 15, 10, 30, 0, 0, seoul)
	require.Equal(t, "2026-02", models.TimeBucketOf(ts, seoul))

	// Late UTC evening is already the next day (and possibly month) in Seoul.
	utcEdge := time.Date(2026, 1, 31, 20, 0, 0, 0, time.UTC)
	require.Equal(t, "2026-02", models.TimeBucketOf(utcEdge, seoul))

	require.Equal(t, "2026-01", models.TimeBucketOf(utcEdge, nil))
}

func TestExecStateTerminal(t *testing.T) {
	require.True(t, models.ExecCompleted.Terminal())
	require.True(t, models.ExecFailed.Terminal())
	require.False(t, models.ExecPending.Terminal())
	require.False(t, models.ExecRunning.Terminal())
}
