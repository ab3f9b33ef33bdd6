package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	id, err := store.Start(ctx, "amazon")
	require.NoError(t, err)

	entry, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusStarted, entry.Status)
	assert.Nil(t, entry.FinishedAt)

	require.NoError(t, store.RecordError(ctx, id, "page 3", errors.New("timeout")))

	counts := Counts{Found: 40, Created: 5, Updated: 10, Unchanged: 25, Deactivated: 2}
	require.NoError(t, store.Complete(ctx, id, counts, StatusCompleted))

	entry, err = store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, entry.Status)
	require.NotNil(t, entry.FinishedAt)
	assert.Equal(t, counts, entry.Counts)
	require.Len(t, entry.Errors, 1)
	assert.Equal(t, "page 3", entry.Errors[0].Context)
	assert.Equal(t, "timeout", entry.Errors[0].Message)
}

func TestFinalizeOnlyOnce(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	id, err := store.Start(ctx, "amazon")
	require.NoError(t, err)
	require.NoError(t, store.Complete(ctx, id, Counts{}, StatusCompleted))

	assert.Error(t, store.Complete(ctx, id, Counts{}, StatusCompleted))
	assert.Error(t, store.Fail(ctx, id, Counts{}, "boom"))

	entry, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, entry.Status)
}

func TestFailKeepsMessage(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	id, err := store.Start(ctx, "flipkart")
	require.NoError(t, err)
	require.NoError(t, store.Fail(ctx, id, Counts{Found: 3}, "too many consecutive errors"))

	entry, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, entry.Status)
	assert.Equal(t, "too many consecutive errors", entry.Message)
	assert.Equal(t, 3, entry.Counts.Found)
}

func TestCompleteRejectsTerminalMismatch(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	id, err := store.Start(ctx, "amazon")
	require.NoError(t, err)
	assert.Error(t, store.Complete(ctx, id, Counts{}, StatusFailed))
	assert.Error(t, store.Complete(ctx, id, Counts{}, StatusStarted))
}

func TestRecentAndStats(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	clock := base
	store.SetClock(func() time.Time { return clock })

	for i := 0; i < 3; i++ {
		clock = base.Add(time.Duration(i) * 10 * time.Minute)
		id, err := store.Start(ctx, "amazon")
		require.NoError(t, err)
		clock = clock.Add(2 * time.Minute)
		if i == 2 {
			require.NoError(t, store.Fail(ctx, id, Counts{}, "blocked"))
		} else {
			require.NoError(t, store.Complete(ctx, id, Counts{Found: 10}, StatusCompleted))
		}
	}

	recent, err := store.Recent(ctx, "amazon", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.True(t, recent[0].StartedAt.After(recent[1].StartedAt))

	stats, err := store.StatsFor(ctx, "amazon", base.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalRuns)
	assert.Equal(t, 2, stats.Completed)
	assert.Equal(t, 1, stats.Failed)
	assert.InDelta(t, 2.0/3.0, stats.SuccessRate, 0.001)
	assert.Equal(t, 2*time.Minute, stats.AvgDuration)
}

func TestCleanupRemovesFinishedRuns(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	old := time.Now().Add(-48 * time.Hour)
	clock := old
	store.SetClock(func() time.Time { return clock })

	oldID, err := store.Start(ctx, "amazon")
	require.NoError(t, err)
	require.NoError(t, store.Complete(ctx, oldID, Counts{}, StatusCompleted))

	clock = time.Now()
	openID, err := store.Start(ctx, "amazon")
	require.NoError(t, err)

	count, err := store.Cleanup(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	gone, err := store.Get(ctx, oldID)
	require.NoError(t, err)
	assert.Nil(t, gone)

	// Open runs survive cleanup regardless of age
	kept, err := store.Get(ctx, openID)
	require.NoError(t, err)
	assert.NotNil(t, kept)
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "45s", FormatDuration(45*time.Second))
	assert.Equal(t, "3m 5s", FormatDuration(3*time.Minute+5*time.Second))
	assert.Equal(t, "1h 0m 12s", FormatDuration(time.Hour+12*time.Second))
	assert.Equal(t, "0s", FormatDuration(0))
}
