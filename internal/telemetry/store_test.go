package telemetry

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T, limit int) *SQLiteHistoryStore {
	t.Helper()
	s, err := OpenHistoryStore("", limit)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func record(hookType string, at time.Time, docs int) PassRecord {
	return PassRecord{
		HookType:   hookType,
		FinishedAt: at,
		Elapsed:    250 * time.Millisecond,
		Entries:    docs + 1,
		Docs:       docs,
		Removed:    1,
	}
}

func TestHistoryStore_RecordAndRecent(t *testing.T) {
	// Given: two recorded passes
	s := newTestStore(t, 0)
	ctx := context.Background()
	first := record("eca", day, 3)
	second := record("manual", day.Add(time.Minute), 10)
	second.Aborted = true
	second.HookFailures = 2
	require.NoError(t, s.Record(ctx, first))
	require.NoError(t, s.Record(ctx, second))

	// When
	recent, err := s.Recent(ctx, 10)

	// Then: newest first, every field round-trips
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "manual", recent[0].HookType)
	assert.True(t, recent[0].Aborted)
	assert.Equal(t, 2, recent[0].Failures())
	assert.Equal(t, 250*time.Millisecond, recent[0].Elapsed)
	assert.True(t, second.FinishedAt.Equal(recent[0].FinishedAt))
	assert.Equal(t, first.Docs, recent[1].Docs)
	assert.Equal(t, first.Entries, recent[1].Entries)
}

func TestHistoryStore_TrimsToLimit(t *testing.T) {
	s := newTestStore(t, 3)
	ctx := context.Background()

	for i := range 5 {
		require.NoError(t, s.Record(ctx, record("eca", day.Add(time.Duration(i)*time.Minute), i)))
	}

	recent, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, []int{4, 3, 2}, []int{recent[0].Docs, recent[1].Docs, recent[2].Docs})

	// Daily aggregates are not trimmed
	daily, err := s.Daily(ctx, day, day)
	require.NoError(t, err)
	require.Len(t, daily, 1)
	assert.Equal(t, int64(5), daily[0].Passes)
	assert.Equal(t, int64(0+1+2+3+4), daily[0].Docs)
}

func TestHistoryStore_DailyByHookType(t *testing.T) {
	s := newTestStore(t, 0)
	ctx := context.Background()
	aborted := record("manual", day, 1)
	aborted.Aborted = true
	aborted.GeneralFailures = 4
	require.NoError(t, s.Record(ctx, record("eca", day, 2)))
	require.NoError(t, s.Record(ctx, aborted))
	require.NoError(t, s.Record(ctx, record("eca", day.AddDate(0, 0, 1), 7)))

	daily, err := s.Daily(ctx, day, day)

	require.NoError(t, err)
	assert.Equal(t, []DailyStats{
		{Date: "2026-03-14", HookType: "eca", Passes: 1, Docs: 2, Removed: 1},
		{Date: "2026-03-14", HookType: "manual", Passes: 1, Docs: 1, Removed: 1, Failures: 4, Aborted: 1},
	}, daily)
}

func TestHistoryStore_Durations(t *testing.T) {
	s := newTestStore(t, 0)
	ctx := context.Background()
	slow := record("eca", day, 1)
	slow.Elapsed = 2 * time.Minute
	require.NoError(t, s.Record(ctx, record("eca", day, 1)))
	require.NoError(t, s.Record(ctx, record("eca", day, 1)))
	require.NoError(t, s.Record(ctx, slow))

	counts, err := s.Durations(ctx, day, day)

	require.NoError(t, err)
	assert.Equal(t, map[DurationBucket]int64{BucketSub1s: 2, BucketLong: 1}, counts)
}

func TestHistoryStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := OpenHistoryStore(path, 0)
	require.NoError(t, err)
	require.NoError(t, s.Record(context.Background(), record("eca", day, 1)))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "close is idempotent")

	reopened, err := OpenHistoryStore(path, 0)
	require.NoError(t, err)
	defer reopened.Close()
	recent, err := reopened.Recent(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, recent, 1)
}

func TestHistoryStore_ClosedErrors(t *testing.T) {
	s, err := OpenHistoryStore("", 0)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	assert.Error(t, s.Record(context.Background(), record("eca", day, 1)))
	_, err = s.Recent(context.Background(), 1)
	assert.Error(t, err)
}
