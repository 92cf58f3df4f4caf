package queue

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/entityidx/internal/entry"
)

func queues(t *testing.T) map[string]Queue {
	t.Helper()
	sq, err := OpenSQLite("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sq.Close() })
	return map[string]Queue{
		"mem":    NewMemQueue(),
		"sqlite": sq,
	}
}

func ids(items []Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Entry.ID()
	}
	return out
}

func TestQueue_DrainInArrivalOrder(t *testing.T) {
	ctx := context.Background()
	for name, q := range queues(t) {
		t.Run(name, func(t *testing.T) {
			// Given: three entries enqueued
			require.NoError(t, q.Enqueue(ctx,
				entry.New(entry.KindProduct, "a", entry.ActionAdd),
				entry.New(entry.KindProduct, "b", entry.ActionNone),
				entry.New(entry.KindProduct, "c", entry.ActionRemove),
			))

			// When: draining two
			items, err := q.Drain(ctx, 2)
			require.NoError(t, err)

			// Then: the oldest two are claimed
			assert.Equal(t, []string{"a", "b"}, ids(items))
			n, err := q.Len(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			rest, err := q.Drain(ctx, 0)
			require.NoError(t, err)
			assert.Equal(t, []string{"c"}, ids(rest))
		})
	}
}

func TestQueue_AckRemoves(t *testing.T) {
	ctx := context.Background()
	for name, q := range queues(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, q.Enqueue(ctx, entry.New(entry.KindProduct, "a", entry.ActionAdd)))
			items, err := q.Drain(ctx, 0)
			require.NoError(t, err)

			require.NoError(t, q.Ack(ctx, items))
			require.NoError(t, q.Requeue(ctx, items))

			n, err := q.Len(ctx)
			require.NoError(t, err)
			assert.Zero(t, n)
		})
	}
}

func TestQueue_RequeueRestoresOrder(t *testing.T) {
	ctx := context.Background()
	for name, q := range queues(t) {
		t.Run(name, func(t *testing.T) {
			// Given: a claimed pair and a later arrival
			require.NoError(t, q.Enqueue(ctx,
				entry.New(entry.KindProduct, "a", entry.ActionAdd),
				entry.New(entry.KindProduct, "b", entry.ActionAdd)))
			items, err := q.Drain(ctx, 0)
			require.NoError(t, err)
			require.NoError(t, q.Enqueue(ctx, entry.New(entry.KindProduct, "c", entry.ActionAdd)))

			// When: the pass fails and requeues
			require.NoError(t, q.Requeue(ctx, items))

			// Then: the requeued entries come first again
			again, err := q.Drain(ctx, 0)
			require.NoError(t, err)
			assert.Equal(t, []string{"a", "b", "c"}, ids(again))
		})
	}
}

func TestSQLiteQueue_RoundTripsEntryFields(t *testing.T) {
	ctx := context.Background()
	q, err := OpenSQLite("")
	require.NoError(t, err)
	defer q.Close()

	in := entry.New(entry.KindProduct, "p1", entry.ActionRemove,
		entry.WithTime(42),
		entry.WithTopics("search", "feed"),
		entry.WithFlush(entry.FlushAll),
		entry.WithFlag(entry.FlagUpdateVariantsDeep, true),
		entry.WithFlag(entry.FlagUpdateVirtual, false))
	require.NoError(t, q.Enqueue(ctx, in))

	items, err := q.Drain(ctx, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	out := items[0].Entry

	assert.Equal(t, entry.KindProduct, out.Kind())
	assert.Equal(t, "p1", out.ID())
	assert.Equal(t, entry.ActionRemove, out.Action())
	assert.Equal(t, int64(42), out.Time())
	assert.Equal(t, []string{"search", "feed"}, out.Topics())
	assert.Equal(t, entry.FlushAll, out.Flush())
	assert.True(t, out.Flag(entry.FlagUpdateVariants))
	v, set := out.FlagState(entry.FlagUpdateVirtual)
	assert.True(t, set)
	assert.False(t, v)
}

func TestSQLiteQueue_ReopenReleasesClaims(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "queue.db")

	// Given: a consumer that drained and died without ack
	q, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(ctx, entry.New(entry.KindProduct, "a", entry.ActionAdd)))
	_, err = q.Drain(ctx, 0)
	require.NoError(t, err)
	require.NoError(t, q.Close())

	// When: the queue is reopened
	q, err = OpenSQLite(path)
	require.NoError(t, err)
	defer q.Close()

	// Then: the entry is drainable again
	items, err := q.Drain(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(items))
}

func TestSQLiteQueue_ClosedErrors(t *testing.T) {
	q, err := OpenSQLite("")
	require.NoError(t, err)
	require.NoError(t, q.Close())
	require.NoError(t, q.Close())

	err = q.Enqueue(context.Background(), entry.New(entry.KindProduct, "a", entry.ActionAdd))
	assert.Error(t, err)
}

func TestEntries(t *testing.T) {
	a := entry.New(entry.KindProduct, "a", entry.ActionAdd)
	b := entry.New(entry.KindProduct, "b", entry.ActionAdd)
	assert.Equal(t, []*entry.Entry{a, b}, Entries([]Item{{Seq: 1, Entry: a}, {Seq: 2, Entry: b}}))
}
