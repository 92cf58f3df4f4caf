package index

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/entityidx/internal/async"
	"github.com/Aman-CERP/entityidx/internal/entry"
	"github.com/Aman-CERP/entityidx/internal/errors"
	"github.com/Aman-CERP/entityidx/internal/hook"
)

func newTestIndexer(t *testing.T, cfg Config, store *fakeStore, builder *fakeBuilder, handlers ...hook.Handler) *Indexer {
	t.Helper()
	ix, err := New(cfg, Deps{
		Resolver: store,
		Builder:  builder,
		Expander: NewCascadeExpander(store),
		Registry: registryWith(handlers...),
	})
	require.NoError(t, err)
	return ix
}

func TestNew_Validation(t *testing.T) {
	store := newFakeStore()
	builder := newFakeBuilder()

	_, err := New(Config{}, Deps{Builder: builder})
	assert.Error(t, err)

	_, err = New(Config{}, Deps{Resolver: store})
	assert.Error(t, err)

	_, err = New(Config{FilteredPolicy: "drop"}, Deps{Resolver: store, Builder: builder})
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.GetCode(err))

	ix, err := New(Config{}, Deps{Resolver: store, Builder: builder})
	require.NoError(t, err)
	assert.Equal(t, FilteredKeep, ix.Config().FilteredPolicy)
	assert.Equal(t, hook.TypeECA, ix.Config().HookType)
}

func TestReadDocs_StickyDeepFlagCascades(t *testing.T) {
	// Given: P1 has variants V1, V2 and V1 has a variant V11
	store := newFakeStore()
	store.link("P1", "V1", "V2")
	store.link("V1", "V11")
	rec := &recorder{name: "rec"}
	ix := newTestIndexer(t, Config{}, store, newFakeBuilder(), rec)

	// When: two adds for P1 arrive, deep then explicitly not deep
	res, err := ix.ReadDocs(context.Background(), []*entry.Entry{
		add("P1", entry.WithFlag(entry.FlagUpdateVariantsDeep, true)),
		add("P1", entry.WithFlag(entry.FlagUpdateVariantsDeep, false)),
	}, nil)
	require.NoError(t, err)

	// Then: one doc for P1 built with the deep flag, and the deep cascade
	assert.Equal(t, []string{"P1", "V1", "V2", "V11"}, ids(res.Docs))
	deep, ok := res.Docs[0].Doc().Get("deep")
	require.True(t, ok)
	assert.Equal(t, true, deep)
	assert.Equal(t, 1, rec.count(hook.PhaseDocAdd+":P1"))
	assert.True(t, res.Docs[1].Entry().IsImplied())
}

func TestReadDocs_ExplicitRemove(t *testing.T) {
	// Given: P2 exists in the store but is explicitly removed
	store := newFakeStore("P2")
	rec := &recorder{name: "rec"}
	ix := newTestIndexer(t, Config{}, store, newFakeBuilder(), rec)

	// When
	res, err := ix.ReadDocs(context.Background(), []*entry.Entry{rem("P2")}, nil)
	require.NoError(t, err)

	// Then: removed once, never built, never resolved
	assert.Equal(t, []string{"P2"}, entryIDs(res.Removals))
	assert.Empty(t, res.Docs)
	assert.Equal(t, 1, rec.count(hook.PhaseDocRemove+":P2"))
	assert.Empty(t, store.resolved)
	assert.Equal(t, 1, res.Status.NumRemoved())
}

func TestReadDocs_ExplicitAddOfMissingEntity(t *testing.T) {
	// Given: P3 is not in the store
	store := newFakeStore()
	rec := &recorder{name: "rec"}
	ix := newTestIndexer(t, Config{}, store, newFakeBuilder(), rec)

	// When
	res, err := ix.ReadDocs(context.Background(), []*entry.Entry{add("P3")}, nil)
	require.NoError(t, err)

	// Then: a general failure naming P3, no doc, no removal
	assert.Empty(t, res.Docs)
	assert.Empty(t, res.Removals)
	assert.Equal(t, 1, res.Status.GeneralFailures())
	failures := res.Status.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, "P3", failures[0].ID)
	assert.Contains(t, failures[0].Message, "P3")
	assert.Zero(t, rec.count(hook.PhaseDocRemove+":P3"))
}

func TestReadDocs_ImplicitRemoveOfMissingEntity(t *testing.T) {
	store := newFakeStore()
	rec := &recorder{name: "rec"}
	ix := newTestIndexer(t, Config{}, store, newFakeBuilder(), rec)

	res, err := ix.ReadDocs(context.Background(), []*entry.Entry{upd("gone")}, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"gone"}, entryIDs(res.Removals))
	assert.Equal(t, 1, rec.count(hook.PhaseDocRemove+":gone"))
	assert.Zero(t, res.Status.GeneralFailures())
}

func TestReadDocs_BatchesOfTwo(t *testing.T) {
	// Given: five identities, one filtered and one failing
	store := newFakeStore("a", "b", "c", "d", "e")
	builder := newFakeBuilder()
	builder.filtered["b"] = true
	builder.errs["d"] = fmt.Errorf("bad price")
	rec := &recorder{name: "rec"}
	ix := newTestIndexer(t, Config{BufSize: 2}, store, builder, rec)

	// When
	res, err := ix.ReadDocs(context.Background(), []*entry.Entry{
		upd("a"), upd("b"), upd("c"), upd("d"), upd("e"),
	}, nil)
	require.NoError(t, err)

	// Then: batches 2, 2, 1 and every identity is accounted for
	assert.Equal(t, 3, rec.count(hook.PhaseBeginBatch))
	assert.Equal(t, 3, rec.count(hook.PhaseEndBatch))
	st := res.Status
	assert.Equal(t, 5, st.NumDocs()+st.NumFiltered()+st.GeneralFailures())
	assert.Equal(t, 3, st.NumDocs())
	assert.Equal(t, 1, st.NumFiltered())
	assert.Equal(t, 1, st.GeneralFailures())
	assert.Equal(t, "5-5/5", st.ProgressString())
	assert.False(t, st.Aborted())
}

func TestReadDocs_FailureIsolation(t *testing.T) {
	// Given: the middle build fails with a recoverable error
	store := newFakeStore("a", "b", "c")
	builder := newFakeBuilder()
	builder.errs["b"] = errors.Recoverable(fmt.Errorf("missing category"))
	ix := newTestIndexer(t, Config{BufSize: 10}, store, builder)

	// When
	res, err := ix.ReadDocs(context.Background(), []*entry.Entry{upd("a"), upd("b"), upd("c")}, nil)

	// Then: the others are built and the pass completes
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, ids(res.Docs))
	assert.Equal(t, 1, res.Status.GeneralFailures())
	assert.Equal(t, "b", res.Status.Failures()[0].ID)
	assert.False(t, res.Status.Aborted())
}

func TestReadDocs_AbortBeforeSecondBatch(t *testing.T) {
	// Given: a hook raises stop at the end of the first batch
	store := newFakeStore("a", "b", "c", "d")
	signals := async.NewSignals()
	rec := &recorder{name: "rec", onEndBatch: func(*async.IndexingStatus) {
		signals.Set(async.SignalStop)
	}}
	ix := newTestIndexer(t, Config{BufSize: 2}, store, newFakeBuilder(), rec)

	// When
	res, err := ix.ReadDocs(context.Background(), []*entry.Entry{upd("a"), upd("b"), upd("c"), upd("d")}, signals)
	require.NoError(t, err)

	// Then: only the first batch ran, fully, and end still ran once
	assert.True(t, res.Status.Aborted())
	assert.Equal(t, []string{"a", "b"}, ids(res.Docs))
	assert.Equal(t, 1, rec.count(hook.PhaseBeginBatch))
	assert.Equal(t, 1, rec.count(hook.PhaseBegin))
	assert.Equal(t, 1, rec.count(hook.PhaseEnd))
	assert.Zero(t, res.Status.GeneralFailures())
}

func TestReadDocs_StopSetBeforeStart(t *testing.T) {
	store := newFakeStore("a")
	signals := async.NewSignals()
	signals.Set(async.SignalStop)
	rec := &recorder{name: "rec"}
	ix := newTestIndexer(t, Config{}, store, newFakeBuilder(), rec)

	res, err := ix.ReadDocs(context.Background(), []*entry.Entry{upd("a")}, signals)
	require.NoError(t, err)

	assert.True(t, res.Status.Aborted())
	assert.Empty(t, res.Docs)
	assert.Equal(t, []string{hook.PhaseBegin, hook.PhaseEnd}, rec.calls)
}

func TestReadDocs_ContextCancelAborts(t *testing.T) {
	store := newFakeStore("a")
	ix := newTestIndexer(t, Config{}, store, newFakeBuilder())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := ix.ReadDocs(ctx, []*entry.Entry{upd("a")}, nil)
	require.NoError(t, err)
	assert.True(t, res.Status.Aborted())
}

func TestReadDocs_LifecycleWhenEveryItemFails(t *testing.T) {
	store := newFakeStore("a", "b")
	builder := newFakeBuilder()
	builder.errs["a"] = fmt.Errorf("boom")
	builder.errs["b"] = fmt.Errorf("boom")
	rec1 := &recorder{name: "one"}
	rec2 := &recorder{name: "two"}
	ix := newTestIndexer(t, Config{BufSize: 1}, store, builder, rec1, rec2)

	res, err := ix.ReadDocs(context.Background(), []*entry.Entry{upd("a"), upd("b")}, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Status.GeneralFailures())
	for _, r := range []*recorder{rec1, rec2} {
		assert.Equal(t, 1, r.count(hook.PhaseBegin))
		assert.Equal(t, 1, r.count(hook.PhaseEnd))
		assert.Equal(t, 2, r.count(hook.PhaseBeginBatch))
	}
}

func TestReadDocs_EmptyInput(t *testing.T) {
	rec := &recorder{name: "rec"}
	ix := newTestIndexer(t, Config{BufSize: 2}, newFakeStore(), newFakeBuilder(), rec)

	res, err := ix.ReadDocs(context.Background(), nil, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{hook.PhaseBegin, hook.PhaseEnd}, rec.calls)
	assert.Zero(t, res.Status.Total())
	assert.False(t, res.Status.Aborted())
}

func TestReadDocs_AtMostOncePerIdentity(t *testing.T) {
	// Given: duplicates and a cascade that reaches an identity also queued
	store := newFakeStore("x")
	store.link("P", "V1")
	ix := newTestIndexer(t, Config{BufSize: 1}, store, newFakeBuilder())

	res, err := ix.ReadDocs(context.Background(), []*entry.Entry{
		upd("P", entry.WithFlag(entry.FlagUpdateVariants, true)),
		upd("V1"),
		upd("x"), upd("x"), rem("y"), rem("y"),
	}, nil)
	require.NoError(t, err)

	seen := map[string]int{}
	for _, id := range append(ids(res.Docs), entryIDs(res.Removals)...) {
		seen[id]++
	}
	for id, n := range seen {
		assert.Equal(t, 1, n, "identity %s emitted %d times", id, n)
	}
	assert.Equal(t, []string{"P", "V1", "x"}, ids(res.Docs))
	assert.Equal(t, []string{"y"}, entryIDs(res.Removals))
}

func TestReadDocs_FilteredPolicy(t *testing.T) {
	tests := []struct {
		name        string
		policy      FilteredPolicy
		in          *entry.Entry
		wantRemoved []string
	}{
		{"keep leaves index alone", FilteredKeep, upd("a"), nil},
		{"remove drops filtered doc", FilteredRemove, upd("a"), []string{"a"}},
		{"remove spares explicit add", FilteredRemove, add("a"), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore("a")
			builder := newFakeBuilder()
			builder.filtered["a"] = true
			ix := newTestIndexer(t, Config{FilteredPolicy: tt.policy}, store, builder)

			res, err := ix.ReadDocs(context.Background(), []*entry.Entry{tt.in}, nil)
			require.NoError(t, err)

			assert.Equal(t, 1, res.Status.NumFiltered())
			assert.Empty(t, res.Docs)
			if tt.wantRemoved == nil {
				assert.Empty(t, res.Removals)
			} else {
				assert.Equal(t, tt.wantRemoved, entryIDs(res.Removals))
			}
		})
	}
}

func TestReadDocs_FatalBuildErrorAborts(t *testing.T) {
	// Given: the second of three builds fails fatally
	store := newFakeStore("a", "b", "c")
	builder := newFakeBuilder()
	builder.errs["b"] = errors.Fatal(fmt.Errorf("schema mismatch"))
	rec := &recorder{name: "rec"}
	ix := newTestIndexer(t, Config{BufSize: 1}, store, builder, rec)

	// When
	res, err := ix.ReadDocs(context.Background(), []*entry.Entry{upd("a"), upd("b"), upd("c")}, nil)

	// Then: the pass stops with an error, completed batches kept
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
	assert.Equal(t, []string{"a"}, ids(res.Docs))
	assert.Equal(t, 1, res.Status.GeneralFailures())
	assert.Equal(t, 1, rec.count(hook.PhaseEnd))
	assert.NotContains(t, builder.built, "c")
}

func TestReadDocs_ExpansionFailure(t *testing.T) {
	// Given: relation lookups fail
	store := newFakeStore("P")
	store.relErr = fmt.Errorf("db down")
	rec := &recorder{name: "rec"}
	ix := newTestIndexer(t, Config{}, store, newFakeBuilder(), rec)

	// When
	res, err := ix.ReadDocs(context.Background(), []*entry.Entry{
		upd("P", entry.WithFlag(entry.FlagUpdateVirtual, true)),
	}, nil)

	// Then: no batch runs and one general failure is recorded
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeExpansionFailed, errors.GetCode(err))
	assert.Equal(t, 1, res.Status.GeneralFailures())
	assert.Empty(t, rec.calls)
	assert.Empty(t, res.Docs)
}

func TestReadDocs_HookFailureIsolated(t *testing.T) {
	store := newFakeStore("a", "b")
	bad := &recorder{name: "bad", failPhase: hook.PhaseDocAdd, failErr: fmt.Errorf("sink full")}
	good := &recorder{name: "good"}
	ix := newTestIndexer(t, Config{}, store, newFakeBuilder(), bad, good)

	res, err := ix.ReadDocs(context.Background(), []*entry.Entry{upd("a"), upd("b")}, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, ids(res.Docs))
	assert.Equal(t, 2, res.Status.HookFailures())
	assert.Zero(t, res.Status.GeneralFailures())
	assert.Equal(t, []string{"a", "b"}, good.adds())
	failures := res.Status.Failures()
	require.Len(t, failures, 2)
	assert.Equal(t, "bad", failures[0].Hook)
	assert.Equal(t, hook.PhaseDocAdd, failures[0].Phase)
}

func TestReadDocs_BeginAndEndHookFailuresIsolated(t *testing.T) {
	store := newFakeStore("a")
	badBegin := &recorder{name: "b1", failPhase: hook.PhaseBegin, failErr: fmt.Errorf("x")}
	badEnd := &recorder{name: "b2", failPhase: hook.PhaseEnd, failErr: fmt.Errorf("y")}
	ix := newTestIndexer(t, Config{}, store, newFakeBuilder(), badBegin, badEnd)

	res, err := ix.ReadDocs(context.Background(), []*entry.Entry{upd("a")}, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"a"}, ids(res.Docs))
	assert.Equal(t, 2, res.Status.HookFailures())
}

func TestReadDocs_FatalHookErrorIsStructural(t *testing.T) {
	store := newFakeStore("a", "b")
	fatal := &recorder{name: "fatal", failPhase: hook.PhaseDocAdd, failErr: errors.Fatal(fmt.Errorf("corrupt"))}
	ix := newTestIndexer(t, Config{BufSize: 1}, store, newFakeBuilder(), fatal)

	res, err := ix.ReadDocs(context.Background(), []*entry.Entry{upd("a"), upd("b")}, nil)

	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeHookFailed, errors.GetCode(err))
	assert.Equal(t, 1, fatal.count(hook.PhaseEnd))
	assert.Equal(t, 1, res.Status.GeneralFailures())
	assert.Zero(t, res.Status.HookFailures())
	assert.Empty(t, res.Docs, "output of an interrupted batch is discarded")
}

func TestReadDocs_ResolveErrorIsGeneralFailure(t *testing.T) {
	store := newFakeStore("a", "b")
	store.failOn["a"] = fmt.Errorf("timeout")
	ix := newTestIndexer(t, Config{}, store, newFakeBuilder())

	res, err := ix.ReadDocs(context.Background(), []*entry.Entry{upd("a"), upd("b")}, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"b"}, ids(res.Docs))
	assert.Equal(t, 1, res.Status.GeneralFailures())
}

func TestReadDocs_ResolvesAgainstStoreNotRef(t *testing.T) {
	// Given: an entry carrying a stale ref for an entity that no longer exists
	store := newFakeStore()
	ix := newTestIndexer(t, Config{}, store, newFakeBuilder())

	res, err := ix.ReadDocs(context.Background(), []*entry.Entry{
		upd("a", entry.WithRef(product("a"))),
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"a"}, store.resolved)
	assert.Equal(t, []string{"a"}, entryIDs(res.Removals))
}

func TestReadDocs_ParallelBuildKeepsOrder(t *testing.T) {
	// Given: early identities build slowest
	idsIn := []string{"a", "b", "c", "d", "e", "f"}
	store := newFakeStore(idsIn...)
	builder := newFakeBuilder()
	for i, id := range idsIn {
		builder.delay[id] = time.Duration(len(idsIn)-i) * 5 * time.Millisecond
	}
	builder.errs["c"] = fmt.Errorf("bad")
	rec := &recorder{name: "rec"}
	ix := newTestIndexer(t, Config{BufSize: 3, BuildWorkers: 3}, store, builder, rec)

	var entries []*entry.Entry
	for _, id := range idsIn {
		entries = append(entries, upd(id))
	}

	// When
	res, err := ix.ReadDocs(context.Background(), entries, nil)
	require.NoError(t, err)

	// Then: output and hook order follow the input
	want := []string{"a", "b", "d", "e", "f"}
	assert.Equal(t, want, ids(res.Docs))
	assert.Equal(t, want, rec.adds())
	assert.Equal(t, 1, res.Status.GeneralFailures())
}

func TestReadDocs_HookFactoryError(t *testing.T) {
	reg := hook.NewRegistry()
	reg.Register(hook.TypeECA, "broken", func() (hook.Handler, error) { return nil, fmt.Errorf("nope") })
	ix, err := New(Config{}, Deps{Resolver: newFakeStore("a"), Builder: newFakeBuilder(), Registry: reg})
	require.NoError(t, err)

	res, err := ix.ReadDocs(context.Background(), []*entry.Entry{upd("a")}, nil)

	require.Error(t, err)
	assert.Equal(t, 1, res.Status.GeneralFailures())
	assert.Empty(t, res.Docs)
}

func TestReadDocs_StatusFinished(t *testing.T) {
	ix := newTestIndexer(t, Config{}, newFakeStore("a"), newFakeBuilder())

	res, err := ix.ReadDocs(context.Background(), []*entry.Entry{upd("a")}, nil)
	require.NoError(t, err)

	res.Status.IncreaseNumDocs(10)
	snap := res.Status.Snapshot()
	assert.True(t, snap.Finished)
	assert.Equal(t, 1, snap.NumDocs)
}

func TestReadDocs_TopicHookRoutesOutput(t *testing.T) {
	topics := hook.NewTopicHook()
	store := newFakeStore("a")
	ix := newTestIndexer(t, Config{}, store, newFakeBuilder(), topics)

	_, err := ix.ReadDocs(context.Background(), []*entry.Entry{
		upd("a", entry.WithTopics("search")),
		rem("b", entry.WithTopics("search", "feed")),
	}, nil)
	require.NoError(t, err)

	routes := topics.ByTopic()
	assert.Equal(t, []string{"a"}, routes["search"].Added)
	assert.Equal(t, []string{"b"}, routes["search"].Removed)
	assert.Equal(t, []string{"b"}, routes["feed"].Removed)
}
