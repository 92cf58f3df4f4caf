package index

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Aman-CERP/entityidx/internal/async"
	"github.com/Aman-CERP/entityidx/internal/entry"
	"github.com/Aman-CERP/entityidx/internal/hook"
)

type fakeEntity struct {
	kind string
	id   string
}

func (e fakeEntity) Kind() string { return e.kind }
func (e fakeEntity) ID() string   { return e.id }

func product(id string) Entity { return fakeEntity{kind: entry.KindProduct, id: id} }

// fakeStore resolves the ids it holds and knows parent/child links.
type fakeStore struct {
	mu       sync.Mutex
	exists   map[string]bool
	children map[string][]string
	parents  map[string][]string
	resolved []string
	failOn   map[string]error
	relErr   error
}

func newFakeStore(ids ...string) *fakeStore {
	s := &fakeStore{
		exists:   make(map[string]bool),
		children: make(map[string][]string),
		parents:  make(map[string][]string),
		failOn:   make(map[string]error),
	}
	for _, id := range ids {
		s.exists[id] = true
	}
	return s
}

func (s *fakeStore) link(parent string, children ...string) {
	s.children[parent] = append(s.children[parent], children...)
	for _, c := range children {
		s.parents[c] = append(s.parents[c], parent)
		s.exists[c] = true
	}
	s.exists[parent] = true
}

func (s *fakeStore) Resolve(_ context.Context, kind, id string) (Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolved = append(s.resolved, id)
	if err := s.failOn[id]; err != nil {
		return nil, err
	}
	if !s.exists[id] {
		return nil, nil
	}
	return fakeEntity{kind: kind, id: id}, nil
}

func (s *fakeStore) Children(_ context.Context, _, id string) ([]string, error) {
	if s.relErr != nil {
		return nil, s.relErr
	}
	return s.children[id], nil
}

func (s *fakeStore) Parents(_ context.Context, _, id string) ([]string, error) {
	if s.relErr != nil {
		return nil, s.relErr
	}
	return s.parents[id], nil
}

// fakeBuilder builds a one-field document per entity.
type fakeBuilder struct {
	mu       sync.Mutex
	errs     map[string]error
	filtered map[string]bool
	delay    map[string]time.Duration
	built    []string
}

func newFakeBuilder() *fakeBuilder {
	return &fakeBuilder{
		errs:     make(map[string]error),
		filtered: make(map[string]bool),
		delay:    make(map[string]time.Duration),
	}
}

func (b *fakeBuilder) Build(_ context.Context, entity Entity, e *entry.Entry, _ time.Time) (Built, error) {
	b.mu.Lock()
	d := b.delay[entity.ID()]
	err := b.errs[entity.ID()]
	filtered := b.filtered[entity.ID()]
	b.mu.Unlock()

	if d > 0 {
		time.Sleep(d)
	}

	b.mu.Lock()
	b.built = append(b.built, entity.ID())
	b.mu.Unlock()

	if err != nil {
		return Built{}, err
	}
	if filtered {
		return Built{}, nil
	}
	doc := NewDocument().Set("id", entity.ID()).Set("deep", e.Flag(entry.FlagUpdateVariantsDeep))
	return Built{Doc: doc}, nil
}

// recorder logs every hook call as "phase:id".
type recorder struct {
	name  string
	mu    sync.Mutex
	calls []string

	failPhase  string
	failErr    error
	onEndBatch func(status *async.IndexingStatus)
}

func (r *recorder) Name() string { return r.name }

func (r *recorder) record(call string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
	phase := call
	for i := range call {
		if call[i] == ':' {
			phase = call[:i]
			break
		}
	}
	if phase == r.failPhase {
		return r.failErr
	}
	return nil
}

func (r *recorder) Begin(*async.IndexingStatus) error      { return r.record(hook.PhaseBegin) }
func (r *recorder) BeginBatch(*async.IndexingStatus) error { return r.record(hook.PhaseBeginBatch) }
func (r *recorder) ProcessDocAdd(_ *async.IndexingStatus, doc hook.Doc) error {
	return r.record(hook.PhaseDocAdd + ":" + doc.ID())
}
func (r *recorder) ProcessDocRemove(_ *async.IndexingStatus, e *entry.Entry) error {
	return r.record(hook.PhaseDocRemove + ":" + e.ID())
}
func (r *recorder) EndBatch(status *async.IndexingStatus) error {
	err := r.record(hook.PhaseEndBatch)
	if r.onEndBatch != nil {
		r.onEndBatch(status)
	}
	return err
}
func (r *recorder) End(*async.IndexingStatus) error { return r.record(hook.PhaseEnd) }

func (r *recorder) count(call string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (r *recorder) adds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, c := range r.calls {
		if len(c) > len(hook.PhaseDocAdd)+1 && c[:len(hook.PhaseDocAdd)+1] == hook.PhaseDocAdd+":" {
			out = append(out, c[len(hook.PhaseDocAdd)+1:])
		}
	}
	return out
}

func registryWith(handlers ...hook.Handler) *hook.Registry {
	r := hook.NewRegistry()
	for i, h := range handlers {
		r.Register(hook.TypeECA, fmt.Sprintf("%s-%d", h.Name(), i), hook.Static(h))
	}
	return r
}

// fakeCommitter records commits and can fail the first n attempts.
type fakeCommitter struct {
	mu       sync.Mutex
	commits  int
	docs     []string
	removals []string
	flushes  []string
	failN    int
	failErr  error
}

func (c *fakeCommitter) Commit(_ context.Context, docs []*DocEntry, removals []*entry.Entry, flush string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failN > 0 {
		c.failN--
		return c.failErr
	}
	c.commits++
	for _, d := range docs {
		c.docs = append(c.docs, d.ID())
	}
	for _, r := range removals {
		c.removals = append(c.removals, r.ID())
	}
	c.flushes = append(c.flushes, flush)
	return nil
}

// trackingCursor wraps a SliceCursor and can fail after n items.
type trackingCursor struct {
	*SliceCursor
	failAfter int
	served    int
	closes    int
}

func (c *trackingCursor) Next(ctx context.Context) (Entity, bool, error) {
	if c.failAfter > 0 && c.served >= c.failAfter {
		return nil, false, fmt.Errorf("cursor broke")
	}
	e, ok, err := c.SliceCursor.Next(ctx)
	if ok {
		c.served++
	}
	return e, ok, err
}

func (c *trackingCursor) Close() error {
	c.closes++
	return c.SliceCursor.Close()
}

func ids(docs []*DocEntry) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID()
	}
	return out
}

func entryIDs(entries []*entry.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID()
	}
	return out
}

func add(id string, opts ...entry.Option) *entry.Entry {
	return entry.New(entry.KindProduct, id, entry.ActionAdd, opts...)
}

func upd(id string, opts ...entry.Option) *entry.Entry {
	return entry.New(entry.KindProduct, id, entry.ActionNone, opts...)
}

func rem(id string, opts ...entry.Option) *entry.Entry {
	return entry.New(entry.KindProduct, id, entry.ActionRemove, opts...)
}
