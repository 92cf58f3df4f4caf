package index

import (
	"context"
	"time"

	"github.com/Aman-CERP/entityidx/internal/entry"
)

// Entity is an instance resolved from the entity store.
type Entity interface {
	Kind() string
	ID() string
}

// Resolver looks up the current state of an entity. A nil Entity with a nil
// error means the entity does not exist. Implementations must return an
// untyped nil in that case.
type Resolver interface {
	Resolve(ctx context.Context, kind, id string) (Entity, error)
}

// Built is what a Builder produces for one entity. A nil Doc means the
// entity was filtered out; that is not an error.
type Built struct {
	// ID is the document identity; defaults to the entry id.
	ID   string
	Doc  *Document
	Data any
}

// Builder turns a resolved entity into a document as of moment.
//
// A returned error is a per-item failure unless it is marked fatal with
// errors.Fatal, in which case the pass aborts.
type Builder interface {
	Build(ctx context.Context, entity Entity, e *entry.Entry, moment time.Time) (Built, error)
}

// BuilderFunc adapts a function to Builder.
type BuilderFunc func(ctx context.Context, entity Entity, e *entry.Entry, moment time.Time) (Built, error)

func (f BuilderFunc) Build(ctx context.Context, entity Entity, e *entry.Entry, moment time.Time) (Built, error) {
	return f(ctx, entity, e, moment)
}

// Expander derives implied entries from cascade relationships. The returned
// set contains every entry of the input plus the implied ones.
type Expander interface {
	Expand(ctx context.Context, entries *entry.Set) (*entry.Set, error)
}

// Committer hands the output of a pass to the document store.
type Committer interface {
	Commit(ctx context.Context, docs []*DocEntry, removals []*entry.Entry, flush string) error
}

// Cursor is a closable streaming source of entities.
// Next returns false once the source is exhausted.
type Cursor interface {
	Next(ctx context.Context) (Entity, bool, error)
	Close() error
}

// SliceCursor is a Cursor over an in-memory slice.
type SliceCursor struct {
	items  []Entity
	pos    int
	closed bool
}

// NewSliceCursor creates a cursor over items.
func NewSliceCursor(items ...Entity) *SliceCursor {
	return &SliceCursor{items: items}
}

func (c *SliceCursor) Next(context.Context) (Entity, bool, error) {
	if c.closed || c.pos >= len(c.items) {
		return nil, false, nil
	}
	it := c.items[c.pos]
	c.pos++
	return it, true, nil
}

func (c *SliceCursor) Close() error {
	c.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (c *SliceCursor) Closed() bool { return c.closed }
