// Package entry models queued entity changes and the rules for coalescing
// them. An Entry records one pending create/update/remove for one entity;
// Merge combines two Entries for the same identity and Dedup reduces an
// arrival-ordered stream to one Entry per identity.
package entry

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Action is the net change an Entry requests.
type Action int

const (
	// ActionNone means "reindex from current state": neither an explicit add
	// nor an explicit remove. The pipeline decides from the store.
	ActionNone Action = iota
	ActionAdd
	ActionRemove
)

// String returns the queue representation of the action.
func (a Action) String() string {
	switch a {
	case ActionAdd:
		return "add"
	case ActionRemove:
		return "remove"
	default:
		return ""
	}
}

// ParseAction parses the queue representation of an action.
// The empty string (and "update") parse as ActionNone.
func ParseAction(s string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "update", "none":
		return ActionNone, nil
	case "add", "create":
		return ActionAdd, nil
	case "remove", "delete":
		return ActionRemove, nil
	default:
		return ActionNone, fmt.Errorf("unknown action %q", s)
	}
}

// Flush directives understood by the commit step.
const (
	FlushNone = ""
	FlushAll  = "all"
)

// Entry is one pending change to one entity instance.
// Entries are not modified after construction; Merge returns a new Entry.
type Entry struct {
	kind    string
	id      string
	action  Action
	time    int64
	topics  []string
	flush   string
	ref     any
	implied bool
	flags   map[string]bool
}

// Option configures an Entry at construction.
type Option func(*Entry)

// WithTime sets the logical entry time.
func WithTime(t int64) Option {
	return func(e *Entry) { e.time = t }
}

// WithTopics sets the routing tags. Duplicates are dropped, order is kept.
func WithTopics(topics ...string) Option {
	return func(e *Entry) { e.topics = unionTopics(nil, topics) }
}

// WithFlush sets the flush directive.
func WithFlush(flush string) Option {
	return func(e *Entry) { e.flush = flush }
}

// WithRef attaches the entity instance observed at enqueue time.
func WithRef(ref any) Option {
	return func(e *Entry) { e.ref = ref }
}

// WithFlag sets an explicit value for a kind-specific flag.
func WithFlag(name string, value bool) Option {
	return func(e *Entry) {
		if e.flags == nil {
			e.flags = make(map[string]bool)
		}
		e.flags[name] = value
	}
}

// WithFlags sets several explicit flags at once.
func WithFlags(flags map[string]bool) Option {
	return func(e *Entry) {
		for k, v := range flags {
			WithFlag(k, v)(e)
		}
	}
}

// Implied marks the entry as derived by expansion rather than observed.
func Implied() Option {
	return func(e *Entry) { e.implied = true }
}

// New creates an Entry for entity kind/id.
func New(kind, id string, action Action, opts ...Option) *Entry {
	e := &Entry{kind: kind, id: id, action: action}
	for _, opt := range opts {
		opt(e)
	}
	for deep, shallow := range PolicyFor(kind).Implies {
		if e.flags[deep] {
			e.flags[shallow] = true
		}
	}
	return e
}

func (e *Entry) Kind() string     { return e.kind }
func (e *Entry) ID() string       { return e.id }
func (e *Entry) Action() Action   { return e.action }
func (e *Entry) Time() int64      { return e.time }
func (e *Entry) Flush() string    { return e.flush }
func (e *Entry) IsImplied() bool  { return e.implied }
func (e *Entry) Topics() []string { return slices.Clone(e.topics) }

// Ref returns the entity reference captured at enqueue time, if any.
// It may be stale; the indexer always resolves the identity again before
// building a document.
func (e *Entry) Ref() any { return e.ref }

// IsExplicitAdd reports whether the entry explicitly requests an add.
func (e *Entry) IsExplicitAdd() bool { return e.action == ActionAdd }

// IsExplicitRemove reports whether the entry explicitly requests a removal.
func (e *Entry) IsExplicitRemove() bool { return e.action == ActionRemove }

// FlagState returns the explicit value of a flag and whether it was set.
func (e *Entry) FlagState(name string) (value, set bool) {
	value, set = e.flags[name]
	return value, set
}

// Flag reports whether a flag is in effect: explicitly true, or implied by
// a true deep flag according to the kind's policy.
func (e *Entry) Flag(name string) bool {
	if e.flags[name] {
		return true
	}
	for deep, shallow := range PolicyFor(e.kind).Implies {
		if shallow == name && e.flags[deep] {
			return true
		}
	}
	return false
}

// Flags returns a copy of the explicitly set flags.
func (e *Entry) Flags() map[string]bool {
	return maps.Clone(e.flags)
}

// Key is the identity of the entry within a dedup Set.
func (e *Entry) Key() string {
	return e.kind + ":" + e.id
}

// WithID returns a copy of the entry for another identity of the same kind,
// optionally overriding the entry time (0 keeps it).
func (e *Entry) WithID(id string, entryTime int64) *Entry {
	cp := *e
	cp.id = id
	cp.ref = nil
	cp.topics = slices.Clone(e.topics)
	cp.flags = maps.Clone(e.flags)
	if entryTime != 0 {
		cp.time = entryTime
	}
	return &cp
}

// String renders the entry for logs.
func (e *Entry) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s[%s]", e.kind, e.id)
	if a := e.action.String(); a != "" {
		sb.WriteString(" " + a)
	}
	if e.implied {
		sb.WriteString(" implied")
	}
	if len(e.topics) > 0 {
		sb.WriteString(" topics=" + strings.Join(e.topics, ","))
	}
	if e.flush != "" {
		sb.WriteString(" flush=" + e.flush)
	}
	return sb.String()
}
