package hook

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/Aman-CERP/entityidx/internal/async"
	"github.com/Aman-CERP/entityidx/internal/entry"
	"github.com/Aman-CERP/entityidx/internal/errors"
)

// Built-in hook names, as used in the indexer.hooks config list.
const (
	NameLog      = "log"
	NameProgress = "progress"
	NameTopic    = "topic"
)

// Base is an embeddable no-op handler. It implements every capability so a
// hook can override only the phases it cares about.
type Base struct{}

func (Base) Begin(*async.IndexingStatus) error                          { return nil }
func (Base) BeginBatch(*async.IndexingStatus) error                     { return nil }
func (Base) ProcessDocAdd(*async.IndexingStatus, Doc) error             { return nil }
func (Base) ProcessDocRemove(*async.IndexingStatus, *entry.Entry) error { return nil }
func (Base) EndBatch(*async.IndexingStatus) error                       { return nil }
func (Base) End(*async.IndexingStatus) error                            { return nil }

// LogHook logs batch progress at debug level and the pass outcome at info.
type LogHook struct {
	Base
	logger *slog.Logger
}

// NewLogHook creates a LogHook. A nil logger uses slog.Default().
func NewLogHook(logger *slog.Logger) *LogHook {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogHook{logger: logger}
}

func (h *LogHook) Name() string { return NameLog }

func (h *LogHook) Begin(status *async.IndexingStatus) error {
	h.logger.Info("hook_pass_begin",
		slog.String("hook_type", status.HookType()),
		slog.Int("total", status.Total()))
	return nil
}

func (h *LogHook) BeginBatch(status *async.IndexingStatus) error {
	h.logger.Debug("hook_batch_begin", slog.String("progress", status.ProgressString()))
	return nil
}

func (h *LogHook) EndBatch(status *async.IndexingStatus) error {
	h.logger.Debug("hook_batch_end",
		slog.String("progress", status.ProgressString()),
		slog.Int("num_docs", status.NumDocs()))
	return nil
}

func (h *LogHook) End(status *async.IndexingStatus) error {
	h.logger.Info("hook_pass_end",
		slog.String("hook_type", status.HookType()),
		slog.Int("num_docs", status.NumDocs()),
		slog.Int("num_removed", status.NumRemoved()),
		slog.Bool("aborted", status.Aborted()))
	return nil
}

// ProgressFunc receives a snapshot of the pass after every batch and at the end.
type ProgressFunc func(snap async.StatusSnapshot, done bool)

// ProgressHook mirrors the status into a callback, e.g. for a CLI spinner.
type ProgressHook struct {
	Base
	fn ProgressFunc
}

// NewProgressHook creates a ProgressHook calling fn.
func NewProgressHook(fn ProgressFunc) *ProgressHook {
	return &ProgressHook{fn: fn}
}

func (h *ProgressHook) Name() string { return NameProgress }

func (h *ProgressHook) EndBatch(status *async.IndexingStatus) error {
	if h.fn != nil {
		h.fn(status.Snapshot(), false)
	}
	return nil
}

func (h *ProgressHook) End(status *async.IndexingStatus) error {
	if h.fn != nil {
		h.fn(status.Snapshot(), true)
	}
	return nil
}

// TopicRoute lists the identities routed to one topic during a pass.
type TopicRoute struct {
	Added   []string
	Removed []string
}

// TopicHook groups added and removed identities by the topics of their entries.
// Entries without topics are not routed.
type TopicHook struct {
	Base

	mu      sync.Mutex
	byTopic map[string]*TopicRoute
}

// NewTopicHook creates an empty TopicHook.
func NewTopicHook() *TopicHook {
	return &TopicHook{byTopic: make(map[string]*TopicRoute)}
}

func (h *TopicHook) Name() string { return NameTopic }

func (h *TopicHook) Begin(*async.IndexingStatus) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	clear(h.byTopic)
	return nil
}

func (h *TopicHook) ProcessDocAdd(_ *async.IndexingStatus, doc Doc) error {
	h.route(doc.Entry(), doc.ID(), false)
	return nil
}

func (h *TopicHook) ProcessDocRemove(_ *async.IndexingStatus, e *entry.Entry) error {
	h.route(e, e.ID(), true)
	return nil
}

func (h *TopicHook) route(e *entry.Entry, id string, removed bool) {
	if e == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, topic := range e.Topics() {
		r, ok := h.byTopic[topic]
		if !ok {
			r = &TopicRoute{}
			h.byTopic[topic] = r
		}
		if removed {
			r.Removed = append(r.Removed, id)
		} else {
			r.Added = append(r.Added, id)
		}
	}
}

// ByTopic returns a copy of the routing table.
func (h *TopicHook) ByTopic() map[string]TopicRoute {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]TopicRoute, len(h.byTopic))
	for topic, r := range h.byTopic {
		out[topic] = TopicRoute{Added: slices.Clone(r.Added), Removed: slices.Clone(r.Removed)}
	}
	return out
}

// Topics returns the routed topic names, sorted.
func (h *TopicHook) Topics() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	topics := make([]string, 0, len(h.byTopic))
	for topic := range h.byTopic {
		topics = append(topics, topic)
	}
	slices.Sort(topics)
	return topics
}

// DefaultRegistry registers the named built-in hooks for hookType, in the
// given order. The progress hook is registered with a nil callback; callers
// that want progress replace it via Register.
func DefaultRegistry(hookType Type, names []string, logger *slog.Logger) (*Registry, error) {
	r := NewRegistry()
	for _, name := range names {
		switch name {
		case NameLog:
			r.Register(hookType, name, func() (Handler, error) { return NewLogHook(logger), nil })
		case NameProgress:
			r.Register(hookType, name, func() (Handler, error) { return NewProgressHook(nil), nil })
		case NameTopic:
			r.Register(hookType, name, func() (Handler, error) { return NewTopicHook(), nil })
		default:
			return nil, errors.New(errors.ErrCodeUnknownHook, fmt.Sprintf("unknown hook %q", name), nil).
				WithSuggestion("valid hooks: log, progress, topic")
		}
	}
	return r, nil
}
