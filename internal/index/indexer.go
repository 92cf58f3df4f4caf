// Package index runs indexing passes: it turns a stream of queued entity
// changes into built documents and removals, driving the registered hooks
// through their lifecycle.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/entityidx/internal/async"
	"github.com/Aman-CERP/entityidx/internal/entry"
	"github.com/Aman-CERP/entityidx/internal/errors"
	"github.com/Aman-CERP/entityidx/internal/hook"
)

// FilteredPolicy decides what happens to an identity whose document the
// builder filtered out.
type FilteredPolicy string

const (
	// FilteredKeep leaves any previously indexed document in place.
	FilteredKeep FilteredPolicy = "keep"
	// FilteredRemove turns a filtered identity into an implicit remove,
	// unless the entry was an explicit add.
	FilteredRemove FilteredPolicy = "remove"
)

// Config configures an Indexer.
type Config struct {
	// BufSize bounds the identities per batch; <= 0 means one batch.
	BufSize int

	// BuildWorkers > 1 builds the documents of a batch concurrently.
	// Hook notification stays in identity order.
	BuildWorkers int

	// FilteredPolicy defaults to FilteredKeep.
	FilteredPolicy FilteredPolicy

	// HookType selects the handlers from the registry.
	HookType hook.Type

	// LogPrefix is prepended to status log messages.
	LogPrefix string

	// MaxFailureRecords bounds the failure log on the status.
	MaxFailureRecords int
}

// Deps contains the injected collaborators of an Indexer.
type Deps struct {
	// Resolver looks entities up by identity (required).
	Resolver Resolver

	// Builder builds documents (required).
	Builder Builder

	// Expander derives implied entries (optional).
	Expander Expander

	// Registry provides the hook handlers (optional).
	Registry *hook.Registry

	// Committer receives the output of ReadDocsAndCommit (optional).
	Committer Committer

	// Clock returns the moment documents are built as of. Defaults to time.Now.
	Clock func() time.Time

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Result is the output of one pass. Each identity appears at most once
// across Docs and Removals.
type Result struct {
	Status   *async.IndexingStatus
	Docs     []*DocEntry
	Removals []*entry.Entry
}

// Indexer runs indexing passes. It holds no per-pass state, so one Indexer
// may serve many sequential passes.
type Indexer struct {
	config    Config
	resolver  Resolver
	builder   Builder
	expander  Expander
	registry  *hook.Registry
	committer Committer
	clock     func() time.Time
	logger    *slog.Logger
}

// New creates an Indexer.
func New(cfg Config, deps Deps) (*Indexer, error) {
	if deps.Resolver == nil {
		return nil, errors.ValidationError("resolver is required", nil)
	}
	if deps.Builder == nil {
		return nil, errors.ValidationError("builder is required", nil)
	}
	switch cfg.FilteredPolicy {
	case "":
		cfg.FilteredPolicy = FilteredKeep
	case FilteredKeep, FilteredRemove:
	default:
		return nil, errors.ValidationError(fmt.Sprintf("unknown filtered policy %q", cfg.FilteredPolicy), nil)
	}
	if cfg.HookType == "" {
		cfg.HookType = hook.TypeECA
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Indexer{
		config:    cfg,
		resolver:  deps.Resolver,
		builder:   deps.Builder,
		expander:  deps.Expander,
		registry:  deps.Registry,
		committer: deps.Committer,
		clock:     clock,
		logger:    logger,
	}, nil
}

// Config returns the effective configuration.
func (ix *Indexer) Config() Config {
	return ix.config
}

// ReadDocs runs one pass over entries: dedup, expansion, then batched
// resolve/build with hook notification.
//
// Per-item and hook failures are recorded on the returned status and do not
// produce an error. An error is returned only for structural failures
// (expansion, fatal builder or hook errors); the Result is still returned
// with whatever the completed batches produced.
func (ix *Indexer) ReadDocs(ctx context.Context, entries []*entry.Entry, signals *async.Signals) (*Result, error) {
	set := entry.Dedup(entries)

	expanded := set
	if ix.expander != nil {
		var err error
		expanded, err = ix.expander.Expand(ctx, set)
		if err != nil {
			status := ix.newStatus(set.Len())
			status.RegisterGeneralFailure("", "expansion failed", err)
			status.Finish()
			ix.logSummary(status)
			if errors.GetCode(err) != errors.ErrCodeExpansionFailed {
				err = errors.New(errors.ErrCodeExpansionFailed, "expansion failed", err)
			}
			return &Result{Status: status}, err
		}
	}

	items := expanded.Entries()
	pos := 0
	next := func(context.Context) (work, bool, error) {
		if pos >= len(items) {
			return work{}, false, nil
		}
		w := work{entry: items[pos]}
		pos++
		return w, true, nil
	}

	return ix.run(ctx, len(items), next, signals, nil)
}

func (ix *Indexer) newStatus(total int) *async.IndexingStatus {
	return async.NewIndexingStatus(async.StatusConfig{
		HookType:          string(ix.config.HookType),
		Total:             total,
		BufSize:           ix.config.BufSize,
		LogPrefix:         ix.config.LogPrefix,
		MaxFailureRecords: ix.config.MaxFailureRecords,
		Logger:            ix.logger,
	})
}

// run drives the batch state machine over next.
func (ix *Indexer) run(ctx context.Context, total int, next nextFunc, signals *async.Signals, sink Committer) (*Result, error) {
	status := ix.newStatus(total)

	handlers, err := ix.registry.Handlers(ix.config.HookType)
	if err != nil {
		status.RegisterGeneralFailure("", "failed to create hooks", err)
		status.Finish()
		ix.logSummary(status)
		return &Result{Status: status}, err
	}

	p := &pass{
		ix:       ix,
		status:   status,
		handlers: handlers,
		result:   &Result{Status: status},
		sink:     sink,
		moment:   ix.clock(),
		emitted:  make(map[string]bool),
	}

	ix.logger.Info("index_pass_start",
		slog.String("hook_type", string(ix.config.HookType)),
		slog.Int("total", total),
		slog.Int("buf_size", ix.config.BufSize),
		slog.Int("hooks", len(handlers)))

	passErr := p.loop(ctx, next, signals)

	if err := p.notify(hook.PhaseEnd, "", func(h hook.Handler) error {
		if x, ok := h.(hook.Ender); ok {
			return x.End(status)
		}
		return nil
	}); err != nil && passErr == nil {
		passErr = err
	}

	status.Finish()
	ix.logSummary(status)
	return p.result, passErr
}

func (ix *Indexer) logSummary(status *async.IndexingStatus) {
	snap := status.Snapshot()
	attrs := []any{
		slog.String("hook_type", snap.HookType),
		slog.Int("num_docs", snap.NumDocs),
		slog.Int("num_filtered", snap.NumFiltered),
		slog.Int("num_removed", snap.NumRemoved),
		slog.Int("general_failures", snap.GeneralFailures),
		slog.Int("hook_failures", snap.HookFailures),
		slog.Bool("aborted", snap.Aborted),
		slog.Float64("elapsed_seconds", snap.ElapsedSeconds),
	}
	if snap.HasFailures() {
		ix.logger.Error(ix.config.LogPrefix+"index_pass_complete", attrs...)
		return
	}
	ix.logger.Info(ix.config.LogPrefix+"index_pass_complete", attrs...)
}

// work is one identity waiting to be processed.
type work struct {
	entry    *entry.Entry
	entity   Entity
	resolved bool
}

type nextFunc func(ctx context.Context) (work, bool, error)

type outcomeKind int

const (
	outRemove outcomeKind = iota
	outDoc
	outFiltered
	outFailure
	outFatal
)

type outcome struct {
	kind  outcomeKind
	entry *entry.Entry
	built Built
	msg   string
	err   error
}

// pass is the state of one running pass.
type pass struct {
	ix       *Indexer
	status   *async.IndexingStatus
	handlers []hook.Handler
	result   *Result
	sink     Committer
	moment   time.Time
	emitted  map[string]bool

	batchDocs     []*DocEntry
	batchRemovals []*entry.Entry
}

func (p *pass) loop(ctx context.Context, next nextFunc, signals *async.Signals) error {
	status := p.status

	if err := p.notify(hook.PhaseBegin, "", func(h hook.Handler) error {
		if x, ok := h.(hook.Beginner); ok {
			return x.Begin(status)
		}
		return nil
	}); err != nil {
		return err
	}

	consumed := 0
	for {
		if signals.IsSet(async.SignalStop) || ctx.Err() != nil {
			status.SetAborted(true)
			p.ix.logger.Info("index_pass_aborted", slog.String("progress", status.ProgressString()))
			return nil
		}

		first, ok, err := next(ctx)
		if err != nil {
			status.RegisterGeneralFailure("", "failed to read source", err)
			return errors.StoreError("failed to read source", err)
		}
		if !ok {
			return nil
		}

		status.UpdateStartEndIndex(consumed)
		if err := p.notify(hook.PhaseBeginBatch, "", func(h hook.Handler) error {
			if x, ok := h.(hook.BatchBeginner); ok {
				return x.BeginBatch(status)
			}
			return nil
		}); err != nil {
			return err
		}

		batch := []work{first}
		for p.ix.config.BufSize <= 0 || len(batch) < p.ix.config.BufSize {
			w, ok, err := next(ctx)
			if err != nil {
				status.RegisterGeneralFailure("", "failed to read source", err)
				return errors.StoreError("failed to read source", err)
			}
			if !ok {
				break
			}
			batch = append(batch, w)
		}

		if err := p.processBatch(ctx, batch); err != nil {
			return err
		}

		if err := p.notify(hook.PhaseEndBatch, "", func(h hook.Handler) error {
			if x, ok := h.(hook.BatchEnder); ok {
				return x.EndBatch(status)
			}
			return nil
		}); err != nil {
			return err
		}

		if err := p.flushBatch(ctx); err != nil {
			return err
		}
		consumed = len(batch)
	}
}

func (p *pass) processBatch(ctx context.Context, batch []work) error {
	workers := p.ix.config.BuildWorkers
	if workers <= 1 || len(batch) == 1 {
		for _, w := range batch {
			if err := p.apply(p.evaluate(ctx, w)); err != nil {
				return err
			}
		}
		return nil
	}

	outcomes := make([]outcome, len(batch))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, w := range batch {
		g.Go(func() error {
			outcomes[i] = p.evaluate(gctx, w)
			return nil
		})
	}
	_ = g.Wait()

	for _, o := range outcomes {
		if err := p.apply(o); err != nil {
			return err
		}
	}
	return nil
}

// evaluate resolves and builds one identity. It touches no pass state, so
// it may run concurrently.
func (p *pass) evaluate(ctx context.Context, w work) outcome {
	e := w.entry
	if e.IsExplicitRemove() {
		return outcome{kind: outRemove, entry: e}
	}

	entity := w.entity
	if !w.resolved {
		ent, err := p.ix.resolver.Resolve(ctx, e.Kind(), e.ID())
		if err != nil {
			if errors.IsFatal(err) {
				return outcome{kind: outFatal, entry: e, msg: "failed to resolve " + e.ID(), err: err}
			}
			return outcome{kind: outFailure, entry: e, msg: "failed to resolve " + e.ID(), err: err}
		}
		if ent == nil {
			if e.IsExplicitAdd() {
				return outcome{kind: outFailure, entry: e,
					msg: fmt.Sprintf("explicit add of %s but entity does not exist", e.ID())}
			}
			return outcome{kind: outRemove, entry: e}
		}
		entity = ent
	}

	built, err := p.ix.builder.Build(ctx, entity, e, p.moment)
	if err != nil {
		if errors.IsFatal(err) {
			return outcome{kind: outFatal, entry: e, msg: "failed to build " + e.ID(), err: err}
		}
		return outcome{kind: outFailure, entry: e, msg: "failed to build " + e.ID(), err: err}
	}
	if built.Doc == nil {
		return outcome{kind: outFiltered, entry: e}
	}
	return outcome{kind: outDoc, entry: e, built: built}
}

// apply records an outcome on the status, the output and the hooks.
func (p *pass) apply(o outcome) error {
	e := o.entry
	switch o.kind {
	case outRemove:
		return p.remove(e)
	case outFiltered:
		p.status.IncreaseNumFiltered(1)
		if p.ix.config.FilteredPolicy == FilteredRemove && !e.IsExplicitAdd() {
			return p.remove(e)
		}
		return nil
	case outFailure:
		p.status.RegisterGeneralFailure(e.ID(), o.msg, o.err)
		return nil
	case outFatal:
		p.status.RegisterGeneralFailure(e.ID(), o.msg, o.err)
		return errors.Fatal(o.err)
	}

	if p.emitted[e.Key()] {
		return nil
	}
	p.emitted[e.Key()] = true

	doc := NewDocEntry(e, o.built.ID, o.built.Doc, o.built.Data)
	p.batchDocs = append(p.batchDocs, doc)
	p.status.IncreaseNumDocs(1)
	return p.notify(hook.PhaseDocAdd, e.ID(), func(h hook.Handler) error {
		if x, ok := h.(hook.DocAdder); ok {
			return x.ProcessDocAdd(p.status, doc)
		}
		return nil
	})
}

func (p *pass) remove(e *entry.Entry) error {
	if p.emitted[e.Key()] {
		return nil
	}
	p.emitted[e.Key()] = true

	p.batchRemovals = append(p.batchRemovals, e)
	p.status.IncreaseNumRemoved(1)
	return p.notify(hook.PhaseDocRemove, e.ID(), func(h hook.Handler) error {
		if x, ok := h.(hook.DocRemover); ok {
			return x.ProcessDocRemove(p.status, e)
		}
		return nil
	})
}

// flushBatch moves the batch output to the sink, or to the result.
func (p *pass) flushBatch(ctx context.Context) error {
	docs, removals := p.batchDocs, p.batchRemovals
	p.batchDocs, p.batchRemovals = nil, nil

	if p.sink == nil {
		p.result.Docs = append(p.result.Docs, docs...)
		p.result.Removals = append(p.result.Removals, removals...)
		return nil
	}
	if len(docs) == 0 && len(removals) == 0 {
		return nil
	}
	err := errors.Retry(ctx, errors.DefaultRetryConfig(), func() error {
		return p.sink.Commit(ctx, docs, removals, entry.FlushNone)
	})
	if err != nil {
		p.status.RegisterGeneralFailure("", "failed to commit batch", err)
		return errors.New(errors.ErrCodeCommitFailed, "failed to commit batch", err)
	}
	return nil
}

// notify calls fn on every handler in order. Errors are recorded as hook
// failures; a fatal error stops the notification and is returned.
func (p *pass) notify(phase, id string, fn func(h hook.Handler) error) error {
	for _, h := range p.handlers {
		err := fn(h)
		if err == nil {
			continue
		}
		if errors.IsFatal(err) {
			p.status.RegisterGeneralFailure(id, fmt.Sprintf("hook %s failed fatally in %s", h.Name(), phase), err)
			return errors.New(errors.ErrCodeHookFailed,
				fmt.Sprintf("hook %s failed fatally in %s", h.Name(), phase), err)
		}
		p.status.RegisterHookFailure(id, err, h.Name(), phase)
	}
	return nil
}

func flushOf(entries []*entry.Entry) string {
	flush := entry.FlushNone
	for _, e := range entries {
		if e.Flush() == entry.FlushAll {
			return entry.FlushAll
		}
		if flush == entry.FlushNone {
			flush = e.Flush()
		}
	}
	return flush
}
