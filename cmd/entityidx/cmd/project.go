package cmd

import (
	"io"
	"log/slog"

	"github.com/Aman-CERP/entityidx/internal/builder"
	"github.com/Aman-CERP/entityidx/internal/config"
	"github.com/Aman-CERP/entityidx/internal/hook"
	"github.com/Aman-CERP/entityidx/internal/index"
	"github.com/Aman-CERP/entityidx/internal/queue"
	"github.com/Aman-CERP/entityidx/internal/store"
	"github.com/Aman-CERP/entityidx/internal/telemetry"
	"github.com/Aman-CERP/entityidx/internal/ui"
)

// project holds the opened stores of one project.
type project struct {
	root     string
	cfg      *config.Config
	entities *store.SQLiteEntityStore
	docs     store.DocStore
	queue    *queue.SQLiteQueue
	history  *telemetry.SQLiteHistoryStore
}

// openProject opens the stores named by the loaded configuration.
func openProject() (*project, error) {
	cfg, err := requireConfig()
	if err != nil {
		return nil, err
	}
	p := &project{root: loadedRoot, cfg: cfg}

	if p.entities, err = store.OpenEntityStore(cfg.Store.EntityDB); err != nil {
		return nil, err
	}
	if p.docs, err = store.OpenDocStore(cfg.Store.DataDir, cfg.Store.Backend); err != nil {
		_ = p.Close()
		return nil, err
	}
	if p.queue, err = queue.OpenSQLite(cfg.Queue.Path); err != nil {
		_ = p.Close()
		return nil, err
	}
	if p.history, err = telemetry.OpenHistoryStore(cfg.Telemetry.HistoryDB, cfg.Telemetry.HistoryLimit); err != nil {
		_ = p.Close()
		return nil, err
	}
	return p, nil
}

// Close closes every opened store and returns the first error.
func (p *project) Close() error {
	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}
	if p.history != nil {
		keep(p.history.Close())
	}
	if p.queue != nil {
		keep(p.queue.Close())
	}
	if p.docs != nil {
		keep(p.docs.Close())
	}
	if p.entities != nil {
		keep(p.entities.Close())
	}
	return first
}

// newIndexer wires the stores into an indexer for hookType. Every pass is
// recorded in the history; a non-nil progress output adds the progress
// hook rendering to it.
func (p *project) newIndexer(hookType hook.Type, progress io.Writer, label string) (*index.Indexer, error) {
	logger := slog.Default()
	registry, err := hook.DefaultRegistry(hookType, p.cfg.Indexer.Hooks, logger)
	if err != nil {
		return nil, err
	}
	registry.Register(hookType, telemetry.NameHistory, hook.Static(telemetry.NewHistoryHook(p.history)))
	if progress != nil {
		r := ui.NewRenderer(ui.Config{Output: progress, NoColor: noColor, Label: label})
		registry.Register(hookType, hook.NameProgress, hook.Static(hook.NewProgressHook(r.Progress)))
	}

	products := builder.NewProductBuilder(p.entities, builder.Config{
		IncludeVirtual: p.cfg.Builder.IncludeVirtual,
		CacheSize:      p.cfg.Builder.CategoryCache,
	})

	return index.New(index.Config{
		BufSize:           p.cfg.Indexer.BufSize,
		BuildWorkers:      p.cfg.Indexer.BuildWorkers,
		FilteredPolicy:    index.FilteredPolicy(p.cfg.Indexer.FilteredPolicy),
		HookType:          hookType,
		MaxFailureRecords: p.cfg.Indexer.MaxFailureRecords,
	}, index.Deps{
		Resolver:  p.entities,
		Builder:   products,
		Expander:  index.NewCascadeExpander(p.entities),
		Registry:  registry,
		Committer: p.docs,
		Logger:    logger,
	})
}

// newCoordinator wires a queue consumer for queue-driven passes.
func (p *project) newCoordinator(progress io.Writer) (*index.Coordinator, error) {
	ix, err := p.newIndexer(hook.TypeECA, progress, "pass")
	if err != nil {
		return nil, err
	}
	return index.NewCoordinator(index.CoordinatorConfig{
		DataDir:  p.cfg.Store.DataDir,
		DrainMax: p.cfg.Queue.DrainMax,
		Interval: p.cfg.Queue.Interval,
	}, ix, p.queue)
}

// progressOutput returns w unless quiet is set.
func progressOutput(w io.Writer, quiet bool) io.Writer {
	if quiet {
		return nil
	}
	return w
}
