package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/entityidx/internal/async"
	"github.com/Aman-CERP/entityidx/internal/entry"
	"github.com/Aman-CERP/entityidx/internal/errors"
	"github.com/Aman-CERP/entityidx/internal/hook"
	"github.com/Aman-CERP/entityidx/internal/index"
	"github.com/Aman-CERP/entityidx/internal/ui"
)

type reindexOptions struct {
	kind     string
	pageSize int
	prune    bool
	quiet    bool
	profile  string
}

func newReindexCmd() *cobra.Command {
	var opts reindexOptions

	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild every document from the entity store",
		Long: `Stream every entity of a kind through the manual hooks and commit the
rebuilt documents. The queue is not touched.

Interrupting stops the pass after the current batch. Documents committed
so far are kept. With --prune, documents whose entity no longer exists
are removed once the pass completes.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return profiled(opts.profile, func() error { return runReindex(ctx, cmd, opts) })
		},
	}

	cmd.Flags().StringVar(&opts.kind, "kind", entry.KindProduct, "Entity kind to rebuild")
	cmd.Flags().IntVar(&opts.pageSize, "page-size", 500, "Entities read from the store per query")
	cmd.Flags().BoolVar(&opts.prune, "prune", false, "Remove documents of deleted entities")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "Do not show progress")
	addProfileFlag(cmd, &opts.profile)

	return cmd
}

func runReindex(ctx context.Context, cmd *cobra.Command, opts reindexOptions) error {
	p, err := openProject()
	if err != nil {
		return err
	}
	defer p.Close()

	lock := index.NewPassLock(p.cfg.Store.DataDir)
	acquired, err := lock.TryLock()
	if err != nil {
		return err
	}
	if !acquired {
		return errors.New(errors.ErrCodePassLocked, "another pass is running", nil).
			WithSuggestion("wait for it to finish or stop 'entityidx watch'")
	}
	defer func() { _ = lock.Unlock() }()

	ix, err := p.newIndexer(hook.TypeManual, progressOutput(cmd.ErrOrStderr(), opts.quiet), "reindex")
	if err != nil {
		return err
	}

	bg := async.NewBackgroundIndexer(async.IndexerConfig{DataDir: p.cfg.Store.DataDir},
		func(ctx context.Context, signals *async.Signals) (*async.IndexingStatus, error) {
			res, err := ix.RunHooks(ctx, p.entities.Cursor(opts.kind, opts.pageSize), signals, p.docs)
			if res == nil {
				return nil, err
			}
			return res.Status, err
		})

	bg.Start(context.WithoutCancel(ctx))
	done := make(chan error, 1)
	go func() { done <- bg.Wait() }()

	select {
	case err = <-done:
	case <-ctx.Done():
		slog.Info("reindex_interrupted")
		bg.Stop()
		err = bg.Wait()
	}
	if err != nil {
		return err
	}

	status := bg.Status()
	if status != nil {
		fmt.Fprintln(cmd.OutOrStdout(), ui.Summary(status.Snapshot(), ui.GetStyles(noColor)))
	}
	if opts.prune && status != nil && !status.Aborted() {
		removed, err := prune(context.WithoutCancel(ctx), p, opts.kind)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d documents\n", removed)
	}
	return nil
}

// prune removes documents whose entity is gone from the entity store.
func prune(ctx context.Context, p *project, kind string) (int, error) {
	ids, err := p.docs.AllIDs(ctx)
	if err != nil {
		return 0, err
	}

	var removals []*entry.Entry
	for _, id := range ids {
		r, err := p.entities.Get(ctx, kind, id)
		if err != nil {
			return 0, err
		}
		if r == nil {
			removals = append(removals, entry.New(kind, id, entry.ActionRemove))
		}
	}
	if len(removals) == 0 {
		return 0, nil
	}
	if err := p.docs.Commit(ctx, nil, removals, entry.FlushAll); err != nil {
		return 0, errors.Wrap(errors.ErrCodeCommitFailed, err)
	}
	slog.Info("reindex_pruned", slog.Int("removed", len(removals)))
	return len(removals), nil
}
