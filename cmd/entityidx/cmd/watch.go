package cmd

import (
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/entityidx/internal/async"
	"github.com/Aman-CERP/entityidx/internal/daemon"
	"github.com/Aman-CERP/entityidx/internal/errors"
	"github.com/Aman-CERP/entityidx/internal/preflight"
	"github.com/Aman-CERP/entityidx/internal/watcher"
)

func newWatchCmd() *cobra.Command {
	var (
		quiet     bool
		skipCheck bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Index queued entries continuously",
		Long: `Watch the queue database and run a pass whenever producers write to it.

Writes are debounced (watch.debounce, bounded by watch.max_wait). Where
file notifications are unavailable the queue file is polled instead
(watch.poll_interval, or always with watch.force_polling). With
queue.interval set, a pass also runs periodically.

The first watch, and the first after a week, runs the 'entityidx
doctor' system checks and refuses to start on a critical failure.

Interrupting stops the running pass at its next batch boundary; entries
it had not committed stay queued.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runWatch(ctx, cmd, quiet, skipCheck)
		},
	}

	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not show progress")
	cmd.Flags().BoolVar(&skipCheck, "skip-check", false, "Skip the startup system checks")

	return cmd
}

func runWatch(ctx context.Context, cmd *cobra.Command, quiet, skipCheck bool) error {
	cfg, err := requireConfig()
	if err != nil {
		return err
	}
	if !skipCheck {
		if err := startupCheck(ctx, cfg.Store.DataDir, cfg.Queue.Path); err != nil {
			return err
		}
	}

	pidFile := daemon.ForDataDir(cfg.Store.DataDir)
	if err := pidFile.Acquire(); err != nil {
		var running *daemon.AlreadyRunningError
		if stderrors.As(err, &running) {
			return errors.New(errors.ErrCodeWatchRunning, "another watch is indexing this project", err).
				WithDetail("pid", strconv.Itoa(running.PID)).
				WithSuggestion("Stop it with 'entityidx stop'")
		}
		return err
	}
	defer func() { _ = pidFile.Release() }()

	p, err := openProject()
	if err != nil {
		return err
	}
	defer p.Close()

	coord, err := p.newCoordinator(progressOutput(cmd.ErrOrStderr(), quiet))
	if err != nil {
		return err
	}

	w, err := watcher.NewQueueWatcher(p.cfg.Queue.Path, watcher.Options{
		DebounceWindow: p.cfg.Watch.Debounce,
		MaxWait:        p.cfg.Watch.MaxWait,
		PollInterval:   p.cfg.Watch.PollInterval,
		ForcePolling:   p.cfg.Watch.ForcePolling,
	}, func([]watcher.Event) { coord.Trigger() })
	if err != nil {
		return err
	}

	slog.Info("watch_started",
		slog.String("queue", p.cfg.Queue.Path),
		slog.String("backend", p.cfg.Store.Backend))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.Run(gctx) })
	g.Go(func() error { return coord.Run(gctx) })
	g.Go(func() error {
		// Abort an in-flight pass at its next batch boundary.
		<-gctx.Done()
		coord.Signals().Set(async.SignalStop)
		return nil
	})

	err = g.Wait()
	slog.Info("watch_stopped", slog.String("mode", w.Mode()), slog.Uint64("batches", w.Batches()))
	return err
}

// startupCheck runs the system checks silently when the last passing run
// is missing or stale. Results go to the log.
func startupCheck(ctx context.Context, dataDir, queuePath string) error {
	if !preflight.NeedsCheck(dataDir) {
		return nil
	}
	checker := preflight.New(preflight.WithOutput(io.Discard))
	results := checker.RunAll(ctx, preflight.Target{DataDir: dataDir, QueuePath: queuePath})
	errs, warnings := checker.Problems(results)
	for _, w := range warnings {
		slog.Warn("system_check_warning", slog.String("check", w))
	}
	if len(errs) > 0 {
		return errors.New(errors.ErrCodeSystemCheck, "system check failed", nil).
			WithDetail("errors", strings.Join(errs, "; ")).
			WithSuggestion("Run 'entityidx doctor' for diagnostics")
	}
	if err := preflight.MarkPassed(dataDir); err != nil {
		slog.Debug("system_check_mark_failed", slog.String("error", err.Error()))
	}
	return nil
}
