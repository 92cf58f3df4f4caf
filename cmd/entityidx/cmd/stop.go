package cmd

import (
	"context"
	stderrors "errors"
	"fmt"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/entityidx/internal/daemon"
	"github.com/Aman-CERP/entityidx/internal/errors"
)

func newStopCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the watch process of this project",
		Long: `Send SIGTERM to the running 'entityidx watch' of this project and wait
for it to exit. The running pass stops at its next batch boundary and
entries it had not committed stay queued.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}
			return stopWatch(cmd, daemon.ForDataDir(cfg.Store.DataDir), timeout)
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "How long to wait for the watch to exit")

	return cmd
}

func stopWatch(cmd *cobra.Command, pidFile *daemon.PIDFile, timeout time.Duration) error {
	pid, ok := pidFile.RunningPID()
	if !ok {
		fmt.Fprintln(cmd.OutOrStdout(), "Watch is not running")
		return nil
	}

	if err := pidFile.Signal(syscall.SIGTERM); err != nil {
		if stderrors.Is(err, daemon.ErrNotRunning) || stderrors.Is(err, daemon.ErrPIDFileNotFound) {
			fmt.Fprintln(cmd.OutOrStdout(), "Watch is not running")
			return nil
		}
		return errors.Wrap(errors.ErrCodeInternal, err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	if err := pidFile.WaitExit(ctx, 100*time.Millisecond); err != nil {
		return errors.New(errors.ErrCodeWatchRunning, fmt.Sprintf("watch (pid %d) did not exit within %s", pid, timeout), err).
			WithSuggestion("Check its log with 'entityidx logs'")
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Stopped watch (pid %d)\n", pid)
	return nil
}
