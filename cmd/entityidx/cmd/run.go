package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	var (
		quiet      bool
		profileDir string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Drain the queue once",
		Long: `Run passes until the entry queue is empty, then exit.

Entries are acknowledged only after their pass committed. If a pass fails
its entries stay queued for the next run. When another process is running
a pass, run exits with ERR_507_PASS_LOCKED.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := openProject()
			if err != nil {
				return err
			}
			defer p.Close()
			return profiled(profileDir, func() error { return drain(cmd, p, quiet) })
		},
	}

	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not show progress")
	addProfileFlag(cmd, &profileDir)

	return cmd
}

func drain(cmd *cobra.Command, p *project, quiet bool) error {
	coord, err := p.newCoordinator(progressOutput(cmd.ErrOrStderr(), quiet))
	if err != nil {
		return err
	}

	pending, err := p.queue.Len(cmd.Context())
	if err != nil {
		return err
	}
	if pending == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
		return nil
	}
	return coord.Drain(cmd.Context())
}
