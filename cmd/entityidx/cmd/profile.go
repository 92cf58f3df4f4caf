package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/entityidx/internal/profiling"
	"github.com/Aman-CERP/entityidx/internal/ui"
)

// addProfileFlag adds --profile to a pass-running command.
func addProfileFlag(cmd *cobra.Command, dir *string) {
	cmd.Flags().StringVar(dir, "profile", "", "Write CPU, heap and trace profiles of the run to this directory")
}

// profiled runs fn, profiling it into dir when dir is set.
func profiled(dir string, fn func() error) error {
	if dir == "" {
		return fn()
	}
	session, err := profiling.Start(dir, profiling.AllProfiles())
	if err != nil {
		return err
	}

	err = fn()
	if serr := session.Stop(); serr != nil && err == nil {
		err = serr
	}

	mem := profiling.MemStats()
	slog.Info("profiles_written",
		slog.String("dir", dir),
		slog.String("heap_inuse", ui.FormatBytes(int64(mem.HeapInuse))),
		slog.Uint64("gc_cycles", uint64(mem.NumGC)))
	return err
}
