package cmd

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/entityidx/internal/async"
	"github.com/Aman-CERP/entityidx/internal/daemon"
	"github.com/Aman-CERP/entityidx/internal/entry"
	"github.com/Aman-CERP/entityidx/internal/index"
	"github.com/Aman-CERP/entityidx/internal/store"
	"github.com/Aman-CERP/entityidx/internal/ui"
)

func newStatusCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show store and queue status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := openProject()
			if err != nil {
				return err
			}
			defer p.Close()

			info, err := collectStatus(cmd, p)
			if err != nil {
				return err
			}

			r := ui.NewStatusRenderer(cmd.OutOrStdout(), noColor)
			if asJSON {
				return r.RenderJSON(info)
			}
			if err := r.Render(info); err != nil {
				return err
			}
			if async.HasIncompleteLock(p.cfg.Store.DataDir) {
				fmt.Fprintln(cmd.ErrOrStderr(), "Warning: a reindex did not finish; run 'entityidx reindex' again")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")

	return cmd
}

func collectStatus(cmd *cobra.Command, p *project) (ui.StatusInfo, error) {
	ctx := cmd.Context()
	info := ui.StatusInfo{
		ProjectDir: p.root,
		DataDir:    p.cfg.Store.DataDir,
		Backend:    p.cfg.Store.Backend,
	}

	var err error
	if info.Entities, err = p.entities.Count(ctx, entry.KindProduct); err != nil {
		return info, err
	}
	if info.Documents, err = p.docs.Count(ctx); err != nil {
		return info, err
	}
	if info.QueuePending, err = p.queue.Len(ctx); err != nil {
		return info, err
	}

	docPath := store.DocStorePath(p.cfg.Store.DataDir, p.cfg.Store.Backend)
	info.EntityDBSize = pathSize(p.cfg.Store.EntityDB)
	info.DocStoreSize = pathSize(docPath)
	info.QueueSize = pathSize(p.cfg.Queue.Path)
	if st, err := os.Stat(docPath); err == nil {
		info.LastIndexed = st.ModTime()
	}

	recent, err := p.history.Recent(ctx, 1)
	if err != nil {
		return info, err
	}
	if len(recent) > 0 {
		info.LastPass = &recent[0]
	}

	// A pass holds the lock for its whole run.
	lock := index.NewPassLock(p.cfg.Store.DataDir)
	acquired, err := lock.TryLock()
	if err != nil {
		return info, err
	}
	if acquired {
		_ = lock.Unlock()
	}
	info.PassRunning = !acquired
	if pid, ok := daemon.ForDataDir(p.cfg.Store.DataDir).RunningPID(); ok {
		info.WatchPID = pid
	}

	return info, nil
}

// pathSize returns the size of a file, or the total size of a directory.
func pathSize(path string) int64 {
	var total int64
	_ = filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			if fi, err := d.Info(); err == nil {
				total += fi.Size()
			}
		}
		return nil
	})
	return total
}
