package cmd

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/entityidx/configs"
	"github.com/Aman-CERP/entityidx/internal/config"
	"github.com/Aman-CERP/entityidx/internal/errors"
	"github.com/Aman-CERP/entityidx/internal/output"
)

func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a project configuration",
		Long: `Write .entityidx.yaml to the project root with every option listed at
its default. The project root is the nearest directory holding .git or a
project config, or the directory given with -C.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInit(cmd, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing project configuration")

	return cmd
}

func runInit(cmd *cobra.Command, force bool) error {
	out := output.New(cmd.OutOrStdout(), noColor)

	if existing := config.ProjectConfigPath(loadedRoot); existing != "" && !force {
		out.Warning("Project configuration already exists")
		out.Statusf(output.IconFile, "Location: %s", existing)
		out.Hint("Use --force to replace it with the template")
		return nil
	}

	path := filepath.Join(loadedRoot, config.ProjectConfigName)
	if err := os.WriteFile(path, []byte(configs.ProjectConfigTemplate), 0o644); err != nil {
		return errors.ConfigError("failed to write project configuration", err).WithDetail("path", path)
	}

	out.Success("Created project configuration")
	out.Statusf(output.IconFile, "Location: %s", path)
	out.Newline()
	out.Status(output.IconInfo, "Next steps:")
	out.Status("", "entityidx doctor      check this machine")
	out.Status("", "entityidx import FILE load entities and queue them")
	out.Status("", "entityidx watch       index queued entries continuously")
	return nil
}
