// Package cmd provides the CLI commands for entityidx.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/entityidx/internal/config"
	"github.com/Aman-CERP/entityidx/internal/errors"
	"github.com/Aman-CERP/entityidx/internal/logging"
	"github.com/Aman-CERP/entityidx/pkg/version"
)

// Persistent flags.
var (
	projectDir string
	logLevel   string
	logFile    bool
	noColor    bool
)

// Loaded once per invocation by the root pre-run hook.
var (
	loadedCfg      *config.Config
	loadedRoot     string
	loadErr        error
	loggingCleanup func()
)

// NewRootCmd creates the root command for the entityidx CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "entityidx",
		Short: "Keep a search index in sync with entity changes",
		Long: `entityidx turns entity change entries into search documents.

Producers enqueue entries (kind, id, action, flags). A pass drains the
queue, expands related entities, resolves each one against the entity
store, builds its document and commits adds and removals to the document
store, notifying hooks along the way.

Run 'entityidx watch' to index continuously, or 'entityidx run' for a
single drain.`,
		Version:           version.Version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: setup,
		PersistentPostRun: func(*cobra.Command, []string) {
			if loggingCleanup != nil {
				loggingCleanup()
				loggingCleanup = nil
			}
		},
	}

	cmd.SetVersionTemplate("entityidx version {{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&projectDir, "dir", "C", ".", "Project directory (the root is found from here)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (default from config)")
	cmd.PersistentFlags().BoolVar(&logFile, "log-file", false, "Also write JSON logs to ~/.entityidx/logs/")
	cmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newEnqueueCmd())
	cmd.AddCommand(newImportCmd())
	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newStopCmd())
	cmd.AddCommand(newReindexCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newDocCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newHistoryCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newLogsCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// setup finds the project root, loads its configuration and configures
// logging. A configuration error is kept for commands that need it, so
// that 'config path' and 'version' still work with a broken config.
func setup(cmd *cobra.Command, _ []string) error {
	loadedCfg, loadedRoot, loadErr = nil, "", nil

	root, err := config.FindProjectRoot(projectDir)
	if err != nil {
		return err
	}
	loadedRoot = root
	loadedCfg, loadErr = config.Load(root)

	level, toFile := "info", logFile
	if loadedCfg != nil {
		level = loadedCfg.Server.LogLevel
		toFile = toFile || loadedCfg.Server.LogFile
	}
	if logLevel != "" {
		level = logLevel
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = level
	logCfg.Stderr = cmd.ErrOrStderr()
	if toFile {
		logCfg.FilePath = logging.DefaultLogPath()
	}
	cleanup, err := logging.SetupDefault(logCfg)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	loggingCleanup = cleanup
	slog.Debug("project_loaded", slog.String("root", root))
	return nil
}

// requireConfig returns the loaded configuration or the error that
// prevented loading it.
func requireConfig() (*config.Config, error) {
	if loadErr != nil {
		return nil, loadErr
	}
	if loadedCfg == nil {
		return nil, errors.New(errors.ErrCodeConfigNotFound, "configuration was not loaded", nil)
	}
	return loadedCfg, nil
}

// Execute runs the root command and prints any error for humans.
func Execute() error {
	err := NewRootCmd().Execute()
	if err != nil {
		fmt.Fprint(os.Stderr, errors.FormatForCLI(err))
	}
	return err
}
