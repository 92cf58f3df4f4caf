package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/entityidx/internal/config"
	"github.com/Aman-CERP/entityidx/internal/errors"
	"github.com/Aman-CERP/entityidx/internal/output"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Manage the user/global configuration file and inspect the effective one.

Configuration precedence (lowest to highest):
  1. Hardcoded defaults
  2. User config (~/.config/entityidx/config.yaml)
  3. Project config (.entityidx.yaml)
  4. Environment variables (ENTITYIDX_*)`,
		Example: `  # Create the user config with every option
  entityidx config init

  # Show effective configuration
  entityidx config show

  # Print user config file path
  entityidx config path`,
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigPathCmd())

	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create user configuration file",
		Long: `Create the user configuration file with default values.

With --force an existing file is backed up and rewritten with any missing
options added. Existing settings are preserved.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigInit(cmd, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Upgrade an existing configuration")

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	var (
		jsonOutput bool
		source     string
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		Example: `  # Show merged configuration
  entityidx config show

  # Show only the project file
  entityidx config show --source project`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigShow(cmd, jsonOutput, source)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().StringVar(&source, "source", "merged", "Config source: merged, user, project, defaults")

	return cmd
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print user config file path",
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), config.GetUserConfigPath())
			return nil
		},
	}
}

func runConfigInit(cmd *cobra.Command, force bool) error {
	out := output.New(cmd.OutOrStdout(), noColor)
	configPath := config.GetUserConfigPath()

	if config.UserConfigExists() {
		if !force {
			out.Warning("User configuration already exists")
			out.Statusf(output.IconFile, "Location: %s", configPath)
			out.Hint("Use --force to add new options (your settings are kept)")
			return nil
		}
		backup, err := config.UpgradeUserConfig()
		if err != nil {
			return err
		}
		out.Success("Configuration upgraded")
		out.Statusf(output.IconFile, "Location: %s", configPath)
		out.Statusf(output.IconFile, "Backup: %s", backup)
		return nil
	}

	if _, err := config.WriteUserConfig(config.NewConfig()); err != nil {
		return err
	}
	out.Success("Created user configuration")
	out.Statusf(output.IconFile, "Location: %s", configPath)
	out.Hint("Run 'entityidx config show' to verify")
	return nil
}

func runConfigShow(cmd *cobra.Command, jsonOutput bool, source string) error {
	out := output.New(cmd.OutOrStdout(), noColor)

	var (
		cfg  *config.Config
		desc string
	)
	switch source {
	case "merged":
		var err error
		if cfg, err = requireConfig(); err != nil {
			return err
		}
		desc = "merged (defaults + user + project + env)"

	case "user":
		path := config.GetUserConfigPath()
		if !config.UserConfigExists() {
			out.Warning("No user configuration file found")
			out.Statusf(output.IconFile, "Expected at: %s", path)
			out.Hint("Run 'entityidx config init' to create one")
			return nil
		}
		var err error
		if cfg, err = readConfigFile(path); err != nil {
			return err
		}
		desc = fmt.Sprintf("user (%s)", path)

	case "project":
		path := config.ProjectConfigPath(loadedRoot)
		if path == "" {
			out.Warning("No project configuration file found")
			out.Statusf(output.IconFile, "Expected at: %s/%s", loadedRoot, config.ProjectConfigName)
			return nil
		}
		var err error
		if cfg, err = readConfigFile(path); err != nil {
			return err
		}
		desc = fmt.Sprintf("project (%s)", path)

	case "defaults":
		cfg = config.NewConfig()
		desc = "defaults (hardcoded)"

	default:
		return errors.New(errors.ErrCodeInvalidInput, fmt.Sprintf("invalid source: %s", source), nil).
			WithSuggestion("use merged, user, project or defaults")
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(cfg)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	out.Statusf(output.IconInfo, "Configuration source: %s", desc)
	out.Code(string(data))
	return nil
}

// readConfigFile parses a single config file over an empty configuration,
// so only the values it sets are shown.
func readConfigFile(path string) (*config.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(errors.ErrCodeConfigNotFound, fmt.Sprintf("failed to read %s", path), err)
	}
	var cfg config.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.ConfigError(fmt.Sprintf("failed to parse %s", path), err)
	}
	return &cfg, nil
}
