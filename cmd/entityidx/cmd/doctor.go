package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/entityidx/internal/config"
	"github.com/Aman-CERP/entityidx/internal/entry"
	"github.com/Aman-CERP/entityidx/internal/errors"
	"github.com/Aman-CERP/entityidx/internal/preflight"
	"github.com/Aman-CERP/entityidx/internal/store"
)

func newDoctorCmd() *cobra.Command {
	var (
		verbose    bool
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check system requirements and diagnose issues",
		Long: `Run diagnostics to ensure entityidx can index this project.

Checks:
  - Disk space on the data directory volume (100MB minimum)
  - Write permissions in the data and queue directories
  - File descriptor limits (1024 minimum)
  - Pass lock held by another process (warning)
  - Reindex left unfinished (warning)
  - Configuration validity
  - Entity store readability

A successful run is remembered for a week; 'entityidx watch' repeats the
checks after that.`,
		Example: `  # Run diagnostics
  entityidx doctor

  # JSON output for scripting
  entityidx doctor --json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDoctor(cmd, verbose, jsonOutput)
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show detailed diagnostic info")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// doctorReport is the JSON form of a doctor run.
type doctorReport struct {
	Status   string                  `json:"status"`
	Checks   []preflight.CheckResult `json:"checks"`
	Warnings []string                `json:"warnings,omitempty"`
	Errors   []string                `json:"errors,omitempty"`
}

func runDoctor(cmd *cobra.Command, verbose, jsonOutput bool) error {
	target := doctorTarget()
	checker := preflight.New(
		preflight.WithVerbose(verbose),
		preflight.WithOutput(cmd.OutOrStdout()),
		preflight.WithCheck(checkConfig, checkEntityStore),
	)

	// Read the previous marker before a passing run refreshes it.
	age := preflight.MarkerAge(target.DataDir)
	results := checker.RunAll(cmd.Context(), target)
	failed := checker.HasCriticalFailures(results)
	if !failed {
		_ = preflight.MarkPassed(target.DataDir)
	}

	if jsonOutput {
		report := doctorReport{Status: checker.SummaryStatus(results), Checks: results}
		report.Errors, report.Warnings = checker.Problems(results)
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		checker.PrintResults(results)
		if age > 0 {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "\nLast successful check: %s ago\n", age.Round(time.Minute))
		}
	}

	if failed {
		return errors.New(errors.ErrCodeSystemCheck, "system check failed", nil).
			WithSuggestion("Fix the errors listed above and run 'entityidx doctor' again")
	}
	return nil
}

// doctorTarget falls back to the default data dir when the configuration
// did not load, so the system checks still run.
func doctorTarget() preflight.Target {
	if cfg, err := requireConfig(); err == nil {
		return preflight.Target{DataDir: cfg.Store.DataDir, QueuePath: cfg.Queue.Path}
	}
	return preflight.Target{DataDir: filepath.Join(loadedRoot, config.DefaultDataDir)}
}

func checkConfig(context.Context) preflight.CheckResult {
	result := preflight.CheckResult{Name: "config", Required: true}
	if _, err := requireConfig(); err != nil {
		result.Status = preflight.StatusFail
		result.Message = err.Error()
		return result
	}
	result.Status = preflight.StatusPass
	result.Message = "valid"
	return result
}

func checkEntityStore(ctx context.Context) preflight.CheckResult {
	result := preflight.CheckResult{Name: "entity_store", Required: true}
	cfg, err := requireConfig()
	if err != nil {
		result.Status = preflight.StatusWarn
		result.Required = false
		result.Message = "skipped: configuration did not load"
		return result
	}

	entities, err := store.OpenEntityStore(cfg.Store.EntityDB)
	if err != nil {
		result.Status = preflight.StatusFail
		result.Message = err.Error()
		result.Details = "The entity store is never recreated automatically; restore it from a backup"
		return result
	}
	defer entities.Close()

	n, err := entities.Count(ctx, entry.KindProduct)
	if err != nil {
		result.Status = preflight.StatusFail
		result.Message = err.Error()
		return result
	}
	result.Status = preflight.StatusPass
	result.Message = fmt.Sprintf("%d products", n)
	return result
}
