package cmd

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/entityidx/internal/errors"
	"github.com/Aman-CERP/entityidx/internal/telemetry"
)

type historyReport struct {
	Passes    []telemetry.PassRecord             `json:"passes"`
	Daily     []telemetry.DailyStats             `json:"daily"`
	Durations map[telemetry.DurationBucket]int64 `json:"durations"`
}

func newHistoryCmd() *cobra.Command {
	var (
		limit  int
		days   int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent indexing passes",
		Long: `Show the most recent passes with their outcome, followed by daily totals.

Every pass run by this project (run, watch, reindex, enqueue --run) is
recorded. The last telemetry.history_limit passes are kept; daily totals
are kept indefinitely.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit <= 0 || days <= 0 {
				return errors.New(errors.ErrCodeInvalidInput, "--limit and --days must be positive", nil)
			}

			p, err := openProject()
			if err != nil {
				return err
			}
			defer p.Close()

			ctx := cmd.Context()
			to := time.Now()
			from := to.AddDate(0, 0, -(days - 1))

			var report historyReport
			if report.Passes, err = p.history.Recent(ctx, limit); err != nil {
				return err
			}
			if report.Daily, err = p.history.Daily(ctx, from, to); err != nil {
				return err
			}
			if report.Durations, err = p.history.Durations(ctx, from, to); err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			return printHistory(cmd, report)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Number of passes to show")
	cmd.Flags().IntVar(&days, "days", 7, "Days of daily totals to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")

	return cmd
}

func printHistory(cmd *cobra.Command, report historyReport) error {
	out := cmd.OutOrStdout()
	if len(report.Passes) == 0 {
		fmt.Fprintln(out, "No passes recorded yet")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FINISHED\tTYPE\tENTRIES\tDOCS\tREMOVED\tFILTERED\tFAILURES\tELAPSED\t")
	for _, p := range report.Passes {
		elapsed := p.Elapsed.Round(time.Millisecond).String()
		if p.Aborted {
			elapsed += " (aborted)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t%s\t\n",
			p.FinishedAt.Local().Format("2006-01-02 15:04:05"), p.HookType,
			p.Entries, p.Docs, p.Removed, p.Filtered, p.Failures(), elapsed)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(report.Daily) > 0 {
		fmt.Fprintln(out)
		tw = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "DATE\tTYPE\tPASSES\tDOCS\tREMOVED\tFAILURES\tABORTED\t")
		for _, d := range report.Daily {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t\n",
				d.Date, d.HookType, d.Passes, d.Docs, d.Removed, d.Failures, d.Aborted)
		}
		return tw.Flush()
	}
	return nil
}
