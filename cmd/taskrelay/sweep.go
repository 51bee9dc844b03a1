package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/fyrsmithlabs/taskrelay/internal/reminder"
	"github.com/spf13/cobra"
)

func newSweepCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one reminder sweep and print the summary",
		Long: `Run a single reminder sweep against the configured store and
messaging service, then exit. Useful from cron when the service itself
runs with reminders disabled.

Examples:
  taskrelay sweep
  taskrelay sweep --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return fmt.Errorf("initialize logger: %w", err)
			}
			defer func() {
				_ = logger.Sync()
			}()

			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			result, err := a.scheduler.RunSweep(ctx)
			if err != nil {
				return fmt.Errorf("sweep failed: %w", err)
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), result)
			}
			return printSweep(cmd.OutOrStdout(), result)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	return cmd
}

func writeJSON(w io.Writer, r *reminder.SweepResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// printSweep writes a human readable sweep summary.
func printSweep(w io.Writer, r *reminder.SweepResult) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Sweep:\t%s\n", r.SweepID)
	fmt.Fprintf(tw, "Checked:\t%d\n", r.Checked)
	fmt.Fprintf(tw, "Notified:\t%d\n", r.Notified)
	fmt.Fprintf(tw, "Accrued:\t%d\n", r.Accrued)
	fmt.Fprintf(tw, "Unprocessed:\t%d\n", r.Unprocessed)
	fmt.Fprintf(tw, "Duration:\t%s\n", r.Duration)
	if len(r.Errors) > 0 {
		fmt.Fprintf(tw, "Errors:\t%d\n", len(r.Errors))
		for _, e := range r.Errors {
			fmt.Fprintf(tw, "  %s\t%v\n", e.TaskID, e.Err)
		}
	}
	if len(r.Summaries) > 0 {
		fmt.Fprintln(tw)
		fmt.Fprintln(tw, "ASSIGNEE\tTASKS\tOVERDUE\tDUE SOON\tSCORE")
		for _, s := range r.Summaries {
			fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\n", s.Email, s.TotalTasks, s.OverdueTasks, s.DueWithinThreeDays, s.TotalOverdueScore)
		}
	}
	return tw.Flush()
}
