package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tallyline/tallyline/internal/app"
	"github.com/tallyline/tallyline/pkg/types"
)

// StatusOptions holds flags for the status command.
type StatusOptions struct {
	*RootOptions
	Limit      int
	StaleAfter time.Duration
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatusOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "status",
		Short:         "Show recent runs, projection generation, and quarantine summary",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, opts)
		},
	}

	cmd.Flags().IntVar(&opts.Limit, "limit", 10, "number of recent runs to show")
	cmd.Flags().DurationVar(&opts.StaleAfter, "stale-after", time.Hour, "age after which a running run is flagged stale")

	return cmd
}

type statusView struct {
	TaskCode   string                   `json:"task_code"`
	Generation int64                    `json:"generation"`
	Runs       []types.RunRecord        `json:"runs"`
	StaleRuns  []types.RunRecord        `json:"stale_runs"`
	Quarantine []quarantineSummaryEntry `json:"quarantine"`
}

type quarantineSummaryEntry struct {
	Reason string `json:"reason"`
	Count  int64  `json:"count"`
}

func runStatus(cmd *cobra.Command, opts *StatusOptions) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}

	a, err := app.New(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	view := statusView{TaskCode: cfg.TaskCode}

	if view.Generation, err = a.Sink().Generation(ctx); err != nil {
		return err
	}
	if view.Runs, err = a.Tracker().RecentRuns(ctx, cfg.TaskCode, opts.Limit); err != nil {
		return err
	}
	if view.StaleRuns, err = a.Tracker().StaleRunning(ctx, time.Now().Add(-opts.StaleAfter)); err != nil {
		return err
	}
	summary, err := a.Quarantine().Summary(ctx, time.Now().Add(-7*24*time.Hour))
	if err != nil {
		return err
	}
	for _, row := range summary {
		view.Quarantine = append(view.Quarantine, quarantineSummaryEntry{
			Reason: string(row.Reason),
			Count:  row.Count,
		})
	}

	if opts.Format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(view)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "task %s, projection generation %d\n", view.TaskCode, view.Generation)
	for _, r := range view.Runs {
		fmt.Fprintf(out, "  %s  %-9s  read=%d written=%d  %s\n",
			r.StartedAt.Format(time.RFC3339), r.Status, r.RowsRead, r.RowsWritten, r.Note)
	}
	for _, r := range view.StaleRuns {
		fmt.Fprintf(out, "  STALE: run %s started %s and is still running\n",
			r.ID, r.StartedAt.Format(time.RFC3339))
	}
	if len(view.Quarantine) > 0 {
		fmt.Fprintf(out, "quarantine (last 7 days):\n")
		for _, q := range view.Quarantine {
			fmt.Fprintf(out, "  %-16s %d\n", q.Reason, q.Count)
		}
	}
	return nil
}
