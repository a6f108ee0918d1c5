package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tallyline/tallyline/internal/app"
	"github.com/tallyline/tallyline/internal/parity"
	"github.com/tallyline/tallyline/pkg/types"
)

// AuditOptions holds flags for the audit command.
type AuditOptions struct {
	*RootOptions
	WindowDays int
	Persist    bool
}

// NewAuditCommand creates the audit command.
func NewAuditCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AuditOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Audit projection parity without running the pipeline",
		Long: `Compare the flat and pre-aggregated projections over the trailing
window and print a per-date verdict. With --persist the reports are appended
to the audit history, exactly as a pipeline run would.

Example:
  tallyline audit --window 14
  tallyline audit --persist --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAudit(cmd, opts)
		},
	}

	cmd.Flags().IntVar(&opts.WindowDays, "window", 0, "trailing window in days (default from config)")
	cmd.Flags().BoolVar(&opts.Persist, "persist", false, "append reports to the audit history")

	return cmd
}

func runAudit(cmd *cobra.Command, opts *AuditOptions) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}

	a, err := app.New(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	window := opts.WindowDays
	if window <= 0 {
		window = cfg.Parity.WindowDays
	}

	auditor := parity.NewAuditor(a.Sink(), cfg.Parity.AmountTolerance)
	reports, err := auditor.Audit(cmd.Context(), time.Now().UTC(), window)
	if err != nil {
		return err
	}
	if opts.Persist {
		if err := a.Reports().Append(cmd.Context(), reports); err != nil {
			return err
		}
	}

	if opts.Format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(reports)
	}

	failures := 0
	for _, r := range reports {
		if r.Verdict == types.ParityFail {
			failures++
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  count %d/%d  amount %.2f/%.2f\n",
			r.Date, r.Verdict, r.FlatCount, r.CrosstabCount, r.FlatAmount, r.CrosstabAmount)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d dates audited, %d failures\n", len(reports), failures)
	return nil
}
