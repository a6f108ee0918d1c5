package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tallyline/tallyline/internal/app"
	"github.com/tallyline/tallyline/pkg/types"
)

// ErrParityWarning signals a run that succeeded but carried parity failures.
// main maps it to exit code 2; returning it (instead of exiting here) lets
// the deferred store teardown run.
var ErrParityWarning = errors.New("run succeeded with parity failures")

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute one reconciliation run",
		Long: `Execute one reconciliation run: read source records changed since the
last checkpoint, classify and link them, rebuild the projections, and audit
parity. The process exit code is 0 for a clean run, 2 when the run succeeded
but parity failed, and 1 when the run itself failed.

Example:
  tallyline run --config tallyline.yaml
  tallyline run --data-dir /var/lib/tallyline --task recon-daily`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd, rootOpts)
		},
	}
	return cmd
}

func runOnce(cmd *cobra.Command, rootOpts *RootOptions) error {
	cfg, err := loadConfig(rootOpts)
	if err != nil {
		return err
	}

	a, err := app.New(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	outcome, runErr := a.Engine().Run(cmd.Context())
	if outcome != nil {
		printOutcome(cmd, rootOpts.Format, outcome)
	}
	if runErr != nil {
		return runErr
	}
	return outcomeErr(outcome)
}

func outcomeErr(outcome *types.RunOutcome) error {
	if outcome.Status == types.OutcomeParityWarning {
		return ErrParityWarning
	}
	return nil
}

func printOutcome(cmd *cobra.Command, format string, outcome *types.RunOutcome) {
	if format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		enc.Encode(outcome)
		return
	}
	fmt.Fprintf(cmd.OutOrStdout(),
		"run %s: %s\n  rows read:       %d\n  rows written:    %d\n  quarantined:     %d\n  parity failures: %d\n",
		outcome.RunID, outcome.Status, outcome.RowsRead, outcome.RowsWritten,
		outcome.Quarantined, outcome.ParityFailures)
}
