package cli

import (
	"github.com/spf13/cobra"

	"github.com/tallyline/tallyline/internal/app"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the operational HTTP API",
		Long: `Serve the operational HTTP API: trigger runs, inspect run history and
parity reports, review the quarantine, and manage timestamp overrides.

Example:
  tallyline serve --config tallyline.yaml
  tallyline serve --addr :9090`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts.RootOptions)
			if err != nil {
				return err
			}
			if opts.Addr != "" {
				cfg.HTTP.Addr = opts.Addr
			}

			a, err := app.New(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			return a.Serve(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (default from config)")

	return cmd
}
