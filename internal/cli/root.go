// Package cli implements the tallyline command line interface.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tallyline/tallyline/internal/config"
)

// RootOptions holds global flags shared by all commands.
type RootOptions struct {
	ConfigFile string
	DataDir    string
	TaskCode   string
	Format     string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the tallyline CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "tallyline",
		Short: "Tallyline - retail transaction reconciliation",
		Long: `Tallyline reconciles device-captured transaction payloads against the
authoritative interaction log, maintains flat and pre-aggregated projections,
and audits them for parity after every run.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigFile, "config", "c", "", "path to config file (yaml|json)")
	cmd.PersistentFlags().StringVar(&opts.DataDir, "data-dir", "", "override data directory")
	cmd.PersistentFlags().StringVar(&opts.TaskCode, "task", "", "override task code")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewAuditCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// loadConfig builds the effective configuration: file, then .env and
// environment, then command line overrides.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if opts.ConfigFile != "" {
		loaded, err := config.LoadFromFile(opts.ConfigFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	config.LoadDotEnv("")
	config.LoadFromEnv(cfg)
	if opts.DataDir != "" {
		cfg.DataDir = opts.DataDir
	}
	if opts.TaskCode != "" {
		cfg.TaskCode = opts.TaskCode
	}
	return cfg, nil
}
