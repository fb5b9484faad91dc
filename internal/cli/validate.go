package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/tripsync/internal/config"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid        bool   `json:"valid"`
	WebsocketURL string `json:"websocket_url,omitempty"`
	APIBaseURL   string `json:"api_base_url,omitempty"`
	Journal      string `json:"journal,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [config-file]",
		Short: "Validate client configuration",
		Long: `Load the configuration the way run does (defaults, file, TRIPSYNC_*
environment variables) and check it against the schema.

With no argument the --config flag or the default search path is used.

Examples:
  tripsync validate
  tripsync validate ./tripsync.yaml --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := rootOpts.Config
			if len(args) == 1 {
				path = args[0]
			}
			return runValidate(rootOpts, path, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	if path != "" {
		formatter.VerboseLog("Loading config from %s", path)
	} else {
		formatter.VerboseLog("Searching ./tripsync.yaml and ~/.config/tripsync")
	}

	cfg, err := config.Load(path)
	if err != nil {
		_ = formatter.Error(ErrCodeConfig, "invalid configuration", err.Error())
		return WrapExitError(ExitFailure, "validation failed", err)
	}

	formatter.VerboseLog("flush_delay=%s reconnect_interval=%s", cfg.Sync.FlushDelay, cfg.Sync.ReconnectInterval)

	if formatter.Format == "json" {
		return formatter.Success(ValidationResult{
			Valid:        true,
			WebsocketURL: cfg.Server.WebsocketURL,
			APIBaseURL:   cfg.Server.APIBaseURL,
			Journal:      cfg.Journal.Path,
		})
	}

	fmt.Fprintln(formatter.Writer, "✓ Configuration valid")
	return nil
}
