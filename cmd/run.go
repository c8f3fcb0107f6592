package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/pricefeed/internal/server"
)

// newRunCmd creates the 'run' subcommand, which starts the daemon.
func newRunCmd() *cobra.Command {
	var (
		mode   string
		target string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the ingestion workers until interrupted",
		Long: `Launches the browser and one worker per target (parallel mode) or a single
round-robin loop over every target (sequential mode), then serves /healthz,
/readyz, /metrics and worker status until SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd.Context())
			if err != nil {
				return err
			}
			if mode != "" {
				cfg.Mode = mode
			}
			if target != "" {
				cfg.OnlyTarget = target
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			app, err := server.Build(cmd.Context(), *cfg)
			if err != nil {
				return fmt.Errorf("build application: %w", err)
			}
			if err := app.Run(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("run: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "", "topology: parallel or sequential (overrides config)")
	cmd.Flags().StringVar(&target, "target", "", "ingest only the target with this key")
	return cmd
}
