// Package cmd defines the pricefeed command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/pricefeed/internal/config"
)

// configKeyType is the key for storing the loaded config in the context.
type configKeyType string

const configKey configKeyType = "config"

// newRootCmd creates the root command and its subcommands.
func newRootCmd() *cobra.Command {
	var cfgPath string

	cmd := &cobra.Command{
		Use:   "pricefeed",
		Short: "Scrapes live commodity and currency prices into a shared store.",
		Long: `pricefeed keeps one headless browser page open per instrument, reads the
displayed price on a short interval and writes the latest validated value to
Redis or Postgres for the rest of the stack to read.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		// Every subcommand needs configuration, so it is loaded once here.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			cmd.SetContext(context.WithValue(cmd.Context(), configKey, &cfg))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (PRICEFEED_* environment variables override it)")

	cmd.AddCommand(
		newRunCmd(),
		newTargetsCmd(),
		newReplayCmd(),
		newLatestCmd(),
	)
	return cmd
}

func resolveConfig(ctx context.Context) (*config.Config, error) {
	cfg, ok := ctx.Value(configKey).(*config.Config)
	if !ok || cfg == nil {
		return nil, errors.New("configuration not loaded")
	}
	return cfg, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
