package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/pricefeed/internal/extract"
	"github.com/JakeFAU/pricefeed/internal/ingest"
	"github.com/JakeFAU/pricefeed/internal/logging"
	"github.com/JakeFAU/pricefeed/internal/parse"
	"github.com/JakeFAU/pricefeed/internal/registry"
	"github.com/JakeFAU/pricefeed/internal/snapshot"
)

// newReplayCmd creates the 'replay' subcommand, which runs a target's cascade
// and parser against a saved HTML snapshot without a browser.
func newReplayCmd() *cobra.Command {
	var target string

	cmd := &cobra.Command{
		Use:   "replay FILE",
		Short: "Extract a price from a saved page snapshot",
		Long: `Runs the extraction cascade and parser of --target against an HTML file,
typically one captured by the snapshot recorder after repeated failures.
Selector strategies are evaluated with CSS and XPath engines; scripted
heuristics use their offline equivalents.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd.Context())
			if err != nil {
				return err
			}
			reg, err := registry.Load(cfg.Targets)
			if err != nil {
				return err
			}
			t, ok := reg.Get(target)
			if !ok {
				return fmt.Errorf("%w: %q", ingest.ErrUnknownTarget, target)
			}

			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("logger init failed: %w", err)
			}
			defer func() { _ = logger.Sync() }()

			page, err := snapshot.Open(args[0])
			if err != nil {
				return err
			}
			defer func() { _ = page.Close() }()

			pipeline := extract.New(extract.Config{
				PrimaryTimeout:  cfg.Worker.PrimaryTimeout,
				FallbackTimeout: cfg.Worker.FallbackTimeout,
			}, logger.Named("extract"))
			raw, index, err := pipeline.Extract(cmd.Context(), page, t)
			if err != nil {
				return fmt.Errorf("extract: %w", err)
			}
			if index < 0 {
				return fmt.Errorf("no strategy matched numeric text for %s", t.Key)
			}

			price, valid := parse.New(logger.Named("parse")).Parse(raw, t)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "target:   %s\n", t.Key)
			fmt.Fprintf(out, "strategy: %d (%s)\n", index, t.Cascade[index])
			fmt.Fprintf(out, "raw:      %q\n", raw)
			if !valid {
				return fmt.Errorf("text %q is not a plausible %s price", raw, t.Key)
			}
			fmt.Fprintf(out, "price:    %v %s\n", price, t.Unit)
			return nil
		},
	}

	cmd.Flags().StringVarP(&target, "target", "t", "", "target key whose cascade to run")
	_ = cmd.MarkFlagRequired("target")
	return cmd
}
