package cmd

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/pricefeed/internal/clock/system"
	"github.com/JakeFAU/pricefeed/internal/ingest"
	"github.com/JakeFAU/pricefeed/internal/publisher"
	"github.com/JakeFAU/pricefeed/internal/registry"
	"github.com/JakeFAU/pricefeed/internal/server"
)

// newLatestCmd creates the 'latest' subcommand, which reads back what the
// workers last published.
func newLatestCmd() *cobra.Command {
	var target string

	cmd := &cobra.Command{
		Use:   "latest",
		Short: "Show the latest published price of each target",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd.Context())
			if err != nil {
				return err
			}
			reg, err := registry.Load(cfg.Targets)
			if err != nil {
				return err
			}
			targets, err := reg.Only(target)
			if err != nil {
				return err
			}

			storeCfg := cfg.Store
			if storeCfg.ConnectAttempts == 0 {
				storeCfg.ConnectAttempts = 1
			}
			st, err := server.OpenStore(cmd.Context(), storeCfg, zap.NewNop())
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			clock := system.New()
			pub := publisher.New(st, nil, clock, publisher.Config{Namespace: cfg.Store.Namespace}, nil)
			now := clock.Now()

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.Header("Key", "Price", "Unit", "Source", "Updated", "Age")
			for _, t := range targets {
				row := []string{t.Key, "-", string(t.Unit), "-", "-", "-"}
				record, err := pub.Latest(cmd.Context(), t)
				switch {
				case errors.Is(err, ingest.ErrNotFound):
				case err != nil:
					return err
				default:
					row = []string{
						t.Key,
						strconv.FormatFloat(record.Price, 'f', -1, 64),
						string(record.Unit),
						record.Source,
						record.UpdatedAt.Format(time.RFC3339),
						now.Sub(record.UpdatedAt).Truncate(time.Second).String(),
					}
				}
				if err := table.Append(row); err != nil {
					return fmt.Errorf("append row: %w", err)
				}
			}
			return table.Render()
		},
	}

	cmd.Flags().StringVar(&target, "target", "", "show only the target with this key")
	return cmd
}
