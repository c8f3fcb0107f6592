package cmd

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/pricefeed/internal/ingest"
	"github.com/JakeFAU/pricefeed/internal/registry"
)

type targetView struct {
	Key     string   `yaml:"key"`
	Name    string   `yaml:"name"`
	URL     string   `yaml:"url"`
	Source  string   `yaml:"source"`
	Kind    string   `yaml:"kind"`
	Unit    string   `yaml:"unit"`
	Min     float64  `yaml:"min"`
	Max     float64  `yaml:"max"`
	Settle  string   `yaml:"settle"`
	Refresh string   `yaml:"refresh"`
	Cascade []string `yaml:"cascade"`
}

func newTargetView(t ingest.Target) targetView {
	steps := make([]string, 0, len(t.Cascade))
	for _, s := range t.Cascade {
		steps = append(steps, s.String())
	}
	return targetView{
		Key:     t.Key,
		Name:    t.Name,
		URL:     t.URL,
		Source:  string(t.Source),
		Kind:    string(t.Kind),
		Unit:    string(t.Unit),
		Min:     t.Range.Min,
		Max:     t.Range.Max,
		Settle:  t.Settle.String(),
		Refresh: string(t.Refresh),
		Cascade: steps,
	}
}

// newTargetsCmd creates the 'targets' subcommand, which prints the effective
// registry after config overrides.
func newTargetsCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "targets",
		Short: "List the configured targets",
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
			views := make([]targetView, 0, reg.Len())
			for _, t := range reg.All() {
				views = append(views, newTargetView(t))
			}

			switch output {
			case "yaml":
				return writeYAML(cmd.OutOrStdout(), views)
			case "table":
				return writeTargetTable(cmd.OutOrStdout(), views)
			default:
				return fmt.Errorf("unknown output format %q (want table or yaml)", output)
			}
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "table", "output format: table or yaml")
	return cmd
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}
	return enc.Close()
}

func writeTargetTable(w io.Writer, views []targetView) error {
	table := tablewriter.NewWriter(w)
	table.Header("Key", "Name", "Source", "Unit", "Range", "Refresh", "Strategies")
	for _, v := range views {
		row := []string{
			v.Key,
			v.Name,
			v.Source,
			v.Unit,
			formatRange(v.Min, v.Max),
			v.Refresh,
			strconv.Itoa(len(v.Cascade)),
		}
		if err := table.Append(row); err != nil {
			return fmt.Errorf("append row: %w", err)
		}
	}
	return table.Render()
}

func formatRange(minV, maxV float64) string {
	var b strings.Builder
	b.WriteString(strconv.FormatFloat(minV, 'f', -1, 64))
	b.WriteString(" - ")
	b.WriteString(strconv.FormatFloat(maxV, 'f', -1, 64))
	return b.String()
}
