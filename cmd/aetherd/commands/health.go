package commands

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/aethercode/aether/pkg/analyzers/health"
)

func newHealthCommand() *cobra.Command {
	var (
		include []string
		limit   int
		minRisk float64
	)

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Risk-scored workspace health report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			e, err := openEnv(ctx, envOptions{needGraph: true})
			if err != nil {
				return err
			}
			defer e.Close()

			analyzer := health.New(health.Config{
				Store:  e.store,
				Graph:  e.graph,
				Health: e.cfg.Health,
				Log:    e.log,
			})

			report, err := analyzer.Report(ctx, health.ReportRequest{
				Include: include,
				Limit:   limit,
				MinRisk: minRisk,
			})
			if err != nil {
				return err
			}

			if flagJSON {
				return renderJSON(cmd.OutOrStdout(), report)
			}

			renderHealthReport(cmd, report)

			return nil
		},
	}

	cmd.Flags().StringSliceVar(&include, "include", nil,
		"sections: critical_symbols, bottlenecks, cycles, orphans, risk_hotspots (default all)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "per-section entry cap (default 10)")
	cmd.Flags().Float64Var(&minRisk, "min-risk", 0, "minimum risk score for critical symbols/hotspots (default 0.5)")

	return cmd
}

func renderHealthReport(cmd *cobra.Command, report health.ReportResult) {
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "%d symbols, %d edges, %d communities, %d cycles, %d orphaned subgraphs\n",
		report.Analysis.TotalSymbols, report.Analysis.TotalEdges,
		report.Analysis.CommunitiesDetected, report.Analysis.CyclesDetected,
		report.Analysis.OrphanedSubgraphs)

	for _, note := range report.Notes {
		fmt.Fprintln(out, "note:", note)
	}

	if len(report.CriticalSymbols) > 0 {
		t := table.NewWriter()
		t.SetOutputMirror(out)
		t.AppendHeader(table.Row{"Risk", "Symbol", "File", "Factors"})

		for _, entry := range report.CriticalSymbols {
			t.AppendRow(table.Row{
				fmt.Sprintf("%.2f", entry.RiskScore),
				entry.SymbolName,
				entry.File,
				truncate(strings.Join(entry.RiskFactors, "; "), 60),
			})
		}

		t.Render()
	}

	for _, cycle := range report.Cycles {
		fmt.Fprintf(out, "cycle %d: %s\n", cycle.CycleID, cycle.Note)
	}

	for _, bottleneck := range report.Bottlenecks {
		fmt.Fprintf(out, "bottleneck %s: %s\n", bottleneck.SymbolName, bottleneck.Note)
	}
}
