package commands

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/aethercode/aether/pkg/analyzers/coupling"
)

func newCouplingCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "coupling",
		Short: "Co-change coupling analytics",
	}

	cmd.AddCommand(newCouplingMineCommand(), newBlastRadiusCommand(), newCouplingReportCommand())

	return cmd
}

func (e *env) couplingAnalyzer() *coupling.Analyzer {
	cfg := coupling.Config{
		RepoRoot: e.workspace,
		Store:    e.store,
		Vec:      e.vec,
		Coupling: e.cfg.Coupling,
		Log:      e.log,
	}

	if e.embedOK {
		cfg.Embed = e.embedder.Embedder
	}

	return coupling.New(cfg)
}

func newCouplingMineCommand() *cobra.Command {
	var commits int

	cmd := &cobra.Command{
		Use:   "mine",
		Short: "Mine git co-change history into coupling edges",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			e, err := openEnv(ctx, envOptions{needVector: true})
			if err != nil {
				return err
			}
			defer e.Close()

			var window *int
			if commits > 0 {
				window = &commits
			}

			outcome, err := e.couplingAnalyzer().Mine(ctx, window)
			if err != nil {
				return err
			}

			if flagJSON {
				return renderJSON(cmd.OutOrStdout(), outcome)
			}

			if !outcome.GitRepoFound {
				fmt.Fprintln(cmd.OutOrStdout(), "No git repository found; nothing mined.")

				return nil
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Scanned %d commits, upserted %d coupling edges (%s)\n",
				outcome.CommitsScanned, outcome.PairsUpserted, humanize.Time(outcome.MinedAt))

			return nil
		},
	}

	cmd.Flags().IntVar(&commits, "commits", 0, "override the configured commit window")

	return cmd
}

func newBlastRadiusCommand() *cobra.Command {
	var (
		minRisk  string
		autoMine bool
	)

	cmd := &cobra.Command{
		Use:   "blast-radius <file>",
		Short: "List files likely impacted by a change to <file>",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			e, err := openEnv(ctx, envOptions{needVector: true})
			if err != nil {
				return err
			}
			defer e.Close()

			result, err := e.couplingAnalyzer().BlastRadius(ctx, coupling.BlastRadiusRequest{
				FilePath: args[0],
				MinRisk:  parseRiskLevel(minRisk),
				AutoMine: autoMine,
			})
			if err != nil {
				return err
			}

			if flagJSON {
				return renderJSON(cmd.OutOrStdout(), result)
			}

			if len(result.CoupledFiles) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No coupled files at this risk level.")

				return nil
			}

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.AppendHeader(table.Row{"Risk", "Fused", "Type", "Co-changes", "File"})

			for _, entry := range result.CoupledFiles {
				t.AppendRow(table.Row{
					entry.RiskLevel.String(),
					fmt.Sprintf("%.2f", entry.FusedScore),
					entry.CouplingType,
					entry.CoChangeCount,
					entry.File,
				})
			}

			t.Render()

			return nil
		},
	}

	cmd.Flags().StringVar(&minRisk, "min-risk", "medium", "minimum risk level: low, medium, high, critical")
	cmd.Flags().BoolVar(&autoMine, "auto-mine", true, "mine first when the cursor is stale")

	return cmd
}

func newCouplingReportCommand() *cobra.Command {
	var top int

	cmd := &cobra.Command{
		Use:   "report",
		Short: "List the strongest coupling edges",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			e, err := openEnv(ctx, envOptions{})
			if err != nil {
				return err
			}
			defer e.Close()

			edges, err := e.couplingAnalyzer().CouplingReport(ctx, top)
			if err != nil {
				return err
			}

			if flagJSON {
				return renderJSON(cmd.OutOrStdout(), edges)
			}

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.AppendHeader(table.Row{"Fused", "Type", "Co-changes", "File A", "File B"})

			for _, edge := range edges {
				t.AppendRow(table.Row{
					fmt.Sprintf("%.2f", edge.FusedScore),
					edge.CouplingType,
					edge.CoChangeCount,
					edge.FileA,
					edge.FileB,
				})
			}

			t.Render()

			return nil
		},
	}

	cmd.Flags().IntVar(&top, "top", 20, "edge count")

	return cmd
}

func parseRiskLevel(value string) coupling.RiskLevel {
	switch value {
	case "critical":
		return coupling.RiskCritical
	case "high":
		return coupling.RiskHigh
	case "low":
		return coupling.RiskLow
	default:
		return coupling.RiskMedium
	}
}
