package commands

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/aethercode/aether/pkg/analyzers/drift"
	"github.com/aethercode/aether/pkg/infer"
)

func newDriftCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drift",
		Short: "Semantic drift, boundary violation, and structural anomaly analytics",
	}

	cmd.AddCommand(newDriftReportCommand(), newDriftAckCommand(), newCommunitiesCommand())

	return cmd
}

func (e *env) driftAnalyzer() *drift.Analyzer {
	cfg := drift.Config{
		RepoRoot: e.workspace,
		Store:    e.store,
		Graph:    e.graph,
		Vec:      e.vec,
		Drift:    e.cfg.Drift,
		Log:      e.log,
	}

	if e.embedOK {
		cfg.Embed = e.embedder.Embedder
	}

	// The one LLM-backed summarizer; every other provider falls back to
	// the mechanical summary.
	if gemini, ok := e.provider.Provider.(*infer.GeminiProvider); ok {
		cfg.Summarizer = gemini
	}

	return drift.New(cfg)
}

func newDriftReportCommand() *cobra.Command {
	var (
		window       string
		minMagnitude float64
		includeAck   bool
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Detect drift over a commit window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			e, err := openEnv(ctx, envOptions{needGraph: true, needVector: true, needProvider: true})
			if err != nil {
				return err
			}
			defer e.Close()

			result, err := e.driftAnalyzer().Report(ctx, drift.ReportRequest{
				Window:              window,
				MinDriftMagnitude:   minMagnitude,
				IncludeAcknowledged: includeAck,
			})
			if err != nil {
				return err
			}

			if flagJSON {
				return renderJSON(cmd.OutOrStdout(), result)
			}

			renderDriftReport(cmd, result)

			return nil
		},
	}

	cmd.Flags().StringVar(&window, "window", "", `analysis window: "N commits", "Nd", or "since:<prefix>"`)
	cmd.Flags().Float64Var(&minMagnitude, "min-magnitude", 0, "minimum semantic drift magnitude to report")
	cmd.Flags().BoolVar(&includeAck, "include-acknowledged", false, "include already-acknowledged results")

	return cmd
}

func renderDriftReport(cmd *cobra.Command, result drift.ReportResult) {
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "Window %s..%s, %d symbols analyzed\n",
		shortID(result.FromCommit), shortID(result.ToCommit), result.SymbolsAnalyzed)

	if len(result.Semantic) > 0 {
		t := table.NewWriter()
		t.SetOutputMirror(out)
		t.AppendHeader(table.Row{"Magnitude", "Symbol", "Result", "Summary"})

		for _, entry := range result.Semantic {
			t.AppendRow(table.Row{
				fmt.Sprintf("%.2f", entry.Magnitude),
				entry.SymbolName,
				shortID(entry.ResultID),
				truncate(entry.Summary, 60),
			})
		}

		t.Render()
	}

	fmt.Fprintf(out, "semantic: %d, boundary: %d, hubs: %d, cycles: %d, orphans: %d\n",
		len(result.Semantic), len(result.Boundary),
		len(result.Structural.EmergingHubs), len(result.Structural.NewCycles),
		len(result.Structural.OrphanedSubgraphs))
}

func newDriftAckCommand() *cobra.Command {
	var note string

	cmd := &cobra.Command{
		Use:   "ack <result-id>...",
		Short: "Acknowledge drift results",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			e, err := openEnv(ctx, envOptions{needGraph: true})
			if err != nil {
				return err
			}
			defer e.Close()

			result, err := e.driftAnalyzer().Acknowledge(ctx, drift.AcknowledgeRequest{
				ResultIDs: args,
				Note:      note,
			})
			if err != nil {
				return err
			}

			if flagJSON {
				return renderJSON(cmd.OutOrStdout(), result)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Acknowledged %d result(s)\n", result.Acknowledged)

			if result.NoteID != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Recorded note %s\n", shortID(result.NoteID))
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&note, "note", "", "remember this note with back-references to the acknowledged results")

	return cmd
}

func newCommunitiesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "communities",
		Short: "List Louvain community assignments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			e, err := openEnv(ctx, envOptions{needGraph: true})
			if err != nil {
				return err
			}
			defer e.Close()

			result, err := e.driftAnalyzer().Communities(ctx)
			if err != nil {
				return err
			}

			if flagJSON {
				return renderJSON(cmd.OutOrStdout(), result)
			}

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.AppendHeader(table.Row{"Community", "Symbol", "File"})

			for _, entry := range result.Communities {
				t.AppendRow(table.Row{entry.CommunityID, entry.SymbolName, entry.FilePath})
			}

			t.Render()

			return nil
		},
	}
}
