package commands

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/aethercode/aether/pkg/analyzers/causal"
)

func newCausalCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "causal",
		Short: "Upstream root-cause tracing",
	}

	cmd.AddCommand(newCausalTraceCommand())

	return cmd
}

func newCausalTraceCommand() *cobra.Command {
	var (
		lookback string
		maxDepth int
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "trace <symbol-id>",
		Short: "Rank upstream symbols by how likely they caused the target's behavior",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			e, err := openEnv(ctx, envOptions{needGraph: true, needVector: true})
			if err != nil {
				return err
			}
			defer e.Close()

			cfg := causal.Config{
				RepoRoot: e.workspace,
				Store:    e.store,
				Graph:    e.graph,
				Causal:   e.cfg.Causal,
				Log:      e.log,
			}

			if e.embedOK {
				cfg.Embed = e.embedder.Embedder
			}

			result, err := causal.New(cfg).TraceCause(ctx, causal.TraceCauseRequest{
				TargetSymbolID: args[0],
				Lookback:       lookback,
				MaxDepth:       maxDepth,
				Limit:          limit,
			})
			if err != nil {
				return err
			}

			if flagJSON {
				return renderJSON(cmd.OutOrStdout(), result)
			}

			if len(result.CausalChain) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No upstream causes in the lookback window.")

				return nil
			}

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.AppendHeader(table.Row{"Rank", "Score", "Depth", "Symbol", "File"})

			for _, chain := range result.CausalChain {
				t.AppendRow(table.Row{
					chain.Rank,
					fmt.Sprintf("%.3f", chain.CausalScore),
					chain.Depth,
					chain.SymbolName,
					chain.FilePath,
				})
			}

			t.Render()

			return nil
		},
	}

	cmd.Flags().StringVar(&lookback, "lookback", "", `lookback window: "N commits", "Nd", or "since:<prefix>"`)
	cmd.Flags().IntVar(&maxDepth, "max-depth", 0, "upstream BFS depth (config default when 0)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "chain count (config default when 0)")

	return cmd
}
