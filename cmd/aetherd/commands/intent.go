package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aethercode/aether/pkg/analyzers/intent"
)

func newIntentCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "intent",
		Short: "Snapshot and verify per-scope semantic intent",
	}

	cmd.AddCommand(newIntentSnapshotCommand(), newIntentVerifyCommand())

	return cmd
}

func (e *env) intentAnalyzer() *intent.Analyzer {
	cfg := intent.Config{
		RepoRoot: e.workspace,
		Store:    e.store,
		Intent:   e.cfg.Intent,
		Log:      e.log,
	}

	if e.vec != nil {
		cfg.Vec = e.vec
	}

	if e.embedOK {
		cfg.Embed = e.embedder.Embedder
	}

	return intent.New(cfg)
}

func newIntentSnapshotCommand() *cobra.Command {
	var (
		scope string
		label string
	)

	cmd := &cobra.Command{
		Use:   "snapshot <target>",
		Short: "Capture the current SIR state of a symbol, file, or directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			parsedScope, ok := intent.ParseScope(scope)
			if !ok {
				return fmt.Errorf("intent snapshot: invalid scope %q (symbol, file, directory)", scope)
			}

			e, err := openEnv(ctx, envOptions{needVector: true})
			if err != nil {
				return err
			}
			defer e.Close()

			result, err := e.intentAnalyzer().SnapshotIntent(ctx, intent.SnapshotRequest{
				Scope:  parsedScope,
				Target: args[0],
				Label:  label,
			})
			if err != nil {
				return err
			}

			if flagJSON {
				return renderJSON(cmd.OutOrStdout(), result)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Snapshot %s: %d symbols captured", result.SnapshotID, result.SymbolsCaptured)

			if len(result.SkippedSymbols) > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), " (%d skipped, no SIR yet)", len(result.SkippedSymbols))
			}

			fmt.Fprintln(cmd.OutOrStdout())

			return nil
		},
	}

	cmd.Flags().StringVar(&scope, "scope", "file", "snapshot scope: symbol, file, directory")
	cmd.Flags().StringVar(&label, "label", "", "human label for the snapshot")

	return cmd
}

func newIntentVerifyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <snapshot-id>",
		Short: "Compare current SIRs against a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			e, err := openEnv(ctx, envOptions{needVector: true})
			if err != nil {
				return err
			}
			defer e.Close()

			result, err := e.intentAnalyzer().VerifyIntent(ctx, intent.VerifyRequest{SnapshotID: args[0]})
			if err != nil {
				return err
			}

			if flagJSON {
				return renderJSON(cmd.OutOrStdout(), result)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Checked %d symbols: %d preserved, %d shifted, %d added, %d removed\n",
				result.Verification.SymbolsChecked,
				result.Verification.IntentPreserved,
				result.Verification.IntentShifted,
				result.Verification.SymbolsAdded,
				result.Verification.SymbolsRemoved)

			for _, shifted := range result.Shifted {
				fmt.Fprintf(out, "- %s (%s): similarity %.2f\n%s\n",
					shifted.SymbolName, shifted.Status, shifted.Similarity, shifted.Summary)
			}

			return nil
		},
	}
}
