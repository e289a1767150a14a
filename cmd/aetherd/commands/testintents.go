package commands

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/aethercode/aether/pkg/analyzers/testintent"
)

func newTestIntentsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "test-intents",
		Short: "Test-to-target link inference",
	}

	cmd.AddCommand(newTestIntentsRefreshCommand(), newTestIntentsGuardsCommand())

	return cmd
}

func (e *env) testIntentLinker() *testintent.Linker {
	return testintent.New(testintent.Config{
		Workspace: e.workspace,
		Store:     e.store,
		Graph:     e.graph,
		Log:       e.log,
	})
}

func newTestIntentsRefreshCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh <test-file>",
		Short: "Re-infer which source files a test file guards",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			e, err := openEnv(ctx, envOptions{needGraph: true})
			if err != nil {
				return err
			}
			defer e.Close()

			links, err := e.testIntentLinker().RefreshForTestFile(ctx, args[0])
			if err != nil {
				return err
			}

			if flagJSON {
				return renderJSON(cmd.OutOrStdout(), links)
			}

			if len(links) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No inferred targets.")

				return nil
			}

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.AppendHeader(table.Row{"Confidence", "Method", "Target"})

			for _, link := range links {
				t.AppendRow(table.Row{fmt.Sprintf("%.2f", link.Confidence), link.Method, link.TargetFile})
			}

			t.Render()

			return nil
		},
	}
}

func newTestIntentsGuardsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "guards <target-file>",
		Short: "List the test files guarding a source file, with their intents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			e, err := openEnv(ctx, envOptions{needGraph: true})
			if err != nil {
				return err
			}
			defer e.Close()

			guards, err := e.testIntentLinker().ListGuardsForTargetFile(ctx, args[0])
			if err != nil {
				return err
			}

			if flagJSON {
				return renderJSON(cmd.OutOrStdout(), guards)
			}

			if len(guards) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No test guards.")

				return nil
			}

			for _, guard := range guards {
				fmt.Fprintf(cmd.OutOrStdout(), "%s (%.2f, %s)\n", guard.TestFile, guard.Confidence, guard.Method)

				for _, intentText := range guard.Intents {
					fmt.Fprintf(cmd.OutOrStdout(), "  - %s\n", intentText)
				}
			}

			return nil
		},
	}
}
