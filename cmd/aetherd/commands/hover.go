package commands

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/aethercode/aether/pkg/hover"
)

func newHoverCommand() *cobra.Command {
	var (
		line   uint
		column uint
	)

	cmd := &cobra.Command{
		Use:   "hover <file>",
		Short: "Explain the symbol at a position (the LSP/MCP hover contract)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			e, err := openEnv(ctx, envOptions{})
			if err != nil {
				return err
			}
			defer e.Close()

			resolver := hover.NewResolver(hover.Config{
				Workspace: e.workspace,
				Store:     e.store,
				Log:       e.log,
			})

			markdown, err := resolver.Hover(ctx, args[0], line, column)
			if err != nil {
				return err
			}

			if markdown == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "Nothing to show at this position.")

				return nil
			}

			if flagJSON {
				return renderJSON(cmd.OutOrStdout(), map[string]string{"markdown": markdown})
			}

			fmt.Fprintln(cmd.OutOrStdout(), colorizeHoverMarkdown(markdown))

			return nil
		},
	}

	cmd.Flags().UintVar(&line, "line", 1, "1-based line")
	cmd.Flags().UintVar(&column, "column", 1, "1-based column")

	return cmd
}

// colorizeHoverMarkdown highlights headings and warnings for terminal
// display without altering content.
func colorizeHoverMarkdown(markdown string) string {
	heading := color.New(color.Bold, color.FgCyan)
	warning := color.New(color.FgYellow)

	lines := strings.Split(markdown, "\n")
	for i, line := range lines {
		switch {
		case strings.HasPrefix(line, "### "):
			lines[i] = heading.Sprint(line)
		case strings.HasPrefix(line, "> "):
			lines[i] = warning.Sprint(line)
		}
	}

	return strings.Join(lines, "\n")
}
