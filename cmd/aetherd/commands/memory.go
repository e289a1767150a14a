package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/aethercode/aether/pkg/ask"
	"github.com/aethercode/aether/pkg/identity"
	"github.com/aethercode/aether/pkg/store"
)

func newRememberCommand() *cobra.Command {
	var (
		tags       []string
		fileRefs   []string
		symbolRefs []string
		sourceType string
	)

	cmd := &cobra.Command{
		Use:   "remember <content>",
		Short: "Store a project note",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			content := strings.TrimSpace(args[0])
			if content == "" {
				return fmt.Errorf("remember: content must be non-empty")
			}

			e, err := openEnv(ctx, envOptions{})
			if err != nil {
				return err
			}
			defer e.Close()

			now := time.Now()
			note := store.ProjectNote{
				ID:          uuid.NewString(),
				Content:     content,
				ContentHash: identity.ContentHash(content),
				SourceType:  sourceType,
				Tags:        tags,
				FileRefs:    normalizePaths(fileRefs),
				SymbolRefs:  symbolRefs,
				CreatedAt:   now,
				UpdatedAt:   now,
			}

			if err := e.store.UpsertProjectNote(ctx, note); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Remembered %s\n", note.ID)

			return nil
		},
	}

	cmd.Flags().StringSliceVar(&tags, "tag", nil, "tag (repeatable)")
	cmd.Flags().StringSliceVar(&fileRefs, "file", nil, "referenced file (repeatable)")
	cmd.Flags().StringSliceVar(&symbolRefs, "symbol", nil, "referenced symbol id (repeatable)")
	cmd.Flags().StringVar(&sourceType, "source", "manual", "source type: session, agent, manual")

	return cmd
}

func newRecallCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "recall <query>",
		Short: "Search project notes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			e, err := openEnv(ctx, envOptions{})
			if err != nil {
				return err
			}
			defer e.Close()

			notes, err := e.store.SearchProjectNotesLexical(ctx, args[0], limit)
			if err != nil {
				return err
			}

			now := time.Now()

			for _, note := range notes {
				if err := e.store.IncrementProjectNoteAccess(ctx, note.ID, now); err != nil {
					e.log.Warn("recall: increment note access", "note_id", note.ID, "error", err)
				}
			}

			return renderNotes(cmd, notes)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "maximum results")

	return cmd
}

func newNotesCommand() *cobra.Command {
	var (
		limit   int
		archive string
	)

	cmd := &cobra.Command{
		Use:   "notes",
		Short: "List (or archive) project notes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			e, err := openEnv(ctx, envOptions{})
			if err != nil {
				return err
			}
			defer e.Close()

			if archive != "" {
				if err := e.store.ArchiveProjectNote(ctx, archive, time.Now()); err != nil {
					return err
				}

				fmt.Fprintf(cmd.OutOrStdout(), "Archived %s\n", archive)

				return nil
			}

			notes, err := e.store.ListProjectNotes(ctx, limit)
			if err != nil {
				return err
			}

			return renderNotes(cmd, notes)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum notes")
	cmd.Flags().StringVar(&archive, "archive", "", "archive the note with this id instead of listing")

	return cmd
}

func renderNotes(cmd *cobra.Command, notes []store.ProjectNote) error {
	if flagJSON {
		return renderJSON(cmd.OutOrStdout(), notes)
	}

	if len(notes) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No notes.")

		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.AppendHeader(table.Row{"ID", "Updated", "Tags", "Content"})

	for _, note := range notes {
		t.AppendRow(table.Row{
			shortID(note.ID),
			humanize.Time(note.UpdatedAt),
			strings.Join(note.Tags, ","),
			truncate(note.Content, 80),
		})
	}

	t.Render()

	return nil
}

func newAskCommand() *cobra.Command {
	var (
		limit    int
		include  []string
		semantic bool
	)

	cmd := &cobra.Command{
		Use:   "ask <query>",
		Short: "Unified query across symbols, notes, test intents, and coupled files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			e, err := openEnv(ctx, envOptions{needVector: true})
			if err != nil {
				return err
			}
			defer e.Close()

			engine := ask.NewEngine(ask.Options{Store: e.store, Vector: e.vec, Log: e.log})

			request := ask.Request{Query: args[0], Limit: limit, Include: include}

			if semantic && e.embedOK && e.vec != nil {
				embedding, embedErr := e.embedder.Embedder.Embed(ctx, args[0])
				if embedErr != nil {
					e.log.Warn("ask: query embedding failed; continuing lexical-only", "error", embedErr)
				} else {
					request.Semantic = &ask.SemanticQuery{
						Provider:  e.embedder.ProviderName,
						Model:     e.embedder.ModelName,
						Embedding: embedding,
					}
				}
			}

			result, err := engine.Ask(ctx, request)
			if err != nil {
				return err
			}

			if flagJSON {
				return renderJSON(cmd.OutOrStdout(), result)
			}

			renderAskTable(cmd, result)

			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "maximum results")
	cmd.Flags().StringSliceVar(&include, "include", nil, "result types: symbols, notes, coupling, tests (default all)")
	cmd.Flags().BoolVar(&semantic, "semantic", true, "include semantic symbol retrieval when embeddings are enabled")

	return cmd
}

func renderAskTable(cmd *cobra.Command, result ask.Result) {
	if len(result.Results) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No results.")

		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.AppendHeader(table.Row{"Score", "Kind", "Title", "Snippet"})

	for _, item := range result.Results {
		title := item.Title
		if title == "" {
			title = item.TestFile
		}

		t.AppendRow(table.Row{
			fmt.Sprintf("%.2f", item.RelevanceScore),
			item.Kind,
			truncate(title, 40),
			truncate(item.Snippet, 70),
		})
	}

	t.Render()
}

func normalizePaths(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if normalized := identity.NormalizePath(p); normalized != "" {
			out = append(out, normalized)
		}
	}

	return out
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}

	return id
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}

	return s[:limit-3] + "..."
}
