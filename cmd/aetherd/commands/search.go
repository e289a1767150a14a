package commands

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/aethercode/aether/pkg/search"
)

func newSearchCommand() *cobra.Command {
	var (
		mode     string
		language string
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search symbols (lexical, semantic, or hybrid)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			e, err := openEnv(ctx, envOptions{needVector: true})
			if err != nil {
				return err
			}
			defer e.Close()

			envelope, err := e.searchEngine().Search(ctx, search.Mode(mode), args[0], language,
				limit, e.cfg.Search.RerankWindow)
			if err != nil {
				return err
			}

			if flagJSON {
				return renderJSON(cmd.OutOrStdout(), envelope)
			}

			renderSearchTable(cmd, envelope)

			return nil
		},
	}

	cmd.Flags().StringVarP(&mode, "mode", "m", "hybrid", "search mode: lexical, semantic, hybrid")
	cmd.Flags().StringVarP(&language, "language", "l", "", "language for semantic-threshold selection")
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "maximum results")

	return cmd
}

func renderSearchTable(cmd *cobra.Command, envelope search.Envelope) {
	if envelope.FallbackReason != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "(%s mode requested, %s used: %s)\n",
			envelope.ModeRequested, envelope.ModeUsed, envelope.FallbackReason)
	}

	if len(envelope.Matches) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No matches.")

		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.AppendHeader(table.Row{"Score", "Symbol", "Kind", "File"})

	for _, m := range envelope.Matches {
		t.AppendRow(table.Row{fmt.Sprintf("%.3f", m.Score), m.QualifiedName, m.Kind, m.FilePath})
	}

	t.Render()
}

// calibrationSampleLimit bounds how many symbols per language feed the
// threshold estimate.
const calibrationSampleLimit = 200

func newCalibrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "calibrate",
		Short: "Estimate per-language semantic-match thresholds from stored embeddings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			e, err := openEnv(ctx, envOptions{needVector: true})
			if err != nil {
				return err
			}
			defer e.Close()

			if e.vec == nil || !e.embedOK {
				return fmt.Errorf("calibrate: embeddings are disabled; nothing to calibrate")
			}

			suggestions, err := calibrateThresholds(ctx, e)
			if err != nil {
				return err
			}

			if flagJSON {
				return renderJSON(cmd.OutOrStdout(), suggestions)
			}

			if len(suggestions) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No embedded symbols to calibrate from. Run `aetherd index` first.")

				return nil
			}

			fmt.Fprintln(cmd.OutOrStdout(), "Suggested [search.calibrated_thresholds] values:")

			languages := make([]string, 0, len(suggestions))
			for language := range suggestions {
				languages = append(languages, language)
			}

			sort.Strings(languages)

			for _, language := range languages {
				fmt.Fprintf(cmd.OutOrStdout(), "%s = %.2f\n", language, suggestions[language])
			}

			return nil
		},
	}
}

// calibrateThresholds estimates, per language, where the semantic gate
// should sit: the mean best-neighbor cosine among that language's own
// embedded symbols, discounted so genuinely related queries clear it.
func calibrateThresholds(ctx context.Context, e *env) (map[string]float64, error) {
	symbols, err := e.store.ListSymbols(ctx)
	if err != nil {
		return nil, err
	}

	idsByLanguage := make(map[string][]string)
	for _, sym := range symbols {
		idsByLanguage[sym.Language] = append(idsByLanguage[sym.Language], sym.ID)
	}

	provider := e.embedder.ProviderName
	model := e.embedder.ModelName
	suggestions := make(map[string]float64)

	for language, ids := range idsByLanguage {
		if len(ids) > calibrationSampleLimit {
			ids = ids[:calibrationSampleLimit]
		}

		vectors, err := e.vec.ListEmbeddingsForSymbols(ctx, provider, model, ids)
		if err != nil {
			return nil, err
		}

		if len(vectors) < 2 {
			continue
		}

		ordered := make([][]float32, 0, len(vectors))

		keys := make([]string, 0, len(vectors))
		for id := range vectors {
			keys = append(keys, id)
		}

		sort.Strings(keys)

		for _, id := range keys {
			ordered = append(ordered, vectors[id])
		}

		var sum float64

		for i, vec := range ordered {
			best := -1.0

			for j, other := range ordered {
				if i == j {
					continue
				}

				if sim := cosine(vec, other); sim > best {
					best = sim
				}
			}

			sum += best
		}

		mean := sum / float64(len(ordered))
		suggestions[strings.ToLower(language)] = clampThreshold(mean * 0.8)
	}

	return suggestions, nil
}

func clampThreshold(v float64) float64 {
	if v < 0.3 {
		return 0.3
	}

	if v > 0.95 {
		return 0.95
	}

	return v
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64

	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
