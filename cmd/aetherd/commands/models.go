package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

func newModelsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "Local model file management",
	}

	cmd.AddCommand(newModelsDownloadCommand())

	return cmd
}

func newModelsDownloadCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "download",
		Short: "Prepare the local model directory for on-device providers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			e, err := openEnv(ctx, envOptions{})
			if err != nil {
				return err
			}
			defer e.Close()

			modelsDir := filepath.Join(e.workspace, aetherDirName, modelsDirName)
			if err := os.MkdirAll(modelsDir, 0o755); err != nil {
				return fmt.Errorf("create models dir: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Model directory ready at %s\n", modelsDir)

			// On-device (candle) inference has no runtime in this build;
			// the loaders degrade those selections with a warning. Local
			// inference runs against an Ollama-compatible server instead.
			if e.cfg.Embeddings.Provider == "candle" || e.cfg.Search.Reranker == "candle" {
				fmt.Fprintln(out, "candle providers are configured but have no on-device runtime in this build;")
				fmt.Fprintln(out, "point [embeddings] or [search] at provider = \"qwen3_local\" with a running local server instead.")
			}

			if e.cfg.Embeddings.Provider == "qwen3_local" || e.cfg.Inference.Provider == "qwen3_local" {
				fmt.Fprintf(out, "Pull the model on your local inference server, e.g.: ollama pull %s\n",
					orDefault(e.cfg.Embeddings.Model, "qwen3-embeddings-0.6B"))
			}

			return nil
		},
	}
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}

	return value
}
