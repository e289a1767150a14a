// Package commands implements the aetherd CLI command handlers. Each
// command is a thin wrapper: parse flags, build the relevant core engine,
// call one core operation, render the result.
package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/aethercode/aether/pkg/config"
	"github.com/aethercode/aether/pkg/graph"
	"github.com/aethercode/aether/pkg/indexer"
	"github.com/aethercode/aether/pkg/infer"
	"github.com/aethercode/aether/pkg/observability"
	"github.com/aethercode/aether/pkg/search"
	"github.com/aethercode/aether/pkg/store"
	"github.com/aethercode/aether/pkg/vector"
	"github.com/aethercode/aether/pkg/version"
)

// Workspace layout under <workspace>/.aether/.
const (
	aetherDirName     = ".aether"
	configFileName    = "config.toml"
	metaDBName        = "meta.sqlite"
	vectorsDirName    = "vectors"
	vectorsDBName     = "vectors.sqlite"
	checkpointDirName = "checkpoints"
	modelsDirName     = "models"
)

var (
	flagWorkspace string
	flagJSON      bool
	flagNoColor   bool
)

// NewRootCommand builds the aetherd command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "aetherd",
		Short:         "AETHER workspace code-intelligence engine",
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			if flagNoColor {
				color.NoColor = true
			}
		},
	}

	root.PersistentFlags().StringVarP(&flagWorkspace, "workspace", "w", ".", "workspace root directory")
	root.PersistentFlags().BoolVar(&flagJSON, "json", false, "emit JSON instead of human-readable output")
	root.PersistentFlags().BoolVar(&flagNoColor, "no-color", false, "disable colored output")

	root.AddCommand(
		newIndexCommand(),
		newWatchCommand(),
		newSearchCommand(),
		newCalibrateCommand(),
		newHoverCommand(),
		newRememberCommand(),
		newRecallCommand(),
		newNotesCommand(),
		newAskCommand(),
		newCouplingCommand(),
		newDriftCommand(),
		newCausalCommand(),
		newIntentCommand(),
		newHealthCommand(),
		newTestIntentsCommand(),
		newModelsCommand(),
	)

	return root
}

// env is one command invocation's assembled engine surface: config, both
// stores, and the providers the config selects.
type env struct {
	workspace string
	cfg       *config.Config
	warnings  []string
	log       *slog.Logger

	store *store.Store
	graph *graph.Graph
	vec   *vector.Store

	provider infer.LoadedProvider
	embedder infer.LoadedEmbedder
	embedOK  bool
	reranker infer.LoadedReranker
	rerankOK bool
}

type envOptions struct {
	needGraph    bool
	needVector   bool
	needProvider bool
}

// openEnv loads config, opens the Record Store, optionally rehydrates the
// graph and opens the Vector Store, and resolves the configured providers.
func openEnv(ctx context.Context, opts envOptions) (*env, error) {
	workspace, err := filepath.Abs(flagWorkspace)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace: %w", err)
	}

	configPath := filepath.Join(workspace, aetherDirName, configFileName)
	if _, statErr := os.Stat(configPath); statErr != nil {
		configPath = ""
	}

	loaded, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	log := newLogger(loaded.Config.General.LogLevel)

	for _, warning := range loaded.Warnings {
		log.Warn("config warning", "detail", warning)
	}

	if err := os.MkdirAll(filepath.Join(workspace, aetherDirName), 0o755); err != nil {
		return nil, fmt.Errorf("create workspace state dir: %w", err)
	}

	st, err := store.Open(ctx, filepath.Join(workspace, aetherDirName, metaDBName), log)
	if err != nil {
		return nil, err
	}

	e := &env{
		workspace: workspace,
		cfg:       loaded.Config,
		warnings:  loaded.Warnings,
		log:       log,
		store:     st,
	}

	if opts.needGraph {
		e.graph = graph.New()
		if err := indexer.RebuildGraph(ctx, st, e.graph); err != nil {
			e.Close()

			return nil, err
		}
	}

	if opts.needVector && loaded.Config.Embeddings.Enabled {
		vectorsDir := filepath.Join(workspace, aetherDirName, vectorsDirName)
		if err := os.MkdirAll(vectorsDir, 0o755); err != nil {
			e.Close()

			return nil, fmt.Errorf("create vectors dir: %w", err)
		}

		vec, err := vector.Open(ctx, filepath.Join(vectorsDir, vectorsDBName))
		if err != nil {
			e.Close()

			return nil, err
		}

		e.vec = vec
	}

	if opts.needProvider {
		provider, err := infer.LoadProvider(ctx, loaded.Config.Inference)
		if err != nil {
			e.Close()

			return nil, err
		}

		e.provider = provider
	}

	embedder, embedOK, embedWarnings := infer.LoadEmbedder(loaded.Config.Embeddings)
	e.embedder = embedder
	e.embedOK = embedOK

	for _, warning := range embedWarnings {
		log.Warn("embedding provider warning", "detail", warning)
	}

	reranker, rerankOK, rerankWarnings, err := infer.LoadReranker(loaded.Config.Search, loaded.Config.Providers)
	if err != nil {
		log.Warn("reranker unavailable", "error", err)
	} else {
		e.reranker = reranker
		e.rerankOK = rerankOK
	}

	for _, warning := range rerankWarnings {
		log.Warn("reranker warning", "detail", warning)
	}

	return e, nil
}

// Close releases store handles.
func (e *env) Close() {
	if e.vec != nil {
		e.vec.Close()
	}

	if e.store != nil {
		e.store.Close()
	}
}

// searchEngine assembles the search engine from the env's loaded parts.
func (e *env) searchEngine() *search.Engine {
	opts := search.Options{
		Store:      e.store,
		Vector:     e.vec,
		Thresholds: thresholdsFromConfig(e.cfg.Search),
		Log:        e.log,
	}

	if e.embedOK {
		opts.Embedder = e.embedder.Embedder
	}

	if e.rerankOK {
		opts.Reranker = e.reranker.Reranker
	}

	return search.NewEngine(opts)
}

func thresholdsFromConfig(cfg config.SearchConfig) search.Thresholds {
	manual := make(map[string]float64)

	if cfg.Thresholds.Rust > 0 {
		manual["rust"] = cfg.Thresholds.Rust
	}

	if cfg.Thresholds.TypeScript > 0 {
		manual["typescript"] = cfg.Thresholds.TypeScript
	}

	if cfg.Thresholds.Python > 0 {
		manual["python"] = cfg.Thresholds.Python
	}

	return search.Thresholds{
		Default:    cfg.Thresholds.Default,
		Manual:     manual,
		Calibrated: cfg.CalibratedThresholds,
	}
}

func newLogger(level string) *slog.Logger {
	var slogLevel slog.Level

	switch strings.ToLower(level) {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn", "warning":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	return slog.New(observability.NewTracingHandler(
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slogLevel}),
		"aetherd", "local", observability.ModeCLI,
	))
}

// observabilityConfig derives the OTel/metrics setup from config and env.
func (e *env) observabilityConfig() observability.Config {
	cfg := observability.DefaultConfig()
	cfg.ServiceName = "aetherd"
	cfg.ServiceVersion = version.Version
	cfg.Mode = observability.ModeCLI
	cfg.OTLPEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")

	return cfg
}

// initObservability is a seam for tests; production uses observability.Init.
var initObservability = observability.Init

const shutdownTimeout = 5 * time.Second

func shutdownContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), shutdownTimeout)
}

// renderJSON writes v as indented JSON to w.
func renderJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}
