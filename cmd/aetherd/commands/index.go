package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/aethercode/aether/pkg/checkpoint"
	"github.com/aethercode/aether/pkg/indexer"
)

const defaultWatchDebounce = 400 * time.Millisecond

func newIndexCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "index",
		Short: "Scan the workspace once and materialize symbols, edges, and SIRs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			e, err := openEnv(ctx, envOptions{needGraph: true, needVector: true, needProvider: true})
			if err != nil {
				return err
			}
			defer e.Close()

			ix, err := buildIndexer(e)
			if err != nil {
				return err
			}

			started := time.Now()

			if err := ix.Resume(ctx); err != nil {
				e.log.Warn("checkpoint resume failed; starting a fresh scan", "error", err)
			}

			if err := ix.IndexAll(ctx); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Indexed %s in %s\n",
				e.workspace, humanize.RelTime(started, time.Now(), "", ""))

			return nil
		},
	}
}

func newWatchCommand() *cobra.Command {
	var (
		debounceMS  int
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Index the workspace, then keep it fresh from filesystem events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			e, err := openEnv(ctx, envOptions{needGraph: true, needVector: true, needProvider: true})
			if err != nil {
				return err
			}
			defer e.Close()

			if metricsAddr != "" {
				shutdown, obsErr := initWatchObservability(e, metricsAddr)
				if obsErr != nil {
					return obsErr
				}
				defer shutdown()
			}

			ix, err := buildIndexer(e)
			if err != nil {
				return err
			}

			if err := ix.Resume(ctx); err != nil {
				e.log.Warn("checkpoint resume failed; starting a fresh scan", "error", err)
			}

			if err := ix.IndexAll(ctx); err != nil {
				return err
			}

			debounce := defaultWatchDebounce
			if debounceMS > 0 {
				debounce = time.Duration(debounceMS) * time.Millisecond
			}

			e.log.Info("watching workspace", "root", e.workspace, "debounce", debounce)

			return ix.Watch(ctx, debounce)
		},
	}

	cmd.Flags().IntVar(&debounceMS, "debounce-ms", 0, "watch debounce window in milliseconds")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. 127.0.0.1:9464)")

	return cmd
}

func buildIndexer(e *env) (*indexer.Indexer, error) {
	checkpointDir := filepath.Join(e.workspace, aetherDirName, checkpointDirName)
	if err := os.MkdirAll(checkpointDir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}

	cfg := indexer.Config{
		RepoRoot:       e.workspace,
		Store:          e.store,
		Graph:          e.graph,
		Vector:         e.vec,
		SIRProvider:    e.provider.Provider,
		SIRConcurrency: e.cfg.Inference.SIRConcurrency,
		SIRRetryBudget: e.cfg.Inference.SIRRetryBudget,
		Checkpoints:    checkpoint.NewManager(checkpointDir, checkpoint.RepoHash(e.workspace)),
		Log:            e.log,
	}

	if e.cfg.Storage.MirrorSIRFiles {
		cfg.MirrorSIRDir = filepath.Join(e.workspace, aetherDirName, "sir")
	}

	if e.embedOK {
		cfg.Embedder = e.embedder.Embedder
	}

	return indexer.New(cfg), nil
}

func initWatchObservability(e *env, metricsAddr string) (func(), error) {
	obsCfg := e.observabilityConfig()
	obsCfg.MetricsListenAddr = metricsAddr

	providers, err := initObservability(obsCfg)
	if err != nil {
		return nil, fmt.Errorf("init observability: %w", err)
	}

	return func() {
		shutdownCtx, cancel := shutdownContext()
		defer cancel()

		if shutdownErr := providers.Shutdown(shutdownCtx); shutdownErr != nil {
			e.log.Warn("observability shutdown", "error", shutdownErr)
		}
	}, nil
}
