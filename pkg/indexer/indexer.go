// Package indexer implements the Indexer: it orchestrates
// the initial scan, the debounced file-system watch, per-file parsing, the
// ordered Record/Graph Store write pipeline, and SIR/embedding scheduling.
package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/aethercode/aether/pkg/checkpoint"
	"github.com/aethercode/aether/pkg/graph"
	"github.com/aethercode/aether/pkg/sir"
	"github.com/aethercode/aether/pkg/store"
	"github.com/aethercode/aether/pkg/uast"
	"github.com/aethercode/aether/pkg/vector"
)

// Embedder computes an embedding vector for a symbol's SIR text under a
// fixed (provider, model) partition. Concrete implementations (e.g. a
// Gemini or Cohere client) live outside this package.
type Embedder interface {
	Provider() string
	Model() string
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Indexer maintains an up-to-date materialization of the Record Store and
// Graph Store from a repository's working tree.
type Indexer struct {
	repoRoot string
	parser   *uast.Parser
	store    *store.Store
	graph    *graph.Graph
	vec      *vector.Store
	sir      *sir.Lifecycle
	embed    Embedder
	log      *slog.Logger

	checkpointMgr *checkpoint.Manager

	mu             sync.Mutex
	qualifiedIndex map[string]string // qualified name -> symbol id, across the whole indexed tree
	scanState      checkpoint.ScanState
}

// Config bundles an Indexer's dependencies.
type Config struct {
	RepoRoot      string
	Store         *store.Store
	Graph         *graph.Graph
	Vector        *vector.Store // nil disables embedding computation
	SIRProvider   sir.Provider
	SIRConcurrency int
	SIRRetryBudget int
	Embedder      Embedder // nil disables embedding computation even if Vector is set
	MirrorSIRDir  string   // non-empty mirrors canonical SIR blobs as files ([storage] mirror_sir_files)
	Checkpoints   *checkpoint.Manager
	Log           *slog.Logger
}

// New constructs an Indexer from cfg.
func New(cfg Config) *Indexer {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	return &Indexer{
		repoRoot:       cfg.RepoRoot,
		parser:         uast.NewParser(),
		store:          cfg.Store,
		graph:          cfg.Graph,
		vec:            cfg.Vector,
		sir:            sir.New(cfg.SIRProvider, sirRecorder{s: cfg.Store, mirrorDir: cfg.MirrorSIRDir}, cfg.SIRConcurrency, cfg.SIRRetryBudget, log),
		embed:          cfg.Embedder,
		log:            log,
		checkpointMgr:  cfg.Checkpoints,
		qualifiedIndex: make(map[string]string),
	}
}

// Resume loads prior checkpoint state (the qualified-name index and scan
// cursor), if any, so a restarted `aetherd index`/`aetherd watch` run can
// pick up where a previous one left off. A missing checkpoint is not an
// error — IndexAll then behaves like a fresh scan.
func (ix *Indexer) Resume(ctx context.Context) error {
	if ix.checkpointMgr == nil || !ix.checkpointMgr.Exists() {
		return nil
	}

	state, err := ix.checkpointMgr.Load([]checkpoint.Checkpointable{ix})
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}

	ix.mu.Lock()
	ix.scanState = *state
	ix.mu.Unlock()

	return nil
}

// IndexAll runs the initial scan over the whole repository, indexing every
// supported file and checkpointing progress as it goes so an interrupted
// scan can resume. Per-file failures are logged and skipped — the indexer
// always makes progress.
func (ix *Indexer) IndexAll(ctx context.Context) error {
	files, err := Scan(ctx, ix.repoRoot)
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}

	ix.mu.Lock()
	ix.scanState.TotalFiles = len(files)
	ix.mu.Unlock()

	for i, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := ix.IndexFile(ctx, f.RelPath); err != nil {
			ix.log.Warn("indexer: failed to index file", "file", f.RelPath, "error", err)
		}

		ix.mu.Lock()
		ix.scanState.ScannedFiles = i + 1
		ix.scanState.LastFilePath = f.RelPath
		ix.mu.Unlock()

		if ix.checkpointMgr != nil && (i+1)%checkpointEvery == 0 {
			ix.saveCheckpoint(ctx)
		}
	}

	if ix.checkpointMgr != nil {
		ix.saveCheckpoint(ctx)
	}

	if ix.vec != nil {
		ix.migrateLegacyEmbeddings(ctx)
	}

	return nil
}

// checkpointEvery controls how often IndexAll persists resume state during
// a long initial scan.
const checkpointEvery = 200

func (ix *Indexer) saveCheckpoint(ctx context.Context) {
	ix.mu.Lock()
	state := ix.scanState
	ix.mu.Unlock()

	err := ix.checkpointMgr.Save([]checkpoint.Checkpointable{ix}, state, ix.repoRoot, []string{"indexer"})
	if err != nil {
		ix.log.Warn("indexer: checkpoint save failed", "error", err)
	}
}

// Watch runs the debounced file-system watch loop until ctx is cancelled.
// Each debounced batch is indexed file-by-file; files no longer present on
// disk are treated as removals.
func (ix *Indexer) Watch(ctx context.Context, debounce time.Duration) error {
	w, err := NewWatcher(ix.repoRoot, debounce, ix.log)
	if err != nil {
		return fmt.Errorf("new watcher: %w", err)
	}
	defer w.Close()

	batches := make(chan []string)

	go w.Run(ctx, batches)

	ix.mu.Lock()
	ix.scanState.WatchGeneration++
	gen := ix.scanState.WatchGeneration
	ix.mu.Unlock()

	ix.log.Info("indexer: watch started", "generation", gen, "debounce", debounce)

	for batch := range batches {
		for _, rel := range batch {
			if err := ctx.Err(); err != nil {
				return err
			}

			ix.mu.Lock()
			ix.scanState.LastEventUnix = time.Now().Unix()
			ix.mu.Unlock()

			abs := ix.absPath(rel)

			if _, statErr := os.Stat(abs); statErr != nil {
				if removeErr := ix.removeFile(ctx, rel); removeErr != nil {
					ix.log.Warn("indexer: failed to process removal", "file", rel, "error", removeErr)
				}

				continue
			}

			if err := ix.IndexFile(ctx, rel); err != nil {
				ix.log.Warn("indexer: failed to index file", "file", rel, "error", err)
			}
		}

		if ix.checkpointMgr != nil {
			ix.saveCheckpoint(ctx)
		}
	}

	return ctx.Err()
}
