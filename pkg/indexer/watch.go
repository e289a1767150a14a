package indexer

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/aethercode/aether/pkg/identity"
)

// Watcher recursively watches a repository root and delivers changed
// relative paths in batches, coalesced by a debounce window.
type Watcher struct {
	repoRoot string
	debounce time.Duration
	log      *slog.Logger

	fsw *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]bool
}

// NewWatcher creates a Watcher for repoRoot with the given debounce window.
func NewWatcher(repoRoot string, debounce time.Duration, log *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if log == nil {
		log = slog.Default()
	}

	if debounce <= 0 {
		debounce = 300 * time.Millisecond
	}

	w := &Watcher{
		repoRoot: repoRoot,
		debounce: debounce,
		log:      log,
		fsw:      fsw,
		pending:  make(map[string]bool),
	}

	files, err := Scan(context.Background(), repoRoot)
	if err != nil {
		return nil, err
	}

	dirs := map[string]bool{repoRoot: true}
	for _, f := range files {
		dirs[filepath.Dir(f.AbsPath)] = true
	}

	for dir := range dirs {
		if addErr := fsw.Add(dir); addErr != nil {
			log.Warn("watch: failed to add directory", "dir", dir, "error", addErr)
		}
	}

	return w, nil
}

// Close releases the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

// Run delivers debounced batches of changed relative paths to batches until
// ctx is cancelled, at which point it closes batches and returns.
func (w *Watcher) Run(ctx context.Context, batches chan<- []string) {
	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	defer close(batches)

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}

			w.recordEvent(event)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}

			w.log.Warn("watch: fsnotify error", "error", err)

		case <-ticker.C:
			if batch := w.drain(); len(batch) > 0 {
				select {
				case batches <- batch:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

func (w *Watcher) recordEvent(event fsnotify.Event) {
	if event.Op&fsnotify.Chmod != 0 && event.Op == fsnotify.Chmod {
		return
	}

	rel, err := filepath.Rel(w.repoRoot, event.Name)
	if err != nil {
		return
	}

	rel = identity.NormalizePath(rel)
	if !isSupported(rel) {
		return
	}

	w.mu.Lock()
	w.pending[rel] = true
	w.mu.Unlock()
}

func (w *Watcher) drain() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.pending) == 0 {
		return nil
	}

	out := make([]string, 0, len(w.pending))
	for rel := range w.pending {
		out = append(out, rel)
	}

	w.pending = make(map[string]bool)

	return out
}
