package indexer

import (
	"fmt"
	"os"

	"github.com/aethercode/aether/pkg/persist"
)

const qualifiedIndexBasename = "qualified_index"

// qualifiedIndexSnapshot is the on-disk shape of Indexer's qualified-name
// resolution table.
type qualifiedIndexSnapshot struct {
	Entries map[string]string `json:"entries"`
}

// SaveCheckpoint persists the indexer's qualified-name index, so a resumed
// scan doesn't have to reparse every already-indexed file just to rebuild
// edge-resolution state. Implements checkpoint.Checkpointable.
func (ix *Indexer) SaveCheckpoint(dir string) error {
	ix.mu.Lock()
	snap := qualifiedIndexSnapshot{Entries: make(map[string]string, len(ix.qualifiedIndex))}
	for k, v := range ix.qualifiedIndex {
		snap.Entries[k] = v
	}
	ix.mu.Unlock()

	if err := persist.SaveState(dir, qualifiedIndexBasename, persist.NewJSONCodec(), snap); err != nil {
		return fmt.Errorf("save indexer checkpoint: %w", err)
	}

	return nil
}

// LoadCheckpoint restores the qualified-name index from a prior checkpoint.
// A missing file (no prior checkpoint) is not an error — the index simply
// starts empty and rebuilds as files are reindexed.
func (ix *Indexer) LoadCheckpoint(dir string) error {
	var snap qualifiedIndexSnapshot

	err := persist.LoadState(dir, qualifiedIndexBasename, persist.NewJSONCodec(), &snap)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return fmt.Errorf("load indexer checkpoint: %w", err)
	}

	ix.mu.Lock()
	ix.qualifiedIndex = snap.Entries
	if ix.qualifiedIndex == nil {
		ix.qualifiedIndex = make(map[string]string)
	}
	ix.mu.Unlock()

	return nil
}

// CheckpointSize estimates the on-disk size of the qualified-name index,
// implementing checkpoint.Checkpointable. Each entry is a pair of strings
// plus JSON punctuation; 64 bytes/entry is a coarse but cheap estimate.
func (ix *Indexer) CheckpointSize() int64 {
	ix.mu.Lock()
	count := len(ix.qualifiedIndex)
	ix.mu.Unlock()

	return int64(count) * 64
}
