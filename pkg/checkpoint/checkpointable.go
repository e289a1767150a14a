package checkpoint

// Checkpointable is implemented by indexer components that hold state worth
// persisting across a scan/watch resume boundary — currently only the
// indexer's qualified-name index (pkg/indexer.Indexer; the scan cursor itself
// travels as the ScanState passed to Manager.Save), but the interface
// stays open for future checkpointed components (e.g. an embedding backfill
// worker) the same resume cycle should cover.
type Checkpointable interface {
	// SaveCheckpoint writes component state to the given directory.
	SaveCheckpoint(dir string) error

	// LoadCheckpoint restores component state from the given directory.
	LoadCheckpoint(dir string) error

	// CheckpointSize returns the estimated size of the checkpoint in bytes.
	CheckpointSize() int64
}
