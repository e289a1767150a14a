// Package checkpoint provides state persistence for the indexer's
// scan/watch resume cycle: how far an initial scan got, and the watch
// generation/debounce cursor a restarted watch should pick back up from.
package checkpoint

// ScanState tracks the indexer's scan/watch progress, persisted so a
// restarted `aetherd index`/`aetherd watch` run can resume instead of
// reparsing the whole tree.
type ScanState struct {
	TotalFiles      int    `json:"total_files"`
	ScannedFiles    int    `json:"scanned_files"`
	LastFilePath    string `json:"last_file_path"`
	WatchGeneration int    `json:"watch_generation"`
	LastEventUnix   int64  `json:"last_event_unix"`
}

// Metadata holds checkpoint metadata for validation and resume.
type Metadata struct {
	Version   int               `json:"version"`
	RepoPath  string            `json:"repo_path"`
	RepoHash  string            `json:"repo_hash"`
	CreatedAt string            `json:"created_at"`
	Analyzers []string          `json:"analyzers"`
	ScanState ScanState         `json:"scan_state"`
	Checksums map[string]string `json:"checksums"`
}
