package indexer

import (
	"context"
	"os"
	"path/filepath"

	"github.com/aethercode/aether/pkg/sir"
	"github.com/aethercode/aether/pkg/store"
	"github.com/aethercode/aether/pkg/vector"
)

// sirRecorder adapts *store.Store to sir.Recorder: the two packages define
// parallel meta-record types (store.SIRMeta, sir.MetaRecord) to avoid an
// import cycle between pkg/store and pkg/sir, so the indexer — the one
// package that legitimately depends on both — is where the conversion
// belongs. When mirrorDir is set ([storage] mirror_sir_files), every
// canonical blob is additionally written to `<mirrorDir>/<symbol_id>.json`.
type sirRecorder struct {
	s         *store.Store
	mirrorDir string
}

func (r sirRecorder) WriteSIRBlob(ctx context.Context, symbolID string, body []byte, sirHash string) (int, error) {
	version, err := r.s.WriteSIRBlob(ctx, symbolID, body, sirHash)
	if err != nil {
		return version, err
	}

	if r.mirrorDir != "" && len(body) > 0 {
		// The store row is the durable truth; a failed mirror write
		// degrades the mirror, not the pipeline.
		_ = writeMirrorBlob(r.mirrorDir, symbolID, body)
	}

	return version, nil
}

// writeMirrorBlob writes body atomically: temp file, fsync, rename.
func writeMirrorBlob(dir, symbolID string, body []byte) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, symbolID+".*.tmp")
	if err != nil {
		return err
	}

	tmpName := tmp.Name()

	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		os.Remove(tmpName)

		return err
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)

		return err
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)

		return err
	}

	return os.Rename(tmpName, filepath.Join(dir, symbolID+".json"))
}

func (r sirRecorder) UpsertSIRMeta(ctx context.Context, meta sir.MetaRecord) error {
	return r.s.UpsertSIRMeta(ctx, store.SIRMeta{
		SymbolID:    meta.SymbolID,
		Status:      meta.Status,
		RetryCount:  meta.RetryCount,
		LastError:   meta.LastError,
		GeneratedAt: meta.GeneratedAt,
		SourceHash:  meta.SourceHash,
	})
}

func (r sirRecorder) GetSIRMeta(ctx context.Context, symbolID string) (sir.MetaRecord, error) {
	m, err := r.s.GetSIRMeta(ctx, symbolID)
	if err != nil {
		return sir.MetaRecord{}, err
	}

	return sir.MetaRecord{
		SymbolID:    m.SymbolID,
		Status:      m.Status,
		RetryCount:  m.RetryCount,
		LastError:   m.LastError,
		GeneratedAt: m.GeneratedAt,
		SourceHash:  m.SourceHash,
	}, nil
}

// legacyEmbeddingsFrom converts store.LegacyEmbedding rows (the Record
// Store's pre-Vector-Store embedding table) to pkg/vector's own mirror
// type, so MigrateLegacy never needs to import pkg/store.
func legacyEmbeddingsFrom(rows []store.LegacyEmbedding) []vector.LegacyEmbedding {
	out := make([]vector.LegacyEmbedding, len(rows))

	for i, r := range rows {
		out[i] = vector.LegacyEmbedding{
			SymbolID: r.SymbolID,
			Provider: r.Provider,
			Model:    r.Model,
			Dim:      r.Dim,
			Vector:   r.Vector,
		}
	}

	return out
}
