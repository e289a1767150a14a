// Package intent implements intent snapshotting and verification:
// capturing a scope's current SIRs as a named baseline, then
// later diffing that baseline against the live SIRs to classify each
// symbol's semantic drift as preserved, shifted_minor, or shifted_major,
// flagging added/removed symbols and untested new edge cases along the
// way.
package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aethercode/aether/pkg/alg/mapx"
	"github.com/aethercode/aether/pkg/analyzers/drift"
	"github.com/aethercode/aether/pkg/config"
	"github.com/aethercode/aether/pkg/gitlib"
	"github.com/aethercode/aether/pkg/identity"
	"github.com/aethercode/aether/pkg/sir"
	"github.com/aethercode/aether/pkg/store"
	"github.com/aethercode/aether/pkg/uast"
)

const schemaVersion = "1.0"

// Scope is the unit a snapshot/verify request is resolved over.
type Scope string

// Scope values.
const (
	ScopeSymbol    Scope = "symbol"
	ScopeFile      Scope = "file"
	ScopeDirectory Scope = "directory"
)

// ParseScope validates a scope string from a request or a stored snapshot row.
func ParseScope(value string) (Scope, bool) {
	switch Scope(strings.TrimSpace(value)) {
	case ScopeSymbol:
		return ScopeSymbol, true
	case ScopeFile:
		return ScopeFile, true
	case ScopeDirectory:
		return ScopeDirectory, true
	default:
		return "", false
	}
}

// Status classifies how far a symbol's intent has drifted since its snapshot.
type Status string

// Status values.
const (
	StatusPreserved    Status = "preserved"
	StatusShiftedMinor Status = "shifted_minor"
	StatusShiftedMajor Status = "shifted_major"
)

// Embedder embeds SIR text for snapshot/verify similarity scoring.
// Declared locally per the package's decoupled-interface convention — see
// pkg/analyzers/drift.Embedder for its sibling.
type Embedder interface {
	Provider() string
	Model() string
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorStore looks up previously-embedded vectors by symbol so verify
// can reuse a snapshot's stored embedding's sibling instead of
// re-embedding.
type VectorStore interface {
	ListEmbeddingsForSymbols(ctx context.Context, provider, model string, symbolIDs []string) (map[string][]float32, error)
}

// SnapshotRequest captures one scope under one label.
type SnapshotRequest struct {
	Scope  Scope
	Target string
	Label  string
}

// SkippedSymbol is a scope symbol that had no SIR at snapshot time.
type SkippedSymbol struct {
	SymbolID   string
	SymbolName string
	FilePath   string
	Note       string
}

// SnapshotResult is the response to a snapshot-intent request.
type SnapshotResult struct {
	SchemaVersion   string
	SnapshotID      string
	Label           string
	Scope           Scope
	Target          string
	SymbolsCaptured int
	CreatedAt       time.Time
	CommitHash      string
	SkippedSymbols  []SkippedSymbol
}

// VerifyRequest identifies the snapshot to verify against current SIRs.
type VerifyRequest struct {
	SnapshotID string
}

// VerifySummary tallies a verify-intent run.
type VerifySummary struct {
	SymbolsChecked  int
	IntentPreserved int
	IntentShifted   int
	SymbolsRemoved  int
	SymbolsAdded    int
}

// PreservedEntry is a symbol whose intent held steady since the snapshot.
type PreservedEntry struct {
	SymbolID   string
	SymbolName string
	Similarity float64
	Status     Status
}

// TestCoverageGap reports which of a shifted symbol's new edge cases have
// no matching test intent.
type TestCoverageGap struct {
	ExistingTests      []string
	UntestedNewIntents []string
	Recommendation     string
}

// ShiftedEntry is a symbol whose intent drifted since the snapshot.
type ShiftedEntry struct {
	SymbolID        string
	SymbolName      string
	Similarity      float64
	Status          Status
	BeforePurpose   string
	AfterPurpose    string
	BeforeEdgeCases []string
	AfterEdgeCases  []string
	TestCoverageGap TestCoverageGap
	// Summary is a YAML rendering of the before/after purpose and edge
	// cases, meant for human-readable CLI/report display.
	Summary string
}

// AddedEntry is a symbol present now but absent from the snapshot.
type AddedEntry struct {
	SymbolID   string
	SymbolName string
	FilePath   string
	Note       string
}

// RemovedEntry is a symbol present in the snapshot but no longer live.
type RemovedEntry struct {
	SymbolID   string
	SymbolName string
	FilePath   string
	Note       string
}

// VerifyResult is the response to a verify-intent request.
type VerifyResult struct {
	SchemaVersion          string
	SnapshotID             string
	Label                  string
	Verification           VerifySummary
	Preserved              []PreservedEntry
	Shifted                []ShiftedEntry
	Added                  []AddedEntry
	Removed                []RemovedEntry
	EmbeddingFallbackCount int
	Notes                  []string
}

// Analyzer captures and verifies intent snapshots against the Record
// Store's live SIRs.
type Analyzer struct {
	repoRoot string
	store    *store.Store
	vec      VectorStore
	embed    Embedder // optional; nil always falls back to structural similarity
	cfg      config.IntentConfig
	log      *slog.Logger
}

// Config bundles an Analyzer's dependencies.
type Config struct {
	RepoRoot string
	Store    *store.Store
	Vec      VectorStore
	Embed    Embedder
	Intent   config.IntentConfig
	Log      *slog.Logger
}

// New constructs an Analyzer.
func New(cfg Config) *Analyzer {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	return &Analyzer{
		repoRoot: cfg.RepoRoot,
		store:    cfg.Store,
		vec:      cfg.Vec,
		embed:    cfg.Embed,
		cfg:      cfg.Intent,
		log:      log,
	}
}

// snapshotSymbol is one captured symbol, persisted as part of an
// IntentSnapshot row's symbols_json payload.
type snapshotSymbol struct {
	SymbolID          string    `json:"symbol_id"`
	SymbolName        string    `json:"symbol_name"`
	FilePath          string    `json:"file"`
	SIRHash           string    `json:"sir_hash"`
	SIRText           string    `json:"sir_text"`
	Embedding         []float32 `json:"embedding,omitempty"`
	EmbeddingProvider string    `json:"embedding_provider,omitempty"`
	EmbeddingModel    string    `json:"embedding_model,omitempty"`
}

// SnapshotIntent captures the current SIR of every symbol in req's scope
// under req's label, for later comparison by VerifyIntent.
func (a *Analyzer) SnapshotIntent(ctx context.Context, req SnapshotRequest) (SnapshotResult, error) {
	target := identity.NormalizePath(strings.TrimSpace(req.Target))
	label := strings.TrimSpace(req.Label)

	if target == "" || label == "" {
		return SnapshotResult{}, fmt.Errorf("scope, target, and label are required for snapshot-intent")
	}

	symbols, err := a.resolveScopeSymbols(ctx, req.Scope, target)
	if err != nil {
		return SnapshotResult{}, err
	}

	createdAt := time.Now()
	commitHash := a.resolveHeadCommitHash()

	var (
		captured []snapshotSymbol
		skipped  []SkippedSymbol
	)

	for _, sym := range symbols {
		body, sirHash, _, err := a.store.ReadSIRBlob(ctx, sym.ID)
		if err != nil || len(body) == 0 {
			skipped = append(skipped, SkippedSymbol{
				SymbolID:   sym.ID,
				SymbolName: sym.Name,
				FilePath:   sym.FilePath,
				Note:       "no SIR at snapshot time",
			})

			continue
		}

		var (
			embedding     []float32
			embedProvider string
			embedModel    string
		)

		if a.embed != nil {
			if vec, embedErr := a.embed.Embed(ctx, string(body)); embedErr == nil && len(vec) > 0 {
				embedding = vec
				embedProvider = a.embed.Provider()
				embedModel = a.embed.Model()
			}
		}

		captured = append(captured, snapshotSymbol{
			SymbolID:          sym.ID,
			SymbolName:        sym.Name,
			FilePath:          sym.FilePath,
			SIRHash:           sirHash,
			SIRText:           string(body),
			Embedding:         embedding,
			EmbeddingProvider: embedProvider,
			EmbeddingModel:    embedModel,
		})
	}

	payload, err := json.Marshal(captured)
	if err != nil {
		return SnapshotResult{}, fmt.Errorf("marshal intent snapshot payload: %w", err)
	}

	snapshotID := "snap_" + identity.ContentHash(fmt.Sprintf("%s\n%s\n%s\n%d\n%s",
		label, req.Scope, target, createdAt.UnixMilli(), commitHash))[:12]

	if err := a.store.SaveIntentSnapshot(ctx, store.IntentSnapshot{
		ID:          snapshotID,
		Label:       label,
		Scope:       string(req.Scope),
		Target:      target,
		SymbolsJSON: string(payload),
		CommitHash:  commitHash,
		CreatedAt:   createdAt,
	}); err != nil {
		return SnapshotResult{}, fmt.Errorf("save intent snapshot: %w", err)
	}

	return SnapshotResult{
		SchemaVersion:   schemaVersion,
		SnapshotID:      snapshotID,
		Label:           label,
		Scope:           req.Scope,
		Target:          target,
		SymbolsCaptured: len(captured),
		CreatedAt:       createdAt,
		CommitHash:      commitHash,
		SkippedSymbols:  skipped,
	}, nil
}

// VerifyIntent re-resolves a snapshot's scope against live symbols and
// classifies every still-present symbol's SIR drift since the snapshot.
func (a *Analyzer) VerifyIntent(ctx context.Context, req VerifyRequest) (VerifyResult, error) {
	snapshotID := strings.ToLower(strings.TrimSpace(req.SnapshotID))
	if snapshotID == "" {
		return VerifyResult{}, fmt.Errorf("snapshot_id is required")
	}

	snap, err := a.store.GetIntentSnapshot(ctx, snapshotID)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("no snapshot found, use snapshot-intent first: %w", err)
	}

	scope, ok := ParseScope(snap.Scope)
	if !ok {
		return VerifyResult{}, fmt.Errorf("invalid snapshot scope %q: expected symbol/file/directory", snap.Scope)
	}

	var snapshotSymbols []snapshotSymbol
	if err := json.Unmarshal([]byte(snap.SymbolsJSON), &snapshotSymbols); err != nil {
		return VerifyResult{}, fmt.Errorf("parse intent snapshot payload: %w", err)
	}

	currentSymbols, err := a.resolveScopeSymbols(ctx, scope, snap.Target)
	if err != nil {
		return VerifyResult{}, err
	}

	currentByID := make(map[string]uast.Symbol, len(currentSymbols))
	for _, sym := range currentSymbols {
		currentByID[sym.ID] = sym
	}

	snapshotIDs := make(map[string]struct{}, len(snapshotSymbols))
	for _, ss := range snapshotSymbols {
		snapshotIDs[ss.SymbolID] = struct{}{}
	}

	var notes []string

	added := make([]AddedEntry, 0)

	for _, sym := range currentSymbols {
		if _, ok := snapshotIDs[sym.ID]; ok {
			continue
		}

		added = append(added, AddedEntry{
			SymbolID:   sym.ID,
			SymbolName: sym.Name,
			FilePath:   sym.FilePath,
			Note:       "New symbol not in original snapshot, verify test coverage",
		})
	}

	sort.Slice(added, func(i, j int) bool { return added[i].SymbolID < added[j].SymbolID })

	var (
		removed                []RemovedEntry
		preserved              []PreservedEntry
		shifted                []ShiftedEntry
		embeddingFallbackCount int
	)

	for _, ss := range snapshotSymbols {
		current, ok := currentByID[ss.SymbolID]
		if !ok {
			removed = append(removed, RemovedEntry{
				SymbolID:   ss.SymbolID,
				SymbolName: ss.SymbolName,
				FilePath:   ss.FilePath,
				Note:       "Symbol from snapshot is no longer present",
			})

			continue
		}

		currentBody, currentHash, _, err := a.store.ReadSIRBlob(ctx, current.ID)
		if err != nil || len(currentBody) == 0 {
			snapshotSIR, _ := sir.ParseAndVerify([]byte(ss.SIRText), ss.SIRHash)
			shifted = append(shifted, ShiftedEntry{
				SymbolID:      current.ID,
				SymbolName:    current.Name,
				Similarity:    0,
				Status:        StatusShiftedMajor,
				BeforePurpose: snapshotSIR.Intent,
				TestCoverageGap: TestCoverageGap{
					Recommendation: "Current symbol has no SIR; regenerate SIR before verifying intent",
				},
			})
			notes = append(notes, fmt.Sprintf("symbol %s missing current SIR; classified as shifted_major", current.ID))

			continue
		}

		snapshotSIR, err := sir.ParseAndVerify([]byte(ss.SIRText), ss.SIRHash)
		if err != nil {
			notes = append(notes, fmt.Sprintf("symbol %s has an unparsable snapshot SIR; skipped", current.ID))

			continue
		}

		currentSIR, err := sir.ParseAndVerify(currentBody, currentHash)
		if err != nil {
			notes = append(notes, fmt.Sprintf("symbol %s has an unparsable current SIR; skipped", current.ID))

			continue
		}

		structuredDiff := drift.BuildStructuredDiff(snapshotSIR, currentSIR)

		similarity, usedFallback := a.similarity(ctx, current.ID, ss, currentSIR, structuredDiff)
		if usedFallback {
			embeddingFallbackCount++
		}

		status := classifyStatus(similarity, a.cfg.SimilarityPreservedThreshold, a.cfg.SimilarityShiftedThreshold)

		if status == StatusPreserved {
			preserved = append(preserved, PreservedEntry{
				SymbolID:   current.ID,
				SymbolName: current.Name,
				Similarity: similarity,
				Status:     status,
			})

			continue
		}

		testCoverageGap := a.testCoverageGap(ctx, current.ID, current.FilePath, snapshotSIR.ErrorModes, currentSIR.ErrorModes)

		shifted = append(shifted, ShiftedEntry{
			SymbolID:        current.ID,
			SymbolName:      current.Name,
			Similarity:      similarity,
			Status:          status,
			BeforePurpose:   snapshotSIR.Intent,
			AfterPurpose:    currentSIR.Intent,
			BeforeEdgeCases: snapshotSIR.ErrorModes,
			AfterEdgeCases:  currentSIR.ErrorModes,
			TestCoverageGap: testCoverageGap,
			Summary:         renderShiftSummary(snapshotSIR.Intent, currentSIR.Intent, structuredDiff.ErrorModesAdded, structuredDiff.ErrorModesRemoved),
		})
	}

	sort.Slice(preserved, func(i, j int) bool { return preserved[i].SymbolID < preserved[j].SymbolID })
	sort.Slice(shifted, func(i, j int) bool { return shifted[i].SymbolID < shifted[j].SymbolID })
	sort.Slice(removed, func(i, j int) bool { return removed[i].SymbolID < removed[j].SymbolID })

	return VerifyResult{
		SchemaVersion: schemaVersion,
		SnapshotID:    snap.ID,
		Label:         snap.Label,
		Verification: VerifySummary{
			SymbolsChecked:  len(preserved) + len(shifted),
			IntentPreserved: len(preserved),
			IntentShifted:   len(shifted),
			SymbolsRemoved:  len(removed),
			SymbolsAdded:    len(added),
		},
		Preserved:              preserved,
		Shifted:                shifted,
		Added:                  added,
		Removed:                removed,
		EmbeddingFallbackCount: embeddingFallbackCount,
		Notes:                  notes,
	}, nil
}

// similarity prefers the snapshot's stored embedding against a freshly
// resolved current-symbol vector — first via the Vector Store (cheap,
// reuses whatever embedding pipeline already indexed the symbol), then by
// embedding the current SIR directly — falling back to a structural
// diff-based estimate when no embedding path succeeds.
func (a *Analyzer) similarity(ctx context.Context, symbolID string, snap snapshotSymbol, current sir.SIR, diff drift.StructuredDiff) (float64, bool) {
	if len(snap.Embedding) == 0 {
		return structuralSimilarityFromDiff(diff), true
	}

	if a.vec != nil && snap.EmbeddingProvider != "" && snap.EmbeddingModel != "" {
		vectors, err := a.vec.ListEmbeddingsForSymbols(ctx, snap.EmbeddingProvider, snap.EmbeddingModel, []string{symbolID})
		if err == nil {
			if vec, ok := vectors[symbolID]; ok && len(vec) > 0 && len(vec) == len(snap.Embedding) {
				return clamp01(drift.CosineSimilarity(snap.Embedding, vec)), false
			}
		}
	}

	if a.embed != nil {
		if canon, err := sir.Canonicalize(current); err == nil {
			if vec, err := a.embed.Embed(ctx, string(canon)); err == nil && len(vec) == len(snap.Embedding) {
				return clamp01(drift.CosineSimilarity(snap.Embedding, vec)), false
			}
		}
	}

	return structuralSimilarityFromDiff(diff), true
}

// structuralSimilarityFromDiff estimates similarity without an embedding:
// intent changing dominates, edge-case (error_modes) churn contributes a
// smaller, capped share, weighted 0.6/0.4 between purpose and edge-case
// churn.
func structuralSimilarityFromDiff(diff drift.StructuredDiff) float64 {
	purposeComponent := 0.0
	if diff.IntentChanged {
		purposeComponent = 1.0
	}

	edgeDelta := len(diff.ErrorModesAdded) + len(diff.ErrorModesRemoved)
	edgeComponent := math.Min(float64(edgeDelta), 4.0) / 4.0

	magnitude := clamp01(0.6*purposeComponent + 0.4*edgeComponent)

	return clamp01(1.0 - magnitude)
}

func classifyStatus(similarity, preservedThreshold, shiftedThreshold float64) Status {
	switch {
	case similarity >= preservedThreshold:
		return StatusPreserved
	case similarity >= shiftedThreshold:
		return StatusShiftedMinor
	default:
		return StatusShiftedMajor
	}
}

// testCoverageGap finds which of a shifted symbol's newly added edge
// cases have no existing test intent mentioning them, preferring
// symbol-scoped test intents and falling back to file-scoped ones.
func (a *Analyzer) testCoverageGap(ctx context.Context, symbolID, filePath string, before, after []string) TestCoverageGap {
	intents, err := a.store.ListTestIntentsForSymbol(ctx, symbolID)
	if err != nil {
		intents = nil
	}

	if len(intents) == 0 {
		if fileIntents, err := a.store.ListTestIntentsForFile(ctx, filePath); err == nil {
			intents = fileIntents
		}
	}

	existingSet := make(map[string]struct{}, len(intents))
	for _, ti := range intents {
		existingSet[ti.TestName] = struct{}{}
	}

	beforeSet := make(map[string]struct{}, len(before))
	for _, v := range before {
		beforeSet[strings.ToLower(strings.TrimSpace(v))] = struct{}{}
	}

	var untested []string

	for _, edgeCase := range after {
		normalized := strings.ToLower(strings.TrimSpace(edgeCase))
		if normalized == "" {
			continue
		}

		if _, ok := beforeSet[normalized]; ok {
			continue
		}

		covered := false

		for _, ti := range intents {
			text := strings.ToLower(ti.IntentText)
			if strings.Contains(text, normalized) || strings.Contains(normalized, text) {
				covered = true

				break
			}
		}

		if !covered {
			untested = append(untested, edgeCase)
		}
	}

	recommendation := "No additional tests required for newly introduced intents"
	if len(untested) > 0 {
		recommendation = fmt.Sprintf("Add tests for %s", strings.Join(untested, ", "))
	}

	return TestCoverageGap{
		ExistingTests:      mapx.SortedKeys(existingSet),
		UntestedNewIntents: untested,
		Recommendation:     recommendation,
	}
}

type shiftedDiffView struct {
	Purpose struct {
		Before string `yaml:"before"`
		After  string `yaml:"after"`
	} `yaml:"purpose"`
	EdgeCases struct {
		Added   []string `yaml:"added"`
		Removed []string `yaml:"removed"`
	} `yaml:"edge_cases"`
}

// renderShiftSummary renders a shifted symbol's purpose/edge-case delta
// as YAML for human-readable CLI and report display. Returns "" if
// marshaling fails (never expected for this plain-data view).
func renderShiftSummary(beforePurpose, afterPurpose string, edgeCasesAdded, edgeCasesRemoved []string) string {
	view := shiftedDiffView{}
	view.Purpose.Before = beforePurpose
	view.Purpose.After = afterPurpose
	view.EdgeCases.Added = edgeCasesAdded
	view.EdgeCases.Removed = edgeCasesRemoved

	out, err := yaml.Marshal(view)
	if err != nil {
		return ""
	}

	return string(out)
}

// resolveScopeSymbols resolves a scope/target pair to the live symbols it
// names, deduplicated and sorted by id.
func (a *Analyzer) resolveScopeSymbols(ctx context.Context, scope Scope, target string) ([]uast.Symbol, error) {
	normalizedTarget := identity.NormalizePath(strings.TrimSpace(target))
	if normalizedTarget == "" {
		return nil, nil
	}

	var symbols []uast.Symbol

	switch scope {
	case ScopeSymbol:
		sym, err := a.store.GetSymbolRecord(ctx, normalizedTarget)
		if err != nil {
			return nil, fmt.Errorf("symbol %q not found: %w", normalizedTarget, err)
		}

		symbols = []uast.Symbol{sym}
	case ScopeFile:
		fileSymbols, err := a.store.ListSymbolsForFile(ctx, normalizedTarget)
		if err != nil {
			return nil, err
		}

		symbols = fileSymbols
	case ScopeDirectory:
		files, err := a.store.ListSymbolFilesByDirectoryPrefix(ctx, normalizedTarget)
		if err != nil {
			return nil, err
		}

		for _, file := range files {
			fileSymbols, err := a.store.ListSymbolsForFile(ctx, file)
			if err != nil {
				return nil, err
			}

			symbols = append(symbols, fileSymbols...)
		}
	default:
		return nil, fmt.Errorf("unknown intent scope %q", scope)
	}

	sort.Slice(symbols, func(i, j int) bool { return symbols[i].ID < symbols[j].ID })

	deduped := symbols[:0]

	var lastID string

	for i, sym := range symbols {
		if i > 0 && sym.ID == lastID {
			continue
		}

		deduped = append(deduped, sym)
		lastID = sym.ID
	}

	return deduped, nil
}

// resolveHeadCommitHash best-effort resolves the workspace's current HEAD
// commit hash. Returns "" if the workspace has no repository or HEAD is
// unresolvable (e.g. an empty repository) — snapshotting still proceeds.
func (a *Analyzer) resolveHeadCommitHash() string {
	repo, err := gitlib.OpenRepository(a.repoRoot)
	if err != nil {
		return ""
	}
	defer repo.Free()

	head, err := repo.Head()
	if err != nil {
		return ""
	}

	return strings.ToLower(head.String())
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}

	if v > 1 {
		return 1
	}

	return v
}
