// Package causal implements causal tracing: walking a
// target symbol's upstream dependency chain and ranking candidate causes
// of its current state by recency, coupling strength, and SIR change
// magnitude.
package causal

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aethercode/aether/pkg/analyzers/drift"
	"github.com/aethercode/aether/pkg/config"
	"github.com/aethercode/aether/pkg/gitlib"
	"github.com/aethercode/aether/pkg/graph"
	"github.com/aethercode/aether/pkg/sir"
	"github.com/aethercode/aether/pkg/store"
)

const schemaVersion = "1.0"

// Embedder embeds SIR text for change-magnitude scoring. Declared locally
// per the package's decoupled-interface convention — see
// pkg/analyzers/drift.Embedder for its sibling.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// TraceCauseRequest configures one upstream-cause trace.
type TraceCauseRequest struct {
	TargetSymbolID string
	// Lookback grammar matches the drift report's window spec: "since:<prefix>",
	// "Nd", "N" / "N commits". Empty uses the configured default.
	Lookback string
	MaxDepth int // clamped to [1, MaxDepthLimit]
	Limit    int // clamped to [1, MaxLimit]
}

// Target identifies the symbol whose upstream causes are being traced.
type Target struct {
	SymbolID   string
	SymbolName string
	FilePath   string
}

// AnalysisWindow reports the resolved trace parameters.
type AnalysisWindow struct {
	Lookback               string
	MaxDepth               int
	UpstreamSymbolsScanned int
}

// Coupling is the file-pair coupling signal backing a candidate's score.
type Coupling struct {
	FusedScore   float64
	CouplingType string
}

// Change is the most recent in-window SIR change for a candidate symbol.
type Change struct {
	RecordedAt           time.Time
	ChangeMagnitude       float64
	UsedEmbeddingFallback bool
	Diff                  drift.StructuredDiff
}

// CausalChainEntry is one ranked upstream candidate cause.
type CausalChainEntry struct {
	Rank           int
	CausalScore    float64
	SymbolID       string
	SymbolName     string
	FilePath       string
	DependencyPath []string
	Depth          int
	Change         Change
	Coupling       Coupling
}

// TraceCauseResult is the full response to a trace-cause request.
type TraceCauseResult struct {
	SchemaVersion          string
	Target                 Target
	AnalysisWindow          AnalysisWindow
	CausalChain            []CausalChainEntry
	NoChangeUpstream        int
	SkippedMissingHistory   int
	EmbeddingFallbackCount  int
	Notes                   []string
}

// Analyzer traces a symbol's upstream dependency chain and ranks candidate
// causes using the Graph Store's traversal, the Record Store's SIR
// history, and mined coupling edges.
type Analyzer struct {
	repoRoot string
	store    *store.Store
	graph    *graph.Graph
	embed    Embedder // optional; nil always uses the structural fallback magnitude
	cfg      config.CausalConfig
	log      *slog.Logger
}

// Config bundles an Analyzer's dependencies.
type Config struct {
	RepoRoot string
	Store    *store.Store
	Graph    *graph.Graph
	Embed    Embedder
	Causal   config.CausalConfig
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
		graph:    cfg.Graph,
		embed:    cfg.Embed,
		cfg:      cfg.Causal,
		log:      log,
	}
}

const couplingEdgeScanLimit = 1000

// TraceCause walks req's target symbol's upstream dependencies (callers
// and dependencies, bounded by depth) and ranks each one that changed
// within the lookback window by causal_score = recency × coupling ×
// change_magnitude.
func (a *Analyzer) TraceCause(ctx context.Context, req TraceCauseRequest) (TraceCauseResult, error) {
	targetID := strings.TrimSpace(req.TargetSymbolID)
	if targetID == "" {
		return TraceCauseResult{}, fmt.Errorf("target_symbol_id is required for trace-cause")
	}

	lookback := strings.TrimSpace(req.Lookback)
	if lookback == "" {
		lookback = a.cfg.DefaultLookback
	}

	requestedMaxDepth := req.MaxDepth
	if requestedMaxDepth <= 0 {
		requestedMaxDepth = a.cfg.DefaultMaxDepth
	}

	maxDepth := clampInt(requestedMaxDepth, 1, a.cfg.MaxDepthLimit)

	limit := req.Limit
	if limit <= 0 {
		limit = a.cfg.DefaultLimit
	}

	limit = clampInt(limit, 1, a.cfg.MaxLimit)

	target, err := a.store.GetSymbolRecord(ctx, targetID)
	if err != nil {
		return TraceCauseResult{}, fmt.Errorf("target symbol %q not found: %w", targetID, err)
	}

	var notes []string
	if requestedMaxDepth > a.cfg.MaxDepthLimit {
		notes = append(notes, fmt.Sprintf("max depth truncated at %d", maxDepth))
	}

	depthOf := a.graph.ListUpstreamDependencyTraversal(ctx, targetID, maxDepth)
	scanned := len(depthOf) - 1 // excludes the target itself, present at depth 0

	result := TraceCauseResult{
		SchemaVersion: schemaVersion,
		Target:        Target{SymbolID: target.ID, SymbolName: target.Name, FilePath: target.FilePath},
		AnalysisWindow: AnalysisWindow{
			Lookback: lookback,
			MaxDepth: maxDepth,
		},
	}

	if scanned <= 0 {
		result.Notes = append(notes, "no upstream dependencies")

		return result, nil
	}

	result.AnalysisWindow.UpstreamSymbolsScanned = scanned

	repo, err := gitlib.OpenRepository(a.repoRoot)
	if err != nil {
		return TraceCauseResult{}, fmt.Errorf("open repository: %w", err)
	}
	defer repo.Free()

	cutoff, err := a.resolveLookbackCutoff(ctx, repo, parseLookbackSpec(lookback))
	if err != nil {
		return TraceCauseResult{}, err
	}

	parentOf := a.buildParents(ctx, depthOf, maxDepth)

	ids := make([]string, 0, len(depthOf))
	for id := range depthOf {
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool {
		if depthOf[ids[i]] != depthOf[ids[j]] {
			return depthOf[ids[i]] < depthOf[ids[j]]
		}

		return ids[i] < ids[j]
	})

	var (
		candidates             []CausalChainEntry
		noChangeUpstream       int
		skippedMissingHistory  int
		embeddingFallbackCount int
	)

	for _, symbolID := range ids {
		depth := depthOf[symbolID]
		if symbolID == targetID || depth == 0 || depth > maxDepth {
			continue
		}

		history, err := a.store.ListSIRHistory(ctx, symbolID)
		if err != nil || len(history) < 2 {
			skippedMissingHistory++

			continue
		}

		idx := latestChangeIndexInWindow(history, cutoff)
		if idx <= 0 {
			noChangeUpstream++

			continue
		}

		before, after := history[idx-1], history[idx]

		beforeSIR, err := sir.ParseAndVerify(before.Body, before.SIRHash)
		if err != nil {
			skippedMissingHistory++

			continue
		}

		afterSIR, err := sir.ParseAndVerify(after.Body, after.SIRHash)
		if err != nil {
			skippedMissingHistory++

			continue
		}

		structuredDiff := drift.BuildStructuredDiff(beforeSIR, afterSIR)

		magnitude, usedFallback := a.changeMagnitude(ctx, beforeSIR, afterSIR, structuredDiff)
		if usedFallback {
			embeddingFallbackCount++
		}

		daysSinceChange := time.Since(after.RecordedAt).Hours() / 24
		if daysSinceChange < 0 {
			daysSinceChange = 0
		}

		recencyWeight := 1.0 / (1.0 + daysSinceChange)

		candidateSymbol, err := a.store.GetSymbolRecord(ctx, symbolID)
		if err != nil {
			skippedMissingHistory++

			continue
		}

		couplingStrength, couplingType := a.resolveCouplingStrength(ctx, target.FilePath, candidateSymbol.FilePath, depth)
		causalScore := clamp01(recencyWeight * couplingStrength * magnitude)

		pathIDs := buildPathIDs(targetID, symbolID, parentOf)
		dependencyPath := make([]string, len(pathIDs))

		for i, id := range pathIDs {
			if name, ok := a.symbolName(ctx, id); ok {
				dependencyPath[i] = name
			} else {
				dependencyPath[i] = id
			}
		}

		candidates = append(candidates, CausalChainEntry{
			CausalScore:    causalScore,
			SymbolID:       candidateSymbol.ID,
			SymbolName:     candidateSymbol.Name,
			FilePath:       candidateSymbol.FilePath,
			DependencyPath: dependencyPath,
			Depth:          depth,
			Change: Change{
				RecordedAt:            after.RecordedAt,
				ChangeMagnitude:       magnitude,
				UsedEmbeddingFallback: usedFallback,
				Diff:                  structuredDiff,
			},
			Coupling: Coupling{FusedScore: couplingStrength, CouplingType: couplingType},
		})
	}

	if len(candidates) == 0 && noChangeUpstream > 0 {
		notes = append(notes, "no semantic changes in window")
	}

	if skippedMissingHistory > 0 {
		notes = append(notes, fmt.Sprintf("skipped %d upstream symbols with insufficient sir history", skippedMissingHistory))
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].CausalScore != candidates[j].CausalScore {
			return candidates[i].CausalScore > candidates[j].CausalScore
		}

		if candidates[i].Depth != candidates[j].Depth {
			return candidates[i].Depth < candidates[j].Depth
		}

		return candidates[i].SymbolID < candidates[j].SymbolID
	})

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	for i := range candidates {
		candidates[i].Rank = i + 1
	}

	result.CausalChain = candidates
	result.NoChangeUpstream = noChangeUpstream
	result.SkippedMissingHistory = skippedMissingHistory
	result.EmbeddingFallbackCount = embeddingFallbackCount
	result.Notes = notes

	return result, nil
}

// changeMagnitude embeds before/after SIR text and returns 1-cosine, or
// falls back to drift.StructuralChangeMagnitudeFromDiff (and reports the
// fallback) when no Embedder is configured or embedding either side fails.
func (a *Analyzer) changeMagnitude(ctx context.Context, before, after sir.SIR, diff drift.StructuredDiff) (magnitude float64, usedFallback bool) {
	if a.embed == nil {
		return drift.StructuralChangeMagnitudeFromDiff(diff), true
	}

	beforeCanon, err := sir.Canonicalize(before)
	if err != nil {
		return drift.StructuralChangeMagnitudeFromDiff(diff), true
	}

	afterCanon, err := sir.Canonicalize(after)
	if err != nil {
		return drift.StructuralChangeMagnitudeFromDiff(diff), true
	}

	beforeVec, err := a.embed.Embed(ctx, string(beforeCanon))
	if err != nil || len(beforeVec) == 0 {
		return drift.StructuralChangeMagnitudeFromDiff(diff), true
	}

	afterVec, err := a.embed.Embed(ctx, string(afterCanon))
	if err != nil || len(afterVec) == 0 || len(afterVec) != len(beforeVec) {
		return drift.StructuralChangeMagnitudeFromDiff(diff), true
	}

	similarity := drift.CosineSimilarity(beforeVec, afterVec)

	return clamp01(1 - similarity), false
}

// resolveCouplingStrength looks up the fused coupling score between the
// target and candidate files, falling back to a depth-decayed constant
// when no coupling edge exists between them.
func (a *Analyzer) resolveCouplingStrength(ctx context.Context, targetFile, upstreamFile string, depth int) (float64, string) {
	if targetFile != "" && upstreamFile != "" {
		if edges, err := a.store.ListCouplingEdgesForFile(ctx, targetFile, couplingEdgeScanLimit); err == nil {
			for _, e := range edges {
				if (e.FileA == targetFile && e.FileB == upstreamFile) || (e.FileA == upstreamFile && e.FileB == targetFile) {
					return clamp01(e.FusedScore), e.CouplingType
				}
			}
		}
	}

	fallback := 0.5 / float64(maxInt(depth, 1))

	return clamp01(fallback), "depth_fallback"
}

func (a *Analyzer) symbolName(ctx context.Context, id string) (string, bool) {
	sym, err := a.store.GetSymbolRecord(ctx, id)
	if err != nil {
		return "", false
	}

	return sym.Name, true
}

// buildParents reconstructs a shortest-path parent pointer for every
// symbol discovered by the upstream traversal, picking (for determinism)
// the lexicographically smallest qualifying predecessor at each depth.
func (a *Analyzer) buildParents(ctx context.Context, depthOf map[string]int, maxDepth int) map[string]string {
	byDepth := make(map[int][]string)
	for id, d := range depthOf {
		byDepth[d] = append(byDepth[d], id)
	}

	for d := range byDepth {
		sort.Strings(byDepth[d])
	}

	parentOf := make(map[string]string, len(depthOf))

	for depth := 1; depth <= maxDepth; depth++ {
		for _, id := range byDepth[depth] {
			var parent string

			for _, e := range a.graph.GetCallers(ctx, id) {
				if depthOf[e.From] != depth-1 {
					continue
				}

				if parent == "" || e.From < parent {
					parent = e.From
				}
			}

			if parent != "" {
				parentOf[id] = parent
			}
		}
	}

	return parentOf
}

// buildPathIDs walks parentOf from targetID back to startID, returning the
// full root-to-target id chain. Falls back to the direct two-hop path if
// no parent chain was recorded (should not happen for a symbol the
// traversal actually discovered, but mirrors the original's defensive
// fallback).
func buildPathIDs(startID, targetID string, parentOf map[string]string) []string {
	path := []string{targetID}
	current := targetID

	for current != startID {
		parent, ok := parentOf[current]
		if !ok {
			return []string{startID, targetID}
		}

		path = append(path, parent)
		current = parent
	}

	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}

	return path
}

// lookbackKind classifies how a lookback spec bounds the change window.
type lookbackKind int

const (
	lookbackCommits lookbackKind = iota
	lookbackDays
	lookbackSinceCommit
)

type lookbackSpec struct {
	kind   lookbackKind
	n      int
	prefix string
}

const defaultLookbackCommits = 20

// parseLookbackSpec parses the same window grammar as the drift report:
// "since:<prefix>", "Nd", "N" or "N commits".
func parseLookbackSpec(spec string) lookbackSpec {
	spec = strings.TrimSpace(strings.ToLower(spec))
	if spec == "" {
		return lookbackSpec{kind: lookbackCommits, n: defaultLookbackCommits}
	}

	if prefix, ok := strings.CutPrefix(spec, "since:"); ok {
		if prefix = strings.TrimSpace(prefix); prefix != "" {
			return lookbackSpec{kind: lookbackSinceCommit, prefix: prefix}
		}

		return lookbackSpec{kind: lookbackCommits, n: defaultLookbackCommits}
	}

	if strings.HasSuffix(spec, "d") {
		if n, err := strconv.Atoi(strings.TrimSuffix(spec, "d")); err == nil && n > 0 {
			return lookbackSpec{kind: lookbackDays, n: n}
		}
	}

	if fields := strings.Fields(spec); len(fields) > 0 {
		if n, err := strconv.Atoi(fields[0]); err == nil && n > 0 {
			return lookbackSpec{kind: lookbackCommits, n: n}
		}
	}

	return lookbackSpec{kind: lookbackCommits, n: defaultLookbackCommits}
}

// resolveLookbackCutoff walks history from HEAD to find the committer
// timestamp bounding the lookback window. sir_history has no per-entry
// commit hash (unlike the original's commit-hash-tagged history rows), so
// every lookback kind resolves to a wall-clock cutoff rather than a
// specific commit set — the same adaptation the drift report's window resolution makes.
func (a *Analyzer) resolveLookbackCutoff(ctx context.Context, repo *gitlib.Repository, spec lookbackSpec) (time.Time, error) {
	if spec.kind == lookbackDays {
		return time.Now().AddDate(0, 0, -spec.n), nil
	}

	head, err := repo.Head()
	if err != nil {
		return time.Time{}, fmt.Errorf("resolve HEAD: %w", err)
	}

	walk, err := repo.Walk()
	if err != nil {
		return time.Time{}, fmt.Errorf("start revision walk: %w", err)
	}
	defer walk.Free()

	if err := walk.Push(head); err != nil {
		return time.Time{}, fmt.Errorf("push HEAD: %w", err)
	}

	var (
		cutoff time.Time
		count  int
	)

	for {
		hash, nextErr := walk.Next()
		if nextErr != nil {
			break
		}

		commit, commitErr := repo.LookupCommit(ctx, hash)
		if commitErr != nil {
			continue
		}

		cutoff = commit.Committer().When
		commit.Free()
		count++

		if spec.kind == lookbackSinceCommit && strings.HasPrefix(hash.String(), spec.prefix) {
			break
		}

		if spec.kind == lookbackCommits && count >= spec.n {
			break
		}
	}

	return cutoff, nil
}

// latestChangeIndexInWindow returns the highest history index (excluding
// index 0, which has no "before" to diff against) whose recorded time
// falls at or after cutoff, or -1 if none qualifies.
func latestChangeIndexInWindow(history []store.SIRHistoryEntry, cutoff time.Time) int {
	for i := len(history) - 1; i >= 1; i-- {
		if !history[i].RecordedAt.Before(cutoff) {
			return i
		}
	}

	return -1
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}

	if v > hi {
		return hi
	}

	return v
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

func maxInt(a, b int) int {
	if a > b {
		return a
	}

	return b
}
