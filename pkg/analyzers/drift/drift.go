// Package drift implements drift analysis: resolving a
// commit-range window, then reporting semantic drift (SIR embedding
// divergence against a historical baseline), boundary violations (edges
// that newly cross a Louvain community boundary), and structural anomalies
// (emerging PageRank hubs, new strongly-connected-component cycles,
// orphaned subgraphs) over that window.
package drift

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/aethercode/aether/pkg/alg/mapx"
	"github.com/aethercode/aether/pkg/cache"
	"github.com/aethercode/aether/pkg/config"
	"github.com/aethercode/aether/pkg/gitlib"
	"github.com/aethercode/aether/pkg/graph"
	"github.com/aethercode/aether/pkg/identity"
	"github.com/aethercode/aether/pkg/sir"
	"github.com/aethercode/aether/pkg/store"
	"github.com/aethercode/aether/pkg/uast"
	"github.com/aethercode/aether/pkg/vector"
)

// Drift result kinds. The first five are user-facing; the last two are
// internal bookkeeping rows written pre-acknowledged on every run so the
// next run has a prior-state baseline to diff against.
const (
	kindSemantic         = "semantic"
	kindBoundary         = "boundary"
	kindEmergingHub      = "emerging_hub"
	kindNewCycle         = "new_cycle"
	kindOrphaned         = "orphaned"
	kindPageRankSnapshot = "pagerank_snapshot"
	kindSCCSnapshot      = "scc_snapshot"
)

const epsilon = 1e-9

// Embedder embeds a text under a fixed (provider, model) partition.
// Declared locally per the package's decoupled-interface convention — see
// pkg/search.Embedder and pkg/analyzers/coupling.Embedder for its siblings.
type Embedder interface {
	Provider() string
	Model() string
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Summarizer produces a one-sentence natural-language summary of a
// mechanical diff description. Concrete LLM-backed implementations are
// wired in cmd/aetherd; the mechanical summary is always a safe fallback.
type Summarizer interface {
	Summarize(ctx context.Context, mechanicalSummary string) (string, error)
}

// Include selects which of the three report sections to compute. The zero
// value is treated as "all three" by Report.
type Include struct {
	Semantic   bool
	Boundary   bool
	Structural bool
}

// StructuredDiff is the field-level before/after comparison of a symbol's
// SIR, underlying both the semantic drift magnitude and its summary.
type StructuredDiff struct {
	IntentChanged       bool
	IntentBefore        string
	IntentAfter         string
	InputsAdded         []string
	InputsRemoved       []string
	OutputsAdded        []string
	OutputsRemoved      []string
	SideEffectsAdded    []string
	SideEffectsRemoved  []string
	DependenciesAdded   []string
	DependenciesRemoved []string
	ErrorModesAdded     []string
	ErrorModesRemoved   []string
}

// TestCoverage summarizes the test intents linked to a drifted symbol.
type TestCoverage struct {
	HasTests  bool
	TestCount int
	Intents   []string
}

// SemanticDriftEntry is one symbol whose SIR has drifted beyond the
// configured threshold between a historical baseline and the current SIR.
type SemanticDriftEntry struct {
	ResultID        string
	SymbolID        string
	SymbolName      string
	Magnitude       float64
	CurrentSIRHash  string
	BaselineSIRHash string
	Diff            StructuredDiff
	Summary         string
	TestCoverage    TestCoverage
	FromCommit      string
	ToCommit        string
	Acknowledged    bool
}

// BoundaryViolationEntry is one dependency edge that newly crosses a
// Louvain community boundary since the last recorded snapshot.
type BoundaryViolationEntry struct {
	ResultID      string
	Source        string
	Target        string
	EdgeType      string
	Informational bool // true on the first-ever run: a baseline, not a regression
	ToCommit      string
	Acknowledged  bool
}

// EmergingHubEntry is a symbol whose PageRank crossed the configured
// percentile threshold with a >20% increase since the prior snapshot.
type EmergingHubEntry struct {
	ResultID        string
	SymbolID        string
	SymbolName      string
	PageRank        float64
	PreviousRank    float64
	DependentsCount int
	ToCommit        string
	Acknowledged    bool
}

// NewCycleEntry is a strongly-connected component (size > 1) not present
// in the prior run's SCC snapshot.
type NewCycleEntry struct {
	ResultID     string
	Symbols      []string
	ToCommit     string
	Acknowledged bool
}

// OrphanedSubgraphEntry is a connected component other than the largest —
// every run reports these fresh; there is no prior-state comparison.
type OrphanedSubgraphEntry struct {
	ResultID     string
	Symbols      []string
	TotalSymbols int
	ToCommit     string
	Acknowledged bool
}

// StructuralAnomalies bundles the three structural-anomaly sub-kinds.
type StructuralAnomalies struct {
	EmergingHubs      []EmergingHubEntry
	NewCycles         []NewCycleEntry
	OrphanedSubgraphs []OrphanedSubgraphEntry
}

// ReportRequest configures one drift analysis run.
type ReportRequest struct {
	// Window grammar: "N" / "N commits", "Nd", "since:<prefix>". Empty uses
	// the configured analysis_window default.
	Window              string
	Include             Include
	MinDriftMagnitude   float64 // clamped to [0,1]; applies to the semantic section only
	IncludeAcknowledged bool
}

// ReportResult is the full response to a drift report request.
type ReportResult struct {
	FromCommit      string
	ToCommit        string
	SymbolsAnalyzed int
	Semantic        []SemanticDriftEntry
	Boundary        []BoundaryViolationEntry
	Structural      StructuralAnomalies
}

// AcknowledgeRequest marks one or more drift results as resolved.
type AcknowledgeRequest struct {
	ResultIDs []string
	Note      string // optional; recorded as a project note referencing the affected subjects
}

// AcknowledgeResult reports what Acknowledge did.
type AcknowledgeResult struct {
	Acknowledged int
	NoteID       string // empty if no note was recorded
}

// CommunityEntry is one symbol's Louvain community assignment, enriched
// with its name and file path.
type CommunityEntry struct {
	CommunityID int
	SymbolID    string
	SymbolName  string
	FilePath    string
}

// CommunitiesResult lists every symbol's current community assignment.
type CommunitiesResult struct {
	Communities []CommunityEntry
}

// Analyzer resolves drift-report windows over git history and computes
// semantic, boundary, and structural drift signals against the Record
// Store's SIR history and the in-memory Graph's analytics.
type Analyzer struct {
	repoRoot   string
	store      *store.Store
	graph      *graph.Graph
	vec        *vector.Store // optional; nil disables semantic drift entirely
	embed      Embedder      // optional; nil disables semantic drift entirely
	summarizer Summarizer    // optional; nil falls back to the mechanical summary
	cfg        config.DriftConfig
	log        *slog.Logger

	// embedCache holds SIR-text embeddings keyed by sir_hash. A hash's
	// canonical text is immutable, so entries never go stale; the cache
	// saves one provider round trip per baseline re-visited across runs
	// of the same Analyzer.
	embedCache *cache.LRU[[]float32]
}

// Config bundles an Analyzer's dependencies.
type Config struct {
	RepoRoot   string
	Store      *store.Store
	Graph      *graph.Graph
	Vec        *vector.Store
	Embed      Embedder
	Summarizer Summarizer
	Drift      config.DriftConfig
	Log        *slog.Logger
}

// New constructs an Analyzer.
func New(cfg Config) *Analyzer {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	return &Analyzer{
		repoRoot:   cfg.RepoRoot,
		store:      cfg.Store,
		graph:      cfg.Graph,
		vec:        cfg.Vec,
		embed:      cfg.Embed,
		summarizer: cfg.Summarizer,
		cfg:        cfg.Drift,
		log:        log,
		embedCache: cache.NewLRU[[]float32](embedCacheBudget),
	}
}

// embedCacheBudget bounds the embedding cache at roughly 16k 1024-dim
// float32 vectors.
const embedCacheBudget = 64 * 1024 * 1024

// windowKind classifies how a window spec bounds the commit range.
type windowKind int

const (
	windowCommits windowKind = iota
	windowDays
	windowSinceCommit
)

type windowSpec struct {
	kind   windowKind
	n      int
	prefix string
}

const defaultWindowCommits = 100

// parseWindowSpec parses the window grammar: "since:<prefix>", "Nd", "N" or
// "N commits". Anything unparseable defaults to the last 100 commits —
// lenient parse, same convention as coupling.ParseCouplingType.
func parseWindowSpec(spec string) windowSpec {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return windowSpec{kind: windowCommits, n: defaultWindowCommits}
	}

	if prefix, ok := strings.CutPrefix(spec, "since:"); ok {
		if prefix = strings.TrimSpace(prefix); prefix != "" {
			return windowSpec{kind: windowSinceCommit, prefix: prefix}
		}

		return windowSpec{kind: windowCommits, n: defaultWindowCommits}
	}

	if strings.HasSuffix(spec, "d") {
		if n, err := strconv.Atoi(strings.TrimSuffix(spec, "d")); err == nil && n > 0 {
			return windowSpec{kind: windowDays, n: n}
		}
	}

	if fields := strings.Fields(spec); len(fields) > 0 {
		if n, err := strconv.Atoi(fields[0]); err == nil && n > 0 {
			return windowSpec{kind: windowCommits, n: n}
		}
	}

	return windowSpec{kind: windowCommits, n: defaultWindowCommits}
}

// resolvedWindow is a window spec resolved against actual repository
// history: the inclusive set of commits in range, and the from/to
// boundaries used for baseline resolution and result ids.
type resolvedWindow struct {
	fromCommit string
	fromTime   time.Time
	toCommit   string
	commits    []gitlib.Hash
}

// resolveWindow walks history reverse-chronologically from HEAD, stopping
// per spec's kind: after n commits, at the first commit older than the Nd
// cutoff, or at the first commit whose hash matches the since: prefix.
func (a *Analyzer) resolveWindow(ctx context.Context, repo *gitlib.Repository, spec windowSpec) (resolvedWindow, error) {
	head, err := repo.Head()
	if err != nil {
		return resolvedWindow{}, fmt.Errorf("resolve HEAD: %w", err)
	}

	walk, err := repo.Walk()
	if err != nil {
		return resolvedWindow{}, fmt.Errorf("start revision walk: %w", err)
	}
	defer walk.Free()

	if err := walk.Push(head); err != nil {
		return resolvedWindow{}, fmt.Errorf("push HEAD: %w", err)
	}

	out := resolvedWindow{toCommit: head.String()}

	var cutoff time.Time
	if spec.kind == windowDays {
		cutoff = time.Now().AddDate(0, 0, -spec.n)
	}

	for {
		hash, nextErr := walk.Next()
		if nextErr != nil {
			break // revwalk exhausted
		}

		commit, commitErr := repo.LookupCommit(ctx, hash)
		if commitErr != nil {
			continue
		}

		commitAt := commit.Committer().When
		commit.Free()

		if spec.kind == windowDays && commitAt.Before(cutoff) {
			break // this commit falls outside the window; fromCommit already set
		}

		out.commits = append(out.commits, hash)
		out.fromCommit = hash.String()
		out.fromTime = commitAt

		if spec.kind == windowSinceCommit && strings.HasPrefix(hash.String(), spec.prefix) {
			break
		}

		if spec.kind == windowCommits && len(out.commits) >= spec.n {
			break
		}
	}

	return out, nil
}

// collectChangedSymbols diffs every non-merge commit in the window against
// its sole parent (gitlib.TreeDiff reports paths as structured From/To
// entries and runs no rename detection, so a rename arrives as a delete plus
// an add and no textual "old => new" normalization is needed here) and
// resolves the changed file set to currently-known symbols.
func (a *Analyzer) collectChangedSymbols(ctx context.Context, repo *gitlib.Repository, commits []gitlib.Hash) ([]uast.Symbol, error) {
	changedFiles := make(map[string]struct{})

	for _, hash := range commits {
		commit, err := repo.LookupCommit(ctx, hash)
		if err != nil {
			continue
		}

		if commit.NumParents() != 1 {
			commit.Free()

			continue
		}

		parent, err := commit.Parent(0)
		if err != nil {
			commit.Free()

			continue
		}

		parentTree, err := parent.Tree()

		parent.Free()

		if err != nil {
			commit.Free()

			continue
		}

		commitTree, err := commit.Tree()

		commit.Free()

		if err != nil {
			continue
		}

		changes, err := gitlib.TreeDiff(repo, parentTree, commitTree)
		if err != nil {
			continue
		}

		for _, change := range changes {
			path := change.To.Name
			if path == "" {
				path = change.From.Name
			}

			if path = identity.NormalizePath(path); path != "" {
				changedFiles[path] = struct{}{}
			}
		}
	}

	seen := make(map[string]struct{})

	var symbols []uast.Symbol

	for f := range changedFiles {
		fileSymbols, err := a.store.ListSymbolsForFile(ctx, f)
		if err != nil {
			continue
		}

		for _, sym := range fileSymbols {
			if _, ok := seen[sym.ID]; ok {
				continue
			}

			seen[sym.ID] = struct{}{}
			symbols = append(symbols, sym)
		}
	}

	return symbols, nil
}

// Report resolves req's window and computes the requested drift sections.
func (a *Analyzer) Report(ctx context.Context, req ReportRequest) (ReportResult, error) {
	include := req.Include
	if !include.Semantic && !include.Boundary && !include.Structural {
		include = Include{Semantic: true, Boundary: true, Structural: true}
	}

	minMagnitude := clamp01(req.MinDriftMagnitude)

	repo, err := gitlib.OpenRepository(a.repoRoot)
	if err != nil {
		return ReportResult{}, fmt.Errorf("open repository: %w", err)
	}
	defer repo.Free()

	windowStr := strings.TrimSpace(req.Window)
	if windowStr == "" {
		windowStr = a.cfg.AnalysisWindow
	}

	win, err := a.resolveWindow(ctx, repo, parseWindowSpec(windowStr))
	if err != nil {
		return ReportResult{}, err
	}

	result := ReportResult{FromCommit: win.fromCommit, ToCommit: win.toCommit}

	var changedSymbols []uast.Symbol

	if include.Semantic {
		if changedSymbols, err = a.collectChangedSymbols(ctx, repo, win.commits); err != nil {
			return ReportResult{}, err
		}

		entries, err := a.computeSemanticRecords(ctx, changedSymbols, win, minMagnitude)
		if err != nil {
			return ReportResult{}, err
		}

		if result.Semantic, err = a.filterSemantic(ctx, entries, req.IncludeAcknowledged); err != nil {
			return ReportResult{}, err
		}
	}

	if include.Boundary {
		entries, err := a.computeBoundaryRecords(ctx, win)
		if err != nil {
			return ReportResult{}, err
		}

		if result.Boundary, err = a.filterBoundary(ctx, entries, req.IncludeAcknowledged); err != nil {
			return ReportResult{}, err
		}
	}

	if include.Structural {
		structural, err := a.computeStructuralRecords(ctx, win)
		if err != nil {
			return ReportResult{}, err
		}

		if structural.EmergingHubs, err = a.filterHubs(ctx, structural.EmergingHubs, req.IncludeAcknowledged); err != nil {
			return ReportResult{}, err
		}

		if structural.NewCycles, err = a.filterCycles(ctx, structural.NewCycles, req.IncludeAcknowledged); err != nil {
			return ReportResult{}, err
		}

		if structural.OrphanedSubgraphs, err = a.filterOrphaned(ctx, structural.OrphanedSubgraphs, req.IncludeAcknowledged); err != nil {
			return ReportResult{}, err
		}

		result.Structural = structural
	}

	result.SymbolsAnalyzed = len(changedSymbols)

	detected := len(result.Semantic) + len(result.Boundary) +
		len(result.Structural.EmergingHubs) + len(result.Structural.NewCycles) + len(result.Structural.OrphanedSubgraphs)

	if err := a.store.SetDriftAnalysisState(ctx, store.DriftAnalysisState{
		LastAnalysisCommit: win.toCommit,
		LastAnalysisAt:     time.Now(),
		SymbolsAnalyzed:    result.SymbolsAnalyzed,
		DriftDetected:      detected,
	}); err != nil {
		return ReportResult{}, fmt.Errorf("set drift analysis state: %w", err)
	}

	return result, nil
}

// computeSemanticRecords checks every changed symbol for SIR drift beyond
// the configured threshold and persists each surviving entry.
func (a *Analyzer) computeSemanticRecords(ctx context.Context, symbols []uast.Symbol, win resolvedWindow, minMagnitude float64) ([]SemanticDriftEntry, error) {
	var entries []SemanticDriftEntry

	for _, sym := range symbols {
		entry, ok, err := a.semanticDriftForSymbol(ctx, sym, win)
		if err != nil {
			a.log.Warn("drift: semantic check failed", "symbol", sym.ID, "error", err)

			continue
		}

		if !ok || entry.Magnitude < minMagnitude {
			continue
		}

		detail, err := json.Marshal(entry.Diff)
		if err != nil {
			return nil, fmt.Errorf("marshal semantic diff: %w", err)
		}

		if err := a.store.UpsertDriftResult(ctx, store.DriftResult{
			ID:               entry.ResultID,
			Kind:             kindSemantic,
			Subject:          entry.SymbolID,
			SymbolName:       entry.SymbolName,
			Magnitude:        entry.Magnitude,
			CurrentSIRHash:   entry.CurrentSIRHash,
			BaselineSIRHash:  entry.BaselineSIRHash,
			CommitRangeStart: win.fromCommit,
			CommitRangeEnd:   win.toCommit,
			Summary:          entry.Summary,
			Detail:           string(detail),
			DetectedAt:       time.Now(),
		}); err != nil {
			return nil, fmt.Errorf("upsert semantic drift result: %w", err)
		}

		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Magnitude != entries[j].Magnitude {
			return entries[i].Magnitude > entries[j].Magnitude
		}

		return entries[i].SymbolID < entries[j].SymbolID
	})

	return entries, nil
}

// semanticDriftForSymbol resolves sym's baseline SIR (the most recent
// history entry recorded at or before the window's from-time) and compares
// it against the current SIR by embedding cosine similarity.
func (a *Analyzer) semanticDriftForSymbol(ctx context.Context, sym uast.Symbol, win resolvedWindow) (SemanticDriftEntry, bool, error) {
	currentBody, currentHash, _, err := a.store.ReadSIRBlob(ctx, sym.ID)
	if err != nil {
		return SemanticDriftEntry{}, false, nil // no current SIR, nothing to diff
	}

	baseline, err := a.store.ResolveSIRBaselineAtOrBefore(ctx, sym.ID, win.fromTime)
	if err != nil {
		return SemanticDriftEntry{}, false, nil // no baseline predating the window
	}

	if baseline.SIRHash == "" || baseline.SIRHash == currentHash {
		return SemanticDriftEntry{}, false, nil // no change since baseline
	}

	currentSIR, err := sir.ParseAndVerify(currentBody, currentHash)
	if err != nil {
		return SemanticDriftEntry{}, false, nil
	}

	baselineSIR, err := sir.ParseAndVerify(baseline.Body, baseline.SIRHash)
	if err != nil {
		return SemanticDriftEntry{}, false, nil
	}

	diff := BuildStructuredDiff(baselineSIR, currentSIR)

	similarity, ok := 0.0, false
	if a.embed != nil {
		similarity, ok = a.similarity(ctx, sym.ID, currentSIR, baselineSIR)
	}

	if !ok {
		// Embeddings disabled or the provider failed: structural-diff
		// magnitude stands in for 1 - cosine.
		similarity = clamp01(1 - StructuralChangeMagnitudeFromDiff(diff))
	}

	if similarity >= a.cfg.DriftThreshold {
		return SemanticDriftEntry{}, false, nil
	}

	return SemanticDriftEntry{
		ResultID:        identity.ContentHash(fmt.Sprintf("semantic\n%s\n%s\n%s", sym.ID, win.fromCommit, win.toCommit)),
		SymbolID:        sym.ID,
		SymbolName:      sym.Name,
		Magnitude:       clamp01(1 - similarity),
		CurrentSIRHash:  currentHash,
		BaselineSIRHash: baseline.SIRHash,
		Diff:            diff,
		Summary:         a.summarize(ctx, diff),
		TestCoverage:    a.testCoverage(ctx, sym.ID),
		FromCommit:      win.fromCommit,
		ToCommit:        win.toCommit,
	}, true, nil
}

// similarity returns the cosine similarity between the current and
// baseline SIR text embeddings, reusing the cached current-symbol
// embedding when available and embedding the baseline's canonical text
// fresh (sir_history has no embedding cache of its own).
func (a *Analyzer) similarity(ctx context.Context, symbolID string, current, baseline sir.SIR) (float64, bool) {
	currentVec, ok := a.cachedEmbedding(ctx, symbolID)
	if !ok {
		v, err := a.embedSIR(ctx, current)
		if err != nil {
			return 0, false
		}

		currentVec = v
	}

	baselineVec, err := a.embedSIR(ctx, baseline)
	if err != nil {
		return 0, false
	}

	return CosineSimilarity(currentVec, baselineVec), true
}

// embedSIR embeds a SIR's canonical text, consulting the hash-keyed LRU
// first — baseline SIRs recur across runs and across symbols sharing a
// rollup, and their canonical text (hence embedding) is immutable per hash.
func (a *Analyzer) embedSIR(ctx context.Context, record sir.SIR) ([]float32, error) {
	canon, err := sir.Canonicalize(record)
	if err != nil {
		return nil, err
	}

	hash := sir.Hash(canon)

	if v, ok := a.embedCache.Get(hash); ok {
		return v, nil
	}

	v, err := a.embed.Embed(ctx, string(canon))
	if err != nil {
		return nil, err
	}

	a.embedCache.Put(hash, v, int64(len(v))*4)

	return v, nil
}

func (a *Analyzer) cachedEmbedding(ctx context.Context, symbolID string) ([]float32, bool) {
	if a.vec == nil {
		return nil, false
	}

	byID, err := a.vec.ListEmbeddingsForSymbols(ctx, a.embed.Provider(), a.embed.Model(), []string{symbolID})
	if err != nil {
		return nil, false
	}

	v, ok := byID[symbolID]

	return v, ok
}

// BuildStructuredDiff computes the added/removed set for each list-valued
// SIR field plus an intent-changed flag. Exported so the causal tracer
// can reuse it rather than reimplementing SIR field diffing.
func BuildStructuredDiff(before, after sir.SIR) StructuredDiff {
	inputsAdded, inputsRemoved := stringSetDiff(before.Inputs, after.Inputs)
	outputsAdded, outputsRemoved := stringSetDiff(before.Outputs, after.Outputs)
	sideAdded, sideRemoved := stringSetDiff(before.SideEffects, after.SideEffects)
	depsAdded, depsRemoved := stringSetDiff(before.Dependencies, after.Dependencies)
	errAdded, errRemoved := stringSetDiff(before.ErrorModes, after.ErrorModes)

	return StructuredDiff{
		IntentChanged:       before.Intent != after.Intent,
		IntentBefore:        before.Intent,
		IntentAfter:         after.Intent,
		InputsAdded:         inputsAdded,
		InputsRemoved:       inputsRemoved,
		OutputsAdded:        outputsAdded,
		OutputsRemoved:      outputsRemoved,
		SideEffectsAdded:    sideAdded,
		SideEffectsRemoved:  sideRemoved,
		DependenciesAdded:   depsAdded,
		DependenciesRemoved: depsRemoved,
		ErrorModesAdded:     errAdded,
		ErrorModesRemoved:   errRemoved,
	}
}

// StructuralChangeMagnitudeFromDiff scores a StructuredDiff on a 0-1 scale
// without an embedding: intent changing dominates, field-level additions
// and removals contribute a smaller, capped share. It backs the
// no-embedder fallback in both drift's semantic section (similarity becomes
// 1 - magnitude) and the causal tracer.
func StructuralChangeMagnitudeFromDiff(d StructuredDiff) float64 {
	magnitude := 0.0
	if d.IntentChanged {
		magnitude += 0.5
	}

	fieldChanges := len(d.InputsAdded) + len(d.InputsRemoved) +
		len(d.OutputsAdded) + len(d.OutputsRemoved) +
		len(d.SideEffectsAdded) + len(d.SideEffectsRemoved) +
		len(d.DependenciesAdded) + len(d.DependenciesRemoved) +
		len(d.ErrorModesAdded) + len(d.ErrorModesRemoved)

	magnitude += math.Min(float64(fieldChanges)*0.1, 0.5)

	return clamp01(magnitude)
}

func stringSetDiff(before, after []string) (added, removed []string) {
	beforeSet := make(map[string]struct{}, len(before))
	for _, v := range before {
		beforeSet[v] = struct{}{}
	}

	afterSet := make(map[string]struct{}, len(after))
	for _, v := range after {
		afterSet[v] = struct{}{}
	}

	for _, v := range after {
		if _, ok := beforeSet[v]; !ok {
			added = append(added, v)
		}
	}

	for _, v := range before {
		if _, ok := afterSet[v]; !ok {
			removed = append(removed, v)
		}
	}

	sort.Strings(added)
	sort.Strings(removed)

	return added, removed
}

// mechanicalDiffSummary renders diff as a plain-text summary without an
// LLM: a semantically cleaned character diff of the intent text (via
// go-diff) plus counts of
// added/removed entries per list field.
func mechanicalDiffSummary(d StructuredDiff) string {
	var parts []string

	if d.IntentChanged {
		parts = append(parts, "intent: "+intentWordDiff(d.IntentBefore, d.IntentAfter))
	}

	note := func(label string, added, removed []string) {
		if n := len(added); n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s added", n, label))
		}

		if n := len(removed); n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s removed", n, label))
		}
	}

	note("input", d.InputsAdded, d.InputsRemoved)
	note("output", d.OutputsAdded, d.OutputsRemoved)
	note("side effect", d.SideEffectsAdded, d.SideEffectsRemoved)
	note("dependency", d.DependenciesAdded, d.DependenciesRemoved)
	note("error mode", d.ErrorModesAdded, d.ErrorModesRemoved)

	if len(parts) == 0 {
		return "SIR changed with no structured field differences detected"
	}

	return strings.Join(parts, "; ")
}

// intentWordDiff renders a character diff of the intent text, merged into
// readable chunks by DiffCleanupSemantic, marking insertions and deletions
// inline.
func intentWordDiff(before, after string) string {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(before, after, false)
	diffs = dmp.DiffCleanupSemantic(diffs)

	var b strings.Builder

	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			b.WriteString("+[" + d.Text + "]")
		case diffmatchpatch.DiffDelete:
			b.WriteString("-[" + d.Text + "]")
		default:
			b.WriteString(d.Text)
		}
	}

	return b.String()
}

// summarize prefers an LLM-generated one-sentence summary when a
// Summarizer is configured, falling back to the mechanical summary on any
// failure or empty response.
func (a *Analyzer) summarize(ctx context.Context, diff StructuredDiff) string {
	mechanical := mechanicalDiffSummary(diff)

	if a.summarizer == nil {
		return mechanical
	}

	text, err := a.summarizer.Summarize(ctx, mechanical)
	if err != nil || strings.TrimSpace(text) == "" {
		return mechanical
	}

	return text
}

func (a *Analyzer) testCoverage(ctx context.Context, symbolID string) TestCoverage {
	intents, err := a.store.ListTestIntentsForSymbol(ctx, symbolID)
	if err != nil || len(intents) == 0 {
		return TestCoverage{}
	}

	names := make([]string, len(intents))
	for i, it := range intents {
		names[i] = it.IntentText
	}

	return TestCoverage{HasTests: true, TestCount: len(intents), Intents: names}
}

type boundaryDetail struct {
	Note string `json:"note,omitempty"`
}

// computeBoundaryRecords reports every edge that newly crosses a Louvain
// community boundary since the last snapshot, then replaces the snapshot
// with the freshly computed community/pagerank assignment.
func (a *Analyzer) computeBoundaryRecords(ctx context.Context, win resolvedWindow) ([]BoundaryViolationEntry, error) {
	communityOf := a.graph.ListLouvainCommunities()

	prevSnapshot, err := a.store.ListLatestCommunitySnapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("list community snapshot: %w", err)
	}

	firstRun := len(prevSnapshot) == 0

	prevCommunity := make(map[string]int, len(prevSnapshot))
	for _, s := range prevSnapshot {
		prevCommunity[s.SymbolID] = s.Community
	}

	crossEdges := a.graph.ListCrossCommunityEdges(ctx, communityOf)

	var entries []BoundaryViolationEntry

	for _, e := range crossEdges {
		if !firstRun {
			ca, aok := prevCommunity[e.From]
			cb, bok := prevCommunity[e.To]
			if aok && bok && ca != cb {
				continue // was already a cross-community edge last run
			}
		}

		entry := BoundaryViolationEntry{
			ResultID:      identity.ContentHash(fmt.Sprintf("boundary\n%s\n%s\n%s\n%s", e.From, e.To, e.Kind, win.toCommit)),
			Source:        e.From,
			Target:        e.To,
			EdgeType:      string(e.Kind),
			Informational: firstRun,
			ToCommit:      win.toCommit,
		}

		detail := boundaryDetail{}
		if firstRun {
			detail.Note = "first drift run: every cross-community edge is reported as a baseline, not a regression"
		}

		detailJSON, err := json.Marshal(detail)
		if err != nil {
			return nil, fmt.Errorf("marshal boundary detail: %w", err)
		}

		if err := a.store.UpsertDriftResult(ctx, store.DriftResult{
			ID:             entry.ResultID,
			Kind:           kindBoundary,
			Subject:        entry.Source,
			CommitRangeEnd: win.toCommit,
			Detail:         string(detailJSON),
			DetectedAt:     time.Now(),
		}); err != nil {
			return nil, fmt.Errorf("upsert boundary drift result: %w", err)
		}

		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Source != entries[j].Source {
			return entries[i].Source < entries[j].Source
		}

		if entries[i].Target != entries[j].Target {
			return entries[i].Target < entries[j].Target
		}

		return entries[i].EdgeType < entries[j].EdgeType
	})

	if err := a.replaceCommunitySnapshot(ctx, communityOf); err != nil {
		return nil, err
	}

	return entries, nil
}

func (a *Analyzer) replaceCommunitySnapshot(ctx context.Context, communityOf map[string]int) error {
	ranks := a.graph.ListPageRank()

	rankByID := make(map[string]float64, len(ranks))
	for _, r := range ranks {
		rankByID[r.ID] = r.Score
	}

	snaps := make([]store.CommunitySnapshot, 0, len(communityOf))

	for id, community := range communityOf {
		snaps = append(snaps, store.CommunitySnapshot{SymbolID: id, Community: community, PageRank: rankByID[id]})
	}

	if err := a.store.ReplaceCommunitySnapshot(ctx, snaps, time.Now()); err != nil {
		return fmt.Errorf("replace community snapshot: %w", err)
	}

	return nil
}

func (a *Analyzer) computeStructuralRecords(ctx context.Context, win resolvedWindow) (StructuralAnomalies, error) {
	var out StructuralAnomalies

	hubs, err := a.computeEmergingHubs(ctx, win)
	if err != nil {
		return StructuralAnomalies{}, err
	}

	out.EmergingHubs = hubs

	cycles, err := a.computeNewCycles(ctx, win)
	if err != nil {
		return StructuralAnomalies{}, err
	}

	out.NewCycles = cycles

	orphaned, err := a.computeOrphanedSubgraphs(ctx, win)
	if err != nil {
		return StructuralAnomalies{}, err
	}

	out.OrphanedSubgraphs = orphaned

	return out, nil
}

// computeEmergingHubs compares this run's PageRank scores against the
// pagerank_snapshot rows recorded for the last analyzed commit, flagging
// nodes at or above the configured percentile whose score rose >20%.
func (a *Analyzer) computeEmergingHubs(ctx context.Context, win resolvedWindow) ([]EmergingHubEntry, error) {
	ranks := a.graph.ListPageRank()
	if len(ranks) == 0 {
		return nil, nil
	}

	scores := make([]float64, len(ranks))
	for i, r := range ranks {
		scores[i] = r.Score
	}

	threshold := percentile(scores, a.cfg.HubPercentile*100)

	state, err := a.store.GetDriftAnalysisState(ctx)
	if err != nil {
		return nil, fmt.Errorf("get drift analysis state: %w", err)
	}

	prevRows, err := a.store.ListDriftResultsForCommit(ctx, kindPageRankSnapshot, state.LastAnalysisCommit)
	if err != nil {
		return nil, fmt.Errorf("list pagerank snapshot: %w", err)
	}

	prevScore := make(map[string]float64, len(prevRows))
	for _, row := range prevRows {
		prevScore[row.Subject] = row.Magnitude
	}

	var entries []EmergingHubEntry

	for _, r := range ranks {
		if prev, hadPrev := prevScore[r.ID]; hadPrev && r.Score >= threshold && prev > epsilon {
			if increase := (r.Score - prev) / prev; increase > 0.2 {
				sym, _ := a.store.GetSymbolRecord(ctx, r.ID)

				entry := EmergingHubEntry{
					ResultID:        identity.ContentHash(fmt.Sprintf("emerging_hub\n%s\n%s", r.ID, win.toCommit)),
					SymbolID:        r.ID,
					SymbolName:      sym.Name,
					PageRank:        r.Score,
					PreviousRank:    prev,
					DependentsCount: len(a.graph.GetCallers(ctx, r.ID)),
					ToCommit:        win.toCommit,
				}

				detail, err := json.Marshal(struct {
					PreviousRank    float64 `json:"previous_rank"`
					DependentsCount int     `json:"dependents_count"`
				}{entry.PreviousRank, entry.DependentsCount})
				if err != nil {
					return nil, fmt.Errorf("marshal emerging hub detail: %w", err)
				}

				if err := a.store.UpsertDriftResult(ctx, store.DriftResult{
					ID:             entry.ResultID,
					Kind:           kindEmergingHub,
					Subject:        entry.SymbolID,
					SymbolName:     entry.SymbolName,
					Magnitude:      entry.PageRank,
					CommitRangeEnd: win.toCommit,
					Detail:         string(detail),
					DetectedAt:     time.Now(),
				}); err != nil {
					return nil, fmt.Errorf("upsert emerging hub drift result: %w", err)
				}

				entries = append(entries, entry)
			}
		}

		// Always record this run's score as the next run's baseline,
		// pre-acknowledged so it never surfaces as actionable drift.
		if err := a.store.UpsertDriftResult(ctx, store.DriftResult{
			ID:             identity.ContentHash(fmt.Sprintf("pagerank_snapshot\n%s\n%s", r.ID, win.toCommit)),
			Kind:           kindPageRankSnapshot,
			Subject:        r.ID,
			Magnitude:      r.Score,
			CommitRangeEnd: win.toCommit,
			Detail:         "{}",
			DetectedAt:     time.Now(),
			Acknowledged:   true,
		}); err != nil {
			return nil, fmt.Errorf("upsert pagerank snapshot: %w", err)
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].PageRank != entries[j].PageRank {
			return entries[i].PageRank > entries[j].PageRank
		}

		return entries[i].SymbolID < entries[j].SymbolID
	})

	return entries, nil
}

// computeNewCycles reports strongly-connected components (size > 1) whose
// sorted-symbol fingerprint was not present in the prior scc_snapshot.
func (a *Analyzer) computeNewCycles(ctx context.Context, win resolvedWindow) ([]NewCycleEntry, error) {
	components := a.graph.ListStronglyConnectedComponents()

	state, err := a.store.GetDriftAnalysisState(ctx)
	if err != nil {
		return nil, fmt.Errorf("get drift analysis state: %w", err)
	}

	prevRows, err := a.store.ListDriftResultsForCommit(ctx, kindSCCSnapshot, state.LastAnalysisCommit)
	if err != nil {
		return nil, fmt.Errorf("list scc snapshot: %w", err)
	}

	seen := make(map[string]struct{}, len(prevRows))
	for _, row := range prevRows {
		seen[row.Subject] = struct{}{}
	}

	var entries []NewCycleEntry

	for _, comp := range components {
		if len(comp) <= 1 {
			continue
		}

		fingerprint := strings.Join(comp, ",")

		if _, wasSeen := seen[fingerprint]; !wasSeen {
			entry := NewCycleEntry{
				ResultID: identity.ContentHash(fmt.Sprintf("new_cycle\n%s\n%s", fingerprint, win.toCommit)),
				Symbols:  comp,
				ToCommit: win.toCommit,
			}

			detail, err := json.Marshal(comp)
			if err != nil {
				return nil, fmt.Errorf("marshal new cycle detail: %w", err)
			}

			if err := a.store.UpsertDriftResult(ctx, store.DriftResult{
				ID:             entry.ResultID,
				Kind:           kindNewCycle,
				Subject:        comp[0],
				CommitRangeEnd: win.toCommit,
				Detail:         string(detail),
				DetectedAt:     time.Now(),
			}); err != nil {
				return nil, fmt.Errorf("upsert new cycle drift result: %w", err)
			}

			entries = append(entries, entry)
		}

		if err := a.store.UpsertDriftResult(ctx, store.DriftResult{
			ID:             identity.ContentHash(fmt.Sprintf("scc_snapshot\n%s\n%s", fingerprint, win.toCommit)),
			Kind:           kindSCCSnapshot,
			Subject:        fingerprint,
			CommitRangeEnd: win.toCommit,
			Detail:         "{}",
			DetectedAt:     time.Now(),
			Acknowledged:   true,
		}); err != nil {
			return nil, fmt.Errorf("upsert scc snapshot: %w", err)
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		return strings.Join(entries[i].Symbols, ",") < strings.Join(entries[j].Symbols, ",")
	})

	return entries, nil
}

// computeOrphanedSubgraphs treats the largest connected component as the
// main program graph and reports every other component as orphaned. There
// is no prior-state comparison — every run reports the current set fresh.
func (a *Analyzer) computeOrphanedSubgraphs(ctx context.Context, win resolvedWindow) ([]OrphanedSubgraphEntry, error) {
	components := a.graph.ListConnectedComponents()
	if len(components) <= 1 {
		return nil, nil
	}

	sort.Slice(components, func(i, j int) bool { return len(components[i]) > len(components[j]) })

	entries := make([]OrphanedSubgraphEntry, 0, len(components)-1)

	for _, comp := range components[1:] {
		entry := OrphanedSubgraphEntry{
			ResultID:     identity.ContentHash(fmt.Sprintf("orphaned\n%s\n%s", strings.Join(comp, ","), win.toCommit)),
			Symbols:      comp,
			TotalSymbols: len(comp),
			ToCommit:     win.toCommit,
		}

		detail, err := json.Marshal(comp)
		if err != nil {
			return nil, fmt.Errorf("marshal orphaned subgraph detail: %w", err)
		}

		if err := a.store.UpsertDriftResult(ctx, store.DriftResult{
			ID:             entry.ResultID,
			Kind:           kindOrphaned,
			Subject:        comp[0],
			CommitRangeEnd: win.toCommit,
			Detail:         string(detail),
			DetectedAt:     time.Now(),
		}); err != nil {
			return nil, fmt.Errorf("upsert orphaned drift result: %w", err)
		}

		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].TotalSymbols != entries[j].TotalSymbols {
			return entries[i].TotalSymbols > entries[j].TotalSymbols
		}

		return strings.Join(entries[i].Symbols, ",") < strings.Join(entries[j].Symbols, ",")
	})

	return entries, nil
}

// acknowledgedSet looks up the current acknowledged state of ids, used to
// stamp freshly-computed entries and drop already-acknowledged ones unless
// the caller asked to include them.
func (a *Analyzer) acknowledgedSet(ctx context.Context, ids []string) (map[string]bool, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := a.store.ListDriftResultsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("list drift results: %w", err)
	}

	out := make(map[string]bool, len(rows))
	for _, r := range rows {
		out[r.ID] = r.Acknowledged
	}

	return out, nil
}

func (a *Analyzer) filterSemantic(ctx context.Context, entries []SemanticDriftEntry, includeAck bool) ([]SemanticDriftEntry, error) {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ResultID
	}

	acked, err := a.acknowledgedSet(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := entries[:0]

	for _, e := range entries {
		e.Acknowledged = acked[e.ResultID]
		if e.Acknowledged && !includeAck {
			continue
		}

		out = append(out, e)
	}

	return out, nil
}

func (a *Analyzer) filterBoundary(ctx context.Context, entries []BoundaryViolationEntry, includeAck bool) ([]BoundaryViolationEntry, error) {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ResultID
	}

	acked, err := a.acknowledgedSet(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := entries[:0]

	for _, e := range entries {
		e.Acknowledged = acked[e.ResultID]
		if e.Acknowledged && !includeAck {
			continue
		}

		out = append(out, e)
	}

	return out, nil
}

func (a *Analyzer) filterHubs(ctx context.Context, entries []EmergingHubEntry, includeAck bool) ([]EmergingHubEntry, error) {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ResultID
	}

	acked, err := a.acknowledgedSet(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := entries[:0]

	for _, e := range entries {
		e.Acknowledged = acked[e.ResultID]
		if e.Acknowledged && !includeAck {
			continue
		}

		out = append(out, e)
	}

	return out, nil
}

func (a *Analyzer) filterCycles(ctx context.Context, entries []NewCycleEntry, includeAck bool) ([]NewCycleEntry, error) {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ResultID
	}

	acked, err := a.acknowledgedSet(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := entries[:0]

	for _, e := range entries {
		e.Acknowledged = acked[e.ResultID]
		if e.Acknowledged && !includeAck {
			continue
		}

		out = append(out, e)
	}

	return out, nil
}

func (a *Analyzer) filterOrphaned(ctx context.Context, entries []OrphanedSubgraphEntry, includeAck bool) ([]OrphanedSubgraphEntry, error) {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ResultID
	}

	acked, err := a.acknowledgedSet(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := entries[:0]

	for _, e := range entries {
		e.Acknowledged = acked[e.ResultID]
		if e.Acknowledged && !includeAck {
			continue
		}

		out = append(out, e)
	}

	return out, nil
}

// Acknowledge marks the given drift results as resolved, optionally
// recording a project note that back-references the affected subjects.
func (a *Analyzer) Acknowledge(ctx context.Context, req AcknowledgeRequest) (AcknowledgeResult, error) {
	trimmed := make([]string, 0, len(req.ResultIDs))

	for _, id := range req.ResultIDs {
		if id = strings.TrimSpace(id); id != "" {
			trimmed = append(trimmed, id)
		}
	}

	ids := mapx.Unique(trimmed)

	now := time.Now()

	n, err := a.store.AcknowledgeDrift(ctx, ids, now)
	if err != nil {
		return AcknowledgeResult{}, fmt.Errorf("acknowledge drift: %w", err)
	}

	result := AcknowledgeResult{Acknowledged: n}

	note := strings.TrimSpace(req.Note)
	if note == "" || n == 0 {
		return result, nil
	}

	rows, err := a.store.ListDriftResultsByIDs(ctx, ids)
	if err != nil {
		return result, fmt.Errorf("list acknowledged drift results: %w", err)
	}

	noteID := identity.ContentHash(fmt.Sprintf("drift-ack-note\n%s\n%d", strings.Join(ids, ","), now.Unix()))
	content := note + "\n\n" + backReferences(rows)

	var symbolRefs, fileRefs []string

	for _, r := range rows {
		if r.Subject == "" {
			continue
		}

		symbolRefs = append(symbolRefs, r.Subject)

		if sym, symErr := a.store.GetSymbolRecord(ctx, r.Subject); symErr == nil {
			fileRefs = append(fileRefs, sym.FilePath)
		}
	}

	if err := a.store.UpsertProjectNote(ctx, store.ProjectNote{
		ID:          noteID,
		Content:     content,
		ContentHash: identity.ContentHash(content),
		SourceType:  "session",
		Tags:        []string{"drift", "acknowledgement"},
		EntityRefs:  ids,
		FileRefs:    mapx.Unique(fileRefs),
		SymbolRefs:  mapx.Unique(symbolRefs),
		CreatedAt:   now,
		UpdatedAt:   now,
	}); err != nil {
		return result, fmt.Errorf("record acknowledgement note: %w", err)
	}

	result.NoteID = noteID

	return result, nil
}

func backReferences(rows []store.DriftResult) string {
	var b strings.Builder

	b.WriteString("Affected:")

	for _, r := range rows {
		fmt.Fprintf(&b, "\n- %s (%s)", r.Subject, r.Kind)
	}

	return b.String()
}

// Communities lists every symbol's current Louvain community assignment,
// enriched with its name and file path, sorted by community/file/name.
func (a *Analyzer) Communities(ctx context.Context) (CommunitiesResult, error) {
	communityOf := a.graph.ListLouvainCommunities()

	// mapx.SortedKeys fixes a deterministic iteration order over the
	// (randomly-ordered) community map before building entries, so the
	// stable sort below never depends on Go's map iteration order for ties.
	ids := mapx.SortedKeys(communityOf)

	entries := make([]CommunityEntry, 0, len(ids))

	for _, id := range ids {
		sym, err := a.store.GetSymbolRecord(ctx, id)
		if err != nil {
			continue
		}

		entries = append(entries, CommunityEntry{
			CommunityID: communityOf[id],
			SymbolID:    id,
			SymbolName:  sym.Name,
			FilePath:    sym.FilePath,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].CommunityID != entries[j].CommunityID {
			return entries[i].CommunityID < entries[j].CommunityID
		}

		if entries[i].FilePath != entries[j].FilePath {
			return entries[i].FilePath < entries[j].FilePath
		}

		return entries[i].SymbolName < entries[j].SymbolName
	})

	return CommunitiesResult{Communities: entries}, nil
}

// percentile returns the pct-th percentile (0-100) of values using a
// nearest-rank method: sort ascending, pick index round((n-1)*pct/100).
func percentile(values []float64, pct float64) float64 {
	if len(values) == 0 {
		return 0
	}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	if pct < 0 {
		pct = 0
	}

	if pct > 100 {
		pct = 100
	}

	idx := int(math.Round(float64(len(sorted)-1) * pct / 100))

	if idx < 0 {
		idx = 0
	}

	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}

	return sorted[idx]
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

// CosineSimilarity is exported so the causal tracer can reuse the same
// embedding-similarity calculation rather than duplicating it.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64

	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return clamp01(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
