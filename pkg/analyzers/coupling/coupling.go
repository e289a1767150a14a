// Package coupling implements co-change coupling analysis: mining
// git co-change history, fusing it with the static dependency graph and
// SIR embedding similarity, and serving blast-radius queries.
package coupling

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aethercode/aether/pkg/alg/bloom"
	"github.com/aethercode/aether/pkg/config"
	"github.com/aethercode/aether/pkg/gitlib"
	"github.com/aethercode/aether/pkg/identity"
	"github.com/aethercode/aether/pkg/store"
	"github.com/aethercode/aether/pkg/vector"
)

// staleCommitThreshold is how many commits a mining cursor may lag behind
// HEAD before BlastRadius's auto-mine kicks in.
const staleCommitThreshold = 100

// Embedder computes a text embedding under a (provider, model) partition.
// Declared locally per the package's decoupled-interface convention — see
// pkg/search.Embedder and pkg/indexer.Embedder for its siblings.
type Embedder interface {
	Provider() string
	Model() string
}

// RiskLevel buckets a fused coupling score for blast-radius filtering.
type RiskLevel int

const (
	RiskLow RiskLevel = iota
	RiskMedium
	RiskHigh
	RiskCritical
)

// MinScore returns the inclusive lower bound of fused_score for this level.
func (r RiskLevel) MinScore() float64 {
	switch r {
	case RiskCritical:
		return 0.7
	case RiskHigh:
		return 0.4
	case RiskMedium:
		return 0.2
	default:
		return 0.0
	}
}

// RiskLevelFromScore classifies a fused score into its risk bucket.
func RiskLevelFromScore(score float64) RiskLevel {
	switch {
	case score >= RiskCritical.MinScore():
		return RiskCritical
	case score >= RiskHigh.MinScore():
		return RiskHigh
	case score >= RiskMedium.MinScore():
		return RiskMedium
	default:
		return RiskLow
	}
}

func (r RiskLevel) String() string {
	switch r {
	case RiskCritical:
		return "critical"
	case RiskHigh:
		return "high"
	case RiskMedium:
		return "medium"
	default:
		return "low"
	}
}

// ParseCouplingType maps a stored string back to its classification,
// defaulting to temporal for anything unrecognized.
func ParseCouplingType(value string) string {
	switch strings.TrimSpace(value) {
	case "structural", "semantic", "hidden_operational", "multi":
		return value
	default:
		return "temporal"
	}
}

// SignalBreakdown is the three raw signals fused into one coupling score.
type SignalBreakdown struct {
	Temporal float64
	Static   float64
	Semantic float64
}

// MineOutcome reports what one Mine call did.
type MineOutcome struct {
	Mined          bool
	GitRepoFound   bool
	HeadCommitHash string
	CommitsScanned int64
	PairsUpserted  int
	MinedAt        time.Time
}

// BlastRadiusRequest asks for every file coupled to FilePath.
type BlastRadiusRequest struct {
	FilePath string
	MinRisk  RiskLevel
	AutoMine bool
}

// BlastRadiusEntry is one coupled file in a blast-radius result.
type BlastRadiusEntry struct {
	File               string
	RiskLevel          RiskLevel
	FusedScore         float64
	CouplingType       string
	Signals            SignalBreakdown
	CoChangeCount      int
	TotalCommits       int
	LastCoChangeCommit string
	LastCoChangeAt     time.Time
}

// BlastRadiusResult is the full response to a blast-radius query.
type BlastRadiusResult struct {
	TargetFile   string
	MiningState  store.CouplingMiningState
	CoupledFiles []BlastRadiusEntry
}

// Analyzer mines git co-change history and answers blast-radius queries
// over the fused coupling graph it builds.
type Analyzer struct {
	repoRoot string
	store    *store.Store
	vec      *vector.Store
	embed    Embedder
	cfg      config.CouplingConfig
	log      *slog.Logger
}

// Config bundles an Analyzer's dependencies.
type Config struct {
	RepoRoot string
	Store    *store.Store
	Vec      *vector.Store // optional; nil disables the semantic signal
	Embed    Embedder      // optional; nil disables the semantic signal
	Coupling config.CouplingConfig
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
		cfg:      cfg.Coupling,
		log:      log,
	}
}

type pairAggregate struct {
	count          int64
	lastCommitHash string
	lastCommitAt   time.Time
}

// Mine walks up to commits commit window (or the configured default) of
// git history starting at HEAD, resuming from the last mined commit hash,
// and upserts fused coupling edges for every file pair whose co-change
// count clears the configured minimum. Per , per-commit
// failures never abort the batch outright — only the revision-walk setup
// itself is fatal.
func (a *Analyzer) Mine(ctx context.Context, commits *int) (MineOutcome, error) {
	minedAt := time.Now()

	if !a.cfg.Enabled {
		return MineOutcome{Mined: false, GitRepoFound: true, MinedAt: minedAt}, nil
	}

	repo, err := gitlib.OpenRepository(a.repoRoot)
	if err != nil {
		return MineOutcome{Mined: false, GitRepoFound: false, MinedAt: minedAt}, nil
	}
	defer repo.Free()

	headHash, err := repo.Head()
	if err != nil {
		return MineOutcome{}, fmt.Errorf("resolve HEAD: %w", err)
	}

	headHex := headHash.String()

	prevState, err := a.store.GetCouplingMiningState(ctx)
	if err != nil {
		return MineOutcome{}, fmt.Errorf("get coupling mining state: %w", err)
	}

	stopHash := strings.TrimSpace(prevState.LastCommitOID)

	window := a.cfg.CommitWindow
	if commits != nil && *commits > 0 {
		window = *commits
	}

	if window <= 0 {
		window = 1
	}

	walk, err := repo.Walk()
	if err != nil {
		return MineOutcome{}, fmt.Errorf("start revision walk: %w", err)
	}
	defer walk.Free()

	if err := walk.Push(headHash); err != nil {
		return MineOutcome{}, fmt.Errorf("push HEAD: %w", err)
	}

	perFileCommitCount := make(map[string]int64)
	pairs := make(map[[2]string]*pairAggregate)

	var commitsScanned int64

	for commitsScanned < int64(window) {
		hash, nextErr := walk.Next()
		if nextErr != nil {
			break // revwalk exhausted
		}

		commitHash := hash.String()
		if stopHash != "" && commitHash == stopHash {
			break
		}

		commitsScanned++

		commit, commitErr := repo.LookupCommit(ctx, hash)
		if commitErr != nil {
			continue
		}

		if commit.NumParents() != 1 {
			commit.Free()

			continue
		}

		changedFiles, commitAt, changeErr := a.changedFilesForCommit(repo, commit)

		commit.Free()

		if changeErr != nil {
			a.log.Warn("coupling: skipping commit, diff failed", "commit", commitHash, "error", changeErr)

			continue
		}

		if len(changedFiles) == 0 || len(changedFiles) > a.cfg.BulkCommitThreshold {
			continue
		}

		for _, f := range changedFiles {
			perFileCommitCount[f]++
		}

		sort.Strings(changedFiles)

		for i := range changedFiles {
			for j := i + 1; j < len(changedFiles); j++ {
				key := [2]string{changedFiles[i], changedFiles[j]}

				agg, ok := pairs[key]
				if !ok {
					agg = &pairAggregate{lastCommitHash: commitHash, lastCommitAt: commitAt}
					pairs[key] = agg
				}

				agg.count++
			}
		}
	}

	pairsUpserted, err := a.fuseAndUpsert(ctx, pairs, perFileCommitCount)
	if err != nil {
		return MineOutcome{}, err
	}

	if err := a.store.SetCouplingMiningState(ctx, store.CouplingMiningState{
		LastCommitOID: headHex,
		UpdatedAt:     minedAt,
	}); err != nil {
		return MineOutcome{}, fmt.Errorf("set coupling mining state: %w", err)
	}

	return MineOutcome{
		Mined:          true,
		GitRepoFound:   true,
		HeadCommitHash: headHex,
		CommitsScanned: commitsScanned,
		PairsUpserted:  pairsUpserted,
		MinedAt:        minedAt,
	}, nil
}

func (a *Analyzer) fuseAndUpsert(ctx context.Context, pairs map[[2]string]*pairAggregate, perFileCommitCount map[string]int64) (int, error) {
	type candidate struct {
		fileA, fileB                 string
		coChangeCount                int64
		totalCommitsA, totalCommitsB int64
		temporal                     float64
		lastCommitHash               string
		lastCommitAt                 time.Time
	}

	candidates := make([]candidate, 0, len(pairs))
	files := make([]string, 0, len(pairs)*2)
	knownFiles := a.knownCouplingEdgeFiles(ctx)

	for key, agg := range pairs {
		fileA, fileB := key[0], key[1]

		totalA := perFileCommitCount[fileA]
		totalB := perFileCommitCount[fileB]

		coChangeCount := agg.count
		mergedA, mergedB := totalA, totalB

		// A bloom negative on both files means neither has ever appeared in a
		// stored coupling edge, so there is nothing to merge — skip the
		// round trip. A positive (possibly false) falls through to the exact
		// lookup.
		mightExist := knownFiles == nil || knownFiles.Test([]byte(fileA)) || knownFiles.Test([]byte(fileB))

		if mightExist {
			if existing, existErr := a.existingEdge(ctx, fileA, fileB); existErr == nil && existing != nil {
				coChangeCount += int64(existing.CoChangeCount)
				mergedA += int64(existing.TotalCommitsA)
				mergedB += int64(existing.TotalCommitsB)

				if existing.FileA != fileA {
					mergedA, mergedB = mergedB, mergedA
				}
			}
		}

		if coChangeCount < int64(a.cfg.MinCoChangeCount) {
			continue
		}

		denom := float64(mergedA)
		if float64(mergedB) > denom {
			denom = float64(mergedB)
		}

		if denom < 1 {
			denom = 1
		}

		temporal := clamp01(float64(coChangeCount) / denom)

		candidates = append(candidates, candidate{
			fileA: fileA, fileB: fileB,
			coChangeCount: coChangeCount,
			totalCommitsA: mergedA, totalCommitsB: mergedB,
			temporal:       temporal,
			lastCommitHash: agg.lastCommitHash,
			lastCommitAt:   agg.lastCommitAt,
		})
		files = append(files, fileA, fileB)
	}

	embeddings := a.buildEmbeddingContext(ctx, files)

	count := 0

	for _, c := range candidates {
		static := 0.0

		hasDep, err := a.store.HasDependencyBetweenFiles(ctx, c.fileA, c.fileB)
		if err != nil {
			return count, fmt.Errorf("check static dependency: %w", err)
		}

		if !hasDep {
			hasDep, err = a.store.HasDependencyBetweenFiles(ctx, c.fileB, c.fileA)
			if err != nil {
				return count, fmt.Errorf("check static dependency: %w", err)
			}
		}

		if hasDep {
			static = 1.0
		}

		semantic := embeddings.maxSimilarity(c.fileA, c.fileB)
		fused := a.fusedScore(c.temporal, static, semantic)
		ctype := a.classifyCouplingType(c.temporal, static, semantic)

		if err := a.store.UpsertCouplingEdge(ctx, store.CouplingEdge{
			FileA: c.fileA, FileB: c.fileB,
			TemporalScore:      c.temporal,
			StaticScore:        static,
			SemanticScore:      semantic,
			FusedScore:         fused,
			CouplingType:       ctype,
			CoChangeCount:      int(c.coChangeCount),
			TotalCommitsA:      int(c.totalCommitsA),
			TotalCommitsB:      int(c.totalCommitsB),
			LastCoChangeCommit: c.lastCommitHash,
			LastCoChangeAt:     c.lastCommitAt,
			UpdatedAt:          c.lastCommitAt,
		}); err != nil {
			return count, fmt.Errorf("upsert coupling edge: %w", err)
		}

		count++
	}

	return count, nil
}

// fusedScore combines the three signals with the configured weights,
// normalizing them to sum to 1 when they don't already.
func (a *Analyzer) fusedScore(temporal, static, semantic float64) float64 {
	tw, sw, mw := a.cfg.TemporalWeight, a.cfg.StaticWeight, a.cfg.SemanticWeight

	sum := tw + sw + mw
	if sum <= 0 {
		tw, sw, mw = 0.5, 0.3, 0.2
	} else if sum != 1 {
		tw, sw, mw = tw/sum, sw/sum, mw/sum
	}

	return clamp01(tw*temporal + sw*static + mw*semantic)
}

// classifyCouplingType implements the five-branch rule, in order.
func (a *Analyzer) classifyCouplingType(temporal, static, semantic float64) string {
	switch {
	case static > 0 && temporal >= 0.2:
		return "multi"
	case static > 0 && temporal < 0.2:
		return "structural"
	case static == 0 && semantic >= 0.3:
		return "semantic"
	case static == 0 && semantic < 0.3 && temporal >= 0.5:
		return "hidden_operational"
	default:
		return "temporal"
	}
}

// changedFilesForCommit diffs commit against its sole parent and returns
// the unique, normalized, non-excluded set of changed file paths.
func (a *Analyzer) changedFilesForCommit(repo *gitlib.Repository, commit *gitlib.Commit) ([]string, time.Time, error) {
	parent, err := commit.Parent(0)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("lookup parent: %w", err)
	}
	defer parent.Free()

	parentTree, err := parent.Tree()
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("parent tree: %w", err)
	}

	commitTree, err := commit.Tree()
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("commit tree: %w", err)
	}

	changes, err := gitlib.TreeDiff(repo, parentTree, commitTree)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("tree diff: %w", err)
	}

	unique := make(map[string]struct{})

	for _, change := range changes {
		path := change.To.Name
		if path == "" {
			path = change.From.Name
		}

		path = identity.NormalizePath(path)
		if path == "" || a.isExcluded(path) {
			continue
		}

		unique[path] = struct{}{}
	}

	files := make([]string, 0, len(unique))
	for f := range unique {
		files = append(files, f)
	}

	return files, commit.Committer().When, nil
}

func (a *Analyzer) isExcluded(path string) bool {
	base := filepath.Base(path)

	for _, pattern := range a.cfg.ExcludePatterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}

		if matched, _ := filepath.Match(pattern, path); matched {
			return true
		}

		if !strings.Contains(pattern, "/") {
			if matched, _ := filepath.Match(pattern, base); matched {
				return true
			}
		}
	}

	return false
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

// knownCouplingEdgeFiles builds a Bloom filter over every file path that
// already participates in a stored coupling edge. Returns nil (meaning
// "no pre-filter, always check") if the file set is empty or the estimate
// construction fails — callers treat a nil filter as "might exist".
func (a *Analyzer) knownCouplingEdgeFiles(ctx context.Context) *bloom.Filter {
	files, err := a.store.ListCouplingEdgeFiles(ctx)
	if err != nil || len(files) == 0 {
		return nil
	}

	filter, err := bloom.NewWithEstimates(uint(len(files)), 0.01) //nolint:gosec // len(files) always fits uint
	if err != nil {
		return nil
	}

	for _, f := range files {
		filter.Add([]byte(f))
	}

	return filter
}

// existingEdge looks up the single stored coupling edge for the unordered
// pair (fileA, fileB), if any.
func (a *Analyzer) existingEdge(ctx context.Context, fileA, fileB string) (*store.CouplingEdge, error) {
	edges, err := a.store.ListCouplingEdgesForFile(ctx, fileA, 1000)
	if err != nil {
		return nil, err
	}

	for i := range edges {
		e := edges[i]
		if (e.FileA == fileA && e.FileB == fileB) || (e.FileA == fileB && e.FileB == fileA) {
			return &e, nil
		}
	}

	return nil, nil
}

// embeddingContext holds, per normalized file path, every embedding vector
// belonging to a symbol declared in that file — the raw material for the
// semantic signal's max-cosine-similarity computation.
type embeddingContext struct {
	byFile map[string][][]float32
}

func (e embeddingContext) maxSimilarity(fileA, fileB string) float64 {
	left, ok := e.byFile[fileA]
	if !ok {
		return 0
	}

	right, ok := e.byFile[fileB]
	if !ok {
		return 0
	}

	max := 0.0

	for _, lv := range left {
		for _, rv := range right {
			if score := cosineSimilarity(lv, rv); score > max {
				max = score
			}
		}
	}

	return clamp01(max)
}

// buildEmbeddingContext loads every embedding belonging to a symbol in any
// of files, under the configured Embedder's (provider, model) partition.
// Returns an empty context (all similarities 0) when embeddings are
// disabled, rather than failing the whole mining run.
func (a *Analyzer) buildEmbeddingContext(ctx context.Context, files []string) embeddingContext {
	empty := embeddingContext{byFile: map[string][][]float32{}}

	if a.vec == nil || a.embed == nil {
		return empty
	}

	provider, model := a.embed.Provider(), a.embed.Model()
	if strings.TrimSpace(provider) == "" || strings.TrimSpace(model) == "" {
		return empty
	}

	unique := make(map[string]struct{})
	for _, f := range files {
		unique[f] = struct{}{}
	}

	symbolIDsByFile := make(map[string][]string, len(unique))

	var allSymbolIDs []string

	for f := range unique {
		symbols, err := a.store.ListSymbolsForFile(ctx, f)
		if err != nil {
			continue
		}

		ids := make([]string, len(symbols))
		for i, sym := range symbols {
			ids[i] = sym.ID
		}

		symbolIDsByFile[f] = ids
		allSymbolIDs = append(allSymbolIDs, ids...)
	}

	if len(allSymbolIDs) == 0 {
		return empty
	}

	byID, err := a.vec.ListEmbeddingsForSymbols(ctx, provider, model, allSymbolIDs)
	if err != nil {
		return empty
	}

	byFile := make(map[string][][]float32, len(symbolIDsByFile))

	for f, ids := range symbolIDsByFile {
		vecs := make([][]float32, 0, len(ids))

		for _, id := range ids {
			if v, ok := byID[id]; ok {
				vecs = append(vecs, v)
			}
		}

		byFile[f] = vecs
	}

	return embeddingContext{byFile: byFile}
}

func cosineSimilarity(a, b []float32) float64 {
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

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// BlastRadius lists every file coupled to req.FilePath at or above
// req.MinRisk, sorted by fused_score desc then file asc, optionally
// mining fresh history first if the cursor is stale.
func (a *Analyzer) BlastRadius(ctx context.Context, req BlastRadiusRequest) (BlastRadiusResult, error) {
	filePath := identity.NormalizePath(req.FilePath)

	state, err := a.store.GetCouplingMiningState(ctx)
	if err != nil {
		return BlastRadiusResult{}, fmt.Errorf("get coupling mining state: %w", err)
	}

	if req.AutoMine {
		stale, staleErr := a.needsAutoMine(ctx, state)
		if staleErr != nil {
			return BlastRadiusResult{}, staleErr
		}

		if stale {
			if _, mineErr := a.Mine(ctx, nil); mineErr != nil {
				return BlastRadiusResult{}, mineErr
			}

			state, err = a.store.GetCouplingMiningState(ctx)
			if err != nil {
				return BlastRadiusResult{}, fmt.Errorf("get coupling mining state: %w", err)
			}
		}
	}

	edges, err := a.store.ListCouplingEdgesForFile(ctx, filePath, 1000)
	if err != nil {
		return BlastRadiusResult{}, fmt.Errorf("list coupling edges: %w", err)
	}

	minScore := req.MinRisk.MinScore()

	entries := make([]BlastRadiusEntry, 0, len(edges))

	for _, e := range edges {
		if e.FusedScore < minScore {
			continue
		}

		other, totalCommits := e.FileB, e.TotalCommitsB
		if e.FileA != filePath {
			other, totalCommits = e.FileA, e.TotalCommitsA
		}

		entries = append(entries, BlastRadiusEntry{
			File:         other,
			RiskLevel:    RiskLevelFromScore(e.FusedScore),
			FusedScore:   e.FusedScore,
			CouplingType: ParseCouplingType(e.CouplingType),
			Signals: SignalBreakdown{
				Temporal: e.TemporalScore,
				Static:   e.StaticScore,
				Semantic: e.SemanticScore,
			},
			CoChangeCount:      e.CoChangeCount,
			TotalCommits:       totalCommits,
			LastCoChangeCommit: e.LastCoChangeCommit,
			LastCoChangeAt:     e.LastCoChangeAt,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].FusedScore != entries[j].FusedScore {
			return entries[i].FusedScore > entries[j].FusedScore
		}

		return entries[i].File < entries[j].File
	})

	return BlastRadiusResult{TargetFile: filePath, MiningState: state, CoupledFiles: entries}, nil
}

// CouplingReport returns the top edges by fused_score across the repository.
func (a *Analyzer) CouplingReport(ctx context.Context, top int) ([]store.CouplingEdge, error) {
	return a.store.ListTopCouplingEdges(ctx, top)
}

// CommitsSinceLastMine reports how many commits HEAD is ahead of the last
// mined commit hash, or the sentinel 1<<62 - 1 if mining has never run.
func (a *Analyzer) CommitsSinceLastMine(ctx context.Context, state store.CouplingMiningState) (int64, error) {
	lastHash := strings.TrimSpace(state.LastCommitOID)
	if lastHash == "" {
		return 1<<62 - 1, nil
	}

	repo, err := gitlib.OpenRepository(a.repoRoot)
	if err != nil {
		return 0, nil
	}
	defer repo.Free()

	head, err := repo.Head()
	if err != nil {
		return 0, fmt.Errorf("resolve HEAD: %w", err)
	}

	walk, err := repo.Walk()
	if err != nil {
		return 0, fmt.Errorf("start revision walk: %w", err)
	}
	defer walk.Free()

	if err := walk.Push(head); err != nil {
		return 0, fmt.Errorf("push HEAD: %w", err)
	}

	var count int64

	for {
		hash, nextErr := walk.Next()
		if nextErr != nil {
			break
		}

		if hash.String() == lastHash {
			break
		}

		count++
	}

	return count, nil
}

func (a *Analyzer) needsAutoMine(ctx context.Context, state store.CouplingMiningState) (bool, error) {
	if strings.TrimSpace(state.LastCommitOID) == "" {
		return true, nil
	}

	since, err := a.CommitsSinceLastMine(ctx, state)
	if err != nil {
		return false, err
	}

	return since > staleCommitThreshold, nil
}

