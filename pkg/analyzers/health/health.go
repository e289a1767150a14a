// Package health produces the workspace health report: a pull-only,
// non-destructive view of risk-scored critical symbols,
// betweenness bottlenecks, dependency cycles, orphaned subgraphs, and
// multi-factor risk hotspots.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/aethercode/aether/pkg/config"
	"github.com/aethercode/aether/pkg/graph"
	"github.com/aethercode/aether/pkg/store"
	"github.com/aethercode/aether/pkg/uast"
)

// SchemaVersion stamps every health report envelope.
const SchemaVersion = "1.0"

// riskFactorMinContribution is the floor below which a factor is not
// surfaced as a named risk factor (unless needed to fill out the top 3).
const riskFactorMinContribution = 0.08

const (
	defaultLimit   = 10
	maxLimit       = 200
	defaultMinRisk = 0.5
	hotspotFactors = 2
)

// Section names accepted in ReportRequest.Include.
const (
	IncludeCriticalSymbols = "critical_symbols"
	IncludeBottlenecks     = "bottlenecks"
	IncludeCycles          = "cycles"
	IncludeOrphans         = "orphans"
	IncludeRiskHotspots    = "risk_hotspots"
)

// ReportRequest selects sections and thresholds for one health report.
// An empty Include means every section.
type ReportRequest struct {
	Include []string
	Limit   int
	MinRisk float64
}

// AnalysisSummary is the report's headline counters.
type AnalysisSummary struct {
	TotalSymbols        int       `json:"total_symbols"`
	TotalEdges          int       `json:"total_edges"`
	CommunitiesDetected int       `json:"communities_detected"`
	CyclesDetected      int       `json:"cycles_detected"`
	OrphanedSubgraphs   int       `json:"orphaned_subgraphs"`
	AnalyzedAt          time.Time `json:"analyzed_at"`
}

// SymbolEntry is one risk-scored symbol in the critical_symbols section.
type SymbolEntry struct {
	SymbolID        string   `json:"symbol_id"`
	SymbolName      string   `json:"symbol_name"`
	File            string   `json:"file"`
	PageRank        float64  `json:"pagerank"`
	Betweenness     float64  `json:"betweenness"`
	DependentsCount int      `json:"dependents_count"`
	HasSIR          bool     `json:"has_sir"`
	TestCount       int      `json:"test_count"`
	DriftMagnitude  float64  `json:"drift_magnitude"`
	RiskScore       float64  `json:"risk_score"`
	RiskFactors     []string `json:"risk_factors"`
}

// BottleneckEntry is one high-betweenness symbol.
type BottleneckEntry struct {
	SymbolID    string  `json:"symbol_id"`
	SymbolName  string  `json:"symbol_name"`
	File        string  `json:"file"`
	Betweenness float64 `json:"betweenness"`
	PageRank    float64 `json:"pagerank"`
	Note        string  `json:"note"`
}

// CycleSymbol is one member of a cycle or orphaned subgraph.
type CycleSymbol struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	File string `json:"file"`
}

// CycleEntry is one strongly-connected component with more than one member.
type CycleEntry struct {
	CycleID   int           `json:"cycle_id"`
	Symbols   []CycleSymbol `json:"symbols"`
	EdgeCount int           `json:"edge_count"`
	Note      string        `json:"note"`
}

// OrphanEntry is one connected component disjoint from the largest one.
type OrphanEntry struct {
	SubgraphID int           `json:"subgraph_id"`
	Symbols    []CycleSymbol `json:"symbols"`
	Note       string        `json:"note"`
}

// HotspotEntry is a symbol whose risk draws from two or more factors.
type HotspotEntry struct {
	SymbolID    string   `json:"symbol_id"`
	SymbolName  string   `json:"symbol_name"`
	File        string   `json:"file"`
	RiskScore   float64  `json:"risk_score"`
	RiskFactors []string `json:"risk_factors"`
}

// ReportResult is the full health report envelope.
type ReportResult struct {
	SchemaVersion   string            `json:"schema_version"`
	Analysis        AnalysisSummary   `json:"analysis"`
	CriticalSymbols []SymbolEntry     `json:"critical_symbols"`
	Bottlenecks     []BottleneckEntry `json:"bottlenecks"`
	Cycles          []CycleEntry      `json:"cycles"`
	Orphans         []OrphanEntry     `json:"orphans"`
	RiskHotspots    []HotspotEntry    `json:"risk_hotspots"`
	Notes           []string          `json:"notes"`
}

// Analyzer produces health reports from the Record and Graph Stores.
type Analyzer struct {
	store *store.Store
	graph *graph.Graph
	cfg   config.HealthConfig
	log   *slog.Logger
}

// Config bundles an Analyzer's dependencies.
type Config struct {
	Store  *store.Store
	Graph  *graph.Graph
	Health config.HealthConfig
	Log    *slog.Logger
}

// New constructs an Analyzer.
func New(cfg Config) *Analyzer {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	return &Analyzer{
		store: cfg.Store,
		graph: cfg.Graph,
		cfg:   cfg.Health,
		log:   log,
	}
}

// symbolContext carries every per-symbol signal the risk composition reads.
type symbolContext struct {
	symbol             uast.Symbol
	pageRank           float64
	pageRankNormalized float64
	pageRankPercentile int
	betweenness        float64
	dependentsCount    int
	testCount          int
	testCoverageRatio  float64
	driftMagnitude     float64
	hasSIR             bool
	edgeCaseCount      int
	accessRecency      float64
	boundaryViolations int
}

type riskContribution struct {
	label        string
	contribution float64
	message      string
}

// Report computes the health report for the current store/graph state.
func (a *Analyzer) Report(ctx context.Context, req ReportRequest) (ReportResult, error) {
	analyzedAt := time.Now()
	limit := clampInt(orDefaultInt(req.Limit, defaultLimit), 1, maxLimit)
	minRisk := clamp01(orDefaultFloat(req.MinRisk, defaultMinRisk))
	includes := effectiveIncludes(req.Include)

	var notes []string

	symbols, err := a.store.ListSymbols(ctx)
	if err != nil {
		return ReportResult{}, fmt.Errorf("health: list symbols: %w", err)
	}

	bySymbol := make(map[string]uast.Symbol, len(symbols))
	for _, s := range symbols {
		bySymbol[s.ID] = s
	}

	edges := append(a.graph.ListDependencyEdges(ctx, graph.EdgeCalls),
		a.graph.ListDependencyEdges(ctx, graph.EdgeDependsOn)...)

	if !a.cfg.Enabled {
		notes = append(notes, "health analysis disabled by config [health].enabled=false")

		return ReportResult{
			SchemaVersion: SchemaVersion,
			Analysis: AnalysisSummary{
				TotalSymbols: len(symbols),
				TotalEdges:   len(edges),
				AnalyzedAt:   analyzedAt,
			},
			Notes: notes,
		}, nil
	}

	if len(edges) == 0 {
		notes = append(notes, "no dependency edges found; graph sections are empty")
	}

	pageRank := a.graph.ListPageRank()
	pageRankBySymbol := make(map[string]float64, len(pageRank))
	pageRankRank := make(map[string]int, len(pageRank))
	maxPageRank := 1e-6

	for i, pr := range pageRank {
		pageRankBySymbol[pr.ID] = pr.Score
		pageRankRank[pr.ID] = i

		if pr.Score > maxPageRank {
			maxPageRank = pr.Score
		}
	}

	betweennessBySymbol := make(map[string]float64)
	for _, b := range a.graph.ListBetweennessCentrality() {
		betweennessBySymbol[b.ID] = b.Score
	}

	communityOf := a.graph.ListLouvainCommunities()
	communities := make(map[int]bool)

	for _, c := range communityOf {
		communities[c] = true
	}

	var cycles [][]string

	for _, comp := range a.graph.ListStronglyConnectedComponents() {
		if len(comp) > 1 {
			cycles = append(cycles, comp)
		}
	}

	orphanComponents := a.orphanComponents(bySymbol, len(edges) > 0)

	boundaryViolations := a.boundaryViolationCounts(ctx, communityOf)

	dependentsCount := make(map[string]int)
	for _, e := range edges {
		dependentsCount[e.To]++
	}

	driftBySymbol, err := a.latestDriftBySymbol(ctx)
	if err != nil {
		return ReportResult{}, err
	}

	testsByFile := a.testCountsByFile(ctx, symbols)

	contexts := make([]symbolContext, 0, len(symbols))

	for _, sym := range symbols {
		sc := symbolContext{
			symbol:             sym,
			pageRank:           pageRankBySymbol[sym.ID],
			betweenness:        clamp01(betweennessBySymbol[sym.ID]),
			dependentsCount:    dependentsCount[sym.ID],
			testCount:          testsByFile[sym.FilePath],
			driftMagnitude:     clamp01(driftBySymbol[sym.ID]),
			boundaryViolations: boundaryViolations[sym.ID],
		}
		sc.pageRankNormalized = clamp01(sc.pageRank / maxPageRank)
		sc.pageRankPercentile = percentileOfRank(pageRankRank, sym.ID, len(symbols))

		sc.hasSIR, sc.edgeCaseCount = a.sirSignals(ctx, sym.ID)
		sc.testCoverageRatio = coverageRatio(sc.testCount, sc.edgeCaseCount)
		sc.accessRecency = a.accessRecency(ctx, sym.ID, analyzedAt)

		contexts = append(contexts, sc)
	}

	type scored struct {
		ctx     symbolContext
		score   float64
		factors []string
	}

	scoredSymbols := make([]scored, 0, len(contexts))
	for _, sc := range contexts {
		score, factors := computeRiskScore(sc, a.cfg.RiskWeights)
		scoredSymbols = append(scoredSymbols, scored{ctx: sc, score: score, factors: factors})
	}

	sort.Slice(scoredSymbols, func(i, j int) bool {
		if scoredSymbols[i].score != scoredSymbols[j].score {
			return scoredSymbols[i].score > scoredSymbols[j].score
		}

		return scoredSymbols[i].ctx.symbol.ID < scoredSymbols[j].ctx.symbol.ID
	})

	result := ReportResult{
		SchemaVersion: SchemaVersion,
		Analysis: AnalysisSummary{
			TotalSymbols:        len(symbols),
			TotalEdges:          len(edges),
			CommunitiesDetected: len(communities),
			CyclesDetected:      len(cycles),
			OrphanedSubgraphs:   len(orphanComponents),
			AnalyzedAt:          analyzedAt,
		},
		Notes: notes,
	}

	if includes[IncludeCriticalSymbols] {
		for _, s := range scoredSymbols {
			if s.score < minRisk || len(result.CriticalSymbols) >= limit {
				continue
			}

			result.CriticalSymbols = append(result.CriticalSymbols, SymbolEntry{
				SymbolID:        s.ctx.symbol.ID,
				SymbolName:      leafName(s.ctx.symbol.QualifiedName),
				File:            s.ctx.symbol.FilePath,
				PageRank:        s.ctx.pageRank,
				Betweenness:     s.ctx.betweenness,
				DependentsCount: s.ctx.dependentsCount,
				HasSIR:          s.ctx.hasSIR,
				TestCount:       s.ctx.testCount,
				DriftMagnitude:  s.ctx.driftMagnitude,
				RiskScore:       s.score,
				RiskFactors:     s.factors,
			})
		}
	}

	if includes[IncludeBottlenecks] {
		top := make([]symbolContext, 0, len(contexts))

		for _, sc := range contexts {
			if sc.betweenness > 0 {
				top = append(top, sc)
			}
		}

		sort.Slice(top, func(i, j int) bool {
			if top[i].betweenness != top[j].betweenness {
				return top[i].betweenness > top[j].betweenness
			}

			return top[i].symbol.ID < top[j].symbol.ID
		})

		if len(top) > limit {
			top = top[:limit]
		}

		for _, sc := range top {
			result.Bottlenecks = append(result.Bottlenecks, BottleneckEntry{
				SymbolID:    sc.symbol.ID,
				SymbolName:  leafName(sc.symbol.QualifiedName),
				File:        sc.symbol.FilePath,
				Betweenness: sc.betweenness,
				PageRank:    sc.pageRank,
				Note: fmt.Sprintf("%.0f%% of dependency paths pass through this symbol",
					clamp01(sc.betweenness)*100),
			})
		}
	}

	if includes[IncludeCycles] {
		for i, comp := range cycles {
			if len(result.Cycles) >= limit {
				break
			}

			members := cycleSymbols(comp, bySymbol)
			names := make([]string, len(members))

			for j, m := range members {
				names[j] = m.Name
			}

			note := "circular dependency detected"
			if len(names) > 0 {
				note = "Circular: " + strings.Join(names, " -> ")
			}

			result.Cycles = append(result.Cycles, CycleEntry{
				CycleID:   i + 1,
				Symbols:   members,
				EdgeCount: len(members),
				Note:      note,
			})
		}
	}

	if includes[IncludeOrphans] {
		for i, comp := range orphanComponents {
			if len(result.Orphans) >= limit {
				break
			}

			result.Orphans = append(result.Orphans, OrphanEntry{
				SubgraphID: i + 1,
				Symbols:    cycleSymbols(comp, bySymbol),
				Note:       "No inbound dependencies from the largest connected component",
			})
		}
	}

	if includes[IncludeRiskHotspots] {
		for _, s := range scoredSymbols {
			if s.score < minRisk || len(s.factors) < hotspotFactors {
				continue
			}

			if len(result.RiskHotspots) >= limit {
				break
			}

			result.RiskHotspots = append(result.RiskHotspots, HotspotEntry{
				SymbolID:    s.ctx.symbol.ID,
				SymbolName:  leafName(s.ctx.symbol.QualifiedName),
				File:        s.ctx.symbol.FilePath,
				RiskScore:   s.score,
				RiskFactors: s.factors,
			})
		}
	}

	return result, nil
}

// orphanComponents returns every connected component fully disjoint from
// the largest one, plus singleton components for symbols absent from the
// graph entirely (only when the graph has edges at all — an empty graph
// would make every symbol an orphan, which is noise, not signal).
func (a *Analyzer) orphanComponents(bySymbol map[string]uast.Symbol, hasEdges bool) [][]string {
	components := a.graph.ListConnectedComponents()

	var largest []string

	for _, comp := range components {
		if len(comp) > len(largest) {
			largest = comp
		}
	}

	largestSet := make(map[string]bool, len(largest))
	for _, id := range largest {
		largestSet[id] = true
	}

	members := make(map[string]bool)

	var orphans [][]string

	for _, comp := range components {
		if len(comp) == 0 {
			continue
		}

		for _, id := range comp {
			members[id] = true
		}

		inLargest := false
		anyKnown := false

		for _, id := range comp {
			if largestSet[id] {
				inLargest = true
			}

			if _, ok := bySymbol[id]; ok {
				anyKnown = true
			}
		}

		// Components made only of file-source or co-change nodes are
		// projection artifacts, not orphaned code.
		if !inLargest && anyKnown {
			orphans = append(orphans, comp)
		}
	}

	if hasEdges {
		var missing []string

		for id := range bySymbol {
			if !members[id] {
				missing = append(missing, id)
			}
		}

		sort.Strings(missing)

		for _, id := range missing {
			orphans = append(orphans, []string{id})
		}
	}

	for _, comp := range orphans {
		sort.Strings(comp)
	}

	sort.Slice(orphans, func(i, j int) bool {
		if orphans[i][0] != orphans[j][0] {
			return orphans[i][0] < orphans[j][0]
		}

		return len(orphans[i]) < len(orphans[j])
	})

	return orphans
}

// boundaryViolationCounts counts, per source symbol, how many distinct
// foreign communities its edges reach.
func (a *Analyzer) boundaryViolationCounts(ctx context.Context, communityOf map[string]int) map[string]int {
	reached := make(map[string]map[int]bool)

	for _, e := range a.graph.ListCrossCommunityEdges(ctx, communityOf) {
		target, ok := communityOf[e.To]
		if !ok {
			continue
		}

		if reached[e.From] == nil {
			reached[e.From] = make(map[int]bool)
		}

		reached[e.From][target] = true
	}

	counts := make(map[string]int, len(reached))
	for id, set := range reached {
		counts[id] = len(set)
	}

	return counts
}

// latestDriftBySymbol maps each symbol to its most recent semantic drift
// magnitude.
func (a *Analyzer) latestDriftBySymbol(ctx context.Context) (map[string]float64, error) {
	records, err := a.store.ListDriftResultsByKind(ctx, "semantic")
	if err != nil {
		return nil, fmt.Errorf("health: list drift results: %w", err)
	}

	type stamped struct {
		at        time.Time
		magnitude float64
	}

	latest := make(map[string]stamped)

	for _, r := range records {
		cur, seen := latest[r.Subject]
		if !seen || !r.DetectedAt.Before(cur.at) {
			latest[r.Subject] = stamped{at: r.DetectedAt, magnitude: r.Magnitude}
		}
	}

	out := make(map[string]float64, len(latest))
	for id, s := range latest {
		out[id] = clamp01(s.magnitude)
	}

	return out, nil
}

// testCountsByFile counts the distinct test files guarding each source
// file, from the graph's tested_by edges.
func (a *Analyzer) testCountsByFile(ctx context.Context, symbols []uast.Symbol) map[string]int {
	files := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		files[s.FilePath] = true
	}

	counts := make(map[string]int, len(files))

	for file := range files {
		guards := make(map[string]bool)

		for _, row := range a.graph.ListTestedByForTargetFile(ctx, file) {
			guards[row.TestFile] = true
		}

		counts[file] = len(guards)
	}

	return counts
}

// sirSignals reads a symbol's SIR blob and returns (has_sir,
// edge_case_count), where edge cases are the SIR's non-blank edge_cases
// entries, or its error_modes entries when edge_cases is empty.
func (a *Analyzer) sirSignals(ctx context.Context, symbolID string) (bool, int) {
	body, _, _, err := a.store.ReadSIRBlob(ctx, symbolID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			a.log.Warn("health: read sir blob", "symbol_id", symbolID, "error", err)
		}

		return false, 0
	}

	var parsed struct {
		ErrorModes []string `json:"error_modes"`
		EdgeCases  []string `json:"edge_cases"`
	}

	if err := json.Unmarshal(body, &parsed); err != nil {
		return true, 0
	}

	cases := parsed.EdgeCases
	if len(cases) == 0 {
		cases = parsed.ErrorModes
	}

	count := 0

	for _, c := range cases {
		if strings.TrimSpace(c) != "" {
			count++
		}
	}

	return true, count
}

// accessRecency returns (1 - days_since_access/30) clamped to [0, 1], or
// zero when the symbol has never been accessed.
func (a *Analyzer) accessRecency(ctx context.Context, symbolID string, now time.Time) float64 {
	hit, err := a.store.GetSymbolHit(ctx, symbolID)
	if err != nil || hit.LastAccessedAt.IsZero() || hit.LastAccessedAt.After(now) {
		return 0
	}

	days := now.Sub(hit.LastAccessedAt).Hours() / 24

	return clamp01(1 - days/30)
}

// computeRiskScore composes the weighted factor sum of  and
// selects the factor messages worth surfacing: every contribution at or
// above riskFactorMinContribution, topped up to three from the remaining
// positive contributions.
func computeRiskScore(sc symbolContext, weights config.HealthRiskWeights) (float64, []string) {
	testGap := clamp01(1 - sc.testCoverageRatio)

	noSIR := 0.0
	if !sc.hasSIR {
		noSIR = 1.0
	}

	contributions := []riskContribution{
		{
			label:        "pagerank",
			contribution: weights.PageRank * sc.pageRankNormalized,
			message:      fmt.Sprintf("pagerank %.2f (top %d%%)", sc.pageRank, sc.pageRankPercentile),
		},
		{
			label:        "test_gap",
			contribution: weights.TestGap * testGap,
			message:      testGapMessage(sc),
		},
		{
			label:        "drift",
			contribution: weights.Drift * sc.driftMagnitude,
			message:      fmt.Sprintf("semantic drift %.2f over last 50 commits", sc.driftMagnitude),
		},
		{
			label:        "no_sir",
			contribution: weights.NoSIR * noSIR,
			message:      "missing SIR for this symbol",
		},
		{
			label:        "recency",
			contribution: weights.Recency * sc.accessRecency,
			message:      "recently accessed in active workflows",
		},
	}

	var score float64
	for _, c := range contributions {
		score += c.contribution
	}

	score = clamp01(score)

	sort.Slice(contributions, func(i, j int) bool {
		if contributions[i].contribution != contributions[j].contribution {
			return contributions[i].contribution > contributions[j].contribution
		}

		return contributions[i].label < contributions[j].label
	})

	selected := make(map[string]bool)

	for _, c := range contributions {
		if c.contribution >= riskFactorMinContribution {
			selected[c.label] = true
		}
	}

	for _, c := range contributions {
		if len(selected) >= 3 {
			break
		}

		if c.contribution <= 0 {
			continue
		}

		selected[c.label] = true
	}

	var factors []string

	for _, c := range contributions {
		if selected[c.label] {
			factors = append(factors, c.message)
		}
	}

	if sc.boundaryViolations >= 2 {
		factors = append(factors,
			fmt.Sprintf("boundary violation: calls into %d other communities", sc.boundaryViolations))
	}

	return score, factors
}

func testGapMessage(sc symbolContext) string {
	switch {
	case sc.edgeCaseCount > 0:
		return fmt.Sprintf("only %d test guards for %d edge cases in SIR", sc.testCount, sc.edgeCaseCount)
	case sc.testCount == 0:
		return "no linked tests from tested_by graph"
	default:
		return fmt.Sprintf("%d linked tests for this symbol's file", sc.testCount)
	}
}

// coverageRatio is test_count/edge_case_count clamped to [0, 1]; with no
// edge cases recorded, any linked test counts as full coverage.
func coverageRatio(testCount, edgeCaseCount int) float64 {
	if edgeCaseCount > 0 {
		return clamp01(float64(testCount) / float64(edgeCaseCount))
	}

	if testCount > 0 {
		return 1
	}

	return 0
}

func cycleSymbols(ids []string, bySymbol map[string]uast.Symbol) []CycleSymbol {
	var out []CycleSymbol

	for _, id := range ids {
		sym, ok := bySymbol[id]
		if !ok {
			continue
		}

		out = append(out, CycleSymbol{
			ID:   sym.ID,
			Name: leafName(sym.QualifiedName),
			File: sym.FilePath,
		})
	}

	return out
}

func percentileOfRank(rankOf map[string]int, id string, total int) int {
	if total == 0 {
		return 100
	}

	rank, ok := rankOf[id]
	if !ok {
		rank = total - 1
	}

	pct := (rank + 1) * 100 / total
	if pct < 1 {
		pct = 1
	}

	return pct
}

func effectiveIncludes(include []string) map[string]bool {
	out := make(map[string]bool)

	for _, section := range include {
		switch section {
		case IncludeCriticalSymbols, IncludeBottlenecks, IncludeCycles, IncludeOrphans, IncludeRiskHotspots:
			out[section] = true
		}
	}

	if len(out) > 0 {
		return out
	}

	return map[string]bool{
		IncludeCriticalSymbols: true,
		IncludeBottlenecks:     true,
		IncludeCycles:          true,
		IncludeOrphans:         true,
		IncludeRiskHotspots:    true,
	}
}

func leafName(qualifiedName string) string {
	if idx := strings.LastIndex(qualifiedName, "::"); idx >= 0 && idx+2 < len(qualifiedName) {
		return qualifiedName[idx+2:]
	}

	return qualifiedName
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

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}

	if v > hi {
		return hi
	}

	return v
}

func orDefaultInt(v, def int) int {
	if v == 0 {
		return def
	}

	return v
}

func orDefaultFloat(v, def float64) float64 {
	if v == 0 {
		return def
	}

	return v
}
