// Package ask implements the unified ask query: one query fanned out
// over symbols, notes, test intents, and coupled files, merged with
// Reciprocal Rank Fusion and the shared recency/access boost into a
// single ranked result list.
package ask

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aethercode/aether/pkg/search"
	"github.com/aethercode/aether/pkg/sir"
	"github.com/aethercode/aether/pkg/store"
	"github.com/aethercode/aether/pkg/vector"
)

// couplingSeedLimit is how many top symbol hits seed the coupled-file
// candidate derivation.
const couplingSeedLimit = 10

// couplingEdgesPerAnchor bounds the coupled files pulled per anchor file.
const couplingEdgesPerAnchor = 50

const (
	minLimit = 1
	maxLimit = 100
	// candidateFloor keeps the per-type candidate pools wide enough for
	// fusion to matter even when the caller asks for few results.
	candidateFloor = 30

	snippetLimit = 180
)

// Result kinds.
const (
	KindSymbol      = "symbol"
	KindNote        = "note"
	KindTestGuard   = "test_guard"
	KindCoupledFile = "coupled_file"
)

// Include flags.
const (
	IncludeSymbols  = "symbols"
	IncludeNotes    = "notes"
	IncludeCoupling = "coupling"
	IncludeTests    = "tests"
)

// SemanticQuery carries a caller-supplied query embedding and the
// (provider, model) partition it belongs to.
type SemanticQuery struct {
	Provider  string
	Model     string
	Embedding []float32
}

// Request is one unified ask.
type Request struct {
	Query    string
	Limit    int
	Include  []string // empty means all four types
	Semantic *SemanticQuery
	Now      time.Time // zero means time.Now()
}

// ResultItem is one ranked answer of any kind.
type ResultItem struct {
	Kind           string   `json:"kind"`
	ID             string   `json:"id,omitempty"`
	Title          string   `json:"title,omitempty"`
	Snippet        string   `json:"snippet"`
	RelevanceScore float64  `json:"relevance_score"`
	File           string   `json:"file,omitempty"`
	Language       string   `json:"language,omitempty"`
	Tags           []string `json:"tags,omitempty"`
	SourceType     string   `json:"source_type,omitempty"`
	TestFile       string   `json:"test_file,omitempty"`
	FusedScore     float64  `json:"fused_score,omitempty"`
	CouplingType   string   `json:"coupling_type,omitempty"`
}

// Result is the ask envelope.
type Result struct {
	SchemaVersion string       `json:"schema_version"`
	Query         string       `json:"query"`
	Results       []ResultItem `json:"results"`
}

// SchemaVersion stamps every ask envelope.
const SchemaVersion = "1.0"

// Engine answers unified asks against the Record and Vector Stores.
type Engine struct {
	store     *store.Store
	vec       *vector.Store // nil disables semantic symbol candidates
	halfLives search.RecencyHalfLives
	log       *slog.Logger
}

// Options configures an Engine.
type Options struct {
	Store     *store.Store
	Vector    *vector.Store
	HalfLives search.RecencyHalfLives // zero value uses search defaults
	Log       *slog.Logger
}

// NewEngine constructs an ask Engine.
func NewEngine(opts Options) *Engine {
	halfLives := opts.HalfLives
	if halfLives.Symbols == 0 {
		halfLives.Symbols = search.DefaultRecencyHalfLives.Symbols
	}

	if halfLives.Notes == 0 {
		halfLives.Notes = search.DefaultRecencyHalfLives.Notes
	}

	log := opts.Log
	if log == nil {
		log = slog.Default()
	}

	return &Engine{
		store:     opts.Store,
		vec:       opts.Vector,
		halfLives: halfLives,
		log:       log,
	}
}

// rankedCandidate is one per-type candidate carrying the metadata the
// cross-type merge's second boost pass needs.
type rankedCandidate struct {
	key            string
	accessCount    int
	lastAccessedAt time.Time
	halfLife       time.Duration
	item           ResultItem
}

// Ask runs the full fan-out/fuse/merge pipeline. As a side effect it
// increments access counters for the symbol and note results returned.
func (e *Engine) Ask(ctx context.Context, req Request) (Result, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return Result{SchemaVersion: SchemaVersion}, nil
	}

	limit := clampInt(req.Limit, minLimit, maxLimit)
	candidateLimit := limit
	if candidateLimit < candidateFloor {
		candidateLimit = candidateFloor
	}

	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}

	include := normalizeInclude(req.Include)
	fetchSymbols := include[IncludeSymbols] || include[IncludeCoupling]

	var (
		symbolLexical []store.SymbolHit
		noteLexical   []store.ProjectNote
		testLexical   []store.TestIntentRecord
	)

	g, gctx := errgroup.WithContext(ctx)

	if fetchSymbols {
		g.Go(func() error {
			var err error
			symbolLexical, err = e.store.SearchSymbolsForQuery(gctx, query, candidateLimit)

			return err
		})
	}

	if include[IncludeNotes] {
		g.Go(func() error {
			var err error
			noteLexical, err = e.store.SearchProjectNotesLexical(gctx, query, candidateLimit)

			return err
		})
	}

	if include[IncludeTests] {
		g.Go(func() error {
			var err error
			testLexical, err = e.store.SearchTestIntentsLexical(gctx, query, candidateLimit)

			return err
		})
	}

	if err := g.Wait(); err != nil {
		return Result{}, fmt.Errorf("ask: fan-out: %w", err)
	}

	var symbolSemantic []store.SymbolHit

	if req.Semantic != nil && fetchSymbols && e.vec != nil {
		neighbors, err := e.vec.SearchNearest(ctx, req.Semantic.Provider, req.Semantic.Model,
			req.Semantic.Embedding, candidateLimit)
		if err != nil {
			e.log.Warn("ask: semantic search degraded to lexical", "error", err)
		}

		for _, n := range neighbors {
			hit, hitErr := e.store.GetSymbolHit(ctx, n.SymbolID)
			if hitErr != nil {
				continue
			}

			symbolSemantic = append(symbolSemantic, hit)
		}
	}

	var symbolCandidates []rankedCandidate
	if fetchSymbols {
		symbolCandidates = e.rankSymbolCandidates(symbolLexical, symbolSemantic, now)
	}

	var noteCandidates []rankedCandidate
	if include[IncludeNotes] {
		noteCandidates = e.rankNoteCandidates(noteLexical, now)
	}

	var testCandidates []rankedCandidate
	if include[IncludeTests] {
		testCandidates = rankTestCandidates(testLexical)
	}

	var couplingCandidates []rankedCandidate
	if include[IncludeCoupling] {
		var err error

		couplingCandidates, err = e.rankCouplingCandidates(ctx, symbolCandidates)
		if err != nil {
			return Result{}, err
		}
	}

	if !include[IncludeSymbols] {
		symbolCandidates = nil
	}

	results := e.mergeCandidates(now, limit, symbolCandidates, noteCandidates, testCandidates, couplingCandidates)

	e.enrichSymbolSnippets(ctx, results)
	e.incrementAccess(ctx, results, now)

	return Result{SchemaVersion: SchemaVersion, Query: query, Results: results}, nil
}

// rankSymbolCandidates fuses lexical and semantic symbol hits with RRF,
// then applies the symbol-τ recency/access boost.
func (e *Engine) rankSymbolCandidates(lexical, semantic []store.SymbolHit, now time.Time) []rankedCandidate {
	byID := make(map[string]store.SymbolHit)
	scoreByID := make(map[string]float64)

	for rank, hit := range lexical {
		if _, ok := byID[hit.Symbol.ID]; !ok {
			byID[hit.Symbol.ID] = hit
		}

		scoreByID[hit.Symbol.ID] += search.RRFScore(rank)
	}

	for rank, hit := range semantic {
		if _, ok := byID[hit.Symbol.ID]; !ok {
			byID[hit.Symbol.ID] = hit
		}

		scoreByID[hit.Symbol.ID] += search.RRFScore(rank)
	}

	type scored struct {
		boosted   float64
		candidate rankedCandidate
	}

	ranked := make([]scored, 0, len(scoreByID))

	for id, score := range scoreByID {
		hit := byID[id]
		boosted := search.RecencyAccessBoost(score, hit.AccessCount, hit.LastAccessedAt, e.halfLives.Symbols, now)

		ranked = append(ranked, scored{
			boosted: boosted,
			candidate: rankedCandidate{
				key:            "symbol:" + id,
				accessCount:    hit.AccessCount,
				lastAccessedAt: hit.LastAccessedAt,
				halfLife:       e.halfLives.Symbols,
				item: ResultItem{
					Kind:           KindSymbol,
					ID:             id,
					Title:          hit.Symbol.QualifiedName,
					Snippet:        hit.Symbol.QualifiedName,
					RelevanceScore: boosted,
					File:           hit.Symbol.FilePath,
					Language:       hit.Symbol.Language,
				},
			},
		})
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].boosted != ranked[j].boosted {
			return ranked[i].boosted > ranked[j].boosted
		}

		return ranked[i].candidate.key < ranked[j].candidate.key
	})

	out := make([]rankedCandidate, len(ranked))
	for i, s := range ranked {
		out[i] = s.candidate
	}

	return out
}

// rankNoteCandidates ranks lexical note hits with RRF position scores and
// the note-τ boost. Semantic note retrieval is intentionally absent: the
// data model binds embeddings to SIR hashes, so notes have no vector rows
// to search.
func (e *Engine) rankNoteCandidates(lexical []store.ProjectNote, now time.Time) []rankedCandidate {
	type scored struct {
		boosted   float64
		candidate rankedCandidate
	}

	ranked := make([]scored, 0, len(lexical))

	for rank, note := range lexical {
		boosted := search.RecencyAccessBoost(search.RRFScore(rank), note.AccessCount, note.LastAccessedAt,
			e.halfLives.Notes, now)

		ranked = append(ranked, scored{
			boosted: boosted,
			candidate: rankedCandidate{
				key:            "note:" + note.ID,
				accessCount:    note.AccessCount,
				lastAccessedAt: note.LastAccessedAt,
				halfLife:       e.halfLives.Notes,
				item: ResultItem{
					Kind:           KindNote,
					ID:             note.ID,
					Snippet:        compactSnippet(note.Content),
					RelevanceScore: boosted,
					Tags:           note.Tags,
					SourceType:     note.SourceType,
				},
			},
		})
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].boosted != ranked[j].boosted {
			return ranked[i].boosted > ranked[j].boosted
		}

		return ranked[i].candidate.key < ranked[j].candidate.key
	})

	out := make([]rankedCandidate, len(ranked))
	for i, s := range ranked {
		out[i] = s.candidate
	}

	return out
}

func rankTestCandidates(rows []store.TestIntentRecord) []rankedCandidate {
	out := make([]rankedCandidate, 0, len(rows))

	for rank, row := range rows {
		out = append(out, rankedCandidate{
			key: "test:" + row.ID,
			item: ResultItem{
				Kind:           KindTestGuard,
				ID:             row.ID,
				Title:          row.TestName,
				Snippet:        compactSnippet(row.IntentText),
				RelevanceScore: search.RRFScore(rank),
				TestFile:       row.FilePath,
			},
		})
	}

	return out
}

type couplingAggregate struct {
	coupledFile  string
	anchorFile   string
	gitCoupling  float64
	fusedScore   float64
	couplingType string
}

// rankCouplingCandidates derives coupled-file candidates from the top
// symbol hits' files, keeping the maximum fused_score per coupled file.
func (e *Engine) rankCouplingCandidates(ctx context.Context, symbolCandidates []rankedCandidate) ([]rankedCandidate, error) {
	byFile := make(map[string]couplingAggregate)

	seeds := symbolCandidates
	if len(seeds) > couplingSeedLimit {
		seeds = seeds[:couplingSeedLimit]
	}

	for _, symbol := range seeds {
		anchorFile := symbol.item.File
		if anchorFile == "" {
			continue
		}

		edges, err := e.store.ListCouplingEdgesForFile(ctx, anchorFile, couplingEdgesPerAnchor)
		if err != nil {
			return nil, fmt.Errorf("ask: coupling candidates: %w", err)
		}

		for _, edge := range edges {
			coupledFile := edge.FileB
			if coupledFile == anchorFile {
				coupledFile = edge.FileA
			}

			if coupledFile == "" || coupledFile == anchorFile {
				continue
			}

			aggregate := couplingAggregate{
				coupledFile:  coupledFile,
				anchorFile:   anchorFile,
				gitCoupling:  clamp01(edge.TemporalScore),
				fusedScore:   clamp01(edge.FusedScore),
				couplingType: edge.CouplingType,
			}

			if current, ok := byFile[coupledFile]; !ok || aggregate.fusedScore > current.fusedScore {
				byFile[coupledFile] = aggregate
			}
		}
	}

	aggregates := make([]couplingAggregate, 0, len(byFile))
	for _, a := range byFile {
		aggregates = append(aggregates, a)
	}

	sort.Slice(aggregates, func(i, j int) bool {
		if aggregates[i].fusedScore != aggregates[j].fusedScore {
			return aggregates[i].fusedScore > aggregates[j].fusedScore
		}

		return aggregates[i].coupledFile < aggregates[j].coupledFile
	})

	out := make([]rankedCandidate, 0, len(aggregates))

	for _, a := range aggregates {
		out = append(out, rankedCandidate{
			key: "coupling:" + a.coupledFile,
			item: ResultItem{
				Kind:  KindCoupledFile,
				Title: a.coupledFile,
				Snippet: fmt.Sprintf("Co-changes with %s in %.0f%% of commits (%s coupling, type: %s)",
					a.anchorFile, a.gitCoupling*100, riskLabel(a.fusedScore), a.couplingType),
				RelevanceScore: a.fusedScore,
				FusedScore:     a.fusedScore,
				CouplingType:   a.couplingType,
			},
		})
	}

	return out, nil
}

// mergeCandidates RRF-fuses the four per-type ranked lists, applies the
// boost again (per-candidate τ), sorts, truncates, and normalizes
// relevance_score to [0, 1].
func (e *Engine) mergeCandidates(now time.Time, limit int, lists ...[]rankedCandidate) []ResultItem {
	byKey := make(map[string]rankedCandidate)
	scoreByKey := make(map[string]float64)

	for _, list := range lists {
		for rank, candidate := range list {
			if _, ok := byKey[candidate.key]; !ok {
				byKey[candidate.key] = candidate
			}

			scoreByKey[candidate.key] += search.RRFScore(rank)
		}
	}

	type merged struct {
		key     string
		boosted float64
		item    ResultItem
	}

	all := make([]merged, 0, len(scoreByKey))

	for key, score := range scoreByKey {
		candidate := byKey[key]

		halfLife := candidate.halfLife
		if halfLife == 0 {
			halfLife = e.halfLives.Symbols
		}

		boosted := search.RecencyAccessBoost(score, candidate.accessCount, candidate.lastAccessedAt, halfLife, now)
		all = append(all, merged{key: key, boosted: boosted, item: candidate.item})
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].boosted != all[j].boosted {
			return all[i].boosted > all[j].boosted
		}

		return all[i].key < all[j].key
	})

	if len(all) > limit {
		all = all[:limit]
	}

	maxScore := 1.0

	for _, m := range all {
		if m.boosted > maxScore {
			maxScore = m.boosted
		}
	}

	out := make([]ResultItem, len(all))

	for i, m := range all {
		m.item.RelevanceScore = clamp01(m.boosted / maxScore)
		out[i] = m.item
	}

	return out
}

// enrichSymbolSnippets replaces symbol snippets with the SIR intent when a
// valid blob exists.
func (e *Engine) enrichSymbolSnippets(ctx context.Context, results []ResultItem) {
	for i := range results {
		if results[i].Kind != KindSymbol || results[i].ID == "" {
			continue
		}

		body, _, _, err := e.store.ReadSIRBlob(ctx, results[i].ID)
		if err != nil {
			continue
		}

		var parsed sir.SIR
		if jsonErr := json.Unmarshal(body, &parsed); jsonErr != nil {
			continue
		}

		if intent := strings.TrimSpace(parsed.Intent); intent != "" {
			results[i].Snippet = compactSnippet(intent)
		}
	}
}

// incrementAccess bumps access counters for the symbol and note results.
func (e *Engine) incrementAccess(ctx context.Context, results []ResultItem, now time.Time) {
	for _, item := range results {
		if item.ID == "" {
			continue
		}

		var err error

		switch item.Kind {
		case KindSymbol:
			err = e.store.IncrementSymbolAccess(ctx, item.ID, now)
		case KindNote:
			err = e.store.IncrementProjectNoteAccess(ctx, item.ID, now)
		default:
			continue
		}

		if err != nil {
			e.log.Warn("ask: increment access", "kind", item.Kind, "id", item.ID, "error", err)
		}
	}
}

func normalizeInclude(include []string) map[string]bool {
	out := make(map[string]bool)

	for _, flag := range include {
		switch flag {
		case IncludeSymbols, IncludeNotes, IncludeCoupling, IncludeTests:
			out[flag] = true
		}
	}

	if len(out) > 0 {
		return out
	}

	return map[string]bool{
		IncludeSymbols: true, IncludeNotes: true, IncludeCoupling: true, IncludeTests: true,
	}
}

func riskLabel(score float64) string {
	switch {
	case score >= 0.7:
		return "Critical"
	case score >= 0.4:
		return "High"
	case score >= 0.2:
		return "Medium"
	default:
		return "Low"
	}
}

func compactSnippet(value string) string {
	trimmed := strings.TrimSpace(value)
	if len(trimmed) <= snippetLimit {
		return trimmed
	}

	end := snippetLimit
	for end > 0 && !isRuneBoundary(trimmed, end) {
		end--
	}

	return trimmed[:end] + "..."
}

func isRuneBoundary(s string, i int) bool {
	return i == 0 || i >= len(s) || (s[i]&0xC0) != 0x80
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
