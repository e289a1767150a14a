package uast

import (
	"sort"

	"github.com/aethercode/aether/pkg/identity"
)

// SymbolKind classifies a declaration extracted from a source file.
type SymbolKind string

// Symbol kind constants, matching the data model's closed kind set.
const (
	KindFunction  SymbolKind = "Function"
	KindMethod    SymbolKind = "Method"
	KindClass     SymbolKind = "Class"
	KindStruct    SymbolKind = "Struct"
	KindEnum      SymbolKind = "Enum"
	KindTrait     SymbolKind = "Trait"
	KindInterface SymbolKind = "Interface"
	KindTypeAlias SymbolKind = "TypeAlias"
	KindVariable  SymbolKind = "Variable"
)

// Range is a 1-based line/column source span.
type Range struct {
	StartLine uint
	StartCol  uint
	EndLine   uint
	EndCol    uint
}

// Symbol identifies a declaration within a file.
type Symbol struct {
	ID                   string
	Language             string
	FilePath             string
	Kind                 SymbolKind
	Name                 string
	QualifiedName        string
	SignatureFingerprint string
	ContentHash          string
	Range                Range
}

// NewSymbol computes a Symbol's identity fields (ID, SignatureFingerprint,
// ContentHash) from its declaration prefix and body text, via pkg/identity.
func NewSymbol(
	language, filePath string,
	kind SymbolKind,
	name, qualifiedName, declarationPrefix, body string,
	rng Range,
) Symbol {
	sig := identity.SignatureFingerprint(declarationPrefix)

	return Symbol{
		ID:                   identity.StableSymbolID(language, filePath, string(kind), qualifiedName, sig),
		Language:             language,
		FilePath:             identity.NormalizePath(filePath),
		Kind:                 kind,
		Name:                 name,
		QualifiedName:        qualifiedName,
		SignatureFingerprint: sig,
		ContentHash:          identity.ContentHash(body),
		Range:                rng,
	}
}

// EdgeKind classifies a symbol edge.
type EdgeKind string

// Edge kind constants.
const (
	EdgeCalls     EdgeKind = "Calls"
	EdgeDependsOn EdgeKind = "DependsOn"
)

// Edge connects an enclosing symbol (or a synthetic file source) to a
// textual target qualified name. Resolution against a known symbol's
// QualifiedName happens downstream, in the store/graph layer.
type Edge struct {
	SourceID            string
	TargetQualifiedName string
	Kind                EdgeKind
	FilePath            string
}

// TestIntent is a single test declaration's stated intent, extracted from
// its name and/or adjoining doc comment.
type TestIntent struct {
	FilePath   string
	TestName   string
	IntentText string
	GroupLabel string
	Language   string
	SymbolID   string
}

// IntentID computes the stable identity of a test intent.
func (t TestIntent) IntentID() string {
	return identity.ContentHash(t.FilePath + "\x1f" + t.TestName + "\x1f" + t.IntentText)
}

// ParseResult is the extraction contract's output: symbols, edges, and test
// intents extracted from a single file, sorted and deduplicated per the
// contract's ordering rules.
type ParseResult struct {
	Symbols     []Symbol
	Edges       []Edge
	TestIntents []TestIntent
}

// sortAndDedupe enforces the extraction contract's ordering and dedup rules:
// symbols sorted by ID with no duplicates; edges sorted by
// (SourceID, TargetQualifiedName, Kind, FilePath) and deduped on that key;
// test intents deduped on (FilePath, TestName, IntentText, GroupLabel,
// Language, SymbolID).
func sortAndDedupe(res *ParseResult) {
	sort.Slice(res.Symbols, func(i, j int) bool { return res.Symbols[i].ID < res.Symbols[j].ID })
	res.Symbols = dedupeSymbols(res.Symbols)

	sort.Slice(res.Edges, func(i, j int) bool { return edgeLess(res.Edges[i], res.Edges[j]) })
	res.Edges = dedupeEdges(res.Edges)

	res.TestIntents = dedupeTestIntents(res.TestIntents)
}

func dedupeSymbols(symbols []Symbol) []Symbol {
	out := make([]Symbol, 0, len(symbols))

	var lastID string

	for i, s := range symbols {
		if i > 0 && s.ID == lastID {
			continue
		}

		out = append(out, s)
		lastID = s.ID
	}

	return out
}

func edgeLess(a, b Edge) bool {
	if a.SourceID != b.SourceID {
		return a.SourceID < b.SourceID
	}

	if a.TargetQualifiedName != b.TargetQualifiedName {
		return a.TargetQualifiedName < b.TargetQualifiedName
	}

	if a.Kind != b.Kind {
		return a.Kind < b.Kind
	}

	return a.FilePath < b.FilePath
}

func dedupeEdges(edges []Edge) []Edge {
	out := make([]Edge, 0, len(edges))

	var last Edge

	for i, e := range edges {
		if i > 0 && e == last {
			continue
		}

		out = append(out, e)
		last = e
	}

	return out
}

type testIntentKey struct {
	filePath   string
	testName   string
	intentText string
	groupLabel string
	language   string
	symbolID   string
}

func dedupeTestIntents(intents []TestIntent) []TestIntent {
	seen := make(map[testIntentKey]bool, len(intents))
	out := make([]TestIntent, 0, len(intents))

	for _, ti := range intents {
		key := testIntentKey{ti.FilePath, ti.TestName, ti.IntentText, ti.GroupLabel, ti.Language, ti.SymbolID}
		if seen[key] {
			continue
		}

		seen[key] = true

		out = append(out, ti)
	}

	return out
}
