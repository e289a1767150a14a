package indexer

import "github.com/aethercode/aether/pkg/uast"

// SymbolChangeKind classifies how a symbol changed between two parses of
// the same file: the (previous, current) diff is classified into
// added/removed/updated via symbol-id equality and content-hash
// comparison.
type SymbolChangeKind string

// Symbol change kind constants.
const (
	ChangeAdded   SymbolChangeKind = "added"
	ChangeRemoved SymbolChangeKind = "removed"
	ChangeUpdated SymbolChangeKind = "updated"
)

// SymbolChange is one symbol's classified diff outcome for a reparsed file.
type SymbolChange struct {
	Kind   SymbolChangeKind
	Symbol uast.Symbol
}

// diffSymbols classifies previous against current by symbol id: ids only in
// current are added, ids only in previous are removed, ids in both are
// updated when the content hash changed and otherwise dropped (unchanged,
// no SIR work needed).
func diffSymbols(previous, current []uast.Symbol) []SymbolChange {
	prevByID := make(map[string]uast.Symbol, len(previous))
	for _, s := range previous {
		prevByID[s.ID] = s
	}

	currByID := make(map[string]uast.Symbol, len(current))
	for _, s := range current {
		currByID[s.ID] = s
	}

	var changes []SymbolChange

	for id, cur := range currByID {
		prev, existed := prevByID[id]
		if !existed {
			changes = append(changes, SymbolChange{Kind: ChangeAdded, Symbol: cur})

			continue
		}

		if prev.ContentHash != cur.ContentHash || prev.SignatureFingerprint != cur.SignatureFingerprint {
			changes = append(changes, SymbolChange{Kind: ChangeUpdated, Symbol: cur})
		}
	}

	for id, prev := range prevByID {
		if _, stillPresent := currByID[id]; !stillPresent {
			changes = append(changes, SymbolChange{Kind: ChangeRemoved, Symbol: prev})
		}
	}

	return changes
}
