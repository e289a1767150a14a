package indexer

import (
	"context"
	"fmt"

	"github.com/aethercode/aether/pkg/graph"
	"github.com/aethercode/aether/pkg/store"
	"github.com/aethercode/aether/pkg/uast"
)

// couplingProjectionLimit bounds how many mined coupling edges get
// projected into the graph as co_change edges — the connected-components
// view only needs the strong ones.
const couplingProjectionLimit = 2000

// RebuildGraph rehydrates an in-memory Graph Store from the Record Store:
// every live symbol becomes a node, every stored edge whose target
// qualified name currently resolves to a symbol becomes a resolved graph
// edge, mined coupling edges are projected as weighted co_change edges,
// and durable tested_by rows are projected back in. Analytics engines
// running in a fresh process (one-shot CLI invocations) call this before
// querying the graph — the graph is a derived projection, never the
// source of truth.
func RebuildGraph(ctx context.Context, st *store.Store, g *graph.Graph) error {
	symbols, err := st.ListSymbols(ctx)
	if err != nil {
		return fmt.Errorf("rebuild graph: list symbols: %w", err)
	}

	qualified := make(map[string]string, len(symbols))

	for _, sym := range symbols {
		g.UpsertSymbolNode(ctx, sym.ID, sym.FilePath)
		qualified[sym.QualifiedName] = sym.ID
	}

	edges, err := st.ListEdges(ctx)
	if err != nil {
		return fmt.Errorf("rebuild graph: list edges: %w", err)
	}

	for _, e := range edges {
		targetID, ok := qualified[e.TargetQualifiedName]
		if !ok {
			continue // unresolved edges are dropped silently
		}

		kind := graph.EdgeDependsOn
		if e.Kind == uast.EdgeCalls {
			kind = graph.EdgeCalls
		}

		g.UpsertSymbolNode(ctx, e.SourceID, e.FilePath)
		g.UpsertEdge(ctx, graph.Edge{From: e.SourceID, To: targetID, Kind: kind, Weight: 1})
	}

	coupling, err := st.ListTopCouplingEdges(ctx, couplingProjectionLimit)
	if err != nil {
		return fmt.Errorf("rebuild graph: list coupling edges: %w", err)
	}

	for _, edge := range coupling {
		g.UpsertCoChangeEdge(ctx, edge.FileA, edge.FileB, edge.FusedScore)
	}

	testedBy, err := st.ListAllTestedBy(ctx)
	if err != nil {
		return fmt.Errorf("rebuild graph: list tested_by: %w", err)
	}

	byTestFile := make(map[string][]graph.TestedBy)

	for _, row := range testedBy {
		byTestFile[row.TestFile] = append(byTestFile[row.TestFile], graph.TestedBy{
			TargetFile:  row.TargetFile,
			TestFile:    row.TestFile,
			IntentCount: row.IntentCount,
			Confidence:  row.Confidence,
			Method:      row.Method,
		})
	}

	for testFile, rows := range byTestFile {
		g.ReplaceTestedByForTestFile(ctx, testFile, rows)
	}

	return nil
}
