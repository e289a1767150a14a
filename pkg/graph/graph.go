// Package graph implements the Graph Store: the resolved
// symbol/edge graph and its derived analytics (PageRank, Louvain community
// detection, strongly-connected components, connected components), plus
// co-change and tested_by edge tracking.
//
// The graph is held in memory as an arena of nodes keyed by symbol id, with
// adjacency lists for fast traversal; the design leaves the concrete
// algorithm implementation free as long as it is deterministic, so each
// analytic below uses a plain, repeatable variant rather than a tuned one.
package graph

import (
	"context"
	"sort"
	"sync"
)

// EdgeKind classifies a graph edge.
type EdgeKind string

// Edge kind constants.
const (
	EdgeCalls     EdgeKind = "calls"
	EdgeDependsOn EdgeKind = "depends_on"
	EdgeCoChange  EdgeKind = "co_change"
	EdgeTestedBy  EdgeKind = "tested_by"
)

// Edge is a directed graph edge between two symbol (or file-source) ids.
type Edge struct {
	From   string
	To     string
	Kind   EdgeKind
	Weight float64
}

// Graph is an in-memory, mutex-guarded symbol graph synced from the Record
// Store on every indexed file.
type Graph struct {
	mu       sync.RWMutex
	nodes    map[string]bool
	out      map[string][]Edge
	in       map[string][]Edge
	fileOf   map[string]string     // node id -> owning file path, for per-file resync
	testedBy map[string][]TestedBy // test file -> inferred target rows
}

// New returns an empty Graph.
func New() *Graph {
	return &Graph{
		nodes:  make(map[string]bool),
		out:    make(map[string][]Edge),
		in:     make(map[string][]Edge),
		fileOf: make(map[string]string),
	}
}

// UpsertSymbolNode registers a node id as belonging to filePath.
func (g *Graph) UpsertSymbolNode(_ context.Context, id, filePath string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.nodes[id] = true
	g.fileOf[id] = filePath
}

// UpsertEdge adds a directed edge, deduplicating on (from, to, kind).
func (g *Graph) UpsertEdge(_ context.Context, e Edge) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.nodes[e.From] = true
	g.nodes[e.To] = true

	for _, existing := range g.out[e.From] {
		if existing.To == e.To && existing.Kind == e.Kind {
			return
		}
	}

	g.out[e.From] = append(g.out[e.From], e)
	g.in[e.To] = append(g.in[e.To], e)
}

// DeleteEdgesForFile removes every edge originating from a node owned by
// filePath — the idempotent per-file resync step run before UpsertEdge
// re-inserts the freshly parsed set.
func (g *Graph) DeleteEdgesForFile(_ context.Context, filePath string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	var toRemove []string

	for id, f := range g.fileOf {
		if f == filePath {
			toRemove = append(toRemove, id)
		}
	}

	for _, id := range toRemove {
		for _, e := range g.out[id] {
			g.in[e.To] = removeEdge(g.in[e.To], e)
		}

		delete(g.out, id)
	}
}

func removeEdge(edges []Edge, target Edge) []Edge {
	out := edges[:0]

	for _, e := range edges {
		if e != target {
			out = append(out, e)
		}
	}

	return out
}

// GetCallers returns every node with an edge pointing at id.
func (g *Graph) GetCallers(_ context.Context, id string) []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return append([]Edge(nil), g.in[id]...)
}

// GetDependencies returns every edge originating from id.
func (g *Graph) GetDependencies(_ context.Context, id string) []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return append([]Edge(nil), g.out[id]...)
}

// GetCallChain performs a bounded-depth BFS from id, returning every node
// reachable within maxDepth hops, grouped by depth.
func (g *Graph) GetCallChain(_ context.Context, id string, maxDepth int) [][]string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	visited := map[string]bool{id: true}
	frontier := []string{id}

	var levels [][]string

	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		var next []string

		for _, n := range frontier {
			for _, e := range g.out[n] {
				if visited[e.To] {
					continue
				}

				visited[e.To] = true
				next = append(next, e.To)
			}
		}

		if len(next) == 0 {
			break
		}

		sort.Strings(next)
		levels = append(levels, next)
		frontier = next
	}

	return levels
}

// ListUpstreamDependencyTraversal performs a bounded-depth BFS against the
// reverse adjacency (callers), used by the causal tracer.
func (g *Graph) ListUpstreamDependencyTraversal(_ context.Context, id string, maxDepth int) map[string]int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	depthOf := map[string]int{id: 0}
	frontier := []string{id}

	for depth := 1; depth <= maxDepth && len(frontier) > 0; depth++ {
		var next []string

		for _, n := range frontier {
			for _, e := range g.in[n] {
				if _, seen := depthOf[e.From]; seen {
					continue
				}

				depthOf[e.From] = depth
				next = append(next, e.From)
			}
		}

		frontier = next
	}

	return depthOf
}

// ListDependencyEdges returns every edge in the graph of the given kind,
// sorted for deterministic output.
func (g *Graph) ListDependencyEdges(_ context.Context, kind EdgeKind) []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []Edge

	for _, edges := range g.out {
		for _, e := range edges {
			if e.Kind == kind {
				out = append(out, e)
			}
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].From != out[j].From {
			return out[i].From < out[j].From
		}

		return out[i].To < out[j].To
	})

	return out
}

// nodeIDs returns a sorted snapshot of every node id, for deterministic
// iteration order across the analytics below.
func (g *Graph) nodeIDs() []string {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids
}

// UpsertCoChangeEdge records a co-change edge in both directions between two
// file-source nodes, the coupling miner's output consumed by drift's graph-based signals.
// A pair that is already linked keeps its first weight.
func (g *Graph) UpsertCoChangeEdge(ctx context.Context, fileIDA, fileIDB string, weight float64) {
	g.UpsertEdge(ctx, Edge{From: fileIDA, To: fileIDB, Kind: EdgeCoChange, Weight: weight})
	g.UpsertEdge(ctx, Edge{From: fileIDB, To: fileIDA, Kind: EdgeCoChange, Weight: weight})
}

// TestedBy is one inferred test-to-target link, the first-class relation
// the test-intent linker writes and health/ask read.
type TestedBy struct {
	TargetFile  string
	TestFile    string
	IntentCount int
	Confidence  float64
	Method      string
}

// ReplaceTestedByForTestFile atomically replaces every tested_by row whose
// test_file is testFilePath.
func (g *Graph) ReplaceTestedByForTestFile(_ context.Context, testFilePath string, rows []TestedBy) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.testedBy == nil {
		g.testedBy = make(map[string][]TestedBy)
	}

	if len(rows) == 0 {
		delete(g.testedBy, testFilePath)

		return
	}

	g.testedBy[testFilePath] = append([]TestedBy(nil), rows...)
}

// ListTestedByForTargetFile returns every tested_by row pointing at
// targetFilePath, sorted by confidence descending then test_file ascending —
// health's test-gap signal and unified ask's test-guard candidate derivation.
func (g *Graph) ListTestedByForTargetFile(_ context.Context, targetFilePath string) []TestedBy {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []TestedBy

	for _, rows := range g.testedBy {
		for _, row := range rows {
			if row.TargetFile == targetFilePath {
				out = append(out, row)
			}
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}

		return out[i].TestFile < out[j].TestFile
	})

	return out
}

// ListCrossCommunityEdges returns every edge whose endpoints fall in
// different communities per the given assignment — drift's boundary
// violation signal.
func (g *Graph) ListCrossCommunityEdges(_ context.Context, communityOf map[string]int) []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []Edge

	for _, edges := range g.out {
		for _, e := range edges {
			if e.Kind == EdgeCoChange {
				continue
			}

			ca, aok := communityOf[e.From]
			cb, bok := communityOf[e.To]

			if aok && bok && ca != cb {
				out = append(out, e)
			}
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].From != out[j].From {
			return out[i].From < out[j].From
		}

		return out[i].To < out[j].To
	})

	return out
}
