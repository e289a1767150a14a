// Package testintent implements the Test-Intent Linker:
// inferring which source files a test file guards, via naming conventions,
// import analysis, co-change coupling, and Rust same-file test modules,
// then atomically replacing the graph's tested_by rows for that test file.
package testintent

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aethercode/aether/pkg/graph"
	"github.com/aethercode/aether/pkg/identity"
	"github.com/aethercode/aether/pkg/store"
)

// Inference confidences per method.
const (
	namingConfidence   = 0.9
	importConfidence   = 0.8
	sameFileConfidence = 1.0
	couplingWeight     = 0.7
)

// couplingEdgeLimit bounds how many stored coupling edges one refresh pulls
// per test file.
const couplingEdgeLimit = 200

// Inference method names, ranked strongest to weakest for tie-breaking.
const (
	MethodSameFile = "same_file"
	MethodNaming   = "naming_convention"
	MethodImport   = "import_analysis"
	MethodCoupling = "coupling_cross_reference"
)

// InferredTarget is one tested_by candidate surviving dedup.
type InferredTarget struct {
	TargetFile  string  `json:"target_file"`
	TestFile    string  `json:"test_file"`
	IntentCount int     `json:"intent_count"`
	Confidence  float64 `json:"confidence"`
	Method      string  `json:"inference_method"`
}

// Guard is one test file guarding a target file, with its stated intents.
type Guard struct {
	TestFile   string   `json:"test_file"`
	Intents    []string `json:"intents"`
	Confidence float64  `json:"confidence"`
	Method     string   `json:"inference_method"`
}

// Linker infers tested_by links for a workspace.
type Linker struct {
	workspace string
	store     *store.Store
	graph     *graph.Graph
	log       *slog.Logger
}

// Config bundles a Linker's dependencies.
type Config struct {
	Workspace string
	Store     *store.Store
	Graph     *graph.Graph
	Log       *slog.Logger
}

// New constructs a Linker.
func New(cfg Config) *Linker {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	return &Linker{
		workspace: cfg.Workspace,
		store:     cfg.Store,
		graph:     cfg.Graph,
		log:       log,
	}
}

type candidate struct {
	confidence float64
	method     string
}

func methodRank(method string) int {
	switch method {
	case MethodSameFile:
		return 4
	case MethodNaming:
		return 3
	case MethodImport:
		return 2
	case MethodCoupling:
		return 1
	default:
		return 0
	}
}

// RefreshForTestFile recomputes the tested_by candidates for testFile and
// atomically replaces the graph rows keyed by it. A test file with no
// recorded intents clears its rows and links nothing.
func (l *Linker) RefreshForTestFile(ctx context.Context, testFile string) ([]InferredTarget, error) {
	testFile = identity.NormalizePath(testFile)
	if testFile == "" {
		return nil, nil
	}

	intents, err := l.store.ListTestIntentsForFile(ctx, testFile)
	if err != nil {
		return nil, fmt.Errorf("testintent: list intents: %w", err)
	}

	if len(intents) == 0 {
		if err := l.store.ReplaceTestedByForTestFile(ctx, testFile, nil); err != nil {
			return nil, fmt.Errorf("testintent: clear tested_by rows: %w", err)
		}

		l.graph.ReplaceTestedByForTestFile(ctx, testFile, nil)

		return nil, nil
	}

	candidates := make(map[string]candidate)

	for _, target := range l.namingCandidates(testFile) {
		addCandidate(candidates, target, candidate{confidence: namingConfidence, method: MethodNaming})
	}

	importTargets, err := l.importCandidates(ctx, testFile)
	if err != nil {
		return nil, err
	}

	if len(importTargets) > 0 {
		confidence := importConfidence / float64(len(importTargets))
		for _, target := range importTargets {
			addCandidate(candidates, target, candidate{confidence: confidence, method: MethodImport})
		}
	}

	couplingEdges, err := l.store.ListCouplingEdgesForFile(ctx, testFile, couplingEdgeLimit)
	if err != nil {
		return nil, fmt.Errorf("testintent: list coupling edges: %w", err)
	}

	for _, edge := range couplingEdges {
		target := edge.FileB
		if target == testFile {
			target = edge.FileA
		}

		if isProbablyTestFile(target) {
			continue
		}

		addCandidate(candidates, target, candidate{
			confidence: clamp01(clamp01(edge.FusedScore) * couplingWeight),
			method:     MethodCoupling,
		})
	}

	if l.sameFileRustTestCandidate(testFile) {
		addCandidate(candidates, testFile, candidate{confidence: sameFileConfidence, method: MethodSameFile})
	}

	inferred := make([]InferredTarget, 0, len(candidates))
	for target, c := range candidates {
		inferred = append(inferred, InferredTarget{
			TargetFile:  target,
			TestFile:    testFile,
			IntentCount: len(intents),
			Confidence:  c.confidence,
			Method:      c.method,
		})
	}

	sort.Slice(inferred, func(i, j int) bool {
		if inferred[i].Confidence != inferred[j].Confidence {
			return inferred[i].Confidence > inferred[j].Confidence
		}

		return inferred[i].TargetFile < inferred[j].TargetFile
	})

	durable := make([]store.TestedByRow, len(inferred))
	rows := make([]graph.TestedBy, len(inferred))

	for i, entry := range inferred {
		durable[i] = store.TestedByRow{
			TargetFile:  entry.TargetFile,
			TestFile:    entry.TestFile,
			IntentCount: entry.IntentCount,
			Confidence:  entry.Confidence,
			Method:      entry.Method,
		}
		rows[i] = graph.TestedBy{
			TargetFile:  entry.TargetFile,
			TestFile:    entry.TestFile,
			IntentCount: entry.IntentCount,
			Confidence:  entry.Confidence,
			Method:      entry.Method,
		}
	}

	// Record Store first (durable truth), graph projection second.
	if err := l.store.ReplaceTestedByForTestFile(ctx, testFile, durable); err != nil {
		return nil, fmt.Errorf("testintent: persist tested_by rows: %w", err)
	}

	l.graph.ReplaceTestedByForTestFile(ctx, testFile, rows)

	return inferred, nil
}

// ListGuardsForTargetFile returns the test files guarding targetFile with
// their deduplicated intent texts, strongest-confidence first.
func (l *Linker) ListGuardsForTargetFile(ctx context.Context, targetFile string) ([]Guard, error) {
	targetFile = identity.NormalizePath(targetFile)
	if targetFile == "" {
		return nil, nil
	}

	rows := l.graph.ListTestedByForTargetFile(ctx, targetFile)

	var guards []Guard

	for _, row := range rows {
		intents, err := l.store.ListTestIntentsForFile(ctx, row.TestFile)
		if err != nil {
			return nil, fmt.Errorf("testintent: list intents for guard: %w", err)
		}

		if len(intents) == 0 {
			continue
		}

		seen := make(map[string]bool, len(intents))

		var texts []string

		for _, ti := range intents {
			if seen[ti.IntentText] {
				continue
			}

			seen[ti.IntentText] = true

			texts = append(texts, ti.IntentText)
		}

		sort.Strings(texts)

		guards = append(guards, Guard{
			TestFile:   row.TestFile,
			Intents:    texts,
			Confidence: clamp01(row.Confidence),
			Method:     row.Method,
		})
	}

	sort.Slice(guards, func(i, j int) bool {
		if guards[i].Confidence != guards[j].Confidence {
			return guards[i].Confidence > guards[j].Confidence
		}

		return guards[i].TestFile < guards[j].TestFile
	})

	return guards, nil
}

// namingCandidates applies the naming-convention rules: strip `.test.` /
// `.spec.` infixes, collapse `__tests__` directories, and map
// `tests/<name>_test.<ext>` into `src/<name>.<ext>`. Every candidate must
// exist on disk.
func (l *Linker) namingCandidates(testFile string) []string {
	seen := make(map[string]bool)
	fileName := path.Base(testFile)

	for _, pattern := range []string{".test.", ".spec."} {
		if strings.Contains(fileName, pattern) {
			candidate := strings.Replace(testFile, pattern, ".", 1)
			if existing, ok := l.existingRepoFile(candidate); ok {
				seen[existing] = true
			}
		}
	}

	if strings.Contains(testFile, "/__tests__/") {
		candidate := strings.ReplaceAll(testFile, "/__tests__/", "/")
		if existing, ok := l.existingRepoFile(candidate); ok {
			seen[existing] = true
		}
	}

	if root, tail, ok := splitTestsDir(testFile); ok {
		ext := strings.TrimPrefix(path.Ext(tail), ".")
		stem := strings.TrimSuffix(path.Base(tail), path.Ext(tail))
		base := stem

		switch {
		case strings.HasSuffix(stem, "_tests"):
			base = strings.TrimSuffix(stem, "_tests")
		case strings.HasSuffix(stem, "_test"):
			base = strings.TrimSuffix(stem, "_test")
		case strings.HasPrefix(stem, "test_"):
			base = strings.TrimPrefix(stem, "test_")
		}

		if strings.TrimSpace(base) != "" && strings.TrimSpace(ext) != "" {
			prefix := "src"
			if root != "" {
				prefix = root + "/src"
			}

			candidate := prefix + "/" + base + "." + ext
			if existing, ok := l.existingRepoFile(candidate); ok {
				seen[existing] = true
			}
		}
	}

	out := make([]string, 0, len(seen))
	for target := range seen {
		out = append(out, target)
	}

	sort.Strings(out)

	return out
}

// importCandidates resolves each of the test file's import edges to a
// concrete, existing, non-test workspace file.
func (l *Linker) importCandidates(ctx context.Context, testFile string) ([]string, error) {
	deps, err := l.store.GetDependencies(ctx, identity.FileSourceID(testFile))
	if err != nil {
		return nil, fmt.Errorf("testintent: get dependencies: %w", err)
	}

	seen := make(map[string]bool)

	for _, dep := range deps {
		for _, target := range l.resolveImportTarget(testFile, dep.TargetQualifiedName) {
			if isProbablyTestFile(target) {
				continue
			}

			seen[target] = true
		}
	}

	out := make([]string, 0, len(seen))
	for target := range seen {
		out = append(out, target)
	}

	sort.Strings(out)

	return out, nil
}

// resolveImportTarget maps one import string to workspace files, handling
// relative paths, repo-absolute paths, Rust `crate::`/`self::`/`super::`
// module paths, dotted Python modules, and bare TS/JS package-style paths.
func (l *Linker) resolveImportTarget(testFile, importPath string) []string {
	importPath = strings.Trim(strings.TrimSpace(importPath), `"'`)
	if importPath == "" {
		return nil
	}

	seen := make(map[string]bool)
	ext := strings.TrimPrefix(path.Ext(testFile), ".")

	var extCandidates []string

	switch ext {
	case "rs":
		extCandidates = []string{"rs"}
	case "py", "pyi":
		extCandidates = []string{"py", "pyi"}
	default:
		extCandidates = []string{"ts", "tsx", "js", "jsx"}
	}

	if strings.HasPrefix(importPath, "./") || strings.HasPrefix(importPath, "../") {
		base := path.Join(path.Dir(testFile), importPath)
		l.addExistingPathCandidates(base, extCandidates, seen)
	}

	if strings.HasPrefix(importPath, "/") {
		if existing, ok := l.existingRepoFile(strings.TrimPrefix(importPath, "/")); ok {
			seen[existing] = true
		}
	}

	if hasRustPrefix(importPath) {
		module := strings.TrimPrefix(importPath, "crate::")
		module = strings.TrimPrefix(module, "self::")
		module = strings.TrimPrefix(module, "super::")
		module = strings.ReplaceAll(module, "::", "/")

		if module != "" {
			srcRoot := "src"
			if root := inferProjectRoot(testFile); root != "" {
				srcRoot = root + "/src"
			}

			l.addExistingPathCandidates(path.Join(srcRoot, module),
				[]string{"rs", "ts", "tsx", "js", "jsx", "py", "pyi"}, seen)
		}
	}

	if strings.Contains(importPath, ".") && !strings.Contains(importPath, "/") {
		l.addExistingPathCandidates(strings.ReplaceAll(importPath, ".", "/"), []string{"py", "pyi"}, seen)
	}

	if !strings.HasPrefix(importPath, ".") && !strings.Contains(importPath, "::") {
		l.addExistingPathCandidates(importPath,
			[]string{"rs", "ts", "tsx", "js", "jsx", "py", "pyi"}, seen)
	}

	out := make([]string, 0, len(seen))
	for target := range seen {
		out = append(out, target)
	}

	sort.Strings(out)

	return out
}

// addExistingPathCandidates tries base as a file, base.<ext>, base/index.<ext>,
// base/mod.<ext>, and base/__init__.py, inserting every hit.
func (l *Linker) addExistingPathCandidates(base string, extensions []string, out map[string]bool) {
	if existing, ok := l.existingRepoFile(base); ok {
		out[existing] = true

		return
	}

	for _, ext := range extensions {
		if existing, ok := l.existingRepoFile(base + "." + ext); ok {
			out[existing] = true
		}
	}

	for _, ext := range extensions {
		if existing, ok := l.existingRepoFile(path.Join(base, "index."+ext)); ok {
			out[existing] = true
		}

		if existing, ok := l.existingRepoFile(path.Join(base, "mod."+ext)); ok {
			out[existing] = true
		}
	}

	if existing, ok := l.existingRepoFile(path.Join(base, "__init__.py")); ok {
		out[existing] = true
	}
}

// sameFileRustTestCandidate reports whether testFile is a Rust file whose
// content contains an inline `#[cfg(test)]` module.
func (l *Linker) sameFileRustTestCandidate(testFile string) bool {
	if !strings.HasSuffix(testFile, ".rs") {
		return false
	}

	source, err := os.ReadFile(filepath.Join(l.workspace, filepath.FromSlash(testFile)))
	if err != nil {
		return false
	}

	return strings.Contains(string(source), "#[cfg(test)]")
}

// existingRepoFile normalizes candidate and confirms it is a regular file
// under the workspace root.
func (l *Linker) existingRepoFile(candidate string) (string, bool) {
	normalized := identity.NormalizePath(candidate)
	if normalized == "" || strings.HasPrefix(normalized, "..") {
		return "", false
	}

	info, err := os.Stat(filepath.Join(l.workspace, filepath.FromSlash(normalized)))
	if err != nil || info.IsDir() {
		return "", false
	}

	return normalized, true
}

// addCandidate keeps the strongest candidate per target file; confidence
// ties break by inference-method rank (same_file > naming_convention >
// import_analysis > coupling_cross_reference).
func addCandidate(candidates map[string]candidate, targetFile string, c candidate) {
	targetFile = identity.NormalizePath(targetFile)
	if targetFile == "" {
		return
	}

	existing, ok := candidates[targetFile]
	if ok && (existing.confidence > c.confidence ||
		(existing.confidence == c.confidence && methodRank(existing.method) >= methodRank(c.method))) {
		return
	}

	candidates[targetFile] = c
}

func hasRustPrefix(importPath string) bool {
	return strings.HasPrefix(importPath, "crate::") ||
		strings.HasPrefix(importPath, "self::") ||
		strings.HasPrefix(importPath, "super::")
}

// inferProjectRoot returns the path prefix before a `tests/` or `src/`
// directory, so multi-crate repos map `backend/tests/x_test.rs` to
// `backend/src/x.rs`.
func inferProjectRoot(filePath string) string {
	if root, _, ok := splitTestsDir(filePath); ok {
		return root
	}

	if root, _, ok := strings.Cut(filePath, "/src/"); ok {
		return root
	}

	return ""
}

// splitTestsDir splits "a/b/tests/x.rs" into ("a/b", "x.rs"); a leading
// "tests/" yields an empty root.
func splitTestsDir(filePath string) (root, tail string, ok bool) {
	if rest, found := strings.CutPrefix(filePath, "tests/"); found {
		return "", rest, true
	}

	if prefix, rest, found := strings.Cut(filePath, "/tests/"); found {
		return prefix, rest, true
	}

	return "", "", false
}

// isProbablyTestFile filters candidates that look like tests themselves.
func isProbablyTestFile(filePath string) bool {
	normalized := identity.NormalizePath(filePath)
	if strings.Contains(normalized, "/tests/") || strings.Contains(normalized, "/__tests__/") ||
		strings.HasPrefix(normalized, "tests/") || strings.HasPrefix(normalized, "__tests__/") {
		return true
	}

	fileName := strings.ToLower(path.Base(normalized))

	return strings.HasPrefix(fileName, "test_") ||
		strings.HasSuffix(fileName, "_test.rs") ||
		strings.HasSuffix(fileName, "_tests.rs") ||
		strings.HasSuffix(fileName, "_test.go") ||
		strings.Contains(fileName, ".test.") ||
		strings.Contains(fileName, ".spec.")
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
