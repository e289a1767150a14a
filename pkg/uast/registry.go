package uast

import (
	sitter "github.com/alexaandru/go-tree-sitter-bare"

	"github.com/aethercode/aether/pkg/identity"
)

// Extractor is the capability set a language contributes to the parser.
// The parser itself is polymorphic over this interface; adding a language
// is just registering a new Extractor under a new key in extractorRegistry.
type Extractor interface {
	// ModuleRoot returns the package/module-root path for filePath, used to
	// resolve relative imports (Python) and crate-relative paths (Rust).
	ModuleRoot(filePath string) string

	// Extract walks root (the language's parse tree root) and appends
	// symbols, edges, and test intents found in it to res.
	Extract(res *ParseResult, root sitter.Node, source []byte, filePath string)
}

var extractorRegistry = map[string]Extractor{
	"go":         goExtractor{},
	"python":     pythonExtractor{},
	"rust":       rustExtractor{},
	"typescript": typescriptExtractor{},
}

// ExtractorFor returns the registered Extractor for a language name, or nil
// if the language has no extractor registered.
func ExtractorFor(language string) Extractor {
	return extractorRegistry[language]
}

// nodeText returns the source slice spanned by n, or "" if the span is out
// of bounds (defensive against malformed trees).
func nodeText(n sitter.Node, source []byte) string {
	start, end := n.StartByte(), n.EndByte()
	if end > uint(len(source)) || start > end {
		return ""
	}

	return string(source[start:end])
}

func nodeRange(n sitter.Node) Range {
	start, end := n.StartPoint(), n.EndPoint()

	return Range{
		StartLine: uint(start.Row) + 1,
		StartCol:  uint(start.Column) + 1,
		EndLine:   uint(end.Row) + 1,
		EndCol:    uint(end.Column) + 1,
	}
}

// namedChildren returns all named children of n as a slice, for callers
// that need random access or multiple passes.
func namedChildren(n sitter.Node) []sitter.Node {
	count := n.NamedChildCount()
	out := make([]sitter.Node, 0, count)

	for i := range count {
		out = append(out, n.NamedChild(i))
	}

	return out
}

// walk calls fn for every node in the subtree rooted at n, pre-order,
// including n itself.
func walk(n sitter.Node, fn func(sitter.Node)) {
	if n.IsNull() {
		return
	}

	fn(n)

	for _, child := range namedChildren(n) {
		walk(child, fn)
	}
}

// enclosing returns the smallest named ancestor of target (inclusive) whose
// Type() is in kinds, searching the subtree rooted at root. Returns a null
// node if none matches.
func enclosing(root, target sitter.Node, kinds map[string]bool) sitter.Node {
	var best sitter.Node

	var visit func(n sitter.Node, withinTargetPath bool) bool

	visit = func(n sitter.Node, _ bool) bool {
		if n.StartByte() > target.StartByte() || n.EndByte() < target.EndByte() {
			return false
		}

		if kinds[n.Type()] {
			best = n
		}

		for _, child := range namedChildren(n) {
			visit(child, true)
		}

		return true
	}

	visit(root, false)

	return best
}

// identitySignature computes the signature fingerprint of a declaration
// node, using its full text (extractors that need the prefix-before-body
// form compute it separately and call identity.SignatureFingerprint
// directly).
func identitySignature(n sitter.Node, source []byte) string {
	return identity.SignatureFingerprint(nodeText(n, source))
}

// stableID is a thin forwarder to identity.StableSymbolID, kept local so
// extractor files only need to import this package's helpers.
func stableID(language, filePath, kind, qualifiedName, signatureFingerprint string) string {
	return identity.StableSymbolID(language, filePath, kind, qualifiedName, signatureFingerprint)
}

// fileSourceID is a thin forwarder to identity.FileSourceID.
func fileSourceID(filePath string) string {
	return identity.FileSourceID(filePath)
}
