package uast

import (
	"strings"

	sitter "github.com/alexaandru/go-tree-sitter-bare"
)

type rustExtractor struct{}

// ModuleRoot returns the crate-relative module path for filePath, derived
// from its directory with "src" stripped (e.g. "src/net/conn.rs" ->
// "net"), used to resolve "crate::"/"self::"/"super::" use paths.
func (rustExtractor) ModuleRoot(filePath string) string {
	dir := filePath
	if i := strings.LastIndex(filePath, "/"); i >= 0 {
		dir = filePath[:i]
	} else {
		dir = ""
	}

	dir = strings.TrimPrefix(dir, "src/")
	dir = strings.TrimPrefix(dir, "src")

	return strings.ReplaceAll(strings.Trim(dir, "/"), "/", "::")
}

var rustEnclosingKinds = map[string]bool{
	"function_item": true,
}

func (e rustExtractor) Extract(res *ParseResult, root sitter.Node, source []byte, filePath string) {
	walk(root, func(n sitter.Node) {
		switch n.Type() {
		case "function_item":
			e.extractFunction(res, root, n, source, filePath)
		case "struct_item":
			e.extractTyped(res, n, source, filePath, KindStruct)
		case "enum_item":
			e.extractTyped(res, n, source, filePath, KindEnum)
		case "trait_item":
			e.extractTyped(res, n, source, filePath, KindTrait)
		case "type_item":
			e.extractTyped(res, n, source, filePath, KindTypeAlias)
		case "use_declaration":
			e.extractUse(res, n, source, filePath)
		case "call_expression":
			e.extractCall(res, root, n, source, filePath)
		}
	})
}

func (rustExtractor) extractFunction(res *ParseResult, root, n sitter.Node, source []byte, filePath string) {
	nameNode := n.ChildByFieldName("name")
	if nameNode.IsNull() {
		return
	}

	name := nodeText(nameNode, source)

	implBlock := enclosing(root, n, map[string]bool{"impl_item": true})

	kind := KindFunction
	qualified := name

	if !implBlock.IsNull() {
		typeNode := implBlock.ChildByFieldName("type")
		if !typeNode.IsNull() {
			qualified = nodeText(typeNode, source) + "::" + name
			kind = KindMethod
		}
	}

	if strings.HasPrefix(name, "test_") || rustHasTestAttribute(n, source) {
		if isTestFile(filePath) || rustHasTestAttribute(n, source) {
			appendTestIntent(res, filePath, "rust", name, strings.ReplaceAll(strings.TrimPrefix(name, "test_"), "_", " "), "")
		}
	}

	prefix := declarationPrefixUpTo(n, source, "body")
	sym := NewSymbol("rust", filePath, kind, name, qualified, prefix, nodeText(n, source), nodeRange(n))
	res.Symbols = append(res.Symbols, sym)
}

// rustHasTestAttribute reports whether a #[test] (or #[tokio::test],
// #[test_case]) attribute appears on the source line(s) directly above n.
func rustHasTestAttribute(n sitter.Node, source []byte) bool {
	start := int(n.StartPoint().Row)
	lines := strings.Split(string(source), "\n")

	for i := start - 1; i >= 0 && i >= start-5; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "#[") && strings.Contains(line, "test") {
			return true
		}

		if !strings.HasPrefix(line, "#[") {
			break
		}
	}

	return false
}

func (rustExtractor) extractTyped(res *ParseResult, n sitter.Node, source []byte, filePath string, kind SymbolKind) {
	nameNode := n.ChildByFieldName("name")
	if nameNode.IsNull() {
		return
	}

	name := nodeText(nameNode, source)
	prefix := declarationPrefixUpTo(n, source, "body")
	sym := NewSymbol("rust", filePath, kind, name, name, prefix, nodeText(n, source), nodeRange(n))
	res.Symbols = append(res.Symbols, sym)
}

// extractUse flattens a use_declaration's tree (which may nest
// scoped_identifier/use_list/use_as_clause) into one dependency edge per
// leaf path.
func (rustExtractor) extractUse(res *ParseResult, n sitter.Node, source []byte, filePath string) {
	argument := n.ChildByFieldName("argument")
	if argument.IsNull() {
		return
	}

	for _, path := range flattenRustUsePaths(argument, source, "") {
		res.Edges = append(res.Edges, Edge{
			SourceID:            fileSourceID(filePath),
			TargetQualifiedName: path,
			Kind:                EdgeDependsOn,
			FilePath:            filePath,
		})
	}
}

func flattenRustUsePaths(n sitter.Node, source []byte, prefix string) []string {
	switch n.Type() {
	case "use_list":
		var out []string

		for _, child := range namedChildren(n) {
			out = append(out, flattenRustUsePaths(child, source, prefix)...)
		}

		return out
	case "scoped_use_list":
		pathNode := n.ChildByFieldName("path")
		listNode := n.ChildByFieldName("list")

		newPrefix := prefix
		if !pathNode.IsNull() {
			newPrefix = joinRustPath(prefix, nodeText(pathNode, source))
		}

		if listNode.IsNull() {
			return nil
		}

		return flattenRustUsePaths(listNode, source, newPrefix)
	case "use_as_clause":
		pathNode := n.ChildByFieldName("path")
		if pathNode.IsNull() {
			return nil
		}

		return []string{joinRustPath(prefix, nodeText(pathNode, source))}
	case "scoped_identifier":
		return []string{joinRustPath(prefix, nodeText(n, source))}
	default:
		return []string{joinRustPath(prefix, nodeText(n, source))}
	}
}

func joinRustPath(prefix, name string) string {
	if prefix == "" {
		return name
	}

	return prefix + "::" + name
}

func (rustExtractor) extractCall(res *ParseResult, root, n sitter.Node, source []byte, filePath string) {
	fn := n.ChildByFieldName("function")
	if fn.IsNull() {
		return
	}

	callee := nodeText(fn, source)
	if callee == "" {
		return
	}

	enclosingFn := enclosing(root, n, rustEnclosingKinds)
	if enclosingFn.IsNull() {
		return
	}

	nameNode := enclosingFn.ChildByFieldName("name")
	name := nodeText(nameNode, source)

	implBlock := enclosing(root, enclosingFn, map[string]bool{"impl_item": true})

	kind := KindFunction
	qualified := name

	if !implBlock.IsNull() {
		typeNode := implBlock.ChildByFieldName("type")
		if !typeNode.IsNull() {
			qualified = nodeText(typeNode, source) + "::" + name
			kind = KindMethod
		}
	}

	sig := identitySignature(enclosingFn, source)
	sourceID := stableID("rust", filePath, string(kind), qualified, sig)

	res.Edges = append(res.Edges, Edge{
		SourceID:            sourceID,
		TargetQualifiedName: callee,
		Kind:                EdgeCalls,
		FilePath:            filePath,
	})
}

// UsePathAtCursor resolves the `use` path segment under the cursor for
// Rust hover/navigation support: the path's prefix (crate/self/super, or
// "" for a plain external path), its dot-free segments, and the index of
// the segment containing column within line.
type UsePathAtCursor struct {
	Prefix   string
	Segments []string
	Index    int
}

// ResolveRustUsePath walks root looking for the use_declaration spanning
// (line, column) and returns its path segments split on "::", or false if
// the cursor isn't inside a use declaration.
func ResolveRustUsePath(root sitter.Node, source []byte, line, column uint) (UsePathAtCursor, bool) {
	var found sitter.Node

	walk(root, func(n sitter.Node) {
		if n.Type() != "use_declaration" {
			return
		}

		start, end := n.StartPoint(), n.EndPoint()
		if uint(start.Row)+1 > line || uint(end.Row)+1 < line {
			return
		}

		found = n
	})

	if found.IsNull() {
		return UsePathAtCursor{}, false
	}

	text := nodeText(found, source)
	segments := strings.Split(strings.TrimSuffix(strings.TrimPrefix(text, "use "), ";"), "::")

	prefix := ""

	if len(segments) > 0 {
		switch segments[0] {
		case "crate", "self", "super":
			prefix = segments[0]
			segments = segments[1:]
		}
	}

	idx := 0
	if len(segments) > 0 {
		idx = len(segments) - 1
	}

	return UsePathAtCursor{Prefix: prefix, Segments: segments, Index: idx}, true
}
