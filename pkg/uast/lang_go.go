package uast

import (
	"strings"

	sitter "github.com/alexaandru/go-tree-sitter-bare"

	"github.com/aethercode/aether/pkg/identity"
)

type goExtractor struct{}

// ModuleRoot returns the directory containing filePath, which for Go acts
// as the package root imports within the same module resolve against.
func (goExtractor) ModuleRoot(filePath string) string {
	if i := strings.LastIndex(filePath, "/"); i >= 0 {
		return filePath[:i]
	}

	return ""
}

var goEnclosingKinds = map[string]bool{
	"function_declaration": true,
	"method_declaration":   true,
}

func (e goExtractor) Extract(res *ParseResult, root sitter.Node, source []byte, filePath string) {
	packageName := goPackageName(root, source)

	walk(root, func(n sitter.Node) {
		switch n.Type() {
		case "function_declaration":
			e.extractFunction(res, n, source, filePath, packageName)
		case "method_declaration":
			e.extractMethod(res, n, source, filePath, packageName)
		case "type_declaration":
			e.extractTypeDeclaration(res, n, source, filePath, packageName)
		case "import_spec":
			e.extractImport(res, n, source, filePath)
		case "call_expression":
			e.extractCall(res, root, n, source, filePath)
		}
	})
}

func goPackageName(root sitter.Node, source []byte) string {
	for _, child := range namedChildren(root) {
		if child.Type() == "package_clause" {
			for _, id := range namedChildren(child) {
				return nodeText(id, source)
			}
		}
	}

	return ""
}

func (goExtractor) extractFunction(res *ParseResult, n sitter.Node, source []byte, filePath, pkg string) {
	nameNode := n.ChildByFieldName("name")
	if nameNode.IsNull() {
		return
	}

	name := nodeText(nameNode, source)
	qualified := pkg + "." + name

	if strings.HasPrefix(name, "Test") && isTestFile(filePath) {
		appendTestIntent(res, filePath, "go", name, testIntentFromGoName(name), goPrecedingComment(n, source))
	}

	prefix := declarationPrefixUpTo(n, source, "body")
	sym := NewSymbol("go", filePath, KindFunction, name, qualified, prefix, nodeText(n, source), nodeRange(n))
	res.Symbols = append(res.Symbols, sym)
}

func (goExtractor) extractMethod(res *ParseResult, n sitter.Node, source []byte, filePath, pkg string) {
	nameNode := n.ChildByFieldName("name")
	recv := n.ChildByFieldName("receiver")

	if nameNode.IsNull() {
		return
	}

	name := nodeText(nameNode, source)
	recvType := goReceiverTypeName(recv, source)
	qualified := pkg + "." + recvType + "." + name

	prefix := declarationPrefixUpTo(n, source, "body")
	sym := NewSymbol("go", filePath, KindMethod, name, qualified, prefix, nodeText(n, source), nodeRange(n))
	res.Symbols = append(res.Symbols, sym)
}

// goReceiverTypeName extracts the bare type name from a method receiver
// parameter list such as "(s *Server)" or "(s Server)".
func goReceiverTypeName(recv sitter.Node, source []byte) string {
	if recv.IsNull() {
		return ""
	}

	for _, param := range namedChildren(recv) {
		typeNode := param.ChildByFieldName("type")
		if typeNode.IsNull() {
			continue
		}

		text := nodeText(typeNode, source)

		return strings.TrimPrefix(text, "*")
	}

	return ""
}

func (goExtractor) extractTypeDeclaration(res *ParseResult, n sitter.Node, source []byte, filePath, pkg string) {
	for _, spec := range namedChildren(n) {
		if spec.Type() != "type_spec" {
			continue
		}

		nameNode := spec.ChildByFieldName("name")
		typeNode := spec.ChildByFieldName("type")

		if nameNode.IsNull() || typeNode.IsNull() {
			continue
		}

		name := nodeText(nameNode, source)
		qualified := pkg + "." + name

		kind := KindTypeAlias

		switch typeNode.Type() {
		case "struct_type":
			kind = KindStruct
		case "interface_type":
			kind = KindInterface
		}

		prefix := "type " + name + " " + typeNode.Type()
		sym := NewSymbol("go", filePath, kind, name, qualified, prefix, nodeText(spec, source), nodeRange(spec))
		res.Symbols = append(res.Symbols, sym)
	}
}

func (goExtractor) extractImport(res *ParseResult, n sitter.Node, source []byte, filePath string) {
	pathNode := n.ChildByFieldName("path")
	if pathNode.IsNull() {
		return
	}

	importPath := strings.Trim(nodeText(pathNode, source), `"`)
	if importPath == "" {
		return
	}

	res.Edges = append(res.Edges, Edge{
		SourceID:            fileSourceID(filePath),
		TargetQualifiedName: importPath,
		Kind:                EdgeDependsOn,
		FilePath:            filePath,
	})
}

func (e goExtractor) extractCall(res *ParseResult, root, n sitter.Node, source []byte, filePath string) {
	fn := n.ChildByFieldName("function")
	if fn.IsNull() {
		return
	}

	callee := nodeText(fn, source)
	if callee == "" {
		return
	}

	enclosingFn := enclosing(root, n, goEnclosingKinds)
	if enclosingFn.IsNull() {
		return
	}

	var sourceID string

	pkg := goEnclosingPackage(root, source)
	sig := identity.SignatureFingerprint(declarationPrefixUpTo(enclosingFn, source, "body"))

	switch enclosingFn.Type() {
	case "method_declaration":
		nameNode := enclosingFn.ChildByFieldName("name")
		recv := enclosingFn.ChildByFieldName("receiver")
		qualified := pkg + "." + goReceiverTypeName(recv, source) + "." + nodeText(nameNode, source)
		sourceID = stableID("go", filePath, string(KindMethod), qualified, sig)
	default:
		nameNode := enclosingFn.ChildByFieldName("name")
		qualified := pkg + "." + nodeText(nameNode, source)
		sourceID = stableID("go", filePath, string(KindFunction), qualified, sig)
	}

	res.Edges = append(res.Edges, Edge{
		SourceID:            sourceID,
		TargetQualifiedName: callee,
		Kind:                EdgeCalls,
		FilePath:            filePath,
	})
}

func goEnclosingPackage(root sitter.Node, source []byte) string {
	return goPackageName(root, source)
}

// declarationPrefixUpTo returns the source text of n up to (but excluding)
// its first child with the given field name, used to fingerprint a
// declaration's signature without its body.
func declarationPrefixUpTo(n sitter.Node, source []byte, fieldName string) string {
	bodyNode := n.ChildByFieldName(fieldName)
	if bodyNode.IsNull() {
		return nodeText(n, source)
	}

	start, end := n.StartByte(), bodyNode.StartByte()
	if end > uint(len(source)) || start > end {
		return nodeText(n, source)
	}

	return string(source[start:end])
}

func isTestFile(filePath string) bool {
	return strings.HasSuffix(filePath, "_test.go") ||
		strings.HasSuffix(filePath, "_test.py") ||
		strings.Contains(filePath, "test_") ||
		strings.HasSuffix(filePath, ".test.ts") ||
		strings.HasSuffix(filePath, ".spec.ts")
}

// testIntentFromGoName turns a "TestFooHandlesBar" style name into a
// readable intent string by splitting on word boundaries.
func testIntentFromGoName(name string) string {
	trimmed := strings.TrimPrefix(name, "Test")

	return splitCamelCase(trimmed)
}

func splitCamelCase(s string) string {
	var b strings.Builder

	for i, r := range s {
		if i > 0 && r >= 'A' && r <= 'Z' {
			b.WriteByte(' ')
		}

		b.WriteRune(r)
	}

	return strings.ToLower(b.String())
}

// goPrecedingComment returns the text of the "//" line comment(s) directly
// above n in source, if any, used as a richer test-intent source than the
// declaration name alone. It walks backward from n's start line over
// source text rather than the tree, since doc comments are siblings in the
// CST rather than children of the declaration they document.
func goPrecedingComment(n sitter.Node, source []byte) string {
	start := n.StartPoint()
	lines := strings.Split(string(source[:minInt(n.StartByte(), uint(len(source)))]), "\n")

	if int(start.Row) > len(lines) {
		return ""
	}

	var comments []string

	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			if len(comments) > 0 {
				break
			}

			continue
		}

		if !strings.HasPrefix(line, "//") {
			break
		}

		comments = append([]string{strings.TrimSpace(strings.TrimPrefix(line, "//"))}, comments...)
	}

	return strings.TrimSpace(strings.Join(comments, " "))
}

func minInt(a, b uint) uint {
	if a < b {
		return a
	}

	return b
}

func appendTestIntent(res *ParseResult, filePath, language, testName, fallback, comment string) {
	intentText := fallback
	if comment != "" {
		intentText = comment
	}

	res.TestIntents = append(res.TestIntents, TestIntent{
		FilePath:   filePath,
		TestName:   testName,
		IntentText: intentText,
		Language:   language,
	})
}
