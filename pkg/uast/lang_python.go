package uast

import (
	"strings"

	sitter "github.com/alexaandru/go-tree-sitter-bare"
)

type pythonExtractor struct{}

// ModuleRoot returns the dotted package path containing filePath, derived
// from its directory (e.g. "pkg/sub/mod.py" -> "pkg.sub"), used to resolve
// relative imports.
func (pythonExtractor) ModuleRoot(filePath string) string {
	dir := filePath
	if i := strings.LastIndex(filePath, "/"); i >= 0 {
		dir = filePath[:i]
	} else {
		dir = ""
	}

	if dir == "" {
		return ""
	}

	return strings.ReplaceAll(dir, "/", ".")
}

var pythonEnclosingKinds = map[string]bool{
	"function_definition": true,
}

func (e pythonExtractor) Extract(res *ParseResult, root sitter.Node, source []byte, filePath string) {
	moduleRoot := e.ModuleRoot(filePath)

	walk(root, func(n sitter.Node) {
		switch n.Type() {
		case "function_definition":
			e.extractFunctionOrMethod(res, root, n, source, filePath)
		case "class_definition":
			e.extractClass(res, n, source, filePath)
		case "import_statement":
			e.extractImport(res, n, source, filePath)
		case "import_from_statement":
			e.extractImportFrom(res, n, source, filePath, moduleRoot)
		case "call":
			e.extractCall(res, root, n, source, filePath)
		}
	})
}

func (pythonExtractor) extractFunctionOrMethod(res *ParseResult, root, n sitter.Node, source []byte, filePath string) {
	nameNode := n.ChildByFieldName("name")
	if nameNode.IsNull() {
		return
	}

	name := nodeText(nameNode, source)
	enclosingClass := enclosing(root, n, map[string]bool{"class_definition": true})

	kind := KindFunction
	qualified := name

	if !enclosingClass.IsNull() && enclosingClass.StartByte() != n.StartByte() {
		classNameNode := enclosingClass.ChildByFieldName("name")
		qualified = nodeText(classNameNode, source) + "." + name
		kind = KindMethod
	}

	if strings.HasPrefix(name, "test_") && isTestFile(filePath) {
		appendTestIntent(res, filePath, "python", name, testIntentFromPythonName(name), pythonPrecedingDocstring(n, source))
	}

	prefix := declarationPrefixUpTo(n, source, "body")
	sym := NewSymbol("python", filePath, kind, name, qualified, prefix, nodeText(n, source), nodeRange(n))
	res.Symbols = append(res.Symbols, sym)
}

func (pythonExtractor) extractClass(res *ParseResult, n sitter.Node, source []byte, filePath string) {
	nameNode := n.ChildByFieldName("name")
	if nameNode.IsNull() {
		return
	}

	name := nodeText(nameNode, source)
	prefix := declarationPrefixUpTo(n, source, "body")
	sym := NewSymbol("python", filePath, KindClass, name, name, prefix, nodeText(n, source), nodeRange(n))
	res.Symbols = append(res.Symbols, sym)
}

// extractImport handles "import a.b.c" and "import a.b.c as d" forms,
// each producing a dependency edge from the file to the imported module.
func (pythonExtractor) extractImport(res *ParseResult, n sitter.Node, source []byte, filePath string) {
	for _, child := range namedChildren(n) {
		target := child
		if child.Type() == "aliased_import" {
			nameField := child.ChildByFieldName("name")
			if nameField.IsNull() {
				continue
			}

			target = nameField
		}

		modulePath := nodeText(target, source)
		if modulePath == "" {
			continue
		}

		res.Edges = append(res.Edges, Edge{
			SourceID:            fileSourceID(filePath),
			TargetQualifiedName: modulePath,
			Kind:                EdgeDependsOn,
			FilePath:            filePath,
		})
	}
}

// extractImportFrom handles "from X import Y" forms, including relative
// imports ("from . import Y", "from ..pkg import Y"). The resolved target
// is the dotted path of the source module joined with the imported name,
// with leading dots resolved against moduleRoot.
func (pythonExtractor) extractImportFrom(res *ParseResult, n sitter.Node, source []byte, filePath, moduleRoot string) {
	moduleNode := n.ChildByFieldName("module_name")

	base := resolvePythonRelativeModule(n, moduleNode, source, moduleRoot)

	for _, child := range namedChildren(n) {
		switch child.Type() {
		case "dotted_name":
			if child.StartByte() == moduleNode.StartByte() && child.EndByte() == moduleNode.EndByte() {
				continue
			}

			name := nodeText(child, source)
			target := joinPythonPath(base, name)
			res.Edges = append(res.Edges, Edge{
				SourceID:            fileSourceID(filePath),
				TargetQualifiedName: target,
				Kind:                EdgeDependsOn,
				FilePath:            filePath,
			})
		case "aliased_import":
			nameField := child.ChildByFieldName("name")
			if nameField.IsNull() {
				continue
			}

			name := nodeText(nameField, source)
			target := joinPythonPath(base, name)
			res.Edges = append(res.Edges, Edge{
				SourceID:            fileSourceID(filePath),
				TargetQualifiedName: target,
				Kind:                EdgeDependsOn,
				FilePath:            filePath,
			})
		case "wildcard_import":
			res.Edges = append(res.Edges, Edge{
				SourceID:            fileSourceID(filePath),
				TargetQualifiedName: base + ".*",
				Kind:                EdgeDependsOn,
				FilePath:            filePath,
			})
		}
	}
}

// resolvePythonRelativeModule resolves "from . import x" / "from .. import
// x" / "from .pkg import x" against moduleRoot, counting leading dots as
// levels to walk up from the current file's package.
func resolvePythonRelativeModule(n, moduleNode sitter.Node, source []byte, moduleRoot string) string {
	text := nodeText(n, source)

	dots := 0

	for _, r := range text[len("from"):] {
		if r == ' ' || r == '\t' {
			continue
		}

		if r == '.' {
			dots++

			continue
		}

		break
	}

	if dots == 0 {
		if moduleNode.IsNull() {
			return ""
		}

		return nodeText(moduleNode, source)
	}

	parts := strings.Split(moduleRoot, ".")
	if moduleRoot == "" {
		parts = nil
	}

	levels := dots - 1
	if levels > len(parts) {
		levels = len(parts)
	}

	base := strings.Join(parts[:len(parts)-levels], ".")

	if !moduleNode.IsNull() {
		rest := nodeText(moduleNode, source)
		rest = strings.TrimLeft(rest, ".")

		if rest != "" {
			return joinPythonPath(base, rest)
		}
	}

	return base
}

func joinPythonPath(base, name string) string {
	if base == "" {
		return name
	}

	return base + "." + name
}

func (pythonExtractor) extractCall(res *ParseResult, root, n sitter.Node, source []byte, filePath string) {
	fn := n.ChildByFieldName("function")
	if fn.IsNull() {
		return
	}

	callee := nodeText(fn, source)
	if callee == "" {
		return
	}

	enclosingFn := enclosing(root, n, pythonEnclosingKinds)
	if enclosingFn.IsNull() {
		return
	}

	nameNode := enclosingFn.ChildByFieldName("name")
	name := nodeText(nameNode, source)

	enclosingClass := enclosing(root, enclosingFn, map[string]bool{"class_definition": true})

	kind := KindFunction
	qualified := name

	if !enclosingClass.IsNull() {
		classNameNode := enclosingClass.ChildByFieldName("name")
		qualified = nodeText(classNameNode, source) + "." + name
		kind = KindMethod
	}

	sig := identitySignature(enclosingFn, source)
	sourceID := stableID("python", filePath, string(kind), qualified, sig)

	res.Edges = append(res.Edges, Edge{
		SourceID:            sourceID,
		TargetQualifiedName: callee,
		Kind:                EdgeCalls,
		FilePath:            filePath,
	})
}

func testIntentFromPythonName(name string) string {
	trimmed := strings.TrimPrefix(name, "test_")

	return strings.ReplaceAll(trimmed, "_", " ")
}

// pythonPrecedingDocstring returns the first statement of n's body if it is
// a string-literal expression statement (a Python docstring).
func pythonPrecedingDocstring(n sitter.Node, source []byte) string {
	body := n.ChildByFieldName("body")
	if body.IsNull() {
		return ""
	}

	children := namedChildren(body)
	if len(children) == 0 {
		return ""
	}

	first := children[0]
	if first.Type() != "expression_statement" {
		return ""
	}

	exprChildren := namedChildren(first)
	if len(exprChildren) == 0 || exprChildren[0].Type() != "string" {
		return ""
	}

	text := nodeText(exprChildren[0], source)
	text = strings.Trim(text, `"'`)

	return strings.TrimSpace(text)
}
