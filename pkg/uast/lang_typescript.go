package uast

import (
	"strings"

	sitter "github.com/alexaandru/go-tree-sitter-bare"
)

type typescriptExtractor struct{}

// ModuleRoot returns the directory containing filePath, used as the base
// for resolving bare relative imports ("./foo", "../bar").
func (typescriptExtractor) ModuleRoot(filePath string) string {
	if i := strings.LastIndex(filePath, "/"); i >= 0 {
		return filePath[:i]
	}

	return ""
}

var typescriptEnclosingKinds = map[string]bool{
	"function_declaration": true,
	"method_definition":    true,
}

func (e typescriptExtractor) Extract(res *ParseResult, root sitter.Node, source []byte, filePath string) {
	walk(root, func(n sitter.Node) {
		switch n.Type() {
		case "function_declaration":
			e.extractFunction(res, n, source, filePath)
		case "class_declaration":
			e.extractClass(res, n, source, filePath)
		case "interface_declaration":
			e.extractInterface(res, n, source, filePath)
		case "method_definition":
			e.extractMethod(res, root, n, source, filePath)
		case "import_statement":
			e.extractImport(res, n, source, filePath)
		case "call_expression":
			e.extractCall(res, root, n, source, filePath)
		}
	})
}

func (typescriptExtractor) extractFunction(res *ParseResult, n sitter.Node, source []byte, filePath string) {
	nameNode := n.ChildByFieldName("name")
	if nameNode.IsNull() {
		return
	}

	name := nodeText(nameNode, source)

	if (strings.HasPrefix(name, "test") || strings.HasPrefix(name, "it")) && isTestFile(filePath) {
		appendTestIntent(res, filePath, "typescript", name, splitCamelCase(name), "")
	}

	prefix := declarationPrefixUpTo(n, source, "body")
	sym := NewSymbol("typescript", filePath, KindFunction, name, name, prefix, nodeText(n, source), nodeRange(n))
	res.Symbols = append(res.Symbols, sym)
}

func (typescriptExtractor) extractClass(res *ParseResult, n sitter.Node, source []byte, filePath string) {
	nameNode := n.ChildByFieldName("name")
	if nameNode.IsNull() {
		return
	}

	name := nodeText(nameNode, source)
	prefix := declarationPrefixUpTo(n, source, "body")
	sym := NewSymbol("typescript", filePath, KindClass, name, name, prefix, nodeText(n, source), nodeRange(n))
	res.Symbols = append(res.Symbols, sym)
}

func (typescriptExtractor) extractInterface(res *ParseResult, n sitter.Node, source []byte, filePath string) {
	nameNode := n.ChildByFieldName("name")
	if nameNode.IsNull() {
		return
	}

	name := nodeText(nameNode, source)
	prefix := declarationPrefixUpTo(n, source, "body")
	sym := NewSymbol("typescript", filePath, KindInterface, name, name, prefix, nodeText(n, source), nodeRange(n))
	res.Symbols = append(res.Symbols, sym)
}

func (typescriptExtractor) extractMethod(res *ParseResult, root, n sitter.Node, source []byte, filePath string) {
	nameNode := n.ChildByFieldName("name")
	if nameNode.IsNull() {
		return
	}

	name := nodeText(nameNode, source)

	enclosingClass := enclosing(root, n, map[string]bool{"class_declaration": true})

	qualified := name

	if !enclosingClass.IsNull() {
		classNameNode := enclosingClass.ChildByFieldName("name")
		qualified = nodeText(classNameNode, source) + "." + name
	}

	prefix := declarationPrefixUpTo(n, source, "body")
	sym := NewSymbol("typescript", filePath, KindMethod, name, qualified, prefix, nodeText(n, source), nodeRange(n))
	res.Symbols = append(res.Symbols, sym)
}

// extractImport handles bare TypeScript import forms: "import x from 'm'",
// "import {a, b} from 'm'", and "import 'm'" (side-effect only).
func (typescriptExtractor) extractImport(res *ParseResult, n sitter.Node, source []byte, filePath string) {
	sourceNode := n.ChildByFieldName("source")
	if sourceNode.IsNull() {
		return
	}

	modulePath := strings.Trim(nodeText(sourceNode, source), `'"`)
	if modulePath == "" {
		return
	}

	res.Edges = append(res.Edges, Edge{
		SourceID:            fileSourceID(filePath),
		TargetQualifiedName: modulePath,
		Kind:                EdgeDependsOn,
		FilePath:            filePath,
	})
}

func (typescriptExtractor) extractCall(res *ParseResult, root, n sitter.Node, source []byte, filePath string) {
	fn := n.ChildByFieldName("function")
	if fn.IsNull() {
		return
	}

	callee := nodeText(fn, source)
	if callee == "" {
		return
	}

	enclosingFn := enclosing(root, n, typescriptEnclosingKinds)
	if enclosingFn.IsNull() {
		return
	}

	nameNode := enclosingFn.ChildByFieldName("name")
	name := nodeText(nameNode, source)

	kind := KindFunction
	qualified := name

	if enclosingFn.Type() == "method_definition" {
		kind = KindMethod

		enclosingClass := enclosing(root, enclosingFn, map[string]bool{"class_declaration": true})
		if !enclosingClass.IsNull() {
			classNameNode := enclosingClass.ChildByFieldName("name")
			qualified = nodeText(classNameNode, source) + "." + name
		}
	}

	sig := identitySignature(enclosingFn, source)
	sourceID := stableID("typescript", filePath, string(kind), qualified, sig)

	res.Edges = append(res.Edges, Edge{
		SourceID:            sourceID,
		TargetQualifiedName: callee,
		Kind:                EdgeCalls,
		FilePath:            filePath,
	})
}
