package uast

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	sitter "github.com/alexaandru/go-tree-sitter-bare"

	"github.com/aethercode/aether/pkg/uast/pkg/node"
)

// Sentinel errors for parser operations.
var (
	errNoFileExtension = errors.New("no file extension found")
	errNoParser        = errors.New("no parser found for extension")
	errNoRootNode      = errors.New("parser produced no root node")
)

// Parser parses source for any of the four registered languages (go,
// python, rust, typescript), each backed by a pooled tree-sitter parser
// and a registered Extractor (registry.go).
type Parser struct {
	parserPools sync.Map // language name -> *sync.Pool of *sitter.Parser
}

// NewParser creates a Parser ready to parse any registered language.
func NewParser() *Parser {
	return &Parser{}
}

// IsSupported reports whether filename's extension maps to a registered
// language.
func (p *Parser) IsSupported(filename string) bool {
	return p.GetLanguage(filename) != ""
}

// GetLanguage returns the language name for filename, or "" if unsupported.
func (p *Parser) GetLanguage(filename string) string {
	ext := strings.ToLower(getFileExtension(filename))
	if ext == "" {
		return ""
	}

	return LanguageForExtension(ext)
}

func (p *Parser) poolFor(language string) *sync.Pool {
	if existing, ok := p.parserPools.Load(language); ok {
		pool, _ := existing.(*sync.Pool)

		return pool
	}

	pool := &sync.Pool{
		New: func() any {
			lang := GetLanguage(language)
			if lang == nil {
				return nil
			}

			tsParser := sitter.NewParser()
			tsParser.SetLanguage(lang)

			return tsParser
		},
	}

	actual, _ := p.parserPools.LoadOrStore(language, pool)
	pool, _ = actual.(*sync.Pool)

	return pool
}

// parseTree parses source with the tree-sitter grammar for language and
// hands the resulting tree and root to fn, returning fn's tree before
// releasing the tree back to tree-sitter. The pooled *sitter.Parser is
// always returned to its pool.
func (p *Parser) parseTree(ctx context.Context, language string, source []byte, fn func(root sitter.Node, tree *sitter.Tree) error) error {
	pool := p.poolFor(language)

	pooled := pool.Get()
	if pooled == nil {
		return fmt.Errorf("%w %s", errNoParser, language)
	}

	tsParser, ok := pooled.(*sitter.Parser)
	if !ok || tsParser == nil {
		return fmt.Errorf("%w %s", errNoParser, language)
	}

	defer pool.Put(tsParser)

	tree, err := tsParser.ParseString(ctx, nil, source)
	if err != nil {
		return fmt.Errorf("parse %s: %w", language, err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.IsNull() {
		return errNoRootNode
	}

	return fn(root, tree)
}

// Parse builds the generic UAST tree for filename's content. The tree
// mirrors the tree-sitter CST one-to-one: each named CST node becomes a
// node.Node with Type set to the grammar node type and Token set to its
// source text for leaf (childless) nodes.
func (p *Parser) Parse(ctx context.Context, filename string, content []byte) (*node.Node, error) {
	ext := strings.ToLower(getFileExtension(filename))
	if ext == "" {
		return nil, fmt.Errorf("%w for %s", errNoFileExtension, filename)
	}

	language := LanguageForExtension(ext)
	if language == "" {
		return nil, fmt.Errorf("%w %s", errNoParser, ext)
	}

	var result *node.Node

	err := p.parseTree(ctx, language, content, func(root sitter.Node, _ *sitter.Tree) error {
		result = mirrorNode(root, content)

		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// mirrorNode converts a tree-sitter node and its named children into the
// canonical node.Node tree, recursively.
func mirrorNode(n sitter.Node, source []byte) *node.Node {
	rng := nodeRange(n)

	children := namedChildren(n)

	out := &node.Node{
		Type: node.Type(n.Type()),
		Pos: &node.Positions{
			StartLine: rng.StartLine,
			StartCol:  rng.StartCol,
			EndLine:   rng.EndLine,
			EndCol:    rng.EndCol,
		},
	}

	if len(children) == 0 {
		out.Token = nodeText(n, source)

		return out
	}

	out.Children = make([]*node.Node, 0, len(children))
	for _, child := range children {
		out.Children = append(out.Children, mirrorNode(child, source))
	}

	return out
}

// ParseSymbols implements the extraction contract: given a language, file path, and
// source, it returns the symbols, edges, and test intents declared in the
// file, sorted and deduplicated per the contract.
func (p *Parser) ParseSymbols(ctx context.Context, language, filePath string, source []byte) (ParseResult, error) {
	extractor := ExtractorFor(language)
	if extractor == nil {
		return ParseResult{}, fmt.Errorf("%w %s", errNoParser, language)
	}

	var res ParseResult

	err := p.parseTree(ctx, language, source, func(root sitter.Node, _ *sitter.Tree) error {
		extractor.Extract(&res, root, source, filePath)

		return nil
	})
	if err != nil {
		return ParseResult{}, err
	}

	sortAndDedupe(&res)

	return res, nil
}

// CursorResult is the outcome of resolving a cursor position: the smallest
// enclosing symbol (nil if the cursor sits outside any declaration) and,
// for Rust files whose cursor lands inside a use declaration, the path
// segment under the cursor.
type CursorResult struct {
	Symbol  *Symbol
	UsePath *UsePathAtCursor
}

// ResolveCursor returns the smallest symbol enclosing (line, column) in
// filePath, plus Rust use-path data when applicable. line and column are
// 1-based, matching Symbol.Range.
func (p *Parser) ResolveCursor(ctx context.Context, language, filePath string, source []byte, line, column uint) (CursorResult, error) {
	res, err := p.ParseSymbols(ctx, language, filePath, source)
	if err != nil {
		return CursorResult{}, err
	}

	var best *Symbol

	for i := range res.Symbols {
		s := &res.Symbols[i]
		if !rangeContains(s.Range, line, column) {
			continue
		}

		if best == nil || rangeSmaller(s.Range, best.Range) {
			best = s
		}
	}

	result := CursorResult{Symbol: best}

	if language == "rust" {
		err := p.parseTree(ctx, language, source, func(root sitter.Node, _ *sitter.Tree) error {
			if up, ok := ResolveRustUsePath(root, source, line, column); ok {
				result.UsePath = &up
			}

			return nil
		})
		if err != nil {
			return CursorResult{}, err
		}
	}

	return result, nil
}

func rangeContains(r Range, line, column uint) bool {
	if line < r.StartLine || line > r.EndLine {
		return false
	}

	if line == r.StartLine && column < r.StartCol {
		return false
	}

	if line == r.EndLine && column > r.EndCol {
		return false
	}

	return true
}

// rangeSmaller reports whether a spans fewer lines (and, on a tie, fewer
// columns) than b, used to prefer the innermost enclosing symbol.
func rangeSmaller(a, b Range) bool {
	aLines := a.EndLine - a.StartLine
	bLines := b.EndLine - b.StartLine

	if aLines != bLines {
		return aLines < bLines
	}

	return (a.EndCol - a.StartCol) < (b.EndCol - b.StartCol)
}

// singleLanguageParser adapts a shared Parser to the LanguageParser
// interface for a single language, for callers (e.g. DetectChanges
// pipelines) that register one parser per language rather than
// dispatching on file extension themselves.
type singleLanguageParser struct {
	parser     *Parser
	language   string
	extensions []string
}

// NewLanguageParser returns a LanguageParser fixed to language, or an
// error if the language has no registered extensions.
func NewLanguageParser(language string) (LanguageParser, error) {
	exts := extensionsForLanguage(language)
	if len(exts) == 0 {
		return nil, fmt.Errorf("%w %s", errNoParser, language)
	}

	return &singleLanguageParser{
		parser:     NewParser(),
		language:   language,
		extensions: exts,
	}, nil
}

func (s *singleLanguageParser) Parse(ctx context.Context, filename string, content []byte) (*node.Node, error) {
	return s.parser.Parse(ctx, filename, content)
}

func (s *singleLanguageParser) Language() string { return s.language }

func (s *singleLanguageParser) Extensions() []string { return s.extensions }
