package uast

import (
	"sync"
	"unsafe"

	sitter "github.com/alexaandru/go-tree-sitter-bare"

	golang "github.com/alexaandru/go-sitter-forest/go"
	"github.com/alexaandru/go-sitter-forest/python"
	"github.com/alexaandru/go-sitter-forest/rust"
	"github.com/alexaandru/go-sitter-forest/typescript"
)

// languageFuncs maps language names to their tree-sitter GetLanguage functions.
// Only the languages the symbol extractor registry (extractors.go) knows how
// to map are included; adding a language is additive in both places.
var languageFuncs = map[string]func() unsafe.Pointer{
	"go":         golang.GetLanguage,
	"python":     python.GetLanguage,
	"rust":       rust.GetLanguage,
	"typescript": typescript.GetLanguage,
}

var languageCache sync.Map

// GetLanguage returns the tree-sitter Language for the given name, or nil if not supported.
func GetLanguage(name string) *sitter.Language {
	if cached, ok := languageCache.Load(name); ok {
		lang, castOK := cached.(*sitter.Language)
		if castOK {
			return lang
		}
	}

	fn, ok := languageFuncs[name]
	if !ok {
		return nil
	}

	lang := sitter.NewLanguage(fn())
	languageCache.Store(name, lang)

	return lang
}

// extensionLanguages maps lower-cased file extensions (with leading dot) to
// the language name used by GetLanguage and the extractor registry.
var extensionLanguages = map[string]string{
	".go":  "go",
	".py":  "python",
	".pyi": "python",
	".rs":  "rust",
	".ts":  "typescript",
	".tsx": "typescript",
}

// LanguageForExtension returns the registered language name for a file
// extension (with leading dot), or "" if unsupported.
func LanguageForExtension(ext string) string {
	return extensionLanguages[ext]
}

// extensionsForLanguage returns every registered extension that maps to
// language, in a deterministic order.
func extensionsForLanguage(language string) []string {
	var exts []string

	for _, ext := range []string{".go", ".py", ".pyi", ".rs", ".ts", ".tsx"} {
		if extensionLanguages[ext] == language {
			exts = append(exts, ext)
		}
	}

	return exts
}
