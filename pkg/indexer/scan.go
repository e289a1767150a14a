package indexer

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aethercode/aether/pkg/identity"
	"github.com/aethercode/aether/pkg/uast"
)

// defaultIgnoreDirs are always skipped even without a .gitignore entry —
// mirrors what a `git ls-files` based walk would never surface anyway.
var defaultIgnoreDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	".aether":      true,
}

// gitignoreMatcher is a minimal, line-based .gitignore matcher: exact
// path/prefix and "*"-suffix glob patterns, one per non-comment, non-blank
// line. It does not implement the full gitignore grammar (negation,
// double-star, character classes) — scanning only requires that it
// "respect gitignore", not reimplement it byte-for-byte.
type gitignoreMatcher struct {
	patterns []string
}

func loadGitignore(repoRoot string) *gitignoreMatcher {
	data, err := os.ReadFile(filepath.Join(repoRoot, ".gitignore"))
	if err != nil {
		return &gitignoreMatcher{}
	}

	var patterns []string

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		patterns = append(patterns, strings.TrimPrefix(strings.TrimSuffix(line, "/"), "/"))
	}

	return &gitignoreMatcher{patterns: patterns}
}

func (m *gitignoreMatcher) matches(relPath string) bool {
	base := filepath.Base(relPath)

	for _, p := range m.patterns {
		if p == base || p == relPath {
			return true
		}

		if strings.HasPrefix(relPath, p+"/") {
			return true
		}

		if strings.HasPrefix(p, "*.") && strings.HasSuffix(base, strings.TrimPrefix(p, "*")) {
			return true
		}
	}

	return false
}

// ScannedFile is one file discovered by Scan, ready for parsing.
type ScannedFile struct {
	AbsPath string
	RelPath string
}

// isSupported reports whether a path extension maps to a registered
// language.
func isSupported(relPath string) bool {
	ext := strings.ToLower(filepath.Ext(relPath))
	if ext == "" {
		return false
	}

	return uast.LanguageForExtension(ext) != ""
}

// Scan walks repoRoot depth-first, skipping VCS/build directories and any
// path matched by the repo's top-level .gitignore, and returns every file
// whose extension is registered with a language extractor, sorted by
// normalized relative path for deterministic indexing order.
func Scan(_ context.Context, repoRoot string) ([]ScannedFile, error) {
	ignore := loadGitignore(repoRoot)

	var out []ScannedFile

	walkErr := filepath.WalkDir(repoRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, relErr := filepath.Rel(repoRoot, path)
		if relErr != nil {
			return relErr
		}

		rel = identity.NormalizePath(rel)

		if d.IsDir() {
			if rel != "" && (defaultIgnoreDirs[filepath.Base(path)] || ignore.matches(rel)) {
				return filepath.SkipDir
			}

			return nil
		}

		if !isSupported(rel) || ignore.matches(rel) {
			return nil
		}

		out = append(out, ScannedFile{AbsPath: path, RelPath: rel})

		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("scan %s: %w", repoRoot, walkErr)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].RelPath < out[j].RelPath })

	return out, nil
}
