// Package identity implements the pure, deterministic hashing and
// normalization functions that every persisted entity's identity is built
// from: file paths, symbol signatures, content blobs, and the symbol and
// file-source IDs derived from them.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"path"
	"strings"
	"unicode"
)

// NormalizePath converts path to a workspace-relative, forward-slash,
// trimmed form. Backslashes (Windows-style separators) are converted to
// forward slashes, "./"-prefixes and redundant separators are collapsed,
// and leading/trailing slashes are stripped.
func NormalizePath(p string) string {
	p = strings.TrimSpace(p)
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.TrimPrefix(p, "./")
	p = path.Clean(p)
	p = strings.Trim(p, "/")

	if p == "." {
		return ""
	}

	return p
}

// stripWhitespace removes every Unicode whitespace rune from s, so that
// signature fingerprints and content hashes are insensitive to formatting
// differences (indentation style, trailing spaces, line-ending convention).
func stripWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	for _, r := range s {
		if !unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}

	return b.String()
}

// hashHex returns the hex-encoded SHA-256 digest of the given parts joined
// with a unit separator that cannot occur in normal source text, so that
// ("ab", "c") and ("a", "bc") never collide.
func hashHex(parts ...string) string {
	h := sha256.New()

	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{0x1f})
		}

		h.Write([]byte(p))
	}

	return hex.EncodeToString(h.Sum(nil))
}

// SignatureFingerprint computes a stable fingerprint of a declaration
// prefix (e.g. "func Foo(a int, b string) error"), insensitive to
// whitespace. Two declarations that differ only in spacing, indentation,
// or line breaks produce the same fingerprint.
func SignatureFingerprint(declarationPrefix string) string {
	return hashHex(stripWhitespace(declarationPrefix))
}

// ContentHash computes a stable hash of arbitrary text content (a symbol
// body, a file's full source, a SIR blob). Unlike SignatureFingerprint it
// is whitespace-sensitive: content_hash exists to detect any byte-level
// change, not just semantic rewording of a declaration.
func ContentHash(content string) string {
	return hashHex(content)
}

// StableSymbolID computes the stable identity of a symbol from its
// language, normalized file path, kind, qualified name, and signature
// fingerprint. The ID is whitespace-insensitive over the signature (via
// signatureFingerprint) and stable across unrelated line shifts within the
// same file; any rename of the symbol (which changes qualifiedName) changes
// the ID.
func StableSymbolID(language, filePath, kind, qualifiedName, signatureFingerprint string) string {
	return hashHex(language, NormalizePath(filePath), kind, qualifiedName, signatureFingerprint)
}

// FileSourceID computes the stable identity of a file-level source record
// (the `file:<path>` node used as the anchor for import/use edges and as
// the unit of soft-removal when a file disappears from a scan).
func FileSourceID(filePath string) string {
	return hashHex("file", NormalizePath(filePath))
}
