package identity_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aethercode/aether/pkg/identity"
)

func TestNormalizePath(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"  src/main.go  ":  "src/main.go",
		"./src/main.go":    "src/main.go",
		"src\\pkg\\main.go": "src/pkg/main.go",
		"/src/main.go/":    "src/main.go",
		"src//main.go":     "src/main.go",
		".":                "",
		"":                 "",
	}

	for input, want := range cases {
		assert.Equal(t, want, identity.NormalizePath(input), "input=%q", input)
	}
}

func TestSignatureFingerprint_WhitespaceInsensitive(t *testing.T) {
	t.Parallel()

	a := identity.SignatureFingerprint("func Foo(a int, b string) error")
	b := identity.SignatureFingerprint("func   Foo(a int,\n\tb string) error")

	assert.Equal(t, a, b, "fingerprints should match across whitespace variation")
	assert.Len(t, a, 64, "expected hex-encoded 256-bit digest")
}

func TestSignatureFingerprint_DifferentSignatureDiffers(t *testing.T) {
	t.Parallel()

	a := identity.SignatureFingerprint("func Foo(a int) error")
	b := identity.SignatureFingerprint("func Foo(a int, b string) error")

	assert.NotEqual(t, a, b)
}

func TestContentHash_WhitespaceSensitive(t *testing.T) {
	t.Parallel()

	a := identity.ContentHash("func Foo() {}")
	b := identity.ContentHash("func Foo() {  }")

	assert.NotEqual(t, a, b, "content_hash must detect whitespace-only changes")
}

func TestContentHash_Deterministic(t *testing.T) {
	t.Parallel()

	text := "package main\n\nfunc main() {}\n"
	assert.Equal(t, identity.ContentHash(text), identity.ContentHash(text))
}

func TestStableSymbolID_StableAcrossLineShift(t *testing.T) {
	t.Parallel()

	sig := identity.SignatureFingerprint("func Foo(a int) error")

	id1 := identity.StableSymbolID("go", "pkg/foo.go", "Function", "pkg.Foo", sig)
	id2 := identity.StableSymbolID("go", "pkg/foo.go", "Function", "pkg.Foo", sig)

	assert.Equal(t, id1, id2)
	assert.Len(t, id1, 64)
}

func TestStableSymbolID_RenameChangesID(t *testing.T) {
	t.Parallel()

	sig := identity.SignatureFingerprint("func Foo(a int) error")

	id1 := identity.StableSymbolID("go", "pkg/foo.go", "Function", "pkg.Foo", sig)
	id2 := identity.StableSymbolID("go", "pkg/foo.go", "Function", "pkg.Bar", sig)

	assert.NotEqual(t, id1, id2, "renaming the qualified name must change the ID")
}

func TestStableSymbolID_PathNormalizedBeforeHashing(t *testing.T) {
	t.Parallel()

	sig := identity.SignatureFingerprint("func Foo(a int) error")

	id1 := identity.StableSymbolID("go", "pkg/foo.go", "Function", "pkg.Foo", sig)
	id2 := identity.StableSymbolID("go", "./pkg/foo.go", "Function", "pkg.Foo", sig)

	assert.Equal(t, id1, id2)
}

func TestStableSymbolID_NoFieldCollision(t *testing.T) {
	t.Parallel()

	// Concatenating fields without a separator could let ("ab","c") collide
	// with ("a","bc"); the unit-separator join must prevent that.
	id1 := identity.StableSymbolID("go", "ab", "c", "d", "e")
	id2 := identity.StableSymbolID("go", "a", "bc", "d", "e")

	assert.NotEqual(t, id1, id2)
}

func TestFileSourceID_Deterministic(t *testing.T) {
	t.Parallel()

	a := identity.FileSourceID("src/main.go")
	b := identity.FileSourceID("src/main.go")

	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestFileSourceID_DistinctFromSymbolID(t *testing.T) {
	t.Parallel()

	sig := identity.SignatureFingerprint("func Foo() {}")
	symID := identity.StableSymbolID("go", "src/main.go", "Function", "main.Foo", sig)
	fileID := identity.FileSourceID("src/main.go")

	assert.NotEqual(t, symID, fileID)
}
