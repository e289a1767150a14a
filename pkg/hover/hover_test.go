package hover

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aethercode/aether/pkg/sir"
	"github.com/aethercode/aether/pkg/store"
	"github.com/aethercode/aether/pkg/uast"
)

func newResolver(t *testing.T) (*Resolver, *store.Store, string) {
	t.Helper()

	workspace := t.TempDir()

	st, err := store.Open(context.Background(), filepath.Join(workspace, "meta.sqlite"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	return NewResolver(Config{Workspace: workspace, Store: st}), st, workspace
}

func alphaSymbol() uast.Symbol {
	return uast.Symbol{
		ID:            "sym-alpha",
		Language:      "rust",
		FilePath:      "src/alpha.rs",
		Kind:          uast.KindFunction,
		Name:          "alpha",
		QualifiedName: "alpha",
	}
}

func canonicalAlphaSIR(t *testing.T) ([]byte, string) {
	t.Helper()

	record := sir.SIR{
		Intent:     "Mock summary for alpha",
		Inputs:     []string{"x"},
		Confidence: 0.75,
	}

	body, err := sir.Canonicalize(record)
	require.NoError(t, err)

	return body, sir.Hash(body)
}

func TestSymbolHoverFormatsSectionedMarkdown(t *testing.T) {
	ctx := context.Background()
	resolver, st, _ := newResolver(t)

	body, hash := canonicalAlphaSIR(t)
	_, err := st.WriteSIRBlob(ctx, "sym-alpha", body, hash)
	require.NoError(t, err)
	require.NoError(t, st.UpsertSIRMeta(ctx, store.SIRMeta{
		SymbolID: "sym-alpha", Status: string(sir.StatusFresh), GeneratedAt: time.Now(),
	}))

	markdown, err := resolver.symbolHover(ctx, "src/alpha.rs", alphaSymbol())
	require.NoError(t, err)

	assert.Contains(t, markdown, "### alpha")
	assert.Contains(t, markdown, "**Confidence:** 0.75")
	assert.Contains(t, markdown, "**Intent**\nMock summary for alpha")
	assert.Contains(t, markdown, "**Inputs**\n- x")
	assert.Contains(t, markdown, "**Side Effects**\n(none)")
	assert.NotContains(t, markdown, "AETHER WARNING")
}

func TestSymbolHoverStaleWithoutBlobReturnsWarningAndSentinel(t *testing.T) {
	ctx := context.Background()
	resolver, st, _ := newResolver(t)

	require.NoError(t, st.UpsertSIRMeta(ctx, store.SIRMeta{
		SymbolID:    "sym-alpha",
		Status:      string(sir.StatusStale),
		LastError:   "provider timeout",
		GeneratedAt: time.Now(),
	}))

	markdown, err := resolver.symbolHover(ctx, "src/alpha.rs", alphaSymbol())
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(markdown,
		"AETHER WARNING: SIR is stale. Last error: provider timeout"))
	assert.Contains(t, markdown, NoSIRMessage)
}

func TestSymbolHoverStaleWithBlobKeepsSectionedOutput(t *testing.T) {
	ctx := context.Background()
	resolver, st, _ := newResolver(t)

	body, hash := canonicalAlphaSIR(t)
	_, err := st.WriteSIRBlob(ctx, "sym-alpha", body, hash)
	require.NoError(t, err)
	require.NoError(t, st.UpsertSIRMeta(ctx, store.SIRMeta{
		SymbolID: "sym-alpha", Status: string(sir.StatusStale), GeneratedAt: time.Now(),
	}))

	markdown, err := resolver.symbolHover(ctx, "src/alpha.rs", alphaSymbol())
	require.NoError(t, err)

	assert.Contains(t, markdown, "> AETHER WARNING: SIR is stale.")
	assert.Contains(t, markdown, "### alpha")
}

func TestSymbolHoverWithoutSIRReturnsSentinel(t *testing.T) {
	ctx := context.Background()
	resolver, _, _ := newResolver(t)

	markdown, err := resolver.symbolHover(ctx, "src/alpha.rs", alphaSymbol())
	require.NoError(t, err)

	assert.Equal(t, NoSIRMessage, markdown)
}

func TestWhyHintSummarizesLatestTransition(t *testing.T) {
	ctx := context.Background()
	resolver, st, _ := newResolver(t)

	v1 := []byte(`{"confidence":0.5,"intent":"initial behavior"}`)
	v2 := []byte(`{"confidence":0.9,"intent":"batch processing","inputs":["items"]}`)

	_, err := st.WriteSIRBlob(ctx, "sym-alpha", v1, "hash-1")
	require.NoError(t, err)
	_, err = st.WriteSIRBlob(ctx, "sym-alpha", v2, "hash-2")
	require.NoError(t, err)

	hint := resolver.whyHint(ctx, "sym-alpha")

	assert.Contains(t, hint, "> AETHER WHY: latest v1 -> v2;")
	assert.Contains(t, hint, "added: inputs")
	assert.Contains(t, hint, "modified: confidence, intent")
}

func TestWhyHintSingleVersion(t *testing.T) {
	ctx := context.Background()
	resolver, st, _ := newResolver(t)

	_, err := st.WriteSIRBlob(ctx, "sym-alpha", []byte(`{"intent":"x"}`), "hash-1")
	require.NoError(t, err)

	assert.Equal(t, "> AETHER WHY: only one recorded SIR version.", resolver.whyHint(ctx, "sym-alpha"))
}

func TestImportLiteralAtCursor(t *testing.T) {
	line := `import { x } from "../src/payment";`
	start := strings.Index(line, "../src/payment") + 1

	assert.Equal(t, "../src/payment", importLiteralAtCursor(line, start))
	assert.Equal(t, "", importLiteralAtCursor(line, 1))
}

func TestMarkdownList(t *testing.T) {
	assert.Equal(t, "(none)", markdownList(nil))
	assert.Equal(t, "- a\n- b", markdownList([]string{"a", " b "}))
}

func TestRelativeAge(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	assert.Equal(t, "just now", relativeAge(now, now))
	assert.Equal(t, "5m ago", relativeAge(now, now.Add(-5*time.Minute)))
	assert.Equal(t, "3h ago", relativeAge(now, now.Add(-3*time.Hour)))
	assert.Equal(t, "2d ago", relativeAge(now, now.Add(-49*time.Hour)))
}
