// Package hover implements the hover/explain contract
// consumed by the LSP and MCP transports: given a workspace position,
// compose the Markdown rendering of the enclosing symbol's SIR, its
// staleness, its latest version transition, and surrounding project
// context. The transports themselves are out of scope; this package is the
// contract they call.
package hover

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aethercode/aether/pkg/identity"
	"github.com/aethercode/aether/pkg/sir"
	"github.com/aethercode/aether/pkg/store"
	"github.com/aethercode/aether/pkg/uast"
)

// NoSIRMessage is the exact sentinel returned when a symbol has no SIR.
const NoSIRMessage = "AETHER: No SIR yet for this symbol. Run aetherd indexing and try again."

const (
	contextNoteLimit    = 20
	contextIntentLimit  = 3
	contextSnippetLimit = 110
)

// FileSIR is the per-file rollup blob rendered for import hovers, stored
// under the file's FileSourceID.
type FileSIR struct {
	Intent       string   `json:"intent"`
	Exports      []string `json:"exports"`
	SideEffects  []string `json:"side_effects"`
	Dependencies []string `json:"dependencies"`
	ErrorModes   []string `json:"error_modes"`
	Confidence   float64  `json:"confidence"`
	SymbolCount  int      `json:"symbol_count"`
}

// Resolver composes hover Markdown from the Record Store and parser.
type Resolver struct {
	workspace string
	store     *store.Store
	parser    *uast.Parser
	log       *slog.Logger
}

// Config bundles a Resolver's dependencies.
type Config struct {
	Workspace string
	Store     *store.Store
	Parser    *uast.Parser
	Log       *slog.Logger
}

// NewResolver constructs a Resolver.
func NewResolver(cfg Config) *Resolver {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	parser := cfg.Parser
	if parser == nil {
		parser = uast.NewParser()
	}

	return &Resolver{
		workspace: cfg.Workspace,
		store:     cfg.Store,
		parser:    parser,
		log:       log,
	}
}

// Hover resolves the hover Markdown for a 1-based (line, column) position
// in filePath (absolute or workspace-relative). An empty string with a nil
// error means there is nothing to show at that position.
func (r *Resolver) Hover(ctx context.Context, filePath string, line, column uint) (string, error) {
	relPath := r.workspaceRelative(filePath)

	language := uast.LanguageForExtension(strings.ToLower(path.Ext(relPath)))
	if language == "" {
		return "", nil
	}

	source, err := os.ReadFile(filepath.Join(r.workspace, filepath.FromSlash(relPath)))
	if err != nil {
		return "", fmt.Errorf("hover: read source: %w", err)
	}

	cursor, err := r.parser.ResolveCursor(ctx, language, relPath, source, line, column)
	if err != nil {
		return "", fmt.Errorf("hover: resolve cursor: %w", err)
	}

	if markdown, ok := r.importHover(ctx, relPath, string(source), cursor, line, column); ok {
		return markdown, nil
	}

	if cursor.Symbol == nil {
		return "", nil
	}

	return r.symbolHover(ctx, relPath, *cursor.Symbol)
}

func (r *Resolver) symbolHover(ctx context.Context, relPath string, symbol uast.Symbol) (string, error) {
	now := time.Now()

	if err := r.store.IncrementSymbolAccessDebounced(ctx, symbol.ID, now); err != nil {
		r.log.Warn("hover: increment access", "symbol_id", symbol.ID, "error", err)
	}

	var staleWarning string

	meta, metaErr := r.store.GetSIRMeta(ctx, symbol.ID)
	if metaErr == nil && meta.Status != string(sir.StatusFresh) {
		staleWarning = "AETHER WARNING: SIR is stale."
		if meta.LastError != "" {
			staleWarning += " Last error: " + meta.LastError
		}
	}

	body, _, _, blobErr := r.store.ReadSIRBlob(ctx, symbol.ID)
	if blobErr != nil {
		if !errors.Is(blobErr, store.ErrNotFound) {
			return "", fmt.Errorf("hover: read sir blob: %w", blobErr)
		}

		if staleWarning != "" {
			return staleWarning + "\n\n" + NoSIRMessage, nil
		}

		return NoSIRMessage, nil
	}

	var record sir.SIR
	if err := json.Unmarshal(body, &record); err != nil {
		return "", fmt.Errorf("hover: parse sir for %s: %w", symbol.ID, err)
	}

	var quoted string
	if staleWarning != "" {
		quoted = "> " + staleWarning
	}

	markdown := formatSections(symbol.QualifiedName, record, quoted)

	if why := r.whyHint(ctx, symbol.ID); why != "" {
		markdown += "\n\n" + why
	}

	if contextLines := r.projectContext(ctx, relPath, symbol.ID, now); len(contextLines) > 0 {
		markdown += "\n\n---\n" + strings.Join(contextLines, "\n")
	}

	return markdown, nil
}

// formatSections renders the sectioned SIR Markdown of the hover contract.
func formatSections(qualifiedName string, record sir.SIR, staleWarning string) string {
	parts := []string{"### " + qualifiedName, fmt.Sprintf("**Confidence:** %.2f", record.Confidence)}

	if staleWarning != "" {
		parts = append(parts, staleWarning)
	}

	parts = append(parts,
		"**Intent**\n"+record.Intent,
		"**Inputs**\n"+markdownList(record.Inputs),
		"**Outputs**\n"+markdownList(record.Outputs),
		"**Side Effects**\n"+markdownList(record.SideEffects),
		"**Dependencies**\n"+markdownList(record.Dependencies),
		"**Error Modes**\n"+markdownList(record.ErrorModes),
	)

	return strings.Join(parts, "\n\n")
}

func formatFileRollup(relPath string, rollup FileSIR) string {
	parts := []string{
		"### " + relPath,
		fmt.Sprintf("**Confidence:** %.2f", rollup.Confidence),
		fmt.Sprintf("**Symbol Count:** %d", rollup.SymbolCount),
		"**Intent**\n" + rollup.Intent,
		"**Exports**\n" + markdownList(rollup.Exports),
		"**Side Effects**\n" + markdownList(rollup.SideEffects),
		"**Dependencies**\n" + markdownList(rollup.Dependencies),
		"**Error Modes**\n" + markdownList(rollup.ErrorModes),
	}

	return strings.Join(parts, "\n\n")
}

func markdownList(items []string) string {
	if len(items) == 0 {
		return "(none)"
	}

	lines := make([]string, len(items))
	for i, item := range items {
		lines[i] = "- " + strings.TrimSpace(item)
	}

	return strings.Join(lines, "\n")
}

// whyHint summarizes the latest SIR version transition from history.
func (r *Resolver) whyHint(ctx context.Context, symbolID string) string {
	history, err := r.store.ListSIRHistory(ctx, symbolID)
	if err != nil || len(history) == 0 {
		return ""
	}

	if len(history) == 1 {
		return "> AETHER WHY: only one recorded SIR version."
	}

	from := history[len(history)-2]
	to := history[len(history)-1]

	added, removed, modified := diffTopLevelFields(from.Body, to.Body)

	return fmt.Sprintf("> AETHER WHY: latest v%d -> v%d; added: %s; removed: %s; modified: %s.",
		from.Version, to.Version,
		fieldList(added), fieldList(removed), fieldList(modified))
}

// diffTopLevelFields compares two SIR JSON bodies field by field.
func diffTopLevelFields(before, after []byte) (added, removed, modified []string) {
	var beforeFields, afterFields map[string]json.RawMessage

	if json.Unmarshal(before, &beforeFields) != nil || json.Unmarshal(after, &afterFields) != nil {
		return nil, nil, nil
	}

	for field, afterValue := range afterFields {
		beforeValue, ok := beforeFields[field]
		if !ok {
			added = append(added, field)

			continue
		}

		if string(beforeValue) != string(afterValue) {
			modified = append(modified, field)
		}
	}

	for field := range beforeFields {
		if _, ok := afterFields[field]; !ok {
			removed = append(removed, field)
		}
	}

	sort.Strings(added)
	sort.Strings(removed)
	sort.Strings(modified)

	return added, removed, modified
}

func fieldList(fields []string) string {
	if len(fields) == 0 {
		return "(none)"
	}

	return strings.Join(fields, ", ")
}

// projectContext collects the optional context block: the top project note
// referencing the file, the strongest coupled file, and up to three test
// intents.
func (r *Resolver) projectContext(ctx context.Context, relPath, symbolID string, now time.Time) []string {
	var lines []string

	if line, ok := r.topNoteLine(ctx, relPath, symbolID, now); ok {
		lines = append(lines, line)
	}

	if line, ok := r.topCouplingLine(ctx, relPath); ok {
		lines = append(lines, line)
	}

	lines = append(lines, r.testIntentLines(ctx, relPath, symbolID)...)

	return lines
}

func (r *Resolver) topNoteLine(ctx context.Context, relPath, symbolID string, now time.Time) (string, bool) {
	notes, err := r.store.ListProjectNotesForFileRef(ctx, relPath, contextNoteLimit)
	if err != nil || len(notes) == 0 {
		return "", false
	}

	selected := notes[0]

	for _, note := range notes {
		for _, ref := range note.SymbolRefs {
			if ref == symbolID {
				selected = note

				break
			}
		}
	}

	age := relativeAge(now, selected.UpdatedAt)
	snippet := compactText(selected.Content, contextSnippetLimit)

	return fmt.Sprintf("📝 %q (%s)", snippet, age), true
}

func (r *Resolver) topCouplingLine(ctx context.Context, relPath string) (string, bool) {
	edges, err := r.store.ListCouplingEdgesForFile(ctx, relPath, contextNoteLimit)
	if err != nil || len(edges) == 0 {
		return "", false
	}

	sort.Slice(edges, func(i, j int) bool {
		if edges[i].FusedScore != edges[j].FusedScore {
			return edges[i].FusedScore > edges[j].FusedScore
		}

		if edges[i].FileA != edges[j].FileA {
			return edges[i].FileA < edges[j].FileA
		}

		return edges[i].FileB < edges[j].FileB
	})

	top := edges[0]

	coupledFile := top.FileB
	if coupledFile == relPath {
		coupledFile = top.FileA
	}

	if coupledFile == "" || coupledFile == relPath {
		return "", false
	}

	return fmt.Sprintf("⚠️ Co-changes with %s (%.0f%%, %s)",
		coupledFile, clamp01(top.TemporalScore)*100, riskLabel(top.FusedScore)), true
}

func (r *Resolver) testIntentLines(ctx context.Context, relPath, symbolID string) []string {
	intents, err := r.store.ListTestIntentsForSymbol(ctx, symbolID)
	if err != nil {
		return nil
	}

	if len(intents) == 0 {
		intents, err = r.store.ListTestIntentsForFile(ctx, relPath)
		if err != nil {
			return nil
		}
	}

	var lines []string

	seen := make(map[string]bool)

	for _, intent := range intents {
		if len(lines) >= contextIntentLimit {
			break
		}

		if seen[intent.ID] {
			continue
		}

		seen[intent.ID] = true

		lines = append(lines, "🧪 "+compactText(intent.IntentText, contextSnippetLimit))
	}

	return lines
}

// importHover renders a file-rollup hover when the cursor sits on an
// import/use statement whose target resolves to a workspace file; when no
// rollup blob exists it falls back to the target's first symbol's leaf SIR.
func (r *Resolver) importHover(ctx context.Context, relPath, source string, cursor uast.CursorResult, line, column uint) (string, bool) {
	var target string

	if cursor.UsePath != nil {
		target = r.resolveRustUseTarget(relPath, *cursor.UsePath)
	} else {
		target = r.resolveImportLiteralTarget(relPath, source, line, column)
	}

	if target == "" {
		return "", false
	}

	rollupID := identity.FileSourceID(target)

	body, _, _, err := r.store.ReadSIRBlob(ctx, rollupID)
	if err == nil {
		var rollup FileSIR
		if json.Unmarshal(body, &rollup) == nil && rollup.Intent != "" {
			return formatFileRollup(target, rollup), true
		}
	}

	symbols, err := r.store.ListSymbolsForFile(ctx, target)
	if err != nil || len(symbols) == 0 {
		return "", false
	}

	sort.Slice(symbols, func(i, j int) bool {
		return symbols[i].QualifiedName < symbols[j].QualifiedName
	})

	first := symbols[0]

	leaf, _, _, err := r.store.ReadSIRBlob(ctx, first.ID)
	if err != nil {
		return "", false
	}

	var record sir.SIR
	if json.Unmarshal(leaf, &record) != nil {
		return "", false
	}

	return formatSections(first.QualifiedName, record, ""), true
}

// resolveImportLiteralTarget handles TS/JS-style relative import literals
// under the cursor.
func (r *Resolver) resolveImportLiteralTarget(relPath, source string, line, column uint) string {
	lines := strings.Split(source, "\n")
	if int(line) < 1 || int(line) > len(lines) {
		return ""
	}

	text := lines[line-1]
	if !strings.Contains(text, "import") {
		return ""
	}

	literal := importLiteralAtCursor(text, int(column))
	if literal == "" || !(strings.HasPrefix(literal, "./") || strings.HasPrefix(literal, "../")) {
		return ""
	}

	base := path.Join(path.Dir(relPath), literal)

	candidates := []string{base}
	for _, ext := range []string{"ts", "tsx", "js", "jsx"} {
		candidates = append(candidates, base+"."+ext, path.Join(base, "index."+ext))
	}

	for _, candidate := range candidates {
		normalized := identity.NormalizePath(candidate)
		if normalized == "" || strings.HasPrefix(normalized, "..") {
			continue
		}

		info, err := os.Stat(filepath.Join(r.workspace, filepath.FromSlash(normalized)))
		if err == nil && !info.IsDir() {
			return normalized
		}
	}

	return ""
}

// importLiteralAtCursor extracts the quoted string literal containing the
// 1-based cursor column, if any.
func importLiteralAtCursor(line string, column int) string {
	i := 0

	for i < len(line) {
		quote := line[i]
		if quote != '"' && quote != '\'' {
			i++

			continue
		}

		start := i + 1
		end := start

		for end < len(line) && line[end] != quote {
			end++
		}

		if end >= len(line) {
			return ""
		}

		if column >= start+1 && column <= end+1 {
			return strings.TrimSpace(line[start:end])
		}

		i = end + 1
	}

	return ""
}

// resolveRustUseTarget maps a use path's crate/self/super prefix onto the
// filesystem, preferring mod.rs over <segment>.rs at each step.
func (r *Resolver) resolveRustUseTarget(relPath string, usePath uast.UsePathAtCursor) string {
	var base string

	switch usePath.Prefix {
	case "crate":
		base = r.crateSrcRoot(relPath)
	case "self":
		base = path.Dir(relPath)
	case "super":
		base = path.Dir(path.Dir(relPath))
	default:
		return ""
	}

	if base == "" || len(usePath.Segments) == 0 {
		return ""
	}

	var resolved string

	for _, segment := range usePath.Segments {
		modCandidate := path.Join(base, segment, "mod.rs")
		fileCandidate := path.Join(base, segment+".rs")

		switch {
		case r.isFile(modCandidate):
			resolved = modCandidate
			base = path.Join(base, segment)
		case r.isFile(fileCandidate):
			return fileCandidate
		default:
			return resolved
		}
	}

	return resolved
}

// crateSrcRoot walks up from relPath looking for a Cargo.toml sibling of a
// src/ directory.
func (r *Resolver) crateSrcRoot(relPath string) string {
	dir := path.Dir(relPath)

	for {
		if r.isFile(path.Join(dir, "Cargo.toml")) {
			src := path.Join(dir, "src")
			if info, err := os.Stat(filepath.Join(r.workspace, filepath.FromSlash(src))); err == nil && info.IsDir() {
				return src
			}

			return ""
		}

		if dir == "." || dir == "/" || dir == "" {
			// Workspace root: a bare src/ without Cargo.toml still counts.
			if info, err := os.Stat(filepath.Join(r.workspace, "src")); err == nil && info.IsDir() {
				return "src"
			}

			return ""
		}

		dir = path.Dir(dir)
	}
}

func (r *Resolver) isFile(relPath string) bool {
	info, err := os.Stat(filepath.Join(r.workspace, filepath.FromSlash(relPath)))

	return err == nil && !info.IsDir()
}

func (r *Resolver) workspaceRelative(filePath string) string {
	if filepath.IsAbs(filePath) {
		if rel, err := filepath.Rel(r.workspace, filePath); err == nil {
			return identity.NormalizePath(filepath.ToSlash(rel))
		}
	}

	return identity.NormalizePath(filePath)
}

func relativeAge(now, then time.Time) string {
	if then.IsZero() || then.After(now) {
		return "just now"
	}

	age := now.Sub(then)

	switch {
	case age < time.Minute:
		return "just now"
	case age < time.Hour:
		return fmt.Sprintf("%dm ago", int(age.Minutes()))
	case age < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(age.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(age.Hours()/24))
	}
}

func compactText(value string, limit int) string {
	collapsed := strings.Join(strings.Fields(value), " ")
	if len(collapsed) <= limit {
		return collapsed
	}

	end := limit
	for end > 0 && (collapsed[end]&0xC0) == 0x80 {
		end--
	}

	return collapsed[:end] + "..."
}

func riskLabel(score float64) string {
	switch {
	case score >= 0.7:
		return "Critical"
	case score >= 0.4:
		return "High"
	case score >= 0.2:
		return "Medium"
	default:
		return "Low"
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}

	if v > 1 {
		return 1
	}

	return v
}
