// Package diff computes line-based unified diffs between two versions of a
// file's content and renders them for human consumption.
package diff

import (
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// Sentinel diff texts. They stand in for a real diff when there is nothing
// meaningful to compare and are emitted for audit rather than suppressed.
const (
	SentinelNoChanges       = "No actual changes detected"
	SentinelNoPriorSnapshot = "File deleted (no previous snapshot available)"
	sentinelEmptyDiff       = "No changes detected"
)

// Result is a computed diff with line statistics and a display rendering.
type Result struct {
	Raw       string
	Formatted string
	Added     int
	Removed   int
}

// NoPriorSnapshot is the result for a deletion observed before the file was
// ever snapshotted.
func NoPriorSnapshot() Result {
	return Result{Raw: SentinelNoPriorSnapshot, Formatted: SentinelNoPriorSnapshot}
}

// Compute diffs two full content strings for relPath. Equal contents yield
// the no-changes sentinel.
func Compute(relPath, oldContent, newContent string) Result {
	if oldContent == newContent {
		return Result{Raw: SentinelNoChanges, Formatted: SentinelNoChanges}
	}
	raw := unified(relPath, oldContent, newContent)
	added, removed := Stats(raw)
	return Result{
		Raw:       raw,
		Formatted: Format(raw),
		Added:     added,
		Removed:   removed,
	}
}

// unified builds a three-line-context unified diff prefixed with a synthetic
// git-style header naming the old and new paths.
func unified(relPath, oldContent, newContent string) string {
	ud := difflib.UnifiedDiff{
		A:        contentLines(oldContent),
		B:        contentLines(newContent),
		FromFile: "a/" + relPath,
		ToFile:   "b/" + relPath,
		Context:  3,
	}
	body, err := difflib.GetUnifiedDiffString(ud)
	if err != nil || body == "" {
		return sentinelEmptyDiff
	}

	var header strings.Builder
	fmt.Fprintf(&header, "diff --git a/%s b/%s\n", relPath, relPath)
	switch {
	case oldContent == "":
		header.WriteString("new file mode 100644\n")
	case newContent == "":
		header.WriteString("deleted file mode 100644\n")
	default:
		header.WriteString("index 0000000..1111111 100644\n")
	}
	return header.String() + strings.TrimSuffix(body, "\n")
}

// contentLines splits content into newline-terminated lines the way the
// diff algorithm expects. Empty content is an empty line sequence, not a
// sequence holding one empty line.
func contentLines(content string) []string {
	if content == "" {
		return nil
	}
	parts := strings.Split(content, "\n")
	lines := make([]string, len(parts))
	for i, p := range parts {
		lines[i] = p + "\n"
	}
	return lines
}

// Stats counts inserted and removed lines in a unified diff. Header lines
// are excluded by explicit classification, not by prefix accident: a content
// line beginning with "+" must still be counted when the header check fails.
func Stats(raw string) (added, removed int) {
	for _, line := range strings.Split(raw, "\n") {
		if isHeaderLine(line) {
			continue
		}
		switch {
		case strings.HasPrefix(line, "+"):
			added++
		case strings.HasPrefix(line, "-"):
			removed++
		}
	}
	return added, removed
}

func isHeaderLine(line string) bool {
	switch {
	case strings.HasPrefix(line, "diff --git "),
		strings.HasPrefix(line, "index "),
		strings.HasPrefix(line, "new file mode"),
		strings.HasPrefix(line, "deleted file mode"),
		strings.HasPrefix(line, "--- a/"), strings.HasPrefix(line, "--- b/"),
		strings.HasPrefix(line, "+++ a/"), strings.HasPrefix(line, "+++ b/"),
		strings.HasPrefix(line, "@@ -"):
		return true
	}
	return false
}

// Format re-renders a unified diff as labeled blocks: consecutive removal
// and addition lines are grouped into DELETED, ADDED or MODIFIED sections
// separated by hunk markers, with context lines passed through unprefixed.
// Arbitrary input never fails; sentinels pass through untouched.
func Format(raw string) string {
	if raw == "" || raw == SentinelNoChanges || raw == sentinelEmptyDiff {
		return raw
	}
	if strings.HasPrefix(raw, "File deleted") {
		return raw
	}

	var out []string
	var chunk []string
	inHunk := false

	flush := func() {
		out = append(out, renderChunk(chunk)...)
		chunk = chunk[:0]
	}

	for _, line := range strings.Split(raw, "\n") {
		if strings.HasPrefix(line, "@@") {
			flush()
			inHunk = true
			out = append(out, "", line)
			continue
		}
		if isHeaderLine(line) {
			continue
		}
		if !inHunk {
			continue
		}
		if strings.HasPrefix(line, "-") || strings.HasPrefix(line, "+") {
			chunk = append(chunk, line)
			continue
		}
		flush()
		out = append(out, "   "+strings.TrimPrefix(line, " "))
	}
	flush()

	if len(out) == 0 {
		return "No changes to display"
	}
	return strings.Join(out, "\n")
}

// renderChunk formats one run of consecutive -/+ lines.
func renderChunk(chunk []string) []string {
	if len(chunk) == 0 {
		return nil
	}
	var removals, additions []string
	for _, line := range chunk {
		if strings.HasPrefix(line, "-") {
			removals = append(removals, line[1:])
		} else if strings.HasPrefix(line, "+") {
			additions = append(additions, line[1:])
		}
	}

	var out []string
	switch {
	case len(removals) > 0 && len(additions) > 0:
		out = append(out, "   MODIFIED:", "", "   REMOVED:")
		for _, l := range removals {
			out = append(out, "   - "+l)
		}
		out = append(out, "", "   ADDED:")
		for _, l := range additions {
			out = append(out, "   + "+l)
		}
	case len(removals) > 0:
		out = append(out, "   DELETED:")
		for _, l := range removals {
			out = append(out, "   - "+l)
		}
	case len(additions) > 0:
		out = append(out, "   ADDED:")
		for _, l := range additions {
			out = append(out, "   + "+l)
		}
	}
	out = append(out, "")
	return out
}
