// Package patch validates and applies the unified-diff suggestions
// produced by review models. Model output is unreliable in practice:
// markdown fences, CRLF line endings, bare @@ headers, and drifted line
// numbers all occur. Apply therefore anchors hunks by content when the
// stated line numbers do not match.
package patch

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var hunkHeaderPattern = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)

// Clean normalizes a model-produced patch: CRLF line endings become LF,
// surrounding whitespace is trimmed, and a wrapping markdown code fence
// (with or without a language tag) is removed.
func Clean(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.TrimSpace(s)

	if !strings.HasPrefix(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")
	if len(lines) < 2 {
		return s
	}
	// Drop the opening fence line, then any trailing blanks, then the
	// closing fence if present.
	lines = lines[1:]
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) > 0 && strings.HasPrefix(strings.TrimSpace(lines[len(lines)-1]), "```") {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}

// LooksLikeUnifiedDiff reports whether s has the structure of a unified
// diff: at least one @@ hunk header followed by at least one addition or
// deletion line. File headers (---/+++) are accepted but not required,
// since models frequently emit bare hunks.
func LooksLikeUnifiedDiff(s string) bool {
	sawHunk := false
	for _, line := range strings.Split(s, "\n") {
		if hunkHeaderPattern.MatchString(line) {
			sawHunk = true
			continue
		}
		if !sawHunk {
			continue
		}
		if strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "+++") {
			return true
		}
		if strings.HasPrefix(line, "-") && !strings.HasPrefix(line, "---") {
			return true
		}
	}
	return false
}

// TargetFile returns the destination path from the first "+++ b/..."
// header. The second return is false when the patch carries no usable
// file header.
func TargetFile(diff string) (string, bool) {
	for _, line := range strings.Split(diff, "\n") {
		if !strings.HasPrefix(line, "+++ ") {
			continue
		}
		p := strings.TrimSpace(strings.TrimPrefix(line, "+++ "))
		p = strings.TrimPrefix(p, "b/")
		if p == "" || p == "/dev/null" {
			return "", false
		}
		return p, true
	}
	return "", false
}

type hunkLine struct {
	kind byte // '+', '-', or ' '
	text string
}

type hunk struct {
	oldStart int // 1-based; 0 when the header carried no usable numbers
	oldCount int
	lines    []hunkLine
}

// Apply applies a unified diff to content and returns the patched text.
// The input is cleaned first. Each hunk is located at its stated old
// position when the context there matches, otherwise by searching
// forward for the hunk's first context or deletion line. Context and
// deletion lines must match the file (trailing whitespace ignored) or
// an error is returned and content is left unmodified.
func Apply(content, diff string) (string, error) {
	cleaned := Clean(diff)
	if !LooksLikeUnifiedDiff(cleaned) {
		return "", errors.New("patch: input is not a unified diff")
	}
	hunks := parseHunks(cleaned)
	if len(hunks) == 0 {
		return "", errors.New("patch: no hunks found")
	}

	src := strings.Split(content, "\n")
	var out []string
	cursor := 0

	for i, h := range hunks {
		start, err := locateHunk(src, h, cursor)
		if err != nil {
			return "", fmt.Errorf("patch: hunk %d: %w", i+1, err)
		}
		out = append(out, src[cursor:start]...)
		cursor = start

		for _, hl := range h.lines {
			switch hl.kind {
			case ' ':
				if cursor >= len(src) || !lineMatches(src[cursor], hl.text) {
					return "", fmt.Errorf("patch: hunk %d: context mismatch at line %d", i+1, cursor+1)
				}
				out = append(out, src[cursor])
				cursor++
			case '-':
				if cursor >= len(src) || !lineMatches(src[cursor], hl.text) {
					return "", fmt.Errorf("patch: hunk %d: deletion mismatch at line %d", i+1, cursor+1)
				}
				cursor++
			case '+':
				out = append(out, hl.text)
			}
		}
	}
	out = append(out, src[cursor:]...)
	return strings.Join(out, "\n"), nil
}

// locateHunk returns the index in src where the hunk's first context or
// deletion line sits. The stated old position wins when its content
// matches; otherwise the first content match at or after from is used.
// Pure-insertion hunks are placed after the old line named in the
// header, which is how unified diffs encode zero-length old ranges.
func locateHunk(src []string, h hunk, from int) (int, error) {
	var anchor string
	hasAnchor := false
	for _, hl := range h.lines {
		if hl.kind == ' ' || hl.kind == '-' {
			anchor = hl.text
			hasAnchor = true
			break
		}
	}

	if !hasAnchor {
		if h.oldStart == 0 && h.oldCount != 0 {
			return 0, errors.New("no context to locate a pure-insertion hunk")
		}
		idx := h.oldStart
		if idx < from {
			idx = from
		}
		if idx > len(src) {
			idx = len(src)
		}
		return idx, nil
	}

	if h.oldStart > 0 {
		idx := h.oldStart - 1
		if idx >= from && idx < len(src) && lineMatches(src[idx], anchor) {
			return idx, nil
		}
	}
	for i := from; i < len(src); i++ {
		if lineMatches(src[i], anchor) {
			return i, nil
		}
	}
	return 0, fmt.Errorf("context %q not found", anchor)
}

// lineMatches compares a file line against a hunk line, ignoring
// trailing whitespace on both sides.
func lineMatches(fileLine, hunkText string) bool {
	return strings.TrimRight(fileLine, " \t") == strings.TrimRight(hunkText, " \t")
}

func parseHunks(diff string) []hunk {
	var hunks []hunk
	var cur *hunk

	for _, line := range strings.Split(diff, "\n") {
		if m := hunkHeaderPattern.FindStringSubmatch(line); m != nil {
			oldStart, _ := strconv.Atoi(m[1])
			oldCount := 1
			if m[2] != "" {
				oldCount, _ = strconv.Atoi(m[2])
			}
			hunks = append(hunks, hunk{oldStart: oldStart, oldCount: oldCount})
			cur = &hunks[len(hunks)-1]
			continue
		}
		if strings.HasPrefix(line, "@@") {
			// Bare header without parseable numbers; content anchoring
			// carries the hunk.
			hunks = append(hunks, hunk{oldCount: -1})
			cur = &hunks[len(hunks)-1]
			continue
		}
		if strings.HasPrefix(line, "--- ") || strings.HasPrefix(line, "+++ ") ||
			strings.HasPrefix(line, "diff ") || strings.HasPrefix(line, "index ") {
			continue
		}
		if cur == nil {
			continue
		}
		switch {
		case strings.HasPrefix(line, "+"):
			cur.lines = append(cur.lines, hunkLine{'+', line[1:]})
		case strings.HasPrefix(line, "-"):
			cur.lines = append(cur.lines, hunkLine{'-', line[1:]})
		case strings.HasPrefix(line, `\`):
			// "\ No newline at end of file"
		default:
			cur.lines = append(cur.lines, hunkLine{' ', strings.TrimPrefix(line, " ")})
		}
	}

	// Trailing blank context lines are usually artifacts of a final
	// newline in the patch string, and blank anchors cannot locate
	// anything. Strip them so they never fail a match.
	for i := range hunks {
		lines := hunks[i].lines
		for len(lines) > 0 {
			last := lines[len(lines)-1]
			if last.kind == ' ' && strings.TrimSpace(last.text) == "" {
				lines = lines[:len(lines)-1]
				continue
			}
			break
		}
		hunks[i].lines = lines
	}
	return hunks
}
