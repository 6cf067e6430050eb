package review

import (
	"strconv"
	"strings"
)

// MapPosition translates a line number on the new side of a file into
// the diff position the forge review-comment API expects. The position
// counts every patch line after the first hunk header except hunk
// headers themselves and "\ No newline" markers. Deletion lines occupy
// a position but never advance the new-side line counter.
//
// Returns (0, false) when the line does not appear as an addition or
// context line anywhere in the patch, which callers treat as "comment
// cannot be placed inline". When the same new line appears in more than
// one hunk, the first hunk containing it wins.
func MapPosition(patch string, newLine int) (int, bool) {
	if patch == "" || newLine <= 0 {
		return 0, false
	}

	lines := strings.Split(patch, "\n")
	// A trailing newline in the patch produces one empty trailing
	// element; it is not a diff line.
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}

	position := 0
	currentNewLine := 0
	inHunk := false

	for _, line := range lines {
		if ns, ok := parseHunkNewStart(line); ok {
			currentNewLine = ns
			inHunk = true
			continue
		}
		if !inHunk {
			continue
		}
		if strings.HasPrefix(line, `\`) {
			continue
		}
		position++
		switch {
		case strings.HasPrefix(line, "+"):
			if currentNewLine == newLine {
				return position, true
			}
			currentNewLine++
		case strings.HasPrefix(line, "-"):
			// Old side only.
		default:
			if currentNewLine == newLine {
				return position, true
			}
			currentNewLine++
		}
	}
	return 0, false
}

// parseHunkNewStart extracts the new-side start line from a hunk header
// of the form "@@ -os,ol +ns,nl @@".
func parseHunkNewStart(line string) (int, bool) {
	if !strings.HasPrefix(line, "@@ -") {
		return 0, false
	}
	plus := strings.Index(line, " +")
	if plus < 0 {
		return 0, false
	}
	rest := line[plus+2:]
	end := strings.IndexAny(rest, ", @")
	if end < 0 {
		end = len(rest)
	}
	ns, err := strconv.Atoi(rest[:end])
	if err != nil {
		return 0, false
	}
	return ns, true
}
