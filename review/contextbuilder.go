package review

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

// Large-patch policies.
const (
	// LargePatchClip truncates oversized patches to the per-file
	// budget.
	LargePatchClip = "clip"
	// LargePatchSkip excludes oversized files from the context.
	LargePatchSkip = "skip"
)

// maxBodyChars clamps the PR body carried into the review context.
const maxBodyChars = 1000

// maxNoteReasons bounds how many skip reasons the truncation note
// spells out.
const maxNoteReasons = 5

// Skip reasons recorded for excluded files. Stable strings; they appear
// in truncation notes and review output.
const (
	SkipReasonSensitive      = "sensitive path"
	SkipReasonExcluded       = "excluded by pattern"
	SkipReasonFileBudget     = "file count budget exhausted"
	SkipReasonPatchTooLarge  = "patch exceeds per-file budget"
	SkipReasonTotalExhausted = "total diff budget exhausted"
)

// DefaultExcludePatterns are the built-in exclusion globs. Generated
// and vendored content wastes review budget without producing
// actionable findings.
var DefaultExcludePatterns = []string{
	"**/*.lock",
	"**/package-lock.json",
	"**/yarn.lock",
	"**/go.sum",
	"**/*.min.js",
	"**/*.min.css",
	"**/*.pb.go",
	"**/*.generated.*",
	"**/vendor/**",
	"**/node_modules/**",
	"**/dist/**",
}

// PullRequestData is the forge-independent PR snapshot consumed by the
// context builder.
type PullRequestData struct {
	Title   string
	Body    string
	BaseRef string
	HeadRef string
}

// BuildOptions carries the selection budgets and exclusion patterns.
type BuildOptions struct {
	// MaxReviewFiles caps how many files enter the context.
	MaxReviewFiles int

	// MaxDiffBytes caps a single file's patch size.
	MaxDiffBytes int

	// MaxTotalDiffBytes caps the combined size of admitted patches.
	MaxTotalDiffBytes int

	// LargePatchPolicy is clip or skip; empty means clip.
	LargePatchPolicy string

	// ExcludePatterns are merged with DefaultExcludePatterns. Both the
	// service-level skip patterns and the repo policy's ignore
	// patterns arrive here.
	ExcludePatterns []string
}

// BuildContext selects, clips, and annotates changed files under the
// configured budgets and returns the prompt context, the admitted
// filenames, and the skip records. Files are considered in descending
// change-count order so the biggest changes survive budget exhaustion.
//
// Selection applies these rules in order per file: sensitive paths are
// skipped, exclusion globs are skipped, the file-count budget is
// enforced, oversized patches are clipped or skipped per policy, and
// the total byte budget is enforced on what remains.
func BuildContext(pr PullRequestData, files []ChangedFileEntry, ticketKeys []string, opts BuildOptions) (*PRContext, []string, []SkippedFile) {
	sorted := make([]ChangedFileEntry, len(files))
	copy(sorted, files)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Changes > sorted[j].Changes
	})

	patterns := make([]string, 0, len(DefaultExcludePatterns)+len(opts.ExcludePatterns))
	patterns = append(patterns, DefaultExcludePatterns...)
	patterns = append(patterns, opts.ExcludePatterns...)

	var (
		admitted   []ChangedFileEntry
		reviewed   []string
		skipped    []SkippedFile
		clipped    []string
		totalBytes int
	)

	for _, f := range sorted {
		switch {
		case SensitivePath(f.Filename):
			skipped = append(skipped, SkippedFile{Filename: f.Filename, Reason: SkipReasonSensitive})
			continue
		case matchesAny(patterns, f.Filename):
			skipped = append(skipped, SkippedFile{Filename: f.Filename, Reason: SkipReasonExcluded})
			continue
		case opts.MaxReviewFiles > 0 && len(admitted) >= opts.MaxReviewFiles:
			skipped = append(skipped, SkippedFile{Filename: f.Filename, Reason: SkipReasonFileBudget})
			continue
		}

		entry := f
		if opts.MaxDiffBytes > 0 && len(entry.Patch) > opts.MaxDiffBytes {
			if opts.LargePatchPolicy == LargePatchSkip {
				skipped = append(skipped, SkippedFile{Filename: f.Filename, Reason: SkipReasonPatchTooLarge})
				continue
			}
			entry.Patch = truncateUTF8(entry.Patch, opts.MaxDiffBytes)
			entry.PatchTruncated = true
			clipped = append(clipped, entry.Filename)
		}

		if opts.MaxTotalDiffBytes > 0 && totalBytes+len(entry.Patch) > opts.MaxTotalDiffBytes {
			skipped = append(skipped, SkippedFile{Filename: f.Filename, Reason: SkipReasonTotalExhausted})
			continue
		}

		totalBytes += len(entry.Patch)
		admitted = append(admitted, entry)
		reviewed = append(reviewed, entry.Filename)
	}

	totals := ChangeTotals{Files: len(files)}
	for _, f := range files {
		totals.Additions += f.Additions
		totals.Deletions += f.Deletions
	}

	ctx := &PRContext{
		PullRequest: PullRequestInfo{
			Title:        pr.Title,
			Body:         clampRunes(pr.Body, maxBodyChars),
			BaseRef:      pr.BaseRef,
			HeadRef:      pr.HeadRef,
			Totals:       totals,
			ChangedFiles: admitted,
		},
		LinkedJiraIssues: ticketKeys,
		TruncationNote:   truncationNote(skipped, clipped),
	}
	return ctx, reviewed, skipped
}

// truncationNote summarizes the first few skip reasons and any clipped
// patches in one line. Empty when the context is complete.
func truncationNote(skipped []SkippedFile, clipped []string) string {
	if len(skipped) == 0 && len(clipped) == 0 {
		return ""
	}
	var b strings.Builder
	if len(skipped) > 0 {
		b.WriteString("Some files were not reviewed: ")
		n := len(skipped)
		if n > maxNoteReasons {
			n = maxNoteReasons
		}
		for i := 0; i < n; i++ {
			if i > 0 {
				b.WriteString("; ")
			}
			fmt.Fprintf(&b, "%s (%s)", skipped[i].Filename, skipped[i].Reason)
		}
		if rest := len(skipped) - n; rest > 0 {
			fmt.Fprintf(&b, "; and %d more", rest)
		}
		b.WriteString(".")
	}
	if len(clipped) > 0 {
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "Some patches were clipped to the per-file byte budget: %s.", strings.Join(clipped, ", "))
	}
	return b.String()
}

// truncateUTF8 cuts s to at most max bytes without splitting a rune.
func truncateUTF8(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// clampRunes cuts s to at most max runes.
func clampRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}
