package review

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func buildOpts() BuildOptions {
	return BuildOptions{
		MaxReviewFiles:    50,
		MaxDiffBytes:      16 * 1024,
		MaxTotalDiffBytes: 256 * 1024,
		LargePatchPolicy:  LargePatchClip,
	}
}

func TestBuildContextOrdering(t *testing.T) {
	files := []ChangedFileEntry{
		{Filename: "small.go", Status: "modified", Changes: 2, Patch: "@@ -1 +1 @@\n-a\n+b"},
		{Filename: "big.go", Status: "modified", Changes: 40, Patch: "@@ -1 +1 @@\n-a\n+b"},
		{Filename: "mid.go", Status: "added", Changes: 10, Patch: "@@ -1 +1 @@\n-a\n+b"},
	}

	ctx, reviewed, skipped := BuildContext(PullRequestData{Title: "t"}, files, nil, buildOpts())

	want := []string{"big.go", "mid.go", "small.go"}
	for i, name := range want {
		if ctx.PullRequest.ChangedFiles[i].Filename != name {
			t.Errorf("ChangedFiles[%d] = %q, want %q", i, ctx.PullRequest.ChangedFiles[i].Filename, name)
		}
		if reviewed[i] != name {
			t.Errorf("reviewed[%d] = %q, want %q", i, reviewed[i], name)
		}
	}
	if len(skipped) != 0 {
		t.Errorf("skipped = %v, want none", skipped)
	}
	if ctx.TruncationNote != "" {
		t.Errorf("TruncationNote = %q, want empty", ctx.TruncationNote)
	}
}

func TestBuildContextSensitiveSkip(t *testing.T) {
	files := []ChangedFileEntry{
		{Filename: "config/.env", Status: "added", Changes: 3, Patch: "@@ -0,0 +1,1 @@\n+KEY=value"},
		{Filename: "main.go", Status: "modified", Changes: 1, Patch: "@@ -1 +1 @@\n-a\n+b"},
	}

	ctx, reviewed, skipped := BuildContext(PullRequestData{}, files, nil, buildOpts())

	if len(reviewed) != 1 || reviewed[0] != "main.go" {
		t.Errorf("reviewed = %v, want only main.go", reviewed)
	}
	if len(skipped) != 1 || skipped[0].Reason != SkipReasonSensitive {
		t.Errorf("skipped = %v, want config/.env as sensitive", skipped)
	}
	if !strings.Contains(ctx.TruncationNote, "config/.env") {
		t.Errorf("TruncationNote = %q, want mention of the skipped file", ctx.TruncationNote)
	}
}

func TestBuildContextExclusionGlobs(t *testing.T) {
	files := []ChangedFileEntry{
		{Filename: "yarn.lock", Status: "modified", Changes: 900},
		{Filename: "api/service.pb.go", Status: "modified", Changes: 500},
		{Filename: "vendor/lib/lib.go", Status: "modified", Changes: 100},
		{Filename: "docs/guide.md", Status: "modified", Changes: 5, Patch: "@@ -1 +1 @@\n-a\n+b"},
		{Filename: "main.go", Status: "modified", Changes: 3, Patch: "@@ -1 +1 @@\n-a\n+b"},
	}

	opts := buildOpts()
	opts.ExcludePatterns = []string{"docs/**"}

	_, reviewed, skipped := BuildContext(PullRequestData{}, files, nil, opts)

	if len(reviewed) != 1 || reviewed[0] != "main.go" {
		t.Errorf("reviewed = %v, want only main.go", reviewed)
	}
	for _, sk := range skipped {
		if sk.Reason != SkipReasonExcluded {
			t.Errorf("skip reason for %s = %q, want excluded", sk.Filename, sk.Reason)
		}
	}
	if len(skipped) != 4 {
		t.Errorf("skipped %d files, want 4", len(skipped))
	}
}

func TestBuildContextFileCountBudget(t *testing.T) {
	files := []ChangedFileEntry{
		{Filename: "a.go", Changes: 30, Patch: "@@ -1 +1 @@\n-a\n+b"},
		{Filename: "b.go", Changes: 20, Patch: "@@ -1 +1 @@\n-a\n+b"},
		{Filename: "c.go", Changes: 10, Patch: "@@ -1 +1 @@\n-a\n+b"},
	}

	opts := buildOpts()
	opts.MaxReviewFiles = 2

	_, reviewed, skipped := BuildContext(PullRequestData{}, files, nil, opts)

	if len(reviewed) != 2 {
		t.Fatalf("reviewed = %v, want 2 files", reviewed)
	}
	if reviewed[0] != "a.go" || reviewed[1] != "b.go" {
		t.Errorf("reviewed = %v, want the two largest changes", reviewed)
	}
	if len(skipped) != 1 || skipped[0].Filename != "c.go" || skipped[0].Reason != SkipReasonFileBudget {
		t.Errorf("skipped = %v, want c.go over file budget", skipped)
	}
}

func TestBuildContextClipPolicy(t *testing.T) {
	bigPatch := "@@ -1,1000 +1,1000 @@\n" + strings.Repeat("+x\n", 25000) // ~50 KB of ASCII

	files := []ChangedFileEntry{
		{Filename: "big.go", Status: "modified", Changes: 1000, Patch: bigPatch},
	}

	opts := buildOpts()
	opts.MaxDiffBytes = 8000
	opts.LargePatchPolicy = LargePatchClip

	ctx, reviewed, _ := BuildContext(PullRequestData{}, files, nil, opts)

	if len(reviewed) != 1 {
		t.Fatalf("reviewed = %v, want the clipped file admitted", reviewed)
	}
	entry := ctx.PullRequest.ChangedFiles[0]
	if !entry.PatchTruncated {
		t.Error("PatchTruncated = false, want true")
	}
	if len(entry.Patch) != 8000 {
		t.Errorf("len(Patch) = %d, want exactly the per-file budget for ASCII input", len(entry.Patch))
	}
	if ctx.TruncationNote == "" {
		t.Error("TruncationNote empty, want clip recorded")
	}
}

func TestBuildContextClipUTF8Boundary(t *testing.T) {
	// Fill up to the budget edge with multibyte runes; the cut must
	// land on a rune boundary even if that undershoots the budget.
	patch := "@@ -1 +1 @@\n+" + strings.Repeat("é", 100) // 2 bytes each

	files := []ChangedFileEntry{
		{Filename: "q.go", Changes: 1, Patch: patch},
	}
	opts := buildOpts()
	opts.MaxDiffBytes = 21 // mid-rune if cut byte-wise

	ctx, _, _ := BuildContext(PullRequestData{}, files, nil, opts)

	got := ctx.PullRequest.ChangedFiles[0].Patch
	if len(got) > 21 {
		t.Errorf("len(Patch) = %d, want at most the budget", len(got))
	}
	if !utf8.ValidString(got) {
		t.Errorf("Patch is not valid UTF-8 after clipping: %q", got)
	}
}

func TestBuildContextSkipPolicy(t *testing.T) {
	files := []ChangedFileEntry{
		{Filename: "big.go", Changes: 100, Patch: strings.Repeat("x", 9000)},
		{Filename: "small.go", Changes: 1, Patch: "@@ -1 +1 @@\n-a\n+b"},
	}

	opts := buildOpts()
	opts.MaxDiffBytes = 8000
	opts.LargePatchPolicy = LargePatchSkip

	_, reviewed, skipped := BuildContext(PullRequestData{}, files, nil, opts)

	if len(reviewed) != 1 || reviewed[0] != "small.go" {
		t.Errorf("reviewed = %v, want only small.go", reviewed)
	}
	if len(skipped) != 1 || skipped[0].Reason != SkipReasonPatchTooLarge {
		t.Errorf("skipped = %v, want big.go over per-file budget", skipped)
	}
}

func TestBuildContextTotalBudget(t *testing.T) {
	files := []ChangedFileEntry{
		{Filename: "a.go", Changes: 30, Patch: strings.Repeat("a", 4000)},
		{Filename: "b.go", Changes: 20, Patch: strings.Repeat("b", 4000)},
		{Filename: "c.go", Changes: 10, Patch: strings.Repeat("c", 4000)},
	}

	opts := buildOpts()
	opts.MaxTotalDiffBytes = 9000

	_, reviewed, skipped := BuildContext(PullRequestData{}, files, nil, opts)

	if len(reviewed) != 2 {
		t.Fatalf("reviewed = %v, want first two files", reviewed)
	}
	if len(skipped) != 1 || skipped[0].Filename != "c.go" || skipped[0].Reason != SkipReasonTotalExhausted {
		t.Errorf("skipped = %v, want c.go over total budget", skipped)
	}
}

func TestBuildContextTruncationNoteFirstFive(t *testing.T) {
	files := make([]ChangedFileEntry, 8)
	for i := range files {
		files[i] = ChangedFileEntry{
			Filename: string(rune('a'+i)) + ".lock",
			Changes:  8 - i,
		}
	}

	ctx, _, skipped := BuildContext(PullRequestData{}, files, nil, buildOpts())

	if len(skipped) != 8 {
		t.Fatalf("skipped %d files, want 8", len(skipped))
	}
	note := ctx.TruncationNote
	if !strings.Contains(note, "and 3 more") {
		t.Errorf("TruncationNote = %q, want overflow count", note)
	}
	if strings.Count(note, "excluded by pattern") != 5 {
		t.Errorf("TruncationNote = %q, want exactly five spelled-out reasons", note)
	}
}

func TestBuildContextBodyClamp(t *testing.T) {
	pr := PullRequestData{Body: strings.Repeat("é", 1500)}

	ctx, _, _ := BuildContext(pr, nil, nil, buildOpts())

	body := ctx.PullRequest.Body
	if utf8.RuneCountInString(body) != 1000 {
		t.Errorf("body rune count = %d, want 1000", utf8.RuneCountInString(body))
	}
	if !utf8.ValidString(body) {
		t.Error("body is not valid UTF-8 after clamping")
	}
}

func TestBuildContextTotalsAndTickets(t *testing.T) {
	files := []ChangedFileEntry{
		{Filename: "kept.go", Changes: 5, Additions: 4, Deletions: 1, Patch: "@@ -1 +1 @@\n-a\n+b"},
		{Filename: "skipped.lock", Changes: 100, Additions: 90, Deletions: 10},
	}

	ctx, _, _ := BuildContext(PullRequestData{Title: "CORE-7 work"}, files, []string{"CORE-7"}, buildOpts())

	// Totals describe the full change set, including skipped files.
	if ctx.PullRequest.Totals.Files != 2 {
		t.Errorf("Totals.Files = %d, want 2", ctx.PullRequest.Totals.Files)
	}
	if ctx.PullRequest.Totals.Additions != 94 || ctx.PullRequest.Totals.Deletions != 11 {
		t.Errorf("Totals = %+v, want additions 94 deletions 11", ctx.PullRequest.Totals)
	}
	if len(ctx.LinkedJiraIssues) != 1 || ctx.LinkedJiraIssues[0] != "CORE-7" {
		t.Errorf("LinkedJiraIssues = %v, want CORE-7", ctx.LinkedJiraIssues)
	}
}
