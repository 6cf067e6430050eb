package review

import (
	"encoding/json"
	"fmt"
	"strings"
)

// PlannerSystemPrompt returns the system prompt for the triage stage.
func PlannerSystemPrompt() string {
	return `You are a senior engineer triaging a pull request before code review. You do not review the code yourself; you decide where review attention should go.

## Your Objective

Study the changed files and produce a triage plan:

1. Rank every file from most to least likely to contain a defect
2. Identify risk hotspots: specific functions, line ranges, or patterns that deserve the closest look
3. Group related files into clusters so the reviewer can consider them together
4. Allocate a token budget per cluster, spending more on risky clusters
5. Mark files that need no deep review (mechanical renames, data-only changes)
6. Estimate the overall risk of the change set

## Output Format

Respond with JSON only:

` + "```json" + `
{
  "risk_ranking": ["path/most_risky.go", "path/less_risky.go"],
  "hotspots": [
    {"file": "path/most_risky.go", "reason": "ValidateToken ignores the error from ParseWithClaims on lines 40-52"}
  ],
  "file_clusters": [
    {"cluster_label": "auth flow", "files": ["path/most_risky.go"], "token_budget": 2000}
  ],
  "skip_files": ["path/renamed_only.go"],
  "overall_risk_estimate": "medium"
}
` + "```" + `

## Guidelines

- Use only filenames that appear in the changed files; never invent paths
- Every hotspot reason must cite a function name, a line range, or a concrete token from the diff
- overall_risk_estimate is low, medium, or high
- Every file belongs to exactly one cluster or to skip_files
- Respond with the JSON object only, no markdown prose around it`
}

// ReviewerSystemPrompt returns the system prompt for the review stage.
func ReviewerSystemPrompt() string {
	return `You are a principal engineer reviewing a pull request. A triage plan tells you where to spend attention; the diff is the ground truth.

## Your Objective

Produce a structured review:

1. Summarize what the change does and how risky it is
2. Report findings: concrete defects or risks, each tied to a file and, where possible, a line range
3. Suggest tests the change needs but does not include
4. List residual risk hotspots a human should look at
5. When tickets are linked, assess how the change tracks each ticket's requirements

## Finding Rules

- priority: 0 for defects that must block merge, 1 for issues that should be fixed, 2 for minor improvements
- type: bug, security, performance, style, tests, or docs
- start_line and end_line address the new side of the diff; use null for both on file-level findings, and never set end_line without start_line
- suggested_patch is a unified diff with correct hunk headers, or null when you have no concrete fix; never invent code you cannot see
- evidence quotes the diff text that supports the finding

## Output Format

Respond with JSON only:

` + "```json" + `
{
  "summary": "Adds JWT validation to the ingest path.",
  "overall_risk": "medium",
  "findings": [
    {
      "priority": 1,
      "type": "bug",
      "file": "internal/auth.go",
      "start_line": 42,
      "end_line": 45,
      "message": "The parse error is discarded, so expired tokens pass validation.",
      "evidence": "token, _ := jwt.ParseWithClaims(raw, claims, keyFunc)",
      "suggested_patch": "@@ -42,1 +42,4 @@\n-\ttoken, _ := jwt.ParseWithClaims(raw, claims, keyFunc)\n+\ttoken, err := jwt.ParseWithClaims(raw, claims, keyFunc)\n+\tif err != nil {\n+\t\treturn nil, err\n+\t}"
    }
  ],
  "suggested_tests": ["Expired token is rejected by ValidateToken"],
  "risk_hotspots": ["Key rotation path is untested"],
  "files_reviewed": ["internal/auth.go"],
  "files_skipped": [],
  "truncation_note": null,
  "not_reviewed": null,
  "ticket_compliance": null
}
` + "```" + `

## Guidelines

- Report only what the diff supports; do not speculate about unseen code
- Prefer a few high-signal findings over many trivial ones
- When ticket details are provided, fill ticket_compliance with one entry per ticket and sort each requirement into fully_compliant, not_compliant, or needs_human_verification
- When no tickets are linked, ticket_compliance is null
- Respond with the JSON object only, no markdown prose around it`
}

// PlannerUserPrompt renders the review context for the triage stage.
func PlannerUserPrompt(prCtx *PRContext) string {
	var b strings.Builder
	b.WriteString("Triage the following pull request.\n\n")
	writeContext(&b, prCtx)
	return b.String()
}

// ReviewerUserPrompt renders the review context plus the accepted
// triage plan for the review stage.
func ReviewerUserPrompt(prCtx *PRContext, plan *TriagePlan) (string, error) {
	var b strings.Builder
	b.WriteString("Review the following pull request.\n\n")
	writeContext(&b, prCtx)

	planJSON, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling triage plan: %w", err)
	}
	b.WriteString("\n# Triage Plan\n\n")
	b.WriteString("Spend your attention according to this plan. Files in skip_files need only a glance.\n\n")
	b.WriteString("```json\n")
	b.Write(planJSON)
	b.WriteString("\n```\n")
	return b.String(), nil
}

// writeContext renders the shared PR context block used by both stage
// prompts.
func writeContext(b *strings.Builder, prCtx *PRContext) {
	pr := &prCtx.PullRequest

	b.WriteString("# Pull Request\n\n")
	fmt.Fprintf(b, "Title: %s\n", pr.Title)
	fmt.Fprintf(b, "Branch: %s into %s\n", pr.HeadRef, pr.BaseRef)
	fmt.Fprintf(b, "Change set: %d files, +%d -%d\n", pr.Totals.Files, pr.Totals.Additions, pr.Totals.Deletions)

	b.WriteString("\n## Description\n\n")
	if pr.Body == "" {
		b.WriteString("(no description)\n")
	} else {
		b.WriteString(pr.Body)
		b.WriteString("\n")
	}

	if len(prCtx.LinkedJiraIssues) > 0 {
		b.WriteString("\n## Linked Tickets\n\n")
		for _, key := range prCtx.LinkedJiraIssues {
			fmt.Fprintf(b, "- %s\n", key)
		}
	}

	b.WriteString("\n## Changed Files\n")
	for _, f := range pr.ChangedFiles {
		fmt.Fprintf(b, "\n### %s (%s, +%d -%d)\n\n", f.Filename, f.Status, f.Additions, f.Deletions)
		if f.Patch == "" {
			b.WriteString("(no diff available)\n")
			continue
		}
		b.WriteString("```diff\n")
		b.WriteString(f.Patch)
		b.WriteString("\n```\n")
		if f.PatchTruncated {
			b.WriteString("(diff truncated to the per-file byte budget)\n")
		}
	}

	if prCtx.TruncationNote != "" {
		fmt.Fprintf(b, "\n## Truncation Note\n\n%s\n", prCtx.TruncationNote)
	}
}

// formatCorrectionPrompt asks the model to fix unparseable output. The
// parse error is included verbatim so the model can see what broke.
func formatCorrectionPrompt(parseErr error) string {
	return fmt.Sprintf(`Your previous response could not be used: %v

Respond again with ONLY the JSON object in the format given in the system prompt. No explanation, no markdown fences, no text before or after the JSON.`, parseErr)
}
