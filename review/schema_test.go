package review

import (
	"strings"
	"testing"
)

func planContext() *PRContext {
	return &PRContext{
		PullRequest: PullRequestInfo{
			ChangedFiles: []ChangedFileEntry{
				{Filename: "auth/token.go"},
				{Filename: "auth/token_test.go"},
				{Filename: "docs/readme.md"},
			},
		},
	}
}

func TestParseTriagePlan(t *testing.T) {
	content := "Here is the plan:\n```json\n" + `{
  "risk_ranking": ["auth/token.go", "auth/token_test.go"],
  "hotspots": [{"file": "auth/token.go", "reason": "verifySignature skips expiry check at line 80"}],
  "file_clusters": [{"cluster_label": "auth", "files": ["auth/token.go", "auth/token_test.go"], "token_budget": 2000}],
  "skip_files": ["docs/readme.md"],
  "overall_risk_estimate": "high"
}` + "\n```\n"

	plan, err := ParseTriagePlan(content, planContext())
	if err != nil {
		t.Fatalf("ParseTriagePlan() error = %v", err)
	}
	if plan.OverallRiskEstimate != RiskHigh {
		t.Errorf("OverallRiskEstimate = %q, want high", plan.OverallRiskEstimate)
	}
	if len(plan.Hotspots) != 1 || plan.Hotspots[0].File != "auth/token.go" {
		t.Errorf("Hotspots = %+v", plan.Hotspots)
	}
	if len(plan.FileClusters) != 1 || plan.FileClusters[0].TokenBudget != 2000 {
		t.Errorf("FileClusters = %+v", plan.FileClusters)
	}
}

func TestParseTriagePlanErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "no JSON",
			content: "I could not produce a plan.",
			wantErr: "no JSON object found",
		},
		{
			name:    "malformed JSON",
			content: `{"risk_ranking": [`,
			wantErr: "no JSON object found",
		},
		{
			name:    "bad risk enum",
			content: `{"risk_ranking": [], "overall_risk_estimate": "severe"}`,
			wantErr: "overall_risk_estimate",
		},
		{
			name:    "invented ranking file",
			content: `{"risk_ranking": ["made/up.go"], "overall_risk_estimate": "low"}`,
			wantErr: "not in the review context",
		},
		{
			name:    "invented hotspot file",
			content: `{"hotspots": [{"file": "ghost.go", "reason": "x"}], "overall_risk_estimate": "low"}`,
			wantErr: "hotspots[0]",
		},
		{
			name:    "empty hotspot reason",
			content: `{"hotspots": [{"file": "auth/token.go", "reason": ""}], "overall_risk_estimate": "low"}`,
			wantErr: "empty reason",
		},
		{
			name:    "invented cluster file",
			content: `{"file_clusters": [{"cluster_label": "x", "files": ["nope.go"], "token_budget": 1}], "overall_risk_estimate": "low"}`,
			wantErr: "file_clusters[0]",
		},
		{
			name:    "negative token budget",
			content: `{"file_clusters": [{"cluster_label": "x", "files": ["auth/token.go"], "token_budget": -5}], "overall_risk_estimate": "low"}`,
			wantErr: "negative token_budget",
		},
		{
			name:    "invented skip file",
			content: `{"skip_files": ["invented.go"], "overall_risk_estimate": "low"}`,
			wantErr: "skip_files",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTriagePlan(tt.content, planContext())
			if err == nil {
				t.Fatal("ParseTriagePlan() error = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseReview(t *testing.T) {
	content := "```json\n" + `{
  "summary": "Token validation misses expiry",
  "overall_risk": "medium",
  "findings": [
    {
      "priority": 0,
      "type": "security",
      "file": "auth/token.go",
      "start_line": 80,
      "end_line": 84,
      "message": "Expired tokens are accepted",
      "evidence": "verifySignature returns before the exp check",
      "suggested_patch": null
    },
    {
      "priority": 2,
      "type": "style",
      "file": "auth/token.go",
      "start_line": null,
      "end_line": null,
      "message": "Exported function lacks a doc comment",
      "suggested_patch": null
    }
  ],
  "suggested_tests": ["expired token is rejected"],
  "risk_hotspots": ["auth/token.go"],
  "files_reviewed": ["auth/token.go"],
  "files_skipped": [],
  "truncation_note": null,
  "not_reviewed": null,
  "ticket_compliance": null
}` + "\n```"

	rev, err := ParseReview(content)
	if err != nil {
		t.Fatalf("ParseReview() error = %v", err)
	}
	if rev.OverallRisk != RiskMedium {
		t.Errorf("OverallRisk = %q, want medium", rev.OverallRisk)
	}
	if len(rev.Findings) != 2 {
		t.Fatalf("len(Findings) = %d, want 2", len(rev.Findings))
	}
	if rev.Findings[0].StartLine == nil || *rev.Findings[0].StartLine != 80 {
		t.Errorf("Findings[0].StartLine = %v, want 80", rev.Findings[0].StartLine)
	}
	if rev.Findings[1].StartLine != nil {
		t.Errorf("Findings[1].StartLine = %v, want nil", rev.Findings[1].StartLine)
	}
	if rev.TicketCompliance != nil {
		t.Errorf("TicketCompliance = %v, want nil", rev.TicketCompliance)
	}
}

func TestParseReviewTicketCompliance(t *testing.T) {
	content := `{
  "summary": "ok",
  "overall_risk": "low",
  "findings": [],
  "suggested_tests": [],
  "risk_hotspots": [],
  "files_reviewed": [],
  "files_skipped": [],
  "truncation_note": null,
  "not_reviewed": null,
  "ticket_compliance": [
    {"ticket_key": "CORE-12", "ticket_summary": "Add expiry check", "fully_compliant": ["expiry validated"], "not_compliant": [], "needs_human_verification": ["load behavior"]}
  ]
}`

	rev, err := ParseReview(content)
	if err != nil {
		t.Fatalf("ParseReview() error = %v", err)
	}
	if len(rev.TicketCompliance) != 1 || rev.TicketCompliance[0].TicketKey != "CORE-12" {
		t.Errorf("TicketCompliance = %+v", rev.TicketCompliance)
	}
}

func TestParseReviewErrors(t *testing.T) {
	finding := func(body string) string {
		return `{"summary": "s", "overall_risk": "low", "findings": [` + body + `]}`
	}

	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "no JSON",
			content: "nothing here",
			wantErr: "no JSON object found",
		},
		{
			name:    "missing summary",
			content: `{"overall_risk": "low"}`,
			wantErr: "summary is required",
		},
		{
			name:    "bad risk",
			content: `{"summary": "s", "overall_risk": "extreme"}`,
			wantErr: "overall_risk",
		},
		{
			name:    "priority out of range",
			content: finding(`{"priority": 3, "type": "bug", "file": "a.go", "message": "m"}`),
			wantErr: "priority must be 0, 1, or 2",
		},
		{
			name:    "unknown type",
			content: finding(`{"priority": 1, "type": "typo", "file": "a.go", "message": "m"}`),
			wantErr: "type must be one of",
		},
		{
			name:    "missing file",
			content: finding(`{"priority": 1, "type": "bug", "message": "m"}`),
			wantErr: "file is required",
		},
		{
			name:    "end without start",
			content: finding(`{"priority": 1, "type": "bug", "file": "a.go", "message": "m", "end_line": 4}`),
			wantErr: "end_line is set without start_line",
		},
		{
			name:    "end precedes start",
			content: finding(`{"priority": 1, "type": "bug", "file": "a.go", "message": "m", "start_line": 9, "end_line": 3}`),
			wantErr: "precedes start_line",
		},
		{
			name:    "zero start line",
			content: finding(`{"priority": 1, "type": "bug", "file": "a.go", "message": "m", "start_line": 0, "end_line": 3}`),
			wantErr: "start_line must be positive",
		},
		{
			name:    "compliance without key",
			content: `{"summary": "s", "overall_risk": "low", "ticket_compliance": [{"ticket_summary": "x"}]}`,
			wantErr: "ticket_key is required",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseReview(tt.content)
			if err == nil {
				t.Fatal("ParseReview() error = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want mention of %q", err, tt.wantErr)
			}
		})
	}
}
