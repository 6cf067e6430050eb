package review

import (
	"encoding/json"
	"fmt"

	"github.com/c360studio/semreview/llm"
)

// Model output is an untrusted string until it survives extraction,
// parsing, and schema validation. Validation errors here feed the
// format-correction loop, so messages name the offending field and
// value.

// ParseTriagePlan extracts and validates the planner's JSON output.
// Every filename the plan references must exist in the review context;
// a plan that invents files is rejected.
func ParseTriagePlan(content string, prCtx *PRContext) (*TriagePlan, error) {
	raw := llm.ExtractJSON(content)
	if raw == "" {
		return nil, fmt.Errorf("no JSON object found in planner response")
	}

	var plan TriagePlan
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		return nil, fmt.Errorf("parsing triage plan: %w", err)
	}

	if !validRiskLevel(plan.OverallRiskEstimate) {
		return nil, fmt.Errorf("overall_risk_estimate must be low, medium, or high, got %q", plan.OverallRiskEstimate)
	}

	known := prCtx.Filenames()
	for _, name := range plan.RiskRanking {
		if !known[name] {
			return nil, fmt.Errorf("risk_ranking references %q, which is not in the review context", name)
		}
	}
	for i, h := range plan.Hotspots {
		if !known[h.File] {
			return nil, fmt.Errorf("hotspots[%d] references %q, which is not in the review context", i, h.File)
		}
		if h.Reason == "" {
			return nil, fmt.Errorf("hotspots[%d] (%s) has an empty reason", i, h.File)
		}
	}
	for i, c := range plan.FileClusters {
		for _, name := range c.Files {
			if !known[name] {
				return nil, fmt.Errorf("file_clusters[%d] references %q, which is not in the review context", i, name)
			}
		}
		if c.TokenBudget < 0 {
			return nil, fmt.Errorf("file_clusters[%d] has a negative token_budget", i)
		}
	}
	for _, name := range plan.SkipFiles {
		if !known[name] {
			return nil, fmt.Errorf("skip_files references %q, which is not in the review context", name)
		}
	}
	return &plan, nil
}

// ParseReview extracts and validates the reviewer's JSON output.
func ParseReview(content string) (*Review, error) {
	raw := llm.ExtractJSON(content)
	if raw == "" {
		return nil, fmt.Errorf("no JSON object found in reviewer response")
	}

	var rev Review
	if err := json.Unmarshal([]byte(raw), &rev); err != nil {
		return nil, fmt.Errorf("parsing review: %w", err)
	}

	if rev.Summary == "" {
		return nil, fmt.Errorf("summary is required")
	}
	if !validRiskLevel(rev.OverallRisk) {
		return nil, fmt.Errorf("overall_risk must be low, medium, or high, got %q", rev.OverallRisk)
	}
	for i := range rev.Findings {
		if err := validateFinding(&rev.Findings[i]); err != nil {
			return nil, fmt.Errorf("findings[%d]: %w", i, err)
		}
	}
	for i, tc := range rev.TicketCompliance {
		if tc.TicketKey == "" {
			return nil, fmt.Errorf("ticket_compliance[%d]: ticket_key is required", i)
		}
	}
	return &rev, nil
}

func validateFinding(f *Finding) error {
	if f.Priority < 0 || f.Priority > 2 {
		return fmt.Errorf("priority must be 0, 1, or 2, got %d", f.Priority)
	}
	if !validFindingType(f.Type) {
		return fmt.Errorf("type must be one of bug, security, performance, style, tests, docs, got %q", f.Type)
	}
	if f.File == "" {
		return fmt.Errorf("file is required")
	}
	if f.Message == "" {
		return fmt.Errorf("message is required")
	}
	if f.StartLine == nil && f.EndLine != nil {
		return fmt.Errorf("end_line is set without start_line")
	}
	if f.StartLine != nil && *f.StartLine <= 0 {
		return fmt.Errorf("start_line must be positive, got %d", *f.StartLine)
	}
	if f.StartLine != nil && f.EndLine != nil && *f.EndLine < *f.StartLine {
		return fmt.Errorf("end_line %d precedes start_line %d", *f.EndLine, *f.StartLine)
	}
	return nil
}
