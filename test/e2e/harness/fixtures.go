package harness

import (
	"encoding/json"
	"fmt"

	"github.com/c360studio/semreview/review"
	"github.com/c360studio/semreview/test/e2e/config"
	"github.com/c360studio/semreview/test/e2e/forgemock"
)

// TokenFile is the changed file every scenario reviews.
const TokenFile = "auth/token.go"

// FindingLine is the new-side line the scripted finding targets. It is
// the second added line of AuthPatch, so inline placement resolves to
// diff position 6.
const FindingLine = 12

// ReviewSummary is the summary text of the scripted reviewer output.
const ReviewSummary = "Token expiry check is correct but the boundary now treats exactly-now tokens as expired."

// AuthPatch is the unified diff served for TokenFile. One hunk, three
// leading context lines, one deletion, two additions, three trailing
// context lines.
const AuthPatch = `@@ -8,7 +8,8 @@ func validateToken(tok *Token) error {
 	if tok == nil {
 		return errNilToken
 	}
-	if tok.ExpiresAt.After(time.Now()) {
+	now := time.Now()
+	if tok.ExpiresAt.Before(now) {
 		return errExpiredToken
 	}
 	return nil`

// GarbageCompletion parses as JSON but fails review schema validation,
// which is how scenarios provoke format retries without touching the
// endpoint health tracking.
const GarbageCompletion = `{"verdict":"ship it"}`

// BillingPull returns the PR fixture scenarios register on the mock
// forge. Scenarios use distinct numbers and head SHAs so idempotency
// claims never collide across runs.
func BillingPull(number int, headSHA string) forgemock.PullFixture {
	return forgemock.PullFixture{
		Number:  number,
		Title:   "Tighten token expiry validation",
		Body:    "Flips the expiry comparison so tokens expiring exactly now are treated as expired.",
		State:   "open",
		HeadRef: "feature/token-expiry",
		HeadSHA: headSHA,
		BaseRef: "main",
		Author:  "dev-a",
	}
}

// BillingFiles returns the changed-file listing matching BillingPull.
func BillingFiles() []forgemock.FileFixture {
	return []forgemock.FileFixture{{
		Filename:  TokenFile,
		Status:    "modified",
		Additions: 2,
		Deletions: 1,
		Patch:     AuthPatch,
	}}
}

// PullRequestOpenedPayload builds the webhook body for a pull_request
// opened delivery.
func PullRequestOpenedPayload(number int, headSHA string, draft bool) []byte {
	return mustJSON(map[string]any{
		"action": "opened",
		"number": number,
		"pull_request": map[string]any{
			"number": number,
			"state":  "open",
			"draft":  draft,
			"title":  "Tighten token expiry validation",
			"head":   map[string]any{"ref": "feature/token-expiry", "sha": headSHA},
			"base":   map[string]any{"ref": "main"},
			"user":   map[string]any{"login": "dev-a"},
		},
		"repository": map[string]any{
			"name":      config.RepoName,
			"full_name": config.RepoFullName,
			"owner":     map[string]any{"login": config.RepoOwner},
		},
	})
}

// PlanFixture returns a triage plan that passes planner validation
// against the BillingFiles context.
func PlanFixture() string {
	plan := review.TriagePlan{
		RiskRanking: []string{TokenFile},
		Hotspots: []review.Hotspot{{
			File:   TokenFile,
			Reason: "validateToken expiry comparison flipped from After to Before",
		}},
		FileClusters: []review.FileCluster{{
			ClusterLabel: "auth",
			Files:        []string{TokenFile},
			TokenBudget:  2000,
		}},
		OverallRiskEstimate: review.RiskMedium,
	}
	return string(mustJSON(plan))
}

// ReviewFixture returns a reviewer output with one finding at the given
// priority targeting FindingLine of TokenFile. The overall risk tracks
// the priority so check-run titles stay consistent.
func ReviewFixture(priority int) string {
	risk := review.RiskLow
	switch priority {
	case 0:
		risk = review.RiskHigh
	case 1:
		risk = review.RiskMedium
	}
	line := FindingLine
	rev := review.Review{
		Summary:     ReviewSummary,
		OverallRisk: risk,
		Findings: []review.Finding{{
			Priority:  priority,
			Type:      review.FindingBug,
			File:      TokenFile,
			StartLine: &line,
			Message:   "Tokens expiring exactly now are rejected; keep the boundary inclusive or document the change.",
			Evidence:  "if tok.ExpiresAt.Before(now) {",
		}},
		FilesReviewed: []string{TokenFile},
	}
	return string(mustJSON(rev))
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("marshal fixture: %v", err))
	}
	return data
}
