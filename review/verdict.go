package review

import "sort"

// Check-run conclusions posted to the forge.
const (
	ConclusionSuccess = "success"
	ConclusionNeutral = "neutral"
	ConclusionFailure = "failure"
)

// FailureNone disables failing verdicts entirely; every review posts
// as neutral regardless of findings.
const FailureNone = "none"

// severityRank orders severities for threshold comparison.
var severityRank = map[string]int{
	RiskLow:    1,
	RiskMedium: 2,
	RiskHigh:   3,
}

// ApplyPolicyFilters drops finding categories the policy disables and
// caps the count at NumMaxFindings, keeping the most severe findings.
// Runs after sanitization and before verdict derivation, so a disabled
// category can never flip the conclusion.
func ApplyPolicyFilters(findings []Finding, policy *RepoPolicy) []Finding {
	kept := make([]Finding, 0, len(findings))
	for _, f := range findings {
		if f.Type == FindingSecurity && !policy.RequireSecurityReview {
			continue
		}
		if f.Type == FindingTests && !policy.RequireTestsReview {
			continue
		}
		kept = append(kept, f)
	}

	if policy.NumMaxFindings > 0 && len(kept) > policy.NumMaxFindings {
		sort.SliceStable(kept, func(i, j int) bool {
			return kept[i].Priority < kept[j].Priority
		})
		kept = kept[:policy.NumMaxFindings]
	}
	return kept
}

// DeriveVerdict returns the check-run conclusion for the filtered
// findings under the policy threshold. A threshold of none always
// yields neutral. Otherwise the conclusion is failure when any finding
// reaches the threshold severity, neutral when none do. Trigger kind
// never changes the semantics; manual and rerun reviews fail on the
// same terms as automatic ones.
func DeriveVerdict(findings []Finding, policy *RepoPolicy) string {
	threshold := policy.FailureOnSeverity
	if threshold == "" || threshold == FailureNone {
		return ConclusionNeutral
	}
	want, ok := severityRank[threshold]
	if !ok {
		return ConclusionNeutral
	}
	for _, f := range findings {
		if severityRank[f.Severity()] >= want {
			return ConclusionFailure
		}
	}
	return ConclusionNeutral
}
