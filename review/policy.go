package review

import (
	"fmt"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// PolicyPath is where the per-repo policy file lives, read from the
// PR's default branch.
const PolicyPath = ".ai-reviewer.yml"

// Review comment modes.
const (
	// ModeInlineBestEffort posts inline comments for every finding
	// whose diff position could be mapped and keeps the rest in the
	// summary body.
	ModeInlineBestEffort = "inline_best_effort"
	// ModeStrictInline drops findings that cannot be positioned
	// inline, including file-level findings with no line.
	ModeStrictInline = "strict_inline"
	// ModeSummaryOnly emits no inline comments at all.
	ModeSummaryOnly = "summary_only"
)

// RepoPolicy is the per-repository review policy, loaded once per
// message from the default branch and never mutated afterwards. Unknown
// keys in the file are ignored; a missing file means all defaults.
type RepoPolicy struct {
	// FailureOnSeverity is none, low, medium, or high. With none the
	// conclusion is always neutral.
	FailureOnSeverity string `yaml:"failure_on_severity" json:"failure_on_severity"`

	// SkipDraftPRs skips auto-triggered reviews of draft PRs.
	SkipDraftPRs bool `yaml:"skip_draft_prs" json:"skip_draft_prs"`

	// PostReviewComment selects the output surface: a PR review with
	// inline comments when true, a check run only when false.
	PostReviewComment bool `yaml:"post_review_comment" json:"post_review_comment"`

	// ReviewCommentMode is one of the Mode* constants.
	ReviewCommentMode string `yaml:"review_comment_mode" json:"review_comment_mode"`

	// RequireSecurityReview keeps security findings; false drops them
	// before the verdict.
	RequireSecurityReview bool `yaml:"require_security_review" json:"require_security_review"`

	// RequireTestsReview keeps tests findings; false drops them before
	// the verdict.
	RequireTestsReview bool `yaml:"require_tests_review" json:"require_tests_review"`

	// NumMaxFindings caps reported findings, most severe first. Zero
	// or negative means no cap.
	NumMaxFindings int `yaml:"num_max_findings" json:"num_max_findings"`

	// IgnorePatterns are extra file-exclusion globs merged with the
	// service-level skip patterns at context-build time.
	IgnorePatterns []string `yaml:"ignore_patterns" json:"ignore_patterns,omitempty"`

	// SkipBranchPatterns skip reviews for matching head branches, such
	// as release/* or renovate/*.
	SkipBranchPatterns []string `yaml:"skip_branch_patterns" json:"skip_branch_patterns,omitempty"`

	// SkipAuthorPatterns skip reviews for matching PR authors, such as
	// dependabot* or renovate*.
	SkipAuthorPatterns []string `yaml:"skip_author_patterns" json:"skip_author_patterns,omitempty"`
}

// DefaultPolicy returns the policy applied when a repo has no
// .ai-reviewer.yml or the file cannot be parsed.
func DefaultPolicy() *RepoPolicy {
	return &RepoPolicy{
		FailureOnSeverity:     FailureNone,
		SkipDraftPRs:          true,
		PostReviewComment:     true,
		ReviewCommentMode:     ModeInlineBestEffort,
		RequireSecurityReview: true,
		RequireTestsReview:    true,
		NumMaxFindings:        20,
	}
}

// ParsePolicy parses policy file contents over the defaults. Keys
// absent from the file keep their defaults; unknown keys are ignored.
// On error the caller should fall back to DefaultPolicy.
func ParsePolicy(data []byte) (*RepoPolicy, error) {
	policy := DefaultPolicy()
	if err := yaml.Unmarshal(data, policy); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", PolicyPath, err)
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return policy, nil
}

// Validate checks the enumerated fields.
func (p *RepoPolicy) Validate() error {
	switch p.FailureOnSeverity {
	case FailureNone, RiskLow, RiskMedium, RiskHigh:
	default:
		return fmt.Errorf("failure_on_severity must be none, low, medium, or high, got %q", p.FailureOnSeverity)
	}
	switch p.ReviewCommentMode {
	case ModeInlineBestEffort, ModeStrictInline, ModeSummaryOnly:
	default:
		return fmt.Errorf("review_comment_mode must be %s, %s, or %s, got %q",
			ModeInlineBestEffort, ModeStrictInline, ModeSummaryOnly, p.ReviewCommentMode)
	}
	return nil
}

// SkipDecision evaluates the pre-review skip policy against the PR.
// Manual and rerun triggers bypass the policy entirely: a human asked
// for this review. The returned reason is a stable metric label.
func (p *RepoPolicy) SkipDecision(draft bool, headRef, author, trigger string) (string, bool) {
	if trigger == TriggerManual || trigger == TriggerRerun {
		return "", false
	}
	if draft && p.SkipDraftPRs {
		return "draft_pr", true
	}
	if matchesAny(p.SkipBranchPatterns, headRef) {
		return "branch_skipped", true
	}
	if matchesAny(p.SkipAuthorPatterns, author) {
		return "author_skipped", true
	}
	return "", false
}

// matchesAny reports whether value matches any of the glob patterns.
// Malformed patterns are skipped rather than failing the review.
func matchesAny(patterns []string, value string) bool {
	for _, pattern := range patterns {
		ok, err := doublestar.Match(pattern, value)
		if err == nil && ok {
			return true
		}
	}
	return false
}
