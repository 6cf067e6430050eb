// Package review defines the data model and pipeline stages for
// automated pull-request review: the canonical event consumed from the
// queue, context building under byte budgets, the two LLM stages with
// schema-validated output, finding sanitization, verdict derivation,
// and markdown rendering.
package review

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Trigger values carried by a canonical event.
const (
	// TriggerAuto marks reviews started by PR lifecycle events.
	TriggerAuto = "auto"
	// TriggerManual marks reviews requested through a comment command.
	TriggerManual = "manual"
	// TriggerRerun marks reviews restarted from the forge check UI.
	TriggerRerun = "rerun"
)

// Risk levels shared by the planner estimate and the reviewer verdict.
const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

// Finding types the reviewer may emit.
const (
	FindingBug         = "bug"
	FindingSecurity    = "security"
	FindingPerformance = "performance"
	FindingStyle       = "style"
	FindingTests       = "tests"
	FindingDocs        = "docs"
)

var headSHAPattern = regexp.MustCompile(`^[0-9a-f]{40}$`)

// CanonicalEvent is the queue message produced by the webhook gateway
// and consumed by the review worker. Consumers tolerate unknown fields.
type CanonicalEvent struct {
	// DeliveryID is the opaque forge delivery identifier.
	DeliveryID string `json:"delivery_id"`

	// RepoFullName is the owner/name pair.
	RepoFullName string `json:"repo_full_name"`

	// PRNumber is the pull request number, always positive.
	PRNumber int `json:"pr_number"`

	// HeadSHA is the 40-hex commit under review.
	HeadSHA string `json:"head_sha"`

	// InstallationID overrides the configured forge installation when
	// nonzero.
	InstallationID int64 `json:"installation_id,omitempty"`

	// EventAction is the raw forge action, kept for diagnostics.
	EventAction string `json:"event_action"`

	// Trigger is auto, manual, or rerun.
	Trigger string `json:"trigger"`

	// BaseRef is the target branch when the payload carried it.
	BaseRef string `json:"base_ref,omitempty"`

	// ReceivedAt is when the gateway accepted the delivery.
	ReceivedAt time.Time `json:"received_at,omitempty"`

	// TraceID correlates the event across logs and LLM call records.
	TraceID string `json:"trace_id,omitempty"`
}

// Validate checks that the event can drive a review.
func (e *CanonicalEvent) Validate() error {
	if e.DeliveryID == "" {
		return fmt.Errorf("delivery_id is required")
	}
	owner, name, ok := strings.Cut(e.RepoFullName, "/")
	if !ok || owner == "" || name == "" {
		return fmt.Errorf("repo_full_name must be owner/name, got %q", e.RepoFullName)
	}
	if e.PRNumber <= 0 {
		return fmt.Errorf("pr_number must be positive, got %d", e.PRNumber)
	}
	if !headSHAPattern.MatchString(e.HeadSHA) {
		return fmt.Errorf("head_sha must be 40 lowercase hex characters, got %q", e.HeadSHA)
	}
	switch e.Trigger {
	case TriggerAuto, TriggerManual, TriggerRerun:
	default:
		return fmt.Errorf("trigger must be auto, manual, or rerun, got %q", e.Trigger)
	}
	return nil
}

// DedupKey derives the stable identity of one (repo, pr, head_sha)
// triple. It keys both queue-level deduplication and the worker's
// idempotency claim.
func (e *CanonicalEvent) DedupKey() string {
	return fmt.Sprintf("%s:%d:%s", e.RepoFullName, e.PRNumber, e.HeadSHA)
}

// Owner returns the repository owner half of RepoFullName.
func (e *CanonicalEvent) Owner() string {
	owner, _, _ := strings.Cut(e.RepoFullName, "/")
	return owner
}

// Repo returns the repository name half of RepoFullName.
func (e *CanonicalEvent) Repo() string {
	_, name, _ := strings.Cut(e.RepoFullName, "/")
	return name
}

// ChangedFileEntry is one changed file as admitted into the review
// context.
type ChangedFileEntry struct {
	Filename string `json:"filename"`

	// Status is added, modified, removed, or renamed.
	Status string `json:"status"`

	Additions int `json:"additions"`
	Deletions int `json:"deletions"`
	Changes   int `json:"changes"`

	// Patch is the unified diff hunk text. Absent for binary files and
	// for files the forge declined to diff.
	Patch string `json:"patch,omitempty"`

	// PatchTruncated is set when Patch was clipped to the per-file
	// byte budget.
	PatchTruncated bool `json:"patch_truncated,omitempty"`
}

// ChangeTotals summarizes the full change set, before selection.
type ChangeTotals struct {
	Files     int `json:"files"`
	Additions int `json:"additions"`
	Deletions int `json:"deletions"`
}

// PullRequestInfo is the PR metadata embedded in the review context.
type PullRequestInfo struct {
	Title string `json:"title"`

	// Body is clamped to 1000 characters at context-build time.
	Body string `json:"body"`

	BaseRef string       `json:"base_ref"`
	HeadRef string       `json:"head_ref"`
	Totals  ChangeTotals `json:"totals"`

	// ChangedFiles are sorted by descending change count.
	ChangedFiles []ChangedFileEntry `json:"changed_files"`
}

// PRContext is the structured input handed to both LLM stages.
type PRContext struct {
	PullRequest PullRequestInfo `json:"pull_request"`

	// LinkedJiraIssues are ticket keys extracted from the PR title,
	// body, and branch name.
	LinkedJiraIssues []string `json:"linked_jira_issues,omitempty"`

	// TruncationNote summarizes why files were left out, when any were.
	TruncationNote string `json:"truncation_note,omitempty"`
}

// Filenames returns the set of filenames present in the context, used
// to validate planner references.
func (c *PRContext) Filenames() map[string]bool {
	names := make(map[string]bool, len(c.PullRequest.ChangedFiles))
	for _, f := range c.PullRequest.ChangedFiles {
		names[f.Filename] = true
	}
	return names
}

// SkippedFile records a file excluded from the review context and why.
type SkippedFile struct {
	Filename string `json:"filename"`
	Reason   string `json:"reason"`
}

// Hotspot is a planner-identified risk concentration.
type Hotspot struct {
	File string `json:"file"`

	// Reason cites a function name, line range, or token pattern. The
	// prompt enforces the citation; the validator only requires text.
	Reason string `json:"reason"`
}

// FileCluster groups related files for reviewer budget allocation.
type FileCluster struct {
	ClusterLabel string   `json:"cluster_label"`
	Files        []string `json:"files"`
	TokenBudget  int      `json:"token_budget"`
}

// TriagePlan is the planner stage output.
type TriagePlan struct {
	// RiskRanking lists context filenames from most to least risky.
	RiskRanking []string `json:"risk_ranking"`

	Hotspots     []Hotspot     `json:"hotspots"`
	FileClusters []FileCluster `json:"file_clusters"`

	// SkipFiles are context files the planner deems not worth deep
	// review.
	SkipFiles []string `json:"skip_files"`

	// OverallRiskEstimate feeds budget allocation only; the reviewer's
	// overall_risk is authoritative for the posted verdict.
	OverallRiskEstimate string `json:"overall_risk_estimate"`
}

// Finding is a single reviewer observation.
type Finding struct {
	// Priority is 0 (critical), 1 (important), or 2 (minor).
	Priority int `json:"priority"`

	// Type is one of the Finding* constants.
	Type string `json:"type"`

	// File is the context filename the finding targets.
	File string `json:"file"`

	// StartLine and EndLine address the new side of the diff. Both nil
	// means a file-level finding. EndLine is never set without
	// StartLine.
	StartLine *int `json:"start_line"`
	EndLine   *int `json:"end_line"`

	Message string `json:"message"`

	// Evidence quotes or names the code that supports the finding.
	Evidence string `json:"evidence,omitempty"`

	// SuggestedPatch is a unified diff, or nil when no fix is offered.
	// Forced to nil for sensitive paths and malformed diffs.
	SuggestedPatch *string `json:"suggested_patch"`
}

// Severity maps the finding priority to its named severity: 0 is high,
// 1 is medium, 2 is low.
func (f *Finding) Severity() string {
	switch f.Priority {
	case 0:
		return RiskHigh
	case 1:
		return RiskMedium
	default:
		return RiskLow
	}
}

// TicketCompliance reports how the change set tracks one linked ticket.
// The three lists are disjoint requirement bullets.
type TicketCompliance struct {
	TicketKey     string `json:"ticket_key"`
	TicketSummary string `json:"ticket_summary"`

	FullyCompliant         []string `json:"fully_compliant"`
	NotCompliant           []string `json:"not_compliant"`
	NeedsHumanVerification []string `json:"needs_human_verification"`
}

// Review is the reviewer stage output, the document of record for one
// review execution.
type Review struct {
	Summary     string `json:"summary"`
	OverallRisk string `json:"overall_risk"`

	Findings []Finding `json:"findings"`

	SuggestedTests []string `json:"suggested_tests"`
	RiskHotspots   []string `json:"risk_hotspots"`

	FilesReviewed []string `json:"files_reviewed"`
	FilesSkipped  []string `json:"files_skipped"`

	TruncationNote *string `json:"truncation_note"`
	NotReviewed    *string `json:"not_reviewed"`

	// TicketCompliance is null when no tickets were linked.
	TicketCompliance []TicketCompliance `json:"ticket_compliance"`
}

// FindingsByPriority returns findings grouped by priority level, 0
// through 2, preserving order within each group.
func (r *Review) FindingsByPriority() map[int][]Finding {
	groups := make(map[int][]Finding)
	for _, f := range r.Findings {
		groups[f.Priority] = append(groups[f.Priority], f)
	}
	return groups
}

// CountByType returns the number of findings per finding type.
func (r *Review) CountByType() map[string]int {
	counts := make(map[string]int)
	for _, f := range r.Findings {
		counts[f.Type]++
	}
	return counts
}

// validRiskLevel reports whether s is one of the three risk levels.
func validRiskLevel(s string) bool {
	switch s {
	case RiskLow, RiskMedium, RiskHigh:
		return true
	}
	return false
}

// validFindingType reports whether s names a known finding type.
func validFindingType(s string) bool {
	switch s {
	case FindingBug, FindingSecurity, FindingPerformance, FindingStyle, FindingTests, FindingDocs:
		return true
	}
	return false
}
