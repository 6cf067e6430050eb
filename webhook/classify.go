package webhook

import (
	"strings"

	"github.com/google/go-github/v57/github"
)

// Stable ignore reasons. They label the events_ignored metric and the
// gateway's 202 response body, so they never change spelling.
const (
	ReasonUnsupportedEvent     = "unsupported_event"
	ReasonUnsupportedAction    = "unsupported_action"
	ReasonRepoNotAllowed       = "repo_not_allowed"
	ReasonLabelNotInTriggerSet = "label_not_in_trigger_set"
	ReasonNoTriggerPhrase      = "no_trigger_phrase"
	ReasonCommentNotOnPR       = "comment_not_on_pr"
	ReasonCheckNameMismatch    = "check_run_name_mismatch"
	ReasonNoPullRequest        = "no_pull_request"
	ReasonReviewCommentLoop    = "review_comment_loop"
	ReasonMissingPayloadFields = "missing_payload_fields"
)

// Options configures classification. Zero values mean: no allow-list,
// no trigger labels, no bot mention command.
type Options struct {
	// TriggerPhrase in a PR comment requests a manual review.
	TriggerPhrase string

	// BotUsername enables the "@<bot> review" comment command.
	BotUsername string

	// TriggerLabels are label names whose application requests a
	// review.
	TriggerLabels []string

	// CheckRunName is the check whose re-run requests a review.
	CheckRunName string

	// AllowedRepos restricts processing to the listed owner/name pairs
	// when non-empty.
	AllowedRepos []string
}

// Classification is the outcome of classifying one parsed webhook
// event.
type Classification struct {
	// Enqueue is true when the event should become a canonical review
	// event.
	Enqueue bool

	// IgnoreReason labels a non-enqueued event. Empty when Enqueue.
	IgnoreReason string

	// Trigger is auto, manual, or rerun when Enqueue.
	Trigger string

	RepoFullName string
	PRNumber     int

	// HeadSHA is empty for comment-triggered events; the gateway must
	// resolve the current head through the forge before enqueueing.
	HeadSHA string

	EventAction    string
	BaseRef        string
	InstallationID int64
}

// Classify maps a parsed webhook event onto the review trigger matrix.
// The event argument is the result of github.ParseWebHook; unknown
// event types are ignored.
func Classify(event any, opts Options) Classification {
	switch ev := event.(type) {
	case *github.PullRequestEvent:
		return classifyPullRequest(ev, opts)
	case *github.IssueCommentEvent:
		return classifyIssueComment(ev, opts)
	case *github.CheckRunEvent:
		return classifyCheckRun(ev, opts)
	case *github.PullRequestReviewCommentEvent:
		// Review comments include the ones this service posts.
		// Processing them would loop.
		return Classification{
			IgnoreReason: ReasonReviewCommentLoop,
			RepoFullName: ev.GetRepo().GetFullName(),
			EventAction:  ev.GetAction(),
		}
	default:
		return Classification{IgnoreReason: ReasonUnsupportedEvent}
	}
}

func classifyPullRequest(ev *github.PullRequestEvent, opts Options) Classification {
	c := Classification{
		RepoFullName:   ev.GetRepo().GetFullName(),
		PRNumber:       ev.GetPullRequest().GetNumber(),
		HeadSHA:        ev.GetPullRequest().GetHead().GetSHA(),
		EventAction:    ev.GetAction(),
		BaseRef:        ev.GetPullRequest().GetBase().GetRef(),
		InstallationID: ev.GetInstallation().GetID(),
	}
	if !repoAllowed(opts.AllowedRepos, c.RepoFullName) {
		c.IgnoreReason = ReasonRepoNotAllowed
		return c
	}
	if c.RepoFullName == "" || c.PRNumber == 0 || c.HeadSHA == "" {
		c.IgnoreReason = ReasonMissingPayloadFields
		return c
	}

	switch ev.GetAction() {
	case "opened", "synchronize", "reopened", "ready_for_review":
		c.Enqueue = true
		c.Trigger = "auto"
	case "labeled":
		if labelInSet(ev.GetLabel().GetName(), opts.TriggerLabels) {
			c.Enqueue = true
			c.Trigger = "auto"
		} else {
			c.IgnoreReason = ReasonLabelNotInTriggerSet
		}
	default:
		c.IgnoreReason = ReasonUnsupportedAction
	}
	return c
}

func classifyIssueComment(ev *github.IssueCommentEvent, opts Options) Classification {
	c := Classification{
		RepoFullName:   ev.GetRepo().GetFullName(),
		PRNumber:       ev.GetIssue().GetNumber(),
		EventAction:    ev.GetAction(),
		InstallationID: ev.GetInstallation().GetID(),
	}
	if !repoAllowed(opts.AllowedRepos, c.RepoFullName) {
		c.IgnoreReason = ReasonRepoNotAllowed
		return c
	}
	if ev.GetAction() != "created" && ev.GetAction() != "edited" {
		c.IgnoreReason = ReasonUnsupportedAction
		return c
	}
	if !ev.GetIssue().IsPullRequest() {
		c.IgnoreReason = ReasonCommentNotOnPR
		return c
	}
	if !hasTriggerCommand(ev.GetComment().GetBody(), opts.TriggerPhrase, opts.BotUsername) {
		c.IgnoreReason = ReasonNoTriggerPhrase
		return c
	}
	if c.PRNumber == 0 {
		c.IgnoreReason = ReasonMissingPayloadFields
		return c
	}
	// The comment payload has no head SHA; the gateway resolves it.
	c.Enqueue = true
	c.Trigger = "manual"
	return c
}

func classifyCheckRun(ev *github.CheckRunEvent, opts Options) Classification {
	c := Classification{
		RepoFullName:   ev.GetRepo().GetFullName(),
		EventAction:    ev.GetAction(),
		InstallationID: ev.GetInstallation().GetID(),
	}
	if !repoAllowed(opts.AllowedRepos, c.RepoFullName) {
		c.IgnoreReason = ReasonRepoNotAllowed
		return c
	}
	if ev.GetAction() != "rerequested" {
		c.IgnoreReason = ReasonUnsupportedAction
		return c
	}
	run := ev.GetCheckRun()
	if opts.CheckRunName == "" || run.GetName() != opts.CheckRunName {
		c.IgnoreReason = ReasonCheckNameMismatch
		return c
	}
	if len(run.PullRequests) == 0 {
		c.IgnoreReason = ReasonNoPullRequest
		return c
	}
	pr := run.PullRequests[0]
	c.PRNumber = pr.GetNumber()
	c.HeadSHA = run.GetHeadSHA()
	c.BaseRef = pr.GetBase().GetRef()
	if c.PRNumber == 0 || c.HeadSHA == "" {
		c.IgnoreReason = ReasonMissingPayloadFields
		return c
	}
	c.Enqueue = true
	c.Trigger = "rerun"
	return c
}

// repoAllowed applies the allow-list. An empty list allows everything.
func repoAllowed(allowed []string, fullName string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, repo := range allowed {
		if strings.EqualFold(strings.TrimSpace(repo), fullName) {
			return true
		}
	}
	return false
}

// labelInSet matches the applied label against the trigger set,
// case-insensitively.
func labelInSet(label string, set []string) bool {
	if label == "" {
		return false
	}
	for _, want := range set {
		if strings.EqualFold(strings.TrimSpace(want), label) {
			return true
		}
	}
	return false
}

// hasTriggerCommand reports whether a comment body requests a review,
// either via the trigger phrase or via "@<bot> review". Matching is
// case-insensitive.
func hasTriggerCommand(body, phrase, bot string) bool {
	lower := strings.ToLower(body)
	if phrase != "" && strings.Contains(lower, strings.ToLower(phrase)) {
		return true
	}
	if bot != "" && strings.Contains(lower, strings.ToLower("@"+bot+" review")) {
		return true
	}
	return false
}
