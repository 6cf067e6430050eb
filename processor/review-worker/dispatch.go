package reviewworker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/semreview/forge"
	"github.com/c360studio/semreview/llm"
	"github.com/c360studio/semreview/retry"
	"github.com/c360studio/semreview/review"
)

// handleMessage settles one queue message per the error taxonomy.
// Poison messages and business skips acknowledge, completed reviews
// acknowledge with a duration observation, and everything else returns
// to the queue for redelivery.
func (c *Component) handleMessage(ctx context.Context, msg jetstream.Msg) {
	var ev review.CanonicalEvent
	if err := json.Unmarshal(msg.Data(), &ev); err != nil {
		c.dropPoison(msg, "unparseable event", err)
		return
	}
	if err := ev.Validate(); err != nil {
		c.dropPoison(msg, "invalid event", err)
		return
	}

	correlationID := fmt.Sprintf("%s:%s:%d:%s", ev.DeliveryID, ev.RepoFullName, ev.PRNumber, ev.HeadSHA)
	logger := c.logger.With("correlation_id", correlationID, "trace_id", ev.TraceID)

	started := time.Now()
	err := c.process(ctx, logger, &ev)
	if err == nil {
		c.reviewsCompleted.Add(1)
		if c.metrics != nil {
			c.metrics.ReviewsSuccess.Inc()
			c.metrics.ReviewDuration.Observe(time.Since(started).Seconds())
		}
		c.ack(msg)
		logger.Info("Review handled", "duration", time.Since(started))
		return
	}

	if reason, ok := review.SkipReason(err); ok {
		c.reviewsSkipped.Add(1)
		if c.metrics != nil {
			c.metrics.ReviewsSkipped.WithLabelValues(reason).Inc()
		}
		c.ack(msg)
		logger.Info("Review skipped", "reason", reason)
		return
	}

	c.reviewsFailed.Add(1)
	if c.metrics != nil {
		c.metrics.ReviewsFailed.Inc()
	}
	logger.Error("Review failed, returning to queue", "error", err)
	if nakErr := msg.Nak(); nakErr != nil {
		c.logger.Warn("Failed to NAK message", "error", nakErr)
	}
}

// dropPoison acknowledges a message that can never succeed. Redelivery
// cannot fix a body that does not parse or validate.
func (c *Component) dropPoison(msg jetstream.Msg, what string, err error) {
	c.reviewsFailed.Add(1)
	if c.metrics != nil {
		c.metrics.ReviewsFailed.Inc()
	}
	c.logger.Error("Dropping "+what, "subject", msg.Subject(), "error", err)
	c.ack(msg)
}

func (c *Component) ack(msg jetstream.Msg) {
	if err := msg.Ack(); err != nil {
		c.logger.Warn("Failed to ACK message", "error", err)
	}
}

// process runs one canonical event through the pipeline: claim, fetch,
// policy, context, planner, reviewer, filter, post. Errors carry the
// review taxonomy; a nil return means the message is fully handled,
// including validation failures reported as neutral check runs.
func (c *Component) process(ctx context.Context, logger *slog.Logger, ev *review.CanonicalEvent) error {
	won, err := c.guard.Claim(ctx, ev.DedupKey())
	if err != nil {
		return review.NewTransientError(fmt.Errorf("idempotency claim: %w", err))
	}
	if !won {
		return review.NewBusinessSkip("duplicate")
	}

	fc, err := c.clients.Client(ctx, ev.InstallationID)
	if err != nil {
		return review.NewConfigError(fmt.Errorf("forge client: %w", err))
	}

	owner, repo := ev.Owner(), ev.Repo()

	pr, err := fc.GetPullRequest(ctx, owner, repo, ev.PRNumber)
	if err != nil {
		if forge.IsNotFound(err) {
			return review.NewBusinessSkip("pr_not_found")
		}
		return classifyForgeFailure("get pull request", err)
	}
	if pr.State == "closed" {
		return review.NewBusinessSkip("pr_closed")
	}

	files, err := fc.ListChangedFiles(ctx, owner, repo, ev.PRNumber)
	if err != nil {
		return classifyForgeFailure("list changed files", err)
	}

	policy := c.loadPolicy(ctx, fc, owner, repo, logger)

	if reason, skip := policy.SkipDecision(pr.Draft, pr.HeadRef, pr.Author, ev.Trigger); skip {
		return review.NewBusinessSkip(reason)
	}

	ticketKeys := review.ExtractTicketKeys(pr.Title, pr.Body, pr.HeadRef)
	prCtx, reviewed, skipped := review.BuildContext(review.PullRequestData{
		Title:   pr.Title,
		Body:    pr.Body,
		BaseRef: pr.BaseRef,
		HeadRef: pr.HeadRef,
	}, files, ticketKeys, review.BuildOptions{
		MaxReviewFiles:    c.config.MaxReviewFiles,
		MaxDiffBytes:      c.config.MaxDiffBytes,
		MaxTotalDiffBytes: c.config.MaxTotalDiffBytes,
		LargePatchPolicy:  c.config.LargePatchPolicy,
		ExcludePatterns:   append(append([]string{}, c.config.SkipPatterns...), policy.IgnorePatterns...),
	})
	if len(reviewed) == 0 {
		return review.NewBusinessSkip("no_reviewable_files")
	}

	llmCtx := llm.WithTraceContext(ctx, llm.TraceContext{
		TraceID:   ev.TraceID,
		ReviewKey: ev.DedupKey(),
	})

	planCtx, cancelPlan := context.WithTimeout(llmCtx, c.config.LLMTimeout)
	plan, err := c.planner.Plan(planCtx, prCtx)
	cancelPlan()
	if err != nil {
		if ve, ok := review.AsValidationError(err); ok {
			return c.reportValidationFailure(ctx, fc, ev, ve, logger)
		}
		return err
	}

	reviewCtx, cancelReview := context.WithTimeout(llmCtx, c.config.LLMTimeout)
	rev, err := c.reviewer.Review(reviewCtx, prCtx, plan)
	cancelReview()
	if err != nil {
		if ve, ok := review.AsValidationError(err); ok {
			return c.reportValidationFailure(ctx, fc, ev, ve, logger)
		}
		return err
	}

	rev.Findings = review.ApplyPolicyFilters(review.SanitizeFindings(rev.Findings), policy)

	// The context builder, not the model, is authoritative for what was
	// reviewed and what was left out.
	rev.FilesReviewed = reviewed
	rev.FilesSkipped = skippedNames(skipped)
	if prCtx.TruncationNote != "" {
		note := prCtx.TruncationNote
		rev.TruncationNote = &note
	} else {
		rev.TruncationNote = nil
	}

	conclusion := review.DeriveVerdict(rev.Findings, policy)
	comments := c.prepareInline(rev, files, policy, logger)
	body := review.RenderMarkdown(rev)

	if policy.PostReviewComment {
		err := fc.CreateReview(ctx, owner, repo, ev.PRNumber, forge.ReviewRequest{
			CommitSHA: ev.HeadSHA,
			Body:      body,
			Comments:  comments,
		})
		if err != nil {
			return classifyForgeFailure("create review", err)
		}
	}

	if _, err := fc.CreateCheckRun(ctx, owner, repo, forge.CheckRunParams{
		Name:       c.config.CheckRunName,
		HeadSHA:    ev.HeadSHA,
		Conclusion: conclusion,
		Title:      checkTitle(rev),
		Summary:    body,
	}); err != nil {
		return classifyForgeFailure("create check run", err)
	}

	logger.Info("Review posted",
		"conclusion", conclusion,
		"findings", len(rev.Findings),
		"inline_comments", len(comments),
		"files_reviewed", len(reviewed),
		"files_skipped", len(rev.FilesSkipped))

	return nil
}

// loadPolicy reads .ai-reviewer.yml from the repository's default
// branch. A missing or unparseable file falls back to the defaults; the
// review never fails on a bad policy.
func (c *Component) loadPolicy(ctx context.Context, fc *forge.Client, owner, repo string, logger *slog.Logger) *review.RepoPolicy {
	data, err := fc.GetFileContents(ctx, owner, repo, review.PolicyPath, "")
	if err != nil {
		if !forge.IsNotFound(err) {
			logger.Warn("Policy read failed, using defaults", "error", err)
		}
		return review.DefaultPolicy()
	}

	policy, err := review.ParsePolicy(data)
	if err != nil {
		logger.Warn("Policy file invalid, using defaults", "error", err)
		return review.DefaultPolicy()
	}
	return policy
}

// prepareInline builds the inline comments for the configured comment
// mode. In strict mode, findings that could not be placed are dropped
// from the review entirely so they never reach the rendered body. The
// verdict is derived before suppression, so hidden findings still
// count against the severity threshold. Modes only apply when a PR
// review is posted; check-run-only output keeps every finding.
func (c *Component) prepareInline(rev *review.Review, files []review.ChangedFileEntry, policy *review.RepoPolicy, logger *slog.Logger) []forge.ReviewComment {
	if !policy.PostReviewComment || policy.ReviewCommentMode == review.ModeSummaryOnly {
		return nil
	}

	// Positions map against the raw forge patches, not the clipped
	// context copies.
	patches := make(map[string]string, len(files))
	for _, f := range files {
		if f.Patch != "" {
			patches[f.Filename] = f.Patch
		}
	}

	var comments []forge.ReviewComment
	placed := make([]review.Finding, 0, len(rev.Findings))
	for i := range rev.Findings {
		f := &rev.Findings[i]
		pos, ok := mapFinding(f, patches)
		if !ok {
			continue
		}
		comments = append(comments, forge.ReviewComment{
			Path:     f.File,
			Position: pos,
			Body:     review.RenderInlineComment(f),
		})
		placed = append(placed, *f)
	}

	if policy.ReviewCommentMode == review.ModeStrictInline {
		if dropped := len(rev.Findings) - len(placed); dropped > 0 {
			logger.Debug("Suppressed findings without inline positions", "count", dropped)
		}
		rev.Findings = placed
	}

	return comments
}

// mapFinding resolves a finding's diff position. File-level findings
// and lines outside the diff do not map.
func mapFinding(f *review.Finding, patches map[string]string) (int, bool) {
	if f.StartLine == nil {
		return 0, false
	}
	patch, ok := patches[f.File]
	if !ok {
		return 0, false
	}
	return review.MapPosition(patch, *f.StartLine)
}

// reportValidationFailure posts the neutral check run for a stage whose
// output never validated. The message is then considered handled; only
// a failed post keeps it in the queue.
func (c *Component) reportValidationFailure(ctx context.Context, fc *forge.Client, ev *review.CanonicalEvent, ve *review.ValidationError, logger *slog.Logger) error {
	logger.Warn("Stage output failed validation", "stage", ve.Stage, "error", ve)

	_, err := fc.CreateCheckRun(ctx, ev.Owner(), ev.Repo(), forge.CheckRunParams{
		Name:       c.config.CheckRunName,
		HeadSHA:    ev.HeadSHA,
		Conclusion: forge.CheckConclusionNeutral,
		Title:      "Review not completed",
		Summary:    review.ValidationFailureBody(ve.Stage),
	})
	if err != nil {
		return classifyForgeFailure("create check run", err)
	}
	return nil
}

// classifyForgeFailure maps a forge client error onto the worker
// taxonomy. Terminal forge rejections are credential or permission
// problems; everything else earns redelivery.
func classifyForgeFailure(op string, err error) error {
	wrapped := fmt.Errorf("%s: %w", op, err)
	if retry.IsNonRetryable(err) {
		return review.NewAuthError(wrapped)
	}
	return review.NewTransientError(wrapped)
}

// checkTitle summarizes the outcome for the check-run title line.
func checkTitle(rev *review.Review) string {
	switch n := len(rev.Findings); n {
	case 0:
		return "No findings"
	case 1:
		return fmt.Sprintf("1 finding, overall risk %s", rev.OverallRisk)
	default:
		return fmt.Sprintf("%d findings, overall risk %s", n, rev.OverallRisk)
	}
}

func skippedNames(skipped []review.SkippedFile) []string {
	if len(skipped) == 0 {
		return nil
	}
	names := make([]string, len(skipped))
	for i, s := range skipped {
		names[i] = s.Filename
	}
	return names
}
