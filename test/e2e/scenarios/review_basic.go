package scenarios

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/c360studio/semreview/test/e2e/config"
	"github.com/c360studio/semreview/test/e2e/harness"
)

const (
	basicPRNumber = 101
	basicHeadSHA  = "3f9c2a71d5e8b4065c1da2f7e90b834512cd76ab"
)

// ReviewBasicScenario covers the happy path: a pull_request opened
// delivery flows through the gateway and stream, both pipeline stages
// return valid output on the first attempt, and the worker posts a
// review with one positioned inline comment plus a neutral check run.
// A replayed delivery for the same head SHA must not produce a second
// review.
type ReviewBasicScenario struct {
	name   string
	config *config.Config
	env    *harness.Env
}

// NewReviewBasicScenario creates the basic review scenario.
func NewReviewBasicScenario(cfg *config.Config, env *harness.Env) *ReviewBasicScenario {
	return &ReviewBasicScenario{name: "review-basic", config: cfg, env: env}
}

// Name returns the scenario name.
func (s *ReviewBasicScenario) Name() string { return s.name }

// Description returns what this scenario verifies.
func (s *ReviewBasicScenario) Description() string {
	return "Full review flow: webhook to posted review, inline comment placement, neutral check run, duplicate suppression"
}

// Setup registers the PR fixture and scripts both pipeline stages.
func (s *ReviewBasicScenario) Setup(ctx context.Context) error {
	s.env.Forge.Reset()
	s.env.LLM.Reset()
	s.env.Forge.AddPull(harness.BillingPull(basicPRNumber, basicHeadSHA), harness.BillingFiles())
	s.env.LLM.Script(config.PlannerModel, harness.PlanFixture())
	s.env.LLM.Script(config.ReviewerModel, harness.ReviewFixture(2))
	return nil
}

// Execute runs the scenario stages.
func (s *ReviewBasicScenario) Execute(ctx context.Context) (*Result, error) {
	return runStages(ctx, NewResult(s.name), s.config.ReviewTimeout, []stage{
		{"deliver-webhook", s.stageDeliverWebhook},
		{"await-check-run", s.stageAwaitCheckRun},
		{"verify-review", s.stageVerifyReview},
		{"verify-check-run", s.stageVerifyCheckRun},
		{"replay-delivery", s.stageReplayDelivery},
	})
}

// Teardown has nothing to clean up; the next scenario resets the mocks.
func (s *ReviewBasicScenario) Teardown(ctx context.Context) error { return nil }

// stageDeliverWebhook posts the signed opened delivery.
func (s *ReviewBasicScenario) stageDeliverWebhook(ctx context.Context, result *Result) error {
	payload := harness.PullRequestOpenedPayload(basicPRNumber, basicHeadSHA, false)
	status, body, err := s.env.PostWebhook(ctx, "pull_request", payload)
	if err != nil {
		return err
	}
	if status != http.StatusAccepted {
		return fmt.Errorf("gateway returned %d: %s", status, body)
	}
	result.SetDetail("webhook_response", string(body))
	return nil
}

// stageAwaitCheckRun waits for the pipeline to finish. The check run is
// posted last, so its arrival means the review before it is captured.
func (s *ReviewBasicScenario) stageAwaitCheckRun(ctx context.Context, result *Result) error {
	err := harness.WaitFor(ctx, s.config.PollInterval, "check run", func() (bool, error) {
		return len(s.env.Forge.CheckRuns()) > 0, nil
	})
	if err != nil {
		return err
	}
	result.SetMetric("planner_calls", s.env.LLM.Calls(config.PlannerModel))
	result.SetMetric("reviewer_calls", s.env.LLM.Calls(config.ReviewerModel))
	return nil
}

// stageVerifyReview checks the posted review body and inline placement.
func (s *ReviewBasicScenario) stageVerifyReview(ctx context.Context, result *Result) error {
	reviews := s.env.Forge.Reviews()
	if len(reviews) != 1 {
		return fmt.Errorf("expected 1 posted review, got %d", len(reviews))
	}
	rev := reviews[0]
	if rev.Number != basicPRNumber {
		return fmt.Errorf("review posted to PR %d, want %d", rev.Number, basicPRNumber)
	}
	if rev.CommitID != basicHeadSHA {
		return fmt.Errorf("review pinned to commit %q, want %q", rev.CommitID, basicHeadSHA)
	}
	if rev.Event != "COMMENT" {
		return fmt.Errorf("review event %q, want COMMENT", rev.Event)
	}
	if !strings.Contains(rev.Body, "## Summary") {
		return fmt.Errorf("review body missing summary section")
	}
	if !strings.Contains(rev.Body, harness.ReviewSummary) {
		return fmt.Errorf("review body missing scripted summary text")
	}
	if len(rev.Comments) != 1 {
		return fmt.Errorf("expected 1 inline comment, got %d", len(rev.Comments))
	}
	comment := rev.Comments[0]
	if comment.Path != harness.TokenFile {
		return fmt.Errorf("inline comment on %q, want %q", comment.Path, harness.TokenFile)
	}
	if comment.Position != 6 {
		return fmt.Errorf("inline comment at diff position %d, want 6", comment.Position)
	}
	result.SetDetail("review_body_bytes", len(rev.Body))
	return nil
}

// stageVerifyCheckRun checks the reported conclusion and title.
func (s *ReviewBasicScenario) stageVerifyCheckRun(ctx context.Context, result *Result) error {
	runs := s.env.Forge.CheckRuns()
	if len(runs) != 1 {
		return fmt.Errorf("expected 1 check run, got %d", len(runs))
	}
	run := runs[0]
	if run.Name != config.CheckRunName {
		return fmt.Errorf("check run named %q, want %q", run.Name, config.CheckRunName)
	}
	if run.HeadSHA != basicHeadSHA {
		return fmt.Errorf("check run on %q, want %q", run.HeadSHA, basicHeadSHA)
	}
	if run.Status != "completed" {
		return fmt.Errorf("check run status %q, want completed", run.Status)
	}
	// The default policy has no failure threshold, so findings never
	// block the merge.
	if run.Conclusion != "neutral" {
		return fmt.Errorf("check run conclusion %q, want neutral", run.Conclusion)
	}
	if run.Title != "1 finding, overall risk low" {
		return fmt.Errorf("check run title %q", run.Title)
	}
	result.SetDetail("check_conclusion", run.Conclusion)
	return nil
}

// stageReplayDelivery posts the same PR and head SHA again under a
// fresh delivery id and verifies nothing new reaches the pipeline.
func (s *ReviewBasicScenario) stageReplayDelivery(ctx context.Context, result *Result) error {
	payload := harness.PullRequestOpenedPayload(basicPRNumber, basicHeadSHA, false)
	status, body, err := s.env.PostWebhook(ctx, "pull_request", payload)
	if err != nil {
		return err
	}
	if status != http.StatusAccepted {
		return fmt.Errorf("replayed delivery returned %d: %s", status, body)
	}

	// Suppression happens at the stream duplicate window or at the
	// worker's idempotency claim. Either way the counts must hold after
	// a settle period.
	select {
	case <-time.After(2 * time.Second):
	case <-ctx.Done():
		return ctx.Err()
	}

	if n := len(s.env.Forge.Reviews()); n != 1 {
		return fmt.Errorf("replay produced additional reviews: %d total", n)
	}
	if calls := s.env.LLM.Calls(config.PlannerModel); calls != 1 {
		return fmt.Errorf("replay reached the planner: %d calls total", calls)
	}
	result.SetDetail("duplicate_suppressed", true)
	return nil
}
