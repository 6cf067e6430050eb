package scenarios

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/c360studio/semreview/test/e2e/config"
	"github.com/c360studio/semreview/test/e2e/harness"
)

const (
	retryPRNumber = 202
	retryHeadSHA  = "7d41e9b30c8f25a6914be07d3a5f6c28e1b09d44"
)

// ReviewRetryScenario scripts a reviewer that returns schema-invalid
// output on the first attempt and valid output on the second. The
// format retry must recover inside the same review execution, without
// redelivery and without re-running the planner.
type ReviewRetryScenario struct {
	name   string
	config *config.Config
	env    *harness.Env
}

// NewReviewRetryScenario creates the format-retry scenario.
func NewReviewRetryScenario(cfg *config.Config, env *harness.Env) *ReviewRetryScenario {
	return &ReviewRetryScenario{name: "review-retry", config: cfg, env: env}
}

// Name returns the scenario name.
func (s *ReviewRetryScenario) Name() string { return s.name }

// Description returns what this scenario verifies.
func (s *ReviewRetryScenario) Description() string {
	return "Reviewer recovers from one schema-invalid completion via in-process format retry"
}

// Setup scripts the reviewer with garbage first, then valid output.
func (s *ReviewRetryScenario) Setup(ctx context.Context) error {
	s.env.Forge.Reset()
	s.env.LLM.Reset()
	s.env.Forge.AddPull(harness.BillingPull(retryPRNumber, retryHeadSHA), harness.BillingFiles())
	s.env.LLM.Script(config.PlannerModel, harness.PlanFixture())
	s.env.LLM.Script(config.ReviewerModel, harness.GarbageCompletion, harness.ReviewFixture(1))
	return nil
}

// Execute runs the scenario stages.
func (s *ReviewRetryScenario) Execute(ctx context.Context) (*Result, error) {
	return runStages(ctx, NewResult(s.name), s.config.ReviewTimeout, []stage{
		{"deliver-webhook", s.stageDeliverWebhook},
		{"await-check-run", s.stageAwaitCheckRun},
		{"verify-recovery", s.stageVerifyRecovery},
	})
}

// Teardown has nothing to clean up.
func (s *ReviewRetryScenario) Teardown(ctx context.Context) error { return nil }

func (s *ReviewRetryScenario) stageDeliverWebhook(ctx context.Context, result *Result) error {
	payload := harness.PullRequestOpenedPayload(retryPRNumber, retryHeadSHA, false)
	status, body, err := s.env.PostWebhook(ctx, "pull_request", payload)
	if err != nil {
		return err
	}
	if status != http.StatusAccepted {
		return fmt.Errorf("gateway returned %d: %s", status, body)
	}
	return nil
}

func (s *ReviewRetryScenario) stageAwaitCheckRun(ctx context.Context, result *Result) error {
	return harness.WaitFor(ctx, s.config.PollInterval, "check run", func() (bool, error) {
		return len(s.env.Forge.CheckRuns()) > 0, nil
	})
}

// stageVerifyRecovery checks the review landed and the retry happened
// exactly once, at the reviewer stage only.
func (s *ReviewRetryScenario) stageVerifyRecovery(ctx context.Context, result *Result) error {
	plannerCalls := s.env.LLM.Calls(config.PlannerModel)
	reviewerCalls := s.env.LLM.Calls(config.ReviewerModel)
	result.SetMetric("planner_calls", plannerCalls)
	result.SetMetric("reviewer_calls", reviewerCalls)

	if plannerCalls != 1 {
		return fmt.Errorf("planner called %d times, want 1", plannerCalls)
	}
	if reviewerCalls != 2 {
		return fmt.Errorf("reviewer called %d times, want 2 (one retry)", reviewerCalls)
	}

	reviews := s.env.Forge.Reviews()
	if len(reviews) != 1 {
		return fmt.Errorf("expected 1 posted review, got %d", len(reviews))
	}
	if !strings.Contains(reviews[0].Body, harness.ReviewSummary) {
		return fmt.Errorf("review body missing scripted summary text")
	}

	runs := s.env.Forge.CheckRuns()
	if len(runs) != 1 {
		return fmt.Errorf("expected 1 check run, got %d", len(runs))
	}
	if runs[0].Title != "1 finding, overall risk medium" {
		return fmt.Errorf("check run title %q", runs[0].Title)
	}
	if runs[0].Conclusion != "neutral" {
		return fmt.Errorf("check run conclusion %q, want neutral", runs[0].Conclusion)
	}
	return nil
}
