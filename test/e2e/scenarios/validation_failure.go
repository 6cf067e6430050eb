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
	validationPRNumber = 303
	validationHeadSHA  = "b28a6d04f17c3e9552ad80b6c4d1f3a7290e6c5d"
)

// ValidationFailureScenario scripts a reviewer that never produces
// valid output. After the format retries are exhausted the worker must
// report a neutral check run explaining the failure, post no review,
// and ack the message so the stream does not redeliver it.
type ValidationFailureScenario struct {
	name   string
	config *config.Config
	env    *harness.Env
}

// NewValidationFailureScenario creates the exhausted-retries scenario.
func NewValidationFailureScenario(cfg *config.Config, env *harness.Env) *ValidationFailureScenario {
	return &ValidationFailureScenario{name: "validation-failure", config: cfg, env: env}
}

// Name returns the scenario name.
func (s *ValidationFailureScenario) Name() string { return s.name }

// Description returns what this scenario verifies.
func (s *ValidationFailureScenario) Description() string {
	return "Exhausted reviewer retries produce a neutral explanatory check run and no review"
}

// Setup scripts the reviewer to return garbage on every attempt.
func (s *ValidationFailureScenario) Setup(ctx context.Context) error {
	s.env.Forge.Reset()
	s.env.LLM.Reset()
	s.env.Forge.AddPull(harness.BillingPull(validationPRNumber, validationHeadSHA), harness.BillingFiles())
	s.env.LLM.Script(config.PlannerModel, harness.PlanFixture())
	s.env.LLM.Script(config.ReviewerModel, harness.GarbageCompletion)
	return nil
}

// Execute runs the scenario stages.
func (s *ValidationFailureScenario) Execute(ctx context.Context) (*Result, error) {
	return runStages(ctx, NewResult(s.name), s.config.ReviewTimeout, []stage{
		{"deliver-webhook", s.stageDeliverWebhook},
		{"await-check-run", s.stageAwaitCheckRun},
		{"verify-failure-report", s.stageVerifyFailureReport},
	})
}

// Teardown has nothing to clean up.
func (s *ValidationFailureScenario) Teardown(ctx context.Context) error { return nil }

func (s *ValidationFailureScenario) stageDeliverWebhook(ctx context.Context, result *Result) error {
	payload := harness.PullRequestOpenedPayload(validationPRNumber, validationHeadSHA, false)
	status, body, err := s.env.PostWebhook(ctx, "pull_request", payload)
	if err != nil {
		return err
	}
	if status != http.StatusAccepted {
		return fmt.Errorf("gateway returned %d: %s", status, body)
	}
	return nil
}

func (s *ValidationFailureScenario) stageAwaitCheckRun(ctx context.Context, result *Result) error {
	return harness.WaitFor(ctx, s.config.PollInterval, "failure check run", func() (bool, error) {
		return len(s.env.Forge.CheckRuns()) > 0, nil
	})
}

// stageVerifyFailureReport checks the neutral report, the absence of a
// review, and that the reviewer burned exactly its retry budget.
func (s *ValidationFailureScenario) stageVerifyFailureReport(ctx context.Context, result *Result) error {
	reviewerCalls := s.env.LLM.Calls(config.ReviewerModel)
	result.SetMetric("reviewer_calls", reviewerCalls)
	if reviewerCalls != 3 {
		return fmt.Errorf("reviewer called %d times, want 3 (full retry budget)", reviewerCalls)
	}
	if calls := s.env.LLM.Calls(config.PlannerModel); calls != 1 {
		return fmt.Errorf("planner called %d times, want 1", calls)
	}

	if n := len(s.env.Forge.Reviews()); n != 0 {
		return fmt.Errorf("no review should be posted, got %d", n)
	}

	runs := s.env.Forge.CheckRuns()
	if len(runs) != 1 {
		return fmt.Errorf("expected 1 check run, got %d", len(runs))
	}
	run := runs[0]
	if run.Conclusion != "neutral" {
		return fmt.Errorf("check run conclusion %q, want neutral", run.Conclusion)
	}
	if run.Title != "Review not completed" {
		return fmt.Errorf("check run title %q", run.Title)
	}
	if !strings.Contains(run.Summary, "failed validation") {
		return fmt.Errorf("check run summary does not explain the failure: %q", run.Summary)
	}
	if !strings.Contains(run.Summary, "reviewer") {
		return fmt.Errorf("check run summary does not name the failing stage: %q", run.Summary)
	}
	result.SetDetail("failure_summary", run.Summary)
	return nil
}
