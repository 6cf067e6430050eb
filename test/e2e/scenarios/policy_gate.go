package scenarios

import (
	"context"
	"fmt"
	"net/http"

	"github.com/c360studio/semreview/test/e2e/config"
	"github.com/c360studio/semreview/test/e2e/harness"
)

const (
	policyPRNumber = 404
	policyHeadSHA  = "c93d5b16e04a7f2881fe6a0db35c2d49170a8e6f"
)

// policyGateYAML raises the failure threshold to medium and switches
// the review surface to summary only. Keys absent from the file keep
// their defaults, so the review itself is still posted.
const policyGateYAML = "failure_on_severity: medium\nreview_comment_mode: summary_only\n"

// PolicyGateScenario serves a repo policy from the mock forge and
// verifies it steers the outcome: a medium finding now fails the check
// and the posted review carries no inline comments.
type PolicyGateScenario struct {
	name   string
	config *config.Config
	env    *harness.Env
}

// NewPolicyGateScenario creates the repo-policy scenario.
func NewPolicyGateScenario(cfg *config.Config, env *harness.Env) *PolicyGateScenario {
	return &PolicyGateScenario{name: "policy-gate", config: cfg, env: env}
}

// Name returns the scenario name.
func (s *PolicyGateScenario) Name() string { return s.name }

// Description returns what this scenario verifies.
func (s *PolicyGateScenario) Description() string {
	return "Repo .ai-reviewer.yml drives a failure conclusion and summary-only review"
}

// Setup installs the policy file alongside the PR fixture.
func (s *PolicyGateScenario) Setup(ctx context.Context) error {
	s.env.Forge.Reset()
	s.env.LLM.Reset()
	s.env.Forge.AddPull(harness.BillingPull(policyPRNumber, policyHeadSHA), harness.BillingFiles())
	s.env.Forge.SetPolicy(policyGateYAML)
	s.env.LLM.Script(config.PlannerModel, harness.PlanFixture())
	s.env.LLM.Script(config.ReviewerModel, harness.ReviewFixture(1))
	return nil
}

// Execute runs the scenario stages.
func (s *PolicyGateScenario) Execute(ctx context.Context) (*Result, error) {
	return runStages(ctx, NewResult(s.name), s.config.ReviewTimeout, []stage{
		{"deliver-webhook", s.stageDeliverWebhook},
		{"await-check-run", s.stageAwaitCheckRun},
		{"verify-policy-applied", s.stageVerifyPolicyApplied},
	})
}

// Teardown removes the policy so later scenarios run on defaults.
func (s *PolicyGateScenario) Teardown(ctx context.Context) error {
	s.env.Forge.SetPolicy("")
	return nil
}

func (s *PolicyGateScenario) stageDeliverWebhook(ctx context.Context, result *Result) error {
	payload := harness.PullRequestOpenedPayload(policyPRNumber, policyHeadSHA, false)
	status, body, err := s.env.PostWebhook(ctx, "pull_request", payload)
	if err != nil {
		return err
	}
	if status != http.StatusAccepted {
		return fmt.Errorf("gateway returned %d: %s", status, body)
	}
	return nil
}

func (s *PolicyGateScenario) stageAwaitCheckRun(ctx context.Context, result *Result) error {
	return harness.WaitFor(ctx, s.config.PollInterval, "check run", func() (bool, error) {
		return len(s.env.Forge.CheckRuns()) > 0, nil
	})
}

// stageVerifyPolicyApplied checks both policy effects landed.
func (s *PolicyGateScenario) stageVerifyPolicyApplied(ctx context.Context, result *Result) error {
	runs := s.env.Forge.CheckRuns()
	if len(runs) != 1 {
		return fmt.Errorf("expected 1 check run, got %d", len(runs))
	}
	run := runs[0]
	// Priority 1 maps to medium severity, meeting the policy threshold.
	if run.Conclusion != "failure" {
		return fmt.Errorf("check run conclusion %q, want failure", run.Conclusion)
	}
	if run.Title != "1 finding, overall risk medium" {
		return fmt.Errorf("check run title %q", run.Title)
	}

	reviews := s.env.Forge.Reviews()
	if len(reviews) != 1 {
		return fmt.Errorf("expected 1 posted review, got %d", len(reviews))
	}
	if n := len(reviews[0].Comments); n != 0 {
		return fmt.Errorf("summary-only review carries %d inline comments", n)
	}
	result.SetDetail("check_conclusion", run.Conclusion)
	return nil
}
