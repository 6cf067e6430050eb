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
	draftPRNumber = 505
	draftHeadSHA  = "e57f0a2c914d6b38a06cd5e1f42b78d3c5901afe"
)

// DraftSkipScenario opens a draft PR under the default policy. The
// worker must consume the event, look the PR up, and skip it before any
// LLM call or forge write, leaving only a skip counter behind.
type DraftSkipScenario struct {
	name   string
	config *config.Config
	env    *harness.Env
}

// NewDraftSkipScenario creates the draft-skip scenario.
func NewDraftSkipScenario(cfg *config.Config, env *harness.Env) *DraftSkipScenario {
	return &DraftSkipScenario{name: "draft-skip", config: cfg, env: env}
}

// Name returns the scenario name.
func (s *DraftSkipScenario) Name() string { return s.name }

// Description returns what this scenario verifies.
func (s *DraftSkipScenario) Description() string {
	return "Auto-triggered review of a draft PR is skipped before the pipeline starts"
}

// Setup registers a draft PR fixture.
func (s *DraftSkipScenario) Setup(ctx context.Context) error {
	s.env.Forge.Reset()
	s.env.LLM.Reset()
	pull := harness.BillingPull(draftPRNumber, draftHeadSHA)
	pull.Draft = true
	s.env.Forge.AddPull(pull, harness.BillingFiles())
	return nil
}

// Execute runs the scenario stages.
func (s *DraftSkipScenario) Execute(ctx context.Context) (*Result, error) {
	return runStages(ctx, NewResult(s.name), s.config.ReviewTimeout, []stage{
		{"deliver-webhook", s.stageDeliverWebhook},
		{"await-skip-metric", s.stageAwaitSkipMetric},
		{"verify-nothing-posted", s.stageVerifyNothingPosted},
	})
}

// Teardown has nothing to clean up.
func (s *DraftSkipScenario) Teardown(ctx context.Context) error { return nil }

func (s *DraftSkipScenario) stageDeliverWebhook(ctx context.Context, result *Result) error {
	payload := harness.PullRequestOpenedPayload(draftPRNumber, draftHeadSHA, true)
	status, body, err := s.env.PostWebhook(ctx, "pull_request", payload)
	if err != nil {
		return err
	}
	// The gateway does not gate on draft status; the policy decision
	// belongs to the worker, which sees the authoritative PR state.
	if status != http.StatusAccepted {
		return fmt.Errorf("gateway returned %d: %s", status, body)
	}
	return nil
}

// stageAwaitSkipMetric polls the metrics endpoint until the skip
// counter for draft PRs appears.
func (s *DraftSkipScenario) stageAwaitSkipMetric(ctx context.Context, result *Result) error {
	series := `semreview_reviews_skipped_total{reason="draft_pr"}`
	return harness.WaitFor(ctx, s.config.PollInterval, "draft skip metric", func() (bool, error) {
		text, err := s.env.Metrics(ctx)
		if err != nil {
			return false, err
		}
		return strings.Contains(text, series), nil
	})
}

// stageVerifyNothingPosted checks the skip happened before any model
// call or forge write.
func (s *DraftSkipScenario) stageVerifyNothingPosted(ctx context.Context, result *Result) error {
	if calls := s.env.LLM.Calls(config.PlannerModel); calls != 0 {
		return fmt.Errorf("planner called %d times for a skipped review", calls)
	}
	if calls := s.env.LLM.Calls(config.ReviewerModel); calls != 0 {
		return fmt.Errorf("reviewer called %d times for a skipped review", calls)
	}
	if n := len(s.env.Forge.Reviews()); n != 0 {
		return fmt.Errorf("skipped review still posted %d reviews", n)
	}
	if n := len(s.env.Forge.CheckRuns()); n != 0 {
		return fmt.Errorf("skipped review still posted %d check runs", n)
	}
	result.SetDetail("skipped", true)
	return nil
}
