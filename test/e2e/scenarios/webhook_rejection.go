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
	rejectPRNumber = 606
	rejectHeadSHA  = "a14b7e92c05d38f6610ce4a8d27b95e3f480d1bc"
)

// WebhookRejectionScenario drives the gateway's rejection surface: bad
// signatures, stale deliveries, unparseable events, and event types the
// platform does not review. None of them may reach the stream.
type WebhookRejectionScenario struct {
	name   string
	config *config.Config
	env    *harness.Env
}

// NewWebhookRejectionScenario creates the gateway rejection scenario.
func NewWebhookRejectionScenario(cfg *config.Config, env *harness.Env) *WebhookRejectionScenario {
	return &WebhookRejectionScenario{name: "webhook-rejection", config: cfg, env: env}
}

// Name returns the scenario name.
func (s *WebhookRejectionScenario) Name() string { return s.name }

// Description returns what this scenario verifies.
func (s *WebhookRejectionScenario) Description() string {
	return "Gateway rejects bad signatures, stale and malformed deliveries, and ignores unsupported events"
}

// Setup clears mock state. No fixtures: nothing should get far enough
// to need them.
func (s *WebhookRejectionScenario) Setup(ctx context.Context) error {
	s.env.Forge.Reset()
	s.env.LLM.Reset()
	return nil
}

// Execute runs the scenario stages.
func (s *WebhookRejectionScenario) Execute(ctx context.Context) (*Result, error) {
	return runStages(ctx, NewResult(s.name), s.config.StageTimeout, []stage{
		{"bad-signature", s.stageBadSignature},
		{"stale-delivery", s.stageStaleDelivery},
		{"unknown-event", s.stageUnknownEvent},
		{"ignored-event", s.stageIgnoredEvent},
		{"verify-no-side-effects", s.stageVerifyNoSideEffects},
	})
}

// Teardown has nothing to clean up.
func (s *WebhookRejectionScenario) Teardown(ctx context.Context) error { return nil }

// stageBadSignature posts a payload signed with the wrong secret.
func (s *WebhookRejectionScenario) stageBadSignature(ctx context.Context, result *Result) error {
	payload := harness.PullRequestOpenedPayload(rejectPRNumber, rejectHeadSHA, false)
	status, body, err := s.env.PostWebhookRaw(ctx, "pull_request", payload,
		harness.Sign(payload, "not-the-shared-secret"), nil)
	if err != nil {
		return err
	}
	if status != http.StatusUnauthorized {
		return fmt.Errorf("forged signature returned %d: %s", status, body)
	}
	if !strings.Contains(string(body), "invalid_signature") {
		return fmt.Errorf("unexpected rejection body: %s", body)
	}
	return nil
}

// stageStaleDelivery posts a correctly signed delivery whose ingress
// timestamp is far outside the acceptance window.
func (s *WebhookRejectionScenario) stageStaleDelivery(ctx context.Context, result *Result) error {
	payload := harness.PullRequestOpenedPayload(rejectPRNumber, rejectHeadSHA, false)
	stale := fmt.Sprintf("t=%d", time.Now().Add(-20*time.Minute).Unix())
	status, body, err := s.env.PostWebhookRaw(ctx, "pull_request", payload,
		harness.Sign(payload, config.WebhookSecret),
		map[string]string{"X-Request-Start": stale})
	if err != nil {
		return err
	}
	if status != http.StatusBadRequest {
		return fmt.Errorf("stale delivery returned %d: %s", status, body)
	}
	if !strings.Contains(string(body), "webhook_too_old") {
		return fmt.Errorf("unexpected rejection body: %s", body)
	}
	return nil
}

// stageUnknownEvent posts an event type the forge SDK cannot parse.
func (s *WebhookRejectionScenario) stageUnknownEvent(ctx context.Context, result *Result) error {
	payload := harness.PullRequestOpenedPayload(rejectPRNumber, rejectHeadSHA, false)
	status, body, err := s.env.PostWebhook(ctx, "not_a_real_event", payload)
	if err != nil {
		return err
	}
	if status != http.StatusBadRequest {
		return fmt.Errorf("unknown event returned %d: %s", status, body)
	}
	if !strings.Contains(string(body), "malformed_payload") {
		return fmt.Errorf("unexpected rejection body: %s", body)
	}
	return nil
}

// stageIgnoredEvent posts a parseable event type the platform does not
// review. Ignores are acknowledged, not rejected, so the forge never
// retries them.
func (s *WebhookRejectionScenario) stageIgnoredEvent(ctx context.Context, result *Result) error {
	payload := harness.PullRequestOpenedPayload(rejectPRNumber, rejectHeadSHA, false)
	status, body, err := s.env.PostWebhook(ctx, "team_add", payload)
	if err != nil {
		return err
	}
	if status != http.StatusAccepted {
		return fmt.Errorf("unsupported event returned %d: %s", status, body)
	}
	if !strings.Contains(string(body), "unsupported_event") {
		return fmt.Errorf("unexpected ignore body: %s", body)
	}
	return nil
}

// stageVerifyNoSideEffects confirms nothing reached the pipeline.
func (s *WebhookRejectionScenario) stageVerifyNoSideEffects(ctx context.Context, result *Result) error {
	if calls := s.env.LLM.Calls(config.PlannerModel); calls != 0 {
		return fmt.Errorf("planner called %d times by rejected deliveries", calls)
	}
	if n := len(s.env.Forge.Reviews()); n != 0 {
		return fmt.Errorf("rejected deliveries posted %d reviews", n)
	}
	if n := len(s.env.Forge.CheckRuns()); n != 0 {
		return fmt.Errorf("rejected deliveries posted %d check runs", n)
	}
	result.SetDetail("rejections_verified", 4)
	return nil
}
