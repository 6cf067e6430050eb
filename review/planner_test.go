package review

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/c360studio/semreview/llm"
	"github.com/c360studio/semreview/llm/testutil"
)

const goodPlanJSON = `{
  "risk_ranking": ["auth/token.go"],
  "hotspots": [{"file": "auth/token.go", "reason": "expiry check missing at line 80"}],
  "file_clusters": [{"cluster_label": "auth", "files": ["auth/token.go"], "token_budget": 2000}],
  "skip_files": [],
  "overall_risk_estimate": "medium"
}`

func plannerContext() *PRContext {
	return &PRContext{
		PullRequest: PullRequestInfo{
			Title: "Fix expiry",
			ChangedFiles: []ChangedFileEntry{
				{Filename: "auth/token.go", Status: "modified", Changes: 5, Patch: "@@ -1 +1 @@\n-a\n+b"},
			},
		},
	}
}

func TestPlannerHappyPath(t *testing.T) {
	client := &testutil.ScriptedClient{
		Responses: []*llm.Response{{Content: goodPlanJSON, Model: "test-model"}},
	}
	planner := NewPlanner(client, DefaultPlannerConfig(), nil)

	plan, err := planner.Plan(context.Background(), plannerContext())
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if plan.OverallRiskEstimate != RiskMedium {
		t.Errorf("OverallRiskEstimate = %q, want medium", plan.OverallRiskEstimate)
	}
	if client.CallCount() != 1 {
		t.Errorf("CallCount() = %d, want 1", client.CallCount())
	}

	req := client.CapturedRequests()[0]
	if req.Capability != "planning" {
		t.Errorf("Capability = %q, want planning", req.Capability)
	}
	if req.Temperature == nil || *req.Temperature != 0.1 {
		t.Errorf("Temperature = %v, want 0.1", req.Temperature)
	}
	if req.MaxTokens != 1024 {
		t.Errorf("MaxTokens = %d, want 1024", req.MaxTokens)
	}
	if len(req.Messages) != 2 || req.Messages[0].Role != "system" || req.Messages[1].Role != "user" {
		t.Errorf("Messages roles = %v, want system then user", req.Messages)
	}
}

func TestPlannerFormatRetry(t *testing.T) {
	client := &testutil.ScriptedClient{
		Responses: []*llm.Response{
			{Content: "sorry, no plan today", Model: "test-model"},
			{Content: goodPlanJSON, Model: "test-model"},
		},
	}
	planner := NewPlanner(client, DefaultPlannerConfig(), nil)

	plan, err := planner.Plan(context.Background(), plannerContext())
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if plan == nil {
		t.Fatal("Plan() returned nil plan")
	}
	if client.CallCount() != 2 {
		t.Fatalf("CallCount() = %d, want 2", client.CallCount())
	}

	// The retry carries the rejected output and a correction message.
	second := client.CapturedRequests()[1]
	if len(second.Messages) != 4 {
		t.Fatalf("retry len(Messages) = %d, want 4", len(second.Messages))
	}
	if second.Messages[2].Role != "assistant" || second.Messages[2].Content != "sorry, no plan today" {
		t.Errorf("Messages[2] = %+v, want the rejected assistant output", second.Messages[2])
	}
	if second.Messages[3].Role != "user" || !strings.Contains(second.Messages[3].Content, "no JSON object found") {
		t.Errorf("Messages[3] = %+v, want a correction citing the parse error", second.Messages[3])
	}
}

func TestPlannerValidationExhausted(t *testing.T) {
	client := &testutil.ScriptedClient{
		Responses: []*llm.Response{
			{Content: "still not json"},
			{Content: "nope"},
			{Content: "really nothing"},
		},
	}
	planner := NewPlanner(client, DefaultPlannerConfig(), nil)

	_, err := planner.Plan(context.Background(), plannerContext())
	if err == nil {
		t.Fatal("Plan() error = nil, want validation error")
	}
	ve, ok := AsValidationError(err)
	if !ok {
		t.Fatalf("error %v is not a ValidationError", err)
	}
	if ve.Stage != "planner" {
		t.Errorf("Stage = %q, want planner", ve.Stage)
	}
	if client.CallCount() != 3 {
		t.Errorf("CallCount() = %d, want 3", client.CallCount())
	}
}

func TestPlannerCompletionErrors(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
		label string
	}{
		{"fatal maps to config", llm.NewFatalError(errors.New("invalid api key")), IsConfigError, "config"},
		{"transient maps to transient", llm.NewTransientError(errors.New("rate limited")), IsTransient, "transient"},
		{"unclassified maps to transient", errors.New("connection reset"), IsTransient, "transient"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &testutil.ScriptedClient{Err: tt.err}
			planner := NewPlanner(client, DefaultPlannerConfig(), nil)

			_, err := planner.Plan(context.Background(), plannerContext())
			if err == nil {
				t.Fatal("Plan() error = nil, want error")
			}
			if !tt.check(err) {
				t.Errorf("error %v is not classified as %s", err, tt.label)
			}
			if client.CallCount() != 1 {
				t.Errorf("CallCount() = %d, want 1 (no retry on completion failure)", client.CallCount())
			}
		})
	}
}

func TestNewPlannerDefaultsEmptyConfig(t *testing.T) {
	planner := NewPlanner(&testutil.ScriptedClient{}, StageConfig{}, nil)
	if planner.cfg.Capability != "planning" {
		t.Errorf("Capability = %q, want planning default", planner.cfg.Capability)
	}
	if planner.cfg.MaxTokens != 1024 {
		t.Errorf("MaxTokens = %d, want 1024 default", planner.cfg.MaxTokens)
	}
}
