package review

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/c360studio/semreview/llm"
	"github.com/c360studio/semreview/model"
)

// maxFormatAttempts is the total number of completions per stage when
// output fails validation. Each retry feeds the validation error back
// to the model as a correction message.
const maxFormatAttempts = 3

// StageConfig carries the LLM parameters for one pipeline stage.
type StageConfig struct {
	// Capability selects the model through the registry.
	Capability string

	// Temperature for the stage. Triage runs colder than review.
	Temperature float64

	// MaxTokens bounds the completion.
	MaxTokens int
}

// DefaultPlannerConfig returns the triage-stage parameters.
func DefaultPlannerConfig() StageConfig {
	return StageConfig{
		Capability:  string(model.CapabilityPlanning),
		Temperature: 0.1,
		MaxTokens:   1024,
	}
}

// Planner runs the triage stage: one structured completion that decides
// where review attention goes.
type Planner struct {
	llm    llm.Completer
	cfg    StageConfig
	logger *slog.Logger
}

// NewPlanner creates the triage stage over an LLM client.
func NewPlanner(client llm.Completer, cfg StageConfig, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Capability == "" {
		cfg = DefaultPlannerConfig()
	}
	return &Planner{llm: client, cfg: cfg, logger: logger}
}

// Plan produces a validated triage plan for the context. Completion
// failures map onto the worker taxonomy: transport problems are
// transient, rejected credentials are configuration, and output that
// never validates is a ValidationError carrying the last parse failure.
func (p *Planner) Plan(ctx context.Context, prCtx *PRContext) (*TriagePlan, error) {
	messages := []llm.Message{
		{Role: "system", Content: PlannerSystemPrompt()},
		{Role: "user", Content: PlannerUserPrompt(prCtx)},
	}

	var lastParseErr error
	for attempt := 1; attempt <= maxFormatAttempts; attempt++ {
		resp, err := p.llm.Complete(ctx, llm.Request{
			Capability:  p.cfg.Capability,
			Messages:    messages,
			Temperature: &p.cfg.Temperature,
			MaxTokens:   p.cfg.MaxTokens,
		})
		if err != nil {
			return nil, classifyCompletionError("planner", err)
		}

		plan, parseErr := ParseTriagePlan(resp.Content, prCtx)
		if parseErr == nil {
			p.logger.Debug("triage plan accepted",
				"attempt", attempt,
				"ranked_files", len(plan.RiskRanking),
				"hotspots", len(plan.Hotspots),
				"risk_estimate", plan.OverallRiskEstimate,
			)
			return plan, nil
		}

		lastParseErr = parseErr
		p.logger.Warn("triage plan rejected",
			"attempt", attempt,
			"error", parseErr,
		)
		messages = append(messages,
			llm.Message{Role: "assistant", Content: resp.Content},
			llm.Message{Role: "user", Content: formatCorrectionPrompt(parseErr)},
		)
	}
	return nil, NewValidationError("planner", lastParseErr)
}

// classifyCompletionError maps LLM client failures onto the review
// error taxonomy. Fatal completion errors mean rejected credentials or
// a broken model configuration; they surface as ConfigError so the
// message redelivers until operators repair the environment. Everything
// else is transient.
func classifyCompletionError(stage string, err error) error {
	if llm.IsFatal(err) {
		return NewConfigError(fmt.Errorf("%s completion: %w", stage, err))
	}
	return NewTransientError(fmt.Errorf("%s completion: %w", stage, err))
}
