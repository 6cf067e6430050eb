package review

import (
	"context"
	"log/slog"

	"github.com/c360studio/semreview/llm"
	"github.com/c360studio/semreview/model"
)

// DefaultReviewerConfig returns the review-stage parameters.
func DefaultReviewerConfig() StageConfig {
	return StageConfig{
		Capability:  string(model.CapabilityReviewing),
		Temperature: 0.2,
		MaxTokens:   4096,
	}
}

// Reviewer runs the review stage: the deep pass over the context,
// guided by the triage plan.
type Reviewer struct {
	llm    llm.Completer
	cfg    StageConfig
	logger *slog.Logger
}

// NewReviewer creates the review stage over an LLM client.
func NewReviewer(client llm.Completer, cfg StageConfig, logger *slog.Logger) *Reviewer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Capability == "" {
		cfg = DefaultReviewerConfig()
	}
	return &Reviewer{llm: client, cfg: cfg, logger: logger}
}

// Review produces a validated review for the context under the triage
// plan. Error classification matches Planner.Plan: transport failures
// are transient, rejected credentials are configuration, and output
// that never validates becomes a ValidationError.
func (r *Reviewer) Review(ctx context.Context, prCtx *PRContext, plan *TriagePlan) (*Review, error) {
	userPrompt, err := ReviewerUserPrompt(prCtx, plan)
	if err != nil {
		return nil, NewValidationError("reviewer", err)
	}
	messages := []llm.Message{
		{Role: "system", Content: ReviewerSystemPrompt()},
		{Role: "user", Content: userPrompt},
	}

	var lastParseErr error
	for attempt := 1; attempt <= maxFormatAttempts; attempt++ {
		resp, err := r.llm.Complete(ctx, llm.Request{
			Capability:  r.cfg.Capability,
			Messages:    messages,
			Temperature: &r.cfg.Temperature,
			MaxTokens:   r.cfg.MaxTokens,
		})
		if err != nil {
			return nil, classifyCompletionError("reviewer", err)
		}

		rev, parseErr := ParseReview(resp.Content)
		if parseErr == nil {
			r.logger.Debug("review accepted",
				"attempt", attempt,
				"findings", len(rev.Findings),
				"overall_risk", rev.OverallRisk,
			)
			return rev, nil
		}

		lastParseErr = parseErr
		r.logger.Warn("review rejected",
			"attempt", attempt,
			"error", parseErr,
		)
		messages = append(messages,
			llm.Message{Role: "assistant", Content: resp.Content},
			llm.Message{Role: "user", Content: formatCorrectionPrompt(parseErr)},
		)
	}
	return nil, NewValidationError("reviewer", lastParseErr)
}
