package reviewworker

import (
	"fmt"
	"time"

	"github.com/c360studio/semreview/storage"
)

// Config defines the review-worker configuration.
type Config struct {
	// StreamName is the JetStream stream holding canonical events.
	StreamName string `json:"stream_name"`

	// ConsumerName is the durable consumer name on the event stream.
	ConsumerName string `json:"consumer_name"`

	// FilterSubject selects the event subjects this worker consumes.
	FilterSubject string `json:"filter_subject"`

	// MaxConcurrent bounds reviews in flight.
	MaxConcurrent int `json:"max_concurrent"`

	// AckWait is how long the server waits for an ack before
	// redelivering. Must cover both LLM stages plus the forge posts.
	AckWait time.Duration `json:"ack_wait"`

	// MaxDeliver caps redeliveries before a message is dropped.
	MaxDeliver int `json:"max_deliver"`

	// IdempotencyBucket is the KV bucket holding review claims.
	IdempotencyBucket string `json:"idempotency_bucket"`

	// IdempotencyTTL is how long a claim blocks duplicate reviews.
	IdempotencyTTL time.Duration `json:"idempotency_ttl"`

	// CheckRunName is the name under which check runs are reported.
	CheckRunName string `json:"check_run_name"`

	// PlannerTemperature and ReviewerTemperature control sampling.
	// Zero is deterministic, not "use the default".
	PlannerTemperature  float64 `json:"planner_temperature"`
	ReviewerTemperature float64 `json:"reviewer_temperature"`

	// PlannerMaxTokens and ReviewerMaxTokens bound the completions.
	PlannerMaxTokens  int `json:"planner_max_tokens"`
	ReviewerMaxTokens int `json:"reviewer_max_tokens"`

	// LLMTimeout bounds a single pipeline stage.
	LLMTimeout time.Duration `json:"llm_timeout"`

	// MaxReviewFiles caps how many changed files enter the review
	// context.
	MaxReviewFiles int `json:"max_review_files"`

	// MaxDiffBytes caps a single file's patch size.
	MaxDiffBytes int `json:"max_diff_bytes"`

	// MaxTotalDiffBytes caps the combined patch size.
	MaxTotalDiffBytes int `json:"max_total_diff_bytes"`

	// LargePatchPolicy is clip or skip.
	LargePatchPolicy string `json:"large_patch_policy"`

	// SkipPatterns are service-level exclusion globs, merged with the
	// per-repo policy's ignore patterns at context-build time.
	SkipPatterns []string `json:"skip_patterns,omitempty"`
}

// DefaultConfig returns the default review-worker configuration.
func DefaultConfig() Config {
	return Config{
		StreamName:          "REVIEW_EVENTS",
		ConsumerName:        "review-worker",
		FilterSubject:       "review.event.>",
		MaxConcurrent:       4,
		AckWait:             10 * time.Minute,
		MaxDeliver:          3,
		IdempotencyBucket:   storage.DefaultBucket,
		IdempotencyTTL:      storage.DefaultTTL,
		CheckRunName:        "AI Code Review",
		PlannerTemperature:  0.1,
		ReviewerTemperature: 0.2,
		PlannerMaxTokens:    1024,
		ReviewerMaxTokens:   4096,
		LLMTimeout:          2 * time.Minute,
		MaxReviewFiles:      50,
		MaxDiffBytes:        16 * 1024,
		MaxTotalDiffBytes:   256 * 1024,
		LargePatchPolicy:    "clip",
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.StreamName == "" {
		return fmt.Errorf("stream name is required")
	}
	if c.ConsumerName == "" {
		return fmt.Errorf("consumer name is required")
	}
	if c.FilterSubject == "" {
		return fmt.Errorf("filter subject is required")
	}
	if c.MaxConcurrent <= 0 {
		return fmt.Errorf("max concurrent must be positive")
	}
	if c.MaxDeliver <= 0 {
		return fmt.Errorf("max deliver must be positive")
	}
	if c.CheckRunName == "" {
		return fmt.Errorf("check run name is required")
	}
	if c.PlannerTemperature < 0 || c.PlannerTemperature > 1 {
		return fmt.Errorf("planner temperature must be between 0 and 1")
	}
	if c.ReviewerTemperature < 0 || c.ReviewerTemperature > 1 {
		return fmt.Errorf("reviewer temperature must be between 0 and 1")
	}
	if c.MaxReviewFiles <= 0 {
		return fmt.Errorf("max review files must be positive")
	}
	if c.MaxDiffBytes <= 0 {
		return fmt.Errorf("max diff bytes must be positive")
	}
	if c.MaxTotalDiffBytes < c.MaxDiffBytes {
		return fmt.Errorf("max total diff bytes must be at least max diff bytes")
	}
	switch c.LargePatchPolicy {
	case "clip", "skip":
	default:
		return fmt.Errorf("large patch policy must be clip or skip, got %q", c.LargePatchPolicy)
	}
	return nil
}
