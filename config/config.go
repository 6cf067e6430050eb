// Package config provides configuration loading and management for semreview.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360studio/semreview/model"
)

// Config represents the complete semreview configuration.
// Values are layered: defaults, then the YAML file, then environment
// variables (see Loader).
type Config struct {
	Service ServiceConfig `yaml:"service"`
	NATS    NATSConfig    `yaml:"nats"`
	Queue   QueueConfig   `yaml:"queue"`
	Webhook WebhookConfig `yaml:"webhook"`
	Forge   ForgeConfig   `yaml:"forge"`
	Review  ReviewConfig  `yaml:"review"`
	Worker  WorkerConfig  `yaml:"worker"`

	// Models configures the capability registry for LLM selection.
	// Nil means the built-in default registry.
	Models *model.RegistryConfig `yaml:"models,omitempty"`
}

// ServiceConfig configures the process-level settings.
type ServiceConfig struct {
	// HTTPAddr is the listen address for the webhook gateway.
	HTTPAddr string `yaml:"http_addr" env:"SEMREVIEW_HTTP_ADDR"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" env:"SEMREVIEW_LOG_LEVEL"`
	// DryRun disables all forge writes; intended effects are logged instead.
	DryRun bool `yaml:"dry_run" env:"DRY_RUN"`
	// SecretsDir, when set, loads secrets from files in this directory
	// in addition to the environment.
	SecretsDir string `yaml:"secrets_dir" env:"SEMREVIEW_SECRETS_DIR"`
}

// NATSConfig configures the NATS connection.
type NATSConfig struct {
	// URL is the NATS server URL.
	URL string `yaml:"url" env:"SEMREVIEW_NATS_URL"`
	// MaxReconnects before the client gives up (-1 = unlimited).
	MaxReconnects int `yaml:"max_reconnects"`
	// ReconnectWait is the delay between reconnect attempts.
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
}

// QueueConfig configures the streams and the idempotency bucket.
type QueueConfig struct {
	// EventStream is the JetStream stream holding canonical review events.
	EventStream string `yaml:"event_stream"`
	// EventSubjectPrefix is the subject prefix for canonical events.
	// Full subjects are <prefix>.<owner>.<repo>.<pr>.
	EventSubjectPrefix string `yaml:"event_subject_prefix" env:"QUEUE_URL"`
	// FanoutStream is the stream for downstream generators.
	FanoutStream string `yaml:"fanout_stream"`
	// FanoutSubjectPrefix enables the secondary publish for auto-triggered
	// events. Empty disables fan-out entirely.
	FanoutSubjectPrefix string `yaml:"fanout_subject_prefix" env:"FANOUT_QUEUE_URL"`
	// CallStream is the stream receiving LLM call records.
	CallStream string `yaml:"call_stream"`
	// CallSubjectPrefix is the subject prefix for LLM call records.
	CallSubjectPrefix string `yaml:"call_subject_prefix"`
	// IdempotencyBucket is the KV bucket used for review claims.
	IdempotencyBucket string `yaml:"idempotency_bucket" env:"IDEMPOTENCY_TABLE"`
	// IdempotencyTTLSeconds is how long a claim blocks duplicate reviews.
	IdempotencyTTLSeconds int `yaml:"idempotency_ttl_seconds" env:"IDEMPOTENCY_TTL_SECONDS"`
}

// WebhookConfig configures ingress verification and trigger parsing.
type WebhookConfig struct {
	// SecretName is the secret-store key holding the shared webhook secret.
	SecretName string `yaml:"secret_name"`
	// MaxAgeSeconds rejects deliveries older than this. 0 disables the
	// replay check.
	MaxAgeSeconds int `yaml:"max_age_seconds" env:"MAX_WEBHOOK_AGE_SECONDS"`
	// AllowedRepos restricts enqueue to these owner/name repos.
	// Empty allows all.
	AllowedRepos []string `yaml:"allowed_repos" env:"GITHUB_ALLOWED_REPOS"`
	// TriggerPhrase is the comment command that requests a manual review.
	TriggerPhrase string `yaml:"trigger_phrase" env:"REVIEW_TRIGGER_PHRASE"`
	// BotUsername enables the "@bot review" mention trigger when set.
	BotUsername string `yaml:"bot_username" env:"BOT_USERNAME"`
	// TriggerLabels are the PR labels that start a review when applied.
	// Empty means labeled events never trigger.
	TriggerLabels []string `yaml:"trigger_labels" env:"REVIEW_TRIGGER_LABELS"`
}

// ForgeConfig configures the source-forge client and its auth mode.
type ForgeConfig struct {
	// BaseURL overrides the API base (GitHub Enterprise or test servers).
	// Empty uses api.github.com.
	BaseURL string `yaml:"base_url" env:"SEMREVIEW_FORGE_BASE_URL"`
	// AuthMode is "token" (PAT from the secret store) or "app"
	// (installation tokens minted from a signing key).
	AuthMode string `yaml:"auth_mode" env:"SEMREVIEW_FORGE_AUTH"`
	// TokenSecretName is the secret-store key for the PAT in token mode.
	TokenSecretName string `yaml:"token_secret_name"`
	// AppID is the forge app identifier in app mode.
	AppID int64 `yaml:"app_id" env:"GITHUB_APP_ID"`
	// InstallationID is the default installation in app mode. A
	// webhook-supplied installation id takes precedence.
	InstallationID int64 `yaml:"installation_id" env:"GITHUB_INSTALLATION_ID"`
	// PrivateKeySecretName is the secret-store key for the RS256 signing
	// key in app mode.
	PrivateKeySecretName string `yaml:"private_key_secret_name"`
	// CheckRunName is the name under which check runs are reported.
	CheckRunName string `yaml:"check_run_name" env:"CHECK_RUN_NAME"`
	// HTTPTimeout bounds individual forge API calls.
	HTTPTimeout time.Duration `yaml:"http_timeout"`
}

// ReviewConfig configures the context-builder budgets and review defaults.
// Per-repo .ai-reviewer.yml policy overrides the review defaults, never
// the budgets.
type ReviewConfig struct {
	// MaxReviewFiles caps how many changed files enter the review context.
	MaxReviewFiles int `yaml:"max_review_files" env:"MAX_REVIEW_FILES"`
	// MaxDiffBytes caps a single file's patch size.
	MaxDiffBytes int `yaml:"max_diff_bytes" env:"MAX_DIFF_BYTES"`
	// MaxTotalDiffBytes caps the combined patch size.
	MaxTotalDiffBytes int `yaml:"max_total_diff_bytes" env:"MAX_TOTAL_DIFF_BYTES"`
	// LargePatchPolicy is "clip" (truncate oversized patches) or "skip".
	LargePatchPolicy string `yaml:"large_patch_policy" env:"LARGE_PATCH_POLICY"`
	// SkipPatterns are extra exclusion globs merged with the built-ins.
	SkipPatterns []string `yaml:"skip_patterns" env:"SKIP_PATTERNS"`
}

// WorkerConfig configures the review-worker consumer.
type WorkerConfig struct {
	// ConsumerName is the durable consumer name on the event stream.
	ConsumerName string `yaml:"consumer_name"`
	// MaxConcurrent bounds reviews in flight.
	MaxConcurrent int `yaml:"max_concurrent"`
	// AckWait is how long the server waits for an ack before redelivery.
	AckWait time.Duration `yaml:"ack_wait"`
	// MaxDeliver caps redeliveries before a message is dropped.
	MaxDeliver int `yaml:"max_deliver"`
	// PlannerMaxTokens bounds the triage-stage completion.
	PlannerMaxTokens int `yaml:"planner_max_tokens"`
	// ReviewerMaxTokens bounds the review-stage completion.
	ReviewerMaxTokens int `yaml:"reviewer_max_tokens"`
	// PlannerTemperature and ReviewerTemperature control sampling.
	PlannerTemperature  float64 `yaml:"planner_temperature"`
	ReviewerTemperature float64 `yaml:"reviewer_temperature"`
	// LLMTimeout bounds a single completion call.
	LLMTimeout time.Duration `yaml:"llm_timeout"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			HTTPAddr: ":8080",
			LogLevel: "info",
		},
		NATS: NATSConfig{
			URL:           "nats://localhost:4222",
			MaxReconnects: 10,
			ReconnectWait: 2 * time.Second,
		},
		Queue: QueueConfig{
			EventStream:           "REVIEW_EVENTS",
			EventSubjectPrefix:    "review.event",
			FanoutStream:          "REVIEW_FANOUT",
			FanoutSubjectPrefix:   "", // Fan-out off by default
			CallStream:            "LLM_CALLS",
			CallSubjectPrefix:     "llm.call",
			IdempotencyBucket:     "REVIEW_IDEMPOTENCY",
			IdempotencyTTLSeconds: 604800, // 7 days
		},
		Webhook: WebhookConfig{
			SecretName:    "webhook-secret",
			MaxAgeSeconds: 300,
			TriggerPhrase: "/review",
		},
		Forge: ForgeConfig{
			AuthMode:             "token",
			TokenSecretName:      "github-token",
			PrivateKeySecretName: "github-app-key",
			CheckRunName:         "AI Code Review",
			HTTPTimeout:          30 * time.Second,
		},
		Review: ReviewConfig{
			MaxReviewFiles:    50,
			MaxDiffBytes:      16 * 1024,
			MaxTotalDiffBytes: 256 * 1024,
			LargePatchPolicy:  "clip",
		},
		Worker: WorkerConfig{
			ConsumerName:        "review-worker",
			MaxConcurrent:       4,
			AckWait:             10 * time.Minute,
			MaxDeliver:          3,
			PlannerMaxTokens:    1024,
			ReviewerMaxTokens:   4096,
			PlannerTemperature:  0.1,
			ReviewerTemperature: 0.2,
			LLMTimeout:          2 * time.Minute,
		},
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	switch c.Service.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("service.log_level must be debug, info, warn, or error")
	}
	if c.NATS.URL == "" {
		return fmt.Errorf("nats.url is required")
	}
	if c.Queue.EventStream == "" {
		return fmt.Errorf("queue.event_stream is required")
	}
	if c.Queue.EventSubjectPrefix == "" {
		return fmt.Errorf("queue.event_subject_prefix is required")
	}
	if c.Queue.IdempotencyBucket == "" {
		return fmt.Errorf("queue.idempotency_bucket is required")
	}
	if c.Queue.IdempotencyTTLSeconds <= 0 {
		return fmt.Errorf("queue.idempotency_ttl_seconds must be positive")
	}
	if c.Webhook.MaxAgeSeconds < 0 {
		return fmt.Errorf("webhook.max_age_seconds must not be negative")
	}
	switch c.Forge.AuthMode {
	case "token", "app":
	default:
		return fmt.Errorf("forge.auth_mode must be token or app")
	}
	if c.Forge.AuthMode == "app" && c.Forge.AppID == 0 {
		return fmt.Errorf("forge.app_id is required in app auth mode")
	}
	if c.Review.MaxReviewFiles <= 0 {
		return fmt.Errorf("review.max_review_files must be positive")
	}
	if c.Review.MaxDiffBytes <= 0 {
		return fmt.Errorf("review.max_diff_bytes must be positive")
	}
	if c.Review.MaxTotalDiffBytes < c.Review.MaxDiffBytes {
		return fmt.Errorf("review.max_total_diff_bytes must be at least review.max_diff_bytes")
	}
	switch c.Review.LargePatchPolicy {
	case "clip", "skip":
	default:
		return fmt.Errorf("review.large_patch_policy must be clip or skip")
	}
	if c.Worker.MaxConcurrent <= 0 {
		return fmt.Errorf("worker.max_concurrent must be positive")
	}
	if c.Worker.MaxDeliver <= 0 {
		return fmt.Errorf("worker.max_deliver must be positive")
	}
	if c.Worker.PlannerTemperature < 0 || c.Worker.PlannerTemperature > 1 {
		return fmt.Errorf("worker.planner_temperature must be between 0 and 1")
	}
	if c.Worker.ReviewerTemperature < 0 || c.Worker.ReviewerTemperature > 1 {
		return fmt.Errorf("worker.reviewer_temperature must be between 0 and 1")
	}
	return nil
}

// IdempotencyTTL returns the claim TTL as a duration.
func (c *Config) IdempotencyTTL() time.Duration {
	return time.Duration(c.Queue.IdempotencyTTLSeconds) * time.Second
}

// FanoutEnabled reports whether auto-triggered events are republished
// for downstream generators.
func (c *Config) FanoutEnabled() bool {
	return c.Queue.FanoutSubjectPrefix != ""
}

// LoadFromFile loads configuration from a YAML file over the defaults.
// Keys absent from the file keep their default values.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file.
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
