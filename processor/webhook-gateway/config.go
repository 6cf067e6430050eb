package webhookgateway

import (
	"fmt"
	"time"
)

// Config holds configuration for the webhook gateway component.
type Config struct {
	// ListenAddr is the HTTP bind address.
	ListenAddr string `json:"listen_addr"`

	// EventStream is the JetStream stream canonical events land on. The
	// component verifies it exists at startup.
	EventStream string `json:"event_stream"`

	// EventSubjectPrefix prefixes the per-PR publish subject.
	EventSubjectPrefix string `json:"event_subject_prefix"`

	// FanoutSubjectPrefix, when set, mirrors auto-triggered events onto
	// a second subject space. Empty disables fanout.
	FanoutSubjectPrefix string `json:"fanout_subject_prefix"`

	// SecretName is the webhook HMAC secret's name in the secret store.
	SecretName string `json:"secret_name"`

	// MaxWebhookAgeSeconds rejects deliveries whose ingress timestamp is
	// older than this window. Zero disables the check.
	MaxWebhookAgeSeconds int `json:"max_webhook_age_seconds"`

	// TriggerPhrase in a PR comment requests a manual review.
	TriggerPhrase string `json:"trigger_phrase"`

	// BotUsername enables the "@<bot> review" comment command.
	BotUsername string `json:"bot_username"`

	// TriggerLabels are label names whose application triggers a review.
	TriggerLabels []string `json:"trigger_labels"`

	// CheckRunName is the check whose re-run requests a review.
	CheckRunName string `json:"check_run_name"`

	// AllowedRepos restricts processing to the listed owner/name pairs
	// when non-empty.
	AllowedRepos []string `json:"allowed_repos"`
}

// DefaultConfig returns the default gateway configuration.
func DefaultConfig() Config {
	return Config{
		ListenAddr:           ":8080",
		EventStream:          "REVIEW_EVENTS",
		EventSubjectPrefix:   "review.event",
		SecretName:           "webhook-secret",
		MaxWebhookAgeSeconds: 300,
		TriggerPhrase:        "/review",
		CheckRunName:         "AI Code Review",
	}
}

// Validate verifies the configuration is consistent.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}
	if c.EventStream == "" {
		return fmt.Errorf("event_stream is required")
	}
	if c.EventSubjectPrefix == "" {
		return fmt.Errorf("event_subject_prefix is required")
	}
	if c.SecretName == "" {
		return fmt.Errorf("secret_name is required")
	}
	if c.MaxWebhookAgeSeconds < 0 {
		return fmt.Errorf("max_webhook_age_seconds cannot be negative, got %d", c.MaxWebhookAgeSeconds)
	}
	return nil
}

// MaxWebhookAge returns the replay window as a duration. Zero means the
// age check is disabled.
func (c *Config) MaxWebhookAge() time.Duration {
	return time.Duration(c.MaxWebhookAgeSeconds) * time.Second
}
