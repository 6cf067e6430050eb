// Package config provides configuration constants for e2e scenarios.
package config

import (
	"os"
	"time"
)

// Default connection endpoints. The NATS server is external (docker
// compose up -d nats); everything else runs inside the runner process.
const (
	DefaultNATSURL     = "nats://localhost:4222"
	DefaultGatewayAddr = "127.0.0.1:18080"
)

// Default timeouts.
const (
	DefaultSetupTimeout  = 60 * time.Second
	DefaultStageTimeout  = 30 * time.Second
	DefaultReviewTimeout = 45 * time.Second
	DefaultPollInterval  = 250 * time.Millisecond
)

// Shared test identity. The webhook secret and forge token are what the
// runner installs before starting the components; owner and repo name
// the fixture repository on the mock forge.
const (
	WebhookSecret = "e2e-webhook-secret"
	ForgeToken    = "e2e-forge-token"

	RepoOwner    = "c360studio"
	RepoName     = "billing-api"
	RepoFullName = RepoOwner + "/" + RepoName

	CheckRunName = "AI Code Review"

	PlannerModel  = "mock-planner"
	ReviewerModel = "mock-reviewer"
)

// Stream, subject, and bucket names. They are deliberately distinct
// from the service defaults so a runner pointed at a shared NATS server
// never touches production streams, and they are dropped and
// re-provisioned on every runner start so old claims cannot suppress a
// fresh run.
const (
	EventStream        = "E2E_REVIEW_EVENTS"
	EventSubjectPrefix = "e2e.review.event"
	IdempotencyBucket  = "E2E_REVIEW_IDEMPOTENCY"
	ConsumerName       = "e2e-review-worker"
)

// Config holds the e2e runner configuration.
type Config struct {
	NATSURL       string        `json:"nats_url"`
	GatewayAddr   string        `json:"gateway_addr"`
	SetupTimeout  time.Duration `json:"setup_timeout"`
	StageTimeout  time.Duration `json:"stage_timeout"`
	ReviewTimeout time.Duration `json:"review_timeout"`
	PollInterval  time.Duration `json:"poll_interval"`
}

// DefaultConfig returns a Config with default values, honoring the
// SEMREVIEW_E2E_NATS_URL and SEMREVIEW_E2E_GATEWAY_ADDR overrides.
func DefaultConfig() *Config {
	cfg := &Config{
		NATSURL:       DefaultNATSURL,
		GatewayAddr:   DefaultGatewayAddr,
		SetupTimeout:  DefaultSetupTimeout,
		StageTimeout:  DefaultStageTimeout,
		ReviewTimeout: DefaultReviewTimeout,
		PollInterval:  DefaultPollInterval,
	}
	if url := os.Getenv("SEMREVIEW_E2E_NATS_URL"); url != "" {
		cfg.NATSURL = url
	}
	if addr := os.Getenv("SEMREVIEW_E2E_GATEWAY_ADDR"); addr != "" {
		cfg.GatewayAddr = addr
	}
	return cfg
}

// GatewayURL returns the base URL of the in-process webhook gateway.
func (c *Config) GatewayURL() string {
	return "http://" + c.GatewayAddr
}
