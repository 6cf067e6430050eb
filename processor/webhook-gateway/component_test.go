package webhookgateway

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/c360studio/semreview/component"
	"github.com/c360studio/semreview/secrets"
)

func testDeps() component.Dependencies {
	return component.Dependencies{
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Secrets: secrets.NewCache(staticSecrets{"webhook-secret": testSecret}),
	}
}

func TestNewComponentAppliesDefaults(t *testing.T) {
	c, err := NewComponent(Config{}, testDeps(), nil)
	if err != nil {
		t.Fatalf("NewComponent: %v", err)
	}

	if c.config.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q, want :8080", c.config.ListenAddr)
	}
	if c.config.EventStream != "REVIEW_EVENTS" {
		t.Errorf("EventStream = %q, want REVIEW_EVENTS", c.config.EventStream)
	}
	if c.config.EventSubjectPrefix != "review.event" {
		t.Errorf("EventSubjectPrefix = %q, want review.event", c.config.EventSubjectPrefix)
	}
	if c.config.SecretName != "webhook-secret" {
		t.Errorf("SecretName = %q, want webhook-secret", c.config.SecretName)
	}
	if c.config.TriggerPhrase != "/review" {
		t.Errorf("TriggerPhrase = %q, want /review", c.config.TriggerPhrase)
	}
	if c.config.CheckRunName != "AI Code Review" {
		t.Errorf("CheckRunName = %q, want AI Code Review", c.config.CheckRunName)
	}
	if c.config.FanoutSubjectPrefix != "" {
		t.Errorf("FanoutSubjectPrefix = %q, want disabled by default", c.config.FanoutSubjectPrefix)
	}
}

func TestNewComponentRequiresSecrets(t *testing.T) {
	deps := component.Dependencies{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	if _, err := NewComponent(Config{}, deps, nil); err == nil {
		t.Error("expected error without a secret source")
	}
}

func TestNewComponentRejectsInvalidConfig(t *testing.T) {
	cfg := Config{MaxWebhookAgeSeconds: -1}
	if _, err := NewComponent(cfg, testDeps(), nil); err == nil {
		t.Error("expected error for negative max_webhook_age_seconds")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"missing listen addr", func(c *Config) { c.ListenAddr = "" }, true},
		{"missing event stream", func(c *Config) { c.EventStream = "" }, true},
		{"missing subject prefix", func(c *Config) { c.EventSubjectPrefix = "" }, true},
		{"missing secret name", func(c *Config) { c.SecretName = "" }, true},
		{"negative age", func(c *Config) { c.MaxWebhookAgeSeconds = -5 }, true},
		{"zero age disables", func(c *Config) { c.MaxWebhookAgeSeconds = 0 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfigMaxWebhookAge(t *testing.T) {
	cfg := Config{MaxWebhookAgeSeconds: 300}
	if got := cfg.MaxWebhookAge(); got != 5*time.Minute {
		t.Errorf("MaxWebhookAge = %v, want 5m", got)
	}
	cfg.MaxWebhookAgeSeconds = 0
	if got := cfg.MaxWebhookAge(); got != 0 {
		t.Errorf("MaxWebhookAge = %v, want 0 when disabled", got)
	}
}

func TestComponentMeta(t *testing.T) {
	c, _ := newTestComponent(t, Config{})
	meta := c.Meta()
	if meta.Name != "webhook-gateway" {
		t.Errorf("Name = %q, want webhook-gateway", meta.Name)
	}
	if meta.Type != "processor" {
		t.Errorf("Type = %q, want processor", meta.Type)
	}
	if meta.Version == "" {
		t.Error("Version must be set")
	}
}

func TestComponentHealthTracksState(t *testing.T) {
	c, _ := newTestComponent(t, Config{})

	h := c.Health()
	if h.Healthy || h.Status != "stopped" {
		t.Errorf("stopped health = %+v", h)
	}

	c.mu.Lock()
	c.running = true
	c.startTime = time.Now().Add(-time.Minute)
	c.mu.Unlock()
	c.failed.Add(2)

	h = c.Health()
	if !h.Healthy || h.Status != "running" {
		t.Errorf("running health = %+v", h)
	}
	if h.ErrorCount != 2 {
		t.Errorf("ErrorCount = %d, want 2", h.ErrorCount)
	}
	if h.Uptime < time.Minute {
		t.Errorf("Uptime = %v, want at least a minute", h.Uptime)
	}
}

func TestStopWhenNotRunning(t *testing.T) {
	c, _ := newTestComponent(t, Config{})
	if err := c.Stop(time.Second); err != nil {
		t.Errorf("Stop on a stopped component = %v, want nil", err)
	}
}

func TestInitializeRequiresNATS(t *testing.T) {
	c, _ := newTestComponent(t, Config{})
	if err := c.Initialize(); err == nil {
		t.Error("expected error without a NATS client")
	}
}
