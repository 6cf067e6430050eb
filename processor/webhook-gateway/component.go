// Package webhookgateway provides the HTTP ingress component. It
// verifies forge webhook deliveries, classifies them against the
// trigger matrix, and publishes canonical review events to JetStream
// with queue-level deduplication.
package webhookgateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/semreview/component"
	"github.com/c360studio/semreview/forge"
	"github.com/c360studio/semreview/metrics"
	"github.com/c360studio/semreview/natsclient"
	"github.com/c360studio/semreview/secrets"
)

// eventPublisher is the JetStream surface the gateway publishes through.
type eventPublisher interface {
	PublishMsg(ctx context.Context, msg *nats.Msg, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// clientSource hands out authenticated forge clients per installation.
// The gateway only needs it to resolve head SHAs for comment-triggered
// reviews.
type clientSource interface {
	Client(ctx context.Context, installationID int64) (*forge.Client, error)
}

// Component implements the webhook gateway.
type Component struct {
	name       string
	config     Config
	natsClient *natsclient.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
	secrets    *secrets.Cache

	// forge resolves pull request heads for manual triggers. Nil when
	// the deployment has no forge credentials; manual triggers then
	// fail with a config error.
	forge clientSource

	js     eventPublisher
	server *http.Server

	// healthSource, when set, reports every component in the process on
	// /healthz instead of just this one.
	healthSource func() map[string]component.HealthStatus

	// Lifecycle
	running   bool
	startTime time.Time
	mu        sync.RWMutex

	// Counters
	received atomic.Int64
	ignored  atomic.Int64
	enqueued atomic.Int64
	rejected atomic.Int64
	failed   atomic.Int64
}

// NewComponent creates a webhook gateway component. conn may be nil
// when no forge credentials are configured.
func NewComponent(cfg Config, deps component.Dependencies, conn *forge.Connector) (*Component, error) {
	defaults := DefaultConfig()
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaults.ListenAddr
	}
	if cfg.EventStream == "" {
		cfg.EventStream = defaults.EventStream
	}
	if cfg.EventSubjectPrefix == "" {
		cfg.EventSubjectPrefix = defaults.EventSubjectPrefix
	}
	if cfg.SecretName == "" {
		cfg.SecretName = defaults.SecretName
	}
	if cfg.TriggerPhrase == "" {
		cfg.TriggerPhrase = defaults.TriggerPhrase
	}
	if cfg.CheckRunName == "" {
		cfg.CheckRunName = defaults.CheckRunName
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if deps.Secrets == nil {
		return nil, fmt.Errorf("webhook gateway requires a secret source")
	}

	c := &Component{
		name:       "webhook-gateway",
		config:     cfg,
		natsClient: deps.NATSClient,
		logger:     deps.GetLogger(),
		metrics:    deps.Metrics,
		secrets:    deps.Secrets,
	}
	if conn != nil {
		c.forge = conn
	}
	return c, nil
}

// SetHealthSource makes /healthz report the given component set. The
// serve command wires the manager's view here after registration.
func (c *Component) SetHealthSource(fn func() map[string]component.HealthStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.healthSource = fn
}

// Initialize prepares the component for startup.
func (c *Component) Initialize() error {
	if c.natsClient == nil {
		return fmt.Errorf("NATS client is required")
	}
	c.logger.Debug("Initialized webhook gateway",
		"listen_addr", c.config.ListenAddr,
		"event_stream", c.config.EventStream,
		"fanout_enabled", c.config.FanoutSubjectPrefix != "")
	return nil
}

// Start binds the listen address and begins serving. The event stream
// must already exist; provisioning happens at process startup.
func (c *Component) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("component already running")
	}
	c.running = true
	c.startTime = time.Now()
	c.mu.Unlock()

	js, err := c.natsClient.JetStream()
	if err != nil {
		c.rollbackStart()
		return fmt.Errorf("getting JetStream context: %w", err)
	}
	if _, err := js.Stream(ctx, c.config.EventStream); err != nil {
		c.rollbackStart()
		return fmt.Errorf("looking up stream %s: %w", c.config.EventStream, err)
	}
	c.js = js

	listener, err := net.Listen("tcp", c.config.ListenAddr)
	if err != nil {
		c.rollbackStart()
		return fmt.Errorf("binding %s: %w", c.config.ListenAddr, err)
	}

	server := &http.Server{
		Handler:           c.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	c.mu.Lock()
	c.server = server
	c.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Error("Webhook gateway server terminated", "error", err)
		}
	}()

	c.logger.Info("Webhook gateway started",
		"listen_addr", listener.Addr().String(),
		"event_stream", c.config.EventStream,
		"subject_prefix", c.config.EventSubjectPrefix)
	return nil
}

// rollbackStart resets lifecycle state after a failed Start.
func (c *Component) rollbackStart() {
	c.mu.Lock()
	c.running = false
	c.server = nil
	c.mu.Unlock()
}

// Stop drains in-flight requests and shuts the server down.
func (c *Component) Stop(timeout time.Duration) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	server := c.server
	c.running = false
	c.server = nil
	c.mu.Unlock()

	if server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutting down webhook server: %w", err)
		}
	}

	c.logger.Info("Webhook gateway stopped",
		"received", c.received.Load(),
		"enqueued", c.enqueued.Load(),
		"ignored", c.ignored.Load(),
		"rejected", c.rejected.Load(),
		"failed", c.failed.Load())
	return nil
}

// Health returns the current health status.
func (c *Component) Health() component.HealthStatus {
	c.mu.RLock()
	running := c.running
	startTime := c.startTime
	c.mu.RUnlock()

	status := "stopped"
	if running {
		status = "running"
	}
	return component.HealthStatus{
		Healthy:    running,
		Status:     status,
		LastCheck:  time.Now(),
		ErrorCount: int(c.failed.Load()),
		Uptime:     time.Since(startTime),
	}
}

// Meta returns component metadata.
func (c *Component) Meta() component.Metadata {
	return component.Metadata{
		Name:        c.name,
		Type:        "processor",
		Description: "HTTP ingress: verifies, classifies, and enqueues webhook deliveries",
		Version:     "0.1.0",
	}
}
