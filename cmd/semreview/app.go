package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/semreview/component"
	"github.com/c360studio/semreview/config"
	"github.com/c360studio/semreview/forge"
	"github.com/c360studio/semreview/forge/appauth"
	"github.com/c360studio/semreview/llm"
	"github.com/c360studio/semreview/metrics"
	"github.com/c360studio/semreview/model"
	"github.com/c360studio/semreview/natsclient"
	reviewworker "github.com/c360studio/semreview/processor/review-worker"
	webhookgateway "github.com/c360studio/semreview/processor/webhook-gateway"
	"github.com/c360studio/semreview/secrets"
)

const (
	shutdownTimeout = 30 * time.Second
	secretEnvPrefix = "SEMREVIEW_SECRET_"
	streamMaxAge    = 24 * time.Hour
	dedupWindow     = 10 * time.Minute
)

// App wires the platform together: one NATS connection, the provisioned
// streams, the secret cache, the forge connector, and the two
// components under one manager.
type App struct {
	cfg    *config.Config
	logger *slog.Logger
}

func newApp(cfg *config.Config, logger *slog.Logger) *App {
	return &App{cfg: cfg, logger: logger}
}

// Run brings the platform up and blocks until ctx is canceled.
func (a *App) Run(ctx context.Context) error {
	nc, err := a.connectNATS(ctx)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		nc.Close(closeCtx)
	}()

	if err := a.ensureInfra(ctx, nc); err != nil {
		return err
	}

	model.InitGlobal(model.FromConfig(a.cfg.Models))

	if err := llm.InitGlobalCallStore(nc,
		llm.WithSubjectPrefix(a.cfg.Queue.CallSubjectPrefix),
		llm.WithStoreLogger(a.logger),
	); err != nil {
		// Call records are an audit trail, not a dependency.
		a.logger.Warn("LLM call store unavailable, calls will not be recorded", "error", err)
	}

	secretCache := a.buildSecrets(ctx)

	m := metrics.New()
	connector, err := a.buildConnector(ctx, secretCache, m)
	if err != nil {
		return err
	}

	deps := component.Dependencies{
		NATSClient: nc,
		Logger:     a.logger,
		Metrics:    m,
		Secrets:    secretCache,
	}

	gateway, err := webhookgateway.NewComponent(a.gatewayConfig(), deps, connector)
	if err != nil {
		return fmt.Errorf("create webhook gateway: %w", err)
	}
	worker, err := reviewworker.NewComponent(a.workerConfig(), deps, connector)
	if err != nil {
		return fmt.Errorf("create review worker: %w", err)
	}

	manager := component.NewManager(a.logger)
	manager.Add(gateway)
	manager.Add(worker)
	gateway.SetHealthSource(manager.Health)

	if err := manager.StartAll(ctx); err != nil {
		return fmt.Errorf("start components: %w", err)
	}

	a.logger.Info("Semreview ready",
		"version", Version,
		"http_addr", a.cfg.Service.HTTPAddr,
		"event_stream", a.cfg.Queue.EventStream,
		"forge_auth", a.cfg.Forge.AuthMode,
		"dry_run", a.cfg.Service.DryRun)

	<-ctx.Done()
	a.logger.Info("Received shutdown signal")

	if err := manager.StopAll(shutdownTimeout); err != nil {
		a.logger.Error("Error stopping components", "error", err)
	}

	a.logger.Info("Semreview shutdown complete")
	return nil
}

func (a *App) connectNATS(ctx context.Context) (*natsclient.Client, error) {
	url := a.cfg.NATS.URL
	a.logger.Info("Connecting to NATS", "url", url)

	nc, err := natsclient.NewClient(url,
		natsclient.WithName(appName),
		natsclient.WithMaxReconnects(a.cfg.NATS.MaxReconnects),
		natsclient.WithReconnectWait(a.cfg.NATS.ReconnectWait),
	)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}

	if err := nc.Connect(ctx); err != nil {
		return nil, wrapNATSError(err, url)
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := nc.WaitForConnection(connCtx); err != nil {
		return nil, wrapNATSError(err, url)
	}

	a.logger.Info("Connected to NATS", "url", url)
	return nc, nil
}

// wrapNATSError provides helpful guidance when the NATS connection fails.
func wrapNATSError(err error, url string) error {
	errStr := err.Error()

	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "no servers available") ||
		strings.Contains(errStr, "deadline exceeded") ||
		strings.Contains(errStr, "timeout") {
		return fmt.Errorf(`NATS connection failed: %w

NATS is not running at %s.

To start NATS:
  docker compose up -d nats

Or set SEMREVIEW_NATS_URL to point to your NATS server.`, err, url)
	}

	return fmt.Errorf("NATS connection failed: %w", err)
}

// ensureInfra provisions the streams and the idempotency bucket. Safe
// to run on every startup.
func (a *App) ensureInfra(ctx context.Context, nc *natsclient.Client) error {
	if err := nc.EnsureStreams(ctx, a.logger, streamDefinitions(a.cfg)); err != nil {
		return err
	}
	if _, err := nc.EnsureKeyValue(ctx, natsclient.KeyValueDefinition{
		Bucket:      a.cfg.Queue.IdempotencyBucket,
		Description: "Review idempotency claims",
		TTL:         a.cfg.IdempotencyTTL(),
	}); err != nil {
		return err
	}
	a.logger.Debug("JetStream infrastructure ready",
		"event_stream", a.cfg.Queue.EventStream,
		"call_stream", a.cfg.Queue.CallStream,
		"idempotency_bucket", a.cfg.Queue.IdempotencyBucket)
	return nil
}

// streamDefinitions declares the streams the platform requires. The
// fanout stream exists only when a fanout prefix is configured.
func streamDefinitions(cfg *config.Config) []natsclient.StreamDefinition {
	defs := []natsclient.StreamDefinition{
		{
			Name:       cfg.Queue.EventStream,
			Subjects:   []string{cfg.Queue.EventSubjectPrefix + ".>"},
			MaxAge:     streamMaxAge,
			Duplicates: dedupWindow,
			Storage:    jetstream.FileStorage,
		},
		{
			Name:     cfg.Queue.CallStream,
			Subjects: []string{cfg.Queue.CallSubjectPrefix + ".>"},
			MaxAge:   streamMaxAge,
			Storage:  jetstream.FileStorage,
		},
	}
	if cfg.FanoutEnabled() {
		defs = append(defs, natsclient.StreamDefinition{
			Name:       cfg.Queue.FanoutStream,
			Subjects:   []string{cfg.Queue.FanoutSubjectPrefix + ".>"},
			MaxAge:     streamMaxAge,
			Duplicates: dedupWindow,
			Storage:    jetstream.FileStorage,
		})
	}
	return defs
}

// buildSecrets selects the secret source: files under secrets_dir when
// configured, environment variables otherwise. File-backed secrets are
// watched so rotations invalidate the cache.
func (a *App) buildSecrets(ctx context.Context) *secrets.Cache {
	dir := a.cfg.Service.SecretsDir
	if dir == "" {
		return secrets.NewCache(&secrets.EnvSource{Prefix: secretEnvPrefix})
	}

	src := &secrets.FileSource{Dir: dir}
	cache := secrets.NewCache(src)
	go func() {
		err := src.Watch(ctx, func(name string) {
			a.logger.Info("Secret rotated", "name", name)
			cache.Invalidate(name)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Warn("Secret watch stopped", "error", err)
		}
	}()
	return cache
}

// buildConnector authenticates the forge side per the configured mode.
func (a *App) buildConnector(ctx context.Context, cache *secrets.Cache, m *metrics.Metrics) (*forge.Connector, error) {
	opts := forge.Options{
		BaseURL: a.cfg.Forge.BaseURL,
		DryRun:  a.cfg.Service.DryRun,
		Timeout: a.cfg.Forge.HTTPTimeout,
		Logger:  a.logger,
		Metrics: m,
	}

	switch a.cfg.Forge.AuthMode {
	case "token":
		token, err := cache.Get(ctx, a.cfg.Forge.TokenSecretName)
		if err != nil {
			return nil, fmt.Errorf("forge token secret %q: %w", a.cfg.Forge.TokenSecretName, err)
		}
		return forge.NewConnector(forge.ConnectorOptions{Token: token, Options: opts})
	case "app":
		pem, err := cache.Get(ctx, a.cfg.Forge.PrivateKeySecretName)
		if err != nil {
			return nil, fmt.Errorf("forge app key secret %q: %w", a.cfg.Forge.PrivateKeySecretName, err)
		}
		auth, err := appauth.New(appauth.Identity{
			AppID:          a.cfg.Forge.AppID,
			InstallationID: a.cfg.Forge.InstallationID,
		}, []byte(pem), a.cfg.Forge.BaseURL)
		if err != nil {
			return nil, err
		}
		return forge.NewConnector(forge.ConnectorOptions{Auth: auth, Options: opts})
	default:
		return nil, fmt.Errorf("unknown forge auth mode %q", a.cfg.Forge.AuthMode)
	}
}

func (a *App) gatewayConfig() webhookgateway.Config {
	return webhookgateway.Config{
		ListenAddr:           a.cfg.Service.HTTPAddr,
		EventStream:          a.cfg.Queue.EventStream,
		EventSubjectPrefix:   a.cfg.Queue.EventSubjectPrefix,
		FanoutSubjectPrefix:  a.cfg.Queue.FanoutSubjectPrefix,
		SecretName:           a.cfg.Webhook.SecretName,
		MaxWebhookAgeSeconds: a.cfg.Webhook.MaxAgeSeconds,
		TriggerPhrase:        a.cfg.Webhook.TriggerPhrase,
		BotUsername:          a.cfg.Webhook.BotUsername,
		TriggerLabels:        a.cfg.Webhook.TriggerLabels,
		CheckRunName:         a.cfg.Forge.CheckRunName,
		AllowedRepos:         a.cfg.Webhook.AllowedRepos,
	}
}

func (a *App) workerConfig() reviewworker.Config {
	return reviewworker.Config{
		StreamName:          a.cfg.Queue.EventStream,
		ConsumerName:        a.cfg.Worker.ConsumerName,
		FilterSubject:       a.cfg.Queue.EventSubjectPrefix + ".>",
		MaxConcurrent:       a.cfg.Worker.MaxConcurrent,
		AckWait:             a.cfg.Worker.AckWait,
		MaxDeliver:          a.cfg.Worker.MaxDeliver,
		IdempotencyBucket:   a.cfg.Queue.IdempotencyBucket,
		IdempotencyTTL:      a.cfg.IdempotencyTTL(),
		CheckRunName:        a.cfg.Forge.CheckRunName,
		PlannerTemperature:  a.cfg.Worker.PlannerTemperature,
		ReviewerTemperature: a.cfg.Worker.ReviewerTemperature,
		PlannerMaxTokens:    a.cfg.Worker.PlannerMaxTokens,
		ReviewerMaxTokens:   a.cfg.Worker.ReviewerMaxTokens,
		LLMTimeout:          a.cfg.Worker.LLMTimeout,
		MaxReviewFiles:      a.cfg.Review.MaxReviewFiles,
		MaxDiffBytes:        a.cfg.Review.MaxDiffBytes,
		MaxTotalDiffBytes:   a.cfg.Review.MaxTotalDiffBytes,
		LargePatchPolicy:    a.cfg.Review.LargePatchPolicy,
		SkipPatterns:        a.cfg.Review.SkipPatterns,
	}
}
