// Package harness starts the review platform in-process for e2e
// scenarios: the webhook gateway and review worker against a real NATS
// server, with the forge and the LLM endpoints replaced by scriptable
// in-process doubles. Scenarios drive the gateway over HTTP exactly as
// a forge would and assert on what lands back on the mock forge.
package harness

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/semreview/component"
	"github.com/c360studio/semreview/forge"
	"github.com/c360studio/semreview/metrics"
	"github.com/c360studio/semreview/model"
	"github.com/c360studio/semreview/natsclient"
	reviewworker "github.com/c360studio/semreview/processor/review-worker"
	webhookgateway "github.com/c360studio/semreview/processor/webhook-gateway"
	"github.com/c360studio/semreview/retry"
	"github.com/c360studio/semreview/secrets"
	"github.com/c360studio/semreview/test/e2e/config"
	"github.com/c360studio/semreview/test/e2e/forgemock"
	"github.com/c360studio/semreview/test/e2e/llmmock"

	// Completion providers register themselves at init time.
	_ "github.com/c360studio/semreview/llm/providers"
)

// webhookSecretName is the secret the gateway resolves for signature
// verification.
const webhookSecretName = "webhook-secret"

// Env is the running in-process deployment shared by every scenario in
// a runner invocation. Scenarios reset the mock state between runs; the
// components, streams, and consumer stay up for the whole invocation.
type Env struct {
	Cfg    *config.Config
	Logger *slog.Logger
	NATS   *natsclient.Client
	Forge  *forgemock.Server
	LLM    *llmmock.Server

	manager   *component.Manager
	runCtx    context.Context
	runCancel context.CancelFunc
	httpc     *http.Client
}

// Start brings the platform up: mocks first, then the shared model
// registry pointed at the LLM mock, then NATS with freshly provisioned
// streams, then both components. ctx bounds setup only; the components
// run until Stop.
func Start(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Env, error) {
	env := &Env{
		Cfg:    cfg,
		Logger: logger,
		Forge:  forgemock.New(config.ForgeToken),
		LLM:    llmmock.New(),
		httpc:  &http.Client{Timeout: 10 * time.Second},
	}
	env.runCtx, env.runCancel = context.WithCancel(context.Background())

	// The registry is a process singleton; the worker resolves stages
	// through it at construction time, so it must point at the mock
	// before any component exists.
	model.ResetGlobal()
	model.InitGlobal(model.FromConfig(registryConfig(env.LLM.URL())))

	setupCtx, cancel := context.WithTimeout(ctx, cfg.SetupTimeout)
	defer cancel()

	if err := env.connectNATS(setupCtx); err != nil {
		env.Stop()
		return nil, err
	}
	if err := env.provisionInfra(setupCtx); err != nil {
		env.Stop()
		return nil, err
	}
	if err := env.startComponents(); err != nil {
		env.Stop()
		return nil, err
	}
	if err := env.waitForGateway(setupCtx); err != nil {
		env.Stop()
		return nil, err
	}
	return env, nil
}

// Stop shuts the deployment down in reverse order.
func (e *Env) Stop() {
	if e.manager != nil {
		if err := e.manager.StopAll(10 * time.Second); err != nil {
			e.Logger.Warn("Component shutdown reported errors", "error", err)
		}
		e.manager = nil
	}
	if e.runCancel != nil {
		e.runCancel()
	}
	if e.NATS != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		e.NATS.Close(ctx)
		cancel()
		e.NATS = nil
	}
	if e.LLM != nil {
		e.LLM.Close()
	}
	if e.Forge != nil {
		e.Forge.Close()
	}
}

func (e *Env) connectNATS(ctx context.Context) error {
	nc, err := natsclient.NewClient(e.Cfg.NATSURL, natsclient.WithName("semreview-e2e"))
	if err != nil {
		return err
	}
	if err := nc.Connect(ctx); err != nil {
		return fmt.Errorf("connect to NATS at %s: %w", e.Cfg.NATSURL, err)
	}
	if err := nc.WaitForConnection(ctx); err != nil {
		nc.Close(context.Background())
		return fmt.Errorf("NATS at %s not reachable (is it running? docker compose up -d nats): %w",
			e.Cfg.NATSURL, err)
	}
	e.NATS = nc
	return nil
}

// provisionInfra drops the previous run's stream and claim bucket and
// recreates them, so stale idempotency claims can never suppress a
// fresh run against the same NATS server.
func (e *Env) provisionInfra(ctx context.Context) error {
	js, err := e.NATS.JetStream()
	if err != nil {
		return err
	}

	if err := js.DeleteStream(ctx, config.EventStream); err != nil && !errors.Is(err, jetstream.ErrStreamNotFound) {
		return fmt.Errorf("drop stream %s: %w", config.EventStream, err)
	}
	if err := js.DeleteKeyValue(ctx, config.IdempotencyBucket); err != nil && !errors.Is(err, jetstream.ErrBucketNotFound) {
		return fmt.Errorf("drop bucket %s: %w", config.IdempotencyBucket, err)
	}

	defs := []natsclient.StreamDefinition{{
		Name:       config.EventStream,
		Subjects:   []string{config.EventSubjectPrefix + ".>"},
		MaxAge:     time.Hour,
		Duplicates: 2 * time.Minute,
		Storage:    jetstream.FileStorage,
	}}
	if err := e.NATS.EnsureStreams(ctx, e.Logger, defs); err != nil {
		return err
	}
	if _, err := e.NATS.EnsureKeyValue(ctx, natsclient.KeyValueDefinition{
		Bucket:      config.IdempotencyBucket,
		Description: "e2e review idempotency claims",
		TTL:         time.Hour,
	}); err != nil {
		return err
	}
	return nil
}

func (e *Env) startComponents() error {
	m := metrics.New()
	conn, err := forge.NewConnector(forge.ConnectorOptions{
		Token: config.ForgeToken,
		Options: forge.Options{
			BaseURL: e.Forge.URL(),
			Timeout: 10 * time.Second,
			Retry: &retry.Config{
				MaxAttempts: 3,
				BaseDelay:   50 * time.Millisecond,
				MaxDelay:    250 * time.Millisecond,
				JitterRatio: 0.2,
			},
			Logger:  e.Logger,
			Metrics: m,
		},
	})
	if err != nil {
		return fmt.Errorf("create forge connector: %w", err)
	}

	deps := component.Dependencies{
		NATSClient: e.NATS,
		Logger:     e.Logger,
		Metrics:    m,
		Secrets:    secrets.NewCache(staticSecrets{webhookSecretName: config.WebhookSecret}),
	}

	gateway, err := webhookgateway.NewComponent(webhookgateway.Config{
		ListenAddr:           e.Cfg.GatewayAddr,
		EventStream:          config.EventStream,
		EventSubjectPrefix:   config.EventSubjectPrefix,
		SecretName:           webhookSecretName,
		MaxWebhookAgeSeconds: 300,
		TriggerPhrase:        "/review",
		CheckRunName:         config.CheckRunName,
	}, deps, conn)
	if err != nil {
		return fmt.Errorf("create webhook gateway: %w", err)
	}

	worker, err := reviewworker.NewComponent(reviewworker.Config{
		StreamName:        config.EventStream,
		ConsumerName:      config.ConsumerName,
		FilterSubject:     config.EventSubjectPrefix + ".>",
		MaxConcurrent:     2,
		AckWait:           30 * time.Second,
		MaxDeliver:        3,
		IdempotencyBucket: config.IdempotencyBucket,
		IdempotencyTTL:    time.Hour,
		CheckRunName:      config.CheckRunName,
		LLMTimeout:        15 * time.Second,
	}, deps, conn)
	if err != nil {
		return fmt.Errorf("create review worker: %w", err)
	}

	mgr := component.NewManager(e.Logger)
	mgr.Add(gateway)
	mgr.Add(worker)
	gateway.SetHealthSource(mgr.Health)
	e.manager = mgr

	if err := mgr.StartAll(e.runCtx); err != nil {
		return fmt.Errorf("start components: %w", err)
	}
	return nil
}

func (e *Env) waitForGateway(ctx context.Context) error {
	url := e.Cfg.GatewayURL() + "/healthz"
	return WaitFor(ctx, 100*time.Millisecond, "gateway healthz", func() (bool, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return false, err
		}
		resp, err := e.httpc.Do(req)
		if err != nil {
			return false, nil
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)
		return resp.StatusCode == http.StatusOK, nil
	})
}

// PostWebhook delivers a correctly signed webhook to the gateway and
// returns the response status and body.
func (e *Env) PostWebhook(ctx context.Context, event string, payload []byte) (int, []byte, error) {
	return e.PostWebhookRaw(ctx, event, payload, Sign(payload, config.WebhookSecret), nil)
}

// PostWebhookRaw delivers a webhook with full header control. A fresh
// delivery id is generated unless extra overrides it.
func (e *Env) PostWebhookRaw(ctx context.Context, event string, payload []byte, signature string, extra map[string]string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		e.Cfg.GatewayURL()+"/webhook", strings.NewReader(string(payload)))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Event", event)
	req.Header.Set("X-GitHub-Delivery", uuid.NewString())
	req.Header.Set("X-Hub-Signature-256", signature)
	for k, v := range extra {
		req.Header.Set(k, v)
	}

	resp, err := e.httpc.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}

// Metrics scrapes the gateway's Prometheus endpoint and returns the
// exposition text.
func (e *Env) Metrics(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.Cfg.GatewayURL()+"/metrics", nil)
	if err != nil {
		return "", err
	}
	resp, err := e.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("scrape metrics: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("metrics endpoint returned %d", resp.StatusCode)
	}
	return string(body), nil
}

// Sign computes the X-Hub-Signature-256 header value for a payload.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// WaitFor polls cond until it reports true, ctx expires, or cond fails.
// The condition is evaluated immediately, then once per interval.
func WaitFor(ctx context.Context, interval time.Duration, what string, cond func() (bool, error)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		ok, err := cond()
		if err != nil {
			return fmt.Errorf("waiting for %s: %w", what, err)
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("timed out waiting for %s: %w", what, ctx.Err())
		case <-ticker.C:
		}
	}
}

// staticSecrets is an in-memory secret source for the harness.
type staticSecrets map[string]string

func (s staticSecrets) Fetch(_ context.Context, name string) (string, error) {
	val, ok := s[name]
	if !ok {
		return "", secrets.ErrNotFound
	}
	return val, nil
}

// registryConfig routes both pipeline capabilities to the LLM mock.
func registryConfig(baseURL string) *model.RegistryConfig {
	return &model.RegistryConfig{
		Capabilities: map[string]*model.CapabilityConfig{
			string(model.CapabilityPlanning):  {Preferred: []string{config.PlannerModel}},
			string(model.CapabilityReviewing): {Preferred: []string{config.ReviewerModel}},
		},
		Endpoints: map[string]*model.EndpointConfig{
			config.PlannerModel:  {Provider: "ollama", URL: baseURL, Model: config.PlannerModel},
			config.ReviewerModel: {Provider: "ollama", URL: baseURL, Model: config.ReviewerModel},
		},
		Defaults: &model.DefaultsConfig{Model: config.PlannerModel},
	}
}
