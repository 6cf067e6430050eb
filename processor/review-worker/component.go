// Package reviewworker provides the queue consumer that runs the
// two-stage review pipeline. It claims each canonical event once,
// builds the pull-request context, drives the planner and reviewer
// stages, and posts the outcome back to the forge as a review and a
// check run.
package reviewworker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"golang.org/x/sync/semaphore"

	"github.com/c360studio/semreview/component"
	"github.com/c360studio/semreview/forge"
	"github.com/c360studio/semreview/llm"
	"github.com/c360studio/semreview/metrics"
	"github.com/c360studio/semreview/model"
	"github.com/c360studio/semreview/natsclient"
	"github.com/c360studio/semreview/review"
	"github.com/c360studio/semreview/storage"
)

// clientSource returns an authenticated forge client for an
// installation. Satisfied by *forge.Connector.
type clientSource interface {
	Client(ctx context.Context, installationID int64) (*forge.Client, error)
}

// claimStore is the slice of the idempotency guard the worker uses.
type claimStore interface {
	Claim(ctx context.Context, key string) (bool, error)
}

// Component consumes canonical review events from the durable stream.
type Component struct {
	name       string
	config     Config
	natsClient *natsclient.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics

	clients  clientSource
	guard    claimStore
	planner  stagePlanner
	reviewer stageReviewer

	consumer jetstream.Consumer
	sem      *semaphore.Weighted
	wg       sync.WaitGroup

	running   bool
	startTime time.Time
	mu        sync.RWMutex
	cancel    context.CancelFunc

	reviewsCompleted atomic.Int64
	reviewsSkipped   atomic.Int64
	reviewsFailed    atomic.Int64
}

// stagePlanner produces a triage plan. Satisfied by *review.Planner.
type stagePlanner interface {
	Plan(ctx context.Context, prCtx *review.PRContext) (*review.TriagePlan, error)
}

// stageReviewer produces a review under a plan. Satisfied by
// *review.Reviewer.
type stageReviewer interface {
	Review(ctx context.Context, prCtx *review.PRContext, plan *review.TriagePlan) (*review.Review, error)
}

// NewComponent creates the review worker. The connector supplies
// per-installation forge clients; the LLM stages run against the global
// model registry with call recording when the global store is set.
func NewComponent(cfg Config, deps component.Dependencies, conn *forge.Connector) (*Component, error) {
	defaults := DefaultConfig()
	if cfg.StreamName == "" {
		cfg.StreamName = defaults.StreamName
	}
	if cfg.ConsumerName == "" {
		cfg.ConsumerName = defaults.ConsumerName
	}
	if cfg.FilterSubject == "" {
		cfg.FilterSubject = defaults.FilterSubject
	}
	if cfg.MaxConcurrent == 0 {
		cfg.MaxConcurrent = defaults.MaxConcurrent
	}
	if cfg.AckWait == 0 {
		cfg.AckWait = defaults.AckWait
	}
	if cfg.MaxDeliver == 0 {
		cfg.MaxDeliver = defaults.MaxDeliver
	}
	if cfg.IdempotencyBucket == "" {
		cfg.IdempotencyBucket = defaults.IdempotencyBucket
	}
	if cfg.IdempotencyTTL == 0 {
		cfg.IdempotencyTTL = defaults.IdempotencyTTL
	}
	if cfg.CheckRunName == "" {
		cfg.CheckRunName = defaults.CheckRunName
	}
	if cfg.PlannerMaxTokens == 0 {
		cfg.PlannerMaxTokens = defaults.PlannerMaxTokens
	}
	if cfg.ReviewerMaxTokens == 0 {
		cfg.ReviewerMaxTokens = defaults.ReviewerMaxTokens
	}
	if cfg.LLMTimeout == 0 {
		cfg.LLMTimeout = defaults.LLMTimeout
	}
	if cfg.MaxReviewFiles == 0 {
		cfg.MaxReviewFiles = defaults.MaxReviewFiles
	}
	if cfg.MaxDiffBytes == 0 {
		cfg.MaxDiffBytes = defaults.MaxDiffBytes
	}
	if cfg.MaxTotalDiffBytes == 0 {
		cfg.MaxTotalDiffBytes = defaults.MaxTotalDiffBytes
	}
	if cfg.LargePatchPolicy == "" {
		cfg.LargePatchPolicy = defaults.LargePatchPolicy
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if conn == nil {
		return nil, fmt.Errorf("forge connector required")
	}

	logger := deps.GetLogger().With("component", "review-worker")

	llmClient := llm.NewClient(model.Global(),
		llm.WithLogger(logger),
		llm.WithCallStore(llm.GlobalCallStore()),
	)

	return &Component{
		name:       "review-worker",
		config:     cfg,
		natsClient: deps.NATSClient,
		logger:     logger,
		metrics:    deps.Metrics,
		clients:    conn,
		planner: review.NewPlanner(llmClient, review.StageConfig{
			Capability:  string(model.CapabilityPlanning),
			Temperature: cfg.PlannerTemperature,
			MaxTokens:   cfg.PlannerMaxTokens,
		}, logger),
		reviewer: review.NewReviewer(llmClient, review.StageConfig{
			Capability:  string(model.CapabilityReviewing),
			Temperature: cfg.ReviewerTemperature,
			MaxTokens:   cfg.ReviewerMaxTokens,
		}, logger),
	}, nil
}

// Initialize prepares the component.
func (c *Component) Initialize() error {
	if c.natsClient == nil {
		return fmt.Errorf("NATS client required")
	}
	c.logger.Debug("Initialized review-worker",
		"stream", c.config.StreamName,
		"consumer", c.config.ConsumerName,
		"filter_subject", c.config.FilterSubject)
	return nil
}

// Start creates the durable consumer and begins processing events.
func (c *Component) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("component already running")
	}
	if c.natsClient == nil {
		c.mu.Unlock()
		return fmt.Errorf("NATS client required")
	}

	c.running = true
	c.startTime = time.Now()

	subCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	js, err := c.natsClient.JetStream()
	if err != nil {
		c.rollbackStart(cancel)
		return fmt.Errorf("get jetstream: %w", err)
	}

	stream, err := js.Stream(subCtx, c.config.StreamName)
	if err != nil {
		c.rollbackStart(cancel)
		return fmt.Errorf("get stream %s: %w", c.config.StreamName, err)
	}

	consumer, err := stream.CreateOrUpdateConsumer(subCtx, jetstream.ConsumerConfig{
		Durable:       c.config.ConsumerName,
		FilterSubject: c.config.FilterSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       c.config.AckWait,
		MaxDeliver:    c.config.MaxDeliver,
	})
	if err != nil {
		c.rollbackStart(cancel)
		return fmt.Errorf("create consumer: %w", err)
	}
	c.consumer = consumer

	if c.guard == nil {
		guard, err := storage.NewIdempotencyGuard(subCtx, js, c.config.IdempotencyBucket, c.config.IdempotencyTTL)
		if err != nil {
			c.rollbackStart(cancel)
			return fmt.Errorf("open idempotency guard: %w", err)
		}
		c.guard = guard
	}

	c.sem = semaphore.NewWeighted(int64(c.config.MaxConcurrent))
	go c.consumeLoop(subCtx)

	c.logger.Info("review-worker started",
		"stream", c.config.StreamName,
		"consumer", c.config.ConsumerName,
		"max_concurrent", c.config.MaxConcurrent)

	return nil
}

func (c *Component) rollbackStart(cancel context.CancelFunc) {
	c.mu.Lock()
	c.running = false
	c.cancel = nil
	c.mu.Unlock()
	cancel()
}

// consumeLoop fetches events one at a time and hands them to bounded
// concurrent handlers.
func (c *Component) consumeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := c.consumer.Fetch(1, jetstream.FetchMaxWait(5*time.Second))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Debug("Fetch timeout or error", "error", err)
			continue
		}

		for msg := range msgs.Messages() {
			if err := c.sem.Acquire(ctx, 1); err != nil {
				// Shutting down; the unacked message redelivers.
				return
			}
			c.wg.Add(1)
			go func(m jetstream.Msg) {
				defer c.wg.Done()
				defer c.sem.Release(1)
				c.handleMessage(ctx, m)
			}(msg)
		}

		if msgs.Error() != nil && msgs.Error() != context.DeadlineExceeded {
			c.logger.Warn("Message fetch error", "error", msgs.Error())
		}
	}
}

// Stop halts consumption and waits for in-flight reviews.
func (c *Component) Stop(timeout time.Duration) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		c.logger.Warn("Timed out waiting for in-flight reviews", "timeout", timeout)
	}

	c.logger.Info("review-worker stopped",
		"completed", c.reviewsCompleted.Load(),
		"skipped", c.reviewsSkipped.Load(),
		"failed", c.reviewsFailed.Load())

	return nil
}

// Health returns the component health status.
func (c *Component) Health() component.HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := "stopped"
	var uptime time.Duration
	if c.running {
		status = "running"
		uptime = time.Since(c.startTime)
	}

	return component.HealthStatus{
		Healthy:    c.running,
		Status:     status,
		LastCheck:  time.Now(),
		ErrorCount: int(c.reviewsFailed.Load()),
		Uptime:     uptime,
	}
}

// Meta returns the component metadata.
func (c *Component) Meta() component.Metadata {
	return component.Metadata{
		Name:        c.name,
		Type:        "processor",
		Description: "Consumes canonical review events and runs the planner-reviewer pipeline",
		Version:     "0.1.0",
	}
}
