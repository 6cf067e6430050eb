// Package scenarios defines the end-to-end scenarios for the review
// platform. Each scenario drives the webhook gateway over HTTP the way
// a forge would and asserts on the reviews and check runs that land on
// the mock forge, the completions the mock LLM served, and the
// gateway's metrics.
package scenarios

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Scenario is one end-to-end test case.
type Scenario interface {
	// Name returns the scenario name for identification and reporting.
	Name() string

	// Description provides a human-readable description of what the
	// scenario verifies.
	Description() string

	// Setup registers fixtures on the mocks and clears captured state
	// from earlier scenarios.
	Setup(ctx context.Context) error

	// Execute runs the scenario. Assertion failures land in the
	// Result; the returned error is reserved for harness breakage.
	Execute(ctx context.Context) (*Result, error)

	// Teardown cleans up scenario-specific state.
	Teardown(ctx context.Context) error
}

// Result contains the outcome of a scenario execution.
// All methods are thread-safe for concurrent access.
type Result struct {
	mu sync.Mutex `json:"-"`

	ScenarioName string        `json:"scenario_name"`
	StartTime    time.Time     `json:"start_time"`
	EndTime      time.Time     `json:"end_time"`
	Duration     time.Duration `json:"duration"`

	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`

	// Metrics contains timing and count metrics from the scenario.
	Metrics map[string]any `json:"metrics,omitempty"`

	// Details contains scenario-specific output data.
	Details map[string]any `json:"details,omitempty"`

	// Errors contains all errors encountered during execution.
	Errors []string `json:"errors,omitempty"`

	// Warnings contains non-fatal issues encountered.
	Warnings []string `json:"warnings,omitempty"`

	// Stages tracks completion of each stage in the scenario.
	Stages []StageResult `json:"stages,omitempty"`
}

// StageResult represents the outcome of a single stage in a scenario.
type StageResult struct {
	Name     string        `json:"name"`
	Success  bool          `json:"success"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// NewResult creates a new Result initialized for the given scenario.
func NewResult(scenarioName string) *Result {
	return &Result{
		ScenarioName: scenarioName,
		StartTime:    time.Now(),
		Metrics:      make(map[string]any),
		Details:      make(map[string]any),
	}
}

// Complete marks the result as complete, setting end time and duration.
func (r *Result) Complete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.EndTime = time.Now()
	r.Duration = r.EndTime.Sub(r.StartTime)
}

// AddError adds an error to the result.
func (r *Result) AddError(err string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Errors = append(r.Errors, err)
}

// AddWarning adds a warning to the result.
func (r *Result) AddWarning(warning string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Warnings = append(r.Warnings, warning)
}

// AddStage adds a completed stage to the result.
func (r *Result) AddStage(name string, success bool, duration time.Duration, err string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Stages = append(r.Stages, StageResult{
		Name:     name,
		Success:  success,
		Duration: duration,
		Error:    err,
	})
}

// SetMetric sets a metric value.
func (r *Result) SetMetric(key string, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Metrics[key] = value
}

// SetDetail sets a detail value.
func (r *Result) SetDetail(key string, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Details[key] = value
}

// stage is one step of a scenario's Execute sequence.
type stage struct {
	name string
	fn   func(ctx context.Context, result *Result) error
}

// runStages executes the stages in order, each under its own timeout,
// recording a duration metric per stage and stopping at the first
// failure. The failing stage's error becomes the scenario error; the
// returned error stays nil so the runner reports it as a scenario
// failure rather than an aborted run.
func runStages(ctx context.Context, result *Result, timeout time.Duration, stages []stage) (*Result, error) {
	defer result.Complete()

	for _, st := range stages {
		stageStart := time.Now()
		stageCtx, cancel := context.WithTimeout(ctx, timeout)

		err := st.fn(stageCtx, result)
		cancel()

		stageDuration := time.Since(stageStart)
		result.SetMetric(fmt.Sprintf("%s_duration_ms", st.name), stageDuration.Milliseconds())

		if err != nil {
			result.AddStage(st.name, false, stageDuration, err.Error())
			result.AddError(fmt.Sprintf("%s: %v", st.name, err))
			result.Error = fmt.Sprintf("%s failed: %v", st.name, err)
			return result, nil
		}

		result.AddStage(st.name, true, stageDuration, "")
	}

	result.Success = true
	return result, nil
}
