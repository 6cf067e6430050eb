// Package component defines the lifecycle contract shared by the
// platform's long-running pieces (webhook gateway, review worker) and a
// manager that starts and stops them as a unit.
package component

import (
	"context"
	"log/slog"
	"time"

	"github.com/c360studio/semreview/metrics"
	"github.com/c360studio/semreview/natsclient"
	"github.com/c360studio/semreview/secrets"
)

// Component is a startable platform piece with observable health.
type Component interface {
	// Initialize prepares the component after construction, before Start.
	Initialize() error

	// Start begins background work. It must not block; long-running
	// loops run in goroutines bound to ctx.
	Start(ctx context.Context) error

	// Stop shuts the component down, waiting up to timeout.
	Stop(timeout time.Duration) error

	// Health reports current status.
	Health() HealthStatus

	// Meta describes the component.
	Meta() Metadata
}

// Metadata describes a component for discovery and health output.
type Metadata struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Version     string `json:"version"`
}

// HealthStatus is a point-in-time health snapshot.
type HealthStatus struct {
	Healthy    bool          `json:"healthy"`
	Status     string        `json:"status"`
	LastCheck  time.Time     `json:"last_check"`
	ErrorCount int           `json:"error_count"`
	Uptime     time.Duration `json:"uptime"`
}

// Dependencies carries the shared infrastructure handed to component
// constructors.
type Dependencies struct {
	NATSClient *natsclient.Client
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
	Secrets    *secrets.Cache
}

// GetLogger returns the configured logger, falling back to the default.
func (d Dependencies) GetLogger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}
