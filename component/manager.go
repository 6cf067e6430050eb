package component

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Manager starts registered components in order and stops them in
// reverse. A failed start rolls back the components already running.
type Manager struct {
	logger *slog.Logger

	mu         sync.Mutex
	components []Component
	started    int
}

// NewManager creates an empty manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{logger: logger}
}

// Add registers a component. Components start in registration order.
func (m *Manager) Add(c Component) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.components = append(m.components, c)
}

// StartAll initializes and starts every component. On failure the
// already-started components are stopped in reverse order and the error
// is returned.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, c := range m.components {
		name := c.Meta().Name
		if err := c.Initialize(); err != nil {
			m.rollback(i)
			return fmt.Errorf("initialize %s: %w", name, err)
		}
		if err := c.Start(ctx); err != nil {
			m.rollback(i)
			return fmt.Errorf("start %s: %w", name, err)
		}
		m.started = i + 1
		m.logger.Info("Component started", "name", name)
	}
	return nil
}

// rollback stops components [0, upTo) in reverse order. Caller holds mu.
func (m *Manager) rollback(upTo int) {
	for i := upTo - 1; i >= 0; i-- {
		c := m.components[i]
		if err := c.Stop(5 * time.Second); err != nil {
			m.logger.Warn("Rollback stop failed", "name", c.Meta().Name, "error", err)
		}
	}
	m.started = 0
}

// StopAll stops every started component in reverse order, collecting
// errors rather than stopping at the first.
func (m *Manager) StopAll(timeout time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for i := m.started - 1; i >= 0; i-- {
		c := m.components[i]
		name := c.Meta().Name
		if err := c.Stop(timeout); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", name, err))
			continue
		}
		m.logger.Info("Component stopped", "name", name)
	}
	m.started = 0
	return errors.Join(errs...)
}

// Health returns the health of every registered component keyed by name.
func (m *Manager) Health() map[string]HealthStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]HealthStatus, len(m.components))
	for _, c := range m.components {
		out[c.Meta().Name] = c.Health()
	}
	return out
}
