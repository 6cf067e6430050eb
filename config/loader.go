package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/sethvargo/go-envconfig"
)

// Loader handles layered configuration loading.
// Precedence, lowest to highest: built-in defaults, YAML file,
// environment variables.
type Loader struct {
	logger *slog.Logger
}

// NewLoader creates a configuration loader.
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger}
}

// Load builds the effective configuration. When path is empty the
// well-known locations are tried in order; a missing file is not an
// error, but an explicit path that cannot be read is.
func (l *Loader) Load(ctx context.Context, path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		loaded, err := LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
		l.logger.Debug("loaded config file", "path", path)
	} else {
		l.logger.Debug("no config file found, using defaults")
	}

	if err := envconfig.Process(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// findConfigFile returns the first existing well-known config path.
func findConfigFile() string {
	candidates := []string{
		"semreview.yaml",
		"semreview.yml",
		"/etc/semreview/config.yaml",
	}
	for _, p := range candidates {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p
		}
	}
	return ""
}
