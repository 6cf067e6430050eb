// Package secrets provides read-through secret access for the review
// platform: the webhook secret, forge app identity and signing key, and
// LLM API keys. Sources are pluggable; the cache holds values for the
// process lifetime until invalidated.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// ErrNotFound is returned when a secret does not exist in the source.
var ErrNotFound = errors.New("secret not found")

// Source fetches a named secret.
type Source interface {
	Fetch(ctx context.Context, name string) (string, error)
}

// EnvSource resolves secrets from environment variables. The variable
// name is Prefix plus the secret name uppercased with dashes mapped to
// underscores: ("SEMREVIEW_SECRET_", "webhook-secret") reads
// SEMREVIEW_SECRET_WEBHOOK_SECRET.
type EnvSource struct {
	Prefix string
}

// Fetch implements Source.
func (s *EnvSource) Fetch(_ context.Context, name string) (string, error) {
	key := s.Prefix + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return "", fmt.Errorf("%w: env %s", ErrNotFound, key)
	}
	return val, nil
}

// FileSource resolves secrets from files in a directory, one file per
// secret named after the secret. Trailing whitespace is trimmed, which
// tolerates editor-added newlines in key files.
type FileSource struct {
	Dir string
}

// Fetch implements Source.
func (s *FileSource) Fetch(_ context.Context, name string) (string, error) {
	path := filepath.Join(s.Dir, filepath.Base(name))
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: file %s", ErrNotFound, path)
		}
		return "", fmt.Errorf("read secret %s: %w", name, err)
	}
	return strings.TrimRight(string(data), "\r\n \t"), nil
}

// Watch invalidates rotated secrets: it watches the source directory and
// calls onChange with the secret name whenever a file is written or
// created. Blocks until ctx is done.
func (s *FileSource) Watch(ctx context.Context, onChange func(name string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(s.Dir); err != nil {
		return fmt.Errorf("watch %s: %w", s.Dir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Create) {
				onChange(filepath.Base(event.Name))
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			if err != nil {
				return fmt.Errorf("watcher: %w", err)
			}
		}
	}
}

// Cache is a read-through cache over a Source. Values live for the
// process lifetime unless invalidated (secret rotation).
type Cache struct {
	source Source

	mu     sync.RWMutex
	values map[string]string
}

// NewCache creates a cache over the given source.
func NewCache(source Source) *Cache {
	return &Cache{
		source: source,
		values: make(map[string]string),
	}
}

// Get returns the cached value for name, fetching from the source on
// first access.
func (c *Cache) Get(ctx context.Context, name string) (string, error) {
	c.mu.RLock()
	val, ok := c.values[name]
	c.mu.RUnlock()
	if ok {
		return val, nil
	}

	val, err := c.source.Fetch(ctx, name)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.values[name] = val
	c.mu.Unlock()
	return val, nil
}

// Invalidate drops the cached value for name so the next Get re-fetches.
func (c *Cache) Invalidate(name string) {
	c.mu.Lock()
	delete(c.values, name)
	c.mu.Unlock()
}

// InvalidateAll drops every cached value.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	c.values = make(map[string]string)
	c.mu.Unlock()
}
