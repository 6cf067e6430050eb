package natsclient

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// StreamDefinition declares a JetStream stream the platform requires.
type StreamDefinition struct {
	Name       string
	Subjects   []string
	MaxAge     time.Duration
	Duplicates time.Duration
	Storage    jetstream.StorageType
}

// KeyValueDefinition declares a KV bucket the platform requires.
type KeyValueDefinition struct {
	Bucket      string
	Description string
	TTL         time.Duration
	History     uint8
}

// EnsureStreams creates or updates the given streams. Safe to call on
// every startup.
func (c *Client) EnsureStreams(ctx context.Context, logger *slog.Logger, defs []StreamDefinition) error {
	js, err := c.JetStream()
	if err != nil {
		return err
	}

	for _, def := range defs {
		cfg := jetstream.StreamConfig{
			Name:       def.Name,
			Subjects:   def.Subjects,
			MaxAge:     def.MaxAge,
			Duplicates: def.Duplicates,
			Storage:    def.Storage,
			Replicas:   1,
		}
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("ensure stream %s: %w", def.Name, err)
		}
		logger.Debug("Stream ready", "name", def.Name, "subjects", def.Subjects)
	}
	return nil
}

// EnsureKeyValue creates or updates a KV bucket and returns it.
func (c *Client) EnsureKeyValue(ctx context.Context, def KeyValueDefinition) (jetstream.KeyValue, error) {
	js, err := c.JetStream()
	if err != nil {
		return nil, err
	}

	history := def.History
	if history == 0 {
		history = 1
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      def.Bucket,
		Description: def.Description,
		TTL:         def.TTL,
		History:     history,
	})
	if err != nil {
		return nil, fmt.Errorf("ensure KV bucket %s: %w", def.Bucket, err)
	}
	return kv, nil
}
