// Package natsclient wraps the NATS connection used by all components,
// exposing core publish and a shared JetStream handle.
package natsclient

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Client manages one NATS connection for the process.
type Client struct {
	url           string
	name          string
	maxReconnects int
	reconnectWait time.Duration

	mu   sync.RWMutex
	conn *nats.Conn
	js   jetstream.JetStream
}

// Option configures a Client.
type Option func(*Client)

// WithName sets the connection name visible to the server.
func WithName(name string) Option {
	return func(c *Client) { c.name = name }
}

// WithMaxReconnects sets the reconnect attempt limit (-1 = unlimited).
func WithMaxReconnects(n int) Option {
	return func(c *Client) { c.maxReconnects = n }
}

// WithReconnectWait sets the delay between reconnect attempts.
func WithReconnectWait(d time.Duration) Option {
	return func(c *Client) { c.reconnectWait = d }
}

// NewClient creates an unconnected client for the given server URL(s).
func NewClient(url string, opts ...Option) (*Client, error) {
	if url == "" {
		return nil, fmt.Errorf("NATS URL is required")
	}

	c := &Client{
		url:           url,
		name:          "semreview",
		maxReconnects: -1,
		reconnectWait: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Connect establishes the connection and the JetStream context.
func (c *Client) Connect(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil && c.conn.IsConnected() {
		return nil
	}

	conn, err := nats.Connect(c.url,
		nats.Name(c.name),
		nats.MaxReconnects(c.maxReconnects),
		nats.ReconnectWait(c.reconnectWait),
		nats.RetryOnFailedConnect(true),
	)
	if err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return fmt.Errorf("create JetStream context: %w", err)
	}

	c.conn = conn
	c.js = js
	return nil
}

// WaitForConnection blocks until the connection is established or ctx
// is done. RetryOnFailedConnect means Connect can return before the
// server is reachable.
func (c *Client) WaitForConnection(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if c.IsConnected() {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for NATS connection: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// IsConnected reports whether the underlying connection is up.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && c.conn.IsConnected()
}

// JetStream returns the shared JetStream context.
func (c *Client) JetStream() (jetstream.JetStream, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.js == nil {
		return nil, fmt.Errorf("not connected")
	}
	return c.js, nil
}

// Publish sends a core NATS message (at-most-once, no stream ack).
func (c *Client) Publish(_ context.Context, subject string, data []byte) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}
	return conn.Publish(subject, data)
}

// Close drains the connection, falling back to a hard close when the
// drain does not finish before ctx.
func (c *Client) Close(ctx context.Context) {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.js = nil
	c.mu.Unlock()

	if conn == nil {
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = conn.Drain()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		conn.Close()
	}
}
