package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/c360studio/semreview/natsclient"
)

var (
	globalCallStore   *CallStore
	globalCallStoreMu sync.RWMutex
	initOnce          sync.Once
	initErr           error
)

// defaultCallSubjectPrefix is the subject prefix for LLM call records.
const defaultCallSubjectPrefix = "llm.call"

// CallRecord represents a single LLM API call with full context for audit
// and cost accounting.
type CallRecord struct {
	// RequestID uniquely identifies this LLM call.
	RequestID string `json:"request_id"`

	// TraceID correlates this call with the webhook delivery that caused it.
	TraceID string `json:"trace_id,omitempty"`

	// ReviewKey is the <repo>:<pr>:<sha> key of the review that made the
	// call, when one is in flight.
	ReviewKey string `json:"review_key,omitempty"`

	// Capability is the semantic capability requested (planning, reviewing, fast).
	Capability string `json:"capability"`

	// Model is the actual model that was used for this call.
	Model string `json:"model"`

	// Provider is the LLM provider (anthropic, ollama, openai).
	Provider string `json:"provider"`

	// Messages is the input message history sent to the LLM.
	Messages []Message `json:"messages"`

	// Response is the generated content from the LLM.
	Response string `json:"response"`

	// PromptTokens is the number of input tokens consumed.
	PromptTokens int `json:"prompt_tokens"`

	// CompletionTokens is the number of output tokens generated.
	CompletionTokens int `json:"completion_tokens"`

	// TotalTokens is the total tokens consumed.
	TotalTokens int `json:"total_tokens"`

	// ContextBudget is the model's context window size, when known.
	ContextBudget int `json:"context_budget,omitempty"`

	// FinishReason indicates why generation stopped (stop, length, ...).
	FinishReason string `json:"finish_reason"`

	// StartedAt is when the LLM call began.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the LLM call finished.
	CompletedAt time.Time `json:"completed_at"`

	// DurationMs is the call duration in milliseconds.
	DurationMs int64 `json:"duration_ms"`

	// Error contains any error message if the call failed.
	Error string `json:"error,omitempty"`

	// Retries is the number of retry attempts made.
	Retries int `json:"retries"`

	// FallbacksUsed lists models tried before success.
	FallbacksUsed []string `json:"fallbacks_used,omitempty"`
}

// CallStore publishes LLM call records to the call stream.
// The stream is the single source of truth; no KV storage.
type CallStore struct {
	nc            *natsclient.Client
	logger        *slog.Logger
	subjectPrefix string
}

// CallStoreOption configures a CallStore.
type CallStoreOption func(*CallStore)

// WithSubjectPrefix overrides the subject prefix for call records.
func WithSubjectPrefix(prefix string) CallStoreOption {
	return func(s *CallStore) {
		if prefix != "" {
			s.subjectPrefix = prefix
		}
	}
}

// WithStoreLogger sets the logger for the call store.
func WithStoreLogger(logger *slog.Logger) CallStoreOption {
	return func(s *CallStore) {
		s.logger = logger
	}
}

// NewCallStore creates a new LLM call store.
func NewCallStore(nc *natsclient.Client, opts ...CallStoreOption) (*CallStore, error) {
	if nc == nil {
		return nil, fmt.Errorf("NATS client required")
	}

	s := &CallStore{
		nc:            nc,
		logger:        slog.Default(),
		subjectPrefix: defaultCallSubjectPrefix,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// InitGlobalCallStore initializes the global LLM call store.
// Call once during startup after the NATS connection is up. Safe to call
// multiple times; subsequent calls return the cached result. If
// initialization fails, GlobalCallStore() returns nil, which disables
// call recording.
func InitGlobalCallStore(nc *natsclient.Client, opts ...CallStoreOption) error {
	initOnce.Do(func() {
		store, err := NewCallStore(nc, opts...)
		if err != nil {
			initErr = err
			return
		}
		globalCallStoreMu.Lock()
		globalCallStore = store
		globalCallStoreMu.Unlock()
	})
	return initErr
}

// GlobalCallStore returns the global LLM call store.
// Returns nil if InitGlobalCallStore hasn't been called.
// This follows the same pattern as model.Global() for consistency.
func GlobalCallStore() *CallStore {
	globalCallStoreMu.RLock()
	defer globalCallStoreMu.RUnlock()
	return globalCallStore
}

// Store publishes an LLM call record to the call stream.
func (s *CallStore) Store(ctx context.Context, record *CallRecord) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if record.RequestID == "" {
		return fmt.Errorf("request_id is required")
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal call record: %w", err)
	}

	js, err := s.nc.JetStream()
	if err != nil {
		return fmt.Errorf("get jetstream: %w", err)
	}

	subject := s.Subject(record.Capability)
	if _, err := js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publish call record: %w", err)
	}

	s.logger.Debug("Published LLM call record",
		"subject", subject,
		"request_id", record.RequestID,
		"trace_id", record.TraceID,
		"capability", record.Capability,
		"total_tokens", record.TotalTokens)

	return nil
}

// Subject returns the publish subject for a capability's call records.
// Capability strings are sanitized so they stay valid subject tokens.
func (s *CallStore) Subject(capability string) string {
	token := subjectToken(capability)
	if token == "" {
		token = "unknown"
	}
	return s.subjectPrefix + "." + token
}

// subjectToken makes a string safe for use as a single NATS subject token.
func subjectToken(v string) string {
	r := strings.NewReplacer(".", "-", "*", "-", ">", "-", " ", "-")
	return r.Replace(strings.TrimSpace(v))
}

// TraceContext carries correlation fields through a review in flight.
type TraceContext struct {
	// TraceID is the webhook delivery GUID anchoring the request flow.
	TraceID string

	// ReviewKey is the idempotency key <repo>:<pr>:<sha>.
	ReviewKey string
}

// traceContextKey is the context key for trace information.
type traceContextKey struct{}

// WithTraceContext adds trace information to a context.
func WithTraceContext(ctx context.Context, tc TraceContext) context.Context {
	return context.WithValue(ctx, traceContextKey{}, tc)
}

// GetTraceContext extracts trace information from a context.
func GetTraceContext(ctx context.Context) TraceContext {
	if tc, ok := ctx.Value(traceContextKey{}).(TraceContext); ok {
		return tc
	}
	return TraceContext{}
}
