// Package storage provides the review idempotency guard backed by
// NATS KV. One successful claim per (repo, pr, head_sha) key is the
// platform's at-most-one-review guarantee; everything else about a
// review run lives in the forge.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// DefaultBucket is the KV bucket holding idempotency claims.
const DefaultBucket = "REVIEW_IDEMPOTENCY"

// DefaultTTL is how long a claim blocks duplicate reviews.
const DefaultTTL = 7 * 24 * time.Hour

// IdempotencyRecord is the claim value. Created once by conditional
// put, never updated, expired by the bucket TTL.
type IdempotencyRecord struct {
	Key       string    `json:"key"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// kvCreator is the slice of jetstream.KeyValue the guard uses.
type kvCreator interface {
	Create(ctx context.Context, key string, value []byte, opts ...jetstream.KVCreateOpt) (uint64, error)
}

// IdempotencyGuard claims review keys through create-if-absent puts.
type IdempotencyGuard struct {
	kv  kvCreator
	ttl time.Duration
}

// NewIdempotencyGuard opens (or creates) the claim bucket. The bucket
// TTL is the claim lifetime; an empty bucket name and a zero ttl fall
// back to the defaults.
func NewIdempotencyGuard(ctx context.Context, js jetstream.JetStream, bucket string, ttl time.Duration) (*IdempotencyGuard, error) {
	if bucket == "" {
		bucket = DefaultBucket
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	kv, err := getOrCreateBucket(ctx, js, bucket, ttl)
	if err != nil {
		return nil, fmt.Errorf("open idempotency bucket %s: %w", bucket, err)
	}
	return &IdempotencyGuard{kv: kv, ttl: ttl}, nil
}

func getOrCreateBucket(ctx context.Context, js jetstream.JetStream, name string, ttl time.Duration) (jetstream.KeyValue, error) {
	kv, err := js.KeyValue(ctx, name)
	if err == nil {
		return kv, nil
	}
	return js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      name,
		Description: "review idempotency claims",
		TTL:         ttl,
	})
}

// Claim attempts to take key. It returns (true, nil) when this caller
// won the claim, (false, nil) when another run already holds it, and
// an error only for storage failures, which the caller should treat as
// retryable.
func (g *IdempotencyGuard) Claim(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}

	now := time.Now().UTC()
	rec := IdempotencyRecord{
		Key:       key,
		CreatedAt: now,
		ExpiresAt: now.Add(g.ttl),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("marshal idempotency record: %w", err)
	}

	if _, err := g.kv.Create(ctx, encodeKey(key), data); err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) {
			return false, nil
		}
		return false, fmt.Errorf("claim %s: %w", key, err)
	}
	return true, nil
}

// TTL returns the configured claim lifetime.
func (g *IdempotencyGuard) TTL() time.Duration {
	return g.ttl
}

// encodeKey maps a dedup key onto the KV key character set. Colons are
// not valid in KV keys; '=' is, and never appears in repo names, PR
// numbers, or commit hashes, so the mapping cannot collide.
func encodeKey(key string) string {
	return strings.ReplaceAll(key, ":", "=")
}
