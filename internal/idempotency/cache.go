package idempotency

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	domainErrors "github.com/cassiomorais/transfers/internal/domain/errors"
	"github.com/redis/go-redis/v9"
)

// DefaultTTL is how long cached responses are replayed for.
const DefaultTTL = 24 * time.Hour

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidateKey checks the client-supplied idempotency key format: 1-64
// characters, alphanumeric plus - and _. Invalid keys are rejected before any
// mutation is attempted.
func ValidateKey(key string) error {
	if !keyPattern.MatchString(key) {
		return domainErrors.ErrInvalidIdempotencyKey
	}
	return nil
}

// CachedResponse is the stored result of a completed mutation, replayed
// byte-for-byte on subsequent requests with the same key.
type CachedResponse struct {
	StatusCode int    `json:"status_code"`
	Body       []byte `json:"body"`
}

// Cache deduplicates externally-triggered mutations. Keys are scoped by the
// requester identity, so two different users can reuse the same literal key
// without collision.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache creates a cache with the given TTL; ttl <= 0 uses DefaultTTL.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{client: client, ttl: ttl}
}

// TTL returns the configured record lifetime.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Check returns the cached response for (identity, key), or nil on a miss.
func (c *Cache) Check(ctx context.Context, identity, key string) (*CachedResponse, error) {
	raw, err := c.client.Get(ctx, cacheKey(identity, key)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("idempotency check: %w", err)
	}

	var resp CachedResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode cached response: %w", err)
	}
	return &resp, nil
}

// Store caches resp for (identity, key) with the configured TTL.
func (c *Cache) Store(ctx context.Context, identity, key string, resp CachedResponse) error {
	raw, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encode cached response: %w", err)
	}
	if err := c.client.Set(ctx, cacheKey(identity, key), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("idempotency store: %w", err)
	}
	return nil
}

func cacheKey(identity, key string) string {
	return "idem:resp:" + identity + ":" + key
}

// LockKey is the redis key used to serialize concurrent requests carrying
// the same idempotency key. Distinct from the response key so storing the
// response never clobbers a held lock.
func LockKey(identity, key string) string {
	return "idem:lock:" + identity + ":" + key
}
