package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/cassiomorais/transfers/internal/idempotency"
	infraRedis "github.com/cassiomorais/transfers/internal/infrastructure/redis"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const maxIdempotencyBodySize = 1 << 20

// responseCache is the slice of idempotency.Cache the middleware needs.
type responseCache interface {
	Check(ctx context.Context, identity, key string) (*idempotency.CachedResponse, error)
	Store(ctx context.Context, identity, key string, resp idempotency.CachedResponse) error
}

// keyLock serializes concurrent requests sharing an idempotency key.
type keyLock interface {
	AcquireWithRetry(ctx context.Context, maxRetries int, retryDelay time.Duration) error
	Release(ctx context.Context) error
}

// lockFactory builds the lock guarding one idempotency key.
type lockFactory func(key string) keyLock

// Idempotency deduplicates mutating requests carrying an Idempotency-Key
// header. A replayed request returns the originally cached response
// byte-for-byte with X-Idempotency-Replayed set. Concurrent requests with the
// same key are serialized through a redis lock so the side effect runs once.
//
// Keys are scoped to the authenticated caller, so RequireAuth must run first.
func Idempotency(cache *idempotency.Cache, redisClient *redis.Client, logger zerolog.Logger) func(http.Handler) http.Handler {
	locks := func(key string) keyLock {
		return infraRedis.NewDistributedLock(redisClient, key, 30*time.Second)
	}
	return idempotencyWith(cache, locks, logger)
}

func idempotencyWith(cache responseCache, locks lockFactory, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("Idempotency-Key")
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			if err := idempotency.ValidateKey(key); err != nil {
				writeIdempotencyError(w, http.StatusBadRequest,
					"idempotency key must be 1-64 characters of [A-Za-z0-9_-]", "idempotency_key_invalid")
				return
			}

			identity, ok := GetUserID(r.Context())
			if !ok {
				writeIdempotencyError(w, http.StatusUnauthorized, "authentication required", "auth_required")
				return
			}

			ctx := r.Context()
			if replayed := replay(ctx, w, cache, identity, key); replayed {
				return
			}

			lock := locks(idempotency.LockKey(identity, key))
			if err := lock.AcquireWithRetry(ctx, 10, 200*time.Millisecond); err != nil {
				writeIdempotencyError(w, http.StatusConflict,
					"another request with this idempotency key is in progress", "idempotency_in_progress")
				return
			}
			defer lock.Release(ctx)

			// The first holder may have finished while we waited for the lock.
			if replayed := replay(ctx, w, cache, identity, key); replayed {
				return
			}

			rec := &responseRecorder{ResponseWriter: w, body: &bytes.Buffer{}, statusCode: http.StatusOK}
			next.ServeHTTP(rec, r)

			// 5xx responses are not cached: the caller is expected to retry
			// and the retry should re-execute.
			if rec.statusCode >= 200 && rec.statusCode < 500 && !rec.bodyTruncated {
				err := cache.Store(ctx, identity, key, idempotency.CachedResponse{
					StatusCode: rec.statusCode,
					Body:       rec.body.Bytes(),
				})
				if err != nil {
					logger.Error().Err(err).Msg("Failed to store idempotency record")
				}
			}
		})
	}
}

func replay(ctx context.Context, w http.ResponseWriter, cache responseCache, identity, key string) bool {
	cached, err := cache.Check(ctx, identity, key)
	if err != nil || cached == nil {
		return false
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Idempotency-Replayed", "true")
	w.WriteHeader(cached.StatusCode)
	w.Write(cached.Body)
	return true
}

func writeIdempotencyError(w http.ResponseWriter, status int, msg, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error": msg,
		"code":  code,
	})
}

type responseRecorder struct {
	http.ResponseWriter
	statusCode    int
	body          *bytes.Buffer
	bodyTruncated bool
}

func (r *responseRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	if !r.bodyTruncated {
		if r.body.Len()+len(b) > maxIdempotencyBodySize {
			r.bodyTruncated = true
		} else {
			r.body.Write(b)
		}
	}
	return r.ResponseWriter.Write(b)
}
