package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cassiomorais/transfers/internal/idempotency"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResponseCache struct {
	mu      sync.Mutex
	entries map[string]idempotency.CachedResponse
}

func newFakeResponseCache() *fakeResponseCache {
	return &fakeResponseCache{entries: map[string]idempotency.CachedResponse{}}
}

func (c *fakeResponseCache) Check(_ context.Context, identity, key string) (*idempotency.CachedResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cached, ok := c.entries[identity+"/"+key]
	if !ok {
		return nil, nil
	}
	return &cached, nil
}

func (c *fakeResponseCache) Store(_ context.Context, identity, key string, resp idempotency.CachedResponse) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[identity+"/"+key] = resp
	return nil
}

func (c *fakeResponseCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// fakeLocks hands out mutex-backed locks so concurrent requests on one key
// really serialize, the way the redis lock does in production.
type fakeLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newFakeLocks() *fakeLocks {
	return &fakeLocks{locks: map[string]*sync.Mutex{}}
}

func (f *fakeLocks) factory(key string) keyLock {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.locks[key]
	if !ok {
		m = &sync.Mutex{}
		f.locks[key] = m
	}
	return &fakeLock{m: m}
}

type fakeLock struct{ m *sync.Mutex }

func (l *fakeLock) AcquireWithRetry(context.Context, int, time.Duration) error {
	l.m.Lock()
	return nil
}

func (l *fakeLock) Release(context.Context) error {
	l.m.Unlock()
	return nil
}

func idempotentHandler(cache responseCache, next http.Handler) http.Handler {
	return idempotencyWith(cache, newFakeLocks().factory, zerolog.Nop())(next)
}

func keyedRequest(key string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/api/v1/transfers", nil)
	if key != "" {
		r.Header.Set("Idempotency-Key", key)
	}
	return r.WithContext(context.WithValue(r.Context(), UserIDKey, "user-123"))
}

func errCode(t *testing.T, body *httptest.ResponseRecorder) string {
	t.Helper()
	var payload map[string]string
	require.NoError(t, json.Unmarshal(body.Body.Bytes(), &payload))
	return payload["code"]
}

func TestIdempotency_NoKeyPassesThrough(t *testing.T) {
	cache := newFakeResponseCache()
	var calls atomic.Int32
	h := idempotentHandler(cache, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusAccepted)
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, keyedRequest(""))

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, 0, cache.size())
}

func TestIdempotency_InvalidKeyRejectedBeforeHandler(t *testing.T) {
	cache := newFakeResponseCache()
	var calls atomic.Int32
	h := idempotentHandler(cache, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, keyedRequest("not a valid key!"))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "idempotency_key_invalid", errCode(t, w))
	assert.Equal(t, int32(0), calls.Load(), "handler must not run for an invalid key")
}

func TestIdempotency_RequiresAuthenticatedCaller(t *testing.T) {
	cache := newFakeResponseCache()
	var calls atomic.Int32
	h := idempotentHandler(cache, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))

	r := httptest.NewRequest(http.MethodPost, "/api/v1/transfers", nil)
	r.Header.Set("Idempotency-Key", "key-1")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "auth_required", errCode(t, w))
	assert.Equal(t, int32(0), calls.Load())
}

func TestIdempotency_ReplayReturnsCachedResponse(t *testing.T) {
	cache := newFakeResponseCache()
	require.NoError(t, cache.Store(context.Background(), "user-123", "key-1", idempotency.CachedResponse{
		StatusCode: http.StatusCreated,
		Body:       []byte(`{"id":"tx-1"}`),
	}))

	var calls atomic.Int32
	h := idempotentHandler(cache, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, keyedRequest("key-1"))

	assert.Equal(t, int32(0), calls.Load(), "replayed request must not re-execute the handler")
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, `{"id":"tx-1"}`, w.Body.String())
	assert.Equal(t, "true", w.Header().Get("X-Idempotency-Replayed"))
}

func TestIdempotency_StoresSuccessfulResponse(t *testing.T) {
	cache := newFakeResponseCache()
	var calls atomic.Int32
	h := idempotentHandler(cache, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"tx-9"}`))
	}))

	first := httptest.NewRecorder()
	h.ServeHTTP(first, keyedRequest("key-9"))
	require.Equal(t, http.StatusCreated, first.Code)
	require.Empty(t, first.Header().Get("X-Idempotency-Replayed"))

	second := httptest.NewRecorder()
	h.ServeHTTP(second, keyedRequest("key-9"))

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "true", second.Header().Get("X-Idempotency-Replayed"))
}

func TestIdempotency_ServerErrorNotCached(t *testing.T) {
	cache := newFakeResponseCache()
	var calls atomic.Int32
	h := idempotentHandler(cache, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))

	for range 2 {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, keyedRequest("key-5"))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	}

	// The caller retries a 5xx and the retry must re-execute.
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, 0, cache.size())
}

func TestIdempotency_OversizedResponseNotCached(t *testing.T) {
	cache := newFakeResponseCache()
	big := strings.Repeat("a", maxIdempotencyBodySize+1)
	h := idempotentHandler(cache, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(big))
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, keyedRequest("key-7"))

	// The full body still reaches the client; only caching is skipped.
	assert.Equal(t, len(big), w.Body.Len())
	assert.Equal(t, 0, cache.size())
}

func TestIdempotency_ConcurrentRequestsRunHandlerOnce(t *testing.T) {
	cache := newFakeResponseCache()
	locks := newFakeLocks()
	var calls atomic.Int32
	h := idempotencyWith(cache, locks.factory, zerolog.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		time.Sleep(50 * time.Millisecond)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"tx-race"}`))
	}))

	var wg sync.WaitGroup
	results := make([]*httptest.ResponseRecorder, 2)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := httptest.NewRecorder()
			h.ServeHTTP(w, keyedRequest("key-race"))
			results[i] = w
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load(), "side effect must run exactly once")
	assert.Equal(t, results[0].Body.String(), results[1].Body.String())
	assert.Equal(t, results[0].Code, results[1].Code)
	assert.Equal(t, http.StatusCreated, results[0].Code)
}
