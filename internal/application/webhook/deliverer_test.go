package webhook_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	webhookApp "github.com/cassiomorais/transfers/internal/application/webhook"
	domainErrors "github.com/cassiomorais/transfers/internal/domain/errors"
	"github.com/cassiomorais/transfers/internal/domain/event"
	"github.com/cassiomorais/transfers/internal/domain/transaction"
	"github.com/cassiomorais/transfers/internal/domain/webhook"
	"github.com/cassiomorais/transfers/internal/infrastructure/observability"
	"github.com/cassiomorais/transfers/internal/testutil"
	"github.com/cassiomorais/transfers/pkg/signature"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDelivererConfig() webhookApp.DelivererConfig {
	return webhookApp.DelivererConfig{
		MaxAttempts:       3,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		Timeout:           2 * time.Second,
		MaxFailureCount:   10,
		ResponseBodyLimit: 1024,
	}
}

func newDeliverer(t *testing.T, cfg webhookApp.DelivererConfig) (*webhookApp.Deliverer, *testutil.MockSubscriptionRepository, *testutil.MockJobRepository) {
	t.Helper()
	subRepo := testutil.NewMockSubscriptionRepository()
	jobRepo := testutil.NewMockJobRepository()
	metrics := observability.NewMetrics("test", prometheus.NewRegistry())
	d := webhookApp.NewDeliverer(subRepo, jobRepo, cfg, metrics, zerolog.Nop())
	return d, subRepo, jobRepo
}

func seedJob(t *testing.T, subRepo *testutil.MockSubscriptionRepository, jobRepo *testutil.MockJobRepository, url string) (*webhook.Subscription, *webhook.DeliveryJob) {
	t.Helper()
	ctx := context.Background()

	sub := testutil.NewTestSubscription("owner-1", url)
	require.NoError(t, subRepo.Create(ctx, sub))

	tx := testutil.NewTestTransaction("alice", "bob", 3000, transaction.StatusCompleted)
	job := webhook.NewDeliveryJob(sub.ID, testutil.NewTestEvent(event.TransactionCompleted, tx))
	inserted, err := jobRepo.CreateJob(ctx, job)
	require.NoError(t, err)
	require.True(t, inserted)
	return sub, job
}

func TestDeliver_Success(t *testing.T) {
	var gotSig atomic.Value
	var gotBody atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotBody.Store(body)
		gotSig.Store(r.Header.Get(signature.Header))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d, subRepo, jobRepo := newDeliverer(t, testDelivererConfig())
	sub, job := seedJob(t, subRepo, jobRepo, srv.URL)

	require.NoError(t, d.Deliver(context.Background(), job.ID))

	stored := jobRepo.StoredJob(job.ID)
	require.NotNil(t, stored)
	assert.Equal(t, webhook.JobSuccess, stored.Status)
	assert.Equal(t, 1, stored.Attempts)

	// The receiver can verify the payload with the shared secret.
	sig, _ := gotSig.Load().(string)
	body, _ := gotBody.Load().([]byte)
	assert.True(t, signature.Verify(sub.Secret, body, sig))

	logs, err := jobRepo.ListLogsByJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.NotNil(t, logs[0].HTTPStatus)
	assert.Equal(t, http.StatusOK, *logs[0].HTTPStatus)
}

func TestDeliver_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d, subRepo, jobRepo := newDeliverer(t, testDelivererConfig())
	sub, job := seedJob(t, subRepo, jobRepo, srv.URL)

	require.NoError(t, d.Deliver(context.Background(), job.ID))

	stored := jobRepo.StoredJob(job.ID)
	assert.Equal(t, webhook.JobSuccess, stored.Status)
	assert.Equal(t, int32(3), calls.Load())

	// Success resets the failure streak.
	assert.Equal(t, 0, subRepo.Stored(sub.ID).ConsecutiveFailures)
}

func TestDeliver_AttemptsExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	d, subRepo, jobRepo := newDeliverer(t, testDelivererConfig())
	sub, job := seedJob(t, subRepo, jobRepo, srv.URL)

	require.NoError(t, d.Deliver(context.Background(), job.ID))

	stored := jobRepo.StoredJob(job.ID)
	assert.Equal(t, webhook.JobFailed, stored.Status)
	assert.Equal(t, 3, stored.Attempts)
	require.NotNil(t, stored.LastError)

	storedSub := subRepo.Stored(sub.ID)
	assert.Equal(t, 1, storedSub.ConsecutiveFailures)
	assert.True(t, storedSub.Active)

	logs, err := jobRepo.ListLogsByJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Len(t, logs, 3)
}

func TestDeliver_DeactivatesSubscriptionAtFailureLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := testDelivererConfig()
	cfg.MaxAttempts = 1
	cfg.MaxFailureCount = 1
	d, subRepo, jobRepo := newDeliverer(t, cfg)
	sub, job := seedJob(t, subRepo, jobRepo, srv.URL)

	require.NoError(t, d.Deliver(context.Background(), job.ID))

	storedSub := subRepo.Stored(sub.ID)
	assert.False(t, storedSub.Active)
	assert.Equal(t, 1, storedSub.ConsecutiveFailures)
}

func TestDeliver_SkipsInactiveSubscription(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	d, subRepo, jobRepo := newDeliverer(t, testDelivererConfig())
	sub, job := seedJob(t, subRepo, jobRepo, srv.URL)

	sub.Active = false
	require.NoError(t, subRepo.UpdateDeliveryState(context.Background(), sub))

	require.NoError(t, d.Deliver(context.Background(), job.ID))

	assert.Equal(t, webhook.JobFailed, jobRepo.StoredJob(job.ID).Status)
	assert.Equal(t, int32(0), calls.Load())
}

func TestDeliver_TerminalJobIsNoOp(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	d, subRepo, jobRepo := newDeliverer(t, testDelivererConfig())
	_, job := seedJob(t, subRepo, jobRepo, srv.URL)

	job.MarkSuccess()
	require.NoError(t, jobRepo.UpdateJob(context.Background(), job))

	require.NoError(t, d.Deliver(context.Background(), job.ID))
	assert.Equal(t, int32(0), calls.Load())
}

func TestDeliver_UnknownJob(t *testing.T) {
	d, _, _ := newDeliverer(t, testDelivererConfig())
	err := d.Deliver(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domainErrors.ErrDeliveryJobNotFound)
}
