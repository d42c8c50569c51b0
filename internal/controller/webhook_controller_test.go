package controller_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cassiomorais/transfers/internal/controller"
	"github.com/cassiomorais/transfers/internal/domain/event"
	"github.com/cassiomorais/transfers/internal/domain/transaction"
	"github.com/cassiomorais/transfers/internal/domain/webhook"
	"github.com/cassiomorais/transfers/internal/testutil"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type webhookFixture struct {
	router  *chi.Mux
	subRepo *testutil.MockSubscriptionRepository
	jobRepo *testutil.MockJobRepository
}

func newWebhookFixture(t *testing.T) *webhookFixture {
	t.Helper()
	subRepo := testutil.NewMockSubscriptionRepository()
	jobRepo := testutil.NewMockJobRepository()

	c := controller.NewWebhookController(subRepo, jobRepo)
	r := chi.NewRouter()
	r.Post("/webhooks", c.Create)
	r.Get("/webhooks", c.List)
	r.Get("/webhooks/{id}", c.Get)
	r.Delete("/webhooks/{id}", c.Delete)
	r.Get("/webhooks/{id}/deliveries", c.ListDeliveries)
	r.Get("/webhooks/{id}/deliveries/{jobID}/logs", c.ListDeliveryLogs)

	return &webhookFixture{router: r, subRepo: subRepo, jobRepo: jobRepo}
}

func (f *webhookFixture) do(t *testing.T, method, target, userID, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if userID != "" {
		req = asUser(req, userID)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestWebhookCreate(t *testing.T) {
	f := newWebhookFixture(t)

	rec := f.do(t, http.MethodPost, "/webhooks", "alice",
		`{"url":"https://example.com/hook","secret":"super-secret-0123456789","event_types":["transaction.completed"]}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp controller.SubscriptionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Active)
	assert.Equal(t, []string{"transaction.completed"}, resp.EventTypes)

	// The signing secret is write-only.
	assert.NotContains(t, rec.Body.String(), "super-secret-0123456789")
}

func TestWebhookCreate_Invalid(t *testing.T) {
	f := newWebhookFixture(t)
	tests := []struct {
		name string
		body string
	}{
		{"bad url", `{"url":"not a url","secret":"super-secret-0123456789","event_types":["transaction.completed"]}`},
		{"short secret", `{"url":"https://example.com","secret":"short","event_types":["transaction.completed"]}`},
		{"no event types", `{"url":"https://example.com","secret":"super-secret-0123456789","event_types":[]}`},
		{"non-terminal type", `{"url":"https://example.com","secret":"super-secret-0123456789","event_types":["debit.success"]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/webhooks", "alice", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "validation_error", errorCode(t, rec))
		})
	}
}

func TestWebhookGet_ForeignSubscriptionReadsAsNotFound(t *testing.T) {
	f := newWebhookFixture(t)
	sub := testutil.NewTestSubscription("bob", "https://example.com/hook")
	require.NoError(t, f.subRepo.Create(t.Context(), sub))

	rec := f.do(t, http.MethodGet, "/webhooks/"+sub.ID.String(), "alice", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/webhooks/"+sub.ID.String(), "bob", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWebhookList_OwnerOnly(t *testing.T) {
	f := newWebhookFixture(t)
	require.NoError(t, f.subRepo.Create(t.Context(), testutil.NewTestSubscription("alice", "https://a.example.com")))
	require.NoError(t, f.subRepo.Create(t.Context(), testutil.NewTestSubscription("bob", "https://b.example.com")))

	rec := f.do(t, http.MethodGet, "/webhooks", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp []controller.SubscriptionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp, 1)
	assert.Equal(t, "https://a.example.com", resp[0].URL)
}

func TestWebhookDelete(t *testing.T) {
	f := newWebhookFixture(t)
	sub := testutil.NewTestSubscription("alice", "https://example.com/hook")
	require.NoError(t, f.subRepo.Create(t.Context(), sub))

	rec := f.do(t, http.MethodDelete, "/webhooks/"+sub.ID.String(), "alice", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/webhooks/"+sub.ID.String(), "alice", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebhookListDeliveries(t *testing.T) {
	f := newWebhookFixture(t)
	sub := testutil.NewTestSubscription("alice", "https://example.com/hook")
	require.NoError(t, f.subRepo.Create(t.Context(), sub))

	tx := testutil.NewTestTransaction("alice", "bob", 3000, transaction.StatusCompleted)
	job := webhook.NewDeliveryJob(sub.ID, testutil.NewTestEvent(event.TransactionCompleted, tx))
	_, err := f.jobRepo.CreateJob(t.Context(), job)
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, "/webhooks/"+sub.ID.String()+"/deliveries", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp []controller.DeliveryJobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp, 1)
	assert.Equal(t, job.ID.String(), resp[0].ID)
	assert.Equal(t, string(webhook.JobPending), resp[0].Status)
}

func TestWebhookListDeliveryLogs_JobMustBelongToSubscription(t *testing.T) {
	f := newWebhookFixture(t)
	mine := testutil.NewTestSubscription("alice", "https://a.example.com")
	other := testutil.NewTestSubscription("alice", "https://b.example.com")
	require.NoError(t, f.subRepo.Create(t.Context(), mine))
	require.NoError(t, f.subRepo.Create(t.Context(), other))

	tx := testutil.NewTestTransaction("alice", "bob", 3000, transaction.StatusCompleted)
	job := webhook.NewDeliveryJob(other.ID, testutil.NewTestEvent(event.TransactionCompleted, tx))
	_, err := f.jobRepo.CreateJob(t.Context(), job)
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, "/webhooks/"+mine.ID.String()+"/deliveries/"+job.ID.String()+"/logs", "alice", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/webhooks/"+other.ID.String()+"/deliveries/"+job.ID.String()+"/logs", "alice", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
