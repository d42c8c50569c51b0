package controller

import (
	"net/http"
	"strconv"

	domainErrors "github.com/cassiomorais/transfers/internal/domain/errors"
	"github.com/cassiomorais/transfers/internal/domain/webhook"
	"github.com/cassiomorais/transfers/internal/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// WebhookController handles webhook subscription management.
type WebhookController struct {
	subRepo webhook.SubscriptionRepository
	jobRepo webhook.JobRepository
}

// NewWebhookController creates a new WebhookController.
func NewWebhookController(subRepo webhook.SubscriptionRepository, jobRepo webhook.JobRepository) *WebhookController {
	return &WebhookController{subRepo: subRepo, jobRepo: jobRepo}
}

// Create handles POST /api/v1/webhooks.
func (h *WebhookController) Create(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := middleware.GetUserID(r.Context())
	if !ok {
		writeError(w, domainErrors.ErrUnauthorized)
		return
	}

	var req CreateSubscriptionRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	sub, err := webhook.NewSubscription(ownerID, req.URL, req.Secret, parseEventTypes(req.EventTypes))
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.subRepo.Create(r.Context(), sub); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, FromSubscription(sub))
}

// List handles GET /api/v1/webhooks.
func (h *WebhookController) List(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := middleware.GetUserID(r.Context())
	if !ok {
		writeError(w, domainErrors.ErrUnauthorized)
		return
	}

	subs, err := h.subRepo.ListByOwner(r.Context(), ownerID)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := make([]*SubscriptionResponse, 0, len(subs))
	for _, s := range subs {
		resp = append(resp, FromSubscription(s))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Get handles GET /api/v1/webhooks/{id}.
func (h *WebhookController) Get(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.ownedSubscription(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, FromSubscription(sub))
}

// Delete handles DELETE /api/v1/webhooks/{id}.
func (h *WebhookController) Delete(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.ownedSubscription(w, r)
	if !ok {
		return
	}

	if err := h.subRepo.Delete(r.Context(), sub.ID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListDeliveries handles GET /api/v1/webhooks/{id}/deliveries.
func (h *WebhookController) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.ownedSubscription(w, r)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	jobs, err := h.jobRepo.ListJobsBySubscription(r.Context(), sub.ID, limit)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := make([]*DeliveryJobResponse, 0, len(jobs))
	for _, j := range jobs {
		resp = append(resp, FromDeliveryJob(j))
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListDeliveryLogs handles GET /api/v1/webhooks/{id}/deliveries/{jobID}/logs.
func (h *WebhookController) ListDeliveryLogs(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.ownedSubscription(w, r)
	if !ok {
		return
	}

	jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid job id", Code: "invalid_id"})
		return
	}

	job, err := h.jobRepo.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, err)
		return
	}
	if job == nil || job.SubscriptionID != sub.ID {
		writeError(w, domainErrors.ErrDeliveryJobNotFound)
		return
	}

	logs, err := h.jobRepo.ListLogsByJob(r.Context(), jobID)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := make([]*DeliveryLogResponse, 0, len(logs))
	for _, l := range logs {
		resp = append(resp, FromDeliveryLog(l))
	}
	writeJSON(w, http.StatusOK, resp)
}

// ownedSubscription loads the subscription from the URL and enforces that the
// caller owns it. Foreign subscriptions read as not found.
func (h *WebhookController) ownedSubscription(w http.ResponseWriter, r *http.Request) (*webhook.Subscription, bool) {
	ownerID, ok := middleware.GetUserID(r.Context())
	if !ok {
		writeError(w, domainErrors.ErrUnauthorized)
		return nil, false
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid subscription id", Code: "invalid_id"})
		return nil, false
	}

	sub, err := h.subRepo.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	if sub == nil || sub.OwnerID != ownerID {
		writeError(w, domainErrors.ErrSubscriptionNotFound)
		return nil, false
	}
	return sub, true
}
