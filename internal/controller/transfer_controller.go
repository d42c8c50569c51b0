package controller

import (
	"net/http"
	"strconv"

	"github.com/cassiomorais/transfers/internal/application/transfer"
	domainErrors "github.com/cassiomorais/transfers/internal/domain/errors"
	"github.com/cassiomorais/transfers/internal/domain/ledger"
	"github.com/cassiomorais/transfers/internal/domain/transaction"
	"github.com/cassiomorais/transfers/internal/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// TransferController handles transfer-related HTTP requests.
type TransferController struct {
	orchestrator *transfer.Orchestrator
	txRepo       transaction.Repository
	ledger       ledger.Store
}

// NewTransferController creates a new TransferController.
func NewTransferController(
	orchestrator *transfer.Orchestrator,
	txRepo transaction.Repository,
	ledgerStore ledger.Store,
) *TransferController {
	return &TransferController{
		orchestrator: orchestrator,
		txRepo:       txRepo,
		ledger:       ledgerStore,
	}
}

// Create handles POST /api/v1/transfers. The authenticated caller is the
// sender; the transfer completes asynchronously, so 202 is returned with the
// transaction in INITIATED.
func (h *TransferController) Create(w http.ResponseWriter, r *http.Request) {
	senderID, ok := middleware.GetUserID(r.Context())
	if !ok {
		writeError(w, domainErrors.ErrUnauthorized)
		return
	}

	var req TransferRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	amountCents, err := parseAmountCents(req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}

	tx, err := h.orchestrator.Initiate(r.Context(), transfer.InitiateRequest{
		SenderID:    senderID,
		ReceiverID:  req.ReceiverID,
		AmountCents: amountCents,
		Currency:    req.Currency,
		Description: req.Description,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, FromTransaction(tx))
}

// Get handles GET /api/v1/transfers/{id}. Only participants can see a
// transaction.
func (h *TransferController) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		writeError(w, domainErrors.ErrUnauthorized)
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid transaction id", Code: "invalid_id"})
		return
	}

	tx, err := h.txRepo.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if tx == nil {
		writeError(w, domainErrors.ErrTransactionNotFound)
		return
	}
	if tx.SenderID != userID && tx.ReceiverID != userID {
		writeError(w, domainErrors.ErrForbidden)
		return
	}

	writeJSON(w, http.StatusOK, FromTransaction(tx))
}

// List handles GET /api/v1/transfers. Results are restricted to transfers the
// caller sent or received.
func (h *TransferController) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		writeError(w, domainErrors.ErrUnauthorized)
		return
	}

	filter := transaction.ListFilter{}
	switch r.URL.Query().Get("direction") {
	case "sent":
		filter.SenderID = userID
	case "received":
		filter.ReceiverID = userID
	default:
		filter.SenderID = userID
	}
	if s := r.URL.Query().Get("status"); s != "" {
		filter.Status = transaction.Status(s)
	}
	filter.Limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	filter.Offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))

	txs, err := h.txRepo.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := make([]*TransactionResponse, 0, len(txs))
	for _, tx := range txs {
		resp = append(resp, FromTransaction(tx))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Balance handles GET /api/v1/wallet/balance for the authenticated caller.
func (h *TransferController) Balance(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		writeError(w, domainErrors.ErrUnauthorized)
		return
	}

	balance, err := h.ledger.Balance(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, BalanceResponse{
		AccountID: userID,
		Balance:   centsToDecimal(balance),
	})
}
