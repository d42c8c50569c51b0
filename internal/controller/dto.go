package controller

import (
	"math"
	"time"

	domainErrors "github.com/cassiomorais/transfers/internal/domain/errors"
	"github.com/cassiomorais/transfers/internal/domain/event"
	"github.com/cassiomorais/transfers/internal/domain/transaction"
	"github.com/cassiomorais/transfers/internal/domain/webhook"
	"github.com/shopspring/decimal"
)

// --- Request DTOs ---
// Amounts cross the wire as decimal strings ("10.50") and are converted to
// integer cents at the boundary. Controllers never hand floats to the domain.

// TransferRequest holds the input for initiating a transfer.
type TransferRequest struct {
	ReceiverID  string `json:"receiver_id" validate:"required"`
	Amount      string `json:"amount" validate:"required"`
	Currency    string `json:"currency" validate:"required,len=3"`
	Description string `json:"description" validate:"max=255"`
}

// CreateSubscriptionRequest holds the input for registering a webhook
// subscription.
type CreateSubscriptionRequest struct {
	URL        string   `json:"url" validate:"required,url"`
	Secret     string   `json:"secret" validate:"required,min=16"`
	EventTypes []string `json:"event_types" validate:"required,min=1"`
}

// --- Response DTOs ---

// TransactionResponse represents a transaction in API responses.
type TransactionResponse struct {
	ID            string    `json:"id"`
	SenderID      string    `json:"sender_id"`
	ReceiverID    string    `json:"receiver_id"`
	Amount        string    `json:"amount"`
	Currency      string    `json:"currency"`
	Description   string    `json:"description,omitempty"`
	Status        string    `json:"status"`
	FailureReason *string   `json:"failure_reason,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// BalanceResponse represents a wallet balance.
type BalanceResponse struct {
	AccountID string `json:"account_id"`
	Balance   string `json:"balance"`
}

// SubscriptionResponse represents a webhook subscription in API responses.
// The signing secret is write-only and never echoed back.
type SubscriptionResponse struct {
	ID                  string    `json:"id"`
	URL                 string    `json:"url"`
	EventTypes          []string  `json:"event_types"`
	Active              bool      `json:"active"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// DeliveryJobResponse represents a delivery job in API responses.
type DeliveryJobResponse struct {
	ID             string    `json:"id"`
	SubscriptionID string    `json:"subscription_id"`
	TransactionID  string    `json:"transaction_id"`
	EventType      string    `json:"event_type"`
	Status         string    `json:"status"`
	Attempts       int       `json:"attempts"`
	LastError      *string   `json:"last_error,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// DeliveryLogResponse represents one delivery attempt in API responses.
type DeliveryLogResponse struct {
	Attempt      int       `json:"attempt"`
	HTTPStatus   *int      `json:"http_status,omitempty"`
	ResponseBody string    `json:"response_body,omitempty"`
	Error        *string   `json:"error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// --- Conversion helpers ---

// FromTransaction converts a domain transaction to API response.
func FromTransaction(t *transaction.Transaction) *TransactionResponse {
	return &TransactionResponse{
		ID:            t.ID.String(),
		SenderID:      t.SenderID,
		ReceiverID:    t.ReceiverID,
		Amount:        centsToDecimal(t.Amount.ValueCents),
		Currency:      t.Amount.Currency,
		Description:   t.Description,
		Status:        string(t.Status),
		FailureReason: t.FailureReason,
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
	}
}

// FromSubscription converts a domain subscription to API response.
func FromSubscription(s *webhook.Subscription) *SubscriptionResponse {
	types := make([]string, len(s.EventTypes))
	for i, t := range s.EventTypes {
		types[i] = string(t)
	}
	return &SubscriptionResponse{
		ID:                  s.ID.String(),
		URL:                 s.URL,
		EventTypes:          types,
		Active:              s.Active,
		ConsecutiveFailures: s.ConsecutiveFailures,
		CreatedAt:           s.CreatedAt,
		UpdatedAt:           s.UpdatedAt,
	}
}

// FromDeliveryJob converts a domain delivery job to API response.
func FromDeliveryJob(j *webhook.DeliveryJob) *DeliveryJobResponse {
	return &DeliveryJobResponse{
		ID:             j.ID.String(),
		SubscriptionID: j.SubscriptionID.String(),
		TransactionID:  j.TransactionID.String(),
		EventType:      string(j.EventType),
		Status:         string(j.Status),
		Attempts:       j.Attempts,
		LastError:      j.LastError,
		CreatedAt:      j.CreatedAt,
		UpdatedAt:      j.UpdatedAt,
	}
}

// FromDeliveryLog converts a domain delivery log to API response.
func FromDeliveryLog(l *webhook.DeliveryLog) *DeliveryLogResponse {
	return &DeliveryLogResponse{
		Attempt:      l.Attempt,
		HTTPStatus:   l.HTTPStatus,
		ResponseBody: l.ResponseBody,
		Error:        l.Error,
		CreatedAt:    l.CreatedAt,
	}
}

// maxAmount is the largest amount representable as int64 cents. IntPart
// silently truncates beyond that, so the bound is checked before shifting.
var maxAmount = decimal.New(math.MaxInt64, -2)

// parseAmountCents converts a decimal amount string to integer cents. Amounts
// must be positive and carry at most two fractional digits.
func parseAmountCents(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, domainErrors.NewValidationError("amount", "not a valid decimal number")
	}
	if !d.IsPositive() {
		return 0, domainErrors.NewValidationError("amount", "must be greater than zero")
	}
	if d.Exponent() < -2 {
		return 0, domainErrors.NewValidationError("amount", "at most two decimal places allowed")
	}
	if d.GreaterThan(maxAmount) {
		return 0, domainErrors.NewValidationError("amount", "exceeds the maximum supported amount")
	}
	return d.Shift(2).IntPart(), nil
}

// centsToDecimal renders integer cents as a decimal amount string.
func centsToDecimal(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}

func parseEventTypes(raw []string) []event.Type {
	types := make([]event.Type, len(raw))
	for i, t := range raw {
		types[i] = event.Type(t)
	}
	return types
}
