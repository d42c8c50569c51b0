package transaction

import (
	"fmt"
	"time"

	"github.com/cassiomorais/transfers/internal/domain/errors"
	"github.com/google/uuid"
)

// Status represents the transaction status in the saga state machine.
type Status string

const (
	StatusInitiated Status = "INITIATED"
	StatusDebited   Status = "DEBITED"
	StatusCredited  Status = "CREDITED"
	StatusCompleted Status = "COMPLETED"
	StatusRefunding Status = "REFUNDING"
	StatusRefunded  Status = "REFUNDED"
	StatusFailed    Status = "FAILED"
)

const maxDescriptionLen = 255

// Transaction represents one funds movement attempt between two accounts.
type Transaction struct {
	ID            uuid.UUID
	SenderID      string
	ReceiverID    string
	Amount        Amount
	Description   string
	Status        Status
	FailureReason *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Amount represents a monetary amount in the smallest currency unit (e.g. cents).
type Amount struct {
	ValueCents int64
	Currency   string
}

// String returns a human-readable representation of the amount.
func (a Amount) String() string {
	whole := a.ValueCents / 100
	frac := a.ValueCents % 100
	if frac < 0 {
		frac = -frac
	}
	return fmt.Sprintf("%d.%02d %s", whole, frac, a.Currency)
}

// Validate checks that the amount is valid.
func (a Amount) Validate() error {
	return validateAmount(a)
}

// NewTransaction creates a new transaction in INITIATED status.
func NewTransaction(senderID, receiverID string, amount Amount, description string) (*Transaction, error) {
	if senderID == "" {
		return nil, errors.NewValidationError("sender_id", "cannot be empty")
	}
	if receiverID == "" {
		return nil, errors.NewValidationError("receiver_id", "cannot be empty")
	}
	if senderID == receiverID {
		return nil, errors.ErrSelfTransfer
	}
	if err := validateAmount(amount); err != nil {
		return nil, err
	}
	if len(description) > maxDescriptionLen {
		return nil, errors.NewValidationError("description", "must be at most 255 characters")
	}

	now := time.Now()
	return &Transaction{
		ID:          uuid.New(),
		SenderID:    senderID,
		ReceiverID:  receiverID,
		Amount:      amount,
		Description: description,
		Status:      StatusInitiated,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// CanTransitionTo checks if the transaction can transition to the given status.
func (t *Transaction) CanTransitionTo(newStatus Status) bool {
	transitions := map[Status][]Status{
		StatusInitiated: {StatusDebited, StatusFailed},
		StatusDebited:   {StatusCredited, StatusRefunding},
		StatusCredited:  {StatusCompleted},
		StatusRefunding: {StatusRefunded, StatusFailed},
		StatusCompleted: {}, // Terminal state
		StatusRefunded:  {}, // Terminal state
		StatusFailed:    {}, // Terminal state
	}

	allowed, exists := transitions[t.Status]
	if !exists {
		return false
	}
	for _, s := range allowed {
		if s == newStatus {
			return true
		}
	}
	return false
}

// TransitionTo transitions the transaction to a new status.
func (t *Transaction) TransitionTo(newStatus Status) error {
	if !t.CanTransitionTo(newStatus) {
		return errors.NewDomainError(
			"invalid_transition",
			"cannot transition from "+string(t.Status)+" to "+string(newStatus),
			errors.ErrInvalidStateTransition,
		)
	}
	t.Status = newStatus
	t.UpdatedAt = time.Now()
	return nil
}

// MarkFailed transitions the transaction to FAILED with a reason.
func (t *Transaction) MarkFailed(reason string) error {
	if err := t.TransitionTo(StatusFailed); err != nil {
		return err
	}
	t.FailureReason = &reason
	return nil
}

// IsTerminal checks if the transaction is in a terminal state.
func (t *Transaction) IsTerminal() bool {
	return t.Status == StatusCompleted ||
		t.Status == StatusRefunded ||
		t.Status == StatusFailed
}

func validateAmount(amount Amount) error {
	if amount.ValueCents <= 0 {
		return errors.NewValidationError("amount", "must be greater than 0")
	}
	if len(amount.Currency) != 3 {
		return errors.NewValidationError("currency", "must be a 3-letter ISO code")
	}
	for _, r := range amount.Currency {
		if r < 'A' || r > 'Z' {
			return errors.NewValidationError("currency", "must be a 3-letter ISO code")
		}
	}
	return nil
}
