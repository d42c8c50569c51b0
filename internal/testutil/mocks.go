package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	domainErrors "github.com/cassiomorais/transfers/internal/domain/errors"
	"github.com/cassiomorais/transfers/internal/domain/event"
	"github.com/cassiomorais/transfers/internal/domain/transaction"
	"github.com/cassiomorais/transfers/internal/domain/webhook"
	"github.com/google/uuid"
)

// --- Transaction Repository Mock ---

// MockTransactionRepository is a map-backed implementation of
// transaction.Repository with the same CAS semantics as the real store.
type MockTransactionRepository struct {
	mu           sync.Mutex
	transactions map[uuid.UUID]*transaction.Transaction

	CreateFunc       func(ctx context.Context, t *transaction.Transaction) error
	GetByIDFunc      func(ctx context.Context, id uuid.UUID) (*transaction.Transaction, error)
	UpdateStatusFunc func(ctx context.Context, id uuid.UUID, expected, next transaction.Status, reason *string) error
}

func NewMockTransactionRepository() *MockTransactionRepository {
	return &MockTransactionRepository{
		transactions: make(map[uuid.UUID]*transaction.Transaction),
	}
}

func (m *MockTransactionRepository) Create(ctx context.Context, t *transaction.Transaction) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, t)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.transactions[t.ID] = &cp
	return nil
}

func (m *MockTransactionRepository) GetByID(ctx context.Context, id uuid.UUID) (*transaction.Transaction, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transactions[id]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (m *MockTransactionRepository) List(ctx context.Context, filter transaction.ListFilter) ([]*transaction.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*transaction.Transaction
	for _, t := range m.transactions {
		if filter.SenderID != "" && t.SenderID != filter.SenderID {
			continue
		}
		if filter.ReceiverID != "" && t.ReceiverID != filter.ReceiverID {
			continue
		}
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		cp := *t
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (m *MockTransactionRepository) UpdateStatus(
	ctx context.Context,
	id uuid.UUID,
	expected, next transaction.Status,
	reason *string,
) error {
	if m.UpdateStatusFunc != nil {
		return m.UpdateStatusFunc(ctx, id, expected, next, reason)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transactions[id]
	if !ok {
		return domainErrors.ErrTransactionNotFound
	}
	if t.Status != expected {
		return domainErrors.ErrStateConflict
	}
	t.Status = next
	if reason != nil {
		t.FailureReason = reason
	}
	t.UpdatedAt = time.Now()
	return nil
}

func (m *MockTransactionRepository) ListStuck(
	ctx context.Context,
	status transaction.Status,
	olderThan time.Duration,
	limit int,
) ([]*transaction.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	var result []*transaction.Transaction
	for _, t := range m.transactions {
		if t.Status != status || !t.UpdatedAt.Before(cutoff) {
			continue
		}
		cp := *t
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt.Before(result[j].UpdatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Status returns the stored status, bypassing Func overrides.
func (m *MockTransactionRepository) Status(id uuid.UUID) transaction.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.transactions[id]; ok {
		return t.Status
	}
	return ""
}

// Put seeds a transaction directly into the store.
func (m *MockTransactionRepository) Put(t *transaction.Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.transactions[t.ID] = &cp
}

// --- Ledger Store Mock ---

// MockLedgerStore is a map-backed ledger.Store. Like the real store, it is
// idempotent per (transaction, account, direction), which the saga crash-retry
// paths depend on.
type MockLedgerStore struct {
	mu       sync.Mutex
	balances map[string]int64
	applied  map[string]bool

	DebitFunc  func(ctx context.Context, accountID string, transactionID uuid.UUID, amountCents int64) (int64, error)
	CreditFunc func(ctx context.Context, accountID string, transactionID uuid.UUID, amountCents int64) (int64, error)
}

func NewMockLedgerStore() *MockLedgerStore {
	return &MockLedgerStore{
		balances: make(map[string]int64),
		applied:  make(map[string]bool),
	}
}

// SetBalance seeds a wallet.
func (m *MockLedgerStore) SetBalance(accountID string, balanceCents int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[accountID] = balanceCents
}

func entryKey(transactionID uuid.UUID, accountID, direction string) string {
	return fmt.Sprintf("%s|%s|%s", transactionID, accountID, direction)
}

func (m *MockLedgerStore) Debit(ctx context.Context, accountID string, transactionID uuid.UUID, amountCents int64) (int64, error) {
	if m.DebitFunc != nil {
		return m.DebitFunc(ctx, accountID, transactionID, amountCents)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	balance, ok := m.balances[accountID]
	if !ok {
		return 0, domainErrors.ErrWalletNotFound
	}
	key := entryKey(transactionID, accountID, "debit")
	if m.applied[key] {
		return balance, nil
	}
	if balance < amountCents {
		return 0, domainErrors.ErrInsufficientBalance
	}
	m.applied[key] = true
	m.balances[accountID] = balance - amountCents
	return m.balances[accountID], nil
}

func (m *MockLedgerStore) Credit(ctx context.Context, accountID string, transactionID uuid.UUID, amountCents int64) (int64, error) {
	if m.CreditFunc != nil {
		return m.CreditFunc(ctx, accountID, transactionID, amountCents)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := entryKey(transactionID, accountID, "credit")
	if m.applied[key] {
		return m.balances[accountID], nil
	}
	m.applied[key] = true
	m.balances[accountID] += amountCents
	return m.balances[accountID], nil
}

func (m *MockLedgerStore) Balance(ctx context.Context, accountID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	balance, ok := m.balances[accountID]
	if !ok {
		return 0, domainErrors.ErrWalletNotFound
	}
	return balance, nil
}

// --- Webhook Subscription Repository Mock ---

// MockSubscriptionRepository is a map-backed webhook.SubscriptionRepository.
type MockSubscriptionRepository struct {
	mu   sync.Mutex
	subs map[uuid.UUID]*webhook.Subscription

	GetByIDFunc             func(ctx context.Context, id uuid.UUID) (*webhook.Subscription, error)
	UpdateDeliveryStateFunc func(ctx context.Context, s *webhook.Subscription) error
}

func NewMockSubscriptionRepository() *MockSubscriptionRepository {
	return &MockSubscriptionRepository{subs: make(map[uuid.UUID]*webhook.Subscription)}
}

func (m *MockSubscriptionRepository) Create(ctx context.Context, s *webhook.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.subs[s.ID] = &cp
	return nil
}

func (m *MockSubscriptionRepository) GetByID(ctx context.Context, id uuid.UUID) (*webhook.Subscription, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *MockSubscriptionRepository) ListByOwner(ctx context.Context, ownerID string) ([]*webhook.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*webhook.Subscription
	for _, s := range m.subs {
		if s.OwnerID == ownerID {
			cp := *s
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (m *MockSubscriptionRepository) ListActiveForEvent(ctx context.Context, t event.Type) ([]*webhook.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*webhook.Subscription
	for _, s := range m.subs {
		if s.Active && s.Matches(t) {
			cp := *s
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (m *MockSubscriptionRepository) UpdateDeliveryState(ctx context.Context, s *webhook.Subscription) error {
	if m.UpdateDeliveryStateFunc != nil {
		return m.UpdateDeliveryStateFunc(ctx, s)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.subs[s.ID]
	if !ok {
		return domainErrors.ErrSubscriptionNotFound
	}
	stored.Active = s.Active
	stored.ConsecutiveFailures = s.ConsecutiveFailures
	stored.UpdatedAt = s.UpdatedAt
	return nil
}

func (m *MockSubscriptionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs, id)
	return nil
}

// Stored returns the stored subscription, bypassing Func overrides.
func (m *MockSubscriptionRepository) Stored(id uuid.UUID) *webhook.Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.subs[id]; ok {
		cp := *s
		return &cp
	}
	return nil
}

// --- Webhook Job Repository Mock ---

// MockJobRepository is a map-backed webhook.JobRepository with the same
// (subscription, transaction, event type) dedup as the real store.
type MockJobRepository struct {
	mu    sync.Mutex
	jobs  map[uuid.UUID]*webhook.DeliveryJob
	dedup map[string]bool
	logs  map[uuid.UUID][]*webhook.DeliveryLog

	CreateJobFunc func(ctx context.Context, j *webhook.DeliveryJob) (bool, error)
	GetJobFunc    func(ctx context.Context, id uuid.UUID) (*webhook.DeliveryJob, error)
	UpdateJobFunc func(ctx context.Context, j *webhook.DeliveryJob) error
}

func NewMockJobRepository() *MockJobRepository {
	return &MockJobRepository{
		jobs:  make(map[uuid.UUID]*webhook.DeliveryJob),
		dedup: make(map[string]bool),
		logs:  make(map[uuid.UUID][]*webhook.DeliveryLog),
	}
}

func (m *MockJobRepository) CreateJob(ctx context.Context, j *webhook.DeliveryJob) (bool, error) {
	if m.CreateJobFunc != nil {
		return m.CreateJobFunc(ctx, j)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := fmt.Sprintf("%s|%s|%s", j.SubscriptionID, j.TransactionID, j.EventType)
	if m.dedup[key] {
		return false, nil
	}
	m.dedup[key] = true
	cp := *j
	m.jobs[j.ID] = &cp
	return true, nil
}

func (m *MockJobRepository) GetJob(ctx context.Context, id uuid.UUID) (*webhook.DeliveryJob, error) {
	if m.GetJobFunc != nil {
		return m.GetJobFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, nil
	}
	cp := *j
	return &cp, nil
}

func (m *MockJobRepository) UpdateJob(ctx context.Context, j *webhook.DeliveryJob) error {
	if m.UpdateJobFunc != nil {
		return m.UpdateJobFunc(ctx, j)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[j.ID]; !ok {
		return domainErrors.ErrDeliveryJobNotFound
	}
	cp := *j
	m.jobs[j.ID] = &cp
	return nil
}

func (m *MockJobRepository) ListJobsBySubscription(ctx context.Context, subscriptionID uuid.UUID, limit int) ([]*webhook.DeliveryJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*webhook.DeliveryJob
	for _, j := range m.jobs {
		if j.SubscriptionID == subscriptionID {
			cp := *j
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MockJobRepository) AddLog(ctx context.Context, l *webhook.DeliveryLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *l
	m.logs[l.JobID] = append(m.logs[l.JobID], &cp)
	return nil
}

func (m *MockJobRepository) ListLogsByJob(ctx context.Context, jobID uuid.UUID) ([]*webhook.DeliveryLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	logs := m.logs[jobID]
	result := make([]*webhook.DeliveryLog, len(logs))
	for i, l := range logs {
		cp := *l
		result[i] = &cp
	}
	return result, nil
}

// StoredJob returns the stored job, bypassing Func overrides.
func (m *MockJobRepository) StoredJob(id uuid.UUID) *webhook.DeliveryJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[id]; ok {
		cp := *j
		return &cp
	}
	return nil
}
