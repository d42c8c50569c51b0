package webhook_test

import (
	"testing"

	"github.com/cassiomorais/transfers/internal/domain/event"
	"github.com/cassiomorais/transfers/internal/domain/webhook"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSubscription_Valid(t *testing.T) {
	s, err := webhook.NewSubscription("owner-1", "https://example.com/hook", "s3cret-s3cret-s3cret",
		[]event.Type{event.TransactionCompleted, event.TransactionFailed})
	require.NoError(t, err)
	assert.True(t, s.Active)
	assert.Equal(t, 0, s.ConsecutiveFailures)
	assert.True(t, s.Matches(event.TransactionCompleted))
	assert.False(t, s.Matches(event.RefundCompleted))
}

func TestNewSubscription_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		ownerID string
		url     string
		secret  string
		types   []event.Type
	}{
		{"empty owner", "", "https://example.com", "secret", event.TerminalTypes()},
		{"empty url", "o", "", "secret", event.TerminalTypes()},
		{"empty secret", "o", "https://example.com", "", event.TerminalTypes()},
		{"no types", "o", "https://example.com", "secret", nil},
		{"non-terminal type", "o", "https://example.com", "secret", []event.Type{event.DebitSuccess}},
		{"unknown type", "o", "https://example.com", "secret", []event.Type{"bogus.event"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := webhook.NewSubscription(tt.ownerID, tt.url, tt.secret, tt.types)
			assert.Error(t, err)
		})
	}
}

func TestSubscription_RecordFailure_CircuitBreaks(t *testing.T) {
	s, err := webhook.NewSubscription("o", "https://example.com", "secret", event.TerminalTypes())
	require.NoError(t, err)

	for i := 0; i < 9; i++ {
		broken := s.RecordFailure(10)
		assert.False(t, broken)
		assert.True(t, s.Active)
	}

	broken := s.RecordFailure(10)
	assert.True(t, broken)
	assert.False(t, s.Active)
	assert.Equal(t, 10, s.ConsecutiveFailures)

	// Further failures no longer report a fresh break.
	assert.False(t, s.RecordFailure(10))
}

func TestSubscription_RecordSuccess_ResetsCounter(t *testing.T) {
	s, err := webhook.NewSubscription("o", "https://example.com", "secret", event.TerminalTypes())
	require.NoError(t, err)

	s.RecordFailure(10)
	s.RecordFailure(10)
	s.RecordSuccess()
	assert.Equal(t, 0, s.ConsecutiveFailures)
	assert.True(t, s.Active)
}

func TestNewDeliveryJob_SnapshotsPayload(t *testing.T) {
	evt := event.Event{
		Type:          event.TransactionCompleted,
		TransactionID: uuid.New(),
		SenderID:      "alice",
		ReceiverID:    "bob",
		AmountCents:   5000,
		Currency:      "USD",
	}
	subID := uuid.New()

	j := webhook.NewDeliveryJob(subID, evt)
	assert.Equal(t, webhook.JobPending, j.Status)
	assert.Equal(t, subID, j.SubscriptionID)
	assert.Equal(t, evt.TransactionID, j.TransactionID)
	assert.Equal(t, 0, j.Attempts)
	assert.Equal(t, "alice", j.Payload["sender_id"])
	assert.Equal(t, int64(5000), j.Payload["amount_cents"])
}

func TestDeliveryJob_Lifecycle(t *testing.T) {
	j := webhook.NewDeliveryJob(uuid.New(), event.Event{Type: event.TransactionCompleted, TransactionID: uuid.New()})

	j.MarkRetrying("connection refused")
	assert.Equal(t, webhook.JobRetrying, j.Status)
	assert.Equal(t, 1, j.Attempts)
	require.NotNil(t, j.LastError)

	j.MarkSuccess()
	assert.Equal(t, webhook.JobSuccess, j.Status)
	assert.Equal(t, 2, j.Attempts)
	assert.Nil(t, j.LastError)
}

func TestDeliveryJob_MarkFailed(t *testing.T) {
	j := webhook.NewDeliveryJob(uuid.New(), event.Event{Type: event.TransactionFailed, TransactionID: uuid.New()})

	j.MarkFailed("attempts exhausted")
	assert.Equal(t, webhook.JobFailed, j.Status)
	assert.Equal(t, 0, j.Attempts)
	require.NotNil(t, j.LastError)
	assert.Equal(t, "attempts exhausted", *j.LastError)
}
