package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/careforall/donation-platform/common/events"
)

type dedupKey struct {
	donationID uuid.UUID
	eventType  string
}

type fakeNotificationStore struct {
	byID  map[uuid.UUID]*Notification
	byKey map[dedupKey]*Notification
}

func newFakeNotificationStore() *fakeNotificationStore {
	return &fakeNotificationStore{
		byID:  map[uuid.UUID]*Notification{},
		byKey: map[dedupKey]*Notification{},
	}
}

func (f *fakeNotificationStore) Create(_ context.Context, n *Notification) error {
	key := dedupKey{n.DonationID, n.EventType}
	if _, exists := f.byKey[key]; exists {
		return ErrAlreadyNotified
	}
	n.CreatedAt = time.Now().UTC()
	f.byID[n.ID] = n
	f.byKey[key] = n
	return nil
}

func (f *fakeNotificationStore) FindByEvent(_ context.Context, donationID uuid.UUID, eventType string) (*Notification, error) {
	n, ok := f.byKey[dedupKey{donationID, eventType}]
	if !ok {
		return nil, ErrNotificationNotFound
	}
	return n, nil
}

func (f *fakeNotificationStore) MarkResult(_ context.Context, id uuid.UUID, status string, sentAt *time.Time) error {
	n, ok := f.byID[id]
	if !ok {
		return ErrNotificationNotFound
	}
	n.Status = status
	n.SentAt = sentAt
	if status == StatusFailed {
		n.RetryCount++
	}
	return nil
}

func (f *fakeNotificationStore) Get(_ context.Context, id uuid.UUID) (*Notification, error) {
	n, ok := f.byID[id]
	if !ok {
		return nil, ErrNotificationNotFound
	}
	return n, nil
}

func (f *fakeNotificationStore) List(_ context.Context, recipient string, _, _ int) ([]*Notification, error) {
	var out []*Notification
	for _, n := range f.byID {
		if n.Recipient == recipient {
			out = append(out, n)
		}
	}
	return out, nil
}

type fakeSender struct {
	sent []string
	fail bool
}

func (f *fakeSender) Send(_ context.Context, recipient, _ string, _ map[string]any) error {
	if f.fail {
		return errors.New("smtp unavailable")
	}
	f.sent = append(f.sent, recipient)
	return nil
}

func donationPayload() DonationPayload {
	return DonationPayload{
		ID:         uuid.New(),
		DonorEmail: "donor@example.com",
		Amount:     "25.00",
		Currency:   "USD",
		Status:     "COMPLETED",
	}
}

func TestProcessDonationEventSends(t *testing.T) {
	store := newFakeNotificationStore()
	sender := &fakeSender{}
	svc := NewService(store, sender, zap.NewNop())

	n, err := svc.ProcessDonationEvent(context.Background(), events.DonationCreated, donationPayload())
	require.NoError(t, err)
	assert.Equal(t, StatusSent, n.Status)
	assert.NotNil(t, n.SentAt)
	assert.Equal(t, "donation_confirmation", n.TemplateID)
	assert.Equal(t, []string{"donor@example.com"}, sender.sent)
}

func TestDuplicateDeliveryDoesNotResend(t *testing.T) {
	store := newFakeNotificationStore()
	sender := &fakeSender{}
	svc := NewService(store, sender, zap.NewNop())
	payload := donationPayload()

	_, err := svc.ProcessDonationEvent(context.Background(), events.DonationCreated, payload)
	require.NoError(t, err)

	_, err = svc.ProcessDonationEvent(context.Background(), events.DonationCreated, payload)
	assert.ErrorIs(t, err, ErrAlreadyNotified)
	assert.Len(t, sender.sent, 1, "duplicate delivery must not send twice")
}

func TestDistinctEventKindsEachNotify(t *testing.T) {
	store := newFakeNotificationStore()
	sender := &fakeSender{}
	svc := NewService(store, sender, zap.NewNop())
	payload := donationPayload()

	_, err := svc.ProcessDonationEvent(context.Background(), events.DonationCreated, payload)
	require.NoError(t, err)

	completed := events.StatusEvent(events.DonationStatusChanged, "COMPLETED")
	n, err := svc.ProcessDonationEvent(context.Background(), completed, payload)
	require.NoError(t, err)
	assert.Equal(t, "donation_completed", n.TemplateID)
	assert.Len(t, sender.sent, 2)
}

func TestSendFailureMarksFailed(t *testing.T) {
	store := newFakeNotificationStore()
	sender := &fakeSender{fail: true}
	svc := NewService(store, sender, zap.NewNop())

	_, err := svc.ProcessDonationEvent(context.Background(), events.DonationCreated, donationPayload())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrAlreadyNotified)

	for _, n := range store.byID {
		assert.Equal(t, StatusFailed, n.Status)
		assert.Equal(t, 1, n.RetryCount)
	}
}

func TestRedeliveryAfterSendFailureRetries(t *testing.T) {
	store := newFakeNotificationStore()
	sender := &fakeSender{fail: true}
	svc := NewService(store, sender, zap.NewNop())
	payload := donationPayload()

	_, err := svc.ProcessDonationEvent(context.Background(), events.DonationCreated, payload)
	require.Error(t, err)
	require.Empty(t, sender.sent)

	// Broker redelivery after the sender recovers must resume the
	// FAILED row, not treat it as an already-sent duplicate.
	sender.fail = false
	n, err := svc.ProcessDonationEvent(context.Background(), events.DonationCreated, payload)
	require.NoError(t, err)
	assert.Equal(t, StatusSent, n.Status)
	assert.Equal(t, []string{"donor@example.com"}, sender.sent)
	assert.Len(t, store.byID, 1, "retry must reuse the original row")
}

func TestProcessDonationEventRejectsIncompletePayload(t *testing.T) {
	svc := NewService(newFakeNotificationStore(), &fakeSender{}, zap.NewNop())

	_, err := svc.ProcessDonationEvent(context.Background(), events.DonationCreated, DonationPayload{})
	assert.Error(t, err)
}
