package main

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/careforall/donation-platform/common/cache"
	"github.com/careforall/donation-platform/common/money"
)

type fakeStore struct {
	donations map[uuid.UUID]*Donation
	created   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{donations: map[uuid.UUID]*Donation{}}
}

func (f *fakeStore) Create(_ context.Context, d *Donation) error {
	f.created++
	d.Version = 1
	d.CreatedAt = time.Now().UTC()
	d.UpdatedAt = d.CreatedAt
	copied := *d
	f.donations[d.ID] = &copied
	return nil
}

func (f *fakeStore) Get(_ context.Context, id uuid.UUID) (*Donation, error) {
	d, ok := f.donations[id]
	if !ok {
		return nil, ErrDonationNotFound
	}
	copied := *d
	return &copied, nil
}

func (f *fakeStore) History(_ context.Context, email string, _, _ int) ([]*Donation, error) {
	var out []*Donation
	for _, d := range f.donations {
		if d.DonorEmail == email {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateStatus(_ context.Context, id uuid.UUID, status string, intentID *string) (*Donation, error) {
	d, ok := f.donations[id]
	if !ok {
		return nil, ErrDonationNotFound
	}
	if d.Status != StatusPending && d.Status != status {
		return nil, ErrTerminalStatus
	}
	d.Status = status
	if intentID != nil {
		d.PaymentIntentID = intentID
	}
	d.Version++
	d.UpdatedAt = time.Now().UTC()
	copied := *d
	return &copied, nil
}

type fakeReadCache struct {
	data map[string][]byte
	gets int
	dels int
}

func newFakeReadCache() *fakeReadCache {
	return &fakeReadCache{data: map[string][]byte{}}
}

func (f *fakeReadCache) Get(_ context.Context, key string) ([]byte, error) {
	f.gets++
	v, ok := f.data[key]
	if !ok {
		return nil, cache.ErrMiss
	}
	return v, nil
}

func (f *fakeReadCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	f.data[key] = value
	return nil
}

func (f *fakeReadCache) Del(_ context.Context, key string) error {
	f.dels++
	delete(f.data, key)
	return nil
}

func newTestService(store DonationStore, rc ReadCache) *service {
	return NewService(store, rc, decimal.RequireFromString("1000000.00"), zap.NewNop())
}

func TestCreateDonationValidation(t *testing.T) {
	svc := newTestService(newFakeStore(), newFakeReadCache())
	base := CreateDonationRequest{
		CampaignID: uuid.New(),
		DonorEmail: "donor@example.com",
		Amount:     "100.00",
		Currency:   "USD",
	}

	tests := []struct {
		name    string
		mutate  func(*CreateDonationRequest)
		wantErr error
	}{
		{"zero amount", func(r *CreateDonationRequest) { r.Amount = "0" }, money.ErrNotPositive},
		{"negative amount", func(r *CreateDonationRequest) { r.Amount = "-5.00" }, money.ErrNotPositive},
		{"over limit", func(r *CreateDonationRequest) { r.Amount = "1000000.01" }, money.ErrExceedsLimit},
		{"three decimals", func(r *CreateDonationRequest) { r.Amount = "1.005" }, money.ErrTooManyDecimals},
		{"garbage amount", func(r *CreateDonationRequest) { r.Amount = "ten" }, money.ErrInvalidAmount},
		{"bad currency", func(r *CreateDonationRequest) { r.Currency = "dollars" }, money.ErrInvalidCurrency},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := base
			tt.mutate(&req)
			_, err := svc.CreateDonation(context.Background(), req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCreateDonationDefaults(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, newFakeReadCache())

	donation, err := svc.CreateDonation(context.Background(), CreateDonationRequest{
		CampaignID: uuid.New(),
		DonorEmail: "donor@example.com",
		Amount:     "100.00",
	})
	require.NoError(t, err)

	assert.Equal(t, StatusPending, donation.Status)
	assert.Equal(t, "USD", donation.Currency)
	assert.Equal(t, 1, donation.Version)
	assert.Equal(t, 1, store.created)
	assert.True(t, donation.Amount.Equal(decimal.RequireFromString("100.00")))
}

func TestGetDonationCachesReads(t *testing.T) {
	store := newFakeStore()
	rc := newFakeReadCache()
	svc := newTestService(store, rc)

	created, err := svc.CreateDonation(context.Background(), CreateDonationRequest{
		CampaignID: uuid.New(),
		DonorEmail: "donor@example.com",
		Amount:     "25.00",
	})
	require.NoError(t, err)

	first, err := svc.GetDonation(context.Background(), created.ID)
	require.NoError(t, err)

	// Second read is a cache hit; mutate the store copy to prove it.
	store.donations[created.ID].DonorEmail = "someone-else@example.com"
	second, err := svc.GetDonation(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, first.DonorEmail, second.DonorEmail)
}

func TestUpdateStatusInvalidatesCacheAndRejectsTerminal(t *testing.T) {
	store := newFakeStore()
	rc := newFakeReadCache()
	svc := newTestService(store, rc)

	created, err := svc.CreateDonation(context.Background(), CreateDonationRequest{
		CampaignID: uuid.New(),
		DonorEmail: "donor@example.com",
		Amount:     "25.00",
	})
	require.NoError(t, err)

	_, err = svc.GetDonation(context.Background(), created.ID)
	require.NoError(t, err)

	intentID := "pi_abc123"
	updated, err := svc.UpdateStatus(context.Background(), created.ID, UpdateStatusRequest{
		Status:          StatusCompleted,
		PaymentIntentID: &intentID,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, updated.Status)
	assert.Equal(t, 2, updated.Version)
	assert.Equal(t, 1, rc.dels)

	// COMPLETED is terminal.
	_, err = svc.UpdateStatus(context.Background(), created.ID, UpdateStatusRequest{Status: StatusFailed})
	assert.ErrorIs(t, err, ErrTerminalStatus)

	_, err = svc.UpdateStatus(context.Background(), created.ID, UpdateStatusRequest{Status: "SHIPPED"})
	assert.ErrorIs(t, err, ErrUnknownStatus)
}
