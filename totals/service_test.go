package main

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/careforall/donation-platform/common/cache"
	"github.com/careforall/donation-platform/common/metrics"
)

// promauto registers into the default registry, so metrics are shared
// across tests in this package.
var cacheTestMetrics = metrics.NewCacheMetrics("totals_test")

type fakeAggregateStore struct {
	snapshots  map[uuid.UUID]*Totals
	base       map[uuid.UUID]*Totals
	campaigns  map[uuid.UUID]uuid.UUID // donation -> campaign
	recounts   int
	refreshes  int
	recountErr error
	refreshErr error
}

func newFakeAggregateStore() *fakeAggregateStore {
	return &fakeAggregateStore{
		snapshots: map[uuid.UUID]*Totals{},
		base:      map[uuid.UUID]*Totals{},
		campaigns: map[uuid.UUID]uuid.UUID{},
	}
}

func (f *fakeAggregateStore) FromSnapshot(_ context.Context, id uuid.UUID) (*Totals, error) {
	t, ok := f.snapshots[id]
	if !ok {
		return nil, ErrNoSnapshot
	}
	copied := *t
	copied.DataSource = SourceSnapshot
	copied.CacheAgeSeconds = time.Since(t.LastUpdated).Seconds()
	return &copied, nil
}

func (f *fakeAggregateStore) Recount(_ context.Context, id uuid.UUID) (*Totals, error) {
	f.recounts++
	if f.recountErr != nil {
		return nil, f.recountErr
	}
	t, ok := f.base[id]
	if !ok {
		return &Totals{CampaignID: id, TotalAmount: decimal.Zero,
			LastUpdated: time.Now().UTC(), DataSource: SourceAuthoritative}, nil
	}
	copied := *t
	copied.DataSource = SourceAuthoritative
	copied.CacheAgeSeconds = 0
	return &copied, nil
}

func (f *fakeAggregateStore) RefreshSnapshot(context.Context) error {
	f.refreshes++
	return f.refreshErr
}

func (f *fakeAggregateStore) ResolveCampaign(_ context.Context, donationID uuid.UUID) (uuid.UUID, error) {
	campaignID, ok := f.campaigns[donationID]
	if !ok {
		return uuid.Nil, errors.New("donation not found")
	}
	return campaignID, nil
}

type fakeHotCache struct {
	data map[string][]byte
	down bool
}

func newFakeHotCache() *fakeHotCache {
	return &fakeHotCache{data: map[string][]byte{}}
}

func (f *fakeHotCache) Get(_ context.Context, key string) ([]byte, error) {
	if f.down {
		return nil, errors.New("connection refused")
	}
	v, ok := f.data[key]
	if !ok {
		return nil, cache.ErrMiss
	}
	return v, nil
}

func (f *fakeHotCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	if f.down {
		return errors.New("connection refused")
	}
	f.data[key] = value
	return nil
}

func (f *fakeHotCache) Del(_ context.Context, key string) error {
	if f.down {
		return errors.New("connection refused")
	}
	delete(f.data, key)
	return nil
}

func seedTotals(campaignID uuid.UUID, donations int64, amount string) *Totals {
	return &Totals{
		CampaignID:     campaignID,
		TotalDonations: donations,
		TotalAmount:    decimal.RequireFromString(amount),
		UniqueDonors:   donations,
		LastUpdated:    time.Now().UTC().Add(-10 * time.Second),
	}
}

func TestGetTotalsHotCacheHit(t *testing.T) {
	store := newFakeAggregateStore()
	hot := newFakeHotCache()
	svc := NewService(store, hot, cacheTestMetrics, zap.NewNop())
	campaignID := uuid.New()

	cached := seedTotals(campaignID, 3, "75.00")
	cached.DataSource = SourceHot
	data, err := json.Marshal(cached)
	require.NoError(t, err)
	hot.data[cacheKey(campaignID)] = data

	got, err := svc.GetTotals(context.Background(), campaignID, false)
	require.NoError(t, err)
	assert.Equal(t, SourceHot, got.DataSource)
	assert.Equal(t, 0, store.recounts, "hot hit must not touch the database")
}

func TestGetTotalsSnapshotPopulatesHot(t *testing.T) {
	store := newFakeAggregateStore()
	hot := newFakeHotCache()
	svc := NewService(store, hot, cacheTestMetrics, zap.NewNop())
	campaignID := uuid.New()
	store.snapshots[campaignID] = seedTotals(campaignID, 5, "250.00")

	got, err := svc.GetTotals(context.Background(), campaignID, false)
	require.NoError(t, err)
	assert.Equal(t, SourceSnapshot, got.DataSource)
	assert.Greater(t, got.CacheAgeSeconds, 0.0)
	assert.Contains(t, hot.data, cacheKey(campaignID))
	assert.Equal(t, 0, store.recounts)
}

func TestGetTotalsFallsBackToRecount(t *testing.T) {
	store := newFakeAggregateStore()
	hot := newFakeHotCache()
	svc := NewService(store, hot, cacheTestMetrics, zap.NewNop())
	campaignID := uuid.New()
	store.base[campaignID] = seedTotals(campaignID, 2, "20.00")

	got, err := svc.GetTotals(context.Background(), campaignID, false)
	require.NoError(t, err)
	assert.Equal(t, SourceAuthoritative, got.DataSource)
	assert.Equal(t, 1, store.recounts)
	assert.Contains(t, hot.data, cacheKey(campaignID))
}

func TestGetTotalsRealtimeBypassesCaches(t *testing.T) {
	store := newFakeAggregateStore()
	hot := newFakeHotCache()
	svc := NewService(store, hot, cacheTestMetrics, zap.NewNop())
	campaignID := uuid.New()

	// Fresher data in the base table than in either cache tier.
	store.snapshots[campaignID] = seedTotals(campaignID, 5, "250.00")
	store.base[campaignID] = seedTotals(campaignID, 6, "300.00")
	stale := seedTotals(campaignID, 4, "200.00")
	data, _ := json.Marshal(stale)
	hot.data[cacheKey(campaignID)] = data

	got, err := svc.GetTotals(context.Background(), campaignID, true)
	require.NoError(t, err)
	assert.Equal(t, SourceAuthoritative, got.DataSource)
	assert.Equal(t, int64(6), got.TotalDonations)
	// Real-time reads never repopulate the hot tier.
	assert.JSONEq(t, string(data), string(hot.data[cacheKey(campaignID)]))
}

func TestGetTotalsDegradesWhenCacheDown(t *testing.T) {
	store := newFakeAggregateStore()
	hot := newFakeHotCache()
	hot.down = true
	svc := NewService(store, hot, cacheTestMetrics, zap.NewNop())
	campaignID := uuid.New()
	store.snapshots[campaignID] = seedTotals(campaignID, 5, "250.00")

	got, err := svc.GetTotals(context.Background(), campaignID, false)
	require.NoError(t, err)
	assert.Equal(t, SourceSnapshot, got.DataSource)
}

func TestInvalidateByDonation(t *testing.T) {
	store := newFakeAggregateStore()
	hot := newFakeHotCache()
	svc := NewService(store, hot, cacheTestMetrics, zap.NewNop())

	campaignID := uuid.New()
	donationID := uuid.New()
	store.campaigns[donationID] = campaignID
	hot.data[cacheKey(campaignID)] = []byte(`{}`)

	require.NoError(t, svc.InvalidateByDonation(context.Background(), donationID))
	assert.NotContains(t, hot.data, cacheKey(campaignID))

	assert.Error(t, svc.InvalidateByDonation(context.Background(), uuid.New()))
}
