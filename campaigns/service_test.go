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

	"github.com/careforall/donation-platform/common/events"
	"github.com/careforall/donation-platform/common/money"
)

type fakeCampaignStore struct {
	campaigns map[uuid.UUID]*Campaign
	emitted   []string
}

func newFakeCampaignStore() *fakeCampaignStore {
	return &fakeCampaignStore{campaigns: make(map[uuid.UUID]*Campaign)}
}

func (f *fakeCampaignStore) Create(_ context.Context, campaign *Campaign) error {
	campaign.Version = 1
	campaign.CreatedAt = time.Now()
	campaign.UpdatedAt = campaign.CreatedAt
	copied := *campaign
	f.campaigns[campaign.ID] = &copied
	f.emitted = append(f.emitted, events.CampaignCreated)
	return nil
}

func (f *fakeCampaignStore) Get(_ context.Context, id uuid.UUID) (*Campaign, error) {
	c, ok := f.campaigns[id]
	if !ok {
		return nil, ErrCampaignNotFound
	}
	copied := *c
	return &copied, nil
}

func (f *fakeCampaignStore) List(_ context.Context, filter CampaignFilter) ([]*Campaign, error) {
	var out []*Campaign
	for _, c := range f.campaigns {
		if filter.Status != "" && c.Status != filter.Status {
			continue
		}
		if filter.Category != "" && c.Category != filter.Category {
			continue
		}
		copied := *c
		out = append(out, &copied)
	}
	return out, nil
}

func (f *fakeCampaignStore) Update(ctx context.Context, id uuid.UUID, apply func(*Campaign) error) (*Campaign, error) {
	return f.mutate(ctx, id, events.CampaignUpdated, apply)
}

func (f *fakeCampaignStore) Close(ctx context.Context, id uuid.UUID, status string) (*Campaign, error) {
	return f.mutate(ctx, id, events.CampaignClosed, func(c *Campaign) error {
		if c.Status == StatusCompleted || c.Status == StatusCancelled {
			return ErrCampaignClosed
		}
		c.Status = status
		return nil
	})
}

func (f *fakeCampaignStore) mutate(_ context.Context, id uuid.UUID, eventType string, apply func(*Campaign) error) (*Campaign, error) {
	c, ok := f.campaigns[id]
	if !ok {
		return nil, ErrCampaignNotFound
	}
	working := *c
	if err := apply(&working); err != nil {
		return nil, err
	}
	working.Version++
	working.UpdatedAt = time.Now()
	f.campaigns[id] = &working
	f.emitted = append(f.emitted, eventType)
	copied := working
	return &copied, nil
}

func newCampaignService(store *fakeCampaignStore) *service {
	return NewService(store, decimal.RequireFromString("10000000.00"), zap.NewNop())
}

func TestCreateCampaignDefaults(t *testing.T) {
	store := newFakeCampaignStore()
	svc := newCampaignService(store)

	campaign, err := svc.CreateCampaign(context.Background(), CreateCampaignRequest{
		Title:      "Clean Water for Kisumu",
		GoalAmount: "50000.00",
		Category:   "water",
	})
	require.NoError(t, err)

	assert.Equal(t, "USD", campaign.Currency)
	assert.Equal(t, StatusActive, campaign.Status)
	assert.True(t, campaign.GoalAmount.Equal(decimal.RequireFromString("50000.00")))
	assert.Equal(t, 1, campaign.Version)
	assert.Equal(t, []string{events.CampaignCreated}, store.emitted)
}

func TestCreateCampaignRejectsBadInput(t *testing.T) {
	store := newFakeCampaignStore()
	svc := newCampaignService(store)

	_, err := svc.CreateCampaign(context.Background(), CreateCampaignRequest{
		Title:      "Negative goal",
		GoalAmount: "-100.00",
	})
	assert.ErrorIs(t, err, money.ErrNotPositive)

	_, err = svc.CreateCampaign(context.Background(), CreateCampaignRequest{
		Title:      "Bad currency",
		GoalAmount: "100.00",
		Currency:   "dollars",
	})
	assert.ErrorIs(t, err, money.ErrInvalidCurrency)

	past := time.Now().Add(-24 * time.Hour)
	_, err = svc.CreateCampaign(context.Background(), CreateCampaignRequest{
		Title:      "Already over",
		GoalAmount: "100.00",
		EndDate:    &past,
	})
	assert.ErrorIs(t, err, ErrEndDateInPast)

	assert.Empty(t, store.emitted)
}

func TestUpdateCampaignPatchSemantics(t *testing.T) {
	store := newFakeCampaignStore()
	svc := newCampaignService(store)

	campaign, err := svc.CreateCampaign(context.Background(), CreateCampaignRequest{
		Title:       "School Lunches",
		Description: "Daily meals for 200 students",
		GoalAmount:  "25000.00",
		Category:    "education",
	})
	require.NoError(t, err)

	newGoal := "30000.00"
	updated, err := svc.UpdateCampaign(context.Background(), campaign.ID, UpdateCampaignRequest{
		GoalAmount: &newGoal,
	})
	require.NoError(t, err)

	assert.True(t, updated.GoalAmount.Equal(decimal.RequireFromString("30000.00")))
	// Untouched fields survive the patch.
	assert.Equal(t, "School Lunches", updated.Title)
	assert.Equal(t, "Daily meals for 200 students", updated.Description)
	assert.Equal(t, "education", updated.Category)
	assert.Equal(t, 2, updated.Version)
	assert.Equal(t, []string{events.CampaignCreated, events.CampaignUpdated}, store.emitted)
}

func TestUpdateCampaignRejectsWhenClosed(t *testing.T) {
	store := newFakeCampaignStore()
	svc := newCampaignService(store)

	campaign, err := svc.CreateCampaign(context.Background(), CreateCampaignRequest{
		Title:      "Winter Coats",
		GoalAmount: "5000.00",
	})
	require.NoError(t, err)

	_, err = svc.CloseCampaign(context.Background(), campaign.ID, false)
	require.NoError(t, err)

	title := "Renamed"
	_, err = svc.UpdateCampaign(context.Background(), campaign.ID, UpdateCampaignRequest{Title: &title})
	assert.ErrorIs(t, err, ErrCampaignClosed)
}

func TestCloseCampaign(t *testing.T) {
	store := newFakeCampaignStore()
	svc := newCampaignService(store)

	campaign, err := svc.CreateCampaign(context.Background(), CreateCampaignRequest{
		Title:      "Mobile Clinic",
		GoalAmount: "80000.00",
	})
	require.NoError(t, err)

	closed, err := svc.CloseCampaign(context.Background(), campaign.ID, false)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, closed.Status)
	assert.Equal(t, []string{events.CampaignCreated, events.CampaignClosed}, store.emitted)

	// Closing twice is refused.
	_, err = svc.CloseCampaign(context.Background(), campaign.ID, true)
	assert.ErrorIs(t, err, ErrCampaignClosed)
}

func TestCloseCampaignCancelled(t *testing.T) {
	store := newFakeCampaignStore()
	svc := newCampaignService(store)

	campaign, err := svc.CreateCampaign(context.Background(), CreateCampaignRequest{
		Title:      "Duplicate Drive",
		GoalAmount: "1000.00",
	})
	require.NoError(t, err)

	closed, err := svc.CloseCampaign(context.Background(), campaign.ID, true)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, closed.Status)
}

func TestListCampaignsFilters(t *testing.T) {
	store := newFakeCampaignStore()
	svc := newCampaignService(store)

	for _, req := range []CreateCampaignRequest{
		{Title: "A", GoalAmount: "100.00", Category: "water"},
		{Title: "B", GoalAmount: "100.00", Category: "education"},
	} {
		_, err := svc.CreateCampaign(context.Background(), req)
		require.NoError(t, err)
	}

	campaigns, err := svc.ListCampaigns(context.Background(), CampaignFilter{Category: "water"})
	require.NoError(t, err)
	require.Len(t, campaigns, 1)
	assert.Equal(t, "A", campaigns[0].Title)
}
