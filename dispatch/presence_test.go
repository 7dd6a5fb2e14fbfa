package dispatch_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/lawline/dispatch-api/dispatch"
	"github.com/lawline/dispatch-api/models"
)

func TestRegistryUpdateLocationValidation(t *testing.T) {
	store := dispatch.NewMemStore()
	registry := dispatch.NewRegistry(store.Presence(), store, time.Minute)
	ctx := context.Background()

	assert.ErrorIs(t, registry.UpdateLocation(ctx, "", 55.751, 37.618), dispatch.ErrValidation)
	assert.ErrorIs(t, registry.UpdateLocation(ctx, "lawyer-a", 90.1, 37.618), dispatch.ErrValidation)
	assert.ErrorIs(t, registry.UpdateLocation(ctx, "lawyer-a", 55.751, -180.5), dispatch.ErrValidation)
	assert.NoError(t, registry.UpdateLocation(ctx, "lawyer-a", 55.751, 37.618))
}

func TestRegistryFirstPingDefaultsUnavailable(t *testing.T) {
	store := dispatch.NewMemStore()
	registry := dispatch.NewRegistry(store.Presence(), store, time.Minute)
	ctx := context.Background()

	require.NoError(t, registry.UpdateLocation(ctx, "lawyer-a", 55.751, 37.618))

	p, err := registry.Get(ctx, "lawyer-a")
	require.NoError(t, err)
	assert.False(t, p.IsAvailable, "a lawyer must opt in explicitly")

	eligible, err := registry.Eligible(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Empty(t, eligible)
}

func TestRegistryAvailabilityToggle(t *testing.T) {
	store := dispatch.NewMemStore()
	registry := dispatch.NewRegistry(store.Presence(), store, time.Minute)
	ctx := context.Background()

	require.NoError(t, registry.UpdateLocation(ctx, "lawyer-a", 55.751, 37.618))
	require.NoError(t, registry.SetAvailability(ctx, "lawyer-a", true))

	eligible, err := registry.Eligible(ctx, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, eligible, 1)
	assert.Equal(t, "lawyer-a", eligible[0].LawyerID)

	require.NoError(t, registry.SetAvailability(ctx, "lawyer-a", false))
	eligible, err = registry.Eligible(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Empty(t, eligible)
}

func TestRegistryStalePresenceIsIneligible(t *testing.T) {
	store := dispatch.NewMemStore()
	registry := dispatch.NewRegistry(store.Presence(), store, 90*time.Second)
	ctx := context.Background()
	now := time.Now().UTC()

	// Last ping two minutes ago, past the 90s staleness bound.
	require.NoError(t, store.Upsert(ctx, "lawyer-stale", 55.751, 37.618, now.Add(-2*time.Minute)))
	require.NoError(t, store.SetAvailability(ctx, "lawyer-stale", true))

	require.NoError(t, store.Upsert(ctx, "lawyer-fresh", 55.751, 37.618, now))
	require.NoError(t, store.SetAvailability(ctx, "lawyer-fresh", true))

	eligible, err := registry.Eligible(ctx, now)
	require.NoError(t, err)
	require.Len(t, eligible, 1)
	assert.Equal(t, "lawyer-fresh", eligible[0].LawyerID)

	// A fresh ping revives the stale lawyer.
	require.NoError(t, registry.UpdateLocation(ctx, "lawyer-stale", 55.751, 37.618))
	eligible, err = registry.Eligible(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Len(t, eligible, 2)
}

func TestRegistryBusyLawyerIsIneligible(t *testing.T) {
	store := dispatch.NewMemStore()
	registry := dispatch.NewRegistry(store.Presence(), store, time.Minute)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.Upsert(ctx, "lawyer-busy", 55.751, 37.618, now))
	require.NoError(t, store.SetAvailability(ctx, "lawyer-busy", true))

	lawyerID := "lawyer-busy"
	require.NoError(t, store.Create(ctx, &models.EmergencyCall{
		ID:        primitive.NewObjectID(),
		ClientID:  "client-1",
		LawyerID:  &lawyerID,
		Location:  models.NewLocation(55.751, 37.618, "12 Tverskaya St"),
		Status:    models.CallAssigned,
		CreatedAt: now,
		UpdatedAt: now,
	}))

	eligible, err := registry.Eligible(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, eligible)
}

func TestRegistryGetUnknownLawyer(t *testing.T) {
	store := dispatch.NewMemStore()
	registry := dispatch.NewRegistry(store.Presence(), store, time.Minute)

	_, err := registry.Get(context.Background(), "lawyer-ghost")
	assert.ErrorIs(t, err, dispatch.ErrNotFound)
}

func TestRegistryRecordResponseUpdatesMedian(t *testing.T) {
	store := dispatch.NewMemStore()
	registry := dispatch.NewRegistry(store.Presence(), store, time.Minute)
	ctx := context.Background()

	require.NoError(t, registry.UpdateLocation(ctx, "lawyer-a", 55.751, 37.618))
	require.NoError(t, registry.RecordResponse(ctx, "lawyer-a", 100*time.Millisecond))
	require.NoError(t, registry.RecordResponse(ctx, "lawyer-a", 300*time.Millisecond))
	require.NoError(t, registry.RecordResponse(ctx, "lawyer-a", 200*time.Millisecond))

	p, err := registry.Get(ctx, "lawyer-a")
	require.NoError(t, err)
	assert.Equal(t, int64(200), p.MedianResponseMs)
}

func TestValidateCoordinates(t *testing.T) {
	assert.NoError(t, dispatch.ValidateCoordinates(0, 0))
	assert.NoError(t, dispatch.ValidateCoordinates(-90, 180))
	assert.NoError(t, dispatch.ValidateCoordinates(90, -180))
	assert.ErrorIs(t, dispatch.ValidateCoordinates(90.01, 0), dispatch.ErrValidation)
	assert.ErrorIs(t, dispatch.ValidateCoordinates(0, 180.01), dispatch.ErrValidation)
}
