package dispatch_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/lawline/dispatch-api/config"
	"github.com/lawline/dispatch-api/dispatch"
	"github.com/lawline/dispatch-api/models"
)

type nopMetrics struct{}

func (nopMetrics) RecordCreated(*models.EmergencyCall) {}
func (nopMetrics) RecordTransition(*models.EmergencyCall, models.CallStatus, models.CallStatus, time.Time) {
}
func (nopMetrics) RecordEscalated(*models.EmergencyCall) {}

func testDispatchConfig() config.DispatchConfig {
	return config.DispatchConfig{
		AcceptWindow:       time.Minute,
		PresenceStaleAfter: time.Minute,
		MaxAttempts:        5,
		SearchRadiusKm:     5,
		SearchRadiusCeilKm: 40,
		StatsWindow:        24 * time.Hour,
	}
}

func newTestEngine(t *testing.T, store *dispatch.MemStore, cfg config.DispatchConfig) *dispatch.Engine {
	t.Helper()
	registry := dispatch.NewRegistry(store.Presence(), store, cfg.PresenceStaleAfter)
	matcher := dispatch.NewMatcher(registry, cfg.SearchRadiusKm, cfg.SearchRadiusCeilKm)
	engine := dispatch.NewEngine(store, store, registry, matcher, nopMetrics{}, dispatch.LogNotifier{}, cfg)
	t.Cleanup(engine.Stop)
	return engine
}

func addLawyer(t *testing.T, store *dispatch.MemStore, lawyerID string, lat, lon float64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.Upsert(ctx, lawyerID, lat, lon, time.Now().UTC()))
	require.NoError(t, store.SetAvailability(ctx, lawyerID, true))
}

func seedPendingCall(t *testing.T, store *dispatch.MemStore, lat, lon float64) primitive.ObjectID {
	t.Helper()
	now := time.Now().UTC()
	call := &models.EmergencyCall{
		ID:        primitive.NewObjectID(),
		ClientID:  "client-1",
		Location:  models.NewLocation(lat, lon, "12 Tverskaya St"),
		Status:    models.CallPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, store.Create(context.Background(), call))
	return call.ID
}

func TestEngineCreateCallValidation(t *testing.T) {
	store := dispatch.NewMemStore()
	engine := newTestEngine(t, store, testDispatchConfig())
	ctx := context.Background()

	_, err := engine.CreateCall(ctx, "", 55.751, 37.618, "12 Tverskaya St", false, "")
	assert.ErrorIs(t, err, dispatch.ErrValidation)

	_, err = engine.CreateCall(ctx, "client-1", 91, 37.618, "12 Tverskaya St", false, "")
	assert.ErrorIs(t, err, dispatch.ErrValidation)

	_, err = engine.CreateCall(ctx, "client-1", 55.751, 181, "12 Tverskaya St", false, "")
	assert.ErrorIs(t, err, dispatch.ErrValidation)

	_, err = engine.CreateCall(ctx, "client-1", 55.751, 37.618, "", false, "")
	assert.ErrorIs(t, err, dispatch.ErrValidation)
}

func TestEngineCreateCallAssignsNearestLawyer(t *testing.T) {
	store := dispatch.NewMemStore()
	engine := newTestEngine(t, store, testDispatchConfig())
	ctx := context.Background()

	addLawyer(t, store, "lawyer-near", 55.752, 37.619)
	addLawyer(t, store, "lawyer-far", 55.780, 37.660)

	call, err := engine.CreateCall(ctx, "client-1", 55.751, 37.618, "12 Tverskaya St", true, "arrested outside office")
	require.NoError(t, err)
	assert.Equal(t, models.CallPending, call.Status)

	require.Eventually(t, func() bool {
		cur, err := store.Get(ctx, call.ID)
		return err == nil && cur.Status == models.CallAssigned
	}, 2*time.Second, 10*time.Millisecond)

	cur, err := store.Get(ctx, call.ID)
	require.NoError(t, err)
	require.NotNil(t, cur.LawyerID)
	assert.Equal(t, "lawyer-near", *cur.LawyerID)
	assert.Equal(t, 1, cur.AttemptCount)

	attempted, err := store.AttemptedLawyers(ctx, call.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AttemptPending, attempted["lawyer-near"])
}

func TestEngineDispatchNoLawyers(t *testing.T) {
	store := dispatch.NewMemStore()
	engine := newTestEngine(t, store, testDispatchConfig())

	callID := seedPendingCall(t, store, 55.751, 37.618)
	err := engine.Dispatch(context.Background(), callID)
	assert.ErrorIs(t, err, dispatch.ErrNoCandidates)

	cur, err := store.Get(context.Background(), callID)
	require.NoError(t, err)
	assert.Equal(t, models.CallPending, cur.Status)
}

func TestEngineConfirmMovesToActiveOnce(t *testing.T) {
	store := dispatch.NewMemStore()
	engine := newTestEngine(t, store, testDispatchConfig())
	ctx := context.Background()

	addLawyer(t, store, "lawyer-a", 55.752, 37.619)
	callID := seedPendingCall(t, store, 55.751, 37.618)
	require.NoError(t, engine.Dispatch(ctx, callID))

	call, err := engine.Confirm(ctx, callID, "lawyer-a")
	require.NoError(t, err)
	assert.Equal(t, models.CallActive, call.Status)
	require.NotNil(t, call.AcceptedAt)

	// A duplicate confirm changes nothing.
	_, err = engine.Confirm(ctx, callID, "lawyer-a")
	assert.ErrorIs(t, err, dispatch.ErrStaleState)

	cur, err := store.Get(ctx, callID)
	require.NoError(t, err)
	assert.Equal(t, models.CallActive, cur.Status)

	attempted, err := store.AttemptedLawyers(ctx, callID)
	require.NoError(t, err)
	assert.Equal(t, models.AttemptAccepted, attempted["lawyer-a"])
}

func TestEngineConfirmByWrongLawyer(t *testing.T) {
	store := dispatch.NewMemStore()
	engine := newTestEngine(t, store, testDispatchConfig())
	ctx := context.Background()

	addLawyer(t, store, "lawyer-a", 55.752, 37.619)
	callID := seedPendingCall(t, store, 55.751, 37.618)
	require.NoError(t, engine.Dispatch(ctx, callID))

	_, err := engine.Confirm(ctx, callID, "lawyer-b")
	assert.ErrorIs(t, err, dispatch.ErrStaleState)

	_, err = engine.Confirm(ctx, callID, "")
	assert.ErrorIs(t, err, dispatch.ErrValidation)
}

func TestEngineRejectReassignsToNextLawyer(t *testing.T) {
	store := dispatch.NewMemStore()
	engine := newTestEngine(t, store, testDispatchConfig())
	ctx := context.Background()

	addLawyer(t, store, "lawyer-near", 55.752, 37.619)
	addLawyer(t, store, "lawyer-far", 55.780, 37.660)
	callID := seedPendingCall(t, store, 55.751, 37.618)
	require.NoError(t, engine.Dispatch(ctx, callID))

	call, err := engine.Reject(ctx, callID, "lawyer-near")
	require.NoError(t, err)
	assert.Equal(t, models.CallPending, call.Status)
	assert.Nil(t, call.LawyerID)

	require.Eventually(t, func() bool {
		cur, err := store.Get(ctx, callID)
		return err == nil && cur.Status == models.CallAssigned && cur.LawyerID != nil && *cur.LawyerID == "lawyer-far"
	}, 2*time.Second, 10*time.Millisecond)

	attempted, err := store.AttemptedLawyers(ctx, callID)
	require.NoError(t, err)
	assert.Equal(t, models.AttemptRejected, attempted["lawyer-near"])
	assert.Equal(t, models.AttemptPending, attempted["lawyer-far"])
}

func TestEngineAcceptanceWindowExpiryReassigns(t *testing.T) {
	cfg := testDispatchConfig()
	cfg.AcceptWindow = 50 * time.Millisecond
	store := dispatch.NewMemStore()
	engine := newTestEngine(t, store, cfg)
	ctx := context.Background()

	addLawyer(t, store, "lawyer-slow", 55.752, 37.619)
	addLawyer(t, store, "lawyer-backup", 55.760, 37.640)
	callID := seedPendingCall(t, store, 55.751, 37.618)
	require.NoError(t, engine.Dispatch(ctx, callID))

	// lawyer-slow never answers; the window expires and the backup is offered.
	require.Eventually(t, func() bool {
		cur, err := store.Get(ctx, callID)
		return err == nil && cur.Status == models.CallAssigned && cur.LawyerID != nil && *cur.LawyerID == "lawyer-backup"
	}, 2*time.Second, 10*time.Millisecond)

	call, err := engine.Confirm(ctx, callID, "lawyer-backup")
	require.NoError(t, err)
	assert.Equal(t, models.CallActive, call.Status)
	assert.Equal(t, 2, call.AttemptCount)

	// Response time runs from intake, so it spans the expired first offer.
	require.NotNil(t, call.AcceptedAt)
	assert.Equal(t, call.AcceptedAt.Sub(call.CreatedAt), call.ResponseTime())
	assert.Greater(t, call.ResponseTime(), cfg.AcceptWindow)

	attempted, err := store.AttemptedLawyers(ctx, callID)
	require.NoError(t, err)
	assert.Equal(t, models.AttemptTimedOut, attempted["lawyer-slow"])
	assert.Equal(t, models.AttemptAccepted, attempted["lawyer-backup"])
}

func TestEngineCancelReleasesClaim(t *testing.T) {
	store := dispatch.NewMemStore()
	engine := newTestEngine(t, store, testDispatchConfig())
	ctx := context.Background()

	addLawyer(t, store, "lawyer-a", 55.752, 37.619)
	callID := seedPendingCall(t, store, 55.751, 37.618)
	require.NoError(t, engine.Dispatch(ctx, callID))

	call, err := engine.Cancel(ctx, callID, "client-1", "issue resolved")
	require.NoError(t, err)
	assert.Equal(t, models.CallCancelled, call.Status)
	assert.Equal(t, "issue resolved", call.CancelReason)
	assert.Equal(t, "client-1", call.CancelledBy)
	assert.Nil(t, call.LawyerID)

	// The persisted document dropped the claim too, not just the response.
	stored, err := store.Get(ctx, callID)
	require.NoError(t, err)
	assert.Equal(t, models.CallCancelled, stored.Status)
	assert.Nil(t, stored.LawyerID)
	assert.Equal(t, "issue resolved", stored.CancelReason)
	assert.Equal(t, "client-1", stored.CancelledBy)

	// The late confirm loses.
	_, err = engine.Confirm(ctx, callID, "lawyer-a")
	assert.ErrorIs(t, err, dispatch.ErrStaleState)

	// The lawyer is claimable again for the next call.
	busy, err := store.OpenCallLawyerIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, busy)
}

func TestEngineCancelValidation(t *testing.T) {
	store := dispatch.NewMemStore()
	engine := newTestEngine(t, store, testDispatchConfig())
	ctx := context.Background()
	callID := seedPendingCall(t, store, 55.751, 37.618)

	_, err := engine.Cancel(ctx, callID, "", "issue resolved")
	assert.ErrorIs(t, err, dispatch.ErrValidation)

	_, err = engine.Cancel(ctx, callID, "client-1", "")
	assert.ErrorIs(t, err, dispatch.ErrValidation)
}

func TestEngineCancelTerminalIsStale(t *testing.T) {
	store := dispatch.NewMemStore()
	engine := newTestEngine(t, store, testDispatchConfig())
	ctx := context.Background()
	callID := seedPendingCall(t, store, 55.751, 37.618)

	_, err := engine.Cancel(ctx, callID, "client-1", "issue resolved")
	require.NoError(t, err)

	_, err = engine.Cancel(ctx, callID, "client-1", "issue resolved")
	assert.ErrorIs(t, err, dispatch.ErrStaleState)
}

func TestEngineCompleteFromActive(t *testing.T) {
	store := dispatch.NewMemStore()
	engine := newTestEngine(t, store, testDispatchConfig())
	ctx := context.Background()

	addLawyer(t, store, "lawyer-a", 55.752, 37.619)
	callID := seedPendingCall(t, store, 55.751, 37.618)
	require.NoError(t, engine.Dispatch(ctx, callID))
	_, err := engine.Confirm(ctx, callID, "lawyer-a")
	require.NoError(t, err)

	call, err := engine.Complete(ctx, callID, "session-service")
	require.NoError(t, err)
	assert.Equal(t, models.CallCompleted, call.Status)
	require.NotNil(t, call.CompletedAt)

	_, err = engine.Complete(ctx, callID, "session-service")
	assert.ErrorIs(t, err, dispatch.ErrStaleState)
}

func TestEngineCompleteRequiresActive(t *testing.T) {
	store := dispatch.NewMemStore()
	engine := newTestEngine(t, store, testDispatchConfig())
	ctx := context.Background()

	addLawyer(t, store, "lawyer-a", 55.752, 37.619)
	callID := seedPendingCall(t, store, 55.751, 37.618)
	require.NoError(t, engine.Dispatch(ctx, callID))

	// Assigned but not confirmed may not complete.
	_, err := engine.Complete(ctx, callID, "session-service")
	assert.ErrorIs(t, err, dispatch.ErrStaleState)
}

func TestEngineLawyerNeverHoldsTwoCalls(t *testing.T) {
	store := dispatch.NewMemStore()
	engine := newTestEngine(t, store, testDispatchConfig())
	ctx := context.Background()

	addLawyer(t, store, "lawyer-only", 55.752, 37.619)

	callA := seedPendingCall(t, store, 55.751, 37.618)
	callB := seedPendingCall(t, store, 55.751, 37.618)

	var wg sync.WaitGroup
	for _, id := range []primitive.ObjectID{callA, callB} {
		wg.Add(1)
		go func(id primitive.ObjectID) {
			defer wg.Done()
			_ = engine.Dispatch(ctx, id) // one of the two must lose
		}(id)
	}
	wg.Wait()

	a, err := store.Get(ctx, callA)
	require.NoError(t, err)
	b, err := store.Get(ctx, callB)
	require.NoError(t, err)

	assigned := 0
	if a.Status == models.CallAssigned {
		assigned++
	}
	if b.Status == models.CallAssigned {
		assigned++
	}
	assert.Equal(t, 1, assigned, "exactly one call may hold the lawyer")
}

func TestEngineDispatchEscalatesAfterMaxAttempts(t *testing.T) {
	cfg := testDispatchConfig()
	cfg.MaxAttempts = 2
	store := dispatch.NewMemStore()
	engine := newTestEngine(t, store, cfg)
	ctx := context.Background()

	now := time.Now().UTC()
	call := &models.EmergencyCall{
		ID:           primitive.NewObjectID(),
		ClientID:     "client-1",
		Location:     models.NewLocation(55.751, 37.618, "12 Tverskaya St"),
		Status:       models.CallPending,
		AttemptCount: 2,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, store.Create(ctx, call))
	addLawyer(t, store, "lawyer-a", 55.752, 37.619)

	err := engine.Dispatch(ctx, call.ID)
	assert.ErrorIs(t, err, dispatch.ErrEscalated)

	cur, err := store.Get(ctx, call.ID)
	require.NoError(t, err)
	assert.True(t, cur.Escalated)
	assert.Equal(t, models.CallPending, cur.Status)

	// A second cycle reports the escalation without flapping the flag.
	err = engine.Dispatch(ctx, call.ID)
	assert.ErrorIs(t, err, dispatch.ErrEscalated)
}

func TestEngineEscalatesViaRejectionChain(t *testing.T) {
	cfg := testDispatchConfig()
	cfg.MaxAttempts = 1
	store := dispatch.NewMemStore()
	engine := newTestEngine(t, store, cfg)
	ctx := context.Background()

	addLawyer(t, store, "lawyer-a", 55.752, 37.619)
	callID := seedPendingCall(t, store, 55.751, 37.618)
	require.NoError(t, engine.Dispatch(ctx, callID))

	_, err := engine.Reject(ctx, callID, "lawyer-a")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		cur, err := store.Get(ctx, callID)
		return err == nil && cur.Escalated
	}, 2*time.Second, 10*time.Millisecond)

	cur, err := store.Get(ctx, callID)
	require.NoError(t, err)
	assert.Equal(t, models.CallPending, cur.Status)
}

func TestEngineEscalatedCallRevivesOnAssignment(t *testing.T) {
	cfg := testDispatchConfig()
	cfg.MaxAttempts = 10
	store := dispatch.NewMemStore()
	engine := newTestEngine(t, store, cfg)
	ctx := context.Background()

	now := time.Now().UTC()
	call := &models.EmergencyCall{
		ID:        primitive.NewObjectID(),
		ClientID:  "client-1",
		Location:  models.NewLocation(55.751, 37.618, "12 Tverskaya St"),
		Status:    models.CallPending,
		Escalated: true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, store.Create(ctx, call))
	addLawyer(t, store, "lawyer-a", 55.752, 37.619)

	require.NoError(t, engine.Dispatch(ctx, call.ID))

	cur, err := store.Get(ctx, call.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CallAssigned, cur.Status)
	assert.False(t, cur.Escalated, "assignment clears the escalation flag")
}

func TestEngineDispatchOnNonPendingIsStale(t *testing.T) {
	store := dispatch.NewMemStore()
	engine := newTestEngine(t, store, testDispatchConfig())
	ctx := context.Background()

	addLawyer(t, store, "lawyer-a", 55.752, 37.619)
	callID := seedPendingCall(t, store, 55.751, 37.618)
	require.NoError(t, engine.Dispatch(ctx, callID))

	err := engine.Dispatch(ctx, callID)
	assert.ErrorIs(t, err, dispatch.ErrStaleState)
}

func TestEngineDispatchUnknownCall(t *testing.T) {
	store := dispatch.NewMemStore()
	engine := newTestEngine(t, store, testDispatchConfig())

	err := engine.Dispatch(context.Background(), primitive.NewObjectID())
	assert.ErrorIs(t, err, dispatch.ErrNotFound)
}
