package dispatch

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/lawline/dispatch-api/models"
)

// MemStore is an in-memory implementation of CallStore, PresenceStore, and
// AttemptStore with the same compare-and-swap semantics as the mongo-backed
// stores: every transition checks its precondition and mutates under one
// lock, so two racing claims for a lawyer resolve the same way they would
// against the partial unique index. It backs the engine and handler tests.
type MemStore struct {
	mu       sync.Mutex
	calls    map[primitive.ObjectID]models.EmergencyCall
	presence map[string]models.LawyerPresence
	samples  map[string][]int64
	attempts []models.DispatchAttempt
}

// Presence returns the PresenceStore view of the store. A separate view is
// needed because CallStore and PresenceStore both declare Get.
func (m *MemStore) Presence() PresenceStore { return memPresence{m} }

type memPresence struct{ *MemStore }

func (p memPresence) Get(ctx context.Context, lawyerID string) (*models.LawyerPresence, error) {
	return p.GetPresence(ctx, lawyerID)
}

// NewMemStore builds an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		calls:    make(map[primitive.ObjectID]models.EmergencyCall),
		presence: make(map[string]models.LawyerPresence),
		samples:  make(map[string][]int64),
	}
}

// Create inserts a call.
func (m *MemStore) Create(_ context.Context, call *models.EmergencyCall) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[call.ID] = *call
	return nil
}

// Get returns a copy of the call.
func (m *MemStore) Get(_ context.Context, id primitive.ObjectID) (*models.EmergencyCall, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	call, ok := m.calls[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &call, nil
}

// Claim binds a pending call to a claim-free lawyer, or fails with ErrConflict.
func (m *MemStore) Claim(_ context.Context, id primitive.ObjectID, lawyerID string, now time.Time) (*models.EmergencyCall, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	call, ok := m.calls[id]
	if !ok {
		return nil, ErrNotFound
	}
	if call.Status != models.CallPending || call.LawyerID != nil {
		return nil, ErrConflict
	}
	for _, other := range m.calls {
		if other.LawyerID != nil && *other.LawyerID == lawyerID && !other.Status.Terminal() {
			return nil, ErrConflict
		}
	}
	call.Status = models.CallAssigned
	call.LawyerID = &lawyerID
	call.Escalated = false
	call.AttemptCount++
	call.UpdatedAt = now
	m.calls[id] = call
	return &call, nil
}

// Confirm moves assigned -> active for the holding lawyer.
func (m *MemStore) Confirm(_ context.Context, id primitive.ObjectID, lawyerID string, now time.Time) (*models.EmergencyCall, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	call, ok := m.calls[id]
	if !ok || call.Status != models.CallAssigned || call.LawyerID == nil || *call.LawyerID != lawyerID {
		return nil, ErrStaleState
	}
	at := now
	call.Status = models.CallActive
	call.AcceptedAt = &at
	call.UpdatedAt = now
	m.calls[id] = call
	return &call, nil
}

// Release moves assigned -> pending for the holding lawyer.
func (m *MemStore) Release(_ context.Context, id primitive.ObjectID, lawyerID string, now time.Time) (*models.EmergencyCall, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	call, ok := m.calls[id]
	if !ok || call.Status != models.CallAssigned || call.LawyerID == nil || *call.LawyerID != lawyerID {
		return nil, ErrStaleState
	}
	call.Status = models.CallPending
	call.LawyerID = nil
	call.UpdatedAt = now
	m.calls[id] = call
	return &call, nil
}

// Cancel moves any non-terminal call to cancelled, returning the prior state.
func (m *MemStore) Cancel(_ context.Context, id primitive.ObjectID, actorID, reason string, now time.Time) (*models.EmergencyCall, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	call, ok := m.calls[id]
	if !ok || call.Status.Terminal() {
		return nil, ErrStaleState
	}
	prior := call
	call.Status = models.CallCancelled
	call.LawyerID = nil
	call.CancelReason = reason
	call.CancelledBy = actorID
	call.UpdatedAt = now
	m.calls[id] = call
	return &prior, nil
}

// Complete moves active -> completed.
func (m *MemStore) Complete(_ context.Context, id primitive.ObjectID, now time.Time) (*models.EmergencyCall, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	call, ok := m.calls[id]
	if !ok || call.Status != models.CallActive {
		return nil, ErrStaleState
	}
	at := now
	call.Status = models.CallCompleted
	call.CompletedAt = &at
	call.UpdatedAt = now
	m.calls[id] = call
	return &call, nil
}

// MarkEscalated flags a pending, not yet escalated call.
func (m *MemStore) MarkEscalated(_ context.Context, id primitive.ObjectID, now time.Time) (*models.EmergencyCall, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	call, ok := m.calls[id]
	if !ok || call.Status != models.CallPending || call.Escalated {
		return nil, ErrStaleState
	}
	call.Escalated = true
	call.UpdatedAt = now
	m.calls[id] = call
	return &call, nil
}

// OpenCallLawyerIDs returns lawyers holding assigned or active calls.
func (m *MemStore) OpenCallLawyerIDs(_ context.Context) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	open := make(map[string]bool)
	for _, call := range m.calls {
		if call.LawyerID != nil && !call.Status.Terminal() {
			open[*call.LawyerID] = true
		}
	}
	return open, nil
}

// Upsert records a location ping.
func (m *MemStore) Upsert(_ context.Context, lawyerID string, lat, lon float64, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.presence[lawyerID]
	if !ok {
		p = models.LawyerPresence{LawyerID: lawyerID}
	}
	p.Location = models.NewLocation(lat, lon, "")
	p.LastSeenAt = now
	m.presence[lawyerID] = p
	return nil
}

// SetAvailability records the lawyer's availability toggle.
func (m *MemStore) SetAvailability(_ context.Context, lawyerID string, available bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.presence[lawyerID]
	if !ok {
		p = models.LawyerPresence{LawyerID: lawyerID}
	}
	p.IsAvailable = available
	m.presence[lawyerID] = p
	return nil
}

// Get returns a lawyer's presence document.
func (m *MemStore) GetPresence(_ context.Context, lawyerID string) (*models.LawyerPresence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.presence[lawyerID]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

// ListAvailable returns opted-in lawyers seen at or after since.
func (m *MemStore) ListAvailable(_ context.Context, since time.Time) ([]models.LawyerPresence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.LawyerPresence
	for _, p := range m.presence {
		if p.IsAvailable && !p.LastSeenAt.Before(since) {
			out = append(out, p)
		}
	}
	return out, nil
}

// RecordResponse folds a response sample into the lawyer's rolling median.
func (m *MemStore) RecordResponse(_ context.Context, lawyerID string, response time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.presence[lawyerID]
	if !ok {
		return ErrNotFound
	}
	samples := append(m.samples[lawyerID], response.Milliseconds())
	m.samples[lawyerID] = samples

	sorted := make([]int64, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		p.MedianResponseMs = (sorted[mid-1] + sorted[mid]) / 2
	} else {
		p.MedianResponseMs = sorted[mid]
	}
	m.presence[lawyerID] = p
	return nil
}

// SetRating sets the lawyer's rating, used by matcher tie-breaks.
func (m *MemStore) SetRating(lawyerID string, rating float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.presence[lawyerID]
	p.LawyerID = lawyerID
	p.Rating = rating
	m.presence[lawyerID] = p
}

// Insert records a dispatch attempt.
func (m *MemStore) Insert(_ context.Context, attempt *models.DispatchAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, *attempt)
	return nil
}

// SetOutcome resolves the pending attempt for (callID, lawyerID).
func (m *MemStore) SetOutcome(_ context.Context, callID primitive.ObjectID, lawyerID string, outcome models.AttemptOutcome, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.attempts {
		a := &m.attempts[i]
		if a.CallID == callID && a.LawyerID == lawyerID && a.Outcome == models.AttemptPending {
			at := now
			a.Outcome = outcome
			a.RespondedAt = &at
			return nil
		}
	}
	return fmt.Errorf("%w: no pending attempt for call %s lawyer %s", ErrStaleState, callID.Hex(), lawyerID)
}

// AttemptedLawyers returns lawyerID -> outcome for a call.
func (m *MemStore) AttemptedLawyers(_ context.Context, callID primitive.ObjectID) (map[string]models.AttemptOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]models.AttemptOutcome)
	for _, a := range m.attempts {
		if a.CallID == callID {
			out[a.LawyerID] = a.Outcome
		}
	}
	return out, nil
}
