package dispatch

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/lawline/dispatch-api/models"
)

// CallStore is the engine's view of emergency call persistence. Every method
// that moves a call between statuses is a single conditional update: the
// filter encodes the expected prior state, and a non-match comes back as
// ErrStaleState (or ErrConflict for Claim). That conditional update is the
// only concurrency primitive the engine relies on; there is no lock service.
type CallStore interface {
	Create(ctx context.Context, call *models.EmergencyCall) error
	Get(ctx context.Context, id primitive.ObjectID) (*models.EmergencyCall, error)

	// Claim atomically binds a pending, unassigned call to a lawyer and moves
	// it to assigned, incrementing the attempt counter. It fails with
	// ErrConflict if the call already left pending or if the lawyer already
	// holds another non-terminal call.
	Claim(ctx context.Context, id primitive.ObjectID, lawyerID string, now time.Time) (*models.EmergencyCall, error)

	// Confirm moves assigned -> active for the given lawyer, setting acceptedAt.
	Confirm(ctx context.Context, id primitive.ObjectID, lawyerID string, now time.Time) (*models.EmergencyCall, error)

	// Release moves assigned -> pending for the given lawyer, dropping the
	// claim. Used for both explicit rejection and acceptance-window expiry;
	// whichever of release/confirm/cancel matches the document first wins.
	Release(ctx context.Context, id primitive.ObjectID, lawyerID string, now time.Time) (*models.EmergencyCall, error)

	// Cancel moves any non-terminal status to cancelled, dropping any lawyer
	// claim, and records who asked and why. It returns the call as it was
	// before the update so the caller knows which state was abandoned.
	Cancel(ctx context.Context, id primitive.ObjectID, actorID, reason string, now time.Time) (*models.EmergencyCall, error)

	// Complete moves active -> completed, setting completedAt.
	Complete(ctx context.Context, id primitive.ObjectID, now time.Time) (*models.EmergencyCall, error)

	// MarkEscalated flags a still-pending call for operator attention.
	MarkEscalated(ctx context.Context, id primitive.ObjectID, now time.Time) (*models.EmergencyCall, error)

	// OpenCallLawyerIDs returns the set of lawyers currently holding an
	// assigned or active call.
	OpenCallLawyerIDs(ctx context.Context) (map[string]bool, error)
}

// PresenceStore persists lawyer presence documents.
type PresenceStore interface {
	Upsert(ctx context.Context, lawyerID string, lat, lon float64, now time.Time) error
	SetAvailability(ctx context.Context, lawyerID string, available bool) error
	Get(ctx context.Context, lawyerID string) (*models.LawyerPresence, error)

	// ListAvailable returns lawyers who opted in and pinged at or after the
	// given instant. Claim-freedom is applied by the caller.
	ListAvailable(ctx context.Context, since time.Time) ([]models.LawyerPresence, error)

	// RecordResponse folds a confirmed response time into the lawyer's
	// rolling response statistics.
	RecordResponse(ctx context.Context, lawyerID string, response time.Duration) error
}

// AttemptStore persists per-call dispatch attempt bookkeeping.
type AttemptStore interface {
	Insert(ctx context.Context, attempt *models.DispatchAttempt) error
	SetOutcome(ctx context.Context, callID primitive.ObjectID, lawyerID string, outcome models.AttemptOutcome, now time.Time) error

	// AttemptedLawyers returns lawyerID -> outcome for all attempts made for
	// the given call.
	AttemptedLawyers(ctx context.Context, callID primitive.ObjectID) (map[string]models.AttemptOutcome, error)
}
