package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// AttemptOutcome is the result of one offer to one lawyer.
type AttemptOutcome string

// Valid attempt outcomes.
const (
	AttemptPending  AttemptOutcome = "pending"
	AttemptAccepted AttemptOutcome = "accepted"
	AttemptRejected AttemptOutcome = "rejected"
	AttemptTimedOut AttemptOutcome = "timedOut"
)

// DispatchAttempt holds the structure for the dispatchAttempts collection.
// It is internal bookkeeping: the matcher reads it to avoid re-offering a
// call to a lawyer who already declined or timed out, and the engine reads
// accepted attempts to maintain per-lawyer response statistics.
type DispatchAttempt struct {
	ID          primitive.ObjectID `json:"_id" bson:"_id"`
	CallID      primitive.ObjectID `json:"callID" bson:"callID"`
	LawyerID    string             `json:"lawyerID" bson:"lawyerID"`
	Outcome     AttemptOutcome     `json:"outcome" bson:"outcome"`
	OfferedAt   time.Time          `json:"offeredAt" bson:"offeredAt"`
	RespondedAt *time.Time         `json:"respondedAt" bson:"respondedAt"`
}
