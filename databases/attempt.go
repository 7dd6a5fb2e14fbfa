package databases

// go generate: mockery --name AttemptDatabase

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/lawline/dispatch-api/dispatch"
	"github.com/lawline/dispatch-api/models"
)

const attemptName = "dispatchAttempts"

// AttemptDatabase contains the methods to use with the dispatch attempt database.
// It implements dispatch.AttemptStore.
type AttemptDatabase interface {
	dispatch.AttemptStore
}

type attemptDatabase struct {
	db DatabaseHelper
}

// NewAttemptDatabase initializes a new instance of attempt database with the provided db connection
func NewAttemptDatabase(db DatabaseHelper) AttemptDatabase {
	return &attemptDatabase{
		db: db,
	}
}

// EnsureAttemptIndexes creates the callID lookup index.
func EnsureAttemptIndexes(ctx context.Context, db DatabaseHelper) error {
	return db.Collection(attemptName).CreateIndexes(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "callID", Value: 1}, {Key: "offeredAt", Value: -1}}},
	})
}

func (a *attemptDatabase) Insert(ctx context.Context, attempt *models.DispatchAttempt) error {
	if id := a.db.Collection(attemptName).InsertOne(ctx, attempt).Decode(); id == nil {
		return errors.New("failed to insert dispatch attempt")
	}
	return nil
}

func (a *attemptDatabase) SetOutcome(ctx context.Context, callID primitive.ObjectID, lawyerID string, outcome models.AttemptOutcome, now time.Time) error {
	n, err := a.db.Collection(attemptName).UpdateOne(ctx,
		bson.M{"callID": callID, "lawyerID": lawyerID, "outcome": models.AttemptPending},
		bson.M{"$set": bson.M{"outcome": outcome, "respondedAt": now}},
	)
	if err != nil {
		return err
	}
	if n == 0 {
		return dispatch.ErrStaleState
	}
	return nil
}

func (a *attemptDatabase) AttemptedLawyers(ctx context.Context, callID primitive.ObjectID) (map[string]models.AttemptOutcome, error) {
	var attempts []models.DispatchAttempt
	err := a.db.Collection(attemptName).Find(ctx, bson.M{"callID": callID}).Decode(&attempts)
	if err != nil {
		return nil, err
	}
	out := make(map[string]models.AttemptOutcome, len(attempts))
	for _, att := range attempts {
		out[att.LawyerID] = att.Outcome
	}
	return out, nil
}
