package databases

// go generate: mockery --name CallDatabase

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/lawline/dispatch-api/dispatch"
	"github.com/lawline/dispatch-api/models"
)

const callName = "emergencyCalls"

var nonTerminalStatuses = bson.A{models.CallAssigned, models.CallActive}

// CallDatabase contains the methods to use with the emergency call database.
// It implements dispatch.CallStore plus the list queries the HTTP layer needs.
type CallDatabase interface {
	dispatch.CallStore
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) ([]models.EmergencyCall, error)
	CountByStatus(ctx context.Context, status models.CallStatus) (int64, error)
}

type callDatabase struct {
	db DatabaseHelper
}

// NewCallDatabase initializes a new instance of call database with the provided db connection
func NewCallDatabase(db DatabaseHelper) CallDatabase {
	return &callDatabase{
		db: db,
	}
}

// EnsureCallIndexes creates the indexes the dispatch engine depends on. The
// partial unique index on lawyerID is what makes a lawyer's claim exclusive:
// two non-terminal calls can never reference the same lawyer, the second
// write fails with a duplicate key error.
func EnsureCallIndexes(ctx context.Context, db DatabaseHelper) error {
	unique := true
	return db.Collection(callName).CreateIndexes(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "lawyerID", Value: 1}},
			Options: &options.IndexOptions{
				Unique: &unique,
				PartialFilterExpression: bson.M{
					"status": bson.M{"$in": nonTerminalStatuses},
				},
			},
		},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "createdAt", Value: -1}}},
	})
}

func (c *callDatabase) Create(ctx context.Context, call *models.EmergencyCall) error {
	if id := c.db.Collection(callName).InsertOne(ctx, call).Decode(); id == nil {
		return errors.New("failed to insert emergency call")
	}
	return nil
}

func (c *callDatabase) Get(ctx context.Context, id primitive.ObjectID) (*models.EmergencyCall, error) {
	call := &models.EmergencyCall{}
	err := c.db.Collection(callName).FindOne(ctx, bson.M{"_id": id}).Decode(call)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, dispatch.ErrNotFound
		}
		return nil, err
	}
	return call, nil
}

func (c *callDatabase) Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) ([]models.EmergencyCall, error) {
	var calls []models.EmergencyCall
	err := c.db.Collection(callName).Find(ctx, filter, opts...).Decode(&calls)
	if err != nil {
		return nil, err
	}
	return calls, nil
}

func (c *callDatabase) CountByStatus(ctx context.Context, status models.CallStatus) (int64, error) {
	return c.db.Collection(callName).CountDocuments(ctx, bson.M{"status": status})
}

func (c *callDatabase) Claim(ctx context.Context, id primitive.ObjectID, lawyerID string, now time.Time) (*models.EmergencyCall, error) {
	after := options.After
	call := &models.EmergencyCall{}
	err := c.db.Collection(callName).FindOneAndUpdate(ctx,
		bson.M{"_id": id, "status": models.CallPending, "lawyerID": nil},
		bson.M{
			"$set": bson.M{
				"status":    models.CallAssigned,
				"lawyerID":  lawyerID,
				"escalated": false,
				"updatedAt": now,
			},
			"$inc": bson.M{"attemptCount": 1},
		},
		&options.FindOneAndUpdateOptions{ReturnDocument: &after},
	).Decode(call)
	if err != nil {
		// No match: the call left pending first. Duplicate key: the lawyer
		// already holds a non-terminal call (partial unique index).
		if errors.Is(err, mongo.ErrNoDocuments) || mongo.IsDuplicateKeyError(err) {
			return nil, dispatch.ErrConflict
		}
		return nil, err
	}
	return call, nil
}

func (c *callDatabase) Confirm(ctx context.Context, id primitive.ObjectID, lawyerID string, now time.Time) (*models.EmergencyCall, error) {
	after := options.After
	call := &models.EmergencyCall{}
	err := c.db.Collection(callName).FindOneAndUpdate(ctx,
		bson.M{"_id": id, "status": models.CallAssigned, "lawyerID": lawyerID},
		bson.M{"$set": bson.M{
			"status":     models.CallActive,
			"acceptedAt": now,
			"updatedAt":  now,
		}},
		&options.FindOneAndUpdateOptions{ReturnDocument: &after},
	).Decode(call)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, dispatch.ErrStaleState
		}
		return nil, err
	}
	return call, nil
}

func (c *callDatabase) Release(ctx context.Context, id primitive.ObjectID, lawyerID string, now time.Time) (*models.EmergencyCall, error) {
	after := options.After
	call := &models.EmergencyCall{}
	err := c.db.Collection(callName).FindOneAndUpdate(ctx,
		bson.M{"_id": id, "status": models.CallAssigned, "lawyerID": lawyerID},
		bson.M{"$set": bson.M{
			"status":    models.CallPending,
			"lawyerID":  nil,
			"updatedAt": now,
		}},
		&options.FindOneAndUpdateOptions{ReturnDocument: &after},
	).Decode(call)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, dispatch.ErrStaleState
		}
		return nil, err
	}
	return call, nil
}

func (c *callDatabase) Cancel(ctx context.Context, id primitive.ObjectID, actorID, reason string, now time.Time) (*models.EmergencyCall, error) {
	// ReturnDocument defaults to Before: the caller needs the abandoned state.
	call := &models.EmergencyCall{}
	err := c.db.Collection(callName).FindOneAndUpdate(ctx,
		bson.M{"_id": id, "status": bson.M{"$in": bson.A{models.CallPending, models.CallAssigned, models.CallActive}}},
		bson.M{"$set": bson.M{
			"status":       models.CallCancelled,
			"lawyerID":     nil,
			"cancelReason": reason,
			"cancelledBy":  actorID,
			"updatedAt":    now,
		}},
	).Decode(call)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, dispatch.ErrStaleState
		}
		return nil, err
	}
	return call, nil
}

func (c *callDatabase) Complete(ctx context.Context, id primitive.ObjectID, now time.Time) (*models.EmergencyCall, error) {
	after := options.After
	call := &models.EmergencyCall{}
	err := c.db.Collection(callName).FindOneAndUpdate(ctx,
		bson.M{"_id": id, "status": models.CallActive},
		bson.M{"$set": bson.M{
			"status":      models.CallCompleted,
			"completedAt": now,
			"updatedAt":   now,
		}},
		&options.FindOneAndUpdateOptions{ReturnDocument: &after},
	).Decode(call)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, dispatch.ErrStaleState
		}
		return nil, err
	}
	return call, nil
}

func (c *callDatabase) MarkEscalated(ctx context.Context, id primitive.ObjectID, now time.Time) (*models.EmergencyCall, error) {
	after := options.After
	call := &models.EmergencyCall{}
	err := c.db.Collection(callName).FindOneAndUpdate(ctx,
		bson.M{"_id": id, "status": models.CallPending, "escalated": false},
		bson.M{"$set": bson.M{"escalated": true, "updatedAt": now}},
		&options.FindOneAndUpdateOptions{ReturnDocument: &after},
	).Decode(call)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, dispatch.ErrStaleState
		}
		return nil, err
	}
	return call, nil
}

func (c *callDatabase) OpenCallLawyerIDs(ctx context.Context) (map[string]bool, error) {
	ids, err := c.db.Collection(callName).Distinct(ctx, "lawyerID", bson.M{"status": bson.M{"$in": nonTerminalStatuses}})
	if err != nil {
		return nil, err
	}
	open := make(map[string]bool, len(ids))
	for _, id := range ids {
		if s, ok := id.(string); ok {
			open[s] = true
		}
	}
	return open, nil
}
