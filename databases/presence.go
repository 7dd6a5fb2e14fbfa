package databases

// go generate: mockery --name PresenceDatabase

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/lawline/dispatch-api/dispatch"
	"github.com/lawline/dispatch-api/models"
)

const presenceName = "lawyerPresence"

// Rolling response samples kept per lawyer for the median calculation.
const responseSampleCap = 25

// PresenceDatabase contains the methods to use with the lawyer presence database.
// It implements dispatch.PresenceStore.
type PresenceDatabase interface {
	dispatch.PresenceStore
}

type presenceDatabase struct {
	db DatabaseHelper
}

// NewPresenceDatabase initializes a new instance of presence database with the provided db connection
func NewPresenceDatabase(db DatabaseHelper) PresenceDatabase {
	return &presenceDatabase{
		db: db,
	}
}

// EnsurePresenceIndexes creates the 2dsphere index used for range queries on
// large fleets. The in-process haversine scan does not need it, but keeping
// the index means the matcher can swap to $nearSphere without a migration.
func EnsurePresenceIndexes(ctx context.Context, db DatabaseHelper) error {
	return db.Collection(presenceName).CreateIndexes(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "location", Value: "2dsphere"}}},
		{Keys: bson.D{{Key: "isAvailable", Value: 1}, {Key: "lastSeenAt", Value: -1}}},
	})
}

func (p *presenceDatabase) Upsert(ctx context.Context, lawyerID string, lat, lon float64, now time.Time) error {
	upsert := true
	_, err := p.db.Collection(presenceName).UpdateOne(ctx,
		bson.M{"_id": lawyerID},
		bson.M{
			"$set": bson.M{
				"location":   models.NewLocation(lat, lon, ""),
				"lastSeenAt": now,
			},
			"$setOnInsert": bson.M{"isAvailable": false},
		},
		&options.UpdateOptions{Upsert: &upsert},
	)
	return err
}

func (p *presenceDatabase) SetAvailability(ctx context.Context, lawyerID string, available bool) error {
	upsert := true
	_, err := p.db.Collection(presenceName).UpdateOne(ctx,
		bson.M{"_id": lawyerID},
		bson.M{"$set": bson.M{"isAvailable": available}},
		&options.UpdateOptions{Upsert: &upsert},
	)
	return err
}

func (p *presenceDatabase) Get(ctx context.Context, lawyerID string) (*models.LawyerPresence, error) {
	presence := &models.LawyerPresence{}
	err := p.db.Collection(presenceName).FindOne(ctx, bson.M{"_id": lawyerID}).Decode(presence)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, dispatch.ErrNotFound
		}
		return nil, err
	}
	return presence, nil
}

func (p *presenceDatabase) ListAvailable(ctx context.Context, since time.Time) ([]models.LawyerPresence, error) {
	var presences []models.LawyerPresence
	err := p.db.Collection(presenceName).Find(ctx, bson.M{
		"isAvailable": true,
		"lastSeenAt":  bson.M{"$gte": since},
	}).Decode(&presences)
	if err != nil {
		return nil, err
	}
	return presences, nil
}

// presenceSamples is the private shape used to read back the rolling window.
type presenceSamples struct {
	ResponseSamplesMs []int64 `bson:"responseSamplesMs"`
}

func (p *presenceDatabase) RecordResponse(ctx context.Context, lawyerID string, response time.Duration) error {
	coll := p.db.Collection(presenceName)

	var doc presenceSamples
	if err := coll.FindOne(ctx, bson.M{"_id": lawyerID}).Decode(&doc); err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
		return err
	}

	samples := append(doc.ResponseSamplesMs, response.Milliseconds())
	if len(samples) > responseSampleCap {
		samples = samples[len(samples)-responseSampleCap:]
	}

	_, err := coll.UpdateOne(ctx,
		bson.M{"_id": lawyerID},
		bson.M{"$set": bson.M{
			"responseSamplesMs": samples,
			"medianResponseMs":  medianInt64(samples),
		}},
	)
	return err
}

func medianInt64(samples []int64) int64 {
	if len(samples) == 0 {
		return 0
	}
	sorted := make([]int64, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
