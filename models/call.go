package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// CallStatus is the lifecycle state of an emergency call.
type CallStatus string

// Valid call statuses. Completed and Cancelled are terminal.
const (
	CallPending   CallStatus = "pending"
	CallAssigned  CallStatus = "assigned"
	CallActive    CallStatus = "active"
	CallCompleted CallStatus = "completed"
	CallCancelled CallStatus = "cancelled"
)

// Terminal reports whether s is a terminal status.
func (s CallStatus) Terminal() bool {
	return s == CallCompleted || s == CallCancelled
}

// Location is a GeoJSON point. Coordinates are [longitude, latitude] per the
// GeoJSON spec, which is what the mongo 2dsphere index expects.
type Location struct {
	Type        string    `json:"type" bson:"type"`
	Coordinates []float64 `json:"coordinates" bson:"coordinates"`
	Address     string    `json:"address" bson:"address"`
}

// NewLocation builds a GeoJSON point from a lat/lon pair.
func NewLocation(lat, lon float64, address string) Location {
	return Location{Type: "Point", Coordinates: []float64{lon, lat}, Address: address}
}

// Latitude returns the point's latitude.
func (l Location) Latitude() float64 {
	if len(l.Coordinates) != 2 {
		return 0
	}
	return l.Coordinates[1]
}

// Longitude returns the point's longitude.
func (l Location) Longitude() float64 {
	if len(l.Coordinates) != 2 {
		return 0
	}
	return l.Coordinates[0]
}

// EmergencyCall holds the structure for the emergencyCalls collection.
//
// Status and LawyerID are owned by the dispatch engine and only ever change
// through its conditional updates; nothing else writes them.
type EmergencyCall struct {
	ID           primitive.ObjectID `json:"_id" bson:"_id"`
	ClientID     string             `json:"clientID" bson:"clientID"`
	LawyerID     *string            `json:"lawyerID" bson:"lawyerID"`
	Location     Location           `json:"location" bson:"location"`
	Status       CallStatus         `json:"status" bson:"status"`
	Escalated    bool               `json:"escalated" bson:"escalated"`
	IsUrgent     bool               `json:"isUrgent" bson:"isUrgent"`
	Notes        string             `json:"notes" bson:"notes"`
	AttemptCount int                `json:"attemptCount" bson:"attemptCount"`
	CancelReason string             `json:"cancelReason,omitempty" bson:"cancelReason,omitempty"`
	CancelledBy  string             `json:"cancelledBy,omitempty" bson:"cancelledBy,omitempty"`
	CreatedAt    time.Time          `json:"createdAt" bson:"createdAt"`
	UpdatedAt    time.Time          `json:"updatedAt" bson:"updatedAt"`
	AcceptedAt   *time.Time         `json:"acceptedAt" bson:"acceptedAt"`
	CompletedAt  *time.Time         `json:"completedAt" bson:"completedAt"`
}

// WaitTime is how long the client has been (or was) waiting for a lawyer to
// accept. While nobody has accepted it runs against now.
func (c EmergencyCall) WaitTime(now time.Time) time.Duration {
	if c.AcceptedAt != nil {
		return c.AcceptedAt.Sub(c.CreatedAt)
	}
	return now.Sub(c.CreatedAt)
}

// ResponseTime is acceptedAt - createdAt, zero until a lawyer confirms.
func (c EmergencyCall) ResponseTime() time.Duration {
	if c.AcceptedAt == nil {
		return 0
	}
	return c.AcceptedAt.Sub(c.CreatedAt)
}
