package models

import "time"

// LawyerPresence holds the structure for the lawyerPresence collection.
// One document per lawyer, keyed by lawyer ID, upserted on every ping.
type LawyerPresence struct {
	LawyerID         string    `json:"lawyerID" bson:"_id"`
	Location         Location  `json:"location" bson:"location"`
	IsAvailable      bool      `json:"isAvailable" bson:"isAvailable"`
	LastSeenAt       time.Time `json:"lastSeenAt" bson:"lastSeenAt"`
	Rating           float64   `json:"rating" bson:"rating"`
	MedianResponseMs int64     `json:"medianResponseMs" bson:"medianResponseMs"`
}

// Fresh reports whether the lawyer pinged within the staleness threshold.
func (p LawyerPresence) Fresh(now time.Time, staleAfter time.Duration) bool {
	return now.Sub(p.LastSeenAt) <= staleAfter
}
