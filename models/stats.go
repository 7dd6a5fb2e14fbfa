package models

import "time"

// EmergencyCallStats is the stats endpoint payload. Derived from transition
// history by the metrics aggregator; eventually consistent with dispatch.
type EmergencyCallStats struct {
	PendingNow            int           `json:"pendingNow"`
	AssignedNow           int           `json:"assignedNow"`
	ActiveNow             int           `json:"activeNow"`
	EscalatedNow          int           `json:"escalatedNow"`
	CompletedToday        int           `json:"completedToday"`
	CancelledToday        int           `json:"cancelledToday"`
	AverageResponseTimeMs int64         `json:"averageResponseTimeMs"`
	AverageWaitTimeMs     int64         `json:"averageWaitTimeMs"`
	CompletionRate        float64       `json:"completionRate"`
	Window                time.Duration `json:"-"`
	GeneratedAt           time.Time     `json:"generatedAt"`
}
