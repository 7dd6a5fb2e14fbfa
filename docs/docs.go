// Package docs Lawline Dispatch API.
//
// Documentation of the Lawline emergency dispatch API.
//
//	Schemes: https
//	BasePath: /
//	Version: 1.0.0
//
//	Consumes:
//	- application/json
//
//	Produces:
//	- application/json
//
// swagger:meta
package docs

import (
	"github.com/lawline/dispatch-api/models"
)

// swagger:route GET /health health healthEndpointID
// Lists the healthchex of the web service api.
// responses:
//   200: healthResponse

// Shows the current health of the api. true means it is alive, false means it is not.
// swagger:response healthResponse
type healthResponseWrapper struct {
	// in:body
	Body models.HealthCheckResponse
}

// swagger:route POST /api/v1/emergency-calls emergency-calls createEmergencyCall
// Creates an emergency call and starts dispatch.
// responses:
//   201: emergencyCallResponse

// swagger:route GET /api/v1/emergency-calls/{call_id} emergency-calls emergencyCallByID
// Gets a single emergency call by ID.
// responses:
//   200: emergencyCallResponse

// A single emergency call with its current lifecycle state.
// swagger:response emergencyCallResponse
type emergencyCallResponseWrapper struct {
	// in:body
	Body models.EmergencyCall
}

// swagger:route GET /api/v1/emergency-calls/stats emergency-calls emergencyCallStats
// Gets the current dispatch statistics snapshot.
// responses:
//   200: emergencyCallStatsResponse

// Operational counters and sliding-window averages, eventually consistent
// with the dispatch flow.
// swagger:response emergencyCallStatsResponse
type emergencyCallStatsResponseWrapper struct {
	// in:body
	Body models.EmergencyCallStats
}

// swagger:route GET /api/v1/lawyers/{lawyer_id}/presence lawyers lawyerPresenceByID
// Gets the last known presence for a lawyer.
// responses:
//   200: lawyerPresenceResponse

// A lawyer's last known location, availability, and response statistics.
// swagger:response lawyerPresenceResponse
type lawyerPresenceResponseWrapper struct {
	// in:body
	Body models.LawyerPresence
}
