package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/lawline/dispatch-api/config"
	"github.com/lawline/dispatch-api/dispatch"
)

// Presence exported for testing purposes
type Presence struct {
	Registry *dispatch.Registry
}

// UpdatePresenceRequest is the heartbeat payload. IsAvailable is optional so
// a location ping does not have to repeat the availability flag.
type UpdatePresenceRequest struct {
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	IsAvailable *bool   `json:"isAvailable"`
}

// UpdatePresenceHandler records a lawyer heartbeat: current location plus
// optionally the availability toggle
func (p Presence) UpdatePresenceHandler(w http.ResponseWriter, r *http.Request) {
	lawyerID := mux.Vars(r)["lawyer_id"]

	var requestBody UpdatePresenceRequest
	if err := json.NewDecoder(r.Body).Decode(&requestBody); err != nil {
		config.ErrorStatus("failed to decode request body", http.StatusBadRequest, w, err)
		return
	}

	if err := p.Registry.UpdateLocation(r.Context(), lawyerID, requestBody.Lat, requestBody.Lon); err != nil {
		config.ErrorStatus("failed to update lawyer presence", dispatchErrorStatus(err), w, err)
		return
	}

	if requestBody.IsAvailable != nil {
		if err := p.Registry.SetAvailability(r.Context(), lawyerID, *requestBody.IsAvailable); err != nil {
			config.ErrorStatus("failed to update lawyer availability", dispatchErrorStatus(err), w, err)
			return
		}
	}

	presence, err := p.Registry.Get(r.Context(), lawyerID)
	if err != nil {
		config.ErrorStatus("failed to get lawyer presence", dispatchErrorStatus(err), w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"message":  "Lawyer presence updated successfully",
		"presence": presence,
	})
}

// GetPresenceHandler returns the last known presence for a lawyer
func (p Presence) GetPresenceHandler(w http.ResponseWriter, r *http.Request) {
	lawyerID := mux.Vars(r)["lawyer_id"]

	presence, err := p.Registry.Get(r.Context(), lawyerID)
	if err != nil {
		config.ErrorStatus("failed to get lawyer presence", dispatchErrorStatus(err), w, err)
		return
	}

	b, err := json.Marshal(presence)
	if err != nil {
		config.ErrorStatus("failed to marshal response", http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}
