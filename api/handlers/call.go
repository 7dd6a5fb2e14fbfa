package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/lawline/dispatch-api/config"
	"github.com/lawline/dispatch-api/databases"
	"github.com/lawline/dispatch-api/dispatch"
	"github.com/lawline/dispatch-api/models"
)

// Page is the default page used when the query string does not set one.
var Page int

// Dispatcher is the engine surface the call handlers drive. Narrowed to an
// interface so handler tests can run against an engine over the in-memory
// store.
type Dispatcher interface {
	CreateCall(ctx context.Context, clientID string, lat, lon float64, address string, isUrgent bool, notes string) (*models.EmergencyCall, error)
	Confirm(ctx context.Context, callID primitive.ObjectID, lawyerID string) (*models.EmergencyCall, error)
	Reject(ctx context.Context, callID primitive.ObjectID, lawyerID string) (*models.EmergencyCall, error)
	Cancel(ctx context.Context, callID primitive.ObjectID, actorID, reason string) (*models.EmergencyCall, error)
	Complete(ctx context.Context, callID primitive.ObjectID, actorID string) (*models.EmergencyCall, error)
}

// Call exported for testing purposes
type Call struct {
	DB         databases.CallDatabase
	Dispatcher Dispatcher
}

// CreateCallRequest is the intake payload.
type CreateCallRequest struct {
	ClientID string  `json:"clientID"`
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	Address  string  `json:"address"`
	IsUrgent bool    `json:"isUrgent"`
	Notes    string  `json:"notes"`
}

// CreateCallHandler validates and persists a new emergency call and kicks
// off dispatch. The call id comes back synchronously; assignment progress is
// observed by polling or through the feed.
func (c Call) CreateCallHandler(w http.ResponseWriter, r *http.Request) {
	var requestBody CreateCallRequest
	if err := json.NewDecoder(r.Body).Decode(&requestBody); err != nil {
		config.ErrorStatus("failed to decode request body", http.StatusBadRequest, w, err)
		return
	}

	call, err := c.Dispatcher.CreateCall(r.Context(),
		requestBody.ClientID, requestBody.Lat, requestBody.Lon,
		requestBody.Address, requestBody.IsUrgent, requestBody.Notes)
	if err != nil {
		config.ErrorStatus("failed to create emergency call", dispatchErrorStatus(err), w, err)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"message": "Emergency call created successfully",
		"call":    call,
	})
}

// CallHandler returns emergency calls, optionally filtered by status and the
// escalated flag, newest first
func (c Call) CallHandler(w http.ResponseWriter, r *http.Request) {
	Limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil {
		Limit = 10
		zap.S().Warnf(fmt.Sprintf("limit not set, using default of %v, err: %v", Limit, err))
	}
	Page = getPage(Page, r)

	filter := bson.M{}
	if status := r.URL.Query().Get("status"); status != "" {
		filter["status"] = models.CallStatus(status)
	}
	if escalated := r.URL.Query().Get("escalated"); escalated != "" {
		escalatedB, err := strconv.ParseBool(escalated)
		if err != nil {
			config.ErrorStatus("invalid escalated value", http.StatusBadRequest, w, err)
			return
		}
		filter["escalated"] = escalatedB
	}

	dbResp, err := c.DB.Find(context.TODO(), filter, databases.PaginatedOpts(Limit, Page))
	if err != nil {
		config.ErrorStatus("failed to get emergency calls", http.StatusNotFound, w, err)
		return
	}
	// Because the frontend requires that the data elements exist, if
	// len == 0 then we will just return an empty data object
	if len(dbResp) == 0 {
		dbResp = []models.EmergencyCall{}
	}
	b, err := json.Marshal(dbResp)
	if err != nil {
		config.ErrorStatus("failed to marshal response", http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

// CallByIDHandler returns an emergency call by ID
func (c Call) CallByIDHandler(w http.ResponseWriter, r *http.Request) {
	callID := mux.Vars(r)["call_id"]

	zap.S().Debugf("call_id: %v", callID)

	cID, err := primitive.ObjectIDFromHex(callID)
	if err != nil {
		config.ErrorStatus("failed to get objectID from Hex", http.StatusBadRequest, w, err)
		return
	}

	dbResp, err := c.DB.Get(context.Background(), cID)
	if err != nil {
		config.ErrorStatus("failed to get emergency call by ID", dispatchErrorStatus(err), w, err)
		return
	}

	b, err := json.Marshal(dbResp)
	if err != nil {
		config.ErrorStatus("failed to marshal response", http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

// ConfirmCallHandler is the lawyer accepting an offered call
func (c Call) ConfirmCallHandler(w http.ResponseWriter, r *http.Request) {
	cID, ok := callIDFromRequest(w, r)
	if !ok {
		return
	}
	var requestBody struct {
		LawyerID string `json:"lawyerID"`
	}
	if err := json.NewDecoder(r.Body).Decode(&requestBody); err != nil {
		config.ErrorStatus("failed to decode request body", http.StatusBadRequest, w, err)
		return
	}

	call, err := c.Dispatcher.Confirm(r.Context(), cID, requestBody.LawyerID)
	if err != nil {
		config.ErrorStatus("failed to confirm emergency call", dispatchErrorStatus(err), w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"message": "Emergency call confirmed successfully",
		"call":    call,
	})
}

// RejectCallHandler is the lawyer declining an offered call
func (c Call) RejectCallHandler(w http.ResponseWriter, r *http.Request) {
	cID, ok := callIDFromRequest(w, r)
	if !ok {
		return
	}
	var requestBody struct {
		LawyerID string `json:"lawyerID"`
	}
	if err := json.NewDecoder(r.Body).Decode(&requestBody); err != nil {
		config.ErrorStatus("failed to decode request body", http.StatusBadRequest, w, err)
		return
	}

	call, err := c.Dispatcher.Reject(r.Context(), cID, requestBody.LawyerID)
	if err != nil {
		config.ErrorStatus("failed to reject emergency call", dispatchErrorStatus(err), w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"message": "Emergency call rejected successfully",
		"call":    call,
	})
}

// CancelCallHandler withdraws a call on behalf of the client or an operator
func (c Call) CancelCallHandler(w http.ResponseWriter, r *http.Request) {
	cID, ok := callIDFromRequest(w, r)
	if !ok {
		return
	}
	var requestBody struct {
		ActorID string `json:"actorID"`
		Reason  string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&requestBody); err != nil {
		config.ErrorStatus("failed to decode request body", http.StatusBadRequest, w, err)
		return
	}

	call, err := c.Dispatcher.Cancel(r.Context(), cID, requestBody.ActorID, requestBody.Reason)
	if err != nil {
		config.ErrorStatus("failed to cancel emergency call", dispatchErrorStatus(err), w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"message": "Emergency call cancelled successfully",
		"call":    call,
	})
}

// CompleteCallHandler is the consultation-session service reporting the live
// session ended
func (c Call) CompleteCallHandler(w http.ResponseWriter, r *http.Request) {
	cID, ok := callIDFromRequest(w, r)
	if !ok {
		return
	}
	var requestBody struct {
		ActorID string `json:"actorID"`
	}
	if err := json.NewDecoder(r.Body).Decode(&requestBody); err != nil {
		config.ErrorStatus("failed to decode request body", http.StatusBadRequest, w, err)
		return
	}

	call, err := c.Dispatcher.Complete(r.Context(), cID, requestBody.ActorID)
	if err != nil {
		config.ErrorStatus("failed to complete emergency call", dispatchErrorStatus(err), w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"message": "Emergency call completed successfully",
		"call":    call,
	})
}

func callIDFromRequest(w http.ResponseWriter, r *http.Request) (primitive.ObjectID, bool) {
	cID, err := primitive.ObjectIDFromHex(mux.Vars(r)["call_id"])
	if err != nil {
		config.ErrorStatus("failed to get objectID from Hex", http.StatusBadRequest, w, err)
		return primitive.NilObjectID, false
	}
	return cID, true
}

func dispatchErrorStatus(err error) int {
	switch {
	case errors.Is(err, dispatch.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, dispatch.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, dispatch.ErrConflict), errors.Is(err, dispatch.ErrStaleState):
		return http.StatusConflict
	case errors.Is(err, dispatch.ErrEscalated):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func getPage(Page int, r *http.Request) int {
	if r.URL.Query().Get("page") == "" {
		zap.S().Warnf("page not set, using default of %v", Page)
	} else {
		var err error
		Page, err = strconv.Atoi(r.URL.Query().Get("page"))
		if err != nil {
			zap.S().Errorf(fmt.Sprintf("error parsing page number: %v", err))
		}
		if Page < 0 {
			zap.S().Warnf(fmt.Sprintf("cannot process page number less than 1. Got: %v", Page))
			return 0
		}
	}
	return Page
}
