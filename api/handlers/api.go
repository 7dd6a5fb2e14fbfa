package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/lawline/dispatch-api/api"
	"github.com/lawline/dispatch-api/config"
	"github.com/lawline/dispatch-api/databases"
	"github.com/lawline/dispatch-api/dispatch"
	"github.com/lawline/dispatch-api/models"
)

// App stores the router and db connection, so it can be reused
type App struct {
	Router   *mux.Router
	Config   config.Config
	Engine   *dispatch.Engine
	Registry *dispatch.Registry
	Metrics  *dispatch.Aggregator
	Feed     *Feed
	dbHelper databases.DatabaseHelper
}

// New creates a new mux router and all the routes
func (a *App) New() *mux.Router {
	r := mux.NewRouter()

	if a.Feed == nil {
		a.Feed = NewFeed()
	}

	call := Call{DB: databases.NewCallDatabase(a.dbHelper), Dispatcher: a.Engine}
	presence := Presence{Registry: a.Registry}
	stats := Stats{Metrics: a.Metrics}

	// healthchex
	r.HandleFunc("/health", healthCheckHandler)

	apiCreate := r.PathPrefix("/api/v1").Subrouter()

	apiCreate.Handle("/emergency-calls", api.Middleware(http.HandlerFunc(call.CreateCallHandler))).Methods("POST")
	apiCreate.Handle("/emergency-calls", api.Middleware(http.HandlerFunc(call.CallHandler))).Methods("GET")
	apiCreate.Handle("/emergency-calls/stats", api.Middleware(http.HandlerFunc(stats.StatsHandler))).Methods("GET")
	apiCreate.Handle("/emergency-calls/{call_id}", api.Middleware(http.HandlerFunc(call.CallByIDHandler))).Methods("GET")
	apiCreate.Handle("/emergency-calls/{call_id}/confirm", api.Middleware(http.HandlerFunc(call.ConfirmCallHandler))).Methods("POST")
	apiCreate.Handle("/emergency-calls/{call_id}/reject", api.Middleware(http.HandlerFunc(call.RejectCallHandler))).Methods("POST")
	apiCreate.Handle("/emergency-calls/{call_id}/cancel", api.Middleware(http.HandlerFunc(call.CancelCallHandler))).Methods("POST")
	apiCreate.Handle("/emergency-calls/{call_id}/complete", api.Middleware(http.HandlerFunc(call.CompleteCallHandler))).Methods("POST")

	apiCreate.Handle("/lawyers/{lawyer_id}/presence", api.Middleware(http.HandlerFunc(presence.UpdatePresenceHandler))).Methods("PUT")
	apiCreate.Handle("/lawyers/{lawyer_id}/presence", api.Middleware(http.HandlerFunc(presence.GetPresenceHandler))).Methods("GET")

	apiCreate.HandleFunc("/ws", a.Feed.ServeWS)

	return r
}

// Initialize is invoked by main to connect with the database and create a router
func (a *App) Initialize() error {

	client, err := databases.NewClient(&a.Config)
	if err != nil {
		// if we fail to create a new database client, then kill the pod
		zap.S().With(err).Error("failed to create new client")
		return err
	}

	a.dbHelper = databases.NewDatabase(&a.Config, client)
	err = client.Connect()
	if err != nil {
		// if we fail to connect to the database, then kill the pod
		zap.S().With(err).Error("failed to connect to database")
		return err
	}
	zap.S().Info("dispatch-api has connected to the database")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := databases.EnsureCallIndexes(ctx, a.dbHelper); err != nil {
		zap.S().With(err).Error("failed to ensure call indexes")
		return err
	}
	if err := databases.EnsurePresenceIndexes(ctx, a.dbHelper); err != nil {
		zap.S().With(err).Error("failed to ensure presence indexes")
		return err
	}
	if err := databases.EnsureAttemptIndexes(ctx, a.dbHelper); err != nil {
		zap.S().With(err).Error("failed to ensure attempt indexes")
		return err
	}

	callDB := databases.NewCallDatabase(a.dbHelper)
	presenceDB := databases.NewPresenceDatabase(a.dbHelper)
	attemptDB := databases.NewAttemptDatabase(a.dbHelper)

	dc := a.Config.Dispatch
	a.Metrics = dispatch.NewAggregator(dc.StatsWindow)
	a.Registry = dispatch.NewRegistry(presenceDB, callDB, dc.PresenceStaleAfter)
	a.Feed = NewFeed()

	notifier := dispatch.MultiNotifier{
		dispatch.LogNotifier{},
		a.Feed,
		dispatch.EscalationMailer{
			APIKey: os.Getenv("SENDGRID_API_KEY"),
			From:   dc.EscalationAlertFrom,
			To:     dc.EscalationAlertTo,
		},
	}

	matcher := dispatch.NewMatcher(a.Registry, dc.SearchRadiusKm, dc.SearchRadiusCeilKm)
	a.Engine = dispatch.NewEngine(callDB, attemptDB, a.Registry, matcher, a.Metrics, notifier, dc)

	// initialize api router
	a.initializeRoutes()
	return nil

}

func (a *App) initializeRoutes() {
	a.Router = a.New()
}

func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	b, _ := json.Marshal(models.HealthCheckResponse{
		Alive: true,
	})
	_, _ = io.WriteString(w, string(b))
}
