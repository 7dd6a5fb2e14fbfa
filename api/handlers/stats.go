package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/lawline/dispatch-api/config"
	"github.com/lawline/dispatch-api/dispatch"
)

// Stats exported for testing purposes
type Stats struct {
	Metrics *dispatch.Aggregator
}

// StatsHandler returns the current operational snapshot. Counters are
// eventually consistent with the dispatch flow, not a live database scan.
func (s Stats) StatsHandler(w http.ResponseWriter, r *http.Request) {
	snapshot := s.Metrics.Snapshot(time.Now().UTC())

	b, err := json.Marshal(snapshot)
	if err != nil {
		config.ErrorStatus("failed to marshal response", http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}
