package handlers_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/lawline/dispatch-api/api/handlers"
	"github.com/lawline/dispatch-api/dispatch"
	"github.com/lawline/dispatch-api/models"
)

func TestStats_StatsHandler(t *testing.T) {
	agg := dispatch.NewAggregator(24 * time.Hour)
	t.Cleanup(agg.Stop)
	s := handlers.Stats{Metrics: agg}

	now := time.Now().UTC()
	agg.RecordCreated(&models.EmergencyCall{
		ID:        primitive.NewObjectID(),
		ClientID:  "client-1",
		Status:    models.CallPending,
		CreatedAt: now,
		UpdatedAt: now,
	})

	// The aggregator applies events asynchronously; poll until the snapshot
	// catches up.
	require.Eventually(t, func() bool {
		req, err := http.NewRequest("GET", "/api/v1/emergency-calls/stats", nil)
		if err != nil {
			t.Fatal(err)
		}
		rr := httptest.NewRecorder()
		http.HandlerFunc(s.StatsHandler).ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			return false
		}
		var stats models.EmergencyCallStats
		if err := json.Unmarshal(rr.Body.Bytes(), &stats); err != nil {
			return false
		}
		return stats.PendingNow == 1 && !stats.GeneratedAt.IsZero()
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStats_StatsHandlerEmpty(t *testing.T) {
	agg := dispatch.NewAggregator(24 * time.Hour)
	t.Cleanup(agg.Stop)
	s := handlers.Stats{Metrics: agg}

	req, err := http.NewRequest("GET", "/api/v1/emergency-calls/stats", nil)
	if err != nil {
		t.Fatal(err)
	}

	rr := httptest.NewRecorder()
	http.HandlerFunc(s.StatsHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	var stats models.EmergencyCallStats
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &stats))
	assert.Zero(t, stats.PendingNow)
	assert.Zero(t, stats.CompletionRate)
}
