package dispatch

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/lawline/dispatch-api/models"
)

const earthRadiusKm = 6371.0

// Candidate is one ranked match for a call.
type Candidate struct {
	LawyerID         string
	DistanceKm       float64
	MedianResponseMs int64
	Rating           float64
}

// Matcher ranks eligible lawyers for a call by distance, historical
// responsiveness, and rating. It scans the presence snapshot in-process with
// a haversine distance; small fleets never need more, and the presence
// collection already carries a 2dsphere index if a range-query implementation
// becomes necessary.
type Matcher struct {
	registry     *Registry
	baseRadiusKm float64
	ceilingKm    float64
}

// NewMatcher builds a matcher with the configured search radii.
func NewMatcher(registry *Registry, baseRadiusKm, ceilingKm float64) *Matcher {
	return &Matcher{registry: registry, baseRadiusKm: baseRadiusKm, ceilingKm: ceilingKm}
}

// Expansions is how many radius doublings the matcher performs before giving
// up, given its configured base and ceiling.
func (m *Matcher) Expansions() int {
	n := 0
	for r := m.baseRadiusKm; r < m.ceilingKm; r *= 2 {
		n++
	}
	return n
}

// FindCandidates returns lawyers ordered by the composite score: distance
// ascending, then median response time ascending (unknown last), then rating
// descending, then lawyerID ascending so ties are deterministic. Lawyers in
// exclude with a rejected or timed-out attempt for this call are skipped.
//
// If nothing is inside the base radius the radius doubles, up to the
// configured ceiling; exhausting the ceiling returns ErrNoCandidates.
func (m *Matcher) FindCandidates(ctx context.Context, call *models.EmergencyCall, exclude map[string]models.AttemptOutcome, limit int) ([]Candidate, error) {
	now := time.Now().UTC()
	snapshot, err := m.registry.Eligible(ctx, now)
	if err != nil {
		return nil, err
	}

	lat, lon := call.Location.Latitude(), call.Location.Longitude()
	pool := make([]Candidate, 0, len(snapshot))
	for _, p := range snapshot {
		if out, ok := exclude[p.LawyerID]; ok && (out == models.AttemptRejected || out == models.AttemptTimedOut) {
			continue
		}
		pool = append(pool, Candidate{
			LawyerID:         p.LawyerID,
			DistanceKm:       HaversineKm(lat, lon, p.Location.Latitude(), p.Location.Longitude()),
			MedianResponseMs: p.MedianResponseMs,
			Rating:           p.Rating,
		})
	}

	expansions := 0
	for radius := m.baseRadiusKm; ; radius *= 2 {
		inRange := withinRadius(pool, radius)
		if len(inRange) > 0 {
			rankCandidates(inRange)
			if limit > 0 && len(inRange) > limit {
				inRange = inRange[:limit]
			}
			return inRange, nil
		}
		if radius >= m.ceilingKm {
			return nil, fmt.Errorf("%w for call %s within %.1f km after %d radius expansions",
				ErrNoCandidates, call.ID.Hex(), radius, expansions)
		}
		expansions++
		zap.S().Debugf("no candidates within %.1f km for call %s, expanding search radius", radius, call.ID.Hex())
	}
}

func withinRadius(pool []Candidate, radiusKm float64) []Candidate {
	var out []Candidate
	for _, c := range pool {
		if c.DistanceKm <= radiusKm {
			out = append(out, c)
		}
	}
	return out
}

func rankCandidates(cands []Candidate) {
	sort.Slice(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.DistanceKm != b.DistanceKm {
			return a.DistanceKm < b.DistanceKm
		}
		// A lawyer with no history sorts after one with any history.
		if (a.MedianResponseMs == 0) != (b.MedianResponseMs == 0) {
			return b.MedianResponseMs == 0
		}
		if a.MedianResponseMs != b.MedianResponseMs {
			return a.MedianResponseMs < b.MedianResponseMs
		}
		if a.Rating != b.Rating {
			return a.Rating > b.Rating
		}
		return a.LawyerID < b.LawyerID
	})
}

// HaversineKm is the great-circle distance between two points in kilometers.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	rlat1 := lat1 * math.Pi / 180
	rlat2 := lat2 * math.Pi / 180
	dlat := (lat2 - lat1) * math.Pi / 180
	dlon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dlat/2)*math.Sin(dlat/2) +
		math.Cos(rlat1)*math.Cos(rlat2)*math.Sin(dlon/2)*math.Sin(dlon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}
