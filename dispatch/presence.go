package dispatch

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lawline/dispatch-api/models"
)

// ClaimChecker answers which lawyers currently hold a non-terminal call.
// Satisfied by CallStore; split out so the registry does not depend on the
// whole call surface.
type ClaimChecker interface {
	OpenCallLawyerIDs(ctx context.Context) (map[string]bool, error)
}

// Registry tracks lawyer presence: last known location, the explicit
// availability toggle, and ping freshness. It is the ground truth the
// matcher queries. Staleness is evaluated lazily at match time; there is no
// background sweep, so an eligibility check can never race a ping.
type Registry struct {
	store      PresenceStore
	claims     ClaimChecker
	staleAfter time.Duration
}

// NewRegistry builds a presence registry.
func NewRegistry(store PresenceStore, claims ClaimChecker, staleAfter time.Duration) *Registry {
	return &Registry{store: store, claims: claims, staleAfter: staleAfter}
}

// UpdateLocation upserts a lawyer's location and bumps lastSeenAt. It never
// touches the availability flag.
func (r *Registry) UpdateLocation(ctx context.Context, lawyerID string, lat, lon float64) error {
	if lawyerID == "" {
		return fmt.Errorf("%w: lawyerID is required", ErrValidation)
	}
	if err := ValidateCoordinates(lat, lon); err != nil {
		return err
	}
	return r.store.Upsert(ctx, lawyerID, lat, lon, time.Now().UTC())
}

// SetAvailability records the lawyer's explicit opt-in/out, independent of
// location freshness.
func (r *Registry) SetAvailability(ctx context.Context, lawyerID string, available bool) error {
	if lawyerID == "" {
		return fmt.Errorf("%w: lawyerID is required", ErrValidation)
	}
	return r.store.SetAvailability(ctx, lawyerID, available)
}

// Get returns a single lawyer's presence document.
func (r *Registry) Get(ctx context.Context, lawyerID string) (*models.LawyerPresence, error) {
	return r.store.Get(ctx, lawyerID)
}

// RecordResponse folds a confirmed response time into the lawyer's rolling stats.
func (r *Registry) RecordResponse(ctx context.Context, lawyerID string, response time.Duration) error {
	return r.store.RecordResponse(ctx, lawyerID, response)
}

// IsEligible reports whether a lawyer can receive an offer right now:
// available, location-fresh, and not holding a non-terminal call.
func (r *Registry) IsEligible(p models.LawyerPresence, now time.Time, busy map[string]bool) bool {
	return p.IsAvailable && p.Fresh(now, r.staleAfter) && !busy[p.LawyerID]
}

// Eligible returns a snapshot of every currently eligible lawyer. The
// snapshot can go stale the instant it is returned; the claim step in the
// engine is what actually enforces exclusivity, so no lock is held across
// match and offer.
func (r *Registry) Eligible(ctx context.Context, now time.Time) ([]models.LawyerPresence, error) {
	available, err := r.store.ListAvailable(ctx, now.Add(-r.staleAfter))
	if err != nil {
		return nil, err
	}
	busy, err := r.claims.OpenCallLawyerIDs(ctx)
	if err != nil {
		return nil, err
	}

	eligible := available[:0]
	for _, p := range available {
		if r.IsEligible(p, now, busy) {
			eligible = append(eligible, p)
		}
	}
	zap.S().Debugf("presence snapshot: %d available, %d eligible", len(available), len(eligible))
	return eligible, nil
}

// ValidateCoordinates checks latitude and longitude ranges.
func ValidateCoordinates(lat, lon float64) error {
	if lat < -90 || lat > 90 {
		return fmt.Errorf("%w: latitude must be between -90 and 90", ErrValidation)
	}
	if lon < -180 || lon > 180 {
		return fmt.Errorf("%w: longitude must be between -180 and 180", ErrValidation)
	}
	return nil
}
