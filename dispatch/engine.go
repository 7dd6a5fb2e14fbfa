package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/lawline/dispatch-api/config"
	"github.com/lawline/dispatch-api/models"
)

// How many ranked candidates one dispatch cycle will try to claim before
// giving up and leaving the call pending.
const maxCandidatesPerCycle = 10

// Engine owns the emergency call lifecycle. It is the only writer of a
// call's status and lawyerID; every transition goes through one conditional
// store update, so concurrent confirms, rejections, cancellations, and timer
// expiries resolve to exactly one winner and the losers get ErrStaleState or
// ErrConflict back.
type Engine struct {
	calls    CallStore
	attempts AttemptStore
	registry *Registry
	matcher  *Matcher
	metrics  MetricsSink
	notifier Notifier
	cfg      config.DispatchConfig

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewEngine wires the dispatch engine.
func NewEngine(calls CallStore, attempts AttemptStore, registry *Registry, matcher *Matcher, metrics MetricsSink, notifier Notifier, cfg config.DispatchConfig) *Engine {
	return &Engine{
		calls:    calls,
		attempts: attempts,
		registry: registry,
		matcher:  matcher,
		metrics:  metrics,
		notifier: notifier,
		cfg:      cfg,
		timers:   make(map[string]*time.Timer),
	}
}

// Stop cancels all outstanding acceptance-window timers.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, t := range e.timers {
		t.Stop()
		delete(e.timers, id)
	}
}

// CreateCall validates and persists a new emergency request, then kicks off
// the first dispatch cycle in the background. The created call is returned
// synchronously; the dispatch outcome is observed via polling or the feed.
func (e *Engine) CreateCall(ctx context.Context, clientID string, lat, lon float64, address string, isUrgent bool, notes string) (*models.EmergencyCall, error) {
	if clientID == "" {
		return nil, fmt.Errorf("%w: clientID is required", ErrValidation)
	}
	if address == "" {
		return nil, fmt.Errorf("%w: address is required", ErrValidation)
	}
	if err := ValidateCoordinates(lat, lon); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	call := &models.EmergencyCall{
		ID:        primitive.NewObjectID(),
		ClientID:  clientID,
		Location:  models.NewLocation(lat, lon, address),
		Status:    models.CallPending,
		IsUrgent:  isUrgent,
		Notes:     notes,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.calls.Create(ctx, call); err != nil {
		return nil, err
	}
	e.metrics.RecordCreated(call)
	zap.S().Infow("emergency call created",
		"callID", call.ID.Hex(), "clientID", clientID, "urgent", isUrgent)

	go func() {
		if err := e.Dispatch(context.Background(), call.ID); err != nil {
			zap.S().Warnw("initial dispatch cycle did not assign", "callID", call.ID.Hex(), "error", err)
		}
	}()
	return call, nil
}

// Dispatch runs one dispatch cycle for a pending call: rank candidates,
// claim the best one, record the attempt, start the acceptance window, and
// notify. Lawyers who lose a claim race to another call are skipped within
// the same cycle. A call that has used up its allowed attempts is escalated
// instead of retried.
func (e *Engine) Dispatch(ctx context.Context, callID primitive.ObjectID) error {
	call, err := e.calls.Get(ctx, callID)
	if err != nil {
		return err
	}
	if call.Status != models.CallPending {
		return fmt.Errorf("%w: call %s is %s", ErrStaleState, callID.Hex(), call.Status)
	}

	if call.AttemptCount >= e.cfg.MaxAttempts {
		return e.escalate(ctx, callID)
	}

	attempted, err := e.attempts.AttemptedLawyers(ctx, callID)
	if err != nil {
		return err
	}

	candidates, err := e.matcher.FindCandidates(ctx, call, attempted, maxCandidatesPerCycle)
	if err != nil {
		if errors.Is(err, ErrNoCandidates) {
			zap.S().Warnw("no eligible lawyers for call", "callID", callID.Hex(), "error", err)
		}
		return err
	}

	for _, cand := range candidates {
		now := time.Now().UTC()
		claimed, err := e.calls.Claim(ctx, callID, cand.LawyerID, now)
		if errors.Is(err, ErrConflict) {
			// Either this lawyer got claimed by another call, or our call
			// left pending. Re-read to tell the two apart.
			cur, gerr := e.calls.Get(ctx, callID)
			if gerr != nil {
				return gerr
			}
			if cur.Status != models.CallPending {
				return fmt.Errorf("%w: call %s is %s", ErrStaleState, callID.Hex(), cur.Status)
			}
			zap.S().Debugw("lawyer claimed elsewhere, trying next candidate",
				"callID", callID.Hex(), "lawyerID", cand.LawyerID)
			continue
		}
		if err != nil {
			return err
		}

		if err := e.attempts.Insert(ctx, &models.DispatchAttempt{
			ID:        primitive.NewObjectID(),
			CallID:    callID,
			LawyerID:  cand.LawyerID,
			Outcome:   models.AttemptPending,
			OfferedAt: now,
		}); err != nil {
			zap.S().Errorw("failed to record dispatch attempt", "callID", callID.Hex(), "error", err)
		}

		e.metrics.RecordTransition(claimed, models.CallPending, models.CallAssigned, now)
		e.notifier.NotifyAssignment(callID.Hex(), cand.LawyerID)
		e.startAcceptanceTimer(callID, cand.LawyerID)

		zap.S().Infow("call offered to lawyer",
			"callID", callID.Hex(), "lawyerID", cand.LawyerID,
			"distanceKm", cand.DistanceKm, "attempt", claimed.AttemptCount)
		return nil
	}

	return fmt.Errorf("%w: all ranked candidates were claimed elsewhere for call %s", ErrNoCandidates, callID.Hex())
}

// Confirm is the lawyer accepting the offer inside the acceptance window:
// assigned -> active. A second confirm, or a confirm after cancellation or
// expiry, gets ErrStaleState and changes nothing.
func (e *Engine) Confirm(ctx context.Context, callID primitive.ObjectID, lawyerID string) (*models.EmergencyCall, error) {
	if lawyerID == "" {
		return nil, fmt.Errorf("%w: lawyerID is required", ErrValidation)
	}
	now := time.Now().UTC()
	call, err := e.calls.Confirm(ctx, callID, lawyerID, now)
	if err != nil {
		return nil, err
	}
	e.stopAcceptanceTimer(callID)

	if err := e.attempts.SetOutcome(ctx, callID, lawyerID, models.AttemptAccepted, now); err != nil {
		zap.S().Errorw("failed to mark attempt accepted", "callID", callID.Hex(), "error", err)
	}
	if err := e.registry.RecordResponse(ctx, lawyerID, call.ResponseTime()); err != nil {
		zap.S().Errorw("failed to record lawyer response time", "lawyerID", lawyerID, "error", err)
	}

	e.metrics.RecordTransition(call, models.CallAssigned, models.CallActive, now)
	e.notifier.NotifyStatusChange(callID.Hex(), models.CallActive)
	zap.S().Infow("lawyer confirmed call",
		"callID", callID.Hex(), "lawyerID", lawyerID, "responseTimeMs", call.ResponseTime().Milliseconds())
	return call, nil
}

// Reject is the lawyer declining the offer: assigned -> pending, then an
// immediate re-dispatch that excludes everyone already attempted.
func (e *Engine) Reject(ctx context.Context, callID primitive.ObjectID, lawyerID string) (*models.EmergencyCall, error) {
	if lawyerID == "" {
		return nil, fmt.Errorf("%w: lawyerID is required", ErrValidation)
	}
	now := time.Now().UTC()
	call, err := e.calls.Release(ctx, callID, lawyerID, now)
	if err != nil {
		return nil, err
	}
	e.stopAcceptanceTimer(callID)

	if err := e.attempts.SetOutcome(ctx, callID, lawyerID, models.AttemptRejected, now); err != nil {
		zap.S().Errorw("failed to mark attempt rejected", "callID", callID.Hex(), "error", err)
	}

	e.metrics.RecordTransition(call, models.CallAssigned, models.CallPending, now)
	e.notifier.NotifyStatusChange(callID.Hex(), models.CallPending)
	zap.S().Infow("lawyer rejected call", "callID", callID.Hex(), "lawyerID", lawyerID)

	go func() {
		if err := e.Dispatch(context.Background(), callID); err != nil {
			zap.S().Warnw("re-dispatch after rejection did not assign", "callID", callID.Hex(), "error", err)
		}
	}()
	return call, nil
}

// Cancel withdraws a call from any non-terminal state, releasing the lawyer
// claim atomically. actorID records who asked (client or operator). A cancel
// racing a confirm resolves to whichever conditional update lands first; the
// loser sees ErrStaleState.
func (e *Engine) Cancel(ctx context.Context, callID primitive.ObjectID, actorID, reason string) (*models.EmergencyCall, error) {
	if actorID == "" {
		return nil, fmt.Errorf("%w: actorID is required", ErrValidation)
	}
	if reason == "" {
		return nil, fmt.Errorf("%w: cancellation reason is required", ErrValidation)
	}
	now := time.Now().UTC()
	prior, err := e.calls.Cancel(ctx, callID, actorID, reason, now)
	if err != nil {
		return nil, err
	}
	e.stopAcceptanceTimer(callID)

	e.metrics.RecordTransition(prior, prior.Status, models.CallCancelled, now)
	e.notifier.NotifyStatusChange(callID.Hex(), models.CallCancelled)
	zap.S().Infow("call cancelled",
		"callID", callID.Hex(), "actorID", actorID, "reason", reason, "priorStatus", prior.Status)

	return e.calls.Get(ctx, callID)
}

// Complete is the consultation-session collaborator reporting the live
// session ended: active -> completed.
func (e *Engine) Complete(ctx context.Context, callID primitive.ObjectID, actorID string) (*models.EmergencyCall, error) {
	now := time.Now().UTC()
	call, err := e.calls.Complete(ctx, callID, now)
	if err != nil {
		return nil, err
	}

	e.metrics.RecordTransition(call, models.CallActive, models.CallCompleted, now)
	e.notifier.NotifyStatusChange(callID.Hex(), models.CallCompleted)
	zap.S().Infow("call completed", "callID", callID.Hex(), "actorID", actorID)
	return call, nil
}

func (e *Engine) escalate(ctx context.Context, callID primitive.ObjectID) error {
	call, err := e.calls.MarkEscalated(ctx, callID, time.Now().UTC())
	if err != nil {
		if errors.Is(err, ErrStaleState) {
			// Already escalated or already moved on; nothing to report twice.
			return ErrEscalated
		}
		return err
	}
	e.metrics.RecordEscalated(call)
	e.notifier.NotifyEscalation(callID.Hex())
	zap.S().Warnw("call exhausted dispatch attempts, escalated",
		"callID", callID.Hex(), "attempts", call.AttemptCount)
	return ErrEscalated
}

func (e *Engine) startAcceptanceTimer(callID primitive.ObjectID, lawyerID string) {
	key := callID.Hex()
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.timers[key]; ok {
		t.Stop()
	}
	e.timers[key] = time.AfterFunc(e.cfg.AcceptWindow, func() {
		e.expireAcceptance(callID, lawyerID)
	})
}

func (e *Engine) stopAcceptanceTimer(callID primitive.ObjectID) {
	key := callID.Hex()
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.timers[key]; ok {
		t.Stop()
		delete(e.timers, key)
	}
}

// expireAcceptance fires when the acceptance window elapses. The timer has
// no authority of its own: it performs the same conditional release any
// reject would, so if a confirm or cancel already won, the release misses
// and the expiry is a no-op.
func (e *Engine) expireAcceptance(callID primitive.ObjectID, lawyerID string) {
	ctx := context.Background()
	now := time.Now().UTC()

	call, err := e.calls.Release(ctx, callID, lawyerID, now)
	if err != nil {
		if !errors.Is(err, ErrStaleState) {
			zap.S().Errorw("acceptance expiry release failed", "callID", callID.Hex(), "error", err)
		}
		return
	}
	e.stopAcceptanceTimer(callID)

	if err := e.attempts.SetOutcome(ctx, callID, lawyerID, models.AttemptTimedOut, now); err != nil {
		zap.S().Errorw("failed to mark attempt timed out", "callID", callID.Hex(), "error", err)
	}

	e.metrics.RecordTransition(call, models.CallAssigned, models.CallPending, now)
	e.notifier.NotifyStatusChange(callID.Hex(), models.CallPending)
	zap.S().Infow("acceptance window expired, re-dispatching",
		"callID", callID.Hex(), "lawyerID", lawyerID)

	if err := e.Dispatch(ctx, callID); err != nil {
		zap.S().Warnw("re-dispatch after expiry did not assign", "callID", callID.Hex(), "error", err)
	}
}
