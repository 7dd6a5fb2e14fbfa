package dispatch

import "errors"

// Sentinel errors returned by the dispatch core. Callers match them with
// errors.Is; the HTTP layer maps them onto status codes.
var (
	// ErrValidation rejects malformed intake input before anything is persisted.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound means no call or presence document exists for the given id.
	ErrNotFound = errors.New("not found")

	// ErrConflict means a claim lost its race: the lawyer is already assigned
	// elsewhere or the call left pending before the claim landed. The caller
	// must re-read state; the core never silently retries a lost claim.
	ErrConflict = errors.New("claim conflict")

	// ErrNoCandidates means the matcher exhausted its radius expansions with
	// zero eligible lawyers. The call stays pending.
	ErrNoCandidates = errors.New("no eligible candidates")

	// ErrStaleState means a confirm/reject/cancel arrived after the call had
	// already moved on. No state was changed.
	ErrStaleState = errors.New("stale call state")

	// ErrEscalated means the call exhausted its dispatch attempts and now
	// needs operator intervention.
	ErrEscalated = errors.New("call escalated")
)
