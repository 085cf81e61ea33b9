package discovery

import "errors"

// Sentinel errors. Everything below the run driver is absorbed into counted
// outcomes; only these surface to callers.
var (
	// ErrStoreUnavailable aborts a run before any adapter is invoked.
	ErrStoreUnavailable = errors.New("discovery: store unavailable")
	// ErrRunInProgress rejects a second concurrent run.
	ErrRunInProgress = errors.New("discovery: run already in progress")
	// ErrUnknownCadence rejects a trigger with a cadence name that is not
	// fast, deep or comprehensive.
	ErrUnknownCadence = errors.New("discovery: unknown cadence")
	// ErrTriggerQueued means a manual trigger coalesced into one already
	// pending.
	ErrTriggerQueued = errors.New("discovery: trigger already queued")
)
