// Package errs defines the coordinator's error taxonomy: a small set of
// sentinel errors plus the severity each must be handled at (spec.md §7).
//
//   - Fatal:   the calling backend cannot proceed at all (registry full,
//     oracle unreachable with no local fallback). Propagates to the caller
//     as an error; does not crash the process by itself.
//   - Error:   aborts only the calling transaction (snapshot too old, a
//     rejected negative bitmap member).
//   - Warning: logged, not propagated (a known-assigned duplicate removal
//     that the cache being overflowed would explain away).
//   - Panic:   a local sanity invariant was violated; the process should
//     stop and let supervision restart and re-register it, rather than
//     continue with possibly corrupted shared state.
package errs

import "errors"

// Severity classifies how a caller must react to an error.
type Severity int

const (
	SeverityError Severity = iota
	SeverityFatal
	SeverityWarning
	SeverityPanic
)

func (s Severity) String() string {
	switch s {
	case SeverityFatal:
		return "fatal"
	case SeverityWarning:
		return "warning"
	case SeverityPanic:
		return "panic"
	default:
		return "error"
	}
}

// CoordError wraps a sentinel error with the severity it must be handled at.
type CoordError struct {
	Severity Severity
	Err      error
}

func (e *CoordError) Error() string { return e.Severity.String() + ": " + e.Err.Error() }
func (e *CoordError) Unwrap() error { return e.Err }

func wrap(sev Severity, err error) *CoordError { return &CoordError{Severity: sev, Err: err} }

// Fatal wraps err as a Fatal-severity CoordError.
func Fatal(err error) *CoordError { return wrap(SeverityFatal, err) }

// Panic wraps err as a Panic-severity CoordError. Callers that reach an
// invariant violation should pass the result to panic() directly.
func Panic(err error) *CoordError { return wrap(SeverityPanic, err) }

// Warn wraps err as a Warning-severity CoordError (caller logs, does not abort).
func Warn(err error) *CoordError { return wrap(SeverityWarning, err) }

// Err wraps err as an ordinary Error-severity CoordError.
func Err(err error) *CoordError { return wrap(SeverityError, err) }

// Sentinel errors named directly in spec.md §7.
var (
	// ErrTooManyClients: registry full on Add. Fatal.
	ErrTooManyClients = errors.New("procarray: too many clients, registry is full")

	// ErrOracleUnavailable: timestamp oracle RPC failed and the GTS source
	// policy is not LocalOnly. Fatal.
	ErrOracleUnavailable = errors.New("gts: timestamp oracle unavailable")

	// ErrSnapshotTooOld: start_ts older than the recomputed RecentCommitTs. Error.
	ErrSnapshotTooOld = errors.New("snapshot: start timestamp older than recent commit horizon")

	// ErrNegativeBitmapMember: bitmapset rejecting a negative input. Error.
	ErrNegativeBitmapMember = errors.New("bitmapset: member must be nonnegative")

	// ErrKnownAssignedCorruption: out-of-order insertion into known-assigned. Panic.
	ErrKnownAssignedCorruption = errors.New("standby: out-of-order insertion into known-assigned xids")

	// ErrXminConsistency: a slot's xid/xmin precedes a previously reported
	// global xmin. Implies cluster-wide clock or membership corruption. Panic.
	ErrXminConsistency = errors.New("procarray: xmin consistency violated")

	// ErrDuplicateKnownAssigned: a running-xacts record listed an xid that
	// is already present (prepared transactions may be listed twice across
	// overlapping records). Warning, not an error — see DESIGN.md Open
	// Question 3.
	ErrDuplicateKnownAssigned = errors.New("standby: duplicate known-assigned xid")

	// ErrSlotNotOwned: a caller attempted to mutate a ProcSlot it does not own.
	ErrSlotNotOwned = errors.New("procarray: slot not owned by caller")

	// ErrLatestCompletedRegression: AdvanceLatestCompletedXid observed a
	// CAS succeed with a value that precedes what was already there.
	// Implies concurrent writers raced around the monotonic check itself.
	// Panic.
	ErrLatestCompletedRegression = errors.New("procarray: latestCompletedXid regressed")
)
