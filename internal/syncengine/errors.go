package syncengine

import "fmt"

// Cause names why a cycle landed in StateFailed or StateBackoff, letting
// callers (the adaptive monitor, a status endpoint) branch without string
// matching (§7).
type Cause string

const (
	CauseRemoteUnavailable Cause = "remote_unavailable"
	CauseAuthExpired       Cause = "auth_expired"
	CauseQuotaExceeded     Cause = "quota_exceeded"
	// CauseRecordChanged is the §7 "authoritative-state" case: the remote
	// rejected a push because the record has already moved past the
	// version this replica pushed. It is retryable, but not by resending
	// the same push — the next pull phase fetches the remote's newer
	// version, the detector reclassifies it against the still-pending
	// local edit, and the resolver re-resolves it before the following
	// push attempt.
	CauseRecordChanged     Cause = "record_changed"
	CauseLocalStoreFailure Cause = "local_store_failure"
	CauseMergeUnresolvable Cause = "merge_unresolvable"
	CauseCancelled         Cause = "cancelled"
	CauseOther             Cause = "other"
)

// Error is the taxonomy-tagged failure this engine reports, one layer
// above the remote package's Kind so local-store and merge failures get a
// cause too, not just remote ones.
type Error struct {
	Cause Cause
	Err   error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("syncengine: %s", e.Cause)
	}
	return fmt.Sprintf("syncengine: %s: %v", e.Cause, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether this cause should move the engine to
// StateBackoff rather than the terminal StateFailed.
func (e *Error) Retryable() bool {
	switch e.Cause {
	case CauseRemoteUnavailable, CauseRecordChanged:
		return true
	default:
		// CauseQuotaExceeded is deliberately non-retryable (§4.4, §7):
		// quota_exceeded must surface immediately rather than backing off.
		return false
	}
}
