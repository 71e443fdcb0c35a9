package remote

import (
	"errors"
	"fmt"
	"time"
)

// Kind discriminates the remote failure taxonomy from spec.md §6, letting
// the sync engine branch on cause (retry, re-auth, surface to the user)
// instead of matching on error strings.
type Kind int

const (
	KindOther Kind = iota
	KindNotAuthenticated
	KindNetworkUnavailable
	KindQuotaExceeded
	KindZoneNotFound
	KindRecordNotFound
	KindRecordChanged
	KindRateLimited
	KindServiceUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindNotAuthenticated:
		return "not_authenticated"
	case KindNetworkUnavailable:
		return "network_unavailable"
	case KindQuotaExceeded:
		return "quota_exceeded"
	case KindZoneNotFound:
		return "zone_not_found"
	case KindRecordNotFound:
		return "record_not_found"
	case KindRecordChanged:
		return "record_changed"
	case KindRateLimited:
		return "rate_limited"
	case KindServiceUnavailable:
		return "service_unavailable"
	default:
		return "other"
	}
}

// Error wraps a remote-store failure with its discriminated kind. RetryAfter
// carries the server-advised backoff when present (zero when absent); the
// sync engine waits it out before retrying any retryable kind and uses it
// as the reset time for KindQuotaExceeded.
type Error struct {
	Kind       Kind
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("remote: %s", e.Kind)
	}
	return fmt.Sprintf("remote: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the sync engine should retry this call with
// backoff rather than surfacing it as a terminal failure (§7).
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindNetworkUnavailable, KindRateLimited, KindServiceUnavailable:
		return true
	default:
		return false
	}
}

func newError(kind Kind, err error) *Error { return &Error{Kind: kind, Err: err} }

// AsError unwraps err into a *Error, reporting false when err does not
// carry a discriminated remote kind (e.g. it came from ctx cancellation).
func AsError(err error) (*Error, bool) {
	var re *Error
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}
