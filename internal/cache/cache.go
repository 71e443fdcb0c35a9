// Package cache holds the sync engine's cross-restart scratch state:
// per-zone change-token cursors and the remote quota state recorded after
// the remote returns quota_exceeded, so later phases fail fast until the
// quota resets. None of
// this is durable truth (that's internal/store's job) — it is safe to
// lose and rebuild from a full resync.
package cache

import (
	"context"
	"time"
)

// QuotaState is the locally tracked view of remote push/pull budget,
// refreshed opportunistically from remote responses (§4.7).
type QuotaState struct {
	RemainingRequests int
	ResetAt           time.Time
}

// Cache is the scratch-state port: change tokens keyed by zone, and a
// single quota state shared across zones (most remotes quota per account,
// not per zone).
type Cache interface {
	GetChangeToken(ctx context.Context, zoneID string) (string, bool, error)
	PutChangeToken(ctx context.Context, zoneID, token string) error

	GetQuota(ctx context.Context) (QuotaState, bool, error)
	PutQuota(ctx context.Context, q QuotaState) error
}
