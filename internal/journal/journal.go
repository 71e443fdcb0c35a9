// Package journal implements the L7 resolution journal: an append-only,
// per-record capped audit trail of every conflict resolution applied.
package journal

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/khryptorgraphics/corpus-sync/internal/crdt"
	"github.com/khryptorgraphics/corpus-sync/internal/resolve"
)

// Entry is the immutable audit record described in spec.md §3.
type Entry struct {
	ID            string
	RecordID      string
	Strategy      resolve.Strategy
	WinnerSiteID  crdt.SiteID
	LocalVersion  uint64
	RemoteVersion uint64
	ResolvedAt    time.Time
	Details       json.RawMessage
}

// Store is the L7 contract: append-only writes, read-by-record and
// read-by-time. Its presence for a record is a necessary condition for
// marking that record's conflict "settled" (§4.6).
type Store interface {
	Append(entry Entry) error
	ByRecord(recordID string) ([]Entry, error)
	Since(t time.Time) ([]Entry, error)
}

// Ring is the default in-memory Store: a per-record capped ring buffer,
// newest-first, retaining at most K entries per record (default 10, §4.6).
type Ring struct {
	mu        sync.RWMutex
	retention int
	byRecord  map[string][]Entry
}

// NewRing builds an in-memory journal retaining up to `retention` entries
// per record. retention <= 0 is treated as spec's default of 10.
func NewRing(retention int) *Ring {
	if retention <= 0 {
		retention = 10
	}
	return &Ring{retention: retention, byRecord: make(map[string][]Entry)}
}

// Append records one resolution outcome, newest-first, truncating to the
// configured retention. Replaying the same (RecordID, ID) pair is a no-op,
// so idempotent replay (§8) does not grow the ring unboundedly.
func (r *Ring) Append(entry Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing := r.byRecord[entry.RecordID]
	for _, e := range existing {
		if e.ID == entry.ID {
			return nil
		}
	}

	entries := append([]Entry{entry}, existing...)
	if len(entries) > r.retention {
		entries = entries[:r.retention]
	}
	r.byRecord[entry.RecordID] = entries
	return nil
}

func (r *Ring) ByRecord(recordID string) ([]Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, len(r.byRecord[recordID]))
	copy(out, r.byRecord[recordID])
	return out, nil
}

func (r *Ring) Since(t time.Time) ([]Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Entry
	for _, entries := range r.byRecord {
		for _, e := range entries {
			if !e.ResolvedAt.Before(t) {
				out = append(out, e)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ResolvedAt.Before(out[j].ResolvedAt) })
	return out, nil
}
