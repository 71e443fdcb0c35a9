// Package remote shapes the L2 external contract this core consumes: a
// cloud record store reachable over the network, out of scope for this
// repo's own implementation (§1) but depended on through the RemoteStore
// port below and the RemoteRecord wire shape it exchanges.
package remote

import (
	"context"
	"time"

	"github.com/khryptorgraphics/corpus-sync/internal/record"
)

// RemoteRecord is the wire shape exchanged with the remote store: a
// record's fields plus the CRDT metadata the remote is authoritative for
// echoing back unchanged (§4).
type RemoteRecord struct {
	ID            string
	ZoneID        string
	Fields        map[string]record.Value
	SiteID        string
	DBVersion     uint64
	ColumnVersion uint64
	ContentHash   string
	UpdatedAt     time.Time
	Deleted       bool
}

// ChangeSet is one page of remote changes returned by FetchZoneChanges,
// carrying the opaque cursor to resume from on the next call.
type ChangeSet struct {
	Records    []RemoteRecord
	NextCursor string
	HasMore    bool
}

// ModifyPolicy tells the remote which fields of a saved record to write,
// per §6's modify(saving, deleting, policy, atomic) contract.
type ModifyPolicy string

const (
	// PolicyChangedKeys writes only the fields the local modified_fields
	// set names, leaving every other remote field untouched — the default
	// push policy (§4.4 step 3: "policy=changed_keys").
	PolicyChangedKeys ModifyPolicy = "changed_keys"
	// PolicyReplaceAll overwrites the entire remote record with the pushed
	// fields, used for first-sync/full-resync pushes.
	PolicyReplaceAll ModifyPolicy = "replace_all"
)

// RecordResult is one record's outcome from a Modify call. A nil Err means
// the record was saved or deleted as requested; a non-nil Err (typically
// an *Error) lets the caller distinguish "this record moved underneath
// us" (KindRecordChanged) from a record-scoped validation failure without
// failing every other record in the same chunk (§4.4.3, §7).
type RecordResult struct {
	Err error
}

// Store is the L2 RemoteStore port (§6): push (save/modify), subscribe to
// server-sent changes, and pull incremental changes by cursor. Every
// method surfaces failures through Error so callers can branch on kind
// instead of string-matching.
type Store interface {
	SaveZone(ctx context.Context, zoneID string, records []RemoteRecord) error
	// Modify saves records and deletes tombstoned ids in one remote call,
	// per §6's `modify(saving[], deleting[], policy, atomic) -> map<record_id,
	// result>`. The returned map has one entry per id in saving and
	// deleting; a non-nil top-level error means the call never reached the
	// remote (e.g. network/auth failure) and no id should be assumed
	// applied. atomic requests all-or-nothing application when the remote
	// supports it; callers must still handle a false positive map result
	// from remotes that only support best-effort atomicity.
	Modify(ctx context.Context, zoneID string, saving []RemoteRecord, deleting []string, policy ModifyPolicy, atomic bool) (map[string]RecordResult, error)
	FetchZoneChanges(ctx context.Context, zoneID, cursor string, limit int) (ChangeSet, error)
	Subscribe(ctx context.Context, zoneID string) (<-chan ChangeSet, error)
}
