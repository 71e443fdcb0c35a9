// Package store defines the L2 contract this core consumes: a durable local
// record store with ACID read/write transactions. The durable store itself
// is out of scope (§1) — this package only shapes the port and ships an
// in-memory reference implementation used by tests and as a library default.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/khryptorgraphics/corpus-sync/internal/crdt"
	"github.com/khryptorgraphics/corpus-sync/internal/journal"
	"github.com/khryptorgraphics/corpus-sync/internal/record"
)

// PendingConflict is a conflict deferred from automatic resolution,
// persisted so it survives a restart until a human resolves it (§6).
type PendingConflict struct {
	RecordID   string
	LocalSnap  record.Record
	RemoteSnap record.Record
	LocalMeta  crdt.Metadata
	RemoteMeta crdt.Metadata
	Fields     json.RawMessage
	DetectedAt time.Time
}

// SyncState is the sync_state singleton row (§6).
type SyncState struct {
	ChangeToken        string
	LastSyncAt         time.Time
	ConsecutiveFailures int
	LastError          string
	ConflictCount       int
}

// Tx is the set of typed operations available inside one transaction.
type Tx interface {
	GetRecord(id string) (record.Record, bool, error)
	UpsertRecord(r record.Record) error
	DeleteRecord(id string) error
	PendingSince(cursor time.Time) ([]record.Record, error)

	GetMetadata(id string) (crdt.Metadata, bool, error)
	UpsertMetadata(m crdt.Metadata) error

	GetPendingConflict(id string) (PendingConflict, bool, error)
	UpsertPendingConflict(c PendingConflict) error
	DeletePendingConflict(id string) error

	JournalAppend(entry journal.Entry) error

	GetSyncState() (SyncState, error)
	PutSyncState(s SyncState) error
}

// LocalStore is the L2 external contract (§6): readers may run concurrently,
// writes run under a single writer transaction with ACID semantics.
type LocalStore interface {
	Read(ctx context.Context, fn func(Tx) error) error
	Write(ctx context.Context, fn func(Tx) error) error
}
