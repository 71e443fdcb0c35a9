// Package memstore is an in-memory LocalStore reference implementation: a
// library default for tests and for running this core without a real
// durable store wired in.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/khryptorgraphics/corpus-sync/internal/crdt"
	"github.com/khryptorgraphics/corpus-sync/internal/journal"
	"github.com/khryptorgraphics/corpus-sync/internal/record"
	"github.com/khryptorgraphics/corpus-sync/internal/store"
)

// Store is a single-process, mutex-guarded LocalStore. Read and Write both
// take the same lock: there is exactly one writer and readers see a
// consistent snapshot for the duration of their closure, matching the ACID
// semantics the L2 contract requires without needing real MVCC.
type Store struct {
	mu sync.RWMutex

	records   map[string]record.Record
	metadata  map[string]crdt.Metadata
	pending   map[string]store.PendingConflict
	journal   map[string][]journal.Entry
	syncState store.SyncState
}

func New() *Store {
	return &Store{
		records:  make(map[string]record.Record),
		metadata: make(map[string]crdt.Metadata),
		pending:  make(map[string]store.PendingConflict),
		journal:  make(map[string][]journal.Entry),
	}
}

func (s *Store) Read(_ context.Context, fn func(store.Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&tx{s: s, readonly: true})
}

func (s *Store) Write(_ context.Context, fn func(store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&tx{s: s})
}

type tx struct {
	s        *Store
	readonly bool
}

func (t *tx) GetRecord(id string) (record.Record, bool, error) {
	r, ok := t.s.records[id]
	return r.Clone(), ok, nil
}

func (t *tx) UpsertRecord(r record.Record) error {
	t.s.records[r.ID] = r.Clone()
	return nil
}

func (t *tx) DeleteRecord(id string) error {
	delete(t.s.records, id)
	return nil
}

func (t *tx) PendingSince(cursor time.Time) ([]record.Record, error) {
	var out []record.Record
	for _, r := range t.s.records {
		if r.ModifiedAt.After(cursor) && r.NeedsPush() {
			out = append(out, r.Clone())
		}
	}
	return out, nil
}

func (t *tx) GetMetadata(id string) (crdt.Metadata, bool, error) {
	m, ok := t.s.metadata[id]
	return m, ok, nil
}

func (t *tx) UpsertMetadata(m crdt.Metadata) error {
	t.s.metadata[m.RecordID] = m
	return nil
}

func (t *tx) GetPendingConflict(id string) (store.PendingConflict, bool, error) {
	c, ok := t.s.pending[id]
	return c, ok, nil
}

func (t *tx) UpsertPendingConflict(c store.PendingConflict) error {
	t.s.pending[c.RecordID] = c
	return nil
}

func (t *tx) DeletePendingConflict(id string) error {
	delete(t.s.pending, id)
	return nil
}

func (t *tx) JournalAppend(entry journal.Entry) error {
	existing := t.s.journal[entry.RecordID]
	for _, e := range existing {
		if e.ID == entry.ID {
			return nil
		}
	}
	t.s.journal[entry.RecordID] = append([]journal.Entry{entry}, existing...)
	return nil
}

func (t *tx) GetSyncState() (store.SyncState, error) {
	return t.s.syncState, nil
}

func (t *tx) PutSyncState(s store.SyncState) error {
	t.s.syncState = s
	return nil
}
