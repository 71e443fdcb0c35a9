// Package memremote is an in-memory remote.Store used by sync engine tests
// and as a local stand-in when no real cloud backend is configured.
package memremote

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/khryptorgraphics/corpus-sync/internal/remote"
)

// Store is a single-zone-per-instance fake: good enough to exercise push,
// pull-by-cursor, and change notification without a network dependency.
type Store struct {
	mu      sync.Mutex
	records map[string]remote.RemoteRecord
	order   []string
	subs    []chan remote.ChangeSet
}

func New() *Store {
	return &Store{records: make(map[string]remote.RemoteRecord)}
}

func (s *Store) SaveZone(_ context.Context, _ string, records []remote.RemoteRecord) error {
	return s.upsert(records)
}

// Modify applies saving/deleting per-record, reporting remote.KindRecordChanged
// for any saved record whose stored db_version has already moved past the
// pushed one with different content — simulating the stale-push race §7's
// authoritative-state case describes. policy and atomic are accepted but
// not enforced (this fake always writes every field and never half-applies
// a batch).
func (s *Store) Modify(_ context.Context, _ string, saving []remote.RemoteRecord, deleting []string, _ remote.ModifyPolicy, _ bool) (map[string]remote.RecordResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	results := make(map[string]remote.RecordResult, len(saving)+len(deleting))
	var applied []remote.RemoteRecord
	for _, r := range saving {
		if existing, ok := s.records[r.ID]; ok && existing.DBVersion > r.DBVersion && existing.ContentHash != r.ContentHash {
			results[r.ID] = remote.RecordResult{Err: &remote.Error{
				Kind: remote.KindRecordChanged,
				Err:  fmt.Errorf("memremote: record %s has moved to db_version %d", r.ID, existing.DBVersion),
			}}
			continue
		}
		if _, exists := s.records[r.ID]; !exists {
			s.order = append(s.order, r.ID)
		}
		s.records[r.ID] = r
		applied = append(applied, r)
		results[r.ID] = remote.RecordResult{}
	}
	for _, id := range deleting {
		existing, ok := s.records[id]
		if !ok {
			results[id] = remote.RecordResult{}
			continue
		}
		existing.Deleted = true
		s.records[id] = existing
		applied = append(applied, existing)
		results[id] = remote.RecordResult{}
	}

	s.publish(applied)
	return results, nil
}

func (s *Store) upsert(records []remote.RemoteRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		if _, exists := s.records[r.ID]; !exists {
			s.order = append(s.order, r.ID)
		}
		s.records[r.ID] = r
	}
	s.publish(records)
	return nil
}

// publish fans changed records out to every active Subscribe channel.
// Callers must hold s.mu.
func (s *Store) publish(records []remote.RemoteRecord) {
	if len(records) == 0 {
		return
	}
	cs := remote.ChangeSet{Records: append([]remote.RemoteRecord(nil), records...)}
	for _, ch := range s.subs {
		select {
		case ch <- cs:
		default:
		}
	}
}

// FetchZoneChanges paginates s.order by insertion index, using the cursor as
// a decimal offset string so callers exercise real cursor plumbing.
func (s *Store) FetchZoneChanges(_ context.Context, _ string, cursor string, limit int) (remote.ChangeSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	offset := 0
	if cursor != "" {
		offset = decodeCursor(cursor)
	}
	if limit <= 0 {
		limit = 400
	}
	if offset >= len(s.order) {
		return remote.ChangeSet{NextCursor: cursor, HasMore: false}, nil
	}

	end := offset + limit
	if end > len(s.order) {
		end = len(s.order)
	}
	ids := append([]string(nil), s.order[offset:end]...)
	sort.Strings(ids)

	out := make([]remote.RemoteRecord, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.records[id])
	}
	return remote.ChangeSet{
		Records:    out,
		NextCursor: encodeCursor(end),
		HasMore:    end < len(s.order),
	}, nil
}

func (s *Store) Subscribe(ctx context.Context, _ string) (<-chan remote.ChangeSet, error) {
	ch := make(chan remote.ChangeSet, 16)
	s.mu.Lock()
	s.subs = append(s.subs, ch)
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, c := range s.subs {
			if c == ch {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch, nil
}

var _ remote.Store = (*Store)(nil)
