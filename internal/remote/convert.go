package remote

import (
	"github.com/khryptorgraphics/corpus-sync/internal/crdt"
	"github.com/khryptorgraphics/corpus-sync/internal/record"
)

// ToRemote flattens a local Record and its CRDT metadata into the wire
// shape the remote store understands. Fields are keyed by the
// record.Field* names; ColumnVersion is the record's single counter.
func ToRemote(zoneID string, r record.Record, m crdt.Metadata) RemoteRecord {
	return RemoteRecord{
		ID:            r.ID,
		ZoneID:        zoneID,
		Fields:        r.Payload.Values(),
		SiteID:        string(m.SiteID),
		DBVersion:     m.DBVersion,
		ColumnVersion: m.ColumnVersion,
		ContentHash:   m.ContentHash,
		UpdatedAt:     m.LastWriteWins,
		Deleted:       r.IsDeleted(),
	}
}

// FromRemote reconstructs a local Record and Metadata pair from a wire
// record, the inverse of ToRemote. ModifiedFields is left empty: a record
// freshly pulled from the remote has nothing locally modified until this
// replica touches it (§3).
func FromRemote(rr RemoteRecord) (record.Record, crdt.Metadata) {
	payload := record.NotePayload{}
	for field, v := range rr.Fields {
		payload.SetValue(field, v)
	}

	r := record.Record{
		ID:         rr.ID,
		Payload:    payload,
		ModifiedAt: rr.UpdatedAt,
	}
	if rr.Deleted {
		t := rr.UpdatedAt
		r.DeletedAt = &t
	}
	m := crdt.Metadata{
		RecordID:      rr.ID,
		SiteID:        crdt.SiteID(rr.SiteID),
		DBVersion:     rr.DBVersion,
		ColumnVersion: rr.ColumnVersion,
		ContentHash:   rr.ContentHash,
		LastWriteWins: rr.UpdatedAt,
	}
	return r, m
}
