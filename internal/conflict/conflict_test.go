package conflict

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khryptorgraphics/corpus-sync/internal/crdt"
	"github.com/khryptorgraphics/corpus-sync/internal/record"
)

func TestDetectFieldLevelMergeable(t *testing.T) {
	now := time.Unix(1000, 0)
	local := &record.Record{ID: "r1", Payload: record.NotePayload{Tags: []string{"urgent"}}}
	remote := &record.Record{ID: "r1", Payload: record.NotePayload{Tags: []string{"review"}}}

	localMeta := crdt.Metadata{
		RecordID: "r1", SiteID: "device_aa", ColumnVersion: 2, DBVersion: 1,
		LastWriteWins: now, ContentHash: "ha", ModifiedFields: crdt.NewFieldSet("tags"),
	}
	remoteMeta := crdt.Metadata{
		RecordID: "r1", SiteID: "device_bb", ColumnVersion: 2, DBVersion: 1,
		LastWriteWins: now.Add(2 * time.Second), ContentHash: "hb", ModifiedFields: crdt.NewFieldSet("tags"),
	}

	d := New(crdt.DefaultConfig(), func() time.Time { return now })
	info, err := d.Detect(Pair{RecordID: "r1", Local: local, Remote: remote, LocalMeta: &localMeta, RemoteMeta: &remoteMeta})
	require.NoError(t, err)
	assert.Equal(t, crdt.FieldLevelMergeable, info.Type)
	assert.False(t, info.Stale)
	require.Len(t, info.Fields, 1)
	assert.Equal(t, "tags", info.Fields[0].Field)
}

func TestDetectStaleOutsideWindow(t *testing.T) {
	now := time.Unix(1000, 0)
	local := &record.Record{ID: "r1", Payload: record.NotePayload{Content: "a"}}
	remote := &record.Record{ID: "r1", Payload: record.NotePayload{Content: "b"}}

	localMeta := crdt.Metadata{
		ColumnVersion: 1, DBVersion: 1, LastWriteWins: now, ContentHash: "ha",
		ModifiedFields: crdt.NewFieldSet("content"),
	}
	remoteMeta := crdt.Metadata{
		ColumnVersion: 1, DBVersion: 1, LastWriteWins: now.Add(400 * time.Second), ContentHash: "hb",
		ModifiedFields: crdt.NewFieldSet("content"),
	}

	d := New(crdt.DefaultConfig(), func() time.Time { return now })
	info, err := d.Detect(Pair{RecordID: "r1", Local: local, Remote: remote, LocalMeta: &localMeta, RemoteMeta: &remoteMeta})
	require.NoError(t, err)
	assert.True(t, info.Stale)
}

func TestDetectOneSidedMissingIsDeletionConflict(t *testing.T) {
	d := New(crdt.DefaultConfig(), nil)
	remote := &record.Record{ID: "r1", Payload: record.NotePayload{Content: "b"}}
	info, err := d.Detect(Pair{RecordID: "r1", Remote: remote})
	require.NoError(t, err)
	assert.Nil(t, info.Local)
	assert.NotNil(t, info.Remote)
}

func TestDetectBothMissingErrors(t *testing.T) {
	d := New(crdt.DefaultConfig(), nil)
	_, err := d.Detect(Pair{RecordID: "r1"})
	assert.ErrorIs(t, err, ErrRecordMissing)
}
