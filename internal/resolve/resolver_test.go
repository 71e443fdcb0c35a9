package resolve

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khryptorgraphics/corpus-sync/internal/conflict"
	"github.com/khryptorgraphics/corpus-sync/internal/crdt"
	"github.com/khryptorgraphics/corpus-sync/internal/record"
)

// Scenario 1 (§8): tag union merge.
func TestResolveAutomatically_TagUnionMerge(t *testing.T) {
	now := time.Unix(100, 0)
	local := &record.Record{ID: "r1", Payload: record.NotePayload{Tags: []string{"urgent"}}, SyncVersion: 3}
	remote := &record.Record{ID: "r1", Payload: record.NotePayload{Tags: []string{"review"}}, SyncVersion: 4}

	localMeta := crdt.Metadata{SiteID: "device_aa", ColumnVersion: 2, DBVersion: 1, LastWriteWins: time.Unix(10, 0), ContentHash: "ha", ModifiedFields: crdt.NewFieldSet("tags")}
	remoteMeta := crdt.Metadata{SiteID: "device_bb", ColumnVersion: 2, DBVersion: 1, LastWriteWins: time.Unix(12, 0), ContentHash: "hb", ModifiedFields: crdt.NewFieldSet("tags")}

	info := conflict.Info{
		RecordID: "r1", Local: local, Remote: remote,
		LocalMeta: localMeta, RemoteMeta: remoteMeta, Type: crdt.FieldLevelMergeable,
		DetectedAt: now,
	}

	r := New(DefaultConfig())
	resolved, deferred := r.ResolveAutomatically([]conflict.Info{info})
	require.Empty(t, deferred)
	require.Len(t, resolved, 1)
	assert.Equal(t, []string{"review", "urgent"}, resolved[0].Record.Payload.Tags)
	assert.Equal(t, StrategyFieldLevelMerge, resolved[0].Strategy)
	assert.Equal(t, uint64(5), resolved[0].Record.SyncVersion)
}

// Scenario 2 (§8): LWW tiebreak on identical timestamps picks greater site_id.
func TestResolveCRDT_LWWTiebreakOnIdenticalTimestamp(t *testing.T) {
	ts := time.Unix(100, 0)
	local := record.Record{ID: "r1", Payload: record.NotePayload{Content: "local-content"}}
	remote := record.Record{ID: "r1", Payload: record.NotePayload{Content: "remote-content"}}

	localMeta := crdt.Metadata{SiteID: "device_aa", ColumnVersion: 1, DBVersion: 1, LastWriteWins: ts, ContentHash: "ha", ModifiedFields: crdt.NewFieldSet("content")}
	remoteMeta := crdt.Metadata{SiteID: "device_bb", ColumnVersion: 1, DBVersion: 1, LastWriteWins: ts, ContentHash: "hb", ModifiedFields: crdt.NewFieldSet("content")}

	r := New(DefaultConfig())
	rr, err := r.ResolveCRDT(local, remote, localMeta, remoteMeta)
	require.NoError(t, err)
	assert.Equal(t, crdt.SiteID("device_bb"), rr.WinnerSiteID)
	assert.Equal(t, "remote-content", rr.Record.Payload.Content)
	assert.Equal(t, StrategyLastWriteWins, rr.Strategy)
}

// Scenario 3 (§8): stale-age deferral beyond the auto window.
func TestResolveAutomatically_StaleAgeDeferral(t *testing.T) {
	local := &record.Record{ID: "r1", Payload: record.NotePayload{Content: "a"}}
	remote := &record.Record{ID: "r1", Payload: record.NotePayload{Content: "b"}}
	localMeta := crdt.Metadata{SiteID: "device_aa", LastWriteWins: time.Unix(0, 0), ContentHash: "ha", ModifiedFields: crdt.NewFieldSet("content")}
	remoteMeta := crdt.Metadata{SiteID: "device_bb", LastWriteWins: time.Unix(400, 0), ContentHash: "hb", ModifiedFields: crdt.NewFieldSet("content")}

	info := conflict.Info{RecordID: "r1", Local: local, Remote: remote, LocalMeta: localMeta, RemoteMeta: remoteMeta, Type: crdt.ContentConflict}

	r := New(DefaultConfig())
	resolved, deferred := r.ResolveAutomatically([]conflict.Info{info})
	assert.Empty(t, resolved)
	require.Len(t, deferred, 1)
}

func TestResolveCRDT_HappensBeforeAfter(t *testing.T) {
	r := New(DefaultConfig())
	local := record.Record{Payload: record.NotePayload{Content: "local"}}
	remote := record.Record{Payload: record.NotePayload{Content: "remote"}}

	lm := crdt.Metadata{SiteID: "device_aa", ColumnVersion: 1, DBVersion: 1}
	rm := crdt.Metadata{SiteID: "device_bb", ColumnVersion: 1, DBVersion: 2}
	rr, err := r.ResolveCRDT(local, remote, lm, rm)
	require.NoError(t, err)
	assert.Equal(t, StrategyHappensBefore, rr.Strategy)
	assert.Equal(t, "remote", rr.Record.Payload.Content)

	rr2, err := r.ResolveCRDT(remote, local, rm, lm)
	require.NoError(t, err)
	assert.Equal(t, StrategyHappensAfter, rr2.Strategy)
	assert.Equal(t, "remote", rr2.Record.Payload.Content)
}

func TestResolveCRDT_UnclassifiedFieldErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FieldPolicy = map[string]FieldPolicy{} // nothing classified
	r := New(cfg)

	local := record.Record{Payload: record.NotePayload{Content: "a"}}
	remote := record.Record{Payload: record.NotePayload{Content: "b"}}
	lm := crdt.Metadata{SiteID: "device_aa", ContentHash: "ha"}
	rm := crdt.Metadata{SiteID: "device_bb", ContentHash: "hb"}

	_, err := r.ResolveCRDT(local, remote, lm, rm)
	require.ErrorIs(t, err, ErrMergeNotRepresentable)
}

func TestResolveDeletionConflict(t *testing.T) {
	deletedAt := time.Unix(100, 0)
	r := New(DefaultConfig())

	t.Run("remote live after tombstone wins", func(t *testing.T) {
		local := &record.Record{ID: "r1", DeletedAt: &deletedAt}
		remote := &record.Record{ID: "r1", Payload: record.NotePayload{Content: "alive"}, ModifiedAt: deletedAt.Add(time.Minute)}
		info := conflict.Info{RecordID: "r1", Local: local, Remote: remote,
			LocalMeta:  crdt.Metadata{SiteID: "device_aa"},
			RemoteMeta: crdt.Metadata{SiteID: "device_bb"}}
		resolved, deferred := r.ResolveAutomatically([]conflict.Info{info})
		require.Empty(t, deferred)
		require.Len(t, resolved, 1)
		assert.Equal(t, "alive", resolved[0].Record.Payload.Content)
	})

	t.Run("tombstone after modification wins", func(t *testing.T) {
		local := &record.Record{ID: "r1", DeletedAt: &deletedAt}
		remote := &record.Record{ID: "r1", Payload: record.NotePayload{Content: "alive"}, ModifiedAt: deletedAt.Add(-time.Minute)}
		info := conflict.Info{RecordID: "r1", Local: local, Remote: remote,
			LocalMeta:  crdt.Metadata{SiteID: "device_aa"},
			RemoteMeta: crdt.Metadata{SiteID: "device_bb"}}
		resolved, deferred := r.ResolveAutomatically([]conflict.Info{info})
		require.Empty(t, deferred)
		require.Len(t, resolved, 1)
		assert.NotNil(t, resolved[0].Record.DeletedAt)
	})
}

func TestApplyManual(t *testing.T) {
	local := &record.Record{ID: "r1", Payload: record.NotePayload{Content: "local", Name: "L"}}
	remote := &record.Record{ID: "r1", Payload: record.NotePayload{Content: "remote", Name: "R"}}
	info := conflict.Info{
		RecordID: "r1", Local: local, Remote: remote,
		LocalMeta:  crdt.Metadata{SiteID: "device_aa"},
		RemoteMeta: crdt.Metadata{SiteID: "device_bb"},
	}

	r := New(DefaultConfig())
	decision := ManualDecision{Choices: map[string]FieldChoice{
		record.FieldContent: ChoiceUseRemote,
		record.FieldName:    ChoiceUseLocal,
	}}
	rr, err := r.ApplyManual(info, decision)
	require.NoError(t, err)
	assert.Equal(t, "remote", rr.Record.Payload.Content)
	assert.Equal(t, "L", rr.Record.Payload.Name)
	assert.Equal(t, StrategyManual, rr.Strategy)

	_, err = r.ApplyManual(info, ManualDecision{Choices: map[string]FieldChoice{"bogus": ChoiceUseLocal}})
	assert.ErrorIs(t, err, ErrInvalidDecision)
}

// §8: resolve_crdt(a, b) == resolve_crdt(b, a) -- commutative on the merged
// payload, independent of argument order.
func TestResolveCRDT_Commutative(t *testing.T) {
	r := New(DefaultConfig())
	local := record.Record{Payload: record.NotePayload{Content: "c1", Tags: []string{"a"}}}
	remote := record.Record{Payload: record.NotePayload{Content: "c2", Tags: []string{"b"}}}
	lm := crdt.Metadata{SiteID: "device_aa", ColumnVersion: 3, DBVersion: 1, LastWriteWins: time.Unix(5, 0), ContentHash: "ha", ModifiedFields: crdt.NewFieldSet("tags")}
	rm := crdt.Metadata{SiteID: "device_bb", ColumnVersion: 3, DBVersion: 1, LastWriteWins: time.Unix(7, 0), ContentHash: "hb", ModifiedFields: crdt.NewFieldSet("tags")}

	ab, err := r.ResolveCRDT(local, remote, lm, rm)
	require.NoError(t, err)
	ba, err := r.ResolveCRDT(remote, local, rm, lm)
	require.NoError(t, err)

	assert.Equal(t, ab.Record.Payload, ba.Record.Payload)
	assert.Equal(t, ab.WinnerSiteID, ba.WinnerSiteID)
}
