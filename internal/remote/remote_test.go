package remote_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khryptorgraphics/corpus-sync/internal/crdt"
	"github.com/khryptorgraphics/corpus-sync/internal/record"
	"github.com/khryptorgraphics/corpus-sync/internal/remote"
	"github.com/khryptorgraphics/corpus-sync/internal/remote/memremote"
)

func TestToRemoteFromRemoteRoundTrip(t *testing.T) {
	r := record.Record{
		ID:         "r1",
		Payload:    record.NotePayload{Name: "hello", Tags: []string{"b", "a"}},
		ModifiedAt: time.Unix(100, 0),
	}
	m := crdt.Metadata{
		RecordID:      "r1",
		SiteID:        "device_abc",
		DBVersion:     3,
		ColumnVersion: 2,
		ContentHash:   record.ContentHash(r.Payload),
		LastWriteWins: time.Unix(100, 0),
	}

	rr := remote.ToRemote("zone1", r, m)
	assert.Equal(t, "zone1", rr.ZoneID)
	assert.Equal(t, uint64(3), rr.DBVersion)

	gotRecord, gotMeta := remote.FromRemote(rr)
	assert.Equal(t, "hello", gotRecord.Payload.Name)
	assert.ElementsMatch(t, []string{"a", "b"}, gotRecord.Payload.Tags)
	assert.Equal(t, m.SiteID, gotMeta.SiteID)
	assert.Equal(t, m.ContentHash, gotMeta.ContentHash)
}

func TestMemRemoteSaveAndFetchPaginates(t *testing.T) {
	s := memremote.New()
	ctx := context.Background()

	var batch []remote.RemoteRecord
	for i := 0; i < 5; i++ {
		batch = append(batch, remote.RemoteRecord{ID: string(rune('a' + i))})
	}
	require.NoError(t, s.SaveZone(ctx, "zone1", batch))

	cs, err := s.FetchZoneChanges(ctx, "zone1", "", 2)
	require.NoError(t, err)
	assert.Len(t, cs.Records, 2)
	assert.True(t, cs.HasMore)

	cs2, err := s.FetchZoneChanges(ctx, "zone1", cs.NextCursor, 10)
	require.NoError(t, err)
	assert.Len(t, cs2.Records, 3)
	assert.False(t, cs2.HasMore)
}

func TestRateLimitedWaitsBeforeDelegating(t *testing.T) {
	s := memremote.New()
	rl := remote.NewRateLimited(s, remote.LimiterConfig{RequestsPerMinute: 6000, Burst: 5}, nil)

	err := rl.SaveZone(context.Background(), "zone1", []remote.RemoteRecord{{ID: "x"}})
	require.NoError(t, err)

	cs, err := rl.FetchZoneChanges(context.Background(), "zone1", "", 10)
	require.NoError(t, err)
	assert.Len(t, cs.Records, 1)
}

func TestMemRemoteModifyReportsRecordChanged(t *testing.T) {
	s := memremote.New()
	ctx := context.Background()

	require.NoError(t, s.SaveZone(ctx, "zone1", []remote.RemoteRecord{
		{ID: "r1", DBVersion: 5, ContentHash: "remote-hash"},
	}))

	results, err := s.Modify(ctx, "zone1", []remote.RemoteRecord{
		{ID: "r1", DBVersion: 3, ContentHash: "stale-hash"},
		{ID: "r2", DBVersion: 1, ContentHash: "new-hash"},
	}, nil, remote.PolicyChangedKeys, false)
	require.NoError(t, err)

	require.Contains(t, results, "r1")
	re, ok := remote.AsError(results["r1"].Err)
	require.True(t, ok)
	assert.Equal(t, remote.KindRecordChanged, re.Kind)

	require.Contains(t, results, "r2")
	assert.NoError(t, results["r2"].Err)
}

func TestMemRemoteModifyDeletes(t *testing.T) {
	s := memremote.New()
	ctx := context.Background()

	require.NoError(t, s.SaveZone(ctx, "zone1", []remote.RemoteRecord{{ID: "r1"}}))

	results, err := s.Modify(ctx, "zone1", nil, []string{"r1"}, remote.PolicyChangedKeys, false)
	require.NoError(t, err)
	assert.NoError(t, results["r1"].Err)

	cs, err := s.FetchZoneChanges(ctx, "zone1", "", 10)
	require.NoError(t, err)
	require.Len(t, cs.Records, 1)
	assert.True(t, cs.Records[0].Deleted)
}

func TestErrorRetryable(t *testing.T) {
	rateLimited := &remote.Error{Kind: remote.KindRateLimited}
	assert.True(t, rateLimited.Retryable())

	notAuth := &remote.Error{Kind: remote.KindNotAuthenticated}
	assert.False(t, notAuth.Retryable())
}
