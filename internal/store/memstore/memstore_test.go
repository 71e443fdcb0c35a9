package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khryptorgraphics/corpus-sync/internal/record"
	"github.com/khryptorgraphics/corpus-sync/internal/store"
)

func TestWriteThenReadRoundTrip(t *testing.T) {
	s := New()
	ctx := context.Background()

	now := time.Unix(100, 0)
	err := s.Write(ctx, func(tx store.Tx) error {
		return tx.UpsertRecord(record.Record{ID: "r1", Payload: record.NotePayload{Name: "hello"}, ModifiedAt: now})
	})
	require.NoError(t, err)

	err = s.Read(ctx, func(tx store.Tx) error {
		r, ok, err := tx.GetRecord("r1")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "hello", r.Payload.Name)
		return nil
	})
	require.NoError(t, err)
}

func TestPendingSinceFiltersByModifiedAt(t *testing.T) {
	s := New()
	ctx := context.Background()
	cursor := time.Unix(100, 0)

	err := s.Write(ctx, func(tx store.Tx) error {
		tx.UpsertRecord(record.Record{ID: "old", ModifiedAt: cursor.Add(-time.Hour)})
		tx.UpsertRecord(record.Record{ID: "new", ModifiedAt: cursor.Add(time.Hour)})
		return nil
	})
	require.NoError(t, err)

	var pending []record.Record
	err = s.Read(ctx, func(tx store.Tx) error {
		var e error
		pending, e = tx.PendingSince(cursor)
		return e
	})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "new", pending[0].ID)
}
