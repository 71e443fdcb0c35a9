package syncengine

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khryptorgraphics/corpus-sync/internal/cache"
	"github.com/khryptorgraphics/corpus-sync/internal/clock"
	"github.com/khryptorgraphics/corpus-sync/internal/conflict"
	"github.com/khryptorgraphics/corpus-sync/internal/crdt"
	"github.com/khryptorgraphics/corpus-sync/internal/journal"
	"github.com/khryptorgraphics/corpus-sync/internal/record"
	"github.com/khryptorgraphics/corpus-sync/internal/remote"
	"github.com/khryptorgraphics/corpus-sync/internal/resolve"
	"github.com/khryptorgraphics/corpus-sync/internal/store"
	"github.com/khryptorgraphics/corpus-sync/internal/store/memstore"
)

// fakeRemote is a configurable remote.Store used to drive the engine
// through retry/backoff/cancellation paths without a network dependency.
type fakeRemote struct {
	mu sync.Mutex

	modifyAttempts int
	modifyErr      func(attempt int) error

	fetchAttempts int
	fetchErr      func(attempt int) error

	started atomic.Bool
	block   chan struct{}
}

func (f *fakeRemote) SaveZone(context.Context, string, []remote.RemoteRecord) error { return nil }

func (f *fakeRemote) Modify(_ context.Context, _ string, saving []remote.RemoteRecord, _ []string, _ remote.ModifyPolicy, _ bool) (map[string]remote.RecordResult, error) {
	f.mu.Lock()
	f.modifyAttempts++
	attempt := f.modifyAttempts
	f.mu.Unlock()

	if f.modifyErr != nil {
		if err := f.modifyErr(attempt); err != nil {
			return nil, err
		}
	}
	results := make(map[string]remote.RecordResult, len(saving))
	for _, r := range saving {
		results[r.ID] = remote.RecordResult{}
	}
	return results, nil
}

func (f *fakeRemote) FetchZoneChanges(_ context.Context, _ string, _ string, _ int) (remote.ChangeSet, error) {
	f.started.Store(true)
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	f.fetchAttempts++
	attempt := f.fetchAttempts
	f.mu.Unlock()

	if f.fetchErr != nil {
		if err := f.fetchErr(attempt); err != nil {
			return remote.ChangeSet{}, err
		}
	}
	return remote.ChangeSet{}, nil
}

func (f *fakeRemote) Subscribe(context.Context, string) (<-chan remote.ChangeSet, error) {
	return make(chan remote.ChangeSet), nil
}

var _ remote.Store = (*fakeRemote)(nil)

func newTestEngine(t *testing.T, fr remote.Store) (*Engine, store.LocalStore, *clock.Fake) {
	t.Helper()
	fc := clock.NewFake("device_test", time.Unix(1000, 0))
	local := memstore.New()
	detector := conflict.New(crdt.Config{}, fc.Now)
	resolver := resolve.New(resolve.Config{Now: fc.Now})

	cfg := DefaultConfig("zone1")
	cfg.MaxRetries = 2
	cfg.BackoffBase = time.Millisecond
	cfg.BackoffMax = 5 * time.Millisecond

	eng := New(cfg, Deps{
		Local:    local,
		Remote:   fr,
		Clock:    fc,
		Detector: detector,
		Resolver: resolver,
		Journal:  journal.NewRing(10),
		Cache:    cache.NewMem(),
	})
	return eng, local, fc
}

func seedPendingRecord(t *testing.T, local store.LocalStore, fc *clock.Fake, id string) {
	t.Helper()
	err := local.Write(context.Background(), func(tx store.Tx) error {
		r := record.Record{ID: id, Payload: record.NotePayload{Name: "hello"}, ModifiedAt: fc.Now()}
		if err := tx.UpsertRecord(r); err != nil {
			return err
		}
		return tx.UpsertMetadata(crdt.Metadata{RecordID: id, SiteID: fc.SiteID(), DBVersion: 1, ColumnVersion: 1})
	})
	require.NoError(t, err)
}

func TestRunOnceRejectsConcurrentCall(t *testing.T) {
	fr := &fakeRemote{block: make(chan struct{})}
	eng, _, _ := newTestEngine(t, fr)

	errCh := make(chan error, 1)
	go func() { errCh <- eng.RunOnce(context.Background()) }()

	require.Eventually(t, fr.started.Load, time.Second, time.Millisecond)

	err := eng.RunOnce(context.Background())
	assert.ErrorIs(t, err, ErrAlreadySyncing)

	close(fr.block)
	require.NoError(t, <-errCh)
}

func TestRunOnceSuccessfulCycleEndsIdle(t *testing.T) {
	fr := &fakeRemote{}
	eng, local, fc := newTestEngine(t, fr)
	seedPendingRecord(t, local, fc, "r1")

	require.NoError(t, eng.RunOnce(context.Background()))
	assert.Equal(t, StateIdle, eng.State())
	assert.Equal(t, 1, fr.modifyAttempts)
	assert.Equal(t, 1, fr.fetchAttempts)
}

func TestRunOnceIsPullingWhilePushHasCompleted(t *testing.T) {
	fr := &fakeRemote{block: make(chan struct{})}
	eng, _, _ := newTestEngine(t, fr)

	errCh := make(chan error, 1)
	go func() { errCh <- eng.RunOnce(context.Background()) }()

	require.Eventually(t, fr.started.Load, time.Second, time.Millisecond)
	assert.Equal(t, StatePulling, eng.State())

	close(fr.block)
	require.NoError(t, <-errCh)
}

func TestRunPhaseWithRetryBacksOffThenFails(t *testing.T) {
	fr := &fakeRemote{
		modifyErr: func(int) error {
			return &remote.Error{Kind: remote.KindNetworkUnavailable}
		},
	}
	eng, local, fc := newTestEngine(t, fr)
	seedPendingRecord(t, local, fc, "r1")

	err := eng.RunOnce(context.Background())
	require.Error(t, err)

	var se *Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, CauseRemoteUnavailable, se.Cause)
	assert.Equal(t, StateFailed, eng.State())
	// MaxRetries=2 means attempts 1,2,3 (the final attempt is not retried).
	assert.Equal(t, eng.cfg.MaxRetries+1, fr.modifyAttempts)
}

func TestRunPhaseWithRetrySucceedsAfterTransientFailures(t *testing.T) {
	fr := &fakeRemote{
		modifyErr: func(attempt int) error {
			if attempt <= 2 {
				return &remote.Error{Kind: remote.KindServiceUnavailable}
			}
			return nil
		},
	}
	eng, local, fc := newTestEngine(t, fr)
	seedPendingRecord(t, local, fc, "r1")

	require.NoError(t, eng.RunOnce(context.Background()))
	assert.Equal(t, StateIdle, eng.State())
	assert.Equal(t, 3, fr.modifyAttempts)
}

func TestRunOnceNonRetryableFailsImmediately(t *testing.T) {
	fr := &fakeRemote{
		modifyErr: func(int) error {
			return &remote.Error{Kind: remote.KindQuotaExceeded}
		},
	}
	eng, local, fc := newTestEngine(t, fr)
	seedPendingRecord(t, local, fc, "r1")

	err := eng.RunOnce(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateFailed, eng.State())
	assert.Equal(t, 1, fr.modifyAttempts)

	var se *Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, CauseQuotaExceeded, se.Cause)
}

func TestRunOnceCancelledContextStopsCycle(t *testing.T) {
	fr := &fakeRemote{block: make(chan struct{})}
	eng, _, _ := newTestEngine(t, fr)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- eng.RunOnce(ctx) }()

	require.Eventually(t, fr.started.Load, time.Second, time.Millisecond)
	cancel()
	close(fr.block)

	err := <-errCh
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateCancelled, eng.State())
}

func TestQuotaPreCheckSkipsRemoteCallWhenExhausted(t *testing.T) {
	fr := &fakeRemote{}
	eng, local, fc := newTestEngine(t, fr)
	seedPendingRecord(t, local, fc, "r1")

	require.NoError(t, eng.cache.PutQuota(context.Background(), cache.QuotaState{
		RemainingRequests: 0,
		ResetAt:           fc.Now().Add(time.Hour),
	}))

	err := eng.RunOnce(context.Background())
	require.Error(t, err)
	var se *Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, CauseQuotaExceeded, se.Cause)
	assert.Equal(t, 0, fr.modifyAttempts, "the remote must not be called once quota is known exhausted")
}

func TestBackoffForDoublesUntilMax(t *testing.T) {
	cfg := Config{BackoffBase: time.Second, BackoffMax: 8 * time.Second}
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 8 * time.Second},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, cfg.BackoffFor(c.attempt), "attempt %d", c.attempt)
	}
}
