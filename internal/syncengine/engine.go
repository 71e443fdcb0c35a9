// Package syncengine implements the L5 sync orchestrator: push/pull
// phases, chunking, incremental cursors, and the retry/backoff state
// machine described in spec.md §4.4 and §5.
package syncengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/khryptorgraphics/corpus-sync/internal/cache"
	"github.com/khryptorgraphics/corpus-sync/internal/clock"
	"github.com/khryptorgraphics/corpus-sync/internal/conflict"
	"github.com/khryptorgraphics/corpus-sync/internal/crdt"
	"github.com/khryptorgraphics/corpus-sync/internal/journal"
	"github.com/khryptorgraphics/corpus-sync/internal/record"
	"github.com/khryptorgraphics/corpus-sync/internal/remote"
	"github.com/khryptorgraphics/corpus-sync/internal/resolve"
	"github.com/khryptorgraphics/corpus-sync/internal/store"
	"github.com/khryptorgraphics/corpus-sync/internal/telemetry"
)

// ErrAlreadySyncing is returned by RunOnce when a sync is already in
// flight; per §5 this is a silent no-op for the caller that lost the race,
// but RunOnce reports it distinctly so callers can tell "did nothing" from
// "ran and succeeded" (§8 scenario 6).
var ErrAlreadySyncing = errors.New("syncengine: sync already in progress")

// Engine is the L5 orchestrator. It owns the only writes to change_token,
// last_synced_at, and sync_version (§5): the resolver may read local state,
// but every write flows through here so ResolutionJournal ordering holds.
type Engine struct {
	cfg    Config
	local  store.LocalStore
	remote remote.Store
	clock  clock.Clock

	detector *conflict.Detector
	resolver *resolve.Resolver
	journal  journal.Store
	cache    cache.Cache
	metrics  *telemetry.Metrics
	logger   *slog.Logger

	syncing atomic.Bool
	state   atomic.Uint32

	progress  *subscribers[ProgressFunc]
	conflicts *subscribers[ConflictFunc]
}

// Deps bundles the ports and collaborators an Engine needs. Every field is
// required except Cache, Journal, Metrics, and Logger: a nil Cache falls
// back to an in-memory cache.NewMem(), a nil Journal or Metrics disables
// journal mirroring or metrics, and a nil Logger falls back to
// slog.Default().
type Deps struct {
	Local    store.LocalStore
	Remote   remote.Store
	Clock    clock.Clock
	Detector *conflict.Detector
	Resolver *resolve.Resolver
	Journal  journal.Store
	Cache    cache.Cache
	Metrics  *telemetry.Metrics
	Logger   *slog.Logger
}

// New builds an Engine in StateIdle.
func New(cfg Config, d Deps) *Engine {
	if d.Cache == nil {
		d.Cache = cache.NewMem()
	}
	e := &Engine{
		cfg:       cfg,
		local:     d.Local,
		remote:    d.Remote,
		clock:     d.Clock,
		detector:  d.Detector,
		resolver:  d.Resolver,
		journal:   d.Journal,
		cache:     d.Cache,
		metrics:   d.Metrics,
		logger:    telemetry.Logger(d.Logger),
		progress:  newSubscribers[ProgressFunc](),
		conflicts: newSubscribers[ConflictFunc](),
	}
	e.state.Store(uint32(StateIdle))
	return e
}

// State reports the engine's current state machine node.
func (e *Engine) State() State { return State(e.state.Load()) }

func (e *Engine) setState(s State) { e.state.Store(uint32(s)) }

// SubscribeProgress registers fn to receive progress updates in [0, 1].
// Callers must invoke the returned unsubscribe func before their own
// teardown (§9: explicit unregister protocol, no weak references).
func (e *Engine) SubscribeProgress(fn ProgressFunc) (unsubscribe func()) {
	return e.progress.Add(fn)
}

// SubscribeConflicts registers fn to receive every conflict.Info the
// detector produces during a pull cycle.
func (e *Engine) SubscribeConflicts(fn ConflictFunc) (unsubscribe func()) {
	return e.conflicts.Add(fn)
}

func (e *Engine) reportProgress(p float64) {
	e.progress.Each(func(fn ProgressFunc) { fn(p) })
}

func (e *Engine) reportConflict(info conflict.Info) {
	e.conflicts.Each(func(fn ConflictFunc) { fn(info) })
}

// RunOnce executes one push-then-pull sync cycle. A second call while one
// is already running returns ErrAlreadySyncing immediately without any
// side effects (§5 isSyncing guard, §8 scenario 6); the first call
// proceeds to completion regardless.
func (e *Engine) RunOnce(ctx context.Context) error {
	if !e.syncing.CompareAndSwap(false, true) {
		return ErrAlreadySyncing
	}
	defer e.syncing.Store(false)

	start := time.Now()
	err := e.runCycle(ctx)
	if e.metrics != nil {
		e.metrics.SyncCycleDuration.Observe(time.Since(start).Seconds())
	}

	if err := e.local.Write(context.Background(), func(tx store.Tx) error {
		st, gerr := tx.GetSyncState()
		if gerr != nil {
			return gerr
		}
		if err != nil {
			st.ConsecutiveFailures++
			st.LastError = err.Error()
		} else {
			st.ConsecutiveFailures = 0
			st.LastError = ""
			st.LastSyncAt = e.clock.Now()
		}
		return tx.PutSyncState(st)
	}); err != nil {
		e.logger.Error("syncengine: failed to record sync_state", "error", err)
	}

	return err
}

func (e *Engine) runCycle(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		e.setState(StateCancelled)
		return err
	}

	e.setState(StatePushing)
	if err := e.runPhaseWithRetry(ctx, e.push); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		e.setState(StateCancelled)
		return err
	}

	e.setState(StatePulling)
	if err := e.runPhaseWithRetry(ctx, e.pull); err != nil {
		return err
	}

	e.setState(StateIdle)
	return nil
}

// runPhaseWithRetry drives one phase (push or pull) through the §5 retry
// state machine: a retryable failure moves to StateBackoff, sleeps the
// exponential delay (honoring ctx cancellation), and retries the same
// phase up to MaxRetries times before landing in StateFailed.
func (e *Engine) runPhaseWithRetry(ctx context.Context, phase func(context.Context) error) error {
	// Consult the cached quota state before ever touching the remote
	// (§4.7/§4.8): quota_exceeded is non-retryable and must "surface
	// immediately" (§7), so once a prior cycle has observed exhaustion we
	// fail fast here rather than spend one more remote round-trip just to
	// rediscover it.
	if q, ok, err := e.cache.GetQuota(ctx); err == nil && ok && q.RemainingRequests <= 0 && e.clock.Now().Before(q.ResetAt) {
		e.setState(StateFailed)
		return &Error{Cause: CauseQuotaExceeded, Err: fmt.Errorf("remote quota exhausted until %s", q.ResetAt)}
	}

	var lastErr error
	for attempt := 1; attempt <= e.cfg.MaxRetries+1; attempt++ {
		err := phase(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			e.setState(StateCancelled)
			return ctx.Err()
		}

		se := asEngineError(err)
		if se.Cause == CauseQuotaExceeded {
			e.recordQuotaExhausted(ctx, err)
		}
		if !se.Retryable() || attempt > e.cfg.MaxRetries {
			e.setState(StateFailed)
			return se
		}

		e.setState(StateBackoff)
		if e.metrics != nil {
			e.metrics.BackoffEvents.Inc()
		}
		delay := e.cfg.BackoffFor(attempt)
		if re, ok := remote.AsError(err); ok && re.RetryAfter > 0 {
			delay = re.RetryAfter
		}
		e.logger.Warn("syncengine: retrying phase after backoff", "attempt", attempt, "delay", delay, "cause", se.Cause)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			e.setState(StateCancelled)
			return ctx.Err()
		case <-timer.C:
		}
	}
	return asEngineError(lastErr)
}

// recordQuotaExhausted persists the observed quota exhaustion so the next
// phase (this cycle or a later one) can fail fast via the pre-check in
// runPhaseWithRetry instead of calling the remote again before the quota
// window resets.
func (e *Engine) recordQuotaExhausted(ctx context.Context, err error) {
	resetIn := e.cfg.BackoffMax
	if re, ok := remote.AsError(err); ok && re.RetryAfter > 0 {
		resetIn = re.RetryAfter
	}
	q := cache.QuotaState{RemainingRequests: 0, ResetAt: e.clock.Now().Add(resetIn)}
	if perr := e.cache.PutQuota(ctx, q); perr != nil {
		e.logger.Warn("syncengine: failed to persist quota state", "error", perr)
	}
}

func asEngineError(err error) *Error {
	var se *Error
	if errors.As(err, &se) {
		return se
	}
	if re, ok := remote.AsError(err); ok {
		cause := CauseOther
		switch re.Kind {
		case remote.KindNetworkUnavailable, remote.KindServiceUnavailable, remote.KindRateLimited:
			cause = CauseRemoteUnavailable
		case remote.KindNotAuthenticated:
			cause = CauseAuthExpired
		case remote.KindQuotaExceeded:
			cause = CauseQuotaExceeded
		case remote.KindRecordChanged:
			cause = CauseRecordChanged
		}
		return &Error{Cause: cause, Err: err}
	}
	return &Error{Cause: CauseLocalStoreFailure, Err: err}
}

// push implements §4.4's push phase: select pending records, chunk them,
// and modify() each chunk. Per-chunk retryable errors are surfaced to the
// caller (runPhaseWithRetry retries the whole phase — already-saved
// records are not re-sent on the next attempt because their
// last_synced_at/modified_fields have already been cleared).
func (e *Engine) push(ctx context.Context) error {
	var pending []record.Record
	if err := e.local.Read(ctx, func(tx store.Tx) error {
		recs, err := tx.PendingSince(time.Time{})
		if err != nil {
			return err
		}
		pending = recs
		return nil
	}); err != nil {
		return &Error{Cause: CauseLocalStoreFailure, Err: err}
	}

	sort.Slice(pending, func(i, j int) bool { return pending[i].ID < pending[j].ID })

	chunkSize := e.cfg.PushChunkSize
	if chunkSize <= 0 {
		chunkSize = 400
	}
	chunkCount := (len(pending) + chunkSize - 1) / chunkSize
	if chunkCount == 0 {
		e.reportProgress(0.5)
		return nil
	}

	for i := 0; i < chunkCount; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lo := i * chunkSize
		hi := lo + chunkSize
		if hi > len(pending) {
			hi = len(pending)
		}
		chunk := pending[lo:hi]
		if err := e.pushChunk(ctx, chunk); err != nil {
			return err
		}
		if e.metrics != nil {
			e.metrics.ChunksPushed.Inc()
		}
		e.reportProgress(float64(i+1) / float64(chunkCount) * 0.5)
	}
	return nil
}

func (e *Engine) pushChunk(ctx context.Context, chunk []record.Record) error {
	metas := make(map[string]crdt.Metadata, len(chunk))
	wire := make([]remote.RemoteRecord, 0, len(chunk))
	var deleting []string
	if err := e.local.Read(ctx, func(tx store.Tx) error {
		for _, r := range chunk {
			m, ok, err := tx.GetMetadata(r.ID)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			metas[r.ID] = m
			if r.IsDeleted() {
				deleting = append(deleting, r.ID)
				continue
			}
			wire = append(wire, remote.ToRemote(e.cfg.ZoneID, r, m))
		}
		return nil
	}); err != nil {
		return &Error{Cause: CauseLocalStoreFailure, Err: err}
	}

	results, err := e.remote.Modify(ctx, e.cfg.ZoneID, wire, deleting, remote.PolicyChangedKeys, false)
	if err != nil {
		return err
	}

	now := e.clock.Now()
	dbVersion := e.clock.NextDBVersion()
	return e.local.Write(ctx, func(tx store.Tx) error {
		for _, r := range chunk {
			m, ok := metas[r.ID]
			if !ok {
				continue
			}
			// A per-record rejection (typically KindRecordChanged) leaves
			// this record's last_synced_at/sync metadata untouched so it
			// stays pending: the next pull phase in this same cycle fetches
			// the remote's newer version, reclassifies it against this
			// still-pending edit, and the resolver reconciles it before the
			// following push attempt retries (§4.4.3, §7).
			if res, found := results[r.ID]; found && res.Err != nil {
				se := asEngineError(res.Err)
				e.logger.Warn("syncengine: record rejected on push, deferring to next pull/push cycle",
					"record_id", r.ID, "cause", se.Cause, "error", res.Err)
				continue
			}
			r.LastSyncedAt = &now
			if err := tx.UpsertRecord(r); err != nil {
				return err
			}
			if err := tx.UpsertMetadata(m.IncrementForSync(dbVersion)); err != nil {
				return err
			}
		}
		return nil
	})
}

// pull implements §4.4's pull phase: fetch remote changes since the saved
// cursor, apply each per spec's merge/conflict rules, and persist the new
// change_token in the same writer transaction as the applied changes so
// recovery never loses or re-applies a page (§5).
func (e *Engine) pull(ctx context.Context) error {
	var cursor string
	if err := e.local.Read(ctx, func(tx store.Tx) error {
		st, err := tx.GetSyncState()
		if err != nil {
			return err
		}
		cursor = st.ChangeToken
		return nil
	}); err != nil {
		return &Error{Cause: CauseLocalStoreFailure, Err: err}
	}
	if cursor == "" {
		if tok, ok, err := e.cache.GetChangeToken(ctx, e.cfg.ZoneID); err == nil && ok {
			cursor = tok
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		cs, err := e.remote.FetchZoneChanges(ctx, e.cfg.ZoneID, cursor, e.cfg.PullPageSize)
		if err != nil {
			return err
		}
		// A page that arrives after cancellation is abandoned, not applied.
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.applyChangeSet(ctx, cs); err != nil {
			return err
		}
		if e.metrics != nil {
			e.metrics.PullCycles.Inc()
		}
		cursor = cs.NextCursor
		if len(cs.Records) > 0 {
			e.reportProgress(1.0)
		} else {
			e.reportProgress(0.5)
		}
		if !cs.HasMore {
			break
		}
	}
	return nil
}

func (e *Engine) applyChangeSet(ctx context.Context, cs remote.ChangeSet) error {
	dbVersion := e.clock.NextDBVersion()
	return e.local.Write(ctx, func(tx store.Tx) error {
		for _, rr := range cs.Records {
			if err := e.applyOne(tx, rr, dbVersion); err != nil {
				return err
			}
		}
		st, err := tx.GetSyncState()
		if err != nil {
			return err
		}
		st.ChangeToken = cs.NextCursor
		st.LastSyncAt = e.clock.Now()
		if err := tx.PutSyncState(st); err != nil {
			return err
		}
		return e.cache.PutChangeToken(ctx, e.cfg.ZoneID, cs.NextCursor)
	})
}

func (e *Engine) applyOne(tx store.Tx, rr remote.RemoteRecord, dbVersion uint64) error {
	remoteRec, remoteMeta := remote.FromRemote(rr)
	remoteMeta.DBVersion = maxU64(remoteMeta.DBVersion, dbVersion)

	localRec, hasLocal, err := tx.GetRecord(rr.ID)
	if err != nil {
		return err
	}
	if !hasLocal {
		remoteRec.SyncVersion = 1
		if err := tx.UpsertRecord(remoteRec); err != nil {
			return err
		}
		return tx.UpsertMetadata(remoteMeta)
	}

	if localRec.NeedsPush() {
		localMeta, hasLocalMeta, err := tx.GetMetadata(rr.ID)
		if err != nil {
			return err
		}
		pair := conflict.Pair{RecordID: rr.ID, Local: &localRec, Remote: &remoteRec}
		if hasLocalMeta {
			pair.LocalMeta = &localMeta
		}
		pair.RemoteMeta = &remoteMeta

		info, derr := e.detector.Detect(pair)
		if derr != nil {
			return derr
		}
		if e.metrics != nil {
			e.metrics.ConflictsDetected.WithLabelValues(info.Type.String()).Inc()
		}
		e.reportConflict(info)

		resolved, _ := e.resolver.ResolveAutomatically([]conflict.Info{info})
		if len(resolved) == 1 {
			rr := resolved[0]
			if err := tx.UpsertRecord(rr.Record); err != nil {
				return err
			}
			if err := tx.UpsertMetadata(rr.LocalMeta.IncrementForSync(dbVersion)); err != nil {
				return err
			}
			if err := tx.DeletePendingConflict(info.RecordID); err != nil {
				return err
			}
			if e.metrics != nil {
				e.metrics.ConflictsResolved.WithLabelValues(string(rr.Strategy)).Inc()
			}
			entry := journal.Entry{
				ID:            fmt.Sprintf("%s:%d:%d:%d:%d", info.RecordID, info.LocalMeta.DBVersion, info.LocalMeta.ColumnVersion, info.RemoteMeta.DBVersion, info.RemoteMeta.ColumnVersion),
				RecordID:      info.RecordID,
				Strategy:      rr.Strategy,
				WinnerSiteID:  rr.WinnerSiteID,
				LocalVersion:  info.LocalMeta.DBVersion,
				RemoteVersion: info.RemoteMeta.DBVersion,
				ResolvedAt:    e.clock.Now(),
			}
			if err := tx.JournalAppend(entry); err != nil {
				return err
			}
			if e.journal != nil {
				// Mirrored into the standalone L7 store (§4.6): the
				// per-transaction entry above guarantees atomicity with the
				// resolution itself, this copy is what read-by-record/
				// read-by-time callers and the optional Postgres backend
				// (§4.9) actually query.
				return e.journal.Append(entry)
			}
			return nil
		}
		if e.metrics != nil {
			e.metrics.ConflictsDeferred.Inc()
		}
		return tx.UpsertPendingConflict(store.PendingConflict{
			RecordID:   info.RecordID,
			LocalSnap:  localRec,
			RemoteSnap: remoteRec,
			LocalMeta:  info.LocalMeta,
			RemoteMeta: info.RemoteMeta,
			DetectedAt: info.DetectedAt,
		})
	}

	// Local has no pending changes of its own: accept the remote only if it
	// is causally newer (the (db_version, column_version) vector stands in
	// for spec.md's sync_version comparison, §4.4 step 2's "else" branches),
	// otherwise this replica already reflects it and keeps local as-is.
	localMeta, hasLocalMeta, err := tx.GetMetadata(rr.ID)
	if err != nil {
		return err
	}
	if hasLocalMeta && localMeta.Compare(remoteMeta) != crdt.HappensBefore {
		return nil
	}
	remoteRec.SyncVersion = localRec.SyncVersion + 1
	if err := tx.UpsertRecord(remoteRec); err != nil {
		return err
	}
	return tx.UpsertMetadata(remoteMeta)
}

func maxU64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}
