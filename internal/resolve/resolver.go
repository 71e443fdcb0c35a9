// Package resolve implements the L4 conflict resolver: deterministic
// auto-resolution (last-write-wins, field-level union, newer-metadata-wins)
// with fall-through to manual resolution, plus the metadata-driven CRDT path.
package resolve

import (
	"fmt"
	"time"

	"github.com/khryptorgraphics/corpus-sync/internal/conflict"
	"github.com/khryptorgraphics/corpus-sync/internal/crdt"
	"github.com/khryptorgraphics/corpus-sync/internal/record"
)

// Config holds the resolver's design constants (§4.3), exposed so callers
// can tune them per payload type instead of relying on hard-coded defaults.
type Config struct {
	AutoWindow  time.Duration
	FieldPolicy map[string]FieldPolicy
	CRDT        crdt.Config
	Now         func() time.Time
}

// DefaultConfig matches spec.md's literal defaults (300s auto window).
func DefaultConfig() Config {
	return Config{
		AutoWindow:  300 * time.Second,
		FieldPolicy: DefaultFieldPolicy(),
		CRDT:        crdt.DefaultConfig(),
		Now:         time.Now,
	}
}

// ResolvedRecord is the output of any resolution path: the merged record,
// the metadata it should be stored with, and the strategy/winner for the
// resolution journal.
type ResolvedRecord struct {
	Record       record.Record
	Strategy     Strategy
	WinnerSiteID crdt.SiteID
	LocalMeta    crdt.Metadata
	RemoteMeta   crdt.Metadata
}

// Resolver implements the L4 conflict resolver.
type Resolver struct {
	cfg Config
}

func New(cfg Config) *Resolver {
	if cfg.FieldPolicy == nil {
		cfg.FieldPolicy = DefaultFieldPolicy()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Resolver{cfg: cfg}
}

// ResolveAutomatically applies the §4.3 auto-resolution algorithm to each
// conflict: conflicts whose modified-at gap exceeds AutoWindow, or whose
// fields can't all be classified, are returned as deferred (destined for
// pending_conflicts / manual resolution) rather than partially applied.
func (r *Resolver) ResolveAutomatically(conflicts []conflict.Info) (resolved []ResolvedRecord, deferred []conflict.Info) {
	for _, info := range conflicts {
		rr, ok := r.resolveOne(info)
		if !ok {
			deferred = append(deferred, info)
			continue
		}
		resolved = append(resolved, rr)
	}
	return resolved, deferred
}

func (r *Resolver) resolveOne(info conflict.Info) (ResolvedRecord, bool) {
	if info.Local == nil || info.Remote == nil || info.Local.IsDeleted() || info.Remote.IsDeleted() {
		return r.resolveDeletion(info)
	}
	if info.Type == crdt.NoConflict {
		return r.winner(pickOrdered(info), info.LocalMeta, info.RemoteMeta, strategyForOrdering(info.LocalMeta.Compare(info.RemoteMeta))), true
	}

	gap := absDuration(info.LocalMeta.LastWriteWins.Sub(info.RemoteMeta.LastWriteWins))
	if gap > r.cfg.AutoWindow {
		return ResolvedRecord{}, false
	}

	merged, ok, _ := mergeFields(*info.Local, *info.Remote, info.LocalMeta, info.RemoteMeta, r.cfg.FieldPolicy)
	if !ok {
		return ResolvedRecord{}, false
	}

	strategy := StrategyFieldLevelMerge
	if info.Type == crdt.ContentConflict {
		strategy = StrategyLastWriteWins
	}
	out := info.Local.Clone()
	out.Payload = merged
	out.ConflictResolvedAt = timePtr(r.cfg.Now())
	out.SyncVersion = maxU64(info.Local.SyncVersion, info.Remote.SyncVersion) + 1

	return ResolvedRecord{
		Record:       out,
		Strategy:     strategy,
		WinnerSiteID: lwwWinnerSite(info.LocalMeta, info.RemoteMeta),
		LocalMeta:    info.LocalMeta,
		RemoteMeta:   info.RemoteMeta,
	}, true
}

// resolveDeletion implements §8's deletion-conflict boundary behavior: a
// tombstone on one side and a live modification on the other resolves to
// the live record when its modification postdates the tombstone, and to the
// tombstone otherwise.
func (r *Resolver) resolveDeletion(info conflict.Info) (ResolvedRecord, bool) {
	switch {
	case info.Local == nil && info.Remote != nil:
		return ResolvedRecord{Record: *info.Remote, Strategy: StrategyLastWriteWins, WinnerSiteID: info.RemoteMeta.SiteID, LocalMeta: info.LocalMeta, RemoteMeta: info.RemoteMeta}, true
	case info.Remote == nil && info.Local != nil:
		return ResolvedRecord{Record: *info.Local, Strategy: StrategyLastWriteWins, WinnerSiteID: info.LocalMeta.SiteID, LocalMeta: info.LocalMeta, RemoteMeta: info.RemoteMeta}, true
	case info.Local != nil && info.Local.IsDeleted() && info.Remote != nil && !info.Remote.IsDeleted():
		if info.Remote.ModifiedAt.After(*info.Local.DeletedAt) {
			return ResolvedRecord{Record: *info.Remote, Strategy: StrategyLastWriteWins, WinnerSiteID: info.RemoteMeta.SiteID, LocalMeta: info.LocalMeta, RemoteMeta: info.RemoteMeta}, true
		}
		return ResolvedRecord{Record: *info.Local, Strategy: StrategyLastWriteWins, WinnerSiteID: info.LocalMeta.SiteID, LocalMeta: info.LocalMeta, RemoteMeta: info.RemoteMeta}, true
	case info.Remote != nil && info.Remote.IsDeleted() && info.Local != nil && !info.Local.IsDeleted():
		if info.Local.ModifiedAt.After(*info.Remote.DeletedAt) {
			return ResolvedRecord{Record: *info.Local, Strategy: StrategyLastWriteWins, WinnerSiteID: info.LocalMeta.SiteID, LocalMeta: info.LocalMeta, RemoteMeta: info.RemoteMeta}, true
		}
		return ResolvedRecord{Record: *info.Remote, Strategy: StrategyLastWriteWins, WinnerSiteID: info.RemoteMeta.SiteID, LocalMeta: info.LocalMeta, RemoteMeta: info.RemoteMeta}, true
	default:
		// both tombstoned, or both nil: nothing to reconcile field-by-field.
		base := info.Local
		if base == nil {
			base = info.Remote
		}
		if base == nil {
			return ResolvedRecord{}, false
		}
		return ResolvedRecord{Record: *base, Strategy: StrategyLastWriteWins}, true
	}
}

// ResolveCRDT is the metadata-driven deterministic path (§4.3 cross-cutting
// with §4.1): happens_before/happens_after pick the causally-later side
// outright; concurrent divergence merges per field policy (field_level_merge)
// or falls back to whole-record LWW (content_conflict). It never defers —
// callers needing a manual fallback should route through ResolveAutomatically
// instead, which applies the auto-window gate this path intentionally skips.
func (r *Resolver) ResolveCRDT(local, remote record.Record, localMeta, remoteMeta crdt.Metadata) (ResolvedRecord, error) {
	switch localMeta.Compare(remoteMeta) {
	case crdt.HappensBefore:
		return r.winner(remote, localMeta, remoteMeta, StrategyHappensBefore), nil
	case crdt.HappensAfter:
		return r.winner(local, localMeta, remoteMeta, StrategyHappensAfter), nil
	default:
		if localMeta.ContentHash == remoteMeta.ContentHash {
			return r.winner(local, localMeta, remoteMeta, StrategyLastWriteWins), nil
		}
		class := crdt.Classify(localMeta, remoteMeta)
		merged, ok, badField := mergeFields(local, remote, localMeta, remoteMeta, r.cfg.FieldPolicy)
		if !ok {
			return ResolvedRecord{}, fmt.Errorf("%w: field %q", ErrMergeNotRepresentable, badField)
		}
		strategy := StrategyFieldLevelMerge
		if class == crdt.ContentConflict {
			strategy = StrategyLastWriteWins
		}
		out := local.Clone()
		out.Payload = merged
		return ResolvedRecord{
			Record:       out,
			Strategy:     strategy,
			WinnerSiteID: lwwWinnerSite(localMeta, remoteMeta),
			LocalMeta:    localMeta,
			RemoteMeta:   remoteMeta,
		}, nil
	}
}

func (r *Resolver) winner(rec record.Record, localMeta, remoteMeta crdt.Metadata, strategy Strategy) ResolvedRecord {
	site := localMeta.SiteID
	if strategy == StrategyHappensBefore {
		site = remoteMeta.SiteID
	}
	return ResolvedRecord{Record: rec, Strategy: strategy, WinnerSiteID: site, LocalMeta: localMeta, RemoteMeta: remoteMeta}
}

func pickOrdered(info conflict.Info) record.Record {
	if info.LocalMeta.Compare(info.RemoteMeta) == crdt.HappensBefore {
		return *info.Remote
	}
	return *info.Local
}

func strategyForOrdering(o crdt.Ordering) Strategy {
	switch o {
	case crdt.HappensBefore:
		return StrategyHappensBefore
	case crdt.HappensAfter:
		return StrategyHappensAfter
	default:
		return StrategyLastWriteWins
	}
}

// lwwWinnerSite picks the side with the greater LastWriteWins timestamp,
// tiebreaking on the greater SiteID (§3, §8 scenario 2).
func lwwWinnerSite(local, remote crdt.Metadata) crdt.SiteID {
	if remote.LastWriteWins.After(local.LastWriteWins) {
		return remote.SiteID
	}
	if remote.LastWriteWins.Equal(local.LastWriteWins) && remote.SiteID > local.SiteID {
		return remote.SiteID
	}
	return local.SiteID
}

// mergeFields implements the shared field-merge body used by both the
// auto-resolution algorithm and the CRDT path, so the two stay consistent:
// start from the side with the greater modified-at as base, union tags
// unconditionally, and apply the field policy table to every other
// differing field. Returns ok=false and the offending field name if any
// field can't be classified.
func mergeFields(local, remote record.Record, localMeta, remoteMeta crdt.Metadata, policy map[string]FieldPolicy) (record.NotePayload, bool, string) {
	useLocalBase := localMeta.LastWriteWins.After(remoteMeta.LastWriteWins) ||
		(localMeta.LastWriteWins.Equal(remoteMeta.LastWriteWins) && localMeta.SiteID > remoteMeta.SiteID)

	var out record.NotePayload
	if useLocalBase {
		out = local.Payload
	} else {
		out = remote.Payload
	}
	out.Tags = append([]string(nil), out.Tags...)

	lv, rv := local.Payload.Values(), remote.Payload.Values()
	for _, f := range record.AllFields {
		if lv[f].Equal(rv[f]) {
			continue
		}
		if f == record.FieldTags {
			out.Tags = record.UnionStrings(local.Payload.Tags, remote.Payload.Tags)
			continue
		}
		pol, known := policy[f]
		if !known {
			pol = PolicyUnclassified
		}
		switch pol {
		case PolicyLastEditWins, PolicyNewerMetadata:
			if useLocalBase {
				out.CopyField(f, local.Payload)
			} else {
				out.CopyField(f, remote.Payload)
			}
		default:
			return record.NotePayload{}, false, f
		}
	}
	return out, true, ""
}

func timePtr(t time.Time) *time.Time { return &t }

func maxU64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
