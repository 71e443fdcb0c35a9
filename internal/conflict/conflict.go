// Package conflict implements the L3 conflict detector: it compares local
// and remote replicas of a record and classifies their divergence, without
// mutating anything. Detection is pure and safe to invoke concurrently on
// disjoint record ids (§4.2).
package conflict

import (
	"errors"
	"time"

	"github.com/khryptorgraphics/corpus-sync/internal/crdt"
	"github.com/khryptorgraphics/corpus-sync/internal/record"
)

// ErrRecordMissing is returned when one side of a comparison has no live
// record (e.g. the remote deleted a record the local replica still holds).
var ErrRecordMissing = errors.New("conflict: record missing on one side")

// ErrReadFailure wraps a transient failure reading local or remote state;
// callers are expected to retry.
var ErrReadFailure = errors.New("conflict: transient read failure")

// FieldDiff describes the divergence of a single payload field between the
// local and remote side of a conflict.
type FieldDiff struct {
	Field          string
	Local          record.Value
	Remote         record.Value
	Conflicted     bool
	AutoResolvable bool
	ResolvedValue  *record.Value
}

// Info is the result of comparing one record's local and remote state.
type Info struct {
	RecordID   string
	Local      *record.Record
	Remote     *record.Record
	LocalMeta  crdt.Metadata
	RemoteMeta crdt.Metadata
	Type       crdt.Class
	// Stale marks a divergence that fell outside the CRDTMetadata window
	// (§4.1): it is still handled deterministically, but by plain LWW
	// rather than the field-level merge machinery.
	Stale      bool
	DetectedAt time.Time
	Fields     []FieldDiff
}

// Detector compares local and remote record+metadata pairs and classifies
// their divergence. It holds no mutable state of its own.
type Detector struct {
	cfg crdt.Config
	now func() time.Time
}

// New builds a Detector using the given CRDTMetadata thresholds (§4.1).
func New(cfg crdt.Config, now func() time.Time) *Detector {
	if now == nil {
		now = time.Now
	}
	return &Detector{cfg: cfg, now: now}
}

// Pair is one record's local and remote sides, as fetched by the caller.
// Either side may be absent (nil) to represent a one-sided deletion or a
// brand-new record not yet seen by the other replica.
type Pair struct {
	RecordID   string
	Local      *record.Record
	Remote     *record.Record
	LocalMeta  *crdt.Metadata
	RemoteMeta *crdt.Metadata
}

// Detect classifies one candidate pair. It never mutates its inputs.
func (d *Detector) Detect(p Pair) (Info, error) {
	if p.Local == nil && p.Remote == nil {
		return Info{}, ErrRecordMissing
	}
	if p.Local == nil || p.Remote == nil {
		// One side missing: a deletion (or creation) race, not a field
		// conflict. Surface it as a conflict so the resolver can apply the
		// deletion-conflict rule in §8 (tombstone vs. live edit).
		info := Info{
			RecordID:   p.RecordID,
			Local:      p.Local,
			Remote:     p.Remote,
			DetectedAt: d.now(),
			Type:       crdt.ContentConflict,
		}
		if p.LocalMeta != nil {
			info.LocalMeta = *p.LocalMeta
		}
		if p.RemoteMeta != nil {
			info.RemoteMeta = *p.RemoteMeta
		}
		return info, nil
	}
	if p.LocalMeta == nil || p.RemoteMeta == nil {
		return Info{}, ErrReadFailure
	}

	local, remote := *p.LocalMeta, *p.RemoteMeta
	class := crdt.Classify(local, remote)
	stale := local.Compare(remote) == crdt.Concurrent &&
		local.ContentHash != remote.ContentHash &&
		!local.HasConflictWith(remote, d.cfg)

	info := Info{
		RecordID:   p.RecordID,
		Local:      p.Local,
		Remote:     p.Remote,
		LocalMeta:  local,
		RemoteMeta: remote,
		Type:       class,
		Stale:      stale,
		DetectedAt: d.now(),
	}

	if class == crdt.FieldLevelMergeable || class == crdt.ContentConflict {
		info.Fields = diffFields(p.Local.Payload, p.Remote.Payload, local, remote)
	}
	return info, nil
}

// DetectAll runs Detect over every pair, collecting results. A per-pair
// error does not abort the batch: the failed pair is left out of the
// returned infos and its error is appended to the separate error slice, so
// the two slices' positions do not correspond to the input pairs.
func (d *Detector) DetectAll(pairs []Pair) ([]Info, []error) {
	infos := make([]Info, 0, len(pairs))
	var errs []error
	for _, p := range pairs {
		info, err := d.Detect(p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		infos = append(infos, info)
	}
	return infos, errs
}

func diffFields(local, remote record.NotePayload, localMeta, remoteMeta crdt.Metadata) []FieldDiff {
	lv, rv := local.Values(), remote.Values()
	diffs := make([]FieldDiff, 0, len(record.AllFields))
	for _, f := range record.AllFields {
		lval, rval := lv[f], rv[f]
		if lval.Equal(rval) {
			continue
		}
		conflicted := localMeta.ModifiedFields.Contains(f) && remoteMeta.ModifiedFields.Contains(f)
		diffs = append(diffs, FieldDiff{
			Field:          f,
			Local:          lval,
			Remote:         rval,
			Conflicted:     conflicted,
			AutoResolvable: true,
		})
	}
	return diffs
}
