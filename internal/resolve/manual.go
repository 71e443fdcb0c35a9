package resolve

import (
	"github.com/khryptorgraphics/corpus-sync/internal/conflict"
	"github.com/khryptorgraphics/corpus-sync/internal/record"
)

// ConflictDiff is the manual-resolution-facing view of a conflict: the raw
// local/remote records plus their field-level divergence, ready for a UI
// layer (outside this core's scope) to present to a human.
type ConflictDiff struct {
	RecordID string
	Local    *record.Record
	Remote   *record.Record
	Fields   []conflict.FieldDiff
}

// PrepareManual produces the decision-ready view of a conflict the caller
// deferred from ResolveAutomatically.
func (r *Resolver) PrepareManual(info conflict.Info) ConflictDiff {
	return ConflictDiff{
		RecordID: info.RecordID,
		Local:    info.Local,
		Remote:   info.Remote,
		Fields:   info.Fields,
	}
}

// FieldChoice is a human's per-field resolution decision.
type FieldChoice uint8

const (
	ChoiceUseLocal FieldChoice = iota
	ChoiceUseRemote
	ChoiceCustom
)

// ManualDecision carries a per-field choice for a conflict spec.md's
// apply_manual names but does not shape (§4.14 of SPEC_FULL.md): for every
// field the human wants to override, either take one side wholesale or
// supply an explicit custom value.
type ManualDecision struct {
	Choices      map[string]FieldChoice
	CustomValues map[string]record.Value
}

// ApplyManual applies a human decision to a deferred conflict, producing a
// ResolvedRecord with Strategy=manual. Fields not present in the decision
// keep the value already in the base record (local, or remote if no local
// side exists).
func (r *Resolver) ApplyManual(info conflict.Info, decision ManualDecision) (ResolvedRecord, error) {
	base := info.Local
	if base == nil {
		base = info.Remote
	}
	if base == nil {
		return ResolvedRecord{}, ErrInvalidDecision
	}
	out := base.Clone()

	for field, choice := range decision.Choices {
		if !isKnownField(field) {
			return ResolvedRecord{}, ErrInvalidDecision
		}
		switch choice {
		case ChoiceUseLocal:
			if info.Local == nil {
				return ResolvedRecord{}, ErrInvalidDecision
			}
			out.Payload.CopyField(field, info.Local.Payload)
		case ChoiceUseRemote:
			if info.Remote == nil {
				return ResolvedRecord{}, ErrInvalidDecision
			}
			out.Payload.CopyField(field, info.Remote.Payload)
		case ChoiceCustom:
			v, ok := decision.CustomValues[field]
			if !ok || !out.Payload.SetValue(field, v) {
				return ResolvedRecord{}, ErrInvalidDecision
			}
		default:
			return ResolvedRecord{}, ErrInvalidDecision
		}
	}

	out.ConflictResolvedAt = timePtr(r.cfg.Now())
	out.SyncVersion = maxU64(syncVersionOf(info.Local), syncVersionOf(info.Remote)) + 1

	winner := info.LocalMeta.SiteID
	if info.Local == nil {
		winner = info.RemoteMeta.SiteID
	}
	return ResolvedRecord{
		Record:       out,
		Strategy:     StrategyManual,
		WinnerSiteID: winner,
		LocalMeta:    info.LocalMeta,
		RemoteMeta:   info.RemoteMeta,
	}, nil
}

func syncVersionOf(r *record.Record) uint64 {
	if r == nil {
		return 0
	}
	return r.SyncVersion
}

func isKnownField(field string) bool {
	for _, f := range record.AllFields {
		if f == field {
			return true
		}
	}
	return false
}
