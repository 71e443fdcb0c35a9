package record

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"time"
)

// Field name constants, used both as payload-struct labels and as the
// vocabulary for CRDTMetadata.ModifiedFields sets.
const (
	FieldName       = "name"
	FieldContent    = "content"
	FieldSummary    = "summary"
	FieldFolder     = "folder"
	FieldTags       = "tags"
	FieldStatus     = "status"
	FieldPriority   = "priority"
	FieldImportance = "importance"
	FieldSortOrder  = "sort_order"
)

// AllFields lists every known payload field, in the canonical order used for
// hashing. Order here is what makes the content hash stable across replicas.
var AllFields = []string{
	FieldName,
	FieldContent,
	FieldSummary,
	FieldFolder,
	FieldTags,
	FieldStatus,
	FieldPriority,
	FieldImportance,
	FieldSortOrder,
}

// NotePayload is the typed, in-process representation of a record's content.
type NotePayload struct {
	Name       string
	Content    string
	Summary    string
	Folder     string
	Tags       []string
	Status     string
	Priority   int64
	Importance int64
	SortOrder  float64
}

// Values renders the payload into its canonical tagged-variant form, the
// representation content hashing and remote-store conversion both operate on.
func (p NotePayload) Values() map[string]Value {
	return map[string]Value{
		FieldName:       TextValue(p.Name),
		FieldContent:    TextValue(p.Content),
		FieldSummary:    TextValue(p.Summary),
		FieldFolder:     TextValue(p.Folder),
		FieldTags:       StringListValue(p.Tags),
		FieldStatus:     TextValue(p.Status),
		FieldPriority:   IntValue(p.Priority),
		FieldImportance: IntValue(p.Importance),
		FieldSortOrder:  RealValue(p.SortOrder),
	}
}

// FieldValue returns a single field's canonical value by name.
func (p NotePayload) FieldValue(field string) (Value, bool) {
	v, ok := p.Values()[field]
	return v, ok
}

// SetValue writes an arbitrary tagged Value into the named field, used by
// manual conflict resolution to apply a caller-supplied custom value.
// Reports false if the field name is unrecognized. The value's Kind is not
// checked: the field reads the Value slot matching its own type (Text, Int,
// Real or List), whatever Kind the caller set.
func (p *NotePayload) SetValue(field string, v Value) bool {
	switch field {
	case FieldName:
		p.Name = v.Text
	case FieldContent:
		p.Content = v.Text
	case FieldSummary:
		p.Summary = v.Text
	case FieldFolder:
		p.Folder = v.Text
	case FieldTags:
		p.Tags = normalizeStringList(v.List)
	case FieldStatus:
		p.Status = v.Text
	case FieldPriority:
		p.Priority = v.Int
	case FieldImportance:
		p.Importance = v.Int
	case FieldSortOrder:
		p.SortOrder = v.Real
	default:
		return false
	}
	return true
}

// CopyField copies a single named field from src into p.
func (p *NotePayload) CopyField(field string, src NotePayload) {
	switch field {
	case FieldName:
		p.Name = src.Name
	case FieldContent:
		p.Content = src.Content
	case FieldSummary:
		p.Summary = src.Summary
	case FieldFolder:
		p.Folder = src.Folder
	case FieldTags:
		p.Tags = append([]string(nil), src.Tags...)
	case FieldStatus:
		p.Status = src.Status
	case FieldPriority:
		p.Priority = src.Priority
	case FieldImportance:
		p.Importance = src.Importance
	case FieldSortOrder:
		p.SortOrder = src.SortOrder
	}
}

// Diff returns the set of field names whose canonical values differ between
// p and other. Used to populate CRDTMetadata.ModifiedFields after a mutation.
func (p NotePayload) Diff(other NotePayload) []string {
	a, b := p.Values(), other.Values()
	var changed []string
	for _, f := range AllFields {
		if !a[f].Equal(b[f]) {
			changed = append(changed, f)
		}
	}
	return changed
}

// ContentHash computes a digest over the canonical payload serialization:
// stable field order, normalized strings, sorted tag list. Two payloads hash
// identically iff their canonical values are identical field-for-field.
func ContentHash(p NotePayload) string {
	values := p.Values()
	fields := make([]string, 0, len(values))
	for f := range values {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	h := sha256.New()
	for _, f := range fields {
		h.Write([]byte(f))
		h.Write([]byte{0})
		h.Write([]byte(values[f].Canonical()))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Record is the unit of sync: a stable id, a typed payload, and the
// bookkeeping counters/timestamps the sync engine and resolver advance.
type Record struct {
	ID                 string
	Payload            NotePayload
	Version            uint64
	SyncVersion        uint64
	LastSyncedAt       *time.Time
	ConflictResolvedAt *time.Time
	DeletedAt          *time.Time
	ModifiedAt         time.Time
}

// IsDeleted reports whether this record is a tombstone.
func (r Record) IsDeleted() bool { return r.DeletedAt != nil }

// NeedsPush reports whether the record has local changes that have not yet
// been observed as synced, per §4.4 push-phase candidate selection.
func (r Record) NeedsPush() bool {
	return r.LastSyncedAt == nil || r.ModifiedAt.After(*r.LastSyncedAt)
}

// Clone returns a deep-enough copy safe to hand to another actor/goroutine.
func (r Record) Clone() Record {
	out := r
	if r.Payload.Tags != nil {
		out.Payload.Tags = append([]string(nil), r.Payload.Tags...)
	}
	if r.LastSyncedAt != nil {
		t := *r.LastSyncedAt
		out.LastSyncedAt = &t
	}
	if r.ConflictResolvedAt != nil {
		t := *r.ConflictResolvedAt
		out.ConflictResolvedAt = &t
	}
	if r.DeletedAt != nil {
		t := *r.DeletedAt
		out.DeletedAt = &t
	}
	return out
}
