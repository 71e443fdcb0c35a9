package crdt

import "time"

// SiteID is a stable, lexicographically comparable device identifier in the
// form "device_<uuid>". Total order over SiteID ties last-write-wins.
type SiteID string

// Ordering is the result of comparing two metadata version vectors.
type Ordering uint8

const (
	Concurrent Ordering = iota
	HappensBefore
	HappensAfter
)

// Class classifies the divergence between two metadata values for the same
// record, per spec §3.
type Class uint8

const (
	NoConflict Class = iota
	FieldLevelMergeable
	ContentConflict
)

func (c Class) String() string {
	switch c {
	case NoConflict:
		return "no_conflict"
	case FieldLevelMergeable:
		return "field_level_mergeable"
	case ContentConflict:
		return "content_conflict"
	default:
		return "unknown"
	}
}

// Metadata is the per-record causal metadata attached to every record (§3).
type Metadata struct {
	RecordID           string
	SiteID             SiteID
	ColumnVersion      uint64
	DBVersion          uint64
	LastWriteWins      time.Time
	ContentHash        string
	ModifiedFields     FieldSet
	ConflictResolvedAt *time.Time
}

// Create builds the metadata for a record freshly created on this replica:
// column_version = 1, db_version = the replica's current logical clock,
// modified_fields = all.
func Create(recordID string, site SiteID, dbVersion uint64, now time.Time, contentHash string, allFields []string) Metadata {
	return Metadata{
		RecordID:      recordID,
		SiteID:        site,
		ColumnVersion: 1,
		DBVersion:     dbVersion,
		LastWriteWins: now,
		ContentHash:   contentHash,
		ModifiedFields: NewFieldSet(allFields...),
	}
}

// UpdateForLocalChange applies a local mutation: column_version increments,
// db_version tracks the replica clock (never decreasing), timestamp and hash
// are refreshed, and modified_fields is replaced by the fields that changed.
func (m Metadata) UpdateForLocalChange(newHash string, changedFields []string, now time.Time, replicaDBVersion uint64) Metadata {
	out := m
	out.ColumnVersion = m.ColumnVersion + 1
	if replicaDBVersion > out.DBVersion {
		out.DBVersion = replicaDBVersion
	}
	out.LastWriteWins = now
	out.ContentHash = newHash
	out.ModifiedFields = NewFieldSet(changedFields...)
	return out
}

// IncrementForSync advances db_version to at least the replica clock after a
// sync cycle applies, and clears modified_fields (the sync-out/sync-in
// lifecycle transitions described in §3).
func (m Metadata) IncrementForSync(replicaDBVersion uint64) Metadata {
	out := m
	if replicaDBVersion > out.DBVersion {
		out.DBVersion = replicaDBVersion
	}
	out.ModifiedFields = NewFieldSet()
	return out
}

// Compare implements the §3 comparison algebra over the (db_version,
// column_version) vector: a happens_before b iff the pair is lexicographically
// smaller; happens_after is symmetric; otherwise concurrent.
func (m Metadata) Compare(other Metadata) Ordering {
	if m.DBVersion != other.DBVersion {
		if m.DBVersion < other.DBVersion {
			return HappensBefore
		}
		return HappensAfter
	}
	if m.ColumnVersion != other.ColumnVersion {
		if m.ColumnVersion < other.ColumnVersion {
			return HappensBefore
		}
		return HappensAfter
	}
	return Concurrent
}

// HasConflictWith implements §4.1: false if hashes match; otherwise true iff
// the version gap and time gap both fall within the configured windows.
// Outside the window, divergence is "stale" rather than "conflicting" and is
// left to the resolver's plain LWW path instead of field-level machinery.
func (m Metadata) HasConflictWith(other Metadata, cfg Config) bool {
	if m.ContentHash == other.ContentHash {
		return false
	}
	versionGap := absUint64(m.ColumnVersion, other.ColumnVersion)
	timeGap := absDuration(m.LastWriteWins.Sub(other.LastWriteWins))
	return versionGap <= cfg.ConflictVersionWindow && timeGap <= cfg.ConflictTimeWindow
}

// Classify implements the §3 conflict classification for two metadata
// values known to be concurrent (same record, differing content hash).
// field_level_mergeable when the two sides touched disjoint fields;
// content_conflict when they overlap.
func Classify(a, b Metadata) Class {
	if a.ContentHash == b.ContentHash {
		return NoConflict
	}
	if a.Compare(b) != Concurrent {
		return NoConflict
	}
	if a.ModifiedFields.Intersect(b.ModifiedFields).Empty() {
		return FieldLevelMergeable
	}
	return ContentConflict
}

func absUint64(a, b uint64) uint64 {
	if a > b {
		return a - b
	}
	return b - a
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
