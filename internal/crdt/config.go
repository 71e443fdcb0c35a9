package crdt

import "time"

// Config carries the design constants behind CRDTMetadata.HasConflictWith.
// Spec §4.1 requires these to be exposed as configuration rather than
// hard-coded, and §9 flags their interaction with the resolver's own windows
// as an open question rather than an invariant — so both live here, separate
// from any one component, and callers wire them explicitly.
type Config struct {
	// ConflictVersionWindow bounds |a.ColumnVersion - b.ColumnVersion| for a
	// divergence to be treated as a live conflict rather than stale.
	ConflictVersionWindow uint64
	// ConflictTimeWindow bounds |a.LastWriteWins - b.LastWriteWins|.
	ConflictTimeWindow time.Duration
}

// DefaultConfig matches the literal constants named in spec.md §4.1 and §8
// (2-version window, 30s window).
func DefaultConfig() Config {
	return Config{
		ConflictVersionWindow: 2,
		ConflictTimeWindow:    30 * time.Second,
	}
}
