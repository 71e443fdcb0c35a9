package resolve

// Strategy names the rule that produced a ResolvedRecord; it is what the
// ResolutionJournal (L7) records alongside the winning site id.
type Strategy string

const (
	StrategyLastWriteWins  Strategy = "last_write_wins"
	StrategyFieldLevelMerge Strategy = "field_level_merge"
	StrategyNewerMetadata  Strategy = "newer_metadata"
	StrategyHappensBefore  Strategy = "happens_before"
	StrategyHappensAfter   Strategy = "happens_after"
	StrategyManual         Strategy = "manual"
)

// FieldPolicy selects how a single field is merged when both sides touched it.
type FieldPolicy uint8

const (
	// PolicyUnionMerge sorts the union of multisets (set semantics) — tags.
	PolicyUnionMerge FieldPolicy = iota
	// PolicyLastEditWins picks the side with the greater last_write_wins,
	// tiebreaking on the greater site_id.
	PolicyLastEditWins
	// PolicyNewerMetadata behaves identically to PolicyLastEditWins; it is
	// a distinct name because spec.md's field policy table gives it a
	// separate field class (status/priority/importance/folder) even though
	// the rule is the same LWW+site_id tiebreak.
	PolicyNewerMetadata
	// PolicyUnclassified means no rule applies; any field landing here
	// forces the whole conflict to defer to manual resolution.
	PolicyUnclassified
)

// DefaultFieldPolicy is the field -> policy table from spec.md §4.3,
// exposed as configuration (callers may supply their own per payload type).
func DefaultFieldPolicy() map[string]FieldPolicy {
	return map[string]FieldPolicy{
		"tags":        PolicyUnionMerge,
		"name":        PolicyLastEditWins,
		"content":     PolicyLastEditWins,
		"summary":     PolicyLastEditWins,
		"status":      PolicyNewerMetadata,
		"priority":    PolicyNewerMetadata,
		"importance":  PolicyNewerMetadata,
		"folder":      PolicyNewerMetadata,
	}
}
