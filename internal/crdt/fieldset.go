package crdt

import (
	"encoding/json"
	"sort"
)

// FieldSet is the set of payload field names touched by a mutation. It
// marshals as a sorted JSON array so modified_fields is stable across
// replicas (§4.3 determinism requirement: stable field ordering).
type FieldSet map[string]struct{}

// NewFieldSet builds a FieldSet from the given field names.
func NewFieldSet(fields ...string) FieldSet {
	s := make(FieldSet, len(fields))
	for _, f := range fields {
		s[f] = struct{}{}
	}
	return s
}

func (s FieldSet) Contains(field string) bool {
	_, ok := s[field]
	return ok
}

// Sorted returns the field names in stable, deterministic order.
func (s FieldSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for f := range s {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// Union returns a new set containing fields present in either s or other.
func (s FieldSet) Union(other FieldSet) FieldSet {
	out := make(FieldSet, len(s)+len(other))
	for f := range s {
		out[f] = struct{}{}
	}
	for f := range other {
		out[f] = struct{}{}
	}
	return out
}

// Intersect returns the fields present in both s and other.
func (s FieldSet) Intersect(other FieldSet) FieldSet {
	out := make(FieldSet)
	for f := range s {
		if other.Contains(f) {
			out[f] = struct{}{}
		}
	}
	return out
}

// SymmetricDifference returns fields present in exactly one of s, other.
func (s FieldSet) SymmetricDifference(other FieldSet) FieldSet {
	out := make(FieldSet)
	for f := range s {
		if !other.Contains(f) {
			out[f] = struct{}{}
		}
	}
	for f := range other {
		if !s.Contains(f) {
			out[f] = struct{}{}
		}
	}
	return out
}

func (s FieldSet) Empty() bool { return len(s) == 0 }

func (s FieldSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

func (s *FieldSet) UnmarshalJSON(data []byte) error {
	var fields []string
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	*s = NewFieldSet(fields...)
	return nil
}
