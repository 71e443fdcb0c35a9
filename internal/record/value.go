// Package record defines the payload model synchronized between replicas:
// the canonical note payload, its field-by-field tagged-value form, and the
// content hash used for cheap equality checks.
package record

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// ValueKind discriminates the dynamic, heterogeneous field values that cross
// the remote-store boundary (string/int/date/array), per the tagged-variant
// design used throughout this core instead of interface{}.
type ValueKind uint8

const (
	KindNull ValueKind = iota
	KindBool
	KindInt
	KindReal
	KindText
	KindDate
	KindStringList
)

func (k ValueKind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindReal:
		return "real"
	case KindText:
		return "text"
	case KindDate:
		return "date"
	case KindStringList:
		return "string_list"
	default:
		return "unknown"
	}
}

// Value is the canonical wire representation of a single payload field.
// Exactly one of the typed fields is meaningful, selected by Kind.
type Value struct {
	Kind ValueKind
	Bool bool
	Int  int64
	Real float64
	Text string
	Date time.Time
	List []string
}

func Null() Value                 { return Value{Kind: KindNull} }
func BoolValue(b bool) Value      { return Value{Kind: KindBool, Bool: b} }
func IntValue(i int64) Value      { return Value{Kind: KindInt, Int: i} }
func RealValue(r float64) Value   { return Value{Kind: KindReal, Real: r} }
func TextValue(s string) Value    { return Value{Kind: KindText, Text: s} }
func DateValue(t time.Time) Value { return Value{Kind: KindDate, Date: t.UTC()} }

// StringListValue normalizes the given strings into set semantics: sorted,
// deduplicated. This is the canonical form for fields like tags, so two
// replicas that added the same members in different orders hash identically.
func StringListValue(items []string) Value {
	return Value{Kind: KindStringList, List: normalizeStringList(items)}
}

func normalizeStringList(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		it = strings.TrimSpace(it)
		if it == "" {
			continue
		}
		if _, ok := seen[it]; ok {
			continue
		}
		seen[it] = struct{}{}
		out = append(out, it)
	}
	sort.Strings(out)
	return out
}

// Equal reports whether two values are identical after canonicalization.
func (v Value) Equal(other Value) bool {
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case KindNull:
		return true
	case KindBool:
		return v.Bool == other.Bool
	case KindInt:
		return v.Int == other.Int
	case KindReal:
		return v.Real == other.Real
	case KindText:
		return v.Text == other.Text
	case KindDate:
		return v.Date.Equal(other.Date)
	case KindStringList:
		if len(v.List) != len(other.List) {
			return false
		}
		for i := range v.List {
			if v.List[i] != other.List[i] {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Canonical renders a value into a stable string used as hash input.
// Normalization here, not just at construction, keeps the hash stable even
// for values built outside the constructors (e.g. deserialized from remote).
func (v Value) Canonical() string {
	switch v.Kind {
	case KindNull:
		return "null:"
	case KindBool:
		return fmt.Sprintf("bool:%t", v.Bool)
	case KindInt:
		return fmt.Sprintf("int:%d", v.Int)
	case KindReal:
		return fmt.Sprintf("real:%.17g", v.Real)
	case KindText:
		return "text:" + normalizeText(v.Text)
	case KindDate:
		return "date:" + v.Date.UTC().Format(time.RFC3339Nano)
	case KindStringList:
		return "list:" + strings.Join(normalizeStringList(v.List), "\x1f")
	default:
		return "unknown:"
	}
}

// UnionStrings merges two string lists under set semantics: sorted union,
// deduplicated. Used by the union-merge field policy (tags).
func UnionStrings(a, b []string) []string {
	return normalizeStringList(append(append([]string(nil), a...), b...))
}

// normalizeText strips trailing whitespace (leading whitespace is kept) so
// trailing-whitespace differences don't change the content hash (§8: hash stability
// under payload-irrelevant permutations).
func normalizeText(s string) string {
	return strings.TrimRight(s, " \t\r\n")
}
