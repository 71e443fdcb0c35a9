package resolve

import "errors"

// ErrSavePersistFailed wraps a transient failure persisting a resolution;
// callers retry per the §7 taxonomy.
var ErrSavePersistFailed = errors.New("resolve: save persist failed")

// ErrInvalidDecision indicates a caller bug: a ManualDecision names an
// unknown field, picks a side the conflict does not have, or selects a
// custom value it does not supply. Fields the decision omits keep the base
// record's value.
var ErrInvalidDecision = errors.New("resolve: invalid manual decision")

// ErrMergeNotRepresentable means a field fell outside every classified
// policy; the conflict defers to manual resolution rather than guessing.
var ErrMergeNotRepresentable = errors.New("resolve: merge not representable")
