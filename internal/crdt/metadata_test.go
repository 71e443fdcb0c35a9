package crdt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseMeta(site SiteID, col, db uint64, t time.Time, hash string) Metadata {
	return Metadata{
		SiteID:        site,
		ColumnVersion: col,
		DBVersion:     db,
		LastWriteWins: t,
		ContentHash:   hash,
	}
}

func TestCompareOrdering(t *testing.T) {
	now := time.Unix(1000, 0)
	a := baseMeta("device_aa", 1, 5, now, "h1")
	b := baseMeta("device_bb", 1, 6, now, "h2")

	assert.Equal(t, HappensBefore, a.Compare(b))
	assert.Equal(t, HappensAfter, b.Compare(a))

	c := baseMeta("device_cc", 2, 5, now, "h3")
	assert.Equal(t, HappensBefore, a.Compare(c))

	d := baseMeta("device_dd", 1, 5, now, "h4")
	assert.Equal(t, Concurrent, a.Compare(d))
}

func TestHasConflictWithBoundaries(t *testing.T) {
	cfg := DefaultConfig()
	now := time.Unix(1000, 0)

	// column_version diff = 2, time diff = 29s -> conflict
	a := baseMeta("device_aa", 10, 1, now, "hash-a")
	b := baseMeta("device_bb", 12, 1, now.Add(29*time.Second), "hash-b")
	assert.True(t, a.HasConflictWith(b, cfg))

	// column_version diff = 3 -> not a conflict (stale)
	c := baseMeta("device_cc", 13, 1, now.Add(29*time.Second), "hash-c")
	assert.False(t, a.HasConflictWith(c, cfg))

	// time diff = 31s -> not a conflict (stale)
	d := baseMeta("device_dd", 12, 1, now.Add(31*time.Second), "hash-d")
	assert.False(t, a.HasConflictWith(d, cfg))

	// identical hash -> never a conflict regardless of drift
	e := baseMeta("device_ee", 999, 1, now.Add(time.Hour), "hash-a")
	assert.False(t, a.HasConflictWith(e, cfg))
}

func TestClassify(t *testing.T) {
	now := time.Unix(1000, 0)

	a := baseMeta("device_aa", 1, 5, now, "same")
	b := baseMeta("device_bb", 1, 5, now, "same")
	require.Equal(t, NoConflict, Classify(a, b))

	// ordered (happens_before) implies no_conflict even with differing hash
	c := baseMeta("device_cc", 1, 5, now, "x")
	d := baseMeta("device_dd", 1, 6, now, "y")
	assert.Equal(t, NoConflict, Classify(c, d))

	// concurrent, disjoint modified fields
	e := baseMeta("device_aa", 1, 5, now, "x")
	e.ModifiedFields = NewFieldSet("tags")
	f := baseMeta("device_bb", 1, 5, now, "y")
	f.ModifiedFields = NewFieldSet("content")
	assert.Equal(t, FieldLevelMergeable, Classify(e, f))

	// concurrent, overlapping modified fields
	g := baseMeta("device_aa", 1, 5, now, "x")
	g.ModifiedFields = NewFieldSet("content", "tags")
	h := baseMeta("device_bb", 1, 5, now, "y")
	h.ModifiedFields = NewFieldSet("content")
	assert.Equal(t, ContentConflict, Classify(g, h))
}

func TestUpdateForLocalChange(t *testing.T) {
	now := time.Unix(1000, 0)
	m := Create("rec1", "device_aa", 5, now, "h0", []string{"name", "content"})
	assert.Equal(t, uint64(1), m.ColumnVersion)
	assert.Equal(t, uint64(5), m.DBVersion)
	assert.ElementsMatch(t, []string{"content", "name"}, m.ModifiedFields.Sorted())

	later := now.Add(time.Minute)
	m2 := m.UpdateForLocalChange("h1", []string{"tags"}, later, 4)
	assert.Equal(t, uint64(2), m2.ColumnVersion)
	assert.Equal(t, uint64(5), m2.DBVersion, "db_version never decreases")
	assert.Equal(t, []string{"tags"}, m2.ModifiedFields.Sorted())

	m3 := m2.IncrementForSync(9)
	assert.Equal(t, uint64(9), m3.DBVersion)
	assert.True(t, m3.ModifiedFields.Empty())
}
