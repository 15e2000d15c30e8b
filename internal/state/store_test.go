package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type widget struct {
	spanID uint64
	label  string
}

type widgetRecord struct {
	spanID uint64
	label  string
	skip   bool
}

func buildWidget(ids *Ids[widget], rec widgetRecord) (Id[widget], *widget, bool) {
	if rec.skip {
		return 0, nil, false
	}
	return ids.IdFor(rec.spanID), &widget{spanID: rec.spanID, label: rec.label}, true
}

func TestIdsStable(t *testing.T) {
	var ids Ids[widget]

	first := ids.IdFor(42)
	assert.Equal(t, Id[widget](1), first)
	assert.Equal(t, Id[widget](2), ids.IdFor(7))
	for range 10 {
		assert.Equal(t, first, ids.IdFor(42))
	}

	got, ok := ids.Lookup(7)
	require.True(t, ok)
	assert.Equal(t, Id[widget](2), got)

	_, ok = ids.Lookup(99)
	assert.False(t, ok)
	assert.Equal(t, Id[widget](3), ids.IdFor(99), "lookup must not allocate")
}

func TestInsertWithLaterRecordWins(t *testing.T) {
	s := NewStore[widget]()
	InsertWith(s, Show, []widgetRecord{
		{spanID: 5, label: "first"},
		{spanID: 5, label: "second"},
	}, buildWidget)

	require.Equal(t, 1, s.Len())
	w, ok := s.Get(1)
	require.True(t, ok)
	assert.Equal(t, "second", w.label)

	refs := s.TakeNewItems()
	require.Len(t, refs, 1)
	assert.Equal(t, Id[widget](1), refs[0].Id())
}

func TestInsertWithSkipsOnlyBadRecords(t *testing.T) {
	s := NewStore[widget]()
	InsertWith(s, Show, []widgetRecord{
		{spanID: 1, label: "a"},
		{spanID: 2, skip: true},
		{spanID: 3, label: "c"},
	}, buildWidget)

	assert.Equal(t, 2, s.Len())
	_, ok := s.Ids().Lookup(2)
	assert.False(t, ok)
}

func TestTakeNewItemsDrainsOnce(t *testing.T) {
	s := NewStore[widget]()
	InsertWith(s, Show, []widgetRecord{{spanID: 10}, {spanID: 11}}, buildWidget)

	refs := s.TakeNewItems()
	require.Len(t, refs, 2)
	assert.Equal(t, Id[widget](1), refs[0].Id())
	assert.Equal(t, Id[widget](2), refs[1].Id())
	assert.Empty(t, s.TakeNewItems())

	// Replacing an existing entity is not a new item.
	InsertWith(s, Show, []widgetRecord{{spanID: 10, label: "again"}}, buildWidget)
	assert.Empty(t, s.TakeNewItems())
}

func TestTakeNewItemsSkipsEvicted(t *testing.T) {
	s := NewStore[widget]()
	InsertWith(s, Show, []widgetRecord{{spanID: 1}, {spanID: 2}}, buildWidget)
	s.Retain(func(id Id[widget], _ *widget) bool { return id != 1 })

	refs := s.TakeNewItems()
	require.Len(t, refs, 1)
	assert.Equal(t, Id[widget](2), refs[0].Id())
}

func TestInsertHiddenIsNotTracked(t *testing.T) {
	s := NewStore[widget]()
	InsertWith(s, Hide, []widgetRecord{{spanID: 1}}, buildWidget)

	assert.Equal(t, 1, s.Len())
	assert.Empty(t, s.TakeNewItems())
}

func TestUpdatedPairsKnownDeltas(t *testing.T) {
	s := NewStore[widget]()
	InsertWith(s, Hide, []widgetRecord{{spanID: 1, label: "a"}, {spanID: 2, label: "b"}}, buildWidget)
	s.Retain(func(id Id[widget], _ *widget) bool { return id != 2 })

	seen := map[string]string{}
	for delta, w := range Updated(s, map[uint64]string{1: "x", 2: "y", 3: "z"}) {
		seen[w.label] = delta
	}
	assert.Equal(t, map[string]string{"a": "x"}, seen)
}

func TestRefGetAfterEviction(t *testing.T) {
	s := NewStore[widget]()
	InsertWith(s, Show, []widgetRecord{{spanID: 1, label: "a"}}, buildWidget)
	refs := s.TakeNewItems()
	require.Len(t, refs, 1)

	w, ok := refs[0].Get()
	require.True(t, ok)
	assert.Equal(t, "a", w.label)

	s.Retain(func(Id[widget], *widget) bool { return false })
	_, ok = refs[0].Get()
	assert.False(t, ok)
	assert.Zero(t, s.Len())

	var zero Ref[widget]
	_, ok = zero.Get()
	assert.False(t, ok)
}

func TestEvictedIdIsReusedForSameSpan(t *testing.T) {
	s := NewStore[widget]()
	InsertWith(s, Show, []widgetRecord{{spanID: 9}}, buildWidget)
	s.TakeNewItems()
	s.Retain(func(Id[widget], *widget) bool { return false })

	InsertWith(s, Show, []widgetRecord{{spanID: 9, label: "reborn"}}, buildWidget)
	refs := s.TakeNewItems()
	require.Len(t, refs, 1)
	assert.Equal(t, Id[widget](1), refs[0].Id())
}

func TestReinsertBeforeDrainIsReportedOnce(t *testing.T) {
	s := NewStore[widget]()
	InsertWith(s, Show, []widgetRecord{{spanID: 9, label: "first"}}, buildWidget)
	s.Retain(func(Id[widget], *widget) bool { return false })
	InsertWith(s, Show, []widgetRecord{{spanID: 9, label: "reborn"}}, buildWidget)

	refs := s.TakeNewItems()
	require.Len(t, refs, 1)
	w, ok := refs[0].Get()
	require.True(t, ok)
	assert.Equal(t, "reborn", w.label)
	assert.Empty(t, s.TakeNewItems())

	s.Retain(func(Id[widget], *widget) bool { return false })
	InsertWith(s, Show, []widgetRecord{{spanID: 9}}, buildWidget)
	assert.Len(t, s.TakeNewItems(), 1)
}
