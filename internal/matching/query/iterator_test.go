package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func posting(docs ...uint32) *PostingIterator {
	return NewPostingIterator(docs, 0, nil)
}

// drain seeks from begin upward, collecting every matching docid in
// [begin, end).
func drain(it Iterator, begin, end uint32) []uint32 {
	it.InitRange(begin, end)
	var out []uint32
	for d := it.Seek(begin); d != NoDocID && d < end; d = it.Seek(d + 1) {
		out = append(out, d)
	}
	return out
}

func TestPostingIterator_SeekMonotonic(t *testing.T) {
	it := posting(2, 5, 9)
	it.InitRange(1, 100)

	assert.Equal(t, uint32(2), it.Seek(1))
	assert.Equal(t, uint32(5), it.Seek(3))
	assert.Equal(t, uint32(5), it.Seek(5))
	assert.Equal(t, uint32(9), it.Seek(6))
	assert.Equal(t, NoDocID, it.Seek(10))
}

func TestPostingIterator_RespectsRangeEnd(t *testing.T) {
	it := posting(2, 5, 9)
	assert.Equal(t, []uint32{2, 5}, drain(it, 1, 9))
}

func TestAlwaysTrueIterator_MatchesWholeRange(t *testing.T) {
	it := &AlwaysTrueIterator{}
	assert.Equal(t, []uint32{3, 4, 5}, drain(it, 3, 6))
}

func TestAlwaysFalseIterator_MatchesNothing(t *testing.T) {
	it := &AlwaysFalseIterator{}
	assert.Empty(t, drain(it, 1, 100))
}

func TestAndIterator_Intersection(t *testing.T) {
	it := NewAndIterator([]Iterator{
		posting(1, 2, 3, 5, 8),
		posting(2, 3, 4, 8, 9),
	})
	assert.Equal(t, []uint32{2, 3, 8}, drain(it, 1, 100))
}

func TestAndIterator_NoChildren(t *testing.T) {
	it := NewAndIterator(nil)
	assert.Empty(t, drain(it, 1, 100))
}

func TestOrIterator_Union(t *testing.T) {
	it := NewOrIterator([]Iterator{
		posting(1, 5),
		posting(2, 5, 9),
	})
	assert.Equal(t, []uint32{1, 2, 5, 9}, drain(it, 1, 100))
}

func TestOrIterator_NoChildMatchesRangeBegin(t *testing.T) {
	it := NewOrIterator([]Iterator{
		posting(2, 5),
		posting(3, 9),
	})
	assert.Equal(t, []uint32{2, 3, 5, 9}, drain(it, 1, 100))
}

func TestAndNotIterator_Exclusion(t *testing.T) {
	it := NewAndNotIterator(
		posting(1, 2, 3, 4, 5),
		[]Iterator{posting(2, 4)},
	)
	assert.Equal(t, []uint32{1, 3, 5}, drain(it, 1, 100))
}

func TestRankIterator_OnlyLeftDrivesMatching(t *testing.T) {
	it := NewRankIterator(
		posting(2, 4, 6),
		[]Iterator{posting(3, 4, 5)},
	)
	assert.Equal(t, []uint32{2, 4, 6}, drain(it, 1, 100))
}

func TestRankIterator_UnpackTouchesExtraChildren(t *testing.T) {
	var unpacked []uint32
	extra := NewPostingIterator([]uint32{4}, 7, func(_, docID uint32) {
		unpacked = append(unpacked, docID)
	})
	it := NewRankIterator(posting(2, 4), []Iterator{extra})
	it.InitRange(1, 100)

	assert.Equal(t, uint32(2), it.Seek(1))
	it.Unpack(2)
	assert.Empty(t, unpacked)

	assert.Equal(t, uint32(4), it.Seek(3))
	it.Unpack(4)
	assert.Equal(t, []uint32{4}, unpacked)
}
