package resultproc

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_ArrayModeKeepsInsertionUntilFull(t *testing.T) {
	c := NewCollector(3, 3)
	c.Add(1, 1.0)
	c.Add(2, 2.0)
	assert.EqualValues(t, 2, c.TotalHits())

	hits := c.SortedHitSequence()
	require.Len(t, hits, 2)
	assert.Equal(t, uint32(2), hits[0].DocID) // higher score first
	assert.Equal(t, uint32(1), hits[1].DocID)
}

func TestCollector_SpillsToHeapAndEvictsWorst(t *testing.T) {
	c := NewCollector(2, 2)
	c.Add(1, 1.0)
	c.Add(2, 2.0)
	c.Add(3, 3.0) // forces heap mode, evicts docid 1 (worst score)
	c.Add(4, 0.5) // worse than everything currently kept, doesn't displace anything useful

	assert.EqualValues(t, 4, c.TotalHits())
	hits := c.SortedHitSequence()
	require.Len(t, hits, 2)
	assert.Equal(t, uint32(3), hits[0].DocID)
	assert.Equal(t, uint32(2), hits[1].DocID)
}

func TestCollector_HeapEviction_TieBreaksByDocID(t *testing.T) {
	c := NewCollector(2, 2)
	c.Add(1, 10.0)
	c.Add(2, 10.0)
	c.Add(3, 10.0) // forces heap mode; the tie must evict the largest docid

	hits := c.SortedHitSequence()
	require.Len(t, hits, 2)
	assert.Equal(t, uint32(1), hits[0].DocID)
	assert.Equal(t, uint32(2), hits[1].DocID)

	// A tied late arrival never displaces a smaller-docid tied hit.
	c.Add(4, 10.0)
	hits = c.SortedHitSequence()
	require.Len(t, hits, 2)
	assert.Equal(t, uint32(1), hits[0].DocID)
	assert.Equal(t, uint32(2), hits[1].DocID)
}

func TestCollector_NormalizesNaNAndInfScores(t *testing.T) {
	c := NewCollector(10, 10)
	c.Add(1, math.NaN())
	c.Add(2, math.Inf(1))
	c.Add(3, math.Inf(-1))
	c.Add(4, 5.0)

	hits := c.SortedHitSequence()
	require.Len(t, hits, 4)
	// NaN/+Inf both normalize to -Inf, so docid 4 (real score) sorts first,
	// and the three -Inf ties break by ascending docid.
	assert.Equal(t, uint32(4), hits[0].DocID)
	assert.Equal(t, []uint32{1, 2, 3}, []uint32{hits[1].DocID, hits[2].DocID, hits[3].DocID})
}

func TestCollector_OverflowBitmapTracksEveryMatch(t *testing.T) {
	c := NewCollectorWithOverflow(1, 1)
	c.Add(10, 1.0)
	c.Add(20, 2.0)
	c.Add(30, 3.0)

	bm := c.OverflowBitmap()
	require.NotNil(t, bm)
	assert.True(t, bm.Contains(10))
	assert.True(t, bm.Contains(20))
	assert.True(t, bm.Contains(30))
	assert.EqualValues(t, 3, bm.GetCardinality())
}

func TestCollector_FinalHits_RerankOrdersRerankedFirst(t *testing.T) {
	c := NewCollector(10, 10)
	c.Add(1, 5.0)
	c.Add(2, 4.0)
	c.Add(3, 3.0)
	c.Add(4, 2.0)

	// Second-phase only rescored docids 3 and 4, boosting them above 1 and 2.
	c.SetReranked([]Hit{{DocID: 3, Score: 100.0}, {DocID: 4, Score: 90.0}})

	hits := c.FinalHits()
	require.Len(t, hits, 4)
	assert.Equal(t, []uint32{3, 4, 1, 2}, []uint32{hits[0].DocID, hits[1].DocID, hits[2].DocID, hits[3].DocID})
}

func TestCollector_DroppedTracksRankDropLimitRejects(t *testing.T) {
	c := NewCollector(10, 10)
	c.AddDropped(7, 0.1)
	c.AddDropped(8, 0.2)

	dropped := c.Dropped()
	require.Len(t, dropped, 2)
	assert.Equal(t, uint32(7), dropped[0].DocID)
}
