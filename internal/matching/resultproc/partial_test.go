package resultproc

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessResult_DefaultRankOrder(t *testing.T) {
	c := NewCollector(10, 10)
	c.Add(1, 1.0)
	c.Add(2, 3.0)
	c.Add(3, 2.0)

	ctx := NewContext(c, nil, 2, nil)
	pr := ProcessResult(ctx, 2)

	require.Len(t, pr.Hits, 2)
	assert.Equal(t, uint32(2), pr.Hits[0].DocID)
	assert.Equal(t, uint32(3), pr.Hits[1].DocID)
	assert.EqualValues(t, 3, pr.TotalHits)
	assert.Nil(t, pr.SortData)
}

func TestProcessResult_SortSpecOverridesRankOrder(t *testing.T) {
	c := NewCollector(10, 10)
	c.Add(1, 100.0)
	c.Add(2, 1.0)

	spec := &SortSpec{Key: func(docID uint32) []byte {
		// Descending docid maps to ascending key bytes, so docid 2 sorts first.
		return []byte{byte(10 - docID)}
	}}
	ctx := NewContext(c, spec, 10, nil)
	pr := ProcessResult(ctx, 10)

	require.Len(t, pr.Hits, 2)
	assert.Equal(t, uint32(2), pr.Hits[0].DocID)
	require.Len(t, pr.SortData, 2)
	assert.True(t, bytes.Equal(pr.SortData[0], []byte{8}))
}

func TestProcessResult_GroupingSeesOverflowBeyondBoundedHits(t *testing.T) {
	c := NewCollectorWithOverflow(1, 1)
	c.Add(1, 3.0)
	c.Add(2, 2.0)
	c.Add(3, 1.0) // array/heap only keeps 1 entry, overflow bitmap keeps all 3

	g := &CountGrouper{}
	ctx := NewContext(c, nil, 1, g)
	pr := ProcessResult(ctx, 1)

	require.Len(t, pr.Hits, 1)
	assert.Equal(t, 3, g.Unordered, "AddUnordered must see every matched docid, not just the bounded hit list")
	assert.Len(t, g.Ordered, 1, "AddRelevanceOrder only sees the size-bounded, sorted prefix")
}

func TestProcessResult_NilGroupingDefaultsToNoGrouping(t *testing.T) {
	c := NewCollector(10, 10)
	c.Add(1, 1.0)

	ctx := NewContext(c, nil, 10, nil)
	assert.IsType(t, NoGrouping{}, ctx.Grouping)

	pr := ProcessResult(ctx, 10)
	assert.Len(t, pr.Hits, 1)
}
