package resultproc

import (
	"bytes"
	"sort"
)

// SortSpec selects the multi-key sort-spec comparator instead of the
// default rank order (§4.7: "a sorter (default rank-order or a multi-key
// sort-spec)"). Key renders a docid's sort key to bytes; ties are broken
// lexicographically by Key, then by ascending docid.
type SortSpec struct {
	Key func(docID uint32) []byte
}

// Context is the per-thread result-processing state: the hit collector
// that absorbed the match loop's output, an optional sort spec, a capacity
// (offset+hits), and an optional grouping collaborator.
type Context struct {
	Collector *Collector
	Sort      *SortSpec
	Capacity  int
	Grouping  Grouper
}

// NewContext builds a Context. If sort is nil, ProcessResult keeps the
// default rank-order (score desc, docid asc); if grouping is nil, a
// NoGrouping stand-in is used.
func NewContext(collector *Collector, sort *SortSpec, capacity int, grouping Grouper) *Context {
	if grouping == nil {
		grouping = NoGrouping{}
	}
	return &Context{Collector: collector, Sort: sort, Capacity: capacity, Grouping: grouping}
}

// PartialResult is one thread's ordered, size-bounded slice of the overall
// result (§3: "an ordered sequence of hits bounded by offset+hits, optional
// sort data ... and a running total-hit count").
type PartialResult struct {
	Hits      []Hit
	SortData  [][]byte // nil unless a SortSpec was used; index-aligned with Hits
	TotalHits uint64
}

// ProcessResult implements the per-thread flow of §4.7 / §4.8 step 6: fold
// in bit-vector overflow for grouping/totals, sort (rank order or
// sort-spec), run both grouping passes, and return a PartialResult holding
// the top maxSize hits.
func ProcessResult(ctx *Context, maxSize int) *PartialResult {
	hits := ctx.Collector.FinalHits()

	allMatched := hits
	if bm := ctx.Collector.OverflowBitmap(); bm != nil {
		seen := make(map[uint32]struct{}, len(hits))
		for _, h := range hits {
			seen[h.DocID] = struct{}{}
		}
		extra := make([]Hit, 0, int(bm.GetCardinality())-len(hits))
		it := bm.Iterator()
		for it.HasNext() {
			d := it.Next()
			if _, ok := seen[d]; !ok {
				extra = append(extra, Hit{DocID: d})
			}
		}
		if len(extra) > 0 {
			allMatched = append(append([]Hit{}, hits...), extra...)
		}
	}
	ctx.Grouping.AddUnordered(allMatched)

	if ctx.Sort != nil {
		sortBySpec(hits, ctx.Sort)
	}
	if maxSize >= 0 && len(hits) > maxSize {
		hits = hits[:maxSize]
	}

	ctx.Grouping.AddRelevanceOrder(hits)

	pr := &PartialResult{Hits: hits, TotalHits: ctx.Collector.TotalHits()}
	if ctx.Sort != nil {
		pr.SortData = make([][]byte, len(hits))
		for i, h := range hits {
			pr.SortData[i] = ctx.Sort.Key(h.DocID)
		}
	}
	return pr
}

// sortBySpec orders hits by their sort-spec key bytes ascending, breaking
// ties by ascending docid.
func sortBySpec(hits []Hit, spec *SortSpec) {
	keys := make([][]byte, len(hits))
	for i, h := range hits {
		keys[i] = spec.Key(h.DocID)
	}
	idx := make([]int, len(hits))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		c := bytes.Compare(keys[idx[a]], keys[idx[b]])
		if c != 0 {
			return c < 0
		}
		return hits[idx[a]].DocID < hits[idx[b]].DocID
	})
	sorted := make([]Hit, len(hits))
	for i, j := range idx {
		sorted[i] = hits[j]
	}
	copy(hits, sorted)
}
