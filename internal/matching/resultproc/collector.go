// Package resultproc implements per-thread hit collection, sorting, and
// the final cross-thread merge into one PartialResult — the Go analogue
// of proton's HitCollector / processResult / dual-merge-director chain.
package resultproc

import (
	"container/heap"
	"math"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"
)

// Hit is a fingerprinted match: a docid and its first-phase score.
// NaN/±Inf scores are normalized to -Inf before entering any heap, so
// comparisons never need NaN-aware special casing downstream.
type Hit struct {
	DocID uint32
	Score float64
}

func normalizeScore(score float64) float64 {
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return math.Inf(-1)
	}
	return score
}

// hitHeap is a min-heap whose root is the worst retained hit under the
// rank order (score desc, docid asc), letting Collector evict it in
// O(log n) once over capacity. On equal scores the larger docid is the
// worse hit, so it must sort toward the root.
type hitHeap []Hit

func (h hitHeap) Len() int { return len(h) }
func (h hitHeap) Less(i, j int) bool {
	if h[i].Score != h[j].Score {
		return h[i].Score < h[j].Score
	}
	return h[i].DocID > h[j].DocID
}
func (h hitHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *hitHeap) Push(x interface{}) { *h = append(*h, x.(Hit)) }
func (h *hitHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Collector accumulates hits for one thread across the match loop.
// While below arraySize it keeps a plain unsorted slice (cheap to
// append); once it would exceed arraySize it spills into a bounded
// heapSize min-heap so later, better hits can still evict the worst
// one already collected.
type Collector struct {
	arraySize int
	heapSize  int
	array     []Hit
	heap      hitHeap
	heapMode  bool
	dropped   []Hit // rank-drop-limit "track" mode: docids dropped below the limit

	total    uint64
	overflow *roaring.Bitmap    // every matched docid, when sort/grouping needs more than the heap keeps
	reranked map[uint32]float64 // second-phase scores, keyed by docid, overriding the first-phase score
}

// NewCollector builds a Collector with the given array/heap capacities.
func NewCollector(arraySize, heapSize int) *Collector {
	return &Collector{arraySize: arraySize, heapSize: heapSize}
}

// NewCollectorWithOverflow is like NewCollector but additionally tracks
// every matched docid in a compact bitmap, for queries where sort data or
// grouping must see matches the array/heap had no room to keep (§4.7,
// "overflow bit-vector hits into the hit list").
func NewCollectorWithOverflow(arraySize, heapSize int) *Collector {
	return &Collector{arraySize: arraySize, heapSize: heapSize, overflow: roaring.New()}
}

// Add records one candidate hit (already past any rank-drop filtering).
func (c *Collector) Add(docID uint32, score float64) {
	c.total++
	if c.overflow != nil {
		c.overflow.Add(docID)
	}
	hit := Hit{DocID: docID, Score: normalizeScore(score)}
	if !c.heapMode {
		if len(c.array) < c.arraySize {
			c.array = append(c.array, hit)
			return
		}
		c.heapMode = true
		c.heap = make(hitHeap, len(c.array))
		copy(c.heap, c.array)
		heap.Init(&c.heap)
		c.array = nil
	}
	heap.Push(&c.heap, hit)
	if c.heap.Len() > c.heapSize {
		heap.Pop(&c.heap)
	}
}

// TotalHits returns the number of matches ever passed to Add, independent
// of how many the array/heap had room to retain.
func (c *Collector) TotalHits() uint64 { return c.total }

// OverflowBitmap returns the set of every matched docid, or nil if this
// collector wasn't built with overflow tracking.
func (c *Collector) OverflowBitmap() *roaring.Bitmap { return c.overflow }

// SetReranked installs the second-phase rerank results: hits records the
// new score for every docid the second-phase ranking program rescored.
// FinalHits then orders these ahead of, and by, their new score, with
// every other hit following in original first-phase rank order.
func (c *Collector) SetReranked(hits []Hit) {
	c.reranked = make(map[uint32]float64, len(hits))
	for _, h := range hits {
		c.reranked[h.DocID] = h.Score
	}
}

// AddDropped records a docid the rank-drop-limit filter rejected, for
// track mode's side-task consumers.
func (c *Collector) AddDropped(docID uint32, score float64) {
	c.dropped = append(c.dropped, Hit{DocID: docID, Score: normalizeScore(score)})
}

// Dropped returns every hit recorded via AddDropped.
func (c *Collector) Dropped() []Hit { return c.dropped }

// SortedHitSequence returns a sorted copy of the retained hits in rank
// order (score desc, docid asc): the array's contents while still in
// array mode, the heap's once it has spilled. The collector itself is
// left unchanged.
func (c *Collector) SortedHitSequence() []Hit {
	var hits []Hit
	if c.heapMode {
		hits = append(hits, []Hit(c.heap)...)
	} else {
		hits = append(hits, c.array...)
	}
	sortHits(hits)
	return hits
}

// FinalHits returns the collector's hits after an optional second-phase
// rerank (SetReranked): reranked hits come first, ordered by their new
// score, followed by every remaining hit in its original first-phase rank
// order (S5: "top 5 reranked, then the remaining 5 ... in first-phase
// order"). With no rerank installed, this is just SortedHitSequence.
func (c *Collector) FinalHits() []Hit {
	base := c.SortedHitSequence()
	if len(c.reranked) == 0 {
		return base
	}
	rerankedHits := make([]Hit, 0, len(c.reranked))
	rest := make([]Hit, 0, len(base))
	for _, h := range base {
		if score, ok := c.reranked[h.DocID]; ok {
			rerankedHits = append(rerankedHits, Hit{DocID: h.DocID, Score: normalizeScore(score)})
		} else {
			rest = append(rest, h)
		}
	}
	sortHits(rerankedHits)
	return append(rerankedHits, rest...)
}

// sortHits orders by descending score, breaking ties by ascending
// docid — the rank-order default comparator used throughout §4.7.
func sortHits(hits []Hit) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].DocID < hits[j].DocID
	})
}
