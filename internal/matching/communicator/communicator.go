// Package communicator implements the match loop's thread-rendezvous
// points: match-frequency estimation (feeds the match-phase limiter),
// second-phase work distribution (which hits get reranked by which
// thread), and score-range reconciliation after rerank.
package communicator

import (
	"container/heap"
	"math"

	"github.com/distributed-search/matchcore/internal/matching/rendezvous"
)

// Matches is one thread's observation for match-frequency estimation: how
// many candidates it has matched out of how many documents visited so
// far.
type Matches struct {
	Hits uint64
	Docs uint64
}

// Hit is a single first-phase scored document, as produced by a per-thread
// hit collector.
type Hit struct {
	DocID uint32
	Score float64
}

// TaggedHit pairs a hit with the index of the thread whose second-phase
// ranking program should rescore it.
type TaggedHit struct {
	Hit    Hit
	Origin int
}

// ScoreRange is an inclusive [Low, High] score interval; Valid is false
// until at least one score has been observed.
type ScoreRange struct {
	Low, High float64
	Valid     bool
}

// update folds score into the range, widening it as needed.
func (r *ScoreRange) update(score float64) {
	if !r.Valid {
		r.Low, r.High, r.Valid = score, score, true
		return
	}
	if score < r.Low {
		r.Low = score
	}
	if score > r.High {
		r.High = score
	}
}

// RangePair is the first-phase and second-phase score ranges reported back
// to each thread after rerank.
type RangePair struct {
	First, Second ScoreRange
}

// Diversifier optionally rejects candidate hits from the second-phase
// work set, e.g. to enforce a per-group cap on how many hits from the same
// diversity group may be reranked.
type Diversifier interface {
	Accepted(docID uint32) bool
}

// FirstPhaseRankLookup optionally records, for every docid considered
// during second-phase work selection, its 1-based rank by first-phase
// score (including docids that were subsequently rejected by a
// Diversifier).
type FirstPhaseRankLookup interface {
	Add(docID uint32, rank uint32)
}

// Communicator is the match loop's N-party rendezvous hub. It must be
// built once per query with the exact thread count that will participate,
// and is safe to re-enter (each rendezvous point can be called many times
// across the lifetime of a single query's match threads).
type Communicator struct {
	estimateFreq   *rendezvous.Rendezvous[Matches, float64]
	secondPhase    *rendezvous.Rendezvous[sortedHitSeq, []TaggedHit]
	completeSecond *rendezvous.Rendezvous[[]TaggedHit, completeOutput]

	topN        int
	diversifier Diversifier
	rankLookup  FirstPhaseRankLookup

	bestScores  ScoreRange
	bestDropped ScoreRange
}

type completeOutput struct {
	hits  []Hit
	ranges RangePair
}

// sortedHitSeq is one thread's hits, already sorted by descending score
// (ties broken by ascending docid), exposed as a pull-based sequence so
// the merge-mingle step does not need to materialize the whole cross
// product up front.
type sortedHitSeq struct {
	hits []Hit
	pos  int
}

func (s *sortedHitSeq) valid() bool { return s.pos < len(s.hits) }
func (s *sortedHitSeq) get() Hit    { return s.hits[s.pos] }
func (s *sortedHitSeq) next()       { s.pos++ }

// NewSortedHitSequence wraps hits (already sorted best-first) for use with
// Communicator.GetSecondPhaseWork.
func NewSortedHitSequence(hits []Hit) sortedHitSeq { return sortedHitSeq{hits: hits} }

// New builds a Communicator for the given thread count, reranking the
// global top topN hits in the second phase.
func New(threads, topN int) *Communicator {
	return NewDiversified(threads, topN, nil, nil)
}

// NewDiversified is like New but with an optional Diversifier and
// FirstPhaseRankLookup wired into the second-phase work selection.
func NewDiversified(threads, topN int, diversifier Diversifier, rankLookup FirstPhaseRankLookup) *Communicator {
	c := &Communicator{topN: topN, diversifier: diversifier, rankLookup: rankLookup}
	c.estimateFreq = rendezvous.New[Matches, float64](threads, c.mingleEstimateFreq)
	c.secondPhase = rendezvous.New[sortedHitSeq, []TaggedHit](threads, c.mingleSecondPhaseWork)
	c.completeSecond = rendezvous.New[[]TaggedHit, completeOutput](threads, c.mingleCompleteSecondPhase)
	return c
}

// EstimateMatchFrequency reports this thread's (hits, docs) observation and
// returns the mean per-thread hit rate across all threads.
func (c *Communicator) EstimateMatchFrequency(threadID int, m Matches) float64 {
	return c.estimateFreq.Meet(threadID, m)
}

func (c *Communicator) mingleEstimateFreq(in []Matches) []float64 {
	sum := 0.0
	for _, m := range in {
		if m.Docs > 0 {
			sum += float64(m.Hits) / float64(m.Docs)
		}
	}
	freq := sum / float64(len(in))
	out := make([]float64, len(in))
	for i := range out {
		out[i] = freq
	}
	return out
}

// hitHeapItem is a priority-queue entry over the per-thread sorted hit
// sequences, used to merge them into global descending-score order without
// materializing every hit up front.
type hitHeapItem struct{ thread int }

type hitHeap struct {
	items []hitHeapItem
	seqs  []sortedHitSeq
}

func (h *hitHeap) Len() int { return len(h.items) }
func (h *hitHeap) Less(i, j int) bool {
	a := h.seqs[h.items[i].thread].get()
	b := h.seqs[h.items[j].thread].get()
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.DocID < b.DocID
}
func (h *hitHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *hitHeap) Push(x any)    { h.items = append(h.items, x.(hitHeapItem)) }
func (h *hitHeap) Pop() any {
	old := h.items
	n := len(old)
	item := old[n-1]
	h.items = old[:n-1]
	return item
}

// GetSecondPhaseWork merges every thread's sorted hit sequence and assigns
// the global top topN hits to threads round-robin, skipping any hit the
// diversifier rejects. It returns the subset assigned to threadID.
func (c *Communicator) GetSecondPhaseWork(threadID int, hits sortedHitSeq) []TaggedHit {
	out := c.secondPhase.Meet(threadID, hits)
	return out
}

func (c *Communicator) mingleSecondPhaseWork(in []sortedHitSeq) [][]TaggedHit {
	n := len(in)
	c.bestScores = ScoreRange{}
	c.bestDropped = ScoreRange{}

	h := &hitHeap{seqs: in}
	for i := 0; i < n; i++ {
		if in[i].valid() {
			heap.Push(h, hitHeapItem{thread: i})
		}
	}

	out := make([][]TaggedHit, n)
	estOut := c.topN/n + 1
	for i := range out {
		out[i] = make([]TaggedHit, 0, estOut)
	}

	picked := 0
	var rank uint32
	for picked < c.topN && h.Len() > 0 {
		item := h.items[0]
		seq := &in[item.thread]
		hit := seq.get()
		accepted := c.diversifier == nil || c.diversifier.Accepted(hit.DocID)
		if accepted {
			rank++
			if c.rankLookup != nil {
				c.rankLookup.Add(hit.DocID, rank)
			}
			out[picked%n] = append(out[picked%n], TaggedHit{Hit: hit, Origin: item.thread})
			picked++
			if picked == 1 {
				c.bestScores.High = hit.Score
			}
			c.bestScores.Low = hit.Score
			c.bestScores.Valid = true
		} else {
			rank++
			if c.rankLookup != nil {
				c.rankLookup.Add(hit.DocID, rank)
			}
			if !c.bestDropped.Valid {
				c.bestDropped.Valid = true
				c.bestDropped.Low, c.bestDropped.High = hit.Score, hit.Score
			}
		}
		seq.next()
		if seq.valid() {
			heap.Fix(h, 0)
		} else {
			heap.Pop(h)
		}
	}
	return out
}

// CompleteSecondPhase reports threadID's reranked results and returns the
// subset whose origin is threadID, plus the reconciled first/second-phase
// score ranges.
func (c *Communicator) CompleteSecondPhase(threadID int, myResults []TaggedHit) ([]Hit, RangePair) {
	out := c.completeSecond.Meet(threadID, myResults)
	return out.hits, out.ranges
}

func (c *Communicator) mingleCompleteSecondPhase(in [][]TaggedHit) []completeOutput {
	n := len(in)
	byOrigin := make([][]Hit, n)
	estOut := c.topN/n + 16
	for i := range byOrigin {
		byOrigin[i] = make([]Hit, 0, estOut)
	}
	var second ScoreRange
	for _, results := range in {
		for _, th := range results {
			byOrigin[th.Origin] = append(byOrigin[th.Origin], th.Hit)
			second.update(th.Hit.Score)
		}
	}
	rangePair := RangePair{First: c.bestScores, Second: second}
	if rangePair.Second.Valid && c.bestDropped.Valid {
		rangePair.Second.Low = math.Max(rangePair.Second.Low, c.bestDropped.Low)
	}
	out := make([]completeOutput, n)
	for i := range out {
		out[i] = completeOutput{hits: byOrigin[i], ranges: rangePair}
	}
	return out
}
