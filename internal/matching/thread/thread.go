// Package thread implements the per-thread match loop driver (§4.8): the
// inner seek/unpack/score loop, first-phase rank-drop handling, the
// hand-off to the match-phase limiter and the adaptive scheduler's
// work-stealing, the second-phase rerank, and per-thread result
// post-processing.
package thread

import (
	"sort"
	"time"

	"github.com/distributed-search/matchcore/internal/matching/communicator"
	"github.com/distributed-search/matchcore/internal/matching/docid"
	"github.com/distributed-search/matchcore/internal/matching/doom"
	"github.com/distributed-search/matchcore/internal/matching/query"
	"github.com/distributed-search/matchcore/internal/matching/resultproc"
	"github.com/distributed-search/matchcore/internal/matching/tools"
)

// RankDropMode selects how a thread treats hits whose first-phase score
// falls below the configured rank-drop limit (§3 "Rank-drop limit").
type RankDropMode int

const (
	RankDropNone RankDropMode = iota
	RankDropYes
	RankDropTrack
)

// Params bundles everything a single MatchThread instance needs for one
// query; Master builds one Params per thread id.
type Params struct {
	ThreadID   int
	NumThreads int

	Scheduler     docid.Scheduler
	Communicator  *communicator.Communicator
	ToolsFactory  *tools.Factory
	ResultContext *resultproc.Context

	Strict bool

	RankDropLimit float64
	RankDropMode  RankDropMode

	Doom doom.Doom
}

// Stats is what one MatchThread reports back to the master for
// aggregation into MatchingStats (§4.9).
type Stats struct {
	DocsCovered   uint64
	MatchesFound  uint64
	SoftDoomed    bool
	HardDoomed    bool
	WasLimited    bool
	Issues        []string
	FirstPhaseRng communicator.ScoreRange
	SecondPhase   communicator.ScoreRange
}

// Result is a MatchThread's output: its PartialResult plus stats.
type Result struct {
	Partial *resultproc.PartialResult
	Stats   Stats
	Err     error
}

// MatchThread drives the match loop for one worker thread of one query.
type MatchThread struct {
	p    Params
	now  func() time.Time
	stat Stats
}

// New builds a MatchThread. now defaults to time.Now; tests may override
// it to drive doom deterministically.
func New(p Params) *MatchThread {
	return &MatchThread{p: p, now: time.Now}
}

// Run executes the full per-thread flow of §4.8 and returns the thread's
// PartialResult and stats.
func (t *MatchThread) Run() Result {
	ft := t.p.ToolsFactory.CreateFirstPhase(t.p.Strict)
	t.stat.Issues = append(t.stat.Issues, ft.Issues...)

	limiter := t.p.ToolsFactory.Limiter()
	sampleTarget := limiter.SampleHitsPerThread(uint64(t.p.NumThreads))
	docIDLimit := t.p.ToolsFactory.DocIDLimit()
	idleObs := t.p.Scheduler.IdleObserver()
	doShare := !idleObs.AlwaysZero()

	collector := t.p.ResultContext.Collector

	tasks := t.p.ToolsFactory.Tasks()
	var matchedDocs []uint32 // only collected when an on-match task wants them

	var matchesSeen, docsSeen, sampleCount uint64
	limited := false

	rng := t.p.Scheduler.FirstRange(t.p.ThreadID)
	for !rng.Empty() {
		ft.Iterator.InitRange(rng.Begin, rng.End)
		cursor := rng.Begin

		for cursor < rng.End {
			if t.p.Doom.SoftDoom(t.now()) {
				t.stat.SoftDoomed = true
				break
			}

			d := ft.Iterator.Seek(cursor)
			if d == query.NoDocID || d >= rng.End {
				cursor = rng.End
				break
			}
			ft.Iterator.Unpack(d)
			score := ft.Score(d)
			docsSeen++
			t.stat.DocsCovered++

			if t.p.RankDropMode != RankDropNone && score < t.p.RankDropLimit {
				if t.p.RankDropMode == RankDropTrack {
					collector.AddDropped(d, score)
					if tasks.OnMatch != nil {
						matchedDocs = append(matchedDocs, d)
					}
				}
			} else {
				matchesSeen++
				t.stat.MatchesFound++
				collector.Add(d, score)
				if tasks.OnMatch != nil {
					matchedDocs = append(matchedDocs, d)
				}
			}
			cursor = d + 1

			if limiter.IsEnabled() && !limited && sampleTarget > 0 {
				sampleCount++
				if sampleCount >= sampleTarget {
					freq := t.p.Communicator.EstimateMatchFrequency(t.p.ThreadID, communicator.Matches{Hits: matchesSeen, Docs: docsSeen})
					newIt, err := limiter.MaybeLimit(ft.Iterator, freq, uint64(docIDLimit), cursor-1, rng.End)
					if err == nil {
						ft.Iterator = newIt
						limited = true
					}
				}
			}

			if doShare && idleObs.Get() > 0 {
				donated := t.p.Scheduler.ShareRange(t.p.ThreadID, docid.Range{Begin: cursor, End: rng.End})
				if donated.End < rng.End {
					rng.End = donated.End
					ft.Iterator.InitRange(cursor, rng.End)
				}
			}
		}

		if limiter.IsEnabled() {
			searched := uint64(cursor - rng.Begin)
			remaining := uint64(0)
			if rng.End > cursor {
				remaining = uint64(rng.End - cursor)
			}
			limiter.UpdateDocIDSpaceEstimate(searched, remaining)
		}

		if t.stat.SoftDoomed {
			break
		}
		rng = t.p.Scheduler.NextRange(t.p.ThreadID)
	}
	t.stat.WasLimited = limiter.WasLimited()

	if tasks.OnFirstPhase != nil {
		hits := collector.SortedHitSequence()
		ids := make([]uint32, len(hits))
		for i, h := range hits {
			ids[i] = h.DocID
		}
		tasks.OnFirstPhase.Run(ids)
	}

	if t.p.ToolsFactory.Valid() {
		t.runSecondPhase(collector)
	}

	partial := resultproc.ProcessResult(t.p.ResultContext, t.p.ResultContext.Capacity)
	partial.TotalHits = collector.TotalHits()

	if tasks.OnMatch != nil {
		tasks.OnMatch.Run(matchedDocs)
	}

	return Result{Partial: partial, Stats: t.stat}
}

// runSecondPhase implements §4.8 step 4: extract the sorted hit sequence,
// rendezvous for this thread's share of the global top-N, rerank it with a
// freshly built second-phase MatchTools, and rendezvous again to collect
// the reconciled score ranges.
func (t *MatchThread) runSecondPhase(collector *resultproc.Collector) {
	st := t.p.ToolsFactory.CreateSecondPhase(t.p.Strict)
	if st == nil {
		return
	}

	sorted := collector.SortedHitSequence()
	commHits := make([]communicator.Hit, len(sorted))
	for i, h := range sorted {
		commHits[i] = communicator.Hit{DocID: h.DocID, Score: h.Score}
	}
	work := t.p.Communicator.GetSecondPhaseWork(t.p.ThreadID, communicator.NewSortedHitSequence(commHits))

	hardDoomed := t.p.Doom.HardDoom(t.now())
	t.stat.HardDoomed = hardDoomed

	myResults := make([]communicator.TaggedHit, 0, len(work))
	if !hardDoomed {
		// Work arrives in descending score order; the iterator only moves
		// forward, so visit it by ascending docid.
		sort.Slice(work, func(i, j int) bool { return work[i].Hit.DocID < work[j].Hit.DocID })
		st.Iterator.InitRange(0, t.p.ToolsFactory.DocIDLimit())
		for _, w := range work {
			if st.Iterator.Seek(w.Hit.DocID) != w.Hit.DocID {
				continue
			}
			st.Iterator.Unpack(w.Hit.DocID)
			newScore := st.Score(w.Hit.DocID)
			myResults = append(myResults, communicator.TaggedHit{
				Hit:    communicator.Hit{DocID: w.Hit.DocID, Score: newScore},
				Origin: w.Origin,
			})
		}
	}
	// Hard doom: myResults stays empty, but this thread still
	// participates in the rendezvous so no peer stalls (§5).

	hits, ranges := t.p.Communicator.CompleteSecondPhase(t.p.ThreadID, myResults)
	t.stat.FirstPhaseRng = ranges.First
	t.stat.SecondPhase = ranges.Second

	reranked := make([]resultproc.Hit, len(hits))
	for i, h := range hits {
		reranked[i] = resultproc.Hit{DocID: h.DocID, Score: h.Score}
	}
	collector.SetReranked(reranked)

	if tasks := t.p.ToolsFactory.Tasks(); tasks.OnRerank != nil {
		ids := make([]uint32, len(reranked))
		for i, h := range reranked {
			ids[i] = h.DocID
		}
		tasks.OnRerank.Run(ids)
	}
}
