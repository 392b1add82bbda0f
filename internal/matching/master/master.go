// Package master implements the match master (C9): the single-query
// orchestrator that picks a docid range scheduler, builds the
// match-loop communicator, runs N match threads concurrently, and merges
// their partial results into one reply (§4.9).
package master

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/distributed-search/matchcore/internal/matching/communicator"
	"github.com/distributed-search/matchcore/internal/matching/docid"
	"github.com/distributed-search/matchcore/internal/matching/doom"
	"github.com/distributed-search/matchcore/internal/matching/resultproc"
	"github.com/distributed-search/matchcore/internal/matching/thread"
	"github.com/distributed-search/matchcore/internal/matching/tools"
	"github.com/distributed-search/matchcore/pkg/tracing"
)

var log = slog.Default().With("component", "match-master")

// Params configures a single query's match (§4.9, §6 "Configuration
// surface").
type Params struct {
	NumThreads          int
	NumSearchPartitions int
	MinTask             uint32
	DocIDLimit          uint32

	Offset  int
	MaxHits int

	ArraySize int
	HeapSize  int

	RankDropLimit float64
	RankDropMode  thread.RankDropMode

	// RerankTopN is the number of globally-best hits reranked in the
	// second phase; 0 disables second-phase rerank coordination (the
	// ranking setup still decides per-thread whether to run it).
	RerankTopN  int
	Diversifier communicator.Diversifier
	RankLookup  communicator.FirstPhaseRankLookup

	SortSpecFactory func() *resultproc.SortSpec
	GrouperFactory  func() resultproc.Grouper

	Strict bool
	Doom   doom.Doom
}

// MatchingStats aggregates every thread's contribution for one query
// (§4.9 "aggregate per-thread stats into MatchingStats").
type MatchingStats struct {
	DocsCovered  uint64
	MatchesFound uint64
	SoftDooms    int
	HardDooms    int
	WasLimited   bool
	Issues       []string
}

// Reply is the master's output: the merged, size-bounded PartialResult,
// merged grouping bytes, and aggregated stats.
type Reply struct {
	Partial *resultproc.PartialResult
	Grouper resultproc.Grouper
	Stats   MatchingStats
}

// MatchMaster orchestrates a single query across N match threads.
type MatchMaster struct{}

// New builds a MatchMaster. It carries no state of its own — each call to
// Match is an independent query.
func New() *MatchMaster { return &MatchMaster{} }

// chooseScheduler implements §4.9's scheduler-selection rule: adaptive
// when num_search_partitions is 0, partition when it's at most the thread
// count, task otherwise.
func chooseScheduler(p Params) docid.Scheduler {
	switch {
	case p.NumSearchPartitions == 0:
		minTask := p.MinTask
		if minTask < 1 {
			minTask = 1
		}
		return docid.NewAdaptiveScheduler(p.NumThreads, minTask, p.DocIDLimit)
	case p.NumSearchPartitions <= p.NumThreads:
		return docid.NewPartitionScheduler(p.NumThreads, p.DocIDLimit)
	default:
		return docid.NewTaskScheduler(p.NumThreads, p.NumSearchPartitions, p.DocIDLimit)
	}
}

// Match runs the full match for one query: scheduler + communicator + N
// match threads, then a dual merge of their partial results.
func (m *MatchMaster) Match(ctx context.Context, factory *tools.Factory, p Params) (*Reply, error) {
	scheduler := chooseScheduler(p)
	comm := communicator.NewDiversified(p.NumThreads, p.RerankTopN, p.Diversifier, p.RankLookup)

	results := make([]thread.Result, p.NumThreads)
	threadGroupers := make([]resultproc.Grouper, p.NumThreads)
	var eg errgroup.Group
	for i := 0; i < p.NumThreads; i++ {
		i := i
		eg.Go(func() error {
			_, span := tracing.StartChildSpan(ctx, fmt.Sprintf("match.thread[%d]", i))
			defer span.End()
			collector := newCollector(p)
			var sortSpec *resultproc.SortSpec
			if p.SortSpecFactory != nil {
				sortSpec = p.SortSpecFactory()
			}
			var grouper resultproc.Grouper
			if p.GrouperFactory != nil {
				grouper = p.GrouperFactory()
			}
			rctx := resultproc.NewContext(collector, sortSpec, p.Offset+p.MaxHits, grouper)

			tp := thread.Params{
				ThreadID:      i,
				NumThreads:    p.NumThreads,
				Scheduler:     scheduler,
				Communicator:  comm,
				ToolsFactory:  factory,
				ResultContext: rctx,
				Strict:        p.Strict,
				RankDropLimit: p.RankDropLimit,
				RankDropMode:  p.RankDropMode,
				Doom:          p.Doom,
			}
			results[i] = thread.New(tp).Run()
			span.SetAttr("docs_covered", results[i].Stats.DocsCovered)
			span.SetAttr("matches_found", results[i].Stats.MatchesFound)
			threadGroupers[i] = rctx.Grouping
			return results[i].Err
		})
	}
	if err := eg.Wait(); err != nil {
		log.Warn("match thread reported error", "error", err)
	}

	stats := MatchingStats{}
	partials := make([]*resultproc.PartialResult, 0, p.NumThreads)
	for _, r := range results {
		if r.Partial == nil {
			continue
		}
		partials = append(partials, r.Partial)
		stats.DocsCovered += r.Stats.DocsCovered
		stats.MatchesFound += r.Stats.MatchesFound
		if r.Stats.SoftDoomed {
			stats.SoftDooms++
		}
		if r.Stats.HardDoomed {
			stats.HardDooms++
		}
		stats.WasLimited = stats.WasLimited || r.Stats.WasLimited
		stats.Issues = append(stats.Issues, r.Stats.Issues...)
	}

	merged := resultproc.Merge(partials, p.Offset+p.MaxHits)

	var groupResult resultproc.Grouper
	if p.GrouperFactory != nil {
		groupResult = resultproc.MergeGroupers(threadGroupers)
	}

	return &Reply{Partial: merged, Grouper: groupResult, Stats: stats}, nil
}

func newCollector(p Params) *resultproc.Collector {
	if p.SortSpecFactory != nil || p.GrouperFactory != nil {
		return resultproc.NewCollectorWithOverflow(p.ArraySize, p.HeapSize)
	}
	return resultproc.NewCollector(p.ArraySize, p.HeapSize)
}
