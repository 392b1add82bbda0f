// Package tools builds per-thread, per-phase MatchTools from a frozen
// query plan and a ranking setup: the match-data, the handle recorder
// binding, and a fresh iterator (§4.3, §4.8 step 1, §9 "Ranking program
// reuse"). Ranking feature evaluation itself stays a black box per
// spec.md §1 — RankSetup is the seam this package hands control across.
package tools

import (
	"github.com/distributed-search/matchcore/internal/matching/handles"
	"github.com/distributed-search/matchcore/internal/matching/phaselimit"
	"github.com/distributed-search/matchcore/internal/matching/query"
)

// RankSetup is the black-box ranking program collaborator a Factory is
// built with. SetupFirstPhase/SetupSecondPhase run once per MatchTools
// creation, registering the match-data handles they need via recorder and
// returning a per-docid scoring closure plus any non-fatal setup issues
// (§7, "Feature setup warnings").
type RankSetup interface {
	SetupFirstPhase(recorder *handles.Recorder, md *handles.MatchData) (score func(docID uint32) float64, issues []string)
	HasSecondPhase() bool
	SetupSecondPhase(recorder *handles.Recorder, md *handles.MatchData) (score func(docID uint32) float64, issues []string)
}

// AttributeTask mutates an attribute for a batch of docids after a match
// phase completes (§4.8 step 6, rank-properties `vespa.execute.*`). The
// attribute write path itself is an external collaborator; this package
// only owns when each task fires and with which docids.
type AttributeTask interface {
	Run(docIDs []uint32)
}

// AttributeTasks binds one optional task per trigger point: every matched
// docid (on-match, fed the rank-drop tracker's docids too), the
// first-phase top hits, the reranked hits, and the docsum docids.
type AttributeTasks struct {
	OnMatch      AttributeTask
	OnFirstPhase AttributeTask
	OnRerank     AttributeTask
	OnSummary    AttributeTask
}

// MatchTools bundles everything one match thread needs for one ranking
// phase: a fresh iterator over the frozen plan, that iterator's
// match-data, the recorder that tagged it, and the scoring closure.
type MatchTools struct {
	Iterator  query.Iterator
	MatchData *handles.MatchData
	Recorder  *handles.Recorder
	Score     func(docID uint32) float64
	Issues    []string
}

// Factory is the concrete MatchToolsFactory built once per query by the
// matcher façade (C10) and shared read-only by every match thread (C8).
type Factory struct {
	blueprint  query.Blueprint
	numHandles uint32
	rank       RankSetup
	limiter    phaselimit.MaybeMatchPhaseLimiter
	docIDLimit uint32
	tasks      AttributeTasks
	valid      bool
	invalidErr error
}

// New builds a valid Factory over an already frozen, posting-fetched
// blueprint.
func New(blueprint query.Blueprint, numHandles uint32, rank RankSetup, limiter phaselimit.MaybeMatchPhaseLimiter, docIDLimit uint32) *Factory {
	return &Factory{blueprint: blueprint, numHandles: numHandles, rank: rank, limiter: limiter, docIDLimit: docIDLimit, valid: true}
}

// Invalid builds a Factory that failed to build (§7, "Query build
// error"): Valid() is false and the caller must not invoke match().
func Invalid(err error) *Factory {
	return &Factory{invalidErr: err}
}

// SetAttributeTasks attaches the per-query attribute-mutation tasks; must
// be called before any thread calls CreateFirstPhase.
func (f *Factory) SetAttributeTasks(t AttributeTasks) { f.tasks = t }

// Tasks returns the attribute-mutation tasks for this query (all fields
// nil when none are configured).
func (f *Factory) Tasks() AttributeTasks { return f.tasks }

func (f *Factory) Valid() bool            { return f.valid }
func (f *Factory) InvalidErr() error      { return f.invalidErr }
func (f *Factory) Blueprint() query.Blueprint { return f.blueprint }
func (f *Factory) DocIDLimit() uint32      { return f.docIDLimit }
func (f *Factory) Limiter() phaselimit.MaybeMatchPhaseLimiter {
	if f.limiter == nil {
		return phaselimit.NoLimiter{}
	}
	return f.limiter
}

// EstimatedHits returns the plan's cached estimate, used by the matcher
// façade to size num_threads_per_search (§4.10).
func (f *Factory) EstimatedHits() uint64 {
	if f.blueprint == nil {
		return 0
	}
	return f.blueprint.Estimate().EstHits
}

// CreateFirstPhase builds a fresh first-phase MatchTools: new match-data,
// a fresh recorder binding for ranking-program setup, and a newly
// materialized iterator over the frozen blueprint.
func (f *Factory) CreateFirstPhase(strict bool) *MatchTools {
	md := handles.NewMatchData(int(f.numHandles))
	rec := handles.NewRecorder()
	score, issues := f.rank.SetupFirstPhase(rec, md)
	rec.TagMatchData(md)
	it := f.blueprint.CreateSearch(md, strict)
	return &MatchTools{Iterator: it, MatchData: md, Recorder: rec, Score: score, Issues: issues}
}

// CreateSecondPhase builds a fresh second-phase MatchTools, or nil if no
// second-phase program is configured. Per §9's design note, the iterator
// is always created fresh here rather than reused from the first phase:
// iterators can carry state (e.g. WAND thresholds) that would legitimately
// produce different matches once rescored.
func (f *Factory) CreateSecondPhase(strict bool) *MatchTools {
	if !f.rank.HasSecondPhase() {
		return nil
	}
	md := handles.NewMatchData(int(f.numHandles))
	rec := handles.NewRecorder()
	score, issues := f.rank.SetupSecondPhase(rec, md)
	rec.TagMatchData(md)
	it := f.blueprint.CreateSearch(md, strict)
	return &MatchTools{Iterator: it, MatchData: md, Recorder: rec, Score: score, Issues: issues}
}
