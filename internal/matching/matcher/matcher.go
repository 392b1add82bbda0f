// Package matcher implements the per-schema matcher facade (C10): the
// long-lived object that turns one query AST into a frozen query plan,
// a MatchToolsFactory, and a master.Match call, tracking the adaptive
// soft-timeout factor and computing the reply's coverage bits (§4.10).
package matcher

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/distributed-search/matchcore/internal/matching/attrlimit"
	"github.com/distributed-search/matchcore/internal/matching/doom"
	"github.com/distributed-search/matchcore/internal/matching/master"
	"github.com/distributed-search/matchcore/internal/matching/phaselimit"
	"github.com/distributed-search/matchcore/internal/matching/query"
	"github.com/distributed-search/matchcore/internal/matching/querylimiter"
	"github.com/distributed-search/matchcore/internal/matching/resultproc"
	"github.com/distributed-search/matchcore/internal/matching/session"
	"github.com/distributed-search/matchcore/internal/matching/thread"
	"github.com/distributed-search/matchcore/internal/matching/tools"
	apperrors "github.com/distributed-search/matchcore/pkg/errors"
	"github.com/distributed-search/matchcore/pkg/metrics"
	"github.com/distributed-search/matchcore/pkg/tracing"
)

var log = slog.Default().With("component", "matcher")

// maxChangeFactor bounds how much the soft-timeout factor can move in a
// single update (§12, "soft-timeout factor bootstrap window and
// contraction formula").
const maxChangeFactor = 0.2

// RankSetupFactory builds the black-box ranking program for one query.
// Ranking-program compilation itself is out of scope (spec.md §1
// Non-goals); the facade only needs something that satisfies
// tools.RankSetup once a query arrives.
type RankSetupFactory func(root query.Node) tools.RankSetup

// Config mirrors §6's "Configuration surface" table.
type Config struct {
	NumThreadsPerSearch int
	MinHitsPerThread    int
	NumSearchPartitions int
	MinTask             uint32

	ArraySize int
	HeapSize  int

	RankDropLimit float64
	RankDropMode  thread.RankDropMode

	Degradation phaselimit.DegradationParams
	Diversity   phaselimit.DiversityParams

	SoftTimeoutEnabled         bool
	SoftTimeoutFactor          float64
	SoftTimeoutFactorOverride  bool
	SoftTimeoutBootstrapWindow time.Duration
}

// Matcher is the long-lived, per-schema matching facade. One Matcher is
// built per document schema and shared read-only across concurrent
// queries except for its soft-timeout factor, which is mutex-guarded.
type Matcher struct {
	searchable   query.Searchable
	rangeLocator attrlimit.RangeQueryLocator
	rankFactory  RankSetupFactory
	cfg          Config
	metrics      *metrics.Metrics
	processStart time.Time

	mu             sync.Mutex
	softDoomFactor float64

	sessions     *session.Manager
	queryLimiter *querylimiter.QueryLimiter
	views        query.FieldResolver
}

// SetSessions attaches the session manager (C11) used for sessionId-keyed
// search/docsum reuse and grouping continuation (§4.10, §4.11). Optional:
// a Matcher with no session manager attached never caches sessions and
// Request.SessionID is ignored.
func (m *Matcher) SetSessions(mgr *session.Manager) { m.sessions = mgr }

// SetQueryLimiter attaches the process-wide concurrent-heavy-query
// throttle shared across every Matcher in the process (§5). Optional: a
// Matcher with no limiter attached admits every query immediately.
func (m *Matcher) SetQueryLimiter(l *querylimiter.QueryLimiter) { m.queryLimiter = l }

// SetViewResolver attaches the schema's fieldset view resolver (§4.10,
// "Initialize a ViewResolver from the schema's fieldsets"). Optional:
// without one, field names in the query AST are taken as concrete.
func (m *Matcher) SetViewResolver(r query.FieldResolver) { m.views = r }

// prepareAST runs the pre-build passes over a request's query tree: view
// resolution, then field splitting so every leaf reaches the builder with
// exactly one field (§4.4's preprocessing steps).
func (m *Matcher) prepareAST(root query.Node) query.Node {
	if m.views != nil {
		root = query.ResolveViews(root, m.views)
	}
	return query.SplitFields(root)
}

// New builds a Matcher over one schema's Searchable/RangeQueryLocator and
// ranking-program factory. m may be nil, in which case Match records no
// metrics.
func New(searchable query.Searchable, rangeLocator attrlimit.RangeQueryLocator, rankFactory RankSetupFactory, cfg Config, m *metrics.Metrics) *Matcher {
	factor := cfg.SoftTimeoutFactor
	if factor <= 0 {
		factor = 0.5
	}
	return &Matcher{
		searchable:     searchable,
		rangeLocator:   rangeLocator,
		rankFactory:    rankFactory,
		cfg:            cfg,
		metrics:        m,
		processStart:   time.Now(),
		softDoomFactor: factor,
	}
}

// Request is one query's inputs to Match.
type Request struct {
	Root       query.Node
	Whitelist  query.Node
	DocIDLimit uint32
	Offset     int
	MaxHits    int
	Timeout    time.Duration
	Strict     bool

	Sort           *resultproc.SortSpec
	GrouperFactory func() resultproc.Grouper
	GIDs           resultproc.GIDResolver
	NumActiveLids  int64

	// SessionID, when non-empty, keys the session manager (§4.10, §4.11).
	// If a grouping session already exists under this id, Match reuses it
	// and returns without re-running the match loop.
	SessionID string
	// CacheSession requests that a fresh search session be cached under
	// SessionID after this Match call (rank-properties "cache.query=true").
	CacheSession   bool
	SessionTimeout time.Duration

	// Tasks are the per-query attribute-mutation triggers (rank-properties
	// "vespa.execute.onmatch.*" and friends); all-nil when unset.
	Tasks tools.AttributeTasks
}

// Result is what Match returns to the caller: the reply, the aggregated
// stats, and the resolved coverage.
type Result struct {
	Reply    *resultproc.SearchReply
	Stats    master.MatchingStats
	Coverage resultproc.Coverage
}

// Match builds a query plan from req.Root, runs the match master, and
// assembles the external reply (§4.10).
func (m *Matcher) Match(ctx context.Context, req Request) (*Result, error) {
	ctx, span := tracing.StartChildSpan(ctx, "matcher.match")
	defer span.End()
	now := time.Now()

	if req.SessionID != "" && m.sessions != nil {
		if gs, err := m.sessions.PickGrouping(req.SessionID, now); err == nil {
			span.SetAttr("session_id", req.SessionID)
			span.SetAttr("grouping_continuation", true)
			return &Result{
				Reply: &resultproc.SearchReply{GroupResult: gs.Grouper.Result()},
			}, nil
		}
	}

	ast := m.prepareAST(req.Root)
	builder := query.NewBuilder(m.searchable, req.DocIDLimit, nil)
	root, err := builder.Build(ast)
	if err != nil {
		return nil, apperrors.Newf(apperrors.ErrQueryBuildFailed, 0, "building query plan: %v", err)
	}
	root.SetDocIDLimit(req.DocIDLimit)
	root = query.Optimize(root, req.DocIDLimit)

	if req.Whitelist != nil {
		wl, err := builder.Build(req.Whitelist)
		if err != nil {
			return nil, apperrors.Newf(apperrors.ErrQueryBuildFailed, 0, "building whitelist plan: %v", err)
		}
		root = query.ApplyWhitelist(root, wl)
	}

	root.Freeze()
	if err := root.FetchPostings(req.Strict); err != nil {
		return nil, apperrors.Newf(apperrors.ErrQueryBuildFailed, 0, "fetching postings: %v", err)
	}

	for _, issue := range builder.Issues() {
		log.Warn("query build issue", "node", issue.Node, "reason", issue.Reason)
	}

	var limiter phaselimit.MaybeMatchPhaseLimiter
	if m.cfg.Degradation.Enabled() {
		limiter = phaselimit.New(req.DocIDLimit, m.rangeLocator, m.searchable, m.cfg.Degradation, m.cfg.Diversity)
	}

	factory := tools.New(root, builder.Handles().NumHandles(), m.rankFactory(req.Root), limiter, req.DocIDLimit)
	factory.SetAttributeTasks(req.Tasks)

	numThreads := m.numThreadsPerSearch(factory.EstimatedHits())

	d := m.buildDoom(now, req.Timeout)

	if m.queryLimiter != nil {
		token := m.queryLimiter.GetToken(d, req.DocIDLimit, uint32(factory.EstimatedHits()),
			req.Sort != nil, req.GrouperFactory != nil)
		defer token.Release()
	}

	if m.metrics != nil {
		m.metrics.MatchThreadsActive.Add(float64(numThreads))
		defer m.metrics.MatchThreadsActive.Sub(float64(numThreads))
	}

	mm := master.New()
	reply, err := mm.Match(ctx, factory, master.Params{
		NumThreads:          numThreads,
		NumSearchPartitions: m.cfg.NumSearchPartitions,
		MinTask:             m.cfg.MinTask,
		DocIDLimit:          req.DocIDLimit,
		Offset:              req.Offset,
		MaxHits:             req.MaxHits,
		ArraySize:           m.cfg.ArraySize,
		HeapSize:            m.cfg.HeapSize,
		RerankTopN:          m.cfg.HeapSize,
		RankDropLimit:       m.cfg.RankDropLimit,
		RankDropMode:        m.cfg.RankDropMode,
		SortSpecFactory:     sortSpecFactory(req.Sort),
		GrouperFactory:      req.GrouperFactory,
		Strict:              req.Strict,
		Doom:                d,
	})
	if err != nil {
		return nil, err
	}

	m.maybeUpdateSoftDoomFactor(time.Since(now), req.Timeout)

	coverage := m.computeCoverage(reply.Stats, factory.Limiter(), req.DocIDLimit, req.NumActiveLids)

	m.recordMetrics(time.Since(now), reply.Stats, coverage)

	searchReply := resultproc.MakeReply(reply.Partial, req.Offset, req.MaxHits, req.GIDs)
	searchReply.Coverage = coverage
	if reply.Grouper != nil {
		searchReply.GroupResult = reply.Grouper.Result()
	}

	if req.SessionID != "" && m.sessions != nil {
		if req.CacheSession {
			m.cacheSearchSession(req, now, factory, reply.Partial)
		}
		if reply.Grouper != nil {
			m.sessions.InsertGrouping(&session.GroupingSession{
				ID:        req.SessionID,
				Grouper:   reply.Grouper,
				ExpiresAt: m.sessionExpiry(now, req.SessionTimeout),
			})
		}
	}

	span.SetAttr("total_hits", searchReply.TotalHitCount)
	span.SetAttr("degraded", coverage.DegradedReasons)

	return &Result{Reply: searchReply, Stats: reply.Stats, Coverage: coverage}, nil
}

// cacheSearchSession stashes the just-built MatchToolsFactory and its
// docids under req.SessionID so a follow-up docsum request can skip query
// parsing entirely (§3 "Session", §8 S6).
func (m *Matcher) cacheSearchSession(req Request, now time.Time, factory *tools.Factory, partial *resultproc.PartialResult) {
	docIDs := make([]uint32, len(partial.Hits))
	for i, h := range partial.Hits {
		docIDs[i] = h.DocID
	}
	m.sessions.InsertSearch(&session.SearchSession{
		ID:        req.SessionID,
		Factory:   factory,
		DocIDs:    docIDs,
		ExpiresAt: m.sessionExpiry(now, req.SessionTimeout),
	})
}

func (m *Matcher) sessionExpiry(now time.Time, timeout time.Duration) time.Time {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return now.Add(timeout)
}

func sortSpecFactory(spec *resultproc.SortSpec) func() *resultproc.SortSpec {
	if spec == nil {
		return nil
	}
	return func() *resultproc.SortSpec { return spec }
}

// numThreadsPerSearch implements §4.10's thread-count heuristic: never
// use more threads than the query is estimated to need hits from, and
// never fewer than configured min-hits-per-thread allows.
func (m *Matcher) numThreadsPerSearch(estHits uint64) int {
	n := m.cfg.NumThreadsPerSearch
	if n < 1 {
		n = 1
	}
	if m.cfg.MinHitsPerThread > 0 {
		byHits := int(estHits) / m.cfg.MinHitsPerThread
		if byHits < 1 {
			byHits = 1
		}
		if byHits < n {
			n = byHits
		}
	}
	return n
}

// buildDoom derives the soft/hard deadline pair from the current
// softDoomFactor (§3 "Doom", §12).
func (m *Matcher) buildDoom(now time.Time, timeout time.Duration) doom.Doom {
	if timeout <= 0 {
		return doom.Doom{}
	}
	m.mu.Lock()
	factor := m.softDoomFactor
	m.mu.Unlock()
	if !m.cfg.SoftTimeoutEnabled {
		return doom.New(now.Add(timeout), now.Add(timeout))
	}
	return doom.FromTimeout(now, timeout, factor)
}

// maybeUpdateSoftDoomFactor implements §12's exact contraction formula,
// gated behind the bootstrap window and an explicit factor override
// (`matcher.cpp`'s `allowedSoftTimeoutFactorAdjustment`).
func (m *Matcher) maybeUpdateSoftDoomFactor(duration, timeout time.Duration) {
	if !m.cfg.SoftTimeoutEnabled || m.cfg.SoftTimeoutFactorOverride || timeout <= 0 {
		return
	}
	if time.Since(m.processStart) <= m.cfg.SoftTimeoutBootstrapWindow {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	factor := m.softDoomFactor
	softLimit := time.Duration(float64(timeout) * factor)
	hardLimit := timeout

	durSec := duration.Seconds()
	hardSec := hardLimit.Seconds()
	softSec := softLimit.Seconds()

	var diff float64
	if durSec < softSec {
		diff = math.Min(hardSec-durSec, factor*maxChangeFactor)
		factor += 0.01 * diff
	} else {
		diff = math.Max(hardSec-durSec, -factor*maxChangeFactor)
		factor += 0.02 * diff
	}
	if factor < 0.01 {
		factor = 0.01
	}
	m.softDoomFactor = factor
}

// recordMetrics updates the matching collectors after one Match call.
func (m *Matcher) recordMetrics(elapsed time.Duration, stats master.MatchingStats, cov resultproc.Coverage) {
	if m.metrics == nil {
		return
	}
	m.metrics.MatchDocsVisitedTotal.Add(float64(stats.DocsCovered))
	if stats.SoftDooms > 0 {
		m.metrics.MatchSoftDoomTotal.Add(float64(stats.SoftDooms))
	}
	if stats.HardDooms > 0 {
		m.metrics.MatchHardDoomTotal.Add(float64(stats.HardDooms))
	}
	if stats.WasLimited {
		m.metrics.MatchPhaseLimitedTotal.Inc()
	}
	degraded := "none"
	if len(cov.DegradedReasons) > 0 {
		degraded = cov.DegradedReasons[0]
	}
	m.metrics.MatchLatencySeconds.WithLabelValues(degraded).Observe(elapsed.Seconds())
}

// computeCoverage implements §12's exact coverage formula:
// covered = spaceEstimate * numActiveLids / totalSpace (matcher.cpp),
// clamping spaceEstimate to totalSpace first. Since covered/numActiveLids
// reduces algebraically to spaceEstimate/totalSpace, Coverage.Covered is
// reported as that ratio directly rather than an absolute doc count.
// degraded_by_match_phase and degraded_by_timeout stay independent bits.
func (m *Matcher) computeCoverage(stats master.MatchingStats, limiter phaselimit.MaybeMatchPhaseLimiter, docIDLimit uint32, numActiveLids int64) resultproc.Coverage {
	total := uint64(docIDLimit)
	spaceEstimate := uint64(limiter.DocIDSpaceEstimate())
	if spaceEstimate > total {
		spaceEstimate = total
	}

	covered := 1.0
	if total > 0 {
		covered = float64(spaceEstimate) / float64(total)
	}

	var reasons []string
	if stats.WasLimited {
		reasons = append(reasons, "match_phase")
	}
	if stats.SoftDooms > 0 {
		reasons = append(reasons, "timeout")
	}

	return resultproc.Coverage{
		Active:          numActiveLids,
		TargetActive:    int64(docIDLimit),
		Covered:         covered,
		DegradedReasons: reasons,
	}
}
