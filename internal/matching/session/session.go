// Package session implements the session manager (C11): two
// independently-managed caches that let a follow-up docsum request reuse
// a query's MatchToolsFactory without re-parsing, and let multi-pass
// grouping resume a prior grouping context (§4.11).
//
// The search session cache is a hash map keyed by session id; each entry
// owns the MatchToolsFactory bundle that must stay live after the
// original request completes. The grouping session cache is a bounded
// LRU. Both caches carry an explicit time-of-doom and are swept by
// PruneTimedOut rather than relying solely on access-triggered eviction.
package session

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/distributed-search/matchcore/internal/matching/resultproc"
	"github.com/distributed-search/matchcore/internal/matching/tools"
	apperrors "github.com/distributed-search/matchcore/pkg/errors"
	"github.com/distributed-search/matchcore/pkg/metrics"
)

var log = slog.Default().With("component", "session-manager")

// Executor runs a destruction task off the calling (scheduling) thread,
// per §9 "Session lifetime via cache eviction": destroying a session can
// be slow (document-store read guards) and must not block the sweep.
type Executor func(task func())

// InlineExecutor runs the task synchronously. Useful for tests and for
// callers with no background worker pool.
func InlineExecutor(task func()) { task() }

// SearchSession is one cached per-query state: the MatchToolsFactory a
// docsum follow-up reuses, the docid list it was built over, and the
// deadline past which it is no longer valid (§3 "Session").
type SearchSession struct {
	ID        string
	Factory   *tools.Factory
	DocIDs    []uint32
	ExpiresAt time.Time
}

func (s *SearchSession) expired(now time.Time) bool { return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt) }

// GroupingSession is one in-flight, multi-pass grouping context.
type GroupingSession struct {
	ID        string
	Grouper   resultproc.Grouper
	ExpiresAt time.Time
}

func (s *GroupingSession) expired(now time.Time) bool { return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt) }

// Stats counts cache activity for the matcher façade's periodic reporting.
// A snapshot returned by Manager.Stats; the live counters backing it are
// atomic.Int64 (§12, "SessionManager::Stats counters" — read-mostly,
// written on every cache operation, no need for the cache's own mutex).
type Stats struct {
	SearchInserted   int64
	SearchPicked     int64
	SearchExpired    int64
	GroupingInserted int64
	GroupingPicked   int64
	GroupingDropped  int64
	GroupingExpired  int64
}

type statCounters struct {
	searchInserted   atomic.Int64
	searchPicked     atomic.Int64
	searchExpired    atomic.Int64
	groupingInserted atomic.Int64
	groupingPicked   atomic.Int64
	groupingDropped  atomic.Int64
	groupingExpired  atomic.Int64
}

func (c *statCounters) snapshot() Stats {
	return Stats{
		SearchInserted:   c.searchInserted.Load(),
		SearchPicked:     c.searchPicked.Load(),
		SearchExpired:    c.searchExpired.Load(),
		GroupingInserted: c.groupingInserted.Load(),
		GroupingPicked:   c.groupingPicked.Load(),
		GroupingDropped:  c.groupingDropped.Load(),
		GroupingExpired:  c.groupingExpired.Load(),
	}
}

// Config bounds the two caches.
type Config struct {
	// SearchCacheMaxCost bounds the ristretto cache's admission cost
	// budget (roughly the max resident session count, since each
	// SearchSession is costed as 1).
	SearchCacheMaxCost int64
	// GroupingCacheCapacity bounds the LRU's entry count.
	GroupingCacheCapacity int
}

// DefaultConfig mirrors sane standalone defaults; real deployments size
// both from the schema's expected concurrent-session count.
var DefaultConfig = Config{SearchCacheMaxCost: 10_000, GroupingCacheCapacity: 1_000}

// Manager owns both caches (§4.11).
type Manager struct {
	metrics *metrics.Metrics

	search *searchCache

	groupMu  sync.Mutex
	grouping *lru.Cache[string, *GroupingSession]
	stats    statCounters
}

// New builds a Manager. m may be nil, in which case no metrics are
// recorded.
func New(cfg Config, m *metrics.Metrics) (*Manager, error) {
	if cfg.SearchCacheMaxCost <= 0 {
		cfg.SearchCacheMaxCost = DefaultConfig.SearchCacheMaxCost
	}
	if cfg.GroupingCacheCapacity <= 0 {
		cfg.GroupingCacheCapacity = DefaultConfig.GroupingCacheCapacity
	}

	mgr := &Manager{metrics: m}

	sc, err := newSearchCache(cfg.SearchCacheMaxCost)
	if err != nil {
		return nil, err
	}
	mgr.search = sc

	grouping, err := lru.NewWithEvict(cfg.GroupingCacheCapacity, func(id string, _ *GroupingSession) {
		mgr.stats.groupingDropped.Add(1)
		if mgr.metrics != nil {
			mgr.metrics.SessionDroppedTotal.Inc()
		}
		log.Debug("grouping session dropped from LRU", "session_id", id)
	})
	if err != nil {
		return nil, err
	}
	mgr.grouping = grouping

	return mgr, nil
}

// InsertSearch adds a search session. An existing entry for the same id
// is replaced.
func (m *Manager) InsertSearch(s *SearchSession) {
	m.search.insert(s)
	m.stats.searchInserted.Add(1)
	m.reportSize("search", m.search.size())
}

// PickSearch removes and returns the search session for id, per §4.11
// "pick(id) removes and returns (hash-map variant)... the session"
// (§8 S6, "The session is evicted from the cache on pick").
func (m *Manager) PickSearch(id string, now time.Time) (*SearchSession, error) {
	s, ok := m.search.pick(id)
	if !ok {
		return nil, apperrors.New(apperrors.ErrSessionNotFound, 404, "search session "+id)
	}
	if s.expired(now) {
		m.stats.searchExpired.Add(1)
		return nil, apperrors.New(apperrors.ErrSessionExpired, 410, "search session "+id)
	}
	m.stats.searchPicked.Add(1)
	m.reportSize("search", m.search.size())
	return s, nil
}

// InsertGrouping adds a grouping session, possibly evicting the LRU's
// least-recently-used entry (logged via the evict callback above).
func (m *Manager) InsertGrouping(s *GroupingSession) {
	m.groupMu.Lock()
	defer m.groupMu.Unlock()
	m.grouping.Add(s.ID, s)
	m.stats.groupingInserted.Add(1)
	m.reportSizeLocked("grouping", m.grouping.Len())
}

// PickGrouping removes and returns (a clone-by-value of) the grouping
// session for id (§4.11 "clones out (LRU variant)").
func (m *Manager) PickGrouping(id string, now time.Time) (*GroupingSession, error) {
	m.groupMu.Lock()
	s, ok := m.grouping.Get(id)
	if ok {
		m.grouping.Remove(id)
	}
	m.groupMu.Unlock()

	if !ok {
		return nil, apperrors.New(apperrors.ErrSessionNotFound, 404, "grouping session "+id)
	}
	if s.expired(now) {
		m.stats.groupingExpired.Add(1)
		return nil, apperrors.New(apperrors.ErrSessionExpired, 410, "grouping session "+id)
	}
	m.stats.groupingPicked.Add(1)
	m.reportSizeLocked("grouping", m.grouping.Len())

	cloned := *s
	return &cloned, nil
}

// PruneTimedOut scans both caches for expired entries, removes them, and
// hands their destruction to exec so the sweeping thread (typically a
// periodic goroutine owned by the matcher façade) isn't blocked by slow
// teardown (§9).
func (m *Manager) PruneTimedOut(now time.Time, exec Executor) {
	if exec == nil {
		exec = InlineExecutor
	}

	expiredSearch := m.search.extractExpired(now)
	for _, s := range expiredSearch {
		s := s
		m.stats.searchExpired.Add(1)
		exec(func() { destroySearchSession(s) })
	}
	if len(expiredSearch) > 0 {
		m.reportSize("search", m.search.size())
	}

	m.groupMu.Lock()
	var expiredGrouping []*GroupingSession
	for _, id := range m.grouping.Keys() {
		s, ok := m.grouping.Peek(id)
		if !ok {
			continue
		}
		if s.expired(now) {
			expiredGrouping = append(expiredGrouping, s)
			m.grouping.Remove(id)
		}
	}
	size := m.grouping.Len()
	m.groupMu.Unlock()

	for _, s := range expiredGrouping {
		s := s
		m.stats.groupingExpired.Add(1)
		exec(func() { destroyGroupingSession(s) })
	}
	if len(expiredGrouping) > 0 {
		m.reportSize("grouping", size)
	}
}

// Stats returns a snapshot of cache activity counters.
func (m *Manager) Stats() Stats { return m.stats.snapshot() }

func (m *Manager) reportSize(cache string, n int) {
	if m.metrics != nil {
		m.metrics.SessionCacheSize.WithLabelValues(cache).Set(float64(n))
	}
}

func (m *Manager) reportSizeLocked(cache string, n int) { m.reportSize(cache, n) }

func destroySearchSession(s *SearchSession)     { _ = s }
func destroyGroupingSession(s *GroupingSession) { _ = s }

// searchCache wraps a ristretto.Cache for admission/eviction plus a
// companion expiry index: ristretto has no key-enumeration API, so the
// explicit time-of-doom sweep (PruneTimedOut) needs its own record of
// which ids are live and when they expire. Without it, entries ristretto
// never touches again (no Get call) would sit past their doom until the
// next access evicts them lazily — too late for §4.11's explicit sweep.
type searchCache struct {
	cache *ristretto.Cache[string, *SearchSession]

	mu     sync.Mutex
	expiry map[string]time.Time
}

func newSearchCache(maxCost int64) (*searchCache, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[string, *SearchSession]{
		NumCounters: maxCost * 10,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &searchCache{cache: cache, expiry: make(map[string]time.Time)}, nil
}

func (c *searchCache) insert(s *SearchSession) {
	c.mu.Lock()
	c.expiry[s.ID] = s.ExpiresAt
	c.mu.Unlock()

	ttl := time.Duration(0)
	if !s.ExpiresAt.IsZero() {
		ttl = time.Until(s.ExpiresAt)
		if ttl <= 0 {
			ttl = time.Nanosecond
		}
	}
	if ttl > 0 {
		c.cache.SetWithTTL(s.ID, s, 1, ttl)
	} else {
		c.cache.Set(s.ID, s, 1)
	}
	c.cache.Wait()
}

func (c *searchCache) pick(id string) (*SearchSession, bool) {
	s, ok := c.cache.Get(id)
	if ok {
		c.cache.Del(id)
	}
	c.mu.Lock()
	delete(c.expiry, id)
	c.mu.Unlock()
	return s, ok
}

func (c *searchCache) extractExpired(now time.Time) []*SearchSession {
	c.mu.Lock()
	var expiredIDs []string
	for id, exp := range c.expiry {
		if !exp.IsZero() && now.After(exp) {
			expiredIDs = append(expiredIDs, id)
		}
	}
	for _, id := range expiredIDs {
		delete(c.expiry, id)
	}
	c.mu.Unlock()

	expired := make([]*SearchSession, 0, len(expiredIDs))
	for _, id := range expiredIDs {
		if s, ok := c.cache.Get(id); ok {
			expired = append(expired, s)
		}
		c.cache.Del(id)
	}
	return expired
}

func (c *searchCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.expiry)
}
