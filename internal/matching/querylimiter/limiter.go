// Package querylimiter gates the process-wide number of concurrently
// executing "expensive" queries — those with sorting or grouping over a
// large candidate set (§5 "Process-wide state", §7 "Concurrent-heavy-query
// throttling"). A thread that fails the cheapness test blocks on token
// acquisition until a peer releases one or its own hard doom passes.
package querylimiter

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/distributed-search/matchcore/internal/matching/doom"
)

// Token is the acquisition handle Match holds across result construction.
// Release must be called exactly once, when the query is done with its
// expensive phase.
type Token interface {
	Release()
}

type noLimitToken struct{}

func (noLimitToken) Release() {}

type limitedToken struct {
	limiter *QueryLimiter
	once    sync.Once
}

func (t *limitedToken) Release() { t.once.Do(t.limiter.releaseToken) }

// QueryLimiter is a process-wide throttle on concurrent heavy queries.
// Configure may be called at any time; the thresholds are read with
// relaxed atomics on the query path while the active-thread count and its
// condition variable stay under the mutex.
type QueryLimiter struct {
	mu            sync.Mutex
	cond          *sync.Cond
	activeThreads int

	maxThreads atomic.Int64
	coverage   atomic.Uint64 // float64 bits
	minHits    atomic.Uint32
}

// New builds an unconfigured QueryLimiter: max threads negative (never
// limits), full coverage, min hits at the type maximum.
func New() *QueryLimiter {
	l := &QueryLimiter{}
	l.cond = sync.NewCond(&l.mu)
	l.maxThreads.Store(-1)
	l.coverage.Store(math.Float64bits(1.0))
	l.minHits.Store(math.MaxUint32)
	return l
}

// Configure updates the throttle thresholds and wakes every waiter so it
// re-evaluates against the new cap.
func (l *QueryLimiter) Configure(maxThreads int, coverage float64, minHits uint32) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.maxThreads.Store(int64(maxThreads))
	l.coverage.Store(math.Float64bits(coverage))
	l.minHits.Store(minHits)
	l.cond.Broadcast()
}

func (l *QueryLimiter) getMaxThreads() int64 { return l.maxThreads.Load() }
func (l *QueryLimiter) getCoverage() float64 { return math.Float64frombits(l.coverage.Load()) }
func (l *QueryLimiter) getMinHits() uint32   { return l.minHits.Load() }

// GetToken classifies the query and either admits it immediately (cheap,
// or limiting disabled) or blocks until a token frees or d's hard
// deadline passes. A query is expensive when it sorts or groups, expects
// more than the configured minimum hits, and its expected hits exceed the
// covered fraction of the corpus.
func (l *QueryLimiter) GetToken(d doom.Doom, numDocs, numHits uint32, hasSorting, hasGrouping bool) Token {
	if l.getMaxThreads() > 0 && (hasSorting || hasGrouping) {
		if numHits > l.getMinHits() {
			if float64(numDocs)*l.getCoverage() < float64(numHits) {
				l.grabToken(d)
				return &limitedToken{limiter: l}
			}
		}
	}
	return noLimitToken{}
}

// grabToken blocks until the active count drops below the cap or the hard
// deadline passes; either way the caller is then counted active, so a
// doomed query still runs (and still releases).
func (l *QueryLimiter) grabToken(d doom.Doom) {
	var wake *time.Timer
	if !d.Hard.IsZero() {
		left := time.Until(d.Hard)
		if left > 0 {
			wake = time.AfterFunc(left, func() {
				l.mu.Lock()
				l.cond.Broadcast()
				l.mu.Unlock()
			})
		}
	}
	l.mu.Lock()
	for max := l.getMaxThreads(); max > 0 && int64(l.activeThreads) >= max && !d.HardDoom(time.Now()); max = l.getMaxThreads() {
		l.cond.Wait()
	}
	l.activeThreads++
	l.mu.Unlock()
	if wake != nil {
		wake.Stop()
	}
}

func (l *QueryLimiter) releaseToken() {
	l.mu.Lock()
	l.activeThreads--
	l.mu.Unlock()
	l.cond.Signal()
}

// ActiveThreads reports how many limited tokens are currently held.
func (l *QueryLimiter) ActiveThreads() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.activeThreads
}
