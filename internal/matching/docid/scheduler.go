package docid

import "sync/atomic"

// IdleObserver gives a cheap, lock-free way for a match thread to check
// whether any of its peers are currently idle, without having to call
// Scheduler.ShareRange speculatively on every iteration of the inner loop.
// A zero-valued IdleObserver always reports zero idle workers, which is
// what the Partition and Task schedulers hand out since neither supports
// work-sharing.
type IdleObserver struct {
	numIdle *atomic.Int64
}

// NewIdleObserver wraps a live idle counter maintained by an adaptive
// scheduler.
func NewIdleObserver(numIdle *atomic.Int64) IdleObserver {
	return IdleObserver{numIdle: numIdle}
}

// Get returns the current number of idle worker threads, or zero for an
// observer that doesn't back a work-stealing scheduler.
func (o IdleObserver) Get() int64 {
	if o.numIdle == nil {
		return 0
	}
	return o.numIdle.Load()
}

// AlwaysZero reports whether this observer can never see idle workers,
// letting the inner loop skip the idle check entirely for schedulers that
// don't support work-sharing.
func (o IdleObserver) AlwaysZero() bool { return o.numIdle == nil }

// Scheduler assigns docid ranges to a fixed set of worker threads
// (identified by a zero-based thread id) during a single query's match
// loop. Every document id in [1, docIdLimit) is returned at most once to
// exactly one thread across all calls to FirstRange/NextRange for that
// scheduler instance; ranges returned are always contiguous.
type Scheduler interface {
	// FirstRange returns the worker's initial range.
	FirstRange(threadID int) Range
	// NextRange returns more work for the worker, or an empty range when
	// the worker's part of the search is done.
	NextRange(threadID int) Range
	// TotalSpan returns a range guaranteed to contain every range ever
	// assigned to threadID.
	TotalSpan(threadID int) Range
	// TotalSize returns the accumulated size of all ranges assigned to
	// threadID so far.
	TotalSize(threadID int) uint64
	// UnassignedSize returns the accumulated size of all currently
	// unassigned ranges.
	UnassignedSize() uint64
	// IdleObserver returns a cheap way to poll for idle peers.
	IdleObserver() IdleObserver
	// ShareRange lets threadID offer up its remaining work (todo) to idle
	// peers. It returns the prefix of todo the calling thread should keep
	// processing itself; that prefix may equal todo unchanged if nothing
	// could be shared.
	ShareRange(threadID int, todo Range) Range
}
