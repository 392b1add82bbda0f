package docid

import "sync"

// TaskScheduler splits [1, docIdLimit) into numTasks fixed-size slices and
// hands them out, in increasing-docid order, to whichever worker next
// calls NextRange. A shared counter, guarded by a mutex, tracks the next
// unassigned task.
type TaskScheduler struct {
	mu         sync.Mutex
	splitter   Splitter
	nextTask   uint32
	numTasks   uint32
	assigned   []uint64
	unassigned uint64
}

// NewTaskScheduler builds a TaskScheduler with numTasks slices of
// [1, docIDLimit), shared across numThreads workers.
func NewTaskScheduler(numThreads int, numTasks int, docIDLimit uint32) *TaskScheduler {
	splitter := NewSplitter(NewRange(1, docIDLimit), uint32(numTasks))
	return &TaskScheduler{
		splitter:   splitter,
		numTasks:   uint32(numTasks),
		assigned:   make([]uint64, numThreads),
		unassigned: uint64(splitter.FullRange().Size()),
	}
}

func clampedSub(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}

func (s *TaskScheduler) nextTaskRange(threadID int) Range {
	s.mu.Lock()
	defer s.mu.Unlock()
	work := s.splitter.Get(s.nextTask)
	if s.nextTask < s.numTasks {
		s.nextTask++
	}
	s.assigned[threadID] += uint64(work.Size())
	s.unassigned = clampedSub(s.unassigned, uint64(work.Size()))
	return work
}

func (s *TaskScheduler) FirstRange(threadID int) Range { return s.nextTaskRange(threadID) }

func (s *TaskScheduler) NextRange(threadID int) Range { return s.nextTaskRange(threadID) }

func (s *TaskScheduler) TotalSpan(int) Range { return s.splitter.FullRange() }

func (s *TaskScheduler) TotalSize(threadID int) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.assigned[threadID]
}

func (s *TaskScheduler) UnassignedSize() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unassigned
}

func (s *TaskScheduler) IdleObserver() IdleObserver { return IdleObserver{} }

func (s *TaskScheduler) ShareRange(_ int, todo Range) Range { return todo }
