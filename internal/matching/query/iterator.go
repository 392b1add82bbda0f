package query

import "math"

// NoDocID marks an iterator as exhausted; any seek result >= the current
// request's docIdLimit is treated the same way by the match loop.
const NoDocID uint32 = math.MaxUint32

// Iterator is a materialized search primitive: the per-thread runtime
// counterpart of a Blueprint. Seek must return a monotonically
// non-decreasing sequence of docids within a single InitRange session.
type Iterator interface {
	// InitRange bounds the iterator to [begin, end); must be called
	// before the first Seek.
	InitRange(begin, end uint32)
	// Seek advances to the first matching docid >= docid and returns it,
	// or NoDocID if no such docid exists within the current range.
	Seek(docid uint32) uint32
	// Unpack populates match-data handles for the current match. May be a
	// no-op if the handle recorder determined nothing downstream needs
	// it.
	Unpack(docid uint32)
	// DocID returns the docid Seek last returned.
	DocID() uint32
}

// baseIterator holds the InitRange/DocID bookkeeping shared by every
// concrete iterator below.
type baseIterator struct {
	begin, end uint32
	docID      uint32
}

func (b *baseIterator) InitRange(begin, end uint32) {
	b.begin, b.end = begin, end
	b.docID = begin
}

func (b *baseIterator) DocID() uint32 { return b.docID }

// clampEnd returns NoDocID if docid has reached or passed the iterator's
// upper bound.
func (b *baseIterator) clampEnd(docid uint32) uint32 {
	if docid >= b.end {
		return NoDocID
	}
	return docid
}

// PostingIterator walks a sorted slice of docids, the leaf primitive over
// an in-memory posting list (see Searchable in searchable.go).
type PostingIterator struct {
	baseIterator
	postings []uint32 // sorted ascending
	pos      int
	handle   uint32
	onUnpack func(handle, docID uint32)
}

// NewPostingIterator builds a leaf iterator over a sorted docid list.
// onUnpack, if non-nil, is invoked by Unpack to record per-match data
// (positions/weights) under the given handle.
func NewPostingIterator(postings []uint32, handle uint32, onUnpack func(handle, docID uint32)) *PostingIterator {
	return &PostingIterator{postings: postings, handle: handle, onUnpack: onUnpack}
}

func (it *PostingIterator) Seek(docid uint32) uint32 {
	if docid < it.begin {
		docid = it.begin
	}
	for it.pos < len(it.postings) && it.postings[it.pos] < docid {
		it.pos++
	}
	if it.pos >= len(it.postings) {
		it.docID = NoDocID
		return NoDocID
	}
	found := it.clampEnd(it.postings[it.pos])
	it.docID = found
	return found
}

func (it *PostingIterator) Unpack(docid uint32) {
	if it.onUnpack != nil {
		it.onUnpack(it.handle, docid)
	}
}

// AlwaysTrueIterator matches every docid in range.
type AlwaysTrueIterator struct{ baseIterator }

func (it *AlwaysTrueIterator) Seek(docid uint32) uint32 {
	if docid < it.begin {
		docid = it.begin
	}
	it.docID = it.clampEnd(docid)
	return it.docID
}
func (it *AlwaysTrueIterator) Unpack(uint32) {}

// AlwaysFalseIterator matches nothing.
type AlwaysFalseIterator struct{ baseIterator }

func (it *AlwaysFalseIterator) Seek(uint32) uint32 { it.docID = NoDocID; return NoDocID }
func (it *AlwaysFalseIterator) Unpack(uint32)      {}

// AndIterator requires every child to match the same docid.
type AndIterator struct {
	baseIterator
	children []Iterator
}

func NewAndIterator(children []Iterator) *AndIterator {
	return &AndIterator{children: children}
}

func (it *AndIterator) InitRange(begin, end uint32) {
	it.baseIterator.InitRange(begin, end)
	for _, c := range it.children {
		c.InitRange(begin, end)
	}
}

func (it *AndIterator) Seek(docid uint32) uint32 {
	if len(it.children) == 0 {
		it.docID = NoDocID
		return NoDocID
	}
	candidate := docid
	for {
		allMatch := true
		for _, c := range it.children {
			got := c.Seek(candidate)
			if got == NoDocID || got >= it.end {
				it.docID = NoDocID
				return NoDocID
			}
			if got > candidate {
				candidate = got
				allMatch = false
			}
		}
		if allMatch {
			it.docID = candidate
			return candidate
		}
	}
}

func (it *AndIterator) Unpack(docid uint32) {
	for _, c := range it.children {
		c.Unpack(docid)
	}
}

// OrIterator matches if any child matches; the lowest child docid wins.
type OrIterator struct {
	baseIterator
	children []Iterator
	seeked   bool
}

func NewOrIterator(children []Iterator) *OrIterator {
	return &OrIterator{children: children}
}

func (it *OrIterator) InitRange(begin, end uint32) {
	it.baseIterator.InitRange(begin, end)
	it.seeked = false
	for _, c := range it.children {
		c.InitRange(begin, end)
	}
}

func (it *OrIterator) Seek(docid uint32) uint32 {
	best := NoDocID
	for _, c := range it.children {
		got := c.DocID()
		// A child's DocID equals begin right after InitRange whether or
		// not it matches there; force a real seek the first time through.
		if got < docid || !it.seeked {
			got = c.Seek(docid)
		}
		if got != NoDocID && got < best {
			best = got
		}
	}
	it.seeked = true
	if best >= it.end {
		best = NoDocID
	}
	it.docID = best
	return best
}

func (it *OrIterator) Unpack(docid uint32) {
	for _, c := range it.children {
		if c.DocID() == docid {
			c.Unpack(docid)
		}
	}
}

// AndNotIterator matches wherever the positive child matches and no
// negative child matches.
type AndNotIterator struct {
	baseIterator
	positive Iterator
	negative []Iterator
}

func NewAndNotIterator(positive Iterator, negative []Iterator) *AndNotIterator {
	return &AndNotIterator{positive: positive, negative: negative}
}

func (it *AndNotIterator) InitRange(begin, end uint32) {
	it.baseIterator.InitRange(begin, end)
	it.positive.InitRange(begin, end)
	for _, c := range it.negative {
		c.InitRange(begin, end)
	}
}

func (it *AndNotIterator) Seek(docid uint32) uint32 {
	for {
		got := it.positive.Seek(docid)
		if got == NoDocID || got >= it.end {
			it.docID = NoDocID
			return NoDocID
		}
		excluded := false
		for _, c := range it.negative {
			if c.Seek(got) == got {
				excluded = true
				break
			}
		}
		if !excluded {
			it.docID = got
			return got
		}
		docid = got + 1
	}
}

func (it *AndNotIterator) Unpack(docid uint32) { it.positive.Unpack(docid) }

// RankIterator matches wherever the left child matches; the right
// children unpack additional ranking signal but never filter.
type RankIterator struct {
	baseIterator
	left  Iterator
	extra []Iterator
}

func NewRankIterator(left Iterator, extra []Iterator) *RankIterator {
	return &RankIterator{left: left, extra: extra}
}

func (it *RankIterator) InitRange(begin, end uint32) {
	it.baseIterator.InitRange(begin, end)
	it.left.InitRange(begin, end)
	for _, c := range it.extra {
		c.InitRange(begin, end)
	}
}

func (it *RankIterator) Seek(docid uint32) uint32 {
	got := it.left.Seek(docid)
	it.docID = got
	return got
}

func (it *RankIterator) Unpack(docid uint32) {
	it.left.Unpack(docid)
	for _, c := range it.extra {
		if c.Seek(docid) == docid {
			c.Unpack(docid)
		}
	}
}
