package query

import (
	"fmt"

	"github.com/distributed-search/matchcore/internal/matching/handles"
)

// Estimate is a blueprint's pre-materialization guess at how many
// documents it will match, used by the optimizer and by §4.6's
// match-phase limiter sizing formulas.
type Estimate struct {
	EstHits  uint64
	EstEmpty bool
}

// FieldSpec names one field a blueprint reads from.
type FieldSpec struct {
	Name   string
	IsAttr bool
}

// Blueprint is the pre-materialization shape of a search iterator tree.
// A Blueprint must be frozen before CreateSearch is called; it may then
// produce many iterators (one per thread), but FetchPostings runs exactly
// once regardless of how many threads call CreateSearch.
type Blueprint interface {
	// Estimate returns this node's {est_hits, est_empty}. Leaves take it
	// from their constructor; combinators compute it from their children
	// when they are built.
	Estimate() Estimate
	// Fields lists the field specs this node (or its subtree) operates
	// over.
	Fields() []FieldSpec
	// DocIDLimit returns the per-request upper document id bound.
	DocIDLimit() uint32
	// SetDocIDLimit sets the per-request upper bound; must complete
	// before any thread calls CreateSearch.
	SetDocIDLimit(limit uint32)
	// Freeze marks the node (and its subtree) as immutable; further
	// structural edits are a programming error.
	Freeze()
	Frozen() bool
	// FetchPostings performs the (possibly expensive) one-shot posting
	// fetch for this subtree. Must be called exactly once, after Freeze
	// and before any CreateSearch call.
	FetchPostings(strict bool) error
	// CreateSearch materializes a fresh, per-thread Iterator over this
	// already-frozen, already-fetched blueprint.
	CreateSearch(md *handles.MatchData, strict bool) Iterator
	// children exposes the subtree for the optimizer and field splitter.
	// Composite nodes return their children; leaves return nil.
	children() []Blueprint
}

// base carries the bookkeeping every Blueprint implementation shares.
type base struct {
	estimate  Estimate
	docIDLim  uint32
	frozen    bool
	fieldSpec []FieldSpec
}

func (b *base) Estimate() Estimate        { return b.estimate }
func (b *base) Fields() []FieldSpec       { return b.fieldSpec }
func (b *base) DocIDLimit() uint32        { return b.docIDLim }
func (b *base) SetDocIDLimit(limit uint32) {
	if b.frozen {
		panic("query: SetDocIDLimit called on a frozen blueprint")
	}
	b.docIDLim = limit
}
func (b *base) Freeze()       { b.frozen = true }
func (b *base) Frozen() bool { return b.frozen }

// EmptyBlueprint is substituted whenever field resolution or a structural
// assertion fails (§7, "Field resolution failure" / "Structural assertion
// failure"): it behaves like AlwaysFalse but remembers why it exists.
type EmptyBlueprint struct {
	base
	Reason string
}

// NewEmptyBlueprint builds a zero-hit placeholder blueprint, recording why
// it was substituted for the node the caller actually asked for.
func NewEmptyBlueprint(reason string) *EmptyBlueprint {
	return &EmptyBlueprint{base: base{estimate: Estimate{EstEmpty: true}}, Reason: reason}
}

func (e *EmptyBlueprint) FetchPostings(bool) error { return nil }
func (e *EmptyBlueprint) CreateSearch(*handles.MatchData, bool) Iterator {
	return &AlwaysFalseIterator{}
}
func (e *EmptyBlueprint) children() []Blueprint { return nil }

// AlwaysTrueBlueprint matches every docid in the request's range.
type AlwaysTrueBlueprint struct{ base }

func NewAlwaysTrueBlueprint(docIDLimit uint32) *AlwaysTrueBlueprint {
	return &AlwaysTrueBlueprint{base: base{estimate: Estimate{EstHits: uint64(docIDLimit)}, docIDLim: docIDLimit}}
}
func (n *AlwaysTrueBlueprint) FetchPostings(bool) error { return nil }
func (n *AlwaysTrueBlueprint) CreateSearch(*handles.MatchData, bool) Iterator {
	return &AlwaysTrueIterator{}
}
func (n *AlwaysTrueBlueprint) children() []Blueprint { return nil }

// TermBlueprint is the leaf node over a single (field, term) pair, backed
// by a Searchable's postings.
type TermBlueprint struct {
	base
	field    string
	handle   uint32
	fetch    func(strict bool) ([]uint32, error)
	onUnpack func(handle, docID uint32)
	postings []uint32
}

// NewTermBlueprint builds a leaf blueprint. fetch performs the one-shot
// posting lookup; handle identifies the match-data slot this term writes
// to during Unpack.
func NewTermBlueprint(field string, handle uint32, estHits uint64, fetch func(strict bool) ([]uint32, error), onUnpack func(handle, docID uint32)) *TermBlueprint {
	return &TermBlueprint{
		base:     base{estimate: Estimate{EstHits: estHits}, fieldSpec: []FieldSpec{{Name: field, IsAttr: false}}},
		field:    field,
		handle:   handle,
		fetch:    fetch,
		onUnpack: onUnpack,
	}
}

// NewAttributeTermBlueprint is NewTermBlueprint for an attribute-backed
// field: the same leaf shape, with the field spec tagged as an attribute
// so downstream passes can tell the two leaf kinds apart.
func NewAttributeTermBlueprint(field string, handle uint32, estHits uint64, fetch func(strict bool) ([]uint32, error), onUnpack func(handle, docID uint32)) *TermBlueprint {
	t := NewTermBlueprint(field, handle, estHits, fetch, onUnpack)
	t.fieldSpec[0].IsAttr = true
	return t
}

func (t *TermBlueprint) Handle() uint32 { return t.handle }

func (t *TermBlueprint) FetchPostings(strict bool) error {
	postings, err := t.fetch(strict)
	if err != nil {
		return fmt.Errorf("fetching postings for field %q: %w", t.field, err)
	}
	t.postings = postings
	t.estimate.EstHits = uint64(len(postings))
	t.estimate.EstEmpty = len(postings) == 0
	return nil
}

func (t *TermBlueprint) CreateSearch(_ *handles.MatchData, _ bool) Iterator {
	return NewPostingIterator(t.postings, t.handle, t.onUnpack)
}

func (t *TermBlueprint) children() []Blueprint { return nil }

// combinator is the shared shape for AND/OR/AND-NOT/RANK: a list of
// frozen children whose postings are fetched in order.
type combinator struct {
	base
	kids []Blueprint
}

func (c *combinator) children() []Blueprint { return c.kids }

func (c *combinator) Freeze() {
	c.base.Freeze()
	for _, k := range c.kids {
		k.Freeze()
	}
}

func (c *combinator) SetDocIDLimit(limit uint32) {
	c.base.SetDocIDLimit(limit)
	for _, k := range c.kids {
		k.SetDocIDLimit(limit)
	}
}

func fetchAll(kids []Blueprint, strict bool) error {
	for _, k := range kids {
		if err := k.FetchPostings(strict); err != nil {
			return err
		}
	}
	return nil
}

func createAll(kids []Blueprint, md *handles.MatchData, strict bool) []Iterator {
	its := make([]Iterator, len(kids))
	for i, k := range kids {
		its[i] = k.CreateSearch(md, strict)
	}
	return its
}

// AndBlueprint requires every child to match.
type AndBlueprint struct{ combinator }

func NewAndBlueprint(kids []Blueprint) *AndBlueprint {
	n := &AndBlueprint{combinator{kids: kids}}
	n.recomputeEstimate()
	return n
}

func (n *AndBlueprint) recomputeEstimate() {
	min := ^uint64(0)
	empty := false
	for _, k := range n.kids {
		e := k.Estimate()
		if e.EstEmpty {
			empty = true
		}
		if e.EstHits < min {
			min = e.EstHits
		}
	}
	if len(n.kids) == 0 {
		min = 0
	}
	n.estimate = Estimate{EstHits: min, EstEmpty: empty || len(n.kids) == 0}
}

func (n *AndBlueprint) FetchPostings(strict bool) error {
	if err := fetchAll(n.kids, strict); err != nil {
		return err
	}
	n.recomputeEstimate()
	return nil
}

func (n *AndBlueprint) CreateSearch(md *handles.MatchData, strict bool) Iterator {
	return NewAndIterator(createAll(n.kids, md, strict))
}

// OrBlueprint matches if any child matches.
type OrBlueprint struct{ combinator }

func NewOrBlueprint(kids []Blueprint) *OrBlueprint {
	n := &OrBlueprint{combinator{kids: kids}}
	n.recomputeEstimate()
	return n
}

func (n *OrBlueprint) recomputeEstimate() {
	var sum uint64
	allEmpty := len(n.kids) > 0
	for _, k := range n.kids {
		e := k.Estimate()
		sum += e.EstHits
		if !e.EstEmpty {
			allEmpty = false
		}
	}
	n.estimate = Estimate{EstHits: sum, EstEmpty: allEmpty}
}

func (n *OrBlueprint) FetchPostings(strict bool) error {
	if err := fetchAll(n.kids, strict); err != nil {
		return err
	}
	n.recomputeEstimate()
	return nil
}

func (n *OrBlueprint) CreateSearch(md *handles.MatchData, strict bool) Iterator {
	return NewOrIterator(createAll(n.kids, md, strict))
}

// AndNotBlueprint: kids[0] drives matching, kids[1:] exclude.
type AndNotBlueprint struct{ combinator }

func NewAndNotBlueprint(kids []Blueprint) *AndNotBlueprint {
	n := &AndNotBlueprint{combinator{kids: kids}}
	if len(kids) > 0 {
		n.estimate = kids[0].Estimate()
	} else {
		n.estimate = Estimate{EstEmpty: true}
	}
	return n
}

func (n *AndNotBlueprint) FetchPostings(strict bool) error {
	if err := fetchAll(n.kids, strict); err != nil {
		return err
	}
	if len(n.kids) > 0 {
		n.estimate = n.kids[0].Estimate()
	}
	return nil
}

func (n *AndNotBlueprint) CreateSearch(md *handles.MatchData, strict bool) Iterator {
	if len(n.kids) == 0 {
		return &AlwaysFalseIterator{}
	}
	its := createAll(n.kids, md, strict)
	return NewAndNotIterator(its[0], its[1:])
}

// RankBlueprint: kids[0] drives matching, kids[1:] add ranking signal only.
type RankBlueprint struct{ combinator }

func NewRankBlueprint(kids []Blueprint) *RankBlueprint {
	n := &RankBlueprint{combinator{kids: kids}}
	if len(kids) > 0 {
		n.estimate = kids[0].Estimate()
	} else {
		n.estimate = Estimate{EstEmpty: true}
	}
	return n
}

func (n *RankBlueprint) FetchPostings(strict bool) error {
	if err := fetchAll(n.kids, strict); err != nil {
		return err
	}
	if len(n.kids) > 0 {
		n.estimate = n.kids[0].Estimate()
	}
	return nil
}

func (n *RankBlueprint) CreateSearch(md *handles.MatchData, strict bool) Iterator {
	if len(n.kids) == 0 {
		return &AlwaysFalseIterator{}
	}
	its := createAll(n.kids, md, strict)
	return NewRankIterator(its[0], its[1:])
}
