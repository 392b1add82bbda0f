package query

import (
	"fmt"
	"log/slog"
	"sync"
)

var log = slog.Default().With("component", "query-planner")

// HandleAllocator hands out increasing match-data handle ids, one per
// (query term, field) pair that can produce per-match ranking signal.
type HandleAllocator struct {
	next uint32
}

// Allocate returns the next free handle id.
func (h *HandleAllocator) Allocate() uint32 {
	id := h.next
	h.next++
	return id
}

// NumHandles returns how many handles have been allocated so far — the
// size a MatchData for this plan needs.
func (h *HandleAllocator) NumHandles() uint32 { return h.next }

// Issue is a non-fatal problem encountered while building the plan (§7:
// field resolution failures and structural assertion failures are
// reported this way rather than aborting the whole query).
type Issue struct {
	Node   string
	Reason string
}

// Builder walks a (already field-split) query AST and emits the
// corresponding Blueprint tree.
type Builder struct {
	searchable Searchable
	handles    *HandleAllocator
	docIDLimit uint32
	onUnpack   func(handle, docID uint32)
	issues     []Issue
}

// NewBuilder builds a plan builder against the given Searchable source.
// onUnpack, if non-nil, is called by every leaf term's iterator on
// Unpack — typically wired to a per-thread match-data writer.
func NewBuilder(searchable Searchable, docIDLimit uint32, onUnpack func(handle, docID uint32)) *Builder {
	return &Builder{searchable: searchable, handles: &HandleAllocator{}, docIDLimit: docIDLimit, onUnpack: onUnpack}
}

// Handles returns the allocator used during Build, so the caller can size
// a MatchData after the walk completes.
func (b *Builder) Handles() *HandleAllocator { return b.handles }

// Issues returns every non-fatal problem raised during Build.
func (b *Builder) Issues() []Issue { return b.issues }

// issue records a non-fatal build problem. Field-resolution failures are
// logged at debug per §7 ("Logged at debug"); structural assertion
// failures (e.g. SAME-ELEMENT with multiple fields) are comparatively
// rare caller mistakes and get the same treatment — the Issue slice is
// the channel that reaches the caller/trace, the debug line is only for
// local diagnosis.
func (b *Builder) issue(node, reason string) {
	log.Debug("query plan build issue", "node", node, "reason", reason)
	b.issues = append(b.issues, Issue{Node: node, Reason: reason})
}

// Build translates node into a Blueprint tree. The returned error is only
// set for conditions the spec treats as aborting query-build entirely;
// recoverable problems (empty field resolution, SAME-ELEMENT misuse)
// degrade to an EmptyBlueprint and are recorded in Issues instead.
func (b *Builder) Build(node Node) (Blueprint, error) {
	switch n := node.(type) {
	case Term:
		return b.buildTerm(n), nil
	case MultiTerm:
		return b.buildMultiTerm(n), nil
	case And:
		return b.buildCombinator(n.Children, func(kids []Blueprint) Blueprint { return NewAndBlueprint(kids) })
	case Or:
		return b.buildCombinator(n.Children, func(kids []Blueprint) Blueprint { return NewOrBlueprint(kids) })
	case AndNot:
		return b.buildCombinator(n.Children, func(kids []Blueprint) Blueprint { return NewAndNotBlueprint(kids) })
	case Rank:
		return b.buildCombinator(n.Children, func(kids []Blueprint) Blueprint { return NewRankBlueprint(kids) })
	case Phrase:
		return b.buildPhrase(n), nil
	case Near:
		return b.buildProximity(n.Children)
	case ONear:
		return b.buildProximity(n.Children)
	case WeakAnd:
		return b.buildCombinator(n.Children, func(kids []Blueprint) Blueprint { return NewOrBlueprint(kids) })
	case Equiv:
		return b.buildEquiv(n)
	case SameElement:
		return b.buildSameElement(n)
	case AlwaysTrue:
		return NewAlwaysTrueBlueprint(b.docIDLimit), nil
	case AlwaysFalse:
		return NewEmptyBlueprint("always-false"), nil
	default:
		return nil, fmt.Errorf("query: unknown node type %T", node)
	}
}

// attrFetchFor returns a fetch closure asking the attribute searchable
// for one field/term pair, deferred so FetchPostings (not Build) triggers
// the actual lookup.
func (b *Builder) attrFetchFor(field, termText string) func(strict bool) ([]uint32, error) {
	return func(bool) ([]uint32, error) {
		return b.searchable.Lookup(field, termText)
	}
}

// indexGroupFetch performs the one-shot grouped lookup shared by every
// leaf of one term's index field group (§4.4: the index searchable is
// asked once per group, however many fields the group carries).
type indexGroupFetch struct {
	searchable Searchable
	fields     []string
	termText   string
	once       sync.Once
	byField    map[string][]uint32
	err        error
}

func (g *indexGroupFetch) fetchFor(field string) func(strict bool) ([]uint32, error) {
	return func(bool) ([]uint32, error) {
		g.once.Do(func() {
			g.byField, g.err = g.searchable.LookupIndex(g.fields, g.termText)
		})
		if g.err != nil {
			return nil, g.err
		}
		return g.byField[field], nil
	}
}

// buildTerm resolves a term's field list, asking the attribute searchable
// per attribute field and the index searchable once for the whole index
// field group, then mixing the two sides under an OR when both are
// present ("Mixer" step, §4.4). Normally the field splitter has already
// rewritten multi-field terms into OR(term_per_field...), so most calls
// see one field on one side.
func (b *Builder) buildTerm(t Term) Blueprint {
	if len(t.Fields) == 0 {
		b.issue("Term", "no fields resolved")
		return NewEmptyBlueprint("no fields resolved")
	}
	var attrKids []Blueprint
	var idxFields []string
	for _, f := range t.Fields {
		if b.searchable.IsAttribute(f) {
			attrKids = append(attrKids, b.attributeLeaf(f, t.TermText))
		} else {
			idxFields = append(idxFields, f)
		}
	}
	attrPart := orOf(attrKids)
	idxPart := orOf(b.indexGroupLeaves(idxFields, t.TermText))
	switch {
	case idxPart == nil:
		return attrPart
	case attrPart == nil:
		return idxPart
	default:
		return NewOrBlueprint([]Blueprint{attrPart, idxPart})
	}
}

// orOf collapses a leaf list to nil (none), the single leaf, or an OR.
func orOf(kids []Blueprint) Blueprint {
	switch len(kids) {
	case 0:
		return nil
	case 1:
		return kids[0]
	default:
		return NewOrBlueprint(kids)
	}
}

func (b *Builder) attributeLeaf(field, termText string) Blueprint {
	handle := b.handles.Allocate()
	return NewAttributeTermBlueprint(field, handle, 0, b.attrFetchFor(field, termText), b.onUnpack)
}

// indexGroupLeaves builds one leaf per index field, all backed by a
// single shared group lookup.
func (b *Builder) indexGroupLeaves(fields []string, termText string) []Blueprint {
	if len(fields) == 0 {
		return nil
	}
	group := &indexGroupFetch{searchable: b.searchable, fields: fields, termText: termText}
	kids := make([]Blueprint, len(fields))
	for i, f := range fields {
		handle := b.handles.Allocate()
		kids[i] = NewTermBlueprint(f, handle, 0, group.fetchFor(f), b.onUnpack)
	}
	return kids
}

// leafTerm builds a single-field leaf, routed to the attribute or index
// side of the Searchable.
func (b *Builder) leafTerm(field, termText string) Blueprint {
	return b.leafTermWithHandle(field, termText, b.handles.Allocate())
}

// leafTermWithHandle is leafTerm with a caller-chosen handle, for EQUIV
// children that all write into one shared parent slot.
func (b *Builder) leafTermWithHandle(field, termText string, handle uint32) Blueprint {
	if b.searchable.IsAttribute(field) {
		return NewAttributeTermBlueprint(field, handle, 0, b.attrFetchFor(field, termText), b.onUnpack)
	}
	group := &indexGroupFetch{searchable: b.searchable, fields: []string{field}, termText: termText}
	return NewTermBlueprint(field, handle, 0, group.fetchFor(field), b.onUnpack)
}

// buildMultiTerm handles the weighted-set/dot-product/WAND/in/fuzzy/regex/
// prefix/substring/suffix/range/location/nearest-neighbor/predicate
// family. All of them resolve to an OR over their sub-terms; the
// candidate-selection and ranking differences between e.g. WAND and a
// plain weighted-set live entirely in the ranking program the matcher
// attaches (out of scope here per §1 — "ranking feature evaluation
// internals … specified only as black-box programs").
func (b *Builder) buildMultiTerm(m MultiTerm) Blueprint {
	if len(m.Fields) != 1 {
		b.issue("MultiTerm", "expected exactly one field")
		return NewEmptyBlueprint("multi-term requires exactly one field")
	}
	field := m.Fields[0]
	kids := make([]Blueprint, len(m.Terms))
	for i, t := range m.Terms {
		kids[i] = b.leafTerm(field, t.TermText)
	}
	return NewOrBlueprint(kids)
}

func (b *Builder) buildCombinator(children []Node, combine func([]Blueprint) Blueprint) (Blueprint, error) {
	kids := make([]Blueprint, 0, len(children))
	for _, c := range children {
		bp, err := b.Build(c)
		if err != nil {
			return nil, err
		}
		kids = append(kids, bp)
	}
	return combine(kids), nil
}

// buildPhrase requires its terms to match contiguously; the plan-level
// approximation (positions are out of scope, §1) is an AND of per-term
// leaves on the phrase's single field, which is a superset of true phrase
// matches and lets the ranking program apply the positional check.
func (b *Builder) buildPhrase(p Phrase) Blueprint {
	kids := make([]Blueprint, len(p.Terms))
	for i, term := range p.Terms {
		kids[i] = b.leafTerm(p.Field, term)
	}
	return NewAndBlueprint(kids)
}

// buildProximity is the Near/ONear plan-level approximation: an AND over
// the children's candidate sets (exact distance/ordering enforcement is a
// ranking-feature concern, out of scope per §1).
func (b *Builder) buildProximity(children []Node) (Blueprint, error) {
	return b.buildCombinator(children, func(kids []Blueprint) Blueprint { return NewAndBlueprint(kids) })
}

// buildEquiv allocates one shared handle for every child so they all
// write into the same parent match-data slot, then matches via OR.
func (b *Builder) buildEquiv(e Equiv) (Blueprint, error) {
	sharedHandle := b.handles.Allocate()
	kids := make([]Blueprint, 0, len(e.Children))
	for _, c := range e.Children {
		term, ok := c.(Term)
		if !ok {
			bp, err := b.Build(c)
			if err != nil {
				return nil, err
			}
			kids = append(kids, bp)
			continue
		}
		for _, field := range term.Fields {
			kids = append(kids, b.leafTermWithHandle(field, term.TermText, sharedHandle))
		}
	}
	return NewOrBlueprint(kids), nil
}

// buildSameElement requires exactly one field across all children; on
// violation it reports an Issue and substitutes EmptyBlueprint (§7,
// "Structural assertion failure"). On success it ANDs per-child leaf
// plans together as a cheap candidate-set filter, matching §4.4's
// "enclosing AND filter" description.
func (b *Builder) buildSameElement(s SameElement) (Blueprint, error) {
	if s.Field == "" {
		b.issue("SameElement", "no field specified")
		return NewEmptyBlueprint("same-element requires exactly one field"), nil
	}
	kids := make([]Blueprint, 0, len(s.Children))
	for _, c := range s.Children {
		term, ok := c.(Term)
		if !ok {
			bp, err := b.Build(c)
			if err != nil {
				return nil, err
			}
			kids = append(kids, bp)
			continue
		}
		if len(term.Fields) > 1 {
			b.issue("SameElement", "child term resolves to multiple fields")
			return NewEmptyBlueprint("same-element requires exactly one field"), nil
		}
		kids = append(kids, b.leafTerm(s.Field, term.TermText))
	}
	return NewAndBlueprint(kids), nil
}
