// Package attrlimit builds the shared, attribute-backed range-term plan
// used to cap the number of candidate documents a query visits. Every
// match thread asks the same Limiter for an iterator; the first caller
// decides the range's size and diversity shape, later callers get a
// fresh per-thread iterator over the same frozen plan.
package attrlimit

import (
	"fmt"
	"sync"

	"github.com/distributed-search/matchcore/internal/matching/handles"
	"github.com/distributed-search/matchcore/internal/matching/query"
)

// DiversityCutoffStrategy controls how aggressively the underlying range
// search drops documents once a diversity group fills up.
type DiversityCutoffStrategy int

const (
	Loose DiversityCutoffStrategy = iota
	Strict
)

func (s DiversityCutoffStrategy) String() string {
	if s == Strict {
		return "strict"
	}
	return "loose"
}

// ParseDiversityCutoffStrategy matches the original's case: anything
// other than exactly "strict" is treated as loose.
func ParseDiversityCutoffStrategy(s string) DiversityCutoffStrategy {
	if s == "strict" {
		return Strict
	}
	return Loose
}

// RangeQueryLocator resolves the textual [low, high) bounds of the
// original range query on the limiting attribute, which the limiter's
// own range term must stay within.
type RangeQueryLocator interface {
	Locate() (low, high string)
}

// Diversity carries the optional diversity parameters for a limiter
// request; the zero value disables diversity.
type Diversity struct {
	Attribute      string
	MaxGroupSize   int
	CutoffFactor   float64
	CutoffStrategy DiversityCutoffStrategy
}

func (d Diversity) enabled() bool { return d.Attribute != "" && d.MaxGroupSize > 0 }

// Limiter is shared across every match thread of one query. It is safe
// for concurrent Create calls.
type Limiter struct {
	locator       RangeQueryLocator
	searchable    query.Searchable
	attributeName string
	descending    bool
	diversity     Diversity

	mu            sync.Mutex
	blueprint     query.Blueprint
	estimatedHits int64 // -1 until the first Create call builds the plan
}

// New builds a Limiter over the given attribute. diversity may be the
// zero value to disable diversity grouping.
func New(locator RangeQueryLocator, searchable query.Searchable, attributeName string, descending bool, diversity Diversity) *Limiter {
	return &Limiter{
		locator:       locator,
		searchable:    searchable,
		attributeName: attributeName,
		descending:    descending,
		diversity:     diversity,
		estimatedHits: -1,
	}
}

// WasUsed reports whether any thread has actually called Create yet.
func (l *Limiter) WasUsed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.estimatedHits >= 0
}

// EstimatedHits returns the plan's cached estimate, or -1 if Create has
// never been called.
func (l *Limiter) EstimatedHits() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.estimatedHits
}

// buildRangeSpec renders the `[low;high;<dir>want_hits;diversity_attr;
// max_group_size;cutoff_groups;strategy]` grammar. The diversity suffix
// is only appended when maxGroupSize is smaller than wantHits — a
// diversity window that isn't actually narrower than the result is a
// no-op and is omitted, matching the original's behavior.
func buildRangeSpec(low, high string, descending bool, wantHits, maxGroupSize int, diversity Diversity) string {
	dir := ""
	if descending {
		dir = "-"
	}
	spec := fmt.Sprintf("[%s;%s;%s%d", low, high, dir, wantHits)
	if diversity.enabled() && maxGroupSize < wantHits {
		cutoffGroups := int(diversity.CutoffFactor * float64(wantHits) / float64(maxGroupSize))
		spec += fmt.Sprintf(";%s;%d;%d;%s]", diversity.Attribute, maxGroupSize, cutoffGroups, diversity.CutoffStrategy)
	} else {
		spec += "]"
	}
	return spec
}

// Create returns a fresh iterator limiting results to wantHits docids,
// diversified over groups no larger than maxGroupSize (0 disables
// diversity for this call even if the Limiter has it configured).
// The first call across all threads builds the shared plan; later
// calls reuse it with an independent MatchData and iterator.
func (l *Limiter) Create(wantHits, maxGroupSize int, strict bool) (query.Iterator, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.blueprint == nil {
		low, high := l.locator.Locate()
		diversity := l.diversity
		if maxGroupSize <= 0 {
			diversity = Diversity{}
		} else {
			diversity.MaxGroupSize = maxGroupSize
		}
		spec := buildRangeSpec(low, high, l.descending, wantHits, maxGroupSize, diversity)

		handle := uint32(0)
		fetch := func(bool) ([]uint32, error) {
			return l.searchable.Lookup(l.attributeName, spec)
		}
		bp := query.NewAttributeTermBlueprint(l.attributeName, handle, 0, fetch, nil)
		if err := bp.FetchPostings(strict); err != nil {
			return nil, fmt.Errorf("attrlimit: building range plan for %q: %w", l.attributeName, err)
		}
		bp.Freeze()
		l.blueprint = bp
		l.estimatedHits = int64(bp.Estimate().EstHits)
	}

	md := handles.NewMatchData(1)
	return l.blueprint.CreateSearch(md, strict), nil
}
