// Package phaselimit implements mid-match phase limiting: once a match
// thread has sampled enough hits to estimate the query's match
// frequency, it may splice a shared attribute-range iterator into its
// search tree so later threads only visit the fraction of the corpus
// needed to satisfy the caller's requested hit count.
package phaselimit

import (
	"log/slog"
	"sync/atomic"

	"github.com/distributed-search/matchcore/internal/matching/attrlimit"
	"github.com/distributed-search/matchcore/internal/matching/query"
)

var log = slog.Default().With("component", "match-phase-limiter")

// DiversityParams mirrors attrlimit.Diversity but expressed in the
// rank-profile's own vocabulary (min_groups rather than max_group_size);
// Calculator derives max_group_size from wanted_num_docs/min_groups.
type DiversityParams struct {
	Attribute      string
	MinGroups      uint32
	CutoffFactor   float64
	CutoffStrategy attrlimit.DiversityCutoffStrategy
}

func (d DiversityParams) Enabled() bool { return d.Attribute != "" && d.MinGroups > 0 }

// DegradationParams configures the attribute-range limiter itself.
type DegradationParams struct {
	Attribute            string
	Descending           bool
	MaxHits              uint64
	MaxFilterCoverage    float64
	SamplePercentage     float64
	PostFilterMultiplier float64
}

func (d DegradationParams) Enabled() bool { return d.Attribute != "" && d.MaxHits > 0 }

// Calculator performs the sizing arithmetic from the rank profile's
// match-phase configuration.
type Calculator struct {
	maxHits    uint64
	minGroups  uint64
	sampleHits uint64
}

// NewCalculator builds a Calculator; minGroups is clamped to at least 1.
func NewCalculator(maxHits, minGroups uint64, sample float64) Calculator {
	if minGroups < 1 {
		minGroups = 1
	}
	return Calculator{maxHits: maxHits, minGroups: minGroups, sampleHits: uint64(float64(maxHits) * sample)}
}

// SampleHitsPerThread returns how many hits each thread should sample
// before invoking the limiter, never less than 1.
func (c Calculator) SampleHitsPerThread(numThreads uint64) uint64 {
	if numThreads == 0 {
		numThreads = 1
	}
	a := uint64(128) / numThreads
	b := c.sampleHits / numThreads
	max := a
	if b > max {
		max = b
	}
	if max < 1 {
		max = 1
	}
	return max
}

// WantedNumDocs returns the clamp(128, maxHits/hitRate, 2^31-1) target.
func (c Calculator) WantedNumDocs(hitRate float64) uint64 {
	if hitRate <= 0 {
		return 0x7fffFFFF
	}
	want := float64(c.maxHits) / hitRate
	if want < 128 {
		want = 128
	}
	const maxInt31 = float64(0x7fffFFFF)
	if want > maxInt31 {
		want = maxInt31
	}
	return uint64(want)
}

// EstimatedHits returns hitRate * numDocs.
func (c Calculator) EstimatedHits(hitRate float64, numDocs uint64) uint64 {
	return uint64(hitRate * float64(numDocs))
}

// MaxGroupSize returns wantedNumDocs / minGroups.
func (c Calculator) MaxGroupSize(wantedNumDocs uint64) uint64 {
	return wantedNumDocs / c.minGroups
}

// coverage tracks the fraction of the docid space actually visited,
// extrapolating the unvisited remainder using the limiter's own
// estimated-hits fraction once it has been used.
type coverage struct {
	docIDLimit uint32
	searched   atomic.Uint64
}

func newCoverage(docIDLimit uint32) *coverage { return &coverage{docIDLimit: docIDLimit} }

// update folds in one thread's (searched, remaining) pair. hits < 0
// (modeled here as ok=false) means the limiter was never used for this
// thread, so the whole remaining span counts as searched.
func (c *coverage) update(searched, remaining uint64, hits int64, ok bool) {
	if ok && hits >= 0 {
		c.searched.Add(searched + (uint64(hits)*remaining)/uint64(c.docIDLimit))
		return
	}
	c.searched.Add(searched + remaining)
}

func (c *coverage) estimate() uint32 { return uint32(c.searched.Load()) }

// Limiter is the MaybeMatchPhaseLimiter implementation used when
// match-phase limiting is actually configured for a query.
type Limiter struct {
	postFilterMultiplier float64
	maxFilterCoverage    float64
	calculator           Calculator
	attrLimiter          *attrlimit.Limiter
	coverage             *coverage
}

// New builds an enabled Limiter.
func New(docIDLimit uint32, locator attrlimit.RangeQueryLocator, searchable query.Searchable,
	degradation DegradationParams, diversity DiversityParams) *Limiter {
	div := attrlimit.Diversity{}
	if diversity.Enabled() {
		div = attrlimit.Diversity{
			Attribute:      diversity.Attribute,
			CutoffFactor:   diversity.CutoffFactor,
			CutoffStrategy: diversity.CutoffStrategy,
		}
	}
	return &Limiter{
		postFilterMultiplier: degradation.PostFilterMultiplier,
		maxFilterCoverage:    degradation.MaxFilterCoverage,
		calculator:           NewCalculator(degradation.MaxHits, uint64(diversity.MinGroups), degradation.SamplePercentage),
		attrLimiter:          attrlimit.New(locator, searchable, degradation.Attribute, degradation.Descending, div),
		coverage:             newCoverage(docIDLimit),
	}
}

func (l *Limiter) IsEnabled() bool   { return true }
func (l *Limiter) WasLimited() bool  { return l.attrLimiter.WasUsed() }
func (l *Limiter) SampleHitsPerThread(numThreads uint64) uint64 {
	return l.calculator.SampleHitsPerThread(numThreads)
}

// LimitedIterator composes a live search with the limiter's own
// attribute-range iterator, ordering the two children by polarity for
// Seek while Unpack reads the side that carries real match data.
type LimitedIterator struct {
	preFilter bool
	limiter   query.Iterator
	search    query.Iterator
	docID     uint32
	begin     uint32
	end       uint32
}

func newLimitedIterator(preFilter bool, limiter, search query.Iterator) *LimitedIterator {
	return &LimitedIterator{preFilter: preFilter, limiter: limiter, search: search}
}

func (l *LimitedIterator) first() query.Iterator {
	if l.preFilter {
		return l.limiter
	}
	return l.search
}

func (l *LimitedIterator) second() query.Iterator {
	if l.preFilter {
		return l.search
	}
	return l.limiter
}

func (l *LimitedIterator) InitRange(begin, end uint32) {
	l.begin, l.end = begin, end
	l.first().InitRange(begin, end)
	l.second().InitRange(begin, end)
}

func (l *LimitedIterator) DocID() uint32 { return l.docID }

func (l *LimitedIterator) Seek(docid uint32) uint32 {
	current := docid
	for current < l.end {
		current = l.first().Seek(current)
		if current >= l.end {
			break
		}
		if l.second().Seek(current) == current {
			break
		}
		current++
	}
	if current >= l.end {
		current = query.NoDocID
	}
	l.docID = current
	return current
}

// Unpack always reads from the side carrying real match data, which is
// the search iterator in both polarities: the limiter only narrows the
// candidate set and unpacks into its own private match data.
func (l *LimitedIterator) Unpack(docid uint32) {
	l.search.Unpack(docid)
}

// doLimit builds the composed iterator for one polarity (pre- or
// post-filter) and re-initializes the range to resume from the next
// candidate after the current position.
func doLimit(attrLimiter *attrlimit.Limiter, search query.Iterator, wantedNumDocs, maxGroupSize uint64,
	currentID, endID uint32, preFilter bool) (query.Iterator, error) {
	limiterIt, err := attrLimiter.Create(int(wantedNumDocs), int(maxGroupSize), preFilter)
	if err != nil {
		return nil, err
	}
	composed := newLimitedIterator(preFilter, limiterIt, search)
	composed.InitRange(currentID+1, endID)
	return composed, nil
}

// MaybeLimit decides, from the thread-aggregated match frequency and
// corpus size, whether to splice in the limiter; returns search
// unmodified when the computed upper bound doesn't exceed what's
// already wanted.
func (l *Limiter) MaybeLimit(search query.Iterator, matchFreq float64, numDocs uint64, currentID, endID uint32) (query.Iterator, error) {
	wantedNumDocs := l.calculator.WantedNumDocs(matchFreq)
	maxFilterDocs := uint64(float64(numDocs) * l.maxFilterCoverage)
	upper := numDocs
	if maxFilterDocs < upper {
		upper = maxFilterDocs
	}
	if upper <= wantedNumDocs {
		log.Debug("not limiting", "hit_rate", matchFreq, "num_docs", numDocs, "max_filter_docs", maxFilterDocs, "wanted_docs", wantedNumDocs)
		return search, nil
	}
	totalQueryHits := l.calculator.EstimatedHits(matchFreq, numDocs)
	maxGroupSize := l.calculator.MaxGroupSize(wantedNumDocs)
	usePreFilter := float64(wantedNumDocs) < float64(totalQueryHits)*l.postFilterMultiplier
	log.Debug("limiting",
		"pre_filter", usePreFilter, "hit_rate", matchFreq, "num_docs", numDocs,
		"max_filter_docs", maxFilterDocs, "wanted_docs", wantedNumDocs,
		"max_group_size", maxGroupSize, "current_docid", currentID, "end_docid", endID,
		"total_query_hits", totalQueryHits)
	return doLimit(l.attrLimiter, search, wantedNumDocs, maxGroupSize, currentID, endID, usePreFilter)
}

// UpdateDocIDSpaceEstimate folds one thread's (searched, remaining)
// contribution into the running coverage estimate.
func (l *Limiter) UpdateDocIDSpaceEstimate(searched, remaining uint64) {
	hits := l.attrLimiter.EstimatedHits()
	l.coverage.update(searched, remaining, hits, hits >= 0)
}

func (l *Limiter) DocIDSpaceEstimate() uint32 { return l.coverage.estimate() }

// NoLimiter is the MaybeMatchPhaseLimiter used when match-phase
// limiting is not configured for the query: it never alters the
// search, and always reports full coverage.
type NoLimiter struct{}

func (NoLimiter) IsEnabled() bool                  { return false }
func (NoLimiter) WasLimited() bool                 { return false }
func (NoLimiter) SampleHitsPerThread(uint64) uint64 { return 0 }
func (NoLimiter) MaybeLimit(search query.Iterator, _ float64, _ uint64, _, _ uint32) (query.Iterator, error) {
	return search, nil
}
func (NoLimiter) UpdateDocIDSpaceEstimate(uint64, uint64) {}
func (NoLimiter) DocIDSpaceEstimate() uint32              { return ^uint32(0) }

// MaybeMatchPhaseLimiter is implemented by both Limiter and NoLimiter,
// letting match threads treat "limiting configured" and "not
// configured" uniformly.
type MaybeMatchPhaseLimiter interface {
	IsEnabled() bool
	WasLimited() bool
	SampleHitsPerThread(numThreads uint64) uint64
	MaybeLimit(search query.Iterator, matchFreq float64, numDocs uint64, currentID, endID uint32) (query.Iterator, error)
	UpdateDocIDSpaceEstimate(searched, remaining uint64)
	DocIDSpaceEstimate() uint32
}

var (
	_ MaybeMatchPhaseLimiter = (*Limiter)(nil)
	_ MaybeMatchPhaseLimiter = NoLimiter{}
)
