package phaselimit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distributed-search/matchcore/internal/matching/attrlimit"
	"github.com/distributed-search/matchcore/internal/matching/query"
)

type fixedLocator struct{ low, high string }

func (f fixedLocator) Locate() (string, string) { return f.low, f.high }

type fakeSearchable struct{ postings map[string][]uint32 }

func (f *fakeSearchable) IsAttribute(string) bool { return true }
func (f *fakeSearchable) Lookup(field, term string) ([]uint32, error) {
	return f.postings[field+":"+term], nil
}
func (f *fakeSearchable) LookupIndex([]string, string) (map[string][]uint32, error) {
	return nil, nil // everything this fake serves is attribute-backed
}

func TestCalculator_SampleHitsPerThread(t *testing.T) {
	c := NewCalculator(1000, 1, 0.1) // sampleHits = 100
	assert.EqualValues(t, 128, c.SampleHitsPerThread(1))
	assert.EqualValues(t, 32, c.SampleHitsPerThread(4)) // max(128/4=32, 100/4=25) = 32
}

func TestCalculator_WantedNumDocs(t *testing.T) {
	c := NewCalculator(1000, 1, 0.1)
	assert.EqualValues(t, 2000, c.WantedNumDocs(0.5))
	assert.EqualValues(t, 128, c.WantedNumDocs(1000)) // clamped to the 128 floor
	assert.EqualValues(t, 0x7fffFFFF, c.WantedNumDocs(0))
}

func TestCalculator_MaxGroupSize(t *testing.T) {
	c := NewCalculator(1000, 10, 0.1)
	assert.EqualValues(t, 20, c.MaxGroupSize(200))
}

func TestLimiter_DoesNotLimitWhenUpperBelowWanted(t *testing.T) {
	searchable := &fakeSearchable{postings: map[string][]uint32{}}
	l := New(1000, fixedLocator{"0", "1000"}, searchable,
		DegradationParams{Attribute: "price", MaxHits: 1000, MaxFilterCoverage: 1.0, PostFilterMultiplier: 2.0},
		DiversityParams{})

	search := query.NewPostingIterator([]uint32{1, 2, 3}, 0, nil)
	out, err := l.MaybeLimit(search, 1.0, 1000, 0, 1000)
	require.NoError(t, err)
	assert.Same(t, search, out)
	assert.False(t, l.WasLimited())
}

func TestLimiter_LimitsWithPreFilterWhenWantedIsSmall(t *testing.T) {
	searchable := &fakeSearchable{postings: map[string][]uint32{
		"price:[0;1000;128]": {1, 2, 3, 4, 5},
	}}
	l := New(1000, fixedLocator{"0", "1000"}, searchable,
		DegradationParams{Attribute: "price", MaxHits: 128, MaxFilterCoverage: 1.0, PostFilterMultiplier: 1.0},
		DiversityParams{})

	search := query.NewPostingIterator([]uint32{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, 0, nil)
	out, err := l.MaybeLimit(search, 1.0, 1000, 0, 1000)
	require.NoError(t, err)
	require.NotSame(t, search, out)
	assert.True(t, l.WasLimited())

	limited, ok := out.(*LimitedIterator)
	require.True(t, ok)
	assert.True(t, limited.preFilter)
}

func TestLimiter_CoverageEstimateAccumulates(t *testing.T) {
	searchable := &fakeSearchable{postings: map[string][]uint32{}}
	l := New(1000, fixedLocator{"0", "1000"}, searchable,
		DegradationParams{Attribute: "price", MaxHits: 128, MaxFilterCoverage: 1.0, PostFilterMultiplier: 2.0},
		DiversityParams{})

	l.UpdateDocIDSpaceEstimate(100, 0)
	l.UpdateDocIDSpaceEstimate(50, 0)
	assert.EqualValues(t, 150, l.DocIDSpaceEstimate())
}

func TestNoLimiter_NeverLimits(t *testing.T) {
	var n NoLimiter
	search := query.NewPostingIterator([]uint32{1, 2}, 0, nil)
	out, err := n.MaybeLimit(search, 0.5, 100, 0, 100)
	require.NoError(t, err)
	assert.Same(t, search, out)
	assert.False(t, n.IsEnabled())
	assert.Equal(t, ^uint32(0), n.DocIDSpaceEstimate())
}

func TestLimitedIterator_UnpacksCorrectSideByPolarity(t *testing.T) {
	var preCalls, postCalls []uint32
	limiterIt := query.NewPostingIterator([]uint32{2, 4, 6}, 1, func(h, d uint32) { preCalls = append(preCalls, d) })
	searchIt := query.NewPostingIterator([]uint32{2, 3, 4, 5, 6}, 2, func(h, d uint32) { postCalls = append(postCalls, d) })

	li := newLimitedIterator(true, limiterIt, searchIt)
	li.InitRange(0, 10)
	docid := li.Seek(0)
	require.EqualValues(t, 2, docid)
	li.Unpack(docid)
	assert.Equal(t, []uint32{2}, postCalls)
	assert.Empty(t, preCalls)
}

var _ = attrlimit.Loose // keep the import honest for the diversity params plumbing above
