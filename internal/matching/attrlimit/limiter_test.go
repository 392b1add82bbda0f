package attrlimit

import (
	"fmt"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedLocator struct{ low, high string }

func (f fixedLocator) Locate() (string, string) { return f.low, f.high }

type fakeAttrSearchable struct {
	lastSpec string
	postings []uint32
}

func (f *fakeAttrSearchable) IsAttribute(string) bool { return true }
func (f *fakeAttrSearchable) Lookup(_ string, termText string) ([]uint32, error) {
	f.lastSpec = termText
	return f.postings, nil
}
func (f *fakeAttrSearchable) LookupIndex([]string, string) (map[string][]uint32, error) {
	return nil, nil // everything this fake serves is attribute-backed
}

// parsedRangeSpec is a test-only parser pinning the range-spec grammar's
// round-trip behavior (see the Open Question in the design notes about
// this being a stringly-typed format worth revisiting).
type parsedRangeSpec struct {
	low, high        string
	descending       bool
	wantHits         int
	hasDiversity     bool
	diversityAttr    string
	maxGroupSize     int
	cutoffGroups     int
	cutoffStrategy   string
}

func parseRangeSpec(spec string) (parsedRangeSpec, error) {
	if !strings.HasPrefix(spec, "[") || !strings.HasSuffix(spec, "]") {
		return parsedRangeSpec{}, fmt.Errorf("not bracketed: %q", spec)
	}
	body := spec[1 : len(spec)-1]
	parts := strings.Split(body, ";")
	if len(parts) != 3 && len(parts) != 7 {
		return parsedRangeSpec{}, fmt.Errorf("unexpected field count %d in %q", len(parts), spec)
	}
	var out parsedRangeSpec
	out.low, out.high = parts[0], parts[1]
	wantField := parts[2]
	if strings.HasPrefix(wantField, "-") {
		out.descending = true
		wantField = wantField[1:]
	}
	wantHits, err := strconv.Atoi(wantField)
	if err != nil {
		return parsedRangeSpec{}, fmt.Errorf("bad want_hits %q: %w", wantField, err)
	}
	out.wantHits = wantHits
	if len(parts) == 7 {
		out.hasDiversity = true
		out.diversityAttr = parts[3]
		out.maxGroupSize, err = strconv.Atoi(parts[4])
		if err != nil {
			return parsedRangeSpec{}, err
		}
		out.cutoffGroups, err = strconv.Atoi(parts[5])
		if err != nil {
			return parsedRangeSpec{}, err
		}
		out.cutoffStrategy = parts[6]
	}
	return out, nil
}

func TestBuildRangeSpec_NoDiversity(t *testing.T) {
	spec := buildRangeSpec("10", "90", false, 200, 0, Diversity{})
	assert.Equal(t, "[10;90;200]", spec)

	parsed, err := parseRangeSpec(spec)
	require.NoError(t, err)
	assert.Equal(t, "10", parsed.low)
	assert.Equal(t, "90", parsed.high)
	assert.False(t, parsed.descending)
	assert.Equal(t, 200, parsed.wantHits)
	assert.False(t, parsed.hasDiversity)
}

func TestBuildRangeSpec_Descending(t *testing.T) {
	spec := buildRangeSpec("10", "90", true, 200, 0, Diversity{})
	assert.Equal(t, "[10;90;-200]", spec)

	parsed, err := parseRangeSpec(spec)
	require.NoError(t, err)
	assert.True(t, parsed.descending)
	assert.Equal(t, 200, parsed.wantHits)
}

func TestBuildRangeSpec_WithDiversity(t *testing.T) {
	div := Diversity{Attribute: "category", MaxGroupSize: 5, CutoffFactor: 2.0, CutoffStrategy: Strict}
	spec := buildRangeSpec("0", "1000", false, 100, 5, div)
	assert.Equal(t, "[0;1000;100;category;5;40;strict]", spec)

	parsed, err := parseRangeSpec(spec)
	require.NoError(t, err)
	require.True(t, parsed.hasDiversity)
	assert.Equal(t, "category", parsed.diversityAttr)
	assert.Equal(t, 5, parsed.maxGroupSize)
	assert.Equal(t, 40, parsed.cutoffGroups)
	assert.Equal(t, "strict", parsed.cutoffStrategy)
}

func TestBuildRangeSpec_DiversitySkippedWhenGroupNotSmaller(t *testing.T) {
	div := Diversity{Attribute: "category", MaxGroupSize: 500, CutoffFactor: 2.0}
	spec := buildRangeSpec("0", "1000", false, 100, 500, div)
	assert.Equal(t, "[0;1000;100]", spec)
}

func TestLimiter_FirstCallBuildsSharedPlan(t *testing.T) {
	locator := fixedLocator{low: "0", high: "1000"}
	searchable := &fakeAttrSearchable{postings: []uint32{1, 2, 3}}
	l := New(locator, searchable, "price", false, Diversity{})

	assert.False(t, l.WasUsed())

	it1, err := l.Create(128, 0, false)
	require.NoError(t, err)
	require.NotNil(t, it1)
	assert.True(t, l.WasUsed())
	assert.EqualValues(t, 3, l.EstimatedHits())
	assert.Equal(t, "[0;1000;128]", searchable.lastSpec)

	// Second caller reuses the already-built plan: the shared
	// Searchable must not be consulted again.
	searchable.lastSpec = ""
	it2, err := l.Create(128, 0, false)
	require.NoError(t, err)
	require.NotNil(t, it2)
	assert.Empty(t, searchable.lastSpec)
	assert.EqualValues(t, 3, l.EstimatedHits())
}

func TestParseDiversityCutoffStrategy(t *testing.T) {
	assert.Equal(t, Strict, ParseDiversityCutoffStrategy("strict"))
	assert.Equal(t, Loose, ParseDiversityCutoffStrategy("loose"))
	assert.Equal(t, Loose, ParseDiversityCutoffStrategy("anything-else"))
}
