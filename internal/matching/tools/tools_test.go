package tools

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distributed-search/matchcore/internal/matching/handles"
	"github.com/distributed-search/matchcore/internal/matching/phaselimit"
	"github.com/distributed-search/matchcore/internal/matching/query"
)

// recordingRank registers one handle during each phase's setup so tests
// can observe the recorder/match-data tagging flow.
type recordingRank struct {
	secondPhase bool
	setups      int
}

func (r *recordingRank) SetupFirstPhase(rec *handles.Recorder, _ *handles.MatchData) (func(uint32) float64, []string) {
	r.setups++
	rec.RegisterHandle(0, handles.Usage{Normal: true})
	return func(d uint32) float64 { return float64(d) }, []string{"first-phase warning"}
}

func (r *recordingRank) HasSecondPhase() bool { return r.secondPhase }

func (r *recordingRank) SetupSecondPhase(rec *handles.Recorder, _ *handles.MatchData) (func(uint32) float64, []string) {
	r.setups++
	rec.RegisterHandle(0, handles.Usage{Interleaved: true})
	return func(d uint32) float64 { return float64(d) * 2 }, nil
}

func frozenBlueprint(t *testing.T, docIDLimit uint32) query.Blueprint {
	t.Helper()
	bp := query.NewAlwaysTrueBlueprint(docIDLimit)
	bp.Freeze()
	require.NoError(t, bp.FetchPostings(true))
	return bp
}

func TestInvalidFactory(t *testing.T) {
	f := Invalid(errors.New("bad stack dump"))
	assert.False(t, f.Valid())
	assert.EqualError(t, f.InvalidErr(), "bad stack dump")
	assert.Zero(t, f.EstimatedHits())
}

func TestCreateFirstPhase_TagsMatchData(t *testing.T) {
	f := New(frozenBlueprint(t, 10), 2, &recordingRank{}, nil, 10)

	mt := f.CreateFirstPhase(true)
	require.NotNil(t, mt)
	assert.Equal(t, []string{"first-phase warning"}, mt.Issues)
	require.Len(t, mt.MatchData.Tags, 2)
	assert.True(t, mt.MatchData.Tags[0].Needed)
	assert.True(t, mt.MatchData.Tags[0].Normal)
	assert.False(t, mt.MatchData.Tags[1].Needed)
	assert.Equal(t, 1.0, mt.Score(1))
}

func TestCreateSecondPhase_NilWithoutSecondPhase(t *testing.T) {
	f := New(frozenBlueprint(t, 10), 0, &recordingRank{}, nil, 10)
	assert.Nil(t, f.CreateSecondPhase(true))
}

func TestCreateSecondPhase_AlwaysFreshIterator(t *testing.T) {
	rank := &recordingRank{secondPhase: true}
	f := New(frozenBlueprint(t, 10), 1, rank, nil, 10)

	first := f.CreateFirstPhase(true)
	second := f.CreateSecondPhase(true)
	require.NotNil(t, second)

	// Iterator trees are never shared between phases (§9).
	assert.NotSame(t, first.Iterator, second.Iterator)
	assert.NotSame(t, first.MatchData, second.MatchData)
	assert.Equal(t, 2, rank.setups)
	assert.Equal(t, 4.0, second.Score(2))
}

func TestLimiter_DefaultsToNoLimiter(t *testing.T) {
	f := New(frozenBlueprint(t, 10), 0, &recordingRank{}, nil, 10)
	_, ok := f.Limiter().(phaselimit.NoLimiter)
	assert.True(t, ok)
}

func TestAttributeTasks_RoundTrip(t *testing.T) {
	f := New(frozenBlueprint(t, 10), 0, &recordingRank{}, nil, 10)
	assert.Nil(t, f.Tasks().OnMatch)

	ran := false
	f.SetAttributeTasks(AttributeTasks{OnMatch: taskFunc(func([]uint32) { ran = true })})
	f.Tasks().OnMatch.Run(nil)
	assert.True(t, ran)
}

// taskFunc adapts a plain function to AttributeTask.
type taskFunc func(docIDs []uint32)

func (f taskFunc) Run(docIDs []uint32) { f(docIDs) }
