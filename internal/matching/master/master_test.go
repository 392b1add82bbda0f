package master

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distributed-search/matchcore/internal/matching/handles"
	"github.com/distributed-search/matchcore/internal/matching/query"
	"github.com/distributed-search/matchcore/internal/matching/thread"
	"github.com/distributed-search/matchcore/internal/matching/tools"
)

// constantRank scores every docid the same and never runs a second phase.
type constantRank struct{ score float64 }

func (r constantRank) SetupFirstPhase(_ *handles.Recorder, _ *handles.MatchData) (func(uint32) float64, []string) {
	return func(uint32) float64 { return r.score }, nil
}
func (r constantRank) HasSecondPhase() bool { return false }
func (r constantRank) SetupSecondPhase(_ *handles.Recorder, _ *handles.MatchData) (func(uint32) float64, []string) {
	return nil, nil
}

func TestMatch_PartitionScheduler_CoversEveryDoc(t *testing.T) {
	const docIDLimit = uint32(40)
	bp := query.NewAlwaysTrueBlueprint(docIDLimit)
	bp.Freeze()
	require.NoError(t, bp.FetchPostings(true))

	factory := tools.New(bp, 0, constantRank{score: 1.0}, nil, docIDLimit)

	m := New()
	reply, err := m.Match(context.Background(), factory, Params{
		NumThreads:          4,
		NumSearchPartitions: 4,
		DocIDLimit:          docIDLimit,
		Offset:              0,
		MaxHits:             10,
		ArraySize:           64,
		HeapSize:            64,
		RankDropMode:        thread.RankDropNone,
	})
	require.NoError(t, err)
	require.NotNil(t, reply.Partial)

	// docid 0 is reserved, so [1, docIDLimit) holds docIDLimit-1 docs.
	assert.EqualValues(t, docIDLimit-1, reply.Partial.TotalHits)
	assert.Len(t, reply.Partial.Hits, 10)
	assert.EqualValues(t, 0, reply.Stats.SoftDooms)
	assert.EqualValues(t, 0, reply.Stats.HardDooms)
	assert.False(t, reply.Stats.WasLimited)
}

func TestMatch_AdaptiveScheduler_SingleThread(t *testing.T) {
	const docIDLimit = uint32(16)
	bp := query.NewAlwaysTrueBlueprint(docIDLimit)
	bp.Freeze()
	require.NoError(t, bp.FetchPostings(true))

	factory := tools.New(bp, 0, constantRank{score: 0.5}, nil, docIDLimit)

	m := New()
	reply, err := m.Match(context.Background(), factory, Params{
		NumThreads:          1,
		NumSearchPartitions: 0,
		MinTask:             1,
		DocIDLimit:          docIDLimit,
		MaxHits:             16,
		ArraySize:           32,
		HeapSize:            32,
	})
	require.NoError(t, err)
	assert.EqualValues(t, docIDLimit-1, reply.Partial.TotalHits)
}

func TestChooseScheduler(t *testing.T) {
	p := Params{NumThreads: 4, NumSearchPartitions: 0, DocIDLimit: 100}
	assert.NotNil(t, chooseScheduler(p)) // adaptive

	p.NumSearchPartitions = 4
	assert.NotNil(t, chooseScheduler(p)) // partition

	p.NumSearchPartitions = 10
	assert.NotNil(t, chooseScheduler(p)) // task
}
