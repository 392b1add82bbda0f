package handles

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecorder_RegisterHandleMerges(t *testing.T) {
	r := NewRecorder()
	r.RegisterHandle(3, Usage{Normal: true})
	r.RegisterHandle(3, Usage{Interleaved: true})
	require.Equal(t, Usage{Normal: true, Interleaved: true}, r.Handles()[3])
}

func TestTagMatchData_MarksOnlyRegisteredHandles(t *testing.T) {
	r := NewRecorder()
	r.RegisterHandle(1, Usage{Normal: true})
	r.RegisterHandle(4, Usage{Interleaved: true})

	md := NewMatchData(5)
	r.TagMatchData(md)

	require.False(t, md.Tags[0].Needed)
	require.True(t, md.Tags[1].Needed)
	require.True(t, md.Tags[1].Normal)
	require.False(t, md.Tags[1].Interleaved)
	require.False(t, md.Tags[2].Needed)
	require.False(t, md.Tags[3].Needed)
	require.True(t, md.Tags[4].Needed)
	require.True(t, md.Tags[4].Interleaved)
}

func TestTagMatchData_IdempotentForSameRecordedSet(t *testing.T) {
	r := NewRecorder()
	r.RegisterHandle(2, Usage{Normal: true, Interleaved: true})
	md := NewMatchData(3)
	r.TagMatchData(md)
	first := append([]Tag(nil), md.Tags...)
	r.TagMatchData(md)
	require.Equal(t, first, md.Tags)
}

func TestRecorder_Equal(t *testing.T) {
	a := NewRecorder()
	a.RegisterHandle(1, Usage{Normal: true})
	b := NewRecorder()
	b.RegisterHandle(1, Usage{Normal: true})
	require.True(t, a.Equal(b))

	b.RegisterHandle(2, Usage{Interleaved: true})
	require.False(t, a.Equal(b))
}
