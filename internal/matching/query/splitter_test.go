package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitFields_MultiFieldTerm(t *testing.T) {
	got := SplitFields(Term{Fields: []string{"title", "body"}, TermText: "fox"})

	or, ok := got.(Or)
	require.True(t, ok)
	require.Len(t, or.Children, 2)
	assert.Equal(t, Term{Fields: []string{"title"}, TermText: "fox"}, or.Children[0])
	assert.Equal(t, Term{Fields: []string{"body"}, TermText: "fox"}, or.Children[1])
}

func TestSplitFields_SingleFieldTerm_Unchanged(t *testing.T) {
	in := Term{Fields: []string{"body"}, TermText: "fox"}
	assert.Equal(t, in, SplitFields(in))
}

func TestSplitFields_RecursesThroughCombinators(t *testing.T) {
	in := And{Children: []Node{
		Term{Fields: []string{"a", "b"}, TermText: "x"},
		Term{Fields: []string{"a"}, TermText: "y"},
	}}

	got := SplitFields(in).(And)
	require.Len(t, got.Children, 2)
	_, ok := got.Children[0].(Or)
	assert.True(t, ok)
	assert.Equal(t, Term{Fields: []string{"a"}, TermText: "y"}, got.Children[1])
}

func TestSplitFields_EquivGroupsByField(t *testing.T) {
	in := Equiv{Children: []Node{
		Term{Fields: []string{"a"}, TermText: "car"},
		Term{Fields: []string{"b"}, TermText: "car"},
		Term{Fields: []string{"a"}, TermText: "automobile"},
	}}

	got := SplitFields(in)
	or, ok := got.(Or)
	require.True(t, ok)
	require.Len(t, or.Children, 2)

	first := or.Children[0].(Equiv)
	require.Len(t, first.Children, 2)
	assert.Equal(t, "a", first.Children[0].(Term).Fields[0])
	assert.Equal(t, "a", first.Children[1].(Term).Fields[0])

	second := or.Children[1].(Equiv)
	require.Len(t, second.Children, 1)
	assert.Equal(t, "b", second.Children[0].(Term).Fields[0])
}

func TestSplitFields_EquivSingleField_Unchanged(t *testing.T) {
	in := Equiv{Children: []Node{
		Term{Fields: []string{"a"}, TermText: "car"},
		Term{Fields: []string{"a"}, TermText: "automobile"},
	}}
	assert.Equal(t, in, SplitFields(in))
}

func TestSplitFields_MultiTerm(t *testing.T) {
	in := MultiTerm{
		Kind:   WeightedSet,
		Fields: []string{"a", "b"},
		Terms:  []WeightedTerm{{TermText: "x", Weight: 10}},
	}

	or, ok := SplitFields(in).(Or)
	require.True(t, ok)
	require.Len(t, or.Children, 2)
	assert.Equal(t, []string{"a"}, or.Children[0].(MultiTerm).Fields)
	assert.Equal(t, []string{"b"}, or.Children[1].(MultiTerm).Fields)
}

// Splitting a tree where every term already carries exactly one field
// returns a structurally identical tree (§8, "Field splitting is
// idempotent").
func TestSplitFields_Idempotent(t *testing.T) {
	in := Or{Children: []Node{
		And{Children: []Node{
			Term{Fields: []string{"title", "body"}, TermText: "fox"},
			Term{Fields: []string{"body"}, TermText: "dog"},
		}},
		Equiv{Children: []Node{
			Term{Fields: []string{"a"}, TermText: "car"},
			Term{Fields: []string{"b"}, TermText: "car"},
		}},
	}}

	once := SplitFields(in)
	twice := SplitFields(once)
	assert.Equal(t, once, twice)
}
