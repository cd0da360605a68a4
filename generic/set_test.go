package generic

import (
	"sort"
	"testing"

	assert_ "github.com/stretchr/testify/assert"
)

func TestSet(t *testing.T) {
	assert := assert_.New(t)

	s := NewSet[string]()
	assert.Equal(0, s.Count())
	assert.True(s.Add("a"))
	assert.False(s.Add("a"))
	assert.True(s.Contains("a"))
	assert.False(s.Contains("a", "b"))
	assert.True(s.Add("b"))
	assert.True(s.Contains("a", "b"))
	assert.True(s.Remove("a"))
	assert.False(s.Remove("a"))
	assert.Equal(1, s.Count())

	s2 := NewSet(3, 1, 2)
	items := s2.ToSlice()
	sort.Ints(items)
	assert.Equal([]int{1, 2, 3}, items)
}

func TestResult(t *testing.T) {
	assert := assert_.New(t)

	ok := Ok(42)
	assert.True(ok.IsOk())
	assert.Equal(42, ok.Unwrap())
	v, err := ok.Parts()
	assert.Equal(42, v)
	assert.Nil(err)

	bad := Err[int](assert_.AnError)
	assert.True(bad.IsErr())
	assert.Equal(7, bad.UnwrapOr(7))
	assert.Panics(func() { bad.Unwrap() })
	assert.Panics(func() { Unwrap_(assert_.AnError) })
}
