package util

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRound(t *testing.T) {
	cases := []struct {
		in     float64
		places int32
		want   float64
	}{
		{1.005, 2, 1.01},
		{0.026315789, 6, 0.026316},
		{-2.5, 0, -3},
		{99.999, 2, 100},
		{42, 2, 42},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Round(c.in, c.places), "Round(%v, %d)", c.in, c.places)
	}
	assert.True(t, math.IsNaN(Round(math.NaN(), 2)))
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 0.0, Clamp(-5, 0, 100))
	assert.Equal(t, 100.0, Clamp(120, 0, 100))
	assert.Equal(t, 55.5, Clamp(55.5, 0, 100))
}

func TestFinite(t *testing.T) {
	assert.True(t, Finite(1))
	assert.False(t, Finite(math.Inf(1)))
	assert.False(t, Finite(math.NaN()))
}
