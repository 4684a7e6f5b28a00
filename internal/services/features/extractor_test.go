package features

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogReturns(t *testing.T) {
	assert.Nil(t, LogReturns([]float64{100}))

	r := LogReturns([]float64{100, 110, 99})
	require.Len(t, r, 2)
	assert.InDelta(t, math.Log(1.1), r[0], 1e-12)
	assert.InDelta(t, math.Log(99.0/110.0), r[1], 1e-12)
}

func TestStdDev(t *testing.T) {
	xs := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	assert.InDelta(t, 2.0, StdDev(xs, 0), 1e-12)
	assert.InDelta(t, math.Sqrt(32.0/7.0), StdDev(xs, 1), 1e-12)
	assert.Equal(t, 0.0, StdDev([]float64{1}, 1))
}

func TestPearson(t *testing.T) {
	a := []float64{1, 2, 3, 4, 5}
	b := []float64{2, 4, 6, 8, 10}
	assert.InDelta(t, 1.0, Pearson(a, b), 1e-12)

	c := []float64{5, 4, 3, 2, 1}
	assert.InDelta(t, -1.0, Pearson(a, c), 1e-12)

	flat := []float64{3, 3, 3, 3, 3}
	assert.True(t, math.IsNaN(Pearson(a, flat)))
	assert.True(t, math.IsNaN(Pearson(a, b[:3])))
}

func TestRealizedVolatility(t *testing.T) {
	r := []float64{0.01, -0.01, 0.02, -0.02}
	assert.Equal(t, 0.0, RealizedVolatility(r, 5))
	assert.InDelta(t, StdDev(r[2:], 1), RealizedVolatility(r, 2), 1e-12)
}

func TestWindow(t *testing.T) {
	w := NewWindow(3)
	assert.False(t, w.Push(1))
	w.Push(2)
	w.Push(3)
	assert.True(t, w.Full())
	assert.True(t, w.Push(4))
	assert.Equal(t, []float64{2, 3, 4}, w.Values())
	assert.Equal(t, 9.0, w.Sum())

	last, ok := w.Last()
	assert.True(t, ok)
	assert.Equal(t, 4.0, last)

	w.Reset()
	assert.Equal(t, 0, w.Len())
	_, ok = w.Last()
	assert.False(t, ok)
}

func TestTail(t *testing.T) {
	xs := []float64{1, 2, 3, 4}
	assert.Equal(t, []float64{3, 4}, Tail(xs, 2))
	assert.Equal(t, xs, Tail(xs, 10))
}
