package features

// Window is a bounded FIFO of float64 samples. The zero value is unusable; use NewWindow.
type Window struct {
	buf  []float64
	size int
}

func NewWindow(size int) *Window {
	if size < 1 {
		size = 1
	}
	return &Window{buf: make([]float64, 0, size), size: size}
}

// Push appends v, evicting the oldest sample when full. It reports whether a sample was evicted.
func (w *Window) Push(v float64) bool {
	if len(w.buf) < w.size {
		w.buf = append(w.buf, v)
		return false
	}
	copy(w.buf, w.buf[1:])
	w.buf[len(w.buf)-1] = v
	return true
}

// Values returns a copy of the samples, oldest first.
func (w *Window) Values() []float64 {
	out := make([]float64, len(w.buf))
	copy(out, w.buf)
	return out
}

func (w *Window) Len() int   { return len(w.buf) }
func (w *Window) Cap() int   { return w.size }
func (w *Window) Full() bool { return len(w.buf) == w.size }

// Last returns the newest sample.
func (w *Window) Last() (float64, bool) {
	if len(w.buf) == 0 {
		return 0, false
	}
	return w.buf[len(w.buf)-1], true
}

// Sum returns the sum of all samples.
func (w *Window) Sum() float64 {
	s := 0.0
	for _, v := range w.buf {
		s += v
	}
	return s
}

func (w *Window) Reset() { w.buf = w.buf[:0] }
