package audio

// Framer regroups arbitrarily sized interleaved blocks into fixed-size frames.
// It is not safe for concurrent use.
type Framer struct {
	size    int // interleaved samples per frame
	pending []float32
	emit    func(frame []float32)
}

// NewFramer creates a framer emitting frames of frameSize samples per channel.
// The emitted slice is only valid for the duration of the callback.
func NewFramer(frameSize, channels int, emit func(frame []float32)) *Framer {
	size := frameSize * channels
	return &Framer{
		size:    size,
		pending: make([]float32, 0, size),
		emit:    emit,
	}
}

// Write appends samples, emitting every completed frame in order.
func (f *Framer) Write(samples []float32) {
	for len(samples) > 0 {
		n := f.size - len(f.pending)
		if n > len(samples) {
			n = len(samples)
		}
		f.pending = append(f.pending, samples[:n]...)
		samples = samples[n:]
		if len(f.pending) == f.size {
			f.emit(f.pending)
			f.pending = f.pending[:0]
		}
	}
}

// Pending returns the number of buffered samples not yet emitted.
func (f *Framer) Pending() int {
	return len(f.pending)
}

// Flush zero-pads and emits a partial frame, if any. Returns true if a frame was emitted.
func (f *Framer) Flush() bool {
	if len(f.pending) == 0 {
		return false
	}
	for len(f.pending) < f.size {
		f.pending = append(f.pending, 0)
	}
	f.emit(f.pending)
	f.pending = f.pending[:0]
	return true
}
