package signalpath

import (
	"math"
	"sync"

	"github.com/satindergrewal/phonoscope/internal/audio"
)

// Tap is the analysis read point of the path. It keeps the most recent
// window of the mono mix without altering the signal passing through.
type Tap struct {
	channels  int
	smoothing float64

	mu    sync.Mutex
	ring  []float32
	pos   int
	level float64
}

// NewTap creates a tap with a window of size samples.
func NewTap(size, channels int, smoothing float64) *Tap {
	if channels < 1 {
		channels = 1
	}
	return &Tap{
		channels:  channels,
		smoothing: smoothing,
		ring:      make([]float32, size),
	}
}

func (t *Tap) Name() string { return "tap" }

// WindowSize returns the analysis frame length.
func (t *Tap) WindowSize() int { return len(t.ring) }

// Process records the block into the ring buffer. The block is not modified.
func (t *Tap) Process(block []float32) {
	frames := len(block) / t.channels
	if frames == 0 {
		return
	}

	var sum float64
	t.mu.Lock()
	for i := 0; i < frames; i++ {
		v := audio.MonoMix(block[i*t.channels : (i+1)*t.channels])
		sum += float64(v) * float64(v)
		t.ring[t.pos] = v
		t.pos = (t.pos + 1) % len(t.ring)
	}
	rms := math.Sqrt(sum / float64(frames))
	t.level = t.smoothing*t.level + (1-t.smoothing)*rms
	t.mu.Unlock()
}

// Frame copies the most recent window into dst in chronological order.
// Before a full window has arrived the oldest entries are zero.
func (t *Tap) Frame(dst []float32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	size := len(t.ring)
	n := len(dst)
	if n > size {
		// left-pad with silence
		clear(dst[:n-size])
		dst = dst[n-size:]
		n = size
	}
	start := (t.pos - n + size) % size
	for i := 0; i < n; i++ {
		dst[i] = t.ring[(start+i)%size]
	}
}

// Level returns the smoothed RMS energy of recent blocks.
func (t *Tap) Level() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.level
}

func (t *Tap) Close() error { return nil }
