package stream

import (
	"github.com/satindergrewal/phonoscope/internal/audio"
)

// Monitor turns filtered signal-path blocks into 20ms mono int16 frames for
// the WebRTC listeners. It is the sink's monitor callback and is only called
// from the capture goroutine.
type Monitor struct {
	out      *Broadcaster[[]int16]
	channels int
	framer   *audio.Framer
	mono     []float32
}

// NewMonitor publishes to out. sampleRate and channels describe the blocks
// passed to Write; frames keep the capture rate.
func NewMonitor(out *Broadcaster[[]int16], sampleRate, channels int) *Monitor {
	if channels < 1 {
		channels = 1
	}
	m := &Monitor{out: out, channels: channels}
	m.framer = audio.NewFramer(audio.FrameSizeFor(sampleRate), 1, m.emit)
	return m
}

// Write consumes one interleaved block. Nothing is buffered while nobody is
// listening.
func (m *Monitor) Write(block []float32) {
	if m.out.ListenerCount() == 0 {
		return
	}
	frames := len(block) / m.channels
	if cap(m.mono) < frames {
		m.mono = make([]float32, frames)
	}
	mono := m.mono[:frames]
	for i := range mono {
		mono[i] = audio.MonoMix(block[i*m.channels : (i+1)*m.channels])
	}
	m.framer.Write(mono)
}

func (m *Monitor) emit(frame []float32) {
	m.out.Publish(audio.FloatsToInt16(nil, frame))
}
