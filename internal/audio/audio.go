package audio

import (
	"fmt"
	"time"
)

const (
	SampleRate    = 48000
	Channels      = 1
	BitDepth      = 16
	FrameDuration = 20 * time.Millisecond
	FrameSize     = 960 // samples per channel per 20ms frame at 48kHz
)

// FrameSizeFor returns samples per channel in one FrameDuration at sampleRate.
func FrameSizeFor(sampleRate int) int {
	return sampleRate * int(FrameDuration/time.Millisecond) / 1000
}

// Buffer is decoded multi-channel audio: one float32 slice per channel,
// samples nominally in [-1,1].
type Buffer struct {
	SampleRate int
	Channels   [][]float32
}

// NewBuffer allocates a zeroed buffer of frames samples per channel.
func NewBuffer(sampleRate, numChannels, frames int) Buffer {
	chans := make([][]float32, numChannels)
	for i := range chans {
		chans[i] = make([]float32, frames)
	}
	return Buffer{SampleRate: sampleRate, Channels: chans}
}

// NumChannels returns the channel count.
func (b Buffer) NumChannels() int {
	return len(b.Channels)
}

// FrameCount returns samples per channel.
func (b Buffer) FrameCount() int {
	if len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

// Duration returns the playback length of the buffer.
func (b Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(b.FrameCount()) * time.Second / time.Duration(b.SampleRate)
}

// Validate checks sampleRate > 0, at least one channel and equal channel lengths.
func (b Buffer) Validate() error {
	if b.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %d", b.SampleRate)
	}
	if len(b.Channels) < 1 {
		return fmt.Errorf("buffer has no channels")
	}
	n := len(b.Channels[0])
	for i, ch := range b.Channels[1:] {
		if len(ch) != n {
			return fmt.Errorf("channel %d has %d frames, channel 0 has %d", i+1, len(ch), n)
		}
	}
	return nil
}

// Deinterleave splits interleaved samples into a Buffer. A trailing partial
// frame is dropped.
func Deinterleave(samples []float32, sampleRate, numChannels int) Buffer {
	frames := len(samples) / numChannels
	b := NewBuffer(sampleRate, numChannels, frames)
	for i := 0; i < frames; i++ {
		for c := 0; c < numChannels; c++ {
			b.Channels[c][i] = samples[i*numChannels+c]
		}
	}
	return b
}

// MonoMix averages one interleaved frame across channels.
func MonoMix(frame []float32) float32 {
	if len(frame) == 1 {
		return frame[0]
	}
	var sum float32
	for _, v := range frame {
		sum += v
	}
	return sum / float32(len(frame))
}
