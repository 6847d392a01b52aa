// Package codec compresses the live capture into CaptureChunks and decodes
// the concatenated chunks back into sample buffers at the end of a recording.
package codec

import (
	"fmt"
	"strings"
	"time"

	"github.com/satindergrewal/phonoscope/internal/audio"
	"github.com/satindergrewal/phonoscope/internal/logging"
)

var log = logging.L("codec")

// DefaultChunkInterval is how often a recorder hands out a CaptureChunk.
const DefaultChunkInterval = time.Second

// Recorder consumes interleaved samples and emits encoded chunks in capture
// order. Close flushes any buffered audio as a final chunk.
type Recorder interface {
	Write(samples []float32) error
	Close() error
}

// Codec is the container capture/decoding collaborator.
type Codec interface {
	Name() string
	// NewRecorder starts a capture container. emit receives each chunk; the
	// slice is owned by the callee.
	NewRecorder(sampleRate, channels int, emit func(chunk []byte)) (Recorder, error)
	// Decode turns the concatenation of every chunk into a buffer. Empty or
	// corrupt input fails with apperrors.ErrDecodeFailure.
	Decode(data []byte) (audio.Buffer, error)
}

// New returns the codec registered under name ("opus" or "pcm").
func New(name string, bitrate int, chunkInterval time.Duration) (Codec, error) {
	switch strings.ToLower(name) {
	case "", "opus":
		return &Opus{Bitrate: bitrate, ChunkInterval: chunkInterval}, nil
	case "pcm":
		return &PCM{ChunkInterval: chunkInterval}, nil
	default:
		return nil, fmt.Errorf("unknown capture codec %q", name)
	}
}

// chunkFrames converts a chunk interval to a number of 20ms frames.
func chunkFrames(interval time.Duration) int {
	if interval <= 0 {
		interval = DefaultChunkInterval
	}
	n := int(interval / audio.FrameDuration)
	if n < 1 {
		n = 1
	}
	return n
}
