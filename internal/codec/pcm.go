package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/satindergrewal/phonoscope/internal/audio"
)

// pcmMagic starts a raw float capture: magic, sample rate (u32), channels (u16),
// then little-endian float32 interleaved samples.
var pcmMagic = []byte("PHF1")

const pcmHeaderSize = 10

// PCM is a lossless capture container holding raw float32 samples.
type PCM struct {
	ChunkInterval time.Duration
}

func (p *PCM) Name() string { return "pcm" }

func (p *PCM) NewRecorder(sampleRate, channels int, emit func([]byte)) (Recorder, error) {
	if sampleRate <= 0 || channels < 1 {
		return nil, fmt.Errorf("invalid pcm format %d Hz x %d", sampleRate, channels)
	}
	r := &pcmRecorder{
		emit:      emit,
		flushSize: chunkFrames(p.ChunkInterval) * audio.FrameSizeFor(sampleRate) * channels * 4,
	}
	r.out.Write(pcmMagic)
	binary.Write(&r.out, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&r.out, binary.LittleEndian, uint16(channels))
	return r, nil
}

type pcmRecorder struct {
	out       bytes.Buffer
	emit      func([]byte)
	flushSize int
	closed    bool
}

func (r *pcmRecorder) Write(samples []float32) error {
	if r.closed {
		return io.ErrClosedPipe
	}
	var b [4]byte
	for _, s := range samples {
		binary.LittleEndian.PutUint32(b[:], math.Float32bits(s))
		r.out.Write(b[:])
	}
	if r.out.Len() >= r.flushSize {
		r.flush()
	}
	return nil
}

func (r *pcmRecorder) flush() {
	if r.out.Len() == 0 {
		return
	}
	chunk := bytes.Clone(r.out.Bytes())
	r.out.Reset()
	r.emit(chunk)
}

func (r *pcmRecorder) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.flush()
	return nil
}

func (p *PCM) Decode(data []byte) (audio.Buffer, error) {
	if len(data) < pcmHeaderSize || !bytes.Equal(data[:4], pcmMagic) {
		return audio.Buffer{}, decodeError(errors.New("missing pcm header"))
	}
	rate := int(binary.LittleEndian.Uint32(data[4:8]))
	channels := int(binary.LittleEndian.Uint16(data[8:10]))
	body := data[pcmHeaderSize:]
	if rate <= 0 || channels < 1 {
		return audio.Buffer{}, decodeError(fmt.Errorf("invalid pcm format %d Hz x %d", rate, channels))
	}
	if len(body)%(4*channels) != 0 {
		return audio.Buffer{}, decodeError(fmt.Errorf("truncated pcm body of %d bytes", len(body)))
	}

	if len(body) == 0 {
		return audio.Buffer{}, decodeError(errNoAudio)
	}

	samples := make([]float32, len(body)/4)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(body[i*4:]))
	}
	return audio.Deinterleave(samples, rate, channels), nil
}
