package codec

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"gopkg.in/hraban/opus.v2"

	"github.com/satindergrewal/phonoscope/internal/audio"
	apperrors "github.com/satindergrewal/phonoscope/internal/errors"
)

const (
	opusPayloadType = 111
	// RTP clock for Opus is always 48kHz regardless of the input rate.
	opusTimestampStep = 48000 / 50
	maxPacketBytes    = 4000
	maxFrameSamples   = 5760 // 120ms at 48kHz, the largest Opus frame
)

var opusTags = []byte("OpusTags")

// Opus records into an Ogg Opus stream with one 20ms packet per page.
type Opus struct {
	Bitrate       int // bits per second, 0 = encoder default
	ChunkInterval time.Duration
}

func (o *Opus) Name() string { return "opus" }

func (o *Opus) NewRecorder(sampleRate, channels int, emit func([]byte)) (Recorder, error) {
	if channels < 1 || channels > 2 {
		return nil, apperrors.NewStageError("codec", "open", fmt.Errorf("opus supports 1 or 2 channels, got %d", channels))
	}
	enc, err := opus.NewEncoder(sampleRate, channels, opus.AppAudio)
	if err != nil {
		return nil, apperrors.NewStageError("codec", "open", err)
	}
	if o.Bitrate > 0 {
		if err := enc.SetBitrate(o.Bitrate); err != nil {
			return nil, apperrors.NewStageError("codec", "open", err)
		}
	}

	r := &opusRecorder{
		enc:         enc,
		emit:        emit,
		packet:      make([]byte, maxPacketBytes),
		chunkFrames: chunkFrames(o.ChunkInterval),
	}
	r.ogg, err = oggwriter.NewWith(&r.out, uint32(sampleRate), uint16(channels))
	if err != nil {
		return nil, apperrors.NewStageError("codec", "open", err)
	}
	r.framer = audio.NewFramer(audio.FrameSizeFor(sampleRate), channels, r.encodeFrame)
	log.Debug("opus recorder opened", "rate", sampleRate, "channels", channels, "bitrate", o.Bitrate)
	return r, nil
}

type opusRecorder struct {
	enc    *opus.Encoder
	ogg    *oggwriter.OggWriter
	out    bytes.Buffer
	framer *audio.Framer
	packet []byte
	emit   func([]byte)

	seq         uint16
	ts          uint32
	frames      int // since the last chunk
	chunkFrames int
	err         error
	closed      bool
}

func (r *opusRecorder) encodeFrame(frame []float32) {
	if r.err != nil {
		return
	}
	n, err := r.enc.EncodeFloat32(frame, r.packet)
	if err != nil {
		r.err = apperrors.NewStageError("codec", "encode", err)
		return
	}
	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    opusPayloadType,
			SequenceNumber: r.seq,
			Timestamp:      r.ts,
		},
		Payload: r.packet[:n],
	}
	r.seq++
	r.ts += opusTimestampStep
	if err := r.ogg.WriteRTP(pkt); err != nil {
		r.err = apperrors.NewStageError("codec", "mux", err)
		return
	}
	r.frames++
	if r.frames >= r.chunkFrames {
		r.flushChunk()
	}
}

func (r *opusRecorder) flushChunk() {
	r.frames = 0
	if r.out.Len() == 0 {
		return
	}
	chunk := bytes.Clone(r.out.Bytes())
	r.out.Reset()
	r.emit(chunk)
}

func (r *opusRecorder) Write(samples []float32) error {
	if r.closed {
		return io.ErrClosedPipe
	}
	r.framer.Write(samples)
	return r.err
}

func (r *opusRecorder) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.framer.Flush()
	r.flushChunk()
	if err := r.ogg.Close(); err != nil && r.err == nil {
		r.err = apperrors.NewStageError("codec", "close", err)
	}
	return r.err
}

// Decode parses the Ogg Opus stream and decodes every packet.
func (o *Opus) Decode(data []byte) (audio.Buffer, error) {
	if len(data) == 0 {
		return audio.Buffer{}, decodeError(errors.New("empty capture"))
	}
	reader, header, err := oggreader.NewWith(bytes.NewReader(data))
	if err != nil {
		return audio.Buffer{}, decodeError(err)
	}
	rate, channels := int(header.SampleRate), int(header.Channels)
	if channels < 1 || channels > 2 {
		return audio.Buffer{}, decodeError(fmt.Errorf("invalid channel count %d", channels))
	}
	dec, err := opus.NewDecoder(rate, channels)
	if err != nil {
		return audio.Buffer{}, decodeError(err)
	}

	pcm := make([]float32, maxFrameSamples*channels)
	var interleaved []float32
	for {
		payload, _, err := reader.ParseNextPage()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return audio.Buffer{}, decodeError(err)
		}
		if bytes.HasPrefix(payload, opusTags) || len(payload) == 0 {
			continue
		}
		n, err := dec.DecodeFloat32(payload, pcm)
		if err != nil {
			return audio.Buffer{}, decodeError(err)
		}
		interleaved = append(interleaved, pcm[:n*channels]...)
	}

	if len(interleaved) == 0 {
		return audio.Buffer{}, decodeError(errNoAudio)
	}

	buf := audio.Deinterleave(interleaved, rate, channels)
	log.Debug("opus capture decoded", "frames", buf.FrameCount(), "rate", rate, "channels", channels)
	return buf, nil
}

var errNoAudio = errors.New("capture holds no audio")

func decodeError(err error) error {
	return apperrors.NewStageError("codec", "decode", fmt.Errorf("%w: %v", apperrors.ErrDecodeFailure, err))
}
