// Package wav writes and reads canonical 44-byte-header PCM WAV files.
//
// Encoding is 16-bit little-endian PCM. Each float sample is clamped to
// [-1,1], scaled by 32767 when positive and 32768 when negative, and rounded
// half away from zero, so full scale maps to 32767 / -32768 exactly.
package wav

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/satindergrewal/phonoscope/internal/audio"
	apperrors "github.com/satindergrewal/phonoscope/internal/errors"
)

const (
	HeaderSize    = 44
	BitsPerSample = 16
	formatPCM     = 1
	fmtChunkSize  = 16
)

// File is an encoded WAV. Its bytes are never modified after Encode returns,
// so a File may be shared freely between readers.
type File struct {
	data []byte
}

// Bytes returns the encoded file. Callers must not modify the slice.
func (f File) Bytes() []byte { return f.data }

// Len returns the file size in bytes.
func (f File) Len() int { return len(f.data) }

// Reader returns a fresh reader over the file.
func (f File) Reader() *bytes.Reader { return bytes.NewReader(f.data) }

// WriteTo writes the file to w.
func (f File) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(f.data)
	return int64(n), err
}

// Encode converts buf into a WAV file. The output is a pure function of buf.
func Encode(buf audio.Buffer) (File, error) {
	if err := buf.Validate(); err != nil {
		return File{}, apperrors.NewStageError("wav", "encode", fmt.Errorf("%w: %v", apperrors.ErrEncodeFailure, err))
	}

	channels := buf.NumChannels()
	frames := buf.FrameCount()
	dataSize := frames * channels * 2
	if uint64(dataSize)+HeaderSize-8 > 0xFFFFFFFF {
		return File{}, apperrors.NewStageError("wav", "encode", fmt.Errorf("%w: %d bytes exceeds RIFF size limit", apperrors.ErrEncodeFailure, dataSize))
	}

	out := make([]byte, HeaderSize+dataSize)
	putHeader(out, buf.SampleRate, channels, dataSize)

	off := HeaderSize
	for i := 0; i < frames; i++ {
		for c := 0; c < channels; c++ {
			binary.LittleEndian.PutUint16(out[off:], uint16(audio.ToInt16(buf.Channels[c][i])))
			off += 2
		}
	}
	return File{data: out}, nil
}

func putHeader(b []byte, sampleRate, channels, dataSize int) {
	le := binary.LittleEndian
	blockAlign := channels * BitsPerSample / 8

	copy(b[0:4], "RIFF")
	le.PutUint32(b[4:8], uint32(HeaderSize-8+dataSize))
	copy(b[8:12], "WAVE")

	copy(b[12:16], "fmt ")
	le.PutUint32(b[16:20], fmtChunkSize)
	le.PutUint16(b[20:22], formatPCM)
	le.PutUint16(b[22:24], uint16(channels))
	le.PutUint32(b[24:28], uint32(sampleRate))
	le.PutUint32(b[28:32], uint32(sampleRate*blockAlign))
	le.PutUint16(b[32:34], uint16(blockAlign))
	le.PutUint16(b[34:36], BitsPerSample)

	copy(b[36:40], "data")
	le.PutUint32(b[40:44], uint32(dataSize))
}
