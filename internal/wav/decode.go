package wav

import (
	"bytes"
	"errors"
	"fmt"

	goaudio "github.com/go-audio/audio"
	gowav "github.com/go-audio/wav"

	"github.com/satindergrewal/phonoscope/internal/audio"
	apperrors "github.com/satindergrewal/phonoscope/internal/errors"
)

// Decode parses a 16-bit PCM WAV into a float buffer using the inverse of
// Encode's scaling, so Encode(Decode(Encode(b))) reproduces the same bytes.
func Decode(data []byte) (audio.Buffer, error) {
	d := gowav.NewDecoder(bytes.NewReader(data))
	if !d.IsValidFile() {
		return audio.Buffer{}, decodeError(errors.New("not a valid wav file"))
	}
	if d.BitDepth != BitsPerSample || d.WavAudioFormat != formatPCM {
		return audio.Buffer{}, decodeError(fmt.Errorf("unsupported wav format %d, %d bits", d.WavAudioFormat, d.BitDepth))
	}

	pcm, err := d.FullPCMBuffer()
	if err != nil {
		return audio.Buffer{}, decodeError(err)
	}
	return fromIntBuffer(pcm), nil
}

func fromIntBuffer(pcm *goaudio.IntBuffer) audio.Buffer {
	channels := pcm.Format.NumChannels
	frames := len(pcm.Data) / channels
	buf := audio.NewBuffer(pcm.Format.SampleRate, channels, frames)
	for i := 0; i < frames; i++ {
		for c := 0; c < channels; c++ {
			buf.Channels[c][i] = audio.FromInt16(int16(pcm.Data[i*channels+c]))
		}
	}
	return buf
}

func decodeError(err error) error {
	return apperrors.NewStageError("wav", "decode", fmt.Errorf("%w: %v", apperrors.ErrDecodeFailure, err))
}
