package filter

import "math"

// Stage processes interleaved float32 blocks in place.
type Stage interface {
	Process(block []float32)
	Reset()
}

// NewStage builds the filter stage for cfg: a bandpass biquad, or a unity
// gain stage for PassThrough.
func NewStage(cfg Config, sampleRate, channels int) Stage {
	if cfg.Kind != Bandpass {
		return &Gain{Gain: 1}
	}
	b := NewBiquad(channels)
	b.SetBandpass(float64(sampleRate), cfg.CenterFrequencyHz, cfg.ResonanceQ)
	return b
}

// Gain scales every sample by a constant. A gain of 1 is a pure pass-through.
type Gain struct {
	Gain float32
}

func (g *Gain) Process(block []float32) {
	if g.Gain == 1 {
		return
	}
	for i := range block {
		block[i] *= g.Gain
	}
}

func (g *Gain) Reset() {}

// Biquad is a second-order IIR section in Direct Form I with per-channel state.
type Biquad struct {
	b0, b1, b2 float64
	a1, a2     float64 // normalized by a0

	channels int
	x1, x2   []float64
	y1, y2   []float64
}

// NewBiquad creates an identity biquad for the given channel count.
func NewBiquad(channels int) *Biquad {
	if channels < 1 {
		channels = 1
	}
	return &Biquad{
		b0:       1,
		channels: channels,
		x1:       make([]float64, channels),
		x2:       make([]float64, channels),
		y1:       make([]float64, channels),
		y2:       make([]float64, channels),
	}
}

// SetCoefficients sets raw coefficients, normalizing by a0.
func (b *Biquad) SetCoefficients(b0, b1, b2, a0, a1, a2 float64) {
	inv := 1 / a0
	b.b0 = b0 * inv
	b.b1 = b1 * inv
	b.b2 = b2 * inv
	b.a1 = a1 * inv
	b.a2 = a2 * inv
}

// SetBandpass configures a constant 0 dB peak gain bandpass centred on
// frequency with the given Q.
func (b *Biquad) SetBandpass(sampleRate, frequency, q float64) {
	w0 := 2 * math.Pi * frequency / sampleRate
	alpha := math.Sin(w0) / (2 * q)
	cosw := math.Cos(w0)

	b.SetCoefficients(alpha, 0, -alpha, 1+alpha, -2*cosw, 1-alpha)
}

// Process filters an interleaved block in place.
func (b *Biquad) Process(block []float32) {
	ch := 0
	for i, v := range block {
		x0 := float64(v)
		y0 := b.b0*x0 + b.b1*b.x1[ch] + b.b2*b.x2[ch] - b.a1*b.y1[ch] - b.a2*b.y2[ch]

		b.x2[ch] = b.x1[ch]
		b.x1[ch] = x0
		b.y2[ch] = b.y1[ch]
		b.y1[ch] = y0

		block[i] = float32(y0)
		ch++
		if ch == b.channels {
			ch = 0
		}
	}
}

// Reset clears the delay lines.
func (b *Biquad) Reset() {
	for c := 0; c < b.channels; c++ {
		b.x1[c], b.x2[c], b.y1[c], b.y2[c] = 0, 0, 0, 0
	}
}

// Response returns the magnitude response at frequency.
func (b *Biquad) Response(sampleRate, frequency float64) float64 {
	w := 2 * math.Pi * frequency / sampleRate
	// H(e^jw) = (b0 + b1 e^-jw + b2 e^-2jw) / (1 + a1 e^-jw + a2 e^-2jw)
	numRe := b.b0 + b.b1*math.Cos(w) + b.b2*math.Cos(2*w)
	numIm := -b.b1*math.Sin(w) - b.b2*math.Sin(2*w)
	denRe := 1 + b.a1*math.Cos(w) + b.a2*math.Cos(2*w)
	denIm := -b.a1*math.Sin(w) - b.a2*math.Sin(2*w)
	return math.Hypot(numRe, numIm) / math.Hypot(denRe, denIm)
}
