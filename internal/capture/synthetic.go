package capture

import (
	"context"
	"io"
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// Synthetic device IDs.
const (
	SyntheticHeart   = "synthetic:heart"
	SyntheticLungs   = "synthetic:lungs"
	SyntheticSilence = "synthetic:silence"
)

// Synthetic generates auscultation-like test signals. It needs no hardware
// and is used for demos and tests.
type Synthetic struct {
	SampleRate int
	Channels   int
	BPM        float64 // heart rate for SyntheticHeart
	Realtime   bool    // pace Read to the wall clock
}

// NewSynthetic returns a realtime synthetic backend at the given rate.
func NewSynthetic(sampleRate, channels int) *Synthetic {
	return &Synthetic{SampleRate: sampleRate, Channels: channels, BPM: 72, Realtime: true}
}

func (s *Synthetic) Devices() ([]Device, error) {
	return labelDevices([]Device{
		{ID: SyntheticHeart, Label: "Synthetic heart sounds"},
		{ID: SyntheticLungs, Label: "Synthetic breath sounds"},
		{ID: SyntheticSilence},
	}), nil
}

func (s *Synthetic) Acquire(ctx context.Context, id string) (Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var gen func(t float64) float64
	rng := rand.New(rand.NewPCG(1, 2))
	switch id {
	case SyntheticHeart:
		gen = heartSound(s.BPM)
	case SyntheticLungs:
		gen = breathSound(rng)
	case SyntheticSilence:
		gen = func(float64) float64 { return 0 }
	default:
		return nil, unknownDevice(id)
	}
	channels := s.Channels
	if channels < 1 {
		channels = 1
	}
	return &synthSource{
		gen:        gen,
		sampleRate: s.SampleRate,
		channels:   channels,
		realtime:   s.Realtime,
		done:       make(chan struct{}),
	}, nil
}

// heartSound produces S1/S2 bursts: a low "lub" at the start of each beat and
// a shorter, higher "dub" about a third of a beat later.
func heartSound(bpm float64) func(t float64) float64 {
	if bpm <= 0 {
		bpm = 72
	}
	period := 60 / bpm
	burst := func(t, freq, dur float64) float64 {
		if t < 0 || t > dur {
			return 0
		}
		env := math.Sin(math.Pi * t / dur)
		return env * env * math.Sin(2*math.Pi*freq*t)
	}
	return func(t float64) float64 {
		p := math.Mod(t, period)
		return 0.8*burst(p, 60, 0.12) + 0.5*burst(p-0.32*period, 110, 0.08)
	}
}

// breathSound is noise shaped by a 4 second breathing cycle.
func breathSound(rng *rand.Rand) func(t float64) float64 {
	var lp float64
	return func(t float64) float64 {
		lp += 0.1 * (rng.Float64()*2 - 1 - lp)
		env := 0.5 + 0.5*math.Sin(2*math.Pi*t/4)
		return 0.6 * env * lp
	}
}

type synthSource struct {
	gen        func(t float64) float64
	sampleRate int
	channels   int
	realtime   bool

	mu      sync.Mutex
	n       int64 // frames generated
	started time.Time

	once sync.Once
	done chan struct{}
}

func (s *synthSource) SampleRate() int { return s.sampleRate }
func (s *synthSource) Channels() int   { return s.channels }

func (s *synthSource) Read(dst []float32) (int, error) {
	select {
	case <-s.done:
		return 0, io.EOF
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	frames := len(dst) / s.channels
	if s.realtime {
		if s.started.IsZero() {
			s.started = time.Now()
		}
		due := s.started.Add(time.Duration(s.n+int64(frames)) * time.Second / time.Duration(s.sampleRate))
		select {
		case <-s.done:
			return 0, io.EOF
		case <-time.After(time.Until(due)):
		}
	}

	for i := 0; i < frames; i++ {
		v := float32(s.gen(float64(s.n) / float64(s.sampleRate)))
		for c := 0; c < s.channels; c++ {
			dst[i*s.channels+c] = v
		}
		s.n++
	}
	return frames * s.channels, nil
}

func (s *synthSource) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}
