// Package signalpath wires a capture source through the pre-filter, the
// analysis tap and a silent sink.
package signalpath

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/satindergrewal/phonoscope/internal/audio"
	"github.com/satindergrewal/phonoscope/internal/capture"
	apperrors "github.com/satindergrewal/phonoscope/internal/errors"
	"github.com/satindergrewal/phonoscope/internal/filter"
	"github.com/satindergrewal/phonoscope/internal/logging"
)

var log = logging.L("signalpath")

const DefaultWindowSize = 4096

// Stage is one node of the linear chain.
type Stage interface {
	Name() string
	Process(block []float32)
	Close() error
}

// Options configures Build. A zero WindowSize or BlockSize takes the default.
type Options struct {
	WindowSize int     // analysis window, power of two
	Smoothing  float64 // tap energy smoothing in [0,1); zero disables it
	BlockSize  int     // samples per channel per source read
	Monitor    func(block []float32)
}

func (o Options) withDefaults() Options {
	if o.WindowSize == 0 {
		o.WindowSize = DefaultWindowSize
	}
	if o.BlockSize == 0 {
		o.BlockSize = audio.FrameSize
	}
	return o
}

// Path is the ordered chain source -> filter -> tap -> sink. The source is
// owned by the path from Build onwards.
type Path struct {
	src    capture.Source
	stages []Stage
	tap    *Tap
	block  []float32

	closeOnce sync.Once
	closeErr  error
}

// Build constructs the chain. On failure every stage created so far and the
// source itself are released.
func Build(src capture.Source, cfg filter.Config, opts Options) (p *Path, err error) {
	if src == nil {
		return nil, apperrors.NewStageError("capture", "build", apperrors.ErrDeviceUnavailable)
	}
	opts = opts.withDefaults()

	p = &Path{src: src}
	defer func() {
		if err != nil {
			p.Close()
			p = nil
		}
	}()

	if n := opts.WindowSize; n <= 0 || n&(n-1) != 0 {
		return p, apperrors.NewStageError("tap", "build", fmt.Errorf("window size %d is not a power of two", n))
	}
	if opts.Smoothing < 0 || opts.Smoothing >= 1 {
		return p, apperrors.NewStageError("tap", "build", fmt.Errorf("smoothing %v outside [0,1)", opts.Smoothing))
	}
	rate, channels := src.SampleRate(), src.Channels()
	if rate <= 0 || channels <= 0 {
		return p, apperrors.NewStageError("capture", "build",
			fmt.Errorf("%w: source reports %d Hz, %d channels", apperrors.ErrDeviceUnavailable, rate, channels))
	}

	p.tap = NewTap(opts.WindowSize, channels, opts.Smoothing)
	p.stages = []Stage{
		&filterStage{Stage: filter.NewStage(cfg, rate, channels), kind: cfg.Kind},
		p.tap,
		&Sink{Monitor: opts.Monitor},
	}
	p.block = make([]float32, opts.BlockSize*channels)

	log.Debug("path built", logging.KeyFilter, cfg.Mode.String(), "window", opts.WindowSize, "rate", rate, "channels", channels)
	return p, nil
}

// Tap returns the analysis tap.
func (p *Path) Tap() *Tap { return p.tap }

// SampleRate and Channels describe the source feeding the path.
func (p *Path) SampleRate() int { return p.src.SampleRate() }
func (p *Path) Channels() int   { return p.src.Channels() }

// Stages returns the stage names in signal order, starting with the source.
func (p *Path) Stages() []string {
	names := []string{"capture"}
	for _, s := range p.stages {
		names = append(names, s.Name())
	}
	return names
}

// Run pumps the source until ctx is cancelled or the source ends. Each block
// is handed unfiltered to raw (which must not retain it) and then pushed
// through the stages in order.
func (p *Path) Run(ctx context.Context, raw func(block []float32)) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		n, err := p.src.Read(p.block)
		if n > 0 {
			blk := p.block[:n]
			if raw != nil {
				raw(blk)
			}
			for _, s := range p.stages {
				s.Process(blk)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return apperrors.NewStageError("capture", "read", err)
		}
	}
}

// Close releases the stages in reverse order and then the source. It is
// idempotent and safe on a partially built path.
func (p *Path) Close() error {
	p.closeOnce.Do(func() {
		for i := len(p.stages) - 1; i >= 0; i-- {
			if err := p.stages[i].Close(); err != nil && p.closeErr == nil {
				p.closeErr = apperrors.NewStageError(p.stages[i].Name(), "close", err)
			}
		}
		if err := p.src.Close(); err != nil && p.closeErr == nil {
			p.closeErr = apperrors.NewStageError("capture", "close", err)
		}
	})
	return p.closeErr
}

type filterStage struct {
	filter.Stage
	kind filter.Kind
}

func (f *filterStage) Name() string { return "filter:" + f.kind.String() }

// Close leaves the delay lines alone: Close may race a final Process call
// while the source is being released.
func (f *filterStage) Close() error { return nil }

// Sink terminates the chain. It produces no sound; when Monitor is set it
// receives a copy of each filtered block.
type Sink struct {
	Monitor func(block []float32)
	scratch []float32
}

func (s *Sink) Name() string { return "sink" }

func (s *Sink) Process(block []float32) {
	if s.Monitor == nil {
		return
	}
	s.scratch = append(s.scratch[:0], block...)
	s.Monitor(s.scratch)
}

func (s *Sink) Close() error { return nil }
