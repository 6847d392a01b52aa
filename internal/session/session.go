// Package session orchestrates one capture/download cycle: device
// acquisition, the live signal path and trace, chunked capture and the final
// WAV encode.
package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/satindergrewal/phonoscope/internal/audio"
	"github.com/satindergrewal/phonoscope/internal/capture"
	"github.com/satindergrewal/phonoscope/internal/codec"
	apperrors "github.com/satindergrewal/phonoscope/internal/errors"
	"github.com/satindergrewal/phonoscope/internal/filter"
	"github.com/satindergrewal/phonoscope/internal/logging"
	"github.com/satindergrewal/phonoscope/internal/render"
	"github.com/satindergrewal/phonoscope/internal/signalpath"
	"github.com/satindergrewal/phonoscope/internal/wav"
)

var log = logging.L("session")

// State is the recording lifecycle state.
type State int

const (
	Idle State = iota
	Starting
	Recording
	Stopping
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Recording:
		return "recording"
	case Stopping:
		return "stopping"
	default:
		return "idle"
	}
}

// Options configures the pieces a session builds on every Start.
type Options struct {
	Path       signalpath.Options
	CanvasSize render.Size
}

// Status is a point-in-time view for controllers.
type Status struct {
	State       string        `json:"state"`
	Filter      string        `json:"filter"`
	Device      string        `json:"device,omitempty"`
	Elapsed     time.Duration `json:"elapsed_ns"`
	Chunks      int           `json:"chunks"`
	Level       float64       `json:"level"`
	OutputBytes int           `json:"output_bytes"`
	LastError   string        `json:"last_error,omitempty"`
}

// Session is the recording state machine. At most one recording is active
// per Session; it is safe for concurrent use.
type Session struct {
	acquirer capture.Acquirer
	codec    codec.Codec
	renderer *render.Renderer
	opts     Options

	mu        sync.Mutex
	state     State
	mode      filter.Mode
	active    filter.Config
	device    string
	startedAt time.Time
	path      *signalpath.Path
	rec       codec.Recorder
	trace     *render.Handle
	cancel    context.CancelFunc
	pumpDone  chan error
	output    *wav.File
	lastErr   error
	finalized chan struct{}

	chunkMu  sync.Mutex
	chunks   [][]byte
	writeErr error
}

// New creates an idle session. renderer may be nil for headless capture.
func New(acq capture.Acquirer, c codec.Codec, renderer *render.Renderer, opts Options) *Session {
	done := make(chan struct{})
	close(done)
	return &Session{
		acquirer:  acq,
		codec:     c,
		renderer:  renderer,
		opts:      opts,
		finalized: done,
	}
}

// ConfigureFilter selects the pre-filter for the next recording. Unknown
// modes resolve to no filtering. A recording already in progress keeps the
// configuration it started with.
func (s *Session) ConfigureFilter(mode string) filter.Config {
	m := filter.ParseMode(mode)
	s.mu.Lock()
	s.mode = m
	s.mu.Unlock()
	return filter.Select(m)
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Output returns the most recently published WAV, if any.
func (s *Session) Output() (wav.File, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.output == nil {
		return wav.File{}, false
	}
	return *s.output, true
}

// Status reports the session for display.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		State:  s.state.String(),
		Filter: s.mode.String(),
		Device: s.device,
	}
	if s.state == Recording || s.state == Stopping {
		st.Filter = s.active.Mode.String()
		st.Elapsed = time.Since(s.startedAt)
	}
	if s.path != nil {
		st.Level = s.path.Tap().Level()
	}
	if s.output != nil {
		st.OutputBytes = s.output.Len()
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	s.chunkMu.Lock()
	st.Chunks = len(s.chunks)
	s.chunkMu.Unlock()
	return st
}

// Start acquires the device, builds the signal path, begins chunked capture
// and starts the trace. It blocks only while the device is being acquired.
func (s *Session) Start(ctx context.Context, deviceID string) error {
	s.mu.Lock()
	if s.state != Idle {
		s.mu.Unlock()
		return apperrors.ErrSessionActive
	}
	if deviceID == "" {
		s.lastErr = apperrors.ErrNoDeviceSelected
		s.mu.Unlock()
		return apperrors.ErrNoDeviceSelected
	}
	s.state = Starting
	cfg := filter.Select(s.mode)
	s.mu.Unlock()

	if err := s.start(ctx, deviceID, cfg); err != nil {
		s.mu.Lock()
		s.state = Idle
		s.lastErr = err
		s.mu.Unlock()
		log.Warn("start failed", logging.KeyDevice, deviceID, logging.KeyError, err)
		return err
	}
	return nil
}

func (s *Session) start(ctx context.Context, deviceID string, cfg filter.Config) error {
	src, err := s.acquirer.Acquire(ctx, deviceID)
	if err != nil {
		if !apperrors.IsDeviceError(err) {
			err = fmt.Errorf("%w: %v", apperrors.ErrDeviceUnavailable, err)
		}
		return err
	}

	path, err := signalpath.Build(src, cfg, s.opts.Path)
	if err != nil {
		return err
	}

	s.chunkMu.Lock()
	s.chunks = nil
	s.writeErr = nil
	s.chunkMu.Unlock()

	rec, err := s.codec.NewRecorder(path.SampleRate(), path.Channels(), s.appendChunk)
	if err != nil {
		path.Close()
		return err
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- path.Run(pumpCtx, func(block []float32) {
			if err := rec.Write(block); err != nil {
				s.setWriteErr(err)
			}
		})
	}()

	var trace *render.Handle
	if s.renderer != nil {
		trace = s.renderer.Start(path.Tap(), s.opts.CanvasSize)
	}

	s.mu.Lock()
	s.state = Recording
	s.device = deviceID
	s.active = cfg
	s.startedAt = time.Now()
	s.path = path
	s.rec = rec
	s.trace = trace
	s.cancel = cancel
	s.pumpDone = done
	s.output = nil
	s.lastErr = nil
	s.mu.Unlock()

	log.Info("recording started", logging.KeyDevice, deviceID, logging.KeyFilter, cfg.Mode.String(),
		"stages", path.Stages(), "codec", s.codec.Name())
	return nil
}

func (s *Session) appendChunk(chunk []byte) {
	s.chunkMu.Lock()
	s.chunks = append(s.chunks, chunk)
	s.chunkMu.Unlock()
}

func (s *Session) setWriteErr(err error) {
	s.chunkMu.Lock()
	if s.writeErr == nil {
		s.writeErr = err
	}
	s.chunkMu.Unlock()
}

// Stop halts capture and releases the device immediately, then decodes the
// capture and encodes the WAV. It returns when finalize completes or ctx is
// done; in the latter case finalize carries on and Wait can be used.
// Stop outside Recording returns ErrNotRecording and changes nothing.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state != Recording {
		s.mu.Unlock()
		return apperrors.ErrNotRecording
	}
	s.state = Stopping
	path, rec, trace, cancel, pumpDone := s.path, s.rec, s.trace, s.cancel, s.pumpDone
	finalized := make(chan struct{})
	s.finalized = finalized
	s.mu.Unlock()

	trace.Stop()
	cancel()
	if err := path.Close(); err != nil {
		log.Warn("signal path close", logging.KeyError, err)
	}
	if err := <-pumpDone; err != nil {
		log.Warn("capture ended with error", logging.KeyError, err)
	}
	if err := rec.Close(); err != nil {
		s.setWriteErr(err)
	}
	log.Info("device released", logging.KeyDevice, s.deviceID())

	result := make(chan error, 1)
	go func() {
		defer close(finalized)
		result <- s.finalize()
	}()

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) deviceID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.device
}

// finalize concatenates the chunks in capture order, decodes, encodes and
// publishes. The state always returns to Idle.
func (s *Session) finalize() error {
	start := time.Now()

	s.chunkMu.Lock()
	data := bytes.Join(s.chunks, nil)
	nchunks := len(s.chunks)
	writeErr := s.writeErr
	s.chunkMu.Unlock()

	var (
		out *wav.File
		buf audio.Buffer
		err error
	)
	if writeErr != nil {
		// A gap in the capture would be encoded silently; fail the stop instead.
		err = fmt.Errorf("capture incomplete: %w", writeErr)
	} else {
		buf, err = s.codec.Decode(data)
	}
	if err == nil {
		var f wav.File
		f, err = wav.Encode(buf)
		if err != nil {
			log.Error("wav encode of a decoded capture failed", logging.KeyError, err)
		} else {
			out = &f
		}
	}

	s.mu.Lock()
	s.state = Idle
	s.path = nil
	s.rec = nil
	s.trace = nil
	s.cancel = nil
	s.pumpDone = nil
	s.output = out
	s.lastErr = err
	s.mu.Unlock()

	if err != nil {
		log.Warn("finalize failed", "chunks", nchunks, logging.KeyError, err)
		return err
	}
	log.Info("recording finalized", "chunks", nchunks, "frames", buf.FrameCount(),
		"duration", buf.Duration(), "bytes", out.Len(), "took", time.Since(start))
	return nil
}

// Wait blocks until any in-flight finalize has finished.
func (s *Session) Wait(ctx context.Context) error {
	s.mu.Lock()
	finalized := s.finalized
	s.mu.Unlock()
	select {
	case <-finalized:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops an active recording, if any, and waits for finalize.
func (s *Session) Shutdown(ctx context.Context) error {
	err := s.Stop(ctx)
	if errors.Is(err, apperrors.ErrNotRecording) {
		return s.Wait(ctx)
	}
	return err
}
