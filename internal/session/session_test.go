package session

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/satindergrewal/phonoscope/internal/audio"
	"github.com/satindergrewal/phonoscope/internal/capture"
	"github.com/satindergrewal/phonoscope/internal/codec"
	apperrors "github.com/satindergrewal/phonoscope/internal/errors"
	"github.com/satindergrewal/phonoscope/internal/render"
	"github.com/satindergrewal/phonoscope/internal/signalpath"
	"github.com/satindergrewal/phonoscope/internal/wav"
)

// fakeSource replays data once and then reports io.EOF.
type fakeSource struct {
	rate, channels int

	mu     sync.Mutex
	data   []float32
	closes int
}

func (f *fakeSource) SampleRate() int { return f.rate }
func (f *fakeSource) Channels() int   { return f.channels }

func (f *fakeSource) Read(buf []float32) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closes > 0 || len(f.data) == 0 {
		return 0, io.EOF
	}
	n := copy(buf, f.data)
	f.data = f.data[n:]
	return n, nil
}

func (f *fakeSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeSource) closed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

type fakeAcquirer struct {
	err     error
	sources []*fakeSource
	data    []float32
	calls   int
}

func (a *fakeAcquirer) Acquire(ctx context.Context, id string) (capture.Source, error) {
	a.calls++
	if a.err != nil {
		return nil, a.err
	}
	src := &fakeSource{rate: 8000, channels: 1, data: append([]float32(nil), a.data...)}
	a.sources = append(a.sources, src)
	return src, nil
}

// gatedCodec holds Decode until release is closed.
type gatedCodec struct {
	codec.PCM
	release chan struct{}
	err     error
}

func (g *gatedCodec) Decode(data []byte) (audio.Buffer, error) {
	<-g.release
	if g.err != nil {
		return audio.Buffer{}, g.err
	}
	return g.PCM.Decode(data)
}

func ramp(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(i%200)/100 - 1
	}
	return out
}

func newTestSession(acq capture.Acquirer, c codec.Codec) *Session {
	return New(acq, c, nil, Options{Path: signalpath.Options{WindowSize: 256, BlockSize: 80}})
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}

// --- Lifecycle ---

func TestRecordProducesWav(t *testing.T) {
	data := ramp(1000)
	acq := &fakeAcquirer{data: data}
	s := newTestSession(acq, &codec.PCM{ChunkInterval: 20 * time.Millisecond})

	if err := s.Start(context.Background(), "mic"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := s.State(); got != Recording {
		t.Fatalf("State = %v, want recording", got)
	}
	if got := s.Status().Device; got != "mic" {
		t.Errorf("Status.Device = %q, want mic", got)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := s.State(); got != Idle {
		t.Errorf("State after Stop = %v, want idle", got)
	}

	f, ok := s.Output()
	if !ok {
		t.Fatal("no output published")
	}
	if f.Len() != wav.HeaderSize+2*len(data) {
		t.Fatalf("Len = %d, want %d", f.Len(), wav.HeaderSize+2*len(data))
	}
	b := f.Bytes()
	if rate := binary.LittleEndian.Uint32(b[24:28]); rate != 8000 {
		t.Errorf("sample rate = %d, want 8000", rate)
	}
	for i, v := range data {
		got := int16(binary.LittleEndian.Uint16(b[wav.HeaderSize+2*i:]))
		if want := audio.ToInt16(v); got != want {
			t.Fatalf("sample %d = %d, want %d", i, got, want)
		}
	}
	if n := acq.sources[0].closed(); n != 1 {
		t.Errorf("source closed %d times, want 1", n)
	}
}

func TestEmptyCaptureFailsStop(t *testing.T) {
	acq := &fakeAcquirer{}
	s := newTestSession(acq, &codec.PCM{})
	if err := s.Start(context.Background(), "mic"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	err := s.Stop(context.Background())
	if !errors.Is(err, apperrors.ErrDecodeFailure) {
		t.Fatalf("Stop err = %v, want ErrDecodeFailure", err)
	}
	if s.State() != Idle {
		t.Errorf("State = %v, want idle", s.State())
	}
	if _, ok := s.Output(); ok {
		t.Error("empty capture published a recording")
	}
	if n := acq.sources[0].closed(); n != 1 {
		t.Errorf("source closed %d times, want 1", n)
	}
}

// failingCodec stores chunks like PCM but every Write fails.
type failingCodec struct {
	codec.PCM
}

type failingRecorder struct {
	codec.Recorder
}

func (failingRecorder) Write([]float32) error { return errors.New("encoder stalled") }

func (f *failingCodec) NewRecorder(rate, channels int, emit func([]byte)) (codec.Recorder, error) {
	rec, err := f.PCM.NewRecorder(rate, channels, emit)
	if err != nil {
		return nil, err
	}
	return failingRecorder{rec}, nil
}

func TestRecorderErrorFailsStop(t *testing.T) {
	s := newTestSession(&fakeAcquirer{data: ramp(500)}, &failingCodec{})
	if err := s.Start(context.Background(), "mic"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	err := s.Stop(context.Background())
	if err == nil || !strings.Contains(err.Error(), "encoder stalled") {
		t.Fatalf("Stop err = %v, want the recorder error", err)
	}
	if _, ok := s.Output(); ok {
		t.Error("incomplete capture published a recording")
	}
	st := s.Status()
	if st.State != "idle" || !strings.Contains(st.LastError, "encoder stalled") {
		t.Errorf("Status = %+v, want idle with the recorder error", st)
	}
}

func TestSecondRecordingReplacesOutput(t *testing.T) {
	acq := &fakeAcquirer{data: ramp(100)}
	s := newTestSession(acq, &codec.PCM{})
	for i := 0; i < 2; i++ {
		if err := s.Start(context.Background(), "mic"); err != nil {
			t.Fatalf("Start %d: %v", i, err)
		}
		if _, ok := s.Output(); ok {
			t.Errorf("output still published during recording %d", i)
		}
		if err := s.Stop(context.Background()); err != nil {
			t.Fatalf("Stop %d: %v", i, err)
		}
	}
	if acq.calls != 2 {
		t.Errorf("Acquire calls = %d, want 2", acq.calls)
	}
}

// --- Rejections ---

func TestStartWithoutDevice(t *testing.T) {
	acq := &fakeAcquirer{}
	s := newTestSession(acq, &codec.PCM{})
	err := s.Start(context.Background(), "")
	if !errors.Is(err, apperrors.ErrNoDeviceSelected) {
		t.Fatalf("err = %v, want ErrNoDeviceSelected", err)
	}
	if s.State() != Idle {
		t.Errorf("State = %v, want idle", s.State())
	}
	if acq.calls != 0 {
		t.Errorf("Acquire called %d times", acq.calls)
	}
}

func TestStartWhileRecording(t *testing.T) {
	acq := &fakeAcquirer{}
	s := newTestSession(acq, &codec.PCM{})
	if err := s.Start(context.Background(), "mic"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop(context.Background())

	if err := s.Start(context.Background(), "mic"); !errors.Is(err, apperrors.ErrSessionActive) {
		t.Errorf("second Start err = %v, want ErrSessionActive", err)
	}
	if s.State() != Recording {
		t.Errorf("State = %v, want recording", s.State())
	}
	if acq.calls != 1 {
		t.Errorf("Acquire calls = %d, want 1", acq.calls)
	}
}

func TestStopWhenIdle(t *testing.T) {
	s := newTestSession(&fakeAcquirer{}, &codec.PCM{})
	if err := s.Stop(context.Background()); !errors.Is(err, apperrors.ErrNotRecording) {
		t.Errorf("err = %v, want ErrNotRecording", err)
	}
	if s.State() != Idle {
		t.Errorf("State = %v, want idle", s.State())
	}
	if _, ok := s.Output(); ok {
		t.Error("Stop on idle published output")
	}
}

func TestAcquireFailureReturnsToIdle(t *testing.T) {
	for _, want := range []error{apperrors.ErrPermissionDenied, apperrors.ErrDeviceUnavailable} {
		s := newTestSession(&fakeAcquirer{err: want}, &codec.PCM{})
		err := s.Start(context.Background(), "mic")
		if !errors.Is(err, want) {
			t.Errorf("err = %v, want %v", err, want)
		}
		if s.State() != Idle {
			t.Errorf("State = %v, want idle", s.State())
		}
		st := s.Status()
		if st.LastError == "" {
			t.Error("Status.LastError empty after failure")
		}
		if st.Device != "" {
			t.Errorf("Status.Device = %q after failed start, want empty", st.Device)
		}
	}
}

func TestUnclassifiedAcquireErrorIsDeviceError(t *testing.T) {
	s := newTestSession(&fakeAcquirer{err: errors.New("boom")}, &codec.PCM{})
	err := s.Start(context.Background(), "mic")
	if !apperrors.IsDeviceError(err) {
		t.Errorf("err = %v, want a device error", err)
	}
}

func TestBuildFailureReleasesSource(t *testing.T) {
	acq := &fakeAcquirer{}
	s := New(acq, &codec.PCM{}, nil, Options{Path: signalpath.Options{WindowSize: 100}})
	if err := s.Start(context.Background(), "mic"); err == nil {
		t.Fatal("Start succeeded with a bad window size")
	}
	if s.State() != Idle {
		t.Errorf("State = %v, want idle", s.State())
	}
	if n := acq.sources[0].closed(); n != 1 {
		t.Errorf("source closed %d times, want 1", n)
	}
}

// --- Stopping ---

func TestDeviceReleasedBeforeFinalize(t *testing.T) {
	acq := &fakeAcquirer{data: ramp(500)}
	gc := &gatedCodec{release: make(chan struct{})}
	s := newTestSession(acq, gc)
	if err := s.Start(context.Background(), "mic"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- s.Stop(context.Background()) }()

	waitFor(t, func() bool { return acq.sources[0].closed() > 0 })
	if got := s.State(); got != Stopping {
		t.Errorf("State while finalizing = %v, want stopping", got)
	}
	if err := s.Start(context.Background(), "mic"); !errors.Is(err, apperrors.ErrSessionActive) {
		t.Errorf("Start while stopping err = %v, want ErrSessionActive", err)
	}
	if err := s.Stop(context.Background()); !errors.Is(err, apperrors.ErrNotRecording) {
		t.Errorf("Stop while stopping err = %v, want ErrNotRecording", err)
	}

	close(gc.release)
	if err := <-done; err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if s.State() != Idle {
		t.Errorf("State = %v, want idle", s.State())
	}
}

func TestFinalizeFailure(t *testing.T) {
	acq := &fakeAcquirer{data: ramp(100)}
	gc := &gatedCodec{release: make(chan struct{}), err: apperrors.ErrDecodeFailure}
	close(gc.release)
	s := newTestSession(acq, gc)
	if err := s.Start(context.Background(), "mic"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	err := s.Stop(context.Background())
	if !errors.Is(err, apperrors.ErrDecodeFailure) {
		t.Errorf("err = %v, want ErrDecodeFailure", err)
	}
	if s.State() != Idle {
		t.Errorf("State = %v, want idle", s.State())
	}
	if _, ok := s.Output(); ok {
		t.Error("output published after failed finalize")
	}
	if n := acq.sources[0].closed(); n != 1 {
		t.Errorf("source closed %d times, want 1", n)
	}
}

func TestStopContextExpiresDuringFinalize(t *testing.T) {
	gc := &gatedCodec{release: make(chan struct{})}
	s := newTestSession(&fakeAcquirer{data: ramp(100)}, gc)
	if err := s.Start(context.Background(), "mic"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.Stop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Stop err = %v, want DeadlineExceeded", err)
	}

	close(gc.release)
	if err := s.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if s.State() != Idle {
		t.Errorf("State = %v, want idle", s.State())
	}
	if _, ok := s.Output(); !ok {
		t.Error("no output after background finalize")
	}
}

func TestShutdownIdle(t *testing.T) {
	s := newTestSession(&fakeAcquirer{}, &codec.PCM{})
	if err := s.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}

// --- Filter and trace ---

func TestFilterLockedForActiveRecording(t *testing.T) {
	s := newTestSession(&fakeAcquirer{data: ramp(100)}, &codec.PCM{})
	if cfg := s.ConfigureFilter("heart"); cfg.CenterFrequencyHz != 135 {
		t.Errorf("heart center = %v, want 135", cfg.CenterFrequencyHz)
	}
	if err := s.Start(context.Background(), "mic"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.ConfigureFilter("lungs")
	if got := s.Status().Filter; got != "heart" {
		t.Errorf("active filter = %q, want heart", got)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := s.Status().Filter; got != "lungs" {
		t.Errorf("next filter = %q, want lungs", got)
	}
}

func TestTraceRunsWhileRecording(t *testing.T) {
	synth := &capture.Synthetic{SampleRate: 8000, Channels: 1, BPM: 72, Realtime: true}
	r := render.New(render.Size{Width: 64, Height: 16}, 500)
	s := New(synth, &codec.PCM{}, r, Options{
		Path:       signalpath.Options{WindowSize: 256, BlockSize: 80},
		CanvasSize: render.Size{Width: 64, Height: 16},
	})
	if err := s.Start(context.Background(), capture.SyntheticHeart); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, func() bool { return r.Stats().Frames > 0 && s.Status().Level > 0 })
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	frames := r.Stats().Frames
	time.Sleep(20 * time.Millisecond)
	if got := r.Stats().Frames; got != frames {
		t.Errorf("renderer kept drawing after Stop: %d -> %d", frames, got)
	}
	f, ok := s.Output()
	if !ok || f.Len() <= wav.HeaderSize {
		t.Errorf("Output = %d bytes, want audio", f.Len())
	}
}
