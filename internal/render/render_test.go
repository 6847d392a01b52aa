package render

import (
	"image/color"
	"sync/atomic"
	"testing"
	"time"
)

// constSource returns frames of a single value.
type constSource struct {
	n int
	v atomic.Value // float32
}

func newConst(n int, v float32) *constSource {
	c := &constSource{n: n}
	c.v.Store(v)
	return c
}

func (c *constSource) WindowSize() int { return c.n }

func (c *constSource) Frame(dst []float32) {
	v := c.v.Load().(float32)
	for i := range dst {
		dst[i] = v
	}
}

func isStroke(c color.RGBA) bool { return c == StrokeColor }

// --- Frame algorithm ---

func TestColumnsPerFrame(t *testing.T) {
	r := New(Size{Width: 100, Height: 40}, 60)
	src := newConst(4096, 0)
	for n := 1; n <= 50; n++ {
		r.Step(src)
		st := r.Stats()
		if st.Frames != uint64(n) {
			t.Fatalf("Frames = %d, want %d", st.Frames, n)
		}
		if st.Columns != uint64(n*ScrollSpeed) {
			t.Fatalf("after %d frames Columns = %d, want %d", n, st.Columns, n*ScrollSpeed)
		}
	}
}

func TestInitializedAfterFullWidthCycle(t *testing.T) {
	const width = 31
	r := New(Size{Width: width, Height: 20}, 60)
	src := newConst(4096, 0)

	cycle := (width + ScrollSpeed - 1) / ScrollSpeed
	for i := 0; i < cycle-1; i++ {
		r.Step(src)
		if r.Initialized() {
			t.Fatalf("Initialized after %d frames, want false before %d", i+1, cycle)
		}
	}
	for i := 0; i < 3*cycle; i++ {
		r.Step(src)
		if !r.Initialized() {
			t.Fatalf("undrawn column present after %d frames", cycle+i)
		}
	}
}

func TestSilenceDrawsCentreLine(t *testing.T) {
	r := New(Size{Width: 30, Height: 100}, 60)
	r.Step(newConst(4096, 0))

	img := r.Snapshot()
	for x := 30 - ScrollSpeed; x < 30; x++ {
		if !isStroke(img.RGBAAt(x, 50)) {
			t.Errorf("pixel (%d,50) = %v, want stroke colour", x, img.RGBAAt(x, 50))
		}
	}
	if isStroke(img.RGBAAt(29, 10)) {
		t.Error("stroke drawn away from the centre line for a silent frame")
	}
	if isStroke(img.RGBAAt(10, 50)) {
		t.Error("stroke drawn outside the cleared strip")
	}
}

func TestShiftMovesHistoryLeft(t *testing.T) {
	const w, h = 30, 100
	r := New(Size{Width: w, Height: h}, 60)
	src := newConst(4096, 1) // y = height, bottom row

	r.Step(src)
	if !isStroke(r.Snapshot().RGBAAt(w-1, h-1)) {
		t.Fatal("full-scale frame not drawn on the bottom row")
	}

	src.v.Store(float32(0))
	r.Step(src)
	img := r.Snapshot()
	if !isStroke(img.RGBAAt(w-1-ScrollSpeed, h-1)) {
		t.Errorf("previous stroke not shifted left by %d columns", ScrollSpeed)
	}
	if isStroke(img.RGBAAt(w-1, h-1)) {
		t.Error("strip not cleared before drawing")
	}
	if !isStroke(img.RGBAAt(w-1, h/2)) {
		t.Error("new stroke missing from strip")
	}
}

func TestResizeResetsHistory(t *testing.T) {
	r := New(Size{Width: 12, Height: 10}, 60)
	src := newConst(64, 0)
	for i := 0; i < 10; i++ {
		r.Step(src)
	}
	if !r.Initialized() {
		t.Fatal("expected initialized raster before resize")
	}

	r.Resize(Size{Width: 24, Height: 10})
	if r.Initialized() {
		t.Error("Initialized after resize, want fresh raster")
	}
	if st := r.Stats(); st.Frames != 0 || st.Columns != 0 || st.Size.Width != 24 {
		t.Errorf("Stats after resize = %+v", st)
	}
	img := r.Snapshot()
	for _, p := range img.Pix {
		if p != 0 {
			t.Fatal("resized raster not blank")
		}
	}
}

func TestNarrowAndEmptySurfaces(t *testing.T) {
	r := New(Size{Width: 2, Height: 4}, 60)
	r.Step(newConst(8, 0))
	if st := r.Stats(); st.Columns != 2 {
		t.Errorf("narrow surface Columns = %d, want 2", st.Columns)
	}

	empty := New(Size{}, 60)
	empty.Step(newConst(8, 0))
	if st := empty.Stats(); st.Frames != 0 {
		t.Errorf("empty surface rendered %d frames", st.Frames)
	}
}

func TestOnStrokeSequence(t *testing.T) {
	r := New(Size{Width: 50, Height: 20}, 60)
	var seqs []uint64
	r.OnStroke(func(s Stroke) {
		if s.Strip != 50-ScrollSpeed {
			t.Errorf("Strip = %d, want %d", s.Strip, 50-ScrollSpeed)
		}
		if len(s.Points) < 2 {
			t.Errorf("stroke has %d points", len(s.Points))
		}
		seqs = append(seqs, s.Seq)
	})
	src := newConst(4096, 0.25)
	for i := 0; i < 3; i++ {
		r.Step(src)
	}
	for i, s := range seqs {
		if s != uint64(i+1) {
			t.Errorf("seqs = %v, want 1,2,3", seqs)
			break
		}
	}
}

// --- Loop ---

func TestStartStop(t *testing.T) {
	r := New(Size{Width: 40, Height: 20}, 200)
	h := r.Start(newConst(256, 0), Size{Width: 40, Height: 20})

	deadline := time.After(2 * time.Second)
	for r.Stats().Frames < 3 {
		select {
		case <-deadline:
			t.Fatal("renderer produced no frames")
		case <-time.After(5 * time.Millisecond):
		}
	}

	h.Stop()
	h.Stop() // idempotent
	select {
	case <-h.Done():
	default:
		t.Fatal("Done not closed after Stop")
	}

	frames := r.Stats().Frames
	time.Sleep(30 * time.Millisecond)
	if got := r.Stats().Frames; got != frames {
		t.Errorf("frames advanced after Stop: %d -> %d", frames, got)
	}
}

func TestStartReplacesActiveLoop(t *testing.T) {
	r := New(Size{Width: 40, Height: 20}, 200)
	first := r.Start(newConst(256, 0), Size{Width: 40, Height: 20})
	second := r.Start(newConst(256, 0), Size{Width: 40, Height: 20})
	defer second.Stop()

	select {
	case <-first.Done():
	case <-time.After(time.Second):
		t.Fatal("previous loop still running after a new Start")
	}
}
