// Package render draws the scrolling phonocardiogram trace.
//
// Each display tick the raster is shifted left by ScrollSpeed columns, the
// freed strip on the right is cleared, and the newest analysis frame is
// stroked into that strip. History is never rescaled: a resize starts a
// fresh raster.
package render

import (
	"image"
	"image/color"
	"math"
	"sync"
	"time"

	"github.com/satindergrewal/phonoscope/internal/logging"
)

var log = logging.L("render")

const (
	ScrollSpeed   = 3 // columns per frame
	LineWidth     = 2
	DefaultFPS    = 60
	defaultWindow = 4096
)

// StrokeColor is the trace colour.
var StrokeColor = color.RGBA{R: 0, G: 255, B: 0, A: 255}

// Size is the output surface in pixels.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// FrameSource supplies time-domain analysis frames. signalpath.Tap satisfies it.
type FrameSource interface {
	WindowSize() int
	Frame(dst []float32)
}

// Point is a vertex of the stroke in canvas coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Stroke describes what one frame drew, for remote displays.
type Stroke struct {
	Seq    uint64  `json:"seq"`
	Width  int     `json:"width"`
	Height int     `json:"height"`
	Strip  int     `json:"strip"` // x of the first cleared column
	Points []Point `json:"points"`
}

// Stats reports rendering progress since the last reset.
type Stats struct {
	Frames  uint64 `json:"frames"`
	Columns uint64 `json:"columns"` // freshly drawn columns
	Size    Size   `json:"size"`
}

// Renderer owns the ScrollBuffer. All raster mutation happens under mu, so a
// frame's shift-and-draw is atomic with respect to any other frame.
type Renderer struct {
	interval time.Duration

	mu     sync.Mutex
	size   Size
	img    *image.RGBA
	drawn  []bool // per column: drawn since the last reset
	stats  Stats
	frame  []float32
	points []Point
	active *Handle
	onDraw func(Stroke)
}

// New creates a renderer for the given surface, ticking fps times a second.
func New(size Size, fps int) *Renderer {
	if fps <= 0 {
		fps = DefaultFPS
	}
	r := &Renderer{interval: time.Second / time.Duration(fps)}
	r.reset(size)
	return r
}

// OnStroke registers fn to receive every drawn stroke. fn runs on the render
// goroutine and must not block.
func (r *Renderer) OnStroke(fn func(Stroke)) {
	r.mu.Lock()
	r.onDraw = fn
	r.mu.Unlock()
}

func (r *Renderer) reset(size Size) {
	if size.Width < 0 {
		size.Width = 0
	}
	if size.Height < 0 {
		size.Height = 0
	}
	r.size = size
	r.img = image.NewRGBA(image.Rect(0, 0, size.Width, size.Height))
	r.drawn = make([]bool, size.Width)
	r.stats = Stats{Size: size}
}

// Resize discards the trace history and starts a blank raster of the new size.
func (r *Renderer) Resize(size Size) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if size == r.size {
		return
	}
	r.reset(size)
	log.Debug("scroll buffer reset", "width", size.Width, "height", size.Height)
}

// Size returns the current surface size.
func (r *Renderer) Size() Size {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Stats returns counters since the last reset.
func (r *Renderer) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Initialized reports whether every column has been drawn since the last reset.
func (r *Renderer) Initialized() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.drawn) == 0 {
		return false
	}
	for _, d := range r.drawn {
		if !d {
			return false
		}
	}
	return true
}

// Snapshot returns a copy of the raster.
func (r *Renderer) Snapshot() *image.RGBA {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := image.NewRGBA(r.img.Rect)
	copy(cp.Pix, r.img.Pix)
	return cp
}

// Step renders exactly one frame pulled from src.
func (r *Renderer) Step(src FrameSource) {
	r.mu.Lock()
	stroke, ok := r.step(src)
	fn := r.onDraw
	r.mu.Unlock()

	if ok && fn != nil {
		fn(stroke)
	}
}

func (r *Renderer) step(src FrameSource) (Stroke, bool) {
	w, h := r.size.Width, r.size.Height
	if w == 0 || h == 0 {
		return Stroke{}, false
	}

	n := src.WindowSize()
	if n <= 0 {
		n = defaultWindow
	}
	if cap(r.frame) < n {
		r.frame = make([]float32, n)
	}
	r.frame = r.frame[:n]
	src.Frame(r.frame)

	s := ScrollSpeed
	if s > w {
		s = w
	}
	stripX := w - s

	r.shift(s)
	r.clearStrip(stripX)

	// Map the frame onto the strip: x advances by width/frameLength per
	// sample starting at the strip's left edge, y maps [-1,1] to [0,height].
	slice := float64(w) / float64(n)
	x := float64(stripX)
	r.points = r.points[:0]
	for i := 0; i < n; i++ {
		y := (float64(r.frame[i])*0.5 + 0.5) * float64(h)
		r.points = append(r.points, Point{X: x, Y: y})
		if x > float64(w)+LineWidth {
			break
		}
		x += slice
	}
	for i := 1; i < len(r.points); i++ {
		r.segment(r.points[i-1], r.points[i], stripX)
	}
	if len(r.points) == 1 {
		r.segment(r.points[0], r.points[0], stripX)
	}

	for c := stripX; c < w; c++ {
		r.drawn[c] = true
	}
	r.stats.Frames++
	r.stats.Columns += uint64(s)

	return Stroke{
		Seq:    r.stats.Frames,
		Width:  w,
		Height: h,
		Strip:  stripX,
		Points: append([]Point(nil), r.points...),
	}, true
}

// shift moves the raster left by s columns.
func (r *Renderer) shift(s int) {
	w, h := r.size.Width, r.size.Height
	stride := r.img.Stride
	for y := 0; y < h; y++ {
		row := r.img.Pix[y*stride : y*stride+w*4]
		copy(row, row[s*4:])
	}
	copy(r.drawn, r.drawn[s:])
}

func (r *Renderer) clearStrip(x0 int) {
	w, h := r.size.Width, r.size.Height
	stride := r.img.Stride
	for y := 0; y < h; y++ {
		clear(r.img.Pix[y*stride+x0*4 : y*stride+w*4])
	}
	for c := x0; c < w; c++ {
		r.drawn[c] = false
	}
}

// segment strokes a LineWidth-wide line between a and b, clipped to the strip.
func (r *Renderer) segment(a, b Point, stripX int) {
	dx, dy := b.X-a.X, b.Y-a.Y
	steps := int(math.Ceil(math.Max(math.Abs(dx), math.Abs(dy))*2)) + 1
	for i := 0; i <= steps; i++ {
		t := float64(i) / float64(steps)
		r.plot(a.X+dx*t, a.Y+dy*t, stripX)
	}
}

func (r *Renderer) plot(px, py float64, stripX int) {
	half := float64(LineWidth) / 2
	x0 := int(math.Floor(px - half + 0.5))
	y0 := int(math.Floor(py - half + 0.5))
	for x := x0; x < x0+LineWidth; x++ {
		if x < stripX || x >= r.size.Width {
			continue
		}
		for y := y0; y < y0+LineWidth; y++ {
			if y < 0 || y >= r.size.Height {
				continue
			}
			r.img.SetRGBA(x, y, StrokeColor)
		}
	}
}
