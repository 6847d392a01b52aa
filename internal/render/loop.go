package render

import (
	"context"
	"sync"
	"time"
)

// Handle controls one active rendering loop.
type Handle struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Stop cancels the loop and waits for the in-flight frame to finish. Safe
// to call more than once.
func (h *Handle) Stop() {
	if h == nil {
		return
	}
	h.once.Do(func() {
		h.cancel()
		<-h.done
	})
}

// Done is closed when the loop has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Start begins rendering frames from src on the display clock until the
// handle is stopped. A differing size resets the raster first. Only one loop
// runs per renderer; starting a new one stops the previous loop.
func (r *Renderer) Start(src FrameSource, size Size) *Handle {
	r.Resize(size)

	ctx, cancel := context.WithCancel(context.Background())
	h := &Handle{cancel: cancel, done: make(chan struct{})}

	r.mu.Lock()
	prev := r.active
	r.active = h
	r.mu.Unlock()
	prev.Stop()

	go r.loop(ctx, src, h)
	log.Debug("rendering started", "fps", int(time.Second/r.interval))
	return h
}

func (r *Renderer) loop(ctx context.Context, src FrameSource, h *Handle) {
	defer close(h.done)
	defer func() {
		r.mu.Lock()
		if r.active == h {
			r.active = nil
		}
		r.mu.Unlock()
	}()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Step(src)
		}
	}
}
