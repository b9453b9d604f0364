package player

import (
	"context"
	"io"
	"sync"
	"time"
)

// Renderer turns one audio payload into actual output. Play blocks until the
// payload has been fully rendered or ctx is cancelled. Pause suspends
// rendering in place and Resume continues it from the same position.
type Renderer interface {
	Play(ctx context.Context, audio []byte, duration time.Duration) error
	Pause() error
	Resume() error
}

// pauseGate blocks renderers while paused.
type pauseGate struct {
	mu     sync.Mutex
	paused bool
	resume chan struct{}
}

func (g *pauseGate) pause() {
	g.mu.Lock()
	if !g.paused {
		g.paused = true
		g.resume = make(chan struct{})
	}
	g.mu.Unlock()
}

func (g *pauseGate) unpause() {
	g.mu.Lock()
	if g.paused {
		g.paused = false
		close(g.resume)
	}
	g.mu.Unlock()
}

// wait blocks until the gate is open or ctx is cancelled.
func (g *pauseGate) wait(ctx context.Context) error {
	for {
		g.mu.Lock()
		paused := g.paused
		resume := g.resume
		g.mu.Unlock()
		if !paused {
			return nil
		}
		select {
		case <-resume:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

const renderSlice = 10 * time.Millisecond

// TimedRenderer paces rendering in real time without producing output. It is
// the default when no audio sink is wired, and keeps progress callbacks
// honest in tests.
type TimedRenderer struct {
	gate pauseGate
}

func NewTimedRenderer() *TimedRenderer {
	return &TimedRenderer{}
}

func (r *TimedRenderer) Play(ctx context.Context, _ []byte, duration time.Duration) error {
	remaining := duration
	for remaining > 0 {
		if err := r.gate.wait(ctx); err != nil {
			return err
		}
		step := renderSlice
		if remaining < step {
			step = remaining
		}
		select {
		case <-time.After(step):
			remaining -= step
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (r *TimedRenderer) Pause() error {
	r.gate.pause()
	return nil
}

func (r *TimedRenderer) Resume() error {
	r.gate.unpause()
	return nil
}

// StreamRenderer writes audio to w paced to its playback duration, so a
// network client receives bytes roughly in real time instead of one burst.
type StreamRenderer struct {
	w    io.Writer
	gate pauseGate
}

func NewStreamRenderer(w io.Writer) *StreamRenderer {
	return &StreamRenderer{w: w}
}

func (r *StreamRenderer) Play(ctx context.Context, audio []byte, duration time.Duration) error {
	if len(audio) == 0 {
		return nil
	}
	slices := int(duration / renderSlice)
	if slices < 1 {
		slices = 1
	}
	chunk := (len(audio) + slices - 1) / slices

	for off := 0; off < len(audio); off += chunk {
		if err := r.gate.wait(ctx); err != nil {
			return err
		}
		end := off + chunk
		if end > len(audio) {
			end = len(audio)
		}
		if _, err := r.w.Write(audio[off:end]); err != nil {
			return err
		}
		if end == len(audio) {
			break
		}
		select {
		case <-time.After(renderSlice):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (r *StreamRenderer) Pause() error {
	r.gate.pause()
	return nil
}

func (r *StreamRenderer) Resume() error {
	r.gate.unpause()
	return nil
}
