package compare

import (
	"image"
	"sync"
)

// FrameBuffer is a Surface that keeps the latest frame in memory.
type FrameBuffer struct {
	mu     sync.Mutex
	frame  *image.RGBA
	frames int
}

// Present stores frame.
func (b *FrameBuffer) Present(frame *image.RGBA) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frame = frame
	b.frames++
}

// Frame returns the latest frame and how many frames were presented.
func (b *FrameBuffer) Frame() (*image.RGBA, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.frame, b.frames
}
