package compare

import (
	"image"
)

// PointerKind is the phase of a pointer gesture.
type PointerKind int

const (
	PointerDown PointerKind = iota
	PointerMove
	PointerUp
)

// PointerSource distinguishes mouse from touch input.
type PointerSource int

const (
	Mouse PointerSource = iota
	Touch
)

// PointerEvent is one pointer sample in page coordinates. Mouse events carry
// X; touch events carry the X of every active touch point.
type PointerEvent struct {
	Kind    PointerKind
	Source  PointerSource
	X       float64
	Touches []float64
}

// Box is the horizontal extent of the viewport on the page.
type Box struct {
	Left  float64
	Width float64
}

// x returns the horizontal coordinate the event refers to.
func (e PointerEvent) x() (float64, bool) {
	if e.Source == Touch {
		if len(e.Touches) == 0 {
			return 0, false
		}
		return e.Touches[0], true
	}
	return e.X, true
}

// Project converts a page X coordinate into a clamped split ratio.
func Project(x float64, box Box) (float64, bool) {
	if box.Width <= 0 {
		return 0, false
	}
	return ClampSplit((x - box.Left) / box.Width * 100), true
}

// HandlePointer drives the split handle. A press starts a drag, moves during
// the drag update the split and redraw, and a release ends it. Moves outside
// a drag are ignored. The returned frame is nil when nothing was redrawn.
func (r *Renderer) HandlePointer(ev PointerEvent, box Box) (*image.RGBA, error) {
	switch ev.Kind {
	case PointerDown:
		r.state.setDragging(true)
		return nil, nil
	case PointerUp:
		r.state.setDragging(false)
		return nil, nil
	}

	if !r.state.Dragging() {
		return nil, nil
	}
	x, ok := ev.x()
	if !ok {
		return nil, nil
	}
	ratio, ok := Project(x, box)
	if !ok {
		return nil, nil
	}
	return r.SetSplit(ratio)
}
