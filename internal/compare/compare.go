// Package compare renders the wipe comparison between an image's original
// and current rasters.
//
// The viewport shows the current raster across its full width with the
// original drawn over the band [0, width*split/100). Dragging the handle
// moves the split; the ratio is always clamped into [0, 100].
package compare

import (
	"image"
	"math"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/image/draw"

	"github.com/fpang/picwizard/internal/filehandler"
	"github.com/fpang/picwizard/internal/session"
)

// DefaultSplit is the split ratio after an image switch or reset.
const DefaultSplit = 50.0

// Surface receives every rendered frame.
type Surface interface {
	Present(frame *image.RGBA)
}

// ClampSplit forces v into [0, 100]. NaN maps to the default.
func ClampSplit(v float64) float64 {
	if math.IsNaN(v) {
		return DefaultSplit
	}
	return math.Max(0, math.Min(100, v))
}

// State is the comparison split plus drag tracking.
type State struct {
	mu       sync.Mutex
	split    float64
	dragging bool
}

// NewState returns a state at DefaultSplit.
func NewState() *State {
	return &State{split: DefaultSplit}
}

// Split returns the current ratio.
func (s *State) Split() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.split
}

// SetSplit stores a clamped ratio and returns it.
func (s *State) SetSplit(v float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.split = ClampSplit(v)
	return s.split
}

// Dragging reports whether a press is in progress.
func (s *State) Dragging() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dragging
}

func (s *State) setDragging(v bool) {
	s.mu.Lock()
	s.dragging = v
	s.mu.Unlock()
}

// Renderer composites the active record into frames for a Surface.
type Renderer struct {
	sess    *session.Session
	surface Surface
	state   *State

	mu   sync.Mutex
	maxW int
	maxH int
	last *image.RGBA
}

// NewRenderer creates a renderer using the default 1200x800 viewport bounds.
// surface may be nil when frames are only read through Render.
func NewRenderer(sess *session.Session, surface Surface) *Renderer {
	return &Renderer{
		sess:    sess,
		surface: surface,
		state:   NewState(),
		maxW:    filehandler.MaxDisplayWidth,
		maxH:    filehandler.MaxDisplayHeight,
	}
}

// State exposes the split state.
func (r *Renderer) State() *State { return r.state }

// Split returns the current split ratio.
func (r *Renderer) Split() float64 { return r.state.Split() }

// Viewport returns the frame size for the active record.
func (r *Renderer) Viewport() (filehandler.Dimensions, error) {
	rec, err := r.sess.Active()
	if err != nil {
		return filehandler.Dimensions{}, err
	}
	return r.viewportFor(rec), nil
}

func (r *Renderer) viewportFor(rec *session.Record) filehandler.Dimensions {
	r.mu.Lock()
	maxW, maxH := r.maxW, r.maxH
	r.mu.Unlock()
	size := rec.Size()
	return filehandler.CalculateDisplayDimensions(size.Width, size.Height, maxW, maxH)
}

// Resize changes the viewport bounds and redraws.
func (r *Renderer) Resize(maxWidth, maxHeight int) (*image.RGBA, error) {
	r.mu.Lock()
	if maxWidth > 0 {
		r.maxW = maxWidth
	}
	if maxHeight > 0 {
		r.maxH = maxHeight
	}
	r.mu.Unlock()
	return r.Render()
}

// SetSplit moves the split to a clamped ratio and redraws.
func (r *Renderer) SetSplit(v float64) (*image.RGBA, error) {
	r.state.SetSplit(v)
	return r.Render()
}

// ResetSplit returns the split to DefaultSplit without redrawing.
func (r *Renderer) ResetSplit() {
	r.state.SetSplit(DefaultSplit)
	r.state.setDragging(false)
}

// Last returns the most recently rendered frame, or nil.
func (r *Renderer) Last() *image.RGBA {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// Render draws the active record at the current split and presents it.
func (r *Renderer) Render() (*image.RGBA, error) {
	rec, err := r.sess.Active()
	if err != nil {
		return nil, err
	}
	vp := r.viewportFor(rec)
	split := r.state.Split()

	frame := Composite(rec.Original(), rec.Current(), vp, split)

	r.mu.Lock()
	r.last = frame
	r.mu.Unlock()

	log.Trace().
		Str("file", rec.Filename).
		Int("width", vp.Width).
		Int("height", vp.Height).
		Float64("split", split).
		Msg("Comparison rendered")

	if r.surface != nil {
		r.surface.Present(frame)
	}
	return frame, nil
}

// Composite scales current to fill vp and overlays original on the left
// split percent of the width.
func Composite(original, current image.Image, vp filehandler.Dimensions, split float64) *image.RGBA {
	frame := image.NewRGBA(image.Rect(0, 0, vp.Width, vp.Height))
	if vp.Empty() {
		return frame
	}
	filehandler.ScaleInto(frame, current)

	band := int(math.Round(float64(vp.Width) * ClampSplit(split) / 100))
	if band <= 0 {
		return frame
	}
	scaled := image.NewRGBA(frame.Bounds())
	filehandler.ScaleInto(scaled, original)
	draw.Draw(frame, image.Rect(0, 0, band, vp.Height), scaled, image.Point{}, draw.Src)
	return frame
}
