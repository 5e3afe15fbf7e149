// Package controls models the enhancement control panel: one slider per
// parameter and one apply action per enhancement family.
//
// Slider input is debounced per slider. When a slider settles, the request
// carries the current value of every slider in its family, so two
// parameters of one operation always travel together.
package controls

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/picwizard/internal/dispatch"
	"github.com/fpang/picwizard/internal/enhance"
)

// ErrUnknownControl is returned for a family or parameter without a slider.
var ErrUnknownControl = errors.New("unknown control")

// Slider describes one parameter control.
type Slider struct {
	Family  enhance.Method `json:"family"`
	Param   string         `json:"param"`
	Min     float64        `json:"min"`
	Max     float64        `json:"max"`
	Step    float64        `json:"step"`
	Default float64        `json:"default"`
}

// Sliders is the slider layout of the panel.
var Sliders = []Slider{
	{enhance.MethodGammaCorrection, "gamma", 0.1, 5, 0.1, 1},
	{enhance.MethodUnsharpMask, "amount", 0, 5, 0.1, 1},
	{enhance.MethodUnsharpMask, "radius", 1, 21, 2, 5},
	{enhance.MethodGaussianBlur, "radius", 1, 21, 2, 3},
	{enhance.MethodEdgeDetection, "low", 0, 255, 1, 100},
	{enhance.MethodEdgeDetection, "high", 0, 255, 1, 200},
	{enhance.MethodSuperResolution, "scale", 2, 4, 1, 2},
	{enhance.MethodPaletteExtraction, "colors", 1, 16, 1, 5},
	{enhance.MethodCLAHE, "clip_limit", 0.5, 10, 0.5, 2},
	{enhance.MethodCLAHE, "grid_size", 2, 16, 1, 8},
	{enhance.MethodWindowLevel, "window_width", 1, 2000, 1, 400},
	{enhance.MethodWindowLevel, "window_level", -1000, 1000, 1, 50},
	{enhance.MethodEnhanceVessels, "strength", 0.1, 5, 0.1, 1.5},
}

// ApplyFunc receives every operation the panel emits.
type ApplyFunc func(op enhance.Operation)

type sliderKey struct {
	family enhance.Method
	param  string
}

// Option configures a Panel.
type Option func(*Panel)

// WithScheduler replaces the wall-clock scheduler of the slider debouncers.
func WithScheduler(s dispatch.Scheduler) Option {
	return func(p *Panel) { p.schedule = s }
}

// Panel holds the slider values and their debouncers.
type Panel struct {
	apply    ApplyFunc
	window   time.Duration
	schedule dispatch.Scheduler

	mu         sync.Mutex
	values     map[sliderKey]float64
	debouncers map[sliderKey]*dispatch.Debouncer[float64]
}

// NewPanel creates a panel whose debounced sliders settle after window.
func NewPanel(window time.Duration, apply ApplyFunc, opts ...Option) *Panel {
	p := &Panel{
		apply:      apply,
		window:     window,
		schedule:   dispatch.AfterFunc,
		values:     make(map[sliderKey]float64),
		debouncers: make(map[sliderKey]*dispatch.Debouncer[float64]),
	}
	for _, opt := range opts {
		opt(p)
	}
	for _, s := range Sliders {
		key := sliderKey{s.Family, s.Param}
		p.values[key] = s.Default
		p.debouncers[key] = dispatch.NewDebouncerWithScheduler(window, func(float64) {
			p.fire(key.family)
		}, p.schedule)
	}
	return p
}

// Input records a new slider value and restarts that slider's quiet period.
// The value is clamped into the slider's range and snapped to its step.
func (p *Panel) Input(family enhance.Method, param string, value float64) error {
	s, ok := lookup(family, param)
	if !ok {
		return fmt.Errorf("%w: %s.%s", ErrUnknownControl, family, param)
	}
	if math.IsNaN(value) {
		return fmt.Errorf("%w: %s.%s is not a number", enhance.ErrInvalidParams, family, param)
	}
	value = s.snap(value)
	key := sliderKey{family, param}

	p.mu.Lock()
	p.values[key] = value
	d := p.debouncers[key]
	p.mu.Unlock()

	d.Trigger(value)
	return nil
}

// Apply dispatches family immediately with the current slider values.
// Pending debounced input for that family is dropped since this request
// already carries it.
func (p *Panel) Apply(family enhance.Method) error {
	op, err := p.Operation(family)
	if err != nil {
		return err
	}
	p.cancelFamily(family)
	log.Debug().Str("method", string(family)).Msg("Apply action")
	p.apply(op)
	return nil
}

// Operation builds family's operation from the current slider values.
func (p *Panel) Operation(family enhance.Method) (enhance.Operation, error) {
	params := make(map[string]string)
	p.mu.Lock()
	for key, v := range p.values {
		if key.family == family {
			params[key.param] = formatValue(v)
		}
	}
	p.mu.Unlock()
	return enhance.Parse(string(family), params)
}

// Value returns a slider's current value.
func (p *Panel) Value(family enhance.Method, param string) (float64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.values[sliderKey{family, param}]
	return v, ok
}

// Values returns a snapshot of every slider value keyed "family.param".
func (p *Panel) Values() map[string]float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]float64, len(p.values))
	for k, v := range p.values {
		out[string(k.family)+"."+k.param] = v
	}
	return out
}

// Families lists the enhancement families that have an apply action.
func Families() []enhance.Method {
	var out []enhance.Method
	for _, m := range enhance.Methods() {
		if m != enhance.MethodIdentity {
			out = append(out, m)
		}
	}
	return out
}

// Reset cancels pending input and restores every slider to its default.
func (p *Panel) Reset() {
	for _, d := range p.debouncers {
		d.Cancel()
	}
	p.mu.Lock()
	for _, s := range Sliders {
		p.values[sliderKey{s.Family, s.Param}] = s.Default
	}
	p.mu.Unlock()
}

// Close stops every debouncer.
func (p *Panel) Close() {
	for _, d := range p.debouncers {
		d.Stop()
	}
}

func (p *Panel) fire(family enhance.Method) {
	op, err := p.Operation(family)
	if err != nil {
		log.Warn().Err(err).Str("method", string(family)).Msg("Slider values do not form a valid operation")
		return
	}
	log.Debug().Str("method", string(family)).Msg("Slider settled")
	p.apply(op)
}

func (p *Panel) cancelFamily(family enhance.Method) {
	for key, d := range p.debouncers {
		if key.family == family {
			d.Cancel()
		}
	}
}

// snap clamps v into the slider range and rounds it onto the step grid.
func (s Slider) snap(v float64) float64 {
	v = math.Max(s.Min, math.Min(s.Max, v))
	if s.Step > 0 {
		v = s.Min + math.Round((v-s.Min)/s.Step)*s.Step
		v = math.Min(s.Max, v)
	}
	return math.Round(v*1e6) / 1e6
}

func lookup(family enhance.Method, param string) (Slider, bool) {
	for _, s := range Sliders {
		if s.Family == family && s.Param == param {
			return s, true
		}
	}
	return Slider{}, false
}

// formatValue renders integral values without a fraction so integer
// parameters parse.
func formatValue(v float64) string {
	if v == math.Trunc(v) {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
