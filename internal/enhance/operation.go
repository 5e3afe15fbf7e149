// Package enhance models enhancement operations and talks to the remote
// processing service that computes them.
//
// Operation is a closed set of variants, one per service method, each with
// typed parameters and its own validation. Encode is the only place an
// operation is turned into wire form.
package enhance

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Method is the wire name of an enhancement.
type Method string

const (
	MethodHistogramEqualization Method = "histogram_equalization"
	MethodGammaCorrection       Method = "gamma_correction"
	MethodUnsharpMask           Method = "unsharp_mask"
	MethodGaussianBlur          Method = "gaussian_blur"
	MethodEdgeDetection         Method = "edge_detection"
	MethodSuperResolution       Method = "super_resolution"
	MethodPaletteExtraction     Method = "palette_extraction"
	MethodCLAHE                 Method = "clahe"
	MethodWindowLevel           Method = "window_level"
	MethodEnhanceVessels        Method = "enhance_vessels"

	// MethodIdentity asks the service to pass images through unchanged.
	// The batch archive flow sends it alongside pre-encoded images.
	MethodIdentity Method = "identity"
)

// Yield is the kind of result a method produces.
type Yield int

const (
	YieldRaster Yield = iota
	YieldPalette
)

func (y Yield) String() string {
	if y == YieldPalette {
		return "palette"
	}
	return "raster"
}

// ErrInvalidParams is wrapped by every validation failure.
var ErrInvalidParams = errors.New("invalid enhancement parameters")

// ErrUnknownMethod is returned by Parse for unrecognised method names.
var ErrUnknownMethod = errors.New("unknown enhancement method")

// Param is one wire parameter.
type Param struct {
	Name  string
	Value string
}

// Operation is one enhancement with its parameters.
type Operation interface {
	Method() Method
	Yields() Yield
	Validate() error
	params() []Param
}

// Params returns the wire parameters of op in a stable order.
func Params(op Operation) []Param {
	return op.params()
}

// HistogramEqualization spreads the luminance histogram. It takes no parameters.
type HistogramEqualization struct{}

// GammaCorrection applies out = in^(1/Gamma).
type GammaCorrection struct {
	Gamma float64
}

// UnsharpMask sharpens by subtracting a blurred copy.
type UnsharpMask struct {
	Amount float64
	Radius int
}

// GaussianBlur smooths with a Gaussian kernel of the given radius.
type GaussianBlur struct {
	Radius int
}

// EdgeDetection runs a hysteresis edge detector with Low/High thresholds.
type EdgeDetection struct {
	Low  float64
	High float64
}

// SuperResolution upscales by an integer factor.
type SuperResolution struct {
	Scale int
}

// PaletteExtraction returns the dominant colors instead of a raster.
type PaletteExtraction struct {
	Colors int
}

// CLAHE is contrast-limited adaptive histogram equalization.
type CLAHE struct {
	ClipLimit float64
	GridSize  int
}

// WindowLevel maps a radiology intensity window onto the display range.
type WindowLevel struct {
	Width float64
	Level float64
}

// EnhanceVessels boosts thin ridge structures.
type EnhanceVessels struct {
	Strength float64
}

// Identity passes the image through unchanged.
type Identity struct{}

func (HistogramEqualization) Method() Method { return MethodHistogramEqualization }
func (GammaCorrection) Method() Method       { return MethodGammaCorrection }
func (UnsharpMask) Method() Method           { return MethodUnsharpMask }
func (GaussianBlur) Method() Method          { return MethodGaussianBlur }
func (EdgeDetection) Method() Method         { return MethodEdgeDetection }
func (SuperResolution) Method() Method       { return MethodSuperResolution }
func (PaletteExtraction) Method() Method     { return MethodPaletteExtraction }
func (CLAHE) Method() Method                 { return MethodCLAHE }
func (WindowLevel) Method() Method           { return MethodWindowLevel }
func (EnhanceVessels) Method() Method        { return MethodEnhanceVessels }
func (Identity) Method() Method              { return MethodIdentity }

func (HistogramEqualization) Yields() Yield { return YieldRaster }
func (GammaCorrection) Yields() Yield       { return YieldRaster }
func (UnsharpMask) Yields() Yield           { return YieldRaster }
func (GaussianBlur) Yields() Yield          { return YieldRaster }
func (EdgeDetection) Yields() Yield         { return YieldRaster }
func (SuperResolution) Yields() Yield       { return YieldRaster }
func (PaletteExtraction) Yields() Yield     { return YieldPalette }
func (CLAHE) Yields() Yield                 { return YieldRaster }
func (WindowLevel) Yields() Yield           { return YieldRaster }
func (EnhanceVessels) Yields() Yield        { return YieldRaster }
func (Identity) Yields() Yield              { return YieldRaster }

func (HistogramEqualization) Validate() error { return nil }
func (Identity) Validate() error              { return nil }

func (o GammaCorrection) Validate() error {
	return inRange("gamma", o.Gamma, 0, 10, false)
}

func (o UnsharpMask) Validate() error {
	if err := inRange("amount", o.Amount, 0, 10, true); err != nil {
		return err
	}
	return intInRange("radius", o.Radius, 1, 51)
}

func (o GaussianBlur) Validate() error {
	return intInRange("radius", o.Radius, 1, 51)
}

func (o EdgeDetection) Validate() error {
	if err := inRange("low", o.Low, 0, 255, true); err != nil {
		return err
	}
	if err := inRange("high", o.High, 0, 255, true); err != nil {
		return err
	}
	if o.Low > o.High {
		return fmt.Errorf("%w: low threshold %v above high threshold %v", ErrInvalidParams, o.Low, o.High)
	}
	return nil
}

func (o SuperResolution) Validate() error {
	return intInRange("scale", o.Scale, 2, 4)
}

func (o PaletteExtraction) Validate() error {
	return intInRange("colors", o.Colors, 1, 32)
}

func (o CLAHE) Validate() error {
	if err := inRange("clip_limit", o.ClipLimit, 0, 40, false); err != nil {
		return err
	}
	return intInRange("grid_size", o.GridSize, 1, 64)
}

func (o WindowLevel) Validate() error {
	if err := inRange("window_width", o.Width, 0, 65535, false); err != nil {
		return err
	}
	return inRange("window_level", o.Level, -32768, 65535, true)
}

func (o EnhanceVessels) Validate() error {
	return inRange("strength", o.Strength, 0, 10, false)
}

func (HistogramEqualization) params() []Param { return nil }
func (Identity) params() []Param              { return nil }

func (o GammaCorrection) params() []Param {
	return []Param{{"gamma", formatFloat(o.Gamma)}}
}

func (o UnsharpMask) params() []Param {
	return []Param{{"amount", formatFloat(o.Amount)}, {"radius", strconv.Itoa(o.Radius)}}
}

func (o GaussianBlur) params() []Param {
	return []Param{{"radius", strconv.Itoa(o.Radius)}}
}

func (o EdgeDetection) params() []Param {
	return []Param{{"low", formatFloat(o.Low)}, {"high", formatFloat(o.High)}}
}

func (o SuperResolution) params() []Param {
	return []Param{{"scale", strconv.Itoa(o.Scale)}}
}

func (o PaletteExtraction) params() []Param {
	return []Param{{"colors", strconv.Itoa(o.Colors)}}
}

func (o CLAHE) params() []Param {
	return []Param{{"clip_limit", formatFloat(o.ClipLimit)}, {"grid_size", strconv.Itoa(o.GridSize)}}
}

func (o WindowLevel) params() []Param {
	return []Param{{"window_width", formatFloat(o.Width)}, {"window_level", formatFloat(o.Level)}}
}

func (o EnhanceVessels) params() []Param {
	return []Param{{"strength", formatFloat(o.Strength)}}
}

// Default returns the operation for m with its default parameters.
func Default(m Method) (Operation, error) {
	switch m {
	case MethodHistogramEqualization:
		return HistogramEqualization{}, nil
	case MethodGammaCorrection:
		return GammaCorrection{Gamma: 1.0}, nil
	case MethodUnsharpMask:
		return UnsharpMask{Amount: 1.0, Radius: 5}, nil
	case MethodGaussianBlur:
		return GaussianBlur{Radius: 3}, nil
	case MethodEdgeDetection:
		return EdgeDetection{Low: 100, High: 200}, nil
	case MethodSuperResolution:
		return SuperResolution{Scale: 2}, nil
	case MethodPaletteExtraction:
		return PaletteExtraction{Colors: 5}, nil
	case MethodCLAHE:
		return CLAHE{ClipLimit: 2.0, GridSize: 8}, nil
	case MethodWindowLevel:
		return WindowLevel{Width: 400, Level: 50}, nil
	case MethodEnhanceVessels:
		return EnhanceVessels{Strength: 1.5}, nil
	case MethodIdentity:
		return Identity{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, m)
}

// Methods lists every known method in a stable order.
func Methods() []Method {
	ms := []Method{
		MethodHistogramEqualization, MethodGammaCorrection, MethodUnsharpMask,
		MethodGaussianBlur, MethodEdgeDetection, MethodSuperResolution,
		MethodPaletteExtraction, MethodCLAHE, MethodWindowLevel,
		MethodEnhanceVessels, MethodIdentity,
	}
	sort.Slice(ms, func(i, j int) bool { return ms[i] < ms[j] })
	return ms
}

// Parse builds a validated operation from a method name and string
// parameters. Missing parameters take their defaults; unknown ones are
// rejected.
func Parse(method string, params map[string]string) (Operation, error) {
	op, err := Default(Method(strings.TrimSpace(method)))
	if err != nil {
		return nil, err
	}

	known := make(map[string]bool)
	for _, p := range op.params() {
		known[p.Name] = true
	}
	for k := range params {
		if !known[k] {
			return nil, fmt.Errorf("%w: %s does not take parameter %q", ErrInvalidParams, op.Method(), k)
		}
	}

	var perr error
	f := func(name string, dst *float64) {
		if s, ok := params[name]; ok && perr == nil {
			v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if err != nil {
				perr = fmt.Errorf("%w: %s=%q is not a number", ErrInvalidParams, name, s)
				return
			}
			*dst = v
		}
	}
	n := func(name string, dst *int) {
		if s, ok := params[name]; ok && perr == nil {
			v, err := strconv.Atoi(strings.TrimSpace(s))
			if err != nil {
				perr = fmt.Errorf("%w: %s=%q is not an integer", ErrInvalidParams, name, s)
				return
			}
			*dst = v
		}
	}

	switch o := op.(type) {
	case GammaCorrection:
		f("gamma", &o.Gamma)
		op = o
	case UnsharpMask:
		f("amount", &o.Amount)
		n("radius", &o.Radius)
		op = o
	case GaussianBlur:
		n("radius", &o.Radius)
		op = o
	case EdgeDetection:
		f("low", &o.Low)
		f("high", &o.High)
		op = o
	case SuperResolution:
		n("scale", &o.Scale)
		op = o
	case PaletteExtraction:
		n("colors", &o.Colors)
		op = o
	case CLAHE:
		f("clip_limit", &o.ClipLimit)
		n("grid_size", &o.GridSize)
		op = o
	case WindowLevel:
		f("window_width", &o.Width)
		f("window_level", &o.Level)
		op = o
	case EnhanceVessels:
		f("strength", &o.Strength)
		op = o
	}
	if perr != nil {
		return nil, perr
	}
	if err := op.Validate(); err != nil {
		return nil, err
	}
	return op, nil
}

func inRange(name string, v, lo, hi float64, inclusiveLo bool) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v > hi || v < lo || (!inclusiveLo && v == lo) {
		open := "("
		if inclusiveLo {
			open = "["
		}
		return fmt.Errorf("%w: %s=%v outside %s%v, %v]", ErrInvalidParams, name, v, open, lo, hi)
	}
	return nil
}

func intInRange(name string, v, lo, hi int) error {
	if v < lo || v > hi {
		return fmt.Errorf("%w: %s=%d outside [%d, %d]", ErrInvalidParams, name, v, lo, hi)
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
