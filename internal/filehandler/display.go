package filehandler

import (
	"image"
	"math"

	"golang.org/x/image/draw"
)

const (
	// MaxDisplayWidth bounds the viewport width of landscape images.
	MaxDisplayWidth = 1200

	// MaxDisplayHeight bounds the viewport height of portrait and square images.
	MaxDisplayHeight = 800
)

// Dimensions is a width/height pair in pixels.
type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Empty reports whether either side is zero.
func (d Dimensions) Empty() bool {
	return d.Width <= 0 || d.Height <= 0
}

// CalculateDisplayDimensions derives viewport dimensions from an image's
// natural size, preserving its aspect ratio. Landscape images are bounded by
// maxWidth, portrait and square ones by maxHeight. Images smaller than the
// bound keep their natural size.
func CalculateDisplayDimensions(width, height, maxWidth, maxHeight int) Dimensions {
	if width <= 0 || height <= 0 {
		return Dimensions{}
	}
	aspect := float64(width) / float64(height)

	if width > height {
		w := min(width, maxWidth)
		h := int(math.Round(float64(w) / aspect))
		return Dimensions{Width: w, Height: max(h, 1)}
	}

	h := min(height, maxHeight)
	w := int(math.Round(float64(h) * aspect))
	return Dimensions{Width: max(w, 1), Height: h}
}

// DisplayDimensions applies the default 1200/800 viewport bounds.
func DisplayDimensions(width, height int) Dimensions {
	return CalculateDisplayDimensions(width, height, MaxDisplayWidth, MaxDisplayHeight)
}

// ScaleInto draws src stretched over the whole of dst.
// ApproxBiLinear keeps interactive redraws cheap; exports never go through here.
func ScaleInto(dst draw.Image, src image.Image) {
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
}

