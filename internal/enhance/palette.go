package enhance

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"

	"github.com/fpang/picwizard/internal/jsonutil"
)

// Palette is an ordered list of color swatches returned by
// palette_extraction. It never replaces a raster.
type Palette []color.NRGBA

type paletteResponse struct {
	Colors []string `json:"colors"`
}

// ParsePalette decodes the service's {"colors": ["#rrggbb", ...]} payload.
func ParsePalette(body []byte) (Palette, error) {
	resp, err := jsonutil.Parse[paletteResponse](body)
	if err != nil {
		return nil, fmt.Errorf("parse palette: %w", err)
	}
	p := make(Palette, 0, len(resp.Colors))
	for _, s := range resp.Colors {
		c, err := ParseHexColor(s)
		if err != nil {
			return nil, fmt.Errorf("parse palette: %w", err)
		}
		p = append(p, c)
	}
	return p, nil
}

// ParseHexColor parses "#rgb" or "#rrggbb" (the '#' is optional).
func ParseHexColor(s string) (color.NRGBA, error) {
	h := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(h) == 3 {
		h = string([]byte{h[0], h[0], h[1], h[1], h[2], h[2]})
	}
	if len(h) != 6 {
		return color.NRGBA{}, fmt.Errorf("invalid hex color %q", s)
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("invalid hex color %q", s)
	}
	return color.NRGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}, nil
}

// Hex renders the palette as "#rrggbb" strings.
func (p Palette) Hex() []string {
	out := make([]string, len(p))
	for i, c := range p {
		out[i] = fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
	}
	return out
}
