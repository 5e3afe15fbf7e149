// Package codec re-encodes session rasters for the wire and for export.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"math"
	"strings"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

// Format is an export encoding.
type Format string

const (
	PNG  Format = "png"
	JPEG Format = "jpeg"
	BMP  Format = "bmp"
	TIFF Format = "tiff"
)

// DefaultQuality is used when no quality is given.
const DefaultQuality = 0.92

var (
	// ErrUnknownFormat is returned for encodings outside png/jpeg/bmp/tiff.
	ErrUnknownFormat = errors.New("unknown image format")

	// ErrQuality is returned for qualities outside (0, 1].
	ErrQuality = errors.New("quality must be in (0, 1]")
)

// ParseFormat accepts a format name or common alias ("jpg", "tif", "image/png").
func ParseFormat(s string) (Format, error) {
	switch strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "image/") {
	case "png":
		return PNG, nil
	case "jpeg", "jpg":
		return JPEG, nil
	case "bmp":
		return BMP, nil
	case "tiff", "tif":
		return TIFF, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// Extension returns the file extension including the dot.
func (f Format) Extension() string {
	if f == JPEG {
		return ".jpg"
	}
	return "." + string(f)
}

// ContentType returns the MIME type of the encoding.
func (f Format) ContentType() string {
	return "image/" + string(f)
}

// ValidateQuality checks q against (0, 1].
func ValidateQuality(q float64) error {
	if math.IsNaN(q) || q <= 0 || q > 1 {
		return fmt.Errorf("%w: got %v", ErrQuality, q)
	}
	return nil
}

// jpegQuality maps (0, 1] onto the encoder's 1..100 scale.
func jpegQuality(q float64) int {
	return max(1, min(100, int(math.Round(q*100))))
}

// Encode writes img to w in the given format. Quality only affects JPEG.
func Encode(w io.Writer, img image.Image, f Format, quality float64) error {
	if err := ValidateQuality(quality); err != nil {
		return err
	}
	var err error
	switch f {
	case PNG:
		err = png.Encode(w, img)
	case JPEG:
		err = jpeg.Encode(w, img, &jpeg.Options{Quality: jpegQuality(quality)})
	case BMP:
		err = bmp.Encode(w, img)
	case TIFF:
		err = tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, f)
	}
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", f, err)
	}
	return nil
}

// EncodeBytes is Encode into a fresh buffer.
func EncodeBytes(img image.Image, f Format, quality float64) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, img, f, quality); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
