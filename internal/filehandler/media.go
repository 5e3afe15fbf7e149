// Package filehandler provides upload validation, raster decoding and
// metadata extraction for images entering a workbench session.
//
// Decoding is pure Go:
//   - JPEG, PNG, GIF: standard library decoders
//   - WebP, BMP, TIFF: golang.org/x/image decoders
//
// EXIF metadata (camera, capture date) is read with evanoberholster/imagemeta
// when the container carries it; PNG and friends simply come back empty.
package filehandler

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// SupportedImageExtensions maps accepted file extensions to their MIME type.
var SupportedImageExtensions = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".bmp":  "image/bmp",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
}

// allowedContentTypes is the declared-type allowlist for uploads.
var allowedContentTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
	"image/bmp":  true,
	"image/tiff": true,
}

// ErrUnsupportedType is returned for uploads whose declared type is not an
// allow-listed raster format.
var ErrUnsupportedType = errors.New("unsupported file type")

// maxUploadSize bounds a single upload read from disk.
const maxUploadSize int64 = 50 * 1024 * 1024 // 50 MB

// Upload is one raw input file as handed over by a file picker or drop surface.
type Upload struct {
	Name        string
	ContentType string
	Data        []byte
}

// LoadUpload reads a file from disk into an Upload, deriving the declared
// content type from the extension. Unknown extensions keep an empty type so
// the ingestor can reject them per file instead of failing the whole batch.
func LoadUpload(filePath string) (*Upload, error) {
	log.Debug().Str("path", filePath).Msg("Loading upload from disk")

	info, err := os.Stat(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("file not found: %s", filePath)
		}
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("path is a directory, not a file: %s", filePath)
	}
	if info.Size() > maxUploadSize {
		return nil, fmt.Errorf("file too large: %s (%d bytes)", filePath, info.Size())
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	contentType, _ := GetMIMEType(filepath.Ext(filePath))
	return &Upload{
		Name:        filepath.Base(filePath),
		ContentType: contentType,
		Data:        data,
	}, nil
}

// GetMIMEType returns the MIME type for a given file extension.
func GetMIMEType(ext string) (string, error) {
	if mimeType, ok := SupportedImageExtensions[strings.ToLower(ext)]; ok {
		return mimeType, nil
	}
	return "", fmt.Errorf("unsupported file extension: %s", ext)
}

// IsImage returns true if the file extension corresponds to a supported image.
func IsImage(ext string) bool {
	_, ok := SupportedImageExtensions[strings.ToLower(ext)]
	return ok
}

// IsAllowedType reports whether a declared content type is on the allowlist.
// Parameters such as "; charset=" are ignored.
func IsAllowedType(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	if ct == "image/jpg" {
		ct = "image/jpeg"
	}
	return allowedContentTypes[ct]
}

// Validate checks the declared type of an upload against the allowlist.
func (u *Upload) Validate() error {
	if !IsAllowedType(u.ContentType) {
		return fmt.Errorf("%w: %q", ErrUnsupportedType, u.ContentType)
	}
	if len(u.Data) == 0 {
		return fmt.Errorf("empty file: %s", u.Name)
	}
	return nil
}

// Decode decodes the upload into an NRGBA raster with a zero origin.
// The returned format is the decoder name reported by image.Decode.
func Decode(data []byte) (*image.NRGBA, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode image: %w", err)
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, "", fmt.Errorf("decoded image has no pixels (%dx%d)", b.Dx(), b.Dy())
	}
	return ToNRGBA(img), format, nil
}

// ToNRGBA copies any image into a freshly allocated NRGBA raster whose
// bounds start at the origin. The result never shares pixel storage with src.
func ToNRGBA(src image.Image) *image.NRGBA {
	b := src.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return dst
}
