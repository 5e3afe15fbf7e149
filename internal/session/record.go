package session

import (
	"image"
	"sync"

	"github.com/google/uuid"

	"github.com/fpang/picwizard/internal/filehandler"
)

// Record is one uploaded image: its pristine original raster, the current
// (possibly enhanced) raster, and display metadata.
//
// The original is never handed out by reference. Accessors return copies so
// that no caller can mutate it, and the current raster is only replaced
// through Session.
type Record struct {
	ID       string
	Filename string
	MIMEType string
	Display  filehandler.Dimensions
	Meta     *filehandler.ImageMetadata

	original *image.NRGBA

	mu       sync.RWMutex
	current  *image.NRGBA
	revision uint64
}

// NewRecord creates a record from a decoded raster. The record takes
// ownership of its own copies; later changes to raster are not observed.
func NewRecord(filename, mimeType string, raster image.Image, meta *filehandler.ImageMetadata) *Record {
	original := filehandler.ToNRGBA(raster)
	b := original.Bounds()
	return &Record{
		ID:       uuid.NewString(),
		Filename: filename,
		MIMEType: mimeType,
		Display:  filehandler.DisplayDimensions(b.Dx(), b.Dy()),
		Meta:     meta,
		original: original,
		current:  cloneNRGBA(original),
	}
}

// Original returns an independent copy of the original raster.
func (r *Record) Original() *image.NRGBA {
	return cloneNRGBA(r.original)
}

// Current returns an independent copy of the current raster.
func (r *Record) Current() *image.NRGBA {
	img, _ := r.CurrentRevision()
	return img
}

// CurrentRevision returns a copy of the current raster together with the
// revision it was taken at.
func (r *Record) CurrentRevision() (*image.NRGBA, uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneNRGBA(r.current), r.revision
}

// Revision counts replacements of the current raster.
func (r *Record) Revision() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.revision
}

// Size returns the natural pixel size of the original.
func (r *Record) Size() filehandler.Dimensions {
	b := r.original.Bounds()
	return filehandler.Dimensions{Width: b.Dx(), Height: b.Dy()}
}

// Modified reports whether the current raster has been replaced since
// creation or the last reset.
func (r *Record) Modified() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return !sameNRGBA(r.original, r.current)
}

func (r *Record) setCurrent(img image.Image) {
	next := filehandler.ToNRGBA(img)
	r.mu.Lock()
	r.current = next
	r.revision++
	r.mu.Unlock()
}

func (r *Record) resetToOriginal() {
	next := cloneNRGBA(r.original)
	r.mu.Lock()
	r.current = next
	r.revision++
	r.mu.Unlock()
}

func cloneNRGBA(src *image.NRGBA) *image.NRGBA {
	dst := &image.NRGBA{
		Pix:    make([]uint8, len(src.Pix)),
		Stride: src.Stride,
		Rect:   src.Rect,
	}
	copy(dst.Pix, src.Pix)
	return dst
}

func sameNRGBA(a, b *image.NRGBA) bool {
	if a.Rect != b.Rect || a.Stride != b.Stride || len(a.Pix) != len(b.Pix) {
		return false
	}
	for i := range a.Pix {
		if a.Pix[i] != b.Pix[i] {
			return false
		}
	}
	return true
}
