// Package export re-encodes session images and saves them, either one at a
// time or as a batch archive built by the processing service.
package export

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/picwizard/internal/codec"
	"github.com/fpang/picwizard/internal/dispatch"
	"github.com/fpang/picwizard/internal/enhance"
	"github.com/fpang/picwizard/internal/session"
)

const (
	// ArchiveName is the saved name of a batch archive.
	ArchiveName = "picwizard-batch.zip"

	// currentBaseName is the saved name of a single export, minus extension.
	currentBaseName = "picwizard-enhanced"

	archiveContentType = "application/zip"
)

// Phase names the step of an export that failed.
type Phase string

const (
	PhaseEncode   Phase = "encode"
	PhaseBuild    Phase = "build"
	PhaseDownload Phase = "download"
	PhaseSave     Phase = "save"
)

// ExportError is an export failure tagged with its phase.
type ExportError struct {
	Phase Phase
	Err   error
}

func (e *ExportError) Error() string {
	return fmt.Sprintf("export failed during %s: %v", e.Phase, e.Err)
}

func (e *ExportError) Unwrap() error { return e.Err }

// BatchClient builds and retrieves archives on the processing service.
type BatchClient interface {
	BuildBatch(ctx context.Context, entries []enhance.BatchEntry, format string, quality float64) (*enhance.BatchAck, error)
	DownloadBatch(ctx context.Context) ([]byte, error)
}

// Archive describes a saved batch export.
type Archive struct {
	Name     string         `json:"name"`
	Location string         `json:"location"`
	Size     int            `json:"size"`
	Count    int            `json:"count"`
	Entries  []ArchiveEntry `json:"entries,omitempty"`
}

// Saved describes a saved single-image export.
type Saved struct {
	Name     string `json:"name"`
	Location string `json:"location"`
	Size     int    `json:"size"`
}

// Exporter drives exports for one session.
type Exporter struct {
	sess      *session.Session
	client    BatchClient
	cache     *codec.Cache
	saver     Saver
	indicator *dispatch.Indicator
}

// New creates an Exporter. cache and indicator may be nil.
func New(sess *session.Session, client BatchClient, saver Saver, cache *codec.Cache, indicator *dispatch.Indicator) *Exporter {
	if cache == nil {
		cache = codec.NewCache(0)
	}
	if indicator == nil {
		indicator = dispatch.NewIndicator(nil)
	}
	return &Exporter{sess: sess, client: client, cache: cache, saver: saver, indicator: indicator}
}

// ExportAll encodes every image's current raster, has the service pack them
// into one archive, downloads it and saves it as ArchiveName. The active
// image is restored afterwards whether or not the export succeeded.
func (e *Exporter) ExportAll(ctx context.Context, format codec.Format, quality float64) (*Archive, error) {
	release := e.indicator.Acquire()
	defer release()

	start := time.Now()
	entries, err := e.collect(format, quality)
	if err != nil {
		return nil, err
	}

	log.Info().
		Int("images", len(entries)).
		Str("format", string(format)).
		Float64("quality", quality).
		Msg("Building batch archive")

	if _, err := e.client.BuildBatch(ctx, entries, string(format), quality); err != nil {
		return nil, e.fail(PhaseBuild, err)
	}
	data, err := e.client.DownloadBatch(ctx)
	if err != nil {
		return nil, e.fail(PhaseDownload, err)
	}

	archive, err := e.saveArchive(ctx, data, len(entries))
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("location", archive.Location).
		Int("count", archive.Count).
		Dur("duration", time.Since(start)).
		Msg("Batch export complete")
	return archive, nil
}

// ExportAllLocal packs the same entries as ExportAll into a zstd zip
// without involving the service.
func (e *Exporter) ExportAllLocal(ctx context.Context, format codec.Format, quality float64) (*Archive, error) {
	release := e.indicator.Acquire()
	defer release()

	entries, err := e.collect(format, quality)
	if err != nil {
		return nil, err
	}
	files := make([]namedData, len(entries))
	for i, en := range entries {
		files[i] = namedData{name: en.Name, data: en.Data}
	}
	data, err := pack(files)
	if err != nil {
		return nil, e.fail(PhaseBuild, err)
	}
	return e.saveArchive(ctx, data, len(entries))
}

// ExportCurrent encodes the active image's current raster at full
// resolution and saves it as picwizard-enhanced.<ext>.
func (e *Exporter) ExportCurrent(ctx context.Context, format codec.Format, quality float64) (*Saved, error) {
	release := e.indicator.Acquire()
	defer release()

	rec, err := e.sess.Active()
	if err != nil {
		return nil, e.fail(PhaseEncode, err)
	}
	enc, err := e.cache.EncodeCurrent(rec, format, quality)
	if err != nil {
		return nil, e.fail(PhaseEncode, err)
	}

	name := currentBaseName + format.Extension()
	loc, err := e.saver.Save(ctx, name, format.ContentType(), enc.Data)
	if err != nil {
		return nil, e.fail(PhaseSave, err)
	}
	return &Saved{Name: name, Location: loc, Size: len(enc.Data)}, nil
}

// collect walks the session in order, making each image active while its
// current raster is encoded, then restores the original active image.
func (e *Exporter) collect(format codec.Format, quality float64) (entries []enhance.BatchEntry, err error) {
	if err := codec.ValidateQuality(quality); err != nil {
		return nil, e.fail(PhaseEncode, err)
	}
	records := e.sess.Records()
	if len(records) == 0 {
		return nil, e.fail(PhaseEncode, session.ErrEmpty)
	}

	restore := e.sess.ActiveIndex()
	defer func() {
		if rerr := e.sess.SetActive(restore); rerr != nil {
			log.Warn().Err(rerr).Int("index", restore).Msg("Failed to restore active image")
		}
	}()

	names := newNamer()
	entries = make([]enhance.BatchEntry, 0, len(records))
	for i, rec := range records {
		if err := e.sess.SetActive(i); err != nil {
			return nil, e.fail(PhaseEncode, err)
		}
		enc, err := e.cache.EncodeCurrent(rec, format, quality)
		if err != nil {
			return nil, e.fail(PhaseEncode, err)
		}
		entries = append(entries, enhance.BatchEntry{
			Name:        names.next(entryName(rec.Filename, format)),
			ContentType: format.ContentType(),
			Data:        enc.Data,
		})
	}
	return entries, nil
}

func (e *Exporter) saveArchive(ctx context.Context, data []byte, want int) (*Archive, error) {
	archive := &Archive{Name: ArchiveName, Size: len(data), Count: want}
	if listing, err := Inspect(data); err != nil {
		log.Warn().Err(err).Msg("Downloaded archive could not be inspected")
	} else {
		archive.Entries = listing
		archive.Count = len(listing)
		if len(listing) != want {
			log.Warn().Int("expected", want).Int("actual", len(listing)).Msg("Archive entry count mismatch")
		}
	}

	loc, err := e.saver.Save(ctx, ArchiveName, archiveContentType, data)
	if err != nil {
		return nil, e.fail(PhaseSave, err)
	}
	archive.Location = loc
	return archive, nil
}

func (e *Exporter) fail(phase Phase, err error) error {
	var ee *ExportError
	if errors.As(err, &ee) {
		return err
	}
	log.Error().Err(err).Str("phase", string(phase)).Msg("Export failed")
	return &ExportError{Phase: phase, Err: err}
}

// entryName swaps the filename's extension for the encoding's.
func entryName(filename string, format codec.Format) string {
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	if base == "" || base == "." {
		base = "image"
	}
	return base + format.Extension()
}

// namer hands out unique names, suffixing repeats with " (n)".
type namer struct {
	seen map[string]int
}

func newNamer() *namer {
	return &namer{seen: make(map[string]int)}
}

func (n *namer) next(name string) string {
	key := strings.ToLower(name)
	count := n.seen[key]
	n.seen[key] = count + 1
	if count == 0 {
		return name
	}
	ext := filepath.Ext(name)
	candidate := fmt.Sprintf("%s (%d)%s", strings.TrimSuffix(name, ext), count, ext)
	return n.next(candidate)
}
