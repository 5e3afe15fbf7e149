// Package ingest validates and decodes raw uploads into session records.
//
// Decodes run concurrently, one goroutine per file bounded by a semaphore,
// and are joined before the session is touched. The session is only replaced
// when at least one file decoded; a batch where every file failed leaves the
// previous session in place.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/picwizard/internal/filehandler"
	"github.com/fpang/picwizard/internal/session"
)

// DefaultMaxConcurrentDecodes bounds decode goroutines when no limit is set.
const DefaultMaxConcurrentDecodes = 4

// ErrNoUploads is returned when Ingest is called with an empty batch.
var ErrNoUploads = errors.New("no files to ingest")

// IngestError describes one rejected upload.
type IngestError struct {
	Filename string
	Err      error
}

func (e *IngestError) Error() string {
	return fmt.Sprintf("%s: %v", e.Filename, e.Err)
}

func (e *IngestError) Unwrap() error { return e.Err }

// Result reports the outcome of one ingest batch.
type Result struct {
	// Records holds the accepted records in upload order.
	Records []*session.Record

	// Errors holds per-file failures in upload order.
	Errors []*IngestError

	// Replaced is true when the session now holds Records.
	Replaced bool

	Duration time.Duration
}

// Accepted returns the number of files that became records.
func (r *Result) Accepted() int { return len(r.Records) }

// Rejected returns the number of files that failed.
func (r *Result) Rejected() int { return len(r.Errors) }

// Ingestor turns uploads into records and installs them into a session.
type Ingestor struct {
	sess       *session.Session
	maxDecodes int
}

// New creates an Ingestor feeding sess. maxDecodes <= 0 selects
// DefaultMaxConcurrentDecodes.
func New(sess *session.Session, maxDecodes int) *Ingestor {
	if maxDecodes <= 0 {
		maxDecodes = DefaultMaxConcurrentDecodes
	}
	return &Ingestor{sess: sess, maxDecodes: maxDecodes}
}

// decoded is the per-slot outcome of one upload.
type decoded struct {
	record *session.Record
	err    error
}

// Ingest validates and decodes every upload, then replaces the session's
// records with the accepted ones. Per-file failures never abort the batch.
// The only returned errors are ErrNoUploads and context cancellation.
func (in *Ingestor) Ingest(ctx context.Context, uploads []filehandler.Upload) (*Result, error) {
	if len(uploads) == 0 {
		return nil, ErrNoUploads
	}

	start := time.Now()
	log.Info().Int("files", len(uploads)).Int("max_decodes", in.maxDecodes).Msg("Ingesting uploads")

	slots := make([]decoded, len(uploads))
	var wg sync.WaitGroup
	sem := make(chan struct{}, in.maxDecodes)

	for i := range uploads {
		up := uploads[i]
		if up.ContentType == "" {
			if mt, err := filehandler.GetMIMEType(filepath.Ext(up.Name)); err == nil {
				up.ContentType = mt
			}
		}
		if err := up.Validate(); err != nil {
			slots[i].err = err
			continue
		}

		wg.Add(1)
		go func(idx int, u filehandler.Upload) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				slots[idx].err = ctx.Err()
				return
			}
			defer func() { <-sem }()

			rec, err := decodeUpload(u)
			slots[idx] = decoded{record: rec, err: err}
		}(i, up)
	}

	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("ingest cancelled: %w", err)
	}

	res := &Result{}
	for i, s := range slots {
		if s.err != nil {
			ie := &IngestError{Filename: uploads[i].Name, Err: s.err}
			res.Errors = append(res.Errors, ie)
			log.Warn().Err(s.err).Str("file", uploads[i].Name).Msg("Upload rejected")
			continue
		}
		res.Records = append(res.Records, s.record)
	}

	if len(res.Records) > 0 {
		in.sess.ReplaceAll(res.Records)
		res.Replaced = true
	} else {
		log.Warn().Int("rejected", len(res.Errors)).Msg("No upload decoded, keeping previous session")
	}

	res.Duration = time.Since(start)
	log.Info().
		Int("accepted", res.Accepted()).
		Int("rejected", res.Rejected()).
		Dur("duration", res.Duration).
		Msg("Ingest complete")
	return res, nil
}

// decodeUpload decodes one validated upload into a record. Missing EXIF is
// not an error; the record simply carries no metadata.
func decodeUpload(u filehandler.Upload) (*session.Record, error) {
	raster, format, err := filehandler.Decode(u.Data)
	if err != nil {
		return nil, err
	}

	meta, err := filehandler.ExtractImageMetadata(u.Data)
	if err != nil {
		log.Debug().Err(err).Str("file", u.Name).Msg("No EXIF metadata")
		meta = nil
	}

	rec := session.NewRecord(u.Name, u.ContentType, raster, meta)
	log.Debug().
		Str("file", u.Name).
		Str("format", format).
		Int("width", rec.Size().Width).
		Int("height", rec.Size().Height).
		Str("camera", meta.Camera()).
		Msg("Upload decoded")
	return rec, nil
}
