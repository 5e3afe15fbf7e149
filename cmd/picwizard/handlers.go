package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/picwizard/internal/cli"
	"github.com/fpang/picwizard/internal/codec"
	"github.com/fpang/picwizard/internal/compare"
	"github.com/fpang/picwizard/internal/enhance"
	"github.com/fpang/picwizard/internal/filehandler"
	"github.com/fpang/picwizard/internal/workbench"
)

// maxUploadMemory is how much of a multipart upload is held in memory
// before spilling to temp files.
const maxUploadMemory = 64 << 20

// uploadField is the multipart field carrying image files.
const uploadField = "files"

// server exposes one workbench over HTTP.
type server struct {
	wb *workbench.Workbench

	// pick opens the native picker; replaced in tests.
	pick func() ([]string, error)
}

func newServer(wb *workbench.Workbench) *server {
	return &server{wb: wb, pick: cli.PickFiles}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/messages", s.handleMessages)
	mux.HandleFunc("POST /api/upload", s.handleUpload)
	mux.HandleFunc("POST /api/open", s.handleOpen)
	mux.HandleFunc("POST /api/pick", s.handlePick)
	mux.HandleFunc("POST /api/active", s.handleActive)
	mux.HandleFunc("POST /api/next", s.handleNext)
	mux.HandleFunc("POST /api/prev", s.handlePrev)
	mux.HandleFunc("POST /api/input", s.handleInput)
	mux.HandleFunc("POST /api/apply", s.handleApply)
	mux.HandleFunc("POST /api/reset", s.handleReset)
	mux.HandleFunc("POST /api/drag", s.handleDrag)
	mux.HandleFunc("POST /api/resize", s.handleResize)
	mux.HandleFunc("GET /api/frame", s.handleFrame)
	mux.HandleFunc("GET /api/current", s.handleCurrent)
	mux.HandleFunc("POST /api/export", s.handleExport)
	mux.HandleFunc("POST /api/export/current", s.handleExportCurrent)
	return mux
}

// GET /api/status
func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.wb.Status())
}

// GET /api/messages drains pending user-facing errors.
func (s *server) handleMessages(w http.ResponseWriter, r *http.Request) {
	msgs := s.wb.Messages()
	if msgs == nil {
		msgs = []string{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"messages": msgs})
}

type ingestResponse struct {
	Accepted int              `json:"accepted"`
	Rejected []rejectedUpload `json:"rejected"`
	Duration string           `json:"duration"`
	Status   workbench.Status `json:"status"`
}

type rejectedUpload struct {
	Filename string `json:"filename"`
	Error    string `json:"error"`
}

// ingest runs uploads through the workbench and writes the summary.
// unread lists parts that were rejected before reaching the workbench.
func (s *server) ingest(w http.ResponseWriter, r *http.Request, uploads []filehandler.Upload, unread []rejectedUpload) {
	rejected := make([]rejectedUpload, 0, len(unread))
	rejected = append(rejected, unread...)
	if len(uploads) == 0 && len(unread) > 0 {
		respondJSON(w, http.StatusUnprocessableEntity, ingestResponse{
			Rejected: rejected,
			Duration: cli.FormatDurationShort(0),
			Status:   s.wb.Status(),
		})
		return
	}

	res, err := s.wb.Upload(r.Context(), uploads)
	if err != nil {
		respondErr(w, err)
		return
	}
	resp := ingestResponse{
		Accepted: res.Accepted(),
		Rejected: rejected,
		Duration: cli.FormatDurationShort(res.Duration),
		Status:   s.wb.Status(),
	}
	for _, ie := range res.Errors {
		resp.Rejected = append(resp.Rejected, rejectedUpload{Filename: ie.Filename, Error: ie.Err.Error()})
	}
	status := http.StatusOK
	if !res.Replaced {
		status = http.StatusUnprocessableEntity
	}
	respondJSON(w, status, resp)
}

// POST /api/upload (multipart, repeated "files" parts)
func (s *server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		httpError(w, http.StatusBadRequest, "invalid multipart body: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File[uploadField]
	if len(headers) == 0 {
		httpError(w, http.StatusBadRequest, "no files in field \""+uploadField+"\"")
		return
	}

	uploads, unread := readParts(formParts(headers))
	s.ingest(w, r, uploads, unread)
}

// uploadPart is one multipart file waiting to be read.
type uploadPart struct {
	name        string
	contentType string
	open        func() (io.ReadCloser, error)
}

func formParts(headers []*multipart.FileHeader) []uploadPart {
	parts := make([]uploadPart, len(headers))
	for i, fh := range headers {
		parts[i] = uploadPart{
			name:        fh.Filename,
			contentType: fh.Header.Get("Content-Type"),
			open:        func() (io.ReadCloser, error) { return fh.Open() },
		}
	}
	return parts
}

// readParts loads every part into memory. A part that cannot be read is
// rejected on its own; the rest of the batch still goes through.
func readParts(parts []uploadPart) ([]filehandler.Upload, []rejectedUpload) {
	uploads := make([]filehandler.Upload, 0, len(parts))
	var unread []rejectedUpload
	for _, p := range parts {
		data, err := readPart(p)
		if err != nil {
			log.Warn().Err(err).Str("file", p.name).Msg("Failed to read uploaded part")
			unread = append(unread, rejectedUpload{Filename: p.name, Error: err.Error()})
			continue
		}
		uploads = append(uploads, filehandler.Upload{
			Name:        p.name,
			ContentType: p.contentType,
			Data:        data,
		})
	}
	return uploads, unread
}

func readPart(p uploadPart) ([]byte, error) {
	f, err := p.open()
	if err != nil {
		return nil, fmt.Errorf("cannot open %s: %w", p.name, err)
	}
	defer f.Close()
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, f); err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", p.name, err)
	}
	return buf.Bytes(), nil
}

// POST /api/open {"paths": [...]} loads files or directories from disk.
func (s *server) handleOpen(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Paths []string `json:"paths"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Paths) == 0 {
		httpError(w, http.StatusBadRequest, "paths is required")
		return
	}
	for _, p := range req.Paths {
		if containsPathTraversal(p) {
			httpError(w, http.StatusBadRequest, "invalid path")
			return
		}
	}
	s.openPaths(w, r, req.Paths)
}

// POST /api/pick opens the native file picker and loads the selection.
func (s *server) handlePick(w http.ResponseWriter, r *http.Request) {
	paths, err := s.pick()
	if err != nil {
		if errors.Is(err, cli.ErrPickCanceled) {
			respondJSON(w, http.StatusOK, map[string]interface{}{"canceled": true})
			return
		}
		log.Error().Err(err).Msg("File picker failed")
		httpError(w, http.StatusInternalServerError, "failed to open file picker")
		return
	}
	s.openPaths(w, r, paths)
}

func (s *server) openPaths(w http.ResponseWriter, r *http.Request, paths []string) {
	resolved, err := cli.ResolveInputs(paths, filehandler.ScanOptions{})
	if err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.ingest(w, r, cli.LoadUploads(resolved), nil)
}

// POST /api/active {"index": n}
func (s *server) handleActive(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Index int `json:"index"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	s.respondStatus(w, s.wb.SetActive(req.Index))
}

// POST /api/next
func (s *server) handleNext(w http.ResponseWriter, r *http.Request) {
	s.respondStatus(w, s.wb.Next())
}

// POST /api/prev
func (s *server) handlePrev(w http.ResponseWriter, r *http.Request) {
	s.respondStatus(w, s.wb.Prev())
}

// POST /api/input {"family": "...", "param": "...", "value": 1.2}
func (s *server) handleInput(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Family string  `json:"family"`
		Param  string  `json:"param"`
		Value  float64 `json:"value"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.wb.Input(enhance.Method(req.Family), req.Param, req.Value); err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, s.wb.Status())
}

// POST /api/apply {"family": "...", "wait": true}
func (s *server) handleApply(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Family string `json:"family"`
		Wait   bool   `json:"wait"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.wb.Apply(enhance.Method(req.Family)); err != nil {
		respondErr(w, err)
		return
	}
	if !req.Wait {
		respondJSON(w, http.StatusAccepted, s.wb.Status())
		return
	}
	s.wb.Wait()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":   s.wb.Status(),
		"messages": s.wb.Messages(),
	})
}

// POST /api/reset
func (s *server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.respondStatus(w, s.wb.Reset())
}

// POST /api/drag {"kind": "down|move|up", "source": "mouse|touch", "x": .., "touches": [..], "left": .., "width": ..}
func (s *server) handleDrag(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Kind    string    `json:"kind"`
		Source  string    `json:"source"`
		X       float64   `json:"x"`
		Touches []float64 `json:"touches"`
		Left    float64   `json:"left"`
		Width   float64   `json:"width"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	ev, err := pointerEvent(req.Kind, req.Source, req.X, req.Touches)
	if err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	split, err := s.wb.Drag(ev, compare.Box{Left: req.Left, Width: req.Width})
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]float64{"split": split})
}

func pointerEvent(kind, source string, x float64, touches []float64) (compare.PointerEvent, error) {
	ev := compare.PointerEvent{X: x, Touches: touches}
	switch kind {
	case "down":
		ev.Kind = compare.PointerDown
	case "move":
		ev.Kind = compare.PointerMove
	case "up":
		ev.Kind = compare.PointerUp
	default:
		return ev, fmt.Errorf("unknown pointer kind %q", kind)
	}
	switch source {
	case "", "mouse":
		ev.Source = compare.Mouse
	case "touch":
		ev.Source = compare.Touch
	default:
		return ev, fmt.Errorf("unknown pointer source %q", source)
	}
	return ev, nil
}

// POST /api/resize {"maxWidth": .., "maxHeight": ..}
func (s *server) handleResize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MaxWidth  int `json:"maxWidth"`
		MaxHeight int `json:"maxHeight"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if _, err := s.wb.Resize(req.MaxWidth, req.MaxHeight); err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s.wb.Status())
}

// GET /api/frame returns the comparison frame as PNG.
func (s *server) handleFrame(w http.ResponseWriter, r *http.Request) {
	frame, err := s.wb.Frame()
	if err != nil {
		respondErr(w, err)
		return
	}
	data, err := codec.EncodeBytes(frame, codec.PNG, 1)
	if err != nil {
		respondErr(w, err)
		return
	}
	w.Header().Set("Content-Type", codec.PNG.ContentType())
	w.Header().Set("Cache-Control", "no-store")
	w.Write(data)
}

// GET /api/current?format=jpeg&quality=0.9 downloads the active image's
// current raster at natural resolution.
func (s *server) handleCurrent(w http.ResponseWriter, r *http.Request) {
	format, quality, err := formatQuery(r)
	if err != nil {
		respondErr(w, err)
		return
	}
	rec, err := s.wb.Session().Active()
	if err != nil {
		respondErr(w, err)
		return
	}
	data, err := codec.EncodeBytes(rec.Current(), format, quality)
	if err != nil {
		respondErr(w, err)
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="picwizard-enhanced%s"`, format.Extension()))
	w.Header().Set("Last-Modified", time.Now().UTC().Format(http.TimeFormat))
	w.Write(data)
}

func formatQuery(r *http.Request) (codec.Format, float64, error) {
	q := r.URL.Query()
	format := codec.PNG
	if v := q.Get("format"); v != "" {
		f, err := codec.ParseFormat(v)
		if err != nil {
			return "", 0, err
		}
		format = f
	}
	quality := codec.DefaultQuality
	if v := q.Get("quality"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return "", 0, fmt.Errorf("%w: %q", codec.ErrQuality, v)
		}
		quality = f
	}
	if err := codec.ValidateQuality(quality); err != nil {
		return "", 0, err
	}
	return format, quality, nil
}

type exportRequest struct {
	Format  string  `json:"format"`
	Quality float64 `json:"quality"`
	Local   bool    `json:"local"`
}

func (req exportRequest) parse() (codec.Format, float64, error) {
	format := codec.PNG
	if req.Format != "" {
		f, err := codec.ParseFormat(req.Format)
		if err != nil {
			return "", 0, err
		}
		format = f
	}
	quality := req.Quality
	if quality == 0 {
		quality = codec.DefaultQuality
	}
	return format, quality, codec.ValidateQuality(quality)
}

// POST /api/export {"format": "jpeg", "quality": 0.8, "local": false}
func (s *server) handleExport(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	format, quality, err := req.parse()
	if err != nil {
		respondErr(w, err)
		return
	}
	run := s.wb.ExportAll
	if req.Local {
		run = s.wb.ExportAllLocal
	}
	archive, err := run(r.Context(), format, quality)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, archive)
}

// POST /api/export/current {"format": "png"}
func (s *server) handleExportCurrent(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	format, quality, err := req.parse()
	if err != nil {
		respondErr(w, err)
		return
	}
	saved, err := s.wb.ExportCurrent(r.Context(), format, quality)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, saved)
}

// respondStatus writes err or the fresh status.
func (s *server) respondStatus(w http.ResponseWriter, err error) {
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s.wb.Status())
}
