package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/fpang/picwizard/internal/cli"
	"github.com/fpang/picwizard/internal/codec"
	"github.com/fpang/picwizard/internal/controls"
	"github.com/fpang/picwizard/internal/enhance"
	"github.com/fpang/picwizard/internal/export"
	"github.com/fpang/picwizard/internal/session"
)

// maxJSONBody bounds control-plane request bodies.
const maxJSONBody = 1 << 20

// containsPathTraversal returns true if the path contains directory traversal
// sequences that could escape the intended directory.
//
// We check the raw segments before filepath.Clean resolves them, because
// Clean("/tmp/../etc") silently produces "/etc" with no ".." remaining.
func containsPathTraversal(p string) bool {
	for _, seg := range strings.Split(filepath.ToSlash(p), "/") {
		if seg == ".." {
			return true
		}
	}
	return false
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func httpError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// decodeJSON reads a bounded JSON body into v. An empty body leaves v as is.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.ContentLength == 0 {
		return true
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// statusFor maps workbench errors onto HTTP status codes.
func statusFor(err error) int {
	var exportErr *export.ExportError
	var svcErr *enhance.ServiceError
	switch {
	case errors.Is(err, session.ErrEmpty):
		return http.StatusConflict
	case errors.Is(err, session.ErrOutOfRange),
		errors.Is(err, enhance.ErrInvalidParams),
		errors.Is(err, enhance.ErrUnknownMethod),
		errors.Is(err, controls.ErrUnknownControl),
		errors.Is(err, codec.ErrUnknownFormat),
		errors.Is(err, codec.ErrQuality),
		errors.Is(err, cli.ErrPickCanceled):
		return http.StatusBadRequest
	case errors.As(err, &svcErr):
		return http.StatusBadGateway
	case errors.As(err, &exportErr) && (exportErr.Phase == export.PhaseBuild || exportErr.Phase == export.PhaseDownload):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondErr writes err with the status statusFor picks.
func respondErr(w http.ResponseWriter, err error) {
	httpError(w, statusFor(err), err.Error())
}
