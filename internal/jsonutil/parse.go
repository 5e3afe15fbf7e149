// Package jsonutil decodes JSON bodies returned by the processing service,
// which may arrive with a byte-order mark, surrounding whitespace or a
// plain-text prefix from an intermediate proxy.
package jsonutil

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNoJSON is returned when a body contains no object or array.
var ErrNoJSON = errors.New("no JSON content found")

// previewLen bounds the body excerpt carried in errors.
const previewLen = 200

var bom = []byte{0xEF, 0xBB, 0xBF}

// ExtractJSON returns the JSON object or array embedded in body.
// It finds the first { or [ and matches it with the last corresponding } or ].
func ExtractJSON(body []byte) ([]byte, error) {
	body = bytes.TrimSpace(bytes.TrimPrefix(body, bom))

	objIdx := bytes.IndexByte(body, '{')
	arrIdx := bytes.IndexByte(body, '[')
	if objIdx == -1 && arrIdx == -1 {
		return nil, ErrNoJSON
	}

	var startIdx int
	var endChar byte
	if arrIdx == -1 || (objIdx != -1 && objIdx <= arrIdx) {
		startIdx = objIdx
		endChar = '}'
	} else {
		startIdx = arrIdx
		endChar = ']'
	}

	body = body[startIdx:]
	endIdx := bytes.LastIndexByte(body, endChar)
	if endIdx == -1 {
		return nil, fmt.Errorf("no closing %c found", endChar)
	}
	return body[:endIdx+1], nil
}

// Parse extracts the JSON content of body and unmarshals it into T.
func Parse[T any](body []byte) (T, error) {
	var zero T
	raw, err := ExtractJSON(body)
	if err != nil {
		return zero, fmt.Errorf("%w (body length: %d)", err, len(body))
	}

	var result T
	if err := json.Unmarshal(raw, &result); err != nil {
		return zero, fmt.Errorf("invalid JSON: %w (text: %s)", err, Preview(string(raw)))
	}
	return result, nil
}

// Preview truncates s for inclusion in logs and errors.
func Preview(s string) string {
	if len(s) <= previewLen {
		return s
	}
	return s[:previewLen] + "..."
}
