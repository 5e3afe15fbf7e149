package enhance

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/picwizard/internal/filehandler"
	"github.com/fpang/picwizard/internal/jsonutil"
)

const (
	// DefaultBaseURL is where the processing service listens by default.
	DefaultBaseURL = "http://localhost:8000"

	// defaultTimeout bounds each service call.
	defaultTimeout = 60 * time.Second

	enhancePath       = "/enhance"
	batchEnhancePath  = "/batch-enhance"
	downloadBatchPath = "/download-batch"

	// maxResponseSize bounds a response body read into memory.
	maxResponseSize = 200 * 1024 * 1024
)

// ServiceError is a non-2xx response from the processing service.
type ServiceError struct {
	Status  int
	Message string

	// Reported is true when Message came from the service's error payload
	// rather than the HTTP status text.
	Reported bool
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("enhancement service error (status %d): %s", e.Status, e.Message)
}

type errorResponse struct {
	Error string `json:"error"`
}

// Result is the outcome of one enhance call. Exactly one field is set,
// chosen by the operation's Yields.
type Result struct {
	Raster  *image.NRGBA
	Palette Palette
}

// BatchEntry is one pre-encoded image sent to the batch-build endpoint.
type BatchEntry struct {
	Name        string
	ContentType string
	Data        []byte
}

// BatchAck is the batch-build acknowledgement. Fields are optional.
type BatchAck struct {
	Status string `json:"status,omitempty"`
	Count  int    `json:"count,omitempty"`
}

// Client calls the processing service.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// NewClient creates a client for the service at baseURL. token, when set,
// is sent as a bearer token. timeout <= 0 selects 60s.
func NewClient(baseURL string, timeout time.Duration, token string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
	}
}

// BaseURL returns the service root.
func (c *Client) BaseURL() string { return c.baseURL }

// Enhance sends the PNG-encoded input and op to the service. The result is
// decoded as a raster or a palette according to op.Yields().
func (c *Client) Enhance(ctx context.Context, op Operation, pngData []byte) (*Result, error) {
	if err := op.Validate(); err != nil {
		return nil, err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := Encode(mw, op, pngData); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart body: %w", err)
	}

	data, err := c.do(ctx, http.MethodPost, enhancePath, mw.FormDataContentType(), &body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op.Method(), err)
	}

	if op.Yields() == YieldPalette {
		p, err := ParsePalette(data)
		if err != nil {
			return nil, err
		}
		log.Debug().Str("method", string(op.Method())).Int("colors", len(p)).Msg("Palette received")
		return &Result{Palette: p}, nil
	}

	raster, format, err := filehandler.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: service returned an undecodable image: %w", op.Method(), err)
	}
	log.Debug().
		Str("method", string(op.Method())).
		Str("format", format).
		Int("width", raster.Bounds().Dx()).
		Int("height", raster.Bounds().Dy()).
		Msg("Enhanced raster received")
	return &Result{Raster: raster}, nil
}

// BuildBatch uploads every entry in one request and asks the service to
// pack them into an archive with the given format and quality.
func (c *Client) BuildBatch(ctx context.Context, entries []BatchEntry, format string, quality float64) (*BatchAck, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, e := range entries {
		if err := writeFile(mw, "images", e.Name, e.ContentType, e.Data); err != nil {
			return nil, err
		}
	}
	fields := []Param{
		{"format", format},
		{"quality", strconv.FormatFloat(quality, 'f', -1, 64)},
		{"method", string(MethodIdentity)},
	}
	for _, f := range fields {
		if err := mw.WriteField(f.Name, f.Value); err != nil {
			return nil, fmt.Errorf("write %s field: %w", f.Name, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart body: %w", err)
	}

	data, err := c.do(ctx, http.MethodPost, batchEnhancePath, mw.FormDataContentType(), &body)
	if err != nil {
		return nil, fmt.Errorf("batch build: %w", err)
	}

	ack := &BatchAck{}
	if len(bytes.TrimSpace(data)) > 0 {
		parsed, err := jsonutil.Parse[BatchAck](data)
		if err != nil {
			log.Debug().Err(err).Msg("Batch acknowledgement is not JSON, ignoring body")
		} else {
			*ack = parsed
		}
	}
	log.Info().Int("entries", len(entries)).Str("status", ack.Status).Msg("Batch archive built")
	return ack, nil
}

// DownloadBatch retrieves the archive built by the last BuildBatch.
func (c *Client) DownloadBatch(ctx context.Context) ([]byte, error) {
	data, err := c.do(ctx, http.MethodGet, downloadBatchPath, "", nil)
	if err != nil {
		return nil, fmt.Errorf("batch download: %w", err)
	}
	return data, nil
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader) ([]byte, error) {
	startTime := time.Now()
	log.Debug().Str("method", method).Str("path", path).Msg("Enhancement service request")

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	duration := time.Since(startTime)
	if err != nil {
		log.Debug().Int("statusCode", 0).Dur("duration", duration).Err(err).Msg("Enhancement service response")
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	log.Debug().Int("statusCode", resp.StatusCode).Dur("duration", duration).Msg("Enhancement service response")

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, serviceError(resp.StatusCode, data)
	}
	return data, nil
}

// serviceError prefers the {"error": "..."} payload and falls back to the
// status text when the body is not that shape.
func serviceError(status int, body []byte) *ServiceError {
	if er, err := jsonutil.Parse[errorResponse](body); err == nil && er.Error != "" {
		return &ServiceError{Status: status, Message: er.Error, Reported: true}
	}
	msg := http.StatusText(status)
	if msg == "" {
		msg = "request failed"
	}
	return &ServiceError{Status: status, Message: msg}
}
