package workbench

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fpang/picwizard/internal/codec"
	"github.com/fpang/picwizard/internal/compare"
	"github.com/fpang/picwizard/internal/config"
	"github.com/fpang/picwizard/internal/dispatch"
	"github.com/fpang/picwizard/internal/enhance"
	"github.com/fpang/picwizard/internal/filehandler"
	"github.com/fpang/picwizard/internal/metrics"
)

// fakeService mimics the processing service: gamma correction is computed
// for real, palettes are fixed, and batch archives are packed with the
// stdlib zip writer.
type fakeService struct {
	t *testing.T

	mu        sync.Mutex
	methods   []string
	builds    int
	downloads int
	entries   []string
	format    string
	quality   string
	archive   []byte
}

func (f *fakeService) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /enhance", f.enhance)
	mux.HandleFunc("POST /batch-enhance", f.batch)
	mux.HandleFunc("GET /download-batch", f.download)
	return mux
}

func (f *fakeService) enhance(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, `{"error":"bad form"}`, http.StatusBadRequest)
		return
	}
	method := r.FormValue("method")
	f.mu.Lock()
	f.methods = append(f.methods, method)
	f.mu.Unlock()

	file, _, err := r.FormFile("image")
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":"No image file"}`)
		return
	}
	defer file.Close()
	src, err := png.Decode(file)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":"Invalid image format"}`)
		return
	}

	switch method {
	case "gamma_correction":
		gamma, _ := strconv.ParseFloat(r.FormValue("gamma"), 64)
		out := image.NewNRGBA(src.Bounds())
		b := src.Bounds()
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				c := color.NRGBAModel.Convert(src.At(x, y)).(color.NRGBA)
				g := func(v uint8) uint8 {
					return uint8(math.Round(255 * math.Pow(float64(v)/255, 1/gamma)))
				}
				out.SetNRGBA(x, y, color.NRGBA{R: g(c.R), G: g(c.G), B: g(c.B), A: c.A})
			}
		}
		w.Header().Set("Content-Type", "image/png")
		png.Encode(w, out)
	case "palette_extraction":
		json.NewEncoder(w).Encode(map[string][]string{"colors": {"#102030", "#405060"}})
	default:
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":"Unknown enhancement method: `+method+`"}`)
	}
}

func (f *fakeService) batch(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	var names []string
	for _, fh := range r.MultipartForm.File["images"] {
		names = append(names, fh.Filename)
		src, _ := fh.Open()
		dst, _ := zw.Create(fh.Filename)
		io.Copy(dst, src)
		src.Close()
	}
	zw.Close()

	f.mu.Lock()
	f.builds++
	f.entries = names
	f.format = r.FormValue("format")
	f.quality = r.FormValue("quality")
	f.archive = buf.Bytes()
	f.mu.Unlock()

	json.NewEncoder(w).Encode(enhance.BatchAck{Status: "ready", Count: len(names)})
}

func (f *fakeService) download(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloads++
	w.Header().Set("Content-Type", "application/zip")
	w.Write(f.archive)
}

type memorySaver struct {
	mu    sync.Mutex
	saved map[string][]byte
}

func (m *memorySaver) Save(_ context.Context, name, _ string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saved == nil {
		m.saved = make(map[string][]byte)
	}
	m.saved[name] = data
	return "mem://" + name, nil
}

// manualClock fires scheduled callbacks only on Advance.
type manualClock struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*manualTimer
}

type manualTimer struct {
	at   time.Duration
	f    func()
	done bool
}

func (t *manualTimer) Stop() bool {
	was := !t.done
	t.done = true
	return was
}

func (c *manualClock) schedule(d time.Duration, f func()) dispatch.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{at: c.now + d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += d
	var due []*manualTimer
	for _, t := range c.timers {
		if !t.done && t.at <= c.now {
			t.done = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	for _, t := range due {
		t.f()
	}
}

type harness struct {
	wb      *Workbench
	svc     *fakeService
	saver   *memorySaver
	frames  *compare.FrameBuffer
	clock   *manualClock
	metrics *bytes.Buffer
	cleanup func()
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	svc := &fakeService{t: t}
	server := httptest.NewServer(svc.handler())

	cfg := &config.Config{
		ServiceURL:     server.URL,
		Timeout:        5 * time.Second,
		Debounce:       300 * time.Millisecond,
		MaxDecodes:     2,
		OutputDir:      t.TempDir(),
		EncodeCacheTTL: time.Minute,
	}
	h := &harness{
		svc:     svc,
		saver:   &memorySaver{},
		frames:  &compare.FrameBuffer{},
		clock:   &manualClock{},
		metrics: &bytes.Buffer{},
	}
	h.wb = New(cfg,
		WithSaver(h.saver),
		WithSurface(h.frames),
		WithScheduler(h.clock.schedule),
		WithMetrics(metrics.NewEmitter(h.metrics, "test")),
	)
	h.cleanup = func() {
		h.wb.Close()
		server.Close()
	}
	t.Cleanup(h.cleanup)
	return h
}

func pngUpload(t *testing.T, name string, w, h int, c color.NRGBA) filehandler.Upload {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: c.R, G: uint8(x * 10), B: c.B, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return filehandler.Upload{Name: name, ContentType: "image/png", Data: buf.Bytes()}
}

func TestScenarioEditCompareResetExport(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.wb.Upload(ctx, []filehandler.Upload{
		pngUpload(t, "one.png", 20, 10, color.NRGBA{R: 60}),
		pngUpload(t, "two.png", 20, 10, color.NRGBA{R: 90}),
		pngUpload(t, "three.png", 20, 10, color.NRGBA{R: 120}),
	})
	require.NoError(t, err)
	require.Equal(t, 3, res.Accepted())

	sess := h.wb.Session()
	assert.Equal(t, 3, sess.Len())
	assert.Equal(t, 0, sess.ActiveIndex())
	nav := sess.Navigation()
	assert.True(t, nav.Visible)
	assert.False(t, nav.PrevEnabled)
	assert.True(t, nav.NextEnabled)

	rec, err := sess.Active()
	require.NoError(t, err)
	preGamma := rec.Current()

	out, err := h.wb.ApplyNow(ctx, enhance.GammaCorrection{Gamma: 1.8})
	require.NoError(t, err)
	assert.True(t, out.Committed)
	assert.NotEqual(t, preGamma.Pix, rec.Current().Pix, "gamma must replace the current raster")
	assert.Equal(t, preGamma.Pix, rec.Original().Pix, "original stays unchanged")

	vp, err := h.wb.Renderer().Viewport()
	require.NoError(t, err)
	box := compare.Box{Left: 0, Width: float64(vp.Width)}
	_, err = h.wb.Drag(compare.PointerEvent{Kind: compare.PointerDown}, box)
	require.NoError(t, err)
	split, err := h.wb.Drag(compare.PointerEvent{Kind: compare.PointerMove, X: 0.25 * float64(vp.Width)}, box)
	require.NoError(t, err)
	assert.Equal(t, 25.0, split)
	_, err = h.wb.Drag(compare.PointerEvent{Kind: compare.PointerUp}, box)
	require.NoError(t, err)

	require.NoError(t, h.wb.Reset())
	assert.Equal(t, preGamma.Pix, rec.Current().Pix)
	assert.Equal(t, compare.DefaultSplit, h.wb.Renderer().Split())

	archive, err := h.wb.ExportAll(ctx, codec.JPEG, 0.8)
	require.NoError(t, err)

	h.svc.mu.Lock()
	assert.Equal(t, 1, h.svc.builds)
	assert.Equal(t, 1, h.svc.downloads)
	assert.Equal(t, []string{"one.jpg", "two.jpg", "three.jpg"}, h.svc.entries)
	assert.Equal(t, "jpeg", h.svc.format)
	assert.Equal(t, "0.8", h.svc.quality)
	h.svc.mu.Unlock()

	assert.Equal(t, 3, archive.Count)
	assert.Contains(t, h.saver.saved, "picwizard-batch.zip")
	assert.Equal(t, 0, sess.ActiveIndex())
	assert.False(t, h.wb.Status().Busy)
}

func TestScenarioMixedUpload(t *testing.T) {
	h := newHarness(t)

	res, err := h.wb.Upload(context.Background(), []filehandler.Upload{
		{Name: "report.pdf", ContentType: "application/pdf", Data: []byte("%PDF-1.7")},
		pngUpload(t, "ok.png", 8, 8, color.NRGBA{R: 10}),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, h.wb.Session().Len())
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "report.pdf", res.Errors[0].Filename)

	msgs := h.wb.Messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "report.pdf")

	nav := h.wb.Session().Navigation()
	assert.False(t, nav.Visible)
	assert.False(t, nav.PrevEnabled)
	assert.False(t, nav.NextEnabled)
}

func TestDebouncedSliderDispatchesOnce(t *testing.T) {
	h := newHarness(t)
	_, err := h.wb.Upload(context.Background(), []filehandler.Upload{pngUpload(t, "a.png", 6, 6, color.NRGBA{R: 50})})
	require.NoError(t, err)

	for _, g := range []float64{1.2, 1.4, 1.6, 1.8} {
		require.NoError(t, h.wb.Input(enhance.MethodGammaCorrection, "gamma", g))
		h.clock.Advance(100 * time.Millisecond)
	}
	h.clock.Advance(300 * time.Millisecond)
	h.wb.Wait()

	h.svc.mu.Lock()
	assert.Equal(t, []string{"gamma_correction"}, h.svc.methods)
	h.svc.mu.Unlock()

	rec, _ := h.wb.Session().Active()
	assert.True(t, rec.Modified())
	_, frames := h.frames.Frame()
	assert.GreaterOrEqual(t, frames, 2, "upload and commit both redraw")
}

func TestApplyButtonAndServiceError(t *testing.T) {
	h := newHarness(t)
	_, err := h.wb.Upload(context.Background(), []filehandler.Upload{pngUpload(t, "a.png", 4, 4, color.NRGBA{R: 50})})
	require.NoError(t, err)
	rec, _ := h.wb.Session().Active()
	before := rec.Current()

	require.NoError(t, h.wb.Apply(enhance.MethodGaussianBlur))
	h.wb.Wait()

	assert.Equal(t, before.Pix, rec.Current().Pix)
	assert.Equal(t, []string{"Unknown enhancement method: gaussian_blur"}, h.wb.Messages())
	assert.False(t, h.wb.Status().Busy)
}

func TestPaletteShownWithoutTouchingImage(t *testing.T) {
	h := newHarness(t)
	_, err := h.wb.Upload(context.Background(), []filehandler.Upload{pngUpload(t, "a.png", 4, 4, color.NRGBA{R: 50})})
	require.NoError(t, err)

	require.NoError(t, h.wb.Apply(enhance.MethodPaletteExtraction))
	h.wb.Wait()

	st := h.wb.Status()
	assert.Equal(t, []string{"#102030", "#405060"}, st.Palette)
	assert.False(t, st.Modified)
}

func TestNavigationResetsSplit(t *testing.T) {
	h := newHarness(t)
	_, err := h.wb.Upload(context.Background(), []filehandler.Upload{
		pngUpload(t, "a.png", 4, 4, color.NRGBA{}),
		pngUpload(t, "b.png", 4, 4, color.NRGBA{}),
	})
	require.NoError(t, err)

	_, err = h.wb.Renderer().SetSplit(10)
	require.NoError(t, err)
	require.NoError(t, h.wb.Next())
	assert.Equal(t, compare.DefaultSplit, h.wb.Renderer().Split())
	assert.Error(t, h.wb.Next())
	require.NoError(t, h.wb.Prev())
	assert.Equal(t, 0, h.wb.Session().ActiveIndex())
}

func TestActionsOnEmptyWorkbench(t *testing.T) {
	h := newHarness(t)
	assert.Error(t, h.wb.Input(enhance.MethodGammaCorrection, "gamma", 2))
	assert.Error(t, h.wb.Apply(enhance.MethodGammaCorrection))
	assert.Error(t, h.wb.Reset())
	_, err := h.wb.Frame()
	assert.Error(t, err)
	_, err = h.wb.ExportCurrent(context.Background(), codec.PNG, 1)
	assert.Error(t, err)
}

func TestExportCurrentAfterEnhancement(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.wb.Upload(ctx, []filehandler.Upload{pngUpload(t, "a.png", 30, 15, color.NRGBA{R: 40})})
	require.NoError(t, err)
	_, err = h.wb.ApplyNow(ctx, enhance.GammaCorrection{Gamma: 2})
	require.NoError(t, err)

	saved, err := h.wb.ExportCurrent(ctx, codec.PNG, 1)
	require.NoError(t, err)
	assert.Equal(t, "picwizard-enhanced.png", saved.Name)

	img, _, err := filehandler.Decode(h.saver.saved[saved.Name])
	require.NoError(t, err)
	rec, _ := h.wb.Session().Active()
	assert.Equal(t, rec.Current().Pix, img.Pix)
}

func TestBatchExportRedrawsRestoredImage(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.wb.Upload(ctx, []filehandler.Upload{
		pngUpload(t, "a.png", 20, 10, color.NRGBA{R: 40}),
		pngUpload(t, "b.png", 20, 10, color.NRGBA{R: 80}),
	})
	require.NoError(t, err)
	_, before := h.frames.Frame()

	// A commit that skipped the redraw because another image was active.
	rec, err := h.wb.Session().Active()
	require.NoError(t, err)
	committed := image.NewNRGBA(image.Rect(0, 0, 20, 10))
	for i := 0; i < len(committed.Pix); i += 4 {
		committed.Pix[i], committed.Pix[i+3] = 250, 255
	}
	require.NoError(t, h.wb.Session().SetCurrent(rec.ID, committed))

	_, err = h.wb.ExportAllLocal(ctx, codec.PNG, 1)
	require.NoError(t, err)

	frame, after := h.frames.Frame()
	assert.Greater(t, after, before)
	require.NotNil(t, frame)
	assert.Equal(t, uint8(250), frame.RGBAAt(frame.Bounds().Dx()-1, 0).R, "right band shows the committed raster")
	assert.Equal(t, 0, h.wb.Session().ActiveIndex())
}

func TestMetricsEmittedPerAction(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.wb.Upload(ctx, []filehandler.Upload{pngUpload(t, "a.png", 8, 8, color.NRGBA{R: 40})})
	require.NoError(t, err)
	_, err = h.wb.ApplyNow(ctx, enhance.GammaCorrection{Gamma: 2})
	require.NoError(t, err)
	_, err = h.wb.ExportAllLocal(ctx, codec.PNG, 1)
	require.NoError(t, err)

	var docs []map[string]interface{}
	for _, line := range bytes.Split(bytes.TrimSpace(h.metrics.Bytes()), []byte("\n")) {
		var doc map[string]interface{}
		require.NoError(t, json.Unmarshal(line, &doc))
		docs = append(docs, doc)
	}
	require.Len(t, docs, 3)
	assert.Equal(t, 1.0, docs[0]["IngestAccepted"])
	assert.Equal(t, "gamma_correction", docs[1]["Method"])
	assert.Equal(t, 1.0, docs[1]["EnhanceCommitted"])
	assert.Equal(t, "local", docs[2]["Export"])
	assert.Equal(t, 1.0, docs[2]["ExportImages"])
	assert.Equal(t, "test", docs[2]["Command"])
}
