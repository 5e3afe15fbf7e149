// Package workbench wires the session, ingestor, dispatcher, control panel,
// comparison renderer and exporter into one editing controller.
//
// A Workbench owns exactly one Session. Every user action (upload,
// navigation, slider input, apply, drag, reset, export) is a method here,
// and each one leaves the renderer showing the active image in its latest
// committed state.
package workbench

import (
	"context"
	"errors"
	"image"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/picwizard/internal/codec"
	"github.com/fpang/picwizard/internal/compare"
	"github.com/fpang/picwizard/internal/config"
	"github.com/fpang/picwizard/internal/controls"
	"github.com/fpang/picwizard/internal/dispatch"
	"github.com/fpang/picwizard/internal/enhance"
	"github.com/fpang/picwizard/internal/export"
	"github.com/fpang/picwizard/internal/filehandler"
	"github.com/fpang/picwizard/internal/ingest"
	"github.com/fpang/picwizard/internal/metrics"
	"github.com/fpang/picwizard/internal/session"
)

// maxMessages bounds the retained error messages.
const maxMessages = 20

// Option configures a Workbench.
type Option func(*options)

type options struct {
	saver     export.Saver
	surface   compare.Surface
	scheduler dispatch.Scheduler
	onBusy    func(bool)
	metrics   *metrics.Emitter
}

// WithSaver sets where exports go. The default is a FileSaver on
// cfg.OutputDir.
func WithSaver(s export.Saver) Option {
	return func(o *options) { o.saver = s }
}

// WithSurface sets the surface comparison frames are presented on.
func WithSurface(s compare.Surface) Option {
	return func(o *options) { o.surface = s }
}

// WithScheduler replaces the slider debounce clock.
func WithScheduler(s dispatch.Scheduler) Option {
	return func(o *options) { o.scheduler = s }
}

// WithBusyHook is called whenever the processing indicator flips.
func WithBusyHook(fn func(busy bool)) Option {
	return func(o *options) { o.onBusy = fn }
}

// WithMetrics emits EMF documents for enhancements, uploads and exports.
func WithMetrics(e *metrics.Emitter) Option {
	return func(o *options) { o.metrics = e }
}

// Status is a snapshot of the workbench for display.
type Status struct {
	Navigation session.NavState       `json:"navigation"`
	Filename   string                 `json:"filename,omitempty"`
	Size       filehandler.Dimensions `json:"size"`
	Viewport   filehandler.Dimensions `json:"viewport"`
	Camera     string                 `json:"camera,omitempty"`
	Modified   bool                   `json:"modified"`
	Split      float64                `json:"split"`
	Busy       bool                   `json:"busy"`
	Palette    []string               `json:"palette,omitempty"`
	Controls   map[string]float64     `json:"controls"`
}

// Workbench is the editing controller.
type Workbench struct {
	cfg *config.Config

	sess      *session.Session
	client    *enhance.Client
	cache     *codec.Cache
	indicator *dispatch.Indicator
	ingestor  *ingest.Ingestor
	disp      *dispatch.Dispatcher
	panel     *controls.Panel
	renderer  *compare.Renderer
	exporter  *export.Exporter
	metrics   *metrics.Emitter

	mu       sync.Mutex
	messages []string
	palettes map[string]enhance.Palette
}

// New builds a workbench from cfg.
func New(cfg *config.Config, opts ...Option) *Workbench {
	o := &options{scheduler: dispatch.AfterFunc}
	for _, opt := range opts {
		opt(o)
	}
	if o.saver == nil {
		o.saver = export.FileSaver{Dir: cfg.OutputDir}
	}

	w := &Workbench{
		cfg:      cfg,
		sess:     session.New(),
		client:   enhance.NewClient(cfg.ServiceURL, cfg.Timeout, cfg.APIToken),
		cache:    codec.NewCache(cfg.EncodeCacheTTL),
		palettes: make(map[string]enhance.Palette),
		metrics:  o.metrics,
	}
	w.indicator = dispatch.NewIndicator(o.onBusy)
	w.ingestor = ingest.New(w.sess, cfg.MaxDecodes)
	w.renderer = compare.NewRenderer(w.sess, o.surface)
	w.disp = dispatch.New(w.sess, w.client, w.cache,
		dispatch.WithIndicator(w.indicator),
		dispatch.WithNotifier(w),
		dispatch.WithPaletteSink(w),
		dispatch.WithCommitHook(func(*session.Record) { w.redraw() }),
		dispatch.WithOutcomeHook(func(out *dispatch.Outcome, err error) {
			w.metrics.Enhancement(string(out.Method), out.Duration, out.Committed, out.Stale, err)
		}),
	)
	w.panel = controls.NewPanel(cfg.Debounce, func(op enhance.Operation) {
		w.disp.ApplyAsync(context.Background(), op)
	}, controls.WithScheduler(o.scheduler))
	w.exporter = export.New(w.sess, w.client, o.saver, w.cache, w.indicator)

	return w
}

// Session exposes the underlying session.
func (w *Workbench) Session() *session.Session { return w.sess }

// Renderer exposes the comparison renderer.
func (w *Workbench) Renderer() *compare.Renderer { return w.renderer }

// Panel exposes the control panel.
func (w *Workbench) Panel() *controls.Panel { return w.panel }

// Upload ingests a batch of files. On success the first new image is active
// with the split at its default.
func (w *Workbench) Upload(ctx context.Context, uploads []filehandler.Upload) (*ingest.Result, error) {
	release := w.indicator.Acquire()
	defer release()

	res, err := w.ingestor.Ingest(ctx, uploads)
	if err != nil {
		return nil, err
	}
	w.metrics.Ingest(res.Accepted(), res.Rejected(), res.Duration)
	for _, ie := range res.Errors {
		w.NotifyError(ie.Error())
	}
	if res.Replaced {
		w.mu.Lock()
		w.palettes = make(map[string]enhance.Palette)
		w.mu.Unlock()
		w.renderer.ResetSplit()
		w.redraw()
	}
	return res, nil
}

// SetActive switches to image i.
func (w *Workbench) SetActive(i int) error {
	return w.navigate(func() error { return w.sess.SetActive(i) })
}

// Next switches to the following image.
func (w *Workbench) Next() error {
	return w.navigate(w.sess.Next)
}

// Prev switches to the preceding image.
func (w *Workbench) Prev() error {
	return w.navigate(w.sess.Prev)
}

func (w *Workbench) navigate(move func() error) error {
	if err := move(); err != nil {
		return err
	}
	w.renderer.ResetSplit()
	w.redraw()
	return nil
}

// Input feeds a slider value; the request goes out once the slider settles.
func (w *Workbench) Input(family enhance.Method, param string, value float64) error {
	if w.sess.Len() == 0 {
		return session.ErrEmpty
	}
	return w.panel.Input(family, param, value)
}

// Apply dispatches family immediately with the panel's current values.
func (w *Workbench) Apply(family enhance.Method) error {
	if w.sess.Len() == 0 {
		return session.ErrEmpty
	}
	return w.panel.Apply(family)
}

// ApplyNow runs op synchronously and returns its outcome.
func (w *Workbench) ApplyNow(ctx context.Context, op enhance.Operation) (*dispatch.Outcome, error) {
	return w.disp.Apply(ctx, op)
}

// Wait blocks until every dispatched enhancement has finished.
func (w *Workbench) Wait() {
	w.disp.Wait()
}

// Reset restores the active image to its original, the sliders to their
// defaults and the split to the middle.
func (w *Workbench) Reset() error {
	w.panel.Reset()
	rec, err := w.disp.ResetActive()
	if err != nil {
		return err
	}
	w.mu.Lock()
	delete(w.palettes, rec.ID)
	w.mu.Unlock()
	w.renderer.ResetSplit()
	w.redraw()
	return nil
}

// Drag forwards a pointer event to the comparison handle.
func (w *Workbench) Drag(ev compare.PointerEvent, box compare.Box) (float64, error) {
	if _, err := w.renderer.HandlePointer(ev, box); err != nil {
		return 0, err
	}
	return w.renderer.Split(), nil
}

// Resize changes the viewport bounds.
func (w *Workbench) Resize(maxWidth, maxHeight int) (*image.RGBA, error) {
	return w.renderer.Resize(maxWidth, maxHeight)
}

// Frame renders the current comparison frame.
func (w *Workbench) Frame() (*image.RGBA, error) {
	return w.renderer.Render()
}

// ExportAll runs the batch archive flow.
func (w *Workbench) ExportAll(ctx context.Context, format codec.Format, quality float64) (*export.Archive, error) {
	return w.exportArchive(ctx, "batch", w.exporter.ExportAll, format, quality)
}

// ExportAllLocal packs the batch archive without the service.
func (w *Workbench) ExportAllLocal(ctx context.Context, format codec.Format, quality float64) (*export.Archive, error) {
	return w.exportArchive(ctx, "local", w.exporter.ExportAllLocal, format, quality)
}

func (w *Workbench) exportArchive(ctx context.Context, kind string, run func(context.Context, codec.Format, float64) (*export.Archive, error), format codec.Format, quality float64) (*export.Archive, error) {
	start := time.Now()
	a, err := run(ctx, format, quality)
	// The export walks every image; a commit for the restored image may
	// have landed while another one was active.
	w.redraw()
	if err != nil {
		w.NotifyError(err.Error())
		w.metrics.Export(kind, 0, 0, time.Since(start), err)
		return nil, err
	}
	w.metrics.Export(kind, a.Count, a.Size, time.Since(start), nil)
	return a, nil
}

// ExportCurrent saves the active image's current raster.
func (w *Workbench) ExportCurrent(ctx context.Context, format codec.Format, quality float64) (*export.Saved, error) {
	start := time.Now()
	s, err := w.exporter.ExportCurrent(ctx, format, quality)
	if err != nil {
		w.NotifyError(err.Error())
		w.metrics.Export("current", 0, 0, time.Since(start), err)
		return nil, err
	}
	w.metrics.Export("current", 1, s.Size, time.Since(start), nil)
	return s, nil
}

// NotifyError records a user-facing error message.
func (w *Workbench) NotifyError(msg string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.messages = append(w.messages, msg)
	if len(w.messages) > maxMessages {
		w.messages = w.messages[len(w.messages)-maxMessages:]
	}
}

// Messages drains the recorded error messages.
func (w *Workbench) Messages() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := w.messages
	w.messages = nil
	return out
}

// ShowPalette records a palette result for its image.
func (w *Workbench) ShowPalette(recordID string, p enhance.Palette) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.palettes[recordID] = p
}

// Palette returns the latest palette extracted for the active image.
func (w *Workbench) Palette() enhance.Palette {
	rec, err := w.sess.Active()
	if err != nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.palettes[rec.ID]
}

// Status returns a display snapshot.
func (w *Workbench) Status() Status {
	st := Status{
		Navigation: w.sess.Navigation(),
		Split:      w.renderer.Split(),
		Busy:       w.indicator.Busy(),
		Controls:   w.panel.Values(),
	}
	rec, err := w.sess.Active()
	if err != nil {
		return st
	}
	st.Filename = rec.Filename
	st.Size = rec.Size()
	st.Viewport, _ = w.renderer.Viewport()
	st.Camera = rec.Meta.Camera()
	st.Modified = rec.Modified()
	st.Palette = w.Palette().Hex()
	return st
}

// Close stops pending slider timers and waits for in-flight requests.
func (w *Workbench) Close() {
	w.panel.Close()
	w.disp.Wait()
}

func (w *Workbench) redraw() {
	if _, err := w.renderer.Render(); err != nil && !errors.Is(err, session.ErrEmpty) {
		log.Warn().Err(err).Msg("Redraw failed")
	}
}
