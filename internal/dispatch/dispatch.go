// Package dispatch turns enhancement requests into ordered calls against the
// processing service and commits their results to the session.
//
// Every request is tagged with a per-image sequence number when it is issued.
// A response is committed only if its number is higher than every response
// already observed for that image, so a slow older request can never
// overwrite a newer result. Requests are never cancelled once issued.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/picwizard/internal/codec"
	"github.com/fpang/picwizard/internal/enhance"
	"github.com/fpang/picwizard/internal/session"
)

// genericFailure is shown when a failure carries no service message.
const genericFailure = "Error processing image. Please try again."

// Enhancer computes one enhancement remotely.
type Enhancer interface {
	Enhance(ctx context.Context, op enhance.Operation, pngData []byte) (*enhance.Result, error)
}

// Notifier surfaces user-facing error messages.
type Notifier interface {
	NotifyError(message string)
}

// PaletteSink displays palette results.
type PaletteSink interface {
	ShowPalette(recordID string, p enhance.Palette)
}

// Outcome describes how one request ended.
type Outcome struct {
	RecordID string
	Method   enhance.Method
	Seq      uint64

	// Committed is true when a raster replaced the record's current buffer.
	Committed bool

	// Stale is true when a newer response for the same image had already
	// been observed, or the image left the session, so the result was dropped.
	Stale bool

	Palette  enhance.Palette
	Duration time.Duration
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithNotifier routes error messages to n.
func WithNotifier(n Notifier) Option {
	return func(d *Dispatcher) { d.notifier = n }
}

// WithPaletteSink routes palette results to p.
func WithPaletteSink(p PaletteSink) Option {
	return func(d *Dispatcher) { d.palettes = p }
}

// WithCommitHook calls fn after a raster commit to the active image.
func WithCommitHook(fn func(rec *session.Record)) Option {
	return func(d *Dispatcher) { d.onCommit = fn }
}

// WithOutcomeHook is called after every request that reached the service,
// with its outcome and error.
func WithOutcomeHook(fn func(out *Outcome, err error)) Option {
	return func(d *Dispatcher) { d.onOutcome = fn }
}

// WithIndicator shares a busy indicator with other components.
func WithIndicator(ind *Indicator) Option {
	return func(d *Dispatcher) { d.indicator = ind }
}

// Dispatcher applies enhancements to the active image.
type Dispatcher struct {
	sess      *session.Session
	client    Enhancer
	cache     *codec.Cache
	indicator *Indicator
	notifier  Notifier
	palettes  PaletteSink
	onCommit  func(rec *session.Record)
	onOutcome func(out *Outcome, err error)

	// mu guards the sequence tables and serializes commits.
	mu       sync.Mutex
	issued   map[string]uint64
	observed map[string]uint64

	wg sync.WaitGroup
}

// New creates a Dispatcher for sess.
func New(sess *session.Session, client Enhancer, cache *codec.Cache, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		sess:     sess,
		client:   client,
		cache:    cache,
		issued:   make(map[string]uint64),
		observed: make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.indicator == nil {
		d.indicator = NewIndicator(nil)
	}
	if d.cache == nil {
		d.cache = codec.NewCache(0)
	}
	return d
}

// Indicator returns the dispatcher's busy indicator.
func (d *Dispatcher) Indicator() *Indicator { return d.indicator }

// Apply runs op against the active image's current raster and blocks until
// the service answers. The target is fixed when Apply starts; switching the
// active image afterwards does not redirect the result.
func (d *Dispatcher) Apply(ctx context.Context, op enhance.Operation) (*Outcome, error) {
	out, err := d.apply(ctx, op)
	if out != nil && d.onOutcome != nil {
		d.onOutcome(out, err)
	}
	return out, err
}

func (d *Dispatcher) apply(ctx context.Context, op enhance.Operation) (*Outcome, error) {
	release := d.indicator.Acquire()
	defer release()

	start := time.Now()
	rec, err := d.sess.Active()
	if err != nil {
		return nil, err
	}
	if err := op.Validate(); err != nil {
		d.notify(err.Error())
		return nil, err
	}

	enc, err := d.cache.EncodeCurrent(rec, codec.PNG, 1)
	if err != nil {
		d.notify(genericFailure)
		return nil, fmt.Errorf("snapshot %s: %w", rec.Filename, err)
	}

	seq := d.nextSeq(rec.ID)
	out := &Outcome{RecordID: rec.ID, Method: op.Method(), Seq: seq}

	log.Debug().
		Str("file", rec.Filename).
		Str("method", string(op.Method())).
		Uint64("seq", seq).
		Msg("Dispatching enhancement")

	res, callErr := d.client.Enhance(ctx, op, enc.Data)
	out.Duration = time.Since(start)

	d.mu.Lock()
	stale := seq <= d.observed[rec.ID]
	if !stale {
		d.observed[rec.ID] = seq
	}
	out.Stale = stale

	if callErr != nil {
		d.mu.Unlock()
		if stale {
			log.Debug().Err(callErr).Uint64("seq", seq).Msg("Stale enhancement failed, ignoring")
			return out, callErr
		}
		log.Error().Err(callErr).
			Str("file", rec.Filename).
			Str("method", string(op.Method())).
			Msg("Enhancement failed")
		d.notify(userMessage(callErr))
		return out, callErr
	}

	if stale {
		d.mu.Unlock()
		log.Debug().Str("file", rec.Filename).Uint64("seq", seq).Msg("Discarding stale enhancement result")
		return out, nil
	}

	if op.Yields() == enhance.YieldPalette {
		d.mu.Unlock()
		out.Palette = res.Palette
		if d.palettes != nil {
			d.palettes.ShowPalette(rec.ID, res.Palette)
		}
		log.Info().Str("file", rec.Filename).Int("colors", len(res.Palette)).Msg("Palette extracted")
		return out, nil
	}

	if err := d.sess.SetCurrent(rec.ID, res.Raster); err != nil {
		d.mu.Unlock()
		out.Stale = true
		log.Debug().Err(err).Str("file", rec.Filename).Msg("Enhanced image left the session, discarding")
		return out, nil
	}
	out.Committed = true
	d.mu.Unlock()

	log.Info().
		Str("file", rec.Filename).
		Str("method", string(op.Method())).
		Uint64("seq", seq).
		Dur("duration", out.Duration).
		Msg("Enhancement applied")

	if d.onCommit != nil {
		if active, err := d.sess.Active(); err == nil && active.ID == rec.ID {
			d.onCommit(rec)
		}
	}
	return out, nil
}

// ResetActive restores the active image to its original. Responses to
// requests issued before the reset are treated as stale.
func (d *Dispatcher) ResetActive() (*session.Record, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rec, err := d.sess.ResetActiveToOriginal()
	if err != nil {
		return nil, err
	}
	d.observed[rec.ID] = d.issued[rec.ID]
	return rec, nil
}

// ApplyAsync runs Apply on its own goroutine. The indicator is acquired
// before returning so callers observe the busy state immediately.
func (d *Dispatcher) ApplyAsync(ctx context.Context, op enhance.Operation) {
	release := d.indicator.Acquire()
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer release()
		if _, err := d.Apply(ctx, op); errors.Is(err, session.ErrEmpty) {
			log.Debug().Str("method", string(op.Method())).Msg("No active image, enhancement skipped")
		}
	}()
}

// Wait blocks until every ApplyAsync call has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) nextSeq(id string) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.issued[id]++
	return d.issued[id]
}

func (d *Dispatcher) notify(msg string) {
	if d.notifier != nil {
		d.notifier.NotifyError(msg)
	}
}

// userMessage picks the service's own message when it sent one.
func userMessage(err error) string {
	var se *enhance.ServiceError
	if errors.As(err, &se) && se.Reported {
		return se.Message
	}
	return genericFailure
}
