// Package stream batches incrementally produced model output into
// rate-limited display updates without losing data.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// View is one emission of the accumulated-so-far text to the display
// layer. Final marks the last view of a generation; only final text is
// ever persisted.
type View struct {
	Text  string
	Final bool
}

// Sink receives throttle flushes. Implemented by the chat transport.
type Sink func(View) error

// Fragment is one increment of model output. A non-nil Err terminates the
// stream; any text produced before it is kept.
type Fragment struct {
	Text string
	Err  error
}

// ErrFinalized is returned when writing to a throttle that already
// emitted its final view.
var ErrFinalized = errors.New("stream already finalized")

const (
	DefaultInterval    = time.Second
	DefaultBufferLimit = 100
)

// Throttle accumulates fragments and flushes the full text when either a
// second has passed since the last flush or the pending buffer exceeds the
// limit. Bounds both staleness and update frequency. Not safe for
// concurrent use; each generation gets its own Throttle.
type Throttle struct {
	sink        Sink
	interval    time.Duration
	bufferLimit int
	now         func() time.Time

	full      strings.Builder
	pending   int
	lastFlush time.Time
	finalized bool
}

type Option func(*Throttle)

func WithInterval(d time.Duration) Option {
	return func(t *Throttle) { t.interval = d }
}

func WithBufferLimit(n int) Option {
	return func(t *Throttle) { t.bufferLimit = n }
}

// WithClock substitutes the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Throttle) { t.now = now }
}

func New(sink Sink, opts ...Option) *Throttle {
	t := &Throttle{
		sink:        sink,
		interval:    DefaultInterval,
		bufferLimit: DefaultBufferLimit,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.lastFlush = t.now()
	return t
}

// Write appends a fragment and flushes a provisional view when a trigger
// fires. A failed provisional flush keeps the pending buffer, so the next
// fragment re-triggers; no data is lost.
func (t *Throttle) Write(fragment string) error {
	if t.finalized {
		return ErrFinalized
	}
	t.full.WriteString(fragment)
	t.pending += len(fragment)

	now := t.now()
	if now.Sub(t.lastFlush) >= t.interval || t.pending > t.bufferLimit {
		if err := t.sink(View{Text: t.full.String()}); err != nil {
			slog.Debug("provisional flush", "error", err)
		} else {
			t.pending = 0
			t.lastFlush = now
		}
	}
	return nil
}

// Text returns everything accumulated so far.
func (t *Throttle) Text() string { return t.full.String() }

// Finish emits the accumulated text as the final view and finalizes the
// throttle. The text is returned even when the sink fails.
func (t *Throttle) Finish() (string, error) {
	text := t.full.String()
	if t.finalized {
		return text, ErrFinalized
	}
	t.finalized = true
	if err := t.sink(View{Text: text, Final: true}); err != nil {
		return text, fmt.Errorf("final flush: %w", err)
	}
	return text, nil
}

// Abort finalizes after a mid-stream failure. The partial text is still
// emitted as a final view best effort, and returned so the caller can
// persist it.
func (t *Throttle) Abort() string {
	text := t.full.String()
	if t.finalized {
		return text
	}
	t.finalized = true
	if text != "" {
		if err := t.sink(View{Text: text, Final: true}); err != nil {
			slog.Debug("abort flush", "error", err)
		}
	}
	return text
}

// Consume drains fragments through the throttle until the source closes,
// errors, or ctx is cancelled. It returns the final text; a mid-stream or
// cancellation error comes back alongside the partial text rather than
// replacing it.
func Consume(ctx context.Context, t *Throttle, frags <-chan Fragment) (string, error) {
	for {
		select {
		case <-ctx.Done():
			return t.Abort(), ctx.Err()
		case f, ok := <-frags:
			if !ok {
				return t.Finish()
			}
			if f.Err != nil {
				return t.Abort(), f.Err
			}
			if err := t.Write(f.Text); err != nil {
				return t.Text(), err
			}
		}
	}
}
