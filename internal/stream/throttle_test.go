package stream

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type recordingSink struct {
	views []View
	err   error
}

func (r *recordingSink) sink(v View) error {
	if r.err != nil {
		return r.err
	}
	r.views = append(r.views, v)
	return nil
}

func (r *recordingSink) provisional() int {
	n := 0
	for _, v := range r.views {
		if !v.Final {
			n++
		}
	}
	return n
}

func TestThrottleBufferTrigger(t *testing.T) {
	rec := &recordingSink{}
	// A frozen clock isolates the buffer trigger from the time trigger.
	clock := time.Now()
	th := New(rec.sink, WithClock(func() time.Time { return clock }))

	// 250 one-char fragments must not produce 250 updates.
	for i := 0; i < 250; i++ {
		if err := th.Write("x"); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}
	final, err := th.Finish()
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if final != strings.Repeat("x", 250) {
		t.Errorf("final length = %d, want 250", len(final))
	}

	if got := rec.provisional(); got < 1 || got > 3 {
		t.Errorf("provisional flushes = %d, want between 1 and 3", got)
	}
	last := rec.views[len(rec.views)-1]
	if !last.Final || last.Text != final {
		t.Errorf("last view = %+v, want final full text", last)
	}
	// Every view shows a prefix of the final text: no reordering, no loss.
	for i, v := range rec.views {
		if !strings.HasPrefix(final, v.Text) {
			t.Errorf("view %d is not a prefix of the final text", i)
		}
	}
}

func TestThrottleTimeTrigger(t *testing.T) {
	rec := &recordingSink{}
	clock := time.Now()
	th := New(rec.sink, WithClock(func() time.Time { return clock }))

	if err := th.Write("a"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if rec.provisional() != 0 {
		t.Fatalf("flushed %d views before the interval elapsed", rec.provisional())
	}

	clock = clock.Add(DefaultInterval)
	if err := th.Write("b"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if rec.provisional() != 1 {
		t.Fatalf("provisional flushes = %d, want 1 after the interval", rec.provisional())
	}
	if rec.views[0].Text != "ab" {
		t.Errorf("view = %q, want %q", rec.views[0].Text, "ab")
	}

	// The timer resets: the next write inside the interval stays buffered.
	if err := th.Write("c"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if rec.provisional() != 1 {
		t.Errorf("provisional flushes = %d, want still 1", rec.provisional())
	}
}

func TestThrottleFailedFlushKeepsBuffer(t *testing.T) {
	rec := &recordingSink{err: errors.New("display unavailable")}
	clock := time.Now()
	th := New(rec.sink, WithClock(func() time.Time { return clock }))

	clock = clock.Add(DefaultInterval)
	if err := th.Write("hello"); err != nil {
		t.Fatalf("write: %v", err)
	}

	// The sink recovers; the retained buffer re-triggers on the next write.
	rec.err = nil
	if err := th.Write(strings.Repeat("y", DefaultBufferLimit)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if rec.provisional() != 1 {
		t.Fatalf("provisional flushes = %d, want 1", rec.provisional())
	}
	if !strings.HasPrefix(rec.views[0].Text, "hello") {
		t.Errorf("view %q lost the earlier fragment", rec.views[0].Text)
	}
}

func TestThrottleFinalize(t *testing.T) {
	rec := &recordingSink{}
	th := New(rec.sink)

	if err := th.Write("done"); err != nil {
		t.Fatalf("write: %v", err)
	}
	final, err := th.Finish()
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if final != "done" {
		t.Errorf("final = %q, want %q", final, "done")
	}

	if err := th.Write("more"); !errors.Is(err, ErrFinalized) {
		t.Errorf("write after finish err = %v, want ErrFinalized", err)
	}
	if _, err := th.Finish(); !errors.Is(err, ErrFinalized) {
		t.Errorf("double finish err = %v, want ErrFinalized", err)
	}
}

func TestThrottleFinishReturnsTextOnSinkError(t *testing.T) {
	rec := &recordingSink{}
	th := New(rec.sink)

	if err := th.Write("partial"); err != nil {
		t.Fatalf("write: %v", err)
	}
	rec.err = errors.New("display unavailable")
	final, err := th.Finish()
	if err == nil {
		t.Fatal("finish succeeded with a failing sink")
	}
	if final != "partial" {
		t.Errorf("final = %q, want %q despite sink failure", final, "partial")
	}
}

func TestConsume(t *testing.T) {
	rec := &recordingSink{}
	th := New(rec.sink)

	frags := make(chan Fragment, 3)
	frags <- Fragment{Text: "a"}
	frags <- Fragment{Text: "b"}
	frags <- Fragment{Text: "c"}
	close(frags)

	final, err := Consume(context.Background(), th, frags)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if final != "abc" {
		t.Errorf("final = %q, want %q", final, "abc")
	}
	last := rec.views[len(rec.views)-1]
	if !last.Final || last.Text != "abc" {
		t.Errorf("last view = %+v", last)
	}
}

func TestConsumeMidStreamError(t *testing.T) {
	rec := &recordingSink{}
	th := New(rec.sink)

	boom := errors.New("generation failed")
	frags := make(chan Fragment, 2)
	frags <- Fragment{Text: "partial "}
	frags <- Fragment{Err: boom}
	close(frags)

	final, err := Consume(context.Background(), th, frags)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if final != "partial " {
		t.Errorf("final = %q, want the partial text", final)
	}
	// The partial text still went out as a final view.
	last := rec.views[len(rec.views)-1]
	if !last.Final || last.Text != "partial " {
		t.Errorf("last view = %+v", last)
	}
}

func TestConsumeCancellation(t *testing.T) {
	rec := &recordingSink{}
	th := New(rec.sink)

	ctx, cancel := context.WithCancel(context.Background())
	frags := make(chan Fragment)

	done := make(chan struct{})
	var final string
	var err error
	go func() {
		defer close(done)
		final, err = Consume(ctx, th, frags)
	}()

	// The unbuffered send returns once Consume has taken the fragment;
	// cancelling then leaves the channel open with text accumulated.
	frags <- Fragment{Text: "kept"}
	cancel()
	<-done

	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if final != "kept" {
		t.Errorf("final = %q, want %q", final, "kept")
	}
}
