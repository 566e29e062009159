package event

import (
	"sync"

	"github.com/go-kit/kit/log"
)

// LogWriter renders events to a go-kit logger. It never fails.
type LogWriter struct {
	Logger log.Logger
}

func (w LogWriter) LogEvent(e Event) error {
	w.Logger.Log("event", e.Type, "namespace", e.Namespace, "msg", e.String())
	return nil
}

// RingWriter keeps the most recent events in memory so they can be
// queried without an external store. Oldest events are dropped once
// capacity is reached.
type RingWriter struct {
	mu     sync.Mutex
	nextID EventID
	cap    int
	events []Event
}

const defaultRingCapacity = 256

// NewRingWriter returns a ring retaining up to capacity events. A
// non-positive capacity falls back to the default, so a zero value
// from configuration does not silently discard the audit trail.
func NewRingWriter(capacity int) *RingWriter {
	if capacity <= 0 {
		capacity = defaultRingCapacity
	}
	return &RingWriter{cap: capacity}
}

func (w *RingWriter) LogEvent(e Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.nextID++
	e.ID = w.nextID
	w.events = append(w.events, e)
	if len(w.events) > w.cap {
		w.events = w.events[len(w.events)-w.cap:]
	}
	return nil
}

// Events returns up to n of the most recent events, newest first.
// n <= 0 means all retained events.
func (w *RingWriter) Events(n int) []Event {
	w.mu.Lock()
	defer w.mu.Unlock()
	if n <= 0 || n > len(w.events) {
		n = len(w.events)
	}
	out := make([]Event, n)
	for i := 0; i < n; i++ {
		out[i] = w.events[len(w.events)-1-i]
	}
	return out
}

// MultiWriter fans an event out to several sinks, keeping going past
// failures and returning the first error seen.
type MultiWriter []EventWriter

func (ws MultiWriter) LogEvent(e Event) (err error) {
	for _, w := range ws {
		if werr := w.LogEvent(e); werr != nil && err == nil {
			err = werr
		}
	}
	return err
}

// BestEffortWriter makes appends infallible from the caller's point
// of view: a sink failure is recorded and surfaced on a separate
// channel rather than aborting the caller's transition.
type BestEffortWriter struct {
	next EventWriter
	errs chan error
}

func NewBestEffortWriter(next EventWriter) *BestEffortWriter {
	return &BestEffortWriter{
		next: next,
		errs: make(chan error, 16),
	}
}

func (w *BestEffortWriter) LogEvent(e Event) error {
	if err := w.next.LogEvent(e); err != nil {
		select {
		case w.errs <- err:
		default: // channel full; the failure is still counted by the sink's own logging
		}
	}
	return nil
}

// Errors delivers append failures. The channel is never closed.
func (w *BestEffortWriter) Errors() <-chan error {
	return w.errs
}
