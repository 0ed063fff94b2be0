// Package stream implements the per-request event channel carrying progress
// and terminal events from a query pipeline to a streaming client.
package stream

import (
	"errors"
	"iter"
	"sync"
	"time"

	"github.com/mkravets/chimera/internal/domain"
)

// DefaultCapacity is the event buffer size used when New is given 0.
const DefaultCapacity = 16

// ErrClosed is returned by Send once the stream has delivered its terminal
// event or the subscriber has gone away. Producers treat it as the signal to
// abandon remaining work; it is never a fatal condition.
var ErrClosed = errors.New("stream: closed")

// EventType tags the JSON wire form of an event.
type EventType string

const (
	EventLog    EventType = "log"
	EventResult EventType = "result"
	EventError  EventType = "error"
)

// Event is one entry in a query session's stream: either a progress log line
// or the single terminal result/error.
type Event struct {
	Type    EventType           `json:"type"`
	Message string              `json:"message,omitempty"`
	Result  *domain.QueryResult `json:"-"`
	At      time.Time           `json:"timestamp,omitempty"`
}

// Terminal reports whether the event ends the session (result or error).
func (e Event) Terminal() bool {
	return e.Type == EventResult || e.Type == EventError
}

// Progress builds a stage-progress event.
func Progress(label string) Event {
	return Event{Type: EventLog, Message: label, At: time.Now()}
}

// Result builds the terminal success event.
func Result(res *domain.QueryResult) Event {
	return Event{Type: EventResult, Result: res, At: time.Now()}
}

// Failure builds the terminal error event.
func Failure(reason string) Event {
	return Event{Type: EventError, Message: reason, At: time.Now()}
}

// Stream is a single-producer/single-consumer ordered event channel with a
// small bounded buffer. Events are delivered in Send order. A terminal event
// completes the stream; Close aborts it from the consumer side. Both make any
// later Send fail with ErrClosed.
type Stream struct {
	ch   chan Event
	done chan struct{}
	once sync.Once

	mu         sync.Mutex
	terminated bool
}

// New creates a stream with the given buffer capacity (0 → DefaultCapacity).
func New(capacity int) *Stream {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Stream{
		ch:   make(chan Event, capacity),
		done: make(chan struct{}),
	}
}

// Send queues ev for the subscriber, blocking while the buffer is full so
// progress is never silently dropped ahead of the terminal event. It returns
// ErrClosed if the stream already terminated or was aborted; a terminal event
// completes the stream after delivery.
func (s *Stream) Send(ev Event) error {
	s.mu.Lock()
	if s.terminated {
		s.mu.Unlock()
		return ErrClosed
	}
	select {
	case <-s.done:
		s.mu.Unlock()
		return ErrClosed
	default:
	}
	if ev.Terminal() {
		s.terminated = true
	}
	s.mu.Unlock()

	select {
	case s.ch <- ev:
		if ev.Terminal() {
			close(s.ch)
		}
		return nil
	case <-s.done:
		return ErrClosed
	}
}

// Subscribe returns a lazy, finite, non-restartable sequence of events in
// Send order. The sequence ends after the terminal event, or immediately if
// the stream is aborted. Breaking out of the range aborts the stream so the
// producer stops doing pointless work.
func (s *Stream) Subscribe() iter.Seq[Event] {
	return func(yield func(Event) bool) {
		for {
			select {
			case ev, ok := <-s.ch:
				if !ok {
					return
				}
				if !yield(ev) {
					s.Close()
					return
				}
				if ev.Terminal() {
					return
				}
			case <-s.done:
				return
			}
		}
	}
}

// Close aborts the stream from the consumer side. Idempotent; unblocks a
// producer waiting in Send.
func (s *Stream) Close() {
	s.once.Do(func() {
		close(s.done)
	})
}

// Done is closed when the stream has been aborted. Producers select on it at
// stage boundaries for cooperative cancellation.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Aborted reports whether Close has been called.
func (s *Stream) Aborted() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
