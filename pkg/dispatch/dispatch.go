// Package dispatch implements the single-threaded cooperative event context
// that spec §5 requires: handler invocations for one endpoint are always
// serialized, and a sub-machine's synchronous-looking callback is always
// deferred to the next dequeue rather than re-entering the handler.
//
// The mailbox shape (buffered channel, one drain goroutine, idempotent
// Close) mirrors the actor mailbox pattern used elsewhere in the corpus and
// dittofs's sync.Once shutdown guard.
package dispatch

import "sync"

// Source tags which sub-machine (or the FSM itself) an Event originates
// from.
type Source int

const (
	SourceFSM Source = iota
	SourceSocket
	SourcePending
	SourceChild
	SourceBackoff
	SourceDNS
	SourceSession
)

func (s Source) String() string {
	switch s {
	case SourceFSM:
		return "fsm"
	case SourceSocket:
		return "socket"
	case SourcePending:
		return "pending"
	case SourceChild:
		return "child"
	case SourceBackoff:
		return "backoff"
	case SourceDNS:
		return "dns"
	case SourceSession:
		return "session"
	default:
		return "unknown"
	}
}

// Type is the kind of event a sub-machine (or the FSM) emits.
type Type int

const (
	TypeStart Type = iota
	TypeStop
	TypeConnected
	TypeAccepted
	TypeShutdown
	TypeStopped
	TypeError
	TypeDone
	TypeTimeout
)

func (t Type) String() string {
	switch t {
	case TypeStart:
		return "START"
	case TypeStop:
		return "STOP"
	case TypeConnected:
		return "CONNECTED"
	case TypeAccepted:
		return "ACCEPTED"
	case TypeShutdown:
		return "SHUTDOWN"
	case TypeStopped:
		return "STOPPED"
	case TypeError:
		return "ERROR"
	case TypeDone:
		return "DONE"
	case TypeTimeout:
		return "TIMEOUT"
	default:
		return "UNKNOWN"
	}
}

// Event is the `(source, type[, payload])` tuple delivered to an endpoint
// handler.
type Event struct {
	Source  Source
	Type    Type
	ChildID uint64 // set when Source == SourceChild
	Payload any    // new socket, dns result, error, etc.
	Err     error
}

// Handler processes one Event to completion. It must never block.
type Handler func(Event)

// Loop is one endpoint's mailbox: a single goroutine draining a buffered
// channel and invoking Handler once per Event, in arrival order.
type Loop struct {
	events  chan Event
	handler Handler

	closeOnce sync.Once
	done      chan struct{}
}

// NewLoop starts a dispatch loop of the given mailbox capacity, invoking
// handler for every posted Event until Close.
func NewLoop(capacity int, handler Handler) *Loop {
	l := &Loop{
		events:  make(chan Event, capacity),
		handler: handler,
		done:    make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *Loop) run() {
	defer close(l.done)
	for ev := range l.events {
		l.handler(ev)
	}
}

// Post enqueues ev for delivery on the loop goroutine. Safe to call from any
// goroutine, including reentrantly from within a handler invocation — the
// send always lands on a future dequeue, never the current stack.
func (l *Loop) Post(ev Event) {
	l.events <- ev
}

// PostFunc returns a bound Post closure tagged with source, the shape every
// sub-machine constructor expects for delivering its events.
func (l *Loop) PostFunc(source Source) func(Type, uint64, any, error) {
	return func(t Type, childID uint64, payload any, err error) {
		l.Post(Event{Source: source, Type: t, ChildID: childID, Payload: payload, Err: err})
	}
}

// Close stops accepting new events and waits for the drain goroutine to
// finish processing whatever was already queued. Idempotent.
func (l *Loop) Close() {
	l.closeOnce.Do(func() {
		close(l.events)
	})
	<-l.done
}
