package endpoint

import (
	"context"
	"net"

	"github.com/google/uuid"

	"github.com/nanomsg-go/epfsm/internal/logger"
	"github.com/nanomsg-go/epfsm/pkg/addr"
	"github.com/nanomsg-go/epfsm/pkg/backoff"
	"github.com/nanomsg-go/epfsm/pkg/dispatch"
	"github.com/nanomsg-go/epfsm/pkg/epbase"
	"github.com/nanomsg-go/epfsm/pkg/options"
	"github.com/nanomsg-go/epfsm/pkg/session"
	"github.com/nanomsg-go/epfsm/pkg/socket"
	"github.com/nanomsg-go/epfsm/pkg/stats"
)

// boundState enumerates bound endpoint states per spec §3. LISTENING is
// named there as transient (the instant between a successful Listen() call
// and entering ACTIVE) and is never an observable resting state here, so it
// has no dedicated value.
type boundState int

const (
	boundIdle boundState = iota
	boundActive
	boundWaiting
	boundClosing
	boundStoppingPending
	boundStoppingListener
	boundStoppingChildren
	boundStoppingBackoff
)

func (s boundState) String() string {
	switch s {
	case boundIdle:
		return "IDLE"
	case boundActive:
		return "ACTIVE"
	case boundWaiting:
		return "WAITING"
	case boundClosing:
		return "CLOSING"
	case boundStoppingPending:
		return "STOPPING_PENDING"
	case boundStoppingListener:
		return "STOPPING_LISTENER"
	case boundStoppingChildren:
		return "STOPPING_CHILDREN"
	case boundStoppingBackoff:
		return "STOPPING_BACKOFF"
	default:
		return "UNKNOWN"
	}
}

// Bound is the bound endpoint: owns a listening socket, a pending-accept
// session, a set of established sessions, and a retry timer. See
// SPEC_FULL.md §4.1.
type Bound struct {
	base    epbase.Base
	loop    *dispatch.Loop
	network string
	laddr   *net.TCPAddr
	traceID string

	state       boundState
	stopping    bool
	listener    *socket.Socket
	pending     *socket.Socket
	children    map[uint64]*session.Session
	nextChildID uint64
	retry       *backoff.Timer
}

// CreateBound parses address (`IFACE:PORT`), resolves the local interface,
// and returns a Bound ready for Start. It does not yet bind or listen.
func CreateBound(address string, opts options.Store, rec *stats.Recorder, onStopped func()) (*Bound, error) {
	parsed, err := addr.SplitBound(address)
	if err != nil {
		return nil, err
	}
	ip, err := addr.ResolveInterface(parsed.Iface, opts.IPv4Only)
	if err != nil {
		return nil, err
	}
	network := "tcp4"
	if ip.To4() == nil {
		network = "tcp6"
	}
	b := &Bound{
		base:     epbase.New(address, opts, rec, onStopped),
		network:  network,
		laddr:    &net.TCPAddr{IP: ip, Port: int(parsed.Port)},
		children: make(map[uint64]*session.Session),
		traceID:  uuid.NewString(),
	}
	b.loop = dispatch.NewLoop(32, b.handle)
	b.retry = backoff.New(opts.ReconnectIvl, opts.EffectiveMax(), b.loop.PostFunc(dispatch.SourceBackoff))
	return b, nil
}

// Start begins bind → listen → accept.
func (b *Bound) Start() { b.loop.Post(dispatch.Event{Source: dispatch.SourceFSM, Type: dispatch.TypeStart}) }

// Stop initiates asynchronous shutdown. A second call is a no-op.
func (b *Bound) Stop() { b.loop.Post(dispatch.Event{Source: dispatch.SourceFSM, Type: dispatch.TypeStop}) }

// Destroy releases the dispatch loop. Must only be called after Stopped()
// has been observed via the onStopped callback passed to CreateBound.
func (b *Bound) Destroy() { b.loop.Close() }

// State reports the current state, for tests.
func (b *Bound) State() string { return b.state.String() }

// Children reports the number of established sessions, for tests.
func (b *Bound) Children() int { return len(b.children) }

func (b *Bound) handle(ev dispatch.Event) {
	switch ev.Source {
	case dispatch.SourceFSM:
		b.handleFSM(ev)
	case dispatch.SourceSocket:
		b.handleListener(ev)
	case dispatch.SourcePending:
		b.handlePending(ev)
	case dispatch.SourceChild:
		b.handleChild(ev)
	case dispatch.SourceBackoff:
		b.handleBackoff(ev)
	default:
		panic(ProtocolError{State: b.state, Source: ev.Source, Type: ev.Type})
	}
}

func (b *Bound) handleFSM(ev dispatch.Event) {
	switch ev.Type {
	case dispatch.TypeStart:
		if b.state != boundIdle {
			panic(ProtocolError{State: b.state, Source: ev.Source, Type: ev.Type})
		}
		b.attemptListen()
	case dispatch.TypeStop:
		b.onStop()
	default:
		panic(ProtocolError{State: b.state, Source: ev.Source, Type: ev.Type})
	}
}

func (b *Bound) attemptListen() {
	logger.Debug("bound: attempting listen", logger.TraceID(b.traceID), logger.Source("bound"), logger.Operation(b.base.Address()))
	b.listener = socket.NewListener(b.loop.PostFunc(dispatch.SourceSocket))
	if err := b.listener.Listen(b.network, b.laddr); err != nil {
		logger.Warn("bound: listen failed, entering backoff", logger.TraceID(b.traceID), logger.Err(err))
		b.base.SetError(err)
		b.state = boundClosing
		b.listener.Stop()
		return
	}
	logger.Info("bound: listening", logger.TraceID(b.traceID), logger.State(b.state.String()))
	b.state = boundActive
	b.base.ClearError()
	b.retry.ResetOnSuccess()
	b.beginAccept()
}

// beginAccept allocates the at-most-one pending session and commands it to
// accept on the listening socket, per invariant 1. A failed accept is
// reported as a listener ERROR (spec §4.1's "socket ERROR while listening"),
// not a pending ERROR — pending only ever emits ACCEPTED or STOPPED.
func (b *Bound) beginAccept() {
	pending := socket.NewPendingAccept(func(t dispatch.Type, childID uint64, payload any, err error) {
		if t == dispatch.TypeError {
			b.loop.Post(dispatch.Event{Source: dispatch.SourceSocket, Type: dispatch.TypeError, Err: err})
			return
		}
		b.loop.Post(dispatch.Event{Source: dispatch.SourcePending, Type: t, Payload: payload, Err: err})
	})
	b.pending = pending
	pending.BeginAccept(b.listener.Listener())
}

func (b *Bound) handleListener(ev dispatch.Event) {
	switch ev.Type {
	case dispatch.TypeError:
		if b.state != boundActive {
			panic(ProtocolError{State: b.state, Source: ev.Source, Type: ev.Type})
		}
		if b.pending != nil {
			b.pending.Stop()
			b.pending = nil
		}
		b.state = boundClosing
		b.listener.Stop()
	case dispatch.TypeShutdown:
		// advisory; no state change.
	case dispatch.TypeStopped:
		switch b.state {
		case boundClosing:
			b.listener = nil
			b.state = boundWaiting
			b.retry.Start()
		case boundStoppingListener:
			b.listener = nil
			b.afterListenerStopped()
		default:
			panic(ProtocolError{State: b.state, Source: ev.Source, Type: ev.Type})
		}
	default:
		panic(ProtocolError{State: b.state, Source: ev.Source, Type: ev.Type})
	}
}

func (b *Bound) handlePending(ev dispatch.Event) {
	switch ev.Type {
	case dispatch.TypeAccepted:
		if b.state != boundActive {
			if conn, ok := ev.Payload.(net.Conn); ok {
				_ = conn.Close()
			}
			return
		}
		conn := ev.Payload.(net.Conn)
		id := b.nextChildID
		b.nextChildID++
		child := session.New(b.loop.PostFunc(dispatch.SourceChild), id, conn)
		child.Start(context.Background())
		b.children[id] = child
		b.base.StatIncrement(stats.EstablishedConnections, 1)
		b.pending = nil
		b.beginAccept()
	case dispatch.TypeStopped:
		if b.state == boundStoppingPending {
			b.pending = nil
			b.enterStoppingListener()
		}
		// else: stray STOPPED from a pending cleared out-of-band during a
		// listener-failure cycle; already handled, nothing to do.
	default:
		panic(ProtocolError{State: b.state, Source: ev.Source, Type: ev.Type})
	}
}

func (b *Bound) handleChild(ev dispatch.Event) {
	child, ok := b.children[ev.ChildID]
	if !ok {
		return // already removed; tolerate a trailing event from a just-stopped child
	}
	switch ev.Type {
	case dispatch.TypeError:
		if b.state != boundActive {
			panic(ProtocolError{State: b.state, Source: ev.Source, Type: ev.Type})
		}
		b.base.StatIncrement(stats.BrokenConnections, 1)
		child.Stop()
	case dispatch.TypeStopped:
		delete(b.children, ev.ChildID)
		if b.state == boundStoppingChildren && len(b.children) == 0 {
			b.finish()
		}
	default:
		panic(ProtocolError{State: b.state, Source: ev.Source, Type: ev.Type})
	}
}

func (b *Bound) handleBackoff(ev dispatch.Event) {
	switch ev.Type {
	case dispatch.TypeTimeout:
		if b.state != boundWaiting {
			panic(ProtocolError{State: b.state, Source: ev.Source, Type: ev.Type})
		}
		b.state = boundStoppingBackoff
		b.retry.Stop()
	case dispatch.TypeStopped:
		if b.state == boundStoppingBackoff {
			if b.stopping {
				b.enterStoppingListener()
			} else {
				b.attemptListen()
			}
		}
		// else: ignore — STOPPED of the backoff Stop() issued from onStop()
		// in WAITING/STOPPING_BACKOFF, arriving after shutdown moved on.
	default:
		panic(ProtocolError{State: b.state, Source: ev.Source, Type: ev.Type})
	}
}

func (b *Bound) onStop() {
	if b.stopping {
		return
	}
	b.stopping = true
	if b.state == boundWaiting || b.state == boundStoppingBackoff {
		b.retry.Stop()
	}
	if b.pending != nil {
		b.state = boundStoppingPending
		b.pending.Stop()
		return
	}
	b.enterStoppingListener()
}

func (b *Bound) enterStoppingListener() {
	b.state = boundStoppingListener
	if b.listener == nil {
		b.afterListenerStopped()
		return
	}
	b.listener.Stop()
}

func (b *Bound) afterListenerStopped() {
	if len(b.children) == 0 {
		b.finish()
		return
	}
	b.state = boundStoppingChildren
	for _, c := range b.children {
		c.Stop()
	}
}

func (b *Bound) finish() {
	b.state = boundIdle
	b.base.Stopped()
}
