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
	"github.com/nanomsg-go/epfsm/pkg/resolver"
	"github.com/nanomsg-go/epfsm/pkg/session"
	"github.com/nanomsg-go/epfsm/pkg/socket"
	"github.com/nanomsg-go/epfsm/pkg/stats"
)

type connState int

const (
	connIdle connState = iota
	connResolving
	connStoppingDNS
	connConnecting
	connActive
	connStoppingSession
	connStoppingSocket
	connWaiting
	connStoppingBackoff
	connStoppingSessionFinal
	connStopping
)

func (s connState) String() string {
	switch s {
	case connIdle:
		return "IDLE"
	case connResolving:
		return "RESOLVING"
	case connStoppingDNS:
		return "STOPPING_DNS"
	case connConnecting:
		return "CONNECTING"
	case connActive:
		return "ACTIVE"
	case connStoppingSession:
		return "STOPPING_SESSION"
	case connStoppingSocket:
		return "STOPPING_SOCKET"
	case connWaiting:
		return "WAITING"
	case connStoppingBackoff:
		return "STOPPING_BACKOFF"
	case connStoppingSessionFinal:
		return "STOPPING_SESSION_FINAL"
	case connStopping:
		return "STOPPING"
	default:
		return "UNKNOWN"
	}
}

// Connected is the connected endpoint: owns a client socket, a single
// session, a DNS resolver, and a retry timer. See SPEC_FULL.md §4.2.
type Connected struct {
	base    epbase.Base
	loop    *dispatch.Loop
	addr    addr.Connected
	traceID string

	state     connState
	stopping  bool
	dns       *resolver.Resolver
	dnsResult resolver.Result
	sock      *socket.Socket
	sess      *session.Session
	retry     *backoff.Timer
	retryOwed bool // a backoff STOPPED is still outstanding and must be waited for
	finalLeft int
}

// CreateConnected parses address (`[LOCAL_IFACE;]HOST:PORT`), validates the
// host and any named local interface up front (so INVALID/NODEV surface
// synchronously as spec.md's public contract requires), and returns a
// Connected ready for Start. The local interface is re-resolved on every
// connect attempt thereafter — spec.md's "no address re-resolution while a
// connection is live" non-goal bars re-resolving mid-connection, not
// between attempts.
func CreateConnected(address string, opts options.Store, rec *stats.Recorder, onStopped func()) (*Connected, error) {
	parsed, err := addr.SplitConnected(address)
	if err != nil {
		return nil, err
	}
	if !addr.IsLiteral(parsed.Host) && !addr.ValidHostname(parsed.Host) {
		return nil, addr.ErrInvalid
	}
	if parsed.LocalIface != "" {
		if _, err := addr.ResolveInterface(parsed.LocalIface, opts.IPv4Only); err != nil {
			return nil, err
		}
	}
	c := &Connected{
		base:    epbase.New(address, opts, rec, onStopped),
		addr:    parsed,
		traceID: uuid.NewString(),
	}
	c.loop = dispatch.NewLoop(32, c.handle)
	c.retry = backoff.New(opts.ReconnectIvl, opts.EffectiveMax(), c.loop.PostFunc(dispatch.SourceBackoff))
	c.retryOwed = c.retry.Armed() // true: a freshly-armed Timer always owes one Stop-triggered STOPPED
	return c, nil
}

// Start begins resolve → connect → active.
func (c *Connected) Start() {
	c.loop.Post(dispatch.Event{Source: dispatch.SourceFSM, Type: dispatch.TypeStart})
}

// Stop initiates asynchronous shutdown. A second call is a no-op.
func (c *Connected) Stop() {
	c.loop.Post(dispatch.Event{Source: dispatch.SourceFSM, Type: dispatch.TypeStop})
}

// Destroy releases the dispatch loop. Must only be called after Stopped()
// has been observed via the onStopped callback passed to CreateConnected.
func (c *Connected) Destroy() { c.loop.Close() }

// State reports the current state, for tests.
func (c *Connected) State() string { return c.state.String() }

func (c *Connected) handle(ev dispatch.Event) {
	switch ev.Source {
	case dispatch.SourceFSM:
		c.handleFSM(ev)
	case dispatch.SourceDNS:
		c.handleDNS(ev)
	case dispatch.SourceSocket:
		c.handleSocket(ev)
	case dispatch.SourceSession:
		c.handleSession(ev)
	case dispatch.SourceBackoff:
		c.handleBackoff(ev)
	default:
		panic(ProtocolError{State: c.state, Source: ev.Source, Type: ev.Type})
	}
}

func (c *Connected) handleFSM(ev dispatch.Event) {
	switch ev.Type {
	case dispatch.TypeStart:
		if c.state != connIdle {
			panic(ProtocolError{State: c.state, Source: ev.Source, Type: ev.Type})
		}
		c.beginResolve()
	case dispatch.TypeStop:
		c.onStop()
	default:
		panic(ProtocolError{State: c.state, Source: ev.Source, Type: ev.Type})
	}
}

// beginResolve starts DNS resolution, or, for a literal host, synthesizes an
// immediate result through the same Resolver.Stop cancellable path a real
// lookup uses — so a Stop arriving hard on the heels of Start is handled by
// the ordinary connStoppingDNS/connStopping bookkeeping below instead of a
// bare unmanaged goroutine racing the FSM.
func (c *Connected) beginResolve() {
	c.dns = resolver.New(c.loop.PostFunc(dispatch.SourceDNS))
	c.state = connResolving
	if addr.IsLiteral(c.addr.Host) {
		c.dnsResult = resolver.Result{Addr: net.ParseIP(c.addr.Host)}
		c.state = connStoppingDNS
		c.dns.Stop()
		return
	}
	c.dns.Resolve(context.Background(), c.addr.Host, c.base.Options().IPv4Only)
}

func (c *Connected) handleDNS(ev dispatch.Event) {
	switch ev.Type {
	case dispatch.TypeDone:
		if c.state != connResolving {
			// stray: a Stop already moved the FSM on before this lookup's
			// result arrived.
			return
		}
		c.dnsResult = ev.Payload.(resolver.Result)
		c.state = connStoppingDNS
		c.dns.Stop()
	case dispatch.TypeStopped:
		switch c.state {
		case connStoppingDNS:
			c.dns = nil
			if c.dnsResult.Err == nil {
				c.beginConnect()
			} else {
				c.base.SetError(c.dnsResult.Err)
				c.startRetryWaiting()
			}
		case connStopping:
			c.dns = nil
			c.decFinal()
		default:
			// ignore stray
		}
	default:
		panic(ProtocolError{State: c.state, Source: ev.Source, Type: ev.Type})
	}
}

func (c *Connected) beginConnect() {
	laddrIP, err := addr.ResolveInterface(c.addr.LocalIface, c.base.Options().IPv4Only)
	if err != nil {
		c.base.SetError(err)
		c.startRetryWaiting()
		return
	}
	network := "tcp4"
	if laddrIP.To4() == nil {
		network = "tcp6"
	}
	c.sock = socket.NewClient(c.loop.PostFunc(dispatch.SourceSocket))
	laddr := &net.TCPAddr{IP: laddrIP}
	raddr := &net.TCPAddr{IP: c.dnsResult.Addr, Port: int(c.addr.Port)}
	c.state = connConnecting
	c.base.StatIncrement(stats.InProgressConnections, 1)
	opts := c.base.Options()
	logger.Debug("connected: dialing", logger.TraceID(c.traceID), logger.Source("connected"), logger.Address(c.base.Address()))
	c.sock.Connect(network, laddr, raddr, opts.SndBuf, opts.RcvBuf)
}

func (c *Connected) handleSocket(ev dispatch.Event) {
	switch ev.Type {
	case dispatch.TypeConnected:
		if c.state != connConnecting {
			// stray: Stop ran while a Dial was already in flight (Dial has
			// no cancellation hook) and this connection arrived too late.
			if conn, ok := ev.Payload.(net.Conn); ok {
				_ = conn.Close()
			}
			return
		}
		conn := ev.Payload.(net.Conn)
		c.sess = session.New(c.loop.PostFunc(dispatch.SourceSession), 0, conn)
		c.sess.Start(context.Background())
		c.state = connActive
		c.base.StatIncrement(stats.InProgressConnections, -1)
		c.base.StatIncrement(stats.EstablishedConnections, 1)
		c.base.ClearError()
		c.retry.ResetOnSuccess()
	case dispatch.TypeError:
		if c.state != connConnecting {
			// stray: same late-Dial race as TypeConnected above.
			return
		}
		c.base.SetError(ev.Err)
		c.base.StatIncrement(stats.InProgressConnections, -1)
		c.base.StatIncrement(stats.ConnectErrors, 1)
		c.state = connStoppingSocket
		c.sock.Stop()
	case dispatch.TypeShutdown:
		// advisory; no state change.
	case dispatch.TypeStopped:
		switch c.state {
		case connStoppingSocket:
			c.sock = nil
			c.startRetryWaiting()
		case connStopping:
			c.sock = nil
			c.decFinal()
		default:
			// ignore stray
		}
	default:
		panic(ProtocolError{State: c.state, Source: ev.Source, Type: ev.Type})
	}
}

func (c *Connected) handleSession(ev dispatch.Event) {
	switch ev.Type {
	case dispatch.TypeError:
		if c.state != connActive {
			panic(ProtocolError{State: c.state, Source: ev.Source, Type: ev.Type})
		}
		c.base.StatIncrement(stats.BrokenConnections, 1)
		c.state = connStoppingSession
		c.sess.Stop()
	case dispatch.TypeStopped:
		switch c.state {
		case connStoppingSession:
			c.sess = nil
			c.state = connStoppingSocket
			c.sock.Stop()
		case connStoppingSessionFinal:
			c.sess = nil
			c.enterFinalTeardown()
		default:
			// ignore stray
		}
	default:
		panic(ProtocolError{State: c.state, Source: ev.Source, Type: ev.Type})
	}
}

func (c *Connected) startRetryWaiting() {
	c.state = connWaiting
	c.retry.Start()
	c.retryOwed = true
}

func (c *Connected) handleBackoff(ev dispatch.Event) {
	switch ev.Type {
	case dispatch.TypeTimeout:
		if c.state != connWaiting {
			panic(ProtocolError{State: c.state, Source: ev.Source, Type: ev.Type})
		}
		c.state = connStoppingBackoff
		c.retry.Stop()
	case dispatch.TypeStopped:
		switch c.state {
		case connStoppingBackoff:
			c.retryOwed = false
			if c.stopping {
				c.enterFinalTeardown()
			} else {
				c.beginResolve()
			}
		case connStopping:
			c.retryOwed = false
			c.decFinal()
		default:
			// ignore stray
		}
	default:
		panic(ProtocolError{State: c.state, Source: ev.Source, Type: ev.Type})
	}
}

func (c *Connected) onStop() {
	if c.stopping {
		return
	}
	c.stopping = true
	if c.sess != nil && !c.sess.IsIdle() {
		c.base.StatIncrement(stats.DroppedConnections, 1)
		c.state = connStoppingSessionFinal
		c.sess.Stop()
		return
	}
	c.enterFinalTeardown()
}

// enterFinalTeardown stops the backoff, socket and DNS sub-machines
// concurrently, per spec §4.2: by this point the session is always already
// idle, so the socket no longer needs to wait on it. The retry timer only
// counts toward finalLeft when a STOPPED is actually still outstanding for
// it (retryOwed) — Stop is idempotent, so after a prior reconnect cycle has
// already consumed its one STOPPED, calling it again is a no-op and must
// not be waited on.
func (c *Connected) enterFinalTeardown() {
	c.state = connStopping
	c.finalLeft = 0
	if c.retryOwed {
		c.finalLeft++
	}
	c.retry.Stop()
	if c.sock != nil {
		c.finalLeft++
		c.sock.Stop()
	}
	if c.dns != nil {
		c.finalLeft++
		c.dns.Stop()
	}
	if c.finalLeft == 0 {
		c.finish()
	}
}

func (c *Connected) decFinal() {
	c.finalLeft--
	if c.finalLeft <= 0 {
		c.finish()
	}
}

func (c *Connected) finish() {
	c.state = connIdle
	c.base.Stopped()
}
