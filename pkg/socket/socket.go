// Package socket implements the "underlying non-blocking stream socket"
// sub-machine external to spec.md's core: a thin goroutine-backed wrapper
// over net.Listener/net.Conn that reports CONNECTED, ACCEPTED, SHUTDOWN,
// STOPPED and ERROR through a dispatch.Loop, so the endpoint handler never
// performs synchronous I/O itself.
//
// Three roles share this type: the bound endpoint's listener, its pending
// accept slot, and the connected endpoint's client socket. Each role only
// calls the methods that apply to it.
package socket

import (
	"net"
	"sync"

	"github.com/nanomsg-go/epfsm/pkg/dispatch"
)

type postFunc func(dispatch.Type, uint64, any, error)

// Socket is one instance of the underlying socket sub-machine.
type Socket struct {
	post postFunc

	mu       sync.Mutex
	ln       net.Listener
	conn     net.Conn
	stopping bool
	stopped  bool
}

// NewListener creates a socket in the listening role.
func NewListener(post postFunc) *Socket {
	return &Socket{post: post}
}

// NewPendingAccept creates a socket in the pending-accept role: it performs
// one accept against an already-bound listener and then is done, mirroring
// spec.md's "pending session ... commanded to begin accepting".
func NewPendingAccept(post postFunc) *Socket {
	return &Socket{post: post}
}

// NewClient creates a socket in the connecting-client role.
func NewClient(post postFunc) *Socket {
	return &Socket{post: post}
}

// Listen binds and listens on laddr with the given network ("tcp", "tcp4",
// "tcp6"). The listen backlog the OS applies is not independently settable
// through net.Listen; see SPEC_FULL.md §4 for why 100 remains a documented
// target rather than an enforced value.
func (s *Socket) Listen(network string, laddr *net.TCPAddr) error {
	ln, err := net.ListenTCP(network, laddr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	return nil
}

// Listener exposes the bound net.Listener for a pending-accept socket to
// accept against.
func (s *Socket) Listener() net.Listener {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ln
}

// BeginAccept performs one Accept() against ln in a background goroutine,
// posting ACCEPTED with the accepted net.Conn on success or ERROR on
// failure. At most one ACCEPTED or ERROR follows, per spec.md §5.
func (s *Socket) BeginAccept(ln net.Listener) {
	go func() {
		conn, err := ln.Accept()
		s.mu.Lock()
		stopping := s.stopping
		s.mu.Unlock()
		if stopping {
			if conn != nil {
				_ = conn.Close()
			}
			return
		}
		if err != nil {
			s.post(dispatch.TypeError, 0, nil, err)
			return
		}
		s.post(dispatch.TypeAccepted, 0, conn, nil)
	}()
}

// Connect dials raddr from laddr in a background goroutine, applying
// sndBuf/rcvBuf before handing the connection off, and posts CONNECTED on
// success or ERROR on failure. Dial has no cancellation hook (unlike
// BeginAccept's listener close), so Stop can't interrupt it; instead the
// goroutine checks stopping once Dial returns and swallows the result
// rather than deliver it past a socket that's already being torn down —
// mirroring BeginAccept's own stopping check.
func (s *Socket) Connect(network string, laddr, raddr *net.TCPAddr, sndBuf, rcvBuf int) {
	go func() {
		d := net.Dialer{LocalAddr: laddr}
		conn, err := d.Dial(network, raddr.String())
		s.mu.Lock()
		stopping := s.stopping
		s.mu.Unlock()
		if stopping {
			if conn != nil {
				_ = conn.Close()
			}
			return
		}
		if err != nil {
			s.post(dispatch.TypeError, 0, nil, err)
			return
		}
		if tc, ok := conn.(*net.TCPConn); ok {
			if sndBuf > 0 {
				_ = tc.SetWriteBuffer(sndBuf)
			}
			if rcvBuf > 0 {
				_ = tc.SetReadBuffer(rcvBuf)
			}
		}
		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()
		s.post(dispatch.TypeConnected, 0, conn, nil)
	}()
}

// Conn returns the connected net.Conn, valid after a CONNECTED event.
func (s *Socket) Conn() net.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// Stop closes whatever this socket owns (listener and/or connection) and
// asynchronously posts SHUTDOWN followed by STOPPED — SHUTDOWN only when an
// I/O operation had genuinely begun, matching spec.md §5's "advisory,
// always precedes STOPPED" contract. Idempotent.
func (s *Socket) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopping = true
	s.stopped = true
	ln, conn := s.ln, s.conn
	s.mu.Unlock()

	hadIO := ln != nil || conn != nil
	if ln != nil {
		_ = ln.Close()
	}
	if conn != nil {
		_ = conn.Close()
	}
	go func() {
		if hadIO {
			s.post(dispatch.TypeShutdown, 0, nil, nil)
		}
		s.post(dispatch.TypeStopped, 0, nil, nil)
	}()
}
