// Package session implements the per-connection session sub-machine:
// once handed a connected net.Conn it drives reads/writes and reports
// ERROR or STOPPED. Message framing/protocol semantics on an established
// connection are explicitly out of scope for spec.md (§1); this package
// supplies the minimal length-prefixed framer needed to exercise the
// endpoint FSMs' lifecycle sequencing end to end, grounded on dittofs's
// ConnectionHandler.Serve(ctx) shape (pkg/adapter/base.go).
package session

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/nanomsg-go/epfsm/pkg/dispatch"
)

type postFunc func(dispatch.Type, uint64, any, error)

// Session is the per-connection sub-machine.
type Session struct {
	post    postFunc
	childID uint64
	conn    net.Conn

	idle     atomic.Bool
	stopping atomic.Bool
	cancel   context.CancelFunc
	once     sync.Once
}

// New creates a Session over conn. childID tags events so the owning
// endpoint can correlate them to the right entry in `children` (or 0 for
// the connected endpoint's single session).
func New(post postFunc, childID uint64, conn net.Conn) *Session {
	s := &Session{post: post, childID: childID, conn: conn}
	s.idle.Store(true)
	return s
}

// Start begins the read loop. The session becomes non-idle until it
// observes an error, EOF, or Stop.
func (s *Session) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.idle.Store(false)
	go s.readLoop(ctx)
}

func (s *Session) readLoop(ctx context.Context) {
	defer s.idle.Store(true)
	header := make([]byte, 4)
	for {
		if ctx.Err() != nil {
			return
		}
		if _, err := io.ReadFull(s.conn, header); err != nil {
			s.reportError(err)
			return
		}
		n := binary.BigEndian.Uint32(header)
		if n > 0 {
			buf := make([]byte, n)
			if _, err := io.ReadFull(s.conn, buf); err != nil {
				s.reportError(err)
				return
			}
		}
	}
}

// reportError posts ERROR for a genuine read failure. It is suppressed once
// Stop has been called: closing the connection to unblock the read loop
// would otherwise surface as a spurious ERROR racing the STOPPED that Stop
// already commands.
func (s *Session) reportError(err error) {
	if s.stopping.Load() {
		return
	}
	s.once.Do(func() {
		s.post(dispatch.TypeError, s.childID, nil, err)
	})
}

// Write frames and writes a single message.
func (s *Session) Write(payload []byte) error {
	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(len(payload)))
	if _, err := s.conn.Write(header); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	_, err := s.conn.Write(payload)
	return err
}

// IsIdle reports whether the session has no read loop running, per the
// connected endpoint invariant that the session is idle outside ACTIVE.
func (s *Session) IsIdle() bool {
	return s.idle.Load()
}

// Stop tears down the connection and asynchronously posts exactly one
// STOPPED event.
func (s *Session) Stop() {
	s.stopping.Store(true)
	if s.cancel != nil {
		s.cancel()
	}
	_ = s.conn.Close()
	go s.post(dispatch.TypeStopped, s.childID, nil, nil)
}
