// Package epbase implements the endpoint base contract of spec.md §6: the
// borrowed handle that both endpoint FSMs use for address, option reads,
// statistics, error reporting, and the terminal "stopped"/"term" callbacks.
package epbase

import (
	"sync"

	"github.com/nanomsg-go/epfsm/pkg/options"
	"github.com/nanomsg-go/epfsm/pkg/stats"
)

// Base is the contract the core FSMs consume. Endpoints never own their
// Base; it is constructed by the caller and borrowed for the endpoint's
// lifetime.
type Base interface {
	Address() string
	Options() options.Store
	StatIncrement(kind stats.Kind, delta int64)
	SetError(err error)
	ClearError()
	LastError() error
	Stopped()
	Term()
}

// impl is the concrete Base used by both endpoint types and by tests.
type impl struct {
	address string
	opts    options.Store
	rec     *stats.Recorder

	mu       sync.Mutex
	lastErr  error
	onStop   func()
	terminal bool
}

// New creates a Base for address, with the given option overrides and
// statistics recorder (nil recorder is a valid no-op sink). onStopped is
// invoked exactly once, when the owning endpoint calls Stopped().
func New(address string, opts options.Store, rec *stats.Recorder, onStopped func()) Base {
	return &impl{address: address, opts: opts, rec: rec, onStop: onStopped}
}

func (b *impl) Address() string { return b.address }

func (b *impl) Options() options.Store { return b.opts }

func (b *impl) StatIncrement(kind stats.Kind, delta int64) {
	b.rec.Increment(kind, delta)
}

func (b *impl) SetError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastErr = err
}

func (b *impl) ClearError() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastErr = nil
}

func (b *impl) LastError() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastErr
}

func (b *impl) Stopped() {
	b.mu.Lock()
	already := b.terminal
	b.terminal = true
	cb := b.onStop
	b.mu.Unlock()
	if !already && cb != nil {
		cb()
	}
}

func (b *impl) Term() {}
