// Package backoff implements the endpoint retry timer sub-machine of
// spec §2: a timer that fires one TIMEOUT event after a delay growing from
// min toward max across successive failures, and resets on success.
//
// The delay arithmetic is delegated to cenkalti/backoff/v4's
// ExponentialBackOff, already present in the corpus's dependency graph;
// this package only adds the Start/Stop/TIMEOUT/STOPPED sub-machine shape
// spec.md requires around it.
package backoff

import (
	"sync"
	"time"

	cb "github.com/cenkalti/backoff/v4"

	"github.com/nanomsg-go/epfsm/pkg/dispatch"
)

// Timer is the backoff sub-machine. It owns no goroutine while idle; Start
// arms a time.Timer for one computed delay, Stop cancels it.
type Timer struct {
	post func(dispatch.Type, uint64, any, error)

	mu      sync.Mutex
	bo      *cb.ExponentialBackOff
	armed   *time.Timer
	running bool
	stopped bool
}

// New creates a Timer whose delay grows from min toward max (inclusive) and
// reports TIMEOUT/STOPPED through post, tagged dispatch.SourceBackoff by the
// caller's Loop.PostFunc.
func New(min, max time.Duration, post func(dispatch.Type, uint64, any, error)) *Timer {
	if max < min {
		max = min
	}
	bo := cb.NewExponentialBackOff()
	bo.InitialInterval = min
	bo.MaxInterval = max
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0 // never gives up; the endpoint decides when to stop retrying
	bo.Reset()
	return &Timer{post: post, bo: bo}
}

// Start arms the timer for the next computed delay. Exactly one TIMEOUT
// event follows, unless Stop is called first.
func (t *Timer) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = false
	delay := t.bo.NextBackOff()
	t.running = true
	t.armed = time.AfterFunc(delay, func() {
		t.mu.Lock()
		fired := t.running
		t.mu.Unlock()
		if fired {
			t.post(dispatch.TypeTimeout, 0, nil, nil)
		}
	})
}

// Stop cancels any armed timer and asynchronously posts exactly one STOPPED
// event, matching the terminal-event contract every sub-machine honors. A
// second call, before Start is invoked again, is a no-op: the sub-machine
// contract requires exactly one STOPPED per stop command.
func (t *Timer) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	t.running = false
	if t.armed != nil {
		t.armed.Stop()
	}
	t.mu.Unlock()
	go t.post(dispatch.TypeStopped, 0, nil, nil)
}

// ResetOnSuccess resets the backoff progression to min, called when the
// endpoint reaches its active state.
func (t *Timer) ResetOnSuccess() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bo.Reset()
}

// Armed reports whether Stop has not yet consumed the current arm cycle —
// i.e. whether calling Stop right now is guaranteed to emit a fresh STOPPED
// event rather than silently no-op. A caller that needs to know how many
// STOPPED events to wait for before tearing down must check this before
// calling Stop, since Stop itself is idempotent and only fires once per Start.
func (t *Timer) Armed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.stopped
}
