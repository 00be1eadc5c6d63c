package backoff

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nanomsg-go/epfsm/pkg/dispatch"
)

type recordedEvent struct {
	typ dispatch.Type
}

type recorder struct {
	mu     sync.Mutex
	events []recordedEvent
	ch     chan recordedEvent
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan recordedEvent, 16)}
}

func (r *recorder) post(t dispatch.Type, _ uint64, _ any, _ error) {
	r.mu.Lock()
	r.events = append(r.events, recordedEvent{typ: t})
	r.mu.Unlock()
	r.ch <- recordedEvent{typ: t}
}

func (r *recorder) waitFor(t *testing.T, typ dispatch.Type, timeout time.Duration) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-r.ch:
			if ev.typ == typ {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", typ)
		}
	}
}

func TestTimerFiresTimeout(t *testing.T) {
	rec := newRecorder()
	timer := New(10*time.Millisecond, 20*time.Millisecond, rec.post)

	timer.Start()
	rec.waitFor(t, dispatch.TypeTimeout, time.Second)
}

func TestTimerStopIsIdempotent(t *testing.T) {
	rec := newRecorder()
	timer := New(10*time.Millisecond, 20*time.Millisecond, rec.post)

	timer.Start()
	timer.Stop()
	timer.Stop()
	timer.Stop()

	rec.waitFor(t, dispatch.TypeStopped, time.Second)

	// No second STOPPED should ever arrive.
	select {
	case ev := <-rec.ch:
		t.Fatalf("unexpected second event after idempotent Stop: %v", ev.typ)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTimerStopCancelsPendingTimeout(t *testing.T) {
	rec := newRecorder()
	timer := New(200*time.Millisecond, 200*time.Millisecond, rec.post)

	timer.Start()
	timer.Stop()

	rec.waitFor(t, dispatch.TypeStopped, time.Second)

	select {
	case ev := <-rec.ch:
		t.Fatalf("unexpected event after stop: %v", ev.typ)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestTimerRestartAfterStop(t *testing.T) {
	rec := newRecorder()
	timer := New(10*time.Millisecond, 10*time.Millisecond, rec.post)

	timer.Start()
	timer.Stop()
	rec.waitFor(t, dispatch.TypeStopped, time.Second)

	// Start arms the timer again and clears the stopped guard, so a later
	// Stop() posts a fresh STOPPED rather than being swallowed.
	timer.Start()
	timer.Stop()
	rec.waitFor(t, dispatch.TypeStopped, time.Second)
}

func TestExponentialGrowthBoundedByMax(t *testing.T) {
	rec := newRecorder()
	timer := New(5*time.Millisecond, 15*time.Millisecond, rec.post)
	require.NotNil(t, timer.bo)
	assert.Equal(t, 5*time.Millisecond, timer.bo.InitialInterval)
	assert.Equal(t, 15*time.Millisecond, timer.bo.MaxInterval)
}

func TestMaxDefaultsToMinWhenSmaller(t *testing.T) {
	timer := New(20*time.Millisecond, 5*time.Millisecond, func(dispatch.Type, uint64, any, error) {})
	assert.Equal(t, 20*time.Millisecond, timer.bo.MaxInterval)
}
