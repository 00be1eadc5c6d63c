package endpoint

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nanomsg-go/epfsm/pkg/options"
)

func testOptions() options.Store {
	opts := options.Default()
	opts.ReconnectIvl = 20 * time.Millisecond
	opts.ReconnectIvlMax = 80 * time.Millisecond
	return opts
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func waitForState(t *testing.T, get func() string, want string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if get() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %q, last seen %q", want, get())
}

func waitForCondition(t *testing.T, cond func() bool, timeout time.Duration, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out: %s", msg)
}

func TestBound_StartListensAndReachesActive(t *testing.T) {
	port := freePort(t)
	addr := "127.0.0.1:" + strconv.Itoa(port)

	done := make(chan struct{})
	b, err := CreateBound(addr, testOptions(), nil, func() { close(done) })
	require.NoError(t, err)

	b.Start()
	waitForState(t, b.State, "ACTIVE", time.Second)

	b.Stop()
	<-done
	b.Destroy()
}

func TestBound_BindRetryRecoversWhenPortFrees(t *testing.T) {
	port := freePort(t)
	addr := "127.0.0.1:" + strconv.Itoa(port)

	// Occupy the port first so the bound endpoint's first Listen() fails.
	occupied, err := net.Listen("tcp", addr)
	require.NoError(t, err)

	done := make(chan struct{})
	b, err := CreateBound(addr, testOptions(), nil, func() { close(done) })
	require.NoError(t, err)

	b.Start()
	waitForState(t, b.State, "WAITING", time.Second)

	require.NoError(t, occupied.Close())
	waitForState(t, b.State, "ACTIVE", 2*time.Second)

	b.Stop()
	<-done
	b.Destroy()
}

func TestBound_AcceptCreatesAndDropsChild(t *testing.T) {
	port := freePort(t)
	addr := "127.0.0.1:" + strconv.Itoa(port)

	done := make(chan struct{})
	b, err := CreateBound(addr, testOptions(), nil, func() { close(done) })
	require.NoError(t, err)

	b.Start()
	waitForState(t, b.State, "ACTIVE", time.Second)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)

	waitForCondition(t, func() bool { return b.Children() == 1 }, time.Second, "child registered")

	require.NoError(t, conn.Close())
	waitForCondition(t, func() bool { return b.Children() == 0 }, time.Second, "child dropped")

	assert.Equal(t, "ACTIVE", b.State())

	b.Stop()
	<-done
	b.Destroy()
}

func TestBound_StopWithNoActivityReachesIdle(t *testing.T) {
	port := freePort(t)
	addr := "127.0.0.1:" + strconv.Itoa(port)

	done := make(chan struct{})
	b, err := CreateBound(addr, testOptions(), nil, func() { close(done) })
	require.NoError(t, err)

	b.Start()
	waitForState(t, b.State, "ACTIVE", time.Second)

	b.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("endpoint never reached stopped")
	}
	assert.Equal(t, "IDLE", b.State())
	b.Destroy()
}

func TestBound_SecondStopIsNoOp(t *testing.T) {
	port := freePort(t)
	addr := "127.0.0.1:" + strconv.Itoa(port)

	done := make(chan struct{})
	b, err := CreateBound(addr, testOptions(), nil, func() { close(done) })
	require.NoError(t, err)

	b.Start()
	waitForState(t, b.State, "ACTIVE", time.Second)

	b.Stop()
	b.Stop()
	b.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("endpoint never reached stopped")
	}
	b.Destroy()
}

func TestCreateBound_InvalidAddress(t *testing.T) {
	_, err := CreateBound("no-port-here", testOptions(), nil, func() {})
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestCreateBound_NoSuchDevice(t *testing.T) {
	_, err := CreateBound("not-a-real-device-xyz:5555", testOptions(), nil, func() {})
	assert.ErrorIs(t, err, ErrNoDev)
}
