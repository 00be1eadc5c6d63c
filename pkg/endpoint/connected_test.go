package endpoint

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnected_ConnectsToListeningBound(t *testing.T) {
	port := freePort(t)
	addr := "127.0.0.1:" + strconv.Itoa(port)

	bDone := make(chan struct{})
	b, err := CreateBound(addr, testOptions(), nil, func() { close(bDone) })
	require.NoError(t, err)
	b.Start()
	waitForState(t, b.State, "ACTIVE", time.Second)

	cDone := make(chan struct{})
	c, err := CreateConnected(addr, testOptions(), nil, func() { close(cDone) })
	require.NoError(t, err)
	c.Start()
	waitForState(t, c.State, "ACTIVE", time.Second)

	c.Stop()
	select {
	case <-cDone:
	case <-time.After(time.Second):
		t.Fatal("connected endpoint never stopped")
	}
	c.Destroy()

	b.Stop()
	<-bDone
	b.Destroy()
}

func TestConnected_RetriesUntilListenerAppears(t *testing.T) {
	port := freePort(t)
	addr := "127.0.0.1:" + strconv.Itoa(port)

	cDone := make(chan struct{})
	opts := testOptions()
	c, err := CreateConnected(addr, opts, nil, func() { close(cDone) })
	require.NoError(t, err)
	c.Start()
	waitForState(t, c.State, "WAITING", time.Second)

	bDone := make(chan struct{})
	b, err := CreateBound(addr, opts, nil, func() { close(bDone) })
	require.NoError(t, err)
	b.Start()
	waitForState(t, b.State, "ACTIVE", time.Second)

	waitForState(t, c.State, "ACTIVE", 2*time.Second)

	c.Stop()
	<-cDone
	c.Destroy()

	b.Stop()
	<-bDone
	b.Destroy()
}

func TestConnected_StopMidConnectNeverPanics(t *testing.T) {
	port := freePort(t)
	addr := "127.0.0.1:" + strconv.Itoa(port)

	cDone := make(chan struct{})
	c, err := CreateConnected(addr, testOptions(), nil, func() { close(cDone) })
	require.NoError(t, err)

	require.NotPanics(t, func() {
		c.Start()
		c.Stop()
	})

	select {
	case <-cDone:
	case <-time.After(2 * time.Second):
		t.Fatal("connected endpoint never stopped")
	}
	c.Destroy()
}

func TestConnected_SessionErrorTriggersReconnect(t *testing.T) {
	port := freePort(t)
	addr := "127.0.0.1:" + strconv.Itoa(port)

	opts := testOptions()
	bDone := make(chan struct{})
	b, err := CreateBound(addr, opts, nil, func() { close(bDone) })
	require.NoError(t, err)
	b.Start()
	waitForState(t, b.State, "ACTIVE", time.Second)

	cDone := make(chan struct{})
	c, err := CreateConnected(addr, opts, nil, func() { close(cDone) })
	require.NoError(t, err)
	c.Start()
	waitForState(t, c.State, "ACTIVE", time.Second)

	waitForCondition(t, func() bool { return b.Children() == 1 }, time.Second, "bound accepted the connection")

	// Tearing down the bound side resets the connection out from under the
	// connected endpoint's session, which must observe the error and cycle
	// back through WAITING rather than panicking.
	b.Stop()
	<-bDone
	b.Destroy()

	waitForState(t, c.State, "WAITING", 2*time.Second)

	c.Stop()
	<-cDone
	c.Destroy()
}

func TestConnected_StopAfterFullReconnectCycleDoesNotHang(t *testing.T) {
	port := freePort(t)
	addr := "127.0.0.1:" + strconv.Itoa(port)

	opts := testOptions()
	bDone := make(chan struct{})
	b, err := CreateBound(addr, opts, nil, func() { close(bDone) })
	require.NoError(t, err)
	b.Start()
	waitForState(t, b.State, "ACTIVE", time.Second)

	cDone := make(chan struct{})
	c, err := CreateConnected(addr, opts, nil, func() { close(cDone) })
	require.NoError(t, err)
	c.Start()
	waitForState(t, c.State, "ACTIVE", time.Second)

	// Kill the bound side and let the connected endpoint cycle all the way
	// through WAITING -> TIMEOUT -> STOPPING_BACKOFF, consuming the retry
	// timer's one STOPPED, before it reconnects to a freshly re-bound
	// listener on the same address.
	b.Stop()
	<-bDone
	b.Destroy()
	waitForState(t, c.State, "WAITING", 2*time.Second)

	b2Done := make(chan struct{})
	b2, err := CreateBound(addr, opts, nil, func() { close(b2Done) })
	require.NoError(t, err)
	b2.Start()
	waitForState(t, b2.State, "ACTIVE", time.Second)

	waitForState(t, c.State, "ACTIVE", 2*time.Second)

	// The retry timer's STOPPED was already consumed by the reconnect cycle
	// above; Stop must not wait forever on a second one that never comes.
	c.Stop()
	select {
	case <-cDone:
	case <-time.After(2 * time.Second):
		t.Fatal("connected endpoint never stopped after a completed reconnect cycle")
	}
	c.Destroy()

	b2.Stop()
	<-b2Done
	b2.Destroy()
}

func TestCreateConnected_InvalidHost(t *testing.T) {
	_, err := CreateConnected("not a host!!:5555", testOptions(), nil, func() {})
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestCreateConnected_LiteralHostSkipsDNS(t *testing.T) {
	port := freePort(t)
	addr := "127.0.0.1:" + strconv.Itoa(port)

	bDone := make(chan struct{})
	b, err := CreateBound(addr, testOptions(), nil, func() { close(bDone) })
	require.NoError(t, err)
	b.Start()
	waitForState(t, b.State, "ACTIVE", time.Second)

	cDone := make(chan struct{})
	c, err := CreateConnected(addr, testOptions(), nil, func() { close(cDone) })
	require.NoError(t, err)
	c.Start()
	waitForState(t, c.State, "ACTIVE", time.Second)

	c.Stop()
	<-cDone
	c.Destroy()

	b.Stop()
	<-bDone
	b.Destroy()
}
