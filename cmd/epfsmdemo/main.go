// Command epfsmdemo wires one bound endpoint and one connected endpoint
// against each other over loopback TCP, to exercise the FSMs end to end
// outside of the test suite.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nanomsg-go/epfsm/internal/logger"
	"github.com/nanomsg-go/epfsm/pkg/endpoint"
	"github.com/nanomsg-go/epfsm/pkg/options"
	"github.com/nanomsg-go/epfsm/pkg/stats"
)

const usage = `epfsmdemo - exercise the bound/connected endpoint pair

Usage:
  epfsmdemo [flags]

Flags:
  --bind string           Bound address IFACE:PORT (default "*:5555")
  --connect string        Connected address HOST:PORT (default "127.0.0.1:5555")
  --reconnect duration     Minimum reconnect interval (default 200ms)
  --reconnect-max duration Maximum reconnect interval (default 5s)
  --log-level string      DEBUG, INFO, WARN, ERROR (default "INFO")
  --log-format string     text or json (default "text")
`

func main() {
	bindAddr := flag.String("bind", "*:5555", "bound address IFACE:PORT")
	connectAddr := flag.String("connect", "127.0.0.1:5555", "connected address HOST:PORT")
	reconnect := flag.Duration("reconnect", 200*time.Millisecond, "minimum reconnect interval")
	reconnectMax := flag.Duration("reconnect-max", 5*time.Second, "maximum reconnect interval")
	logLevel := flag.String("log-level", "INFO", "log level")
	logFormat := flag.String("log-format", "text", "log format")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if err := logger.Init(logger.Config{Level: *logLevel, Format: *logFormat}); err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}

	opts := options.Default()
	opts.ReconnectIvl = *reconnect
	opts.ReconnectIvlMax = *reconnectMax

	reg := prometheus.NewRegistry()
	boundDone := make(chan struct{})
	connDone := make(chan struct{})

	boundRec := stats.New(reg, "bound:"+*bindAddr)
	bound, err := endpoint.CreateBound(*bindAddr, opts, boundRec, func() { close(boundDone) })
	if err != nil {
		log.Fatalf("failed to create bound endpoint on %q: %v", *bindAddr, err)
	}

	connRec := stats.New(reg, "connected:"+*connectAddr)
	conn, err := endpoint.CreateConnected(*connectAddr, opts, connRec, func() { close(connDone) })
	if err != nil {
		log.Fatalf("failed to create connected endpoint to %q: %v", *connectAddr, err)
	}

	logger.Info("epfsmdemo starting", logger.Address(*bindAddr))
	bound.Start()
	conn.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	logger.Info("running, press Ctrl+C to stop")
	<-sigCh
	signal.Stop(sigCh)
	logger.Info("shutdown signal received")

	conn.Stop()
	bound.Stop()
	<-connDone
	<-boundDone
	conn.Destroy()
	bound.Destroy()
	logger.Info("epfsmdemo stopped")
}
