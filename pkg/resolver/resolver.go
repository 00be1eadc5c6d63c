// Package resolver implements the DNS resolver sub-machine: asynchronously
// resolves a hostname to a single address, emitting DONE then STOPPED.
package resolver

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/nanomsg-go/epfsm/pkg/dispatch"
)

// Result is the stored resolution outcome, matching the connected
// endpoint's dns_result attribute in spec.md §3.
type Result struct {
	Err  error
	Addr net.IP
}

// Resolver is the DNS sub-machine.
type Resolver struct {
	post postFunc

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped bool
}

type postFunc func(dispatch.Type, uint64, any, error)

// New creates a Resolver reporting through post.
func New(post postFunc) *Resolver {
	return &Resolver{post: post}
}

// Resolve looks up host, preferring an IPv4 address when ipv4Only is set.
// Exactly one DONE event follows, carrying the Result as payload.
func (r *Resolver) Resolve(ctx context.Context, host string, ipv4Only bool) {
	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()

	go func() {
		var resolver net.Resolver
		ips, err := resolver.LookupIP(ctx, "ip", host)
		result := Result{}
		if err != nil {
			result.Err = err
		} else {
			addr, ferr := pick(ips, ipv4Only)
			if ferr != nil {
				result.Err = ferr
			} else {
				result.Addr = addr
			}
		}
		r.post(dispatch.TypeDone, 0, result, result.Err)
	}()
}

func pick(ips []net.IP, ipv4Only bool) (net.IP, error) {
	// spec.md §9 open question: a v6-only answer under IPV4ONLY is passed
	// through unfiltered here, not rejected — left to fail at bind, exactly
	// as the design note instructs.
	if ipv4Only {
		for _, ip := range ips {
			if v4 := ip.To4(); v4 != nil {
				return ip, nil
			}
		}
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("resolver: no addresses found")
	}
	return ips[0], nil
}

// Stop cancels any in-flight lookup and asynchronously posts exactly one
// STOPPED event. A second call is a no-op: a Resolver is single-use (one
// Resolve per instance), so unlike Timer there is no Start to re-arm it.
func (r *Resolver) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	go r.post(dispatch.TypeStopped, 0, nil, nil)
}
