// Package stats implements the "Recognized statistic kinds" of the endpoint
// base contract as Prometheus collectors, grounded on dittofs's pkg/metrics
// pattern of one labeled collector family per component.
package stats

import "github.com/prometheus/client_golang/prometheus"

// Kind is one of the statistic kinds recognized by the endpoint base.
type Kind int

const (
	InProgressConnections Kind = iota
	EstablishedConnections
	BrokenConnections
	ConnectErrors
	DroppedConnections
)

func (k Kind) String() string {
	switch k {
	case InProgressConnections:
		return "inprogress_connections"
	case EstablishedConnections:
		return "established_connections"
	case BrokenConnections:
		return "broken_connections"
	case ConnectErrors:
		return "connect_errors"
	case DroppedConnections:
		return "dropped_connections"
	default:
		return "unknown"
	}
}

// Recorder increments the statistic kinds an endpoint reports. A nil
// *Recorder is valid and records nothing, so tests never need a live
// Prometheus registry.
type Recorder struct {
	gauges   map[Kind]prometheus.Gauge
	counters map[Kind]prometheus.Counter
}

// New creates a Recorder whose collectors are registered under reg, labeled
// with the given endpoint name. If reg is nil, the returned Recorder is a
// no-op sink.
func New(reg prometheus.Registerer, endpoint string) *Recorder {
	if reg == nil {
		return &Recorder{}
	}
	r := &Recorder{
		gauges:   make(map[Kind]prometheus.Gauge),
		counters: make(map[Kind]prometheus.Counter),
	}
	r.gauges[InProgressConnections] = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   "epfsm",
		Name:        "inprogress_connections",
		Help:        "Connect attempts currently in flight.",
		ConstLabels: prometheus.Labels{"endpoint": endpoint},
	})
	for _, k := range []Kind{EstablishedConnections, BrokenConnections, ConnectErrors, DroppedConnections} {
		r.counters[k] = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "epfsm",
			Name:        k.String(),
			Help:        k.String() + " total.",
			ConstLabels: prometheus.Labels{"endpoint": endpoint},
		})
	}
	for _, c := range r.gauges {
		reg.MustRegister(c)
	}
	for _, c := range r.counters {
		reg.MustRegister(c)
	}
	return r
}

// Increment applies delta to kind. Gauge kinds accept negative deltas;
// counter kinds must only ever be incremented (delta >= 0), matching the
// monotonic statistics in spec §6.
func (r *Recorder) Increment(kind Kind, delta int64) {
	if r == nil {
		return
	}
	if g, ok := r.gauges[kind]; ok {
		g.Add(float64(delta))
		return
	}
	if c, ok := r.counters[kind]; ok {
		if delta < 0 {
			return
		}
		c.Add(float64(delta))
	}
}
