// Package metrics defines the prometheus collectors of transports,
// sessions and bridges. Every method is safe on a nil receiver so
// components run without metrics when none are configured.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ardlink"

// Registry collects metrics of all components in a process.
type Registry struct {
	reg *prometheus.Registry
}

// NewRegistry creates a Registry with the process and Go collectors.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return &Registry{reg: reg}
}

// Prometheus returns the underlying registry.
func (r *Registry) Prometheus() *prometheus.Registry {
	return r.reg
}

func (r *Registry) register(cs ...prometheus.Collector) {
	if r == nil {
		return
	}
	r.reg.MustRegister(cs...)
}

// Link counts transport traffic of one endpoint.
type Link struct {
	lines        prometheus.Counter
	sentBytes    prometheus.Counter
	droppedBytes prometheus.Counter
	outOfBuffers prometheus.Counter
	overflows    prometheus.Counter
}

// NewLink creates Link metrics labelled with the endpoint name and
// registers them to r (which may be nil).
func NewLink(r *Registry, endpoint string) *Link {
	labels := prometheus.Labels{"endpoint": endpoint}
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "link",
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		})
	}
	m := &Link{
		lines:        counter("lines_total", "Lines delivered to the consumer"),
		sentBytes:    counter("sent_bytes_total", "Bytes written to the device"),
		droppedBytes: counter("dropped_bytes_total", "Received bytes discarded for lack of a buffer"),
		outOfBuffers: counter("out_of_buffers_total", "Lines that ran out of receive buffers"),
		overflows:    counter("pipe_overflows_total", "Receive pipe overflows"),
	}
	r.register(m.lines, m.sentBytes, m.droppedBytes, m.outOfBuffers, m.overflows)
	return m
}

// LineReceived counts a delivered line.
func (m *Link) LineReceived() {
	if m != nil {
		m.lines.Inc()
	}
}

// Sent counts written bytes.
func (m *Link) Sent(n int) {
	if m != nil {
		m.sentBytes.Add(float64(n))
	}
}

// Dropped counts discarded bytes, start tells a new line ran out of buffers.
func (m *Link) Dropped(start bool) {
	if m == nil {
		return
	}
	m.droppedBytes.Inc()
	if start {
		m.outOfBuffers.Inc()
	}
}

// Overflow counts a pipe reset.
func (m *Link) Overflow() {
	if m != nil {
		m.overflows.Inc()
	}
}

// Session counts IPC session events.
type Session struct {
	inbound  *prometheus.CounterVec
	replies  *prometheus.CounterVec
	sent     prometheus.Counter
	timeouts prometheus.Counter
	inFlight prometheus.Gauge
}

// Reply kinds.
const (
	ReplyResponse  = "response"
	ReplyOK        = "ok"
	ReplyError     = "error"
	ReplyMalformed = "malformed"
	ReplyDropped   = "uncorrelated"
)

// NewSession creates session metrics and registers them to r.
func NewSession(r *Registry, endpoint string) *Session {
	labels := prometheus.Labels{"endpoint": endpoint}
	m := &Session{
		inbound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "ipc",
			Name:        "inbound_commands_total",
			Help:        "Commands received from the peer by result",
			ConstLabels: labels,
		}, []string{"result"}),
		replies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "ipc",
			Name:        "replies_total",
			Help:        "Reply lines received from the peer by kind",
			ConstLabels: labels,
		}, []string{"kind"}),
		sent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "ipc",
			Name:        "sent_commands_total",
			Help:        "Commands sent to the peer",
			ConstLabels: labels,
		}),
		timeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "ipc",
			Name:        "timeouts_total",
			Help:        "Commands which timed out waiting for a reply",
			ConstLabels: labels,
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "ipc",
			Name:        "in_flight",
			Help:        "Commands sent and not yet answered",
			ConstLabels: labels,
		}),
	}
	r.register(m.inbound, m.replies, m.sent, m.timeouts, m.inFlight)
	return m
}

// Inbound counts an inbound command; result is "ok", "error" or "responded".
func (m *Session) Inbound(result string) {
	if m != nil {
		m.inbound.WithLabelValues(result).Inc()
	}
}

// Reply counts a reply line of the given kind.
func (m *Session) Reply(kind string) {
	if m != nil {
		m.replies.WithLabelValues(kind).Inc()
	}
}

// Sent counts a sent command.
func (m *Session) Sent() {
	if m != nil {
		m.sent.Inc()
	}
}

// Timeout counts a timed out command.
func (m *Session) Timeout() {
	if m != nil {
		m.timeouts.Inc()
	}
}

// InFlight records the in-flight counter.
func (m *Session) InFlight(n int) {
	if m != nil {
		m.inFlight.Set(float64(n))
	}
}

// Bridge counts passthrough traffic.
type Bridge struct {
	relayed    *prometheus.CounterVec
	recoveries prometheus.Counter
	exhausted  prometheus.Counter
}

// NewBridge creates bridge metrics and registers them to r.
func NewBridge(r *Registry) *Bridge {
	m := &Bridge{
		relayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "relayed_bytes_total",
			Help:      "Bytes relayed by destination endpoint",
		}, []string{"to"}),
		recoveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "buffer_recoveries_total",
			Help:      "Queued buffers discarded to recover from buffer exhaustion",
		}),
		exhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "buffer_exhausted_total",
			Help:      "Times no buffer could be recovered",
		}),
	}
	r.register(m.relayed, m.recoveries, m.exhausted)
	return m
}

// Relayed counts n bytes written to endpoint to.
func (m *Bridge) Relayed(to string, n int) {
	if m != nil {
		m.relayed.WithLabelValues(to).Add(float64(n))
	}
}

// Recovered counts a discarded queued buffer.
func (m *Bridge) Recovered() {
	if m != nil {
		m.recoveries.Inc()
	}
}

// Exhausted counts a failed recovery.
func (m *Bridge) Exhausted() {
	if m != nil {
		m.exhausted.Inc()
	}
}
