package bridge

import (
	"context"
	"io"
	"sync"

	"github.com/golang/glog"

	"github.com/robotalks/ardlink/pkg/link"
	"github.com/robotalks/ardlink/pkg/metrics"
)

// DefaultPoolSize is the number of buffers shared by both endpoints.
const DefaultPoolSize = 16

// Endpoint is one side of the bridge.
type Endpoint struct {
	Name   string
	Device io.ReadWriter

	splitter link.Splitter
	queue    chan *link.Message
	signal   chan struct{}
	peer     *Endpoint
}

// Stats is a snapshot of bridge counters.
type Stats struct {
	Relayed     map[string]uint64
	Recoveries  uint64
	Exhausted   uint64
	FreeBuffers int
}

// Bridge relays lines between USB and UART.
type Bridge struct {
	USB  *Endpoint
	UART *Endpoint
	Pool *link.Pool
	// Disconnected ends the relay when closed, usually PowerMonitor.Disconnected().
	Disconnected <-chan struct{}
	// OnExhausted is called when no buffer can be recovered.
	// The default logs fatal, the process is expected to be restarted.
	OnExhausted func()
	Metrics     *metrics.Bridge

	lock  sync.Mutex
	stats Stats
}

// New creates a Bridge between the two devices.
func New(usb, uart io.ReadWriter) *Bridge {
	b := &Bridge{
		USB:  &Endpoint{Name: "usb", Device: usb},
		UART: &Endpoint{Name: "uart", Device: uart},
		Pool: link.NewPool(DefaultPoolSize),
		OnExhausted: func() {
			glog.Fatal("bridge: out of buffers, restarting")
		},
		stats: Stats{Relayed: make(map[string]uint64)},
	}
	return b
}

// Name implements framework.Named.
func (b *Bridge) Name() string {
	return "usb-bridge"
}

// Stats returns a snapshot of the counters.
func (b *Bridge) Stats() Stats {
	b.lock.Lock()
	defer b.lock.Unlock()
	s := b.stats
	s.Relayed = make(map[string]uint64, len(b.stats.Relayed))
	for k, v := range b.stats.Relayed {
		s.Relayed[k] = v
	}
	s.FreeBuffers = b.Pool.Available()
	return s
}

func (b *Bridge) setup() {
	for _, ep := range []*Endpoint{b.USB, b.UART} {
		ep.splitter = link.Splitter{Pool: b.Pool, Mode: link.SplitVerbatim}
		ep.queue = make(chan *link.Message, b.Pool.Size())
		ep.signal = make(chan struct{}, 1)
	}
	b.USB.peer, b.UART.peer = b.UART, b.USB
}

// Run relays until USB disconnects, an endpoint fails or ctx is done.
// Both devices are closed and powered down before Run returns.
func (b *Bridge) Run(ctx context.Context) error {
	b.setup()
	errCh := make(chan error, 2)
	var wg sync.WaitGroup
	for _, ep := range []*Endpoint{b.USB, b.UART} {
		wg.Add(1)
		go func(ep *Endpoint) {
			defer wg.Done()
			b.receive(ep, errCh)
		}(ep)
	}

	var err error
	stopping := false
	for !stopping {
		select {
		case <-b.USB.signal:
			b.transmit(b.USB)
		case <-b.UART.signal:
			b.transmit(b.UART)
		case <-b.Disconnected:
			glog.Info("bridge: USB disconnected")
			stopping = true
		case err = <-errCh:
			glog.Warningf("bridge: %v", err)
			stopping = true
		case <-ctx.Done():
			err = ctx.Err()
			stopping = true
		}
	}

	for _, ep := range []*Endpoint{b.USB, b.UART} {
		closeDevice(ep)
	}
	wg.Wait()
	for _, ep := range []*Endpoint{b.USB, b.UART} {
		drain(ep.queue)
		ep.splitter.Reset()
	}
	return err
}

func (b *Bridge) receive(ep *Endpoint, errCh chan<- error) {
	glog.V(4).Infof("bridge: %s receiver started", ep.Name)
	defer glog.V(4).Infof("bridge: %s receiver stopped", ep.Name)
	chunk := make([]byte, link.BufferSize)
	for {
		n, err := ep.Device.Read(chunk)
		for _, c := range chunk[:n] {
			if !ep.splitter.Acquire() && !b.reclaim(ep) {
				b.exhausted()
			}
			if r := ep.splitter.Split(c); r.Msg != nil {
				b.forward(ep, r.Msg)
			}
		}
		if err != nil {
			errCh <- &EndpointError{Endpoint: ep.Name, Err: err}
			return
		}
	}
}

// forward queues a completed buffer to the peer and signals it.
func (b *Bridge) forward(from *Endpoint, m *link.Message) {
	to := from.peer
	select {
	case to.queue <- m:
	default:
		glog.Errorf("bridge: %s queue full", to.Name)
		m.Release()
		return
	}
	select {
	case to.signal <- struct{}{}:
	default:
	}
}

// reclaim frees one queued buffer: from the peer's queue first, then the
// local queue, then any queue.
func (b *Bridge) reclaim(ep *Endpoint) bool {
	for _, q := range []*Endpoint{ep.peer, ep, b.USB, b.UART} {
		select {
		case m := <-q.queue:
			glog.Warningf("bridge: out of buffers, discarded %d bytes queued for %s", m.Len(), q.Name)
			m.Release()
			b.lock.Lock()
			b.stats.Recoveries++
			b.lock.Unlock()
			b.Metrics.Recovered()
			return ep.splitter.Acquire()
		default:
		}
	}
	return false
}

func (b *Bridge) exhausted() {
	b.lock.Lock()
	b.stats.Exhausted++
	b.lock.Unlock()
	b.Metrics.Exhausted()
	if b.OnExhausted != nil {
		b.OnExhausted()
	}
}

// transmit writes everything queued for ep.
func (b *Bridge) transmit(ep *Endpoint) {
	for {
		select {
		case m := <-ep.queue:
			n, err := ep.Device.Write(m.Bytes())
			m.Release()
			if err != nil {
				glog.Warningf("bridge: write %s: %v", ep.Name, err)
			}
			b.lock.Lock()
			b.stats.Relayed[ep.Name] += uint64(n)
			b.lock.Unlock()
			b.Metrics.Relayed(ep.Name, n)
		default:
			return
		}
	}
}

func drain(q chan *link.Message) {
	for {
		select {
		case m := <-q:
			m.Release()
		default:
			return
		}
	}
}

func closeDevice(ep *Endpoint) {
	if c, ok := ep.Device.(io.Closer); ok {
		if err := c.Close(); err != nil {
			glog.Warningf("bridge: close %s: %v", ep.Name, err)
		}
	}
	if p, ok := ep.Device.(link.PowerDowner); ok {
		if err := p.PowerDown(); err != nil {
			glog.Warningf("bridge: power down %s: %v", ep.Name, err)
		}
	}
}

// EndpointError is a device failure of an endpoint.
type EndpointError struct {
	Endpoint string
	Err      error
}

// Error implements error.
func (e *EndpointError) Error() string {
	return e.Endpoint + ": " + e.Err.Error()
}

// Unwrap returns the device error.
func (e *EndpointError) Unwrap() error {
	return e.Err
}
