package link

import (
	"context"
	"io"
	"sync"

	"github.com/golang/glog"

	"github.com/robotalks/ardlink/pkg/metrics"
)

// LineHandler is called on the consumer goroutine for every received line.
// The line is only valid during the call.
type LineHandler interface {
	HandleLine(ctx context.Context, line []byte)
}

// HandleLineFunc is func type of LineHandler.
type HandleLineFunc func(context.Context, []byte)

// HandleLine implements LineHandler.
func (f HandleLineFunc) HandleLine(ctx context.Context, line []byte) {
	f(ctx, line)
}

// Drainer is implemented by devices able to discard stale input.
type Drainer interface {
	Drain() error
}

// PowerDowner is implemented by devices which can be powered down after use.
type PowerDowner interface {
	PowerDown() error
}

// Transport sends lines to and receives lines from a peer.
type Transport interface {
	// Register binds the handler and starts receiving.
	Register(handler LineHandler) error
	// Send writes all bytes synchronously.
	Send(p []byte) error
	// Shutdown stops the transport. It is safe to call more than once.
	Shutdown() error
	// Wait blocks until the goroutines of the transport exit.
	Wait()
	// Done is closed when the consumer exits.
	Done() <-chan struct{}
	// Err returns the device error which stopped the transport, if any.
	Err() error
}

// Stats is a snapshot of transport counters.
type Stats struct {
	Lines        uint64
	DroppedBytes uint64
	OutOfBuffers uint64
	Overflows    uint64
	FreeBuffers  int
}

// endpoint is the part shared by FIFO and Pipe: registration, the
// consumer goroutine, sending and shutdown.
type endpoint struct {
	Device  io.ReadWriter
	Pool    *Pool
	Metrics *metrics.Link

	receive func()

	lock       sync.Mutex
	sendLock   sync.Mutex
	handler    LineHandler
	stopped    bool
	err        error
	stats      Stats
	queue      chan *Message
	stopOnce   sync.Once
	done       chan struct{}
	readerDone chan struct{}
	ctx        context.Context
	cancel     context.CancelFunc
}

func (e *endpoint) init(dev io.ReadWriter, pool *Pool) {
	if pool == nil {
		pool = NewPool(DefaultPoolSize)
	}
	e.Device, e.Pool = dev, pool
	e.done = make(chan struct{})
	e.readerDone = make(chan struct{})
}

// Register implements Transport.
func (e *endpoint) Register(handler LineHandler) error {
	e.lock.Lock()
	defer e.lock.Unlock()
	if e.stopped {
		return ErrClosed
	}
	if e.handler != nil {
		return ErrAlreadyRegistered
	}
	e.handler = handler
	if d, ok := e.Device.(Drainer); ok {
		if err := d.Drain(); err != nil {
			glog.Warningf("link: drain failed: %v", err)
		}
	}
	// one extra slot for the sentinel
	e.queue = make(chan *Message, e.Pool.Size()+1)
	e.ctx, e.cancel = context.WithCancel(context.Background())
	go e.consume()
	go func() {
		defer close(e.readerDone)
		glog.V(4).Info("link: receiver started")
		e.receive()
		glog.V(4).Info("link: receiver stopped")
	}()
	return nil
}

// Send implements Transport.
func (e *endpoint) Send(p []byte) error {
	e.lock.Lock()
	registered, stopped := e.handler != nil, e.stopped
	e.lock.Unlock()
	if stopped {
		return ErrClosed
	}
	if !registered {
		return ErrNotRegistered
	}

	e.sendLock.Lock()
	defer e.sendLock.Unlock()
	if bw, ok := e.Device.(io.ByteWriter); ok {
		for n, b := range p {
			if e.isStopped() {
				e.Metrics.Sent(n)
				return ErrClosed
			}
			if err := bw.WriteByte(b); err != nil {
				e.Metrics.Sent(n)
				return err
			}
		}
		e.Metrics.Sent(len(p))
		return nil
	}
	n, err := e.Device.Write(p)
	e.Metrics.Sent(n)
	return err
}

// Shutdown implements Transport.
func (e *endpoint) Shutdown() error {
	e.stop(nil)
	return nil
}

// Wait implements Transport.
func (e *endpoint) Wait() {
	e.lock.Lock()
	registered := e.handler != nil
	e.lock.Unlock()
	if !registered {
		return
	}
	<-e.done
	if _, ok := e.Device.(io.Closer); ok {
		<-e.readerDone
	}
}

// Done implements Transport.
func (e *endpoint) Done() <-chan struct{} {
	return e.done
}

// Err implements Transport.
func (e *endpoint) Err() error {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.err
}

// Stats returns a snapshot of the counters.
func (e *endpoint) Stats() Stats {
	e.lock.Lock()
	defer e.lock.Unlock()
	s := e.stats
	s.FreeBuffers = e.Pool.Available()
	return s
}

func (e *endpoint) isStopped() bool {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.stopped
}

func (e *endpoint) stop(err error) {
	e.stopOnce.Do(func() {
		e.lock.Lock()
		e.stopped = true
		e.err = err
		registered := e.handler != nil
		e.lock.Unlock()
		if !registered {
			close(e.done)
			return
		}
		e.cancel()
		e.queue <- sentinel
	})
}

// push hands a completed line to the consumer, never blocks.
func (e *endpoint) push(m *Message) {
	select {
	case e.queue <- m:
	default:
		glog.Errorf("link: receive queue full, line dropped")
		m.Release()
	}
}

func (e *endpoint) dropped(start bool) {
	e.lock.Lock()
	e.stats.DroppedBytes++
	if start {
		e.stats.OutOfBuffers++
	}
	e.lock.Unlock()
	if start {
		glog.Errorf("link: out of receive buffers, discarding line")
	}
	e.Metrics.Dropped(start)
}

func (e *endpoint) split(s *Splitter, b byte) {
	r := s.Split(b)
	if r.Dropped {
		e.dropped(r.Started)
	}
	if r.Msg != nil {
		e.push(r.Msg)
	}
}

// readFailed records a device error unless the transport is stopping.
func (e *endpoint) readFailed(err error) {
	if e.isStopped() {
		return
	}
	glog.Errorf("link: read error: %v", err)
	e.stop(err)
}

func (e *endpoint) consume() {
	glog.V(4).Info("link: consumer started")
	defer glog.V(4).Info("link: consumer stopped")
	defer close(e.done)
	defer e.release()

	for {
		m := <-e.queue
		if m.isSentinel() {
			return
		}
		e.lock.Lock()
		e.stats.Lines++
		e.lock.Unlock()
		e.Metrics.LineReceived()
		glog.V(2).Infof("link: recv %q", m.Bytes())
		e.handler.HandleLine(e.ctx, m.Bytes())
		m.Release()
	}
}

// release closes and powers down the device once the consumer exits.
func (e *endpoint) release() {
	for {
		select {
		case m := <-e.queue:
			if !m.isSentinel() {
				m.Release()
			}
			continue
		default:
		}
		break
	}
	if c, ok := e.Device.(io.Closer); ok {
		if err := c.Close(); err != nil {
			glog.Warningf("link: close device: %v", err)
		}
	}
	if p, ok := e.Device.(PowerDowner); ok {
		if err := p.PowerDown(); err != nil {
			glog.Warningf("link: power down: %v", err)
		}
	}
}
