package link

import (
	"bytes"
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type testDevice struct {
	readCh  chan []byte
	pending []byte

	writeLock sync.Mutex
	written   bytes.Buffer

	closed    chan struct{}
	closeOnce sync.Once

	drained     int32
	poweredDown int32
}

func newTestDevice() *testDevice {
	return &testDevice{
		readCh: make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (d *testDevice) Read(p []byte) (int, error) {
	if len(d.pending) == 0 {
		select {
		case b, ok := <-d.readCh:
			if !ok {
				return 0, io.EOF
			}
			d.pending = b
		case <-d.closed:
			return 0, io.ErrClosedPipe
		}
	}
	n := copy(p, d.pending)
	d.pending = d.pending[n:]
	return n, nil
}

func (d *testDevice) Write(p []byte) (int, error) {
	d.writeLock.Lock()
	defer d.writeLock.Unlock()
	return d.written.Write(p)
}

func (d *testDevice) Close() error {
	d.closeOnce.Do(func() { close(d.closed) })
	return nil
}

func (d *testDevice) Drain() error {
	atomic.AddInt32(&d.drained, 1)
	return nil
}

func (d *testDevice) PowerDown() error {
	atomic.AddInt32(&d.poweredDown, 1)
	return nil
}

func (d *testDevice) inject(s string) {
	d.readCh <- []byte(s)
}

func (d *testDevice) output() string {
	d.writeLock.Lock()
	defer d.writeLock.Unlock()
	return d.written.String()
}

type lineCollector struct {
	lines chan string
	gate  chan struct{}
}

func newLineCollector() *lineCollector {
	return &lineCollector{lines: make(chan string, 64)}
}

func (c *lineCollector) HandleLine(ctx context.Context, line []byte) {
	if c.gate != nil {
		<-c.gate
	}
	c.lines <- string(line)
}

func (c *lineCollector) expect(t *testing.T, lines ...string) {
	for _, expected := range lines {
		select {
		case line := <-c.lines:
			require.Equal(t, expected, line)
		case <-time.After(time.Second):
			require.Failf(t, "line not received", "%q", expected)
		}
	}
}

func (c *lineCollector) expectNone(t *testing.T) {
	select {
	case line := <-c.lines:
		require.Failf(t, "unexpected line", "%q", line)
	case <-time.After(50 * time.Millisecond):
	}
}

type transportFactory func(io.ReadWriter, *Pool) Transport

var variants = map[string]transportFactory{
	"fifo": func(dev io.ReadWriter, pool *Pool) Transport { return NewFIFO(dev, pool) },
	"pipe": func(dev io.ReadWriter, pool *Pool) Transport { return NewPipe(dev, pool) },
}
