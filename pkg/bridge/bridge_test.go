package bridge

import (
	"context"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robotalks/ardlink/pkg/link"
)

// testDevice is the bridge side of a device, host is the other side.
type testDevice struct {
	r *io.PipeReader
	w *io.PipeWriter

	closed      int32
	poweredDown int32
}

type testHost struct {
	in  *io.PipeWriter
	out *io.PipeReader
}

func newTestDevice() (*testDevice, *testHost) {
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	return &testDevice{r: inR, w: outW}, &testHost{in: inW, out: outR}
}

func (d *testDevice) Read(p []byte) (int, error)  { return d.r.Read(p) }
func (d *testDevice) Write(p []byte) (int, error) { return d.w.Write(p) }

func (d *testDevice) Close() error {
	atomic.AddInt32(&d.closed, 1)
	d.r.Close()
	d.w.Close()
	return nil
}

func (d *testDevice) PowerDown() error {
	atomic.AddInt32(&d.poweredDown, 1)
	return nil
}

func (h *testHost) write(t *testing.T, s string) {
	_, err := h.in.Write([]byte(s))
	require.NoError(t, err)
}

func (h *testHost) read(t *testing.T, n int) string {
	buf := make([]byte, n)
	done := make(chan error, 1)
	go func() {
		_, err := io.ReadFull(h.out, buf)
		done <- err
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		require.Fail(t, "no data relayed")
	}
	return string(buf)
}

type runResult struct {
	err error
}

func startBridge(t *testing.T, b *Bridge, ctx context.Context) <-chan runResult {
	resultCh := make(chan runResult, 1)
	go func() {
		resultCh <- runResult{err: b.Run(ctx)}
	}()
	return resultCh
}

func waitResult(t *testing.T, resultCh <-chan runResult) error {
	select {
	case r := <-resultCh:
		return r.err
	case <-time.After(time.Second):
		require.Fail(t, "bridge not stopped")
	}
	return nil
}

func TestRelay(t *testing.T) {
	usb, host := newTestDevice()
	uart, peer := newTestDevice()
	b := New(usb, uart)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	resultCh := startBridge(t, b, ctx)

	host.write(t, "AT+GMR\r\n")
	assert.Equal(t, "AT+GMR\r\n", peer.read(t, 8))
	peer.write(t, "OK\r\n")
	assert.Equal(t, "OK\r\n", host.read(t, 4))
	peer.write(t, "\x00")
	assert.Equal(t, "\x00", host.read(t, 1))

	cancel()
	require.Equal(t, context.Canceled, waitResult(t, resultCh))
	stats := b.Stats()
	assert.EqualValues(t, 8, stats.Relayed["uart"])
	assert.EqualValues(t, 5, stats.Relayed["usb"])
	assert.Equal(t, b.Pool.Size(), stats.FreeBuffers)
}

func TestDisconnect(t *testing.T) {
	usb, _ := newTestDevice()
	uart, _ := newTestDevice()
	disconnected := make(chan struct{})
	b := New(usb, uart)
	b.Disconnected = disconnected
	resultCh := startBridge(t, b, context.Background())
	close(disconnected)
	require.NoError(t, waitResult(t, resultCh))
	for _, dev := range []*testDevice{usb, uart} {
		assert.EqualValues(t, 1, atomic.LoadInt32(&dev.closed))
		assert.EqualValues(t, 1, atomic.LoadInt32(&dev.poweredDown))
	}
}

func TestEndpointFailure(t *testing.T) {
	usb, host := newTestDevice()
	uart, _ := newTestDevice()
	b := New(usb, uart)
	resultCh := startBridge(t, b, context.Background())
	host.in.CloseWithError(io.ErrUnexpectedEOF)
	err := waitResult(t, resultCh)
	var epErr *EndpointError
	require.ErrorAs(t, err, &epErr)
	assert.Equal(t, "usb", epErr.Endpoint)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestReclaimOrder(t *testing.T) {
	usb, _ := newTestDevice()
	uart, _ := newTestDevice()
	b := New(usb, uart)
	b.Pool = link.NewPool(2)
	b.setup()
	b.UART.queue <- b.Pool.Get()
	b.USB.queue <- b.Pool.Get()

	// the peer's queue goes first
	require.True(t, b.reclaim(b.USB))
	assert.Len(t, b.UART.queue, 0)
	assert.Len(t, b.USB.queue, 1)
	// then the local one
	require.True(t, b.reclaim(b.USB))
	assert.Len(t, b.USB.queue, 0)
	assert.False(t, b.reclaim(b.USB))
	assert.EqualValues(t, 2, b.Stats().Recoveries)
}

func TestExhausted(t *testing.T) {
	usb, host := newTestDevice()
	uart, _ := newTestDevice()
	b := New(usb, uart)
	b.Pool = link.NewPool(1)
	var exhausted int32
	b.OnExhausted = func() { atomic.AddInt32(&exhausted, 1) }
	held := b.Pool.Get()
	ctx, cancel := context.WithCancel(context.Background())
	resultCh := startBridge(t, b, ctx)

	host.write(t, "lost\n")
	require.Eventually(t, func() bool { return atomic.LoadInt32(&exhausted) > 0 }, time.Second, time.Millisecond)
	held.Release()
	cancel()
	waitResult(t, resultCh)
	assert.NotZero(t, b.Stats().Exhausted)
}
