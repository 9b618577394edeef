package link

import (
	"io"

	"github.com/golang/glog"
)

// FIFO is the transport variant which reads chunks from the device and
// appends them to the current line buffer.
type FIFO struct {
	endpoint
	splitter Splitter
}

// NewFIFO creates a FIFO over dev using buffers from pool.
// A nil pool gets DefaultPoolSize buffers.
func NewFIFO(dev io.ReadWriter, pool *Pool) *FIFO {
	f := &FIFO{}
	f.init(dev, pool)
	f.splitter = Splitter{Pool: f.Pool, Mode: SplitStrip}
	f.endpoint.receive = f.receive
	return f
}

func (f *FIFO) receive() {
	chunk := make([]byte, BufferSize)
	for {
		n, err := f.Device.Read(chunk[:BufferSize-f.splitter.Pending()])
		for _, b := range chunk[:n] {
			f.split(&f.splitter, b)
		}
		if f.isStopped() {
			return
		}
		if err != nil {
			if err == io.EOF {
				glog.V(2).Info("link: device reached EOF")
				err = io.ErrUnexpectedEOF
			}
			f.readFailed(err)
			return
		}
	}
}
