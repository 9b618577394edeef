package link

import (
	"io"

	"github.com/golang/glog"
)

// Pipe is the transport variant with a receive pipe. The receive callback
// consumes bytes from the pipe only while a line buffer is available and
// leaves the rest in the pipe.
type Pipe struct {
	endpoint
	splitter Splitter
	starving bool
}

// NewPipe creates a Pipe over dev using buffers from pool.
func NewPipe(dev io.ReadWriter, pool *Pool) *Pipe {
	p := &Pipe{}
	p.init(dev, pool)
	p.splitter = Splitter{Pool: p.Pool, Mode: SplitPrintable}
	p.endpoint.receive = p.receive
	return p
}

func (p *Pipe) receive() {
	buf := make([]byte, PipeSize)
	off := 0
	for {
		n, err := p.Device.Read(buf[off:])
		off = p.recv(buf, off+n)
		if p.isStopped() {
			return
		}
		if err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			p.readFailed(err)
			return
		}
	}
}

// recv consumes buf[:off] and returns the number of bytes left in the
// pipe, moved to the front of buf.
func (p *Pipe) recv(buf []byte, off int) int {
	i := 0
	for ; i < off; i++ {
		if !p.splitter.Acquire() {
			if !p.starving {
				glog.Warningf("link: no free line buffer, %d bytes held in pipe", off-i)
				p.starving = true
			}
			break
		}
		p.starving = false
		p.split(&p.splitter, buf[i])
	}
	left := copy(buf, buf[i:off])
	if left >= len(buf) {
		glog.Errorf("link: receive pipe overflow, %d bytes discarded", left)
		p.lock.Lock()
		p.stats.Overflows++
		p.lock.Unlock()
		p.Metrics.Overflow()
		return 0
	}
	return left
}
