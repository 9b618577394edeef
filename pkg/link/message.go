package link

import "github.com/golang/glog"

const (
	// BufferSize is the capacity of a line buffer.
	BufferSize = 40
	// PipeSize is the size of the receive pipe used by the Pipe variant.
	PipeSize = 64
	// DefaultPoolSize is the number of line buffers a transport owns.
	DefaultPoolSize = 8

	sentinelLen = 0x1234
)

// Message is a fixed capacity line buffer.
type Message struct {
	buf  [BufferSize]byte
	n    int
	pool *Pool
}

// sentinel is queued to stop a consumer, it never belongs to a pool.
var sentinel = &Message{n: sentinelLen}

// Bytes returns the valid content.
func (m *Message) Bytes() []byte {
	return m.buf[:m.n]
}

// Len returns the number of valid bytes.
func (m *Message) Len() int {
	return m.n
}

// Full tells whether the buffer reached its capacity.
func (m *Message) Full() bool {
	return m.n >= BufferSize
}

// Release returns the message to its pool.
func (m *Message) Release() {
	if m.pool == nil {
		return
	}
	m.n = 0
	m.pool.put(m)
}

func (m *Message) isSentinel() bool {
	return m.n == sentinelLen
}

func (m *Message) append(b byte) {
	m.buf[m.n] = b
	m.n++
}

// Pool is a pre-allocated set of messages. Get never allocates.
type Pool struct {
	free chan *Message
	size int
}

// NewPool creates a pool with size messages.
func NewPool(size int) *Pool {
	if size <= 0 {
		size = DefaultPoolSize
	}
	p := &Pool{free: make(chan *Message, size), size: size}
	for i := 0; i < size; i++ {
		p.free <- &Message{pool: p}
	}
	return p
}

// Get takes a free message, or returns nil when none is available.
func (p *Pool) Get() *Message {
	select {
	case m := <-p.free:
		return m
	default:
		return nil
	}
}

// Size returns the total number of messages.
func (p *Pool) Size() int {
	return p.size
}

// Available returns the number of free messages.
func (p *Pool) Available() int {
	return len(p.free)
}

func (p *Pool) put(m *Message) {
	select {
	case p.free <- m:
	default:
		glog.Errorf("link: message released twice")
	}
}
