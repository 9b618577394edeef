package link

// SplitMode decides which bytes end a line and which are kept.
type SplitMode int

// Split modes.
const (
	// SplitStrip ends lines at '\n' and NUL, absorbs '\r' and strips the
	// terminator. Other control bytes are kept.
	SplitStrip SplitMode = iota
	// SplitPrintable is SplitStrip which also drops other bytes below ' '.
	SplitPrintable
	// SplitVerbatim ends lines at '\n', '\r' and NUL and keeps every byte.
	SplitVerbatim
)

// SplitResult is the outcome of feeding one byte to a Splitter.
type SplitResult struct {
	// Msg is a completed line, owned by the caller.
	Msg *Message
	// Dropped is set when the byte is discarded for lack of a buffer.
	Dropped bool
	// Started is set on the first dropped byte of a line.
	Started bool
}

// Splitter assembles bytes into pooled line buffers.
// It is used by a single receive goroutine.
type Splitter struct {
	Pool *Pool
	Mode SplitMode

	cur      *Message
	dropping bool
}

// Acquire reports whether the next byte can be consumed, taking a free
// buffer when there is no current one.
func (s *Splitter) Acquire() bool {
	if s.cur == nil && !s.dropping {
		s.cur = s.Pool.Get()
	}
	return s.cur != nil || s.dropping
}

// Pending returns the number of bytes in the current buffer.
func (s *Splitter) Pending() int {
	if s.cur == nil {
		return 0
	}
	return s.cur.n
}

// Split feeds one byte.
func (s *Splitter) Split(b byte) (r SplitResult) {
	eol := b == '\n' || b == 0
	switch s.Mode {
	case SplitVerbatim:
		eol = eol || b == '\r'
	case SplitPrintable:
		if b < ' ' && !eol {
			return
		}
	default:
		if b == '\r' {
			return
		}
	}

	if s.dropping {
		r.Dropped = true
		s.dropping = !eol
		return
	}
	if s.cur == nil {
		if s.cur = s.Pool.Get(); s.cur == nil {
			r.Dropped, r.Started = true, true
			s.dropping = !eol
			return
		}
	}

	if !eol || s.Mode == SplitVerbatim {
		s.cur.append(b)
	}
	if eol || s.cur.Full() {
		if s.cur.n == 0 {
			// empty line, keep the buffer for the next one
			return
		}
		r.Msg, s.cur = s.cur, nil
	}
	return
}

// Reset drops the current partial line.
func (s *Splitter) Reset() {
	if s.cur != nil {
		s.cur.Release()
		s.cur = nil
	}
	s.dropping = false
}
