package link

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func splitAll(s *Splitter, in string) (lines []string) {
	for _, b := range []byte(in) {
		if r := s.Split(b); r.Msg != nil {
			lines = append(lines, string(r.Msg.Bytes()))
			r.Msg.Release()
		}
	}
	return
}

func TestSplitVerbatim(t *testing.T) {
	s := &Splitter{Pool: NewPool(2), Mode: SplitVerbatim}
	lines := splitAll(s, "AT\r\nOK\n")
	require.Equal(t, []string{"AT\r", "\n", "OK\n"}, lines)
}

func TestSplitDropsUntilEOL(t *testing.T) {
	pool := NewPool(1)
	held := pool.Get()
	s := &Splitter{Pool: pool, Mode: SplitStrip}

	r := s.Split('A')
	require.True(t, r.Dropped)
	require.True(t, r.Started)
	held.Release()
	// the rest of the line is still dropped
	r = s.Split('B')
	require.True(t, r.Dropped)
	require.False(t, r.Started)
	r = s.Split('\n')
	require.True(t, r.Dropped)

	assert.Equal(t, []string{"OK"}, splitAll(s, "OK\n"))
}

func TestSplitReset(t *testing.T) {
	pool := NewPool(1)
	s := &Splitter{Pool: pool}
	splitAll(s, "partial")
	require.Equal(t, 7, s.Pending())
	require.Zero(t, pool.Available())
	s.Reset()
	assert.Equal(t, 1, pool.Available())
}

func TestPool(t *testing.T) {
	p := NewPool(3)
	require.Equal(t, 3, p.Size())
	var msgs []*Message
	for m := p.Get(); m != nil; m = p.Get() {
		msgs = append(msgs, m)
	}
	require.Len(t, msgs, 3)
	require.Zero(t, p.Available())
	for _, m := range msgs {
		m.Release()
	}
	assert.Equal(t, 3, p.Available())
	assert.Equal(t, DefaultPoolSize, NewPool(0).Size())
}
