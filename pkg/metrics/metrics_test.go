package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilReceivers(t *testing.T) {
	var l *Link
	var s *Session
	var b *Bridge
	require.NotPanics(t, func() {
		l.LineReceived()
		l.Sent(3)
		l.Dropped(true)
		l.Overflow()
		s.Inbound("ok")
		s.Reply(ReplyOK)
		s.Sent()
		s.Timeout()
		s.InFlight(1)
		b.Relayed("usb", 2)
		b.Recovered()
		b.Exhausted()
	})
}

func TestLinkCounters(t *testing.T) {
	l := NewLink(nil, "uart0")
	l.LineReceived()
	l.LineReceived()
	l.Dropped(true)
	l.Dropped(false)
	l.Sent(5)
	assert.Equal(t, 2.0, testutil.ToFloat64(l.lines))
	assert.Equal(t, 2.0, testutil.ToFloat64(l.droppedBytes))
	assert.Equal(t, 1.0, testutil.ToFloat64(l.outOfBuffers))
	assert.Equal(t, 5.0, testutil.ToFloat64(l.sentBytes))
}

func TestSessionCounters(t *testing.T) {
	s := NewSession(nil, "uart0")
	s.Reply(ReplyOK)
	s.Reply(ReplyOK)
	s.Reply(ReplyMalformed)
	s.InFlight(3)
	assert.Equal(t, 2.0, testutil.ToFloat64(s.replies.WithLabelValues(ReplyOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.replies.WithLabelValues(ReplyMalformed)))
	assert.Equal(t, 3.0, testutil.ToFloat64(s.inFlight))
}

func TestServerHandler(t *testing.T) {
	r := NewRegistry()
	NewLink(r, "uart0").LineReceived()
	srv := &Server{Registry: r}
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `ardlink_link_lines_total{endpoint="uart0"} 1`)
}
