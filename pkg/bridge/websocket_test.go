package bridge

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"
)

func TestWebsocketHandler(t *testing.T) {
	uart, peer := newTestDevice()
	opened := make(chan struct{}, 1)
	open := func() (io.ReadWriteCloser, error) {
		opened <- struct{}{}
		return uart, nil
	}
	srv := httptest.NewServer(WebsocketHandler(open, nil))
	defer srv.Close()

	conn, err := websocket.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), "", "http://localhost/")
	require.NoError(t, err)
	defer conn.Close()
	<-opened

	require.NoError(t, websocket.Message.Send(conn, []byte("AT\n")))
	assert.Equal(t, "AT\n", peer.read(t, 3))

	peer.write(t, "OK\n")
	var reply []byte
	require.NoError(t, websocket.Message.Receive(conn, &reply))
	assert.Equal(t, "OK\n", string(reply))
}
