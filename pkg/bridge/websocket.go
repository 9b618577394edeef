package bridge

import (
	"io"

	"github.com/golang/glog"
	"golang.org/x/net/websocket"
)

// WebsocketDevice is a websocket connection used as a byte stream,
// every write is sent as one binary message.
type WebsocketDevice websocket.Conn

// NewWebsocketDevice wraps conn.
func NewWebsocketDevice(conn *websocket.Conn) *WebsocketDevice {
	conn.PayloadType = websocket.BinaryFrame
	return (*WebsocketDevice)(conn)
}

// Read implements io.Reader.
func (d *WebsocketDevice) Read(p []byte) (int, error) {
	return (*websocket.Conn)(d).Read(p)
}

// Write implements io.Writer.
func (d *WebsocketDevice) Write(p []byte) (int, error) {
	if err := websocket.Message.Send((*websocket.Conn)(d), p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close implements io.Closer.
func (d *WebsocketDevice) Close() error {
	return (*websocket.Conn)(d).Close()
}

// OpenFunc opens the UART side for a new connection.
type OpenFunc func() (io.ReadWriteCloser, error)

// WebsocketHandler bridges every websocket connection to a UART opened
// by open. The bridge ends when the connection closes.
func WebsocketHandler(open OpenFunc, configure func(*Bridge)) websocket.Handler {
	return func(conn *websocket.Conn) {
		dev := NewWebsocketDevice(conn)
		uart, err := open()
		if err != nil {
			glog.Errorf("bridge: open uart: %v", err)
			dev.Close()
			return
		}
		b := New(dev, uart)
		if configure != nil {
			configure(b)
		}
		glog.Infof("bridge: %s connected", conn.Request().RemoteAddr)
		err = b.Run(conn.Request().Context())
		glog.Infof("bridge: %s disconnected: %v", conn.Request().RemoteAddr, err)
	}
}
