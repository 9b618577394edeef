// Package serialport opens UART devices for the link and bridge packages.
package serialport

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/tarm/serial"
)

// DefaultReadTimeout bounds a Read so receive goroutines notice shutdown.
const DefaultReadTimeout = 100 * time.Millisecond

// Config describes a UART.
type Config struct {
	Name        string        `yaml:"name"`
	Baud        int           `yaml:"baud"`
	Parity      string        `yaml:"parity"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

func (c Config) serialConfig() (*serial.Config, error) {
	sc := &serial.Config{
		Name:        c.Name,
		Baud:        c.Baud,
		ReadTimeout: c.ReadTimeout,
	}
	if sc.Baud == 0 {
		sc.Baud = 115200
	}
	if sc.ReadTimeout == 0 {
		sc.ReadTimeout = DefaultReadTimeout
	}
	switch strings.ToUpper(c.Parity) {
	case "", "N", "NONE":
		sc.Parity = serial.ParityNone
	case "E", "EVEN":
		sc.Parity = serial.ParityEven
	case "O", "ODD":
		sc.Parity = serial.ParityOdd
	default:
		return nil, fmt.Errorf("invalid parity %q", c.Parity)
	}
	return sc, nil
}

// Port is an open UART.
type Port struct {
	name string
	port *serial.Port

	closeOnce sync.Once
	closeErr  error
}

// Open opens the UART.
func Open(c Config) (*Port, error) {
	sc, err := c.serialConfig()
	if err != nil {
		return nil, err
	}
	p, err := serial.OpenPort(sc)
	if err != nil {
		return nil, fmt.Errorf("open %s: %v", c.Name, err)
	}
	glog.V(2).Infof("serialport: opened %s at %d", c.Name, sc.Baud)
	return &Port{name: c.Name, port: p}, nil
}

// Name returns the device name.
func (p *Port) Name() string {
	return p.name
}

// Read implements io.Reader. A read timeout returns no bytes and no error.
func (p *Port) Read(b []byte) (int, error) {
	n, err := p.port.Read(b)
	if err == io.EOF {
		err = nil
	}
	return n, err
}

// Write implements io.Writer.
func (p *Port) Write(b []byte) (int, error) {
	return p.port.Write(b)
}

// Drain discards pending input, implements link.Drainer.
func (p *Port) Drain() error {
	return p.port.Flush()
}

// Close implements io.Closer, it is safe to call more than once.
func (p *Port) Close() error {
	p.closeOnce.Do(func() {
		p.closeErr = p.port.Close()
		glog.V(2).Infof("serialport: closed %s", p.name)
	})
	return p.closeErr
}
